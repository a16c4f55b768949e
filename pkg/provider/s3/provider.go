package s3

import (
	"context"
	"errors"
	"io"
	"net/http"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/3leaps/livyctl/pkg/provider"
)

// Provider stores artifacts in one bucket.
type Provider struct {
	client *s3.Client
	cfg    Config
	region string
}

var (
	_ provider.Provider      = (*Provider)(nil)
	_ provider.ObjectDeleter = (*Provider)(nil)
)

// New builds a client for cfg.Bucket. No request is made; a missing bucket
// shows up on the first call.
func New(ctx context.Context, cfg Config) (*Provider, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, cfg.loadOptions()...)
	if err != nil {
		return nil, &provider.ProviderError{Op: "New", Provider: provider.ProviderS3, Bucket: cfg.Bucket, Err: err}
	}
	awsCfg.Region = cfg.region(awsCfg.Region)

	return &Provider{
		client: s3.NewFromConfig(awsCfg, cfg.apply),
		cfg:    cfg,
		region: awsCfg.Region,
	}, nil
}

// Region is the region requests are signed for.
func (p *Provider) Region() string { return p.region }

func (p *Provider) List(ctx context.Context, opts provider.ListOptions) (*provider.ListResult, error) {
	in := &s3.ListObjectsV2Input{
		Bucket:  aws.String(p.cfg.Bucket),
		MaxKeys: aws.Int32(p.cfg.pageSize(opts.MaxKeys)),
	}
	if opts.Prefix != "" {
		in.Prefix = aws.String(opts.Prefix)
	}
	if opts.ContinuationToken != "" {
		in.ContinuationToken = aws.String(opts.ContinuationToken)
	}

	out, err := p.client.ListObjectsV2(ctx, in)
	if err != nil {
		return nil, p.fail("List", "", err)
	}

	res := &provider.ListResult{
		Objects:           make([]provider.ObjectSummary, 0, len(out.Contents)),
		IsTruncated:       aws.ToBool(out.IsTruncated),
		ContinuationToken: aws.ToString(out.NextContinuationToken),
	}
	for _, o := range out.Contents {
		res.Objects = append(res.Objects, provider.ObjectSummary{
			Key:          aws.ToString(o.Key),
			Size:         aws.ToInt64(o.Size),
			ETag:         unquote(aws.ToString(o.ETag)),
			LastModified: aws.ToTime(o.LastModified),
		})
	}
	return res, nil
}

func (p *Provider) Head(ctx context.Context, key string) (*provider.ObjectMeta, error) {
	out, err := p.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(p.cfg.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, p.fail("Head", key, err)
	}
	return &provider.ObjectMeta{
		ObjectSummary: provider.ObjectSummary{
			Key:          key,
			Size:         aws.ToInt64(out.ContentLength),
			ETag:         unquote(aws.ToString(out.ETag)),
			LastModified: aws.ToTime(out.LastModified),
		},
		ContentType: aws.ToString(out.ContentType),
		Metadata:    out.Metadata,
	}, nil
}

func (p *Provider) PutObject(ctx context.Context, key string, body io.Reader, contentLength int64) error {
	_, err := p.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(p.cfg.Bucket),
		Key:           aws.String(key),
		Body:          body,
		ContentLength: aws.Int64(contentLength),
		ContentType:   aws.String(contentTypeFor(key)),
	})
	if err != nil {
		return p.fail("PutObject", key, err)
	}
	return nil
}

func (p *Provider) DeleteObject(ctx context.Context, key string) error {
	_, err := p.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(p.cfg.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return p.fail("DeleteObject", key, err)
	}
	return nil
}

// URI is the s3:// location Spark reads key from.
func (p *Provider) URI(key string) string {
	return "s3://" + p.cfg.Bucket + "/" + strings.TrimPrefix(key, "/")
}

func (p *Provider) Close() error { return nil }

func (p *Provider) fail(op, key string, err error) error {
	return &provider.ProviderError{
		Op:       op,
		Provider: provider.ProviderS3,
		Bucket:   p.cfg.Bucket,
		Key:      key,
		Err:      classify(err),
	}
}

var errorCodes = map[string]error{
	"NoSuchKey":             provider.ErrNotFound,
	"NotFound":              provider.ErrNotFound,
	"NoSuchBucket":          provider.ErrBucketNotFound,
	"AccessDenied":          provider.ErrAccessDenied,
	"Forbidden":             provider.ErrAccessDenied,
	"AllAccessDisabled":     provider.ErrAccessDenied,
	"InvalidAccessKeyId":    provider.ErrInvalidCredentials,
	"SignatureDoesNotMatch": provider.ErrInvalidCredentials,
	"ExpiredToken":          provider.ErrInvalidCredentials,
	"SlowDown":              provider.ErrThrottled,
	"Throttling":            provider.ErrThrottled,
	"RequestLimitExceeded":  provider.ErrThrottled,
	"ServiceUnavailable":    provider.ErrProviderUnavailable,
	"InternalError":         provider.ErrProviderUnavailable,
}

var errorStatuses = map[int]error{
	http.StatusNotFound:            provider.ErrNotFound,
	http.StatusForbidden:           provider.ErrAccessDenied,
	http.StatusTooManyRequests:     provider.ErrThrottled,
	http.StatusServiceUnavailable:  provider.ErrProviderUnavailable,
	http.StatusInternalServerError: provider.ErrProviderUnavailable,
}

// classify maps an SDK error onto a provider sentinel: typed errors first,
// then the API error code, then the HTTP status. Unknown errors pass
// through unchanged.
func classify(err error) error {
	var (
		noSuchKey    *types.NoSuchKey
		notFound     *types.NotFound
		noSuchBucket *types.NoSuchBucket
		apiErr       smithy.APIError
		statusErr    interface{ HTTPStatusCode() int }
	)
	switch {
	case errors.As(err, &noSuchKey), errors.As(err, &notFound):
		return provider.ErrNotFound
	case errors.As(err, &noSuchBucket):
		return provider.ErrBucketNotFound
	}
	if errors.As(err, &apiErr) {
		if s, ok := errorCodes[apiErr.ErrorCode()]; ok {
			return s
		}
	}
	if errors.As(err, &statusErr) {
		if s, ok := errorStatuses[statusErr.HTTPStatusCode()]; ok {
			return s
		}
	}
	return err
}

func unquote(etag string) string { return strings.Trim(etag, `"`) }

func contentTypeFor(key string) string {
	switch path.Ext(key) {
	case ".jar":
		return "application/java-archive"
	case ".py":
		return "text/x-python"
	case ".zip":
		return "application/zip"
	}
	return "application/octet-stream"
}

// Client exposes the underlying SDK client.
func (p *Provider) Client() *s3.Client { return p.client }
