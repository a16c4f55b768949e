// Package s3 stores job artifacts in AWS S3 and S3-compatible buckets.
package s3

import (
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

const (
	// DefaultRegion applies to AWS endpoints when neither the config, the
	// environment nor the shared profile names a region.
	DefaultRegion = "us-east-1"

	// pageLimit is the most keys one ListObjectsV2 call returns.
	pageLimit = 1000
)

var ErrInvalidConfig = errors.New("invalid s3 config")

// Config selects the bucket uploads go to and how to reach it.
//
// Without an explicit key pair the AWS SDK default chain applies:
// environment, shared files, then instance or task roles.
type Config struct {
	Bucket string
	Region string

	// Endpoint points at an S3-compatible store such as MinIO or Wasabi.
	// No default region is applied when it is set.
	Endpoint       string
	ForcePathStyle bool

	Profile         string
	AccessKeyID     string
	SecretAccessKey string

	// MaxKeys caps List pages; 0 or anything above 1000 means 1000.
	MaxKeys int
}

func (c Config) validate() error {
	if strings.TrimSpace(c.Bucket) == "" {
		return fmt.Errorf("%w: bucket is required", ErrInvalidConfig)
	}
	if (c.AccessKeyID == "") != (c.SecretAccessKey == "") {
		return fmt.Errorf("%w: access key ID and secret access key go together", ErrInvalidConfig)
	}
	return nil
}

func (c Config) loadOptions() []func(*config.LoadOptions) error {
	var opts []func(*config.LoadOptions) error
	if c.Region != "" {
		opts = append(opts, config.WithRegion(c.Region))
	}
	if c.Profile != "" {
		opts = append(opts, config.WithSharedConfigProfile(c.Profile))
	}
	if c.AccessKeyID != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(c.AccessKeyID, c.SecretAccessKey, "")))
	}
	return opts
}

func (c Config) apply(o *s3.Options) {
	o.UsePathStyle = c.ForcePathStyle
	if c.Endpoint != "" {
		o.BaseEndpoint = aws.String(c.Endpoint)
	}
}

// region fills in DefaultRegion for AWS when the SDK resolved none.
func (c Config) region(resolved string) string {
	if resolved == "" && c.Endpoint == "" {
		return DefaultRegion
	}
	return resolved
}

func (c Config) pageSize(requested int) int32 {
	n := requested
	if n <= 0 {
		n = c.MaxKeys
	}
	if n <= 0 || n > pageLimit {
		n = pageLimit
	}
	return int32(n)
}
