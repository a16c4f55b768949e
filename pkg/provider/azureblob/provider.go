// Package azureblob stores job artifacts in an Azure Storage container,
// the default storage of HDInsight clusters.
package azureblob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"

	"github.com/3leaps/livyctl/pkg/provider"
)

// DefaultMaxResults is the page size when listing stale uploads.
const DefaultMaxResults = 1000

// Config configures an Azure Blob artifact store.
//
// Authentication uses AccountKey when set, otherwise
// azidentity.DefaultAzureCredential (environment, managed identity, Azure
// CLI).
type Config struct {
	// Account is the storage account name. Ignored when ServiceURL is set.
	Account string

	// ServiceURL overrides the account endpoint, e.g. an Azurite instance
	// at http://127.0.0.1:10000/devstoreaccount1.
	ServiceURL string

	// Container is the blob container (required).
	Container string

	// AccountKey enables shared key auth.
	AccountKey string

	// TenantID scopes DefaultAzureCredential to one tenant.
	TenantID string
}

// Validate checks that required configuration is present.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Container) == "" {
		return errors.New("azureblob config: container is required")
	}
	if strings.TrimSpace(c.Account) == "" && strings.TrimSpace(c.ServiceURL) == "" {
		return errors.New("azureblob config: account or service url is required")
	}
	if c.AccountKey != "" && strings.TrimSpace(c.Account) == "" {
		return errors.New("azureblob config: account key requires an account name")
	}
	return nil
}

func (c Config) serviceURL() string {
	if s := strings.TrimSpace(c.ServiceURL); s != "" {
		return strings.TrimRight(s, "/") + "/"
	}
	return "https://" + c.Account + ".blob.core.windows.net/"
}

// Provider stores artifacts as block blobs.
type Provider struct {
	client     *azblob.Client
	container  string
	serviceURL string
}

var (
	_ provider.Provider      = (*Provider)(nil)
	_ provider.ObjectDeleter = (*Provider)(nil)
)

// New creates a blob artifact store.
func New(cfg Config) (*Provider, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	serviceURL := cfg.serviceURL()

	var client *azblob.Client
	var err error
	if cfg.AccountKey != "" {
		var cred *azblob.SharedKeyCredential
		cred, err = azblob.NewSharedKeyCredential(cfg.Account, cfg.AccountKey)
		if err == nil {
			client, err = azblob.NewClientWithSharedKeyCredential(serviceURL, cred, nil)
		}
	} else {
		var cred *azidentity.DefaultAzureCredential
		cred, err = azidentity.NewDefaultAzureCredential(&azidentity.DefaultAzureCredentialOptions{TenantID: cfg.TenantID})
		if err == nil {
			client, err = azblob.NewClient(serviceURL, cred, nil)
		}
	}
	if err != nil {
		return nil, &provider.ProviderError{Op: "New", Provider: provider.ProviderAzBlob, Bucket: cfg.Container, Err: err}
	}
	return NewFromClient(client, cfg.Container, serviceURL), nil
}

// NewFromClient wraps an existing SDK client.
func NewFromClient(client *azblob.Client, container, serviceURL string) *Provider {
	return &Provider{client: client, container: container, serviceURL: serviceURL}
}

// List returns a page of artifacts under opts.Prefix.
func (p *Provider) List(ctx context.Context, opts provider.ListOptions) (*provider.ListResult, error) {
	maxResults := int32(DefaultMaxResults)
	if opts.MaxKeys > 0 && opts.MaxKeys < DefaultMaxResults {
		maxResults = int32(opts.MaxKeys)
	}
	listOpts := &azblob.ListBlobsFlatOptions{MaxResults: &maxResults}
	if opts.Prefix != "" {
		listOpts.Prefix = &opts.Prefix
	}
	if opts.ContinuationToken != "" {
		listOpts.Marker = &opts.ContinuationToken
	}

	pager := p.client.NewListBlobsFlatPager(p.container, listOpts)
	page, err := pager.NextPage(ctx)
	if err != nil {
		return nil, p.wrapError("List", "", err)
	}

	res := &provider.ListResult{}
	if page.Segment != nil {
		for _, item := range page.Segment.BlobItems {
			if item == nil || item.Name == nil {
				continue
			}
			obj := provider.ObjectSummary{Key: *item.Name}
			if props := item.Properties; props != nil {
				if props.ContentLength != nil {
					obj.Size = *props.ContentLength
				}
				if props.LastModified != nil {
					obj.LastModified = *props.LastModified
				}
				if props.ETag != nil {
					obj.ETag = strings.Trim(string(*props.ETag), "\"")
				}
			}
			res.Objects = append(res.Objects, obj)
		}
	}
	if page.NextMarker != nil && *page.NextMarker != "" {
		res.ContinuationToken = *page.NextMarker
		res.IsTruncated = true
	}
	return res, nil
}

// Head returns blob properties.
func (p *Provider) Head(ctx context.Context, key string) (*provider.ObjectMeta, error) {
	blobClient := p.client.ServiceClient().NewContainerClient(p.container).NewBlobClient(key)
	props, err := blobClient.GetProperties(ctx, nil)
	if err != nil {
		return nil, p.wrapError("Head", key, err)
	}
	meta := &provider.ObjectMeta{ObjectSummary: provider.ObjectSummary{Key: key}}
	if props.ContentLength != nil {
		meta.Size = *props.ContentLength
	}
	if props.LastModified != nil {
		meta.LastModified = *props.LastModified
	}
	if props.ETag != nil {
		meta.ETag = strings.Trim(string(*props.ETag), "\"")
	}
	if props.ContentType != nil {
		meta.ContentType = *props.ContentType
	}
	if len(props.Metadata) > 0 {
		meta.Metadata = make(map[string]string, len(props.Metadata))
		for k, v := range props.Metadata {
			if v != nil {
				meta.Metadata[k] = *v
			}
		}
	}
	return meta, nil
}

// PutObject uploads body as a block blob.
func (p *Provider) PutObject(ctx context.Context, key string, body io.Reader, contentLength int64) error {
	_ = contentLength
	contentType := "application/octet-stream"
	if strings.HasSuffix(key, ".jar") {
		contentType = "application/java-archive"
	}
	_, err := p.client.UploadStream(ctx, p.container, key, body, &azblob.UploadStreamOptions{
		HTTPHeaders: &blob.HTTPHeaders{BlobContentType: &contentType},
	})
	if err != nil {
		return p.wrapError("PutObject", key, err)
	}
	return nil
}

// DeleteObject removes a blob. A missing blob is not an error.
func (p *Provider) DeleteObject(ctx context.Context, key string) error {
	if _, err := p.client.DeleteBlob(ctx, p.container, key, nil); err != nil {
		wrapped := p.wrapError("DeleteObject", key, err)
		if provider.IsNotFound(wrapped) {
			return nil
		}
		return wrapped
	}
	return nil
}

// URI returns the wasbs:// location HDInsight reads artifacts from. For
// endpoints outside blob.core.windows.net (Azurite) it returns the HTTP URL.
func (p *Provider) URI(key string) string {
	key = strings.TrimPrefix(key, "/")
	u, err := url.Parse(p.serviceURL)
	if err == nil && strings.HasSuffix(u.Host, ".blob.core.windows.net") {
		return fmt.Sprintf("wasbs://%s@%s/%s", p.container, u.Host, key)
	}
	return p.serviceURL + p.container + "/" + key
}

// Close is a no-op.
func (p *Provider) Close() error {
	return nil
}

func (p *Provider) wrapError(op, key string, err error) error {
	wrapped := &provider.ProviderError{Op: op, Provider: provider.ProviderAzBlob, Bucket: p.container, Key: key, Err: err}

	switch {
	case bloberror.HasCode(err, bloberror.BlobNotFound):
		wrapped.Err = provider.ErrNotFound
		return wrapped
	case bloberror.HasCode(err, bloberror.ContainerNotFound):
		wrapped.Err = provider.ErrBucketNotFound
		return wrapped
	case bloberror.HasCode(err, bloberror.AuthorizationFailure, bloberror.AuthorizationPermissionMismatch):
		wrapped.Err = provider.ErrAccessDenied
		return wrapped
	case bloberror.HasCode(err, bloberror.AuthenticationFailed):
		wrapped.Err = provider.ErrInvalidCredentials
		return wrapped
	case bloberror.HasCode(err, bloberror.ServerBusy, bloberror.OperationTimedOut, bloberror.InternalError):
		wrapped.Err = provider.ErrProviderUnavailable
		return wrapped
	}

	var respErr *azcore.ResponseError
	if errors.As(err, &respErr) {
		switch respErr.StatusCode {
		case http.StatusNotFound:
			wrapped.Err = provider.ErrNotFound
		case http.StatusForbidden:
			wrapped.Err = provider.ErrAccessDenied
		case http.StatusUnauthorized:
			wrapped.Err = provider.ErrInvalidCredentials
		case http.StatusTooManyRequests:
			wrapped.Err = provider.ErrThrottled
		case http.StatusInternalServerError, http.StatusServiceUnavailable:
			wrapped.Err = provider.ErrProviderUnavailable
		}
	}
	return wrapped
}
