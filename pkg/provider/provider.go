// Package provider defines the object stores job artifacts are uploaded to.
//
// A provider is bound to one bucket, container or base directory. Keys are
// slash-separated paths relative to that root. Authentication uses the
// SDK default credential chains unless explicit credentials are configured.
package provider

import (
	"context"
	"io"
	"time"
)

// Provider is an artifact store.
//
// Implementations must be safe for concurrent use.
type Provider interface {
	// List returns a page of objects with the given prefix.
	// Use ContinuationToken from ListResult for subsequent pages.
	List(ctx context.Context, opts ListOptions) (*ListResult, error)

	// Head returns metadata for a single object.
	// Returns ErrNotFound if the object does not exist.
	Head(ctx context.Context, key string) (*ObjectMeta, error)

	// PutObject creates or overwrites an object.
	PutObject(ctx context.Context, key string, body io.Reader, contentLength int64) error

	// URI returns the location of key as the cluster reads it, e.g.
	// s3://bucket/key or wasbs://container@account.blob.core.windows.net/key.
	URI(key string) string

	// Close releases any resources held by the provider.
	Close() error
}

// ListOptions configures a List operation.
type ListOptions struct {
	// Prefix filters results to keys starting with this value.
	Prefix string

	// ContinuationToken resumes listing from a previous ListResult.
	ContinuationToken string

	// MaxKeys limits the number of objects returned per page.
	// Zero uses the provider default.
	MaxKeys int
}

// ListResult contains a page of objects from a List operation.
type ListResult struct {
	Objects []ObjectSummary

	// ContinuationToken is empty on the last page.
	ContinuationToken string

	IsTruncated bool
}

// ObjectSummary contains basic metadata returned from List operations.
type ObjectSummary struct {
	Key          string
	Size         int64
	ETag         string
	LastModified time.Time
}

// ObjectMeta contains full metadata for a single object.
type ObjectMeta struct {
	ObjectSummary

	ContentType string
	Metadata    map[string]string
}

// ProviderType identifies an artifact store backend.
type ProviderType string

const (
	ProviderS3     ProviderType = "s3"
	ProviderAzBlob ProviderType = "azblob"
	ProviderFTP    ProviderType = "ftp"
	ProviderFile   ProviderType = "file"
)

// String returns the string representation of the provider type.
func (p ProviderType) String() string {
	return string(p)
}

// ParseProviderType validates a configured backend name.
func ParseProviderType(s string) (ProviderType, bool) {
	switch t := ProviderType(s); t {
	case ProviderS3, ProviderAzBlob, ProviderFTP, ProviderFile:
		return t, true
	}
	return "", false
}
