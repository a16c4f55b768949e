package provider

import (
	"errors"
	"strings"
)

// Backends map their native failures onto these so callers can decide on
// retries and exit codes without knowing the backend.
var (
	ErrNotFound            = errors.New("object not found")
	ErrBucketNotFound      = errors.New("bucket not found")
	ErrAccessDenied        = errors.New("access denied")
	ErrInvalidCredentials  = errors.New("invalid credentials")
	ErrThrottled           = errors.New("request throttled")
	ErrProviderUnavailable = errors.New("provider unavailable")
)

// ProviderError records which store call failed. Err is usually one of the
// sentinels above; otherwise the backend's own error.
type ProviderError struct {
	Op       string
	Provider ProviderType
	// Bucket is the bucket, container, host or base directory.
	Bucket string
	Key    string
	Err    error
}

func (e *ProviderError) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Provider))
	b.WriteByte(' ')
	b.WriteString(e.Op)
	b.WriteString(": ")
	if e.Bucket != "" {
		b.WriteString(e.Bucket)
		if e.Key != "" {
			b.WriteByte('/')
			b.WriteString(e.Key)
		}
		b.WriteString(": ")
	}
	if e.Err != nil {
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *ProviderError) Unwrap() error { return e.Err }

func IsNotFound(err error) bool            { return errors.Is(err, ErrNotFound) }
func IsBucketNotFound(err error) bool      { return errors.Is(err, ErrBucketNotFound) }
func IsAccessDenied(err error) bool        { return errors.Is(err, ErrAccessDenied) }
func IsInvalidCredentials(err error) bool  { return errors.Is(err, ErrInvalidCredentials) }
func IsThrottled(err error) bool           { return errors.Is(err, ErrThrottled) }
func IsProviderUnavailable(err error) bool { return errors.Is(err, ErrProviderUnavailable) }

// IsRetryable reports failures that a later attempt may not hit.
func IsRetryable(err error) bool {
	return IsThrottled(err) || IsProviderUnavailable(err)
}

// IsPermanent reports failures that no retry can fix.
func IsPermanent(err error) bool {
	return IsAccessDenied(err) || IsInvalidCredentials(err) || IsBucketNotFound(err)
}
