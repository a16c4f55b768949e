// Package deploy uploads locally built job artifacts to cluster storage.
package deploy

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/3leaps/livyctl/pkg/provider"
)

// DefaultFolder is the key prefix uploads are placed under.
const DefaultFolder = "livyctl-uploads"

// ErrCleanupUnsupported is returned when the store cannot delete objects.
var ErrCleanupUnsupported = errors.New("artifact store does not support cleanup")

// Target selects where in the store an upload goes.
type Target struct {
	// Folder is the key prefix. Empty uses DefaultFolder.
	Folder string
}

func (t Target) folder() string {
	f := strings.Trim(strings.TrimSpace(t.Folder), "/")
	if f == "" {
		return DefaultFolder
	}
	return f
}

// Deployer uploads one artifact and returns its remote URI and the number
// of attempts it took.
type Deployer interface {
	Upload(ctx context.Context, localPath string, t Target) (remoteURI string, attempts int, err error)
}

// StoreDeployer uploads to a provider.Provider. Each upload gets its own
// <folder>/<uuid>/ directory so concurrent submissions never collide.
type StoreDeployer struct {
	store  provider.Provider
	newID  func() string
	now    func() time.Time
	logger *zap.Logger
}

var _ Deployer = (*StoreDeployer)(nil)

// NewStoreDeployer returns a deployer over store. logger may be nil.
func NewStoreDeployer(store provider.Provider, logger *zap.Logger) *StoreDeployer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StoreDeployer{
		store:  store,
		newID:  func() string { return uuid.NewString() },
		now:    time.Now,
		logger: logger,
	}
}

// Upload copies localPath to <folder>/<uuid>/<basename> and verifies the
// stored size.
func (d *StoreDeployer) Upload(ctx context.Context, localPath string, t Target) (string, int, error) {
	f, err := os.Open(localPath)
	if err != nil {
		return "", 1, &LocalFileError{Path: localPath, Err: err}
	}
	defer func() { _ = f.Close() }()

	st, err := f.Stat()
	if err != nil {
		return "", 1, &LocalFileError{Path: localPath, Err: err}
	}
	if st.IsDir() {
		return "", 1, &LocalFileError{Path: localPath, Err: errors.New("is a directory")}
	}

	key := path.Join(t.folder(), d.newID(), filepath.Base(localPath))
	d.logger.Debug("Uploading artifact",
		zap.String("path", localPath), zap.String("key", key), zap.Int64("bytes", st.Size()))

	if err := d.store.PutObject(ctx, key, f, st.Size()); err != nil {
		return "", 1, err
	}

	meta, err := d.store.Head(ctx, key)
	if err != nil {
		return "", 1, err
	}
	if meta.Size != st.Size() {
		return "", 1, fmt.Errorf("%w: uploaded %d bytes, store reports %d", ErrSizeMismatch, st.Size(), meta.Size)
	}
	return d.store.URI(key), 1, nil
}

// ErrSizeMismatch means the stored object does not match the local file.
var ErrSizeMismatch = errors.New("uploaded artifact size mismatch")

// LocalFileError means the artifact could not be read. Retrying cannot fix it.
type LocalFileError struct {
	Path string
	Err  error
}

func (e *LocalFileError) Error() string {
	return fmt.Sprintf("read artifact %s: %v", e.Path, e.Err)
}

func (e *LocalFileError) Unwrap() error {
	return e.Err
}

// CleanupResult summarises a Cleanup run.
type CleanupResult struct {
	Folders []string
	Objects int
}

// Cleanup deletes upload folders under t whose newest object is older than
// olderThan. Objects without a modification time are kept.
func (d *StoreDeployer) Cleanup(ctx context.Context, t Target, olderThan time.Duration) (*CleanupResult, error) {
	deleter, canDelete := d.store.(provider.ObjectDeleter)
	prefixDeleter, canDeletePrefix := d.store.(provider.PrefixDeleter)
	if !canDelete && !canDeletePrefix {
		return nil, ErrCleanupUnsupported
	}

	prefix := t.folder() + "/"
	objects, err := provider.ListAll(ctx, d.store, prefix)
	if err != nil {
		return nil, err
	}

	type folder struct {
		newest  time.Time
		keys    []string
		undated bool
	}
	folders := map[string]*folder{}
	var order []string
	for _, obj := range objects {
		rest := strings.TrimPrefix(obj.Key, prefix)
		id, _, ok := strings.Cut(rest, "/")
		if !ok || id == "" {
			continue
		}
		fo, seen := folders[id]
		if !seen {
			fo = &folder{}
			folders[id] = fo
			order = append(order, id)
		}
		fo.keys = append(fo.keys, obj.Key)
		if obj.LastModified.IsZero() {
			fo.undated = true
		} else if obj.LastModified.After(fo.newest) {
			fo.newest = obj.LastModified
		}
	}

	cutoff := d.now().Add(-olderThan)
	res := &CleanupResult{}
	for _, id := range order {
		fo := folders[id]
		if fo.undated || !fo.newest.Before(cutoff) {
			continue
		}
		name := prefix + id
		if canDeletePrefix {
			err = prefixDeleter.DeletePrefix(ctx, name)
		} else {
			for _, k := range fo.keys {
				if err = deleter.DeleteObject(ctx, k); err != nil {
					break
				}
			}
		}
		if err != nil {
			return res, err
		}
		d.logger.Debug("Removed stale upload folder", zap.String("folder", name), zap.Int("objects", len(fo.keys)))
		res.Folders = append(res.Folders, name)
		res.Objects += len(fo.keys)
	}
	return res, nil
}
