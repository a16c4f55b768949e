// Package file stores job artifacts in a local directory. Emulator clusters
// run on the same host and read artifacts through file:// URIs.
package file

import (
	"cmp"
	"context"
	"errors"
	"io"
	"io/fs"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"slices"
	"strings"

	"github.com/3leaps/livyctl/pkg/provider"
)

const defaultPageSize = 1000

type Config struct {
	BaseDir string
}

// Provider keeps each key as a file under the base dir. Keys are
// slash-separated and cleaned as if rooted, so ".." cannot climb out.
type Provider struct {
	base string
}

var (
	_ provider.Provider      = (*Provider)(nil)
	_ provider.ObjectDeleter = (*Provider)(nil)
	_ provider.PrefixDeleter = (*Provider)(nil)
)

func New(cfg Config) (*Provider, error) {
	if strings.TrimSpace(cfg.BaseDir) == "" {
		return nil, errors.New("file store: base dir is required")
	}
	return &Provider{base: filepath.Clean(cfg.BaseDir)}, nil
}

// cleanKey turns key into a path relative to the base dir; "" is the base
// dir itself.
func cleanKey(key string) string {
	return strings.TrimPrefix(path.Clean("/"+strings.TrimSpace(key)), "/")
}

func (p *Provider) path(key string) string {
	return filepath.Join(p.base, filepath.FromSlash(cleanKey(key)))
}

func (p *Provider) List(_ context.Context, opts provider.ListOptions) (*provider.ListResult, error) {
	keys, err := p.keysUnder(cleanKey(opts.Prefix))
	if err != nil {
		return nil, p.fail("List", opts.Prefix, err)
	}

	start := 0
	if opts.ContinuationToken != "" {
		i, found := slices.BinarySearch(keys, opts.ContinuationToken)
		if found {
			i++
		}
		start = i
	}
	size := opts.MaxKeys
	if size <= 0 {
		size = defaultPageSize
	}
	end := min(start+size, len(keys))

	res := &provider.ListResult{Objects: make([]provider.ObjectSummary, 0, end-start)}
	for _, k := range keys[start:end] {
		st, err := os.Stat(p.path(k))
		if err != nil || !st.Mode().IsRegular() {
			continue
		}
		res.Objects = append(res.Objects, provider.ObjectSummary{Key: k, Size: st.Size(), LastModified: st.ModTime()})
	}
	if end < len(keys) {
		res.IsTruncated = true
		res.ContinuationToken = keys[end-1]
	}
	return res, nil
}

// keysUnder returns the sorted keys of all files below dir. A missing dir
// has no keys.
func (p *Provider) keysUnder(dir string) ([]string, error) {
	var keys []string
	root := cmp.Or(dir, ".")
	err := fs.WalkDir(os.DirFS(p.base), root, func(name string, d fs.DirEntry, err error) error {
		switch {
		case errors.Is(err, fs.ErrNotExist) && name == root:
			return fs.SkipAll
		case err != nil:
			return nil
		case !d.IsDir():
			keys = append(keys, name)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	slices.Sort(keys)
	return keys, nil
}

func (p *Provider) Head(_ context.Context, key string) (*provider.ObjectMeta, error) {
	st, err := os.Stat(p.path(key))
	if err != nil {
		return nil, p.fail("Head", key, err)
	}
	if st.IsDir() {
		return nil, p.fail("Head", key, fs.ErrNotExist)
	}
	return &provider.ObjectMeta{
		ObjectSummary: provider.ObjectSummary{Key: cleanKey(key), Size: st.Size(), LastModified: st.ModTime()},
	}, nil
}

// PutObject writes through a temp file in the target directory so a
// reader never sees a partial artifact.
func (p *Provider) PutObject(_ context.Context, key string, body io.Reader, _ int64) error {
	full := p.path(key)
	dir := filepath.Dir(full)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return p.fail("PutObject", key, err)
	}
	f, err := os.CreateTemp(dir, ".upload-*")
	if err != nil {
		return p.fail("PutObject", key, err)
	}
	defer func() { _ = os.Remove(f.Name()) }()

	_, cerr := io.Copy(f, body)
	if err := errors.Join(cerr, f.Close()); err != nil {
		return p.fail("PutObject", key, err)
	}
	if err := os.Rename(f.Name(), full); err != nil {
		return p.fail("PutObject", key, err)
	}
	return nil
}

// DeleteObject is idempotent: a missing key is not an error.
func (p *Provider) DeleteObject(_ context.Context, key string) error {
	if err := os.Remove(p.path(key)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return p.fail("DeleteObject", key, err)
	}
	return nil
}

// DeletePrefix removes the directory prefix names. It refuses to remove the
// base dir itself.
func (p *Provider) DeletePrefix(_ context.Context, prefix string) error {
	if cleanKey(prefix) == "" {
		return p.fail("DeletePrefix", prefix, errors.New("refusing to delete base dir"))
	}
	if err := os.RemoveAll(p.path(prefix)); err != nil {
		return p.fail("DeletePrefix", prefix, err)
	}
	return nil
}

// URI returns the absolute file:// location of key.
func (p *Provider) URI(key string) string {
	full := p.path(key)
	if abs, err := filepath.Abs(full); err == nil {
		full = abs
	}
	return (&url.URL{Scheme: "file", Path: filepath.ToSlash(full)}).String()
}

func (p *Provider) Close() error { return nil }

func (p *Provider) fail(op, key string, err error) error {
	switch {
	case errors.Is(err, fs.ErrNotExist):
		err = provider.ErrNotFound
	case errors.Is(err, fs.ErrPermission):
		err = provider.ErrAccessDenied
	}
	return &provider.ProviderError{Op: op, Provider: provider.ProviderFile, Bucket: p.base, Key: key, Err: err}
}
