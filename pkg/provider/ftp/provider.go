// Package ftp stores job artifacts on an FTP server, for clusters whose
// storage is only reachable that way.
package ftp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/textproto"
	"net/url"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/jlaffaye/ftp"

	"github.com/3leaps/livyctl/pkg/provider"
)

// DefaultTimeout bounds dialing and each control-connection exchange.
const DefaultTimeout = 30 * time.Second

// Config configures an FTP artifact store.
type Config struct {
	// Addr is host:port. Port 21 is assumed when missing.
	Addr string

	Username string
	Password string

	// BaseDir is the server directory keys are relative to.
	BaseDir string

	Timeout time.Duration
}

// Validate checks that required configuration is present.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Addr) == "" {
		return errors.New("ftp config: addr is required")
	}
	return nil
}

func (c Config) addr() string {
	if _, _, err := net.SplitHostPort(c.Addr); err == nil {
		return c.Addr
	}
	return net.JoinHostPort(c.Addr, "21")
}

// conn is the subset of *ftp.ServerConn the provider uses.
type conn interface {
	Login(user, password string) error
	Stor(path string, r io.Reader) error
	MakeDir(path string) error
	Delete(path string) error
	RemoveDirRecur(path string) error
	FileSize(path string) (int64, error)
	List(path string) ([]*ftp.Entry, error)
	Quit() error
}

// Provider opens one control connection per operation; FTP servers drop
// idle sessions.
type Provider struct {
	cfg     Config
	baseDir string
	dial    func(ctx context.Context) (conn, error)
}

var (
	_ provider.Provider      = (*Provider)(nil)
	_ provider.ObjectDeleter = (*Provider)(nil)
	_ provider.PrefixDeleter = (*Provider)(nil)
)

// New creates an FTP artifact store. No connection is made until first use.
func New(cfg Config) (*Provider, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Username == "" {
		cfg.Username = "anonymous"
		cfg.Password = "anonymous"
	}
	p := &Provider{cfg: cfg, baseDir: path.Clean("/" + strings.TrimSpace(cfg.BaseDir))}
	p.dial = p.dialServer
	return p, nil
}

func (p *Provider) dialServer(ctx context.Context) (conn, error) {
	c, err := ftp.Dial(p.cfg.addr(), ftp.DialWithContext(ctx), ftp.DialWithTimeout(p.cfg.Timeout))
	if err != nil {
		return nil, err
	}
	return c, nil
}

func (p *Provider) session(ctx context.Context, op, key string, fn func(c conn) error) error {
	c, err := p.dial(ctx)
	if err != nil {
		return p.wrapError(op, key, err)
	}
	defer func() { _ = c.Quit() }()

	if err := c.Login(p.cfg.Username, p.cfg.Password); err != nil {
		return p.wrapError(op, key, err)
	}
	if err := fn(c); err != nil {
		return p.wrapError(op, key, err)
	}
	return nil
}

func (p *Provider) fullPath(key string) string {
	return path.Join(p.baseDir, path.Clean("/"+strings.TrimSpace(key)))
}

// List returns artifacts under the directory prefix names.
func (p *Provider) List(ctx context.Context, opts provider.ListOptions) (*provider.ListResult, error) {
	var objects []provider.ObjectSummary
	err := p.session(ctx, "List", opts.Prefix, func(c conn) error {
		var err error
		objects, err = p.walk(ctx, c, p.fullPath(opts.Prefix))
		return err
	})
	if err != nil {
		if provider.IsNotFound(err) {
			return &provider.ListResult{}, nil
		}
		return nil, err
	}
	sort.Slice(objects, func(i, j int) bool { return objects[i].Key < objects[j].Key })

	start := 0
	if opts.ContinuationToken != "" {
		start = sort.Search(len(objects), func(i int) bool { return objects[i].Key > opts.ContinuationToken })
	}
	end := len(objects)
	if opts.MaxKeys > 0 && start+opts.MaxKeys < end {
		end = start + opts.MaxKeys
	}
	res := &provider.ListResult{Objects: objects[start:end]}
	if end < len(objects) {
		res.IsTruncated = true
		res.ContinuationToken = objects[end-1].Key
	}
	return res, nil
}

func (p *Provider) walk(ctx context.Context, c conn, dir string) ([]provider.ObjectSummary, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	entries, err := c.List(dir)
	if err != nil {
		return nil, err
	}
	var out []provider.ObjectSummary
	for _, e := range entries {
		if e == nil || e.Name == "." || e.Name == ".." {
			continue
		}
		full := path.Join(dir, e.Name)
		switch e.Type {
		case ftp.EntryTypeFolder:
			sub, err := p.walk(ctx, c, full)
			if err != nil {
				return nil, err
			}
			out = append(out, sub...)
		case ftp.EntryTypeFile:
			out = append(out, provider.ObjectSummary{
				Key:          strings.TrimPrefix(strings.TrimPrefix(full, p.baseDir), "/"),
				Size:         int64(e.Size),
				LastModified: e.Time,
			})
		}
	}
	return out, nil
}

// Head returns the size of an uploaded artifact.
func (p *Provider) Head(ctx context.Context, key string) (*provider.ObjectMeta, error) {
	var size int64
	err := p.session(ctx, "Head", key, func(c conn) error {
		var err error
		size, err = c.FileSize(p.fullPath(key))
		return err
	})
	if err != nil {
		return nil, err
	}
	return &provider.ObjectMeta{ObjectSummary: provider.ObjectSummary{Key: strings.TrimPrefix(key, "/"), Size: size}}, nil
}

// PutObject stores body, creating parent directories as needed.
func (p *Provider) PutObject(ctx context.Context, key string, body io.Reader, contentLength int64) error {
	_ = contentLength
	full := p.fullPath(key)
	return p.session(ctx, "PutObject", key, func(c conn) error {
		makeDirs(c, path.Dir(full))
		return c.Stor(full, body)
	})
}

// makeDirs creates each missing component of dir. MakeDir fails on
// existing directories, so its errors are ignored and Stor reports a
// directory that really could not be created.
func makeDirs(c conn, dir string) {
	cur := "/"
	for _, part := range strings.Split(strings.Trim(dir, "/"), "/") {
		if part == "" {
			continue
		}
		cur = path.Join(cur, part)
		_ = c.MakeDir(cur)
	}
}

// DeleteObject removes one artifact. A missing file is not an error.
func (p *Provider) DeleteObject(ctx context.Context, key string) error {
	err := p.session(ctx, "DeleteObject", key, func(c conn) error {
		return c.Delete(p.fullPath(key))
	})
	if provider.IsNotFound(err) {
		return nil
	}
	return err
}

// DeletePrefix removes the directory prefix names and everything below it.
func (p *Provider) DeletePrefix(ctx context.Context, prefix string) error {
	full := p.fullPath(prefix)
	if full == p.baseDir {
		return p.wrapError("DeletePrefix", prefix, fmt.Errorf("refusing to delete base dir"))
	}
	err := p.session(ctx, "DeletePrefix", prefix, func(c conn) error {
		return c.RemoveDirRecur(full)
	})
	if provider.IsNotFound(err) {
		return nil
	}
	return err
}

// URI returns the ftp:// location of key, without credentials.
func (p *Provider) URI(key string) string {
	u := url.URL{Scheme: "ftp", Host: p.cfg.addr(), Path: p.fullPath(key)}
	if strings.HasSuffix(u.Host, ":21") {
		u.Host = strings.TrimSuffix(u.Host, ":21")
	}
	return u.String()
}

// Close is a no-op; connections are per operation.
func (p *Provider) Close() error {
	return nil
}

func (p *Provider) wrapError(op, key string, err error) error {
	wrapped := &provider.ProviderError{Op: op, Provider: provider.ProviderFTP, Bucket: p.cfg.Addr, Key: key, Err: err}

	var protoErr *textproto.Error
	if errors.As(err, &protoErr) {
		switch protoErr.Code {
		case ftp.StatusFileUnavailable:
			wrapped.Err = provider.ErrNotFound
		case ftp.StatusNotLoggedIn, ftp.StatusInvalidCredentials:
			wrapped.Err = provider.ErrInvalidCredentials
		case ftp.StatusNotAvailable, ftp.StatusCanNotOpenDataConnection, ftp.StatusTransfertAborted,
			ftp.StatusFileActionIgnored, ftp.StatusActionAborted, ftp.StatusHostUnavailable:
			wrapped.Err = provider.ErrProviderUnavailable
		}
		return wrapped
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		wrapped.Err = fmt.Errorf("%w: %v", provider.ErrProviderUnavailable, err)
	}
	return wrapped
}
