// Package properties persists small string settings, such as the linked
// and emulator cluster lists, across livyctl runs.
package properties

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

// Store is a flat string key/value store.
type Store interface {
	// Get returns the value and whether the key is set.
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	// Unset removes key; removing a missing key is not an error.
	Unset(ctx context.Context, key string) error
	Close() error
}

// Backend selects a Store implementation.
type Backend string

const (
	BackendFile   Backend = "file"
	BackendSQLite Backend = "sqlite"
)

const (
	DefaultFileName   = "properties.json"
	DefaultSQLiteName = "properties.db"
)

var ErrEmptyKey = errors.New("property key is empty")

// Config selects and locates the backend.
type Config struct {
	Backend Backend

	// Path is the store file. When empty, the default file name is used
	// inside Dir.
	Path string
	Dir  string
}

// Open opens the configured store, creating it if needed.
func Open(ctx context.Context, cfg Config) (Store, error) {
	backend := Backend(strings.ToLower(strings.TrimSpace(string(cfg.Backend))))
	if backend == "" {
		backend = BackendFile
	}
	path := strings.TrimSpace(cfg.Path)

	switch backend {
	case BackendFile:
		if path == "" {
			if cfg.Dir == "" {
				return nil, errors.New("properties: path or dir is required")
			}
			path = filepath.Join(cfg.Dir, DefaultFileName)
		}
		return OpenFile(path)
	case BackendSQLite:
		if path == "" {
			if cfg.Dir == "" {
				return nil, errors.New("properties: path or dir is required")
			}
			path = filepath.Join(cfg.Dir, DefaultSQLiteName)
		}
		return OpenSQLite(ctx, path)
	default:
		return nil, fmt.Errorf("properties: unknown backend %q (expected file or sqlite)", cfg.Backend)
	}
}

func checkKey(key string) error {
	if strings.TrimSpace(key) == "" {
		return ErrEmptyKey
	}
	return nil
}
