package properties

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// FileStore keeps all properties in one JSON object. Every write rewrites
// the file through a temp file and rename.
type FileStore struct {
	path string

	mu    sync.Mutex
	props map[string]string
}

// OpenFile loads path. A missing file is an empty store.
func OpenFile(path string) (*FileStore, error) {
	s := &FileStore{path: filepath.Clean(path), props: map[string]string{}}
	data, err := os.ReadFile(s.path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return s, nil
	case err != nil:
		return nil, fmt.Errorf("read properties: %w", err)
	}
	if len(data) == 0 {
		return s, nil
	}
	if err := json.Unmarshal(data, &s.props); err != nil {
		return nil, fmt.Errorf("parse properties %s: %w", s.path, err)
	}
	if s.props == nil {
		s.props = map[string]string{}
	}
	return s, nil
}

func (s *FileStore) Path() string { return s.path }

func (s *FileStore) Get(_ context.Context, key string) (string, bool, error) {
	if err := checkKey(key); err != nil {
		return "", false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.props[key]
	return v, ok, nil
}

func (s *FileStore) Set(_ context.Context, key, value string) error {
	if err := checkKey(key); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	prev, had := s.props[key]
	s.props[key] = value
	if err := s.flush(); err != nil {
		if had {
			s.props[key] = prev
		} else {
			delete(s.props, key)
		}
		return err
	}
	return nil
}

func (s *FileStore) Unset(_ context.Context, key string) error {
	if err := checkKey(key); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	prev, had := s.props[key]
	if !had {
		return nil
	}
	delete(s.props, key)
	if err := s.flush(); err != nil {
		s.props[key] = prev
		return err
	}
	return nil
}

func (s *FileStore) Close() error { return nil }

func (s *FileStore) flush() error {
	data, err := json.MarshalIndent(s.props, "", "  ")
	if err != nil {
		return fmt.Errorf("encode properties: %w", err)
	}
	return writeFileAtomic(s.path, append(data, '\n'), 0o600)
}

func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	// #nosec G301 -- data directories use 0755 for multi-user access compatibility
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create properties directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".properties-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write properties: %w", err)
	}
	if err := tmp.Chmod(perm); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("chmod properties: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close properties: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("replace properties: %w", err)
	}
	return nil
}
