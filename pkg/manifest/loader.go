package manifest

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

type format int

const (
	formatAuto format = iota
	formatYAML
	formatJSON
)

func formatOf(path string) format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return formatJSON
	case ".yaml", ".yml":
		return formatYAML
	}
	return formatAuto
}

// Load reads a submission manifest, validates it against the embedded
// schema and applies defaults. .json files are read as JSON, .yaml/.yml as
// YAML; any other extension tries YAML, then JSON.
//
// A missing file yields an error matching fs.ErrNotExist.
func Load(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return nil, fmt.Errorf("manifest file not found: %s: %w", path, fs.ErrNotExist)
	case errors.Is(err, fs.ErrPermission):
		return nil, fmt.Errorf("permission denied reading manifest: %s", path)
	case err != nil:
		return nil, fmt.Errorf("read manifest %s: %w", path, err)
	}
	return LoadFromBytes(data, path)
}

// LoadFromReader is Load over r. path only selects the format and labels
// errors; it may be empty.
func LoadFromReader(r io.Reader, path string) (*Manifest, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	return LoadFromBytes(data, path)
}

// LoadFromBytes decodes, validates and defaults a manifest.
//
// The schema runs against the generic document before it is decoded into
// Manifest, so unknown fields are rejected rather than silently dropped.
func LoadFromBytes(data []byte, path string) (*Manifest, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, errors.New("manifest file is empty")
	}

	doc, f, err := decodeDocument(data, formatOf(path))
	if err != nil {
		return nil, err
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("convert manifest to JSON: %w", err)
	}
	if err := ValidateRaw(raw); err != nil {
		return nil, err
	}

	var m Manifest
	if f == formatJSON {
		err = json.Unmarshal(data, &m)
	} else {
		err = yaml.Unmarshal(data, &m)
	}
	if err != nil {
		return nil, fmt.Errorf("decode manifest: %w", err)
	}
	m.ApplyDefaults()
	return &m, nil
}

// decodeDocument parses data into a generic value and reports the format
// that succeeded.
func decodeDocument(data []byte, f format) (any, format, error) {
	var doc any
	switch f {
	case formatJSON:
		if err := json.Unmarshal(data, &doc); err != nil {
			return nil, f, fmt.Errorf("invalid JSON in manifest: %w", err)
		}
		return doc, f, nil
	case formatYAML:
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, f, fmt.Errorf("invalid YAML in manifest: %w", err)
		}
		return doc, f, nil
	}

	yamlErr := yaml.Unmarshal(data, &doc)
	if yamlErr == nil {
		return doc, formatYAML, nil
	}
	doc = nil
	if err := json.Unmarshal(data, &doc); err == nil {
		return doc, formatJSON, nil
	}
	return nil, formatAuto, fmt.Errorf("failed to parse manifest (tried YAML and JSON): %w", yamlErr)
}
