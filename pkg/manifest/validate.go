package manifest

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/fulmenhq/gofulmen/schema"

	schemasassets "github.com/3leaps/livyctl/internal/assets/schemas"
)

// SchemaID identifies the submission manifest schema.
const SchemaID = "livyctl/v1.0.0/submission-manifest"

var (
	ErrSchemaNotFound   = errors.New("manifest schema not found")
	ErrValidationFailed = errors.New("manifest validation failed")
)

// ValidationError is one schema failure, located by JSON pointer.
type ValidationError struct {
	Path    string
	Message string
}

func (e ValidationError) Error() string {
	if e.Path == "" {
		return e.Message
	}
	return e.Path + ": " + e.Message
}

// ValidationErrors lists every schema failure of a manifest. It matches
// ErrValidationFailed under errors.Is.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	switch len(e) {
	case 0:
		return ErrValidationFailed.Error()
	case 1:
		return e[0].Error()
	}
	lines := make([]string, len(e))
	for i, v := range e {
		lines[i] = "  - " + v.Error()
	}
	return fmt.Sprintf("manifest validation failed with %d errors:\n%s", len(e), strings.Join(lines, "\n"))
}

func (e ValidationErrors) Unwrap() error { return ErrValidationFailed }

// Validate checks an in-memory manifest. Fields the struct does not carry
// are invisible here; loaders call ValidateRaw on the source document.
func Validate(m *Manifest) error {
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("encode manifest for validation: %w", err)
	}
	return ValidateRaw(data)
}

// ValidateRaw checks a JSON document against the manifest schema. Only
// error-severity diagnostics count.
func ValidateRaw(jsonData []byte) error {
	v, err := manifestValidator()
	if err != nil {
		return err
	}
	diags, err := v.ValidateJSON(jsonData)
	if err != nil {
		return fmt.Errorf("schema validation error: %w", err)
	}

	var errs ValidationErrors
	for _, d := range diags {
		if d.Severity != schema.SeverityError {
			continue
		}
		errs = append(errs, ValidationError{Path: d.Pointer, Message: d.Message})
	}
	if len(errs) > 0 {
		return errs
	}
	return nil
}

var manifestValidator = sync.OnceValues(func() (*schema.Validator, error) {
	if len(schemasassets.SubmissionManifestSchema) == 0 {
		return nil, fmt.Errorf("%w: embedded submission-manifest schema is empty", ErrSchemaNotFound)
	}
	v, err := schema.NewValidator(schemasassets.SubmissionManifestSchema)
	if err != nil {
		return nil, fmt.Errorf("compile manifest schema: %w", err)
	}
	return v, nil
})
