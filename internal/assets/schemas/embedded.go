// Package schemasassets provides embedded JSON schemas for standalone binary behavior.
//
// Schemas are embedded at compile time so validation works regardless of
// the working directory or installation location.
package schemasassets

import _ "embed"

// SubmissionManifestSchema is the embedded submission-manifest JSON schema.
//
//go:embed submission-manifest.schema.json
var SubmissionManifestSchema []byte
