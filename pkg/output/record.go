// Package output provides JSONL output for submissions and listings.
//
// Output is structured as typed record envelopes. Each line is a
// self-contained JSON object that can be parsed independently.
package output

import (
	"encoding/json"
	"errors"
	"time"
)

// Record type constants define the envelope types for JSONL output.
// These follow the pattern: livyctl.<type>.v<version>
const (
	// TypeConsole identifies submission console lines.
	TypeConsole = "livyctl.console.v1"

	// TypeEvent identifies submission lifecycle events.
	TypeEvent = "livyctl.event.v1"

	// TypeError identifies error records.
	TypeError = "livyctl.error.v1"

	// TypeSummary identifies the final submission summary.
	TypeSummary = "livyctl.summary.v1"

	// TypeCluster identifies cluster listing records.
	TypeCluster = "livyctl.cluster.v1"

	// TypeJob identifies job history records.
	TypeJob = "livyctl.job.v1"

	// TypePreflight identifies artifact store preflight results.
	TypePreflight = "livyctl.preflight.v1"

	// TypeBatch identifies remote batch listing records.
	TypeBatch = "livyctl.batch.v1"

	// TypeUpload identifies artifact upload and cleanup results.
	TypeUpload = "livyctl.upload.v1"
)

// Record is the envelope for all JSONL output.
type Record struct {
	// Type identifies the record type (e.g., "livyctl.console.v1").
	Type string `json:"type"`

	// TS is the timestamp when the record was created (RFC3339Nano).
	TS time.Time `json:"ts"`

	// JobID is the local job correlation ID, if any.
	JobID string `json:"job_id,omitempty"`

	// Cluster names the target cluster, if any.
	Cluster string `json:"cluster,omitempty"`

	// Data contains the type-specific payload as raw JSON.
	Data json.RawMessage `json:"data"`
}

// ConsoleRecord is one console line of a submission.
type ConsoleRecord struct {
	Severity string `json:"severity"`
	Text     string `json:"text"`

	// Stream is "stdout" or "stderr" for driver output.
	Stream string `json:"stream,omitempty"`
}

// EventRecord is a submission lifecycle event.
type EventRecord struct {
	Event    string `json:"event"`
	BatchID  int    `json:"batch_id"`
	State    string `json:"state,omitempty"`
	RawState string `json:"raw_state,omitempty"`
}

// ErrorRecord is the data payload for errors.
type ErrorRecord struct {
	// Code is a machine-readable error code.
	Code string `json:"code"`

	// Message is a human-readable error description.
	Message string `json:"message"`

	// Step is the pipeline step that failed, if applicable.
	Step string `json:"step,omitempty"`

	// Details contains additional error context.
	Details any `json:"details,omitempty"`
}

// Error codes for ErrorRecord.
const (
	ErrCodeAccessDenied       = "ACCESS_DENIED"
	ErrCodeNotFound           = "NOT_FOUND"
	ErrCodeTimeout            = "TIMEOUT"
	ErrCodeThrottled          = "THROTTLED"
	ErrCodeServiceUnavailable = "SERVICE_UNAVAILABLE"
	ErrCodeSubmission         = "SUBMISSION"
	ErrCodeInternal           = "INTERNAL"
)

// SummaryRecord is emitted once a submission ends.
type SummaryRecord struct {
	BatchID        *int   `json:"batch_id,omitempty"`
	State          string `json:"state"`
	RawState       string `json:"raw_state,omitempty"`
	Succeeded      bool   `json:"succeeded"`
	RemoteURI      string `json:"remote_uri,omitempty"`
	DeployAttempts int    `json:"deploy_attempts,omitempty"`
	AppID          string `json:"app_id,omitempty"`
	DriverLogURL   string `json:"driver_log_url,omitempty"`
	Diagnostics    string `json:"diagnostics,omitempty"`

	// Duration is the total submission duration.
	Duration time.Duration `json:"duration_ns"`

	// DurationHuman is a human-readable duration string.
	DurationHuman string `json:"duration"`
}

// ClusterRecord describes one registry entry. Passwords are never
// emitted.
type ClusterRecord struct {
	Name          string `json:"name"`
	Title         string `json:"title"`
	Origin        string `json:"origin"`
	LinkKind      string `json:"link_kind,omitempty"`
	State         string `json:"state,omitempty"`
	ConnectionURL string `json:"connection_url"`
	Username      string `json:"username,omitempty"`
	StorageURI    string `json:"storage_uri,omitempty"`
	Subscription  string `json:"subscription_id,omitempty"`
	ResourceGroup string `json:"resource_group,omitempty"`
	Location      string `json:"location,omitempty"`
}

// JobRecord summarizes one job history entry.
type JobRecord struct {
	JobID     string     `json:"job_id"`
	Name      string     `json:"name,omitempty"`
	State     string     `json:"state"`
	RawState  string     `json:"raw_state,omitempty"`
	BatchID   *int       `json:"batch_id,omitempty"`
	RemoteURI string     `json:"remote_uri,omitempty"`
	AppID     string     `json:"app_id,omitempty"`
	Error     string     `json:"error,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
}

// Writer errors.
var (
	// ErrWriterClosed is returned when writing to a closed writer.
	ErrWriterClosed = errors.New("writer is closed")
)

// WriteError wraps errors that occur during write operations.
type WriteError struct {
	Op  string // Operation that failed (e.g., "marshal_data", "write")
	Err error  // Underlying error
}

func (e *WriteError) Error() string {
	return "output: " + e.Op + ": " + e.Err.Error()
}

func (e *WriteError) Unwrap() error {
	return e.Err
}

// PreflightRecord reports the artifact store checks run before a deploy.
type PreflightRecord struct {
	Mode          string                 `json:"mode"`
	ProbeStrategy string                 `json:"probe_strategy,omitempty"`
	ProbePrefix   string                 `json:"probe_prefix,omitempty"`
	Results       []PreflightCheckResult `json:"results"`
}

// PreflightCheckResult is the outcome of one capability check.
type PreflightCheckResult struct {
	Capability string `json:"capability"`
	Allowed    bool   `json:"allowed"`
	Method     string `json:"method"`
	ErrorCode  string `json:"error_code,omitempty"`
	Detail     string `json:"detail,omitempty"`
}

// BatchRecord is one batch as the Livy endpoint lists it. JobID links it
// to local history when this machine submitted it.
type BatchRecord struct {
	BatchID  int    `json:"batch_id"`
	Name     string `json:"name,omitempty"`
	State    string `json:"state"`
	RawState string `json:"raw_state"`
	AppID    string `json:"app_id,omitempty"`
	JobID    string `json:"job_id,omitempty"`
}

// UploadRecord reports an artifact upload or a cleanup run.
type UploadRecord struct {
	LocalPath string   `json:"local_path,omitempty"`
	RemoteURI string   `json:"remote_uri,omitempty"`
	Attempts  int      `json:"attempts,omitempty"`
	Removed   []string `json:"removed,omitempty"`
	Objects   int      `json:"objects,omitempty"`
}
