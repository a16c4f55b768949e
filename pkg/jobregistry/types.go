package jobregistry

import (
	"time"

	"github.com/3leaps/livyctl/pkg/livy"
)

// JobState is the local view of a submission's lifecycle.
//
// NOTE: These values are persisted in job.json and are part of the stable
// on-disk contract.
type JobState string

const (
	JobStateQueued    JobState = "queued"
	JobStateSubmitted JobState = "submitted"
	JobStateRunning   JobState = "running"
	JobStateSuccess   JobState = "success"
	JobStateFailed    JobState = "failed"
	JobStateKilled    JobState = "killed"
	JobStateUnknown   JobState = "unknown"
)

// IsTerminal reports whether no further updates are expected.
func (s JobState) IsTerminal() bool {
	switch s {
	case JobStateSuccess, JobStateFailed, JobStateKilled:
		return true
	}
	return false
}

// StateFromLivy maps a remote batch state onto a JobState.
func StateFromLivy(st livy.State) JobState {
	switch st {
	case livy.StateWaiting:
		return JobStateSubmitted
	case livy.StateRunning, livy.StateCancelling:
		return JobStateRunning
	case livy.StateAvailable:
		return JobStateSuccess
	case livy.StateError:
		return JobStateFailed
	case livy.StateCancelled:
		return JobStateKilled
	}
	return JobStateUnknown
}

// JobRecord is the persistent record written to job.json.
//
// The schema is designed for backward-compatible extension (additive fields).
type JobRecord struct {
	JobID        string   `json:"job_id"`
	Name         string   `json:"name,omitempty"`
	State        JobState `json:"state"`
	RawState     string   `json:"raw_state,omitempty"`
	Cluster      string   `json:"cluster"`
	ConnectURL   string   `json:"connect_url,omitempty"`
	ManifestPath string   `json:"manifest_path,omitempty"`

	// BatchID is nil until the batch was created.
	BatchID      *int   `json:"batch_id,omitempty"`
	RemoteURI    string `json:"remote_uri,omitempty"`
	AppID        string `json:"app_id,omitempty"`
	DriverLogURL string `json:"driver_log_url,omitempty"`
	Error        string `json:"error,omitempty"`

	PID       int       `json:"pid,omitempty"`
	CreatedAt time.Time `json:"created_at"`

	StartedAt     *time.Time `json:"started_at,omitempty"`
	EndedAt       *time.Time `json:"ended_at,omitempty"`
	LastHeartbeat *time.Time `json:"last_heartbeat,omitempty"`
	StdoutPath    string     `json:"stdout_path,omitempty"`
	StderrPath    string     `json:"stderr_path,omitempty"`
}

// HasBatch reports whether the record points at a remote batch.
func (r *JobRecord) HasBatch() bool {
	return r != nil && r.BatchID != nil
}
