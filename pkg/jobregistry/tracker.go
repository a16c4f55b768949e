package jobregistry

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/3leaps/livyctl/pkg/submission"
)

// NewRecord returns a queued record with a fresh job ID.
func NewRecord(cluster, name, manifestPath string) *JobRecord {
	now := time.Now().UTC()
	return &JobRecord{
		JobID:        uuid.New().String(),
		Name:         strings.TrimSpace(name),
		State:        JobStateQueued,
		Cluster:      strings.TrimSpace(cluster),
		ManifestPath: strings.TrimSpace(manifestPath),
		CreatedAt:    now,
	}
}

// Observe applies a session event to rec and persists it.
func (s *Store) Observe(rec *JobRecord, e submission.Event, connectURL string) error {
	at := e.Time.UTC()
	if e.Time.IsZero() {
		at = time.Now().UTC()
	}
	rec.LastHeartbeat = &at
	switch e.Type {
	case submission.EventSubmitted:
		id := e.BatchID
		rec.BatchID = &id
		rec.ConnectURL = connectURL
		rec.State = JobStateSubmitted
		if rec.StartedAt == nil {
			rec.StartedAt = &at
		}
	case submission.EventStateChanged, submission.EventFinished:
		rec.State = StateFromLivy(e.State)
		rec.RawState = e.RawState
	}
	return s.Write(rec)
}

// Finish records the outcome of a session and persists it. The batch ID
// only comes from the submitted event, since 0 is a valid ID.
func (s *Store) Finish(rec *JobRecord, res *submission.Result, runErr error) error {
	now := time.Now().UTC()
	rec.EndedAt = &now
	rec.LastHeartbeat = &now
	if res != nil {
		rec.RemoteURI = res.RemoteURI
		rec.AppID = res.AppID
		rec.DriverLogURL = res.DriverLogURL
		if res.RawState != "" {
			rec.RawState = res.RawState
			rec.State = StateFromLivy(res.State)
		}
	}
	if runErr != nil {
		rec.Error = runErr.Error()
		if !rec.State.IsTerminal() {
			rec.State = JobStateFailed
		}
	}
	return s.Write(rec)
}
