package jobregistry

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/livyctl/pkg/livy"
	"github.com/3leaps/livyctl/pkg/submission"
)

func intPtr(v int) *int { return &v }

func TestStore_WriteGetRoundTrip(t *testing.T) {
	root := t.TempDir()
	s := NewStore(root)

	now := time.Date(2026, 1, 19, 12, 0, 0, 0, time.UTC)
	rec := &JobRecord{
		JobID:        "job-1",
		Name:         "demo",
		State:        JobStateRunning,
		RawState:     "running",
		Cluster:      "spark-dev",
		ConnectURL:   "https://spark-dev.azurehdinsight.net/livy",
		ManifestPath: "/tmp/submit.yaml",
		BatchID:      intPtr(0),
		RemoteURI:    "s3://bucket/livyctl-uploads/abc/app.jar",
		CreatedAt:    now,
		StartedAt:    &now,
	}
	require.NoError(t, s.Write(rec))

	got, err := s.Get("job-1")
	require.NoError(t, err)
	assert.Equal(t, rec.JobID, got.JobID)
	assert.Equal(t, rec.State, got.State)
	assert.Equal(t, rec.Cluster, got.Cluster)
	require.True(t, got.HasBatch())
	assert.Equal(t, 0, *got.BatchID)
	assert.Equal(t, rec.RemoteURI, got.RemoteURI)

	_, err = os.Stat(filepath.Join(root, "job-1", "job.json"))
	assert.NoError(t, err)
}

func TestStore_ListSortsNewestFirst(t *testing.T) {
	s := NewStore(t.TempDir())

	t1 := time.Date(2026, 1, 19, 12, 0, 0, 0, time.UTC)
	t2 := time.Date(2026, 1, 19, 13, 0, 0, 0, time.UTC)

	require.NoError(t, s.Write(&JobRecord{JobID: "job-1", State: JobStateSuccess, Cluster: "a", CreatedAt: t1, StartedAt: &t1}))
	require.NoError(t, s.Write(&JobRecord{JobID: "job-2", State: JobStateSuccess, Cluster: "a", CreatedAt: t2, StartedAt: &t2}))

	got, err := s.List()
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "job-2", got[0].JobID)
}

func TestStore_GetErrors(t *testing.T) {
	s := NewStore(t.TempDir())

	_, err := s.Get(" ")
	assert.Error(t, err)

	_, err = s.Get("missing")
	assert.True(t, errors.Is(err, os.ErrNotExist))

	require.NoError(t, os.MkdirAll(s.JobDir("corrupt"), 0o755))
	require.NoError(t, os.WriteFile(s.JobPath("corrupt"), []byte("{"), 0o644))
	_, err = s.Get("corrupt")
	assert.ErrorContains(t, err, "parse job.json")
}

func TestStore_WriteRequiresID(t *testing.T) {
	s := NewStore(t.TempDir())
	assert.Error(t, s.Write(nil))
	assert.Error(t, s.Write(&JobRecord{}))
	assert.Error(t, NewStore("").Write(&JobRecord{JobID: "x"}))
}

func TestStore_DeadSubmitterMarkedUnknown(t *testing.T) {
	s := NewStore(t.TempDir())
	// PIDs this high are not allocated on any supported platform.
	require.NoError(t, s.Write(&JobRecord{JobID: "job-1", State: JobStateRunning, PID: 1 << 30}))

	got, err := s.Get("job-1")
	require.NoError(t, err)
	assert.Equal(t, JobStateUnknown, got.State)
}

func TestStore_TerminalRecordUntouched(t *testing.T) {
	s := NewStore(t.TempDir())
	require.NoError(t, s.Write(&JobRecord{JobID: "job-1", State: JobStateSuccess, PID: 1 << 30}))

	got, err := s.Get("job-1")
	require.NoError(t, err)
	assert.Equal(t, JobStateSuccess, got.State)
}

func TestStore_FindByBatch(t *testing.T) {
	s := NewStore(t.TempDir())
	t1 := time.Date(2026, 1, 19, 12, 0, 0, 0, time.UTC)
	require.NoError(t, s.Write(&JobRecord{JobID: "a", Cluster: "spark-dev", BatchID: intPtr(7), State: JobStateSuccess, CreatedAt: t1}))
	require.NoError(t, s.Write(&JobRecord{JobID: "b", Cluster: "spark-prod", BatchID: intPtr(7), State: JobStateSuccess, CreatedAt: t1}))

	got, err := s.FindByBatch("SPARK-DEV", 7)
	require.NoError(t, err)
	assert.Equal(t, "a", got.JobID)

	_, err = s.FindByBatch("spark-dev", 8)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestStateFromLivy(t *testing.T) {
	cases := map[livy.State]JobState{
		livy.StateWaiting:    JobStateSubmitted,
		livy.StateRunning:    JobStateRunning,
		livy.StateCancelling: JobStateRunning,
		livy.StateAvailable:  JobStateSuccess,
		livy.StateError:      JobStateFailed,
		livy.StateCancelled:  JobStateKilled,
		livy.StateUnknown:    JobStateUnknown,
	}
	for in, want := range cases {
		assert.Equal(t, want, StateFromLivy(in), in)
	}
	assert.True(t, JobStateKilled.IsTerminal())
	assert.False(t, JobStateSubmitted.IsTerminal())
}

func TestStore_ObserveAndFinish(t *testing.T) {
	s := NewStore(t.TempDir())
	rec := NewRecord("spark-dev", "pi", "")
	require.NoError(t, s.Write(rec))
	assert.Equal(t, JobStateQueued, rec.State)

	at := time.Date(2026, 1, 19, 12, 0, 0, 0, time.UTC)
	require.NoError(t, s.Observe(rec, submission.Event{Type: submission.EventSubmitted, BatchID: 0, Time: at}, "http://livy:8998"))
	require.True(t, rec.HasBatch())
	assert.Equal(t, 0, *rec.BatchID)
	assert.Equal(t, JobStateSubmitted, rec.State)
	assert.Equal(t, at, *rec.StartedAt)

	require.NoError(t, s.Observe(rec, submission.Event{Type: submission.EventStateChanged, State: livy.StateRunning, RawState: "running"}, ""))
	assert.Equal(t, JobStateRunning, rec.State)
	assert.Equal(t, "http://livy:8998", rec.ConnectURL)

	res := &submission.Result{Cluster: "spark-dev", State: livy.StateError, RawState: "dead", RemoteURI: "s3://b/app.jar", AppID: "application_1"}
	require.NoError(t, s.Finish(rec, res, nil))

	got, err := s.Get(rec.JobID)
	require.NoError(t, err)
	assert.Equal(t, JobStateFailed, got.State)
	assert.Equal(t, "dead", got.RawState)
	assert.Equal(t, "application_1", got.AppID)
	assert.NotNil(t, got.EndedAt)
}

func TestStore_FinishWithErrorBeforeSubmit(t *testing.T) {
	s := NewStore(t.TempDir())
	rec := NewRecord("spark-dev", "", "")

	require.NoError(t, s.Finish(rec, &submission.Result{Cluster: "spark-dev"}, errors.New("deploy: denied")))
	assert.Equal(t, JobStateFailed, rec.State)
	assert.Equal(t, "deploy: denied", rec.Error)
	assert.False(t, rec.HasBatch())
}
