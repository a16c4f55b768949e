package output

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/livyctl/pkg/cluster"
	"github.com/3leaps/livyctl/pkg/jobregistry"
	"github.com/3leaps/livyctl/pkg/livy"
	"github.com/3leaps/livyctl/pkg/submission"
)

func TestConsoleAndEvent(t *testing.T) {
	c := Console(submission.Line{Severity: submission.SeverityWarning, Stream: livy.LogStderr, Text: "warn"})
	assert.Equal(t, &ConsoleRecord{Severity: "warning", Stream: "stderr", Text: "warn"}, c)

	e := Event(submission.Event{Type: submission.EventStateChanged, BatchID: 3, State: livy.StateRunning, RawState: "running"})
	assert.Equal(t, &EventRecord{Event: "state_changed", BatchID: 3, State: "RUNNING", RawState: "running"}, e)
}

func TestSummary(t *testing.T) {
	id := 9
	res := &submission.Result{State: livy.StateAvailable, RawState: "success", RemoteURI: "s3://b/k", DeployAttempts: 2, AppID: "application_1"}
	sum := Summary(res, &id, 1500*time.Millisecond)

	assert.True(t, sum.Succeeded)
	assert.Equal(t, "AVAILABLE", sum.State)
	assert.Equal(t, 2, sum.DeployAttempts)
	assert.Equal(t, "1.5s", sum.DurationHuman)

	empty := Summary(nil, nil, time.Second)
	assert.False(t, empty.Succeeded)
	assert.Nil(t, empty.BatchID)
}

func TestCluster_DropsPassword(t *testing.T) {
	rec := Cluster(cluster.ClusterDetail{
		Name:          "spark-dev",
		ConnectionURL: "http://livy:8998",
		Origin:        cluster.OriginLinked,
		Username:      "admin",
		Password:      "hunter2",
	})
	assert.Equal(t, "spark-dev", rec.Title)

	data, err := json.Marshal(rec)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "hunter2")
}

func TestJob(t *testing.T) {
	id := 0
	rec := Job(jobregistry.JobRecord{JobID: "j1", State: jobregistry.JobStateKilled, BatchID: &id})
	assert.Equal(t, "killed", rec.State)
	require.NotNil(t, rec.BatchID)
	assert.Equal(t, 0, *rec.BatchID)
}

func TestBatch(t *testing.T) {
	b := Batch(livy.Batch{ID: 7, Name: "pi", AppID: "application_7", State: "dead"}, "job-7")
	assert.Equal(t, &BatchRecord{
		BatchID:  7,
		Name:     "pi",
		State:    "ERROR",
		RawState: "dead",
		AppID:    "application_7",
		JobID:    "job-7",
	}, b)

	assert.Equal(t, "UNKNOWN", Batch(livy.Batch{ID: 1, State: "mystery"}, "").State)
}
