package output

import (
	"time"

	"github.com/3leaps/livyctl/pkg/cluster"
	"github.com/3leaps/livyctl/pkg/jobregistry"
	"github.com/3leaps/livyctl/pkg/livy"
	"github.com/3leaps/livyctl/pkg/submission"
)

// Console converts a session console line.
func Console(l submission.Line) *ConsoleRecord {
	return &ConsoleRecord{Severity: string(l.Severity), Text: l.Text, Stream: string(l.Stream)}
}

// Event converts a session event.
func Event(e submission.Event) *EventRecord {
	return &EventRecord{Event: string(e.Type), BatchID: e.BatchID, State: string(e.State), RawState: e.RawState}
}

// Summary converts a submission result. batchID is nil when no batch was
// created.
func Summary(res *submission.Result, batchID *int, d time.Duration) *SummaryRecord {
	sum := &SummaryRecord{
		BatchID:       batchID,
		Duration:      d,
		DurationHuman: d.Round(time.Millisecond).String(),
	}
	if res == nil {
		return sum
	}
	sum.State = string(res.State)
	sum.RawState = res.RawState
	sum.Succeeded = res.Succeeded()
	sum.RemoteURI = res.RemoteURI
	sum.DeployAttempts = res.DeployAttempts
	sum.AppID = res.AppID
	sum.DriverLogURL = res.DriverLogURL
	sum.Diagnostics = res.Diagnostics
	return sum
}

// Cluster converts a registry entry, dropping the password.
func Cluster(c cluster.ClusterDetail) *ClusterRecord {
	return &ClusterRecord{
		Name:          c.Name,
		Title:         c.DisplayTitle(),
		Origin:        string(c.Origin),
		LinkKind:      string(c.LinkKind),
		State:         c.State,
		ConnectionURL: c.ConnectionURL,
		Username:      c.Username,
		StorageURI:    c.StorageURI,
		Subscription:  c.SubscriptionID,
		ResourceGroup: c.ResourceGroup,
		Location:      c.Location,
	}
}

// Job converts a job history entry.
func Job(r jobregistry.JobRecord) *JobRecord {
	return &JobRecord{
		JobID:     r.JobID,
		Name:      r.Name,
		State:     string(r.State),
		RawState:  r.RawState,
		BatchID:   r.BatchID,
		RemoteURI: r.RemoteURI,
		AppID:     r.AppID,
		Error:     r.Error,
		CreatedAt: r.CreatedAt,
		EndedAt:   r.EndedAt,
	}
}

// Batch converts a remote batch view. jobID is empty for batches this
// machine did not submit.
func Batch(b livy.Batch, jobID string) *BatchRecord {
	return &BatchRecord{
		BatchID:  b.ID,
		Name:     b.Name,
		State:    string(livy.ParseState(b.State)),
		RawState: b.State,
		AppID:    b.AppID,
		JobID:    jobID,
	}
}
