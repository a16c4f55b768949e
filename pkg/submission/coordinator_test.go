package submission

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/livyctl/pkg/deploy"
	"github.com/3leaps/livyctl/pkg/livy"
	"github.com/3leaps/livyctl/pkg/logstream"
)

type fakeClient struct {
	mu sync.Mutex

	createErr error
	created   *livy.BatchRequest
	// creating is closed when Create starts; Create then waits for
	// releaseCreate or its context.
	creating      chan struct{}
	releaseCreate chan struct{}
	createCtxErr  error

	// attachErrs fails that many stdout fetches with not-found.
	attachErrs int
	pollStates []string
	polls      int
	fetches    int
	kills      int

	logs          map[livy.LogType]string
	submissionLog []string

	// awaitStates are reported in order; the last one is returned.
	awaitStates []string
	diagnostics string
	awaitErr    error
	blockAwait  bool
	polling     chan struct{}
}

func (f *fakeClient) Create(ctx context.Context, req *livy.BatchRequest) (*livy.BatchJobHandle, error) {
	if f.creating != nil {
		close(f.creating)
		select {
		case <-f.releaseCreate:
		case <-ctx.Done():
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.createCtxErr = ctx.Err()
	if f.createCtxErr != nil {
		return nil, f.createCtxErr
	}
	if f.createErr != nil {
		return nil, f.createErr
	}
	f.created = req
	return livy.NewHandle(7, "http://livy", livy.RetryPolicy{RetriesMax: 1, Delay: time.Millisecond}), nil
}

func (f *fakeClient) Kill(context.Context, *livy.BatchJobHandle) {
	f.mu.Lock()
	f.kills++
	f.mu.Unlock()
}

func (f *fakeClient) PollState(context.Context, *livy.BatchJobHandle) (livy.State, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.polls++
	raw := "dead"
	if len(f.pollStates) > 0 {
		raw = f.pollStates[0]
		f.pollStates = f.pollStates[1:]
	}
	return livy.ParseState(raw), raw, nil
}

func (f *fakeClient) FetchLog(ctx context.Context, _ *livy.BatchJobHandle, stream livy.LogType, offset int64, size int) (string, int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetches++
	if err := ctx.Err(); err != nil {
		return "", offset, err
	}
	if stream == livy.LogStdout && f.attachErrs > 0 {
		f.attachErrs--
		return "", offset, &livy.Error{Op: "FetchLog", Kind: livy.ErrNotFound, StatusCode: 404}
	}
	data := f.logs[stream]
	if offset >= int64(len(data)) {
		return "", offset, nil
	}
	end := min(offset+int64(size), int64(len(data)))
	return data[offset:end], end, nil
}

func (f *fakeClient) SubmissionLog(context.Context, *livy.BatchJobHandle) ([]string, error) {
	return f.submissionLog, nil
}

func (f *fakeClient) AwaitDone(ctx context.Context, _ *livy.BatchJobHandle, onState func(livy.State, string)) (livy.State, string, error) {
	if f.blockAwait {
		onState(livy.StateRunning, "running")
		close(f.polling)
		<-ctx.Done()
		return livy.StateUnknown, "", ctx.Err()
	}
	if f.awaitErr != nil {
		return livy.StateUnknown, "", f.awaitErr
	}
	st := livy.StateUnknown
	for _, raw := range f.awaitStates {
		st = livy.ParseState(raw)
		onState(st, raw)
	}
	return st, f.diagnostics, nil
}

func (f *fakeClient) counts() (polls, fetches, kills int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.polls, f.fetches, f.kills
}

type fakeDeployer struct {
	uri      string
	attempts int
	err      error
	local    string
}

func (d *fakeDeployer) Upload(_ context.Context, localPath string, _ deploy.Target) (string, int, error) {
	d.local = localPath
	return d.uri, d.attempts, d.err
}

type fakeBuilder struct {
	path string
	err  error
}

func (b fakeBuilder) Build(context.Context, Parameter) (string, error) { return b.path, b.err }

type fakeRecorder struct {
	mu       sync.Mutex
	deployed []int
	finished []livy.State
}

func (r *fakeRecorder) Deployed(_ string, attempts int, _ error) {
	r.mu.Lock()
	r.deployed = append(r.deployed, attempts)
	r.mu.Unlock()
}

func (r *fakeRecorder) Finished(_ string, st livy.State, _ error) {
	r.mu.Lock()
	r.finished = append(r.finished, st)
	r.mu.Unlock()
}

func newCoordinator(c *fakeClient) *Coordinator {
	return &Coordinator{
		Client:   c,
		Deployer: &fakeDeployer{uri: "wasbs://jobs@acct.blob.core.windows.net/livyctl-uploads/u1/app.jar", attempts: 1},
		Sleep:    func(ctx context.Context, _ time.Duration) error { return ctx.Err() },
		Log:      logstream.Options{PollInterval: time.Millisecond},
	}
}

func jarParameter(t *testing.T) Parameter {
	t.Helper()
	p, err := NewParameter(Spec{ClusterName: "spark-dev", Artifact: "/tmp/app.jar", ClassName: "com.example.Main"})
	require.NoError(t, err)
	return p
}

func drain(s *Session) ([]Event, []Line) {
	var events []Event
	var lines []Line
	ev, con := s.Events(), s.Console()
	for ev != nil || con != nil {
		select {
		case e, ok := <-ev:
			if !ok {
				ev = nil
				continue
			}
			events = append(events, e)
		case l, ok := <-con:
			if !ok {
				con = nil
				continue
			}
			lines = append(lines, l)
		}
	}
	return events, lines
}

func texts(lines []Line, sev Severity) []string {
	var out []string
	for _, l := range lines {
		if l.Severity == sev {
			out = append(out, l.Text)
		}
	}
	return out
}

func eventTypes(events []Event) []EventType {
	out := make([]EventType, 0, len(events))
	for _, e := range events {
		out = append(out, e.Type)
	}
	return out
}

func TestCoordinator_SuccessfulRun(t *testing.T) {
	c := &fakeClient{
		logs: map[livy.LogType]string{
			livy.LogStdout: "pi is roughly 3.14\nbye\n",
			livy.LogStderr: "INFO SparkContext: Running Spark\n",
		},
		submissionLog: []string{"stdout: ", "spark-submit accepted"},
		awaitStates:   []string{"starting", "running", "success"},
	}
	rec := &fakeRecorder{}
	co := newCoordinator(c)
	co.Recorder = rec

	s := co.Start(context.Background(), jarParameter(t))
	events, lines := drain(s)
	res, err := s.Wait()
	require.NoError(t, err)

	assert.True(t, res.Succeeded())
	assert.Equal(t, 7, res.BatchID)
	assert.Equal(t, "success", res.RawState)
	assert.Equal(t, "spark-dev", res.Cluster)
	assert.Equal(t, 1, res.DeployAttempts)
	assert.Equal(t, "wasbs://jobs@acct.blob.core.windows.net/livyctl-uploads/u1/app.jar", res.RemoteURI)

	require.NotNil(t, c.created)
	assert.Equal(t, res.RemoteURI, c.created.File)
	assert.Equal(t, "com.example.Main", c.created.ClassName)

	assert.Equal(t, []EventType{EventSubmitted, EventStateChanged, EventStateChanged, EventStateChanged, EventFinished}, eventTypes(events))
	assert.Equal(t, "success", events[len(events)-1].RawState)

	info := texts(lines, SeverityInfo)
	assert.Contains(t, info, "pi is roughly 3.14")
	assert.Contains(t, info, "bye")
	assert.Contains(t, info, "spark-submit accepted")
	assert.Equal(t, "Job run successfully.", info[len(info)-1])
	assert.Equal(t, []string{"INFO SparkContext: Running Spark"}, texts(lines, SeverityWarning))
	assert.Empty(t, texts(lines, SeverityError))

	assert.Equal(t, []int{1}, rec.deployed)
	assert.Equal(t, []livy.State{livy.StateAvailable}, rec.finished)
}

func TestCoordinator_FailedJobReportsDiagnostics(t *testing.T) {
	c := &fakeClient{
		awaitStates: []string{"running", "dead"},
		diagnostics: "Exception in thread main\njava.lang.ClassNotFoundException: com.example.Main",
	}
	res, err := newCoordinator(c).Run(context.Background(), jarParameter(t))
	require.NoError(t, err)
	assert.False(t, res.Succeeded())
	assert.Equal(t, livy.StateError, res.State)
	assert.Equal(t, "dead", res.RawState)
	assert.Contains(t, res.Diagnostics, "ClassNotFoundException")
}

func TestCoordinator_FailedJobConsoleLines(t *testing.T) {
	c := &fakeClient{
		awaitStates: []string{"dead"},
		diagnostics: "line one\n\nline two",
	}
	s := newCoordinator(c).Start(context.Background(), jarParameter(t))
	_, lines := drain(s)
	_, err := s.Wait()
	require.NoError(t, err)
	assert.Equal(t, []string{"Job state is dead", "line one", "line two"}, texts(lines, SeverityError))
}

func TestCoordinator_BusyClusterRetriesAttach(t *testing.T) {
	c := &fakeClient{
		attachErrs:  3,
		pollStates:  []string{"starting", "not_started", "running"},
		awaitStates: []string{"success"},
	}
	var mu sync.Mutex
	var delays []time.Duration
	co := newCoordinator(c)
	co.Sleep = func(ctx context.Context, d time.Duration) error {
		mu.Lock()
		delays = append(delays, d)
		mu.Unlock()
		return ctx.Err()
	}

	s := co.Start(context.Background(), jarParameter(t))
	_, lines := drain(s)
	res, err := s.Wait()
	require.NoError(t, err)
	assert.True(t, res.Succeeded())

	assert.Equal(t, []time.Duration{DefaultBusyRetryDelay, DefaultBusyRetryDelay, DefaultBusyRetryDelay}, delays)
	polls, _, _ := c.counts()
	assert.Equal(t, 3, polls)

	busy := 0
	for _, l := range texts(lines, SeverityInfo) {
		if l == BusyMessage {
			busy++
		}
	}
	assert.Equal(t, 3, busy)
}

func TestCoordinator_AttachFailsWhenJobNotBusy(t *testing.T) {
	c := &fakeClient{attachErrs: 100, pollStates: []string{"starting", "dead"}}
	co := newCoordinator(c)
	co.BusyRetryDelay = time.Second

	_, err := co.Run(context.Background(), jarParameter(t))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrServiceUnavailable)
	assert.True(t, livy.IsNotFound(err))

	polls, _, _ := c.counts()
	assert.Equal(t, 2, polls)
}

func TestCoordinator_DisconnectWhilePolling(t *testing.T) {
	c := &fakeClient{
		blockAwait: true,
		polling:    make(chan struct{}),
		logs:       map[livy.LogType]string{livy.LogStdout: "started\n"},
	}
	s := newCoordinator(c).Start(context.Background(), jarParameter(t))

	go func() {
		<-c.polling
		s.Disconnect()
	}()
	events, _ := drain(s)
	<-s.Done()

	assert.Equal(t, EventSubmitted, events[0].Type)
	assert.True(t, s.IsDisconnected())
	res, err := s.Wait()
	assert.Nil(t, res)
	assert.ErrorIs(t, err, ErrDisconnected)

	_, before, kills := c.counts()
	time.Sleep(20 * time.Millisecond)
	_, after, _ := c.counts()
	assert.Equal(t, before, after, "no fetches after disconnect")
	assert.Zero(t, kills)

	// Idempotent.
	s.Disconnect()
	s.Destroy(context.Background())
	_, _, kills = c.counts()
	assert.Zero(t, kills)
}

func TestCoordinator_DestroyKillsBatch(t *testing.T) {
	c := &fakeClient{blockAwait: true, polling: make(chan struct{})}
	s := newCoordinator(c).Start(context.Background(), jarParameter(t))

	go func() {
		<-c.polling
		s.Destroy(context.Background())
	}()
	drain(s)
	_, err := s.Wait()
	assert.ErrorIs(t, err, ErrDisconnected)
	_, _, kills := c.counts()
	assert.Equal(t, 1, kills)
}

func TestCoordinator_DestroyDuringCreateKillsAcceptedBatch(t *testing.T) {
	c := &fakeClient{creating: make(chan struct{}), releaseCreate: make(chan struct{})}
	s := newCoordinator(c).Start(context.Background(), jarParameter(t))

	<-c.creating
	s.Destroy(context.Background())
	_, _, kills := c.counts()
	assert.Zero(t, kills, "no handle yet")

	close(c.releaseCreate)
	events, _ := drain(s)
	<-s.Done()

	_, err := s.Wait()
	assert.ErrorIs(t, err, ErrDisconnected)
	assert.Empty(t, events)
	c.mu.Lock()
	assert.NoError(t, c.createCtxErr, "creation outlives Destroy")
	c.mu.Unlock()
	polls, _, kills := c.counts()
	assert.Equal(t, 1, kills)
	assert.Zero(t, polls)
	require.NotNil(t, s.Handle())
	assert.Equal(t, 7, s.Handle().ID)
}

func TestCoordinator_DisconnectDuringCreateCancelsIt(t *testing.T) {
	c := &fakeClient{creating: make(chan struct{}), releaseCreate: make(chan struct{})}
	s := newCoordinator(c).Start(context.Background(), jarParameter(t))

	<-c.creating
	s.Disconnect()
	<-s.Done()

	c.mu.Lock()
	assert.ErrorIs(t, c.createCtxErr, context.Canceled)
	c.mu.Unlock()
	_, _, kills := c.counts()
	assert.Zero(t, kills)
	assert.Nil(t, s.Handle())
}

func TestCoordinator_CreateFailure(t *testing.T) {
	c := &fakeClient{createErr: &livy.Error{Op: "Create", Kind: livy.ErrSubmission, StatusCode: 400}}
	s := newCoordinator(c).Start(context.Background(), jarParameter(t))
	events, lines := drain(s)
	_, err := s.Wait()

	require.Error(t, err)
	assert.True(t, livy.IsSubmission(err))
	assert.Empty(t, events)
	errs := texts(lines, SeverityError)
	require.Len(t, errs, 1)
	assert.True(t, strings.HasPrefix(errs[0], "Failed to create batch"))
}

func TestCoordinator_BuildAndDeployFailures(t *testing.T) {
	boom := errors.New("boom")

	t.Run("build", func(t *testing.T) {
		c := &fakeClient{}
		co := newCoordinator(c)
		co.Builder = fakeBuilder{err: boom}
		_, err := co.Run(context.Background(), jarParameter(t))
		assert.ErrorIs(t, err, boom)
		assert.Nil(t, c.created)
	})

	t.Run("deploy", func(t *testing.T) {
		c := &fakeClient{}
		co := newCoordinator(c)
		d := &fakeDeployer{attempts: 3, err: boom}
		co.Deployer = d
		co.Builder = fakeBuilder{path: "/work/target/app-1.0.jar"}
		res, err := co.Run(context.Background(), jarParameter(t))
		assert.ErrorIs(t, err, boom)
		assert.Equal(t, 3, res.DeployAttempts)
		assert.Equal(t, "/work/target/app-1.0.jar", d.local)
		assert.Nil(t, c.created)
	})

	t.Run("no store", func(t *testing.T) {
		co := newCoordinator(&fakeClient{})
		co.Deployer = nil
		_, err := co.Run(context.Background(), jarParameter(t))
		assert.ErrorContains(t, err, "no artifact store configured")
	})
}

func TestCoordinator_RemoteFileSkipsDeploy(t *testing.T) {
	c := &fakeClient{awaitStates: []string{"success"}}
	co := newCoordinator(c)
	d := &fakeDeployer{err: errors.New("must not upload")}
	co.Deployer = d

	p, err := NewParameter(Spec{ClusterName: "spark-dev", FilePath: "abfs://jobs/app.jar"})
	require.NoError(t, err)
	res, err := co.Run(context.Background(), p)
	require.NoError(t, err)
	assert.Equal(t, "abfs://jobs/app.jar", c.created.File)
	assert.Equal(t, 0, res.DeployAttempts)
	assert.Empty(t, d.local)
}

func TestCoordinator_PollFailure(t *testing.T) {
	netErr := &livy.Error{Op: "PollState", Kind: livy.ErrNetwork}
	c := &fakeClient{awaitErr: netErr}
	_, err := newCoordinator(c).Run(context.Background(), jarParameter(t))
	require.Error(t, err)
	assert.True(t, livy.IsNetwork(err))
}
