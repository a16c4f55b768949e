package submission

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/3leaps/livyctl/pkg/deploy"
	"github.com/3leaps/livyctl/pkg/livy"
	"github.com/3leaps/livyctl/pkg/logstream"
)

const (
	// DefaultBusyRetryDelay is the wait between log attach attempts while
	// the cluster has not started the job yet.
	DefaultBusyRetryDelay = 5 * time.Second

	// BusyMessage is the console line emitted before each attach retry.
	BusyMessage = "Job is waiting for start due to cluster busy..."

	// createGrace bounds a batch creation left running after Destroy.
	createGrace = 30 * time.Second
	// orphanKillTimeout bounds the kill of a batch accepted after Destroy.
	orphanKillTimeout = 30 * time.Second

	defaultBuffer = 256
	maxLineBytes  = 1 << 20
)

// ErrServiceUnavailable ends attach retries once the job is no longer
// waiting for cluster resources.
var ErrServiceUnavailable = errors.New("job service not available")

// ArtifactBuilder produces the local artifact to upload.
type ArtifactBuilder interface {
	Build(ctx context.Context, p Parameter) (localPath string, err error)
}

// BatchClient is the part of *livy.Client the pipeline uses.
type BatchClient interface {
	logstream.Fetcher
	Create(ctx context.Context, req *livy.BatchRequest) (*livy.BatchJobHandle, error)
	Kill(ctx context.Context, h *livy.BatchJobHandle)
	PollState(ctx context.Context, h *livy.BatchJobHandle) (livy.State, string, error)
	AwaitDone(ctx context.Context, h *livy.BatchJobHandle, onState func(livy.State, string)) (livy.State, string, error)
	SubmissionLog(ctx context.Context, h *livy.BatchJobHandle) ([]string, error)
}

// Recorder receives submission telemetry. pkg/metrics implements it.
type Recorder interface {
	Deployed(cluster string, attempts int, err error)
	Finished(cluster string, state livy.State, err error)
}

// Result is the outcome of a pipeline run.
type Result struct {
	Cluster        string
	BatchID        int
	RemoteURI      string
	DeployAttempts int
	State          livy.State
	RawState       string
	Diagnostics    string
	AppID          string
	DriverLogURL   string
}

// Succeeded reports whether the job ended AVAILABLE.
func (r *Result) Succeeded() bool {
	return r != nil && r.State.IsSuccess()
}

// Coordinator runs build, deploy, create, attach and poll for one
// submission at a time per Session. Collaborators are injected; only
// Client is required.
type Coordinator struct {
	Builder  ArtifactBuilder
	Deployer deploy.Deployer
	Target   deploy.Target
	Client   BatchClient

	// BusyRetryDelay is the fixed wait between attach attempts.
	BusyRetryDelay time.Duration

	// Sleep replaces the context-aware wait, for tests.
	Sleep func(ctx context.Context, d time.Duration) error

	// Log configures the stdout and stderr streams.
	Log logstream.Options

	Recorder Recorder
	Logger   *zap.Logger

	// Buffer is the capacity of the session channels.
	Buffer int
}

// Start launches the pipeline on its own goroutine. The caller must
// consume Events and Console until they close, or Disconnect.
func (c *Coordinator) Start(ctx context.Context, p Parameter) *Session {
	buffer := c.Buffer
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	s := newSession(ctx, c.Client, buffer)
	go func() {
		res, err := c.run(s, p)
		s.finish(res, err)
	}()
	return s
}

// Run executes the pipeline and blocks until it ends. Console lines are
// written to the coordinator logger.
func (c *Coordinator) Run(ctx context.Context, p Parameter) (*Result, error) {
	s := c.Start(ctx, p)
	logger := c.logger()
	events, console := s.Events(), s.Console()
	for events != nil || console != nil {
		select {
		case _, ok := <-events:
			if !ok {
				events = nil
			}
		case l, ok := <-console:
			if !ok {
				console = nil
				continue
			}
			switch l.Severity {
			case SeverityError:
				logger.Error(l.Text)
			case SeverityWarning:
				logger.Warn(l.Text)
			default:
				logger.Info(l.Text)
			}
		}
	}
	return s.Wait()
}

func (c *Coordinator) logger() *zap.Logger {
	if c.Logger == nil {
		return zap.NewNop()
	}
	return c.Logger
}

// create posts the batch. Disconnect cancels the request; Destroy lets it
// finish so the accepted batch gets a handle and can be killed.
func (c *Coordinator) create(s *Session, req *livy.BatchRequest) (*livy.BatchJobHandle, error) {
	ctx, cancel := context.WithCancel(context.WithoutCancel(s.ctx))
	defer cancel()
	stop := context.AfterFunc(s.ctx, func() {
		if !s.destroying() {
			cancel()
			return
		}
		time.AfterFunc(createGrace, cancel)
	})
	defer stop()
	return c.Client.Create(ctx, req)
}

func (c *Coordinator) sleep(ctx context.Context, d time.Duration) error {
	if c.Sleep != nil {
		return c.Sleep(ctx, d)
	}
	return livy.SleepContext(ctx, d)
}

func (c *Coordinator) busyDelay() time.Duration {
	if c.BusyRetryDelay > 0 {
		return c.BusyRetryDelay
	}
	return DefaultBusyRetryDelay
}

func (c *Coordinator) run(s *Session, p Parameter) (*Result, error) {
	res := &Result{Cluster: p.ClusterName()}
	fail := func(step string, err error) (*Result, error) {
		if s.ctx.Err() == nil {
			s.errorLine(fmt.Sprintf("Failed to %s: %v", step, err))
		}
		c.recordFinished(res, err)
		return res, fmt.Errorf("%s: %w", step, err)
	}

	if p.FilePath() == "" {
		local := p.Artifact()
		if c.Builder != nil {
			s.infoLine("Building artifact...")
			built, err := c.Builder.Build(s.ctx, p)
			if err != nil {
				return fail("build artifact", err)
			}
			local = built
			s.infoLine("Artifact built: " + local)
		}
		if c.Deployer == nil {
			return fail("deploy artifact", errors.New("no artifact store configured"))
		}

		s.infoLine(fmt.Sprintf("Uploading %s...", filepath.Base(local)))
		uri, attempts, err := c.Deployer.Upload(s.ctx, local, c.Target)
		res.DeployAttempts = attempts
		if c.Recorder != nil {
			c.Recorder.Deployed(p.ClusterName(), attempts, err)
		}
		if err != nil {
			return fail("deploy artifact", err)
		}
		p = p.WithFilePath(uri)
		res.RemoteURI = uri
		s.infoLine("Artifact uploaded to " + uri)
	} else {
		res.RemoteURI = p.FilePath()
	}

	req, err := p.ToBatchRequest()
	if err != nil {
		return fail("create batch", err)
	}
	h, err := c.create(s, req)
	if h != nil && !s.adopt(h) {
		return fail("create batch", context.Canceled)
	}
	if err != nil {
		return fail("create batch", err)
	}
	res.BatchID = h.ID
	st, raw := h.State()
	s.infoLine(fmt.Sprintf("Batch %d submitted to cluster %s", h.ID, p.ClusterName()))
	s.emit(Event{Type: EventSubmitted, BatchID: h.ID, State: st, RawState: raw})

	if lines, err := c.Client.SubmissionLog(s.ctx, h); err == nil {
		for _, l := range lines {
			s.infoLine(l)
		}
	} else {
		c.logger().Debug("Submission log unavailable", zap.Int("batch_id", h.ID), zap.Error(err))
	}

	stdout, err := c.attach(s, h, livy.LogStdout)
	if err != nil {
		return fail("attach job output", err)
	}
	stderr, err := c.attach(s, h, livy.LogStderr)
	if err != nil {
		_ = stdout.Close()
		return fail("attach job output", err)
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go c.pump(s, &wg, stdout, SeverityInfo)
	go c.pump(s, &wg, stderr, SeverityWarning)

	lastRaw := raw
	st, diag, err := c.Client.AwaitDone(s.ctx, h, func(st livy.State, raw string) {
		lastRaw = raw
		s.emit(Event{Type: EventStateChanged, BatchID: h.ID, State: st, RawState: raw})
	})
	if err != nil {
		_ = stdout.Close()
		_ = stderr.Close()
		wg.Wait()
		return fail("poll job state", err)
	}
	stdout.MarkDone()
	stderr.MarkDone()
	wg.Wait()

	raw = lastRaw
	res.State = st
	res.RawState = raw
	res.Diagnostics = diag
	res.AppID = h.AppID()
	res.DriverLogURL = h.AppInfo()[livy.AppInfoDriverLogURL]

	s.emit(Event{Type: EventFinished, BatchID: h.ID, State: st, RawState: raw})
	if st.IsSuccess() {
		s.infoLine("Job run successfully.")
	} else {
		s.errorLine("Job state is " + raw)
		for _, l := range strings.Split(diag, "\n") {
			if strings.TrimSpace(l) != "" {
				s.errorLine(l)
			}
		}
	}
	c.recordFinished(res, nil)
	return res, nil
}

// attach opens a log stream, retrying every BusyRetryDelay for as long as
// the job's raw state is busy. There is no attempt limit.
func (c *Coordinator) attach(s *Session, h *livy.BatchJobHandle, typ livy.LogType) (*logstream.Stream, error) {
	opts := c.Log
	if opts.Logger == nil {
		opts.Logger = c.logger()
	}
	for {
		stream, err := logstream.Attach(s.ctx, c.Client, h, typ, opts)
		if err == nil {
			return stream, nil
		}
		if s.ctx.Err() != nil {
			return nil, s.ctx.Err()
		}

		_, raw, perr := c.Client.PollState(s.ctx, h)
		if perr != nil {
			return nil, fmt.Errorf("%w: %w", ErrServiceUnavailable, perr)
		}
		if !livy.IsBusy(raw) {
			return nil, fmt.Errorf("%w: %w", ErrServiceUnavailable, err)
		}

		s.infoLine(BusyMessage)
		if err := c.sleep(s.ctx, c.busyDelay()); err != nil {
			return nil, err
		}
	}
}

func (c *Coordinator) pump(s *Session, wg *sync.WaitGroup, stream *logstream.Stream, sev Severity) {
	defer wg.Done()
	typ := stream.Cursor().Stream
	sc := bufio.NewScanner(stream)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	for sc.Scan() {
		s.line(sev, typ, sc.Text())
	}
	if err := sc.Err(); err != nil && !errors.Is(err, logstream.ErrClosed) && s.ctx.Err() == nil {
		s.warnLine(fmt.Sprintf("Stopped reading %s: %v", typ, err))
	}
}

func (c *Coordinator) recordFinished(res *Result, err error) {
	if c.Recorder == nil {
		return
	}
	c.Recorder.Finished(res.Cluster, res.State, err)
}
