package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/livyctl/internal/config"
	"github.com/3leaps/livyctl/internal/observability"
	"github.com/3leaps/livyctl/pkg/artifact"
	"github.com/3leaps/livyctl/pkg/deploy"
	"github.com/3leaps/livyctl/pkg/jobregistry"
	"github.com/3leaps/livyctl/pkg/livy"
	"github.com/3leaps/livyctl/pkg/logstream"
	"github.com/3leaps/livyctl/pkg/manifest"
	"github.com/3leaps/livyctl/pkg/metrics"
	"github.com/3leaps/livyctl/pkg/output"
	"github.com/3leaps/livyctl/pkg/submission"
)

var submitCmd = newSubmitCommand()

const managedJobFlagName = "_managed-job-id"

var managedHeartbeatInterval = 30 * time.Second

func newSubmitCommand() *cobra.Command {
	c := &cobra.Command{
		Use:   "submit",
		Short: "Submit a Spark batch job and stream its output",
		Long: `Submit a Spark batch job described by a manifest.

The submission pipeline:
1. Builds the local artifact (artifact.build) and resolves artifact.path
2. Uploads it to the cluster's artifact store with bounded retries
3. Creates the Livy batch
4. Streams driver stdout and stderr until the job ends

Manifests that set 'file' point at an uploaded artifact and skip steps 1-2.

Interrupting a foreground submission kills the remote batch unless
--keep-on-interrupt is set.

Examples:
  livyctl submit --manifest submit.yaml
  livyctl submit --manifest submit.yaml --cluster spark-prod --output jsonl
  livyctl submit --manifest submit.yaml --detach`,
		RunE: runSubmit,
	}

	c.Flags().StringP("manifest", "m", "", "Path to submission manifest (required)")
	_ = c.MarkFlagRequired("manifest")
	c.Flags().String("cluster", "", "Override the manifest's cluster")
	c.Flags().String("name", "", "Override the batch name")
	c.Flags().String("output", "text", "Output format: text or jsonl")
	c.Flags().Bool("detach", false, "Run the submission in the background and print its job id")
	c.Flags().Bool("dedupe", false, "With --detach, refuse to start while another job for the manifest is active")
	c.Flags().Bool("keep-on-interrupt", false, "Leave the remote batch running when interrupted")
	c.Flags().String("metrics-textfile", "", "Write submission metrics to this file in Prometheus text format")

	c.Flags().String(managedJobFlagName, "", "")
	_ = c.Flags().MarkHidden(managedJobFlagName)
	return c
}

func init() {
	rootCmd.AddCommand(submitCmd)
}

func runSubmit(cmd *cobra.Command, _ []string) error {
	ctx := commandContext(cmd)
	manifestPath := flagString(cmd, "manifest")
	clusterOverride := flagString(cmd, "cluster")
	nameOverride := flagString(cmd, "name")
	format := strings.ToLower(flagString(cmd, "output"))
	if format != "text" && format != "jsonl" {
		return exitError(foundry.ExitInvalidArgument, "Invalid --output value", fmt.Errorf("expected text or jsonl, got %q", format))
	}

	if detach, _ := cmd.Flags().GetBool("detach"); detach {
		return runSubmitDetached(cmd, manifestPath, clusterOverride, nameOverride)
	}

	cfg, err := currentConfig(ctx)
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid configuration", err)
	}

	if _, err := os.Stat(manifestPath); errors.Is(err, os.ErrNotExist) {
		return exitError(foundry.ExitFileNotFound, "Manifest not found", err)
	}
	m, err := manifest.Load(manifestPath)
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid manifest", err)
	}
	spec := m.ToSpec(clusterOverride)
	if nameOverride != "" {
		spec.Name = nameOverride
	}
	param, err := submission.NewParameter(spec)
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid submission", err)
	}

	reg, closeReg, err := openRegistry(ctx)
	if err != nil {
		return exitError(foundry.ExitFileReadError, "Failed to open cluster registry", err)
	}
	target, err := resolveCluster(ctx, reg, param.ClusterName())
	closeReg()
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Unknown cluster", err)
	}

	client, err := newLivyClient(target, cfg)
	if err != nil {
		return exitError(foundry.ExitExternalServiceUnavailable, "Failed to create Livy client", err)
	}

	recorder := metrics.NewSubmissionMetrics(cfg.Metrics.Prefix)
	promReg := prometheus.NewRegistry()
	if err := recorder.Register(promReg); err != nil {
		return err
	}

	coord := &submission.Coordinator{
		Client:         client,
		BusyRetryDelay: cfg.Submission.BusyRetryDelay,
		Log: logstream.Options{
			ChunkSize:    cfg.Livy.LogChunkSize,
			PollInterval: cfg.Livy.LogPollInterval,
		},
		Recorder: recorder,
		Logger:   observability.CLILogger,
	}
	if m.NeedsDeploy() {
		if err := configureDeploy(ctx, coord, m, cfg, target.StorageURI); err != nil {
			return exitError(foundry.ExitExternalServiceUnavailable, "Failed to open artifact store", err)
		}
	}

	tracker, err := openTracker(cmd, target.Name, spec.Name, manifestPath)
	if err != nil {
		return err
	}

	var w output.Writer
	if format == "jsonl" {
		jw := output.NewJSONLWriter(os.Stdout, tracker.jobID(), target.Name)
		defer func() { _ = jw.Close() }()
		w = jw
	}

	keep, _ := cmd.Flags().GetBool("keep-on-interrupt")
	sigCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	start := time.Now()
	stopHeartbeat := tracker.startHeartbeat(sigCtx)
	session := coord.Start(ctx, param)
	interrupted := consumeSession(sigCtx, session, w, tracker, target.ConnectionURL, keep)
	res, runErr := session.Wait()
	stopHeartbeat()

	if textfile := flagString(cmd, "metrics-textfile"); textfile != "" {
		if err := prometheus.WriteToTextfile(textfile, promReg); err != nil {
			observability.CLILogger.Warn("Failed to write metrics textfile", zap.Error(err))
		}
	}

	if interrupted {
		tracker.finish(res, context.Canceled)
		if w != nil {
			_ = w.WriteError(ctx, &output.ErrorRecord{Code: output.ErrCodeTimeout, Message: "submission interrupted"})
		}
		return exitError(foundry.ExitSignalInt, "Submission interrupted", context.Canceled)
	}

	tracker.finish(res, runErr)
	if w != nil {
		if runErr != nil {
			_ = w.WriteError(ctx, errorRecord(runErr))
		}
		_ = w.WriteSummary(ctx, output.Summary(res, tracker.batchID(), time.Since(start)))
	} else {
		printSummary(res, runErr, time.Since(start))
	}

	switch {
	case runErr != nil:
		return exitError(submitExitCode(runErr), "Submission failed", runErr)
	case !res.Succeeded():
		return exitError(1, "Job did not succeed", fmt.Errorf("batch %d ended in state %s", res.BatchID, res.RawState))
	}
	return nil
}

func configureDeploy(ctx context.Context, coord *submission.Coordinator, m *manifest.Manifest, cfg *config.Config, storageURI string) error {
	store, prefix, err := artifactStore(ctx, cfg.Deploy, storageURI)
	if err != nil {
		return err
	}
	attempts := m.Deploy.Attempts
	if attempts <= 0 {
		attempts = cfg.Deploy.Attempts
	}
	folder := m.Deploy.Folder
	if (folder == "" || folder == deploy.DefaultFolder) && cfg.Deploy.Folder != "" {
		folder = cfg.Deploy.Folder
	}

	coord.Builder = &artifact.Builder{
		Command: m.Artifact.Build,
		WorkDir: m.Artifact.WorkDir,
		Output:  os.Stderr,
		Logger:  observability.CLILogger,
	}
	coord.Deployer = &deploy.Retrying{
		Next:     deploy.NewStoreDeployer(store, observability.CLILogger),
		Attempts: attempts,
		Delay:    cfg.Deploy.Delay,
		Logger:   observability.CLILogger,
	}
	coord.Target = deploy.Target{Folder: joinFolder(prefix, folder)}
	return nil
}

// consumeSession drains the session until it completes. It reports whether
// the submission was interrupted by a signal.
func consumeSession(ctx context.Context, s *submission.Session, w output.Writer, t *jobTracker, connectURL string, keep bool) bool {
	events, console := s.Events(), s.Console()
	interrupt := ctx.Done()
	interrupted := false
	bg := context.Background()
	for events != nil || console != nil {
		select {
		case <-interrupt:
			interrupt = nil
			interrupted = true
			if keep {
				observability.CLILogger.Warn("Interrupted; leaving the batch running")
				s.Disconnect()
			} else {
				observability.CLILogger.Warn("Interrupted; killing the batch")
				killCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
				s.Destroy(killCtx)
				cancel()
			}
		case e, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			t.observe(e, connectURL)
			if w != nil {
				_ = w.WriteEvent(bg, output.Event(e))
			}
		case l, ok := <-console:
			if !ok {
				console = nil
				continue
			}
			if w != nil {
				_ = w.WriteConsole(bg, output.Console(l))
				continue
			}
			printLine(l)
		}
	}
	return interrupted
}

func printLine(l submission.Line) {
	switch {
	case l.Stream == livy.LogStdout:
		_, _ = fmt.Fprintln(os.Stdout, l.Text)
	case l.Stream == livy.LogStderr:
		_, _ = fmt.Fprintln(os.Stderr, l.Text)
	case l.Severity == submission.SeverityError:
		observability.CLILogger.Error(l.Text)
	case l.Severity == submission.SeverityWarning:
		observability.CLILogger.Warn(l.Text)
	default:
		observability.CLILogger.Info(l.Text)
	}
}

func printSummary(res *submission.Result, err error, d time.Duration) {
	fields := []zap.Field{zap.Duration("duration", d.Round(time.Millisecond))}
	if res != nil {
		fields = append(fields, zap.Int("batch_id", res.BatchID), zap.String("state", res.RawState))
		if res.AppID != "" {
			fields = append(fields, zap.String("app_id", res.AppID))
		}
		if res.DriverLogURL != "" {
			fields = append(fields, zap.String("driver_log_url", res.DriverLogURL))
		}
	}
	if err != nil {
		observability.CLILogger.Error("Submission failed", append(fields, zap.Error(err))...)
		return
	}
	observability.CLILogger.Info("Submission finished", fields...)
}

func errorRecord(err error) *output.ErrorRecord {
	rec := &output.ErrorRecord{Message: err.Error()}
	if step, _, ok := strings.Cut(err.Error(), ": "); ok {
		rec.Step = step
	}
	switch {
	case livy.IsAuth(err):
		rec.Code = output.ErrCodeAccessDenied
	case livy.IsSubmission(err):
		rec.Code = output.ErrCodeSubmission
	case errors.Is(err, submission.ErrServiceUnavailable), livy.IsNetwork(err):
		rec.Code = output.ErrCodeServiceUnavailable
	case livy.IsNotFound(err):
		rec.Code = output.ErrCodeNotFound
	case livy.IsCanceled(err):
		rec.Code = output.ErrCodeTimeout
	default:
		rec.Code = output.ErrCodeInternal
	}
	return rec
}

func submitExitCode(err error) int {
	var local *deploy.LocalFileError
	switch {
	case errors.As(err, &local):
		return foundry.ExitFileNotFound
	case livy.IsSubmission(err):
		return foundry.ExitInvalidArgument
	case livy.IsAuth(err), livy.IsNetwork(err), errors.Is(err, submission.ErrServiceUnavailable):
		return foundry.ExitExternalServiceUnavailable
	case livy.IsCanceled(err):
		return foundry.ExitSignalInt
	}
	return 1
}

func runSubmitDetached(cmd *cobra.Command, manifestPath, clusterOverride, name string) error {
	root, err := jobsRootDir()
	if err != nil {
		return err
	}
	dedupe, _ := cmd.Flags().GetBool("dedupe")
	exec := jobregistry.NewExecutor(root)
	rec, err := exec.StartSubmitBackground(manifestPath, name, jobregistry.BackgroundOptions{
		Cluster: clusterOverride,
		Dedupe:  dedupe,
		Args:    detachedArgs(),
	})
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Failed to start background submission", err)
	}
	_, _ = fmt.Fprintf(os.Stdout, "job_id=%s\n", rec.JobID)
	_, _ = fmt.Fprintf(os.Stdout, "stdout=%s\n", rec.StdoutPath)
	_, _ = fmt.Fprintf(os.Stdout, "stderr=%s\n", rec.StderrPath)
	return nil
}

// detachedArgs forwards the persistent flags to the child process.
func detachedArgs() []string {
	var args []string
	if cfgFile != "" {
		args = append(args, "--config", cfgFile)
	}
	if dataDir != "" {
		args = append(args, "--data-dir", dataDir)
	}
	if verbose {
		args = append(args, "--verbose")
	}
	return args
}

// jobTracker serializes job record updates from the session loop and the
// heartbeat.
type jobTracker struct {
	mu      sync.Mutex
	store   *jobregistry.Store
	rec     *jobregistry.JobRecord
	managed bool
}

// openTracker loads the managed record named by the hidden flag, or starts
// a new one for a foreground submission.
func openTracker(cmd *cobra.Command, clusterName, name, manifestPath string) (*jobTracker, error) {
	root, err := jobsRootDir()
	if err != nil {
		return nil, err
	}
	store := jobregistry.NewStore(root)

	if id := flagString(cmd, managedJobFlagName); id != "" {
		rec, err := store.Get(id)
		if err != nil {
			return nil, exitError(foundry.ExitFileReadError, "Managed job record not found", err)
		}
		rec.PID = os.Getpid()
		rec.Cluster = clusterName
		if rec.Name == "" {
			rec.Name = name
		}
		t := &jobTracker{store: store, rec: rec, managed: true}
		t.write()
		return t, nil
	}

	rec := jobregistry.NewRecord(clusterName, name, manifestPath)
	rec.PID = os.Getpid()
	t := &jobTracker{store: store, rec: rec}
	t.write()
	return t, nil
}

func (t *jobTracker) write() {
	if err := t.store.Write(t.rec); err != nil {
		observability.CLILogger.Warn("Failed to write job record", zap.String("job_id", t.rec.JobID), zap.Error(err))
	}
}

func (t *jobTracker) jobID() string {
	return t.rec.JobID
}

func (t *jobTracker) batchID() *int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.rec.BatchID
}

func (t *jobTracker) observe(e submission.Event, connectURL string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.store.Observe(t.rec, e, connectURL); err != nil {
		observability.CLILogger.Warn("Failed to update job record", zap.String("job_id", t.rec.JobID), zap.Error(err))
	}
}

func (t *jobTracker) finish(res *submission.Result, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if ferr := t.store.Finish(t.rec, res, err); ferr != nil {
		observability.CLILogger.Warn("Failed to finish job record", zap.String("job_id", t.rec.JobID), zap.Error(ferr))
	}
}

// startHeartbeat refreshes LastHeartbeat for managed runs until the
// returned func is called.
func (t *jobTracker) startHeartbeat(ctx context.Context) func() {
	if !t.managed {
		return func() {}
	}
	ticker := time.NewTicker(managedHeartbeatInterval)
	stopped := make(chan struct{})
	quit := make(chan struct{})
	go func() {
		defer close(stopped)
		for {
			select {
			case <-ctx.Done():
				return
			case <-quit:
				return
			case <-ticker.C:
				t.mu.Lock()
				now := time.Now().UTC()
				t.rec.LastHeartbeat = &now
				t.write()
				t.mu.Unlock()
			}
		}
	}()
	return func() {
		ticker.Stop()
		close(quit)
		<-stopped
	}
}
