package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"

	"github.com/3leaps/livyctl/pkg/jobregistry"
	"github.com/3leaps/livyctl/pkg/output"
)

var jobCmd = &cobra.Command{
	Use:   "job",
	Short: "Inspect and manage submissions",
	Long: `Inspect the local history of submissions and the batches they created.

Every submission writes a job record under the data directory, whether it
ran in the foreground or with 'submit --detach'. Job ids may be shortened
to any unique prefix.

Examples:
  livyctl job list
  livyctl job list --remote --cluster spark-dev
  livyctl job status 3f2a9c
  livyctl job logs 3f2a9c --follow
  livyctl job logs 3f2a9c --remote --stream stderr
  livyctl job kill 3f2a9c`,
}

var jobListCmd = &cobra.Command{
	Use:   "list",
	Short: "List submissions",
	RunE:  runJobList,
}

var jobStatusCmd = &cobra.Command{
	Use:   "status <job_id>",
	Short: "Show status for a submission",
	Args:  cobra.ExactArgs(1),
	RunE:  runJobStatus,
}

var jobLogsCmd = &cobra.Command{
	Use:   "logs <job_id>",
	Short: "Show captured or remote logs for a submission",
	Args:  cobra.ExactArgs(1),
	RunE:  runJobLogs,
}

var jobKillCmd = &cobra.Command{
	Use:   "kill <job_id>",
	Short: "Kill the remote batch and stop a detached submission",
	Args:  cobra.ExactArgs(1),
	RunE:  runJobKill,
}

var jobGCCmd = &cobra.Command{
	Use:   "gc",
	Short: "Garbage collect old job records",
	RunE:  runJobGC,
}

func init() {
	rootCmd.AddCommand(jobCmd)
	jobCmd.AddCommand(jobListCmd, jobStatusCmd, jobLogsCmd, jobKillCmd, jobGCCmd)

	jobListCmd.Flags().Bool("json", false, "Output JSONL records")
	jobListCmd.Flags().String("cluster", "", "Only show jobs for this cluster")
	jobListCmd.Flags().Bool("remote", false, "List batches from the cluster's Livy endpoint (requires --cluster)")
	jobListCmd.Flags().Int("limit", 100, "Maximum batches to list with --remote")
	jobStatusCmd.Flags().Bool("json", false, "Output as JSON")
	jobStatusCmd.Flags().Bool("refresh", false, "Poll the remote batch state before printing")
	jobLogsCmd.Flags().String("stream", "stdout", "Log stream: stdout, stderr, or both")
	jobLogsCmd.Flags().Int("tail", 200, "Show last N lines of captured logs (0 = all)")
	jobLogsCmd.Flags().Bool("follow", false, "Follow log output")
	jobLogsCmd.Flags().Bool("remote", false, "Read the driver log from Livy instead of local capture files")
	jobKillCmd.Flags().String("signal", "term", "Signal for a detached submission: term or kill")
	jobGCCmd.Flags().String("max-age", "168h", "Delete finished jobs older than this duration")
	jobGCCmd.Flags().Bool("dry-run", false, "Show how many jobs would be deleted")
	jobGCCmd.Flags().Bool("json", false, "Output as JSON")
}

func openJobStore() (*jobregistry.Store, error) {
	root, err := jobsRootDir()
	if err != nil {
		return nil, err
	}
	return jobregistry.NewStore(root), nil
}

// loadJob resolves input to a job record.
func loadJob(input string) (*jobregistry.Store, *jobregistry.JobRecord, error) {
	store, err := openJobStore()
	if err != nil {
		return nil, nil, err
	}
	id, err := resolveJobID(store, input)
	if err != nil {
		return nil, nil, exitError(foundry.ExitInvalidArgument, "Unknown job", err)
	}
	rec, err := store.Get(id)
	if err != nil {
		return nil, nil, exitError(foundry.ExitFileReadError, "Failed to read job record", err)
	}
	return store, rec, nil
}

func runJobList(cmd *cobra.Command, _ []string) error {
	ctx := commandContext(cmd)
	jsonOutput, _ := cmd.Flags().GetBool("json")
	clusterFilter := flagString(cmd, "cluster")

	store, err := openJobStore()
	if err != nil {
		return err
	}
	if remote, _ := cmd.Flags().GetBool("remote"); remote {
		if clusterFilter == "" {
			return exitError(foundry.ExitInvalidArgument, "--remote requires --cluster", errors.New("missing --cluster"))
		}
		limit, _ := cmd.Flags().GetInt("limit")
		return runJobListRemote(cmd, store, clusterFilter, limit, jsonOutput)
	}

	jobs, err := store.List()
	if err != nil {
		return err
	}
	if clusterFilter != "" {
		kept := jobs[:0]
		for _, j := range jobs {
			if j.Cluster == clusterFilter {
				kept = append(kept, j)
			}
		}
		jobs = kept
	}

	if jsonOutput {
		w := output.NewJSONLWriter(os.Stdout, "", "")
		defer func() { _ = w.Close() }()
		for _, j := range jobs {
			if err := w.WriteJob(ctx, output.Job(j)); err != nil {
				return err
			}
		}
		return nil
	}

	if len(jobs) == 0 {
		_, _ = fmt.Fprintln(os.Stdout, "No jobs found")
		return nil
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	defer func() { _ = tw.Flush() }()
	_, _ = fmt.Fprintln(tw, "JOB ID\tNAME\tCLUSTER\tBATCH\tSTATE\tSTARTED\tENDED")
	for _, j := range jobs {
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			shortJobID(j.JobID),
			valueOrDash(j.Name),
			valueOrDash(j.Cluster),
			formatBatchID(j.BatchID),
			j.State,
			formatOptionalTime(j.StartedAt),
			formatOptionalTime(j.EndedAt),
		)
	}
	return nil
}

// runJobListRemote lists the batches Livy knows for a cluster and links
// them to local job records where this machine submitted them.
func runJobListRemote(cmd *cobra.Command, store *jobregistry.Store, clusterName string, limit int, jsonOutput bool) error {
	ctx := commandContext(cmd)
	cfg, err := currentConfig(ctx)
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid configuration", err)
	}
	reg, closeReg, err := openRegistry(ctx)
	if err != nil {
		return exitError(foundry.ExitFileReadError, "Failed to open cluster registry", err)
	}
	c, err := resolveCluster(ctx, reg, clusterName)
	closeReg()
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Unknown cluster", err)
	}
	client, err := newLivyClient(c, cfg)
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid cluster", err)
	}
	list, err := client.List(ctx, 0, limit)
	if err != nil {
		return exitError(foundry.ExitExternalServiceUnavailable, "Failed to list batches", err)
	}

	records := make([]*output.BatchRecord, 0, len(list.Sessions))
	for _, b := range list.Sessions {
		jobID := ""
		if rec, err := store.FindByBatch(c.Name, b.ID); err == nil {
			jobID = rec.JobID
		}
		records = append(records, output.Batch(b, jobID))
	}

	if jsonOutput {
		w := output.NewJSONLWriter(os.Stdout, "", c.Name)
		defer func() { _ = w.Close() }()
		for _, r := range records {
			if err := w.WriteBatch(ctx, r); err != nil {
				return err
			}
		}
		return nil
	}

	if len(records) == 0 {
		_, _ = fmt.Fprintln(os.Stdout, "No batches found")
		return nil
	}
	tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	defer func() { _ = tw.Flush() }()
	_, _ = fmt.Fprintln(tw, "BATCH\tNAME\tSTATE\tAPP ID\tJOB ID")
	for _, r := range records {
		_, _ = fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\n",
			r.BatchID, valueOrDash(r.Name), r.RawState, valueOrDash(r.AppID), valueOrDash(shortJobID(r.JobID)))
	}
	return nil
}

func runJobStatus(cmd *cobra.Command, args []string) error {
	ctx := commandContext(cmd)
	jsonOutput, _ := cmd.Flags().GetBool("json")
	refresh, _ := cmd.Flags().GetBool("refresh")

	store, rec, err := loadJob(args[0])
	if err != nil {
		return err
	}

	if refresh && rec.HasBatch() && !rec.State.IsTerminal() {
		client, err := jobClient(cmd, rec)
		if err != nil {
			return err
		}
		st, raw, err := client.PollState(ctx, client.Handle(*rec.BatchID))
		if err != nil {
			return exitError(foundry.ExitExternalServiceUnavailable, "Failed to poll batch state", err)
		}
		rec.RawState = raw
		if js := jobregistry.StateFromLivy(st); js != jobregistry.JobStateUnknown {
			rec.State = js
		}
		_ = store.Write(rec)
	}

	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(rec)
	}

	_, _ = fmt.Fprintf(os.Stdout, "job_id=%s\n", rec.JobID)
	if rec.Name != "" {
		_, _ = fmt.Fprintf(os.Stdout, "name=%s\n", rec.Name)
	}
	_, _ = fmt.Fprintf(os.Stdout, "state=%s\n", rec.State)
	if rec.RawState != "" {
		_, _ = fmt.Fprintf(os.Stdout, "raw_state=%s\n", rec.RawState)
	}
	_, _ = fmt.Fprintf(os.Stdout, "cluster=%s\n", rec.Cluster)
	if rec.BatchID != nil {
		_, _ = fmt.Fprintf(os.Stdout, "batch_id=%d\n", *rec.BatchID)
	}
	if rec.ManifestPath != "" {
		_, _ = fmt.Fprintf(os.Stdout, "manifest_path=%s\n", rec.ManifestPath)
	}
	if rec.RemoteURI != "" {
		_, _ = fmt.Fprintf(os.Stdout, "remote_uri=%s\n", rec.RemoteURI)
	}
	if rec.AppID != "" {
		_, _ = fmt.Fprintf(os.Stdout, "app_id=%s\n", rec.AppID)
	}
	if rec.DriverLogURL != "" {
		_, _ = fmt.Fprintf(os.Stdout, "driver_log_url=%s\n", rec.DriverLogURL)
	}
	if rec.StartedAt != nil {
		_, _ = fmt.Fprintf(os.Stdout, "started_at=%s\n", rec.StartedAt.UTC().Format(time.RFC3339))
	}
	if rec.EndedAt != nil {
		_, _ = fmt.Fprintf(os.Stdout, "ended_at=%s\n", rec.EndedAt.UTC().Format(time.RFC3339))
	}
	if rec.Error != "" {
		_, _ = fmt.Fprintf(os.Stdout, "error=%s\n", rec.Error)
	}
	return nil
}

type jobsGCResult struct {
	Deleted      int    `json:"deleted"`
	WouldDelete  int    `json:"would_delete"`
	DryRun       bool   `json:"dry_run"`
	MaxAgeString string `json:"max_age"`
}

func runJobGC(cmd *cobra.Command, _ []string) error {
	maxAgeStr := flagString(cmd, "max-age")
	if maxAgeStr == "" {
		maxAgeStr = "168h"
	}
	maxAge, err := time.ParseDuration(maxAgeStr)
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid --max-age", err)
	}
	if maxAge <= 0 {
		return exitError(foundry.ExitInvalidArgument, "Invalid --max-age", fmt.Errorf("--max-age must be > 0"))
	}
	jsonOutput, _ := cmd.Flags().GetBool("json")
	dryRun, _ := cmd.Flags().GetBool("dry-run")

	store, err := openJobStore()
	if err != nil {
		return err
	}
	jobs, err := store.List()
	if err != nil {
		return err
	}

	deleted := 0
	for _, j := range gcCandidates(jobs, time.Now().UTC(), maxAge) {
		if !dryRun {
			if err := os.RemoveAll(store.JobDir(j.JobID)); err != nil {
				return fmt.Errorf("remove job dir: %w", err)
			}
		}
		deleted++
	}

	if jsonOutput {
		res := jobsGCResult{DryRun: dryRun, MaxAgeString: maxAgeStr}
		if dryRun {
			res.WouldDelete = deleted
		} else {
			res.Deleted = deleted
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	}
	if dryRun {
		_, _ = fmt.Fprintf(os.Stdout, "would_delete=%d\n", deleted)
		return nil
	}
	_, _ = fmt.Fprintf(os.Stdout, "deleted=%d\n", deleted)
	return nil
}

// gcCandidates returns finished jobs that ended more than maxAge before now.
func gcCandidates(jobs []jobregistry.JobRecord, now time.Time, maxAge time.Duration) []jobregistry.JobRecord {
	var out []jobregistry.JobRecord
	for _, j := range jobs {
		if j.EndedAt == nil {
			continue
		}
		if !j.State.IsTerminal() && j.State != jobregistry.JobStateUnknown {
			continue
		}
		if now.Sub(j.EndedAt.UTC()) <= maxAge {
			continue
		}
		out = append(out, j)
	}
	return out
}

func shortJobID(jobID string) string {
	jobID = strings.TrimSpace(jobID)
	if len(jobID) <= 12 {
		return jobID
	}
	return jobID[:12]
}

func formatBatchID(id *int) string {
	if id == nil {
		return "-"
	}
	return fmt.Sprintf("%d", *id)
}

func formatOptionalTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.UTC().Format(time.RFC3339)
}

func resolveJobID(store *jobregistry.Store, input string) (string, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return "", fmt.Errorf("job_id is required")
	}
	if _, err := store.Get(input); err == nil {
		return input, nil
	}

	// Prefix match (allows table-friendly short IDs).
	jobs, err := store.List()
	if err != nil {
		return "", err
	}
	matches := make([]string, 0, 2)
	for _, j := range jobs {
		if strings.HasPrefix(j.JobID, input) {
			matches = append(matches, j.JobID)
		}
	}
	if len(matches) == 0 {
		return "", fmt.Errorf("job not found: %s", input)
	}
	if len(matches) > 1 {
		return "", fmt.Errorf("job id prefix is ambiguous (%d matches); use full job_id or --json", len(matches))
	}
	return matches[0], nil
}
