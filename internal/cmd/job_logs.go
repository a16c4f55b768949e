package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"

	"github.com/3leaps/livyctl/internal/observability"
	"github.com/3leaps/livyctl/pkg/cluster"
	"github.com/3leaps/livyctl/pkg/jobregistry"
	"github.com/3leaps/livyctl/pkg/livy"
	"github.com/3leaps/livyctl/pkg/logstream"
)

func runJobLogs(cmd *cobra.Command, args []string) error {
	stream := strings.ToLower(flagString(cmd, "stream"))
	if stream == "" {
		stream = "stdout"
	}
	if stream != "stdout" && stream != "stderr" && stream != "both" {
		return exitError(foundry.ExitInvalidArgument, "Invalid --stream", fmt.Errorf("invalid --stream %q (expected stdout, stderr, or both)", stream))
	}
	tailN, _ := cmd.Flags().GetInt("tail")
	if tailN < 0 {
		tailN = 0
	}
	follow, _ := cmd.Flags().GetBool("follow")
	remote, _ := cmd.Flags().GetBool("remote")

	store, rec, err := loadJob(args[0])
	if err != nil {
		return err
	}

	if remote {
		return printRemoteLogs(cmd, rec, stream, follow)
	}

	stdoutPath := rec.StdoutPath
	stderrPath := rec.StderrPath
	if stdoutPath == "" {
		stdoutPath = filepath.Join(store.JobDir(rec.JobID), "stdout.log")
	}
	if stderrPath == "" {
		stderrPath = filepath.Join(store.JobDir(rec.JobID), "stderr.log")
	}

	var paths []string
	switch stream {
	case "stdout":
		paths = []string{stdoutPath}
	case "stderr":
		paths = []string{stderrPath}
	default:
		paths = []string{stdoutPath, stderrPath}
	}
	for _, p := range paths {
		if _, err := os.Stat(p); errors.Is(err, os.ErrNotExist) {
			return exitError(foundry.ExitFileNotFound, "No captured logs; foreground submissions only keep remote logs (try --remote)", err)
		}
	}
	for _, p := range paths {
		if follow {
			if err := followLog(commandContext(cmd), p); err != nil {
				return err
			}
			continue
		}
		if err := printLogTail(p, tailN); err != nil {
			return err
		}
	}
	return nil
}

// printRemoteLogs copies the driver log of the job's batch to stdout. With
// follow it keeps reading until the batch ends.
func printRemoteLogs(cmd *cobra.Command, rec *jobregistry.JobRecord, stream string, follow bool) error {
	if !rec.HasBatch() {
		return exitError(foundry.ExitInvalidArgument, "Job has no batch yet", fmt.Errorf("job %s state=%s", rec.JobID, rec.State))
	}
	client, err := jobClient(cmd, rec)
	if err != nil {
		return err
	}
	cfg, err := currentConfig(commandContext(cmd))
	if err != nil {
		return err
	}
	opts := logstream.Options{
		ChunkSize:    cfg.Livy.LogChunkSize,
		PollInterval: cfg.Livy.LogPollInterval,
		Logger:       observability.CLILogger,
	}

	types := []livy.LogType{livy.LogStdout}
	switch stream {
	case "stderr":
		types = []livy.LogType{livy.LogStderr}
	case "both":
		types = []livy.LogType{livy.LogStdout, livy.LogStderr}
	}

	ctx := commandContext(cmd)
	h := client.Handle(*rec.BatchID)
	for _, t := range types {
		if err := copyRemoteLog(ctx, client, h, t, opts, follow, os.Stdout); err != nil {
			if livy.IsNotFound(err) {
				return exitError(foundry.ExitFileNotFound, "Remote log not available", err)
			}
			return exitError(foundry.ExitExternalServiceUnavailable, "Failed to read remote log", err)
		}
	}
	return nil
}

func copyRemoteLog(ctx context.Context, client *livy.Client, h *livy.BatchJobHandle, t livy.LogType, opts logstream.Options, follow bool, w io.Writer) error {
	s, err := logstream.Attach(ctx, client, h, t, opts)
	if err != nil {
		return err
	}
	defer func() { _ = s.Close() }()

	if follow {
		go func() {
			_, _, _ = client.AwaitDone(ctx, h, nil)
			s.MarkDone()
		}()
	} else {
		s.MarkDone()
	}
	// Streams end without a trailing newline.
	n, err := io.Copy(w, s)
	if err == nil && n > 0 {
		_, err = io.WriteString(w, "\n")
	}
	return err
}

// jobClient builds a Livy client for the cluster a job ran on. A cluster
// that was unlinked since is reached through the recorded connect URL.
func jobClient(cmd *cobra.Command, rec *jobregistry.JobRecord) (*livy.Client, error) {
	ctx := commandContext(cmd)
	cfg, err := currentConfig(ctx)
	if err != nil {
		return nil, exitError(foundry.ExitInvalidArgument, "Invalid configuration", err)
	}
	reg, closeReg, err := openRegistry(ctx)
	if err != nil {
		return nil, exitError(foundry.ExitFileReadError, "Failed to open cluster registry", err)
	}
	target, err := resolveCluster(ctx, reg, rec.Cluster)
	closeReg()
	if err != nil {
		if rec.ConnectURL == "" {
			return nil, exitError(foundry.ExitInvalidArgument, "Unknown cluster", err)
		}
		target = cluster.ClusterDetail{Name: rec.Cluster, ConnectionURL: rec.ConnectURL, Origin: cluster.OriginLinked}
	}
	client, err := newLivyClient(target, cfg)
	if err != nil {
		return nil, exitError(foundry.ExitExternalServiceUnavailable, "Failed to create Livy client", err)
	}
	return client, nil
}

func printLogTail(path string, tailN int) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	if tailN <= 0 {
		_, err := io.Copy(os.Stdout, f)
		return err
	}

	lines, err := tailLines(f, tailN)
	if err != nil {
		return err
	}
	for _, line := range lines {
		_, _ = fmt.Fprintln(os.Stdout, line)
	}
	return nil
}

func tailLines(r io.Reader, n int) ([]string, error) {
	if n <= 0 {
		return nil, nil
	}

	scanner := bufio.NewScanner(r)
	buf := make([]string, 0, n)
	for scanner.Scan() {
		line := scanner.Text()
		if len(buf) < n {
			buf = append(buf, line)
			continue
		}
		copy(buf, buf[1:])
		buf[n-1] = line
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return buf, nil
}

func followLog(ctx context.Context, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	for {
		scanner := bufio.NewScanner(f)
		for scanner.Scan() {
			_, _ = fmt.Fprintln(os.Stdout, scanner.Text())
		}
		if err := scanner.Err(); err != nil {
			return err
		}

		pos, _ := f.Seek(0, io.SeekCurrent)
		for {
			st, err := f.Stat()
			if err != nil {
				return err
			}
			if st.Size() > pos {
				break
			}
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(250 * time.Millisecond):
			}
		}
	}
}
