package cmd

import (
	"context"
	"fmt"
	"os"
	"syscall"
	"time"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/livyctl/internal/observability"
	"github.com/3leaps/livyctl/pkg/jobregistry"
)

var killGracePeriod = 30 * time.Second

func isProcessAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	p, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return p.Signal(syscall.Signal(0)) == nil
}

// runJobKill deletes the remote batch and then stops the local process
// that follows it, if one is still alive.
func runJobKill(cmd *cobra.Command, args []string) error {
	ctx := commandContext(cmd)
	sigStr := flagString(cmd, "signal")
	if sigStr == "" {
		sigStr = "term"
	}
	if sigStr != "term" && sigStr != "kill" {
		return exitError(foundry.ExitInvalidArgument, "Invalid --signal", fmt.Errorf("expected term or kill, got %q", sigStr))
	}

	store, rec, err := loadJob(args[0])
	if err != nil {
		return err
	}
	if rec.State.IsTerminal() {
		return exitError(foundry.ExitInvalidArgument, "Job already finished", fmt.Errorf("job %s state=%s", rec.JobID, rec.State))
	}

	if rec.HasBatch() {
		client, err := jobClient(cmd, rec)
		if err != nil {
			return err
		}
		killCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		client.Kill(killCtx, client.Handle(*rec.BatchID))
		cancel()
		_, _ = fmt.Fprintf(os.Stdout, "killed_batch=%d\n", *rec.BatchID)
	}

	if rec.PID > 0 && rec.PID != os.Getpid() && isProcessAlive(rec.PID) {
		sent, err := stopProcess(rec.PID, sigStr)
		if err != nil {
			observability.CLILogger.Warn("Failed to stop submission process", zap.Int("pid", rec.PID), zap.Error(err))
		} else {
			_, _ = fmt.Fprintf(os.Stdout, "sent=%s\n", sent)
		}
	}

	now := time.Now().UTC()
	rec.State = jobregistry.JobStateKilled
	rec.EndedAt = &now
	rec.LastHeartbeat = &now
	if err := store.Write(rec); err != nil {
		return exitError(foundry.ExitFileWriteError, "Failed to update job record", err)
	}
	return nil
}

// stopProcess signals pid and, for term, escalates to SIGKILL after the
// grace period.
func stopProcess(pid int, sigStr string) (string, error) {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return "", fmt.Errorf("find process: %w", err)
	}
	if sigStr == "kill" {
		if err := proc.Signal(syscall.SIGKILL); err != nil {
			return "", fmt.Errorf("signal kill: %w", err)
		}
		return "kill", nil
	}

	if err := proc.Signal(syscall.SIGTERM); err != nil {
		return "", fmt.Errorf("signal term: %w", err)
	}
	deadline := time.Now().Add(killGracePeriod)
	for time.Now().Before(deadline) {
		if !isProcessAlive(pid) {
			return "term", nil
		}
		time.Sleep(250 * time.Millisecond)
	}
	_ = proc.Signal(syscall.SIGKILL)
	return "term;forced=kill", nil
}
