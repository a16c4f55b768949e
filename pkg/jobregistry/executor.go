package jobregistry

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

// ManagedJobFlag is the hidden submit flag that binds a child process to
// an existing job record.
const ManagedJobFlag = "--_managed-job-id"

// Executor spawns and manages detached submissions.
//
// A detached submission is a child process running `livyctl submit` in
// managed mode, capturing its console to per-job log files.
type Executor struct {
	store *Store

	// Command overrides the executable, for tests.
	Command string
}

func NewExecutor(root string) *Executor {
	return &Executor{store: NewStore(root)}
}

func (e *Executor) Store() *Store {
	return e.store
}

func (e *Executor) StdoutPath(jobID string) string {
	return filepath.Join(e.store.JobDir(jobID), "stdout.log")
}

func (e *Executor) StderrPath(jobID string) string {
	return filepath.Join(e.store.JobDir(jobID), "stderr.log")
}

type BackgroundOptions struct {
	// Cluster overrides the manifest's cluster.
	Cluster string

	// Dedupe refuses to start when a non-terminal job for the same
	// manifest exists.
	Dedupe bool

	// Args are extra flags passed through to the child.
	Args []string
}

// StartSubmitBackground spawns a managed child process running:
//
//	livyctl submit --manifest <manifest> --_managed-job-id <job_id>
//
// It returns after the child successfully starts.
func (e *Executor) StartSubmitBackground(manifestPath string, name string, opts BackgroundOptions) (*JobRecord, error) {
	if e == nil || e.store == nil {
		return nil, fmt.Errorf("executor is not initialized")
	}

	absManifest, err := filepath.Abs(strings.TrimSpace(manifestPath))
	if err != nil {
		return nil, fmt.Errorf("resolve manifest path: %w", err)
	}
	if strings.TrimSpace(manifestPath) == "" {
		return nil, fmt.Errorf("manifest path is required")
	}
	if _, err := os.Stat(absManifest); err != nil {
		return nil, fmt.Errorf("manifest not found: %s", absManifest)
	}

	if opts.Dedupe {
		existing, _ := e.store.List()
		for _, j := range existing {
			if strings.TrimSpace(j.ManifestPath) == absManifest && !j.State.IsTerminal() && j.State != JobStateUnknown {
				return nil, fmt.Errorf("duplicate active job exists: %s", j.JobID)
			}
		}
	}

	exe := e.Command
	if exe == "" {
		exe, err = os.Executable()
		if err != nil {
			return nil, fmt.Errorf("resolve executable: %w", err)
		}
	}

	rec := NewRecord(opts.Cluster, name, absManifest)
	jobID := rec.JobID
	if err := os.MkdirAll(e.store.JobDir(jobID), 0755); err != nil {
		return nil, fmt.Errorf("create job dir: %w", err)
	}

	stdoutFile, err := os.Create(e.StdoutPath(jobID))
	if err != nil {
		return nil, fmt.Errorf("create stdout log: %w", err)
	}
	defer func() { _ = stdoutFile.Close() }()
	stderrFile, err := os.Create(e.StderrPath(jobID))
	if err != nil {
		return nil, fmt.Errorf("create stderr log: %w", err)
	}
	defer func() { _ = stderrFile.Close() }()

	args := []string{"submit", "--manifest", absManifest, ManagedJobFlag, jobID}
	if c := strings.TrimSpace(opts.Cluster); c != "" {
		args = append(args, "--cluster", c)
	}
	if n := strings.TrimSpace(name); n != "" {
		args = append(args, "--name", n)
	}
	args = append(args, opts.Args...)

	// The record must exist before the child looks it up.
	rec.StdoutPath = e.StdoutPath(jobID)
	rec.StderrPath = e.StderrPath(jobID)
	if err := e.store.Write(rec); err != nil {
		return nil, err
	}

	cmd := exec.Command(exe, args...)
	cmd.Stdout = stdoutFile
	cmd.Stderr = stderrFile
	cmd.Env = os.Environ()

	if err := cmd.Start(); err != nil {
		rec.State = JobStateFailed
		rec.Error = err.Error()
		_ = e.store.Write(rec)
		return nil, fmt.Errorf("start managed submit: %w", err)
	}

	// The child owns the record from here on and stamps its own PID.
	now := time.Now().UTC()
	rec.PID = cmd.Process.Pid
	rec.LastHeartbeat = &now

	// Reap the child without blocking the caller.
	go func() { _ = cmd.Wait() }()

	return rec, nil
}
