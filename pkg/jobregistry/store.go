package jobregistry

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"syscall"
	"time"
)

const recordFile = "job.json"

// Store keeps one directory per job under root:
//
//	<root>/<job_id>/job.json
//	<root>/<job_id>/stdout.log
//	<root>/<job_id>/stderr.log
type Store struct {
	root string
}

func NewStore(root string) *Store {
	return &Store{root: strings.TrimSpace(root)}
}

func (s *Store) RootDir() string { return s.root }

func (s *Store) JobDir(jobID string) string { return filepath.Join(s.root, jobID) }

func (s *Store) JobPath(jobID string) string { return filepath.Join(s.root, jobID, recordFile) }

// Write replaces the job's record atomically: readers see the old record
// or the new one, never a partial file.
func (s *Store) Write(record *JobRecord) error {
	if record == nil {
		return errors.New("job record is nil")
	}
	jobID := strings.TrimSpace(record.JobID)
	if jobID == "" {
		return errors.New("job_id is required")
	}
	if s.root == "" {
		return errors.New("job registry root dir is empty")
	}

	dir := s.JobDir(jobID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create job dir: %w", err)
	}
	data, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal job record: %w", err)
	}
	return writeAtomic(dir, recordFile, append(data, '\n'))
}

func writeAtomic(dir, name string, data []byte) error {
	f, err := os.CreateTemp(dir, name+".tmp.*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer func() { _ = os.Remove(f.Name()) }()

	_, werr := f.Write(data)
	cerr := f.Close()
	if err := errors.Join(werr, cerr); err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}
	if err := os.Rename(f.Name(), filepath.Join(dir, name)); err != nil {
		return fmt.Errorf("rename %s: %w", name, err)
	}
	return nil
}

// Get loads a job record. A missing job matches fs.ErrNotExist.
//
// A non-terminal record whose submitter process is gone is downgraded to
// unknown and saved; the remote batch may still be running and
// 'job status' can refresh it.
func (s *Store) Get(jobID string) (*JobRecord, error) {
	jobID = strings.TrimSpace(jobID)
	if jobID == "" {
		return nil, errors.New("job_id is required")
	}
	data, err := os.ReadFile(s.JobPath(jobID))
	if err != nil {
		return nil, err
	}
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, fmt.Errorf("%s is empty", recordFile)
	}

	var record JobRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("parse %s: %w", recordFile, err)
	}
	if s.orphaned(&record) {
		now := time.Now().UTC()
		record.State = JobStateUnknown
		record.LastHeartbeat = &now
		_ = s.Write(&record)
	}
	return &record, nil
}

func (s *Store) orphaned(r *JobRecord) bool {
	return !r.State.IsTerminal() && r.PID > 0 && !processAlive(r.PID)
}

// List returns every readable record, most recently started first.
// Unreadable job directories are skipped.
func (s *Store) List() ([]JobRecord, error) {
	if s.root == "" {
		return nil, errors.New("job registry root dir is empty")
	}
	entries, err := os.ReadDir(s.root)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read jobs root: %w", err)
	}

	records := make([]JobRecord, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if r, err := s.Get(e.Name()); err == nil {
			records = append(records, *r)
		}
	}
	slices.SortFunc(records, func(a, b JobRecord) int {
		return sortTime(b).Compare(sortTime(a))
	})
	return records, nil
}

// FindByBatch returns the newest record for a batch on a cluster, or an
// error matching fs.ErrNotExist.
func (s *Store) FindByBatch(cluster string, batchID int) (*JobRecord, error) {
	records, err := s.List()
	if err != nil {
		return nil, err
	}
	i := slices.IndexFunc(records, func(r JobRecord) bool {
		return r.HasBatch() && *r.BatchID == batchID && strings.EqualFold(r.Cluster, cluster)
	})
	if i < 0 {
		return nil, fmt.Errorf("no job for batch %d on %s: %w", batchID, cluster, fs.ErrNotExist)
	}
	return &records[i], nil
}

func sortTime(r JobRecord) time.Time {
	if r.StartedAt != nil {
		return *r.StartedAt
	}
	return r.CreatedAt
}

// processAlive probes pid with signal 0, which checks existence without
// delivering anything.
func processAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	p, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return p.Signal(syscall.Signal(0)) == nil
}
