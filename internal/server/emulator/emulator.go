// Package emulator keeps an in-memory Livy batch table for local testing.
//
// Batches follow a scripted lifecycle evaluated lazily on access, so the
// emulator needs no background goroutines: each step becomes visible once
// StepDelay has passed since the previous one.
package emulator

import (
	"errors"
	"fmt"
	"path"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/3leaps/livyctl/pkg/livy"
)

// Errors returned by the batch table.
var (
	ErrNotFound     = errors.New("batch not found")
	ErrLogNotReady  = errors.New("driver log not available yet")
	ErrInvalidBatch = errors.New("invalid batch request")
)

// ConfOutcome selects the final state of an emulated batch: "success"
// (default), "dead" or "error".
const ConfOutcome = "livyctl.emulator.outcome"

// DefaultStepDelay is used when Options.StepDelay is zero.
const DefaultStepDelay = 2 * time.Second

// Recorder observes batch lifecycle changes.
type Recorder interface {
	BatchCreated(kind string)
	BatchKilled()
	BatchFinished(raw string)
}

// DefaultLogPage is the page size of Log when none is requested.
const DefaultLogPage = 100

// Step is one scripted state with the output lines produced on entering it.
type Step struct {
	State       string
	Stdout      []string
	Stderr      []string
	Diagnostics []string
}

type Options struct {
	StepDelay time.Duration
	Now       func() time.Time
	Recorder  Recorder
}

// Emulator is safe for concurrent use.
type Emulator struct {
	mu      sync.Mutex
	nextID  int
	batches map[int]*batch
	delay   time.Duration
	now     func() time.Time
	rec     Recorder
}

type batch struct {
	id      int
	name    string
	appID   string
	state   string
	stdout  []string
	stderr  []string
	diag    []string
	script  []Step
	step    int
	nextAt  time.Time
	created time.Time
}

func New(opts Options) *Emulator {
	e := &Emulator{
		batches: make(map[int]*batch),
		delay:   opts.StepDelay,
		now:     opts.Now,
		rec:     opts.Recorder,
	}
	if e.delay <= 0 {
		e.delay = DefaultStepDelay
	}
	if e.now == nil {
		e.now = time.Now
	}
	return e
}

// Kind classifies a batch by its main file.
func Kind(file string) string {
	switch strings.ToLower(path.Ext(file)) {
	case ".py":
		return "python"
	case ".jar":
		return "jar"
	case ".r":
		return "r"
	}
	return "other"
}

// Create registers a batch in state "starting".
func (e *Emulator) Create(req livy.BatchRequest) (livy.Batch, error) {
	if strings.TrimSpace(req.File) == "" {
		return livy.Batch{}, fmt.Errorf("%w: file is required", ErrInvalidBatch)
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.now()
	id := e.nextID
	e.nextID++
	b := &batch{
		id:      id,
		name:    req.Name,
		appID:   fmt.Sprintf("application_%d_%04d", now.Unix(), id+1),
		state:   "starting",
		script:  script(req),
		nextAt:  now.Add(e.delay),
		created: now,
		stdout:  []string{fmt.Sprintf("Submitting %s to local emulator", req.File)},
	}
	e.batches[id] = b
	if e.rec != nil {
		e.rec.BatchCreated(Kind(req.File))
	}
	return b.view(), nil
}

func script(req livy.BatchRequest) []Step {
	main := req.ClassName
	if main == "" {
		main = path.Base(req.File)
	}
	steps := []Step{
		{
			State:       "running",
			Diagnostics: []string{"application accepted"},
			Stderr:      []string{fmt.Sprintf("INFO SparkContext: Submitted application: %s", main)},
			Stdout:      []string{"Starting job"},
		},
	}
	switch strings.ToLower(req.Conf[ConfOutcome]) {
	case "dead", "error":
		state := strings.ToLower(req.Conf[ConfOutcome])
		steps = append(steps, Step{
			State:       state,
			Diagnostics: []string{"Application failed"},
			Stderr: []string{
				"ERROR ApplicationMaster: User class threw exception",
				fmt.Sprintf("Exception in thread \"main\" java.lang.RuntimeException: %s failed", main),
			},
		})
	default:
		out := []string{}
		for _, a := range req.Args {
			out = append(out, fmt.Sprintf("arg: %s", a))
		}
		out = append(out, "Job finished")
		steps = append(steps, Step{
			State:       "success",
			Diagnostics: []string{"Application finished successfully"},
			Stdout:      out,
			Stderr:      []string{"INFO SparkContext: Successfully stopped SparkContext"},
		})
	}
	return steps
}

// advance applies every step whose time has come. Caller holds e.mu.
func (e *Emulator) advance(b *batch) {
	now := e.now()
	for b.step < len(b.script) && !now.Before(b.nextAt) {
		st := b.script[b.step]
		b.step++
		b.nextAt = b.nextAt.Add(e.delay)
		b.state = st.State
		b.stdout = append(b.stdout, st.Stdout...)
		b.stderr = append(b.stderr, st.Stderr...)
		b.diag = append(b.diag, st.Diagnostics...)
		if b.terminal() && e.rec != nil {
			e.rec.BatchFinished(b.state)
		}
	}
}

func (b *batch) terminal() bool {
	return livy.ParseState(b.state).IsTerminal()
}

func (b *batch) view() livy.Batch {
	v := livy.Batch{
		ID:    b.id,
		Name:  b.name,
		State: b.state,
		Log:   b.lines(),
	}
	if b.state != "starting" {
		v.AppID = b.appID
		v.AppInfo = map[string]string{
			livy.AppInfoDriverLogURL: fmt.Sprintf("http://localhost/logs/%s/driver", b.appID),
			livy.AppInfoSparkUIURL:   fmt.Sprintf("http://localhost/proxy/%s", b.appID),
		}
	}
	return v
}

func (e *Emulator) lookup(id int) (*batch, error) {
	b, ok := e.batches[id]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrNotFound, id)
	}
	e.advance(b)
	return b, nil
}

// Get returns the batch view.
func (e *Emulator) Get(id int) (livy.Batch, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	b, err := e.lookup(id)
	if err != nil {
		return livy.Batch{}, err
	}
	return b.view(), nil
}

// State returns the batch state.
func (e *Emulator) State(id int) (livy.StateResponse, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	b, err := e.lookup(id)
	if err != nil {
		return livy.StateResponse{}, err
	}
	return livy.StateResponse{ID: id, State: b.state}, nil
}

// List returns batches ordered by ID. size <= 0 returns all from from.
func (e *Emulator) List(from, size int) livy.BatchList {
	e.mu.Lock()
	defer e.mu.Unlock()
	ids := make([]int, 0, len(e.batches))
	for id := range e.batches {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	if from < 0 {
		from = 0
	}
	out := livy.BatchList{From: from, Total: len(ids), Sessions: []livy.Batch{}}
	for i := from; i < len(ids); i++ {
		if size > 0 && len(out.Sessions) >= size {
			break
		}
		b := e.batches[ids[i]]
		e.advance(b)
		out.Sessions = append(out.Sessions, b.view())
	}
	return out
}

// lines renders the combined log the way Livy does: stdout under a
// "stdout: " header, then stderr and YARN diagnostics under headers that
// start with a newline.
func (b *batch) lines() []string {
	out := make([]string, 0, len(b.stdout)+len(b.stderr)+len(b.diag)+3)
	out = append(out, "stdout: ")
	out = append(out, b.stdout...)
	out = append(out, "\nstderr: ")
	out = append(out, b.stderr...)
	if len(b.diag) > 0 {
		out = append(out, "\nYARN Diagnostics: ")
		out = append(out, b.diag...)
	}
	return out
}

// Log pages the combined log by line index. A negative from returns the
// last size lines; size <= 0 uses DefaultLogPage. The log is not
// available while the batch is starting.
func (e *Emulator) Log(id, from, size int) (livy.LogResponse, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	b, err := e.lookup(id)
	if err != nil {
		return livy.LogResponse{}, err
	}
	if b.state == "starting" {
		return livy.LogResponse{}, fmt.Errorf("%w: batch %d", ErrLogNotReady, id)
	}
	if size <= 0 {
		size = DefaultLogPage
	}
	lines := b.lines()
	total := len(lines)
	if from < 0 {
		from = max(0, total-size)
	}
	page := []string{}
	if from < total {
		page = lines[from:min(from+size, total)]
	}
	return livy.LogResponse{ID: id, From: from, Total: total, Log: page}, nil
}

// Delete kills the batch and removes it from the table.
func (e *Emulator) Delete(id int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	b, err := e.lookup(id)
	if err != nil {
		return err
	}
	if !b.terminal() && e.rec != nil {
		e.rec.BatchKilled()
		e.rec.BatchFinished("killed")
	}
	delete(e.batches, id)
	return nil
}

// Active counts batches that have not reached a terminal state.
func (e *Emulator) Active() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := 0
	for _, b := range e.batches {
		e.advance(b)
		if !b.terminal() {
			n++
		}
	}
	return n
}
