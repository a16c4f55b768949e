package submission

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/3leaps/livyctl/pkg/livy"
)

// Severity tags a console line.
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// Line is one console line of a session.
type Line struct {
	Severity Severity
	Text     string

	// Stream is set for lines copied from the job's driver output.
	Stream livy.LogType
}

// EventType names a session lifecycle event.
type EventType string

const (
	// EventSubmitted is emitted exactly once, after the batch was created
	// and before polling starts.
	EventSubmitted EventType = "submitted"

	// EventStateChanged reports a new remote state, in poll order.
	EventStateChanged EventType = "state_changed"

	// EventFinished is emitted when the job reaches a terminal state.
	EventFinished EventType = "finished"
)

// Event is a session lifecycle notification.
type Event struct {
	Type     EventType
	BatchID  int
	State    livy.State
	RawState string
	Time     time.Time
}

// ErrDisconnected is returned by Wait after Disconnect or Destroy.
var ErrDisconnected = errors.New("session disconnected")

// Session is one running submission. Observers consume Events and Console
// until both are closed; they are closed exactly once, when the pipeline
// ends or on Disconnect, whichever comes first.
type Session struct {
	client BatchClient

	ctx    context.Context
	cancel context.CancelFunc

	events  chan Event
	console chan Line

	// sendMu guards the channels: senders hold it shared, closing takes it
	// exclusively once stop has released blocked senders.
	sendMu    sync.RWMutex
	closed    bool
	stop      chan struct{}
	closeOnce sync.Once

	disconnected atomic.Bool
	submitted    atomic.Bool

	mu     sync.Mutex
	handle *livy.BatchJobHandle
	// killCtx is set by Destroy. A batch adopted after it is killed at once.
	killCtx context.Context

	done   chan struct{}
	result *Result
	err    error
}

func newSession(ctx context.Context, client BatchClient, buffer int) *Session {
	s := &Session{
		client:  client,
		events:  make(chan Event, buffer),
		console: make(chan Line, buffer),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	return s
}

// Events returns the lifecycle event channel.
func (s *Session) Events() <-chan Event { return s.events }

// Console returns the console line channel.
func (s *Session) Console() <-chan Line { return s.console }

// Done is closed when the pipeline goroutine has returned.
func (s *Session) Done() <-chan struct{} { return s.done }

// Handle returns the batch handle once the job was created.
func (s *Session) Handle() *livy.BatchJobHandle {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.handle
}

// IsDisconnected reports whether Disconnect or Destroy was called.
func (s *Session) IsDisconnected() bool {
	return s.disconnected.Load()
}

// Wait blocks until the pipeline returns. After a disconnect it returns
// ErrDisconnected and discards whatever the pipeline produced.
func (s *Session) Wait() (*Result, error) {
	<-s.done
	if s.disconnected.Load() {
		return nil, ErrDisconnected
	}
	return s.result, s.err
}

// Disconnect stops observing the job without killing it: in-flight calls
// are cancelled, no further remote calls are made and the channels close.
func (s *Session) Disconnect() {
	s.disconnected.Store(true)
	s.cancel()
	s.complete()
}

// Destroy kills the remote batch, best effort, then disconnects. A batch
// whose creation is still in flight is killed as soon as it is accepted.
func (s *Session) Destroy(ctx context.Context) {
	s.mu.Lock()
	kill := !s.disconnected.Load() && s.killCtx == nil
	if kill {
		s.killCtx = context.WithoutCancel(ctx)
	}
	h := s.handle
	s.mu.Unlock()

	if kill && h != nil {
		s.client.Kill(ctx, h)
	}
	s.Disconnect()
}

func (s *Session) destroying() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.killCtx != nil
}

func (s *Session) complete() {
	s.closeOnce.Do(func() {
		close(s.stop)
		s.sendMu.Lock()
		s.closed = true
		close(s.events)
		close(s.console)
		s.sendMu.Unlock()
	})
}

func (s *Session) finish(res *Result, err error) {
	s.result, s.err = res, err
	s.complete()
	close(s.done)
}

// adopt records the created batch. It returns false when Destroy ran
// first, after killing the batch.
func (s *Session) adopt(h *livy.BatchJobHandle) bool {
	s.mu.Lock()
	s.handle = h
	killCtx := s.killCtx
	s.mu.Unlock()
	if killCtx == nil {
		return true
	}
	ctx, cancel := context.WithTimeout(killCtx, orphanKillTimeout)
	defer cancel()
	s.client.Kill(ctx, h)
	return false
}

func (s *Session) emit(e Event) {
	if e.Type == EventSubmitted && !s.submitted.CompareAndSwap(false, true) {
		return
	}
	if e.Time.IsZero() {
		e.Time = time.Now().UTC()
	}
	s.sendMu.RLock()
	defer s.sendMu.RUnlock()
	if s.closed || s.disconnected.Load() {
		return
	}
	select {
	case s.events <- e:
	case <-s.stop:
	}
}

func (s *Session) line(sev Severity, stream livy.LogType, text string) {
	s.sendMu.RLock()
	defer s.sendMu.RUnlock()
	if s.closed || s.disconnected.Load() {
		return
	}
	select {
	case s.console <- Line{Severity: sev, Text: text, Stream: stream}:
	case <-s.stop:
	}
}

func (s *Session) infoLine(text string)  { s.line(SeverityInfo, "", text) }
func (s *Session) warnLine(text string)  { s.line(SeverityWarning, "", text) }
func (s *Session) errorLine(text string) { s.line(SeverityError, "", text) }
