// Package logstream exposes a remote batch log as an ordered byte stream.
package logstream

import (
	"context"
	"errors"
	"io"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/3leaps/livyctl/pkg/livy"
)

const (
	DefaultChunkSize    = 64 * 1024
	DefaultPollInterval = time.Second
)

// ErrClosed is returned by Read after Close.
var ErrClosed = errors.New("log stream closed")

// Fetcher pages a batch log. *livy.Client implements it.
type Fetcher interface {
	FetchLog(ctx context.Context, h *livy.BatchJobHandle, stream livy.LogType, offset int64, size int) (string, int64, error)
}

// Cursor is the read watermark of one stream. Offset only grows.
type Cursor struct {
	Stream livy.LogType
	Offset int64
}

// Options tunes a Stream. Zero values use the package defaults.
type Options struct {
	// From is the byte offset to start reading at.
	From int64

	ChunkSize    int
	PollInterval time.Duration

	// Sleep replaces the context-aware wait between empty fetches.
	Sleep func(ctx context.Context, d time.Duration) error

	Logger *zap.Logger
}

// Stream reads one log stream of a batch in order, without gaps or
// duplicates. Read blocks while the log has no new bytes; once MarkDone
// has been called it drains the remaining bytes and then reports io.EOF.
//
// Read is not safe for concurrent use; Close and MarkDone may be called
// from any goroutine.
type Stream struct {
	fetcher Fetcher
	handle  *livy.BatchJobHandle
	stream  livy.LogType
	chunk   int
	poll    time.Duration
	sleep   func(ctx context.Context, d time.Duration) error
	logger  *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc

	offset  atomic.Int64
	done    atomic.Bool
	closed  atomic.Bool
	pending []byte
}

var _ io.ReadCloser = (*Stream)(nil)

// Attach opens a stream and performs the first fetch to verify the log is
// reachable. Errors from that fetch are returned unchanged, so callers can
// tell a job that has not started yet (livy.ErrNotFound) from a failure.
func Attach(ctx context.Context, f Fetcher, h *livy.BatchJobHandle, stream livy.LogType, opts Options) (*Stream, error) {
	s := newStream(ctx, f, h, stream, opts)
	text, next, err := f.FetchLog(s.ctx, h, stream, s.offset.Load(), s.chunk)
	if err != nil {
		s.cancel()
		return nil, err
	}
	s.accept(text, next)
	return s, nil
}

func newStream(ctx context.Context, f Fetcher, h *livy.BatchJobHandle, stream livy.LogType, opts Options) *Stream {
	if stream == "" {
		stream = livy.LogStdout
	}
	s := &Stream{
		fetcher: f,
		handle:  h,
		stream:  stream,
		chunk:   opts.ChunkSize,
		poll:    opts.PollInterval,
		sleep:   opts.Sleep,
		logger:  opts.Logger,
	}
	if s.chunk <= 0 {
		s.chunk = DefaultChunkSize
	}
	if s.poll <= 0 {
		s.poll = DefaultPollInterval
	}
	if s.sleep == nil {
		s.sleep = livy.SleepContext
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	if opts.From > 0 {
		s.offset.Store(opts.From)
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	return s
}

// Cursor returns the current watermark: bytes before Offset have been
// fetched from the server.
func (s *Stream) Cursor() Cursor {
	return Cursor{Stream: s.stream, Offset: s.offset.Load()}
}

// MarkDone records that the job reached a terminal state. Subsequent reads
// drain what the server still holds and then return io.EOF.
func (s *Stream) MarkDone() {
	s.done.Store(true)
}

// Close stops further fetches, including one in flight.
func (s *Stream) Close() error {
	s.closed.Store(true)
	s.cancel()
	return nil
}

func (s *Stream) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	failures := 0
	for {
		if s.closed.Load() {
			return 0, ErrClosed
		}
		if len(s.pending) > 0 {
			n := copy(p, s.pending)
			s.pending = s.pending[n:]
			return n, nil
		}
		if err := s.ctx.Err(); err != nil {
			return 0, err
		}

		// Sampled before the fetch: an empty answer only proves the end of
		// the log if the job was already finished when it was requested.
		done := s.done.Load()
		offset := s.offset.Load()
		text, next, err := s.fetcher.FetchLog(s.ctx, s.handle, s.stream, offset, s.chunk)
		if s.closed.Load() {
			return 0, ErrClosed
		}
		if err != nil {
			if s.ctx.Err() != nil {
				return 0, s.ctx.Err()
			}
			switch {
			case livy.IsNotFound(err):
				if done {
					return 0, io.EOF
				}
			case livy.IsNetwork(err):
				failures++
				if failures > s.retriesMax() {
					return 0, err
				}
				s.logger.Debug("Log fetch failed, retrying",
					zap.Int("batch_id", s.handle.ID), zap.String("stream", string(s.stream)), zap.Error(err))
			default:
				return 0, err
			}
			if err := s.sleep(s.ctx, s.poll); err != nil {
				return 0, s.stopErr(err)
			}
			continue
		}
		failures = 0

		if text == "" {
			if done {
				return 0, io.EOF
			}
			if err := s.sleep(s.ctx, s.poll); err != nil {
				return 0, s.stopErr(err)
			}
			continue
		}
		s.accept(text, next)
	}
}

func (s *Stream) accept(text string, next int64) {
	if text == "" {
		return
	}
	s.pending = append(s.pending, text...)
	s.offset.Store(next)
}

func (s *Stream) retriesMax() int {
	if s.handle == nil {
		return livy.DefaultRetriesMax
	}
	return s.handle.Retry.RetriesMax
}

func (s *Stream) stopErr(err error) error {
	if s.closed.Load() {
		return ErrClosed
	}
	return err
}
