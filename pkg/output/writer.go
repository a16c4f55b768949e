package output

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"time"
)

// Writer emits the JSONL stream of a submit run. Implementations are safe
// for concurrent use and write each record as one whole line.
type Writer interface {
	WriteConsole(ctx context.Context, line *ConsoleRecord) error
	WriteEvent(ctx context.Context, ev *EventRecord) error
	WriteError(ctx context.Context, err *ErrorRecord) error
	WriteSummary(ctx context.Context, sum *SummaryRecord) error
	WriteCluster(ctx context.Context, c *ClusterRecord) error
	WriteJob(ctx context.Context, j *JobRecord) error
	Close() error
}

var _ Writer = (*JSONLWriter)(nil)

// JSONLWriter stamps every payload with an envelope and writes it to w.
// Close stops further writes but leaves w open.
type JSONLWriter struct {
	w       io.Writer
	jobID   string
	cluster string

	mu     sync.Mutex
	closed bool
}

// NewJSONLWriter returns a writer whose envelopes carry jobID and cluster;
// either may be empty.
func NewJSONLWriter(w io.Writer, jobID, cluster string) *JSONLWriter {
	return &JSONLWriter{w: w, jobID: jobID, cluster: cluster}
}

func (jw *JSONLWriter) WriteConsole(ctx context.Context, line *ConsoleRecord) error {
	return jw.emit(ctx, TypeConsole, line)
}

func (jw *JSONLWriter) WriteEvent(ctx context.Context, ev *EventRecord) error {
	return jw.emit(ctx, TypeEvent, ev)
}

func (jw *JSONLWriter) WriteError(ctx context.Context, err *ErrorRecord) error {
	return jw.emit(ctx, TypeError, err)
}

func (jw *JSONLWriter) WriteSummary(ctx context.Context, sum *SummaryRecord) error {
	return jw.emit(ctx, TypeSummary, sum)
}

func (jw *JSONLWriter) WriteCluster(ctx context.Context, c *ClusterRecord) error {
	return jw.emit(ctx, TypeCluster, c)
}

func (jw *JSONLWriter) WriteJob(ctx context.Context, j *JobRecord) error {
	return jw.emit(ctx, TypeJob, j)
}

func (jw *JSONLWriter) WriteBatch(ctx context.Context, b *BatchRecord) error {
	return jw.emit(ctx, TypeBatch, b)
}

func (jw *JSONLWriter) WritePreflight(ctx context.Context, p *PreflightRecord) error {
	return jw.emit(ctx, TypePreflight, p)
}

func (jw *JSONLWriter) WriteUpload(ctx context.Context, u *UploadRecord) error {
	return jw.emit(ctx, TypeUpload, u)
}

func (jw *JSONLWriter) Close() error {
	jw.mu.Lock()
	jw.closed = true
	jw.mu.Unlock()
	return nil
}

func (jw *JSONLWriter) encode(typ string, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, &WriteError{Op: "marshal_data", Err: err}
	}
	line, err := json.Marshal(Record{
		Type:    typ,
		TS:      time.Now().UTC(),
		JobID:   jw.jobID,
		Cluster: jw.cluster,
		Data:    data,
	})
	if err != nil {
		return nil, &WriteError{Op: "marshal_record", Err: err}
	}
	return append(line, '\n'), nil
}

// emit writes one record line under the lock. Short writes are resumed;
// a write that makes no progress fails with io.ErrShortWrite.
func (jw *JSONLWriter) emit(ctx context.Context, typ string, payload any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	line, err := jw.encode(typ, payload)
	if err != nil {
		return err
	}

	jw.mu.Lock()
	defer jw.mu.Unlock()
	if jw.closed {
		return ErrWriterClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	for len(line) > 0 {
		n, err := jw.w.Write(line)
		if err == nil && n == 0 {
			err = io.ErrShortWrite
		}
		if err != nil {
			return &WriteError{Op: "write", Err: err}
		}
		line = line[n:]
	}
	return nil
}
