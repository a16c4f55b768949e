package livy

import (
	"fmt"
	"strings"
	"sync"
)

// LogLinePage is the number of lines requested per GET /batches/{id}/log.
const LogLinePage = 100

// Section headers Livy puts into the combined batch log. The stderr and
// diagnostics headers carry a leading newline on the wire.
const (
	stdoutHeader      = "stdout:"
	stderrHeader      = "stderr:"
	diagnosticsHeader = "YARN Diagnostics:"
)

type section int

const (
	sectionStdout section = iota
	sectionStderr
	sectionOther
)

func headerOf(line string) (section, bool) {
	t := strings.TrimSpace(line)
	switch {
	case t == stdoutHeader:
		return sectionStdout, true
	case t == stderrHeader:
		return sectionStderr, true
	case strings.HasPrefix(t, diagnosticsHeader):
		return sectionOther, true
	}
	return sectionOther, false
}

// streamBuf holds the bytes of one stream that have not been read past yet.
// Lines are joined with "\n", so a line's separator is written when the
// next line of the same stream arrives.
type streamBuf struct {
	base  int64
	data  []byte
	lines int
}

func (b *streamBuf) appendLine(line string) {
	if b.lines > 0 {
		b.data = append(b.data, '\n')
	}
	b.data = append(b.data, line...)
	b.lines++
}

func (b *streamBuf) end() int64 { return b.base + int64(len(b.data)) }

// read returns at most size bytes at offset and releases everything before
// offset.
func (b *streamBuf) read(offset int64, size int) (string, error) {
	if offset < b.base {
		return "", fmt.Errorf("offset %d was already consumed, log is retained from %d", offset, b.base)
	}
	if offset >= b.end() {
		return "", nil
	}
	if skip := offset - b.base; skip > 0 {
		b.data = append([]byte(nil), b.data[skip:]...)
		b.base = offset
	}
	n := min(size, len(b.data))
	return string(b.data[:n]), nil
}

// lineLog mirrors the combined log Livy serves for a batch.
//
// Livy pages that log by line index and builds it as the stdout header, the
// stdout lines, the stderr header, the stderr lines and optional YARN
// diagnostics. New stdout lines are inserted in front of the stderr header,
// so stderr positions are derived from the stdout count on every scan
// instead of being remembered.
type lineLog struct {
	mu      sync.Mutex
	started bool
	// start is the index of the first stdout line: 1 behind a stdout
	// header, 0 for a log without headers.
	start  int
	stdout streamBuf
	stderr streamBuf
}

func (l *lineLog) buf(stream LogType) *streamBuf {
	if stream == LogStderr {
		return &l.stderr
	}
	return &l.stdout
}

// pageFunc fetches up to size lines of the combined log starting at from.
type pageFunc func(from, size int) ([]string, error)

// refresh pulls new lines until the wanted stream reaches byte position
// need or the server has nothing more.
func (l *lineLog) refresh(fetch pageFunc, want LogType, need int64) error {
	if !l.started {
		lines, err := fetch(0, 1)
		if err != nil {
			return err
		}
		if len(lines) == 0 {
			return nil
		}
		l.started = true
		if sec, ok := headerOf(lines[0]); ok && sec == sectionStdout {
			l.start = 1
		}
	}

	for {
		full, more, err := l.scan(fetch)
		if err != nil {
			return err
		}
		if !full || !more || l.buf(want).end() >= need {
			return nil
		}
	}
}

// scan reads one page at the first unseen stdout position and, once the
// stderr header is found, one page at the first unseen stderr position.
// full reports whether the last page was a full page; more is false once
// the scan reached the diagnostics trailer.
func (l *lineLog) scan(fetch pageFunc) (full, more bool, err error) {
	from := l.start + l.stdout.lines
	lines, err := fetch(from, LogLinePage)
	if err != nil {
		return false, false, err
	}

	stderrAt := -1
	for i, line := range lines {
		sec, header := headerOf(line)
		if header && sec == sectionStderr {
			stderrAt = from + i
			break
		}
		if header && sec == sectionOther {
			return false, false, nil
		}
		// Only line 0 can be the stdout header; later copies are output.
		l.stdout.appendLine(line)
	}
	if stderrAt < 0 {
		return len(lines) == LogLinePage, true, nil
	}

	from = stderrAt + 1 + l.stderr.lines
	lines, err = fetch(from, LogLinePage)
	if err != nil {
		return false, false, err
	}
	for _, line := range lines {
		if sec, header := headerOf(line); header && sec != sectionStdout {
			return false, false, nil
		}
		l.stderr.appendLine(line)
	}
	return len(lines) == LogLinePage, true, nil
}
