// Package livy implements a client for Livy-compatible Spark batch
// endpoints: job creation, state polling, log paging and kill.
package livy

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	// DefaultPollInterval is the wait between state polls of a live job.
	DefaultPollInterval = 2 * time.Second

	// DefaultTimeout bounds a single REST request.
	DefaultTimeout = 60 * time.Second

	maxResponseBytes = 16 << 20
	maxErrorSnippet  = 512
	diagnosticLines  = 10
)

// ErrInvalidOffset rejects log fetches from a negative offset or from
// before data already returned on the same handle.
var ErrInvalidOffset = errors.New("invalid log offset")

// Config configures a Client.
type Config struct {
	// BaseURL is the Livy endpoint, e.g. https://cluster.example.net/livy.
	BaseURL string

	// HTTPClient overrides the transport. Timeout is ignored when set.
	HTTPClient *http.Client

	// Timeout bounds each request. Zero uses DefaultTimeout.
	Timeout time.Duration

	// Auth decorates requests with credentials. Nil sends anonymous requests.
	Auth Authenticator

	// RateLimit caps requests per second. Zero disables throttling.
	RateLimit float64

	// Retry is copied onto every handle created by the client.
	Retry RetryPolicy

	// PollInterval is the wait between state polls in AwaitDone.
	PollInterval time.Duration

	// Sleep replaces the context-aware sleep, for tests.
	Sleep func(ctx context.Context, d time.Duration) error

	Logger *zap.Logger
}

// Client talks to one Livy endpoint. It is safe for concurrent use.
type Client struct {
	baseURL      *url.URL
	http         *http.Client
	auth         Authenticator
	limiter      *rate.Limiter
	retry        RetryPolicy
	pollInterval time.Duration
	sleep        func(ctx context.Context, d time.Duration) error
	logger       *zap.Logger
}

// New creates a client for cfg.BaseURL.
func New(cfg Config) (*Client, error) {
	raw := strings.TrimSpace(cfg.BaseURL)
	if raw == "" {
		return nil, fmt.Errorf("livy base url is required")
	}
	u, err := url.Parse(strings.TrimRight(raw, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid livy base url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("invalid livy base url %q: scheme must be http or https", raw)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("invalid livy base url %q: missing host", raw)
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = DefaultTimeout
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	retry := cfg.Retry
	if retry.RetriesMax < 0 {
		retry.RetriesMax = 0
	}
	if retry == (RetryPolicy{}) {
		retry = DefaultRetryPolicy()
	}

	poll := cfg.PollInterval
	if poll <= 0 {
		poll = DefaultPollInterval
	}

	c := &Client{
		baseURL:      u,
		http:         httpClient,
		auth:         cfg.Auth,
		retry:        retry,
		pollInterval: poll,
		sleep:        cfg.Sleep,
		logger:       cfg.Logger,
	}
	if c.sleep == nil {
		c.sleep = SleepContext
	}
	if c.logger == nil {
		c.logger = zap.NewNop()
	}
	if cfg.RateLimit > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), 1)
	}
	return c, nil
}

// BaseURL returns the endpoint the client talks to.
func (c *Client) BaseURL() string {
	return c.baseURL.String()
}

// Handle returns a handle for an existing batch on this endpoint.
func (c *Client) Handle(id int) *BatchJobHandle {
	return NewHandle(id, c.baseURL.String(), c.retry)
}

// Create submits a batch job.
//
// Any non-2xx response other than an authentication failure, and any
// malformed response body, is reported as ErrSubmission.
func (c *Client) Create(ctx context.Context, req *BatchRequest) (*BatchJobHandle, error) {
	const op = "Create"
	if req == nil || strings.TrimSpace(req.File) == "" {
		return nil, newError(op, ErrSubmission, 0, errors.New("batch file is required"))
	}

	status, data, err := c.do(ctx, op, http.MethodPost, "batches", nil, req)
	if err != nil {
		var lerr *Error
		if errors.As(err, &lerr) && lerr.StatusCode != 0 && !errors.Is(lerr.Kind, ErrAuth) {
			lerr.Kind = ErrSubmission
		}
		return nil, err
	}

	var idOnly struct {
		ID *int `json:"id"`
	}
	var batch Batch
	if err := json.Unmarshal(data, &idOnly); err != nil {
		return nil, newError(op, ErrSubmission, status, fmt.Errorf("%w: %v", ErrParse, err))
	}
	if idOnly.ID == nil {
		return nil, newError(op, ErrSubmission, status, fmt.Errorf("%w: response has no batch id", ErrParse))
	}
	if err := json.Unmarshal(data, &batch); err != nil {
		return nil, newError(op, ErrSubmission, status, fmt.Errorf("%w: %v", ErrParse, err))
	}

	h := NewHandle(batch.ID, c.baseURL.String(), c.retry)
	h.observeBatch(&batch)
	c.logger.Debug("Batch created", zap.Int("batch_id", batch.ID), zap.String("state", batch.State))
	return h, nil
}

// Kill requests deletion of the batch. Failures are logged and swallowed.
func (c *Client) Kill(ctx context.Context, h *BatchJobHandle) {
	if h == nil {
		return
	}
	if _, _, err := c.do(ctx, "Kill", http.MethodDelete, "batches/"+strconv.Itoa(h.ID), nil, nil); err != nil {
		c.logger.Debug("Kill batch failed", zap.Int("batch_id", h.ID), zap.Error(err))
	}
}

// PollState fetches the current state of the batch and records it on the
// handle. Transport failures are returned as ErrNetwork; retrying is the
// caller's decision.
func (c *Client) PollState(ctx context.Context, h *BatchJobHandle) (State, string, error) {
	const op = "PollState"
	if h == nil {
		return StateUnknown, "", newError(op, ErrNotFound, 0, errors.New("nil batch handle"))
	}
	status, data, err := c.do(ctx, op, http.MethodGet, "batches/"+strconv.Itoa(h.ID)+"/state", nil, nil)
	if err != nil {
		return StateUnknown, "", err
	}
	var resp StateResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return StateUnknown, "", newError(op, ErrParse, status, err)
	}
	return h.observe(resp.State), resp.State, nil
}

// FetchLog returns at most size bytes of one driver stream starting at
// offset and the offset to use for the next call. Reading past the end of
// the stream returns empty text and the unchanged offset.
//
// Livy serves a single combined log paged by line index. The client pages
// it into the handle and splits it at the stdout and stderr headers, so
// offsets are byte positions within one stream. Offsets must not go back
// behind what an earlier call on the same handle already returned.
func (c *Client) FetchLog(ctx context.Context, h *BatchJobHandle, stream LogType, offset int64, size int) (string, int64, error) {
	const op = "FetchLog"
	if size <= 0 {
		return "", offset, newError(op, ErrInvalidSize, 0, nil)
	}
	if offset < 0 {
		return "", offset, newError(op, ErrInvalidOffset, 0, nil)
	}
	if h == nil {
		return "", offset, newError(op, ErrNotFound, 0, errors.New("nil batch handle"))
	}
	if stream == "" {
		stream = LogStdout
	}

	l := &h.logs
	l.mu.Lock()
	defer l.mu.Unlock()

	buf := l.buf(stream)
	if need := offset + int64(size); buf.end() < need {
		page := func(from, size int) ([]string, error) {
			return c.logPage(ctx, h, from, size)
		}
		if err := l.refresh(page, stream, need); err != nil {
			return "", offset, err
		}
	}
	text, err := buf.read(offset, size)
	if err != nil {
		return "", offset, newError(op, ErrInvalidOffset, 0, err)
	}
	return text, offset + int64(len(text)), nil
}

// logPage fetches lines [from, from+size) of the combined batch log.
func (c *Client) logPage(ctx context.Context, h *BatchJobHandle, from, size int) ([]string, error) {
	const op = "FetchLog"
	q := url.Values{}
	q.Set("from", strconv.Itoa(from))
	q.Set("size", strconv.Itoa(size))

	status, data, err := c.do(ctx, op, http.MethodGet, "batches/"+strconv.Itoa(h.ID)+"/log", q, nil)
	if err != nil {
		return nil, err
	}
	var resp LogResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, newError(op, ErrParse, status, err)
	}
	switch {
	case resp.From > from:
		return nil, newError(op, ErrParse, status, fmt.Errorf("log page starts at line %d, requested %d", resp.From, from))
	case resp.From < from:
		skip := from - resp.From
		if skip >= len(resp.Log) {
			return nil, nil
		}
		resp.Log = resp.Log[skip:]
	}
	return resp.Log, nil
}

// Get fetches the full batch view and records state and app info on the handle.
func (c *Client) Get(ctx context.Context, h *BatchJobHandle) (*Batch, error) {
	const op = "Get"
	if h == nil {
		return nil, newError(op, ErrNotFound, 0, errors.New("nil batch handle"))
	}
	status, data, err := c.do(ctx, op, http.MethodGet, "batches/"+strconv.Itoa(h.ID), nil, nil)
	if err != nil {
		return nil, err
	}
	var b Batch
	if err := json.Unmarshal(data, &b); err != nil {
		return nil, newError(op, ErrParse, status, err)
	}
	h.observeBatch(&b)
	return &b, nil
}

// List returns a page of batches known to the endpoint.
func (c *Client) List(ctx context.Context, from, size int) (*BatchList, error) {
	const op = "List"
	q := url.Values{}
	if from > 0 {
		q.Set("from", strconv.Itoa(from))
	}
	if size > 0 {
		q.Set("size", strconv.Itoa(size))
	}
	status, data, err := c.do(ctx, op, http.MethodGet, "batches", q, nil)
	if err != nil {
		return nil, err
	}
	var list BatchList
	if err := json.Unmarshal(data, &list); err != nil {
		return nil, newError(op, ErrParse, status, err)
	}
	return &list, nil
}

// SubmissionLog returns the submission log lines Livy keeps for the batch.
func (c *Client) SubmissionLog(ctx context.Context, h *BatchJobHandle) ([]string, error) {
	b, err := c.Get(ctx, h)
	if err != nil {
		return nil, err
	}
	return b.Log, nil
}

// AwaitDone polls until the batch reaches a terminal state and returns it
// with diagnostics. onState is called for the first observation and on
// every change of the raw state, in poll order.
//
// Consecutive network or not-found failures beyond h.Retry.RetriesMax are
// returned; every other failure is returned immediately.
func (c *Client) AwaitDone(ctx context.Context, h *BatchJobHandle, onState func(State, string)) (State, string, error) {
	failures := 0
	lastRaw := ""
	observed := false
	for {
		st, raw, err := c.PollState(ctx, h)
		if err != nil {
			if ctx.Err() != nil {
				return StateUnknown, "", ctx.Err()
			}
			if !IsNetwork(err) && !IsNotFound(err) {
				return StateUnknown, "", err
			}
			failures++
			if failures > h.Retry.RetriesMax {
				return StateUnknown, "", err
			}
			c.logger.Debug("Poll failed, retrying",
				zap.Int("batch_id", h.ID), zap.Int("attempt", failures), zap.Error(err))
			if err := c.sleep(ctx, h.Retry.Delay); err != nil {
				return StateUnknown, "", err
			}
			continue
		}
		failures = 0

		if !observed || raw != lastRaw {
			observed = true
			lastRaw = raw
			if onState != nil {
				onState(st, raw)
			}
		}
		if st.IsTerminal() {
			return st, c.diagnostics(ctx, h), nil
		}
		if err := c.sleep(ctx, c.pollInterval); err != nil {
			return StateUnknown, "", err
		}
	}
}

func (c *Client) diagnostics(ctx context.Context, h *BatchJobHandle) string {
	b, err := c.Get(ctx, h)
	if err != nil {
		return ""
	}
	lines := b.Log
	if len(lines) > diagnosticLines {
		lines = lines[len(lines)-diagnosticLines:]
	}
	return strings.Join(lines, "\n")
}

func (c *Client) do(ctx context.Context, op, method, path string, query url.Values, body any) (int, []byte, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return 0, nil, newError(op, ErrNetwork, 0, err)
		}
	}

	u := c.baseURL.JoinPath(path)
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}

	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return 0, nil, newError(op, ErrSubmission, 0, err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), reader)
	if err != nil {
		return 0, nil, newError(op, ErrNetwork, 0, err)
	}
	req.Header.Set("Accept", "application/json")
	// Livy rejects mutating requests without this header when CSRF
	// protection is enabled.
	req.Header.Set("X-Requested-By", "livyctl")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.auth != nil {
		if err := c.auth.Authenticate(ctx, req); err != nil {
			return 0, nil, err
		}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, nil, newError(op, ErrNetwork, 0, err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return resp.StatusCode, nil, newError(op, ErrNetwork, resp.StatusCode, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return resp.StatusCode, data, newError(op, kindForStatus(resp.StatusCode), resp.StatusCode, errors.New(snippet(data)))
	}
	return resp.StatusCode, data, nil
}

func snippet(data []byte) string {
	s := strings.TrimSpace(string(data))
	if s == "" {
		return "empty response body"
	}
	if len(s) > maxErrorSnippet {
		s = s[:maxErrorSnippet] + "..."
	}
	return s
}

// SleepContext waits for d or until ctx is done.
func SleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
