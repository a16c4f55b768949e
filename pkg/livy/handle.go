package livy

import (
	"sync"
	"time"
)

// Retry defaults for REST polling.
const (
	DefaultRetriesMax = 3
	DefaultRetryDelay = 10 * time.Second
)

// RetryPolicy bounds how many consecutive transient failures a poll loop
// tolerates and how long it waits between them.
type RetryPolicy struct {
	RetriesMax int
	Delay      time.Duration
}

// DefaultRetryPolicy returns the policy used when none is configured.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{RetriesMax: DefaultRetriesMax, Delay: DefaultRetryDelay}
}

// BatchJobHandle identifies one remote batch job owned by a submission
// session. Its state only changes through poll responses.
type BatchJobHandle struct {
	// ID is the batch ID assigned by the remote service.
	ID int

	// ConnectURI is the Livy base URL the batch was created on.
	ConnectURI string

	// Retry bounds polling on this handle.
	Retry RetryPolicy

	mu       sync.RWMutex
	state    State
	rawState string
	appID    string
	appInfo  map[string]string

	logs lineLog
}

// NewHandle returns a handle for an existing batch.
func NewHandle(id int, connectURI string, retry RetryPolicy) *BatchJobHandle {
	return &BatchJobHandle{ID: id, ConnectURI: connectURI, Retry: retry, state: StateUnknown}
}

// State returns the last observed state and the raw remote string.
func (h *BatchJobHandle) State() (State, string) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.state, h.rawState
}

// AppID returns the application ID reported by the cluster, if any.
func (h *BatchJobHandle) AppID() string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.appID
}

// AppInfo returns a copy of the last reported application info.
func (h *BatchJobHandle) AppInfo() map[string]string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make(map[string]string, len(h.appInfo))
	for k, v := range h.appInfo {
		out[k] = v
	}
	return out
}

func (h *BatchJobHandle) observe(raw string) State {
	st := ParseState(raw)
	h.mu.Lock()
	h.state = st
	h.rawState = raw
	h.mu.Unlock()
	return st
}

func (h *BatchJobHandle) observeBatch(b *Batch) {
	h.observe(b.State)
	h.mu.Lock()
	defer h.mu.Unlock()
	if b.AppID != "" {
		h.appID = b.AppID
	}
	if len(b.AppInfo) > 0 {
		h.appInfo = make(map[string]string, len(b.AppInfo))
		for k, v := range b.AppInfo {
			h.appInfo[k] = v
		}
	}
}
