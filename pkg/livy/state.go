package livy

import "strings"

// State is the lifecycle state of a remote batch job.
//
// States are mirrored from the remote service; the client never computes a
// state itself. Unrecognised remote strings parse to StateUnknown so new
// service-side states do not break polling.
type State string

const (
	StateWaiting    State = "WAITING"
	StateRunning    State = "RUNNING"
	StateAvailable  State = "AVAILABLE"
	StateError      State = "ERROR"
	StateCancelling State = "CANCELLING"
	StateCancelled  State = "CANCELLED"
	StateUnknown    State = "UNKNOWN"
)

// livyStates maps the Livy batch vocabulary onto State.
var livyStates = map[string]State{
	"not_started":   StateWaiting,
	"starting":      StateWaiting,
	"running":       StateRunning,
	"busy":          StateRunning,
	"idle":          StateRunning,
	"recovering":    StateRunning,
	"success":       StateAvailable,
	"error":         StateError,
	"dead":          StateError,
	"shutting_down": StateCancelling,
	"killed":        StateCancelled,
}

// ParseState converts a remote state string, case-insensitively.
func ParseState(raw string) State {
	s := strings.TrimSpace(raw)
	if s == "" {
		return StateUnknown
	}
	if st, ok := livyStates[strings.ToLower(s)]; ok {
		return st
	}
	switch st := State(strings.ToUpper(s)); st {
	case StateWaiting, StateRunning, StateAvailable, StateError, StateCancelling, StateCancelled:
		return st
	}
	return StateUnknown
}

// IsTerminal reports whether no further transitions are expected.
func (s State) IsTerminal() bool {
	switch s {
	case StateAvailable, StateError, StateCancelled:
		return true
	}
	return false
}

// IsSuccess reports whether the job finished successfully.
func (s State) IsSuccess() bool {
	return s == StateAvailable
}

func (s State) String() string {
	return string(s)
}

// busyStates is the literal set of raw remote states meaning the cluster
// has accepted the job but not started it yet.
var busyStates = map[string]struct{}{
	"starting":    {},
	"not_started": {},
	"running":     {},
}

// IsBusy reports whether raw is one of "starting", "not_started" or
// "running". The comparison is exact.
func IsBusy(raw string) bool {
	_, ok := busyStates[raw]
	return ok
}
