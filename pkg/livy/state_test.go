package livy

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseState(t *testing.T) {
	tests := []struct {
		raw  string
		want State
	}{
		{"not_started", StateWaiting},
		{"starting", StateWaiting},
		{"running", StateRunning},
		{"busy", StateRunning},
		{"idle", StateRunning},
		{"recovering", StateRunning},
		{"success", StateAvailable},
		{"error", StateError},
		{"dead", StateError},
		{"shutting_down", StateCancelling},
		{"killed", StateCancelled},
		{"  SUCCESS\n", StateAvailable},
		{"available", StateAvailable},
		{"Cancelled", StateCancelled},
		{"", StateUnknown},
		{"something_new", StateUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseState(tt.raw))
		})
	}
}

func TestState_Terminal(t *testing.T) {
	assert.True(t, StateAvailable.IsTerminal())
	assert.True(t, StateError.IsTerminal())
	assert.True(t, StateCancelled.IsTerminal())
	assert.False(t, StateWaiting.IsTerminal())
	assert.False(t, StateRunning.IsTerminal())
	assert.False(t, StateCancelling.IsTerminal())
	assert.False(t, StateUnknown.IsTerminal())

	assert.True(t, StateAvailable.IsSuccess())
	assert.False(t, StateError.IsSuccess())
}

func TestIsBusy_IsExact(t *testing.T) {
	for _, raw := range []string{"starting", "not_started", "running"} {
		assert.True(t, IsBusy(raw), raw)
	}
	for _, raw := range []string{"Running", " running", "busy", "idle", "success", "dead", ""} {
		assert.False(t, IsBusy(raw), raw)
	}
}
