package cmd

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/livyctl/internal/config"
	"github.com/3leaps/livyctl/internal/server/emulator"
	"github.com/3leaps/livyctl/pkg/metrics"
)

func TestEmulatorCheck(t *testing.T) {
	ctx := context.Background()
	assert.ErrorContains(t, emulatorCheck(nil)(ctx), "not started")
	assert.NoError(t, emulatorCheck(emulator.New(emulator.Options{}))(ctx))
}

func TestGathererCheck(t *testing.T) {
	ctx := context.Background()
	assert.ErrorContains(t, gathererCheck(nil)(ctx), "metrics registry not initialized")

	reg := prometheus.NewRegistry()
	require.NoError(t, metrics.NewEmulatorMetrics("livyctl_test_").Register(reg))
	assert.NoError(t, gathererCheck(reg).CheckHealth(ctx))
}

func TestIdentityCheck(t *testing.T) {
	tests := []struct {
		name    string
		id      *config.Identity
		wantErr string
	}{
		{name: "default identity", id: &config.DefaultIdentity},
		{name: "unset", wantErr: "not set"},
		{name: "no env prefix", id: &config.Identity{BinaryName: "livyctl", ConfigName: "livyctl"}, wantErr: "incomplete"},
		{name: "no config name", id: &config.Identity{BinaryName: "livyctl", EnvPrefix: "LIVYCTL_"}, wantErr: "incomplete"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := identityCheck(tt.id)(context.Background())
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}
