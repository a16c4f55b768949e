package cmd

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/3leaps/livyctl/internal/config"
)

// setupCmdEnv points the data directory at a temp dir and loads a config
// tuned for fast tests.
func setupCmdEnv(t *testing.T) context.Context {
	t.Helper()
	origDataDir := dataDir
	dataDir = t.TempDir()
	t.Cleanup(func() { dataDir = origDataDir })

	ctx := context.Background()
	_, err := config.Load(ctx, map[string]any{
		"livy": map[string]any{
			"poll_interval":     "10ms",
			"log_poll_interval": "10ms",
			"retry_delay":       "10ms",
			"request_timeout":   "5s",
		},
		"submission": map[string]any{"busy_retry_delay": "10ms"},
		"deploy":     map[string]any{"delay": "1ms"},
	})
	require.NoError(t, err)
	return ctx
}

func writeTestFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}
