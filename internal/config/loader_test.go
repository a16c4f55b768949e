package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// moduleRoot walks up from the test's working directory to go.mod.
func moduleRoot(t *testing.T) string {
	t.Helper()
	dir, err := os.Getwd()
	require.NoError(t, err)
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		require.NotEqual(t, parent, dir, "no go.mod above the test directory")
		dir = parent
	}
}

// withoutIdentity clears package state and reloads defaults afterwards.
func withoutIdentity(t *testing.T) {
	t.Helper()
	configMu.Lock()
	appIdentity, appConfig = nil, nil
	configMu.Unlock()
	t.Cleanup(func() { _, _ = Load(context.Background()) })
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "localhost", cfg.Server.Host)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 30*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, 120*time.Second, cfg.Server.IdleTimeout)
	assert.Equal(t, 10*time.Second, cfg.Server.ShutdownTimeout)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "CONSOLE", cfg.Logging.Profile)
	assert.True(t, cfg.Metrics.Enabled)
	assert.Equal(t, 9090, cfg.Metrics.Port)
	assert.True(t, cfg.Health.Enabled)
	assert.False(t, cfg.Debug.PprofEnabled)

	assert.Equal(t, 3, cfg.Livy.RetriesMax)
	assert.Equal(t, 10*time.Second, cfg.Livy.RetryDelay)
	assert.Equal(t, 5*time.Second, cfg.Submission.BusyRetryDelay)
	assert.Equal(t, 3, cfg.Deploy.Attempts)
	assert.Equal(t, "livyctl-uploads", cfg.Deploy.Folder)
	assert.Equal(t, "file", cfg.Store.Backend)
	assert.Empty(t, cfg.Azure.SubscriptionIDs)

	assert.Same(t, cfg, GetConfig())
}

func TestLoad_Precedence(t *testing.T) {
	tests := []struct {
		name      string
		env       map[string]string
		overrides map[string]any
		check     func(t *testing.T, cfg *Config)
	}{
		{
			name: "env over defaults",
			env:  map[string]string{"LIVYCTL_PORT": "3000", "LIVYCTL_LOG_LEVEL": "warn", "LIVYCTL_METRICS_ENABLED": "false"},
			check: func(t *testing.T, cfg *Config) {
				assert.Equal(t, 3000, cfg.Server.Port)
				assert.Equal(t, "warn", cfg.Logging.Level)
				assert.False(t, cfg.Metrics.Enabled)
			},
		},
		{
			name:      "overrides leave other keys alone",
			overrides: map[string]any{"server": map[string]any{"host": "0.0.0.0", "port": 9000}},
			check: func(t *testing.T, cfg *Config) {
				assert.Equal(t, "0.0.0.0", cfg.Server.Host)
				assert.Equal(t, 9000, cfg.Server.Port)
				assert.Equal(t, 9090, cfg.Metrics.Port)
			},
		},
		{
			name:      "overrides beat env",
			env:       map[string]string{"LIVYCTL_PORT": "4000"},
			overrides: map[string]any{"server": map[string]any{"port": 5000}},
			check: func(t *testing.T, cfg *Config) {
				assert.Equal(t, 5000, cfg.Server.Port)
			},
		},
		{
			name: "durations from env",
			env:  map[string]string{"LIVYCTL_READ_TIMEOUT": "45s", "LIVYCTL_SHUTDOWN_TIMEOUT": "5m", "LIVYCTL_LIVY_POLL_INTERVAL": "500ms"},
			check: func(t *testing.T, cfg *Config) {
				assert.Equal(t, 45*time.Second, cfg.Server.ReadTimeout)
				assert.Equal(t, 5*time.Minute, cfg.Server.ShutdownTimeout)
				assert.Equal(t, 500*time.Millisecond, cfg.Livy.PollInterval)
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			var overrides []map[string]any
			if tt.overrides != nil {
				overrides = append(overrides, tt.overrides)
			}
			cfg, err := Load(context.Background(), overrides...)
			require.NoError(t, err)
			tt.check(t, cfg)
			assert.Same(t, cfg, GetConfig())
		})
	}
}

func TestLoad_CIWorkspaceOutsideHome(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv("CI", "true")
	t.Setenv("FULMEN_WORKSPACE_ROOT", moduleRoot(t))

	_, err := Load(context.Background())
	require.NoError(t, err)
}

func TestEnvSpecs(t *testing.T) {
	_, err := Load(context.Background())
	require.NoError(t, err)

	names := make(map[string]string)
	for _, s := range getEnvSpecs() {
		assert.Contains(t, s.Name, "LIVYCTL_")
		assert.NotEmpty(t, s.Path, s.Name)
		names[s.Name] = s.Path
	}
	assert.Equal(t, "logging.level", names["LIVYCTL_LOG_LEVEL"])
	assert.Equal(t, "server.port", names["LIVYCTL_PORT"])
	assert.Equal(t, "deploy.s3.bucket", names["LIVYCTL_S3_BUCKET"])
	assert.Equal(t, "submission.busy_retry_delay", names["LIVYCTL_BUSY_RETRY_DELAY"])
}

func TestNoIdentity(t *testing.T) {
	withoutIdentity(t)
	assert.Empty(t, getUserConfigPaths())
	assert.Empty(t, getEnvSpecs())
}

func TestFindProjectRoot_CIHints(t *testing.T) {
	root := moduleRoot(t)
	tests := []struct {
		name string
		env  map[string]string
		want string
	}{
		{name: "no hints", env: map[string]string{"CI": "true", "FULMEN_WORKSPACE_ROOT": "", "GITHUB_WORKSPACE": "", "CI_PROJECT_DIR": "", "WORKSPACE": ""}},
		{name: "relative hint ignored", env: map[string]string{"CI": "true", "FULMEN_WORKSPACE_ROOT": "./relative/path"}},
		{name: "missing hint ignored", env: map[string]string{"CI": "true", "FULMEN_WORKSPACE_ROOT": "/nonexistent/livyctl/workspace"}},
		{name: "hint not containing cwd ignored", env: map[string]string{"CI": "true", "FULMEN_WORKSPACE_ROOT": os.TempDir()}},
		{name: "github workspace", env: map[string]string{"GITHUB_ACTIONS": "true", "GITHUB_WORKSPACE": root}, want: root},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			got, err := findProjectRoot()
			require.NoError(t, err)
			if tt.want != "" {
				assert.Equal(t, tt.want, got)
				return
			}
			assert.NotEmpty(t, got)
		})
	}
}

func TestEnvListAndNestedOverrides(t *testing.T) {
	ctx := context.Background()
	t.Setenv("LIVYCTL_AZURE_SUBSCRIPTION_IDS", "sub-a,sub-b")
	t.Setenv("LIVYCTL_S3_BUCKET", "artifacts")
	t.Setenv("LIVYCTL_BUSY_RETRY_DELAY", "250ms")

	cfg, err := Load(ctx, map[string]any{
		"deploy": map[string]any{"backend": "s3", "attempts": 5},
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"sub-a", "sub-b"}, cfg.Azure.SubscriptionIDs)
	assert.Equal(t, "artifacts", cfg.Deploy.S3.Bucket)
	assert.Equal(t, "s3", cfg.Deploy.Backend)
	assert.Equal(t, 5, cfg.Deploy.Attempts)
	assert.Equal(t, 250*time.Millisecond, cfg.Submission.BusyRetryDelay)
}

func TestExplicitConfigFile(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "livyctl.yaml")
	require.NoError(t, os.WriteFile(path, []byte("livy:\n  retries_max: 7\nstore:\n  backend: sqlite\n"), 0o644))

	SetConfigFile(path)
	defer SetConfigFile("")

	cfg, err := Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.Livy.RetriesMax)
	assert.Equal(t, "sqlite", cfg.Store.Backend)

	t.Setenv("LIVYCTL_LIVY_RETRIES_MAX", "2")
	cfg, err = Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, cfg.Livy.RetriesMax, "env beats config file")
}

func TestExplicitConfigFileMissing(t *testing.T) {
	SetConfigFile(filepath.Join(t.TempDir(), "missing.yaml"))
	defer SetConfigFile("")

	_, err := Load(context.Background())
	assert.Error(t, err)
}

func TestValidateRejectsBadValues(t *testing.T) {
	_, err := Load(context.Background(), map[string]any{
		"deploy": map[string]any{"attempts": 0},
		"store":  map[string]any{"backend": "redis"},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "deploy.attempts")
	assert.Contains(t, err.Error(), "store.backend")
}

func TestFlatten(t *testing.T) {
	got := flatten("", map[string]any{
		"a": 1,
		"b": map[string]any{"c": "x", "d": map[string]any{"e": true}},
	})
	assert.Equal(t, map[string]any{"a": 1, "b.c": "x", "b.d.e": true}, got)
}
