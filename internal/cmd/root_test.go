package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/livyctl/internal/config"
	apperrors "github.com/3leaps/livyctl/internal/errors"
	"github.com/3leaps/livyctl/internal/server/handlers"
)

func TestSetVersionInfo_ReachesVersionEndpoint(t *testing.T) {
	orig := versionInfo
	t.Cleanup(func() { SetVersionInfo(orig.Version, orig.Commit, orig.BuildDate) })

	SetVersionInfo("0.3.1", "4f2c9e1", "2026-10-01")
	assert.Equal(t, VersionInfo{Version: "0.3.1", Commit: "4f2c9e1", BuildDate: "2026-10-01"}, versionInfo)

	rec := httptest.NewRecorder()
	handlers.VersionHandler(rec, httptest.NewRequest(http.MethodGet, "/version", nil))
	var resp handlers.VersionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "0.3.1", resp.Version)
	assert.Equal(t, "4f2c9e1", resp.Commit)
}

func TestSetDefaults_MirrorsConfigDefaults(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	setDefaults()
	for key, want := range config.Defaults() {
		assert.Equal(t, fmt.Sprint(want), fmt.Sprint(viper.Get(key)), key)
	}
	assert.Equal(t, "livyctl-uploads", viper.GetString("deploy.folder"))
	assert.Equal(t, "5s", viper.GetString("submission.busy_retry_delay"))
}

func TestAppDataDir(t *testing.T) {
	origDataDir, origIdentity := dataDir, appIdentity
	t.Cleanup(func() { dataDir, appIdentity = origDataDir, origIdentity })

	dataDir = "/tmp/livyctl-data"
	dir, err := appDataDir()
	require.NoError(t, err)
	assert.Equal(t, "/tmp/livyctl-data", dir)

	dataDir = ""
	appIdentity = nil
	assert.Nil(t, GetAppIdentity())
	_, err = appDataDir()
	assert.Error(t, err)

	appIdentity = &config.Identity{BinaryName: "livyctl", EnvPrefix: "LIVYCTL_", ConfigName: "livyctl"}
	dir, err = appDataDir()
	require.NoError(t, err)
	assert.Contains(t, dir, "livyctl")
}

func TestExitError(t *testing.T) {
	cause := errors.New("yaml: line 3: did not find expected key")
	err := exitError(foundry.ExitInvalidArgument, "Invalid manifest", cause)
	assert.Equal(t, foundry.ExitInvalidArgument, apperrors.ExitCode(err))
	assert.ErrorContains(t, err, "did not find expected key")

	err = exitError(foundry.ExitFileNotFound, "Manifest not found", nil)
	assert.Equal(t, foundry.ExitFileNotFound, apperrors.ExitCode(err))
}
