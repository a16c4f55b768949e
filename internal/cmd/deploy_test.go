package cmd

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/3leaps/livyctl/internal/errors"
	"github.com/3leaps/livyctl/pkg/cluster"
	"github.com/3leaps/livyctl/pkg/output"
	"github.com/3leaps/livyctl/pkg/preflight"
)

// linkFileCluster registers a linked cluster whose uploads land in a temp dir.
func linkFileCluster(t *testing.T, ctx context.Context) string {
	t.Helper()
	storeDir := t.TempDir()
	reg, closeReg, err := openRegistry(ctx)
	require.NoError(t, err)
	defer closeReg()
	require.NoError(t, reg.AddLinkedCluster(ctx, cluster.ClusterDetail{
		Name:          "spark-dev",
		ConnectionURL: "https://spark-dev.example.net/livy",
		Origin:        cluster.OriginLinked,
		LinkKind:      cluster.LinkLivy,
		StorageURI:    "file://" + filepath.ToSlash(storeDir),
	}))
	return storeDir
}

func runDeployWith(t *testing.T, ctx context.Context, c *cobra.Command, args ...string) (string, error) {
	t.Helper()
	c.SetContext(ctx)
	require.NoError(t, c.ParseFlags(args))
	return captureStdout(t, func() error { return c.RunE(c, c.Flags().Args()) })
}

func decodeOne(t *testing.T, out string, wantType string, payload any) {
	t.Helper()
	var rec output.Record
	require.NoError(t, json.Unmarshal([]byte(out), &rec))
	assert.Equal(t, wantType, rec.Type)
	assert.Equal(t, "spark-dev", rec.Cluster)
	require.NoError(t, json.Unmarshal(rec.Data, payload))
}

func TestDeployUploadAndCleanup(t *testing.T) {
	ctx := setupCmdEnv(t)
	storeDir := linkFileCluster(t, ctx)
	jar := writeTestFile(t, "app.jar", "PK\x03\x04 fake jar")

	out, err := runDeployWith(t, ctx, newDeployUploadCommand(), "--cluster", "spark-dev", "--json", jar)
	require.NoError(t, err)
	var up output.UploadRecord
	decodeOne(t, out, output.TypeUpload, &up)
	assert.Equal(t, 1, up.Attempts)
	assert.Contains(t, up.RemoteURI, "/livyctl-uploads/")
	assert.Contains(t, up.RemoteURI, "/app.jar")

	uploads, err := filepath.Glob(filepath.Join(storeDir, "livyctl-uploads", "*", "app.jar"))
	require.NoError(t, err)
	require.Len(t, uploads, 1)

	out, err = runDeployWith(t, ctx, newDeployCleanupCommand(), "--cluster", "spark-dev", "--json", "--older-than", "24h")
	require.NoError(t, err)
	var kept output.UploadRecord
	decodeOne(t, out, output.TypeUpload, &kept)
	assert.Empty(t, kept.Removed)

	old := time.Now().Add(-48 * time.Hour)
	require.NoError(t, os.Chtimes(uploads[0], old, old))

	out, err = runDeployWith(t, ctx, newDeployCleanupCommand(), "--cluster", "spark-dev", "--json", "--older-than", "24h")
	require.NoError(t, err)
	var removed output.UploadRecord
	decodeOne(t, out, output.TypeUpload, &removed)
	assert.Len(t, removed.Removed, 1)
	assert.Equal(t, 1, removed.Objects)
	assert.NoFileExists(t, uploads[0])
}

func TestDeployUpload_MissingArtifact(t *testing.T) {
	ctx := setupCmdEnv(t)
	linkFileCluster(t, ctx)

	_, err := runDeployWith(t, ctx, newDeployUploadCommand(), "--cluster", "spark-dev", filepath.Join(t.TempDir(), "missing.jar"))
	require.Error(t, err)
	assert.Equal(t, foundry.ExitFileNotFound, apperrors.ExitCode(err))
}

func TestDeployPreflight(t *testing.T) {
	ctx := setupCmdEnv(t)
	linkFileCluster(t, ctx)

	out, err := runDeployWith(t, ctx, newDeployPreflightCommand(), "--cluster", "spark-dev", "--json", "--write-probe")
	require.NoError(t, err)
	var pf output.PreflightRecord
	decodeOne(t, out, output.TypePreflight, &pf)
	assert.Equal(t, string(preflight.ModeWriteProbe), pf.Mode)
	require.Len(t, pf.Results, 4)
	for _, r := range pf.Results {
		assert.True(t, r.Allowed, r.Capability)
	}
}

func TestDeployCleanup_RejectsNonPositiveAge(t *testing.T) {
	ctx := setupCmdEnv(t)

	_, err := runDeployWith(t, ctx, newDeployCleanupCommand(), "--cluster", "spark-dev", "--older-than", "0s")
	require.Error(t, err)
	assert.Equal(t, foundry.ExitInvalidArgument, apperrors.ExitCode(err))
}
