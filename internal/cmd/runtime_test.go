package cmd

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/livyctl/internal/config"
	"github.com/3leaps/livyctl/pkg/cluster"
	"github.com/3leaps/livyctl/pkg/livy"
	"github.com/3leaps/livyctl/pkg/provider/file"
)

func TestJoinFolder(t *testing.T) {
	assert.Equal(t, "livyctl-uploads", joinFolder("", "livyctl-uploads"))
	assert.Equal(t, "team/jobs/livyctl-uploads", joinFolder("team/jobs", "livyctl-uploads"))
}

func TestStoreForURI_File(t *testing.T) {
	dir := t.TempDir()
	p, prefix, err := storeForURI(context.Background(), "file://"+filepath.ToSlash(dir), config.DeployConfig{})
	require.NoError(t, err)
	defer func() { _ = p.Close() }()

	assert.Empty(t, prefix)
	assert.IsType(t, &file.Provider{}, p)
}

func TestStoreForURI_Errors(t *testing.T) {
	tests := []struct {
		name       string
		uri        string
		errContain string
	}{
		{name: "unsupported scheme", uri: "gs://bucket/jobs", errContain: "unsupported storage uri scheme"},
		{name: "wasbs without container", uri: "wasbs://acct.blob.core.windows.net/jobs", errContain: "container@account"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := storeForURI(context.Background(), tt.uri, config.DeployConfig{})
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errContain)
		})
	}
}

func TestArtifactStore(t *testing.T) {
	t.Run("backend setting wins over storage uri", func(t *testing.T) {
		dir := t.TempDir()
		dc := config.DeployConfig{Backend: "file", File: config.FileConfig{BaseDir: dir}}
		p, prefix, err := artifactStore(context.Background(), dc, "gs://ignored/prefix")
		require.NoError(t, err)
		defer func() { _ = p.Close() }()
		assert.Empty(t, prefix)
	})

	t.Run("unknown backend", func(t *testing.T) {
		_, _, err := artifactStore(context.Background(), config.DeployConfig{Backend: "gcs"}, "")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unknown deploy backend")
	})

	t.Run("nothing configured", func(t *testing.T) {
		_, _, err := artifactStore(context.Background(), config.DeployConfig{}, "")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "no artifact store configured")
	})
}

func TestClusterAuth(t *testing.T) {
	cfg := &config.Config{}

	auth, err := clusterAuth(cluster.ClusterDetail{Username: "admin", Password: "secret"}, cfg)
	require.NoError(t, err)
	assert.Equal(t, livy.BasicAuth{Username: "admin", Password: "secret"}, auth)

	auth, err = clusterAuth(cluster.ClusterDetail{Origin: cluster.OriginEmulator}, cfg)
	require.NoError(t, err)
	assert.Nil(t, auth)
}

func TestParseLinkKind(t *testing.T) {
	tests := []struct {
		in         string
		wantOrigin cluster.Origin
		wantKind   cluster.LinkKind
		wantErr    bool
	}{
		{in: "", wantOrigin: cluster.OriginLinked, wantKind: cluster.LinkLivy},
		{in: "livy", wantOrigin: cluster.OriginLinked, wantKind: cluster.LinkLivy},
		{in: "HDI", wantOrigin: cluster.OriginLinked, wantKind: cluster.LinkHDIAdditional},
		{in: "mfa", wantOrigin: cluster.OriginLinked, wantKind: cluster.LinkHDIMFA},
		{in: "sqlbigdata", wantOrigin: cluster.OriginSQLBigData},
		{in: "yarn", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			origin, kind, err := parseLinkKind(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantOrigin, origin)
			assert.Equal(t, tt.wantKind, kind)
		})
	}
}

func TestRegistryRoundTripThroughDataDir(t *testing.T) {
	ctx := setupCmdEnv(t)

	reg, closeReg, err := openRegistry(ctx)
	require.NoError(t, err)
	require.NoError(t, reg.AddLinkedCluster(ctx, cluster.ClusterDetail{
		Name:          "spark-dev",
		ConnectionURL: "https://spark-dev.example.net/livy",
		Origin:        cluster.OriginLinked,
		LinkKind:      cluster.LinkLivy,
	}))
	closeReg()

	reg, closeReg, err = openRegistry(ctx)
	require.NoError(t, err)
	defer closeReg()
	c, err := resolveCluster(ctx, reg, "spark-dev")
	require.NoError(t, err)
	assert.Equal(t, "https://spark-dev.example.net/livy", c.ConnectionURL)

	_, err = resolveCluster(ctx, reg, "missing")
	assert.ErrorIs(t, err, cluster.ErrClusterNotFound)
}
