package file

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/livyctl/pkg/provider"
)

func TestNew_RequiresBaseDir(t *testing.T) {
	_, err := New(Config{BaseDir: "  "})
	assert.Error(t, err)
}

func TestProvider_PutHeadListDelete(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	p, err := New(Config{BaseDir: dir})
	require.NoError(t, err)

	body := "print('hello spark')\n"
	require.NoError(t, p.PutObject(ctx, "uploads/r1/job.py", strings.NewReader(body), int64(len(body))))
	require.NoError(t, p.PutObject(ctx, "uploads/r2/app.jar", strings.NewReader("jar"), 3))

	got, err := os.ReadFile(filepath.Join(dir, "uploads", "r1", "job.py"))
	require.NoError(t, err)
	assert.Equal(t, body, string(got))

	meta, err := p.Head(ctx, "uploads/r1/job.py")
	require.NoError(t, err)
	assert.Equal(t, int64(len(body)), meta.Size)

	objs, err := provider.ListAll(ctx, p, "uploads")
	require.NoError(t, err)
	require.Len(t, objs, 2)
	assert.Equal(t, "uploads/r1/job.py", objs[0].Key)
	assert.Equal(t, "uploads/r2/app.jar", objs[1].Key)

	require.NoError(t, p.DeleteObject(ctx, "uploads/r1/job.py"))
	_, err = p.Head(ctx, "uploads/r1/job.py")
	assert.True(t, provider.IsNotFound(err))

	// Deleting twice is not an error.
	require.NoError(t, p.DeleteObject(ctx, "uploads/r1/job.py"))
}

func TestProvider_ListPaginates(t *testing.T) {
	ctx := context.Background()
	p, err := New(Config{BaseDir: t.TempDir()})
	require.NoError(t, err)
	for _, k := range []string{"a/1", "a/2", "a/3"} {
		require.NoError(t, p.PutObject(ctx, k, strings.NewReader("x"), 1))
	}

	page, err := p.List(ctx, provider.ListOptions{Prefix: "a", MaxKeys: 2})
	require.NoError(t, err)
	assert.Len(t, page.Objects, 2)
	assert.True(t, page.IsTruncated)

	next, err := p.List(ctx, provider.ListOptions{Prefix: "a", MaxKeys: 2, ContinuationToken: page.ContinuationToken})
	require.NoError(t, err)
	require.Len(t, next.Objects, 1)
	assert.Equal(t, "a/3", next.Objects[0].Key)
	assert.False(t, next.IsTruncated)
}

func TestProvider_ClampsTraversal(t *testing.T) {
	dir := t.TempDir()
	p, err := New(Config{BaseDir: dir})
	require.NoError(t, err)

	assert.Equal(t, "etc/passwd", cleanKey("../../etc/passwd"))
	assert.Equal(t, "", cleanKey("/"))
	assert.Equal(t, filepath.Join(dir, "outside"), p.path("../outside"))

	require.NoError(t, p.PutObject(context.Background(), "../escape.jar", strings.NewReader("x"), 1))
	assert.FileExists(t, filepath.Join(dir, "escape.jar"))
}

func TestProvider_ListMissingPrefix(t *testing.T) {
	p, err := New(Config{BaseDir: t.TempDir()})
	require.NoError(t, err)

	page, err := p.List(context.Background(), provider.ListOptions{Prefix: "livyctl-uploads"})
	require.NoError(t, err)
	assert.Empty(t, page.Objects)
	assert.False(t, page.IsTruncated)
}

func TestProvider_URI(t *testing.T) {
	dir := t.TempDir()
	p, err := New(Config{BaseDir: dir})
	require.NoError(t, err)

	uri := p.URI("uploads/r1/app.jar")
	assert.True(t, strings.HasPrefix(uri, "file://"))
	assert.True(t, strings.HasSuffix(uri, "/uploads/r1/app.jar"))
}

func TestProvider_DeletePrefix(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	p, err := New(Config{BaseDir: dir})
	require.NoError(t, err)
	require.NoError(t, p.PutObject(ctx, "uploads/r1/app.jar", strings.NewReader("x"), 1))

	require.NoError(t, p.DeletePrefix(ctx, "uploads/r1"))
	_, err = os.Stat(filepath.Join(dir, "uploads", "r1"))
	assert.True(t, os.IsNotExist(err))

	assert.Error(t, p.DeletePrefix(ctx, ""))
	assert.Error(t, p.DeletePrefix(ctx, "/"))
}
