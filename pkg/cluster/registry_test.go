package cluster

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/livyctl/pkg/properties"
)

type memStore struct {
	mu    sync.Mutex
	props map[string]string
	unset []string
}

func newMemStore(kv ...string) *memStore {
	s := &memStore{props: map[string]string{}}
	for i := 0; i+1 < len(kv); i += 2 {
		s.props[kv[i]] = kv[i+1]
	}
	return s
}

func (s *memStore) Get(_ context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.props[key]
	return v, ok, nil
}

func (s *memStore) Set(_ context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.props[key] = value
	return nil
}

func (s *memStore) Unset(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.props, key)
	s.unset = append(s.unset, key)
	return nil
}

func (s *memStore) Close() error { return nil }

func sub(name, state string) ClusterDetail {
	return ClusterDetail{Name: name, ConnectionURL: "https://" + name + ".azurehdinsight.net/livy", State: state, Origin: OriginSubscription}
}

func linked(name string) ClusterDetail {
	return ClusterDetail{Name: name, ConnectionURL: "http://" + name + ":8998", Origin: OriginLinked, LinkKind: LinkLivy, Username: "admin"}
}

func names(cs []ClusterDetail) []string {
	out := make([]string, 0, len(cs))
	for _, c := range cs {
		out = append(out, c.Name)
	}
	return out
}

func TestRegistry_MergePrefersLinked(t *testing.T) {
	ctx := context.Background()
	r := NewRegistry(newMemStore(), StaticSource{Clusters: []ClusterDetail{sub("b", "Running"), sub("a", "Running")}}, nil)
	require.NoError(t, r.AddLinkedCluster(ctx, linked("a")))
	require.NoError(t, r.AddLinkedCluster(ctx, linked("c")))

	got := r.ClusterDetails(ctx)
	assert.Equal(t, []string{"a", "b", "c"}, names(got))
	assert.Equal(t, OriginLinked, got[0].Origin, "linked entry supersedes subscription entry")
	assert.Equal(t, "admin", got[0].Username)
	assert.Equal(t, OriginSubscription, got[1].Origin)
	assert.True(t, r.ListClusterSuccess())
}

func TestRegistry_SortsByName(t *testing.T) {
	r := NewRegistry(newMemStore(), StaticSource{Clusters: []ClusterDetail{sub("b", "Running"), sub("a", "Running"), sub("c", "Running")}}, nil)
	assert.Equal(t, []string{"a", "b", "c"}, names(r.ClusterDetails(context.Background())))
}

func TestRegistry_SQLBigDataDoesNotSupersede(t *testing.T) {
	ctx := context.Background()
	r := NewRegistry(newMemStore(), StaticSource{Clusters: []ClusterDetail{sub("a", "Running")}}, nil)
	require.NoError(t, r.AddLinkedCluster(ctx, ClusterDetail{Name: "a", ConnectionURL: "https://bdc:30443", Origin: OriginSQLBigData}))

	got := r.ClusterDetails(ctx)
	require.Len(t, got, 2)
	origins := []Origin{got[0].Origin, got[1].Origin}
	assert.ElementsMatch(t, []Origin{OriginSubscription, OriginSQLBigData}, origins)
}

func TestRegistry_SubscriptionFailureDegrades(t *testing.T) {
	ctx := context.Background()
	store := newMemStore(KeyEmulatorClusters, `[{"name":"emu","connectionUrl":"http://localhost:8998"}]`)
	r := NewRegistry(store, StaticSource{Err: errors.New("token expired")}, nil)

	got := r.ClusterDetails(ctx)
	assert.Equal(t, []string{"emu"}, names(got))
	assert.Equal(t, OriginEmulator, got[0].Origin)
	assert.False(t, r.ListClusterSuccess())
}

func TestRegistry_CorruptJSONClearsKeys(t *testing.T) {
	ctx := context.Background()
	store := newMemStore(
		KeyLivyLinkClusters, `[{"name":`,
		KeyAdditionalClusters, `[{"name":"x","connectionUrl":"http://x"}]`,
		KeyEmulatorClusters, `not json`,
	)
	r := NewRegistry(store, nil, nil)

	got := r.ClusterDetails(ctx)
	assert.Empty(t, got)
	assert.ElementsMatch(t, append(append([]string{}, linkedKeys...), KeyEmulatorClusters), store.unset)
	for _, k := range append(linkedKeys, KeyEmulatorClusters) {
		_, ok, _ := store.Get(ctx, k)
		assert.False(t, ok, k)
	}

	require.NoError(t, r.AddLinkedCluster(ctx, linked("fresh")))
	assert.Equal(t, []string{"fresh"}, names(r.LinkedClusters(ctx)))
}

func TestRegistry_PersistsByLinkKind(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	store, err := properties.Open(ctx, properties.Config{Dir: dir})
	require.NoError(t, err)

	r := NewRegistry(store, nil, nil)
	require.NoError(t, r.AddLinkedCluster(ctx, linked("livy")))
	require.NoError(t, r.AddLinkedCluster(ctx, ClusterDetail{Name: "mfa", ConnectionURL: "https://mfa.azurehdinsight.net/livy", Origin: OriginLinked, LinkKind: LinkHDIMFA}))
	require.NoError(t, r.AddEmulatorCluster(ctx, ClusterDetail{Name: "emu", ConnectionURL: "http://localhost:8998"}))

	raw, ok, err := store.Get(ctx, KeyAdditionalMFAClusters)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Contains(t, raw, `"mfa"`)
	assert.NotContains(t, raw, `"livy"`)

	reopened, err := properties.Open(ctx, properties.Config{Dir: dir})
	require.NoError(t, err)
	r2 := NewRegistry(reopened, nil, nil)
	got := r2.ClusterDetails(ctx)
	assert.Equal(t, []string{"emu", "livy", "mfa"}, names(got))
	assert.Equal(t, LinkLivy, got[1].LinkKind)
	assert.Equal(t, LinkHDIMFA, got[2].LinkKind)
	assert.Equal(t, OriginEmulator, got[0].Origin)
}

func TestRegistry_MutationsUpdateCache(t *testing.T) {
	ctx := context.Background()
	r := NewRegistry(newMemStore(), StaticSource{Clusters: []ClusterDetail{sub("a", "Running")}}, nil)
	r.ClusterDetails(ctx)

	require.NoError(t, r.AddLinkedCluster(ctx, linked("a")))
	cached := r.CachedClusters()
	require.Len(t, cached, 1)
	assert.Equal(t, OriginLinked, cached[0].Origin)

	updated := linked("a")
	updated.Username = "other"
	require.NoError(t, r.UpdateLinkedCluster(ctx, updated))
	assert.Equal(t, "other", r.CachedClusters()[0].Username)

	require.NoError(t, r.RemoveLinkedCluster(ctx, "a"))
	assert.Empty(t, r.CachedClusters())
	assert.ErrorIs(t, r.RemoveLinkedCluster(ctx, "a"), ErrClusterNotFound)

	require.NoError(t, r.AddEmulatorCluster(ctx, ClusterDetail{Name: "emu", ConnectionURL: "http://localhost:8998"}))
	assert.ErrorIs(t, r.AddEmulatorCluster(ctx, ClusterDetail{Name: "emu", ConnectionURL: "http://localhost:8998"}), ErrClusterExists)
	assert.True(t, r.IsEmulatorClusterExist(ctx, "emu"))
	require.NoError(t, r.RemoveEmulatorCluster(ctx, "emu"))
	assert.False(t, r.IsEmulatorClusterExist(ctx, "emu"))
}

func TestRegistry_ConcurrentMutationsAndReads(t *testing.T) {
	ctx := context.Background()
	const n = 8
	store := newMemStore()
	r := NewRegistry(store, StaticSource{Clusters: []ClusterDetail{sub("a", "Running")}}, nil)
	for i := range n {
		require.NoError(t, r.AddEmulatorCluster(ctx, ClusterDetail{Name: fmt.Sprintf("e%d", i), ConnectionURL: "http://localhost:8998"}))
	}

	var wg sync.WaitGroup
	for i := range n {
		wg.Add(3)
		go func() {
			defer wg.Done()
			assert.NoError(t, r.AddLinkedCluster(ctx, linked(fmt.Sprintf("l%d", i))))
		}()
		go func() {
			defer wg.Done()
			assert.NoError(t, r.RemoveEmulatorCluster(ctx, fmt.Sprintf("e%d", i)))
		}()
		go func() {
			defer wg.Done()
			for _, c := range r.ClusterDetails(ctx) {
				assert.NotEmpty(t, c.Name)
			}
			r.CachedClusters()
		}()
	}
	wg.Wait()

	want := []string{"a"}
	for i := range n {
		want = append(want, fmt.Sprintf("l%d", i))
	}
	assert.Equal(t, want, names(r.ClusterDetails(ctx)))
	assert.Equal(t, want, names(r.CachedClusters()))

	reopened := NewRegistry(store, StaticSource{Clusters: []ClusterDetail{sub("a", "Running")}}, nil)
	assert.Equal(t, want, names(reopened.ClusterDetails(ctx)))
}

func TestRegistry_IgnoringErrorsDropsStoppedSubscriptionClusters(t *testing.T) {
	ctx := context.Background()
	r := NewRegistry(newMemStore(), StaticSource{Clusters: []ClusterDetail{sub("a", "Running"), sub("b", "Deleting"), sub("c", "running")}}, nil)
	require.NoError(t, r.AddLinkedCluster(ctx, linked("d")))
	r.ClusterDetails(ctx)

	assert.Equal(t, []string{"a", "c", "d"}, names(r.ClusterDetailsIgnoringErrors(ctx)))

	_, ok := r.ClusterByName(ctx, "b")
	assert.False(t, ok)
	c, ok := r.ClusterByName(ctx, "d")
	require.True(t, ok)
	assert.Equal(t, "http://d:8998", c.ConnectionURL)
}

func TestRegistry_AddLinkedValidation(t *testing.T) {
	ctx := context.Background()
	r := NewRegistry(newMemStore(), nil, nil)
	assert.Error(t, r.AddLinkedCluster(ctx, ClusterDetail{Name: "x", ConnectionURL: "ftp://x"}))
	assert.Error(t, r.AddLinkedCluster(ctx, ClusterDetail{Name: "", ConnectionURL: "http://x"}))
	assert.Error(t, r.AddLinkedCluster(ctx, ClusterDetail{Name: "x", ConnectionURL: "http://x", Origin: OriginEmulator}))

	require.NoError(t, r.AddLinkedCluster(ctx, ClusterDetail{Name: "x", ConnectionURL: "http://x"}))
	got := r.LinkedClusters(ctx)
	require.Len(t, got, 1)
	assert.Equal(t, LinkLivy, got[0].LinkKind)
	assert.ErrorIs(t, r.AddLinkedCluster(ctx, ClusterDetail{Name: "x", ConnectionURL: "http://x"}), ErrClusterExists)
}

func TestClusterDetail_Helpers(t *testing.T) {
	c := ClusterDetail{Name: "n", State: " RUNNING "}
	assert.Equal(t, "n", c.DisplayTitle())
	assert.True(t, c.IsRunning())
	c.Title = "Nice"
	assert.Equal(t, "Nice", c.DisplayTitle())
}
