package cluster

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/3leaps/livyctl/pkg/properties"
)

// Registry merges subscription, linked and emulator clusters into one
// name-sorted view. All methods are safe for concurrent use; mutations and
// merges serialize on one mutex.
type Registry struct {
	props  properties.Store
	source SubscriptionSource
	logger *zap.Logger

	mu                 sync.Mutex
	linked             []ClusterDetail
	emulators          []ClusterDetail
	linkedLoaded       bool
	emulatorsLoaded    bool
	listClusterSuccess bool
	cache              []ClusterDetail
}

// NewRegistry builds a registry. source may be nil for offline use.
func NewRegistry(props properties.Store, source SubscriptionSource, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{props: props, source: source, logger: logger}
}

// ClusterDetails reloads the persisted lists if needed, lists subscription
// clusters and rebuilds the cached view. Subscription failures degrade to
// an empty subscription list.
func (r *Registry) ClusterDetails(ctx context.Context) []ClusterDetail {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.refreshLocked(ctx)
}

func (r *Registry) refreshLocked(ctx context.Context) []ClusterDetail {
	r.ensureLoadedLocked(ctx)

	r.listClusterSuccess = false
	var subs []ClusterDetail
	if r.source != nil {
		list, err := r.source.ListClusters(ctx)
		if err != nil {
			r.logger.Warn("Failed to list subscription clusters", zap.Error(err))
		} else {
			r.listClusterSuccess = true
			subs = list
		}
	}

	r.cache = merge(subs, r.linked, r.emulators)
	return slices.Clone(r.cache)
}

// merge builds the registry view: a linked entry replaces the subscription
// entry of the same name, remaining linked entries and then emulators are
// appended, and the result is sorted by name.
func merge(subs, linked, emulators []ClusterDetail) []ClusterDetail {
	pool := slices.Clone(linked)
	out := make([]ClusterDetail, 0, len(subs)+len(linked)+len(emulators))
	for _, c := range subs {
		c.Origin = OriginSubscription
		i := slices.IndexFunc(pool, func(l ClusterDetail) bool {
			return l.IsLinked() && l.Name == c.Name
		})
		if i >= 0 {
			out = append(out, pool[i])
			pool = slices.Delete(pool, i, i+1)
			continue
		}
		out = append(out, c)
	}
	out = append(out, pool...)
	out = append(out, emulators...)
	sortByName(out)
	return out
}

func sortByName(cs []ClusterDetail) {
	slices.SortStableFunc(cs, func(a, b ClusterDetail) int {
		return strings.Compare(a.Name, b.Name)
	})
}

// ListClusterSuccess reports whether the last subscription listing worked.
func (r *Registry) ListClusterSuccess() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.listClusterSuccess
}

// CachedClusters returns the last merged view without any I/O.
func (r *Registry) CachedClusters() []ClusterDetail {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.cache)
}

// cachedOrRefresh returns the cache, or a fresh merge when it is empty.
func (r *Registry) cachedOrRefresh(ctx context.Context) []ClusterDetail {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.cache) > 0 {
		return slices.Clone(r.cache)
	}
	return r.refreshLocked(ctx)
}

// ClusterDetailsIgnoringErrors drops subscription clusters that are not
// running.
func (r *Registry) ClusterDetailsIgnoringErrors(ctx context.Context) []ClusterDetail {
	all := r.cachedOrRefresh(ctx)
	out := all[:0]
	for _, c := range all {
		if c.Origin == OriginSubscription && !c.IsRunning() {
			continue
		}
		out = append(out, c)
	}
	return out
}

// ClusterByName finds a usable cluster by exact name.
func (r *Registry) ClusterByName(ctx context.Context, name string) (ClusterDetail, bool) {
	for _, c := range r.ClusterDetailsIgnoringErrors(ctx) {
		if c.Name == name {
			return c, true
		}
	}
	return ClusterDetail{}, false
}

// IsEmulatorClusterExist reports whether any cluster in the view, of any
// origin, carries name.
func (r *Registry) IsEmulatorClusterExist(ctx context.Context, name string) bool {
	for _, c := range r.cachedOrRefresh(ctx) {
		if c.Name == name {
			return true
		}
	}
	return false
}

// LinkedClusters returns the linked and SQL Big Data entries.
func (r *Registry) LinkedClusters(ctx context.Context) []ClusterDetail {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ensureLoadedLocked(ctx)
	return slices.Clone(r.linked)
}

// AddLinkedCluster links c and persists the linked lists.
func (r *Registry) AddLinkedCluster(ctx context.Context, c ClusterDetail) error {
	if c.Origin == "" {
		c.Origin = OriginLinked
	}
	if c.Origin == OriginLinked && c.LinkKind == "" {
		c.LinkKind = LinkLivy
	}
	if c.Origin != OriginLinked && c.Origin != OriginSQLBigData {
		return fmt.Errorf("cluster %s: origin %s cannot be linked", c.Name, c.Origin)
	}
	if err := c.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.ensureLoadedLocked(ctx)
	if slices.ContainsFunc(r.linked, byName(c.Name)) {
		return fmt.Errorf("%w: %s", ErrClusterExists, c.Name)
	}
	r.linked = append(r.linked, c)
	r.addToCacheLocked(c)
	return r.saveLinkedLocked(ctx)
}

// UpdateLinkedCluster replaces the linked entry with c's name.
func (r *Registry) UpdateLinkedCluster(ctx context.Context, c ClusterDetail) error {
	if err := c.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.ensureLoadedLocked(ctx)
	i := slices.IndexFunc(r.linked, byName(c.Name))
	if i < 0 {
		return fmt.Errorf("%w: %s", ErrClusterNotFound, c.Name)
	}
	old := r.linked[i]
	r.linked[i] = c
	r.removeFromCacheLocked(old)
	r.addToCacheLocked(c)
	return r.saveLinkedLocked(ctx)
}

// RemoveLinkedCluster unlinks the entry called name.
func (r *Registry) RemoveLinkedCluster(ctx context.Context, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ensureLoadedLocked(ctx)
	i := slices.IndexFunc(r.linked, byName(name))
	if i < 0 {
		return fmt.Errorf("%w: %s", ErrClusterNotFound, name)
	}
	old := r.linked[i]
	r.linked = slices.Delete(r.linked, i, i+1)
	r.removeFromCacheLocked(old)
	return r.saveLinkedLocked(ctx)
}

// AddEmulatorCluster registers a local emulator.
func (r *Registry) AddEmulatorCluster(ctx context.Context, c ClusterDetail) error {
	c.Origin = OriginEmulator
	c.LinkKind = ""
	if err := c.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.ensureLoadedLocked(ctx)
	if slices.ContainsFunc(r.emulators, byName(c.Name)) {
		return fmt.Errorf("%w: %s", ErrClusterExists, c.Name)
	}
	r.emulators = append(r.emulators, c)
	r.addToCacheLocked(c)
	return r.saveEmulatorsLocked(ctx)
}

// RemoveEmulatorCluster drops the emulator called name.
func (r *Registry) RemoveEmulatorCluster(ctx context.Context, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ensureLoadedLocked(ctx)
	i := slices.IndexFunc(r.emulators, byName(name))
	if i < 0 {
		return fmt.Errorf("%w: %s", ErrClusterNotFound, name)
	}
	old := r.emulators[i]
	r.emulators = slices.Delete(r.emulators, i, i+1)
	r.removeFromCacheLocked(old)
	return r.saveEmulatorsLocked(ctx)
}

func byName(name string) func(ClusterDetail) bool {
	return func(c ClusterDetail) bool { return c.Name == name }
}

func (r *Registry) addToCacheLocked(c ClusterDetail) {
	if c.IsLinked() {
		// A linked entry supersedes the subscription entry of the same name.
		r.cache = slices.DeleteFunc(r.cache, func(x ClusterDetail) bool {
			return x.Origin == OriginSubscription && x.Name == c.Name
		})
	}
	r.cache = append(r.cache, c)
	sortByName(r.cache)
}

func (r *Registry) removeFromCacheLocked(c ClusterDetail) {
	r.cache = slices.DeleteFunc(r.cache, func(x ClusterDetail) bool {
		return x.Origin == c.Origin && x.Name == c.Name
	})
}

func (r *Registry) ensureLoadedLocked(ctx context.Context) {
	if !r.linkedLoaded {
		r.linked, r.linkedLoaded = r.loadLocked(ctx, linkedKeys)
	}
	if !r.emulatorsLoaded {
		r.emulators, r.emulatorsLoaded = r.loadLocked(ctx, []string{KeyEmulatorClusters})
	}
}

// loadLocked reads the lists under keys. If any of them is not valid JSON,
// all of keys are unset and an empty list is returned; the next load then
// starts clean.
func (r *Registry) loadLocked(ctx context.Context, keys []string) ([]ClusterDetail, bool) {
	if r.props == nil {
		return nil, true
	}
	var out []ClusterDetail
	for _, key := range keys {
		raw, ok, err := r.props.Get(ctx, key)
		if err != nil {
			r.logger.Error("Failed to read cluster list", zap.String("key", key), zap.Error(err))
			return nil, false
		}
		if !ok || strings.TrimSpace(raw) == "" {
			continue
		}
		var list []ClusterDetail
		if err := json.Unmarshal([]byte(raw), &list); err != nil {
			r.logger.Error("Cluster list is corrupt, clearing it", zap.String("key", key), zap.Error(err))
			for _, k := range keys {
				if err := r.props.Unset(ctx, k); err != nil {
					r.logger.Warn("Failed to clear cluster list", zap.String("key", k), zap.Error(err))
				}
			}
			return nil, false
		}
		origin, kind := originForKey(key)
		for _, c := range list {
			c.Origin, c.LinkKind = origin, kind
			out = append(out, c)
		}
	}
	return out, true
}

func (r *Registry) saveLinkedLocked(ctx context.Context) error {
	groups := make(map[string][]ClusterDetail, len(linkedKeys))
	for _, c := range r.linked {
		k := keyFor(c)
		groups[k] = append(groups[k], c)
	}
	for _, key := range linkedKeys {
		if err := r.saveLocked(ctx, key, groups[key]); err != nil {
			return err
		}
	}
	return nil
}

func (r *Registry) saveEmulatorsLocked(ctx context.Context) error {
	return r.saveLocked(ctx, KeyEmulatorClusters, r.emulators)
}

func (r *Registry) saveLocked(ctx context.Context, key string, list []ClusterDetail) error {
	if r.props == nil {
		return nil
	}
	if list == nil {
		list = []ClusterDetail{}
	}
	data, err := json.Marshal(list)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	if err := r.props.Set(ctx, key, string(data)); err != nil {
		return fmt.Errorf("save %s: %w", key, err)
	}
	return nil
}
