// README: Zone config provider tests (fallback chain, validation, explicit invalidation).
package zoneconfig

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memStore struct {
	mu   sync.Mutex
	rows map[string]ZoneDispatchConfig
	err  error
}

func newMemStore() *memStore { return &memStore{rows: map[string]ZoneDispatchConfig{}} }

func (m *memStore) Get(_ context.Context, zoneID string) (*ZoneDispatchConfig, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	c, ok := m.rows[zoneID]
	if !ok {
		return nil, ErrNotFound
	}
	return &c, nil
}

func (m *memStore) Upsert(_ context.Context, c ZoneDispatchConfig) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.rows[c.ZoneID] = c
	return nil
}

type memCache struct {
	mu      sync.Mutex
	rows    map[string]ZoneDispatchConfig
	deleted []string
}

func newMemCache() *memCache { return &memCache{rows: map[string]ZoneDispatchConfig{}} }

func (m *memCache) Get(_ context.Context, zoneID string) (*ZoneDispatchConfig, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.rows[CacheKey(zoneID)]
	if !ok {
		return nil, false, nil
	}
	return &c, true, nil
}

func (m *memCache) Set(_ context.Context, c ZoneDispatchConfig) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows[CacheKey(c.ZoneID)] = c
	return nil
}

func (m *memCache) Delete(_ context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range keys {
		delete(m.rows, k)
		m.deleted = append(m.deleted, k)
	}
	return nil
}

type recordingNotifier struct {
	sent []Invalidation
	err  error
}

func (r *recordingNotifier) Publish(_ context.Context, inv Invalidation) error {
	if r.err != nil {
		return r.err
	}
	r.sent = append(r.sent, inv)
	return nil
}

func newTestService(t *testing.T, store Store, cache Cache, n Notifier) *Service {
	t.Helper()
	svc, err := NewService(store, cache, n, Defaults(), nil)
	require.NoError(t, err)
	return svc
}

func TestDefaultsValidate(t *testing.T) {
	require.NoError(t, Defaults().Validate())
	assert.Equal(t, 5, Defaults().WindowMinutes())
	assert.Equal(t, 4.0, Defaults().SaturationImbalance())
}

func TestValidateRejectsOutOfRange(t *testing.T) {
	cases := map[string]func(*ZoneDispatchConfig){
		"resolution 6":       func(c *ZoneDispatchConfig) { c.H3Resolution = 6 },
		"resolution 10":      func(c *ZoneDispatchConfig) { c.H3Resolution = 10 },
		"k 0":                func(c *ZoneDispatchConfig) { c.SearchDepthK = 0 },
		"k 4":                func(c *ZoneDispatchConfig) { c.SearchDepthK = 4 },
		"interval 90s":       func(c *ZoneDispatchConfig) { c.UpdateIntervalSeconds = 90 },
		"interval 30s":       func(c *ZoneDispatchConfig) { c.UpdateIntervalSeconds = 30 },
		"cap below one":      func(c *ZoneDispatchConfig) { c.SurgeCap = 0.9 },
		"zero step":          func(c *ZoneDispatchConfig) { c.SurgeStep = 0 },
		"multiplier one":     func(c *ZoneDispatchConfig) { c.SearchRadiusExpansionMultiplier = 1 },
		"rating six":         func(c *ZoneDispatchConfig) { c.MinDriverRating = 6 },
		"saturation too low": func(c *ZoneDispatchConfig) { c.IncentiveSaturationImbalance = 1 },
		"timeout zero":       func(c *ZoneDispatchConfig) { c.MatchTimeoutSeconds = 0 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			c := Defaults()
			mutate(&c)
			assert.ErrorIs(t, c.Validate(), ErrInvalidConfig)
		})
	}
}

func TestGetFallsBackToCompiledDefaults(t *testing.T) {
	store := newMemStore()
	store.err = errors.New("connection refused")
	svc := newTestService(t, store, nil, nil)

	cfg := svc.Get(context.Background(), "taipei")
	assert.Equal(t, "taipei", cfg.ZoneID)
	assert.Equal(t, Defaults().H3Resolution, cfg.H3Resolution)
}

func TestGetFallsBackToGlobalRow(t *testing.T) {
	store := newMemStore()
	global := Defaults()
	global.H3Resolution = 9
	require.NoError(t, store.Upsert(context.Background(), global))
	svc := newTestService(t, store, nil, nil)

	cfg := svc.Get(context.Background(), "taipei")
	assert.Equal(t, "taipei", cfg.ZoneID)
	assert.Equal(t, 9, cfg.H3Resolution)
}

func TestGetPrefersZoneRowAndCachesIt(t *testing.T) {
	store := newMemStore()
	cache := newMemCache()
	zone := Defaults().ForZone("taipei")
	zone.SearchDepthK = 2
	require.NoError(t, store.Upsert(context.Background(), zone))
	svc := newTestService(t, store, cache, nil)

	cfg := svc.Get(context.Background(), "taipei")
	assert.Equal(t, 2, cfg.SearchDepthK)

	// the store is now unreachable; the cached row still answers
	store.err = errors.New("down")
	cfg = svc.Get(context.Background(), "taipei")
	assert.Equal(t, 2, cfg.SearchDepthK)
}

func TestGetSkipsInvalidRow(t *testing.T) {
	store := newMemStore()
	bad := Defaults().ForZone("taipei")
	bad.H3Resolution = 12
	store.rows["taipei"] = bad
	svc := newTestService(t, store, nil, nil)

	assert.Equal(t, Defaults().H3Resolution, svc.Get(context.Background(), "taipei").H3Resolution)
}

func TestUpdateInvalidatesAndNotifies(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	cache := newMemCache()
	notifier := &recordingNotifier{}
	svc := newTestService(t, store, cache, notifier)

	zone := Defaults().ForZone("taipei")
	require.NoError(t, store.Upsert(ctx, zone))
	_ = svc.Get(ctx, "taipei") // warms the cache

	zone.SurgeCap = 2.0
	inv, err := svc.Update(ctx, zone)
	require.NoError(t, err)
	assert.Equal(t, "taipei", inv.ZoneID)
	assert.Equal(t, []string{CacheKey("taipei")}, inv.CacheKeys)
	assert.True(t, inv.Notified)
	assert.Equal(t, SettingsChannel, inv.Channel)
	require.Len(t, notifier.sent, 1)
	assert.Equal(t, []string{CacheKey("taipei")}, cache.deleted)

	assert.Equal(t, 2.0, svc.Get(ctx, "taipei").SurgeCap)
}

func TestUpdateRejectsInvalidWithoutSideEffects(t *testing.T) {
	store := newMemStore()
	notifier := &recordingNotifier{}
	svc := newTestService(t, store, newMemCache(), notifier)

	bad := Defaults().ForZone("taipei")
	bad.SearchDepthK = 9
	_, err := svc.Update(context.Background(), bad)
	assert.ErrorIs(t, err, ErrInvalidConfig)
	assert.Empty(t, store.rows)
	assert.Empty(t, notifier.sent)
}

func TestUpdateReportsFailedNotification(t *testing.T) {
	notifier := &recordingNotifier{err: errors.New("redis down")}
	svc := newTestService(t, newMemStore(), nil, notifier)

	inv, err := svc.Update(context.Background(), Defaults().ForZone("taipei"))
	require.NoError(t, err)
	assert.False(t, inv.Notified)
	assert.Empty(t, inv.CacheKeys)
}

func TestCacheKey(t *testing.T) {
	assert.Equal(t, "honeycomb:settings:global", CacheKey(""))
	assert.Equal(t, "honeycomb:settings:zone:taipei", CacheKey("taipei"))
}
