// README: Zone config provider; resolves cache, store, global row and compiled defaults in that order.
package zoneconfig

import (
	"context"
	"errors"
	"time"

	"honeycomb/internal/logger"
)

type Store interface {
	Get(ctx context.Context, zoneID string) (*ZoneDispatchConfig, error)
	Upsert(ctx context.Context, cfg ZoneDispatchConfig) error
}

type Cache interface {
	Get(ctx context.Context, zoneID string) (*ZoneDispatchConfig, bool, error)
	Set(ctx context.Context, cfg ZoneDispatchConfig) error
	Delete(ctx context.Context, keys ...string) error
}

type Notifier interface {
	Publish(ctx context.Context, inv Invalidation) error
}

type Service struct {
	store    Store
	cache    Cache
	notifier Notifier
	defaults ZoneDispatchConfig
	log      logger.Logger
	now      func() time.Time
}

// NewService builds a provider. store, cache and notifier may be nil; defaults must validate.
func NewService(store Store, cache Cache, notifier Notifier, defaults ZoneDispatchConfig, log logger.Logger) (*Service, error) {
	if err := defaults.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = logger.NopLogger{}
	}
	defaults.ZoneID = ""
	return &Service{store: store, cache: cache, notifier: notifier, defaults: defaults, log: log, now: time.Now}, nil
}

// Defaults returns the compiled-in global configuration.
func (s *Service) Defaults() ZoneDispatchConfig { return s.defaults }

// Get never fails: a zone with no usable row gets the global row, and a missing
// or unreachable global row gets the compiled defaults.
func (s *Service) Get(ctx context.Context, zoneID string) ZoneDispatchConfig {
	if cfg, ok := s.lookup(ctx, zoneID); ok {
		return *cfg
	}
	if zoneID != "" {
		if cfg, ok := s.lookup(ctx, ""); ok {
			return cfg.ForZone(zoneID)
		}
	}
	return s.defaults.ForZone(zoneID)
}

func (s *Service) lookup(ctx context.Context, zoneID string) (*ZoneDispatchConfig, bool) {
	if s.cache != nil {
		cfg, hit, err := s.cache.Get(ctx, zoneID)
		if err != nil {
			s.log.Warnf("zone config cache read %q: %v", zoneID, err)
		}
		if hit && cfg.Validate() == nil {
			return cfg, true
		}
	}
	if s.store == nil {
		return nil, false
	}
	cfg, err := s.store.Get(ctx, zoneID)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			s.log.Warnf("zone config load %q: %v", zoneID, err)
		}
		return nil, false
	}
	if err := cfg.Validate(); err != nil {
		s.log.Warnf("zone config %q rejected: %v", zoneID, err)
		return nil, false
	}
	if s.cache != nil {
		if err := s.cache.Set(ctx, *cfg); err != nil {
			s.log.Warnf("zone config cache write %q: %v", zoneID, err)
		}
	}
	return cfg, true
}

// Update validates and persists cfg, then invalidates the cached row and notifies
// realtime consumers. The returned Invalidation lists exactly what was done.
func (s *Service) Update(ctx context.Context, cfg ZoneDispatchConfig) (Invalidation, error) {
	if err := cfg.Validate(); err != nil {
		return Invalidation{}, err
	}
	if s.store == nil {
		return Invalidation{}, errors.New("zone config store not configured")
	}
	if err := s.store.Upsert(ctx, cfg); err != nil {
		return Invalidation{}, err
	}

	inv := Invalidation{ZoneID: cfg.ZoneID, Channel: SettingsChannel, At: s.now()}
	if s.cache != nil {
		key := CacheKey(cfg.ZoneID)
		if err := s.cache.Delete(ctx, key); err != nil {
			s.log.Warnf("zone config invalidate %q: %v", cfg.ZoneID, err)
		} else {
			inv.CacheKeys = []string{key}
		}
	}
	if s.notifier != nil {
		if err := s.notifier.Publish(ctx, inv); err != nil {
			s.log.Warnf("zone config notify %q: %v", cfg.ZoneID, err)
		} else {
			inv.Notified = true
		}
	}
	s.log.Infof("zone config updated zone=%q keys=%v notified=%t", cfg.ZoneID, inv.CacheKeys, inv.Notified)
	return inv, nil
}
