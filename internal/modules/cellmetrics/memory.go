// README: In-memory sink and reader with the same uniqueness rules as the Postgres tables.
package cellmetrics

import (
	"context"
	"sort"
	"sync"
	"time"

	"honeycomb/internal/modules/pricing"
)

type windowKey struct {
	zone, cell string
	start      time.Time
}

type MemorySink struct {
	mu      sync.RWMutex
	windows map[windowKey]CellWindowMetric
	epochs  map[windowKey]pricing.SurgeEpoch
}

func NewMemorySink() *MemorySink {
	return &MemorySink{windows: map[windowKey]CellWindowMetric{}, epochs: map[windowKey]pricing.SurgeEpoch{}}
}

// WriteWindow keeps the first row written for a key; replays are ignored.
func (s *MemorySink) WriteWindow(_ context.Context, rows []CellWindowMetric) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range rows {
		k := windowKey{r.ZoneID, r.CellID, r.WindowStart.UTC()}
		if _, ok := s.windows[k]; !ok {
			s.windows[k] = r
		}
	}
	return nil
}

// WriteEpochs upserts by (zone, cell, started_at), keeping the highest multiplier and the end time.
func (s *MemorySink) WriteEpochs(_ context.Context, epochs []pricing.SurgeEpoch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range epochs {
		k := windowKey{e.ZoneID, e.CellID, e.StartedAt.UTC()}
		if cur, ok := s.epochs[k]; ok {
			if cur.Multiplier > e.Multiplier {
				e.Multiplier = cur.Multiplier
			}
			if e.EndedAt == nil {
				e.EndedAt = cur.EndedAt
			}
			e.Imbalance, e.Supply, e.Demand = cur.Imbalance, cur.Supply, cur.Demand
		}
		s.epochs[k] = e
	}
	return nil
}

func (s *MemorySink) rows(zoneID string, from, to time.Time) []CellWindowMetric {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []CellWindowMetric
	for k, r := range s.windows {
		if k.zone != zoneID || k.start.Before(from) || (!to.IsZero() && !k.start.Before(to)) {
			continue
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].WindowStart.Equal(out[j].WindowStart) {
			return out[i].WindowStart.Before(out[j].WindowStart)
		}
		return out[i].CellID < out[j].CellID
	})
	return out
}

func (s *MemorySink) WindowsSince(_ context.Context, zoneID string, since time.Time) ([]CellWindowMetric, error) {
	return s.rows(zoneID, since, time.Time{}), nil
}

func (s *MemorySink) DailyStats(_ context.Context, zoneID string, from, to time.Time) ([]DailyStat, error) {
	return dailyStats(s.rows(zoneID, from, to)), nil
}

func (s *MemorySink) TopHotspots(_ context.Context, zoneID string, from, to time.Time, limit int) ([]Hotspot, error) {
	return topHotspots(s.rows(zoneID, from, to), limit), nil
}

func (s *MemorySink) Epochs(_ context.Context, zoneID string, since time.Time) ([]pricing.SurgeEpoch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []pricing.SurgeEpoch
	for k, e := range s.epochs {
		if k.zone == zoneID && (e.Open() || !e.EndedAt.Before(since)) {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].StartedAt.Before(out[j].StartedAt)
		}
		return out[i].CellID < out[j].CellID
	})
	return out, nil
}

// Len reports how many window rows are stored.
func (s *MemorySink) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.windows)
}
