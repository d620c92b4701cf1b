// README: Heatmap and analytics queries over flushed window rows.
package cellmetrics

import (
	"context"
	"fmt"
	"time"
)

const (
	DefaultLookback  = 60 * time.Minute
	MaxLookback      = 24 * time.Hour
	MaxAnalyticsDays = 92
	topHotspotLimit  = 10
)

type Service struct {
	reader Reader
	now    func() time.Time
}

func NewService(reader Reader, now func() time.Time) *Service {
	if now == nil {
		now = time.Now
	}
	return &Service{reader: reader, now: now}
}

// Heatmap returns the latest row of every cell flushed within lookback.
func (s *Service) Heatmap(ctx context.Context, zoneID string, lookback time.Duration) (Heatmap, error) {
	if lookback == 0 {
		lookback = DefaultLookback
	}
	if lookback < 0 || lookback > MaxLookback {
		return Heatmap{}, fmt.Errorf("%w: lookback must be within (0, %s]", ErrInvalidRange, MaxLookback)
	}
	since := s.now().Add(-lookback).UTC()
	rows, err := s.reader.WindowsSince(ctx, zoneID, since)
	if err != nil {
		return Heatmap{}, err
	}
	h := Heatmap{ZoneID: zoneID, Since: since, Cells: latestPerCell(rows)}
	for _, c := range h.Cells {
		h.Totals.Supply += c.SupplyTotal
		h.Totals.Demand += c.DemandTotal
		if c.ImbalanceScore > HotspotImbalance {
			h.Totals.Hotspots++
		}
	}
	h.Totals.Cells = len(h.Cells)
	return h, nil
}

// Analytics aggregates whole UTC days; to is inclusive.
func (s *Service) Analytics(ctx context.Context, zoneID string, from, to time.Time) (Analytics, error) {
	from, to = Day(from), Day(to)
	if to.Before(from) {
		return Analytics{}, fmt.Errorf("%w: from is after to", ErrInvalidRange)
	}
	if to.Sub(from) > MaxAnalyticsDays*24*time.Hour {
		return Analytics{}, fmt.Errorf("%w: at most %d days", ErrInvalidRange, MaxAnalyticsDays)
	}
	end := to.AddDate(0, 0, 1)
	days, err := s.reader.DailyStats(ctx, zoneID, from, end)
	if err != nil {
		return Analytics{}, err
	}
	top, err := s.reader.TopHotspots(ctx, zoneID, from, end, topHotspotLimit)
	if err != nil {
		return Analytics{}, err
	}
	return Analytics{ZoneID: zoneID, From: from, To: to, Days: days, Hotspots: top}, nil
}
