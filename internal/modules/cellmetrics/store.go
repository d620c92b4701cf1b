// README: Postgres sink for window rows, surge epochs and driver dwell (honeycomb_* tables).
package cellmetrics

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"honeycomb/internal/modules/pricing"
)

const metricColumns = `
    zone_id, cell_id, window_start, window_minutes,
    supply_total, supply_budget, supply_pro, supply_vip,
    demand_total, demand_budget, demand_pro, demand_vip,
    imbalance_score, surge_multiplier, incentive_amount, center_lat, center_lng`

type PgStore struct {
	db *pgxpool.Pool
}

func NewPgStore(db *pgxpool.Pool) *PgStore {
	return &PgStore{db: db}
}

// WriteWindow inserts rows in one batch. A replayed window leaves the first write in place.
func (s *PgStore) WriteWindow(ctx context.Context, rows []CellWindowMetric) error {
	if len(rows) == 0 {
		return nil
	}
	b := &pgx.Batch{}
	for _, r := range rows {
		b.Queue(`
            INSERT INTO honeycomb_cell_metrics (`+metricColumns+`)
            VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
            ON CONFLICT (zone_id, cell_id, window_start) DO NOTHING`,
			r.ZoneID, r.CellID, r.WindowStart, r.WindowMinutes,
			r.SupplyTotal, r.SupplyByTier.Budget, r.SupplyByTier.Pro, r.SupplyByTier.VIP,
			r.DemandTotal, r.DemandByTier.Budget, r.DemandByTier.Pro, r.DemandByTier.VIP,
			r.ImbalanceScore, r.SurgeMultiplier, r.IncentiveAmount, r.CenterLat, r.CenterLng,
		)
	}
	return s.db.SendBatch(ctx, b).Close()
}

// WriteEpochs upserts epochs; the stored multiplier only grows and ended_at is set once.
func (s *PgStore) WriteEpochs(ctx context.Context, epochs []pricing.SurgeEpoch) error {
	if len(epochs) == 0 {
		return nil
	}
	b := &pgx.Batch{}
	for _, e := range epochs {
		b.Queue(`
            INSERT INTO honeycomb_surge_history (
                zone_id, cell_id, started_at, ended_at, surge_multiplier,
                imbalance_score, supply_count, demand_count
            ) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
            ON CONFLICT (zone_id, cell_id, started_at) DO UPDATE SET
                ended_at = COALESCE(honeycomb_surge_history.ended_at, EXCLUDED.ended_at),
                surge_multiplier = GREATEST(honeycomb_surge_history.surge_multiplier, EXCLUDED.surge_multiplier)`,
			e.ZoneID, e.CellID, e.StartedAt, e.EndedAt, e.Multiplier,
			e.Imbalance, e.Supply, e.Demand,
		)
	}
	return s.db.SendBatch(ctx, b).Close()
}

func (s *PgStore) WindowsSince(ctx context.Context, zoneID string, since time.Time) ([]CellWindowMetric, error) {
	rows, err := s.db.Query(ctx, `SELECT`+metricColumns+`
        FROM honeycomb_cell_metrics
        WHERE zone_id = $1 AND window_start >= $2
        ORDER BY window_start, cell_id`, zoneID, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []CellWindowMetric
	for rows.Next() {
		var r CellWindowMetric
		if err := rows.Scan(
			&r.ZoneID, &r.CellID, &r.WindowStart, &r.WindowMinutes,
			&r.SupplyTotal, &r.SupplyByTier.Budget, &r.SupplyByTier.Pro, &r.SupplyByTier.VIP,
			&r.DemandTotal, &r.DemandByTier.Budget, &r.DemandByTier.Pro, &r.DemandByTier.VIP,
			&r.ImbalanceScore, &r.SurgeMultiplier, &r.IncentiveAmount, &r.CenterLat, &r.CenterLng,
		); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// DailyStats covers [from, to).
func (s *PgStore) DailyStats(ctx context.Context, zoneID string, from, to time.Time) ([]DailyStat, error) {
	rows, err := s.db.Query(ctx, `
        SELECT date_trunc('day', window_start AT TIME ZONE 'UTC') AS day,
               ROUND(AVG(supply_total)::numeric, 2)::float8,
               ROUND(AVG(demand_total)::numeric, 2)::float8,
               ROUND(AVG(imbalance_score)::numeric, 2)::float8,
               ROUND(MAX(imbalance_score)::numeric, 2)::float8,
               COUNT(DISTINCT cell_id)
        FROM honeycomb_cell_metrics
        WHERE zone_id = $1 AND window_start >= $2 AND window_start < $3
        GROUP BY day
        ORDER BY day`, zoneID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []DailyStat
	for rows.Next() {
		var d DailyStat
		if err := rows.Scan(&d.Day, &d.AvgSupply, &d.AvgDemand, &d.AvgImbalance, &d.MaxImbalance, &d.ActiveCells); err != nil {
			return nil, err
		}
		d.Day = Day(d.Day)
		out = append(out, d)
	}
	return out, rows.Err()
}

func (s *PgStore) TopHotspots(ctx context.Context, zoneID string, from, to time.Time, limit int) ([]Hotspot, error) {
	rows, err := s.db.Query(ctx, `
        SELECT cell_id,
               ROUND(AVG(imbalance_score)::numeric, 2)::float8 AS avg_imbalance,
               ROUND(MAX(imbalance_score)::numeric, 2)::float8,
               COUNT(*),
               MAX(center_lat), MAX(center_lng)
        FROM honeycomb_cell_metrics
        WHERE zone_id = $1 AND window_start >= $2 AND window_start < $3
        GROUP BY cell_id
        ORDER BY avg_imbalance DESC, cell_id
        LIMIT $4`, zoneID, from, to, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Hotspot
	for rows.Next() {
		var h Hotspot
		if err := rows.Scan(&h.CellID, &h.AvgImbalance, &h.MaxImbalance, &h.Windows, &h.CenterLat, &h.CenterLng); err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

func (s *PgStore) Epochs(ctx context.Context, zoneID string, since time.Time) ([]pricing.SurgeEpoch, error) {
	rows, err := s.db.Query(ctx, `
        SELECT zone_id, cell_id, started_at, ended_at, surge_multiplier,
               imbalance_score, supply_count, demand_count
        FROM honeycomb_surge_history
        WHERE zone_id = $1 AND (ended_at IS NULL OR ended_at >= $2)
        ORDER BY started_at, cell_id`, zoneID, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []pricing.SurgeEpoch
	for rows.Next() {
		var e pricing.SurgeEpoch
		if err := rows.Scan(&e.ZoneID, &e.CellID, &e.StartedAt, &e.EndedAt, &e.Multiplier, &e.Imbalance, &e.Supply, &e.Demand); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// WriteDwell adds buffered dwell rows onto driver_h3_history.
func (s *PgStore) WriteDwell(ctx context.Context, rows []DwellRow) error {
	if len(rows) == 0 {
		return nil
	}
	b := &pgx.Batch{}
	for _, r := range rows {
		b.Queue(`
            INSERT INTO driver_h3_history (driver_id, zone_id, cell_id, day, dwell_seconds, trips, earnings)
            VALUES ($1, $2, $3, $4, $5, $6, $7)
            ON CONFLICT (driver_id, zone_id, cell_id, day) DO UPDATE SET
                dwell_seconds = driver_h3_history.dwell_seconds + EXCLUDED.dwell_seconds,
                trips = driver_h3_history.trips + EXCLUDED.trips,
                earnings = driver_h3_history.earnings + EXCLUDED.earnings`,
			string(r.DriverID), r.ZoneID, r.CellID, r.Day, r.DwellSeconds, r.Trips, r.Earnings,
		)
	}
	return s.db.SendBatch(ctx, b).Close()
}
