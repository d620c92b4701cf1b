// README: Zone settings store backed by PostgreSQL (dispatch_honeycomb_settings).
package zoneconfig

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const settingsColumns = `
    zone_id, enabled, dispatch_enabled, heatmap_enabled, surge_enabled, incentives_enabled,
    h3_resolution, search_depth_k, update_interval_seconds, min_drivers_to_color_cell,
    surge_threshold, surge_cap, surge_step,
    incentive_threshold, max_incentive_amount, incentive_saturation_imbalance,
    search_radius_expansion_multiplier, max_search_radius_km, min_driver_rating, match_timeout_seconds,
    updated_at`

type PgStore struct {
	db *pgxpool.Pool
}

func NewPgStore(db *pgxpool.Pool) *PgStore {
	return &PgStore{db: db}
}

// Get loads the row for zoneID; an empty zoneID loads the global row (zone_id IS NULL).
func (s *PgStore) Get(ctx context.Context, zoneID string) (*ZoneDispatchConfig, error) {
	row := s.db.QueryRow(ctx, `SELECT`+settingsColumns+`
        FROM dispatch_honeycomb_settings
        WHERE zone_id IS NOT DISTINCT FROM $1`, nullableZone(zoneID))
	cfg, err := scanConfig(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

func (s *PgStore) List(ctx context.Context) ([]ZoneDispatchConfig, error) {
	rows, err := s.db.Query(ctx, `SELECT`+settingsColumns+`
        FROM dispatch_honeycomb_settings
        ORDER BY zone_id NULLS FIRST`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ZoneDispatchConfig
	for rows.Next() {
		cfg, err := scanConfig(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *cfg)
	}
	return out, rows.Err()
}

func (s *PgStore) Upsert(ctx context.Context, c ZoneDispatchConfig) error {
	_, err := s.db.Exec(ctx, `
        INSERT INTO dispatch_honeycomb_settings (`+settingsColumns+`)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, NOW())
        ON CONFLICT ((COALESCE(zone_id, ''))) DO UPDATE SET
            enabled = EXCLUDED.enabled,
            dispatch_enabled = EXCLUDED.dispatch_enabled,
            heatmap_enabled = EXCLUDED.heatmap_enabled,
            surge_enabled = EXCLUDED.surge_enabled,
            incentives_enabled = EXCLUDED.incentives_enabled,
            h3_resolution = EXCLUDED.h3_resolution,
            search_depth_k = EXCLUDED.search_depth_k,
            update_interval_seconds = EXCLUDED.update_interval_seconds,
            min_drivers_to_color_cell = EXCLUDED.min_drivers_to_color_cell,
            surge_threshold = EXCLUDED.surge_threshold,
            surge_cap = EXCLUDED.surge_cap,
            surge_step = EXCLUDED.surge_step,
            incentive_threshold = EXCLUDED.incentive_threshold,
            max_incentive_amount = EXCLUDED.max_incentive_amount,
            incentive_saturation_imbalance = EXCLUDED.incentive_saturation_imbalance,
            search_radius_expansion_multiplier = EXCLUDED.search_radius_expansion_multiplier,
            max_search_radius_km = EXCLUDED.max_search_radius_km,
            min_driver_rating = EXCLUDED.min_driver_rating,
            match_timeout_seconds = EXCLUDED.match_timeout_seconds,
            updated_at = NOW()`,
		nullableZone(c.ZoneID), c.Enabled, c.DispatchEnabled, c.HeatmapEnabled, c.SurgeEnabled, c.IncentivesEnabled,
		c.H3Resolution, c.SearchDepthK, c.UpdateIntervalSeconds, c.MinDriversToColorCell,
		c.SurgeThreshold, c.SurgeCap, c.SurgeStep,
		c.IncentiveThreshold, c.MaxIncentiveAmount, c.IncentiveSaturationImbalance,
		c.SearchRadiusExpansionMultiplier, c.MaxSearchRadiusKm, c.MinDriverRating, c.MatchTimeoutSeconds,
	)
	return err
}

func scanConfig(row pgx.Row) (*ZoneDispatchConfig, error) {
	var c ZoneDispatchConfig
	var zoneID *string
	err := row.Scan(
		&zoneID, &c.Enabled, &c.DispatchEnabled, &c.HeatmapEnabled, &c.SurgeEnabled, &c.IncentivesEnabled,
		&c.H3Resolution, &c.SearchDepthK, &c.UpdateIntervalSeconds, &c.MinDriversToColorCell,
		&c.SurgeThreshold, &c.SurgeCap, &c.SurgeStep,
		&c.IncentiveThreshold, &c.MaxIncentiveAmount, &c.IncentiveSaturationImbalance,
		&c.SearchRadiusExpansionMultiplier, &c.MaxSearchRadiusKm, &c.MinDriverRating, &c.MatchTimeoutSeconds,
		&c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if zoneID != nil {
		c.ZoneID = *zoneID
	}
	return &c, nil
}

func nullableZone(zoneID string) *string {
	if zoneID == "" {
		return nil
	}
	return &zoneID
}
