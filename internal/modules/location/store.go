// README: Location store backed by Redis (driver GEO mirror and the anomaly review queue).
package location

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"

	"honeycomb/internal/types"
)

const (
	driverGeoKeyPrefix = "honeycomb:drivers:"
	// ReviewQueueKey is consumed by the external driver review tooling.
	ReviewQueueKey = "honeycomb:driver_review"
	reviewQueueCap = 10000
)

type Store struct {
	redis *redis.Client
}

func NewStore(redis *redis.Client) *Store {
	return &Store{redis: redis}
}

// SetGeo mirrors an applied position into the zone's GEO set for realtime consumers.
func (s *Store) SetGeo(ctx context.Context, zoneID string, id types.ID, pos types.Point) error {
	return s.redis.GeoAdd(ctx, driverGeoKeyPrefix+zoneID, &redis.GeoLocation{
		Name:      string(id),
		Longitude: pos.Lng,
		Latitude:  pos.Lat,
	}).Err()
}

// RemoveGeo drops a driver from the zone's GEO set.
func (s *Store) RemoveGeo(ctx context.Context, zoneID string, id types.ID) error {
	return s.redis.ZRem(ctx, driverGeoKeyPrefix+zoneID, string(id)).Err()
}

// EnqueueReview pushes a review signal; the list is capped to the newest entries.
func (s *Store) EnqueueReview(ctx context.Context, sig ReviewSignal) error {
	raw, err := json.Marshal(sig)
	if err != nil {
		return err
	}
	pipe := s.redis.Pipeline()
	pipe.LPush(ctx, ReviewQueueKey, raw)
	pipe.LTrim(ctx, ReviewQueueKey, 0, reviewQueueCap-1)
	_, err = pipe.Exec(ctx)
	return err
}
