// README: Redis offer ledger and per-driver offer channel.
package matching

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"honeycomb/internal/types"
)

const (
	offerKeyPrefix     = "honeycomb:match:%s:offers"
	offerChannelPrefix = "honeycomb:driver:%s:offers"
	// requests resolve within minutes; the ledger only needs to outlive the ride
	offerKeyTTL = 24 * time.Hour
)

// OfferRecord is one line of a request's offer ledger.
type OfferRecord struct {
	Offer
	Result     string    `json:"result"`
	ResolvedAt time.Time `json:"resolved_at"`
}

type Store struct {
	redis *redis.Client
	now   func() time.Time
}

func NewStore(redis *redis.Client) *Store {
	return &Store{redis: redis, now: time.Now}
}

func (s *Store) RecordOffer(ctx context.Context, o Offer, result string) error {
	b, err := json.Marshal(OfferRecord{Offer: o, Result: result, ResolvedAt: s.now().UTC()})
	if err != nil {
		return err
	}
	key := offerKey(o.RequestID)
	pipe := s.redis.Pipeline()
	pipe.RPush(ctx, key, b)
	pipe.Expire(ctx, key, offerKeyTTL)
	_, err = pipe.Exec(ctx)
	return err
}

// NotifyOffer publishes o on the driver's channel. The driver answers through the
// ride's offer response endpoint before o.ExpiresAt.
func (s *Store) NotifyOffer(ctx context.Context, o Offer) error {
	b, err := json.Marshal(o)
	if err != nil {
		return err
	}
	return s.redis.Publish(ctx, OfferChannel(o.DriverID), b).Err()
}

func OfferChannel(driverID types.ID) string {
	return fmt.Sprintf(offerChannelPrefix, string(driverID))
}

// Offers returns the ledger for a request in the order the offers were made.
func (s *Store) Offers(ctx context.Context, requestID types.ID) ([]OfferRecord, error) {
	vals, err := s.redis.LRange(ctx, offerKey(requestID), 0, -1).Result()
	if err != nil {
		return nil, err
	}
	out := make([]OfferRecord, 0, len(vals))
	for _, v := range vals {
		var r OfferRecord
		if err := json.Unmarshal([]byte(v), &r); err != nil {
			return nil, fmt.Errorf("decode offer record: %w", err)
		}
		out = append(out, r)
	}
	return out, nil
}

func offerKey(requestID types.ID) string {
	return fmt.Sprintf(offerKeyPrefix, string(requestID))
}
