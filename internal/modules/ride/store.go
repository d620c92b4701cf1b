// README: Ride store backed by PostgreSQL with optimistic status updates.
package ride

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"honeycomb/internal/types"
)

type PgStore struct {
	db *pgxpool.Pool
}

func NewPgStore(db *pgxpool.Pool) *PgStore {
	return &PgStore{db: db}
}

func (s *PgStore) Create(ctx context.Context, r *Ride) error {
	_, err := s.db.Exec(ctx, `
        INSERT INTO ride_requests (
            id, rider_id, zone_id, pickup_lat, pickup_lng, tier, cell_id,
            status, status_version, created_at
        ) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		string(r.ID), string(r.RiderID), r.ZoneID,
		r.Pickup.Lat, r.Pickup.Lng, string(r.Tier), r.CellID,
		string(r.Status), r.StatusVersion, r.CreatedAt,
	)
	return err
}

func (s *PgStore) Get(ctx context.Context, id types.ID) (*Ride, error) {
	row := s.db.QueryRow(ctx, `
        SELECT id, rider_id, zone_id, pickup_lat, pickup_lng, tier, cell_id,
               status, status_version, driver_id, created_at, resolved_at, cancel_reason
        FROM ride_requests
        WHERE id = $1`, string(id),
	)
	var r Ride
	var driverID *string
	err := row.Scan(
		&r.ID, &r.RiderID, &r.ZoneID, &r.Pickup.Lat, &r.Pickup.Lng, &r.Tier, &r.CellID,
		&r.Status, &r.StatusVersion, &driverID, &r.CreatedAt, &r.ResolvedAt, &r.CancelReason,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if driverID != nil {
		d := types.ID(*driverID)
		r.DriverID = &d
	}
	return &r, nil
}

func (s *PgStore) UpdateStatus(ctx context.Context, u StatusUpdate) (bool, error) {
	tag, err := s.db.Exec(ctx, `
        UPDATE ride_requests
        SET status = $1,
            status_version = status_version + 1,
            driver_id = COALESCE($2, driver_id),
            cancel_reason = COALESCE($3, cancel_reason),
            resolved_at = $4
        WHERE id = $5 AND status = $6 AND status_version = $7`,
		string(u.To), toStringPtr(u.DriverID), u.Reason, u.At,
		string(u.ID), string(u.From), u.Version,
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PgStore) AppendEvent(ctx context.Context, e *Event) error {
	_, err := s.db.Exec(ctx, `
        INSERT INTO ride_request_events (
            ride_id, from_status, to_status, actor_type, actor_id, created_at
        ) VALUES ($1, $2, $3, $4, $5, $6)`,
		string(e.RideID), string(e.FromStatus), string(e.ToStatus),
		e.ActorType, toStringPtr(e.ActorID), e.CreatedAt,
	)
	return err
}

// Events lists a ride's status history, oldest first.
func (s *PgStore) Events(ctx context.Context, id types.ID) ([]Event, error) {
	rows, err := s.db.Query(ctx, `
        SELECT id, ride_id, from_status, to_status, actor_type, actor_id, created_at
        FROM ride_request_events
        WHERE ride_id = $1
        ORDER BY id`, string(id))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Event
	for rows.Next() {
		var e Event
		var actor *string
		if err := rows.Scan(&e.ID, &e.RideID, &e.FromStatus, &e.ToStatus, &e.ActorType, &actor, &e.CreatedAt); err != nil {
			return nil, err
		}
		if actor != nil {
			a := types.ID(*actor)
			e.ActorID = &a
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func toStringPtr(v *types.ID) *string {
	if v == nil {
		return nil
	}
	s := string(*v)
	return &s
}

// StatusUpdate is a compare-and-set on (status, status_version).
type StatusUpdate struct {
	ID       types.ID
	From     Status
	To       Status
	Version  int
	DriverID *types.ID
	Reason   *string
	At       time.Time
}
