// README: In-memory ride store with the same compare-and-set semantics as the Postgres store.
package ride

import (
	"context"
	"sync"

	"honeycomb/internal/types"
)

type MemoryStore struct {
	mu     sync.Mutex
	rides  map[types.ID]Ride
	events map[types.ID][]Event
	seq    int64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{rides: map[types.ID]Ride{}, events: map[types.ID][]Event{}}
}

func (s *MemoryStore) Create(_ context.Context, r *Ride) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rides[r.ID]; ok {
		return ErrConflict
	}
	s.rides[r.ID] = *r
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id types.ID) (*Ride, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rides[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &r, nil
}

func (s *MemoryStore) UpdateStatus(_ context.Context, u StatusUpdate) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rides[u.ID]
	if !ok || r.Status != u.From || r.StatusVersion != u.Version {
		return false, nil
	}
	r.Status = u.To
	r.StatusVersion++
	if u.DriverID != nil {
		d := *u.DriverID
		r.DriverID = &d
	}
	if u.Reason != nil {
		reason := *u.Reason
		r.CancelReason = &reason
	}
	at := u.At
	r.ResolvedAt = &at
	s.rides[u.ID] = r
	return true, nil
}

func (s *MemoryStore) AppendEvent(_ context.Context, e *Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	ev := *e
	ev.ID = s.seq
	s.events[e.RideID] = append(s.events[e.RideID], ev)
	return nil
}

func (s *MemoryStore) Events(_ context.Context, id types.ID) ([]Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Event(nil), s.events[id]...), nil
}
