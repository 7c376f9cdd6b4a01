// README: Completed-trip history reads over the realtime tree.
package history

import (
	"context"
	"encoding/json"
	"sort"

	"motorcab/internal/modules/ledger"
	"motorcab/internal/modules/trip"
	"motorcab/internal/realtime"
	"motorcab/internal/types"
)

type Store struct {
	rt realtime.Store
}

func NewStore(rt realtime.Store) *Store {
	return &Store{rt: rt}
}

// List returns the driver's completed trips, most recent first.
func (s *Store) List(ctx context.Context, driverID types.ID) ([]trip.Trip, error) {
	children, err := s.rt.Children(ctx, ledger.CompletedTripsPath(driverID), "", nil)
	if err != nil {
		return nil, err
	}
	return decodeSorted(children), nil
}

// Watch delivers the sorted history after every change.
func (s *Store) Watch(ctx context.Context, driverID types.ID) (<-chan []trip.Trip, error) {
	snaps, err := s.rt.WatchChildren(ctx, ledger.CompletedTripsPath(driverID), "", nil)
	if err != nil {
		return nil, err
	}
	out := make(chan []trip.Trip, 1)
	go func() {
		defer close(out)
		for snap := range snaps {
			deliver(out, decodeSorted(snap.Children))
		}
	}()
	return out, nil
}

// Remove drops one entry from the live history tree.
func (s *Store) Remove(ctx context.Context, driverID, tripID types.ID) error {
	return s.rt.Delete(ctx, trip.CompletedPath(driverID, tripID))
}

func decodeSorted(children map[string]json.RawMessage) []trip.Trip {
	out := make([]trip.Trip, 0, len(children))
	for key, raw := range children {
		var t trip.Trip
		if err := json.Unmarshal(raw, &t); err != nil {
			continue
		}
		t.ID = types.ID(key)
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CompletedAt != out[j].CompletedAt {
			return out[i].CompletedAt > out[j].CompletedAt
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func deliver(ch chan []trip.Trip, v []trip.Trip) {
	for {
		select {
		case ch <- v:
			return
		default:
		}
		select {
		case <-ch:
		default:
		}
	}
}
