// README: Trip store over the realtime tree (conditional claim + guarded transitions).
package trip

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"motorcab/internal/realtime"
	"motorcab/internal/types"
)

type Store struct {
	rt realtime.Store
}

func NewStore(rt realtime.Store) *Store {
	return &Store{rt: rt}
}

func (s *Store) Get(ctx context.Context, id types.ID) (*Trip, error) {
	var t Trip
	err := s.rt.Get(ctx, Path(id), &t)
	if errors.Is(err, realtime.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	t.ID = id
	return &t, nil
}

// Claim is the conditional accept. The transaction only writes if the record
// is still a pending, unclaimed trip this driver may take; any other shape
// means another writer got there first and the claim aborts.
func (s *Store) Claim(ctx context.Context, id, driverID types.ID) (*Trip, error) {
	var claimed Trip
	err := s.rt.Txn(ctx, Path(id), func(current json.RawMessage) (any, error) {
		if current == nil {
			return nil, realtime.ErrTxnAborted
		}
		var t Trip
		if err := json.Unmarshal(current, &t); err != nil {
			return nil, realtime.ErrTxnAborted
		}
		if !t.EligibleFor(driverID) {
			return nil, realtime.ErrTxnAborted
		}
		t.Status = StatusAccepted
		t.DriverID = driverID
		claimed = t
		return t, nil
	})
	if errors.Is(err, realtime.ErrTxnAborted) {
		return nil, ErrOfferTaken
	}
	if err != nil {
		return nil, err
	}
	claimed.ID = id
	return &claimed, nil
}

// UpdateStatus applies a guarded transition. Re-applying the current status
// is a no-op, not an error, so retried driver taps stay safe.
func (s *Store) UpdateStatus(ctx context.Context, id types.ID, to Status) (*Trip, error) {
	var updated Trip
	var invalid bool
	err := s.rt.Txn(ctx, Path(id), func(current json.RawMessage) (any, error) {
		if current == nil {
			return nil, realtime.ErrTxnAborted
		}
		var t Trip
		if err := json.Unmarshal(current, &t); err != nil {
			return nil, realtime.ErrTxnAborted
		}
		if t.Status == to {
			updated = t
			return t, nil
		}
		if !CanTransition(t.Status, to) {
			invalid = true
			return nil, realtime.ErrTxnAborted
		}
		t.Status = to
		updated = t
		return t, nil
	})
	if invalid {
		return nil, ErrInvalidState
	}
	if errors.Is(err, realtime.ErrTxnAborted) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	updated.ID = id
	return &updated, nil
}

// Decline appends the driver to declinedDriverIds so the trip is never
// re-offered to them. A trip that vanished in the meantime needs nothing.
func (s *Store) Decline(ctx context.Context, id, driverID types.ID) error {
	err := s.rt.Txn(ctx, Path(id), func(current json.RawMessage) (any, error) {
		if current == nil {
			return nil, realtime.ErrTxnAborted
		}
		var t Trip
		if err := json.Unmarshal(current, &t); err != nil {
			return nil, realtime.ErrTxnAborted
		}
		if t.DeclinedBy(driverID) {
			return t, nil
		}
		t.DeclinedDriverIDs = append(t.DeclinedDriverIDs, driverID)
		return t, nil
	})
	if errors.Is(err, realtime.ErrTxnAborted) {
		return nil
	}
	return err
}

// Complete writes the frozen record into both historical logs, then removes
// the live trip. The pair write comes first so no observer ever sees the trip
// disappear without its history existing.
func (s *Store) Complete(ctx context.Context, t Trip) error {
	if err := s.rt.Set(ctx, CompletedPath(t.DriverID, t.ID), t); err != nil {
		return fmt.Errorf("write driver history: %w", err)
	}
	if err := s.rt.Set(ctx, PassengerHistoryPath(t.PassengerID, t.ID), t); err != nil {
		return fmt.Errorf("write passenger history: %w", err)
	}
	if err := s.rt.Delete(ctx, Path(t.ID)); err != nil {
		return fmt.Errorf("remove live trip: %w", err)
	}
	return nil
}

// ActiveFor finds the driver's in-flight trip, if any (session resume).
func (s *Store) ActiveFor(ctx context.Context, driverID types.ID) (*Trip, error) {
	children, err := s.rt.Children(ctx, "trips", "driverId", string(driverID))
	if err != nil {
		return nil, err
	}
	for key, raw := range children {
		var t Trip
		if err := json.Unmarshal(raw, &t); err != nil {
			continue
		}
		if t.Status.Active() {
			t.ID = types.ID(key)
			return &t, nil
		}
	}
	return nil, ErrNotFound
}

// Watch observes one trip record; a nil trip means the record was removed.
func (s *Store) Watch(ctx context.Context, id types.ID) (<-chan *Trip, error) {
	snaps, err := s.rt.Watch(ctx, Path(id))
	if err != nil {
		return nil, err
	}
	out := make(chan *Trip, 1)
	go func() {
		defer close(out)
		for snap := range snaps {
			if snap.Data == nil {
				out <- nil
				continue
			}
			var t Trip
			if err := json.Unmarshal(snap.Data, &t); err != nil {
				continue
			}
			t.ID = id
			out <- &t
		}
	}()
	return out, nil
}

// SetDriverAvailability flips the shared availability flag that the matcher
// fleet and admin tools read.
func (s *Store) SetDriverAvailability(ctx context.Context, driverID types.ID, available bool) error {
	return s.rt.Update(ctx, realtime.Join("drivers", string(driverID)), map[string]any{
		"isAvailable": available,
	})
}
