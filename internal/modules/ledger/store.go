// README: Ledger store; reads the transaction log, trip history, and the
// global fee schedule out of the realtime tree.
package ledger

import (
	"context"
	"encoding/json"
	"errors"

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

func (s *Store) Transactions(ctx context.Context, driverID types.ID) ([]Transaction, error) {
	children, err := s.rt.Children(ctx, TransactionsPath(driverID), "", nil)
	if err != nil {
		return nil, err
	}
	out := make([]Transaction, 0, len(children))
	for key, raw := range children {
		var tx Transaction
		if err := json.Unmarshal(raw, &tx); err != nil {
			continue
		}
		tx.ID = types.ID(key)
		out = append(out, tx)
	}
	return out, nil
}

func (s *Store) CompletedTrips(ctx context.Context, driverID types.ID) ([]trip.Trip, error) {
	children, err := s.rt.Children(ctx, CompletedTripsPath(driverID), "", nil)
	if err != nil {
		return nil, err
	}
	out := make([]trip.Trip, 0, len(children))
	for key, raw := range children {
		var t trip.Trip
		if err := json.Unmarshal(raw, &t); err != nil {
			continue
		}
		t.ID = types.ID(key)
		out = append(out, t)
	}
	return out, nil
}

// Append adds a transaction to the driver's log under a store-assigned key.
func (s *Store) Append(ctx context.Context, driverID types.ID, tx Transaction) (types.ID, error) {
	key, err := s.rt.Push(ctx, TransactionsPath(driverID), tx)
	if err != nil {
		return "", err
	}
	return types.ID(key), nil
}

// FeeSchedule reads settings/fees. Absence is not an error; the caller holds
// the configured defaults.
func (s *Store) FeeSchedule(ctx context.Context) (*trip.FeeSchedule, error) {
	var fs trip.FeeSchedule
	err := s.rt.Get(ctx, trip.FeesPath, &fs)
	if errors.Is(err, realtime.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &fs, nil
}

// WatchBalanceInputs merges change notifications from everything the balance
// depends on: the transaction log, the trip history, and the fee schedule.
func (s *Store) WatchBalanceInputs(ctx context.Context, driverID types.ID) (<-chan struct{}, error) {
	paths := []string{
		TransactionsPath(driverID),
		CompletedTripsPath(driverID),
		trip.FeesPath,
	}
	out := make(chan struct{}, 1)
	for _, path := range paths {
		snaps, err := s.rt.Watch(ctx, path)
		if err != nil {
			return nil, err
		}
		go func() {
			for range snaps {
				select {
				case out <- struct{}{}:
				default:
				}
			}
		}()
	}
	return out, nil
}
