// README: Trip lifecycle controller for one driver session; optimistic accept
// with rollback, guarded transitions, and external-cancellation watching.
package trip

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"motorcab/internal/logging"
	"motorcab/internal/types"
)

var (
	ErrNotFound     = errors.New("trip not found")
	ErrInvalidState = errors.New("invalid trip state transition")
	// ErrOfferTaken reports a lost acceptance race; local state has been
	// rolled back and the driver is available again.
	ErrOfferTaken = errors.New("offer no longer available")
	// ErrDriverBusy rejects accepting while another trip is active.
	ErrDriverBusy = errors.New("driver already has an active trip")
)

// Service drives one driver's trips through their lifecycle. The active trip
// is held locally and optimistically: Accept marks it before the conditional
// write lands so the caller never flickers, and rolls it back when the
// authoritative record disagrees.
type Service struct {
	store     *Store
	driverID  types.ID
	opTimeout time.Duration

	mu          sync.Mutex
	active      *Trip
	watchCancel context.CancelFunc
}

func NewService(store *Store, driverID types.ID, opTimeout time.Duration) *Service {
	if opTimeout <= 0 {
		opTimeout = 10 * time.Second
	}
	return &Service{store: store, driverID: driverID, opTimeout: opTimeout}
}

// Active returns a copy of the current active trip, or nil.
func (s *Service) Active() *Trip {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active == nil {
		return nil
	}
	cp := *s.active
	return &cp
}

// Accept claims a pending trip for this driver. candidate is the offered
// record as last shown to the driver; it seeds the optimistic local state so
// the UI switches instantly. Exactly one of the concurrent acceptors of a
// trip wins at the store; everyone else gets ErrOfferTaken with their local
// state restored.
func (s *Service) Accept(ctx context.Context, candidate *Trip) error {
	if candidate == nil {
		return ErrNotFound
	}
	s.mu.Lock()
	if s.active != nil {
		s.mu.Unlock()
		return ErrDriverBusy
	}
	optimistic := *candidate
	optimistic.Status = StatusAccepted
	optimistic.DriverID = s.driverID
	s.active = &optimistic
	s.mu.Unlock()

	opCtx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()

	claimed, err := s.store.Claim(opCtx, candidate.ID, s.driverID)
	if errors.Is(err, context.DeadlineExceeded) {
		// The write may have landed despite the timeout; only the
		// authoritative record can say.
		claimed, err = s.recheckClaim(ctx, candidate.ID)
	}
	if err != nil {
		s.rollback()
		if errors.Is(err, ErrOfferTaken) {
			logging.Get().Info("lost accept race",
				zap.String("tripId", string(candidate.ID)),
				zap.String("driverId", string(s.driverID)))
			return ErrOfferTaken
		}
		return err
	}

	s.mu.Lock()
	s.active = claimed
	s.mu.Unlock()

	if err := s.store.SetDriverAvailability(ctx, s.driverID, false); err != nil {
		logging.Get().Warn("availability flag not updated", zap.Error(err))
	}
	logging.Get().Info("trip accepted",
		zap.String("tripId", string(claimed.ID)),
		zap.String("driverId", string(s.driverID)))
	return nil
}

func (s *Service) rollback() {
	s.mu.Lock()
	s.active = nil
	s.mu.Unlock()
}

// recheckClaim re-reads the record after a timed-out claim.
func (s *Service) recheckClaim(ctx context.Context, id types.ID) (*Trip, error) {
	opCtx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()
	t, err := s.store.Get(opCtx, id)
	if err != nil {
		return nil, err
	}
	if t.DriverID == s.driverID && t.Status.Active() {
		return t, nil
	}
	return nil, ErrOfferTaken
}

// Decline permanently hides the trip from this driver. The local candidate
// list is the matcher's to prune; the store write may lag behind it.
func (s *Service) Decline(ctx context.Context, id types.ID) error {
	opCtx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()
	return s.store.Decline(opCtx, id, s.driverID)
}

// ArriveAtPickup moves accepted → at_pickup. Safe to re-invoke.
func (s *Service) ArriveAtPickup(ctx context.Context) error {
	return s.transition(ctx, StatusAtPickup)
}

// StartTrip moves at_pickup → to_dropoff.
func (s *Service) StartTrip(ctx context.Context) error {
	return s.transition(ctx, StatusToDropoff)
}

func (s *Service) transition(ctx context.Context, to Status) error {
	s.mu.Lock()
	active := s.active
	s.mu.Unlock()
	if active == nil {
		return ErrNotFound
	}
	if active.Status != to && !CanTransition(active.Status, to) {
		return ErrInvalidState
	}

	opCtx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()
	updated, err := s.store.UpdateStatus(opCtx, active.ID, to)
	if err != nil {
		// Local state is untouched; the driver can retry.
		return err
	}
	s.mu.Lock()
	s.active = updated
	s.mu.Unlock()
	return nil
}

// Complete settles the active trip: the fee schedule in effect right now is
// frozen onto the record, the record lands in both historical logs, the live
// trip disappears, and the driver is available again. The returned trip is
// the frozen copy, captured before the live record was deleted, so callers
// can render a summary without racing the deletion. A nil schedule writes no
// snapshot; the deduction is deferred to whatever schedule is live when the
// ledger next computes.
func (s *Service) Complete(ctx context.Context, fs *FeeSchedule) (*Trip, error) {
	s.mu.Lock()
	active := s.active
	s.mu.Unlock()
	if active == nil {
		return nil, ErrNotFound
	}
	if active.Status != StatusToDropoff {
		return nil, ErrInvalidState
	}

	frozen := *active
	frozen.Status = StatusCompleted
	frozen.CompletedAt = nowMillis()
	if fs != nil {
		deduction := fs.Deduction(frozen.Fare)
		rate, platform := fs.CommissionRate, fs.PlatformFee
		frozen.CommissionAmount = &deduction
		frozen.AppliedRate = &rate
		frozen.AppliedPlatformFee = &platform
	}

	opCtx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()
	if err := s.store.Complete(opCtx, frozen); err != nil {
		return nil, err
	}
	if err := s.store.SetDriverAvailability(ctx, s.driverID, true); err != nil {
		logging.Get().Warn("availability flag not updated", zap.Error(err))
	}

	s.mu.Lock()
	s.active = nil
	watchCancel := s.watchCancel
	s.watchCancel = nil
	s.mu.Unlock()
	if watchCancel != nil {
		watchCancel()
	}

	logging.Get().Info("trip completed",
		zap.String("tripId", string(frozen.ID)),
		zap.Int64("fare", frozen.Fare))
	return &frozen, nil
}

// ExternalUpdate is an authoritative change to the active trip made by
// another party.
type ExternalUpdate struct {
	Trip      Trip
	Cancelled bool
	Fee       int64
	// ConflictingDriver is set when the record turned out to belong to a
	// different driver (stale local state; treated like a lost race).
	ConflictingDriver types.ID
}

// WatchActive observes the active trip for passenger-side cancellation or a
// conflicting owner. The channel closes when the trip settles (completion,
// removal, or a surfaced event), on Release, or with the context; the
// underlying store watch is torn down with it so settled trips leave nothing
// behind.
func (s *Service) WatchActive(ctx context.Context) (<-chan ExternalUpdate, error) {
	active := s.Active()
	if active == nil {
		return nil, ErrNotFound
	}
	wctx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	if s.watchCancel != nil {
		s.watchCancel()
	}
	s.watchCancel = cancel
	s.mu.Unlock()

	trips, err := s.store.Watch(wctx, active.ID)
	if err != nil {
		cancel()
		return nil, err
	}
	out := make(chan ExternalUpdate, 1)
	go func() {
		defer close(out)
		defer cancel()
		for t := range trips {
			if t == nil {
				return // record removed; the trip has settled
			}
			if t.DriverID != "" && t.DriverID != s.driverID {
				out <- ExternalUpdate{Trip: *t, ConflictingDriver: t.DriverID}
				return
			}
			if t.Status == StatusCancelled {
				out <- ExternalUpdate{Trip: *t, Cancelled: true, Fee: t.CancellationFee}
				return
			}
			if t.Status == StatusCompleted {
				return
			}
		}
	}()
	return out, nil
}

// Release clears the local active trip (after a cancellation or conflict was
// surfaced and settled) and tears down its watch.
func (s *Service) Release() {
	s.mu.Lock()
	s.active = nil
	cancel := s.watchCancel
	s.watchCancel = nil
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Resume recovers an in-flight trip after a restart.
func (s *Service) Resume(ctx context.Context) (*Trip, error) {
	opCtx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()
	t, err := s.store.ActiveFor(opCtx, s.driverID)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.active = t
	s.mu.Unlock()
	return t, nil
}
