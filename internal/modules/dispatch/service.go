// README: Dispatch coordinator; binds matcher, lifecycle, and ledger into one
// driver session with automatic low-balance gating.
package dispatch

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"motorcab/internal/config"
	"motorcab/internal/logging"
	"motorcab/internal/modules/history"
	"motorcab/internal/modules/ledger"
	"motorcab/internal/modules/matching"
	"motorcab/internal/modules/trip"
	"motorcab/internal/realtime"
	"motorcab/internal/types"
)

var (
	ErrUnknownDriver = errors.New("unknown driver")
	ErrBanned        = errors.New("driver is banned")
	ErrLowBalance    = errors.New("balance below online threshold")
)

// Coordinator owns the per-process services and mints driver sessions.
type Coordinator struct {
	rt      realtime.Store
	matcher *matching.Service
	ledger  *ledger.Service
	history *history.Service
	cfg     config.DispatchConfig
}

func NewCoordinator(rt realtime.Store, matcher *matching.Service, ledgerSvc *ledger.Service, historySvc *history.Service, cfg config.DispatchConfig) *Coordinator {
	return &Coordinator{rt: rt, matcher: matcher, ledger: ledgerSvc, history: historySvc, cfg: cfg}
}

// Session is one driver's live connection to the engine. All methods are safe
// for concurrent use; each session is independent and disposable.
type Session struct {
	coord     *Coordinator
	driverID  types.ID
	lifecycle *trip.Service

	ctx    context.Context
	cancel context.CancelFunc

	locCh   chan types.Point
	gateCh  chan bool
	sub     *matching.Subscription
	notices chan trip.ExternalUpdate

	mu      sync.Mutex
	online  bool
	solvent bool
	busy    bool
}

// StartSession loads and validates the driver, wires the offer feed, and
// resumes any in-flight trip. The session ends when ctx does.
func (c *Coordinator) StartSession(ctx context.Context, driverID types.ID) (*Session, error) {
	var profile DriverProfile
	err := c.rt.Get(ctx, ProfilePath(driverID), &profile)
	if errors.Is(err, realtime.ErrNotFound) {
		return nil, ErrUnknownDriver
	}
	if err != nil {
		return nil, err
	}
	if profile.Banned(time.Now()) {
		return nil, ErrBanned
	}

	sctx, cancel := context.WithCancel(ctx)
	s := &Session{
		coord:     c,
		driverID:  driverID,
		lifecycle: trip.NewService(trip.NewStore(c.rt), driverID, c.cfg.OpTimeout),
		ctx:       sctx,
		cancel:    cancel,
		locCh:     make(chan types.Point, 1),
		gateCh:    make(chan bool, 1),
		notices:   make(chan trip.ExternalUpdate, 4),
	}

	sub, err := c.matcher.Observe(sctx, driverID, matching.Options{
		Locations: s.locCh,
		Gate:      s.gateCh,
	})
	if err != nil {
		cancel()
		return nil, err
	}
	s.sub = sub

	balances, err := c.ledger.WatchBalance(sctx, driverID)
	if err != nil {
		cancel()
		return nil, err
	}
	go s.watchSolvency(balances)

	if resumed, err := s.lifecycle.Resume(sctx); err == nil {
		s.mu.Lock()
		s.busy = true
		s.mu.Unlock()
		go s.watchActive()
		logging.Get().Info("session resumed with active trip",
			zap.String("driverId", string(driverID)),
			zap.String("tripId", string(resumed.ID)))
	} else if !errors.Is(err, trip.ErrNotFound) {
		cancel()
		return nil, err
	}

	if c.history != nil {
		go c.history.PruneLoop(sctx, driverID, time.Hour)
	}

	// The feed starts closed until GoOnline.
	s.pushGate()
	return s, nil
}

// Offers is the ranked candidate feed. Emissions are coalesced latest-wins.
func (s *Session) Offers() <-chan matching.Update {
	return s.sub.Updates
}

// Notices surfaces external events on the active trip (cancellation, lost
// ownership).
func (s *Session) Notices() <-chan trip.ExternalUpdate {
	return s.notices
}

// Active returns the current active trip, or nil.
func (s *Session) Active() *trip.Trip {
	return s.lifecycle.Active()
}

// GoOnline flips the driver visible and opens the offer feed. A balance at or
// below the threshold is rejected up front.
func (s *Session) GoOnline(ctx context.Context) error {
	balance, err := s.coord.ledger.BalanceOf(ctx, s.driverID)
	if err != nil {
		return err
	}
	if !s.coord.ledger.CanGoOnline(balance) {
		return ErrLowBalance
	}

	s.mu.Lock()
	s.online = true
	s.solvent = true
	busy := s.busy
	s.mu.Unlock()

	if err := s.coord.rt.Update(ctx, ProfilePath(s.driverID), map[string]any{
		"isOnline":    true,
		"isAvailable": !busy,
	}); err != nil {
		s.mu.Lock()
		s.online = false
		s.mu.Unlock()
		return err
	}
	s.pushGate()
	logging.Get().Info("driver online", zap.String("driverId", string(s.driverID)))
	return nil
}

// GoOffline hides the driver and closes the offer feed.
func (s *Session) GoOffline(ctx context.Context) error {
	s.mu.Lock()
	s.online = false
	s.mu.Unlock()
	s.pushGate()

	err := s.coord.rt.Update(ctx, ProfilePath(s.driverID), map[string]any{
		"isOnline":    false,
		"isAvailable": false,
	})
	if err != nil {
		return err
	}
	logging.Get().Info("driver offline", zap.String("driverId", string(s.driverID)))
	return nil
}

// PublishLocation writes the driver's fix for the passenger map and feeds the
// matcher's pickup-leg estimates.
func (s *Session) PublishLocation(ctx context.Context, p types.Point, heading float64) error {
	s.mu.Lock()
	available := s.online && !s.busy
	s.mu.Unlock()

	if err := s.coord.rt.Set(ctx, LocationPath(s.driverID), DriverLocation{
		Lat:         p.Lat,
		Lng:         p.Lng,
		Heading:     heading,
		IsAvailable: available,
		Timestamp:   time.Now().UnixMilli(),
	}); err != nil {
		return err
	}
	for {
		select {
		case s.locCh <- p:
			return nil
		default:
		}
		select {
		case <-s.locCh:
		default:
		}
	}
}

// Accept claims an offered trip. On success the feed gates closed and the
// active trip is watched for external changes.
func (s *Session) Accept(ctx context.Context, candidate *trip.Trip) error {
	if err := s.lifecycle.Accept(ctx, candidate); err != nil {
		return err
	}
	s.sub.Exclude(candidate.ID)
	s.mu.Lock()
	s.busy = true
	s.mu.Unlock()
	s.pushGate()
	go s.watchActive()
	return nil
}

// Decline hides the offer locally at once and records the decline.
func (s *Session) Decline(ctx context.Context, id types.ID) error {
	s.sub.Exclude(id)
	return s.lifecycle.Decline(ctx, id)
}

func (s *Session) ArriveAtPickup(ctx context.Context) error {
	return s.lifecycle.ArriveAtPickup(ctx)
}

func (s *Session) StartTrip(ctx context.Context) error {
	return s.lifecycle.StartTrip(ctx)
}

// CompleteTrip settles the active trip under the fee schedule in effect now
// and reopens the feed.
func (s *Session) CompleteTrip(ctx context.Context) (*trip.Trip, error) {
	fs := s.coord.ledger.Schedule(ctx)
	frozen, err := s.lifecycle.Complete(ctx, &fs)
	if err != nil {
		return nil, err
	}
	s.clearBusy()
	return frozen, nil
}

// Close tears the session down. Safe to call more than once.
func (s *Session) Close() {
	s.cancel()
}

func (s *Session) clearBusy() {
	s.mu.Lock()
	s.busy = false
	s.mu.Unlock()
	s.pushGate()
}

// watchSolvency keeps the feed gated to the low-balance rule while online.
func (s *Session) watchSolvency(balances <-chan int64) {
	for balance := range balances {
		allowed := s.coord.ledger.CanGoOnline(balance)
		s.mu.Lock()
		changed := s.solvent != allowed
		s.solvent = allowed
		online := s.online
		s.mu.Unlock()
		if changed && online {
			logging.Get().Info("balance crossed online threshold",
				zap.String("driverId", string(s.driverID)),
				zap.Int64("balance", balance),
				zap.Bool("eligible", allowed))
		}
		if changed {
			s.pushGate()
		}
	}
}

// watchActive follows the active trip until it settles or the session ends.
func (s *Session) watchActive() {
	updates, err := s.lifecycle.WatchActive(s.ctx)
	if err != nil {
		return
	}
	for upd := range updates {
		if upd.Cancelled {
			if err := s.coord.ledger.CreditCancellationFee(s.ctx, s.driverID, upd.Trip.ID, upd.Fee); err != nil {
				logging.Get().Warn("cancellation credit failed", zap.Error(err))
			}
			s.lifecycle.Release()
			if err := s.coord.rt.Update(s.ctx, ProfilePath(s.driverID), map[string]any{
				"isAvailable": true,
			}); err != nil {
				logging.Get().Warn("availability flag not updated", zap.Error(err))
			}
			s.clearBusy()
			s.notify(upd)
			return
		}
		if upd.ConflictingDriver != "" {
			s.lifecycle.Release()
			s.clearBusy()
			s.notify(upd)
			return
		}
	}
}

func (s *Session) notify(upd trip.ExternalUpdate) {
	select {
	case s.notices <- upd:
	default:
		logging.Get().Warn("notice dropped, consumer not reading",
			zap.String("tripId", string(upd.Trip.ID)))
	}
}

// pushGate recomputes and delivers the feed gate, latest-wins.
func (s *Session) pushGate() {
	s.mu.Lock()
	open := s.online && s.solvent && !s.busy
	s.mu.Unlock()
	for {
		select {
		case s.gateCh <- open:
			return
		default:
		}
		select {
		case <-s.gateCh:
		default:
		}
	}
}
