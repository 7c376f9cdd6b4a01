// README: Trip matcher; turns the shared pending-trip pool into a per-driver
// ranked offer feed with geo enrichment and an audible-alert edge trigger.
package matching

import (
	"context"
	"encoding/json"
	"sync"

	"go.uber.org/zap"

	"motorcab/internal/geo"
	"motorcab/internal/logging"
	"motorcab/internal/modules/trip"
	"motorcab/internal/realtime"
	"motorcab/internal/types"
)

type Service struct {
	rt  realtime.Store
	geo geo.Service
}

func NewService(rt realtime.Store, geoSvc geo.Service) *Service {
	return &Service{rt: rt, geo: geoSvc}
}

// Options tunes one driver's observation. Both channels are optional: absent
// Locations means no pickup legs are resolved, absent Gate means the feed is
// always open.
type Options struct {
	// Locations carries the driver's latest position fix.
	Locations <-chan types.Point
	// Gate opens (true) and closes (false) the feed; a closed feed emits an
	// empty candidate list and suppresses alerts.
	Gate <-chan bool
}

// Subscription is one driver's live offer feed.
type Subscription struct {
	// Updates delivers ranked candidate lists, latest-wins.
	Updates <-chan Update

	mu       sync.Mutex
	excluded map[types.ID]bool
	kick     chan struct{}
}

// Exclude hides a trip from this feed immediately, without waiting for the
// store-side decline write to land.
func (s *Subscription) Exclude(id types.ID) {
	s.mu.Lock()
	s.excluded[id] = true
	s.mu.Unlock()
	select {
	case s.kick <- struct{}{}:
	default:
	}
}

func (s *Subscription) isExcluded(id types.ID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.excluded[id]
}

// Observe starts a feed of ranked pending-trip candidates for driverID. The
// feed ends with ctx.
func (s *Service) Observe(ctx context.Context, driverID types.ID, opts Options) (*Subscription, error) {
	snaps, err := s.rt.WatchChildren(ctx, "trips", "status", string(trip.StatusPending))
	if err != nil {
		return nil, err
	}
	updates := make(chan Update, 1)
	sub := &Subscription{
		Updates:  updates,
		excluded: make(map[types.ID]bool),
		kick:     make(chan struct{}, 1),
	}
	go s.run(ctx, driverID, opts, sub, snaps, updates)
	return sub, nil
}

func (s *Service) run(ctx context.Context, driverID types.ID, opts Options, sub *Subscription, snaps <-chan realtime.ChildSnapshot, updates chan Update) {
	defer close(updates)

	var (
		latest  map[string]json.RawMessage
		loc     types.Point
		details = make(map[types.ID]geo.Details)
		prev    = 0
	)
	// A supplied gate starts closed; nothing is offered before the first open.
	open := opts.Gate == nil

	emit := func() {
		if !open {
			prev = 0
			deliver(updates, Update{})
			return
		}
		candidates := s.eligible(ctx, driverID, sub, latest, loc, details)
		// Edge-triggered: alert only when the eligible set grew, never for
		// trips the driver has already been shown.
		alert := len(candidates) > prev
		prev = len(candidates)
		deliver(updates, Update{Trips: candidates, Alert: alert})
	}

	for {
		select {
		case <-ctx.Done():
			return
		case snap, ok := <-snaps:
			if !ok {
				return
			}
			latest = snap.Children
			emit()
		case p, ok := <-opts.Locations:
			if !ok {
				opts.Locations = nil
				continue
			}
			loc = p
			emit()
		case g, ok := <-opts.Gate:
			if !ok {
				opts.Gate = nil
				continue
			}
			if g != open {
				open = g
				emit()
			}
		case <-sub.kick:
			emit()
		}
	}
}

// eligible decodes, filters, ranks, and enriches the current pending set.
func (s *Service) eligible(ctx context.Context, driverID types.ID, sub *Subscription, children map[string]json.RawMessage, loc types.Point, details map[types.ID]geo.Details) []trip.Trip {
	out := make([]trip.Trip, 0, len(children))
	for key, raw := range children {
		var t trip.Trip
		if err := json.Unmarshal(raw, &t); err != nil {
			logging.Get().Warn("undecodable trip record", zap.String("tripId", key), zap.Error(err))
			continue
		}
		t.ID = types.ID(key)
		if !t.EligibleFor(driverID) || sub.isExcluded(t.ID) {
			continue
		}
		s.enrich(ctx, &t, loc, details)
		out = append(out, t)
	}
	Rank(out)
	return out
}

// enrich fills in addresses and route legs. Addresses and the dropoff leg
// resolve once per subscription; the pickup leg additionally resolves on the
// first emission with a driver fix, so trips offered before GPS lock still
// get one. Routing failure substitutes the unknown sentinel so the offer
// still renders.
func (s *Service) enrich(ctx context.Context, t *trip.Trip, loc types.Point, cache map[types.ID]geo.Details) {
	if s.geo == nil {
		return
	}
	d, ok := cache[t.ID]
	if !ok {
		d = geo.TripDetails(ctx, s.geo, loc, t.Pickup, t.Dropoff)
		if d.DropoffLeg == nil {
			d.DropoffLeg = geo.UnknownLeg()
		}
	}
	if d.PickupLeg == nil && !loc.IsZero() {
		if d.PickupLeg = s.geo.RouteLeg(ctx, loc, t.Pickup); d.PickupLeg == nil {
			d.PickupLeg = geo.UnknownLeg()
		}
	}
	cache[t.ID] = d
	if t.PickupAddress == "" {
		t.PickupAddress = d.PickupAddress
	}
	if t.DropoffAddress == "" {
		t.DropoffAddress = d.DropoffAddress
	}
	if t.PickupLeg == nil {
		t.PickupLeg = d.PickupLeg
	}
	if t.DropoffLeg == nil {
		t.DropoffLeg = d.DropoffLeg
	}
}

// deliver replaces any unread update so consumers always see current state.
func deliver(ch chan Update, u Update) {
	for {
		select {
		case ch <- u:
			return
		default:
		}
		select {
		case <-ch:
		default:
		}
	}
}
