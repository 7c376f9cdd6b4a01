// README: Lifecycle controller tests over the in-memory store.
package trip

import (
	"context"
	"errors"
	"testing"
	"time"

	"motorcab/internal/realtime"
	"motorcab/internal/types"
)

func newTestService(t *testing.T, driverID types.ID) (*Service, *Store, *realtime.MemoryStore) {
	t.Helper()
	rt := realtime.NewMemoryStore()
	store := NewStore(rt)
	return NewService(store, driverID, 2*time.Second), store, rt
}

func seedTrip(t *testing.T, rt *realtime.MemoryStore, id types.ID, tr Trip) Trip {
	t.Helper()
	if err := rt.Set(context.Background(), Path(id), tr); err != nil {
		t.Fatalf("seed trip: %v", err)
	}
	tr.ID = id
	return tr
}

func pendingTrip(fare int64) Trip {
	return Trip{
		Pickup:      types.Point{Lat: 16.84, Lng: 96.17},
		Dropoff:     types.Point{Lat: 16.80, Lng: 96.15},
		Fare:        fare,
		Status:      StatusPending,
		PassengerID: "p1",
		CreatedAt:   time.Now().UnixMilli(),
	}
}

func TestAcceptClaimsPendingTrip(t *testing.T) {
	svc, store, rt := newTestService(t, "d1")
	ctx := context.Background()
	offered := seedTrip(t, rt, "t1", pendingTrip(3000))

	if err := svc.Accept(ctx, &offered); err != nil {
		t.Fatalf("Accept: %v", err)
	}

	got, err := store.Get(ctx, "t1")
	if err != nil {
		t.Fatalf("Get after accept: %v", err)
	}
	if got.Status != StatusAccepted || got.DriverID != "d1" {
		t.Fatalf("got status=%s driver=%s, want accepted/d1", got.Status, got.DriverID)
	}
	if active := svc.Active(); active == nil || active.ID != "t1" {
		t.Fatalf("active = %v, want trip t1", active)
	}

	var driver struct {
		IsAvailable bool `json:"isAvailable"`
	}
	if err := rt.Get(ctx, "drivers/d1", &driver); err != nil {
		t.Fatalf("Get driver: %v", err)
	}
	if driver.IsAvailable {
		t.Fatal("driver still flagged available after accept")
	}
}

func TestAcceptLosesRaceToOtherDriver(t *testing.T) {
	svc, _, rt := newTestService(t, "d1")
	ctx := context.Background()
	offered := seedTrip(t, rt, "t1", pendingTrip(3000))

	// Another driver's claim lands between offer and accept.
	taken := offered
	taken.Status = StatusAccepted
	taken.DriverID = "d2"
	seedTrip(t, rt, "t1", taken)

	if err := svc.Accept(ctx, &offered); !errors.Is(err, ErrOfferTaken) {
		t.Fatalf("Accept = %v, want ErrOfferTaken", err)
	}
	if svc.Active() != nil {
		t.Fatal("local active state not rolled back after lost race")
	}
}

func TestAcceptWhileBusy(t *testing.T) {
	svc, _, rt := newTestService(t, "d1")
	ctx := context.Background()
	first := seedTrip(t, rt, "t1", pendingTrip(3000))
	second := seedTrip(t, rt, "t2", pendingTrip(4000))

	if err := svc.Accept(ctx, &first); err != nil {
		t.Fatalf("Accept first: %v", err)
	}
	if err := svc.Accept(ctx, &second); !errors.Is(err, ErrDriverBusy) {
		t.Fatalf("Accept second = %v, want ErrDriverBusy", err)
	}
}

func TestAcceptRespectsRequestedDriver(t *testing.T) {
	svc, _, rt := newTestService(t, "d1")
	ctx := context.Background()
	tr := pendingTrip(3000)
	tr.RequestedDriverID = "d9"
	offered := seedTrip(t, rt, "t1", tr)

	if err := svc.Accept(ctx, &offered); !errors.Is(err, ErrOfferTaken) {
		t.Fatalf("Accept = %v, want ErrOfferTaken for foreign invite", err)
	}
}

func TestDeclinePersists(t *testing.T) {
	svc, store, rt := newTestService(t, "d1")
	ctx := context.Background()
	seedTrip(t, rt, "t1", pendingTrip(3000))

	if err := svc.Decline(ctx, "t1"); err != nil {
		t.Fatalf("Decline: %v", err)
	}
	got, err := store.Get(ctx, "t1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !got.DeclinedBy("d1") {
		t.Fatal("declinedDriverIds missing d1 after decline")
	}
	if got.EligibleFor("d1") {
		t.Fatal("trip still eligible for declining driver")
	}
	if !got.EligibleFor("d2") {
		t.Fatal("decline leaked to other drivers")
	}
}

func TestDeclineVanishedTrip(t *testing.T) {
	svc, _, _ := newTestService(t, "d1")
	if err := svc.Decline(context.Background(), "gone"); err != nil {
		t.Fatalf("Decline on absent trip = %v, want nil", err)
	}
}

func TestTransitionFlow(t *testing.T) {
	tests := []struct {
		name    string
		seed    Status
		op      func(*Service, context.Context) error
		want    Status
		wantErr error
	}{
		{"arrive from accepted", StatusAccepted, (*Service).ArriveAtPickup, StatusAtPickup, nil},
		{"arrive twice is idempotent", StatusAtPickup, (*Service).ArriveAtPickup, StatusAtPickup, nil},
		{"start from at_pickup", StatusAtPickup, (*Service).StartTrip, StatusToDropoff, nil},
		{"start before arrival", StatusAccepted, (*Service).StartTrip, "", ErrInvalidState},
		{"arrive after departure", StatusToDropoff, (*Service).ArriveAtPickup, "", ErrInvalidState},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, store, rt := newTestService(t, "d1")
			ctx := context.Background()
			tr := pendingTrip(3000)
			tr.Status = tt.seed
			tr.DriverID = "d1"
			seeded := seedTrip(t, rt, "t1", tr)
			svc.active = &seeded

			err := tt.op(svc, ctx)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("op = %v, want %v", err, tt.wantErr)
			}
			if tt.wantErr != nil {
				got, gerr := store.Get(ctx, "t1")
				if gerr != nil {
					t.Fatalf("Get: %v", gerr)
				}
				if got.Status != tt.seed {
					t.Fatalf("rejected transition still wrote status %s", got.Status)
				}
				return
			}
			got, gerr := store.Get(ctx, "t1")
			if gerr != nil {
				t.Fatalf("Get: %v", gerr)
			}
			if got.Status != tt.want {
				t.Fatalf("status = %s, want %s", got.Status, tt.want)
			}
			if svc.Active().Status != tt.want {
				t.Fatalf("local status = %s, want %s", svc.Active().Status, tt.want)
			}
		})
	}
}

func TestCompleteFreezesFeesAndArchives(t *testing.T) {
	svc, _, rt := newTestService(t, "d1")
	ctx := context.Background()
	tr := pendingTrip(1000)
	tr.Status = StatusToDropoff
	tr.DriverID = "d1"
	seeded := seedTrip(t, rt, "t1", tr)
	svc.active = &seeded

	fs := &FeeSchedule{CommissionRate: 14, PlatformFee: 100}
	frozen, err := svc.Complete(ctx, fs)
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if frozen.Status != StatusCompleted || frozen.CompletedAt == 0 {
		t.Fatalf("frozen record not finalized: %+v", frozen)
	}
	if frozen.CommissionAmount == nil || *frozen.CommissionAmount != 226 {
		t.Fatalf("commission = %v, want 226", frozen.CommissionAmount)
	}
	if *frozen.AppliedRate != 14 || *frozen.AppliedPlatformFee != 100 {
		t.Fatal("applied schedule snapshot missing")
	}

	var archived Trip
	if err := rt.Get(ctx, CompletedPath("d1", "t1"), &archived); err != nil {
		t.Fatalf("driver history missing: %v", err)
	}
	if err := rt.Get(ctx, PassengerHistoryPath("p1", "t1"), &archived); err != nil {
		t.Fatalf("passenger history missing: %v", err)
	}
	var live Trip
	if err := rt.Get(ctx, Path("t1"), &live); !errors.Is(err, realtime.ErrNotFound) {
		t.Fatalf("live trip still present: %v", err)
	}
	if svc.Active() != nil {
		t.Fatal("active trip not cleared after completion")
	}

	var driver struct {
		IsAvailable bool `json:"isAvailable"`
	}
	if err := rt.Get(ctx, "drivers/d1", &driver); err != nil {
		t.Fatalf("Get driver: %v", err)
	}
	if !driver.IsAvailable {
		t.Fatal("driver not available again after completion")
	}
}

func TestCompleteWithoutSchedule(t *testing.T) {
	svc, _, rt := newTestService(t, "d1")
	ctx := context.Background()
	tr := pendingTrip(1000)
	tr.Status = StatusToDropoff
	tr.DriverID = "d1"
	seeded := seedTrip(t, rt, "t1", tr)
	svc.active = &seeded

	frozen, err := svc.Complete(ctx, nil)
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if frozen.CommissionAmount != nil {
		t.Fatal("commission frozen without a schedule")
	}
}

func TestCompleteRequiresToDropoff(t *testing.T) {
	svc, _, rt := newTestService(t, "d1")
	ctx := context.Background()
	tr := pendingTrip(1000)
	tr.Status = StatusAtPickup
	tr.DriverID = "d1"
	seeded := seedTrip(t, rt, "t1", tr)
	svc.active = &seeded

	if _, err := svc.Complete(ctx, nil); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("Complete = %v, want ErrInvalidState", err)
	}
}

func TestWatchActiveSurfacesCancellation(t *testing.T) {
	svc, _, rt := newTestService(t, "d1")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tr := pendingTrip(3000)
	tr.Status = StatusAccepted
	tr.DriverID = "d1"
	seeded := seedTrip(t, rt, "t1", tr)
	svc.active = &seeded

	updates, err := svc.WatchActive(ctx)
	if err != nil {
		t.Fatalf("WatchActive: %v", err)
	}

	cancelled := seeded
	cancelled.Status = StatusCancelled
	cancelled.CancellationFee = 500
	seedTrip(t, rt, "t1", cancelled)

	select {
	case upd := <-updates:
		if !upd.Cancelled || upd.Fee != 500 {
			t.Fatalf("update = %+v, want cancellation with fee 500", upd)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no cancellation update delivered")
	}
}

func TestWatchActiveSurfacesConflict(t *testing.T) {
	svc, _, rt := newTestService(t, "d1")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tr := pendingTrip(3000)
	tr.Status = StatusAccepted
	tr.DriverID = "d1"
	seeded := seedTrip(t, rt, "t1", tr)
	svc.active = &seeded

	updates, err := svc.WatchActive(ctx)
	if err != nil {
		t.Fatalf("WatchActive: %v", err)
	}

	stolen := seeded
	stolen.DriverID = "d2"
	seedTrip(t, rt, "t1", stolen)

	select {
	case upd := <-updates:
		if upd.ConflictingDriver != "d2" {
			t.Fatalf("update = %+v, want conflict with d2", upd)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no conflict update delivered")
	}
}

func TestWatchActiveEndsAfterCompletion(t *testing.T) {
	svc, _, rt := newTestService(t, "d1")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tr := pendingTrip(3000)
	tr.Status = StatusToDropoff
	tr.DriverID = "d1"
	seeded := seedTrip(t, rt, "t1", tr)
	svc.active = &seeded

	updates, err := svc.WatchActive(ctx)
	if err != nil {
		t.Fatalf("WatchActive: %v", err)
	}
	if _, err := svc.Complete(ctx, nil); err != nil {
		t.Fatalf("Complete: %v", err)
	}

	// Settling the trip must close the watch; no event is owed.
	for {
		select {
		case upd, ok := <-updates:
			if !ok {
				return
			}
			t.Fatalf("unexpected update after completion: %+v", upd)
		case <-time.After(2 * time.Second):
			t.Fatal("watch still open after completion")
		}
	}
}

func TestWatchActiveEndsOnRelease(t *testing.T) {
	svc, _, rt := newTestService(t, "d1")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tr := pendingTrip(3000)
	tr.Status = StatusAccepted
	tr.DriverID = "d1"
	seeded := seedTrip(t, rt, "t1", tr)
	svc.active = &seeded

	updates, err := svc.WatchActive(ctx)
	if err != nil {
		t.Fatalf("WatchActive: %v", err)
	}
	svc.Release()

	for {
		select {
		case _, ok := <-updates:
			if !ok {
				return
			}
		case <-time.After(2 * time.Second):
			t.Fatal("watch still open after release")
		}
	}
}

func TestResumeFindsActiveTrip(t *testing.T) {
	svc, _, rt := newTestService(t, "d1")
	ctx := context.Background()

	tr := pendingTrip(3000)
	tr.Status = StatusAtPickup
	tr.DriverID = "d1"
	seedTrip(t, rt, "t1", tr)

	done := pendingTrip(2000)
	done.Status = StatusCancelled
	done.DriverID = "d1"
	seedTrip(t, rt, "t2", done)

	resumed, err := svc.Resume(ctx)
	if err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if resumed.ID != "t1" || resumed.Status != StatusAtPickup {
		t.Fatalf("resumed = %+v, want t1 at_pickup", resumed)
	}
	if svc.Active() == nil {
		t.Fatal("resume did not restore local active state")
	}
}

func TestResumeWithNothingActive(t *testing.T) {
	svc, _, _ := newTestService(t, "d1")
	if _, err := svc.Resume(context.Background()); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Resume = %v, want ErrNotFound", err)
	}
}

func TestDeductionRounding(t *testing.T) {
	tests := []struct {
		name string
		fs   FeeSchedule
		fare int64
		want int64
	}{
		{"default schedule", FeeSchedule{CommissionRate: 14, PlatformFee: 100}, 1000, 226},
		{"rounds half up", FeeSchedule{CommissionRate: 15, PlatformFee: 0}, 1010, 152},
		{"zero rate keeps flat fee", FeeSchedule{CommissionRate: 0, PlatformFee: 100}, 1000, 100},
		{"fare below platform fee", FeeSchedule{CommissionRate: 10, PlatformFee: 100}, 50, 95},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.fs.Deduction(tt.fare); got != tt.want {
				t.Fatalf("Deduction(%d) = %d, want %d", tt.fare, got, tt.want)
			}
		})
	}
}
