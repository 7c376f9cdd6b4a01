// README: Trip record, status machine, and the persisted fee schedule shape.
package trip

import (
	"time"

	"motorcab/internal/geo"
	"motorcab/internal/realtime"
	"motorcab/internal/types"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusAccepted  Status = "accepted"
	StatusAtPickup  Status = "at_pickup"
	StatusToDropoff Status = "to_dropoff"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

// AllowedTransitions represents the trip state flow as code. Progress is
// monotonic; cancellation exits from any active state.
var AllowedTransitions = map[Status][]Status{
	StatusPending:   {StatusAccepted, StatusCancelled},
	StatusAccepted:  {StatusAtPickup, StatusCancelled},
	StatusAtPickup:  {StatusToDropoff, StatusCancelled},
	StatusToDropoff: {StatusCompleted, StatusCancelled},
}

func CanTransition(from, to Status) bool {
	next, ok := AllowedTransitions[from]
	if !ok {
		return false
	}
	for _, s := range next {
		if s == to {
			return true
		}
	}
	return false
}

// Active reports whether a driver currently owns the trip.
func (s Status) Active() bool {
	return s == StatusAccepted || s == StatusAtPickup || s == StatusToDropoff
}

func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// Trip mirrors the shared trips/{id} record. Field names are part of the wire
// contract with the passenger and admin clients; do not rename.
type Trip struct {
	ID                 types.ID    `json:"-"`
	Pickup             types.Point `json:"pickup"`
	Dropoff            types.Point `json:"dropoff"`
	PickupAddress      string      `json:"pickupAddress,omitempty"`
	DropoffAddress     string      `json:"dropoffAddress,omitempty"`
	Fare               int64       `json:"fare"`
	Status             Status      `json:"status"`
	DriverID           types.ID    `json:"driverId,omitempty"`
	PassengerID        types.ID    `json:"passengerId"`
	PassengerPhone     string      `json:"passengerPhone,omitempty"`
	PickupLeg          *geo.Leg    `json:"pickupLeg,omitempty"`
	DropoffLeg         *geo.Leg    `json:"dropoffLeg,omitempty"`
	CreatedAt          int64       `json:"createdAt,omitempty"`
	CompletedAt        int64       `json:"completedAt,omitempty"`
	CancellationFee    int64       `json:"cancellationFee,omitempty"`
	RequestedDriverID  types.ID    `json:"requestedDriverId,omitempty"`
	DeclinedDriverIDs  []types.ID  `json:"declinedDriverIds,omitempty"`
	Token              string      `json:"token,omitempty"`
	CommissionAmount   *int64      `json:"commissionAmount,omitempty"`
	AppliedRate        *int64      `json:"appliedRate,omitempty"`
	AppliedPlatformFee *int64      `json:"appliedPlatformFee,omitempty"`
}

// DeclinedBy reports whether the driver already passed on this trip.
func (t Trip) DeclinedBy(driverID types.ID) bool {
	for _, id := range t.DeclinedDriverIDs {
		if id == driverID {
			return true
		}
	}
	return false
}

// EligibleFor reports whether the trip may be offered to the driver: still
// pending, unclaimed, not declined by them, and either open or invited
// directly to them via requestedDriverId.
func (t Trip) EligibleFor(driverID types.ID) bool {
	if t.Status != StatusPending || t.DriverID != "" {
		return false
	}
	if t.RequestedDriverID != "" && t.RequestedDriverID != driverID {
		return false
	}
	return !t.DeclinedBy(driverID)
}

// FeeSchedule mirrors settings/fees and the per-trip frozen snapshot.
// CommissionRate is a whole percentage, PlatformFee a flat amount.
type FeeSchedule struct {
	CommissionRate int64 `json:"commissionRate"`
	PlatformFee    int64 `json:"platformFee"`
}

// Deduction computes the platform's cut of a fare: the flat fee comes off
// first, then the percentage applies to the remainder, rounded to the nearest
// unit half-away-from-zero. The order of operations is load-bearing for
// compatibility with the other clients.
func (fs FeeSchedule) Deduction(fare int64) int64 {
	pct := float64(fare-fs.PlatformFee) * float64(fs.CommissionRate) / 100
	return fs.PlatformFee + roundHalfAway(pct)
}

func roundHalfAway(v float64) int64 {
	if v < 0 {
		return -int64(-v + 0.5)
	}
	return int64(v + 0.5)
}

// Store paths.

func Path(id types.ID) string {
	return realtime.Join("trips", string(id))
}

func CompletedPath(driverID, tripID types.ID) string {
	return realtime.Join("completedTrips", string(driverID), string(tripID))
}

func PassengerHistoryPath(passengerID, tripID types.ID) string {
	return realtime.Join("passengers", string(passengerID), "completedTrips", string(tripID))
}

// FeesPath is the global, hot-reloadable fee schedule record.
const FeesPath = "settings/fees"

func nowMillis() int64 {
	return time.Now().UnixMilli()
}
