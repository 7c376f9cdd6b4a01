// README: Driver profile and published-location records.
package dispatch

import (
	"time"

	"motorcab/internal/realtime"
	"motorcab/internal/types"
)

// DriverProfile mirrors drivers/{id}. WalletBalance is a cache other clients
// maintain; the ledger never reads it back.
type DriverProfile struct {
	ID            types.ID `json:"-"`
	IsOnline      bool     `json:"isOnline"`
	IsAvailable   bool     `json:"isAvailable"`
	BannedUntil   int64    `json:"bannedUntil,omitempty"`
	ProfilePic    string   `json:"profilePic,omitempty"`
	WalletBalance *int64   `json:"walletBalance,omitempty"`
}

// Banned reports whether the profile's ban is still in force.
func (p DriverProfile) Banned(now time.Time) bool {
	return p.BannedUntil > now.UnixMilli()
}

// DriverLocation mirrors driverLocations/{id}, the fix published for the
// passenger map.
type DriverLocation struct {
	Lat         float64 `json:"lat"`
	Lng         float64 `json:"lng"`
	Heading     float64 `json:"heading"`
	IsAvailable bool    `json:"isAvailable"`
	Timestamp   int64   `json:"timestamp"`
}

func ProfilePath(id types.ID) string {
	return realtime.Join("drivers", string(id))
}

func LocationPath(id types.ID) string {
	return realtime.Join("driverLocations", string(id))
}
