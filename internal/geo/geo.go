// README: GeoService contract plus pure formatting/distance helpers.
//
// Both operations degrade instead of failing: reverse geocoding falls back to
// "unknown" and route legs come back absent. A missing leg must never hide a
// trip from the driver, so callers substitute UnknownLeg rather than drop.
package geo

import (
	"context"
	"fmt"
	"math"
	"sync"

	"motorcab/internal/types"
)

// UnknownAddress is the reverse-geocoding fallback shared with the other
// clients of the store.
const UnknownAddress = "unknown"

// Leg is the human-readable distance/duration of one route segment, exactly
// as persisted on trip records.
type Leg struct {
	Distance string `json:"distance"`
	Duration string `json:"duration"`
}

// UnknownLeg is the sentinel substituted when routing fails.
func UnknownLeg() *Leg {
	return &Leg{Distance: UnknownAddress, Duration: UnknownAddress}
}

// Service resolves addresses and route legs. Implementations never return an
// error to the caller; failures degrade per the contract above.
type Service interface {
	ReverseGeocode(ctx context.Context, p types.Point) string
	RouteLeg(ctx context.Context, a, b types.Point) *Leg
}

// Details bundles everything a driver-facing trip card needs.
type Details struct {
	PickupLeg      *Leg
	DropoffLeg     *Leg
	PickupAddress  string
	DropoffAddress string
}

// TripDetails resolves both legs and both addresses concurrently. A zero
// driver location skips the pickup leg (no fix yet).
func TripDetails(ctx context.Context, svc Service, driverLoc, pickup, dropoff types.Point) Details {
	var d Details
	var wg sync.WaitGroup
	if !driverLoc.IsZero() {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d.PickupLeg = svc.RouteLeg(ctx, driverLoc, pickup)
		}()
	}
	wg.Add(3)
	go func() {
		defer wg.Done()
		d.DropoffLeg = svc.RouteLeg(ctx, pickup, dropoff)
	}()
	go func() {
		defer wg.Done()
		d.PickupAddress = svc.ReverseGeocode(ctx, pickup)
	}()
	go func() {
		defer wg.Done()
		d.DropoffAddress = svc.ReverseGeocode(ctx, dropoff)
	}()
	wg.Wait()
	return d
}

// FormatDistance renders metres as "5.2 km".
func FormatDistance(meters float64) string {
	return fmt.Sprintf("%.1f km", meters/1000)
}

// FormatDuration renders seconds as "10 mins" ("1 min" stays singular).
func FormatDuration(seconds float64) string {
	minutes := int(math.Round(seconds / 60))
	if minutes == 1 {
		return "1 min"
	}
	return fmt.Sprintf("%d mins", minutes)
}

const earthRadiusKm = 6371.0

// HaversineKm returns the great-circle distance in kilometres between two
// points specified in decimal degrees.
func HaversineKm(a, b types.Point) float64 {
	dLat := degreesToRadians(b.Lat - a.Lat)
	dLng := degreesToRadians(b.Lng - a.Lng)

	rLat1 := degreesToRadians(a.Lat)
	rLat2 := degreesToRadians(b.Lat)

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(rLat1)*math.Cos(rLat2)*math.Sin(dLng/2)*math.Sin(dLng/2)
	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))

	return earthRadiusKm * c
}

func degreesToRadians(deg float64) float64 {
	return deg * math.Pi / 180.0
}
