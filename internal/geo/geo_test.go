// README: Geo helper and concurrent trip-detail tests.
package geo

import (
	"context"
	"math"
	"testing"

	"motorcab/internal/types"
)

type stubGeo struct {
	addr string
	leg  *Leg
}

func (s stubGeo) ReverseGeocode(ctx context.Context, p types.Point) string { return s.addr }
func (s stubGeo) RouteLeg(ctx context.Context, a, b types.Point) *Leg      { return s.leg }

func TestFormatDistance(t *testing.T) {
	tests := []struct {
		meters float64
		want   string
	}{
		{5200, "5.2 km"},
		{500, "0.5 km"},
		{0, "0.0 km"},
	}
	for _, tt := range tests {
		if got := FormatDistance(tt.meters); got != tt.want {
			t.Errorf("FormatDistance(%v) = %q, want %q", tt.meters, got, tt.want)
		}
	}
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		seconds float64
		want    string
	}{
		{600, "10 mins"},
		{60, "1 min"},
		{89, "1 min"},
		{91, "2 mins"},
		{0, "0 mins"},
	}
	for _, tt := range tests {
		if got := FormatDuration(tt.seconds); got != tt.want {
			t.Errorf("FormatDuration(%v) = %q, want %q", tt.seconds, got, tt.want)
		}
	}
}

func TestHaversineKm(t *testing.T) {
	// Yangon downtown to the airport, roughly 15 km.
	a := types.Point{Lat: 16.7745, Lng: 96.1598}
	b := types.Point{Lat: 16.9073, Lng: 96.1332}
	got := HaversineKm(a, b)
	if math.Abs(got-15) > 1.5 {
		t.Fatalf("HaversineKm = %v, want about 15", got)
	}
	if HaversineKm(a, a) != 0 {
		t.Fatal("distance to self must be zero")
	}
}

func TestTripDetailsResolvesEverything(t *testing.T) {
	svc := stubGeo{addr: "somewhere", leg: &Leg{Distance: "1.0 km", Duration: "3 mins"}}
	d := TripDetails(context.Background(), svc, types.Point{Lat: 1, Lng: 1}, types.Point{Lat: 2, Lng: 2}, types.Point{Lat: 3, Lng: 3})
	if d.PickupLeg == nil || d.DropoffLeg == nil {
		t.Fatalf("legs missing: %+v", d)
	}
	if d.PickupAddress != "somewhere" || d.DropoffAddress != "somewhere" {
		t.Fatalf("addresses missing: %+v", d)
	}
}

func TestTripDetailsSkipsPickupLegWithoutFix(t *testing.T) {
	svc := stubGeo{addr: "somewhere", leg: &Leg{Distance: "1.0 km", Duration: "3 mins"}}
	d := TripDetails(context.Background(), svc, types.Point{}, types.Point{Lat: 2, Lng: 2}, types.Point{Lat: 3, Lng: 3})
	if d.PickupLeg != nil {
		t.Fatal("pickup leg resolved without a driver fix")
	}
	if d.DropoffLeg == nil {
		t.Fatal("dropoff leg missing")
	}
}

func TestUnknownLegSentinel(t *testing.T) {
	leg := UnknownLeg()
	if leg.Distance != UnknownAddress || leg.Duration != UnknownAddress {
		t.Fatalf("UnknownLeg = %+v", leg)
	}
}
