// README: Google Maps implementation of the GeoService contract.
package geo

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"googlemaps.github.io/maps"

	"motorcab/internal/logging"
	"motorcab/internal/types"
)

// GoogleService resolves addresses and route legs through the Google Maps
// Geocoding and Directions APIs.
type GoogleService struct {
	client *maps.Client
}

func NewGoogleService(apiKey string) (*GoogleService, error) {
	client, err := maps.NewClient(maps.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create maps client: %w", err)
	}
	return &GoogleService{client: client}, nil
}

func (s *GoogleService) ReverseGeocode(ctx context.Context, p types.Point) string {
	results, err := s.client.ReverseGeocode(ctx, &maps.GeocodingRequest{
		LatLng: &maps.LatLng{Lat: p.Lat, Lng: p.Lng},
	})
	if err != nil || len(results) == 0 {
		logging.Get().Debug("reverse geocode failed", zap.Float64("lat", p.Lat), zap.Float64("lng", p.Lng), zap.Error(err))
		return UnknownAddress
	}
	return results[0].FormattedAddress
}

func (s *GoogleService) RouteLeg(ctx context.Context, a, b types.Point) *Leg {
	routes, _, err := s.client.Directions(ctx, &maps.DirectionsRequest{
		Origin:      fmt.Sprintf("%f,%f", a.Lat, a.Lng),
		Destination: fmt.Sprintf("%f,%f", b.Lat, b.Lng),
		Mode:        maps.TravelModeDriving,
	})
	if err != nil || len(routes) == 0 || len(routes[0].Legs) == 0 {
		logging.Get().Debug("route leg failed", zap.Error(err))
		return nil
	}
	leg := routes[0].Legs[0]
	return &Leg{
		Distance: FormatDistance(float64(leg.Distance.Meters)),
		Duration: FormatDuration(leg.Duration.Seconds()),
	}
}
