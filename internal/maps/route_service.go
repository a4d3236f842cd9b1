package maps

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"

	"googlemaps.github.io/maps"

	"sokuhai/internal/types"
)

var (
	// ErrRouteNotFound means the provider answered but has no drivable route.
	ErrRouteNotFound = errors.New("route not found")
	// ErrProviderUnavailable covers network, quota and API failures.
	ErrProviderUnavailable = errors.New("route provider unavailable")
)

// Route is the distance/duration figure the pricing engine consumes.
type Route struct {
	DistanceKm      float64     `json:"distance_km"`
	DurationMinutes int         `json:"duration_minutes"`
	Origin          types.Point `json:"origin"`
	Destination     types.Point `json:"destination"`
}

// DistanceProvider resolves the driving distance between two addresses.
type DistanceProvider interface {
	GetDistance(ctx context.Context, origin, destination string) (Route, error)
}

// directionsClient is the subset of *maps.Client used here.
type directionsClient interface {
	Directions(ctx context.Context, r *maps.DirectionsRequest) ([]maps.Route, []maps.GeocodedWaypoint, error)
}

// RouteService handles interactions with Google Maps API.
type RouteService struct {
	client directionsClient
}

// NewRouteService creates a new RouteService with the given API Key.
func NewRouteService(apiKey string) (*RouteService, error) {
	client, err := maps.NewClient(maps.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create maps client: %w", err)
	}
	return &RouteService{client: client}, nil
}

// GetDistance returns the first driving route between origin and destination.
func (s *RouteService) GetDistance(ctx context.Context, origin, destination string) (Route, error) {
	if strings.TrimSpace(origin) == "" || strings.TrimSpace(destination) == "" {
		return Route{}, ErrRouteNotFound
	}
	r := &maps.DirectionsRequest{
		Origin:      origin,
		Destination: destination,
		Mode:        maps.TravelModeDriving,
		Language:    "ja",
		Region:      "JP",
	}

	routes, _, err := s.client.Directions(ctx, r)
	if err != nil {
		return Route{}, classifyError(err)
	}
	if len(routes) == 0 || len(routes[0].Legs) == 0 {
		return Route{}, ErrRouteNotFound
	}

	leg := routes[0].Legs[0]
	if leg.Distance.Meters <= 0 {
		return Route{}, ErrRouteNotFound
	}
	return Route{
		DistanceKm:      float64(leg.Distance.Meters) / 1000.0,
		DurationMinutes: int(math.Ceil(leg.Duration.Minutes())),
		Origin:          types.Point{Lat: leg.StartLocation.Lat, Lng: leg.StartLocation.Lng},
		Destination:     types.Point{Lat: leg.EndLocation.Lat, Lng: leg.EndLocation.Lng},
	}, nil
}

// classifyError maps Directions API statuses onto the two provider conditions.
func classifyError(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", ErrProviderUnavailable, err)
	}
	msg := err.Error()
	for _, status := range []string{"ZERO_RESULTS", "NOT_FOUND", "MAX_ROUTE_LENGTH_EXCEEDED"} {
		if strings.Contains(msg, status) {
			return fmt.Errorf("%w: %s", ErrRouteNotFound, status)
		}
	}
	return fmt.Errorf("%w: maps api error: %w", ErrProviderUnavailable, err)
}
