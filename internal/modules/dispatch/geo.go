package dispatch

import (
	"github.com/golang/geo/s2"

	"sokuhai/internal/types"
)

const earthRadiusKm = 6371.0

// haversineKm is the great-circle distance between a and b.
func haversineKm(a, b types.Point) float64 {
	p1 := s2.LatLngFromDegrees(a.Lat, a.Lng)
	p2 := s2.LatLngFromDegrees(b.Lat, b.Lng)
	return p1.Distance(p2).Radians() * earthRadiusKm
}
