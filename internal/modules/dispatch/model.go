// README: Driver availability and dispatch records.
package dispatch

import (
	"errors"

	"sokuhai/internal/types"
)

var ErrBadPosition = errors.New("position out of range")

type AvailabilityCommand struct {
	DriverID types.ID
	Online   bool
	Position types.Point
}

func validPosition(p types.Point) bool {
	return p.Lat >= -90 && p.Lat <= 90 && p.Lng >= -180 && p.Lng <= 180 && !p.IsZero()
}
