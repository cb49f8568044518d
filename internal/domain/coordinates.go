package domain

import (
	"context"
	"fmt"
	"math"
)

// Coordinates is a WGS-84 latitude/longitude pair reported by a device.
type Coordinates struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Validate reports whether the pair lies within WGS-84 bounds.
func (c Coordinates) Validate() error {
	if math.IsNaN(c.Lat) || c.Lat < -90 || c.Lat > 90 {
		return fmt.Errorf("latitude %v out of range [-90, 90]", c.Lat)
	}
	if math.IsNaN(c.Lon) || c.Lon < -180 || c.Lon > 180 {
		return fmt.Errorf("longitude %v out of range [-180, 180]", c.Lon)
	}
	return nil
}

func (c Coordinates) String() string {
	return fmt.Sprintf("%.6f,%.6f", c.Lat, c.Lon)
}

// Positioner is the device geolocation capability. CurrentPosition blocks
// until the device grants access and reports a position, or refuses.
type Positioner interface {
	CurrentPosition(ctx context.Context) (Coordinates, error)
}

// PositionFunc adapts a function to the Positioner interface.
type PositionFunc func(ctx context.Context) (Coordinates, error)

func (f PositionFunc) CurrentPosition(ctx context.Context) (Coordinates, error) {
	return f(ctx)
}

// FixedPosition returns a Positioner that always reports c.
func FixedPosition(c Coordinates) Positioner {
	return PositionFunc(func(context.Context) (Coordinates, error) {
		return c, nil
	})
}

// FailedPosition returns a Positioner that always fails with err.
func FailedPosition(err error) Positioner {
	return PositionFunc(func(context.Context) (Coordinates, error) {
		return Coordinates{}, err
	})
}
