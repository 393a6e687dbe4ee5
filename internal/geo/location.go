// Package geo converts local Cartesian offsets to geodetic locations and
// measures short ground distances between them.
//
// Both conversions are flat-earth approximations: good to about 10 m per
// kilometre of offset and increasingly wrong near the poles.
package geo

import (
	"errors"
	"fmt"
	"math"
)

// EarthRadius is the radius of the "spherical" earth in metres.
const EarthRadius = 6378137.0

// metresPerDegree converts a degree delta to ground metres at the equator.
const metresPerDegree = 1.113195e5

// ErrInvalidLocationKind is returned when a location carries a frame tag
// that is neither absolute nor relative-to-home.
var ErrInvalidLocationKind = errors.New("invalid location kind")

// Frame tags how a Location's altitude is referenced.
type Frame int

const (
	// FrameUnknown is the zero value and is rejected by conversions.
	FrameUnknown Frame = iota
	// FrameAbsolute altitudes are above mean sea level.
	FrameAbsolute
	// FrameRelativeToHome altitudes are above the home position.
	FrameRelativeToHome
)

// String implements fmt.Stringer.
func (f Frame) String() string {
	switch f {
	case FrameAbsolute:
		return "absolute"
	case FrameRelativeToHome:
		return "relative"
	default:
		return fmt.Sprintf("frame(%d)", int(f))
	}
}

// Location is a geodetic position. Lat and Lon are degrees, Alt metres.
type Location struct {
	Lat   float64 `json:"lat"`
	Lon   float64 `json:"lon"`
	Alt   float64 `json:"alt"`
	Frame Frame   `json:"frame"`
}

// Offset is a Cartesian displacement in metres: north, east and up.
type Offset struct {
	North float64 `json:"north" yaml:"north"`
	East  float64 `json:"east" yaml:"east"`
	Up    float64 `json:"up" yaml:"up"`
}

// Norm returns the horizontal length of the offset.
func (o Offset) Norm() float64 {
	return math.Hypot(o.North, o.East)
}

// Offset returns l displaced by o. See OffsetLocation.
func (l Location) Offset(o Offset) (Location, error) {
	return OffsetLocation(l, o.North, o.East, o.Up)
}

// WithFrame returns a copy of l tagged with f.
func (l Location) WithFrame(f Frame) Location {
	l.Frame = f
	return l
}

// OffsetLocation returns the location dNorth and dEast metres from origin,
// dAlt metres above it. The result keeps origin's frame.
func OffsetLocation(origin Location, dNorth, dEast, dAlt float64) (Location, error) {
	switch origin.Frame {
	case FrameAbsolute, FrameRelativeToHome:
	default:
		return Location{}, fmt.Errorf("offset from %v: %w", origin.Frame, ErrInvalidLocationKind)
	}

	// offsets in radians
	dLat := dNorth / EarthRadius
	dLon := dEast / (EarthRadius * math.Cos(math.Pi*origin.Lat/180))

	return Location{
		Lat:   origin.Lat + dLat*180/math.Pi,
		Lon:   origin.Lon + dLon*180/math.Pi,
		Alt:   origin.Alt + dAlt,
		Frame: origin.Frame,
	}, nil
}

// DistanceMetres returns the ground distance between a and b, ignoring
// altitude. Only accurate over short ranges away from the poles.
func DistanceMetres(a, b Location) float64 {
	dLat := b.Lat - a.Lat
	dLon := b.Lon - a.Lon
	return math.Sqrt(dLat*dLat+dLon*dLon) * metresPerDegree
}
