package sim

import (
	"math"

	"OctaFlight/internal/geo"
)

// GeoRef converts between geodetic coordinates and a local ENU plane
// anchored at the home position. It uses the same spherical model as
// geo.OffsetLocation so offsets round-trip exactly.
type GeoRef struct {
	Lat float64
	Lon float64
	Alt float64 // home altitude above mean sea level
}

func (g GeoRef) metresPerDegLat() float64 { return geo.EarthRadius * math.Pi / 180 }

func (g GeoRef) metresPerDegLon() float64 {
	return g.metresPerDegLat() * math.Cos(g.Lat*math.Pi/180)
}

// ToLocal converts loc into the local plane; altitude becomes height above
// home whichever frame loc is in.
func (g GeoRef) ToLocal(loc geo.Location) (Vec3, error) {
	v := Vec3{
		X: (loc.Lon - g.Lon) * g.metresPerDegLon(),
		Y: (loc.Lat - g.Lat) * g.metresPerDegLat(),
	}
	switch loc.Frame {
	case geo.FrameAbsolute:
		v.Z = loc.Alt - g.Alt
	case geo.FrameRelativeToHome:
		v.Z = loc.Alt
	default:
		return Vec3{}, geo.ErrInvalidLocationKind
	}
	return v, nil
}

// ToGeo converts a local point into a location in frame f.
func (g GeoRef) ToGeo(p Vec3, f geo.Frame) geo.Location {
	loc := geo.Location{
		Lat:   g.Lat + p.Y/g.metresPerDegLat(),
		Lon:   g.Lon + p.X/g.metresPerDegLon(),
		Alt:   p.Z,
		Frame: f,
	}
	if f == geo.FrameAbsolute {
		loc.Alt += g.Alt
	}
	return loc
}
