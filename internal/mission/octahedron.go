package mission

import (
	"math"
	"time"
)

// Octahedron describes the default tour: the six vertices of a regular
// octahedron whose bottom vertex is the take-off point, visited along its
// edges.
type Octahedron struct {
	// Radius is the distance from the centre to each vertex in metres.
	Radius float64 `yaml:"radius"`
	// Interval is the time allowed for each edge.
	Interval time.Duration `yaml:"interval"`
}

// DefaultOctahedron is 5√2 m with 10 s per edge.
func DefaultOctahedron() Octahedron {
	return Octahedron{Radius: 5 * math.Sqrt2, Interval: 10 * time.Second}
}

// Legs returns the twelve-leg tour B C D E B F C A D F E A, where A is the
// bottom vertex, F the top and B..E the equator going north, east, south,
// west. Leg k is due k+1 intervals after the start.
func (o Octahedron) Legs() []Leg {
	r := o.Radius
	var (
		a = Leg{}
		b = Leg{North: r, Up: r}
		c = Leg{East: r, Up: r}
		d = Leg{North: -r, Up: r}
		e = Leg{East: -r, Up: r}
		f = Leg{Up: 2 * r}
	)
	tour := []Leg{b, c, d, e, b, f, c, a, d, f, e, a}
	for i := range tour {
		tour[i].At = time.Duration(i+1) * o.Interval
	}
	return tour
}
