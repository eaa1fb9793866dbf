package geometry

import (
	"math"
	"sort"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
	"gonum.org/v1/gonum/floats"
)

// dedupe drops consecutive points closer than eps.
func dedupe(pts []orb.Point, eps float64) orb.LineString {
	out := make(orb.LineString, 0, len(pts))
	for _, p := range pts {
		if len(out) > 0 && planar.Distance(out[len(out)-1], p) <= eps {
			continue
		}
		out = append(out, p)
	}
	return out
}

// Stations returns the cumulative arc length at every vertex of ls,
// starting at 0.
func Stations(ls orb.LineString) []float64 {
	if len(ls) == 0 {
		return nil
	}
	seg := make([]float64, len(ls))
	for i := 1; i < len(ls); i++ {
		seg[i] = planar.Distance(ls[i-1], ls[i])
	}
	return floats.CumSum(seg, seg)
}

// Interpolate returns the point at arc length s along ls, clamped to the
// polyline's extent. stations must come from Stations(ls).
func Interpolate(ls orb.LineString, stations []float64, s float64) orb.Point {
	n := len(ls)
	if n == 1 || s <= 0 {
		return ls[0]
	}
	if s >= stations[n-1] {
		return ls[n-1]
	}
	i := sort.SearchFloat64s(stations, s)
	if i == 0 {
		return ls[0]
	}
	a, b := ls[i-1], ls[i]
	span := stations[i] - stations[i-1]
	if span <= 0 {
		return b
	}
	t := (s - stations[i-1]) / span
	return orb.Point{a.X() + t*(b.X()-a.X()), a.Y() + t*(b.Y()-a.Y())}
}

// Heading returns the direction from a to b in radians, counterclockwise
// from the +x axis.
func Heading(a, b orb.Point) float64 {
	return math.Atan2(b.Y()-a.Y(), b.X()-a.X())
}

// AngleDiff returns the absolute difference between two headings in [0, π].
func AngleDiff(a, b float64) float64 {
	d := math.Mod(a-b, 2*math.Pi)
	if d < 0 {
		d += 2 * math.Pi
	}
	if d > math.Pi {
		d = 2*math.Pi - d
	}
	return d
}

// ProjectOnSegment computes the projection of p onto segment ab and returns
// the planar distance and the projection ratio along ab (clamped to [0,1]).
func ProjectOnSegment(p, a, b orb.Point) (dist, ratio float64) {
	if a == b {
		return planar.Distance(p, a), 0
	}

	dx := b.X() - a.X()
	dy := b.Y() - a.Y()
	lenSq := dx*dx + dy*dy

	t := ((p.X()-a.X())*dx + (p.Y()-a.Y())*dy) / lenSq
	if t < 0 {
		t = 0
	} else if t > 1 {
		t = 1
	}

	ex := p.X() - (a.X() + t*dx)
	ey := p.Y() - (a.Y() + t*dy)
	return math.Sqrt(ex*ex + ey*ey), t
}

// cross returns the z component of (b-a) x (c-a).
func cross(a, b, c orb.Point) float64 {
	return (b.X()-a.X())*(c.Y()-a.Y()) - (b.Y()-a.Y())*(c.X()-a.X())
}

func sign(v float64) int {
	const eps = 1e-12
	switch {
	case v > eps:
		return 1
	case v < -eps:
		return -1
	}
	return 0
}

// onSegment reports whether c, known collinear with ab, lies within ab's box.
func onSegment(a, b, c orb.Point) bool {
	return math.Min(a.X(), b.X()) <= c.X() && c.X() <= math.Max(a.X(), b.X()) &&
		math.Min(a.Y(), b.Y()) <= c.Y() && c.Y() <= math.Max(a.Y(), b.Y())
}

// segmentsIntersect reports whether segments p1p2 and p3p4 share any point.
func segmentsIntersect(p1, p2, p3, p4 orb.Point) bool {
	d1 := sign(cross(p3, p4, p1))
	d2 := sign(cross(p3, p4, p2))
	d3 := sign(cross(p1, p2, p3))
	d4 := sign(cross(p1, p2, p4))

	if d1 != d2 && d3 != d4 && d1 != 0 && d2 != 0 && d3 != 0 && d4 != 0 {
		return true
	}
	return (d1 == 0 && onSegment(p3, p4, p1)) ||
		(d2 == 0 && onSegment(p3, p4, p2)) ||
		(d3 == 0 && onSegment(p1, p2, p3)) ||
		(d4 == 0 && onSegment(p1, p2, p4))
}

// segmentsCross reports a proper crossing: the interiors intersect at a
// single point. Touching endpoints do not count.
func segmentsCross(p1, p2, p3, p4 orb.Point) bool {
	d1 := sign(cross(p3, p4, p1))
	d2 := sign(cross(p3, p4, p2))
	d3 := sign(cross(p1, p2, p3))
	d4 := sign(cross(p1, p2, p4))
	return d1*d2 < 0 && d3*d4 < 0
}

// IsSimple reports whether the open polyline ls does not intersect itself.
// Adjacent segments may share their joint but must not fold back onto each
// other.
func IsSimple(ls orb.LineString) bool {
	n := len(ls) - 1
	for i := 0; i < n; i++ {
		if i+1 < n {
			a, b, c := ls[i], ls[i+1], ls[i+2]
			if sign(cross(a, b, c)) == 0 {
				dot := (b.X()-a.X())*(c.X()-b.X()) + (b.Y()-a.Y())*(c.Y()-b.Y())
				if dot < 0 {
					return false
				}
			}
		}
		for j := i + 2; j < n; j++ {
			if segmentsIntersect(ls[i], ls[i+1], ls[j], ls[j+1]) {
				return false
			}
		}
	}
	return true
}

// polylinesCross reports whether any segment of a properly crosses any
// segment of b.
func polylinesCross(a, b orb.LineString) bool {
	ab, bb := a.Bound(), b.Bound()
	if !ab.Intersects(bb) {
		return false
	}
	for i := 0; i+1 < len(a); i++ {
		for j := 0; j+1 < len(b); j++ {
			if segmentsCross(a[i], a[i+1], b[j], b[j+1]) {
				return true
			}
		}
	}
	return false
}

// MatchPolylines reports whether a and b trace the same curve in the same
// direction: endpoints pair up and every vertex of each lies within tol of
// the other.
func MatchPolylines(a, b orb.LineString, tol float64) bool {
	if len(a) < 2 || len(b) < 2 {
		return false
	}
	if planar.Distance(a[0], b[0]) > tol || planar.Distance(a[len(a)-1], b[len(b)-1]) > tol {
		return false
	}
	for _, p := range a {
		if planar.DistanceFrom(b, p) > tol {
			return false
		}
	}
	for _, p := range b {
		if planar.DistanceFrom(a, p) > tol {
			return false
		}
	}
	return true
}
