package geometry

import (
	"math"
	"sort"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"

	"github.com/azybler/lanegraph/pkg/maperr"
)

// duplicateEps is the distance under which consecutive boundary points are
// treated as the same point.
const duplicateEps = 1e-6

// minMeanWidth is the smallest accepted ring area per meter of centerline.
const minMeanWidth = 1e-3

// containEps widens the ring boundary so points lying on it count as inside
// despite floating-point noise.
const containEps = 1e-9

// Shape is the validated planar geometry of a lanelet.
type Shape struct {
	Left       orb.LineString
	Right      orb.LineString
	Centerline orb.LineString
	Ring       orb.Ring // right boundary followed by the reversed left boundary, closed
	Bound      orb.Bound
	Length     float64 // centerline length in meters

	// LeftInverted is set when the left boundary was authored against the
	// driving direction and has been reversed.
	LeftInverted bool

	stations []float64 // cumulative centerline arc length per vertex
}

// BuildLanelet validates two boundary point sequences and derives the
// lanelet's centerline and drivable ring.
func BuildLanelet(leftPts, rightPts []orb.Point) (Shape, error) {
	left := dedupe(leftPts, duplicateEps)
	right := dedupe(rightPts, duplicateEps)

	if len(left) < 2 {
		return Shape{}, maperr.Degenerate("", 0, "left boundary collapses to a single point")
	}
	if len(right) < 2 {
		return Shape{}, maperr.Degenerate("", 0, "right boundary collapses to a single point")
	}
	if !IsSimple(left) {
		return Shape{}, maperr.Degenerate("", 0, "left boundary intersects itself")
	}
	if !IsSimple(right) {
		return Shape{}, maperr.Degenerate("", 0, "right boundary intersects itself")
	}

	var inverted bool
	if inverts(left, right) {
		left = left.Clone()
		left.Reverse()
		inverted = true
	}

	if MatchPolylines(left, right, duplicateEps) {
		return Shape{}, maperr.Degenerate("", 0, "left and right boundaries coincide")
	}
	if polylinesCross(left, right) {
		return Shape{}, maperr.Degenerate("", 0, "left and right boundaries cross")
	}

	center := deriveCenterline(left, right)

	ring := make(orb.Ring, 0, len(left)+len(right)+1)
	ring = append(ring, right...)
	for i := len(left) - 1; i >= 0; i-- {
		ring = append(ring, left[i])
	}
	ring = append(ring, right[0])

	stations := Stations(center)
	length := stations[len(stations)-1]
	if length == 0 || math.Abs(planar.Area(ring))/length < minMeanWidth {
		return Shape{}, maperr.Degenerate("", 0, "lanelet has no area")
	}
	return Shape{
		Left:         left,
		Right:        right,
		Centerline:   center,
		Ring:         ring,
		Bound:        ring.Bound(),
		Length:       length,
		LeftInverted: inverted,
		stations:     stations,
	}, nil
}

// inverts reports whether pairing the boundaries end-to-start is shorter
// than start-to-start, meaning one was drawn in the opposite direction.
func inverts(left, right orb.LineString) bool {
	l0, ln := left[0], left[len(left)-1]
	r0, rn := right[0], right[len(right)-1]
	same := planar.Distance(l0, r0) + planar.Distance(ln, rn)
	opposite := planar.Distance(l0, rn) + planar.Distance(ln, r0)
	return opposite < same
}

// deriveCenterline pairs the boundaries by normalized arc length. Every
// vertex of either boundary contributes a station, so the centerline has a
// vertex midway between the boundaries at every boundary index.
func deriveCenterline(left, right orb.LineString) orb.LineString {
	ls := Stations(left)
	rs := Stations(right)
	lLen, rLen := ls[len(ls)-1], rs[len(rs)-1]

	ts := make([]float64, 0, len(ls)+len(rs))
	for _, s := range ls {
		ts = append(ts, s/lLen)
	}
	for _, s := range rs {
		ts = append(ts, s/rLen)
	}
	sort.Float64s(ts)

	center := make(orb.LineString, 0, len(ts))
	last := math.Inf(-1)
	for _, t := range ts {
		if t-last < 1e-9 {
			continue
		}
		last = t
		l := Interpolate(left, ls, t*lLen)
		r := Interpolate(right, rs, t*rLen)
		center = append(center, orb.Point{(l.X() + r.X()) / 2, (l.Y() + r.Y()) / 2})
	}
	return dedupe(center, duplicateEps)
}

// Start returns the first centerline point.
func (s Shape) Start() orb.Point { return s.Centerline[0] }

// End returns the last centerline point.
func (s Shape) End() orb.Point { return s.Centerline[len(s.Centerline)-1] }

// StartHeading is the heading of the first centerline segment.
func (s Shape) StartHeading() float64 {
	return Heading(s.Centerline[0], s.Centerline[1])
}

// EndHeading is the heading of the last centerline segment.
func (s Shape) EndHeading() float64 {
	n := len(s.Centerline)
	return Heading(s.Centerline[n-2], s.Centerline[n-1])
}

// Projection locates a point relative to the centerline.
type Projection struct {
	Station float64 // arc length of the foot point along the centerline
	Offset  float64 // signed lateral distance, positive to the left
	Heading float64 // centerline heading at the foot point
	Point   orb.Point
}

// Project snaps p onto the centerline.
func (s Shape) Project(p orb.Point) Projection {
	best := math.Inf(1)
	var proj Projection
	for i := 0; i+1 < len(s.Centerline); i++ {
		a, b := s.Centerline[i], s.Centerline[i+1]
		d, ratio := ProjectOnSegment(p, a, b)
		if d < best {
			best = d
			foot := orb.Point{a.X() + ratio*(b.X()-a.X()), a.Y() + ratio*(b.Y()-a.Y())}
			side := 1.0
			if cross(a, b, p) < 0 {
				side = -1
			}
			proj = Projection{
				Station: s.stations[i] + ratio*(s.stations[i+1]-s.stations[i]),
				Offset:  side * d,
				Heading: Heading(a, b),
				Point:   foot,
			}
		}
	}
	return proj
}

// HeadingAt returns the centerline heading at arc length station.
func (s Shape) HeadingAt(station float64) float64 {
	i := sort.SearchFloat64s(s.stations, station)
	switch {
	case i <= 0:
		i = 1
	case i >= len(s.Centerline):
		i = len(s.Centerline) - 1
	}
	return Heading(s.Centerline[i-1], s.Centerline[i])
}

// PointAt returns the centerline point at arc length station.
func (s Shape) PointAt(station float64) orb.Point {
	return Interpolate(s.Centerline, s.stations, station)
}

// Distance is the exact distance from p to the drivable ring, 0 when p is
// inside or on the boundary.
func (s Shape) Distance(p orb.Point) float64 {
	d := planar.DistanceFrom(orb.LineString(s.Ring), p)
	if d <= containEps {
		return 0
	}
	if s.Bound.Contains(p) && planar.RingContains(s.Ring, p) {
		return 0
	}
	return d
}

// Contains reports whether p lies inside the drivable ring, boundary
// included. It agrees with Distance(p) == 0.
func (s Shape) Contains(p orb.Point) bool {
	return s.Distance(p) == 0
}
