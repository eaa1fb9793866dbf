package routing

import (
	"errors"
	"math"

	"github.com/paulmach/orb"

	"github.com/azybler/lanegraph/pkg/geometry"
	"github.com/azybler/lanegraph/pkg/graph"
	"github.com/azybler/lanegraph/pkg/spatial"
)

// ErrPointTooFar is returned when the query point is too far from any lanelet.
var ErrPointTooFar = errors.New("point too far from lanelet")

// ErrInvalidPoint is returned for query points with non-finite coordinates.
var ErrInvalidPoint = errors.New("invalid query point")

// Match is a point matched to a lanelet.
type Match struct {
	Index       uint32  `json:"-"`
	ID          int64   `json:"id"`
	Distance    float64 `json:"distance_m"` // 0 when the point is inside the lanelet
	Station     float64 `json:"station_m"`  // arc length along the centerline
	Offset      float64 `json:"offset_m"`   // signed lateral offset, positive to the left
	HeadingDiff float64 `json:"heading_diff_rad"`
}

// Snapper matches planar points to lanelets using the spatial index.
type Snapper struct {
	ix      *spatial.Index
	g       *graph.Graph
	nearTie float64
	maxDist float64                   // 0 = unlimited
	keep    func(*graph.Lanelet) bool // nil accepts every lanelet
}

// NewSnapper builds a snapper over g's lanelets. Lanelets within nearTie of
// the closest one compete on heading.
func NewSnapper(g *graph.Graph, ix *spatial.Index, nearTie, maxDist float64) *Snapper {
	if ix == nil {
		ix = spatial.Build(g.Lanelets())
	}
	return &Snapper{ix: ix, g: g, nearTie: math.Max(nearTie, 0), maxDist: maxDist}
}

// Filtered returns a snapper that only matches lanelets accepted by keep.
func (s *Snapper) Filtered(keep func(*graph.Lanelet) bool) *Snapper {
	c := *s
	c.keep = keep
	return &c
}

func (s *Snapper) accepts(i uint32) bool {
	return s.keep == nil || s.keep(s.g.At(i))
}

func finite(vs ...float64) bool {
	for _, v := range vs {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

func (s *Snapper) match(h spatial.Hit, p orb.Point) Match {
	proj := s.g.At(h.Index).Shape.Project(p)
	return Match{Index: h.Index, ID: h.ID, Distance: h.Distance, Station: proj.Station, Offset: proj.Offset}
}

func (s *Snapper) nearest(p orb.Point) (spatial.Hit, error) {
	if !finite(p.X(), p.Y()) {
		return spatial.Hit{}, ErrInvalidPoint
	}
	hits := s.ix.NearestFunc(p, 1, s.keep)
	if len(hits) == 0 {
		return spatial.Hit{}, ErrPointTooFar
	}
	if s.maxDist > 0 && hits[0].Distance > s.maxDist {
		return spatial.Hit{}, ErrPointTooFar
	}
	return hits[0], nil
}

// Snap finds the lanelet nearest to p. Ties break by id.
func (s *Snapper) Snap(p orb.Point) (Match, error) {
	best, err := s.nearest(p)
	if err != nil {
		return Match{}, err
	}
	return s.match(best, p), nil
}

// SnapHeading finds the lanelet best matching p and heading. Every lanelet
// within the near-tie window of the closest distance is a candidate; the
// one whose centerline direction at the foot point differs least from
// heading wins, then distance, then id.
func (s *Snapper) SnapHeading(p orb.Point, heading float64) (Match, error) {
	if !finite(heading) {
		return Match{}, ErrInvalidPoint
	}
	best, err := s.nearest(p)
	if err != nil {
		return Match{}, err
	}

	var out Match
	found := false
	for _, h := range s.ix.Within(p, best.Distance+s.nearTie) {
		if !s.accepts(h.Index) {
			continue
		}
		proj := s.g.At(h.Index).Shape.Project(p)
		m := Match{
			Index:       h.Index,
			ID:          h.ID,
			Distance:    h.Distance,
			Station:     proj.Station,
			Offset:      proj.Offset,
			HeadingDiff: geometry.AngleDiff(heading, proj.Heading),
		}
		if !found || better(m, out) {
			out, found = m, true
		}
	}
	if !found {
		// Unreachable unless Within disagrees with Nearest.
		m := s.match(best, p)
		m.HeadingDiff = geometry.AngleDiff(heading, s.g.At(best.Index).Shape.Project(p).Heading)
		return m, nil
	}
	return out, nil
}

func better(a, b Match) bool {
	if a.HeadingDiff != b.HeadingDiff {
		return a.HeadingDiff < b.HeadingDiff
	}
	if a.Distance != b.Distance {
		return a.Distance < b.Distance
	}
	return a.ID < b.ID
}
