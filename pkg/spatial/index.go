// Package spatial answers nearest and containment queries over lanelet
// polygons and regulatory element extents.
package spatial

import (
	"math"
	"sort"

	"github.com/paulmach/orb"
	"github.com/tidwall/rtree"

	"github.com/azybler/lanegraph/pkg/graph"
)

// Hit is a lanelet found by a query.
type Hit struct {
	Index    uint32 // graph index
	ID       int64
	Distance float64 // exact distance to the lanelet polygon, 0 inside
}

// Index is an R-tree over lanelet polygon bounds. Bounding boxes only prune
// candidates; every reported distance is exact.
type Index struct {
	tree     rtree.RTreeG[uint32]
	lanelets []graph.Lanelet
}

// Build indexes the given lanelets. Hit.Index refers to positions in
// lanelets, which is the graph index when passed graph.Lanelets().
func Build(lanelets []graph.Lanelet) *Index {
	ix := &Index{lanelets: lanelets}
	for i := range lanelets {
		b := lanelets[i].Shape.Bound
		ix.tree.Insert([2]float64(b.Min), [2]float64(b.Max), uint32(i))
	}
	return ix
}

// Len returns the number of indexed lanelets.
func (ix *Index) Len() int {
	return ix.tree.Len()
}

func boxDist(p orb.Point, min, max [2]float64) float64 {
	dx := math.Max(0, math.Max(min[0]-p[0], p[0]-max[0]))
	dy := math.Max(0, math.Max(min[1]-p[1], p[1]-max[1]))
	return math.Hypot(dx, dy)
}

// Nearest returns up to k lanelets closest to p, ordered by distance then
// id. Lanelets containing p have distance 0.
func (ix *Index) Nearest(p orb.Point, k int) []Hit {
	return ix.NearestFunc(p, k, nil)
}

// NearestFunc is Nearest restricted to lanelets for which keep returns
// true. A nil keep accepts every lanelet.
func (ix *Index) NearestFunc(p orb.Point, k int, keep func(*graph.Lanelet) bool) []Hit {
	if k <= 0 || ix.tree.Len() == 0 {
		return nil
	}

	var hits []Hit
	ix.tree.Nearby(
		func(min, max [2]float64, i uint32, item bool) float64 {
			if item {
				return ix.lanelets[i].Shape.Distance(p)
			}
			return boxDist(p, min, max)
		},
		func(_, _ [2]float64, i uint32, dist float64) bool {
			if keep != nil && !keep(&ix.lanelets[i]) {
				return true
			}
			// Items arrive in ascending exact distance. Keep collecting
			// while a tie with the k-th hit is still possible.
			if len(hits) >= k && dist > hits[k-1].Distance {
				return false
			}
			hits = append(hits, Hit{Index: i, ID: ix.lanelets[i].ID, Distance: dist})
			return true
		},
	)

	sortHits(hits)
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits
}

// Within returns every lanelet whose polygon lies within radius of p,
// ordered by distance then id.
func (ix *Index) Within(p orb.Point, radius float64) []Hit {
	var hits []Hit
	ix.tree.Search(
		[2]float64{p[0] - radius, p[1] - radius},
		[2]float64{p[0] + radius, p[1] + radius},
		func(_, _ [2]float64, i uint32) bool {
			if d := ix.lanelets[i].Shape.Distance(p); d <= radius {
				hits = append(hits, Hit{Index: i, ID: ix.lanelets[i].ID, Distance: d})
			}
			return true
		},
	)
	sortHits(hits)
	return hits
}

// Contains returns the lanelets whose polygon contains p, boundary
// included, in ascending id order.
func (ix *Index) Contains(p orb.Point) []Hit {
	const eps = 1e-9
	var hits []Hit
	ix.tree.Search([2]float64{p[0] - eps, p[1] - eps}, [2]float64{p[0] + eps, p[1] + eps}, func(_, _ [2]float64, i uint32) bool {
		if ix.lanelets[i].Shape.Contains(p) {
			hits = append(hits, Hit{Index: i, ID: ix.lanelets[i].ID})
		}
		return true
	})
	sortHits(hits)
	return hits
}

func sortHits(hits []Hit) {
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Distance != hits[j].Distance {
			return hits[i].Distance < hits[j].Distance
		}
		return hits[i].ID < hits[j].ID
	})
}
