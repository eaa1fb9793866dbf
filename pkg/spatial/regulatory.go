package spatial

import (
	"math"
	"sort"

	"github.com/dhconnelly/rtreego"
	"github.com/paulmach/orb"

	"github.com/azybler/lanegraph/pkg/graph"
)

// minExtent keeps zero-width extents (stop lines along an axis, single
// signs) valid for the R-tree, which rejects empty rectangles.
const minExtent = 1e-3

// indexedElement wraps a regulatory element for R-tree storage.
type indexedElement struct {
	elem *graph.RegulatoryElement
}

// Bounds implements rtreego.Spatial.
func (e *indexedElement) Bounds() rtreego.Rect {
	return rect(e.elem.Bound)
}

func rect(b orb.Bound) rtreego.Rect {
	w := math.Max(b.Max.X()-b.Min.X(), minExtent)
	h := math.Max(b.Max.Y()-b.Min.Y(), minExtent)
	r, _ := rtreego.NewRect(rtreego.Point{b.Min.X(), b.Min.Y()}, []float64{w, h})
	return r
}

// RegulatoryHit is a regulatory element found by a query.
type RegulatoryHit struct {
	ID       int64
	Distance float64 // distance to the element's extent
}

// RegulatoryIndex finds regulatory elements by location.
type RegulatoryIndex struct {
	rtree *rtreego.Rtree
}

// NewRegulatoryIndex indexes the extents of elems.
func NewRegulatoryIndex(elems []graph.RegulatoryElement) *RegulatoryIndex {
	rtree := rtreego.NewTree(2, 25, 50)
	for i := range elems {
		rtree.Insert(&indexedElement{elem: &elems[i]})
	}
	return &RegulatoryIndex{rtree: rtree}
}

// Len returns the number of indexed elements.
func (ix *RegulatoryIndex) Len() int {
	return ix.rtree.Size()
}

// Near returns the elements whose extent lies within radius of p, ordered
// by distance then id.
func (ix *RegulatoryIndex) Near(p orb.Point, radius float64) []RegulatoryHit {
	if radius < 0 {
		return nil
	}
	query := rect(orb.Bound{
		Min: orb.Point{p.X() - radius, p.Y() - radius},
		Max: orb.Point{p.X() + radius, p.Y() + radius},
	})

	var hits []RegulatoryHit
	for _, s := range ix.rtree.SearchIntersect(query) {
		e := s.(*indexedElement).elem
		b := e.Bound
		d := boxDist(p, [2]float64(b.Min), [2]float64(b.Max))
		if d <= radius {
			hits = append(hits, RegulatoryHit{ID: e.ID, Distance: d})
		}
	}
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Distance != hits[j].Distance {
			return hits[i].Distance < hits[j].Distance
		}
		return hits[i].ID < hits[j].ID
	})
	return hits
}
