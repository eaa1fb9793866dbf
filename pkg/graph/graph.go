package graph

import (
	"github.com/paulmach/orb"

	"github.com/azybler/lanegraph/pkg/geometry"
	osmparser "github.com/azybler/lanegraph/pkg/osm"
)

// Lanelet is a resolved lane segment with validated geometry.
type Lanelet struct {
	ID           int64
	Subtype      osmparser.LaneletSubtype
	Shape        geometry.Shape
	LeftWay      int64
	RightWay     int64
	SpeedLimit   float64 // m/s, 0 when untagged
	OneWay       bool
	Location     string
	Participants []string

	// LeftPassable and RightPassable report whether the boundary markings
	// allow a lane change across them.
	LeftPassable  bool
	RightPassable bool

	Regulatory []int64        // regulatory element ids, ascending
	StopLine   orb.LineString // nil when no attached element has a ref_line
}

// RegulatoryElement is a resolved traffic rule.
type RegulatoryElement struct {
	ID         int64
	Kind       osmparser.RegulatoryKind
	SignType   string
	RefLines   []orb.LineString
	Refers     []orb.LineString // referenced devices; a node becomes a single-point line
	RightOfWay []int64
	Yield      []int64
	Lanelets   []int64 // referencing, right-of-way and yield lanelets, ascending
	Bound      orb.Bound
}

// Area is a multipolygon such as a parking lot.
type Area struct {
	ID      int64
	Subtype string
	Polygon orb.Polygon
}

// EdgeKind labels a relationship between two lanelets.
type EdgeKind uint8

const (
	EdgeSuccessor EdgeKind = iota + 1
	EdgePredecessor
	EdgeLeftNeighbor
	EdgeRightNeighbor
)

func (k EdgeKind) String() string {
	switch k {
	case EdgeSuccessor:
		return "successor"
	case EdgePredecessor:
		return "predecessor"
	case EdgeLeftNeighbor:
		return "left_neighbor"
	case EdgeRightNeighbor:
		return "right_neighbor"
	}
	return "unknown"
}

// Edge is an outgoing relationship from a lanelet.
type Edge struct {
	Kind EdgeKind
	To   int64
}

// none marks an absent neighbor.
const none = ^uint32(0)

// Graph is the immutable lane graph. Lanelets are stored by ascending id and
// addressed internally by index. Successor and predecessor adjacency use CSR
// (Compressed Sparse Row) layout.
type Graph struct {
	lanelets []Lanelet
	index    map[int64]uint32

	SuccFirstOut []uint32 // len: NumLanelets + 1
	SuccHead     []uint32 // successors in preference order
	PredFirstOut []uint32
	PredHead     []uint32 // predecessors in ascending id order
	LeftOf       []uint32 // none when absent
	RightOf      []uint32

	regulatory []RegulatoryElement
	regIndex   map[int64]int
	areas      []Area
	bound      orb.Bound
}

// NumLanelets returns the number of lanelets.
func (g *Graph) NumLanelets() uint32 {
	return uint32(len(g.lanelets))
}

// At returns the lanelet at index i.
func (g *Graph) At(i uint32) *Lanelet {
	return &g.lanelets[i]
}

// Lanelets returns all lanelets in ascending id order. The slice must not be
// modified.
func (g *Graph) Lanelets() []Lanelet {
	return g.lanelets
}

// Index returns the internal index of lanelet id.
func (g *Graph) Index(id int64) (uint32, bool) {
	i, ok := g.index[id]
	return i, ok
}

// Lanelet looks up a lanelet by id.
func (g *Graph) Lanelet(id int64) (*Lanelet, bool) {
	i, ok := g.index[id]
	if !ok {
		return nil, false
	}
	return &g.lanelets[i], true
}

// SuccessorsOf returns the indices of the successors of lanelet i.
func (g *Graph) SuccessorsOf(i uint32) []uint32 {
	return g.SuccHead[g.SuccFirstOut[i]:g.SuccFirstOut[i+1]]
}

// PredecessorsOf returns the indices of the predecessors of lanelet i.
func (g *Graph) PredecessorsOf(i uint32) []uint32 {
	return g.PredHead[g.PredFirstOut[i]:g.PredFirstOut[i+1]]
}

// LeftOfIdx returns the index of the left neighbor of lanelet i.
func (g *Graph) LeftOfIdx(i uint32) (uint32, bool) {
	n := g.LeftOf[i]
	return n, n != none
}

// RightOfIdx returns the index of the right neighbor of lanelet i.
func (g *Graph) RightOfIdx(i uint32) (uint32, bool) {
	n := g.RightOf[i]
	return n, n != none
}

// Edges returns every outgoing relationship of lanelet id: successors in
// preference order, then predecessors, then the left and right neighbors.
func (g *Graph) Edges(id int64) ([]Edge, bool) {
	i, ok := g.index[id]
	if !ok {
		return nil, false
	}
	var out []Edge
	for _, s := range g.SuccessorsOf(i) {
		out = append(out, Edge{Kind: EdgeSuccessor, To: g.lanelets[s].ID})
	}
	for _, p := range g.PredecessorsOf(i) {
		out = append(out, Edge{Kind: EdgePredecessor, To: g.lanelets[p].ID})
	}
	if l, ok := g.LeftOfIdx(i); ok {
		out = append(out, Edge{Kind: EdgeLeftNeighbor, To: g.lanelets[l].ID})
	}
	if r, ok := g.RightOfIdx(i); ok {
		out = append(out, Edge{Kind: EdgeRightNeighbor, To: g.lanelets[r].ID})
	}
	return out, true
}

// RegulatoryElement looks up a regulatory element by id.
func (g *Graph) RegulatoryElement(id int64) (*RegulatoryElement, bool) {
	i, ok := g.regIndex[id]
	if !ok {
		return nil, false
	}
	return &g.regulatory[i], true
}

// RegulatoryElements returns all regulatory elements in ascending id order.
func (g *Graph) RegulatoryElements() []RegulatoryElement {
	return g.regulatory
}

// Areas returns all areas in ascending id order.
func (g *Graph) Areas() []Area {
	return g.areas
}

// Bound is the planar extent of all lanelets.
func (g *Graph) Bound() orb.Bound {
	return g.bound
}

// Stats summarizes a graph.
type Stats struct {
	Lanelets       int     `json:"lanelets"`
	SuccessorEdges int     `json:"successor_edges"`
	NeighborEdges  int     `json:"neighbor_edges"`
	Regulatory     int     `json:"regulatory_elements"`
	Areas          int     `json:"areas"`
	Components     int     `json:"components"`
	TotalLength    float64 `json:"total_length_m"`
}

// Stats counts the graph's elements.
func (g *Graph) Stats() Stats {
	s := Stats{
		Lanelets:       len(g.lanelets),
		SuccessorEdges: len(g.SuccHead),
		Regulatory:     len(g.regulatory),
		Areas:          len(g.areas),
		Components:     len(g.Components()),
	}
	for i := range g.lanelets {
		s.TotalLength += g.lanelets[i].Shape.Length
		if g.LeftOf[i] != none {
			s.NeighborEdges++
		}
		if g.RightOf[i] != none {
			s.NeighborEdges++
		}
	}
	return s
}
