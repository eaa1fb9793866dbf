package graph

import (
	"context"
	"math"
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/azybler/lanegraph/pkg/geo"
	"github.com/azybler/lanegraph/pkg/maperr"
	osmparser "github.com/azybler/lanegraph/pkg/osm"
	"github.com/azybler/lanegraph/pkg/osm/osmtest"
)

func parse(t *testing.T, b *osmtest.Builder) *osmparser.ParseResult {
	t.Helper()
	res, err := osmparser.Parse(context.Background(), b.Bytes(), osmparser.ParseOptions{})
	require.NoError(t, err)
	return res
}

func localConfig() Config {
	cfg := DefaultConfig()
	cfg.PreferLocalXY = true
	return cfg
}

func build(t *testing.T, b *osmtest.Builder) *Graph {
	t.Helper()
	g, err := Build(parse(t, b), localConfig())
	require.NoError(t, err)
	return g
}

func buildErr(t *testing.T, b *osmtest.Builder) error {
	t.Helper()
	_, err := Build(parse(t, b), localConfig())
	require.Error(t, err)
	return err
}

// lane adds a straight eastbound lanelet between x0 and x1 with its right
// boundary at y.
func lane(b *osmtest.Builder, y, x0, x1 float64) int64 {
	return b.LaneletPts(osmtest.Straight(y+3.5, x0, x1), osmtest.Straight(y, x0, x1))
}

// angled adds a lanelet starting at (x, 0..3.5) heading deg degrees.
func angled(b *osmtest.Builder, x, deg, length float64) int64 {
	a := deg * math.Pi / 180
	dx, dy := length*math.Cos(a), length*math.Sin(a)
	// Boundaries are offset perpendicular to the heading so the centerline
	// starts at (x, 1.75).
	ox, oy := -math.Sin(a)*1.75, math.Cos(a)*1.75
	c := orb.Point{x, 1.75}
	left := []orb.Point{{c.X() + ox, c.Y() + oy}, {c.X() + ox + dx, c.Y() + oy + dy}}
	right := []orb.Point{{c.X() - ox, c.Y() - oy}, {c.X() - ox + dx, c.Y() - oy + dy}}
	return b.LaneletPts(left, right)
}

func succIDs(g *Graph, id int64) []int64 {
	i, _ := g.Index(id)
	var out []int64
	for _, s := range g.SuccessorsOf(i) {
		out = append(out, g.At(s).ID)
	}
	return out
}

func predIDs(g *Graph, id int64) []int64 {
	i, _ := g.Index(id)
	var out []int64
	for _, p := range g.PredecessorsOf(i) {
		out = append(out, g.At(p).ID)
	}
	return out
}

func TestBuildChain(t *testing.T) {
	b := osmtest.New()
	l1 := lane(b, 0, 0, 10)
	l2 := lane(b, 0, 10, 20)
	l3 := lane(b, 0, 20, 30)

	g := build(t, b)

	require.Equal(t, uint32(3), g.NumLanelets())
	assert.Equal(t, []int64{l2}, succIDs(g, l1))
	assert.Equal(t, []int64{l3}, succIDs(g, l2))
	assert.Empty(t, succIDs(g, l3))
	assert.Equal(t, []int64{l1}, predIDs(g, l2))

	ll, ok := g.Lanelet(l2)
	require.True(t, ok)
	assert.InDelta(t, 10, ll.Shape.Length, 1e-9)
	assert.Equal(t, osmparser.SubtypeRoad, ll.Subtype)
	assert.Equal(t, orb.Bound{Min: orb.Point{0, 0}, Max: orb.Point{30, 3.5}}, g.Bound())
}

func TestBuildForkOrdering(t *testing.T) {
	b := osmtest.New()
	l1 := lane(b, 0, 0, 10)
	left := angled(b, 10, 30, 10)  // lower id, larger turn
	sharp := angled(b, 10, 90, 10) // beyond the junction limit
	straight := lane(b, 0, 10, 20)

	g := build(t, b)

	assert.Equal(t, []int64{straight, left}, succIDs(g, l1))
	assert.Empty(t, predIDs(g, sharp))
}

func TestBuildNeighborsFromSharedBoundary(t *testing.T) {
	b := osmtest.New()
	shared := b.Way(osmtest.Straight(3.5, 0, 10))
	right := b.Lanelet(shared, b.Way(osmtest.Straight(0, 0, 10)))
	left := b.Lanelet(b.Way(osmtest.Straight(7, 0, 10)), shared)

	g := build(t, b)

	edges, ok := g.Edges(right)
	require.True(t, ok)
	assert.Equal(t, []Edge{{Kind: EdgeLeftNeighbor, To: left}}, edges)

	edges, _ = g.Edges(left)
	assert.Equal(t, []Edge{{Kind: EdgeRightNeighbor, To: right}}, edges)
}

func TestBuildNeighborsFromCoincidentBoundaries(t *testing.T) {
	b := osmtest.New()
	right := b.LaneletPts(osmtest.Straight(3.5, 0, 5, 10), osmtest.Straight(0, 0, 10))
	left := b.LaneletPts(osmtest.Straight(7, 0, 10), osmtest.Straight(3.6, 0, 10))

	g := build(t, b)

	i, _ := g.Index(right)
	j, ok := g.LeftOfIdx(i)
	require.True(t, ok)
	assert.Equal(t, left, g.At(j).ID)
	_, ok = g.RightOfIdx(i)
	assert.False(t, ok)
}

func TestBuildOppositeLanesAreNotNeighbors(t *testing.T) {
	b := osmtest.New()
	center := b.Way(osmtest.Straight(3.5, 0, 10))
	east := b.Lanelet(center, b.Way(osmtest.Straight(0, 0, 10)))
	// Westbound lane on the other side, sharing the center line as its left
	// boundary.
	b.Lanelet(center, b.Way(osmtest.Straight(7, 10, 0)))

	g := build(t, b)

	edges, _ := g.Edges(east)
	assert.Empty(t, edges)
}

func TestBuildDeclaredEdges(t *testing.T) {
	b := osmtest.New()
	l1 := lane(b, 0, 0, 10)
	far := lane(b, 100, 0, 10)
	l3 := lane(b, 50, 0, 10)
	b.AddMember(l1, osmtest.Member{Type: "relation", Ref: far, Role: osmparser.RoleSuccessor})
	b.AddMember(l1, osmtest.Member{Type: "relation", Ref: l3, Role: osmparser.RolePredecessor})

	g := build(t, b)

	assert.Equal(t, []int64{far}, succIDs(g, l1))
	assert.Equal(t, []int64{l1}, succIDs(g, l3))
	assert.Equal(t, []int64{l1}, predIDs(g, far))
	assert.Equal(t, []int64{l3}, predIDs(g, l1))
}

func TestBuildDeclaredNeighborSynthesizesInverse(t *testing.T) {
	b := osmtest.New()
	l1 := lane(b, 0, 0, 10)
	l2 := lane(b, 20, 0, 10)
	b.AddMember(l1, osmtest.Member{Type: "relation", Ref: l2, Role: osmparser.RoleLeftNeighbor})

	g := build(t, b)

	i, _ := g.Index(l2)
	r, ok := g.RightOfIdx(i)
	require.True(t, ok)
	assert.Equal(t, l1, g.At(r).ID)
}

func TestBuildDanglingReferences(t *testing.T) {
	tests := []struct {
		name  string
		setup func(b *osmtest.Builder)
		want  string
	}{
		{
			name: "successor lanelet",
			setup: func(b *osmtest.Builder) {
				l := lane(b, 0, 0, 10)
				b.AddMember(l, osmtest.Member{Type: "relation", Ref: 99, Role: osmparser.RoleSuccessor})
			},
			want: "references missing lanelet 99",
		},
		{
			name: "boundary way",
			setup: func(b *osmtest.Builder) {
				b.Lanelet(b.Way(osmtest.Straight(3.5, 0, 10)), 12345)
			},
			want: "references missing way 12345",
		},
		{
			name: "way node",
			setup: func(b *osmtest.Builder) {
				n := b.Node(orb.Point{0, 0})
				right := b.WayOf([]int64{n, 9999})
				b.Lanelet(b.Way(osmtest.Straight(3.5, 0, 10)), right)
			},
			want: "references missing node 9999",
		},
		{
			name: "regulatory element",
			setup: func(b *osmtest.Builder) {
				l := lane(b, 0, 0, 10)
				b.AddMember(l, osmtest.Member{Type: "relation", Ref: 777, Role: "regulatory_element"})
			},
			want: "references missing regulatory_element 777",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := osmtest.New()
			tt.setup(b)
			err := buildErr(t, b)
			assert.ErrorIs(t, err, maperr.ErrDanglingReference)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestBuildInconsistentTopology(t *testing.T) {
	tests := []struct {
		name  string
		setup func(b *osmtest.Builder)
		want  string
	}{
		{
			name: "self successor",
			setup: func(b *osmtest.Builder) {
				l := lane(b, 0, 0, 10)
				b.AddMember(l, osmtest.Member{Type: "relation", Ref: l, Role: osmparser.RoleSuccessor})
			},
			want: "its own successor",
		},
		{
			name: "left and right",
			setup: func(b *osmtest.Builder) {
				l1 := lane(b, 0, 0, 10)
				l2 := lane(b, 20, 0, 10)
				b.AddMember(l1, osmtest.Member{Type: "relation", Ref: l2, Role: osmparser.RoleLeftNeighbor})
				b.AddMember(l1, osmtest.Member{Type: "relation", Ref: l2, Role: osmparser.RoleRightNeighbor})
			},
			want: "both left and right",
		},
		{
			name: "two left neighbors",
			setup: func(b *osmtest.Builder) {
				l1 := lane(b, 0, 0, 10)
				l2 := lane(b, 20, 0, 10)
				l3 := lane(b, 40, 0, 10)
				b.AddMember(l1, osmtest.Member{Type: "relation", Ref: l2, Role: osmparser.RoleLeftNeighbor})
				b.AddMember(l1, osmtest.Member{Type: "relation", Ref: l3, Role: osmparser.RoleLeftNeighbor})
			},
			want: "multiple left neighbors",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := osmtest.New()
			tt.setup(b)
			err := buildErr(t, b)
			assert.ErrorIs(t, err, maperr.ErrInconsistentTopology)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestBuildDegenerateLanelet(t *testing.T) {
	b := osmtest.New()
	l := b.LaneletPts([]orb.Point{{0, 3}, {10, 3}, {10, 5}, {5, 1}}, osmtest.Straight(0, 0, 10))

	err := buildErr(t, b)
	assert.ErrorIs(t, err, maperr.ErrDegenerateGeometry)

	var me *maperr.Error
	require.ErrorAs(t, err, &me)
	assert.Equal(t, "lanelet", me.Element)
	assert.Equal(t, l, me.ID)
}

func TestBuildRegulatoryAndAreas(t *testing.T) {
	b := osmtest.New()
	l1 := lane(b, 0, 0, 10)
	l2 := lane(b, 0, 10, 20)
	reg := b.Regulatory("stop_line", []orb.Point{{9.5, 0}, {9.5, 3.5}}, l1)
	b.AddMember(reg, osmtest.Member{Type: "relation", Ref: l2, Role: "right_of_way"})
	area := b.Relation([]string{"type", "multipolygon", "subtype", "parking"},
		osmtest.Member{Type: "way", Ref: b.Way([]orb.Point{{0, -10}, {10, -10}, {10, -5}}), Role: "outer"},
	)

	g := build(t, b)

	ll, _ := g.Lanelet(l1)
	assert.Equal(t, []int64{reg}, ll.Regulatory)
	require.NotNil(t, ll.StopLine)
	assert.Equal(t, orb.Point{9.5, 0}, ll.StopLine[0])

	re, ok := g.RegulatoryElement(reg)
	require.True(t, ok)
	assert.Equal(t, osmparser.KindStopLine, re.Kind)
	assert.Equal(t, []int64{l1, l2}, re.Lanelets)
	assert.Equal(t, []int64{l2}, re.RightOfWay)

	require.Len(t, g.Areas(), 1)
	assert.Equal(t, area, g.Areas()[0].ID)
	assert.Len(t, g.Areas()[0].Polygon[0], 4)
}

func TestBuildProjectedMatchesLocal(t *testing.T) {
	b := osmtest.New()
	l1 := lane(b, 0, 0, 10)
	lane(b, 0, 10, 20)
	res := parse(t, b)

	p, err := geo.NewProjector(osmtest.Origin)
	require.NoError(t, err)
	cfg := DefaultConfig()
	cfg.Projector = p
	g, err := Build(res, cfg)
	require.NoError(t, err)

	ll, _ := g.Lanelet(l1)
	assert.InDelta(t, 0, ll.Shape.Start().X(), 1e-3)
	assert.InDelta(t, 1.75, ll.Shape.Start().Y(), 1e-3)
	assert.Len(t, succIDs(g, l1), 1)
}

func TestBuildEdgeSymmetry(t *testing.T) {
	b := osmtest.New()
	shared := b.Way(osmtest.Straight(3.5, 0, 10))
	r1 := b.Lanelet(shared, b.Way(osmtest.Straight(0, 0, 10)))
	b.Lanelet(b.Way(osmtest.Straight(7, 0, 10)), shared)
	lane(b, 0, 10, 20)
	lane(b, 3.5, 10, 20)
	angled(b, 10, 20, 15)
	b.AddMember(r1, osmtest.Member{Type: "relation", Ref: lane(b, 50, 0, 10), Role: osmparser.RoleSuccessor})

	g := build(t, b)

	for i := uint32(0); i < g.NumLanelets(); i++ {
		for _, s := range g.SuccessorsOf(i) {
			assert.Contains(t, g.PredecessorsOf(s), i, "successor %d of %d", s, i)
		}
		for _, p := range g.PredecessorsOf(i) {
			assert.Contains(t, g.SuccessorsOf(p), i, "predecessor %d of %d", p, i)
		}
		if l, ok := g.LeftOfIdx(i); ok {
			r, ok := g.RightOfIdx(l)
			assert.True(t, ok)
			assert.Equal(t, i, r)
		}
		if r, ok := g.RightOfIdx(i); ok {
			l, ok := g.LeftOfIdx(r)
			assert.True(t, ok)
			assert.Equal(t, i, l)
		}
	}
}

func TestStats(t *testing.T) {
	b := osmtest.New()
	shared := b.Way(osmtest.Straight(3.5, 0, 10))
	b.Lanelet(shared, b.Way(osmtest.Straight(0, 0, 10)))
	b.Lanelet(b.Way(osmtest.Straight(7, 0, 10)), shared)
	lane(b, 0, 10, 20)

	s := build(t, b).Stats()
	assert.Equal(t, Stats{
		Lanelets:       3,
		SuccessorEdges: 1,
		NeighborEdges:  2,
		Components:     1,
		TotalLength:    30,
	}, s)
}
