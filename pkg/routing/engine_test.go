package routing

import (
	"context"
	"math"
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/azybler/lanegraph/pkg/graph"
	"github.com/azybler/lanegraph/pkg/maperr"
	osmparser "github.com/azybler/lanegraph/pkg/osm"
	"github.com/azybler/lanegraph/pkg/osm/osmtest"
)

func buildGraph(t *testing.T, b *osmtest.Builder) *graph.Graph {
	t.Helper()
	res, err := osmparser.Parse(context.Background(), b.Bytes(), osmparser.ParseOptions{})
	require.NoError(t, err)
	cfg := graph.DefaultConfig()
	cfg.PreferLocalXY = true
	g, err := graph.Build(res, cfg)
	require.NoError(t, err)
	return g
}

// lane adds a straight eastbound lanelet between x0 and x1 with its right
// boundary at y.
func lane(b *osmtest.Builder, y, x0, x1 float64) int64 {
	return b.LaneletPts(osmtest.Straight(y+3.5, x0, x1), osmtest.Straight(y, x0, x1))
}

// corridor is a three-lanelet eastbound chain with a parallel lanelet
// alongside the first and an isolated lanelet far away.
//
//	 D  |
//	 A  | B  | C          F
type corridor struct {
	g             *graph.Graph
	a, b, c, d, f int64
}

func newCorridor(t *testing.T) corridor {
	bld := osmtest.New()
	var c corridor
	c.a = lane(bld, 0, 0, 10)
	c.b = lane(bld, 0, 10, 20)
	c.c = lane(bld, 0, 20, 30)
	c.d = lane(bld, 3.5, 0, 10)
	c.f = lane(bld, 0, 100, 110)
	c.g = buildGraph(t, bld)
	return c
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.LaneChangeCost = 5
	return cfg
}

func TestNearestLane(t *testing.T) {
	c := newCorridor(t)
	e := NewEngine(c.g, nil, testConfig(), nil)

	m, err := e.NearestLane(orb.Point{5, 1})
	require.NoError(t, err)
	assert.Equal(t, c.a, m.ID)
	assert.Equal(t, 0.0, m.Distance)
	assert.InDelta(t, 5, m.Station, 1e-9)
	assert.InDelta(t, -0.75, m.Offset, 1e-9)

	// On the shared boundary both lanelets are at distance 0; lower id wins.
	m, err = e.NearestLane(orb.Point{5, 3.5})
	require.NoError(t, err)
	assert.Equal(t, min(c.a, c.d), m.ID)

	m, err = e.NearestLane(orb.Point{50, 1})
	require.NoError(t, err)
	assert.Equal(t, c.c, m.ID)
	assert.InDelta(t, 20, m.Distance, 1e-9)

	_, err = e.NearestLane(orb.Point{math.NaN(), 0})
	assert.ErrorIs(t, err, ErrInvalidPoint)
}

func TestNearestLaneMaxSnapDistance(t *testing.T) {
	c := newCorridor(t)
	cfg := testConfig()
	cfg.MaxSnapDistance = 10
	e := NewEngine(c.g, nil, cfg, nil)

	_, err := e.NearestLane(orb.Point{60, 1})
	assert.ErrorIs(t, err, ErrPointTooFar)

	m, err := e.NearestLane(orb.Point{35, 1})
	require.NoError(t, err)
	assert.Equal(t, c.c, m.ID)
}

func TestNearestLaneHeading(t *testing.T) {
	b := osmtest.New()
	east := lane(b, 0, 0, 10)
	// Westbound: its left boundary is the southern line.
	west := b.LaneletPts(osmtest.Straight(3.5, 10, 0), osmtest.Straight(7, 10, 0))
	g := buildGraph(t, b)
	e := NewEngine(g, nil, DefaultConfig(), nil)

	tests := []struct {
		name    string
		p       orb.Point
		heading float64
		want    int64
	}{
		{"inside westbound, heading east within tie", orb.Point{5, 3.7}, 0, east},
		{"inside westbound, heading west", orb.Point{5, 3.7}, math.Pi, west},
		{"eastbound outside tie window", orb.Point{5, 4.5}, 0, west},
		{"inside eastbound, heading west within tie", orb.Point{5, 3.2}, math.Pi, west},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := e.NearestLaneHeading(tt.p, tt.heading)
			require.NoError(t, err)
			assert.Equal(t, tt.want, m.ID)
		})
	}

	m, err := e.NearestLane(orb.Point{5, 3.7})
	require.NoError(t, err)
	assert.Equal(t, west, m.ID)

	m, err = e.NearestLaneHeading(orb.Point{5, 1}, math.Pi/2)
	require.NoError(t, err)
	assert.Equal(t, east, m.ID)
	assert.InDelta(t, math.Pi/2, m.HeadingDiff, 1e-9)

	_, err = e.NearestLaneHeading(orb.Point{5, 1}, math.Inf(1))
	assert.ErrorIs(t, err, ErrInvalidPoint)
}

func TestReachable(t *testing.T) {
	c := newCorridor(t)
	e := NewEngine(c.g, nil, testConfig(), nil)

	tests := []struct {
		hops int
		want []int64
	}{
		{-1, []int64{c.a}},
		{0, []int64{c.a}},
		{1, []int64{c.a, c.b}},
		{2, []int64{c.a, c.b, c.c}},
		{10, []int64{c.a, c.b, c.c}},
	}
	for _, tt := range tests {
		got, err := e.Reachable(c.a, tt.hops)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got, "hops %d", tt.hops)
	}

	got, err := e.Reachable(c.f, 5)
	require.NoError(t, err)
	assert.Equal(t, []int64{c.f}, got)

	_, err = e.Reachable(424242, 1)
	assert.ErrorIs(t, err, maperr.ErrUnknownLanelet)
}

func TestRoute(t *testing.T) {
	c := newCorridor(t)
	e := NewEngine(c.g, nil, testConfig(), nil)
	ctx := context.Background()

	res, err := e.Route(ctx, c.a, c.c)
	require.NoError(t, err)
	assert.Equal(t, []int64{c.a, c.b, c.c}, res.Lanelets)
	assert.InDelta(t, 30, res.Cost, 1e-9)
	assert.InDelta(t, 30, res.Length, 1e-9)
	assert.Equal(t, 0, res.LaneChanges)

	res, err = e.Route(ctx, c.d, c.c)
	require.NoError(t, err)
	assert.Equal(t, []int64{c.d, c.a, c.b, c.c}, res.Lanelets)
	assert.InDelta(t, 35, res.Cost, 1e-9)
	assert.InDelta(t, 30, res.Length, 1e-9)
	assert.Equal(t, 1, res.LaneChanges)

	res, err = e.Route(ctx, c.b, c.b)
	require.NoError(t, err)
	assert.Equal(t, []int64{c.b}, res.Lanelets)
	assert.InDelta(t, 10, res.Cost, 1e-9)

	_, err = e.Route(ctx, c.c, c.a)
	assert.ErrorIs(t, err, ErrNoRoute)
	_, err = e.Route(ctx, c.a, c.f)
	assert.ErrorIs(t, err, ErrNoRoute)
	_, err = e.Route(ctx, c.a, 424242)
	assert.ErrorIs(t, err, maperr.ErrUnknownLanelet)
}

func TestRouteRespectsLaneMarkings(t *testing.T) {
	c := newCorridor(t)
	cfg := testConfig()
	cfg.RespectLaneMarkings = true
	e := NewEngine(c.g, nil, cfg, nil)

	// Boundaries default to solid lines.
	_, err := e.Route(context.Background(), c.d, c.c)
	assert.ErrorIs(t, err, ErrNoRoute)

	bld := osmtest.New()
	shared := bld.Way(osmtest.Straight(3.5, 0, 10), "type", "line_thin", "subtype", "dashed")
	lower := bld.Lanelet(shared, bld.Way(osmtest.Straight(0, 0, 10)))
	upper := bld.Lanelet(bld.Way(osmtest.Straight(7, 0, 10)), shared)
	e = NewEngine(buildGraph(t, bld), nil, cfg, nil)

	res, err := e.Route(context.Background(), upper, lower)
	require.NoError(t, err)
	assert.Equal(t, []int64{upper, lower}, res.Lanelets)
	assert.Equal(t, 1, res.LaneChanges)
}

func TestRouteCanceled(t *testing.T) {
	c := newCorridor(t)
	e := NewEngine(c.g, nil, testConfig(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := e.Route(ctx, c.a, c.c)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRouteSkipsNonDrivableLanelets(t *testing.T) {
	bld := osmtest.New()
	a := lane(bld, 0, 0, 10)
	x := bld.LaneletPts(osmtest.Straight(3.5, 10, 20), osmtest.Straight(0, 10, 20), "subtype", "crosswalk")
	c := lane(bld, 0, 20, 30)
	g := buildGraph(t, bld)

	succ, ok := g.Edges(a)
	require.True(t, ok)
	assert.Contains(t, succ, graph.Edge{Kind: graph.EdgeSuccessor, To: x})

	e := NewEngine(g, nil, testConfig(), nil)
	ctx := context.Background()

	res, err := e.Route(ctx, a, x)
	require.NoError(t, err)
	assert.Equal(t, []int64{a, x}, res.Lanelets)

	_, err = e.Route(ctx, a, c)
	assert.ErrorIs(t, err, ErrNoRoute)
}
