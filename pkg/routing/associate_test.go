package routing

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/azybler/lanegraph/pkg/osm/osmtest"
	"github.com/azybler/lanegraph/pkg/track"
)

func TestSmooth(t *testing.T) {
	tests := []struct {
		name        string
		raw         []int64
		persistence int
		want        []int64
	}{
		{"empty", nil, 3, nil},
		{"single excursion suppressed", []int64{1, 1, 1, 2, 1, 1}, 3, []int64{1, 1, 1, 1, 1, 1}},
		{"persistent change relabelled from run start", []int64{1, 1, 2, 2, 2}, 3, []int64{1, 1, 2, 2, 2}},
		{"leading noise takes first stable lane", []int64{2, 1, 1, 1}, 3, []int64{1, 1, 1, 1}},
		{"no stable run uses most frequent", []int64{2, 1, 2, 1, 1}, 3, []int64{1, 1, 1, 1, 1}},
		{"frequency tie goes to earliest", []int64{1, 2, 1, 2}, 3, []int64{1, 1, 1, 1}},
		{"persistence one keeps raw", []int64{1, 2, 1, 3}, 1, []int64{1, 2, 1, 3}},
		{"short return keeps new lane", []int64{1, 1, 1, 2, 2, 2, 1, 2, 2}, 3, []int64{1, 1, 1, 2, 2, 2, 2, 2, 2}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, smooth(tt.raw, tt.persistence))
		})
	}
}

func eastbound(xs []float64, y float64) []track.MotionState {
	states := make([]track.MotionState, len(xs))
	for i, x := range xs {
		states[i] = track.MotionState{TimestampMS: int64(i) * 100, X: x, Y: y, VX: 5}
	}
	return states
}

func TestAssociateTrackSuppressesJitter(t *testing.T) {
	c := newCorridor(t)
	e := NewEngine(c.g, nil, testConfig(), nil)

	xs := make([]float64, 30)
	for i := range xs {
		xs[i] = float64(i) + 0.5
	}
	states := eastbound(xs, 1.75)
	// One sample jumps into the parallel lane.
	states[5].Y = 5

	assoc, err := e.AssociateTrack(track.Track{AgentID: 4, Type: track.AgentCar, States: states})
	require.NoError(t, err)
	require.Len(t, assoc.Lanes, 30)

	assert.Equal(t, c.d, assoc.Raw[5])
	for i, id := range assoc.Lanes {
		want := []int64{c.a, c.b, c.c}[i/10]
		assert.Equal(t, want, id, "sample %d", i)
	}
	assert.Equal(t, int64(4), assoc.AgentID)
}

func TestAssociateTrackAcceptsLaneChange(t *testing.T) {
	c := newCorridor(t)
	e := NewEngine(c.g, nil, testConfig(), nil)

	states := eastbound([]float64{1, 2, 3, 4, 5, 6, 7, 8}, 1.75)
	for i := 4; i < 8; i++ {
		states[i].Y = 5.25
	}
	assoc, err := e.AssociateTrack(track.Track{AgentID: 1, States: states})
	require.NoError(t, err)
	assert.Equal(t, []int64{c.a, c.a, c.a, c.a, c.d, c.d, c.d, c.d}, assoc.Lanes)
}

func TestAssociateTrackUsesHeading(t *testing.T) {
	c := newCorridor(t)
	e := NewEngine(c.g, nil, testConfig(), nil)

	// Stationary samples on the A/D boundary fall back to nearest-by-id;
	// an explicit heading still selects among equally near lanelets.
	h := math.Pi / 2
	states := []track.MotionState{
		{TimestampMS: 0, X: 5, Y: 3.5},
		{TimestampMS: 100, X: 5, Y: 3.5, Heading: &h},
	}
	assoc, err := e.AssociateTrack(track.Track{AgentID: 1, States: states})
	require.NoError(t, err)
	assert.Equal(t, []int64{min(c.a, c.d), min(c.a, c.d)}, assoc.Raw)
}

func TestAssociateTrackFarSamples(t *testing.T) {
	c := newCorridor(t)
	cfg := testConfig()
	cfg.MaxSnapDistance = 5
	cfg.MinPersistence = 1
	e := NewEngine(c.g, nil, cfg, nil)

	states := eastbound([]float64{1, 2, 3}, 1.75)
	states[1].Y = 50
	assoc, err := e.AssociateTrack(track.Track{AgentID: 1, States: states})
	require.NoError(t, err)
	assert.Equal(t, []int64{c.a, 0, c.a}, assoc.Lanes)
}

func TestAssociateTrackInvalid(t *testing.T) {
	c := newCorridor(t)
	e := NewEngine(c.g, nil, testConfig(), nil)

	_, err := e.AssociateTrack(track.Track{AgentID: -3})
	assert.ErrorIs(t, err, track.ErrInvalidTrack)

	_, err = e.AssociateTrack(track.Track{AgentID: 1, States: []track.MotionState{{X: math.NaN()}}})
	assert.ErrorIs(t, err, track.ErrInvalidTrack)
}

func TestAssociateTrackByAgentType(t *testing.T) {
	bld := osmtest.New()
	road := lane(bld, 0, 0, 10)
	walk := bld.LaneletPts(osmtest.Straight(7, 0, 10), osmtest.Straight(3.5, 0, 10), "subtype", "walkway")
	e := NewEngine(buildGraph(t, bld), nil, testConfig(), nil)

	states := eastbound([]float64{1, 2, 3, 4}, 4.5)

	car, err := e.AssociateTrack(track.Track{AgentID: 1, Type: track.AgentCar, States: states})
	require.NoError(t, err)
	assert.Equal(t, []int64{road, road, road, road}, car.Lanes)

	ped, err := e.AssociateTrack(track.Track{AgentID: 2, Type: track.AgentPedestrianBicycle, States: states})
	require.NoError(t, err)
	assert.Equal(t, []int64{walk, walk, walk, walk}, ped.Lanes)
}
