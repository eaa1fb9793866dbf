package track

import (
	"encoding/json"
	"math"
	"testing"
	"time"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func heading(v float64) *float64 { return &v }

func TestAgentTypeOneHot(t *testing.T) {
	assert.Equal(t, []int{1, 0}, AgentCar.OneHot())
	assert.Equal(t, []int{0, 1}, AgentPedestrianBicycle.OneHot())
	assert.Equal(t, []int{0, 0}, AgentUndefined.OneHot())
}

func TestAgentTypeText(t *testing.T) {
	var a AgentType
	require.NoError(t, json.Unmarshal([]byte(`"pedestrian/bicycle"`), &a))
	assert.Equal(t, AgentPedestrianBicycle, a)

	b, err := json.Marshal(AgentCar)
	require.NoError(t, err)
	assert.Equal(t, `"car"`, string(b))

	assert.Error(t, json.Unmarshal([]byte(`"tram"`), &a))
}

func TestMotionStateGeometry(t *testing.T) {
	m := MotionState{X: 10, Y: 5, VX: 3, VY: 4, Heading: heading(math.Pi / 2), Length: 4, Width: 2}

	assert.InDelta(t, 5, m.Speed(), 1e-12)
	assert.True(t, m.HasHeading())

	box, ok := m.BoundingBox()
	require.True(t, ok)
	require.Len(t, box, 5)
	want := []orb.Point{{11, 3}, {9, 3}, {9, 7}, {11, 7}}
	for i, p := range want {
		assert.InDelta(t, p.X(), box[i].X(), 1e-9, "corner %d", i)
		assert.InDelta(t, p.Y(), box[i].Y(), 1e-9, "corner %d", i)
	}
	assert.Equal(t, box[0], box[4])

	_, ok = MotionState{X: 1, Length: 4, Width: 2}.BoundingBox()
	assert.False(t, ok)
}

func TestNewTrackSortsAndValidates(t *testing.T) {
	tr, err := New(7, AgentCar, []MotionState{
		{TimestampMS: 200, X: 2},
		{TimestampMS: 0, X: 0},
		{TimestampMS: 100, X: 1, Heading: heading(0), Length: 4, Width: 2},
	})
	require.NoError(t, err)

	assert.Equal(t, []int64{0, 100, 200}, tr.Timestamps())
	assert.Equal(t, 200*time.Millisecond, tr.Duration())
	assert.Equal(t, orb.LineString{{0, 0}, {1, 0}, {2, 0}}, tr.LineString())
	assert.Len(t, tr.BoundingBoxes(), 1)
	assert.Equal(t, 3, tr.Len())

	tests := []struct {
		name   string
		agent  int64
		states []MotionState
	}{
		{"negative agent", -1, nil},
		{"negative timestamp", 1, []MotionState{{TimestampMS: -5}}},
		{"nan position", 1, []MotionState{{X: math.NaN()}}},
		{"infinite heading", 1, []MotionState{{Heading: heading(math.Inf(1))}}},
		{"duplicate timestamp", 1, []MotionState{{TimestampMS: 5}, {TimestampMS: 5}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.agent, AgentCar, tt.states)
			assert.ErrorIs(t, err, ErrInvalidTrack)
		})
	}
}

func TestCaseNumAgents(t *testing.T) {
	c := Case{
		Location: "DR_USA_Intersection_MA",
		ID:       3,
		History:  []Track{{AgentID: 1}, {AgentID: 2}},
		Current:  []Track{{AgentID: 1}, {AgentID: 2}},
		Future:   []Track{{AgentID: 1}, {AgentID: 3}},
	}
	assert.Equal(t, 3, c.NumAgents())
	assert.Len(t, c.Tracks(), 6)
	assert.Equal(t, 0, Case{}.NumAgents())
}
