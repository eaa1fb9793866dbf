// Package track models observed agent trajectories: motion states, tracks
// and interaction cases.
package track

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/paulmach/orb"
	"github.com/samber/lo"
)

// ErrInvalidTrack is returned for tracks that fail validation.
var ErrInvalidTrack = errors.New("invalid track")

// AgentType classifies an observed agent.
type AgentType uint8

const (
	AgentUndefined AgentType = iota
	AgentCar
	AgentPedestrianBicycle
)

const numAgentTypes = 2

var agentTypeNames = map[AgentType]string{
	AgentUndefined:         "undefined",
	AgentCar:               "car",
	AgentPedestrianBicycle: "pedestrian/bicycle",
}

func (a AgentType) String() string {
	if s, ok := agentTypeNames[a]; ok {
		return s
	}
	return fmt.Sprintf("AgentType(%d)", uint8(a))
}

// OneHot encodes the type as a vector with one slot per defined type.
// Undefined encodes as all zeros.
func (a AgentType) OneHot() []int {
	v := make([]int, numAgentTypes)
	if a > AgentUndefined && int(a) <= numAgentTypes {
		v[a-1] = 1
	}
	return v
}

// MarshalText implements encoding.TextMarshaler.
func (a AgentType) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (a *AgentType) UnmarshalText(b []byte) error {
	for k, v := range agentTypeNames {
		if v == string(b) {
			*a = k
			return nil
		}
	}
	if string(b) == "pedestrian" || string(b) == "bicycle" {
		*a = AgentPedestrianBicycle
		return nil
	}
	return fmt.Errorf("unknown agent type %q", b)
}

// MotionState is one observation of an agent in the planar frame.
type MotionState struct {
	TimestampMS int64    `json:"timestamp_ms"`
	X           float64  `json:"x"`
	Y           float64  `json:"y"`
	VX          float64  `json:"vx"`
	VY          float64  `json:"vy"`
	Heading     *float64 `json:"heading,omitempty"` // radians, counterclockwise from +x
	Length      float64  `json:"length,omitempty"`
	Width       float64  `json:"width,omitempty"`
}

// Point returns the state's position.
func (m MotionState) Point() orb.Point {
	return orb.Point{m.X, m.Y}
}

// Speed is the magnitude of the velocity in m/s.
func (m MotionState) Speed() float64 {
	return math.Hypot(m.VX, m.VY)
}

// HasHeading reports whether the heading was observed.
func (m MotionState) HasHeading() bool {
	return m.Heading != nil
}

// BoundingBox returns the agent's oriented footprint, or false when the
// heading or dimensions are unknown. Corners run rear-right, rear-left,
// front-left, front-right.
func (m MotionState) BoundingBox() (orb.Ring, bool) {
	if m.Heading == nil || m.Length <= 0 || m.Width <= 0 {
		return nil, false
	}
	hl, hw := m.Length/2, m.Width/2
	sin, cos := math.Sincos(*m.Heading)
	corners := [4][2]float64{{-hl, -hw}, {-hl, hw}, {hl, hw}, {hl, -hw}}

	ring := make(orb.Ring, 0, 5)
	for _, c := range corners {
		ring = append(ring, orb.Point{
			m.X + c[0]*cos - c[1]*sin,
			m.Y + c[0]*sin + c[1]*cos,
		})
	}
	return append(ring, ring[0]), true
}

func (m MotionState) validate() error {
	if m.TimestampMS < 0 {
		return fmt.Errorf("%w: negative timestamp %d", ErrInvalidTrack, m.TimestampMS)
	}
	for _, v := range []float64{m.X, m.Y, m.VX, m.VY, m.Length, m.Width} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: non-finite value at timestamp %d", ErrInvalidTrack, m.TimestampMS)
		}
	}
	if m.Heading != nil && (math.IsNaN(*m.Heading) || math.IsInf(*m.Heading, 0)) {
		return fmt.Errorf("%w: non-finite heading at timestamp %d", ErrInvalidTrack, m.TimestampMS)
	}
	return nil
}

// Track is the time-ordered trajectory of one agent.
type Track struct {
	AgentID int64         `json:"agent_id"`
	Type    AgentType     `json:"type"`
	States  []MotionState `json:"states"`
}

// New validates the states and returns a track sorted by timestamp.
func New(agentID int64, typ AgentType, states []MotionState) (Track, error) {
	t := Track{AgentID: agentID, Type: typ, States: append([]MotionState(nil), states...)}
	if err := t.Normalize(); err != nil {
		return Track{}, err
	}
	return t, nil
}

// Normalize validates the track in place and sorts its states by
// timestamp. Duplicate timestamps are rejected.
func (t *Track) Normalize() error {
	if t.AgentID < 0 {
		return fmt.Errorf("%w: negative agent id %d", ErrInvalidTrack, t.AgentID)
	}
	for _, s := range t.States {
		if err := s.validate(); err != nil {
			return err
		}
	}
	sort.SliceStable(t.States, func(i, j int) bool { return t.States[i].TimestampMS < t.States[j].TimestampMS })
	for i := 1; i < len(t.States); i++ {
		if t.States[i].TimestampMS == t.States[i-1].TimestampMS {
			return fmt.Errorf("%w: duplicate timestamp %d", ErrInvalidTrack, t.States[i].TimestampMS)
		}
	}
	return nil
}

// Len returns the number of motion states.
func (t Track) Len() int {
	return len(t.States)
}

// Timestamps returns the sample times in milliseconds.
func (t Track) Timestamps() []int64 {
	return lo.Map(t.States, func(s MotionState, _ int) int64 { return s.TimestampMS })
}

// Duration is the time between the first and last sample.
func (t Track) Duration() time.Duration {
	if len(t.States) < 2 {
		return 0
	}
	return time.Duration(t.States[len(t.States)-1].TimestampMS-t.States[0].TimestampMS) * time.Millisecond
}

// LineString returns the track's path.
func (t Track) LineString() orb.LineString {
	return lo.Map(t.States, func(s MotionState, _ int) orb.Point { return s.Point() })
}

// BoundingBoxes returns the footprints of the states that have one.
func (t Track) BoundingBoxes() []orb.Ring {
	return lo.FilterMap(t.States, func(s MotionState, _ int) (orb.Ring, bool) { return s.BoundingBox() })
}

// Case is one observation window of a scenario.
type Case struct {
	Location          string  `json:"location"`
	ID                int64   `json:"case_id"`
	History           []Track `json:"history"`
	Current           []Track `json:"current"`
	Future            []Track `json:"future"`
	TracksToPredict   []int64 `json:"tracks_to_predict,omitempty"`
	InterestingAgents []int64 `json:"interesting_agents,omitempty"`
}

// Tracks returns history, current and future tracks in that order.
func (c Case) Tracks() []Track {
	return lo.Flatten([][]Track{c.History, c.Current, c.Future})
}

// NumAgents counts the distinct agents across all tracks.
func (c Case) NumAgents() int {
	return len(lo.Uniq(lo.Map(c.Tracks(), func(t Track, _ int) int64 { return t.AgentID })))
}
