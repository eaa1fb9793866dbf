package routing

import (
	"errors"
	"math"

	"go.uber.org/zap"

	"github.com/azybler/lanegraph/pkg/track"
)

// minHeadingSpeed is the speed below which velocity gives no usable heading.
const minHeadingSpeed = 0.1

// Association is the lane assignment of one track.
type Association struct {
	AgentID int64   `json:"agent_id"`
	Lanes   []int64 `json:"lanes"` // smoothed, one per sample in timestamp order
	Raw     []int64 `json:"raw"`   // per-sample best match before smoothing
}

// sampleHeading returns the observed heading, or one derived from velocity
// when the agent is moving.
func sampleHeading(s track.MotionState) (float64, bool) {
	if s.Heading != nil {
		return *s.Heading, true
	}
	if s.Speed() > minHeadingSpeed {
		return math.Atan2(s.VY, s.VX), true
	}
	return 0, false
}

// AssociateTrack assigns one lanelet id to every sample of tr, ordered by
// timestamp. Samples with no lanelet within MaxSnapDistance get id 0.
// A lane change is accepted only once the new lane has held for
// MinPersistence consecutive samples, and is then applied from the start
// of that run; shorter excursions keep the current lane. Car tracks only
// match lanelets open to motor vehicles.
func (e *Engine) AssociateTrack(tr track.Track) (*Association, error) {
	tr, err := track.New(tr.AgentID, tr.Type, tr.States)
	if err != nil {
		return nil, err
	}

	snapper := e.snapper
	if tr.Type == track.AgentCar {
		snapper = e.carSnapper
	}

	raw := make([]int64, len(tr.States))
	for i, s := range tr.States {
		var m Match
		if h, ok := sampleHeading(s); ok {
			m, err = snapper.SnapHeading(s.Point(), h)
		} else {
			m, err = snapper.Snap(s.Point())
		}
		switch {
		case errors.Is(err, ErrPointTooFar):
			raw[i] = 0
		case err != nil:
			return nil, err
		default:
			raw[i] = m.ID
		}
	}

	lanes := smooth(raw, e.cfg.MinPersistence)
	e.logger.Debug("track associated",
		zap.Int64("agent", tr.AgentID),
		zap.Int("samples", len(raw)),
		zap.Int("lane_switches", countSwitches(lanes)))
	return &Association{AgentID: tr.AgentID, Lanes: lanes, Raw: raw}, nil
}

type run struct {
	label      int64
	start, len int
}

func runs(labels []int64) []run {
	var out []run
	for i, l := range labels {
		if n := len(out); n > 0 && out[n-1].label == l {
			out[n-1].len++
			continue
		}
		out = append(out, run{label: l, start: i, len: 1})
	}
	return out
}

// smooth applies persistence filtering to raw per-sample labels.
func smooth(raw []int64, persistence int) []int64 {
	rs := runs(raw)
	if len(rs) == 0 {
		return nil
	}

	current, ok := initialLabel(rs, persistence)
	if !ok {
		current = mostFrequent(raw)
	}

	out := make([]int64, len(raw))
	for _, r := range rs {
		if r.label != current && r.len >= persistence {
			current = r.label
		}
		for i := r.start; i < r.start+r.len; i++ {
			out[i] = current
		}
	}
	return out
}

func initialLabel(rs []run, persistence int) (int64, bool) {
	for _, r := range rs {
		if r.len >= persistence {
			return r.label, true
		}
	}
	return 0, false
}

// mostFrequent returns the most common label; ties go to the label seen
// first.
func mostFrequent(labels []int64) int64 {
	counts := make(map[int64]int, len(labels))
	for _, l := range labels {
		counts[l]++
	}
	best, bestN := labels[0], 0
	for _, l := range labels {
		if counts[l] > bestN {
			best, bestN = l, counts[l]
		}
	}
	return best
}

func countSwitches(lanes []int64) int {
	n := 0
	for i := 1; i < len(lanes); i++ {
		if lanes[i] != lanes[i-1] {
			n++
		}
	}
	return n
}
