// Package routing answers scenario queries over a built lane graph: lane
// matching, reachability, track association and lane-level routes.
package routing

import (
	"context"
	"errors"
	"math"
	"sort"

	"github.com/paulmach/orb"
	"go.uber.org/zap"

	"github.com/azybler/lanegraph/pkg/graph"
	"github.com/azybler/lanegraph/pkg/maperr"
	"github.com/azybler/lanegraph/pkg/spatial"
)

// ErrNoRoute is returned when no route exists between the two lanelets.
var ErrNoRoute = errors.New("no route found")

// Config tunes the query layer.
type Config struct {
	// NearTie is the distance window within which lanelets compete on
	// heading when matching a point with a known heading.
	NearTie float64 `yaml:"near_tie"`
	// MinPersistence is the number of consecutive samples a new lane must
	// hold before a track association switches to it.
	MinPersistence int `yaml:"min_persistence"`
	// LaneChangeCost is the route cost of moving to a neighbor lanelet.
	LaneChangeCost float64 `yaml:"lane_change_cost"`
	// MaxSnapDistance rejects query points farther than this from every
	// lanelet. 0 disables the limit.
	MaxSnapDistance float64 `yaml:"max_snap_distance"`
	// RespectLaneMarkings forbids lane changes across solid boundaries.
	RespectLaneMarkings bool `yaml:"respect_lane_markings"`
}

// DefaultConfig returns the default query configuration.
func DefaultConfig() Config {
	return Config{
		NearTie:        0.5,
		MinPersistence: 3,
		LaneChangeCost: 10,
	}
}

// RouteResult is the output of a route query.
type RouteResult struct {
	Lanelets    []int64 `json:"lanelets"`
	Cost        float64 `json:"cost"`
	Length      float64 `json:"length_m"` // centerline length of lanelets driven along
	LaneChanges int     `json:"lane_changes"`
}

// Engine answers read-only queries. It is safe for concurrent use.
type Engine struct {
	g          *graph.Graph
	snapper    *Snapper
	carSnapper *Snapper // drivable lanelets only
	cfg        Config
	logger  *zap.Logger
}

// NewEngine creates a query engine over g. ix may be nil, in which case a
// lanelet index is built.
func NewEngine(g *graph.Graph, ix *spatial.Index, cfg Config, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MinPersistence < 1 {
		cfg.MinPersistence = 1
	}
	snapper := NewSnapper(g, ix, cfg.NearTie, cfg.MaxSnapDistance)
	return &Engine{
		g:          g,
		snapper:    snapper,
		carSnapper: snapper.Filtered(drivable),
		cfg:        cfg,
		logger:     logger,
	}
}

func drivable(ll *graph.Lanelet) bool {
	return ll.Subtype.Drivable()
}

// Config returns the engine's configuration.
func (e *Engine) Config() Config { return e.cfg }

// NearestLane returns the lanelet nearest to p, ties broken by id.
func (e *Engine) NearestLane(p orb.Point) (Match, error) {
	return e.snapper.Snap(p)
}

// NearestLaneHeading returns the lanelet best matching p travelling along
// heading (radians, counterclockwise from +x).
func (e *Engine) NearestLaneHeading(p orb.Point, heading float64) (Match, error) {
	return e.snapper.SnapHeading(p, heading)
}

// Reachable returns every lanelet reachable from the given lanelet in at
// most maxHops successor steps, including the lanelet itself, in ascending
// id order.
func (e *Engine) Reachable(from int64, maxHops int) ([]int64, error) {
	start, ok := e.g.Index(from)
	if !ok {
		return nil, maperr.UnknownLanelet(from)
	}
	if maxHops < 0 {
		maxHops = 0
	}

	seen := map[uint32]bool{start: true}
	frontier := []uint32{start}
	for hop := 0; hop < maxHops && len(frontier) > 0; hop++ {
		var next []uint32
		for _, u := range frontier {
			for _, v := range e.g.SuccessorsOf(u) {
				if !seen[v] {
					seen[v] = true
					next = append(next, v)
				}
			}
		}
		frontier = next
	}

	ids := make([]int64, 0, len(seen))
	for i := range seen {
		ids = append(ids, e.g.At(i).ID)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

// Route computes the cheapest lane-level path between two lanelets.
// Driving along a lanelet costs its centerline length; changing to a
// neighbor costs cfg.LaneChangeCost. Only the endpoints may be lanelets
// closed to motor vehicles.
func (e *Engine) Route(ctx context.Context, from, to int64) (*RouteResult, error) {
	src, ok := e.g.Index(from)
	if !ok {
		return nil, maperr.UnknownLanelet(from)
	}
	dst, ok := e.g.Index(to)
	if !ok {
		return nil, maperr.UnknownLanelet(to)
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	qs := NewQueryState(e.g.NumLanelets())
	defer qs.Reset()
	qs.touch(src, 0, noNode, false)
	qs.PQ.Push(src, 0)

	iterations := 0
	for qs.PQ.Len() > 0 {
		// Check context cancellation periodically.
		iterations++
		if iterations%100 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}

		item := qs.PQ.Pop()
		u, d := item.Node, item.Dist
		if d > qs.Dist[u] {
			continue // stale entry
		}
		if u == dst {
			break
		}

		length := e.g.At(u).Shape.Length
		for _, v := range e.g.SuccessorsOf(u) {
			e.relax(qs, u, v, dst, d+length, false)
		}
		for _, v := range e.laneChanges(u) {
			e.relax(qs, u, v, dst, d+e.cfg.LaneChangeCost, true)
		}
	}

	if math.IsInf(qs.Dist[dst], 1) {
		return nil, ErrNoRoute
	}
	res := e.unpack(qs, src, dst)
	e.logger.Debug("route found",
		zap.Int64("from", from),
		zap.Int64("to", to),
		zap.Int("lanelets", len(res.Lanelets)),
		zap.Float64("cost", res.Cost),
		zap.Int("settled", len(qs.Touched)))
	return res, nil
}

func (e *Engine) relax(qs *QueryState, u, v, dst uint32, dist float64, change bool) {
	if v != dst && !drivable(e.g.At(v)) {
		return
	}
	if dist < qs.Dist[v] {
		qs.touch(v, dist, u, change)
		qs.PQ.Push(v, dist)
	}
}

// laneChanges returns the neighbors reachable from u by a lane change.
func (e *Engine) laneChanges(u uint32) []uint32 {
	var out []uint32
	ll := e.g.At(u)
	if v, ok := e.g.LeftOfIdx(u); ok && (!e.cfg.RespectLaneMarkings || ll.LeftPassable) {
		out = append(out, v)
	}
	if v, ok := e.g.RightOfIdx(u); ok && (!e.cfg.RespectLaneMarkings || ll.RightPassable) {
		out = append(out, v)
	}
	return out
}

// unpack walks predecessor links back from dst.
func (e *Engine) unpack(qs *QueryState, src, dst uint32) *RouteResult {
	var path []uint32
	changes := 0
	for n := dst; n != noNode; n = qs.Pred[n] {
		path = append(path, n)
		if qs.Change[n] {
			changes++
		}
		if n == src {
			break
		}
	}

	res := &RouteResult{
		Lanelets:    make([]int64, len(path)),
		Cost:        qs.Dist[dst] + e.g.At(dst).Shape.Length,
		LaneChanges: changes,
	}
	for i := range path {
		n := path[len(path)-1-i]
		res.Lanelets[i] = e.g.At(n).ID
		// A lanelet left by a lane change is not driven along.
		if i+1 < len(path) && qs.Change[path[len(path)-2-i]] {
			continue
		}
		res.Length += e.g.At(n).Shape.Length
	}
	return res
}
