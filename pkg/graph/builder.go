package graph

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
	"github.com/samber/lo"
	"github.com/tidwall/rtree"
	"go.uber.org/zap"

	"github.com/azybler/lanegraph/pkg/geo"
	"github.com/azybler/lanegraph/pkg/geometry"
	"github.com/azybler/lanegraph/pkg/maperr"
	osmparser "github.com/azybler/lanegraph/pkg/osm"
)

// Defaults for Config.
const (
	DefaultTolerance          = 0.25        // meters
	DefaultMaxJunctionHeading = math.Pi / 3 // radians
)

// Config tunes lane graph construction.
type Config struct {
	// Projector maps node coordinates to the planar frame. Nil means the
	// default UTM projector.
	Projector geo.Projector

	// PreferLocalXY uses authored local_x/local_y tags instead of projecting,
	// provided every node carries them.
	PreferLocalXY bool

	// Tolerance is the distance under which centerline endpoints and shared
	// boundaries are considered to meet.
	Tolerance float64

	// MaxJunctionHeading is the largest heading change accepted between a
	// lanelet's end and a successor's start.
	MaxJunctionHeading float64

	Logger *zap.Logger
}

// DefaultConfig returns the default build configuration.
func DefaultConfig() Config {
	return Config{
		Tolerance:          DefaultTolerance,
		MaxJunctionHeading: DefaultMaxJunctionHeading,
	}
}

type builder struct {
	res      *osmparser.ParseResult
	cfg      Config
	useLocal bool
	ways     map[int64]orb.LineString
}

// Build resolves parsed records into a lane graph. It validates every
// reference and geometry, infers successor and neighbor edges, merges them
// with the declared ones and checks the result for contradictions.
func Build(res *osmparser.ParseResult, cfg Config) (*Graph, error) {
	if cfg.Tolerance <= 0 {
		cfg.Tolerance = DefaultTolerance
	}
	if cfg.MaxJunctionHeading <= 0 {
		cfg.MaxJunctionHeading = DefaultMaxJunctionHeading
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Projector == nil {
		p, err := geo.NewProjector(geo.DefaultProjectionConfig())
		if err != nil {
			return nil, err
		}
		cfg.Projector = p
	}
	if len(res.Lanelets) == 0 {
		return nil, &maperr.Error{Kind: maperr.ErrSchemaViolation, Reason: "no lanelets"}
	}

	b := &builder{
		res:  res,
		cfg:  cfg,
		ways: make(map[int64]orb.LineString),
	}
	if cfg.PreferLocalXY {
		b.useLocal = lo.EveryBy(lo.Values(res.Nodes), func(n osmparser.NodeRecord) bool { return n.HasLocal })
		if !b.useLocal {
			cfg.Logger.Warn("local coordinates incomplete, projecting all nodes")
		}
	}

	recs := make([]osmparser.LaneletRecord, len(res.Lanelets))
	copy(recs, res.Lanelets)
	sort.Slice(recs, func(i, j int) bool { return recs[i].ID < recs[j].ID })

	g := &Graph{
		index:    make(map[int64]uint32, len(recs)),
		regIndex: make(map[int64]int, len(res.Regulatory)),
	}
	for _, rec := range recs {
		if _, dup := g.index[rec.ID]; dup {
			return nil, maperr.Schema("lanelet", rec.ID, "duplicate id")
		}
		ll, err := b.lanelet(rec)
		if err != nil {
			return nil, err
		}
		g.index[rec.ID] = uint32(len(g.lanelets))
		g.lanelets = append(g.lanelets, ll)
	}

	if err := b.regulatory(g); err != nil {
		return nil, err
	}
	if err := b.attachRegulatory(g, recs); err != nil {
		return nil, err
	}
	if err := b.areas(g); err != nil {
		return nil, err
	}

	n := len(g.lanelets)
	succ := make([][]uint32, n)
	lefts := make([][]uint32, n)
	rights := make([][]uint32, n)

	b.inferSuccessors(g, succ)
	b.inferNeighbors(g, lefts, rights)
	if err := b.mergeDeclared(g, recs, succ, lefts, rights); err != nil {
		return nil, err
	}
	if err := b.resolveNeighbors(g, lefts, rights); err != nil {
		return nil, err
	}
	b.buildAdjacency(g, succ)

	g.bound = g.lanelets[0].Shape.Bound
	for i := 1; i < n; i++ {
		g.bound = g.bound.Union(g.lanelets[i].Shape.Bound)
	}

	cfg.Logger.Info("built lane graph",
		zap.Int("lanelets", n),
		zap.Int("successor_edges", len(g.SuccHead)),
		zap.Int("regulatory_elements", len(g.regulatory)),
		zap.Int("areas", len(g.areas)),
		zap.Bool("local_xy", b.useLocal),
	)
	return g, nil
}

func (b *builder) position(n osmparser.NodeRecord) orb.Point {
	if b.useLocal {
		return orb.Point{n.LocalX, n.LocalY}
	}
	return geo.ProjectPoint(b.cfg.Projector, n.Lat, n.Lon)
}

// way resolves a way's planar points. owner names the referencing element
// for error reporting.
func (b *builder) way(element string, owner, id int64) (orb.LineString, error) {
	if ls, ok := b.ways[id]; ok {
		return ls, nil
	}
	w, ok := b.res.Ways[id]
	if !ok {
		return nil, maperr.Dangling(element, owner, fmt.Sprintf("way %d", id))
	}
	ls := make(orb.LineString, len(w.NodeIDs))
	for i, nid := range w.NodeIDs {
		n, ok := b.res.Nodes[nid]
		if !ok {
			return nil, maperr.Dangling("way", id, fmt.Sprintf("node %d", nid))
		}
		ls[i] = b.position(n)
	}
	b.ways[id] = ls
	return ls, nil
}

func (b *builder) lanelet(rec osmparser.LaneletRecord) (Lanelet, error) {
	for _, wid := range []int64{rec.Left, rec.Right} {
		if w, ok := b.res.Ways[wid]; ok && len(w.NodeIDs) < 2 {
			return Lanelet{}, maperr.Schema("lanelet", rec.ID, fmt.Sprintf("boundary way %d has fewer than 2 nodes", wid))
		}
	}
	left, err := b.way("lanelet", rec.ID, rec.Left)
	if err != nil {
		return Lanelet{}, err
	}
	right, err := b.way("lanelet", rec.ID, rec.Right)
	if err != nil {
		return Lanelet{}, err
	}

	shape, err := geometry.BuildLanelet(left, right)
	if err != nil {
		var me *maperr.Error
		if errors.As(err, &me) {
			tagged := *me
			tagged.Element, tagged.ID = "lanelet", rec.ID
			return Lanelet{}, &tagged
		}
		return Lanelet{}, err
	}

	lw, rw := b.res.Ways[rec.Left], b.res.Ways[rec.Right]
	return Lanelet{
		ID:            rec.ID,
		Subtype:       rec.Subtype,
		Shape:         shape,
		LeftWay:       rec.Left,
		RightWay:      rec.Right,
		SpeedLimit:    rec.SpeedLimit,
		OneWay:        rec.OneWay,
		Location:      rec.Location,
		Participants:  rec.Participants,
		LeftPassable:  lw.Type.Passable(lw.Subtype),
		RightPassable: rw.Type.Passable(rw.Subtype),
	}, nil
}

func (b *builder) regulatory(g *Graph) error {
	recs := make([]osmparser.RegulatoryRecord, len(b.res.Regulatory))
	copy(recs, b.res.Regulatory)
	sort.Slice(recs, func(i, j int) bool { return recs[i].ID < recs[j].ID })

	const element = "regulatory_element"
	for _, rec := range recs {
		if _, dup := g.regIndex[rec.ID]; dup {
			return maperr.Schema(element, rec.ID, "duplicate id")
		}
		re := RegulatoryElement{ID: rec.ID, Kind: rec.Kind, SignType: rec.SignType}

		for _, wid := range rec.RefLines {
			ls, err := b.way(element, rec.ID, wid)
			if err != nil {
				return err
			}
			re.RefLines = append(re.RefLines, ls)
		}
		for _, wid := range rec.CancelLine {
			if _, err := b.way(element, rec.ID, wid); err != nil {
				return err
			}
		}
		for _, m := range rec.Refers {
			switch m.Type {
			case "node":
				n, ok := b.res.Nodes[m.Ref]
				if !ok {
					return maperr.Dangling(element, rec.ID, fmt.Sprintf("node %d", m.Ref))
				}
				re.Refers = append(re.Refers, orb.LineString{b.position(n)})
			case "way":
				ls, err := b.way(element, rec.ID, m.Ref)
				if err != nil {
					return err
				}
				re.Refers = append(re.Refers, ls)
			default:
				if _, ok := g.index[m.Ref]; ok {
					continue
				}
				if !lo.ContainsBy(recs, func(r osmparser.RegulatoryRecord) bool { return r.ID == m.Ref }) {
					return maperr.Dangling(element, rec.ID, fmt.Sprintf("relation %d", m.Ref))
				}
			}
		}
		for _, ids := range [][]int64{rec.RightOfWay, rec.Yield} {
			for _, id := range ids {
				if _, ok := g.index[id]; !ok {
					return maperr.Dangling(element, rec.ID, fmt.Sprintf("lanelet %d", id))
				}
			}
		}
		re.RightOfWay = rec.RightOfWay
		re.Yield = rec.Yield

		g.regIndex[rec.ID] = len(g.regulatory)
		g.regulatory = append(g.regulatory, re)
	}
	return nil
}

// attachRegulatory links lanelets to the elements they reference and
// computes every element's extent.
func (b *builder) attachRegulatory(g *Graph, recs []osmparser.LaneletRecord) error {
	for i, rec := range recs {
		ids := lo.Uniq(rec.Regulatory)
		sort.Slice(ids, func(a, c int) bool { return ids[a] < ids[c] })
		for _, rid := range ids {
			ri, ok := g.regIndex[rid]
			if !ok {
				return maperr.Dangling("lanelet", rec.ID, fmt.Sprintf("regulatory_element %d", rid))
			}
			re := &g.regulatory[ri]
			re.Lanelets = append(re.Lanelets, rec.ID)
			if g.lanelets[i].StopLine == nil && len(re.RefLines) > 0 {
				g.lanelets[i].StopLine = re.RefLines[0]
			}
		}
		g.lanelets[i].Regulatory = ids
	}

	for i := range g.regulatory {
		re := &g.regulatory[i]
		re.Lanelets = lo.Uniq(append(append(re.Lanelets, re.RightOfWay...), re.Yield...))
		sort.Slice(re.Lanelets, func(a, c int) bool { return re.Lanelets[a] < re.Lanelets[c] })

		var bounds []orb.Bound
		for _, ls := range append(append([]orb.LineString{}, re.RefLines...), re.Refers...) {
			bounds = append(bounds, ls.Bound())
		}
		if len(bounds) == 0 {
			for _, id := range re.Lanelets {
				bounds = append(bounds, g.lanelets[g.index[id]].Shape.Bound)
			}
		}
		if len(bounds) == 0 {
			return maperr.Schema("regulatory_element", re.ID, "element has no location")
		}
		re.Bound = bounds[0]
		for _, bb := range bounds[1:] {
			re.Bound = re.Bound.Union(bb)
		}
	}
	return nil
}

func (b *builder) areas(g *Graph) error {
	for _, rec := range b.res.Areas {
		if len(rec.Outer) == 0 {
			return maperr.Schema("area", rec.ID, "no outer ring")
		}
		var outer orb.LineString
		for _, wid := range rec.Outer {
			ls, err := b.way("area", rec.ID, wid)
			if err != nil {
				return err
			}
			for _, p := range ls {
				if len(outer) > 0 && outer[len(outer)-1] == p {
					continue
				}
				outer = append(outer, p)
			}
		}
		poly := orb.Polygon{closeRing(outer)}
		for _, wid := range rec.Inner {
			ls, err := b.way("area", rec.ID, wid)
			if err != nil {
				return err
			}
			poly = append(poly, closeRing(ls))
		}
		for _, r := range poly {
			if len(r) < 4 {
				return maperr.Degenerate("area", rec.ID, "ring has fewer than three points")
			}
		}
		g.areas = append(g.areas, Area{ID: rec.ID, Subtype: rec.Subtype, Polygon: poly})
	}
	sort.Slice(g.areas, func(i, j int) bool { return g.areas[i].ID < g.areas[j].ID })
	return nil
}

func closeRing(ls orb.LineString) orb.Ring {
	r := make(orb.Ring, len(ls), len(ls)+1)
	copy(r, ls)
	if len(r) > 0 && r[0] != r[len(r)-1] {
		r = append(r, r[0])
	}
	return r
}

func box(p orb.Point, pad float64) (min, max [2]float64) {
	return [2]float64{p.X() - pad, p.Y() - pad}, [2]float64{p.X() + pad, p.Y() + pad}
}

// inferSuccessors links every lanelet whose centerline ends where another's
// begins, provided the heading change stays under the junction limit.
func (b *builder) inferSuccessors(g *Graph, succ [][]uint32) {
	var starts rtree.RTreeG[uint32]
	for i := range g.lanelets {
		min, max := box(g.lanelets[i].Shape.Start(), 0)
		starts.Insert(min, max, uint32(i))
	}

	tol := b.cfg.Tolerance
	for i := range g.lanelets {
		a := &g.lanelets[i].Shape
		end, heading := a.End(), a.EndHeading()
		min, max := box(end, tol)
		starts.Search(min, max, func(_, _ [2]float64, j uint32) bool {
			if j == uint32(i) {
				return true
			}
			s := &g.lanelets[j].Shape
			if planar.Distance(end, s.Start()) > tol {
				return true
			}
			if geometry.AngleDiff(heading, s.StartHeading()) > b.cfg.MaxJunctionHeading {
				return true
			}
			succ[i] = append(succ[i], j)
			return true
		})
	}
}

// inferNeighbors pairs lanelets whose left boundary traces another's right
// boundary in the same direction.
func (b *builder) inferNeighbors(g *Graph, lefts, rights [][]uint32) {
	var bounds rtree.RTreeG[uint32]
	for i := range g.lanelets {
		bb := g.lanelets[i].Shape.Right.Bound()
		bounds.Insert([2]float64(bb.Min), [2]float64(bb.Max), uint32(i))
	}

	tol := b.cfg.Tolerance
	for i := range g.lanelets {
		a := &g.lanelets[i]
		bb := a.Shape.Left.Bound().Pad(tol)
		bounds.Search([2]float64(bb.Min), [2]float64(bb.Max), func(_, _ [2]float64, j uint32) bool {
			if j == uint32(i) {
				return true
			}
			other := &g.lanelets[j]
			if (a.LeftWay == other.RightWay && !a.Shape.LeftInverted) || geometry.MatchPolylines(a.Shape.Left, other.Shape.Right, tol) {
				lefts[i] = append(lefts[i], j)
				rights[j] = append(rights[j], uint32(i))
			}
			return true
		})
	}
}

func (b *builder) mergeDeclared(g *Graph, recs []osmparser.LaneletRecord, succ, lefts, rights [][]uint32) error {
	for _, rec := range recs {
		i := g.index[rec.ID]
		for _, d := range rec.Declared {
			j, ok := g.index[d.Lanelet]
			if !ok {
				return maperr.Dangling("lanelet", rec.ID, fmt.Sprintf("lanelet %d", d.Lanelet))
			}
			if j == i {
				return maperr.Topology(rec.ID, "declares itself as its own "+d.Role)
			}
			switch d.Role {
			case osmparser.RoleSuccessor:
				succ[i] = append(succ[i], j)
			case osmparser.RolePredecessor:
				succ[j] = append(succ[j], i)
			case osmparser.RoleLeftNeighbor:
				lefts[i] = append(lefts[i], j)
				rights[j] = append(rights[j], i)
			case osmparser.RoleRightNeighbor:
				rights[i] = append(rights[i], j)
				lefts[j] = append(lefts[j], i)
			}
		}
	}
	return nil
}

// resolveNeighbors reduces the neighbor candidates to at most one per side
// and rejects contradictions.
func (b *builder) resolveNeighbors(g *Graph, lefts, rights [][]uint32) error {
	n := len(g.lanelets)
	g.LeftOf = make([]uint32, n)
	g.RightOf = make([]uint32, n)
	for i := 0; i < n; i++ {
		l := lo.Uniq(lefts[i])
		r := lo.Uniq(rights[i])
		id := g.lanelets[i].ID
		if len(l) > 1 {
			return maperr.Topology(id, fmt.Sprintf("multiple left neighbors %v", b.ids(g, l)))
		}
		if len(r) > 1 {
			return maperr.Topology(id, fmt.Sprintf("multiple right neighbors %v", b.ids(g, r)))
		}
		g.LeftOf[i], g.RightOf[i] = none, none
		if len(l) == 1 {
			g.LeftOf[i] = l[0]
		}
		if len(r) == 1 {
			g.RightOf[i] = r[0]
		}
		if len(l) == 1 && len(r) == 1 && l[0] == r[0] {
			return maperr.Topology(id, fmt.Sprintf("lanelet %d is both left and right neighbor", g.lanelets[l[0]].ID))
		}
	}
	return nil
}

func (b *builder) ids(g *Graph, idx []uint32) []int64 {
	out := lo.Map(idx, func(i uint32, _ int) int64 { return g.lanelets[i].ID })
	sort.Slice(out, func(a, c int) bool { return out[a] < out[c] })
	return out
}

// buildAdjacency lays out successors in preference order and predecessors in
// id order. Successors rank by heading change, then lateral offset at the
// junction, then id.
func (b *builder) buildAdjacency(g *Graph, succ [][]uint32) {
	n := uint32(len(g.lanelets))
	preds := make([][]uint32, n)

	g.SuccFirstOut = make([]uint32, n+1)
	for i := uint32(0); i < n; i++ {
		s := lo.Uniq(succ[i])
		a := &g.lanelets[i].Shape
		end, heading := a.End(), a.EndHeading()
		ux, uy := math.Cos(heading), math.Sin(heading)

		type ranked struct {
			idx    uint32
			turn   float64
			offset float64
		}
		rs := make([]ranked, len(s))
		for k, j := range s {
			st := g.lanelets[j].Shape.Start()
			dx, dy := st.X()-end.X(), st.Y()-end.Y()
			rs[k] = ranked{
				idx:    j,
				turn:   geometry.AngleDiff(heading, g.lanelets[j].Shape.StartHeading()),
				offset: math.Abs(ux*dy - uy*dx),
			}
		}
		sort.Slice(rs, func(x, y int) bool {
			if rs[x].turn != rs[y].turn {
				return rs[x].turn < rs[y].turn
			}
			if rs[x].offset != rs[y].offset {
				return rs[x].offset < rs[y].offset
			}
			return rs[x].idx < rs[y].idx
		})
		for _, r := range rs {
			g.SuccHead = append(g.SuccHead, r.idx)
			preds[r.idx] = append(preds[r.idx], i)
		}
		g.SuccFirstOut[i+1] = uint32(len(g.SuccHead))
	}

	g.PredFirstOut = make([]uint32, n+1)
	for i := uint32(0); i < n; i++ {
		p := preds[i]
		sort.Slice(p, func(x, y int) bool { return p[x] < p[y] })
		g.PredHead = append(g.PredHead, p...)
		g.PredFirstOut[i+1] = uint32(len(g.PredHead))
	}
}
