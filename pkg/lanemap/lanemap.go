// Package lanemap loads a Lanelet2 OSM document into an immutable,
// queryable lane map.
package lanemap

import (
	"context"
	"fmt"
	"math"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/paulmach/orb"
	orbgeo "github.com/paulmach/orb/geo"
	"github.com/paulmach/orb/planar"
	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/azybler/lanegraph/pkg/geo"
	"github.com/azybler/lanegraph/pkg/graph"
	"github.com/azybler/lanegraph/pkg/maperr"
	osmparser "github.com/azybler/lanegraph/pkg/osm"
	"github.com/azybler/lanegraph/pkg/routing"
	"github.com/azybler/lanegraph/pkg/spatial"
	"github.com/azybler/lanegraph/pkg/track"
)

// Map is a fully validated lane map. It is immutable and safe for
// concurrent use.
type Map struct {
	id      string
	builtAt time.Time
	bounds  *osmparser.Bounds

	proj   geo.Projector
	g      *graph.Graph
	ix     *spatial.Index
	regIx  *spatial.RegulatoryIndex
	engine *routing.Engine
}

// LoadMap parses, validates and indexes an OSM XML document.
func LoadMap(data []byte, cfg Config) (*Map, error) {
	return LoadMapContext(context.Background(), data, cfg)
}

// LoadFile reads and loads the document at path.
func LoadFile(ctx context.Context, path string, cfg Config) (*Map, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading map file: %w", err)
	}
	return LoadMapContext(ctx, data, cfg)
}

// LoadMapContext is LoadMap with cancellation. Only a fully built map is
// ever returned.
func LoadMapContext(ctx context.Context, data []byte, cfg Config) (*Map, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	start := time.Now()

	proj, err := geo.NewProjector(cfg.Projection)
	if err != nil {
		return nil, err
	}

	res, err := osmparser.Parse(ctx, data, osmparser.ParseOptions{
		MaxBytes: cfg.MaxInputBytes,
		Logger:   logger,
	})
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !cfg.Projection.HasOrigin() {
		if lat, lon, ok := anchor(res); ok {
			if proj, err = geo.NewProjector(cfg.Projection.WithOrigin(lat, lon)); err != nil {
				return nil, err
			}
			logger.Debug("anchored projection on map",
				zap.Float64("origin_lat", lat),
				zap.Float64("origin_lon", lon))
		}
	}

	g, err := graph.Build(res, graph.Config{
		Projector:          proj,
		PreferLocalXY:      cfg.PreferLocalXY,
		Tolerance:          cfg.Tolerance,
		MaxJunctionHeading: cfg.MaxJunctionHeading,
		Logger:             logger,
	})
	if err != nil {
		return nil, err
	}

	ix := spatial.Build(g.Lanelets())
	m := &Map{
		id:      uuid.NewString(),
		builtAt: time.Now(),
		bounds:  res.Bounds,
		proj:    proj,
		g:       g,
		ix:      ix,
		regIx:   spatial.NewRegulatoryIndex(g.RegulatoryElements()),
		engine:  routing.NewEngine(g, ix, cfg.Query, logger),
	}

	if largest := g.LargestComponent(); len(largest) < int(g.NumLanelets()) {
		logger.Warn("lane graph is disconnected",
			zap.Int("largest_component", len(largest)),
			zap.Uint32("lanelets", g.NumLanelets()))
	}
	checkDistortion(res.Bounds, proj, cfg.PreferLocalXY, logger)

	logger.Info("map loaded",
		zap.String("id", m.id),
		zap.Uint32("lanelets", g.NumLanelets()),
		zap.Int("regulatory_elements", m.regIx.Len()),
		zap.Duration("elapsed", time.Since(start)))
	return m, nil
}

// anchor picks an origin for a frame configured without one: the centre
// of the declared bounds, else the lowest-id node.
func anchor(res *osmparser.ParseResult) (lat, lon float64, ok bool) {
	if b := res.Bounds; b != nil {
		return (b.MinLat + b.MaxLat) / 2, (b.MinLon + b.MaxLon) / 2, true
	}
	if len(res.Nodes) == 0 {
		return 0, 0, false
	}
	n := res.Nodes[lo.Min(lo.Keys(res.Nodes))]
	return n.Lat, n.Lon, true
}

// maxDistortion is the relative error between projected and geodetic
// extents above which a load is flagged.
const maxDistortion = 0.01

// checkDistortion compares the projected diagonal of the document bounds
// with its ground distance. A large mismatch usually means the projection
// origin is far from the map.
func checkDistortion(b *osmparser.Bounds, proj geo.Projector, localXY bool, logger *zap.Logger) {
	if b == nil || localXY {
		return
	}
	ground := geo.EquirectangularDist(b.MinLat, b.MinLon, b.MaxLat, b.MaxLon)
	if ground < 1 {
		return
	}
	d := planar.Distance(
		geo.ProjectPoint(proj, b.MinLat, b.MinLon),
		geo.ProjectPoint(proj, b.MaxLat, b.MaxLon))
	if rel := math.Abs(d-ground) / ground; rel > maxDistortion {
		logger.Warn("projection distorts map extent",
			zap.Float64("planar_m", d),
			zap.Float64("ground_m", ground),
			zap.Float64("relative_error", rel))
	}
}

// ID identifies this build of the map.
func (m *Map) ID() string { return m.id }

// Graph exposes the underlying lane graph.
func (m *Map) Graph() *graph.Graph { return m.g }

// Bounds returns the document's declared extent, or nil.
func (m *Map) Bounds() *osmparser.Bounds { return m.bounds }

// Lanelet returns the lanelet with the given id.
func (m *Map) Lanelet(id int64) (*graph.Lanelet, error) {
	ll, ok := m.g.Lanelet(id)
	if !ok {
		return nil, maperr.UnknownLanelet(id)
	}
	return ll, nil
}

// Edges returns the lanelet's outgoing relations.
func (m *Map) Edges(id int64) ([]graph.Edge, error) {
	edges, ok := m.g.Edges(id)
	if !ok {
		return nil, maperr.UnknownLanelet(id)
	}
	return edges, nil
}

// RegulatoryElement returns the regulatory element with the given id.
func (m *Map) RegulatoryElement(id int64) (*graph.RegulatoryElement, bool) {
	return m.g.RegulatoryElement(id)
}

// RegulatoryElementsNear returns the regulatory elements within radius of
// p, nearest first.
func (m *Map) RegulatoryElementsNear(p orb.Point, radius float64) []spatial.RegulatoryHit {
	return m.regIx.Near(p, radius)
}

// LaneletsAt returns the ids of lanelets containing p, ascending.
func (m *Map) LaneletsAt(p orb.Point) []int64 {
	hits := m.ix.Contains(p)
	ids := make([]int64, len(hits))
	for i, h := range hits {
		ids[i] = h.ID
	}
	return ids
}

// AreasAt returns the ids of areas whose polygon contains p, ascending.
func (m *Map) AreasAt(p orb.Point) []int64 {
	var ids []int64
	for _, a := range m.g.Areas() {
		if a.Polygon.Bound().Contains(p) && planar.PolygonContains(a.Polygon, p) {
			ids = append(ids, a.ID)
		}
	}
	return ids
}

// Project maps a geodetic coordinate into the map's planar frame.
func (m *Map) Project(lat, lon float64) orb.Point {
	return geo.ProjectPoint(m.proj, lat, lon)
}

// Unproject maps a planar point back to latitude and longitude.
func (m *Map) Unproject(p orb.Point) (lat, lon float64) {
	return m.proj.Unproject(p.X(), p.Y())
}

// NearestLane returns the lanelet nearest to p.
func (m *Map) NearestLane(p orb.Point) (routing.Match, error) {
	return m.engine.NearestLane(p)
}

// NearestLaneHeading returns the lanelet best matching p and heading.
func (m *Map) NearestLaneHeading(p orb.Point, heading float64) (routing.Match, error) {
	return m.engine.NearestLaneHeading(p, heading)
}

// Reachable returns the lanelets within maxHops successor steps of from.
func (m *Map) Reachable(from int64, maxHops int) ([]int64, error) {
	return m.engine.Reachable(from, maxHops)
}

// AssociateTrack assigns a lanelet to every sample of tr.
func (m *Map) AssociateTrack(tr track.Track) (*routing.Association, error) {
	return m.engine.AssociateTrack(tr)
}

// Route returns the cheapest lane-level route between two lanelets.
func (m *Map) Route(ctx context.Context, from, to int64) (*routing.RouteResult, error) {
	return m.engine.Route(ctx, from, to)
}

// Stats summarizes the map.
type Stats struct {
	ID      string    `json:"id"`
	BuiltAt time.Time `json:"built_at"`

	// ExtentMeters is the ground length of the declared bounds' diagonal.
	ExtentMeters float64 `json:"extent_m,omitempty"`

	graph.Stats
}

// Stats returns summary counts for the map.
func (m *Map) Stats() Stats {
	s := Stats{ID: m.id, BuiltAt: m.builtAt, Stats: m.g.Stats()}
	if b := m.bounds; b != nil {
		s.ExtentMeters = orbgeo.DistanceHaversine(orb.Point{b.MinLon, b.MinLat}, orb.Point{b.MaxLon, b.MaxLat})
	}
	return s
}
