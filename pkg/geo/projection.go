package geo

import (
	"fmt"
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/project"

	"github.com/azybler/lanegraph/pkg/maperr"
)

// Projection families.
const (
	FamilyUTM             = "utm"
	FamilyMercator        = "mercator"
	FamilyEquirectangular = "equirectangular"
)

// maxMercatorLat is where spherical Mercator stops being usable.
const maxMercatorLat = 85.05112878

// ProjectionConfig anchors a local planar frame at a geodetic origin.
type ProjectionConfig struct {
	Family    string  `yaml:"family"`
	OriginLat float64 `yaml:"origin_lat"`
	OriginLon float64 `yaml:"origin_lon"`
}

// DefaultProjectionConfig returns a UTM frame with no origin. Loaders
// anchor such a frame on the map itself.
func DefaultProjectionConfig() ProjectionConfig {
	return ProjectionConfig{Family: FamilyUTM}
}

// HasOrigin reports whether an origin was configured. (0, 0) counts as
// unset.
func (c ProjectionConfig) HasOrigin() bool {
	return c.OriginLat != 0 || c.OriginLon != 0
}

// WithOrigin returns c anchored at lat, lon.
func (c ProjectionConfig) WithOrigin(lat, lon float64) ProjectionConfig {
	c.OriginLat, c.OriginLon = lat, lon
	return c
}

// Projector converts between geodetic coordinates and a local planar frame
// in meters (x east, y north). Implementations are immutable and safe for
// concurrent use.
type Projector interface {
	Project(lat, lon float64) (x, y float64)
	Unproject(x, y float64) (lat, lon float64)
	Config() ProjectionConfig
}

// NewProjector validates cfg and returns the matching projector.
func NewProjector(cfg ProjectionConfig) (Projector, error) {
	if !ValidLatLon(cfg.OriginLat, cfg.OriginLon) {
		return nil, maperr.Projection(fmt.Sprintf("origin (%v, %v) outside geodetic bounds", cfg.OriginLat, cfg.OriginLon))
	}

	switch cfg.Family {
	case FamilyUTM:
		if cfg.OriginLat > 84 || cfg.OriginLat < -80 {
			return nil, maperr.Projection(fmt.Sprintf("origin latitude %v outside UTM coverage", cfg.OriginLat))
		}
		return newUTM(cfg), nil
	case FamilyMercator:
		if math.Abs(cfg.OriginLat) >= maxMercatorLat {
			return nil, maperr.Projection(fmt.Sprintf("origin latitude %v outside Mercator coverage", cfg.OriginLat))
		}
		return newMercator(cfg), nil
	case FamilyEquirectangular:
		if math.Abs(cfg.OriginLat) >= 89.9 {
			return nil, maperr.Projection("equirectangular frame undefined at the poles")
		}
		return newEquirectangular(cfg), nil
	default:
		return nil, maperr.Projection(fmt.Sprintf("unsupported projection family %q", cfg.Family))
	}
}

// ProjectPoint is a convenience wrapper returning an orb.Point.
func ProjectPoint(p Projector, lat, lon float64) orb.Point {
	x, y := p.Project(lat, lon)
	return orb.Point{x, y}
}

// mercator is spherical Web Mercator scaled by cos(origin latitude) and
// translated so the origin sits at (0, 0).
type mercator struct {
	cfg    ProjectionConfig
	scale  float64
	origin orb.Point
}

func newMercator(cfg ProjectionConfig) *mercator {
	return &mercator{
		cfg:    cfg,
		scale:  math.Cos(cfg.OriginLat * math.Pi / 180),
		origin: project.WGS84.ToMercator(orb.Point{cfg.OriginLon, cfg.OriginLat}),
	}
}

func (m *mercator) Project(lat, lon float64) (float64, float64) {
	p := project.WGS84.ToMercator(orb.Point{lon, lat})
	return (p.X() - m.origin.X()) * m.scale, (p.Y() - m.origin.Y()) * m.scale
}

func (m *mercator) Unproject(x, y float64) (float64, float64) {
	p := orb.Point{x/m.scale + m.origin.X(), y/m.scale + m.origin.Y()}
	ll := project.Mercator.ToWGS84(p)
	return ll.Lat(), ll.Lon()
}

func (m *mercator) Config() ProjectionConfig { return m.cfg }

// equirectangular is a local tangent-plane approximation. Good for maps a
// few kilometers across.
type equirectangular struct {
	cfg    ProjectionConfig
	cosLat float64
}

func newEquirectangular(cfg ProjectionConfig) *equirectangular {
	return &equirectangular{cfg: cfg, cosLat: math.Cos(cfg.OriginLat * math.Pi / 180)}
}

func (e *equirectangular) Project(lat, lon float64) (float64, float64) {
	return (lon - e.cfg.OriginLon) * e.cosLat * degToMeters, (lat - e.cfg.OriginLat) * degToMeters
}

func (e *equirectangular) Unproject(x, y float64) (float64, float64) {
	return y/degToMeters + e.cfg.OriginLat, x/(e.cosLat*degToMeters) + e.cfg.OriginLon
}

func (e *equirectangular) Config() ProjectionConfig { return e.cfg }
