package geo

import (
	"math"

	"github.com/wroge/wgs84"
)

// utm is a transverse Mercator projection in the UTM zone of the origin.
// Northern-hemisphere false northing is used everywhere so a map straddling
// the equator stays continuous. The frame is translated so that the origin
// maps to (0, 0).
type utm struct {
	cfg     ProjectionConfig
	forward func(a, b, c float64) (float64, float64, float64)
	inverse func(a, b, c float64) (float64, float64, float64)
	originE float64
	originN float64
}

// UTMZone returns the UTM zone number (1..60) containing lon.
func UTMZone(lon float64) int {
	zone := int(math.Floor((lon+180)/6)) + 1
	if zone > 60 {
		zone = 60
	}
	return zone
}

func newUTM(cfg ProjectionConfig) *utm {
	zone := wgs84.UTM(float64(UTMZone(cfg.OriginLon)), true)
	u := &utm{
		cfg:     cfg,
		forward: wgs84.LonLat().To(zone),
		inverse: zone.To(wgs84.LonLat()),
	}
	u.originE, u.originN, _ = u.forward(cfg.OriginLon, cfg.OriginLat, 0)
	return u
}

func (u *utm) Project(lat, lon float64) (float64, float64) {
	e, n, _ := u.forward(lon, lat, 0)
	return e - u.originE, n - u.originN
}

func (u *utm) Unproject(x, y float64) (float64, float64) {
	lon, lat, _ := u.inverse(x+u.originE, y+u.originN, 0)
	return lat, lon
}

func (u *utm) Config() ProjectionConfig { return u.cfg }
