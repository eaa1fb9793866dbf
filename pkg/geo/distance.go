package geo

import "math"

const earthRadiusMeters = 6_371_000.0

// EquirectangularDist returns an approximate distance in meters.
// Accurate to <0.1% over the extent of a single intersection map.
// Use for sanity checks on projected distances, not for geodesy; see
// orb/geo.DistanceHaversine for great-circle distances.
func EquirectangularDist(lat1, lon1, lat2, lon2 float64) float64 {
	x := (lon2 - lon1) * math.Cos((lat1+lat2)/2*math.Pi/180) * math.Pi / 180
	y := (lat2 - lat1) * math.Pi / 180
	return math.Sqrt(x*x+y*y) * earthRadiusMeters
}

// degToMeters converts degree-scaled equirectangular distances to meters.
const degToMeters = math.Pi / 180 * earthRadiusMeters

// ValidLatLon reports whether lat/lon are finite and inside geodetic bounds.
func ValidLatLon(lat, lon float64) bool {
	if math.IsNaN(lat) || math.IsNaN(lon) || math.IsInf(lat, 0) || math.IsInf(lon, 0) {
		return false
	}
	return lat >= -90 && lat <= 90 && lon >= -180 && lon <= 180
}
