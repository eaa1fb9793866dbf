package api

import (
	"github.com/azybler/lanegraph/pkg/routing"
)

// LatLngJSON represents a lat/lng pair in JSON.
type LatLngJSON struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// PointJSON is a position in the map's planar frame, in meters.
type PointJSON struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// NearestRequest is the JSON body for POST /api/v1/nearest. Exactly one of
// Point and Position must be set.
type NearestRequest struct {
	Point    *PointJSON  `json:"point,omitempty"`
	Position *LatLngJSON `json:"position,omitempty"`
	Heading  *float64    `json:"heading,omitempty"` // radians, counterclockwise from east
}

// NearestResponse is the JSON response for POST /api/v1/nearest.
type NearestResponse struct {
	routing.Match
	Point PointJSON `json:"point"`
	Areas []int64   `json:"areas,omitempty"` // areas containing the point
}

// EdgeJSON is one outgoing relation of a lanelet.
type EdgeJSON struct {
	Kind string `json:"kind"`
	To   int64  `json:"to"`
}

// LaneletResponse is the JSON response for GET /api/v1/lanelets/{id}.
type LaneletResponse struct {
	ID            int64        `json:"id"`
	Subtype       string       `json:"subtype"`
	LengthMeters  float64      `json:"length_m"`
	SpeedLimit    float64      `json:"speed_limit_mps,omitempty"`
	OneWay        bool         `json:"one_way"`
	Location      string       `json:"location,omitempty"`
	Participants  []string     `json:"participants,omitempty"`
	LeftPassable  bool         `json:"left_passable"`
	RightPassable bool         `json:"right_passable"`
	Regulatory    []int64      `json:"regulatory_elements,omitempty"`
	Edges         []EdgeJSON   `json:"edges"`
	Centerline    []LatLngJSON `json:"centerline"`
}

// ReachableResponse is the JSON response for
// GET /api/v1/lanelets/{id}/reachable.
type ReachableResponse struct {
	From     int64   `json:"from"`
	MaxHops  int     `json:"max_hops"`
	Lanelets []int64 `json:"lanelets"`
}

// RouteRequest is the JSON body for POST /api/v1/route.
type RouteRequest struct {
	From int64 `json:"from"`
	To   int64 `json:"to"`
}

// ErrorResponse is the JSON response for errors.
type ErrorResponse struct {
	Error string `json:"error"`
	Field string `json:"field,omitempty"`
	ID    int64  `json:"id,omitempty"`
}

// HealthResponse is the JSON response for GET /api/v1/health.
type HealthResponse struct {
	Status string `json:"status"`
	MapID  string `json:"map_id"`
}
