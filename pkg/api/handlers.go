package api

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"mime"
	"net/http"
	"strconv"

	"github.com/paulmach/orb"
	"go.uber.org/zap"

	"github.com/azybler/lanegraph/pkg/geo"
	"github.com/azybler/lanegraph/pkg/graph"
	"github.com/azybler/lanegraph/pkg/lanemap"
	"github.com/azybler/lanegraph/pkg/maperr"
	"github.com/azybler/lanegraph/pkg/routing"
	"github.com/azybler/lanegraph/pkg/track"
)

const (
	maxSmallBody = 1 << 10
	maxTrackBody = 4 << 20
	maxHopsLimit = 1000
)

// Querier is the read-only map surface served over HTTP. *lanemap.Map
// implements it.
type Querier interface {
	NearestLane(p orb.Point) (routing.Match, error)
	NearestLaneHeading(p orb.Point, heading float64) (routing.Match, error)
	AreasAt(p orb.Point) []int64
	Project(lat, lon float64) orb.Point
	Unproject(p orb.Point) (lat, lon float64)
	Lanelet(id int64) (*graph.Lanelet, error)
	Edges(id int64) ([]graph.Edge, error)
	Reachable(from int64, maxHops int) ([]int64, error)
	AssociateTrack(tr track.Track) (*routing.Association, error)
	Route(ctx context.Context, from, to int64) (*routing.RouteResult, error)
	Stats() lanemap.Stats
}

// Handlers holds the HTTP handlers and their dependencies.
type Handlers struct {
	q      Querier
	logger *zap.Logger
}

// NewHandlers creates handlers serving q.
func NewHandlers(q Querier, logger *zap.Logger) *Handlers {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handlers{q: q, logger: logger}
}

// HandleNearest handles POST /api/v1/nearest.
func (h *Handlers) HandleNearest(w http.ResponseWriter, r *http.Request) {
	var req NearestRequest
	if !decodeJSON(w, r, maxSmallBody, &req) {
		return
	}

	var p orb.Point
	switch {
	case req.Point != nil && req.Position == nil:
		if !finite(req.Point.X, req.Point.Y) {
			writeError(w, http.StatusBadRequest, "invalid_coordinates", "point")
			return
		}
		p = orb.Point{req.Point.X, req.Point.Y}
	case req.Position != nil && req.Point == nil:
		if !finite(req.Position.Lat, req.Position.Lng) || !geo.ValidLatLon(req.Position.Lat, req.Position.Lng) {
			writeError(w, http.StatusBadRequest, "invalid_coordinates", "position")
			return
		}
		p = h.q.Project(req.Position.Lat, req.Position.Lng)
	default:
		writeError(w, http.StatusBadRequest, "invalid_request", "point")
		return
	}

	var (
		m   routing.Match
		err error
	)
	if req.Heading != nil {
		if !finite(*req.Heading) {
			writeError(w, http.StatusBadRequest, "invalid_heading", "heading")
			return
		}
		m, err = h.q.NearestLaneHeading(p, *req.Heading)
	} else {
		m, err = h.q.NearestLane(p)
	}
	if err != nil {
		h.writeQueryError(w, err)
		return
	}
	writeJSON(w, NearestResponse{Match: m, Point: PointJSON{X: p.X(), Y: p.Y()}, Areas: h.q.AreasAt(p)})
}

// HandleLanelet handles GET /api/v1/lanelets/{id}.
func (h *Handlers) HandleLanelet(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	ll, err := h.q.Lanelet(id)
	if err != nil {
		h.writeQueryError(w, err)
		return
	}
	edges, err := h.q.Edges(id)
	if err != nil {
		h.writeQueryError(w, err)
		return
	}

	resp := LaneletResponse{
		ID:            ll.ID,
		Subtype:       ll.Subtype.String(),
		LengthMeters:  ll.Shape.Length,
		SpeedLimit:    ll.SpeedLimit,
		OneWay:        ll.OneWay,
		Location:      ll.Location,
		Participants:  ll.Participants,
		LeftPassable:  ll.LeftPassable,
		RightPassable: ll.RightPassable,
		Regulatory:    ll.Regulatory,
		Edges:         make([]EdgeJSON, len(edges)),
		Centerline:    make([]LatLngJSON, len(ll.Shape.Centerline)),
	}
	for i, e := range edges {
		resp.Edges[i] = EdgeJSON{Kind: e.Kind.String(), To: e.To}
	}
	for i, p := range ll.Shape.Centerline {
		lat, lng := h.q.Unproject(p)
		resp.Centerline[i] = LatLngJSON{Lat: lat, Lng: lng}
	}
	writeJSON(w, resp)
}

// HandleReachable handles GET /api/v1/lanelets/{id}/reachable?max_hops=N.
func (h *Handlers) HandleReachable(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	hops := 1
	if v := r.URL.Query().Get("max_hops"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 || n > maxHopsLimit {
			writeError(w, http.StatusBadRequest, "invalid_max_hops", "max_hops")
			return
		}
		hops = n
	}

	ids, err := h.q.Reachable(id, hops)
	if err != nil {
		h.writeQueryError(w, err)
		return
	}
	writeJSON(w, ReachableResponse{From: id, MaxHops: hops, Lanelets: ids})
}

// HandleAssociate handles POST /api/v1/associate.
func (h *Handlers) HandleAssociate(w http.ResponseWriter, r *http.Request) {
	var tr track.Track
	if !decodeJSON(w, r, maxTrackBody, &tr) {
		return
	}
	assoc, err := h.q.AssociateTrack(tr)
	if err != nil {
		h.writeQueryError(w, err)
		return
	}
	writeJSON(w, assoc)
}

// HandleRoute handles POST /api/v1/route.
func (h *Handlers) HandleRoute(w http.ResponseWriter, r *http.Request) {
	var req RouteRequest
	if !decodeJSON(w, r, maxSmallBody, &req) {
		return
	}
	result, err := h.q.Route(r.Context(), req.From, req.To)
	if err != nil {
		h.writeQueryError(w, err)
		return
	}
	writeJSON(w, result)
}

// HandleHealth handles GET /api/v1/health.
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, HealthResponse{Status: "ok", MapID: h.q.Stats().ID})
}

// HandleStats handles GET /api/v1/stats.
func (h *Handlers) HandleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, h.q.Stats())
}

func (h *Handlers) writeQueryError(w http.ResponseWriter, err error) {
	var me *maperr.Error
	switch {
	case errors.Is(err, maperr.ErrUnknownLanelet):
		resp := ErrorResponse{Error: "unknown_lanelet"}
		if errors.As(err, &me) {
			resp.ID = me.ID
		}
		writeStatus(w, http.StatusNotFound, resp)
	case errors.Is(err, routing.ErrNoRoute):
		writeError(w, http.StatusNotFound, "no_route_found", "")
	case errors.Is(err, routing.ErrPointTooFar):
		writeError(w, http.StatusUnprocessableEntity, "point_too_far_from_lane", "")
	case errors.Is(err, routing.ErrInvalidPoint):
		writeError(w, http.StatusBadRequest, "invalid_coordinates", "")
	case errors.Is(err, track.ErrInvalidTrack):
		writeError(w, http.StatusBadRequest, "invalid_track", "states")
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusServiceUnavailable, "request_timeout", "")
	default:
		h.logger.Error("query failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal_error", "")
	}
}

// decodeJSON enforces the content type and decodes a bounded body into v.
func decodeJSON(w http.ResponseWriter, r *http.Request, limit int64, v any) bool {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType != "application/json" {
		writeError(w, http.StatusBadRequest, "invalid_request", "")
		return false
	}
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, limit)).Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "request_too_large", "")
			return false
		}
		writeError(w, http.StatusBadRequest, "invalid_request", "")
		return false
	}
	return true
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_id", "id")
		return 0, false
	}
	return id, true
}

func finite(vs ...float64) bool {
	for _, v := range vs {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

func writeJSON(w http.ResponseWriter, v any) {
	writeStatus(w, http.StatusOK, v)
}

func writeStatus(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, field string) {
	writeStatus(w, status, ErrorResponse{Error: code, Field: field})
}
