package osm

import (
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/paulmach/osm"
	"github.com/paulmach/osm/osmxml"
	"go.uber.org/zap"

	"github.com/azybler/lanegraph/pkg/geo"
	"github.com/azybler/lanegraph/pkg/maperr"
)

// DefaultMaxBytes bounds the size of a document accepted by Parse.
const DefaultMaxBytes = 256 << 20

// maxDepth bounds element nesting. Lanelet2 documents are three levels deep
// (osm > relation > member).
const maxDepth = 16

// Bounds is the document's declared geographic extent.
type Bounds struct {
	MinLat, MinLon float64
	MaxLat, MaxLon float64
}

// NodeRecord is a point in WGS84, optionally with authored local planar
// coordinates.
type NodeRecord struct {
	ID       int64
	Lat, Lon float64
	LocalX   float64
	LocalY   float64
	HasLocal bool
	Ele      float64
}

// WayRecord is a line string of node ids.
type WayRecord struct {
	ID      int64
	Type    WayType
	Subtype string // e.g. "solid", "dashed"
	NodeIDs []int64
}

// Declared edge roles a lanelet relation may carry.
const (
	RoleSuccessor     = "successor"
	RolePredecessor   = "predecessor"
	RoleLeftNeighbor  = "left_neighbor"
	RoleRightNeighbor = "right_neighbor"
)

// DeclaredEdge is a relationship authored on a lanelet relation.
type DeclaredEdge struct {
	Role    string
	Lanelet int64
}

// LaneletRecord is an unresolved lanelet relation.
type LaneletRecord struct {
	ID           int64
	Subtype      LaneletSubtype
	Left, Right  int64 // boundary way ids
	Regulatory   []int64
	SpeedLimit   float64 // m/s, 0 when untagged
	OneWay       bool
	Location     string
	Declared     []DeclaredEdge
	Participants []string // participant:* tags set to yes
}

// Member is a typed relation member reference.
type Member struct {
	Type osm.Type
	Ref  int64
}

// RegulatoryRecord is an unresolved regulatory element relation.
type RegulatoryRecord struct {
	ID         int64
	Kind       RegulatoryKind
	Refers     []Member
	RefLines   []int64 // stop line ways
	RightOfWay []int64 // lanelet ids
	Yield      []int64 // lanelet ids
	CancelLine []int64
	SignType   string // sign_type tag, e.g. "de205"
}

// AreaRecord is a multipolygon, e.g. a parking area or a keep-out zone.
type AreaRecord struct {
	ID      int64
	Subtype string
	Outer   []int64
	Inner   []int64
}

// ParseResult holds the records of a Lanelet2 OSM document, sorted by id.
type ParseResult struct {
	Bounds     *Bounds
	Nodes      map[int64]NodeRecord
	Ways       map[int64]WayRecord
	Lanelets   []LaneletRecord
	Regulatory []RegulatoryRecord
	Areas      []AreaRecord
}

// ParseOptions configures the Lanelet2 parser.
type ParseOptions struct {
	MaxBytes int         // 0 means DefaultMaxBytes
	Logger   *zap.Logger // nil means no logging
}

// Parse reads a Lanelet2 OSM XML document. The document is validated
// strictly before any record is built: DTDs, entity declarations, unclosed
// elements and invalid UTF-8 are rejected as malformed.
func Parse(ctx context.Context, data []byte, opts ParseOptions) (*ParseResult, error) {
	limit := opts.MaxBytes
	if limit <= 0 {
		limit = DefaultMaxBytes
	}
	if len(data) > limit {
		return nil, maperr.TooLarge(len(data), limit)
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	bounds, err := validateDocument(data)
	if err != nil {
		return nil, err
	}

	result := &ParseResult{
		Bounds: bounds,
		Nodes:  make(map[int64]NodeRecord),
		Ways:   make(map[int64]WayRecord),
	}
	relations := make(map[int64]struct{})

	scanner := osmxml.New(ctx, bytes.NewReader(data))
	defer scanner.Close()

	for scanner.Scan() {
		switch o := scanner.Object().(type) {
		case *osm.Node:
			rec, err := parseNode(o)
			if err != nil {
				return nil, err
			}
			if _, dup := result.Nodes[rec.ID]; dup {
				return nil, maperr.Schema("node", rec.ID, "duplicate id")
			}
			result.Nodes[rec.ID] = rec

		case *osm.Way:
			rec, err := parseWay(o)
			if err != nil {
				return nil, err
			}
			if _, dup := result.Ways[rec.ID]; dup {
				return nil, maperr.Schema("way", rec.ID, "duplicate id")
			}
			result.Ways[rec.ID] = rec

		case *osm.Relation:
			id := int64(o.ID)
			if id == 0 {
				return nil, maperr.Schema("relation", 0, "missing id")
			}
			if _, dup := relations[id]; dup {
				return nil, maperr.Schema("relation", id, "duplicate id")
			}
			relations[id] = struct{}{}

			switch o.Tags.Find("type") {
			case "lanelet":
				rec, err := parseLanelet(o)
				if err != nil {
					return nil, err
				}
				result.Lanelets = append(result.Lanelets, rec)
			case "regulatory_element":
				rec, err := parseRegulatory(o)
				if err != nil {
					return nil, err
				}
				result.Regulatory = append(result.Regulatory, rec)
			case "multipolygon":
				result.Areas = append(result.Areas, parseArea(o))
			default:
				logger.Debug("skipping relation", zap.Int64("id", id), zap.String("type", o.Tags.Find("type")))
			}
		}
	}
	if err := scanner.Err(); err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		// The document is well-formed at this point, so a decode failure
		// means an attribute has the wrong shape.
		return nil, &maperr.Error{Kind: maperr.ErrSchemaViolation, Reason: "decoding element", Err: err}
	}

	if len(result.Lanelets) == 0 {
		return nil, &maperr.Error{Kind: maperr.ErrSchemaViolation, Reason: "document contains no lanelets"}
	}

	sort.Slice(result.Lanelets, func(i, j int) bool { return result.Lanelets[i].ID < result.Lanelets[j].ID })
	sort.Slice(result.Regulatory, func(i, j int) bool { return result.Regulatory[i].ID < result.Regulatory[j].ID })
	sort.Slice(result.Areas, func(i, j int) bool { return result.Areas[i].ID < result.Areas[j].ID })

	logger.Info("parsed lanelet map",
		zap.Int("nodes", len(result.Nodes)),
		zap.Int("ways", len(result.Ways)),
		zap.Int("lanelets", len(result.Lanelets)),
		zap.Int("regulatory_elements", len(result.Regulatory)),
		zap.Int("areas", len(result.Areas)),
	)
	return result, nil
}

// validateDocument walks the raw token stream once in strict mode. It
// captures the <bounds> element, which the object scanner does not emit.
func validateDocument(data []byte) (*Bounds, error) {
	d := xml.NewDecoder(bytes.NewReader(data))
	d.Strict = true

	var (
		bounds *Bounds
		depth  int
		roots  int
	)
	for {
		tok, err := d.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, maperr.Malformed(location(d, err), "invalid xml", err)
		}

		switch t := tok.(type) {
		case xml.Directive:
			return nil, maperr.Malformed(fmt.Sprintf("offset %d", d.InputOffset()), "DTD and entity declarations are not accepted", nil)
		case xml.ProcInst:
			if t.Target != "xml" {
				return nil, maperr.Malformed(fmt.Sprintf("offset %d", d.InputOffset()), fmt.Sprintf("processing instruction %q not accepted", t.Target), nil)
			}
		case xml.StartElement:
			depth++
			if depth > maxDepth {
				return nil, maperr.Malformed(fmt.Sprintf("offset %d", d.InputOffset()), "elements nested too deeply", nil)
			}
			if depth == 1 {
				roots++
				if roots > 1 {
					return nil, maperr.Malformed(fmt.Sprintf("offset %d", d.InputOffset()), "multiple root elements", nil)
				}
				if t.Name.Local != "osm" {
					return nil, &maperr.Error{Kind: maperr.ErrSchemaViolation, Reason: fmt.Sprintf("root element is <%s>, want <osm>", t.Name.Local)}
				}
			}
			if depth == 2 && t.Name.Local == "bounds" {
				b, err := parseBounds(t.Attr)
				if err != nil {
					return nil, err
				}
				bounds = b
			}
			if depth == 2 && t.Name.Local == "node" {
				if err := requireCoordinates(t.Attr); err != nil {
					return nil, err
				}
			}
		case xml.EndElement:
			depth--
		}
	}
	if depth != 0 {
		return nil, maperr.Malformed(fmt.Sprintf("offset %d", d.InputOffset()), "unclosed element", nil)
	}
	if roots == 0 {
		return nil, maperr.Malformed("offset 0", "no root element", nil)
	}
	return bounds, nil
}

func location(d *xml.Decoder, err error) string {
	var syn *xml.SyntaxError
	if errors.As(err, &syn) {
		return fmt.Sprintf("line %d", syn.Line)
	}
	return fmt.Sprintf("offset %d", d.InputOffset())
}

// requireCoordinates rejects a <node> without lat or lon. The object
// decoder would otherwise place it at (0, 0).
func requireCoordinates(attrs []xml.Attr) error {
	var (
		id             int64
		hasLat, hasLon bool
	)
	for _, a := range attrs {
		switch a.Name.Local {
		case "id":
			id, _ = strconv.ParseInt(a.Value, 10, 64)
		case "lat":
			hasLat = true
		case "lon":
			hasLon = true
		}
	}
	if !hasLat || !hasLon {
		return maperr.Schema("node", id, "missing lat/lon")
	}
	return nil
}

func parseBounds(attrs []xml.Attr) (*Bounds, error) {
	var b Bounds
	fields := map[string]*float64{
		"minlat": &b.MinLat, "minlon": &b.MinLon,
		"maxlat": &b.MaxLat, "maxlon": &b.MaxLon,
	}
	for _, a := range attrs {
		dst, ok := fields[a.Name.Local]
		if !ok {
			continue
		}
		v, err := strconv.ParseFloat(a.Value, 64)
		if err != nil {
			return nil, &maperr.Error{Kind: maperr.ErrSchemaViolation, Element: "bounds", Reason: a.Name.Local, Err: err}
		}
		*dst = v
	}
	if !geo.ValidLatLon(b.MinLat, b.MinLon) || !geo.ValidLatLon(b.MaxLat, b.MaxLon) {
		return nil, &maperr.Error{Kind: maperr.ErrSchemaViolation, Element: "bounds", Reason: "coordinates out of range"}
	}
	return &b, nil
}

func parseNode(n *osm.Node) (NodeRecord, error) {
	id := int64(n.ID)
	if id == 0 {
		return NodeRecord{}, maperr.Schema("node", 0, "missing id")
	}
	if !geo.ValidLatLon(n.Lat, n.Lon) {
		return NodeRecord{}, maperr.Schema("node", id, fmt.Sprintf("invalid position (%v, %v)", n.Lat, n.Lon))
	}

	rec := NodeRecord{ID: id, Lat: n.Lat, Lon: n.Lon}

	lx, ly := n.Tags.Find("local_x"), n.Tags.Find("local_y")
	if lx != "" || ly != "" {
		x, errX := strconv.ParseFloat(lx, 64)
		y, errY := strconv.ParseFloat(ly, 64)
		if errX != nil || errY != nil {
			return NodeRecord{}, maperr.Schema("node", id, "local_x and local_y must both be numbers")
		}
		rec.LocalX, rec.LocalY, rec.HasLocal = x, y, true
	}
	if ele := n.Tags.Find("ele"); ele != "" {
		v, err := strconv.ParseFloat(ele, 64)
		if err != nil {
			return NodeRecord{}, maperr.Schema("node", id, "ele is not a number")
		}
		rec.Ele = v
	}
	return rec, nil
}

func parseWay(w *osm.Way) (WayRecord, error) {
	id := int64(w.ID)
	if id == 0 {
		return WayRecord{}, maperr.Schema("way", 0, "missing id")
	}
	if len(w.Nodes) == 0 {
		return WayRecord{}, maperr.Schema("way", id, "no node references")
	}
	ids := make([]int64, len(w.Nodes))
	for i, wn := range w.Nodes {
		ids[i] = int64(wn.ID)
	}
	return WayRecord{
		ID:      id,
		Type:    wayType(w.Tags),
		Subtype: w.Tags.Find("subtype"),
		NodeIDs: ids,
	}, nil
}

func parseLanelet(r *osm.Relation) (LaneletRecord, error) {
	id := int64(r.ID)
	subtype, ok := laneletSubtype(r.Tags)
	if !ok {
		return LaneletRecord{}, maperr.Schema("lanelet", id, fmt.Sprintf("unknown subtype %q", r.Tags.Find("subtype")))
	}
	rec := LaneletRecord{
		ID:       id,
		Subtype:  subtype,
		OneWay:   oneWay(r.Tags),
		Location: r.Tags.Find("location"),
	}

	if v := r.Tags.Find("speed_limit"); v != "" {
		mps, err := parseSpeedLimit(v)
		if err != nil {
			return LaneletRecord{}, &maperr.Error{Kind: maperr.ErrSchemaViolation, Element: "lanelet", ID: id, Reason: "speed_limit", Err: err}
		}
		rec.SpeedLimit = mps
	}
	for _, t := range r.Tags {
		if p, ok := strings.CutPrefix(t.Key, "participant:"); ok && p != "" && t.Value == "yes" {
			rec.Participants = append(rec.Participants, p)
		}
	}

	var lefts, rights int
	for _, m := range r.Members {
		switch m.Role {
		case "left", "right":
			if m.Type != osm.TypeWay {
				return LaneletRecord{}, maperr.Schema("lanelet", id, fmt.Sprintf("%s boundary must be a way, got %s", m.Role, m.Type))
			}
			if m.Role == "left" {
				rec.Left = m.Ref
				lefts++
			} else {
				rec.Right = m.Ref
				rights++
			}
		case "regulatory_element":
			if m.Type != osm.TypeRelation {
				return LaneletRecord{}, maperr.Schema("lanelet", id, "regulatory_element member must be a relation")
			}
			rec.Regulatory = append(rec.Regulatory, m.Ref)
		case RoleSuccessor, RolePredecessor, RoleLeftNeighbor, RoleRightNeighbor:
			if m.Type != osm.TypeRelation {
				return LaneletRecord{}, maperr.Schema("lanelet", id, m.Role+" member must be a relation")
			}
			rec.Declared = append(rec.Declared, DeclaredEdge{Role: m.Role, Lanelet: m.Ref})
		}
	}
	if lefts != 1 || rights != 1 {
		return LaneletRecord{}, maperr.Schema("lanelet", id, fmt.Sprintf("want exactly one left and one right boundary, got %d and %d", lefts, rights))
	}
	return rec, nil
}

func parseRegulatory(r *osm.Relation) (RegulatoryRecord, error) {
	id := int64(r.ID)
	kind, ok := regulatoryKind(r.Tags)
	if !ok {
		return RegulatoryRecord{}, maperr.Schema("regulatory_element", id, fmt.Sprintf("unknown subtype %q", r.Tags.Find("subtype")))
	}
	rec := RegulatoryRecord{ID: id, Kind: kind, SignType: r.Tags.Find("sign_type")}

	for _, m := range r.Members {
		switch m.Role {
		case "refers":
			rec.Refers = append(rec.Refers, Member{Type: m.Type, Ref: m.Ref})
		case "ref_line":
			if m.Type != osm.TypeWay {
				return RegulatoryRecord{}, maperr.Schema("regulatory_element", id, "ref_line member must be a way")
			}
			rec.RefLines = append(rec.RefLines, m.Ref)
		case "cancel_line":
			if m.Type != osm.TypeWay {
				return RegulatoryRecord{}, maperr.Schema("regulatory_element", id, "cancel_line member must be a way")
			}
			rec.CancelLine = append(rec.CancelLine, m.Ref)
		case "right_of_way", "yield":
			if m.Type != osm.TypeRelation {
				return RegulatoryRecord{}, maperr.Schema("regulatory_element", id, m.Role+" member must be a lanelet")
			}
			if m.Role == "right_of_way" {
				rec.RightOfWay = append(rec.RightOfWay, m.Ref)
			} else {
				rec.Yield = append(rec.Yield, m.Ref)
			}
		}
	}
	if len(rec.Refers)+len(rec.RefLines)+len(rec.RightOfWay)+len(rec.Yield) == 0 {
		return RegulatoryRecord{}, maperr.Schema("regulatory_element", id, "no members")
	}
	return rec, nil
}

func parseArea(r *osm.Relation) AreaRecord {
	rec := AreaRecord{ID: int64(r.ID), Subtype: r.Tags.Find("subtype")}
	for _, m := range r.Members {
		if m.Type != osm.TypeWay {
			continue
		}
		switch m.Role {
		case "outer":
			rec.Outer = append(rec.Outer, m.Ref)
		case "inner":
			rec.Inner = append(rec.Inner, m.Ref)
		}
	}
	return rec
}
