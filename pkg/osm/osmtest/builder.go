// Package osmtest builds Lanelet2 OSM XML documents from planar coordinates
// for tests.
package osmtest

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"strconv"

	"github.com/paulmach/orb"

	"github.com/azybler/lanegraph/pkg/geo"
)

// Origin is the projection origin used for generated documents.
var Origin = geo.ProjectionConfig{Family: geo.FamilyUTM, OriginLat: 49.0, OriginLon: 8.4}

type node struct {
	id       int64
	lat, lon float64
	x, y     float64
}

type way struct {
	id    int64
	nodes []int64
	tags  []string
}

// Member is a relation member.
type Member struct {
	Type string // "node", "way" or "relation"
	Ref  int64
	Role string
}

type relation struct {
	id      int64
	members []Member
	tags    []string
}

// Builder accumulates nodes, ways and relations. Ids are assigned
// sequentially starting at 1 and shared across element types.
type Builder struct {
	proj   geo.Projector
	nextID int64
	nodes  []node
	ways   []way
	rels   []relation
	relIdx map[int64]int

	// OmitLocal drops local_x/local_y tags from nodes.
	OmitLocal bool
	// Bounds emits a <bounds> element enclosing every node.
	Bounds bool
}

// New returns an empty builder projecting around Origin.
func New() *Builder {
	p, err := geo.NewProjector(Origin)
	if err != nil {
		panic(err)
	}
	return &Builder{proj: p, relIdx: make(map[int64]int)}
}

// NextID reserves an id, e.g. to reference a relation that is never added.
func (b *Builder) NextID() int64 {
	b.nextID++
	return b.nextID
}

// Node adds a node at planar position p.
func (b *Builder) Node(p orb.Point) int64 {
	lat, lon := b.proj.Unproject(p.X(), p.Y())
	id := b.NextID()
	b.nodes = append(b.nodes, node{id: id, lat: lat, lon: lon, x: p.X(), y: p.Y()})
	return id
}

// Way adds a way through new nodes at pts. tags are key, value pairs.
func (b *Builder) Way(pts []orb.Point, tags ...string) int64 {
	ids := make([]int64, len(pts))
	for i, p := range pts {
		ids[i] = b.Node(p)
	}
	return b.WayOf(ids, tags...)
}

// WayOf adds a way through existing nodes.
func (b *Builder) WayOf(nodeIDs []int64, tags ...string) int64 {
	id := b.NextID()
	if len(tags) == 0 {
		tags = []string{"type", "line_thin", "subtype", "solid"}
	}
	b.ways = append(b.ways, way{id: id, nodes: nodeIDs, tags: tags})
	return id
}

// Relation adds a relation.
func (b *Builder) Relation(tags []string, members ...Member) int64 {
	id := b.NextID()
	b.relIdx[id] = len(b.rels)
	b.rels = append(b.rels, relation{id: id, members: members, tags: tags})
	return id
}

// Lanelet adds a lanelet relation over existing boundary ways. Extra tags
// are appended after type=lanelet.
func (b *Builder) Lanelet(left, right int64, tags ...string) int64 {
	if len(tags) == 0 {
		tags = []string{"subtype", "road"}
	}
	return b.Relation(append([]string{"type", "lanelet"}, tags...),
		Member{Type: "way", Ref: left, Role: "left"},
		Member{Type: "way", Ref: right, Role: "right"},
	)
}

// LaneletPts adds a lanelet with fresh boundary ways.
func (b *Builder) LaneletPts(left, right []orb.Point, tags ...string) int64 {
	return b.Lanelet(b.Way(left), b.Way(right), tags...)
}

// AddMember appends a member to an existing relation.
func (b *Builder) AddMember(rel int64, m Member) {
	i, ok := b.relIdx[rel]
	if !ok {
		panic(fmt.Sprintf("osmtest: relation %d not found", rel))
	}
	b.rels[i].members = append(b.rels[i].members, m)
}

// Regulatory adds a regulatory element of subtype kind with a stop line
// way, and attaches it to the given lanelets.
func (b *Builder) Regulatory(kind string, refLine []orb.Point, lanelets ...int64) int64 {
	line := b.Way(refLine, "type", "stop_line")
	reg := b.Relation([]string{"type", "regulatory_element", "subtype", kind},
		Member{Type: "way", Ref: line, Role: "ref_line"},
	)
	for _, ll := range lanelets {
		b.AddMember(ll, Member{Type: "relation", Ref: reg, Role: "regulatory_element"})
	}
	return reg
}

// Bytes renders the document.
func (b *Builder) Bytes() []byte {
	var buf bytes.Buffer
	buf.WriteString(`<?xml version="1.0" encoding="UTF-8"?>` + "\n")
	buf.WriteString(`<osm version="0.6" generator="osmtest">` + "\n")
	if b.Bounds && len(b.nodes) > 0 {
		minLat, minLon := b.nodes[0].lat, b.nodes[0].lon
		maxLat, maxLon := minLat, minLon
		for _, n := range b.nodes[1:] {
			minLat, maxLat = min(minLat, n.lat), max(maxLat, n.lat)
			minLon, maxLon = min(minLon, n.lon), max(maxLon, n.lon)
		}
		fmt.Fprintf(&buf, `  <bounds minlat="%s" minlon="%s" maxlat="%s" maxlon="%s"/>`+"\n",
			ftoa(minLat), ftoa(minLon), ftoa(maxLat), ftoa(maxLon))
	}
	for _, n := range b.nodes {
		fmt.Fprintf(&buf, `  <node id="%d" visible="true" version="1" lat="%s" lon="%s">`, n.id, ftoa(n.lat), ftoa(n.lon))
		if !b.OmitLocal {
			writeTags(&buf, []string{"local_x", ftoa(n.x), "local_y", ftoa(n.y)})
		}
		buf.WriteString("</node>\n")
	}
	for _, w := range b.ways {
		fmt.Fprintf(&buf, `  <way id="%d" visible="true" version="1">`, w.id)
		for _, ref := range w.nodes {
			fmt.Fprintf(&buf, `<nd ref="%d"/>`, ref)
		}
		writeTags(&buf, w.tags)
		buf.WriteString("</way>\n")
	}
	for _, r := range b.rels {
		fmt.Fprintf(&buf, `  <relation id="%d" visible="true" version="1">`, r.id)
		for _, m := range r.members {
			fmt.Fprintf(&buf, `<member type="%s" ref="%d" role="%s"/>`, m.Type, m.Ref, escape(m.Role))
		}
		writeTags(&buf, r.tags)
		buf.WriteString("</relation>\n")
	}
	buf.WriteString("</osm>\n")
	return buf.Bytes()
}

func writeTags(buf *bytes.Buffer, kv []string) {
	for i := 0; i+1 < len(kv); i += 2 {
		fmt.Fprintf(buf, `<tag k="%s" v="%s"/>`, escape(kv[i]), escape(kv[i+1]))
	}
}

func escape(s string) string {
	var buf bytes.Buffer
	_ = xml.EscapeText(&buf, []byte(s))
	return buf.String()
}

func ftoa(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// Straight returns points along y at the given xs.
func Straight(y float64, xs ...float64) []orb.Point {
	pts := make([]orb.Point, len(xs))
	for i, x := range xs {
		pts[i] = orb.Point{x, y}
	}
	return pts
}
