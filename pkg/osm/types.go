package osm

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/paulmach/osm"
)

// LaneletSubtype is the closed set of lanelet kinds.
type LaneletSubtype uint8

const (
	SubtypeRoad LaneletSubtype = iota + 1
	SubtypeHighway
	SubtypePlayStreet
	SubtypeEmergencyLane
	SubtypeBusLane
	SubtypeBicycleLane
	SubtypeWalkway
	SubtypeSharedWalkway
	SubtypeCrosswalk
	SubtypeStairs
)

var laneletSubtypes = map[string]LaneletSubtype{
	"road":           SubtypeRoad,
	"highway":        SubtypeHighway,
	"play_street":    SubtypePlayStreet,
	"emergency_lane": SubtypeEmergencyLane,
	"bus_lane":       SubtypeBusLane,
	"bicycle_lane":   SubtypeBicycleLane,
	"walkway":        SubtypeWalkway,
	"shared_walkway": SubtypeSharedWalkway,
	"crosswalk":      SubtypeCrosswalk,
	"stairs":         SubtypeStairs,
}

func (s LaneletSubtype) String() string {
	for k, v := range laneletSubtypes {
		if v == s {
			return k
		}
	}
	return fmt.Sprintf("LaneletSubtype(%d)", uint8(s))
}

// Drivable reports whether motor vehicles may use the lanelet.
func (s LaneletSubtype) Drivable() bool {
	switch s {
	case SubtypeRoad, SubtypeHighway, SubtypePlayStreet, SubtypeEmergencyLane, SubtypeBusLane:
		return true
	}
	return false
}

// laneletSubtype returns the lanelet's subtype. A missing subtype tag means
// "road", matching Lanelet2's default.
func laneletSubtype(tags osm.Tags) (LaneletSubtype, bool) {
	v := tags.Find("subtype")
	if v == "" {
		return SubtypeRoad, true
	}
	st, ok := laneletSubtypes[v]
	return st, ok
}

// RegulatoryKind is the closed set of regulatory element kinds.
type RegulatoryKind uint8

const (
	KindTrafficLight RegulatoryKind = iota + 1
	KindTrafficSign
	KindSpeedLimit
	KindRightOfWay
	KindAllWayStop
	KindStopLine
	KindYield
)

var regulatoryKinds = map[string]RegulatoryKind{
	"traffic_light": KindTrafficLight,
	"traffic_sign":  KindTrafficSign,
	"speed_limit":   KindSpeedLimit,
	"right_of_way":  KindRightOfWay,
	"all_way_stop":  KindAllWayStop,
	"stop_line":     KindStopLine,
	"yield":         KindYield,
}

func (k RegulatoryKind) String() string {
	for name, v := range regulatoryKinds {
		if v == k {
			return name
		}
	}
	return fmt.Sprintf("RegulatoryKind(%d)", uint8(k))
}

func regulatoryKind(tags osm.Tags) (RegulatoryKind, bool) {
	k, ok := regulatoryKinds[tags.Find("subtype")]
	return k, ok
}

// WayType classifies line strings. Unknown types are kept as WayOther since
// ways only carry geometry.
type WayType uint8

const (
	WayOther WayType = iota
	WayLineThin
	WayLineThick
	WayCurbstone
	WayVirtual
	WayRoadBorder
	WayStopLine
	WayTrafficLight
	WayTrafficSign
	WayPedestrianMarking
	WayBikeMarking
	WayZebraMarking
	WayGuardRail
	WayFence
	WayWall
)

var wayTypes = map[string]WayType{
	"line_thin":          WayLineThin,
	"line_thick":         WayLineThick,
	"curbstone":          WayCurbstone,
	"virtual":            WayVirtual,
	"road_border":        WayRoadBorder,
	"stop_line":          WayStopLine,
	"traffic_light":      WayTrafficLight,
	"traffic_sign":       WayTrafficSign,
	"pedestrian_marking": WayPedestrianMarking,
	"bike_marking":       WayBikeMarking,
	"zebra_marking":      WayZebraMarking,
	"guard_rail":         WayGuardRail,
	"fence":              WayFence,
	"wall":               WayWall,
}

func wayType(tags osm.Tags) WayType {
	return wayTypes[tags.Find("type")]
}

// Passable reports whether vehicles may cross a boundary of this type when
// changing lanes. Lanelet2 treats dashed thin/thick lines and virtual lines
// as passable.
func (w WayType) Passable(subtype string) bool {
	switch w {
	case WayVirtual:
		return true
	case WayLineThin, WayLineThick:
		return strings.HasPrefix(subtype, "dashed")
	}
	return false
}

const kmhToMps = 1000.0 / 3600.0

// parseSpeedLimit converts a speed_limit tag into meters per second. A bare
// number is km/h.
func parseSpeedLimit(v string) (float64, error) {
	s := strings.ToLower(strings.TrimSpace(v))
	unit := kmhToMps
	for _, u := range []struct {
		suffix string
		factor float64
	}{
		{"km/h", kmhToMps},
		{"kmh", kmhToMps},
		{"kph", kmhToMps},
		{"mph", 1609.344 / 3600.0},
		{"m/s", 1},
		{"mps", 1},
	} {
		if strings.HasSuffix(s, u.suffix) {
			s = strings.TrimSpace(strings.TrimSuffix(s, u.suffix))
			unit = u.factor
			break
		}
	}
	n, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("speed limit %q: %w", v, err)
	}
	if n <= 0 || math.IsNaN(n) || math.IsInf(n, 0) {
		return 0, fmt.Errorf("speed limit %q must be positive and finite", v)
	}
	return n * unit, nil
}

// oneWay reports the lanelet's one_way tag; lanelets are one-way unless
// tagged otherwise.
func oneWay(tags osm.Tags) bool {
	switch tags.Find("one_way") {
	case "no", "false", "0":
		return false
	}
	return true
}
