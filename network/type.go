package network

import (
	"errors"
	"fmt"
	"strings"

	"git.fiblab.net/general/common/v2/geometry"
)

var (
	// 地图拓扑不合法（重复id、引用不存在的路口、非法的边属性等）
	ErrInvalidMap = errors.New("invalid map")
	// 路口不存在
	ErrUnknownNode = errors.New("unknown intersection")
	// 路段不存在
	ErrUnknownRoad = errors.New("unknown road")
	// 拓扑中存在的路段缺少动态记录，会以默认值自动重建
	ErrMissingRecord = errors.New("missing road record")
)

// RoadID 有向路段的结构化标识
type RoadID struct {
	From string
	To   string
}

// 路段标识的分隔符，加载地图时禁止路口id包含该字符
const ROAD_ID_SEP = "-"

func (id RoadID) String() string {
	return id.From + ROAD_ID_SEP + id.To
}

// "A-B"形式，仅用于JSON/展示
func (id RoadID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

func (id *RoadID) UnmarshalText(text []byte) error {
	parsed, err := ParseRoadID(string(text))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// ParseRoadID 解析"A-B"形式的路段标识，只给外部接口层使用
func ParseRoadID(s string) (RoadID, error) {
	parts := strings.Split(s, ROAD_ID_SEP)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return RoadID{}, fmt.Errorf("invalid road id format: %q", s)
	}
	return RoadID{From: parts[0], To: parts[1]}, nil
}

// 地图输入：路口
type IntersectionSpec struct {
	ID   string   `json:"id" yaml:"id" bson:"id"`
	Name string   `json:"name" yaml:"name" bson:"name"`
	X    *float64 `json:"x,omitempty" yaml:"x,omitempty" bson:"x,omitempty"`
	Y    *float64 `json:"y,omitempty" yaml:"y,omitempty" bson:"y,omitempty"`
}

// 地图输入：有向路段
type RoadSpec struct {
	Source         string  `json:"source" yaml:"source" bson:"source"`
	Target         string  `json:"target" yaml:"target" bson:"target"`
	BaseTravelTime float64 `json:"base_travel_time" yaml:"base_travel_time" bson:"base_travel_time"`
	Capacity       int     `json:"capacity,omitempty" yaml:"capacity,omitempty" bson:"capacity,omitempty"`
}

type Map struct {
	Nodes []IntersectionSpec `json:"nodes" yaml:"nodes"`
	Edges []RoadSpec         `json:"edges" yaml:"edges"`
}

type Intersection struct {
	ID       string          `json:"id"`
	Name     string          `json:"name"`
	Position *geometry.Point `json:"position,omitempty"` // 仅用于展示
}

// Road 路段的动态记录
type Road struct {
	ID             RoadID  `json:"road_id"`
	BaseTravelTime float64 `json:"base_travel_time"`
	Capacity       int     `json:"capacity"`
	VehicleCount   int     `json:"current_vehicles"`
	Congestion     float64 `json:"current_congestion"`
	TravelTime     float64 `json:"current_travel_time"`
	// 拥堵度来自人工覆盖而不是车辆数，下一次车辆数变化时清除
	Overridden bool `json:"overridden,omitempty"`
}

// RoadEdge 搜索图上的边属性
type RoadEdge struct {
	ID       RoadID
	Capacity int
}

type Diagnostics struct {
	Intersections int `json:"intersections"`
	Roads         int `json:"roads"`
	// 强连通分量个数，大于1说明存在互不可达的路口
	Components int `json:"components"`
	// 自动重建的路段记录数
	HealedRecords int `json:"healed_records"`
}
