package network

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"git.fiblab.net/general/common/v2/geometry"
	"git.fiblab.net/sim/traffic/router/algo"
	"github.com/samber/lo"
)

// Network 路网：拓扑（搜索图）+ 每条路段的动态记录
// 不做并发控制，由持有者（simulation.Simulator）保证读写互斥
type Network struct {
	graph         *algo.SearchGraph[string, RoadEdge]
	index         map[string]int // intersection id -> graph node id
	intersections map[string]*Intersection
	roads         map[RoadID]*Road
	diag          Diagnostics
}

func New() *Network {
	n := &Network{
		index:         make(map[string]int),
		intersections: make(map[string]*Intersection),
		roads:         make(map[RoadID]*Road),
	}
	n.graph = algo.NewSearchGraph[string, RoadEdge](n)
	return n
}

// GetRuntimeEdgeWeight 搜索图边权：路段当前通行时间
// 只读路径，记录缺失时按自由流用时计算，不做修复
func (n *Network) GetRuntimeEdgeWeight(attr RoadEdge, length float64) float64 {
	if r, ok := n.roads[attr.ID]; ok {
		return r.TravelTime
	}
	return length
}

// Load 整体替换路网，校验失败时保留原路网
func (n *Network) Load(m *Map) error {
	if m == nil {
		return fmt.Errorf("%w: nil map", ErrInvalidMap)
	}
	graph := algo.NewSearchGraph[string, RoadEdge](n)
	index := make(map[string]int, len(m.Nodes))
	intersections := make(map[string]*Intersection, len(m.Nodes))
	for _, spec := range m.Nodes {
		if spec.ID == "" {
			return fmt.Errorf("%w: empty intersection id", ErrInvalidMap)
		}
		if strings.Contains(spec.ID, ROAD_ID_SEP) {
			// 路段标识以"起点-终点"形式对外暴露，路口id中不能出现分隔符
			return fmt.Errorf("%w: intersection id %q should not contain %q", ErrInvalidMap, spec.ID, ROAD_ID_SEP)
		}
		if _, ok := intersections[spec.ID]; ok {
			return fmt.Errorf("%w: duplicated intersection id %s", ErrInvalidMap, spec.ID)
		}
		in := &Intersection{ID: spec.ID, Name: spec.Name}
		if spec.X != nil && spec.Y != nil {
			in.Position = &geometry.Point{X: *spec.X, Y: *spec.Y}
		}
		intersections[spec.ID] = in
		index[spec.ID] = graph.InitNode(spec.ID)
	}
	roads := make(map[RoadID]*Road, len(m.Edges))
	for _, spec := range m.Edges {
		id := RoadID{From: spec.Source, To: spec.Target}
		from, ok := index[spec.Source]
		if !ok {
			return fmt.Errorf("%w: road %v references unknown intersection %s", ErrInvalidMap, id, spec.Source)
		}
		to, ok := index[spec.Target]
		if !ok {
			return fmt.Errorf("%w: road %v references unknown intersection %s", ErrInvalidMap, id, spec.Target)
		}
		if _, ok := roads[id]; ok {
			return fmt.Errorf("%w: duplicated road %v", ErrInvalidMap, id)
		}
		if !(spec.BaseTravelTime > 0) || math.IsInf(spec.BaseTravelTime, 0) {
			return fmt.Errorf("%w: road %v base travel time %v should be positive", ErrInvalidMap, id, spec.BaseTravelTime)
		}
		capacity := spec.Capacity
		if capacity < 0 {
			return fmt.Errorf("%w: road %v capacity %d should not be negative", ErrInvalidMap, id, capacity)
		}
		if capacity == 0 {
			capacity = DEFAULT_CAPACITY
		}
		graph.InitEdge(from, to, spec.BaseTravelTime, RoadEdge{ID: id, Capacity: capacity})
		roads[id] = newRoad(id, spec.BaseTravelTime, capacity)
	}

	n.graph = graph
	n.index = index
	n.intersections = intersections
	n.roads = roads
	n.diag = Diagnostics{
		Intersections: graph.NodeCount(),
		Roads:         graph.EdgeCount(),
		Components:    countComponents(graph),
	}
	log.Infof("map loaded: %d intersections, %d roads", n.diag.Intersections, n.diag.Roads)
	if n.diag.Components > 1 {
		log.Warnf("map has %d strongly connected components, some intersections are unreachable from others", n.diag.Components)
	}
	return nil
}

// 拓扑查询

func (n *Network) Graph() *algo.SearchGraph[string, RoadEdge] {
	return n.graph
}

func (n *Network) NodeIndex(id string) (int, bool) {
	i, ok := n.index[id]
	return i, ok
}

func (n *Network) HasIntersection(id string) bool {
	_, ok := n.intersections[id]
	return ok
}

func (n *Network) HasRoad(id RoadID) bool {
	from, ok := n.index[id.From]
	if !ok {
		return false
	}
	to, ok := n.index[id.To]
	if !ok {
		return false
	}
	return n.graph.HasEdge(from, to)
}

// 按id排序的全部路口
func (n *Network) Intersections() []Intersection {
	ids := lo.Keys(n.intersections)
	sort.Strings(ids)
	return lo.Map(ids, func(id string, _ int) Intersection {
		return *n.intersections[id]
	})
}

// 驶入路口的路段
func (n *Network) IncomingRoads(id string) []RoadID {
	i, ok := n.index[id]
	if !ok {
		return nil
	}
	return lo.Map(n.graph.Predecessors(i), func(from int, _ int) RoadID {
		return RoadID{From: n.graph.NodeAttr(from), To: id}
	})
}

func (n *Network) Diagnostics() Diagnostics {
	return n.diag
}

// 动态记录

// 写路径：拓扑中存在但记录缺失时，按拓扑中的属性重建
func (n *Network) record(id RoadID) (*Road, error) {
	from, okFrom := n.index[id.From]
	to, okTo := n.index[id.To]
	if !okFrom || !okTo {
		return nil, fmt.Errorf("%w: %v", ErrUnknownRoad, id)
	}
	base, attr, ok := n.graph.GetEdgeLengthAndAttr(from, to)
	if !ok {
		return nil, fmt.Errorf("%w: %v", ErrUnknownRoad, id)
	}
	if r, ok := n.roads[id]; ok {
		return r, nil
	}
	log.Warnf("%v: road %v, reinitialized with defaults", ErrMissingRecord, id)
	r := newRoad(id, base, attr.Capacity)
	n.roads[id] = r
	n.diag.HealedRecords++
	return r, nil
}

// 只读路径：记录缺失时返回默认值，不修改路网
func (n *Network) peek(id RoadID) (Road, error) {
	from, okFrom := n.index[id.From]
	to, okTo := n.index[id.To]
	if !okFrom || !okTo {
		return Road{}, fmt.Errorf("%w: %v", ErrUnknownRoad, id)
	}
	base, attr, ok := n.graph.GetEdgeLengthAndAttr(from, to)
	if !ok {
		return Road{}, fmt.Errorf("%w: %v", ErrUnknownRoad, id)
	}
	if r, ok := n.roads[id]; ok {
		return *r, nil
	}
	log.Warnf("%v: road %v, reporting defaults", ErrMissingRecord, id)
	return *newRoad(id, base, attr.Capacity), nil
}

func (n *Network) Road(id RoadID) (Road, error) {
	return n.peek(id)
}

// AdjustOccupancy 路段车辆数增减delta，下限为0，并重算拥堵度与通行时间
func (n *Network) AdjustOccupancy(id RoadID, delta int) (Road, error) {
	r, err := n.record(id)
	if err != nil {
		return Road{}, err
	}
	r.VehicleCount = max(0, r.VehicleCount+delta)
	r.recompute()
	return *r, nil
}

// SetVehicleCount 外部观测的车辆数
func (n *Network) SetVehicleCount(id RoadID, count int) (Road, error) {
	r, err := n.record(id)
	if err != nil {
		return Road{}, err
	}
	r.VehicleCount = max(0, count)
	r.recompute()
	return *r, nil
}

// SetCongestionOverride 直接设置拥堵度，不修改车辆数
// 两者会暂时不一致，直到下一次车辆数变化按车辆数重算
func (n *Network) SetCongestionOverride(id RoadID, level float64) (Road, error) {
	r, err := n.record(id)
	if err != nil {
		return Road{}, err
	}
	r.override(level)
	return *r, nil
}

// TravelTime 路段当前需要的通行时间
func (n *Network) TravelTime(id RoadID) (float64, error) {
	r, err := n.record(id)
	if err != nil {
		return 0, err
	}
	return r.TravelTime, nil
}

// Conditions 路网状态快照，值拷贝
type Conditions struct {
	Roads map[RoadID]Road `json:"roads"`
}

// 按(From, To)排序
func (c Conditions) Sorted() []Road {
	roads := lo.Values(c.Roads)
	sort.Slice(roads, func(i, j int) bool {
		if roads[i].ID.From != roads[j].ID.From {
			return roads[i].ID.From < roads[j].ID.From
		}
		return roads[i].ID.To < roads[j].ID.To
	})
	return roads
}

func (n *Network) Snapshot() Conditions {
	c := Conditions{Roads: make(map[RoadID]Road, len(n.roads))}
	n.graph.ForEachEdge(func(from, to int, length float64, attr RoadEdge) {
		if r, ok := n.roads[attr.ID]; ok {
			c.Roads[attr.ID] = *r
		} else {
			log.Warnf("%v: road %v, reporting defaults", ErrMissingRecord, attr.ID)
			c.Roads[attr.ID] = *newRoad(attr.ID, length, attr.Capacity)
		}
	})
	return c
}
