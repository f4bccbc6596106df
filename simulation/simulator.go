// 交通仿真的核心状态：路网、车辆表、信号灯与仿真时钟
// 所有状态由Simulator内唯一的读写锁保护，对外操作与tick互斥执行
package simulation

import (
	"fmt"
	"sort"
	"sync/atomic"
	"time"

	"git.fiblab.net/sim/traffic/network"
	"git.fiblab.net/sim/traffic/router"
	"git.fiblab.net/sim/traffic/trafficlight"
	"github.com/google/uuid"
	"github.com/puzpuzpuz/xsync/v3"
	"github.com/samber/lo"
)

const (
	DEFAULT_TICK_INTERVAL   = time.Second
	DEFAULT_TIME_MULTIPLIER = 5.0
)

type Config struct {
	// 真实时间的tick间隔
	TickInterval time.Duration
	// 每秒真实时间对应的仿真秒数
	TimeMultiplier float64
	Signal         trafficlight.Config
}

func DefaultConfig() Config {
	return Config{
		TickInterval:   DEFAULT_TICK_INTERVAL,
		TimeMultiplier: DEFAULT_TIME_MULTIPLIER,
		Signal:         trafficlight.DefaultConfig(),
	}
}

// TickStep 每个tick推进的仿真秒数
func (c Config) TickStep() float64 {
	return c.TickInterval.Seconds() * c.TimeMultiplier
}

type Simulator struct {
	mu  *xsync.RBMutex
	cfg Config

	net      *network.Network
	router   *router.Router
	signals  *trafficlight.Controller
	vehicles map[string]*Vehicle
	clock    float64 // 仿真时间，单位：秒

	suspended atomic.Bool
}

func New(cfg Config) *Simulator {
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = DEFAULT_TICK_INTERVAL
	}
	if cfg.TimeMultiplier <= 0 {
		cfg.TimeMultiplier = DEFAULT_TIME_MULTIPLIER
	}
	net := network.New()
	return &Simulator{
		mu:       xsync.NewRBMutex(),
		cfg:      cfg,
		net:      net,
		router:   router.New(net),
		signals:  trafficlight.New(cfg.Signal, nil),
		vehicles: make(map[string]*Vehicle),
	}
}

func (s *Simulator) Config() Config {
	return s.cfg
}

// LoadMap 整体替换路网，同时清空车辆与仿真时钟
// 校验失败时保留原有全部状态
func (s *Simulator) LoadMap(m *network.Map) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.net.Load(m); err != nil {
		return err
	}
	if len(s.vehicles) > 0 {
		log.Infof("map reloaded, %d vehicles cleared", len(s.vehicles))
	}
	s.vehicles = make(map[string]*Vehicle)
	s.clock = 0
	s.signals.Invalidate()
	return nil
}

// 交通状态修改

func (s *Simulator) AdjustOccupancy(id network.RoadID, delta int) (network.Road, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, err := s.net.AdjustOccupancy(id, delta)
	if err != nil {
		return r, err
	}
	s.signals.Invalidate()
	return r, nil
}

// SetVehicleCount 外部观测的车辆数
// 仿真车辆仍按自身占用的路段增减，不与观测值对账
func (s *Simulator) SetVehicleCount(id network.RoadID, count int) (network.Road, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, err := s.net.SetVehicleCount(id, count)
	if err != nil {
		return r, err
	}
	s.signals.Invalidate()
	return r, nil
}

func (s *Simulator) SetCongestionOverride(id network.RoadID, level float64) (network.Road, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, err := s.net.SetCongestionOverride(id, level)
	if err != nil {
		return r, err
	}
	s.signals.Invalidate()
	return r, nil
}

// TrafficUpdate 一条人工交通观测，同时给出时以车辆数为准
type TrafficUpdate struct {
	Road         network.RoadID
	VehicleCount *int
	Congestion   *float64
}

type TrafficUpdateResult struct {
	Road network.RoadID `json:"road_id"`
	// 更新后的路段状态，失败时为nil
	Record *network.Road `json:"record,omitempty"`
	Err    error         `json:"-"`
}

// UpdateTraffic 批量应用交通观测，单条失败不影响其余条目
func (s *Simulator) UpdateTraffic(updates []TrafficUpdate) []TrafficUpdateResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	results := make([]TrafficUpdateResult, 0, len(updates))
	updated := false
	for _, u := range updates {
		var (
			r   network.Road
			err error
		)
		switch {
		case u.VehicleCount != nil:
			r, err = s.net.SetVehicleCount(u.Road, *u.VehicleCount)
		case u.Congestion != nil:
			r, err = s.net.SetCongestionOverride(u.Road, *u.Congestion)
		default:
			err = fmt.Errorf("road %v: neither vehicle count nor congestion given", u.Road)
		}
		if err != nil {
			log.Warnf("traffic update failed: %v", err)
			results = append(results, TrafficUpdateResult{Road: u.Road, Err: err})
			continue
		}
		updated = true
		results = append(results, TrafficUpdateResult{Road: u.Road, Record: &r})
	}
	if updated {
		s.signals.Invalidate()
	}
	return results
}

// 查询

func (s *Simulator) GetConditions() network.Conditions {
	token := s.mu.RLock()
	defer s.mu.RUnlock(token)
	return s.net.Snapshot()
}

func (s *Simulator) Road(id network.RoadID) (network.Road, error) {
	token := s.mu.RLock()
	defer s.mu.RUnlock(token)
	return s.net.Road(id)
}

func (s *Simulator) Intersections() []network.Intersection {
	token := s.mu.RLock()
	defer s.mu.RUnlock(token)
	return s.net.Intersections()
}

func (s *Simulator) FindFastestPath(start, end string) (*router.Route, error) {
	token := s.mu.RLock()
	defer s.mu.RUnlock(token)
	return s.router.FindFastestPath(start, end)
}

func (s *Simulator) Diagnostics() network.Diagnostics {
	token := s.mu.RLock()
	defer s.mu.RUnlock(token)
	return s.net.Diagnostics()
}

func (s *Simulator) Clock() float64 {
	token := s.mu.RLock()
	defer s.mu.RUnlock(token)
	return s.clock
}

// 车辆

// AddVehicle 在origin处新增Idle车辆，id为空时自动生成
// 车辆由之后的tick自动分配路径
func (s *Simulator) AddVehicle(id, origin, destination string) (Vehicle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, err := s.addVehicle(id, origin, destination)
	if err != nil {
		return Vehicle{}, err
	}
	return v.clone(), nil
}

func (s *Simulator) addVehicle(id, origin, destination string) (*Vehicle, error) {
	if id == "" {
		id = "veh_" + uuid.NewString()
	}
	if _, ok := s.vehicles[id]; ok {
		return nil, fmt.Errorf("%w: %s", ErrVehicleExists, id)
	}
	if !s.net.HasIntersection(origin) {
		return nil, fmt.Errorf("%w: origin %s", network.ErrUnknownNode, origin)
	}
	if !s.net.HasIntersection(destination) {
		return nil, fmt.Errorf("%w: destination %s", network.ErrUnknownNode, destination)
	}
	v := &Vehicle{
		ID:          id,
		Origin:      origin,
		Destination: destination,
		CurrentNode: origin,
		State:       Idle,
	}
	s.vehicles[id] = v
	log.Debugf("vehicle %s added at %s, destination %s", id, origin, destination)
	return v, nil
}

// AssignRoute 从车辆当前位置重新规划到终点的路径
func (s *Simulator) AssignRoute(id string) (Vehicle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.vehicles[id]
	if !ok {
		return Vehicle{}, fmt.Errorf("%w: %s", ErrVehicleNotFound, id)
	}
	s.release(v)
	err := s.assignRoute(v)
	return v.clone(), err
}

// RequestRoute 为车辆规划start到end的路径，车辆不存在时先创建
func (s *Simulator) RequestRoute(id, start, end string) (Vehicle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.vehicles[id]
	if !ok {
		var err error
		if v, err = s.addVehicle(id, start, end); err != nil {
			return Vehicle{}, err
		}
	} else {
		if !s.net.HasIntersection(start) {
			return Vehicle{}, fmt.Errorf("%w: start %s", network.ErrUnknownNode, start)
		}
		if !s.net.HasIntersection(end) {
			return Vehicle{}, fmt.Errorf("%w: end %s", network.ErrUnknownNode, end)
		}
		s.release(v)
		v.Origin = start
		v.Destination = end
		v.CurrentNode = start
	}
	err := s.assignRoute(v)
	return v.clone(), err
}

// Reroute 释放车辆占用的路段，从newStart（为nil或不存在时为当前位置）重新规划
func (s *Simulator) Reroute(id string, newStart *string) (Vehicle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.vehicles[id]
	if !ok {
		return Vehicle{}, fmt.Errorf("%w: %s", ErrVehicleNotFound, id)
	}
	s.release(v)
	if newStart != nil && *newStart != "" {
		if s.net.HasIntersection(*newStart) {
			v.CurrentNode = *newStart
		} else {
			log.Warnf("reroute vehicle %s: ignore unknown start %s", id, *newStart)
		}
	}
	err := s.assignRoute(v)
	return v.clone(), err
}

// 释放车辆占用的路段并回到Idle
func (s *Simulator) release(v *Vehicle) {
	if v.CurrentRoad != nil {
		if _, err := s.net.AdjustOccupancy(*v.CurrentRoad, -1); err != nil {
			log.Warnf("vehicle %s: release road %v failed: %v", v.ID, *v.CurrentRoad, err)
		}
		v.CurrentRoad = nil
		s.signals.Invalidate()
	}
	v.State = Idle
	v.clearPath()
}

// 调用前车辆不得占用路段
func (s *Simulator) assignRoute(v *Vehicle) error {
	if v.CurrentNode == "" || v.Destination == "" {
		v.State = Idle
		v.clearPath()
		return fmt.Errorf("%w: vehicle %s has no current node or destination", ErrInvalidRouteRequest, v.ID)
	}
	route, err := s.router.FindFastestPath(v.CurrentNode, v.Destination)
	if err != nil {
		v.State = Idle
		v.clearPath()
		return err
	}
	if !lo.EveryBy(router.RoadsOf(route.Path), s.net.HasRoad) {
		v.State = Idle
		v.clearPath()
		return fmt.Errorf("route %v of vehicle %s uses unknown roads", route.Path, v.ID)
	}
	v.Path = route.Path
	v.PathCost = route.Cost
	v.PathIndex = 0
	v.TimeOnRoad = 0
	if len(route.Path) == 1 {
		v.State = Arrived
		v.CurrentNode = v.Destination
	} else {
		v.State = OnRoute
	}
	log.Debugf("vehicle %s routed: %v, cost %.2f", v.ID, route.Path, route.Cost)
	return nil
}

func (s *Simulator) Vehicle(id string) (Vehicle, error) {
	token := s.mu.RLock()
	defer s.mu.RUnlock(token)
	v, ok := s.vehicles[id]
	if !ok {
		return Vehicle{}, fmt.Errorf("%w: %s", ErrVehicleNotFound, id)
	}
	return v.clone(), nil
}

// Vehicles 按id排序的全部车辆
func (s *Simulator) Vehicles() []Vehicle {
	token := s.mu.RLock()
	defer s.mu.RUnlock(token)
	return s.sortedVehicles()
}

func (s *Simulator) sortedVehicles() []Vehicle {
	ids := lo.Keys(s.vehicles)
	sort.Strings(ids)
	return lo.Map(ids, func(id string, _ int) Vehicle {
		return s.vehicles[id].clone()
	})
}

// 信号灯，读取时可能填充缓存，因此使用写锁

func (s *Simulator) SignalTimings(id string) (trafficlight.Plan, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.signals.Timings(s.net, id)
}

func (s *Simulator) AllSignalTimings() []trafficlight.Plan {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.signals.AllTimings(s.net)
}

type ActiveRoute struct {
	VehicleID string   `json:"vehicle_id"`
	Path      []string `json:"path"`
	// 分配路径时的预计用时，行驶过程中不更新
	Cost float64 `json:"estimated_travel_time"`
}

type SystemState struct {
	Routes         []ActiveRoute       `json:"routes"`
	TrafficLights  []trafficlight.Plan `json:"traffic_lights"`
	Vehicles       []Vehicle           `json:"vehicles"`
	SimulationTime float64             `json:"simulation_time"`
}

// State 系统整体状态的一致快照
func (s *Simulator) State() SystemState {
	s.mu.Lock()
	defer s.mu.Unlock()
	vehicles := s.sortedVehicles()
	routes := lo.FilterMap(vehicles, func(v Vehicle, _ int) (ActiveRoute, bool) {
		return ActiveRoute{VehicleID: v.ID, Path: v.Path, Cost: v.PathCost}, v.State == OnRoute && len(v.Path) > 0
	})
	return SystemState{
		Routes:         routes,
		TrafficLights:  s.signals.AllTimings(s.net),
		Vehicles:       vehicles,
		SimulationTime: s.clock,
	}
}
