package simulation

import (
	"errors"
	"fmt"

	"git.fiblab.net/sim/traffic/network"
)

var (
	// 车辆缺少路径规划所需的起点或终点
	ErrInvalidRouteRequest = errors.New("invalid route request")
	ErrVehicleNotFound     = errors.New("vehicle not found")
	ErrVehicleExists       = errors.New("vehicle already exists")
)

type VehicleState int

const (
	// 无路径，等待分配
	Idle VehicleState = iota
	// 沿路径行驶
	OnRoute
	// 到达终点，终态
	Arrived
)

func (s VehicleState) String() string {
	switch s {
	case Idle:
		return "idle"
	case OnRoute:
		return "on_route"
	case Arrived:
		return "arrived"
	default:
		return fmt.Sprintf("VehicleState(%d)", int(s))
	}
}

func (s VehicleState) MarshalText() ([]byte, error) {
	switch s {
	case Idle, OnRoute, Arrived:
		return []byte(s.String()), nil
	default:
		return nil, fmt.Errorf("invalid vehicle state %d", int(s))
	}
}

func (s *VehicleState) UnmarshalText(text []byte) error {
	switch string(text) {
	case "idle":
		*s = Idle
	case "on_route":
		*s = OnRoute
	case "arrived":
		*s = Arrived
	default:
		return fmt.Errorf("invalid vehicle state %q", string(text))
	}
	return nil
}

type Vehicle struct {
	ID          string `json:"id"`
	Origin      string `json:"origin"`
	Destination string `json:"destination"`
	CurrentNode string `json:"current_node"`
	// 当前占用的路段，计入该路段的车辆数
	CurrentRoad *network.RoadID `json:"current_road,omitempty"`
	Path        []string        `json:"path,omitempty"`
	// 分配路径时的预计用时
	PathCost   float64      `json:"path_cost,omitempty"`
	PathIndex  int          `json:"path_index"`
	TimeOnRoad float64      `json:"time_on_road"`
	State      VehicleState `json:"state"`
}

func (v *Vehicle) clone() Vehicle {
	c := *v
	if v.CurrentRoad != nil {
		road := *v.CurrentRoad
		c.CurrentRoad = &road
	}
	if v.Path != nil {
		c.Path = append([]string(nil), v.Path...)
	}
	return c
}

func (v *Vehicle) clearPath() {
	v.Path = nil
	v.PathCost = 0
	v.PathIndex = 0
	v.TimeOnRoad = 0
}

// 当前应行驶的路段，路径已走完时返回false
func (v *Vehicle) activeRoad() (network.RoadID, bool) {
	if v.PathIndex+1 >= len(v.Path) {
		return network.RoadID{}, false
	}
	return network.RoadID{From: v.Path[v.PathIndex], To: v.Path[v.PathIndex+1]}, true
}
