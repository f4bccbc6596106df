package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"connectrpc.com/connect"
	"git.fiblab.net/sim/traffic/network"
	"git.fiblab.net/sim/traffic/router"
	"git.fiblab.net/sim/traffic/simulation"
	"git.fiblab.net/sim/traffic/trafficlight"
)

const TrafficServiceName = "city.traffic.v1.TrafficService"

// 请求与响应

type LoadMapResponse struct {
	Message       string `json:"message"`
	Intersections int    `json:"intersections"`
	Components    int    `json:"components"`
}

type TrafficUpdate struct {
	RoadID          string   `json:"road_id"`
	VehicleCount    *int     `json:"vehicle_count,omitempty"`
	CongestionLevel *float64 `json:"congestion_level,omitempty"`
}

type UpdateTrafficRequest struct {
	Updates []TrafficUpdate `json:"updates"`
}

type TrafficUpdateDetail struct {
	RoadID string        `json:"road_id"`
	Status string        `json:"status"`
	Road   *network.Road `json:"road,omitempty"`
}

type UpdateTrafficResponse struct {
	Details []TrafficUpdateDetail `json:"details"`
}

type GetConditionsRequest struct{}

type GetConditionsResponse struct {
	Roads []network.Road `json:"roads"`
}

type GetRouteRequest struct {
	Start string `json:"start_node_id"`
	End   string `json:"end_node_id"`
}

type GetRouteResponse struct {
	router.Route
}

type VehicleRequest struct {
	VehicleID string `json:"vehicle_id,omitempty"`
	Start     string `json:"start_node_id"`
	End       string `json:"end_node_id"`
}

type RequestRouteResponse struct {
	VehicleID string   `json:"vehicle_id"`
	Path      []string `json:"path"`
	Cost      float64  `json:"estimated_travel_time"`
}

type RerouteRequest struct {
	VehicleID string  `json:"vehicle_id"`
	NewStart  *string `json:"new_start_node_id,omitempty"`
}

type GetVehiclesRequest struct{}

type GetVehiclesResponse struct {
	Vehicles []simulation.Vehicle `json:"vehicles"`
}

type GetVehicleRequest struct {
	VehicleID string `json:"vehicle_id"`
}

type GetSignalTimingsRequest struct {
	// 为空时返回所有路口
	IntersectionID string `json:"intersection_id,omitempty"`
}

type GetSignalTimingsResponse struct {
	TrafficLights []trafficlight.Plan `json:"traffic_lights"`
}

type GetSystemStateRequest struct{}

// TrafficServer 交通仿真服务的接口层
type TrafficServer struct {
	sim *simulation.Simulator
}

func NewTrafficServer(sim *simulation.Simulator) *TrafficServer {
	return &TrafficServer{sim: sim}
}

// 核心错误到connect错误码
func toConnectError(err error) error {
	if err == nil {
		return nil
	}
	var code connect.Code
	switch {
	case errors.Is(err, network.ErrInvalidMap),
		errors.Is(err, simulation.ErrInvalidRouteRequest):
		code = connect.CodeInvalidArgument
	case errors.Is(err, network.ErrUnknownNode),
		errors.Is(err, network.ErrUnknownRoad),
		errors.Is(err, simulation.ErrVehicleNotFound):
		code = connect.CodeNotFound
	case errors.Is(err, simulation.ErrVehicleExists):
		code = connect.CodeAlreadyExists
	case errors.Is(err, router.ErrNoPathFound):
		code = connect.CodeFailedPrecondition
	default:
		code = connect.CodeInternal
	}
	return connect.NewError(code, err)
}

func (s *TrafficServer) LoadMap(
	ctx context.Context,
	req *connect.Request[network.Map],
) (*connect.Response[LoadMapResponse], error) {
	if err := s.sim.LoadMap(req.Msg); err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(&LoadMapResponse{
		Message:       "city map loaded, existing vehicles cleared",
		Intersections: len(req.Msg.Nodes),
		Components:    s.sim.Diagnostics().Components,
	}), nil
}

func (s *TrafficServer) UpdateTraffic(
	ctx context.Context,
	req *connect.Request[UpdateTrafficRequest],
) (*connect.Response[UpdateTrafficResponse], error) {
	in := req.Msg
	details := make([]TrafficUpdateDetail, len(in.Updates))
	updates := make([]simulation.TrafficUpdate, 0, len(in.Updates))
	// updates中的下标 -> details中的下标
	positions := make([]int, 0, len(in.Updates))
	for i, u := range in.Updates {
		details[i].RoadID = u.RoadID
		id, err := network.ParseRoadID(u.RoadID)
		if err != nil {
			details[i].Status = "failed: " + err.Error()
			continue
		}
		updates = append(updates, simulation.TrafficUpdate{
			Road:         id,
			VehicleCount: u.VehicleCount,
			Congestion:   u.CongestionLevel,
		})
		positions = append(positions, i)
	}
	for j, result := range s.sim.UpdateTraffic(updates) {
		d := &details[positions[j]]
		if result.Err != nil {
			d.Status = "failed: " + result.Err.Error()
			continue
		}
		d.Status = "updated"
		d.Road = result.Record
	}
	return connect.NewResponse(&UpdateTrafficResponse{Details: details}), nil
}

func (s *TrafficServer) GetConditions(
	ctx context.Context,
	req *connect.Request[GetConditionsRequest],
) (*connect.Response[GetConditionsResponse], error) {
	return connect.NewResponse(&GetConditionsResponse{Roads: s.sim.GetConditions().Sorted()}), nil
}

func (s *TrafficServer) GetRoute(
	ctx context.Context,
	req *connect.Request[GetRouteRequest],
) (*connect.Response[GetRouteResponse], error) {
	in := req.Msg
	if in.Start == "" || in.End == "" {
		return nil, connect.NewError(connect.CodeInvalidArgument, errors.New("start and end are required"))
	}
	log.Debugf("search route from %v to %v", in.Start, in.End)
	route, err := s.sim.FindFastestPath(in.Start, in.End)
	if err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(&GetRouteResponse{Route: *route}), nil
}

func (s *TrafficServer) AddVehicle(
	ctx context.Context,
	req *connect.Request[VehicleRequest],
) (*connect.Response[simulation.Vehicle], error) {
	in := req.Msg
	v, err := s.sim.AddVehicle(in.VehicleID, in.Start, in.End)
	if err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(&v), nil
}

func (s *TrafficServer) RequestRoute(
	ctx context.Context,
	req *connect.Request[VehicleRequest],
) (*connect.Response[RequestRouteResponse], error) {
	in := req.Msg
	v, err := s.sim.RequestRoute(in.VehicleID, in.Start, in.End)
	if err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(&RequestRouteResponse{
		VehicleID: v.ID,
		Path:      v.Path,
		Cost:      v.PathCost,
	}), nil
}

func (s *TrafficServer) Reroute(
	ctx context.Context,
	req *connect.Request[RerouteRequest],
) (*connect.Response[simulation.Vehicle], error) {
	in := req.Msg
	v, err := s.sim.Reroute(in.VehicleID, in.NewStart)
	if err != nil {
		if errors.Is(err, simulation.ErrVehicleNotFound) {
			return nil, toConnectError(err)
		}
		// 车辆保持Idle，之后的tick会继续尝试
		return nil, toConnectError(fmt.Errorf("vehicle %s remains idle: %w", in.VehicleID, err))
	}
	return connect.NewResponse(&v), nil
}

func (s *TrafficServer) GetVehicles(
	ctx context.Context,
	req *connect.Request[GetVehiclesRequest],
) (*connect.Response[GetVehiclesResponse], error) {
	return connect.NewResponse(&GetVehiclesResponse{Vehicles: s.sim.Vehicles()}), nil
}

func (s *TrafficServer) GetVehicle(
	ctx context.Context,
	req *connect.Request[GetVehicleRequest],
) (*connect.Response[simulation.Vehicle], error) {
	v, err := s.sim.Vehicle(req.Msg.VehicleID)
	if err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(&v), nil
}

func (s *TrafficServer) GetSignalTimings(
	ctx context.Context,
	req *connect.Request[GetSignalTimingsRequest],
) (*connect.Response[GetSignalTimingsResponse], error) {
	id := req.Msg.IntersectionID
	if id == "" {
		return connect.NewResponse(&GetSignalTimingsResponse{TrafficLights: s.sim.AllSignalTimings()}), nil
	}
	plan, err := s.sim.SignalTimings(id)
	if err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(&GetSignalTimingsResponse{TrafficLights: []trafficlight.Plan{plan}}), nil
}

func (s *TrafficServer) GetSystemState(
	ctx context.Context,
	req *connect.Request[GetSystemStateRequest],
) (*connect.Response[simulation.SystemState], error) {
	state := s.sim.State()
	return connect.NewResponse(&state), nil
}

type SimulationControlRequest struct{}

type SimulationControlResponse struct {
	Suspended      bool    `json:"suspended"`
	SimulationTime float64 `json:"simulation_time"`
}

func (s *TrafficServer) controlResponse() *connect.Response[SimulationControlResponse] {
	return connect.NewResponse(&SimulationControlResponse{
		Suspended:      s.sim.Suspended(),
		SimulationTime: s.sim.Clock(),
	})
}

// 暂停仿真，期间的tick被跳过，查询与修改接口仍可用
func (s *TrafficServer) Suspend(
	ctx context.Context,
	req *connect.Request[SimulationControlRequest],
) (*connect.Response[SimulationControlResponse], error) {
	s.sim.Suspend()
	log.Info("simulation suspended")
	return s.controlResponse(), nil
}

// 恢复仿真
func (s *TrafficServer) Resume(
	ctx context.Context,
	req *connect.Request[SimulationControlRequest],
) (*connect.Response[SimulationControlResponse], error) {
	s.sim.Resume()
	log.Info("simulation resumed")
	return s.controlResponse(), nil
}

func procedure(method string) string {
	return "/" + TrafficServiceName + "/" + method
}

func unary[Req, Res any](
	mux *http.ServeMux,
	method string,
	fn func(context.Context, *connect.Request[Req]) (*connect.Response[Res], error),
) {
	path := procedure(method)
	mux.Handle(path, connect.NewUnaryHandler(path, fn, connect.WithCodec(jsonCodec{})))
}

// Register 注册所有接口，路径为/city.traffic.v1.TrafficService/{Method}
func (s *TrafficServer) Register(mux *http.ServeMux) {
	unary(mux, "LoadMap", s.LoadMap)
	unary(mux, "UpdateTraffic", s.UpdateTraffic)
	unary(mux, "GetConditions", s.GetConditions)
	unary(mux, "GetRoute", s.GetRoute)
	unary(mux, "AddVehicle", s.AddVehicle)
	unary(mux, "RequestRoute", s.RequestRoute)
	unary(mux, "Reroute", s.Reroute)
	unary(mux, "GetVehicles", s.GetVehicles)
	unary(mux, "GetVehicle", s.GetVehicle)
	unary(mux, "GetSignalTimings", s.GetSignalTimings)
	unary(mux, "GetSystemState", s.GetSystemState)
	unary(mux, "Suspend", s.Suspend)
	unary(mux, "Resume", s.Resume)
}
