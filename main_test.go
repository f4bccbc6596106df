package main

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"connectrpc.com/connect"
	"git.fiblab.net/sim/traffic/network"
	"git.fiblab.net/sim/traffic/simulation"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// n x n网格，只有向右和向下的单向道路，部分路口互不可达
func gridMap(n int) *network.Map {
	m := &network.Map{}
	id := func(r, c int) string { return fmt.Sprintf("n%d_%d", r, c) }
	for r := 0; r < n; r++ {
		for c := 0; c < n; c++ {
			m.Nodes = append(m.Nodes, network.IntersectionSpec{ID: id(r, c), Name: id(r, c)})
			if c+1 < n {
				m.Edges = append(m.Edges, network.RoadSpec{Source: id(r, c), Target: id(r, c+1), BaseTravelTime: float64(1 + (r+c)%3), Capacity: 5})
			}
			if r+1 < n {
				m.Edges = append(m.Edges, network.RoadSpec{Source: id(r, c), Target: id(r+1, c), BaseTravelTime: float64(2 + (r*c)%2)})
			}
		}
	}
	return m
}

func newTestServer(t testing.TB) *TrafficServer {
	sim := simulation.New(simulation.DefaultConfig())
	require.NoError(t, sim.LoadMap(gridMap(6)))
	return NewTrafficServer(sim)
}

func FuzzRouter(f *testing.F) {
	server := newTestServer(f)
	f.Add(uint8(0), uint8(0), uint8(5), uint8(5))
	f.Add(uint8(5), uint8(5), uint8(0), uint8(0))
	f.Add(uint8(9), uint8(1), uint8(2), uint8(3))

	// 构造随机请求
	f.Fuzz(func(t *testing.T, startR, startC, endR, endC uint8) {
		req := &GetRouteRequest{
			Start: fmt.Sprintf("n%d_%d", startR%8, startC%8),
			End:   fmt.Sprintf("n%d_%d", endR%8, endC%8),
		}
		res, err := server.GetRoute(context.Background(), connect.NewRequest(req))
		// 有且只有一个是nil
		assert.True(t, (res == nil) != (err == nil))
		if err != nil {
			code := connect.CodeOf(err)
			assert.Contains(t, []connect.Code{connect.CodeNotFound, connect.CodeFailedPrecondition}, code)
			return
		}
		path := res.Msg.Path
		assert.Equal(t, req.Start, path[0])
		assert.Equal(t, req.End, path[len(path)-1])
		assert.GreaterOrEqual(t, res.Msg.Cost, 0.0)
	})
}

func TestServerErrorCodes(t *testing.T) {
	server := newTestServer(t)
	ctx := context.Background()

	_, err := server.LoadMap(ctx, connect.NewRequest(&network.Map{
		Nodes: []network.IntersectionSpec{{ID: "A"}, {ID: "A"}},
	}))
	assert.Equal(t, connect.CodeInvalidArgument, connect.CodeOf(err))

	_, err = server.GetRoute(ctx, connect.NewRequest(&GetRouteRequest{Start: "n0_0"}))
	assert.Equal(t, connect.CodeInvalidArgument, connect.CodeOf(err))
	_, err = server.GetRoute(ctx, connect.NewRequest(&GetRouteRequest{Start: "n0_0", End: "nowhere"}))
	assert.Equal(t, connect.CodeNotFound, connect.CodeOf(err))
	_, err = server.GetRoute(ctx, connect.NewRequest(&GetRouteRequest{Start: "n5_5", End: "n0_0"}))
	assert.Equal(t, connect.CodeFailedPrecondition, connect.CodeOf(err))

	_, err = server.AddVehicle(ctx, connect.NewRequest(&VehicleRequest{VehicleID: "v", Start: "n0_0", End: "n0_0"}))
	require.NoError(t, err)
	_, err = server.AddVehicle(ctx, connect.NewRequest(&VehicleRequest{VehicleID: "v", Start: "n0_0", End: "n0_0"}))
	assert.Equal(t, connect.CodeAlreadyExists, connect.CodeOf(err))

	_, err = server.GetVehicle(ctx, connect.NewRequest(&GetVehicleRequest{VehicleID: "missing"}))
	assert.Equal(t, connect.CodeNotFound, connect.CodeOf(err))
	_, err = server.Reroute(ctx, connect.NewRequest(&RerouteRequest{VehicleID: "missing"}))
	assert.Equal(t, connect.CodeNotFound, connect.CodeOf(err))

	// 反方向不可达，车辆保持Idle
	start := "n5_5"
	_, err = server.Reroute(ctx, connect.NewRequest(&RerouteRequest{VehicleID: "v", NewStart: &start}))
	assert.Equal(t, connect.CodeFailedPrecondition, connect.CodeOf(err))
	v, err := server.GetVehicle(ctx, connect.NewRequest(&GetVehicleRequest{VehicleID: "v"}))
	require.NoError(t, err)
	assert.Equal(t, simulation.Idle, v.Msg.State)
	assert.Equal(t, "n5_5", v.Msg.CurrentNode)

	_, err = server.GetSignalTimings(ctx, connect.NewRequest(&GetSignalTimingsRequest{IntersectionID: "nowhere"}))
	assert.Equal(t, connect.CodeNotFound, connect.CodeOf(err))
}

func TestUpdateTraffic(t *testing.T) {
	server := newTestServer(t)
	count := 10
	level := 0.5
	res, err := server.UpdateTraffic(context.Background(), connect.NewRequest(&UpdateTrafficRequest{
		Updates: []TrafficUpdate{
			{RoadID: "n0_0-n0_1", VehicleCount: &count},
			{RoadID: "bad"},
			{RoadID: "n0_1-n0_2", CongestionLevel: &level},
			{RoadID: "n0_1-n0_0", VehicleCount: &count},
		},
	}))
	require.NoError(t, err)
	details := res.Msg.Details
	require.Len(t, details, 4)
	assert.Equal(t, "updated", details[0].Status)
	require.NotNil(t, details[0].Road)
	assert.Equal(t, 10, details[0].Road.VehicleCount)
	assert.True(t, strings.HasPrefix(details[1].Status, "failed"))
	assert.Equal(t, "updated", details[2].Status)
	assert.True(t, details[2].Road.Overridden)
	assert.True(t, strings.HasPrefix(details[3].Status, "failed"))
	assert.Nil(t, details[3].Road)

	cond, err := server.GetConditions(context.Background(), connect.NewRequest(&GetConditionsRequest{}))
	require.NoError(t, err)
	assert.Len(t, cond.Msg.Roads, 60)
	assert.Equal(t, network.RoadID{From: "n0_0", To: "n0_1"}, cond.Msg.Roads[0].ID)
	assert.Equal(t, 10, cond.Msg.Roads[0].VehicleCount)
}

func TestConnectRoundTrip(t *testing.T) {
	server := newTestServer(t)
	mux := http.NewServeMux()
	server.Register(mux)
	ts := httptest.NewServer(mux)
	defer ts.Close()

	requestRoute := connect.NewClient[VehicleRequest, RequestRouteResponse](
		ts.Client(), ts.URL+procedure("RequestRoute"), connect.WithCodec(jsonCodec{}),
	)
	res, err := requestRoute.CallUnary(context.Background(), connect.NewRequest(&VehicleRequest{
		VehicleID: "v1", Start: "n0_0", End: "n0_2",
	}))
	require.NoError(t, err)
	assert.Equal(t, "v1", res.Msg.VehicleID)
	assert.Equal(t, []string{"n0_0", "n0_1", "n0_2"}, res.Msg.Path)
	assert.Equal(t, 3.0, res.Msg.Cost)

	_, err = requestRoute.CallUnary(context.Background(), connect.NewRequest(&VehicleRequest{
		VehicleID: "v2", Start: "n0_0", End: "nowhere",
	}))
	assert.Equal(t, connect.CodeNotFound, connect.CodeOf(err))

	getState := connect.NewClient[GetSystemStateRequest, simulation.SystemState](
		ts.Client(), ts.URL+procedure("GetSystemState"), connect.WithCodec(jsonCodec{}),
	)
	state, err := getState.CallUnary(context.Background(), connect.NewRequest(&GetSystemStateRequest{}))
	require.NoError(t, err)
	require.Len(t, state.Msg.Vehicles, 1)
	assert.Equal(t, simulation.OnRoute, state.Msg.Vehicles[0].State)
	require.Len(t, state.Msg.Routes, 1)
	assert.Equal(t, "v1", state.Msg.Routes[0].VehicleID)
	assert.NotEmpty(t, state.Msg.TrafficLights)
}

func TestSuspendResume(t *testing.T) {
	cfg := simulation.DefaultConfig()
	cfg.TickInterval = 5 * time.Millisecond
	sim := simulation.New(cfg)
	require.NoError(t, sim.LoadMap(gridMap(3)))
	server := NewTrafficServer(sim)
	mux := http.NewServeMux()
	server.Register(mux)
	ts := httptest.NewServer(mux)
	defer ts.Close()

	suspend := connect.NewClient[SimulationControlRequest, SimulationControlResponse](
		ts.Client(), ts.URL+procedure("Suspend"), connect.WithCodec(jsonCodec{}),
	)
	resume := connect.NewClient[SimulationControlRequest, SimulationControlResponse](
		ts.Client(), ts.URL+procedure("Resume"), connect.WithCodec(jsonCodec{}),
	)
	res, err := suspend.CallUnary(context.Background(), connect.NewRequest(&SimulationControlRequest{}))
	require.NoError(t, err)
	assert.True(t, res.Msg.Suspended)
	assert.True(t, server.sim.Suspended())

	// 暂停期间循环不推进时钟
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		server.sim.Run(ctx)
	}()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 0.0, server.sim.Clock())

	res, err = resume.CallUnary(context.Background(), connect.NewRequest(&SimulationControlRequest{}))
	require.NoError(t, err)
	assert.False(t, res.Msg.Suspended)
	assert.Eventually(t, func() bool { return server.sim.Clock() > 0 }, time.Second, time.Millisecond)
	cancel()
	<-done
}

func TestStateFeed(t *testing.T) {
	server := newTestServer(t)
	_, err := server.sim.RequestRoute("v", "n0_0", "n1_1")
	require.NoError(t, err)
	feed := NewStateFeed(server.sim, 10*time.Millisecond)
	ts := httptest.NewServer(feed)
	defer ts.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http"), nil)
	require.NoError(t, err)
	defer conn.Close()

	var state simulation.SystemState
	require.NoError(t, conn.ReadJSON(&state))
	require.Len(t, state.Vehicles, 1)
	assert.Equal(t, "v", state.Vehicles[0].ID)

	server.sim.AdvanceTick(1)
	assert.Eventually(t, func() bool {
		if err := conn.ReadJSON(&state); err != nil {
			return false
		}
		return state.SimulationTime == 1
	}, time.Second, time.Millisecond)

	feed.Close()
	conn.SetReadDeadline(time.Now().Add(time.Second))
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			assert.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway), err.Error())
			break
		}
	}
}

func TestNewPath(t *testing.T) {
	p, err := NewPath("")
	require.NoError(t, err)
	assert.Nil(t, p)

	file := filepath.Join(t.TempDir(), "city.json")
	require.NoError(t, os.WriteFile(file, []byte(`{"nodes":[{"id":"A","name":"A"}],"edges":[]}`), 0o644))
	p, err = NewPath(file)
	require.NoError(t, err)
	assert.Equal(t, file, p.File)
	m, err := p.Load(context.Background(), sourceOptions{})
	require.NoError(t, err)
	assert.Len(t, m.Nodes, 1)

	p, err = NewPath("bolt://localhost:7687")
	require.NoError(t, err)
	assert.Equal(t, "bolt://localhost:7687", p.Neo4j)

	p, err = NewPath("city.map")
	require.NoError(t, err)
	assert.Equal(t, &Path{DB: "city", Coll: "map"}, p)
	_, err = p.Load(context.Background(), sourceOptions{})
	assert.Error(t, err)

	_, err = NewPath("a.b.c")
	assert.Error(t, err)
}
