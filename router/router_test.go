package router_test

import (
	"testing"

	"git.fiblab.net/sim/traffic/network"
	"git.fiblab.net/sim/traffic/router"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newNetwork(t *testing.T, nodes []string, edges []network.RoadSpec) *network.Network {
	m := &network.Map{Edges: edges}
	for _, id := range nodes {
		m.Nodes = append(m.Nodes, network.IntersectionSpec{ID: id, Name: id})
	}
	n := network.New()
	require.NoError(t, n.Load(m))
	return n
}

func TestDirectEdge(t *testing.T) {
	n := newNetwork(t, []string{"A", "B"}, []network.RoadSpec{
		{Source: "A", Target: "B", BaseTravelTime: 7.5, Capacity: 10},
	})
	r := router.New(n)

	route, err := r.FindFastestPath("A", "B")
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B"}, route.Path)
	assert.Equal(t, 7.5, route.Cost)

	// 单向路
	_, err = r.FindFastestPath("B", "A")
	assert.ErrorIs(t, err, router.ErrNoPathFound)
}

func TestSameNode(t *testing.T) {
	n := newNetwork(t, []string{"A"}, nil)
	route, err := router.New(n).FindFastestPath("A", "A")
	require.NoError(t, err)
	assert.Equal(t, []string{"A"}, route.Path)
	assert.Equal(t, 0.0, route.Cost)
}

func TestUnknownNode(t *testing.T) {
	n := newNetwork(t, []string{"A", "B"}, []network.RoadSpec{
		{Source: "A", Target: "B", BaseTravelTime: 1},
	})
	r := router.New(n)
	_, err := r.FindFastestPath("X", "B")
	assert.ErrorIs(t, err, network.ErrUnknownNode)
	_, err = r.FindFastestPath("A", "Y")
	assert.ErrorIs(t, err, network.ErrUnknownNode)
}

func TestRouteFollowsCongestion(t *testing.T) {
	n := newNetwork(t, []string{"A", "B", "C", "D"}, []network.RoadSpec{
		{Source: "A", Target: "B", BaseTravelTime: 10, Capacity: 2},
		{Source: "B", Target: "D", BaseTravelTime: 10, Capacity: 2},
		{Source: "A", Target: "C", BaseTravelTime: 12, Capacity: 2},
		{Source: "C", Target: "D", BaseTravelTime: 12, Capacity: 2},
	})
	r := router.New(n)

	route, err := r.FindFastestPath("A", "D")
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B", "D"}, route.Path)
	assert.Equal(t, 20.0, route.Cost)

	// A-B拥堵后改走C
	_, err = n.AdjustOccupancy(network.RoadID{From: "A", To: "B"}, 2)
	require.NoError(t, err)
	route, err = r.FindFastestPath("A", "D")
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "C", "D"}, route.Path)
	assert.Equal(t, 24.0, route.Cost)

	// 拥堵消散后恢复
	_, err = n.AdjustOccupancy(network.RoadID{From: "A", To: "B"}, -2)
	require.NoError(t, err)
	route, err = r.FindFastestPath("A", "D")
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B", "D"}, route.Path)

	// 覆盖拥堵度同样影响路径
	_, err = n.SetCongestionOverride(network.RoadID{From: "B", To: "D"}, 1)
	require.NoError(t, err)
	route, err = r.FindFastestPath("A", "D")
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "C", "D"}, route.Path)
}

func TestRouteUsesReloadedMap(t *testing.T) {
	n := newNetwork(t, []string{"A", "B"}, []network.RoadSpec{
		{Source: "A", Target: "B", BaseTravelTime: 3},
	})
	r := router.New(n)
	require.NoError(t, n.Load(&network.Map{
		Nodes: []network.IntersectionSpec{{ID: "A"}, {ID: "B"}, {ID: "C"}},
		Edges: []network.RoadSpec{
			{Source: "A", Target: "C", BaseTravelTime: 1},
			{Source: "C", Target: "B", BaseTravelTime: 1},
		},
	}))
	route, err := r.FindFastestPath("A", "B")
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "C", "B"}, route.Path)
	assert.Equal(t, 2.0, route.Cost)
}

func TestRoadsOf(t *testing.T) {
	assert.Nil(t, router.RoadsOf([]string{"A"}))
	assert.Equal(t,
		[]network.RoadID{{From: "A", To: "B"}, {From: "B", To: "C"}},
		router.RoadsOf([]string{"A", "B", "C"}),
	)
}
