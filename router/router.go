package router

import (
	"errors"
	"fmt"

	"git.fiblab.net/general/common/v2/mathutil"
	"git.fiblab.net/sim/traffic/network"
	"git.fiblab.net/sim/traffic/router/algo"
	"github.com/samber/lo"
)

var (
	// 起终点之间不存在有向通路
	ErrNoPathFound = errors.New("no path found")
)

type Route struct {
	Path []string `json:"path"` // 路口id序列
	Cost float64  `json:"estimated_travel_time"`
}

// Router 基于路网当前通行时间的最短路
// 每次查询都读取最新边权，不缓存结果
type Router struct {
	net *network.Network
}

func New(net *network.Network) *Router {
	return &Router{net: net}
}

// FindFastestPath Dijkstra求最快路径
func (r *Router) FindFastestPath(start, end string) (route *Route, err error) {
	// panic recover
	defer func() {
		if e := recover(); e != nil {
			route = nil
			err = fmt.Errorf("panic: FindFastestPath %v with input start=%v, end=%v", e, start, end)
			log.Errorln(err)
		}
	}()

	startNode, ok := r.net.NodeIndex(start)
	if !ok {
		return nil, fmt.Errorf("%w: start %s", network.ErrUnknownNode, start)
	}
	endNode, ok := r.net.NodeIndex(end)
	if !ok {
		return nil, fmt.Errorf("%w: end %s", network.ErrUnknownNode, end)
	}
	path, cost := r.net.Graph().ShortestPath(startNode, endNode)
	if path == nil || cost == mathutil.INF {
		log.Debugf("routing failed, no path between %v and %v", start, end)
		return nil, fmt.Errorf("%w: from %s to %s", ErrNoPathFound, start, end)
	}
	return &Route{
		Path: lo.Map(path, func(item algo.PathItem[string, network.RoadEdge], _ int) string {
			return item.NodeAttr
		}),
		Cost: cost,
	}, nil
}

// RoadsOf 路径上依次经过的路段
func RoadsOf(path []string) []network.RoadID {
	if len(path) < 2 {
		return nil
	}
	roads := make([]network.RoadID, 0, len(path)-1)
	for i := 0; i+1 < len(path); i++ {
		roads = append(roads, network.RoadID{From: path[i], To: path[i+1]})
	}
	return roads
}
