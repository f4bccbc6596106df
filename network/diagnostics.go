package network

import (
	"git.fiblab.net/sim/traffic/router/algo"
	"gonum.org/v1/gonum/graph/simple"
	"gonum.org/v1/gonum/graph/topo"
)

// 强连通分量个数，仅用于加载时的诊断日志
func countComponents(g *algo.SearchGraph[string, RoadEdge]) int {
	if g.NodeCount() == 0 {
		return 0
	}
	dg := simple.NewDirectedGraph()
	for i := 0; i < g.NodeCount(); i++ {
		dg.AddNode(simple.Node(i))
	}
	g.ForEachEdge(func(from, to int, _ float64, _ RoadEdge) {
		if from == to {
			// gonum simple图不支持自环，自环不影响连通性
			return
		}
		dg.SetEdge(simple.Edge{F: simple.Node(from), T: simple.Node(to)})
	})
	return len(topo.TarjanSCC(dg))
}
