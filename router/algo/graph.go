package algo

import (
	"container/heap"
	"math"

	"github.com/samber/lo"
	"github.com/sirupsen/logrus"
)

type node[T any] struct {
	attr T
}

type edge[T any] struct {
	v    float64 // 静态边权（自由流用时）
	attr T
}

// 边权提取函数，搜索时对每条边调用，返回当前的运行时边权
type IEdgeWeight[ET any] interface {
	GetRuntimeEdgeWeight(attr ET, length float64) float64
}

// SearchGraph 以下标寻址的有向图
// 拓扑在初始化之后不变，运行时边权由IEdgeWeight给出
// 本身不做并发控制，由持有者保证读写互斥
type SearchGraph[NT any, ET any] struct {
	// 邻接表，in node -> out node -> edge
	edges []map[int]edge[ET]
	// 入边表，out node -> in nodes
	inEdges [][]int
	nodes   []node[NT]
	// edge权值提取函数，nil表示直接使用静态边权
	w IEdgeWeight[ET]
}

func NewSearchGraph[NT any, ET any](w IEdgeWeight[ET]) *SearchGraph[NT, ET] {
	return &SearchGraph[NT, ET]{
		edges:   make([]map[int]edge[ET], 0),
		inEdges: make([][]int, 0),
		nodes:   make([]node[NT], 0),
		w:       w,
	}
}

func (g *SearchGraph[NT, ET]) InitNode(attr NT) int {
	g.nodes = append(g.nodes, node[NT]{attr: attr})
	g.edges = append(g.edges, make(map[int]edge[ET]))
	g.inEdges = append(g.inEdges, make([]int, 0))
	return len(g.nodes) - 1
}

func (g *SearchGraph[NT, ET]) InitEdge(from, to int, length float64, attr ET) {
	if from < 0 || from >= len(g.edges) || to < 0 || to >= len(g.edges) {
		logrus.Panicf("edge (%d,%d) out of node range %d", from, to, len(g.edges))
	}
	if _, ok := g.edges[from][to]; !ok {
		g.inEdges[to] = append(g.inEdges[to], from)
	}
	g.edges[from][to] = edge[ET]{v: length, attr: attr}
}

func (g *SearchGraph[NT, ET]) NodeCount() int {
	return len(g.nodes)
}

func (g *SearchGraph[NT, ET]) EdgeCount() int {
	return lo.SumBy(g.edges, func(m map[int]edge[ET]) int { return len(m) })
}

func (g *SearchGraph[NT, ET]) NodeAttr(id int) NT {
	return g.nodes[id].attr
}

func (g *SearchGraph[NT, ET]) HasEdge(from, to int) bool {
	if from < 0 || from >= len(g.edges) {
		return false
	}
	_, ok := g.edges[from][to]
	return ok
}

func (g *SearchGraph[NT, ET]) GetEdgeLengthAndAttr(from, to int) (float64, ET, bool) {
	if !g.HasEdge(from, to) {
		var zero ET
		return 0, zero, false
	}
	e := g.edges[from][to]
	return e.v, e.attr, true
}

// 入边邻居，按加边顺序
func (g *SearchGraph[NT, ET]) Predecessors(id int) []int {
	return append([]int(nil), g.inEdges[id]...)
}

// 遍历所有边
func (g *SearchGraph[NT, ET]) ForEachEdge(f func(from, to int, length float64, attr ET)) {
	for from, m := range g.edges {
		for to, e := range m {
			f(from, to, e.v, e.attr)
		}
	}
}

func (g *SearchGraph[NT, ET]) weight(e edge[ET]) float64 {
	if g.w == nil {
		return e.v
	}
	return g.w.GetRuntimeEdgeWeight(e.attr, e.v)
}

type PathItem[NT any, ET any] struct {
	NodeAttr NT
	EdgeAttr ET // 从本节点到下一节点的边，最后一项为零值
}

func (g *SearchGraph[NT, ET]) reconstructPath(cameFrom map[int]int, curNode int) []PathItem[NT, ET] {
	pathBeforeReversed := []PathItem[NT, ET]{{NodeAttr: g.nodes[curNode].attr}}
	for {
		from, ok := cameFrom[curNode]
		if !ok {
			break
		}
		attr := g.edges[from][curNode].attr
		curNode = from
		pathBeforeReversed = append(pathBeforeReversed, PathItem[NT, ET]{
			NodeAttr: g.nodes[curNode].attr,
			EdgeAttr: attr,
		})
	}
	return lo.Reverse(pathBeforeReversed)
}

// Dijkstra求最短路，边权必须为正
// 不可达时返回nil和+Inf
func (g *SearchGraph[NT, ET]) ShortestPath(start, end int) ([]PathItem[NT, ET], float64) {
	if start < 0 || start >= len(g.nodes) || end < 0 || end >= len(g.nodes) {
		logrus.Panicf("shortest path (%d,%d) out of node range %d", start, end, len(g.nodes))
	}
	if start == end {
		return []PathItem[NT, ET]{{NodeAttr: g.nodes[start].attr}}, 0
	}
	openSet := make(PriorityQueue, 1)
	openSetMap := make(map[int]*Item, 1) // openSet value -> openSet item
	closed := make(map[int]bool)
	cameFrom := make(map[int]int)
	gScore := map[int]float64{start: 0}
	openSet[0] = &Item{Value: start, Priority: 0, Index: 0}
	openSetMap[start] = openSet[0]
	heap.Init(&openSet)
	for openSet.Len() > 0 {
		cur := heap.Pop(&openSet).(*Item).Value
		if cur == end {
			return g.reconstructPath(cameFrom, cur), gScore[cur]
		}
		closed[cur] = true
		for neighbor, e := range g.edges[cur] {
			if closed[neighbor] {
				continue
			}
			gScoreTentative := gScore[cur] + g.weight(e)
			gScoreNeighbor, ok := gScore[neighbor]
			if !ok {
				gScoreNeighbor = math.Inf(1)
			}
			if gScoreTentative < gScoreNeighbor {
				cameFrom[neighbor] = cur
				gScore[neighbor] = gScoreTentative
				if ok {
					// 已在堆中，修改优先级
					openSetMap[neighbor].Priority = gScoreTentative
					heap.Fix(&openSet, openSetMap[neighbor].Index)
				} else {
					item := &Item{Value: neighbor, Priority: gScoreTentative}
					heap.Push(&openSet, item)
					openSetMap[neighbor] = item
				}
			}
		}
	}
	return nil, math.Inf(1)
}
