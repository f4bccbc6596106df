package algo_test

import (
	"container/heap"
	"testing"

	"git.fiblab.net/sim/traffic/router/algo"
	"github.com/stretchr/testify/assert"
)

func TestPriorityQueue(t *testing.T) {
	pq := make(algo.PriorityQueue, 0)
	for _, v := range []int{4, 2, 1, 3} {
		heap.Push(&pq, &algo.Item{Value: v, Priority: float64(v)})
	}

	item := heap.Pop(&pq).(*algo.Item)
	assert.Equal(t, 1, item.Value)
	assert.Equal(t, 1.0, item.Priority)
	// 出堆后下标失效
	assert.Equal(t, -1, item.Index)
	item = heap.Pop(&pq).(*algo.Item)
	assert.Equal(t, 2, item.Value)
	assert.Equal(t, 2.0, item.Priority)
	assert.Equal(t, 2, pq.Len())
}

func TestPriorityQueueChangePriority(t *testing.T) {
	pq := make(algo.PriorityQueue, 0)
	items := make(map[int]*algo.Item)
	for _, v := range []int{4, 2, 1, 3} {
		items[v] = &algo.Item{Value: v, Priority: float64(v)}
		heap.Push(&pq, items[v])
	}

	// 降低Value==3的优先级，通过维护的Index直接Fix
	items[3].Priority = 0
	heap.Fix(&pq, items[3].Index)

	expected := []int{3, 1, 2, 4}
	for _, v := range expected {
		item := heap.Pop(&pq).(*algo.Item)
		assert.Equal(t, v, item.Value)
	}

	// 空堆
	assert.Equal(t, 0, pq.Len())
}
