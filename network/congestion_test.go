package network_test

import (
	"testing"

	"git.fiblab.net/sim/traffic/network"
	"github.com/stretchr/testify/assert"
)

func TestCongestion(t *testing.T) {
	assert.Equal(t, 0.0, network.Congestion(0, 10))
	assert.InDelta(t, 0.3, network.Congestion(5, 10), 1e-9)
	assert.InDelta(t, 0.6, network.Congestion(10, 10), 1e-9)
	// 1.25倍容量：0.6 + 0.4 * 0.5
	assert.InDelta(t, 0.8, network.Congestion(25, 20), 1e-9)
	// 1.5倍容量及以上完全拥堵
	assert.InDelta(t, 1.0, network.Congestion(15, 10), 1e-9)
	assert.InDelta(t, 1.0, network.Congestion(1000, 10), 1e-9)

	// 容量非正的退化路段
	assert.Equal(t, 0.0, network.Congestion(0, 0))
	assert.Equal(t, 1.0, network.Congestion(1, 0))
	assert.Equal(t, 1.0, network.Congestion(3, -5))
}

func TestCongestionMonotonic(t *testing.T) {
	for _, capacity := range []int{-1, 0, 1, 2, 7, 100} {
		last := network.Congestion(0, capacity)
		for count := 1; count <= 400; count++ {
			c := network.Congestion(count, capacity)
			assert.GreaterOrEqual(t, c, last, "capacity=%d count=%d", capacity, count)
			assert.GreaterOrEqual(t, c, 0.0)
			assert.LessOrEqual(t, c, 1.0)
			last = c
		}
	}
}

func TestTravelTime(t *testing.T) {
	assert.Equal(t, 10.0, network.TravelTime(10, 0))
	assert.InDelta(t, 10/(1-0.45), network.TravelTime(10, 0.5), 1e-9)
	assert.InDelta(t, 10/(1-0.9*0.98), network.TravelTime(10, 0.98), 1e-9)
	// 饱和后固定20倍
	assert.Equal(t, 200.0, network.TravelTime(10, 0.99))
	assert.Equal(t, 200.0, network.TravelTime(10, 1))

	for c := 0.0; c <= 1.0; c += 0.01 {
		assert.GreaterOrEqual(t, network.PenaltyFactor(c), 1.0)
		assert.GreaterOrEqual(t, network.TravelTime(3, c), 3.0)
	}
}
