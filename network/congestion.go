package network

import (
	"math"

	"github.com/samber/lo"
)

const (
	// 未给出容量时的默认值
	DEFAULT_CAPACITY = 100

	// 车辆数达到容量时的拥堵度
	CAPACITY_CONGESTION = 0.6
	// 超出容量的比例达到该值时完全拥堵（即1.5倍容量）
	JAM_OVER_CAPACITY_RATIO = 0.5

	// 拥堵度不低于该值时使用固定惩罚
	SATURATED_CONGESTION   = 0.99
	CONGESTION_SENSITIVITY = 0.9
	MAX_PENALTY_FACTOR     = 20
)

// Congestion 由车辆数与容量计算拥堵度，结果在[0,1]内，对count单调不减
func Congestion(count, capacity int) float64 {
	if capacity <= 0 {
		if count > 0 {
			return 1
		}
		return 0
	}
	var c float64
	if count <= capacity {
		c = CAPACITY_CONGESTION * float64(count) / float64(capacity)
	} else {
		over := float64(count-capacity) / (JAM_OVER_CAPACITY_RATIO * float64(capacity))
		c = CAPACITY_CONGESTION + (1-CAPACITY_CONGESTION)*math.Min(1, over)
	}
	return lo.Clamp(c, 0, 1)
}

// PenaltyFactor 拥堵惩罚系数，不小于1
func PenaltyFactor(congestion float64) float64 {
	if congestion < SATURATED_CONGESTION {
		return 1 / (1 - CONGESTION_SENSITIVITY*congestion)
	}
	return MAX_PENALTY_FACTOR
}

// TravelTime 拥堵下的通行时间，不小于base
func TravelTime(base, congestion float64) float64 {
	return base * PenaltyFactor(congestion)
}

func newRoad(id RoadID, base float64, capacity int) *Road {
	return &Road{
		ID:             id,
		BaseTravelTime: base,
		Capacity:       capacity,
		TravelTime:     base,
	}
}

// 根据车辆数重算拥堵度与通行时间
func (r *Road) recompute() {
	r.Congestion = Congestion(r.VehicleCount, r.Capacity)
	r.Overridden = false
	r.TravelTime = TravelTime(r.BaseTravelTime, r.Congestion)
}

func (r *Road) override(level float64) {
	if math.IsNaN(level) {
		level = 0
	}
	r.Congestion = lo.Clamp(level, 0, 1)
	r.Overridden = true
	r.TravelTime = TravelTime(r.BaseTravelTime, r.Congestion)
}
