package simulation

import (
	"fmt"
	"math"
	"sort"

	"github.com/samber/lo"
)

// AdvanceTick 推进一个tick，dt为仿真秒数
// 对所有车辆的处理在同一临界区内完成，与其他修改操作互斥
func (s *Simulator) AdvanceTick(dt float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.advance(dt)
}

func (s *Simulator) advance(dt float64) {
	if !(dt > 0) || math.IsInf(dt, 1) {
		dt = 0
	}
	s.clock += dt

	ids := lo.Keys(s.vehicles)
	sort.Strings(ids)

	// 行驶
	for _, id := range ids {
		v := s.vehicles[id]
		switch v.State {
		case OnRoute:
			if err := s.step(v, dt); err != nil {
				// 单辆车的错误不影响其余车辆
				log.Errorf("vehicle %s: %v", v.ID, err)
			}
		case Idle, Arrived:
		default:
			log.Errorf("vehicle %s: invalid state %v, reset to idle", v.ID, v.State)
			s.release(v)
		}
	}

	// 为等待中的车辆自动规划路径，失败的车辆下一个tick重试
	for _, id := range ids {
		v := s.vehicles[id]
		switch v.State {
		case Idle:
			if v.Destination == v.CurrentNode {
				continue
			}
			if err := s.assignRoute(v); err != nil {
				log.Debugf("vehicle %s: auto routing failed: %v", v.ID, err)
			}
		case OnRoute, Arrived:
		}
	}

	s.signals.Invalidate()
}

// 单辆OnRoute车辆前进dt，每个tick至多跨越一个路段边界，剩余时间丢弃
func (s *Simulator) step(v *Vehicle, dt float64) error {
	active, ok := v.activeRoad()
	if !ok {
		// 路径已走完但未标记到达
		s.arrive(v)
		return nil
	}
	if !s.net.HasRoad(active) {
		// 路段已不在路网中，释放后等待重新规划
		s.release(v)
		return fmt.Errorf("road %v of path no longer exists, vehicle reset to idle", active)
	}

	v.TimeOnRoad += dt

	// 首次进入该路段：离开上一路段并占用当前路段，两步必须成对完成
	if v.CurrentRoad == nil || *v.CurrentRoad != active {
		if v.CurrentRoad != nil {
			if _, err := s.net.AdjustOccupancy(*v.CurrentRoad, -1); err != nil {
				log.Warnf("vehicle %s: leave road %v failed: %v", v.ID, *v.CurrentRoad, err)
			}
			v.CurrentRoad = nil
		}
		if _, err := s.net.AdjustOccupancy(active, 1); err != nil {
			s.release(v)
			return fmt.Errorf("enter road %v failed: %w", active, err)
		}
		road := active
		v.CurrentRoad = &road
		v.CurrentNode = active.From
	}

	// 其他车辆的进出会改变通行时间，每个tick重新读取
	required, err := s.net.TravelTime(active)
	if err != nil {
		s.release(v)
		return fmt.Errorf("read travel time of road %v failed: %w", active, err)
	}
	if v.TimeOnRoad < required {
		return nil
	}

	// 驶完当前路段
	v.PathIndex++
	v.CurrentNode = v.Path[v.PathIndex]
	v.TimeOnRoad = 0
	if _, err := s.net.AdjustOccupancy(active, -1); err != nil {
		log.Warnf("vehicle %s: leave road %v failed: %v", v.ID, active, err)
	}
	v.CurrentRoad = nil

	if v.PathIndex >= len(v.Path)-1 {
		s.arrive(v)
	}
	return nil
}

func (s *Simulator) arrive(v *Vehicle) {
	if v.CurrentRoad != nil {
		if _, err := s.net.AdjustOccupancy(*v.CurrentRoad, -1); err != nil {
			log.Warnf("vehicle %s: leave road %v failed: %v", v.ID, *v.CurrentRoad, err)
		}
		v.CurrentRoad = nil
	}
	v.State = Arrived
	v.CurrentNode = v.Destination
	log.Debugf("vehicle %s arrived at %s, simulation time %.1f", v.ID, v.Destination, s.clock)
}
