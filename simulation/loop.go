package simulation

import (
	"context"
	"time"
)

// Run 按TickInterval周期推进仿真，直到ctx取消
// 每个tick之间检查ctx，暂停期间跳过tick但不退出
func (s *Simulator) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()
	step := s.cfg.TickStep()
	log.Infof("simulation loop started: tick %v, %.1f simulated seconds per tick", s.cfg.TickInterval, step)
	for {
		select {
		case <-ctx.Done():
			log.Info("simulation loop stopped")
			return
		case <-ticker.C:
			if s.suspended.Load() {
				continue
			}
			s.AdvanceTick(step)
		}
	}
}

// 暂停仿真
func (s *Simulator) Suspend() {
	s.suspended.Store(true)
}

// 恢复仿真
func (s *Simulator) Resume() {
	s.suspended.Store(false)
}

func (s *Simulator) Suspended() bool {
	return s.suspended.Load()
}
