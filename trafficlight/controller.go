// 按需求比例分配绿灯时间的自适应信号灯控制
// 每条驶入道路的需求分数默认为当前车辆数，周期时间按分数比例分配并截断到[MinGreen, MaxGreen]
// 截断后各道路绿灯时间之和不保证等于周期时间
package trafficlight

import (
	"fmt"
	"math"
	"sort"

	"git.fiblab.net/sim/traffic/network"
	"github.com/samber/lo"
)

const (
	DEFAULT_CYCLE_TIME = 90 // 单位：秒
	DEFAULT_MIN_GREEN  = 10
	DEFAULT_MAX_GREEN  = 60
)

type Config struct {
	CycleTime int
	MinGreen  int
	MaxGreen  int
}

func DefaultConfig() Config {
	return Config{
		CycleTime: DEFAULT_CYCLE_TIME,
		MinGreen:  DEFAULT_MIN_GREEN,
		MaxGreen:  DEFAULT_MAX_GREEN,
	}
}

// Scorer 驶入道路的需求分数，分数应非负
type Scorer func(road network.Road) float64

// OccupancyScore 以车辆数作为需求分数
func OccupancyScore(road network.Road) float64 {
	return float64(road.VehicleCount)
}

// Plan 一个路口的绿灯时间分配，驶入道路 -> 绿灯秒数
type Plan struct {
	IntersectionID string                 `json:"intersection_id"`
	GreenTimes     map[network.RoadID]int `json:"green_times"`
}

func (p Plan) clone() Plan {
	return Plan{IntersectionID: p.IntersectionID, GreenTimes: lo.Assign(p.GreenTimes)}
}

// Controller 惰性计算并缓存各路口的配时方案
// 任何影响交通状态的修改都应调用Invalidate，整体失效
// 不做并发控制，由持有者保证互斥
type Controller struct {
	cfg   Config
	score Scorer
	plans map[string]Plan
}

func New(cfg Config, score Scorer) *Controller {
	if score == nil {
		score = OccupancyScore
	}
	if cfg.MinGreen > cfg.MaxGreen {
		log.Warnf("min green %d > max green %d, use max green as min green", cfg.MinGreen, cfg.MaxGreen)
		cfg.MinGreen = cfg.MaxGreen
	}
	return &Controller{cfg: cfg, score: score, plans: make(map[string]Plan)}
}

func (c *Controller) Config() Config {
	return c.cfg
}

// Invalidate 丢弃全部缓存
func (c *Controller) Invalidate() {
	if len(c.plans) > 0 {
		c.plans = make(map[string]Plan)
	}
}

// Timings 单个路口的配时方案，无驶入道路时返回空方案
func (c *Controller) Timings(net *network.Network, id string) (Plan, error) {
	if !net.HasIntersection(id) {
		return Plan{}, fmt.Errorf("%w: %s", network.ErrUnknownNode, id)
	}
	if p, ok := c.plans[id]; ok {
		return p.clone(), nil
	}
	p := c.compute(net, id)
	c.plans[id] = p
	return p.clone(), nil
}

// AllTimings 所有有驶入道路的路口的配时方案，按路口id排序
func (c *Controller) AllTimings(net *network.Network) []Plan {
	plans := make([]Plan, 0)
	for _, in := range net.Intersections() {
		p, err := c.Timings(net, in.ID)
		if err != nil {
			log.Errorf("get timings of intersection %s failed: %v", in.ID, err)
			continue
		}
		if len(p.GreenTimes) > 0 {
			plans = append(plans, p)
		}
	}
	return plans
}

func (c *Controller) compute(net *network.Network, id string) Plan {
	plan := Plan{IntersectionID: id, GreenTimes: make(map[network.RoadID]int)}
	incoming := net.IncomingRoads(id)
	if len(incoming) == 0 {
		return plan
	}
	sort.Slice(incoming, func(i, j int) bool { return incoming[i].From < incoming[j].From })

	scores := make(map[network.RoadID]float64, len(incoming))
	total := 0.
	for _, roadID := range incoming {
		road, err := net.Road(roadID)
		if err != nil {
			log.Warnf("intersection %s: %v", id, err)
			scores[roadID] = 0
			continue
		}
		// 负数、NaN与无穷大一律按0处理
		s := c.score(road)
		if !(s > 0) || math.IsInf(s, 1) {
			s = 0
		}
		scores[roadID] = s
		total += s
	}

	if total == 0 {
		// 无车时平均分配
		equal := c.clamp(c.cfg.CycleTime / len(incoming))
		for _, roadID := range incoming {
			plan.GreenTimes[roadID] = equal
		}
		return plan
	}
	for _, roadID := range incoming {
		green := int(float64(c.cfg.CycleTime) * scores[roadID] / total)
		plan.GreenTimes[roadID] = c.clamp(green)
	}
	return plan
}

func (c *Controller) clamp(green int) int {
	return lo.Clamp(green, c.cfg.MinGreen, c.cfg.MaxGreen)
}
