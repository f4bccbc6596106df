package main

import (
	"context"
	"flag"
	"math/rand"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"connectrpc.com/connect"
	"github.com/sirupsen/logrus"
)

var (
	benchmarkCount = flag.Int("benchmark.count", 1000, "the random vehicle count for benchmark")
	benchmarkTicks = flag.Int("benchmark.ticks", 100, "the tick count for benchmark")
	benchmarkSeed  = flag.Int64("benchmark.seed", 0, "the seed for benchmark")
	benchmarkCPU   = flag.Int("benchmark.cpu", 1, "the cpu count for benchmark")
)

func runBenchmark(server *TrafficServer) {
	log.Logger.SetLevel(logrus.WarnLevel)
	intersections := server.sim.Intersections()
	if len(intersections) == 0 {
		log.Error("benchmark needs a map, use -map")
		return
	}
	// 设置随机种子
	e := rand.New(rand.NewSource(*benchmarkSeed))
	// 随机生成benchmarkCount个车辆路径请求，每个请求的起点和终点都是随机的
	reqs := make([]*connect.Request[VehicleRequest], *benchmarkCount)
	for i := 0; i < *benchmarkCount; i++ {
		reqs[i] = connect.NewRequest(&VehicleRequest{
			Start: intersections[e.Intn(len(intersections))].ID,
			End:   intersections[e.Intn(len(intersections))].ID,
		})
	}

	// 路径请求
	start := time.Now()
	var wg sync.WaitGroup
	var success atomic.Int32
	request := func(req *connect.Request[VehicleRequest]) {
		if _, err := server.RequestRoute(context.Background(), req); err != nil {
			log.Debug("benchmark request failed, err:", err)
			return
		}
		success.Add(1)
	}
	if *benchmarkCPU == 1 {
		for _, req := range reqs {
			request(req)
		}
	} else {
		// 设置cpu数量
		runtime.GOMAXPROCS(*benchmarkCPU)
		wg.Add(*benchmarkCount)
		for _, req := range reqs {
			go func(req *connect.Request[VehicleRequest]) {
				defer wg.Done()
				request(req)
			}(req)
		}
		wg.Wait()
	}
	routeCost := time.Since(start)

	// tick
	step := server.sim.Config().TickStep()
	start = time.Now()
	for i := 0; i < *benchmarkTicks; i++ {
		server.sim.AdvanceTick(step)
	}
	tickCost := time.Since(start)
	log.Error(
		"benchmark finished", "\n",
		"count:", *benchmarkCount, "\n",
		"route time:", routeCost, "\n",
		"route avg:", routeCost/time.Duration(max(1, *benchmarkCount)), "\n",
		"success:", success.Load(), "\n",
		"ticks:", *benchmarkTicks, "\n",
		"tick time:", tickCost, "\n",
		"tick avg:", tickCost/time.Duration(max(1, *benchmarkTicks)), "\n",
		"simulation time:", server.sim.Clock(), "\n",
	)
}
