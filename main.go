package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"git.fiblab.net/sim/traffic/simulation"
	"git.fiblab.net/sim/traffic/trafficlight"
	easy "git.fiblab.net/utils/logrus-easy-formatter"
	"github.com/rs/cors"
	"github.com/sirupsen/logrus"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
)

var (
	// 配置信息
	mapPathStr    = flag.String("map", "", "map source, can be empty [format: {fspath} or {db}.{col} or neo4j://{host}:{port}]")
	mongoURI      = flag.String("mongo_uri", "", "mongo db uri")
	neo4jUser     = flag.String("neo4j_user", "neo4j", "neo4j username")
	neo4jPassword = flag.String("neo4j_password", "", "neo4j password")
	listenAddr    = flag.String("listen", "localhost:52101", "connect listening address")
	logLevel      = flag.String("log-level", "info", "log level [debug, info, warn, error, fatal, panic]")

	// 仿真
	tickInterval   = flag.Duration("tick", simulation.DEFAULT_TICK_INTERVAL, "real time between two ticks")
	timeMultiplier = flag.Float64("time-multiplier", simulation.DEFAULT_TIME_MULTIPLIER, "simulated seconds per real second")
	cycleTime      = flag.Int("tl.cycle_time", trafficlight.DEFAULT_CYCLE_TIME, "traffic light cycle time in seconds")
	minGreen       = flag.Int("tl.min_green", trafficlight.DEFAULT_MIN_GREEN, "minimum green time in seconds")
	maxGreen       = flag.Int("tl.max_green", trafficlight.DEFAULT_MAX_GREEN, "maximum green time in seconds")
	stopGrace      = flag.Duration("stop-grace", 5*time.Second, "max time to wait for the simulation loop to stop")

	// 性能测试
	benchmark = flag.Bool("benchmark", false, "benchmark mode")
	pprofAddr = flag.String("pprof", "localhost:52102", "pprof listening address")

	LOG_LEVELS = map[string]logrus.Level{
		"debug": logrus.DebugLevel,
		"info":  logrus.InfoLevel,
		"warn":  logrus.WarnLevel,
		"error": logrus.ErrorLevel,
		"fatal": logrus.FatalLevel,
		"panic": logrus.PanicLevel,
	}
)

func main() {
	logrus.SetFormatter(&easy.Formatter{
		TimestampFormat: "2006-01-02 15:04:05.0000",
		LogFormat:       "[%module%] [%time%] [%lvl%] %msg%\n",
	})
	flag.Parse()
	if level, ok := LOG_LEVELS[*logLevel]; ok {
		logrus.SetLevel(level)
	} else {
		logrus.Fatalf("invalid log level: %s", *logLevel)
	}

	sim := simulation.New(simulation.Config{
		TickInterval:   *tickInterval,
		TimeMultiplier: *timeMultiplier,
		Signal: trafficlight.Config{
			CycleTime: *cycleTime,
			MinGreen:  *minGreen,
			MaxGreen:  *maxGreen,
		},
	})

	mapPath, err := NewPath(*mapPathStr)
	if err != nil {
		logrus.Fatalf("invalid map path: %s", err)
	}
	if mapPath != nil {
		m, err := mapPath.Load(context.Background(), sourceOptions{
			mongoURI:      *mongoURI,
			neo4jUser:     *neo4jUser,
			neo4jPassword: *neo4jPassword,
		})
		if err != nil {
			log.Fatalf("failed to read map from %s: %v", mapPath, err)
		}
		if err := sim.LoadMap(m); err != nil {
			log.Fatalf("failed to load map from %s: %v", mapPath, err)
		}
	} else {
		log.Info("no map source given, waiting for LoadMap")
	}
	server := NewTrafficServer(sim)

	if *pprofAddr != "" {
		// 启动pprof
		startHTTPDebugger(*pprofAddr)
	}

	if *benchmark {
		// 性能测试
		runBenchmark(server)
		return
	}

	// 启动仿真循环
	ctx, cancel := context.WithCancel(context.Background())
	loopDone := make(chan struct{})
	go func() {
		defer close(loopDone)
		sim.Run(ctx)
	}()

	// 初始化connect服务端与状态推送
	feed := NewStateFeed(sim, sim.Config().TickInterval)
	mux := http.NewServeMux()
	server.Register(mux)
	mux.Handle("/ws", feed)

	addr := *listenAddr
	// 使用HTTP/2 w.o. TLS
	s := &http.Server{
		Addr:    addr,
		Handler: h2c.NewHandler(cors.AllowAll().Handler(mux), &http2.Server{}),
	}

	// 优雅退出
	// 创建监听退出chan
	signalCh := make(chan os.Signal, 1)
	//监听指定信号 ctrl+c kill
	signal.Notify(signalCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-signalCh
		log.Info("stopping...")
		go func() {
			<-signalCh
			os.Exit(1) // 强制结束
		}()
		// 停止仿真循环，超时后不再等待
		cancel()
		select {
		case <-loopDone:
		case <-time.After(*stopGrace):
			log.Warnf("simulation loop did not stop in %v", *stopGrace)
		}
		feed.Close()
		s.Close()
	}()

	log.Infof("server listening at %v", s.Addr)
	if err := s.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatalf("failed to serve: %v", err)
	}
	time.Sleep(1 * time.Second) // 延迟等待"优雅退出"
	log.Info("traffic simulation closes")
}
