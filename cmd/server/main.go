package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/Berto-e/spiderfy/internal/config"
	"github.com/Berto-e/spiderfy/internal/events"
	"github.com/Berto-e/spiderfy/internal/events/kafkaconsumer"
	"github.com/Berto-e/spiderfy/internal/health"
	"github.com/Berto-e/spiderfy/internal/hotness/expdecay"
	"github.com/Berto-e/spiderfy/internal/hotness/metricswrap"
	"github.com/Berto-e/spiderfy/internal/layerstore"
	"github.com/Berto-e/spiderfy/internal/logger"
	"github.com/Berto-e/spiderfy/internal/observability"
	"github.com/Berto-e/spiderfy/internal/refresh"
	"github.com/Berto-e/spiderfy/internal/resolve"
	"github.com/Berto-e/spiderfy/internal/server"
)

var Version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	addrFlag := flag.String("addr", "", "listen address (overrides ADDR)")
	redisFlag := flag.String("redis", "", "redis address (overrides REDIS_ADDR)")
	levelFlag := flag.String("log-level", "", "log level (overrides LOG_LEVEL)")
	eventsFlag := flag.Bool("events", false, "enable kafka layer events (overrides EVENTS_ENABLED)")
	flag.Parse()

	cfg := config.FromEnv()
	if *addrFlag != "" {
		cfg.Addr = *addrFlag
	}
	if *redisFlag != "" {
		cfg.RedisAddr = *redisFlag
	}
	if *levelFlag != "" {
		cfg.LogLevel = *levelFlag
	}
	if *eventsFlag {
		cfg.Events.Enabled = true
	}

	zl := logger.Build(logger.Config{
		Level:     cfg.LogLevel,
		Console:   cfg.LogConsole,
		SampleN:   cfg.LogSampleN,
		Service:   "spiderfy",
		Component: "server",
	}, os.Stdout)
	appLog := logger.NewSlog(&zl)

	observability.ExposeBuildInfo(observability.BuildInfo{
		Version:   Version,
		Revision:  os.Getenv("BUILD_REVISION"),
		Branch:    os.Getenv("BUILD_BRANCH"),
		BuildDate: os.Getenv("BUILD_DATE"),
	})
	appLog.Info("starting server",
		"addr", cfg.Addr,
		"version", Version,
		"redis", cfg.RedisAddr,
		"events", cfg.Events.Enabled)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	deps := []string{"redis"}
	if cfg.Events.Enabled {
		deps = append(deps, "kafka")
	}
	rep := health.NewReporter(deps...)

	var storeOpts []layerstore.Option
	if cfg.RedisPoolSize > 0 {
		storeOpts = append(storeOpts, layerstore.WithPoolSize(cfg.RedisPoolSize))
	}
	if cfg.StoreOpTimeout > 0 {
		storeOpts = append(storeOpts,
			layerstore.WithReadTimeout(cfg.StoreOpTimeout),
			layerstore.WithWriteTimeout(cfg.StoreOpTimeout))
	}
	client, err := layerstore.New(ctx, cfg.RedisAddr, storeOpts...)
	if err != nil {
		appLog.Error("redis connect failed", "err", err)
		return 1
	}
	defer func() { _ = client.Close() }()
	rep.SetReady("redis", true)

	points := layerstore.NewPointStore(client)
	layouts := layerstore.NewLayoutCache(client, cfg.LayoutTTL)

	hot := metricswrap.New(expdecay.New(cfg.HotHalfLife), cfg.HotThreshold, cfg.HotLogSample, zl)

	svcOpts := []resolve.Option{
		resolve.WithHotness(hot),
		resolve.WithLogger(zl),
		resolve.WithTTL(cfg.LayerTTL),
		resolve.WithMemoSize(cfg.MemoSize),
		resolve.WithDefaults(resolve.Params{Radius: cfg.DefaultRadius, Keyer: cfg.DefaultKeyer}),
	}

	if cfg.Events.Enabled {
		brokers := strings.Split(cfg.Events.Brokers, ",")
		pub, err := events.NewPublisher(brokers, cfg.Events.Topic, cfg.Events.QueueSize, zl)
		if err != nil {
			appLog.Error("kafka producer setup failed", "err", err)
			return 1
		}
		defer func() { _ = pub.Close() }()
		svcOpts = append(svcOpts, resolve.WithPublisher(pub))
		rep.SetReady("kafka", true)
	}

	svc, err := resolve.New(points, layouts, svcOpts...)
	if err != nil {
		appLog.Error("resolve service setup failed", "err", err)
		return 1
	}

	if cfg.Events.Enabled {
		cons := kafkaconsumer.New(kafkaconsumer.Config{
			Brokers: strings.Split(cfg.Events.Brokers, ","),
			Topic:   cfg.Events.Topic,
			GroupID: cfg.Events.GroupID,
		}, svc, hot, refresh.Simple{Threshold: cfg.HotThreshold, Warming: cfg.WarmHotLayers}, zl)
		go func() {
			if err := cons.Start(ctx); err != nil {
				appLog.Error("event consumer exited", "err", err)
			}
		}()
	}

	api, err := server.NewAPI(cfg, svc, appLog)
	if err != nil {
		appLog.Error("api setup failed", "err", err)
		return 1
	}

	if err := server.Run(ctx, cfg.Addr, appLog, api, rep); err != nil {
		appLog.Error("server exited with error", "err", err)
		return 1
	}
	appLog.Info("server stopped")
	return 0
}
