package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/stenvall/tilecache/internal/cache/persistent"
	"github.com/stenvall/tilecache/internal/core/config"
	"github.com/stenvall/tilecache/internal/core/health"
	"github.com/stenvall/tilecache/internal/core/httpclient"
	"github.com/stenvall/tilecache/internal/core/server"
	"github.com/stenvall/tilecache/internal/layer"
	"github.com/stenvall/tilecache/internal/logger"
	"github.com/stenvall/tilecache/internal/metrics"
	"github.com/stenvall/tilecache/internal/osm"
	"github.com/stenvall/tilecache/internal/tile"
)

var (
	Version  = "dev"
	Revision = ""
)

func main() {
	os.Exit(run())
}

func run() int {
	envFile := flag.String("env", ".env", "dotenv file to load before reading the environment")
	warm := flag.Int("warm", 0, "prefetch every tile of levels 0..N-1 at startup (max 5)")
	flag.Parse()

	cfg, err := config.Load(*envFile)
	if err != nil {
		// logger is not configured yet
		zl := logger.Build(logger.Config{Component: "tileproxy"}, os.Stderr)
		zl.Error().Err(err).Msg("invalid configuration")
		return 2
	}

	zl := logger.Build(logger.Config{
		Level:     cfg.LogLevel,
		Console:   cfg.LogConsole,
		SampleN:   cfg.LogSampleN,
		Component: "tileproxy",
	}, os.Stdout)
	appLog := logger.NewSlog(&zl)

	lyr, err := buildLayer(cfg, appLog)
	if err != nil {
		appLog.Error("layer setup failed", "err", err)
		return 1
	}
	defer func() {
		if err := lyr.Close(); err != nil {
			appLog.Warn("layer close", "err", err)
		}
	}()
	if err := lyr.Initialize(); err != nil {
		appLog.Error("layer initialize failed", "err", err)
		return 1
	}

	appLog.Info("starting tileproxy",
		"addr", cfg.Addr,
		"version", Version,
		"layer", lyr.LegendText(),
		"persistent", cfg.Cache.PersistentType,
		"memory_min", cfg.Cache.MemoryMin,
		"memory_max", cfg.Cache.MemoryMax)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var metricsHandler http.Handler = http.NotFoundHandler()
	if cfg.MetricsEnabled {
		p := metrics.Init(metrics.Config{Build: metrics.BuildInfo{Version: Version, Revision: Revision}})
		metricsHandler = p.Handler()
	}

	if *warm > 0 {
		go prefetch(ctx, lyr, *warm, appLog)
	}

	h := server.NewRouter(appLog, lyr, server.Options{
		Metrics: metricsHandler,
		Checks: []health.Check{{
			Name: "persistent",
			Fn: func(ctx context.Context) error {
				_, _, err := lyr.TileCache().Get(ctx, tile.Index{})
				return err
			},
		}},
	})
	if err := server.Run(ctx, cfg.Addr, h, appLog); err != nil {
		appLog.Error("server exited", "err", err)
		return 1
	}
	appLog.Info("shutdown complete")
	return 0
}

func buildLayer(cfg config.Config, log *slog.Logger) (layer.Configuration, error) {
	ptype, err := persistent.ParseType(cfg.Cache.PersistentType)
	if err != nil {
		return nil, err
	}
	s := layer.Settings{
		MemoryCacheMin: cfg.Cache.MemoryMin,
		MemoryCacheMax: cfg.Cache.MemoryMax,
		PersistentType: ptype,
		MaxInFlight:    cfg.Fetch.MaxInFlight,
		FetchTimeout:   cfg.Fetch.Timeout,
		RedisAddr:      cfg.Redis.Addr,
		RedisTTL:       cfg.Redis.TTL,
	}
	opts := []layer.Option{
		layer.WithLogger(log),
		layer.WithHTTPClient(httpclient.NewOutbound(cfg.Fetch.Timeout)),
	}

	if cfg.Layer.IsCustom() {
		log.Info("custom tile server", "url", cfg.Layer.URL, "servers", cfg.Layer.Servers)
		c, err := layer.NewCustom(cfg.Cache.Root, cfg.Layer.Title, cfg.Layer.URL, cfg.Layer.Servers,
			cfg.Layer.MinLevel, cfg.Layer.MaxLevel, s, opts...)
		if err != nil {
			return nil, err
		}
		return c, nil
	}
	known, err := osm.ParseKnownServer(cfg.Layer.Server)
	if err != nil {
		return nil, err
	}
	k, err := layer.NewKnown(cfg.Cache.Root, known, cfg.Layer.APIKey, s, opts...)
	if err != nil {
		return nil, err
	}
	return k, nil
}
