package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/mapfold/tileserv/internal/cache"
	_ "github.com/mapfold/tileserv/internal/cache/filestore"
	_ "github.com/mapfold/tileserv/internal/cache/redisstore"
	"github.com/mapfold/tileserv/internal/config"
	"github.com/mapfold/tileserv/internal/datasource"
	"github.com/mapfold/tileserv/internal/datasource/postgis"
	"github.com/mapfold/tileserv/internal/hotness"
	"github.com/mapfold/tileserv/internal/hotness/expdecay"
	"github.com/mapfold/tileserv/internal/invalidation"
	"github.com/mapfold/tileserv/internal/logger"
	"github.com/mapfold/tileserv/internal/observability"
	"github.com/mapfold/tileserv/internal/server"
	"github.com/mapfold/tileserv/internal/service"
	"github.com/mapfold/tileserv/internal/tileset"
)

var Version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "tileserv.toml", "path to the TOML configuration file")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(Version)
		return 0
	}

	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	zl := logger.Build(logger.Config{
		Level:     cfg.Log.Level,
		Console:   cfg.Log.Console,
		Component: "tileserv",
	}, os.Stdout)
	appLog := logger.NewSlog(&zl)

	observability.ExposeBuildInfo(Version)
	appLog.Info("starting tileserv",
		"addr", cfg.Webserver.Addr(),
		"version", Version,
		"tilesets", len(cfg.Tilesets),
		"cache", cfg.Cache.Driver())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tilesets, err := tileset.FromConfig(cfg)
	if err != nil {
		appLog.Error("resolve tilesets", "err", err)
		return 1
	}

	connCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	sources := make(map[string]datasource.Source, len(cfg.Datasources))
	for _, ds := range cfg.Datasources {
		src, err := postgis.New(connCtx, ds.Name, ds.DBConn, ds.PoolMaxConns, appLog)
		if err != nil {
			appLog.Error("connect datasource", "name", ds.Name, "err", err)
			return 1
		}
		defer src.Close()
		sources[ds.Name] = src
	}

	backend, err := cache.New(cfg.Cache, appLog)
	if err != nil {
		appLog.Error("cache setup failed", "err", err)
		return 1
	}
	store, err := cache.NewTiered(cfg.Cache.MemoryEntries, backend)
	if err != nil {
		appLog.Error("cache setup failed", "err", err)
		return 1
	}
	defer store.Close()

	hot := expdecay.New(cfg.Cache.HotHalfLife.Std())

	svc, err := service.New(tilesets, sources, store, service.Options{
		Logger:  appLog,
		Hotness: hot,
		Bands:   hotness.BandsFromConfig(cfg.Cache),
	})
	if err != nil {
		appLog.Error("service setup failed", "err", err)
		return 1
	}

	inv := invalidation.New(cfg.Invalidation, store, tilesets, invalidation.Options{
		Logger:   appLog,
		Register: prometheus.DefaultRegisterer,
		Hotness:  hot,
	})
	if err := inv.Start(ctx); err != nil {
		appLog.Error("invalidation setup failed", "err", err)
		return 1
	}
	defer inv.Stop()

	opts := server.Options{
		Logger:             appLog,
		Viewer:             cfg.Service.MVT.Viewer,
		CacheControlMaxAge: cfg.Webserver.CacheControlMaxAge,
		Static:             cfg.Webserver.Static,
	}
	if cfg.Invalidation.Enabled && cfg.Invalidation.Driver == "kafka" {
		opts.Readiness = inv
	}

	if err := server.Run(ctx, cfg.Webserver.Addr(), server.NewRouter(svc, opts), appLog); err != nil {
		appLog.Error("server exited with error", "err", err)
		return 1
	}
	appLog.Info("server stopped")
	return 0
}
