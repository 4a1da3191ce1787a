package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"facesignal/internal/alerts"
	"facesignal/internal/api"
	"facesignal/internal/config"
	"facesignal/internal/engine"
	"facesignal/internal/ingest"
	"facesignal/internal/logging"
	"facesignal/internal/metrics"
	"facesignal/internal/model"
	"facesignal/internal/storage"
)

var version = "dev"

func main() {
	configPath := flag.String("config", os.Getenv("FACESIGNAL_CONFIG"), "path to a YAML or JSON config file")
	watch := flag.Duration("watch", 3*time.Second, "config reload poll interval, 0 disables")
	flag.Parse()

	if err := run(*configPath, *watch); err != nil {
		fmt.Fprintf(os.Stderr, "facesignal: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string, watch time.Duration) error {
	manager, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	cfg := manager.Get()
	logger := logging.NewLogger(cfg.LogLevel)
	logger.Info("facesignal starting", "version", version, "config", manager.Path())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := storage.NewStore(cfg.Storage)
	if err != nil {
		return err
	}
	if store != nil {
		if err := store.Init(ctx); err != nil {
			return fmt.Errorf("init storage: %w", err)
		}
		defer store.Close()
		logger.Info("storage enabled", "driver", cfg.Storage.Driver)
	}

	metricsStore := metrics.NewStore(cfg.Metrics.StoreLimit)
	alertsStore := alerts.NewStore(cfg.Alerts.StoreLimit)
	var prom *metrics.Prometheus
	if cfg.Metrics.Prometheus {
		prom = metrics.NewPrometheus()
	}

	eng := engine.NewEngine(cfg, logger, metricsStore, alertsStore, store, engine.WithPrometheus(prom))
	frames := make(chan model.FrameEvent, cfg.Ingest.ChannelBuffer)
	eng.Start(ctx, frames)

	ingest.StartAll(ctx, ingest.NewPipeline(manager, frames, logger, prom.FrameDropped))
	api.Start(ctx, api.New(manager, metricsStore, alertsStore, prom, eng, logger, version))

	if watch > 0 && manager.Path() != "" {
		go manager.Watch(watch, func(next *config.Config) {
			logger.Info("config reloaded", "path", manager.Path())
			eng.UpdateConfig(next)
		}, func(err error) {
			logger.Warn("config reload failed", "err", err)
		}, ctx.Done())
	}

	<-ctx.Done()
	logger.Info("facesignal stopping")
	return nil
}

func loadConfig(path string) (*config.Manager, error) {
	if path == "" {
		cfg := config.DefaultConfig()
		if err := config.ApplyEnv(cfg); err != nil {
			return nil, err
		}
		if err := config.Validate(cfg); err != nil {
			return nil, err
		}
		return config.NewStaticManager(cfg), nil
	}
	manager, err := config.NewManager(config.ResolvePath(path))
	if err != nil {
		return nil, fmt.Errorf("load config %s: %w", path, err)
	}
	return manager, nil
}
