package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"edgesentry/internal/alerts"
	"edgesentry/internal/api"
	"edgesentry/internal/config"
	"edgesentry/internal/ingest"
	"edgesentry/internal/logging"
	"edgesentry/internal/model"
	"edgesentry/internal/pipeline"
	"edgesentry/internal/storage"
)

const version = "0.3.0"

func main() {
	configPath := flag.String("config", "", "path to yaml or json config file")
	flag.Parse()

	var manager *config.Manager
	if *configPath != "" {
		m, err := config.NewManager(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "load config: %v\n", err)
			os.Exit(1)
		}
		manager = m
	} else {
		manager = config.NewStaticManager(config.DefaultConfig())
	}
	cfg := manager.Get()

	logger := logging.NewLogger(cfg.LogLevel)
	logger.Info("starting", "version", version, "mode", cfg.Mode, "config", manager.Path())

	store, err := storage.NewStore(cfg.Storage)
	if err != nil {
		logger.Error("storage init failed", "err", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if store != nil {
		initCtx, initCancel := context.WithTimeout(ctx, 10*time.Second)
		if err := store.Init(initCtx); err != nil {
			initCancel()
			logger.Error("storage schema init failed", "err", err)
			os.Exit(1)
		}
		initCancel()
		defer store.Close()
	}

	alertsStore := alerts.NewStore(cfg.Alerts.StoreLimit)
	pipe := pipeline.New(cfg, logger, alertsStore, store)

	events := make(chan model.PerceptionEvent, cfg.Ingest.ChannelBuffer)
	pipe.Start(ctx, events)

	parser := ingest.NewParser()
	ingest.StartREST(ctx, manager, events, logger)
	ingest.StartSyslog(ctx, manager, parser, events, logger)
	ingest.StartTCPStream(ctx, manager, events, logger)
	ingest.StartFileTail(ctx, manager, parser, events, logger)
	ingest.StartKafka(ctx, manager, events, logger)

	api.Start(ctx, manager, pipe, alertsStore, logger, version)

	if manager.Path() != "" {
		go manager.Watch(3*time.Second,
			func(updated *config.Config) {
				pipe.UpdateConfig(updated)
				logger.Info("config reloaded", "path", manager.Path())
			},
			func(err error) {
				logger.Warn("config reload failed", "err", err)
			},
			ctx.Done(),
		)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("shutting down", "signal", sig.String())
	cancel()
	pipe.Flush()
}
