package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"killsense/internal/api"
	"killsense/internal/config"
	"killsense/internal/ingest"
	"killsense/internal/logging"
	"killsense/internal/model"
	"killsense/internal/normalize"
	"killsense/internal/pipeline"
	"killsense/internal/storage"
)

var version = "dev"

func main() {
	configPath := flag.String("config", os.Getenv("KILLSENSE_CONFIG"), "path to the YAML or JSON config file")
	showVersion := flag.Bool("version", false, "print the version and exit")
	flag.Parse()
	if *showVersion {
		fmt.Println(version)
		return
	}
	if err := run(config.ResolvePath(*configPath)); err != nil {
		fmt.Fprintln(os.Stderr, "killsense:", err)
		os.Exit(1)
	}
}

func run(path string) error {
	var (
		manager *config.Manager
		err     error
	)
	if path == "" {
		manager = config.NewStatic(config.DefaultConfig())
	} else if manager, err = config.NewManager(path); err != nil {
		return err
	}
	cfg := manager.Get()
	logger := logging.NewLogger(cfg.LogLevel)
	logger.Info("starting", "version", version, "config", path, "profiles", len(cfg.Profiles))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := storage.NewStore(cfg.Storage)
	if err != nil {
		return err
	}
	if store != nil {
		if err := store.Init(ctx); err != nil {
			_ = store.Close()
			return fmt.Errorf("storage init: %w", err)
		}
		logger.Info("storage enabled", "driver", cfg.Storage.Driver)
		defer store.Close()
	}

	deduper := ingest.NewDeduper(cfg.Ingest.Dedupe, logger)
	defer deduper.Close()

	pipe, err := pipeline.New(cfg, pipeline.Deps{Store: store, Deduper: deduper, Logger: logger})
	if err != nil {
		return err
	}
	defer func() {
		if err := pipe.Close(); err != nil {
			logger.Warn("pipeline close", "err", err)
		}
	}()

	pruner := storage.NewPruner(store, cfg.Storage.Retention, logger)
	if _, err := pruner.Schedule(ctx, cfg.Storage.PruneSchedule, pipe.Housekeeping); err != nil {
		return err
	}

	events := make(chan *model.Event, cfg.Ingest.ChannelBuffer)
	dec := normalize.NewDecoder(cfg.Universe.TypeGroups)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return pipe.Run(gctx, events, cfg.Pipeline.Workers)
	})
	g.Go(func() error {
		manager.Watch(gctx, 3*time.Second, func(next *config.Config) {
			if err := pipe.UpdateConfig(next); err != nil {
				logger.Error("config reload rejected", "err", err)
				return
			}
			logging.SetLevel(next.LogLevel)
			logger.Info("config reloaded", "profiles", pipe.Profiles())
		}, func(err error) {
			logger.Warn("config reload failed", "err", err)
		})
		return nil
	})

	ingest.StartREST(gctx, manager, dec, events, logger)
	ingest.StartTCPStream(gctx, manager, dec, events, logger)
	ingest.StartFileTail(gctx, manager, dec, events, logger)
	ingest.StartKafka(gctx, manager, dec, events, logger)
	api.Start(gctx, manager, pipe, store, logger, version)

	err = g.Wait()
	logger.Info("shutting down", "processed", pipe.Processed())
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
