package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"

	"github.com/amarcin/village-units/internal/adapters/listings"
	"github.com/amarcin/village-units/internal/adapters/objectstore"
	"github.com/amarcin/village-units/internal/adapters/observability"
	redisad "github.com/amarcin/village-units/internal/adapters/redis"
	"github.com/amarcin/village-units/internal/app"
	"github.com/amarcin/village-units/internal/domain"
	"github.com/amarcin/village-units/internal/shared"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := shared.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("config")
	}

	// initialize global logger (console in dev, JSON otherwise)
	log.Logger = observability.NewLogger(cfg.AppEnv, cfg.LogLevel)
	observability.Serve(cfg.MetricsAddr)

	log.Info().
		Str("listings", cfg.ListingsURL).
		Str("location", cfg.SnapshotLocation).
		Int("workers", cfg.SnapshotWorkers).
		Str("schedule", cfg.SnapshotSchedule).
		Msg("snapshotter starting")

	term, err := listings.ParseTermination(cfg.ListingsTermination)
	if err != nil {
		log.Fatal().Err(err).Msg("listings termination")
	}
	client, err := listings.New(cfg.ListingsURL, listings.Options{
		PageSize:    cfg.ListingsPageSize,
		Termination: term,
		RPS:         cfg.ListingsRPS,
		Timeout:     cfg.ListingsTimeout,
		Location:    cfg.Location(),
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize listings client")
	}

	loc, err := objectstore.ParseLocation(cfg.SnapshotLocation)
	if err != nil {
		log.Fatal().Err(err).Msg("snapshot location")
	}
	store, err := objectstore.Open(ctx, loc, objectstore.S3Config{Region: cfg.AWSRegion, Endpoint: cfg.S3Endpoint})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open snapshot store")
	}

	// a shared redis lets the API see new files before its history TTL runs out
	var cache domain.Cache
	if cfg.RedisAddr != "" {
		rc := redisad.New(cfg.RedisAddr, cfg.RedisPass, cfg.RedisDB)
		defer rc.Close()
		if err := rc.Ping(ctx); err != nil {
			log.Warn().Err(err).Msg("redis unavailable, history cache will expire on its own")
		} else {
			cache = rc
		}
	}

	capture := app.NewCaptureService(client, store, loc.Prefix, cfg.SnapshotWorkers, cache, cfg.Location())
	run := func() {
		res, err := capture.Capture(ctx)
		if err != nil {
			log.Error().Err(err).Int("written", len(res.Keys)).Msg("capture failed")
			return
		}
		log.Info().Int("units", res.Units).Int("files", len(res.Keys)).Msg("capture completed")
	}

	if cfg.SnapshotSchedule == "" {
		run()
		return
	}

	c := cron.New(cron.WithLocation(cfg.Location()))
	if _, err := c.AddFunc(cfg.SnapshotSchedule, run); err != nil {
		log.Fatal().Err(err).Str("schedule", cfg.SnapshotSchedule).Msg("bad snapshot schedule")
	}
	c.Start()
	log.Info().Str("schedule", cfg.SnapshotSchedule).Msg("snapshotter scheduled")

	<-ctx.Done()
	<-c.Stop().Done()
	log.Info().Msg("snapshotter stopped")
}
