package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/Prathamesh0903/CollabQuest-sub000/internal/api"
	"github.com/Prathamesh0903/CollabQuest-sub000/internal/config"
	"github.com/Prathamesh0903/CollabQuest-sub000/internal/engine"
	"github.com/Prathamesh0903/CollabQuest-sub000/internal/events"
	"github.com/Prathamesh0903/CollabQuest-sub000/internal/monitor"
	"github.com/Prathamesh0903/CollabQuest-sub000/internal/results"
	"github.com/Prathamesh0903/CollabQuest-sub000/internal/runtime"
	"github.com/Prathamesh0903/CollabQuest-sub000/internal/sandbox"
	"github.com/Prathamesh0903/CollabQuest-sub000/internal/validator"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnixMs
	if os.Getenv("ENV") != "production" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}

	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "configs/config.yaml"
	}

	var cfg *config.Config
	var err error
	if _, statErr := os.Stat(configPath); statErr == nil {
		cfg, err = config.Load(configPath)
		if err != nil {
			log.Fatal().Err(err).Str("path", configPath).Msg("failed to load config")
		}
	} else {
		log.Info().Msg("no config file found, using defaults")
		cfg = config.DefaultConfig()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	metrics := monitor.NewMetrics()
	runtimes := runtime.NewRegistry()

	backend, err := sandbox.NewBackend(cfg.Sandbox, runtimes)
	if err != nil {
		log.Warn().Err(err).Msg("no sandbox backend available (execution will fail)")
		// Continue startup so health/metrics endpoints work for debugging
	}

	// Database is optional; without it results live only in memory.
	var db *results.DB
	var audit *results.AuditWriter
	if cfg.Database.DSN != "" {
		db, err = results.NewDB(ctx, cfg.Database)
		if err != nil {
			log.Warn().Err(err).Msg("database unavailable, durable results disabled")
		} else {
			defer db.Close()
			audit = results.NewAuditWriter(db, 10000, cfg.Engine.RetentionWindow)
			audit.Start()
			defer audit.Flush(10 * time.Second)
		}
	}

	store := results.NewStore(cfg.Engine.RetentionWindow, cfg.Engine.CleanupInterval)
	defer store.Close()

	bus := events.NewBus(cfg.Events.BufferSize)
	defer bus.Close()

	// Room events always flow through the in-process bus; NATS is an
	// additive bridge for other services.
	var publisher events.Publisher = bus
	if cfg.Events.NATSURL != "" {
		nc, err := events.NewNATSPublisher(cfg.Events.NATSURL, cfg.Events.SubjectPrefix)
		if err != nil {
			log.Warn().Err(err).Msg("NATS unavailable, room events stay in-process only")
		} else {
			defer nc.Close()
			publisher = events.Fanout{bus, nc}
		}
	}

	var auditor engine.Auditor
	if audit != nil {
		auditor = audit
	}

	eng := engine.New(
		cfg.Engine,
		cfg.Languages,
		validator.New(cfg.Languages),
		runtimes,
		backend,
		store,
		engine.Options{Publisher: publisher, Metrics: metrics, Audit: auditor},
	)

	server := api.NewServer(cfg, eng, bus, runtimes, backend, db, metrics)

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigCh

		log.Info().Str("signal", sig.String()).Msg("shutting down")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("HTTP server shutdown error")
		}
		if err := eng.Close(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("engine shutdown error")
		}
		if backend != nil {
			if err := backend.Close(); err != nil {
				log.Error().Err(err).Msg("backend close error")
			}
		}

		cancel()
	}()

	log.Info().
		Str("addr", cfg.Address()).
		Bool("db_enabled", db != nil).
		Bool("backend_available", backend != nil).
		Strs("languages", runtimes.Languages()).
		Msg("server starting")

	if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal().Err(err).Msg("server failed")
	}

	log.Info().Msg("server stopped")
}
