// Package main provides the entrypoint for the calendar API server.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/rs/zerolog"

	"github.com/mapcal/mapcal/internal/api"
	"github.com/mapcal/mapcal/internal/api/handler"
	"github.com/mapcal/mapcal/internal/api/middleware"
	"github.com/mapcal/mapcal/internal/config"
	"github.com/mapcal/mapcal/internal/database"
	"github.com/mapcal/mapcal/internal/geocoding"
	geocodingors "github.com/mapcal/mapcal/internal/geocoding/openrouteservice"
	"github.com/mapcal/mapcal/internal/planner"
	"github.com/mapcal/mapcal/internal/planner/openai"
	"github.com/mapcal/mapcal/internal/provider/resilience"
	"github.com/mapcal/mapcal/internal/routing"
	routingors "github.com/mapcal/mapcal/internal/routing/openrouteservice"
	"github.com/mapcal/mapcal/internal/store"
	"github.com/mapcal/mapcal/internal/telemetry"
	"github.com/mapcal/mapcal/internal/worker"
)

// Version and BuildTime are set at compile time via ldflags.
var (
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	const serviceName = "mapcal-api"

	// Setup structured logging
	log := zerolog.New(os.Stdout).
		With().
		Timestamp().
		Str("service", serviceName).
		Str("version", Version).
		Logger()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}
	log = log.Level(cfg.Level())

	log.Info().
		Str("build_time", BuildTime).
		Str("env", cfg.Env).
		Str("store_backend", cfg.Store.Backend).
		Msg("starting calendar API")

	ctx := context.Background()

	// Initialize OpenTelemetry
	shutdownTelemetry, err := telemetry.Init(ctx, telemetry.FromConfig(cfg, serviceName, Version))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize telemetry")
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if shutdownErr := shutdownTelemetry(shutdownCtx); shutdownErr != nil {
			log.Error().Err(shutdownErr).Msg("failed to shutdown telemetry")
		}
	}()

	// Initialize metrics
	httpMetrics, err := middleware.NewMetrics()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize HTTP metrics")
	}
	storeMetrics, err := store.NewMetrics()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize store metrics")
	}

	var checks []handler.Check

	// Durable mirror
	var mirror store.Mirror
	switch cfg.Store.Backend {
	case config.BackendPostgres:
		pool, err := database.Connect(ctx, cfg.Database)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to database")
		}
		defer pool.Close()
		log.Info().
			Str("host", cfg.Database.Host).
			Int("port", cfg.Database.Port).
			Str("database", cfg.Database.Database).
			Msg("database connected")

		pg := store.NewPostgresMirror(pool)
		if err := pg.EnsureSchema(ctx); err != nil {
			log.Fatal().Err(err).Msg("failed to prepare calendar schema")
		}
		mirror = pg
		checks = append(checks, handler.Check{Name: "postgres", Check: pool.Ping})
	case config.BackendFile:
		fm, err := store.NewFileMirror(cfg.Store.Dir)
		if err != nil {
			log.Fatal().Err(err).Str("dir", cfg.Store.Dir).Msg("failed to open calendar directory")
		}
		mirror = fm
	default:
		log.Warn().Msg("using in-memory store - calendars are lost on restart")
		mirror = store.NewInMemoryMirror()
	}

	// Change notifications for the route worker
	var notifier store.Notifier
	if cfg.PubSubEnabled() {
		n, err := store.NewPubSubNotifier(ctx, store.PubSubNotifierConfig{
			ProjectID: cfg.PubSub.ProjectID,
			TopicID:   cfg.PubSub.Topic,
			Logger:    log,
		})
		if err != nil {
			log.Fatal().Err(err).Msg("failed to create pubsub notifier")
		}
		defer func() {
			if err := n.Close(); err != nil {
				log.Error().Err(err).Msg("failed to close pubsub notifier")
			}
		}()
		notifier = n
		log.Info().Str("topic", cfg.PubSub.Topic).Msg("publishing calendar changes")
	}

	calendars := store.New(store.Config{
		Mirror:   mirror,
		Notifier: notifier,
		Metrics:  storeMetrics,
		Logger:   log,
	})
	if err := calendars.Load(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to load calendars")
	}

	// Planning pipeline
	registry := resilience.GlobalRegistry
	var geocoder planner.Geocoder
	if cfg.Geocoding.APIKey != "" {
		geocoder = geocoding.NewService(geocoding.ServiceConfig{
			Provider: geocodingors.NewClient(geocodingors.ClientConfig{
				APIKey:   cfg.Geocoding.APIKey,
				BaseURL:  cfg.Geocoding.BaseURL,
				Timeout:  cfg.Geocoding.Timeout,
				Registry: registry,
				Logger:   log,
			}),
			Logger: log,
		})
	} else {
		log.Warn().Msg("geocoding not configured - planned places stay unresolved")
	}

	var planService *planner.Service
	if cfg.Planner.APIKey != "" || cfg.Planner.BaseURL != "" {
		planService = planner.NewService(planner.ServiceConfig{
			Model: openai.NewClient(openai.ClientConfig{
				APIKey:   cfg.Planner.APIKey,
				BaseURL:  cfg.Planner.BaseURL,
				Model:    cfg.Planner.Model,
				Timeout:  cfg.Planner.Timeout,
				Registry: registry,
				Logger:   log,
			}),
			Documents:    calendars,
			Scheduler:    planner.NewScheduler(planner.SchedulerConfig{Geocoder: geocoder, Logger: log}),
			HistoryLimit: cfg.Planner.HistoryLimit,
			Logger:       log,
		})
		log.Info().Str("model", cfg.Planner.Model).Msg("planning service initialized")
	} else {
		log.Warn().Msg("planning model not configured - plan endpoint disabled")
	}

	// Without Pub/Sub there is no separate worker; sweep routes in-process.
	var scheduler *worker.Scheduler
	if cfg.Routing.APIKey != "" && !cfg.PubSubEnabled() {
		scheduler = newEmbeddedWorker(ctx, cfg, calendars, registry, log)
		scheduler.Start()
		log.Info().Str("schedule", cfg.Worker.Schedule).Msg("embedded route sweep started")
	}

	// Create router with configuration
	router := api.NewRouter(api.RouterConfig{
		Version:        Version,
		BuildTime:      BuildTime,
		Logger:         log,
		ServiceName:    serviceName,
		Metrics:        httpMetrics,
		Store:          calendars,
		Planner:        planService,
		Registry:       registry,
		Checks:         checks,
		ExportLocation: cfg.ExportLocation(),
		RequireTLS:     cfg.RequireTLS,
		PlanLimit:      middleware.PerMinute(cfg.RateLimit.PlanPerMinute, middleware.PlanLimit),
		StandardLimit:  middleware.PerMinute(cfg.RateLimit.StandardPerMinute, middleware.StandardLimit),
	})

	// Create HTTP server
	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 90 * time.Second, // plan requests wait on the model
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Info().
			Str("addr", server.Addr).
			Msg("server listening")

		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down server")

	if scheduler != nil {
		scheduler.Stop()
	}

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
		return
	}

	log.Info().Msg("server stopped")
}

func newEmbeddedWorker(ctx context.Context, cfg *config.Config, calendars *store.Store, registry *resilience.Registry, log zerolog.Logger) *worker.Scheduler {
	router := routing.NewService(routing.ServiceConfig{
		Provider: routingors.NewClient(routingors.ClientConfig{
			APIKey:   cfg.Routing.APIKey,
			BaseURL:  cfg.Routing.BaseURL,
			Timeout:  cfg.Routing.Timeout,
			Registry: registry,
			Logger:   log,
		}),
		Logger: log,
	})

	job := worker.NewRouteJob(worker.RouteJobConfig{
		Config: worker.RouteConfig{
			Concurrency:   cfg.Worker.Concurrency,
			Timeout:       cfg.Worker.Timeout,
			SweepSchedule: cfg.Worker.Schedule,
		},
		Documents: worker.StoreDocuments{Store: calendars},
		Router:    router,
		Logger:    log.With().Str("component", "route-worker").Logger(),
	})

	scheduler, err := worker.NewScheduler(ctx, job, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to schedule route sweep")
	}
	return scheduler
}
