// Package main provides the entrypoint for the route worker.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/mapcal/mapcal/internal/api/handler"
	"github.com/mapcal/mapcal/internal/api/middleware"
	"github.com/mapcal/mapcal/internal/api/response"
	"github.com/mapcal/mapcal/internal/config"
	"github.com/mapcal/mapcal/internal/provider/resilience"
	"github.com/mapcal/mapcal/internal/routing"
	"github.com/mapcal/mapcal/internal/routing/openrouteservice"
	"github.com/mapcal/mapcal/internal/syncclient"
	"github.com/mapcal/mapcal/internal/telemetry"
	"github.com/mapcal/mapcal/internal/worker"
)

// Version and BuildTime are set at compile time via ldflags
var (
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	const serviceName = "mapcal-worker"

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

	if cfg.Worker.APIURL == "" {
		log.Fatal().Msg("MAPCAL_API_URL is required")
	}
	if cfg.Routing.APIKey == "" {
		log.Fatal().Msg("ORS_API_KEY is required")
	}

	log.Info().
		Str("build_time", BuildTime).
		Str("api_url", cfg.Worker.APIURL).
		Msg("starting route worker")

	// Create context for graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := telemetry.Init(ctx, telemetry.FromConfig(cfg, serviceName, Version))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize telemetry")
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("failed to shutdown telemetry")
		}
	}()

	registry := resilience.GlobalRegistry

	router := routing.NewService(routing.ServiceConfig{
		Provider: openrouteservice.NewClient(openrouteservice.ClientConfig{
			APIKey:   cfg.Routing.APIKey,
			BaseURL:  cfg.Routing.BaseURL,
			Timeout:  cfg.Routing.Timeout,
			Registry: registry,
			Logger:   log,
		}),
		Logger: log,
	})

	documents := syncclient.NewHTTPTransport(syncclient.HTTPTransportConfig{
		BaseURL:  cfg.Worker.APIURL,
		Registry: registry,
		Logger:   log,
	})

	job := worker.NewRouteJob(worker.RouteJobConfig{
		Config: worker.RouteConfig{
			Concurrency:   cfg.Worker.Concurrency,
			Timeout:       cfg.Worker.Timeout,
			SweepSchedule: cfg.Worker.Schedule,
		},
		Documents: documents,
		Router:    router,
		Logger:    log,
	})

	scheduler, err := worker.NewScheduler(ctx, job, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to schedule route sweep")
	}
	scheduler.Start()
	defer scheduler.Stop()
	log.Info().Str("schedule", cfg.Worker.Schedule).Msg("route sweep scheduled")

	// Worker also exposes health endpoints for Cloud Run
	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      healthRouter(job, router, registry, log),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info().Str("addr", server.Addr).Msg("health server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if cfg.PubSubEnabled() {
		handlerPS, err := worker.NewPubSubHandler(ctx, worker.PubSubConfig{
			ProjectID:        cfg.PubSub.ProjectID,
			SubscriptionName: cfg.PubSub.Subscription,
			RouteJob:         job,
			Logger:           log,
		})
		if err != nil {
			log.Fatal().Err(err).Msg("failed to create pubsub handler")
		}
		defer func() {
			if err := handlerPS.Close(); err != nil {
				log.Error().Err(err).Msg("failed to close pubsub client")
			}
		}()

		g.Go(func() error {
			return handlerPS.Start(gctx)
		})
	} else {
		log.Warn().Msg("pubsub not configured - routes are refreshed by the sweep only")
	}

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("worker stopped with error")
		return
	}
	log.Info().Msg("worker stopped")
}

func healthRouter(job *worker.RouteJob, routes *routing.Service, registry *resilience.Registry, log zerolog.Logger) http.Handler {
	ops := handler.NewOpsHandler(handler.OpsHandlerConfig{
		Version:   Version,
		BuildTime: BuildTime,
		Registry:  registry,
	})

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recovery(log))
	r.Use(middleware.ContentTypeJSON)

	r.Get("/health", ops.HealthCheck)
	r.Get("/status", ops.SystemStatus)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		snapshot := job.MetricsSnapshot()
		stats := routes.Stats()
		snapshot["route_cache_entries"] = stats.TotalEntries
		snapshot["route_cache_fresh"] = stats.FreshEntries
		snapshot["route_cache_stale"] = stats.StaleEntries
		response.JSON(w, r, http.StatusOK, snapshot)
	})
	return r
}
