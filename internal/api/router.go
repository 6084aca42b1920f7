// Package api provides the HTTP API for calendar documents.
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/mapcal/mapcal/internal/api/handler"
	"github.com/mapcal/mapcal/internal/api/middleware"
	"github.com/mapcal/mapcal/internal/api/response"
	"github.com/mapcal/mapcal/internal/planner"
	"github.com/mapcal/mapcal/internal/provider/resilience"
	"github.com/mapcal/mapcal/internal/store"
)

// RouterConfig holds configuration for the router.
type RouterConfig struct {
	Version     string
	BuildTime   string
	Logger      zerolog.Logger
	ServiceName string
	Metrics     *middleware.Metrics

	Store    *store.Store
	Planner  *planner.Service
	Registry *resilience.Registry
	Checks   []handler.Check

	// ExportLocation is the default timezone of ICS feeds.
	ExportLocation *time.Location
	RequireTLS     bool
	Now            func() time.Time

	// PlanLimit and StandardLimit default to middleware.PlanLimit and
	// middleware.StandardLimit when zero.
	PlanLimit     middleware.Limit
	StandardLimit middleware.Limit
}

// NewRouter creates a new chi router with all API routes configured.
func NewRouter(cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	// Set default service name if not provided
	serviceName := cfg.ServiceName
	if serviceName == "" {
		serviceName = "mapcal-api"
	}

	// Global middleware - order matters
	r.Use(middleware.RequestID)            // Generate/propagate request ID first
	r.Use(middleware.Tracing(serviceName)) // Distributed tracing
	if cfg.Metrics != nil {
		r.Use(cfg.Metrics.Middleware()) // HTTP metrics
	}
	r.Use(middleware.Logger(cfg.Logger))         // Structured logging
	r.Use(middleware.Recovery(cfg.Logger))       // Panic recovery
	r.Use(chimiddleware.RealIP)                  // Real IP extraction
	r.Use(middleware.SecurityHeaders)            // Security headers (HSTS, CSP, etc.)
	r.Use(middleware.RequireTLS(cfg.RequireTLS)) // TLS enforcement
	r.Use(middleware.ContentTypeJSON)            // JSON content type

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		response.NotFound(w, r, "no such resource")
	})

	// Initialize handlers
	opsHandler := handler.NewOpsHandler(handler.OpsHandlerConfig{
		Version:   cfg.Version,
		BuildTime: cfg.BuildTime,
		Registry:  cfg.Registry,
		Checks:    cfg.Checks,
	})
	calendarHandler := handler.NewCalendarHandler(handler.CalendarHandlerConfig{
		Store:  cfg.Store,
		Now:    cfg.Now,
		Logger: cfg.Logger,
	})
	planHandler := handler.NewPlanHandler(cfg.Planner, cfg.Logger)
	exportHandler := handler.NewExportHandler(cfg.Store, cfg.ExportLocation, cfg.Logger)

	standardLimit, planLimit := cfg.StandardLimit, cfg.PlanLimit
	if standardLimit.Requests <= 0 {
		standardLimit = middleware.StandardLimit
	}
	if planLimit.Requests <= 0 {
		planLimit = middleware.PlanLimit
	}

	// API v1 routes
	r.Route("/v1", func(r chi.Router) {
		// Ops endpoints (public)
		r.Route("/ops", func(r chi.Router) {
			r.Get("/health", opsHandler.HealthCheck)
			r.Get("/ready", opsHandler.ReadinessCheck)
			r.Get("/status", opsHandler.SystemStatus)
		})

		// Calendar documents - standard rate limiting
		r.Route("/calendars", func(r chi.Router) {
			r.Use(middleware.RequireJSON)
			r.Use(standardLimit.ByIP())

			r.Get("/", calendarHandler.ListCalendars)
			r.Post("/", calendarHandler.CreateCalendar)
			r.Route("/{calendarId}", func(r chi.Router) {
				r.Get("/", calendarHandler.GetCalendar)
				r.Put("/", calendarHandler.SaveCalendar)
				r.Delete("/", calendarHandler.DeleteCalendar)
				r.Get("/export.ics", exportHandler.ExportICS)

				// Planning calls the language model - strict rate limiting
				if cfg.Planner != nil {
					r.With(planLimit.ByCalendar()).Post("/plan", planHandler.Plan)
				}
			})
		})
	})

	return r
}
