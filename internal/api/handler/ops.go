package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/mapcal/mapcal/internal/api/models"
	"github.com/mapcal/mapcal/internal/api/response"
	"github.com/mapcal/mapcal/internal/provider/resilience"
)

// readinessTimeout bounds each dependency check.
const readinessTimeout = 2 * time.Second

// Check reports whether a dependency such as the database is usable.
type Check struct {
	Name  string
	Check func(ctx context.Context) error
}

// OpsHandler serves the probes and the status report.
type OpsHandler struct {
	version   string
	buildTime string
	registry  *resilience.Registry
	checks    []Check
	now       func() time.Time
}

// OpsHandlerConfig holds configuration for the ops handler.
type OpsHandlerConfig struct {
	Version   string
	BuildTime string

	// Registry reports provider circuit state (optional).
	Registry *resilience.Registry

	// Checks are run by the readiness and status endpoints.
	Checks []Check
}

// NewOpsHandler creates a new OpsHandler.
func NewOpsHandler(cfg OpsHandlerConfig) *OpsHandler {
	return &OpsHandler{
		version:   cfg.Version,
		buildTime: cfg.BuildTime,
		registry:  cfg.Registry,
		checks:    cfg.Checks,
		now:       time.Now,
	}
}

// HealthCheck handles GET /v1/ops/health. It never touches dependencies.
func (h *OpsHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	response.JSON(w, r, http.StatusOK, models.Health{
		Status:    models.LevelOK,
		Time:      h.now().UTC(),
		Version:   h.version,
		BuildTime: h.buildTime,
	})
}

// ReadinessCheck handles GET /v1/ops/ready and answers 503 while any check fails.
func (h *OpsHandler) ReadinessCheck(w http.ResponseWriter, r *http.Request) {
	health := models.Health{Status: models.LevelOK, Time: h.now().UTC()}
	for _, c := range h.runChecks(r.Context()) {
		if c.Status == models.LevelOK {
			continue
		}
		if health.Failures == nil {
			health.Failures = make(map[string]string)
		}
		health.Failures[c.Name] = c.Detail
		health.Status = models.LevelFail
	}

	code := http.StatusOK
	if health.Status != models.LevelOK {
		code = http.StatusServiceUnavailable
	}
	response.JSON(w, r, code, health)
}

// SystemStatus handles GET /v1/ops/status. A failing check fails the service;
// an unhealthy provider only degrades it, since calendars are still served.
func (h *OpsHandler) SystemStatus(w http.ResponseWriter, r *http.Request) {
	report := models.SystemStatus{Status: models.LevelOK, Time: h.now().UTC()}
	report.Components = append(h.runChecks(r.Context()), h.providers()...)

	for _, c := range report.Components {
		level := c.Status
		if c.Kind == models.ComponentProvider && level == models.LevelFail {
			level = models.LevelDegraded
		}
		report.Status = report.Status.Worse(level)
	}
	response.JSON(w, r, http.StatusOK, report)
}

func (h *OpsHandler) runChecks(ctx context.Context) []models.Component {
	out := make([]models.Component, 0, len(h.checks))
	for _, c := range h.checks {
		checkCtx, cancel := context.WithTimeout(ctx, readinessTimeout)
		err := c.Check(checkCtx)
		cancel()

		comp := models.Component{Name: c.Name, Kind: models.ComponentCheck, Status: models.LevelOK}
		if err != nil {
			comp.Status = models.LevelFail
			comp.Detail = err.Error()
		}
		out = append(out, comp)
	}
	return out
}

var providerLevels = map[resilience.Status]models.Level{
	resilience.StatusOK:       models.LevelOK,
	resilience.StatusDegraded: models.LevelDegraded,
	resilience.StatusDown:     models.LevelFail,
}

func (h *OpsHandler) providers() []models.Component {
	if h.registry == nil {
		return nil
	}
	var out []models.Component
	for _, up := range h.registry.Snapshot() {
		out = append(out, models.Component{
			Name:          up.Name,
			Kind:          models.ComponentProvider,
			Status:        providerLevels[up.Status()],
			Detail:        up.LastError,
			LastSuccessAt: up.LastSuccessAt,
			LastFailureAt: up.LastFailureAt,
		})
	}
	return out
}
