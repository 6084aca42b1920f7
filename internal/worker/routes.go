package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/mapcal/mapcal/internal/calendar"
	"github.com/mapcal/mapcal/internal/routing"
	"github.com/mapcal/mapcal/pkg/polyline"
)

// Router computes directions. *routing.Service satisfies it.
type Router interface {
	GetDirections(ctx context.Context, req routing.DirectionsRequest) (*routing.DirectionsResponse, error)
}

// RouteJob attaches route geometry to events that have both a location and a
// destination, and clears it from events that lost one of them.
type RouteJob struct {
	config    RouteConfig
	documents Documents
	router    Router
	logger    zerolog.Logger

	metrics *RouteMetrics
}

// RouteMetrics tracks route job statistics.
type RouteMetrics struct {
	mu sync.RWMutex

	CalendarsProcessed int64
	RoutesAttached     int64
	RoutesCleared      int64
	RouteFailures      int64
	SavesSkipped       int64

	LastRunAt       time.Time
	LastRunDuration time.Duration
}

// RouteJobConfig holds configuration for creating a RouteJob.
type RouteJobConfig struct {
	Config    RouteConfig
	Documents Documents
	Router    Router
	Logger    zerolog.Logger
}

// NewRouteJob creates a new route job.
func NewRouteJob(cfg RouteJobConfig) *RouteJob {
	return &RouteJob{
		config:    cfg.Config.withDefaults(),
		documents: cfg.Documents,
		router:    cfg.Router,
		logger:    cfg.Logger,
		metrics:   &RouteMetrics{},
	}
}

// RouteResult contains the outcome of processing one calendar.
type RouteResult struct {
	CalendarID string
	Revision   int64
	Pending    int
	Attached   int
	Cleared    int
	Failed     int
	Errors     []RouteError
	Saved      bool
	Duration   time.Duration
}

// RouteError describes a failed directions request.
type RouteError struct {
	EventID string
	Error   string
}

// routeTask is one event needing directions.
type routeTask struct {
	eventID   string
	request   routing.DirectionsRequest
	signature string
}

type routeOutcome struct {
	task  routeTask
	route *calendar.Route
	err   error
}

// Signature identifies the endpoints and profile an event's route depends on.
func Signature(ev calendar.Event) string {
	if ev.Location == nil || ev.Destination == nil {
		return ""
	}
	return routing.CacheKey(directionsRequest(ev))
}

func directionsRequest(ev calendar.Event) routing.DirectionsRequest {
	return routing.DirectionsRequest{
		Origin:      routing.Coordinate{Lat: ev.Location.Lat, Lon: ev.Location.Lng},
		Destination: routing.Coordinate{Lat: ev.Destination.Lat, Lon: ev.Destination.Lng},
		Profile:     routing.ProfileForMode(ev.RouteMode),
	}
}

// Run brings the routes of one calendar up to date.
//
// Directions are fetched against the revision read at the start. The document is
// read again just before saving, so only events whose endpoints are unchanged get
// the computed route, and the save carries that fresh read as its base.
func (j *RouteJob) Run(ctx context.Context, calendarID string) (*RouteResult, error) {
	start := time.Now()
	result := &RouteResult{CalendarID: calendarID}

	entry, err := j.documents.Get(ctx, calendarID)
	if err != nil {
		return nil, fmt.Errorf("reading calendar %s: %w", calendarID, err)
	}

	tasks, stale := j.plan(entry.Document)
	result.Pending = len(tasks)
	if len(tasks) == 0 && len(stale) == 0 {
		result.Revision = entry.Revision
		result.Duration = time.Since(start)
		return result, nil
	}

	routes := make(map[string]routeOutcome, len(tasks))
	for _, out := range j.fetch(ctx, tasks) {
		if out.err != nil {
			result.Failed++
			result.Errors = append(result.Errors, RouteError{EventID: out.task.eventID, Error: out.err.Error()})
			continue
		}
		routes[out.task.eventID] = out
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	fresh, err := j.documents.Get(ctx, calendarID)
	if err != nil {
		return nil, fmt.Errorf("re-reading calendar %s: %w", calendarID, err)
	}

	incoming := fresh.Document.Clone()
	for day, bucket := range incoming.Events {
		for i := range bucket {
			ev := &incoming.Events[day][i]
			sig := Signature(*ev)
			if sig == "" {
				if ev.Route != nil {
					ev.Route = nil
					result.Cleared++
				}
				continue
			}
			out, ok := routes[ev.ID]
			if !ok || out.task.signature != sig {
				continue
			}
			if ev.Route == nil || ev.Route.Signature != sig {
				ev.Route = out.route
				result.Attached++
			}
		}
	}

	result.Revision = fresh.Revision
	if result.Attached > 0 || result.Cleared > 0 {
		saved, err := j.documents.Put(ctx, calendarID, calendar.SaveRequest{
			Document:     incoming,
			Base:         &fresh.Document,
			BaseRevision: &fresh.Revision,
		})
		if err != nil {
			return nil, fmt.Errorf("saving calendar %s: %w", calendarID, err)
		}
		result.Saved = true
		result.Revision = saved.Revision
	}

	result.Duration = time.Since(start)
	j.updateMetrics(result)

	j.logger.Info().
		Str("calendar_id", calendarID).
		Int64("revision", result.Revision).
		Int("attached", result.Attached).
		Int("cleared", result.Cleared).
		Int("failed", result.Failed).
		Dur("duration", result.Duration).
		Msg("calendar routes updated")

	return result, nil
}

// plan lists events needing directions and events holding a route they no longer need.
func (j *RouteJob) plan(doc calendar.Document) (tasks []routeTask, stale []string) {
	for _, ev := range doc.Listing() {
		sig := Signature(ev)
		switch {
		case sig == "" && ev.Route != nil:
			stale = append(stale, ev.ID)
		case sig != "" && (ev.Route == nil || ev.Route.Signature != sig):
			tasks = append(tasks, routeTask{eventID: ev.ID, request: directionsRequest(ev), signature: sig})
		}
	}
	return tasks, stale
}

// fetch resolves tasks with a bounded pool of workers.
func (j *RouteJob) fetch(ctx context.Context, tasks []routeTask) []routeOutcome {
	taskChan := make(chan routeTask, len(tasks))
	outChan := make(chan routeOutcome, len(tasks))

	var wg sync.WaitGroup
	for i := 0; i < min(j.config.Concurrency, len(tasks)); i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			j.routeWorker(ctx, taskChan, outChan)
		}()
	}

	for _, t := range tasks {
		taskChan <- t
	}
	close(taskChan)

	go func() {
		wg.Wait()
		close(outChan)
	}()

	outcomes := make([]routeOutcome, 0, len(tasks))
	for out := range outChan {
		outcomes = append(outcomes, out)
	}
	return outcomes
}

func (j *RouteJob) routeWorker(ctx context.Context, tasks <-chan routeTask, out chan<- routeOutcome) {
	for task := range tasks {
		select {
		case <-ctx.Done():
			return
		default:
			out <- j.route(ctx, task)
		}
	}
}

func (j *RouteJob) route(ctx context.Context, task routeTask) routeOutcome {
	taskCtx, cancel := context.WithTimeout(ctx, j.config.Timeout)
	defer cancel()

	resp, err := j.router.GetDirections(taskCtx, task.request)
	if err != nil {
		var routingErr *routing.Error
		if errors.As(err, &routingErr) && !routingErr.IsRetryable() {
			j.logger.Debug().Err(err).Str("event_id", task.eventID).Msg("event has no usable route")
		} else {
			j.logger.Warn().Err(err).Str("event_id", task.eventID).Msg("directions request failed")
		}
		return routeOutcome{task: task, err: err}
	}

	return routeOutcome{
		task: task,
		route: &calendar.Route{
			Polyline:        polyline.Compact(resp.Route.GeometryPolyline, j.config.SampleIntervalMeters, j.config.MaxPoints),
			DistanceMeters:  resp.Route.DistanceMeters,
			DurationSeconds: resp.Route.DurationSeconds,
			Profile:         string(task.request.Profile),
			Signature:       task.signature,
		},
	}
}

// SweepResult summarizes a pass over all calendars.
type SweepResult struct {
	Calendars int
	Updated   int
	Failed    int
	Duration  time.Duration
}

// Sweep runs the job for every calendar. Calendars deleted mid-sweep are skipped.
func (j *RouteJob) Sweep(ctx context.Context) (*SweepResult, error) {
	start := time.Now()

	ids, err := j.documents.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing calendars: %w", err)
	}

	result := &SweepResult{Calendars: len(ids)}
	for _, id := range ids {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		res, err := j.Run(ctx, id)
		switch {
		case isGone(err):
			continue
		case err != nil:
			result.Failed++
			j.logger.Error().Err(err).Str("calendar_id", id).Msg("route sweep failed for calendar")
		case res.Saved:
			result.Updated++
		}
	}

	result.Duration = time.Since(start)
	j.logger.Info().
		Int("calendars", result.Calendars).
		Int("updated", result.Updated).
		Int("failed", result.Failed).
		Dur("duration", result.Duration).
		Msg("route sweep completed")
	return result, nil
}

func (j *RouteJob) updateMetrics(result *RouteResult) {
	j.metrics.mu.Lock()
	defer j.metrics.mu.Unlock()

	j.metrics.CalendarsProcessed++
	j.metrics.RoutesAttached += int64(result.Attached)
	j.metrics.RoutesCleared += int64(result.Cleared)
	j.metrics.RouteFailures += int64(result.Failed)
	if !result.Saved {
		j.metrics.SavesSkipped++
	}
	j.metrics.LastRunAt = time.Now()
	j.metrics.LastRunDuration = result.Duration
}

// GetMetrics returns a copy of the current metrics.
func (j *RouteJob) GetMetrics() RouteMetrics {
	j.metrics.mu.RLock()
	defer j.metrics.mu.RUnlock()

	return RouteMetrics{
		CalendarsProcessed: j.metrics.CalendarsProcessed,
		RoutesAttached:     j.metrics.RoutesAttached,
		RoutesCleared:      j.metrics.RoutesCleared,
		RouteFailures:      j.metrics.RouteFailures,
		SavesSkipped:       j.metrics.SavesSkipped,
		LastRunAt:          j.metrics.LastRunAt,
		LastRunDuration:    j.metrics.LastRunDuration,
	}
}

// MetricsSnapshot returns a snapshot of the current metrics as a map.
func (j *RouteJob) MetricsSnapshot() map[string]interface{} {
	m := j.GetMetrics()
	return map[string]interface{}{
		"calendars_processed": m.CalendarsProcessed,
		"routes_attached":     m.RoutesAttached,
		"routes_cleared":      m.RoutesCleared,
		"route_failures":      m.RouteFailures,
		"saves_skipped":       m.SavesSkipped,
		"last_run_at":         m.LastRunAt,
		"last_run_duration":   m.LastRunDuration.String(),
	}
}
