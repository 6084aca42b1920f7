// Package worker computes route geometry for calendar events in the background.
package worker

import (
	"time"
)

// RouteConfig holds configuration for the route job.
type RouteConfig struct {
	// Concurrency is the number of concurrent directions requests.
	// Default: 3
	Concurrency int

	// Timeout is the timeout for each directions request.
	// Default: 30 seconds
	Timeout time.Duration

	// SampleIntervalMeters is the resampling interval applied to route geometry
	// before it is stored on an event.
	// Default: 25 meters
	SampleIntervalMeters float64

	// MaxPoints caps the number of points stored per route.
	// Default: 256
	MaxPoints int

	// SweepSchedule is the cron expression of the periodic sweep over all calendars.
	// Default: every 15 minutes
	SweepSchedule string
}

// DefaultRouteConfig returns the default route job configuration.
func DefaultRouteConfig() RouteConfig {
	return RouteConfig{
		Concurrency:          3,
		Timeout:              30 * time.Second,
		SampleIntervalMeters: 25,
		MaxPoints:            256,
		SweepSchedule:        "@every 15m",
	}
}

// withDefaults fills zero fields from DefaultRouteConfig.
func (c RouteConfig) withDefaults() RouteConfig {
	d := DefaultRouteConfig()
	if c.Concurrency <= 0 {
		c.Concurrency = d.Concurrency
	}
	if c.Timeout <= 0 {
		c.Timeout = d.Timeout
	}
	if c.SampleIntervalMeters <= 0 {
		c.SampleIntervalMeters = d.SampleIntervalMeters
	}
	if c.MaxPoints <= 0 {
		c.MaxPoints = d.MaxPoints
	}
	if c.SweepSchedule == "" {
		c.SweepSchedule = d.SweepSchedule
	}
	return c
}
