// Package resilience guards calls to upstream HTTP services (routing, geocoding,
// the planning model and the calendar API) with a circuit breaker, bounded
// retries and per-upstream health tracking.
package resilience

import (
	"net/http"
	"time"

	"github.com/sony/gobreaker/v2"
)

// BreakerConfig describes when an upstream's circuit opens and how it recovers.
type BreakerConfig struct {
	Name string

	// HalfOpenRequests is the number of probe calls let through after Cooldown.
	HalfOpenRequests uint32

	// Cooldown is how long the circuit stays open.
	Cooldown time.Duration

	// MinRequests is the sample size needed before FailureRatio is considered.
	MinRequests uint32

	// FailureRatio opens the circuit once reached.
	FailureRatio float64

	OnStateChange func(name string, from, to gobreaker.State)
}

// DefaultBreakerConfig opens after half of at least five calls fail and probes again
// after 30 seconds.
func DefaultBreakerConfig(name string) BreakerConfig {
	return BreakerConfig{
		Name:             name,
		HalfOpenRequests: 1,
		Cooldown:         30 * time.Second,
		MinRequests:      5,
		FailureRatio:     0.5,
	}
}

// ShouldTrip reports whether counts warrant opening the circuit.
func (c BreakerConfig) ShouldTrip(counts gobreaker.Counts) bool {
	if counts.Requests == 0 || counts.Requests < c.MinRequests {
		return false
	}
	return float64(counts.TotalFailures)/float64(counts.Requests) >= c.FailureRatio
}

func newBreaker(cfg BreakerConfig) *gobreaker.CircuitBreaker[*http.Response] {
	return gobreaker.NewCircuitBreaker[*http.Response](gobreaker.Settings{
		Name:          cfg.Name,
		MaxRequests:   cfg.HalfOpenRequests,
		Timeout:       cfg.Cooldown,
		ReadyToTrip:   cfg.ShouldTrip,
		OnStateChange: cfg.OnStateChange,
		// Throttling says nothing about the upstream being down.
		IsSuccessful: func(err error) bool {
			return err == nil || isThrottled(err)
		},
	})
}
