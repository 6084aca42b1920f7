package routing

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

// ServiceConfig holds configuration for the routing service.
type ServiceConfig struct {
	Provider Provider
	Logger   zerolog.Logger

	// CacheTTL is how long a route is served without asking the provider. Default: 6h
	CacheTTL time.Duration

	// StaleIfErrorTTL is how long a route may be served while the provider is
	// unavailable. Default: 24h
	StaleIfErrorTTL time.Duration

	// CleanupInterval bounds how often expired entries are swept. Default: 10m
	CleanupInterval time.Duration

	Now func() time.Time
}

// Service caches directions by endpoints and profile. Concurrent requests for the
// same key share one provider call, so events that repeat a trip cost one request.
type Service struct {
	provider        Provider
	logger          zerolog.Logger
	cacheTTL        time.Duration
	staleIfErrorTTL time.Duration
	cleanupInterval time.Duration
	now             func() time.Time

	inflight singleflight.Group

	mu          sync.RWMutex
	cache       map[string]cachedDirections
	lastCleanup time.Time
}

type cachedDirections struct {
	response  *DirectionsResponse
	fetchedAt time.Time
}

// NewService creates a new routing service.
func NewService(cfg ServiceConfig) *Service {
	s := &Service{
		provider:        cfg.Provider,
		logger:          cfg.Logger,
		cacheTTL:        cfg.CacheTTL,
		staleIfErrorTTL: cfg.StaleIfErrorTTL,
		cleanupInterval: cfg.CleanupInterval,
		now:             cfg.Now,
		cache:           make(map[string]cachedDirections),
	}
	if s.cacheTTL == 0 {
		s.cacheTTL = 6 * time.Hour
	}
	if s.staleIfErrorTTL == 0 {
		s.staleIfErrorTTL = 24 * time.Hour
	}
	if s.cleanupInterval == 0 {
		s.cleanupInterval = 10 * time.Minute
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// GetDirections returns the route for req. An empty profile routes on foot. When the
// provider fails with a retryable error, a cached route younger than the stale
// window is returned instead.
func (s *Service) GetDirections(ctx context.Context, req DirectionsRequest) (*DirectionsResponse, error) {
	if err := s.validate(&req); err != nil {
		return nil, err
	}

	key := CacheKey(req)
	cached, ok := s.lookup(key)
	if ok && s.now().Before(cached.fetchedAt.Add(s.cacheTTL)) {
		s.logger.Debug().Str("cache_key", key).Msg("directions cache hit")
		return cached.response, nil
	}

	ch := s.inflight.DoChan(key, func() (interface{}, error) {
		// The shared call outlives any single caller's cancellation.
		return s.provider.GetDirections(context.WithoutCancel(ctx), req)
	})

	var res singleflight.Result
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res = <-ch:
	}

	if res.Err != nil {
		var routingErr *Error
		retryable := errors.As(res.Err, &routingErr) && routingErr.IsRetryable()
		if ok && retryable && s.now().Before(cached.fetchedAt.Add(s.staleIfErrorTTL)) {
			s.logger.Warn().Err(res.Err).
				Str("cache_key", key).
				Time("fetched_at", cached.fetchedAt).
				Msg("serving stale directions")
			return cached.response, nil
		}
		return nil, res.Err
	}

	resp := res.Val.(*DirectionsResponse)
	s.store(key, resp)
	return resp, nil
}

func (s *Service) validate(req *DirectionsRequest) error {
	for _, p := range []struct {
		code string
		c    Coordinate
	}{{"INVALID_ORIGIN", req.Origin}, {"INVALID_DESTINATION", req.Destination}} {
		if !p.c.Valid() {
			return &Error{
				Provider: s.provider.Name(),
				Code:     p.code,
				Message:  "coordinate " + p.c.String() + " out of range",
				Err:      ErrInvalidCoordinates,
			}
		}
	}
	if req.Profile == "" {
		req.Profile = ProfileWalk
	}
	if !slices.Contains(s.provider.SupportedProfiles(), req.Profile) {
		return &Error{
			Provider: s.provider.Name(),
			Code:     "UNSUPPORTED_PROFILE",
			Message:  fmt.Sprintf("profile %s is not supported", req.Profile),
			Err:      ErrUnsupportedProfile,
		}
	}
	return nil
}

func (s *Service) lookup(key string) (cachedDirections, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.cache[key]
	return c, ok
}

func (s *Service) store(key string, resp *DirectionsResponse) {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache[key] = cachedDirections{response: resp, fetchedAt: now}

	if now.Sub(s.lastCleanup) < s.cleanupInterval {
		return
	}
	s.lastCleanup = now
	for k, c := range s.cache {
		if now.After(c.fetchedAt.Add(s.staleIfErrorTTL)) {
			delete(s.cache, k)
		}
	}
}

// CacheKey identifies a request: profile plus both endpoints rounded to about a meter.
// Route signatures stored on events use the same key.
func CacheKey(req DirectionsRequest) string {
	return string(req.Profile) + ":" + req.Origin.String() + ":" + req.Destination.String()
}

// Stats reports cache occupancy.
func (s *Service) Stats() CacheStats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	now := s.now()
	stats := CacheStats{TotalEntries: len(s.cache), Provider: s.provider.Name()}
	for _, c := range s.cache {
		switch {
		case now.Before(c.fetchedAt.Add(s.cacheTTL)):
			stats.FreshEntries++
		case now.Before(c.fetchedAt.Add(s.staleIfErrorTTL)):
			stats.StaleEntries++
		}
	}
	return stats
}
