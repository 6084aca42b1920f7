package geocoding

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/mapcal/mapcal/internal/calendar"
)

// ServiceConfig holds configuration for the geocoding service.
type ServiceConfig struct {
	// Provider is the geocoding data provider.
	Provider Provider

	// Logger for service operations.
	Logger zerolog.Logger

	// CacheTTL is how long to cache a match (default: 24 hours).
	CacheTTL time.Duration

	// NegativeTTL is how long to remember that a query matched nothing (default: 1 hour).
	NegativeTTL time.Duration

	// StaleIfErrorTTL allows serving stale matches on provider errors (default: 7 days).
	StaleIfErrorTTL time.Duration

	// MaxEntries bounds the cache size (default: 10000).
	MaxEntries int
}

// Service resolves place names with caching.
type Service struct {
	provider        Provider
	logger          zerolog.Logger
	cacheTTL        time.Duration
	negativeTTL     time.Duration
	staleIfErrorTTL time.Duration
	maxEntries      int
	now             func() time.Time

	mu    sync.RWMutex
	cache map[string]*cachedResult
}

// NewService creates a new geocoding service.
func NewService(cfg ServiceConfig) *Service {
	cacheTTL := cfg.CacheTTL
	if cacheTTL == 0 {
		cacheTTL = 24 * time.Hour
	}

	negativeTTL := cfg.NegativeTTL
	if negativeTTL == 0 {
		negativeTTL = time.Hour
	}

	staleIfErrorTTL := cfg.StaleIfErrorTTL
	if staleIfErrorTTL == 0 {
		staleIfErrorTTL = 7 * 24 * time.Hour
	}

	maxEntries := cfg.MaxEntries
	if maxEntries == 0 {
		maxEntries = 10000
	}

	return &Service{
		provider:        cfg.Provider,
		logger:          cfg.Logger,
		cacheTTL:        cacheTTL,
		negativeTTL:     negativeTTL,
		staleIfErrorTTL: staleIfErrorTTL,
		maxEntries:      maxEntries,
		now:             time.Now,
		cache:           make(map[string]*cachedResult),
	}
}

// NormalizeQuery folds case and whitespace so equivalent names share a cache entry.
func NormalizeQuery(q string) string {
	return strings.ToLower(strings.Join(strings.Fields(q), " "))
}

// Lookup returns the best match for query, or ErrNoResults.
func (s *Service) Lookup(ctx context.Context, query string) (*Result, error) {
	key := NormalizeQuery(query)
	if key == "" {
		return nil, ErrEmptyQuery
	}

	now := s.now()
	s.mu.RLock()
	cached, ok := s.cache[key]
	s.mu.RUnlock()
	if ok && now.Before(cached.expiresAt) {
		s.logger.Debug().
			Str("query", key).
			Bool("negative", cached.result == nil).
			Msg("cache hit for geocoding")
		if cached.result == nil {
			return nil, ErrNoResults
		}
		r := *cached.result
		return &r, nil
	}

	results, err := s.provider.Search(ctx, query)
	switch {
	case errors.Is(err, ErrNoResults) || (err == nil && len(results) == 0):
		s.store(key, nil, now, s.negativeTTL)
		return nil, ErrNoResults
	case err != nil:
		s.logger.Error().Err(err).
			Str("query", key).
			Str("provider", s.provider.Name()).
			Msg("failed to geocode")

		// Check for stale data (stale-if-error pattern)
		if ok && cached.result != nil && now.Before(cached.fetchedAt.Add(s.staleIfErrorTTL)) {
			s.logger.Warn().
				Time("fetched_at", cached.fetchedAt).
				Str("query", key).
				Msg("serving stale geocoding result due to provider error")
			r := *cached.result
			return &r, nil
		}
		return nil, err
	}

	best := results[0]
	s.store(key, &best, now, s.cacheTTL)

	s.logger.Debug().
		Str("query", key).
		Str("label", best.Label).
		Msg("cached geocoding result")

	r := best
	return &r, nil
}

// Resolve returns the place for name, or nil when nothing matches.
// Provider failures are returned as errors.
func (s *Service) Resolve(ctx context.Context, name string) (*calendar.Place, error) {
	r, err := s.Lookup(ctx, name)
	if errors.Is(err, ErrNoResults) || errors.Is(err, ErrEmptyQuery) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	label := r.Name
	if label == "" {
		label = r.Label
	}
	return &calendar.Place{Name: label, Lat: r.Lat, Lng: r.Lon}, nil
}

func (s *Service) store(key string, r *Result, now time.Time, ttl time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.cache) >= s.maxEntries {
		s.evictLocked(now)
	}
	s.cache[key] = &cachedResult{result: r, fetchedAt: now, expiresAt: now.Add(ttl)}
}

// evictLocked drops expired entries, then the oldest entries until there is room.
func (s *Service) evictLocked(now time.Time) {
	for key, c := range s.cache {
		if now.After(c.expiresAt) && (c.result == nil || now.After(c.fetchedAt.Add(s.staleIfErrorTTL))) {
			delete(s.cache, key)
		}
	}
	for len(s.cache) >= s.maxEntries {
		var (
			oldestKey string
			oldest    time.Time
		)
		for key, c := range s.cache {
			if oldestKey == "" || c.fetchedAt.Before(oldest) {
				oldestKey, oldest = key, c.fetchedAt
			}
		}
		delete(s.cache, oldestKey)
	}
}

// InvalidateCache clears all cached data.
func (s *Service) InvalidateCache() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache = make(map[string]*cachedResult)
}

// CacheStats returns cache statistics.
func (s *Service) CacheStats() CacheStats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	now := s.now()
	stats := CacheStats{TotalEntries: len(s.cache), Provider: s.provider.Name()}
	for _, c := range s.cache {
		if c.result == nil {
			stats.NegativeEntries++
			continue
		}
		if now.Before(c.expiresAt) {
			stats.FreshEntries++
		}
	}
	return stats
}
