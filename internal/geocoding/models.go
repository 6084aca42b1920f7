// Package geocoding resolves free-text place names to coordinates.
package geocoding

import (
	"context"
	"errors"
	"time"
)

// Sentinel errors for geocoding operations.
var (
	// ErrProviderUnavailable indicates the geocoding provider is down or the circuit breaker is open.
	ErrProviderUnavailable = errors.New("geocoding provider unavailable")
	// ErrNoResults indicates the query matched no place.
	ErrNoResults = errors.New("no geocoding results")
	// ErrRateLimitExceeded indicates the API quota has been exceeded.
	ErrRateLimitExceeded = errors.New("rate limit exceeded")
	// ErrEmptyQuery indicates a blank query.
	ErrEmptyQuery = errors.New("empty geocoding query")
)

// Provider defines the interface for geocoding providers.
type Provider interface {
	// Search returns the best matches for a free-text query, best first.
	// It returns ErrNoResults when nothing matches.
	Search(ctx context.Context, query string) ([]Result, error)
	// Name returns the provider identifier for logging and metrics.
	Name() string
}

// Result is a single geocoding match.
type Result struct {
	Label      string  // Display label, e.g. "Louvre Museum, Paris, France"
	Name       string  // Short place name
	Lat        float64 // Latitude in degrees
	Lon        float64 // Longitude in degrees
	Confidence float64 // Provider confidence in [0, 1]
}

// CacheStats contains cache statistics.
type CacheStats struct {
	TotalEntries    int
	FreshEntries    int
	NegativeEntries int
	Provider        string
}

// Error provides detailed error information from the geocoding provider.
type Error struct {
	Provider string // Provider that generated the error
	Code     string // Error code from the provider
	Message  string // Human-readable error message
	Err      error  // Underlying error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsRetryable returns true if the error is transient and the request can be retried.
func (e *Error) IsRetryable() bool {
	return errors.Is(e.Err, ErrProviderUnavailable) || errors.Is(e.Err, ErrRateLimitExceeded)
}

type cachedResult struct {
	result    *Result // nil for a cached no-match
	fetchedAt time.Time
	expiresAt time.Time
}
