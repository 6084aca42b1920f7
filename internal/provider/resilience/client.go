package resilience

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker/v2"
)

// ErrCircuitOpen is returned without contacting the upstream while its circuit is open.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// ClientConfig holds configuration for an upstream client.
type ClientConfig struct {
	// Name identifies the upstream in the registry and in logs.
	Name string

	// Timeout bounds each attempt. Default: 10s
	Timeout time.Duration

	// MaxRetries is the number of attempts after the first. Default: 3
	MaxRetries uint64

	// InitialInterval and MaxInterval bound the exponential backoff between
	// attempts. Defaults: 100ms and 5s
	InitialInterval time.Duration
	MaxInterval     time.Duration

	// Breaker overrides DefaultBreakerConfig.
	Breaker *BreakerConfig

	// Registry receives the client on creation and the outcome of every call (optional).
	Registry *Registry

	Logger zerolog.Logger
}

// DefaultClientConfig returns the defaults used for every upstream.
func DefaultClientConfig(name string) ClientConfig {
	breaker := DefaultBreakerConfig(name)
	return ClientConfig{
		Name:            name,
		Timeout:         10 * time.Second,
		MaxRetries:      3,
		InitialInterval: 100 * time.Millisecond,
		MaxInterval:     5 * time.Second,
		Breaker:         &breaker,
	}
}

// StatusError is an upstream response that is worth retrying: 5xx or 429.
type StatusError struct {
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("upstream responded %d %s", e.StatusCode, http.StatusText(e.StatusCode))
}

func isThrottled(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && se.StatusCode == http.StatusTooManyRequests
}

// Client is an http.Client guarded by a circuit breaker and a retry policy.
// It satisfies the HTTPDoer interfaces of the provider packages.
type Client struct {
	name     string
	http     *http.Client
	breaker  *gobreaker.CircuitBreaker[*http.Response]
	registry *Registry
	config   ClientConfig
	logger   zerolog.Logger
}

// NewClient creates an upstream client and registers it with cfg.Registry, if set.
func NewClient(cfg ClientConfig) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 3
	}
	if cfg.InitialInterval == 0 {
		cfg.InitialInterval = 100 * time.Millisecond
	}
	if cfg.MaxInterval == 0 {
		cfg.MaxInterval = 5 * time.Second
	}
	breakerCfg := DefaultBreakerConfig(cfg.Name)
	if cfg.Breaker != nil {
		breakerCfg = *cfg.Breaker
	}

	logger := cfg.Logger.With().Str("upstream", cfg.Name).Logger()
	userHook := breakerCfg.OnStateChange
	breakerCfg.OnStateChange = func(name string, from, to gobreaker.State) {
		logger.Warn().
			Str("from", from.String()).
			Str("to", to.String()).
			Msg("circuit breaker state changed")
		if userHook != nil {
			userHook(name, from, to)
		}
	}

	c := &Client{
		name:     cfg.Name,
		http:     &http.Client{Timeout: cfg.Timeout},
		breaker:  newBreaker(breakerCfg),
		registry: cfg.Registry,
		config:   cfg,
		logger:   logger,
	}
	if c.registry != nil {
		c.registry.Register(c)
	}
	return c
}

// Name returns the upstream name.
func (c *Client) Name() string {
	return c.name
}

// Do sends req, retrying network errors, 5xx and 429 responses with exponential
// backoff. Once retries are exhausted the last retryable response is returned
// with a nil error so callers can inspect it. Other 4xx responses are returned
// at once. While the circuit is open Do fails fast with ErrCircuitOpen.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	ctx := req.Context()

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.config.InitialInterval
	bo.MaxInterval = c.config.MaxInterval
	bo.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(bo, c.config.MaxRetries), ctx)

	var last *http.Response
	keep := func(resp *http.Response) {
		if last != nil && last != resp {
			last.Body.Close()
		}
		last = resp
	}

	attempts := 0
	err := backoff.Retry(func() error {
		attempts++
		resp, err := c.attempt(ctx, req)
		if resp != nil {
			keep(resp)
		}
		if errors.Is(err, ErrCircuitOpen) {
			return backoff.Permanent(err)
		}
		return err
	}, policy)

	if err != nil {
		c.record(err)
		if last != nil {
			c.logger.Debug().Int("attempts", attempts).Int("status", last.StatusCode).Msg("upstream retries exhausted")
			return last, nil
		}
		return nil, err
	}
	c.record(nil)
	return last, nil
}

// attempt sends one copy of req through the breaker.
func (c *Client) attempt(ctx context.Context, req *http.Request) (*http.Response, error) {
	clone, err := cloneRequest(ctx, req)
	if err != nil {
		return nil, backoff.Permanent(err)
	}

	//nolint:bodyclose // the caller closes the returned response
	resp, err := c.breaker.Execute(func() (*http.Response, error) {
		r, err := c.http.Do(clone)
		if err != nil {
			return nil, err
		}
		if r.StatusCode >= http.StatusInternalServerError || r.StatusCode == http.StatusTooManyRequests {
			return r, &StatusError{StatusCode: r.StatusCode}
		}
		return r, nil
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, ErrCircuitOpen
	}
	return resp, err
}

// cloneRequest copies req for one attempt, rewinding the body when possible.
func cloneRequest(ctx context.Context, req *http.Request) (*http.Request, error) {
	clone := req.Clone(ctx)
	if req.Body == nil || req.Body == http.NoBody || req.GetBody == nil {
		return clone, nil
	}
	body, err := req.GetBody()
	if err != nil {
		return nil, err
	}
	clone.Body = io.NopCloser(body)
	return clone, nil
}

func (c *Client) record(err error) {
	if c.registry != nil {
		c.registry.record(c.name, err)
	}
}

// State returns the breaker state.
func (c *Client) State() gobreaker.State {
	return c.breaker.State()
}

// Counts returns the breaker counters for the current interval.
func (c *Client) Counts() gobreaker.Counts {
	return c.breaker.Counts()
}
