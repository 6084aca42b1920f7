// Package openrouteservice fetches event routes from the OpenRouteService
// directions API.
package openrouteservice

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog"

	"github.com/mapcal/mapcal/internal/provider/resilience"
	"github.com/mapcal/mapcal/internal/routing"
)

const (
	// ProviderName identifies this routing provider.
	ProviderName = "openrouteservice"

	// DefaultBaseURL is the OpenRouteService API base URL.
	DefaultBaseURL = "https://api.openrouteservice.org"

	// DefaultTimeout bounds one directions request.
	DefaultTimeout = 10 * time.Second

	// maxResponseBytes caps the directions payload; geometry is an encoded polyline.
	maxResponseBytes = 2 << 20
)

// HTTPDoer executes HTTP requests. *resilience.Client satisfies it.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// ClientConfig holds configuration for the OpenRouteService client.
type ClientConfig struct {
	APIKey  string
	BaseURL string

	// HTTPClient defaults to a resilience.Client registered as ProviderName.
	HTTPClient HTTPDoer
	Timeout    time.Duration
	Registry   *resilience.Registry

	Logger zerolog.Logger
}

// Client is an OpenRouteService directions client.
type Client struct {
	apiKey     string
	baseURL    string
	httpClient HTTPDoer
	logger     zerolog.Logger
	now        func() time.Time
}

// NewClient creates a new OpenRouteService client.
func NewClient(cfg ClientConfig) *Client {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = DefaultTimeout
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		clientCfg := resilience.DefaultClientConfig(ProviderName)
		clientCfg.Timeout = timeout
		clientCfg.Logger = cfg.Logger
		clientCfg.Registry = cfg.Registry
		httpClient = resilience.NewClient(clientCfg)
	}

	return &Client{
		apiKey:     cfg.APIKey,
		baseURL:    baseURL,
		httpClient: httpClient,
		logger:     cfg.Logger.With().Str("provider", ProviderName).Logger(),
		now:        time.Now,
	}
}

// Name returns the provider name.
func (c *Client) Name() string {
	return ProviderName
}

// SupportedProfiles returns the profiles events can request through their route mode.
func (c *Client) SupportedProfiles() []routing.RouteProfile {
	return []routing.RouteProfile{routing.ProfileWalk, routing.ProfileBike, routing.ProfileDrive}
}

// GetDirections fetches the recommended route between an event's location and
// destination.
func (c *Client) GetDirections(ctx context.Context, req routing.DirectionsRequest) (*routing.DirectionsResponse, error) {
	if validateCoordinates(req.Origin) != nil {
		return nil, fail("INVALID_ORIGIN", "invalid origin coordinates", routing.ErrInvalidCoordinates)
	}
	if validateCoordinates(req.Destination) != nil {
		return nil, fail("INVALID_DESTINATION", "invalid destination coordinates", routing.ErrInvalidCoordinates)
	}

	// GeoJSON order: lon, lat.
	body, err := json.Marshal(directionsRequest{
		Coordinates: [][2]float64{
			{req.Origin.Lon, req.Origin.Lat},
			{req.Destination.Lon, req.Destination.Lat},
		},
		Preference: "recommended",
		Units:      "m",
		Geometry:   true,
	})
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	endpoint := c.baseURL + "/v2/directions/" + url.PathEscape(string(req.Profile))
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	httpReq.Header.Set("Authorization", c.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json, application/geo+json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		c.logger.Debug().Err(err).Str("profile", string(req.Profile)).Msg("directions request failed")
		return nil, fail("REQUEST_FAILED", "failed to reach routing provider", routing.ErrProviderUnavailable)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("reading response body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, statusError(resp.StatusCode, payload)
	}

	var decoded directionsResponse
	if err := json.Unmarshal(payload, &decoded); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}
	if len(decoded.Routes) == 0 {
		return nil, fail("NO_ROUTE", "provider returned no routes", routing.ErrNoRouteFound)
	}

	best := decoded.Routes[0]
	out := &routing.DirectionsResponse{
		Route: routing.Route{
			GeometryPolyline: best.Geometry,
			DistanceMeters:   int(best.Summary.Distance),
			DurationSeconds:  int(best.Summary.Duration),
		},
		Provider:  ProviderName,
		FetchedAt: c.now(),
	}

	c.logger.Debug().
		Str("profile", string(req.Profile)).
		Int("distance_m", out.Route.DistanceMeters).
		Int("duration_s", out.Route.DurationSeconds).
		Msg("directions received")
	return out, nil
}

// statusError maps a non-200 response to a routing error.
func statusError(status int, payload []byte) error {
	var body errorResponse
	if json.Unmarshal(payload, &body) != nil || body.Error.Message == "" {
		body.Error.Message = fmt.Sprintf("routing provider returned status %d", status)
	}
	msg := body.Error.Message

	switch {
	case status == http.StatusTooManyRequests:
		return fail("RATE_LIMIT", "routing quota exceeded", routing.ErrRateLimitExceeded)
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return fail("FORBIDDEN", "routing API key rejected", routing.ErrProviderUnavailable)
	case status == http.StatusNotFound || body.Error.Code == errorCodeRouteNotFound:
		return fail("NO_ROUTE", msg, routing.ErrNoRouteFound)
	case status == http.StatusBadRequest:
		return fail("BAD_REQUEST", msg, routing.ErrInvalidCoordinates)
	case status >= http.StatusInternalServerError:
		return fail(fmt.Sprintf("SERVER_%d", status), "routing provider is temporarily unavailable", routing.ErrProviderUnavailable)
	default:
		return fail(fmt.Sprintf("HTTP_%d", status), msg, routing.ErrProviderUnavailable)
	}
}

func fail(code, msg string, err error) *routing.Error {
	return &routing.Error{Provider: ProviderName, Code: code, Message: msg, Err: err}
}

func validateCoordinates(c routing.Coordinate) error {
	if c.Lat < -90 || c.Lat > 90 {
		return fmt.Errorf("latitude %f out of range [-90, 90]", c.Lat)
	}
	if c.Lon < -180 || c.Lon > 180 {
		return fmt.Errorf("longitude %f out of range [-180, 180]", c.Lon)
	}
	return nil
}
