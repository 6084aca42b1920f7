// Package openrouteservice provides a client for the OpenRouteService geocoding API.
package openrouteservice

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/mapcal/mapcal/internal/geocoding"
	"github.com/mapcal/mapcal/internal/provider/resilience"
)

const (
	// ProviderName identifies this geocoding provider.
	ProviderName = "openrouteservice-geocode"

	// DefaultBaseURL is the OpenRouteService API base URL.
	DefaultBaseURL = "https://api.openrouteservice.org"

	// DefaultTimeout is the default request timeout.
	DefaultTimeout = 10 * time.Second

	// DefaultResultSize is the number of matches requested.
	DefaultResultSize = 3
)

// HTTPDoer is an interface for executing HTTP requests.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// ClientConfig holds configuration for the geocoding client.
type ClientConfig struct {
	// APIKey is the ORS API key (required).
	APIKey string

	// BaseURL is the API base URL (optional, defaults to ORS API).
	BaseURL string

	// HTTPClient is the HTTP client to use (optional).
	// If nil, uses a resilient client with defaults.
	HTTPClient HTTPDoer

	// Timeout is the request timeout (optional, defaults to 10s).
	Timeout time.Duration

	// Size is the number of matches requested (optional, defaults to 3).
	Size int

	// Registry is the provider registry for health tracking (optional).
	Registry *resilience.Registry

	// Logger for client operations.
	Logger zerolog.Logger
}

// Client is an OpenRouteService geocoding client.
type Client struct {
	apiKey     string
	baseURL    string
	size       int
	httpClient HTTPDoer
	logger     zerolog.Logger
}

// NewClient creates a new geocoding client.
func NewClient(cfg ClientConfig) *Client {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = DefaultTimeout
	}

	size := cfg.Size
	if size <= 0 {
		size = DefaultResultSize
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
		size:       size,
		httpClient: httpClient,
		logger:     cfg.Logger,
	}
}

// Name returns the provider name.
func (c *Client) Name() string {
	return ProviderName
}

// Search geocodes a free-text query.
func (c *Client) Search(ctx context.Context, query string) ([]geocoding.Result, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, geocoding.ErrEmptyQuery
	}

	params := url.Values{}
	params.Set("api_key", c.apiKey)
	params.Set("text", query)
	params.Set("size", strconv.Itoa(c.size))

	reqURL := c.baseURL + "/geocode/search?" + params.Encode()
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	httpReq.Header.Set("Accept", "application/json, application/geo+json")

	c.logger.Debug().
		Str("query", query).
		Msg("requesting geocode from ORS")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, &geocoding.Error{
			Provider: ProviderName,
			Code:     "REQUEST_FAILED",
			Message:  "failed to reach geocoding provider",
			Err:      geocoding.ErrProviderUnavailable,
		}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, c.handleErrorResponse(resp.StatusCode, respBody)
	}

	var geoResp geocodeResponse
	if err := json.Unmarshal(respBody, &geoResp); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}

	results := toResults(&geoResp)
	if len(results) == 0 {
		return nil, geocoding.ErrNoResults
	}

	c.logger.Debug().
		Str("query", query).
		Int("result_count", len(results)).
		Str("best", results[0].Label).
		Msg("received geocode from ORS")

	return results, nil
}

// handleErrorResponse maps ORS error responses to domain errors.
func (c *Client) handleErrorResponse(statusCode int, body []byte) error {
	message := errorMessage(body)
	if message == "" {
		message = fmt.Sprintf("geocoding provider returned status %d", statusCode)
	}

	switch {
	case statusCode == http.StatusTooManyRequests:
		return &geocoding.Error{
			Provider: ProviderName,
			Code:     "RATE_LIMIT",
			Message:  "API rate limit exceeded, please try again later",
			Err:      geocoding.ErrRateLimitExceeded,
		}
	case statusCode == http.StatusForbidden || statusCode == http.StatusUnauthorized:
		return &geocoding.Error{
			Provider: ProviderName,
			Code:     "FORBIDDEN",
			Message:  "API access denied - check API key configuration",
			Err:      geocoding.ErrProviderUnavailable,
		}
	case statusCode == http.StatusNotFound:
		return &geocoding.Error{
			Provider: ProviderName,
			Code:     "NO_RESULTS",
			Message:  message,
			Err:      geocoding.ErrNoResults,
		}
	case statusCode >= 500:
		return &geocoding.Error{
			Provider: ProviderName,
			Code:     fmt.Sprintf("SERVER_%d", statusCode),
			Message:  "geocoding provider is temporarily unavailable",
			Err:      geocoding.ErrProviderUnavailable,
		}
	default:
		return &geocoding.Error{
			Provider: ProviderName,
			Code:     fmt.Sprintf("HTTP_%d", statusCode),
			Message:  message,
			Err:      geocoding.ErrProviderUnavailable,
		}
	}
}

// errorMessage extracts the message of an ORS error body. ORS reports errors either
// as a plain string or as an object with a message field.
func errorMessage(body []byte) string {
	var orsErr orsErrorResponse
	if err := json.Unmarshal(body, &orsErr); err != nil {
		return ""
	}
	switch v := orsErr.Error.(type) {
	case string:
		return v
	case map[string]any:
		if msg, ok := v["message"].(string); ok {
			return msg
		}
	}
	return ""
}

// toResults converts ORS features to domain results, skipping malformed geometries.
func toResults(resp *geocodeResponse) []geocoding.Result {
	results := make([]geocoding.Result, 0, len(resp.Features))
	for i := range resp.Features {
		f := &resp.Features[i]
		if len(f.Geometry.Coordinates) < 2 {
			continue
		}
		// ORS uses [lon, lat] order (GeoJSON)
		lon, lat := f.Geometry.Coordinates[0], f.Geometry.Coordinates[1]
		if lat < -90 || lat > 90 || lon < -180 || lon > 180 {
			continue
		}
		results = append(results, geocoding.Result{
			Label:      f.Properties.Label,
			Name:       f.Properties.Name,
			Lat:        lat,
			Lon:        lon,
			Confidence: f.Properties.Confidence,
		})
	}
	return results
}
