// Package openai provides a planning model backed by an OpenAI-compatible
// chat completions API.
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/mapcal/mapcal/internal/planner"
	"github.com/mapcal/mapcal/internal/provider/resilience"
)

const (
	// ProviderName identifies this model provider.
	ProviderName = "openai"

	// DefaultBaseURL is the OpenAI API base URL.
	DefaultBaseURL = "https://api.openai.com"

	// DefaultModel is the chat model used when none is configured.
	DefaultModel = "gpt-4o-mini"

	// DefaultTimeout is the default request timeout. Completions are slow.
	DefaultTimeout = 60 * time.Second
)

const systemPrompt = `You plan events for a shared calendar.
Reply with a single JSON object and nothing else:
{"status":"ready"|"needs_clarification","message":string,"events":[{"date":"YYYY-MM-DD","startTime":"HH:MM","endTime":"HH:MM","title":string,"description":string,"color":"#RRGGBB","origin":string,"destination":string,"routeMode":"walk"|"bike"|"drive"}]}
Use 24-hour times. Do not overlap existing events. If the request is ambiguous, use
status "needs_clarification", an empty events list and ask one short question.
The calendar context follows as JSON.`

// HTTPDoer is an interface for executing HTTP requests.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// ClientConfig holds configuration for the chat completions client.
type ClientConfig struct {
	// APIKey is the bearer token (required for the hosted API).
	APIKey string

	// BaseURL is the API base URL (optional, defaults to the OpenAI API).
	BaseURL string

	// Model is the chat model name (optional).
	Model string

	// HTTPClient is the HTTP client to use (optional).
	// If nil, uses a resilient client with defaults.
	HTTPClient HTTPDoer

	// Timeout is the request timeout (optional, defaults to 60s).
	Timeout time.Duration

	// Registry is the provider registry for health tracking (optional).
	Registry *resilience.Registry

	// Logger for client operations.
	Logger zerolog.Logger
}

// Client is a chat completions planning model.
type Client struct {
	apiKey     string
	baseURL    string
	model      string
	httpClient HTTPDoer
	logger     zerolog.Logger
}

// NewClient creates a new chat completions client.
func NewClient(cfg ClientConfig) *Client {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	model := cfg.Model
	if model == "" {
		model = DefaultModel
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
		clientCfg.MaxRetries = 1
		clientCfg.Registry = cfg.Registry
		httpClient = resilience.NewClient(clientCfg)
	}

	return &Client{
		apiKey:     cfg.APIKey,
		baseURL:    baseURL,
		model:      model,
		httpClient: httpClient,
		logger:     cfg.Logger,
	}
}

// Name returns the provider name.
func (c *Client) Name() string {
	return ProviderName
}

// Propose asks the model for a plan.
func (c *Client) Propose(ctx context.Context, pc planner.Context, history []planner.Message) (*planner.Result, error) {
	calendarJSON, err := json.Marshal(pc)
	if err != nil {
		return nil, fmt.Errorf("marshaling context: %w", err)
	}

	messages := make([]chatMessage, 0, len(history)+2)
	messages = append(messages,
		chatMessage{Role: "system", Content: systemPrompt},
		chatMessage{Role: "system", Content: string(calendarJSON)},
	)
	for _, m := range history {
		role := m.Role
		if role != planner.RoleAssistant {
			role = planner.RoleUser
		}
		messages = append(messages, chatMessage{Role: role, Content: m.Content})
	}

	body, err := json.Marshal(chatRequest{
		Model:          c.model,
		Messages:       messages,
		ResponseFormat: &responseFormat{Type: "json_object"},
		Temperature:    0.2,
	})
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	url := c.baseURL + "/v1/chat/completions"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	c.logger.Debug().
		Str("model", c.model).
		Int("messages", len(history)).
		Int("existing_events", len(pc.Events)).
		Msg("requesting plan from model")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, &planner.Error{
			Provider: ProviderName,
			Code:     "REQUEST_FAILED",
			Message:  "failed to reach planning model",
			Err:      planner.ErrModelUnavailable,
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

	var chatResp chatResponse
	if err := json.Unmarshal(respBody, &chatResp); err != nil {
		return nil, malformed("response is not a chat completion", err)
	}
	if len(chatResp.Choices) == 0 {
		return nil, malformed("response has no choices", nil)
	}

	result, err := ParseResult(chatResp.Choices[0].Message.Content)
	if err != nil {
		return nil, err
	}

	c.logger.Debug().
		Str("status", string(result.Status)).
		Int("event_count", len(result.Events)).
		Msg("received plan from model")

	return result, nil
}

// ParseResult decodes the model's JSON reply. Code fences around the object are tolerated.
func ParseResult(content string) (*planner.Result, error) {
	content = strings.TrimSpace(content)
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")
	content = strings.TrimSpace(content)

	var result planner.Result
	if err := json.Unmarshal([]byte(content), &result); err != nil {
		return nil, malformed("model reply is not valid JSON", err)
	}

	switch result.Status {
	case planner.StatusReady:
	case planner.StatusNeedsClarification:
		result.Events = nil
	default:
		return nil, malformed(fmt.Sprintf("unknown status %q", result.Status), nil)
	}

	return &result, nil
}

func malformed(msg string, err error) error {
	if err != nil {
		err = fmt.Errorf("%w: %w", planner.ErrMalformedOutput, err)
	} else {
		err = planner.ErrMalformedOutput
	}
	return &planner.Error{
		Provider: ProviderName,
		Code:     "MALFORMED_OUTPUT",
		Message:  msg,
		Err:      err,
	}
}

// handleErrorResponse maps API error responses to domain errors.
func (c *Client) handleErrorResponse(statusCode int, body []byte) error {
	var apiErr apiErrorResponse
	message := fmt.Sprintf("planning model returned status %d", statusCode)
	if err := json.Unmarshal(body, &apiErr); err == nil && apiErr.Error.Message != "" {
		message = apiErr.Error.Message
	}

	c.logger.Error().
		Int("status", statusCode).
		Str("error", message).
		Msg("planning model request failed")

	switch {
	case statusCode == http.StatusTooManyRequests:
		return &planner.Error{
			Provider: ProviderName,
			Code:     "RATE_LIMIT",
			Message:  message,
			Err:      planner.ErrModelUnavailable,
		}
	case statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden:
		return &planner.Error{
			Provider: ProviderName,
			Code:     "UNAUTHORIZED",
			Message:  "API access denied - check API key configuration",
			Err:      planner.ErrModelUnavailable,
		}
	case statusCode >= 500:
		return &planner.Error{
			Provider: ProviderName,
			Code:     fmt.Sprintf("SERVER_%d", statusCode),
			Message:  "planning model is temporarily unavailable",
			Err:      planner.ErrModelUnavailable,
		}
	default:
		return &planner.Error{
			Provider: ProviderName,
			Code:     fmt.Sprintf("HTTP_%d", statusCode),
			Message:  message,
			Err:      planner.ErrModelUnavailable,
		}
	}
}
