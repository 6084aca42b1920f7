package syncclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/mapcal/mapcal/internal/calendar"
	"github.com/mapcal/mapcal/internal/planner"
	"github.com/mapcal/mapcal/internal/provider/resilience"
	"github.com/mapcal/mapcal/internal/store"
)

// Transport reads and writes calendar documents on the store server.
type Transport interface {
	// Get returns the current entry for id. Returns ErrNotFound for an unknown id
	// and an error wrapping ErrUnreachable when the server cannot be reached.
	Get(ctx context.Context, id string) (*store.Entry, error)
	// Put saves a document and returns the entry the server accepted.
	Put(ctx context.Context, id string, req calendar.SaveRequest) (*store.Entry, error)
	// Delete removes id. Returns ErrNotFound for an unknown id.
	Delete(ctx context.Context, id string) error
}

// HTTPDoer is an interface for executing HTTP requests.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// TransportName identifies the store client in the provider registry.
const TransportName = "mapcal-store"

// HTTPTransportConfig holds configuration for the HTTP transport.
type HTTPTransportConfig struct {
	// BaseURL is the API server base URL (required), e.g. http://localhost:8080.
	BaseURL string

	// HTTPClient is the HTTP client to use (optional).
	// If nil, uses a resilient client with short retries.
	HTTPClient HTTPDoer

	// Timeout is the request timeout (optional, defaults to 5s).
	Timeout time.Duration

	// Registry is the provider registry for health tracking (optional).
	Registry *resilience.Registry

	// Logger for transport operations.
	Logger zerolog.Logger
}

// HTTPTransport talks to the calendar API over HTTP.
type HTTPTransport struct {
	baseURL    string
	httpClient HTTPDoer
	logger     zerolog.Logger
}

// NewHTTPTransport creates a new HTTP transport.
func NewHTTPTransport(cfg HTTPTransportConfig) *HTTPTransport {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 5 * time.Second
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		clientCfg := resilience.DefaultClientConfig(TransportName)
		clientCfg.Timeout = timeout
		clientCfg.Logger = cfg.Logger
		// The poll loop is the retry; keep individual calls short.
		clientCfg.MaxRetries = 1
		clientCfg.Registry = cfg.Registry
		httpClient = resilience.NewClient(clientCfg)
	}

	return &HTTPTransport{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: httpClient,
		logger:     cfg.Logger,
	}
}

// Get fetches the current entry for id.
func (t *HTTPTransport) Get(ctx context.Context, id string) (*store.Entry, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.calendarURL(id), http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	return t.do(req)
}

// Put saves a document.
func (t *HTTPTransport) Put(ctx context.Context, id string, save calendar.SaveRequest) (*store.Entry, error) {
	body, err := json.Marshal(save)
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, t.calendarURL(id), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return t.do(req)
}

// List returns the ids of all calendars on the server.
func (t *HTTPTransport) List(ctx context.Context) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.baseURL+"/v1/calendars", http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	var list struct {
		Items []string `json:"items"`
	}
	if err := t.roundTrip(req, &list); err != nil {
		return nil, err
	}
	return list.Items, nil
}

// Create registers a calendar. An empty id lets the server generate one and a nil
// document starts an empty week.
func (t *HTTPTransport) Create(ctx context.Context, id string, doc *calendar.Document) (*store.Entry, error) {
	body, err := json.Marshal(struct {
		ID       string             `json:"id,omitempty"`
		Document *calendar.Document `json:"document,omitempty"`
	}{ID: id, Document: doc})
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+"/v1/calendars", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return t.do(req)
}

// Delete removes a calendar.
func (t *HTTPTransport) Delete(ctx context.Context, id string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, t.calendarURL(id), http.NoBody)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	return t.roundTrip(req, nil)
}

// Plan asks the server for a proposal. The proposal is not applied.
func (t *HTTPTransport) Plan(ctx context.Context, id string, plan planner.Request) (*planner.Proposal, error) {
	body, err := json.Marshal(plan)
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.calendarURL(id)+"/plan", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	var proposal planner.Proposal
	if err := t.roundTrip(req, &proposal); err != nil {
		return nil, err
	}
	return &proposal, nil
}

func (t *HTTPTransport) calendarURL(id string) string {
	return t.baseURL + "/v1/calendars/" + url.PathEscape(id)
}

func (t *HTTPTransport) do(req *http.Request) (*store.Entry, error) {
	var entry store.Entry
	if err := t.roundTrip(req, &entry); err != nil {
		return nil, err
	}
	if entry.Document.Events == nil {
		entry.Document.Events = make(map[int][]calendar.Event)
	}

	t.logger.Debug().
		Str("method", req.Method).
		Str("calendar_id", entry.ID).
		Int64("revision", entry.Revision).
		Msg("store round trip")

	return &entry, nil
}

// roundTrip executes req and decodes a successful response into out, if non-nil.
func (t *HTTPTransport) roundTrip(req *http.Request, out interface{}) error {
	req.Header.Set("Accept", "application/json")

	resp, err := t.httpClient.Do(req)
	if err != nil {
		if ctxErr := req.Context().Err(); ctxErr != nil {
			return ctxErr
		}
		return fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: reading response body: %v", ErrUnreachable, err)
	}

	switch {
	case resp.StatusCode == http.StatusOK, resp.StatusCode == http.StatusCreated:
	case resp.StatusCode == http.StatusNoContent:
		return nil
	case resp.StatusCode == http.StatusNotFound:
		return ErrNotFound
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return fmt.Errorf("%w: server returned status %d", ErrUnreachable, resp.StatusCode)
	default:
		return rejection(resp.StatusCode, respBody)
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

// RejectedError is returned when the server refuses a request it understood,
// such as a save with a malformed document.
type RejectedError struct {
	StatusCode int
	Detail     string
}

func (e *RejectedError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("request rejected with status %d", e.StatusCode)
	}
	return fmt.Sprintf("request rejected with status %d: %s", e.StatusCode, e.Detail)
}

func rejection(status int, body []byte) error {
	var problem struct {
		Detail string `json:"detail"`
		Errors []struct {
			Field   string `json:"field"`
			Message string `json:"message"`
		} `json:"errors"`
	}
	detail := ""
	if err := json.Unmarshal(body, &problem); err == nil {
		detail = problem.Detail
		if len(problem.Errors) > 0 {
			detail += fmt.Sprintf(" (%s: %s)", problem.Errors[0].Field, problem.Errors[0].Message)
		}
	}
	return &RejectedError{StatusCode: status, Detail: strings.TrimSpace(detail)}
}

// IsUnreachable reports whether err means the server could not be reached.
func IsUnreachable(err error) bool {
	return errors.Is(err, ErrUnreachable)
}
