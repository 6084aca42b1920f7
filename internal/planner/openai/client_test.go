package openai

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/mapcal/mapcal/internal/planner"
)

const readyCompletion = `{
  "id": "chatcmpl-1",
  "model": "gpt-4o-mini",
  "choices": [{
    "index": 0,
    "finish_reason": "stop",
    "message": {
      "role": "assistant",
      "content": "{\"status\":\"ready\",\"message\":\"Added two stops.\",\"events\":[{\"date\":\"2027-01-02\",\"startTime\":\"09:00\",\"endTime\":\"10:00\",\"title\":\"Louvre\",\"origin\":\"Hotel\",\"destination\":\"Louvre\",\"routeMode\":\"walk\"},{\"date\":\"2027-01-02\",\"startTime\":\"12:30\",\"endTime\":\"13:30\",\"title\":\"Lunch\"}]}"
    }
  }]
}`

type mockHTTPClient struct {
	client *http.Client
}

func (m *mockHTTPClient) Do(req *http.Request) (*http.Response, error) {
	return m.client.Do(req)
}

type mockFailingClient struct{}

func (m *mockFailingClient) Do(_ *http.Request) (*http.Response, error) {
	return nil, errors.New("connection refused")
}

func newTestClient(server *httptest.Server) *Client {
	return NewClient(ClientConfig{
		APIKey:     "sk-test",
		BaseURL:    server.URL,
		Model:      "test-model",
		HTTPClient: &mockHTTPClient{client: server.Client()},
		Logger:     zerolog.Nop(),
	})
}

func TestClient_Propose_Success(t *testing.T) {
	var captured chatRequest

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer sk-test" {
			t.Errorf("expected bearer token, got %q", got)
		}
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Errorf("decoding request: %v", err)
		}

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(readyCompletion))
	}))
	defer server.Close()

	client := newTestClient(server)
	result, err := client.Propose(context.Background(), planner.Context{
		WindowStart: "2027-01-01",
		WindowEnd:   "2027-01-05",
		NumDays:     5,
		Timezone:    "Europe/Paris",
	}, []planner.Message{
		{Role: planner.RoleUser, Content: "museum then lunch on the 2nd"},
		{Role: "tool", Content: "unknown roles are sent as user"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if result.Status != planner.StatusReady {
		t.Errorf("expected ready, got %s", result.Status)
	}
	if result.Message != "Added two stops." {
		t.Errorf("unexpected message %q", result.Message)
	}
	if len(result.Events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(result.Events))
	}
	if result.Events[0].Destination != "Louvre" || result.Events[0].RouteMode != "walk" {
		t.Errorf("unexpected first event %+v", result.Events[0])
	}

	if captured.Model != "test-model" {
		t.Errorf("expected model test-model, got %s", captured.Model)
	}
	if captured.ResponseFormat == nil || captured.ResponseFormat.Type != "json_object" {
		t.Errorf("expected json_object response format")
	}
	if len(captured.Messages) != 4 {
		t.Fatalf("expected 4 messages, got %d", len(captured.Messages))
	}
	if !strings.Contains(captured.Messages[1].Content, `"timezone":"Europe/Paris"`) {
		t.Errorf("calendar context missing from prompt: %s", captured.Messages[1].Content)
	}
	if captured.Messages[3].Role != planner.RoleUser {
		t.Errorf("expected role user, got %s", captured.Messages[3].Role)
	}
}

func TestClient_Propose_ErrorMapping(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		body     string
		wantCode string
	}{
		{"rate limited", http.StatusTooManyRequests, `{"error":{"message":"slow down","type":"requests"}}`, "RATE_LIMIT"},
		{"bad key", http.StatusUnauthorized, `{"error":{"message":"invalid key"}}`, "UNAUTHORIZED"},
		{"server error", http.StatusBadGateway, `upstream`, "SERVER_502"},
		{"bad request", http.StatusBadRequest, `{"error":{"message":"bad model"}}`, "HTTP_400"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer server.Close()

			_, err := newTestClient(server).Propose(context.Background(), planner.Context{}, nil)

			var perr *planner.Error
			if !errors.As(err, &perr) {
				t.Fatalf("expected *planner.Error, got %T", err)
			}
			if perr.Code != tt.wantCode {
				t.Errorf("expected code %s, got %s", tt.wantCode, perr.Code)
			}
			if !errors.Is(err, planner.ErrModelUnavailable) {
				t.Errorf("expected ErrModelUnavailable, got %v", err)
			}
		})
	}
}

func TestClient_Propose_MalformedContent(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"Sure! Here is your plan."}}]}`))
	}))
	defer server.Close()

	_, err := newTestClient(server).Propose(context.Background(), planner.Context{}, nil)
	if !errors.Is(err, planner.ErrMalformedOutput) {
		t.Fatalf("expected ErrMalformedOutput, got %v", err)
	}
}

func TestClient_Propose_NetworkError(t *testing.T) {
	client := NewClient(ClientConfig{
		BaseURL:    "http://example.invalid",
		HTTPClient: &mockFailingClient{},
		Logger:     zerolog.Nop(),
	})

	_, err := client.Propose(context.Background(), planner.Context{}, nil)
	if !errors.Is(err, planner.ErrModelUnavailable) {
		t.Fatalf("expected ErrModelUnavailable, got %v", err)
	}
}

func TestParseResult(t *testing.T) {
	tests := []struct {
		name       string
		content    string
		wantErr    bool
		wantStatus planner.Status
		wantEvents int
	}{
		{
			name:       "plain object",
			content:    `{"status":"ready","message":"ok","events":[{"date":"2027-01-01","startTime":"09:00","endTime":"10:00","title":"x"}]}`,
			wantStatus: planner.StatusReady,
			wantEvents: 1,
		},
		{
			name:       "fenced object",
			content:    "```json\n{\"status\":\"ready\",\"message\":\"ok\",\"events\":[]}\n```",
			wantStatus: planner.StatusReady,
		},
		{
			name:       "clarification drops events",
			content:    `{"status":"needs_clarification","message":"Which day?","events":[{"title":"x"}]}`,
			wantStatus: planner.StatusNeedsClarification,
		},
		{name: "unknown status", content: `{"status":"done"}`, wantErr: true},
		{name: "not json", content: `ready`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseResult(tt.content)
			if tt.wantErr {
				if !errors.Is(err, planner.ErrMalformedOutput) {
					t.Fatalf("expected ErrMalformedOutput, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got.Status != tt.wantStatus {
				t.Errorf("expected status %s, got %s", tt.wantStatus, got.Status)
			}
			if len(got.Events) != tt.wantEvents {
				t.Errorf("expected %d events, got %d", tt.wantEvents, len(got.Events))
			}
		})
	}
}

func TestClient_Name(t *testing.T) {
	client := NewClient(ClientConfig{Logger: zerolog.Nop()})
	if client.Name() != ProviderName {
		t.Errorf("expected %s, got %s", ProviderName, client.Name())
	}
}
