// Package planner turns free-form requests into calendar events proposed by a language
// model, normalized and placed into the current calendar without overlaps.
package planner

import (
	"context"
	"errors"
)

// Sentinel errors for planning operations.
var (
	// ErrModelUnavailable indicates the planning model could not be reached.
	ErrModelUnavailable = errors.New("planning model unavailable")

	// ErrMalformedOutput indicates the model replied with something that is not a plan.
	ErrMalformedOutput = errors.New("malformed model output")
)

// Status is the outcome of a planning round.
type Status string

const (
	// StatusReady means the model produced a plan.
	StatusReady Status = "ready"
	// StatusNeedsClarification means the model needs more information.
	StatusNeedsClarification Status = "needs_clarification"
)

// Message is one turn of the planning conversation.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Chat roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ContextEvent is an existing event as shown to the model.
type ContextEvent struct {
	Date        string `json:"date"`
	Start       string `json:"start"`
	End         string `json:"end"`
	Title       string `json:"title"`
	Location    string `json:"location,omitempty"`
	Destination string `json:"destination,omitempty"`
}

// Context is the calendar state the model plans against.
type Context struct {
	WindowStart string         `json:"windowStart"`
	WindowEnd   string         `json:"windowEnd"`
	NumDays     int            `json:"numDays"`
	StartHour   int            `json:"startHour"`
	EndHour     int            `json:"endHour"`
	Timezone    string         `json:"timezone"`
	FocusDate   string         `json:"focusDate,omitempty"`
	Events      []ContextEvent `json:"events"`
}

// Result is what the model proposes.
type Result struct {
	Status  Status     `json:"status"`
	Message string     `json:"message"`
	Events  []RawEvent `json:"events"`
}

// Model is the planning-model collaborator.
type Model interface {
	// Propose asks the model for events given the calendar context and conversation.
	Propose(ctx context.Context, pc Context, history []Message) (*Result, error)
	// Name returns the model provider identifier for logging.
	Name() string
}

// Error provides detailed error information from the planning model provider.
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
