package models

import (
	"encoding/json"
	"net/http"
)

const problemBase = "https://mapcal.dev/problems/"

// Kind classifies a problem. Every kind has a fixed type URI, title and status.
type Kind struct {
	slug   string
	title  string
	status int
}

var (
	KindValidation           = Kind{"validation-error", "Validation error", http.StatusBadRequest}
	KindTLSRequired          = Kind{"tls-required", "TLS required", http.StatusForbidden}
	KindNotFound             = Kind{"not-found", "Not found", http.StatusNotFound}
	KindConflict             = Kind{"conflict", "Conflict", http.StatusConflict}
	KindUnsupportedMediaType = Kind{"unsupported-media-type", "Unsupported media type", http.StatusUnsupportedMediaType}
	KindTooManyRequests      = Kind{"too-many-requests", "Too many requests", http.StatusTooManyRequests}
	KindInternal             = Kind{"internal-error", "Internal server error", http.StatusInternalServerError}
	KindUnavailable          = Kind{"service-unavailable", "Service unavailable", http.StatusServiceUnavailable}
)

// URI is the problem type reference written to the type member.
func (k Kind) URI() string { return problemBase + k.slug }

func (k Kind) Title() string { return k.title }

func (k Kind) Status() int { return k.status }

// Problem is an RFC 7807 body served as application/problem+json.
// RequestID echoes the X-Request-Id header so clients can quote it.
type Problem struct {
	Type      string       `json:"type"`
	Title     string       `json:"title"`
	Status    int          `json:"status"`
	Detail    string       `json:"detail,omitempty"`
	Instance  string       `json:"instance,omitempty"`
	RequestID string       `json:"requestId,omitempty"`
	Errors    []FieldError `json:"errors,omitempty"`
}

// FieldError points at one invalid member of a request body, using a dotted path
// such as events.2[0].endMinutes.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// New builds a problem of the given kind.
func New(kind Kind, requestID, detail string, errs ...FieldError) *Problem {
	return &Problem{
		Type:      kind.URI(),
		Title:     kind.title,
		Status:    kind.status,
		Detail:    detail,
		RequestID: requestID,
		Errors:    errs,
	}
}

// Is reports whether p was built from kind.
func (p *Problem) Is(kind Kind) bool {
	return p.Type == kind.URI()
}

// Write sends p with its status code. A problem without a status is sent as 500.
func (p *Problem) Write(w http.ResponseWriter) {
	status := p.Status
	if status == 0 {
		status = http.StatusInternalServerError
	}
	h := w.Header()
	h.Set("Content-Type", "application/problem+json")
	h.Set("Cache-Control", "no-store")
	if p.RequestID != "" {
		h.Set("X-Request-Id", p.RequestID)
	}
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(p)
}
