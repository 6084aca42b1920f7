package models_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mapcal/mapcal/internal/api/models"
)

func TestNew(t *testing.T) {
	p := models.New(models.KindValidation, "req_test123", "invalid document",
		models.FieldError{Field: "numDays", Message: "must be at least 1"},
		models.FieldError{Field: "events.2[0].endMinutes", Message: "must be after startMinutes", Code: "ORDER"},
	)

	assert.Equal(t, "https://mapcal.dev/problems/validation-error", p.Type)
	assert.Equal(t, "Validation error", p.Title)
	assert.Equal(t, http.StatusBadRequest, p.Status)
	assert.Equal(t, "req_test123", p.RequestID)
	assert.Equal(t, "invalid document", p.Detail)
	require.Len(t, p.Errors, 2)
	assert.Equal(t, "ORDER", p.Errors[1].Code)
	assert.True(t, p.Is(models.KindValidation))
	assert.False(t, p.Is(models.KindConflict))
}

func TestProblem_Write(t *testing.T) {
	p := models.New(models.KindValidation, "req_test123", "invalid document",
		models.FieldError{Field: "startDate", Message: "must be a YYYY-MM-DD date"})
	p.Instance = "/v1/calendars/paris"

	w := httptest.NewRecorder()
	p.Write(w)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "application/problem+json", w.Header().Get("Content-Type"))
	assert.Equal(t, "no-store", w.Header().Get("Cache-Control"))
	assert.Equal(t, "req_test123", w.Header().Get("X-Request-Id"))

	var result models.Problem
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &result))
	assert.Equal(t, *p, result)
}

func TestProblem_WriteWithoutStatus(t *testing.T) {
	w := httptest.NewRecorder()
	(&models.Problem{Title: "broken"}).Write(w)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Empty(t, w.Header().Get("X-Request-Id"))
	assert.NotContains(t, w.Body.String(), "requestId")
}

func TestKinds(t *testing.T) {
	tests := []struct {
		kind   models.Kind
		slug   string
		status int
	}{
		{models.KindValidation, "validation-error", http.StatusBadRequest},
		{models.KindTLSRequired, "tls-required", http.StatusForbidden},
		{models.KindNotFound, "not-found", http.StatusNotFound},
		{models.KindConflict, "conflict", http.StatusConflict},
		{models.KindUnsupportedMediaType, "unsupported-media-type", http.StatusUnsupportedMediaType},
		{models.KindTooManyRequests, "too-many-requests", http.StatusTooManyRequests},
		{models.KindInternal, "internal-error", http.StatusInternalServerError},
		{models.KindUnavailable, "service-unavailable", http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.slug, func(t *testing.T) {
			assert.Equal(t, "https://mapcal.dev/problems/"+tt.slug, tt.kind.URI())
			assert.Equal(t, tt.status, tt.kind.Status())
			assert.NotEmpty(t, tt.kind.Title())
		})
	}
}
