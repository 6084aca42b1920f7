// Package handler provides HTTP handlers for the calendar API.
package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/mapcal/mapcal/internal/api/models"
	"github.com/mapcal/mapcal/internal/api/response"
	"github.com/mapcal/mapcal/internal/calendar"
	"github.com/mapcal/mapcal/internal/store"
)

// DefaultNumDays is the window of a calendar created without a document.
const DefaultNumDays = 7

// CreateCalendarRequest is the body of POST /v1/calendars. Both fields are optional.
type CreateCalendarRequest struct {
	ID       string             `json:"id,omitempty"`
	Document *calendar.Document `json:"document,omitempty"`
}

// CalendarHandler serves calendar documents from the revisioned store.
type CalendarHandler struct {
	store  *store.Store
	now    func() time.Time
	logger zerolog.Logger
}

// CalendarHandlerConfig holds configuration for the calendar handler.
type CalendarHandlerConfig struct {
	Store  *store.Store
	Logger zerolog.Logger

	// Now overrides the clock that dates new calendars (optional).
	Now func() time.Time
}

// NewCalendarHandler creates a new CalendarHandler.
func NewCalendarHandler(cfg CalendarHandlerConfig) *CalendarHandler {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &CalendarHandler{
		store:  cfg.Store,
		now:    now,
		logger: cfg.Logger,
	}
}

// ListCalendars handles GET /v1/calendars.
func (h *CalendarHandler) ListCalendars(w http.ResponseWriter, r *http.Request) {
	response.JSON(w, r, http.StatusOK, models.IDList{Items: h.store.List(r.Context())})
}

// CreateCalendar handles POST /v1/calendars. A missing id is generated and a
// missing document becomes an empty week starting today.
func (h *CalendarHandler) CreateCalendar(w http.ResponseWriter, r *http.Request) {
	var input CreateCalendarRequest
	if r.ContentLength != 0 && !decodeJSON(w, r, &input) {
		return
	}

	id := input.ID
	if id == "" {
		id = uuid.New().String()
	}

	var doc calendar.Document
	if input.Document != nil {
		doc = *input.Document
	} else {
		doc = calendar.New(h.now().UTC().Format(calendar.DateLayout), DefaultNumDays)
	}

	entry, err := h.store.Create(r.Context(), id, doc)
	if err != nil {
		writeStoreError(w, r, h.logger, err)
		return
	}
	response.Created(w, r, "/v1/calendars/"+entry.ID, entry)
}

// GetCalendar handles GET /v1/calendars/{calendarId}.
func (h *CalendarHandler) GetCalendar(w http.ResponseWriter, r *http.Request) {
	entry, err := h.store.Get(r.Context(), chi.URLParam(r, "calendarId"))
	if err != nil {
		writeStoreError(w, r, h.logger, err)
		return
	}
	response.JSON(w, r, http.StatusOK, entry)
}

// SaveCalendar handles PUT /v1/calendars/{calendarId}.
//
// The body carries the client's document, the last server document it saw and
// that document's revision. A save against an older revision is merged with the
// current document; the response is the document the server now holds.
func (h *CalendarHandler) SaveCalendar(w http.ResponseWriter, r *http.Request) {
	var input calendar.SaveRequest
	if !decodeJSON(w, r, &input) {
		return
	}

	if input.Document.Events == nil {
		input.Document.Events = make(map[int][]calendar.Event)
	}
	base := input.Document
	if input.Base != nil {
		base = *input.Base
	} else if input.BaseRevision != nil {
		response.BadRequest(w, r, "baseRevision requires base", []models.FieldError{
			{Field: "base", Message: "is required when baseRevision is set"},
		})
		return
	}

	entry, err := h.store.Put(r.Context(), chi.URLParam(r, "calendarId"), input.Document, base, input.BaseRevision)
	if err != nil {
		writeStoreError(w, r, h.logger, err)
		return
	}
	response.JSON(w, r, http.StatusOK, entry)
}

// DeleteCalendar handles DELETE /v1/calendars/{calendarId}.
func (h *CalendarHandler) DeleteCalendar(w http.ResponseWriter, r *http.Request) {
	if err := h.store.Delete(r.Context(), chi.URLParam(r, "calendarId")); err != nil {
		writeStoreError(w, r, h.logger, err)
		return
	}
	response.NoContent(w, r)
}
