package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/mapcal/mapcal/internal/api/response"
	"github.com/mapcal/mapcal/internal/export"
	"github.com/mapcal/mapcal/internal/store"
)

// ContentTypeICS is the media type of iCalendar feeds.
const ContentTypeICS = "text/calendar; charset=utf-8"

// ExportHandler renders calendars as iCalendar feeds.
type ExportHandler struct {
	store    *store.Store
	location *time.Location
	logger   zerolog.Logger
}

// NewExportHandler creates a new ExportHandler. Event times are interpreted in loc
// unless the request names a timezone (default: UTC).
func NewExportHandler(s *store.Store, loc *time.Location, logger zerolog.Logger) *ExportHandler {
	if loc == nil {
		loc = time.UTC
	}
	return &ExportHandler{
		store:    s,
		location: loc,
		logger:   logger,
	}
}

// ExportICS handles GET /v1/calendars/{calendarId}/export.ics.
func (h *ExportHandler) ExportICS(w http.ResponseWriter, r *http.Request) {
	loc := h.location
	if tz := r.URL.Query().Get("tz"); tz != "" {
		l, err := time.LoadLocation(tz)
		if err != nil {
			response.BadRequest(w, r, "unknown IANA timezone", nil)
			return
		}
		loc = l
	}

	id := chi.URLParam(r, "calendarId")
	entry, err := h.store.Get(r.Context(), id)
	if err != nil {
		writeStoreError(w, r, h.logger, err)
		return
	}

	feed, err := export.ICS(entry.Document, export.ICSOptions{
		Name:     id,
		Location: loc,
		Stamp:    entry.UpdatedAt,
	})
	if err != nil {
		h.logger.Error().Err(err).Str("calendar_id", id).Msg("rendering ics feed")
		response.InternalError(w, r, "calendar could not be exported")
		return
	}

	w.Header().Set("Content-Disposition", `attachment; filename="`+id+`.ics"`)
	response.Raw(w, r, http.StatusOK, ContentTypeICS, []byte(feed))
}
