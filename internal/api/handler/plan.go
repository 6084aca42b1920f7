package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/mapcal/mapcal/internal/api/middleware"
	"github.com/mapcal/mapcal/internal/api/models"
	"github.com/mapcal/mapcal/internal/api/response"
	"github.com/mapcal/mapcal/internal/planner"
	"github.com/mapcal/mapcal/internal/store"
)

// maxPlanMessages bounds the conversation a client may send in one request.
const maxPlanMessages = 100

// PlanHandler serves planning proposals.
type PlanHandler struct {
	planner *planner.Service
	logger  zerolog.Logger
}

// NewPlanHandler creates a new PlanHandler.
func NewPlanHandler(service *planner.Service, logger zerolog.Logger) *PlanHandler {
	return &PlanHandler{
		planner: service,
		logger:  logger,
	}
}

// Plan handles POST /v1/calendars/{calendarId}/plan.
//
// The proposal is returned to the client and never applied by the server.
func (h *PlanHandler) Plan(w http.ResponseWriter, r *http.Request) {
	var req planner.Request
	if !decodeJSON(w, r, &req) {
		return
	}

	if errs := validatePlanRequest(req); len(errs) > 0 {
		response.BadRequest(w, r, "invalid plan request", errs)
		return
	}

	calendarID := chi.URLParam(r, "calendarId")
	proposal, err := h.planner.Plan(r.Context(), calendarID, req)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			response.NotFound(w, r, "calendar not found")
			return
		}
		h.logger.Error().Err(err).
			Str("calendar_id", calendarID).
			Str("request_id", middleware.GetRequestID(r.Context())).
			Msg("planning failed")
		response.InternalError(w, r, "plan could not be computed")
		return
	}

	response.JSON(w, r, http.StatusOK, proposal)
}

func validatePlanRequest(req planner.Request) []models.FieldError {
	var errs []models.FieldError

	switch {
	case len(req.Messages) == 0:
		errs = append(errs, models.FieldError{Field: "messages", Message: "must contain at least one message"})
	case len(req.Messages) > maxPlanMessages:
		errs = append(errs, models.FieldError{Field: "messages", Message: "too many messages"})
	}
	for _, m := range req.Messages {
		if m.Role != planner.RoleUser && m.Role != planner.RoleAssistant {
			errs = append(errs, models.FieldError{Field: "messages.role", Message: "must be user or assistant"})
			break
		}
	}
	if req.Timezone != "" {
		if _, err := time.LoadLocation(req.Timezone); err != nil {
			errs = append(errs, models.FieldError{Field: "timezone", Message: "unknown IANA timezone"})
		}
	}
	if req.FocusIndex < 0 {
		errs = append(errs, models.FieldError{Field: "focusIndex", Message: "must not be negative"})
	}
	return errs
}
