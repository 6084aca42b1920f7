// Package response writes JSON, problem and raw responses with request correlation headers.
package response

import (
	"encoding/json"
	"net/http"

	"github.com/mapcal/mapcal/internal/api/middleware"
	"github.com/mapcal/mapcal/internal/api/models"
)

func correlate(w http.ResponseWriter, r *http.Request) string {
	requestID := middleware.GetRequestID(r.Context())
	if requestID != "" {
		w.Header().Set("X-Request-Id", requestID)
	}
	return requestID
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, r *http.Request, status int, data interface{}) {
	correlate(w, r)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		_ = json.NewEncoder(w).Encode(data)
	}
}

// Created writes a 201 Created JSON response with a Location header.
func Created(w http.ResponseWriter, r *http.Request, location string, data interface{}) {
	if location != "" {
		w.Header().Set("Location", location)
	}
	JSON(w, r, http.StatusCreated, data)
}

// NoContent writes a 204 No Content response.
func NoContent(w http.ResponseWriter, r *http.Request) {
	correlate(w, r)
	w.WriteHeader(http.StatusNoContent)
}

// Raw writes body verbatim with the given media type, e.g. an iCalendar feed.
func Raw(w http.ResponseWriter, r *http.Request, status int, contentType string, body []byte) {
	correlate(w, r)
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

// Error writes problem with the request path as its instance.
func Error(w http.ResponseWriter, r *http.Request, problem *models.Problem) {
	if problem.RequestID == "" {
		problem.RequestID = middleware.GetRequestID(r.Context())
	}
	problem.Instance = r.URL.Path
	problem.Write(w)
}

func fail(w http.ResponseWriter, r *http.Request, kind models.Kind, detail string, errs ...models.FieldError) {
	Error(w, r, models.New(kind, middleware.GetRequestID(r.Context()), detail, errs...))
}

// BadRequest writes a validation problem listing the offending fields.
func BadRequest(w http.ResponseWriter, r *http.Request, detail string, errors []models.FieldError) {
	fail(w, r, models.KindValidation, detail, errors...)
}

func NotFound(w http.ResponseWriter, r *http.Request, detail string) {
	fail(w, r, models.KindNotFound, detail)
}

func Conflict(w http.ResponseWriter, r *http.Request, detail string) {
	fail(w, r, models.KindConflict, detail)
}

// InternalError hides the cause from the client; callers log it first.
func InternalError(w http.ResponseWriter, r *http.Request, detail string) {
	fail(w, r, models.KindInternal, detail)
}

func ServiceUnavailable(w http.ResponseWriter, r *http.Request, detail string) {
	fail(w, r, models.KindUnavailable, detail)
}
