package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/mapcal/mapcal/internal/api/middleware"
	"github.com/mapcal/mapcal/internal/api/response"
	"github.com/mapcal/mapcal/internal/calendar"
	"github.com/mapcal/mapcal/internal/store"
)

// maxBodyBytes bounds request bodies. A multi-week calendar with route geometry
// stays well under it.
const maxBodyBytes = 4 << 20

// decodeJSON reads a JSON body into dst, writing a 400 problem on failure.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			response.BadRequest(w, r, "request body is required", nil)
			return false
		}
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			response.BadRequest(w, r, "request body too large", nil)
			return false
		}
		response.BadRequest(w, r, "invalid JSON body", nil)
		return false
	}
	return true
}

// writeStoreError maps store and validation errors to problem responses.
func writeStoreError(w http.ResponseWriter, r *http.Request, log zerolog.Logger, err error) {
	var invalid *calendar.ValidationError
	switch {
	case errors.As(err, &invalid):
		response.BadRequest(w, r, "invalid document", invalid.Errors)
	case errors.Is(err, store.ErrNotFound):
		response.NotFound(w, r, "calendar not found")
	case errors.Is(err, store.ErrExists):
		response.Conflict(w, r, "calendar already exists")
	case errors.Is(err, store.ErrInvalidID):
		response.BadRequest(w, r, "calendar id must be 1-64 letters, digits, '-' or '_'", nil)
	default:
		log.Error().Err(err).
			Str("request_id", middleware.GetRequestID(r.Context())).
			Msg("calendar operation failed")
		response.InternalError(w, r, "calendar could not be saved")
	}
}
