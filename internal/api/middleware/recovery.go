package middleware

import (
	"errors"
	"fmt"
	"net/http"
	"runtime/debug"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/mapcal/mapcal/internal/api/models"
)

// Recovery turns a handler panic into a 500 problem response and marks the request
// span as failed. http.ErrAbortHandler is re-raised so net/http can drop the
// connection. If the handler already started its response the connection is left
// as is.
func Recovery(log zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rec := newStatusRecorder(w)
			defer func() {
				v := recover()
				if v == nil {
					return
				}
				if err, ok := v.(error); ok && errors.Is(err, http.ErrAbortHandler) {
					panic(v)
				}

				requestID := GetRequestID(r.Context())
				span := trace.SpanFromContext(r.Context())
				span.RecordError(fmt.Errorf("panic: %v", v))
				span.SetStatus(codes.Error, "panic")

				event := log.Error().
					Str("request_id", requestID).
					Str("method", r.Method).
					Str("route", routePattern(r)).
					Interface("panic", v).
					Bytes("stack", debug.Stack())
				if id := calendarID(r); id != "" {
					event = event.Str("calendar_id", id)
				}
				event.Msg("panic recovered")

				if rec.wroteHeader {
					return
				}
				writeProblem(w, r, models.KindInternal, "an unexpected error occurred")
			}()

			next.ServeHTTP(rec, r)
		})
	}
}
