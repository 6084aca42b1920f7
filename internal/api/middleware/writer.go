package middleware

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/mapcal/mapcal/internal/api/models"
)

// statusRecorder wraps http.ResponseWriter to capture the status code and body size.
type statusRecorder struct {
	http.ResponseWriter
	statusCode  int
	written     int64
	wroteHeader bool
}

func newStatusRecorder(w http.ResponseWriter) *statusRecorder {
	return &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}
}

func (rw *statusRecorder) WriteHeader(code int) {
	rw.statusCode = code
	rw.wroteHeader = true
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *statusRecorder) Write(b []byte) (int, error) {
	rw.wroteHeader = true
	n, err := rw.ResponseWriter.Write(b)
	rw.written += int64(n)
	return n, err
}

// routePattern returns the matched chi pattern, e.g. /v1/calendars/{calendarId}.
// It is only complete once the request has been routed, and falls back to the raw path.
func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if pattern := rctx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return r.URL.Path
}

// calendarID returns the calendarId URL parameter, if routing has matched one.
func calendarID(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		return rctx.URLParam("calendarId")
	}
	return ""
}

// writeProblem answers r with a problem of kind before any handler has run.
func writeProblem(w http.ResponseWriter, r *http.Request, kind models.Kind, detail string) {
	problem := models.New(kind, GetRequestID(r.Context()), detail)
	problem.Instance = r.URL.Path
	problem.Write(w)
}
