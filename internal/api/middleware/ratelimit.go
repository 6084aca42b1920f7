package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/httprate"

	"github.com/mapcal/mapcal/internal/api/models"
)

// Limit allows Requests per Window for one key.
type Limit struct {
	Requests int
	Window   time.Duration
}

var (
	// PlanLimit guards planning, which spends a language model call per request.
	PlanLimit = Limit{Requests: 10, Window: time.Minute}

	// StandardLimit guards document reads and writes. A sync client polls every
	// two seconds and saves after each edit, so one tab uses about half of it.
	StandardLimit = Limit{Requests: 600, Window: time.Minute}
)

// PerMinute is the limit of n requests a minute. Non-positive n yields fallback.
func PerMinute(n int, fallback Limit) Limit {
	if n <= 0 {
		return fallback
	}
	return Limit{Requests: n, Window: time.Minute}
}

// ByIP counts requests per client address. Mount it after chi's RealIP.
func (l Limit) ByIP() func(http.Handler) http.Handler {
	return l.middleware(httprate.KeyByRealIP)
}

// ByCalendar counts requests per calendar and client address. It only sees the
// calendar id when mounted below a route that declares {calendarId}.
func (l Limit) ByCalendar() func(http.Handler) http.Handler {
	return l.middleware(func(r *http.Request) (string, error) {
		return "calendar:" + calendarID(r), nil
	}, httprate.KeyByRealIP)
}

func (l Limit) middleware(keys ...httprate.KeyFunc) func(http.Handler) http.Handler {
	// httprate does not expose the reset time; the full window is an upper bound.
	retryAfter := strconv.Itoa(int(l.Window.Seconds()))
	return httprate.Limit(l.Requests, l.Window,
		httprate.WithKeyFuncs(keys...),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Retry-After", retryAfter)
			writeProblem(w, r, models.KindTooManyRequests, "rate limit exceeded, retry later")
		}),
	)
}
