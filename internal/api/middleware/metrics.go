package middleware

import (
	"errors"
	"net/http"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
)

// Metrics records the HTTP server instruments. Requests are labelled by route
// pattern, so calendar ids never become metric dimensions.
type Metrics struct {
	duration metric.Float64Histogram
	requests metric.Int64Counter
	active   metric.Int64UpDownCounter
	bodySize metric.Int64Histogram
}

// NewMetrics creates the instruments on the global meter provider.
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter(instrumentationName)

	var m Metrics
	var errs [4]error
	m.duration, errs[0] = meter.Float64Histogram("http.server.request.duration",
		metric.WithDescription("Time to serve a request"),
		metric.WithUnit("s"))
	m.requests, errs[1] = meter.Int64Counter("mapcal.http.requests",
		metric.WithDescription("Requests served, by route and status"),
		metric.WithUnit("{request}"))
	m.active, errs[2] = meter.Int64UpDownCounter("http.server.active_requests",
		metric.WithDescription("Requests currently being served"),
		metric.WithUnit("{request}"))
	m.bodySize, errs[3] = meter.Int64Histogram("http.server.response.body.size",
		metric.WithDescription("Response body size"),
		metric.WithUnit("By"))
	if err := errors.Join(errs[:]...); err != nil {
		return nil, err
	}
	return &m, nil
}

// Middleware records one observation per request once the handler returns.
func (m *Metrics) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			method := semconv.HTTPRequestMethodKey.String(r.Method)

			m.active.Add(ctx, 1, metric.WithAttributes(method))
			defer m.active.Add(ctx, -1, metric.WithAttributes(method))

			start := time.Now()
			rec := newStatusRecorder(w)
			next.ServeHTTP(rec, r)

			set := metric.WithAttributeSet(attribute.NewSet(
				method,
				semconv.HTTPRouteKey.String(routePattern(r)),
				semconv.HTTPResponseStatusCodeKey.Int(rec.statusCode),
			))
			m.duration.Record(ctx, time.Since(start).Seconds(), set)
			m.requests.Add(ctx, 1, set)
			m.bodySize.Record(ctx, rec.written, set)
		})
	}
}
