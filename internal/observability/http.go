package observability

import (
	"log/slog"
	"net/http"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Middleware wraps next with a server span, a request counter and latency
// histogram, and one access log line per request. Routes are labelled by
// their ServeMux pattern so metric cardinality stays bounded.
func Middleware(log *slog.Logger, next http.Handler) http.Handler {
	inst := For("http")
	tracer := inst.Tracer()
	requests, _ := inst.Counter("requests", "HTTP requests served")
	latency, _ := inst.Seconds("duration", "HTTP request latency")
	propagator := otel.GetTextMapPropagator()

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ctx := propagator.Extract(r.Context(), propagation.HeaderCarrier(r.Header))
		ctx, span := tracer.Start(ctx, r.Method+" "+r.URL.Path, trace.WithSpanKind(trace.SpanKindServer))
		defer span.End()

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		r = r.WithContext(ctx)
		next.ServeHTTP(rec, r)

		route := r.Pattern
		if route == "" {
			route = "unmatched"
		}
		elapsed := time.Since(start)
		attrs := metric.WithAttributes(
			attribute.String("http.route", route),
			attribute.Int("http.status_code", rec.status),
		)
		requests.Add(ctx, 1, attrs)
		latency.Record(ctx, elapsed.Seconds(), attrs)
		span.SetAttributes(attribute.String("http.route", route), attribute.Int("http.status_code", rec.status))

		lvl := slog.LevelInfo
		if rec.status >= http.StatusInternalServerError {
			lvl = slog.LevelError
		}
		log.Log(ctx, lvl, "http request",
			"method", r.Method, "route", route, "status", rec.status, "duration_ms", elapsed.Milliseconds())
	})
}
