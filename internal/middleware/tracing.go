package middleware

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// Tracing starts a server span per request, continuing any trace context
// carried in the request headers. The span is renamed to the matched chi
// route once routing has happened.
//
// CONTEXT PROPAGATION:
// A caller that is itself traced sends a "traceparent" header. Extract turns
// it into the parent of this span, so the request shows up inside the
// caller's trace. Inject writes this span's context into the response
// headers for the browser to log. Spans started further down (ledger.Open)
// find the span through r.Context().
func Tracing(serviceName string) func(http.Handler) http.Handler {
	// otel.Tracer reads the global provider set by tracing.Init. With
	// tracing off that provider is a no-op and every span below is free.
	tracer := otel.Tracer(serviceName)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))

			// Named by raw path for now; renamed to the route pattern after
			// chi has matched it.
			ctx, span := tracer.Start(ctx, r.Method+" "+r.URL.Path,
				trace.WithSpanKind(trace.SpanKindServer),
			)
			defer span.End()

			span.SetAttributes(
				attribute.String("http.method", r.Method),
				attribute.String("http.target", r.URL.Path),
				attribute.String("http.user_agent", r.UserAgent()),
				attribute.String("net.peer.ip", clientIP(r)),
			)

			otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(w.Header()))

			// r.WithContext returns a shallow copy carrying the span; the
			// original r is left untouched.
			rw := wrap(w)
			next.ServeHTTP(rw, r.WithContext(ctx))

			if rctx := chi.RouteContext(ctx); rctx != nil {
				if pattern := rctx.RoutePattern(); pattern != "" {
					span.SetName(r.Method + " " + pattern)
					span.SetAttributes(attribute.String("http.route", pattern))
				}
			}
			span.SetAttributes(attribute.Int("http.status_code", rw.statusCode))
			// 4xx is the client's problem and stays Unset.
			if rw.statusCode >= 500 {
				span.SetStatus(codes.Error, http.StatusText(rw.statusCode))
			}
		})
	}
}
