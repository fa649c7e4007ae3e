package telemetry

import (
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// NewTracedHTTPClient returns an http.Client whose transport creates a span
// per outbound request and injects W3C trace context headers. It reads the
// global propagator and tracer provider, so it is safe before the provider
// is initialized; spans are simply no-ops then.
func NewTracedHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout:   timeout,
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	}
}
