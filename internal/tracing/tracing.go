// Package tracing wraps OpenTelemetry tracer lookup.
package tracing

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

// Tracer returns a tracer from the globally registered provider.
// awsinit.Init installs the provider before any handler runs.
func Tracer(name string) trace.Tracer {
	return otel.Tracer(name)
}
