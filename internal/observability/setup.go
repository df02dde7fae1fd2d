package observability

import (
	"context"

	"github.com/vkudelin/agent-registry/internal/infrastructure/observability"
)

// Setup initializes logging, metric collectors and the trace exporter.
// The returned function flushes and stops the tracer provider.
func Setup(serviceName string) func(context.Context) error {
	observability.InitLogger()
	observability.InitMetrics()
	return observability.InitTracing(serviceName)
}
