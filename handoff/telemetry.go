package handoff

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Telemetry follows nevindra-oasis's observer package: spans and metrics
// pulled from the global OTEL providers, so the package instruments itself
// whether or not the host process has configured an exporter (a no-op
// TracerProvider/MeterProvider is installed by default).
const instrumentationName = "github.com/lowkaihon/handoff-engine/handoff"

var (
	tracer trace.Tracer = otel.Tracer(instrumentationName)
	meter  metric.Meter = otel.Meter(instrumentationName)

	anchorsSelectedCounter metric.Int64Counter
	tokensEstimatedCounter metric.Int64Counter
	retryCounter           metric.Int64Counter
)

func init() {
	anchorsSelectedCounter, _ = meter.Int64Counter("handoff.anchors.selected",
		metric.WithDescription("Anchors selected per handoff build"),
		metric.WithUnit("{anchor}"))
	tokensEstimatedCounter, _ = meter.Int64Counter("handoff.tokens.estimated",
		metric.WithDescription("Estimated tokens per assembled input, by stage"),
		metric.WithUnit("{token}"))
	retryCounter, _ = meter.Int64Counter("handoff.completion.retries",
		metric.WithDescription("Completion call retries, by pass"),
		metric.WithUnit("{retry}"))
}
