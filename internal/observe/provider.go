package observe

import (
	"context"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	promexporter "go.opentelemetry.io/otel/exporters/prometheus"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.39.0"
)

const serviceName = "hornwatch"

// Telemetry owns the OpenTelemetry providers of the process.
type Telemetry struct {
	// Metrics are the hornwatch instruments, bound to the exported provider.
	Metrics *Metrics

	meters *sdkmetric.MeterProvider
	traces *sdktrace.TracerProvider
}

// Setup installs the process-wide providers. Metrics are exported to reg,
// which the /metrics endpoint gathers from; nil means
// [prometheus.DefaultRegisterer]. Spans are not exported anywhere: they
// give log lines and X-Correlation-ID headers real trace IDs.
func Setup(version string, reg prometheus.Registerer) (*Telemetry, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(serviceName),
			semconv.ServiceVersion(version),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("observe: resource: %w", err)
	}
	exporter, err := promexporter.New(promexporter.WithRegisterer(reg))
	if err != nil {
		return nil, fmt.Errorf("observe: prometheus exporter: %w", err)
	}

	t := &Telemetry{
		meters: sdkmetric.NewMeterProvider(
			sdkmetric.WithResource(res),
			sdkmetric.WithReader(exporter),
		),
		traces: sdktrace.NewTracerProvider(sdktrace.WithResource(res)),
	}
	if t.Metrics, err = NewMetrics(t.meters); err != nil {
		return nil, errors.Join(err, t.Shutdown(context.Background()))
	}
	otel.SetMeterProvider(t.meters)
	otel.SetTracerProvider(t.traces)
	return t, nil
}

// Shutdown flushes and stops both providers.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	return errors.Join(t.meters.Shutdown(ctx), t.traces.Shutdown(ctx))
}
