package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// OTelBridge exports the same Prometheus registry through the
// OpenTelemetry metrics SDK, so a deployment that scrapes with an OTel
// collector and one that scrapes /metrics directly see identical data.
type OTelBridge struct {
	provider *sdkmetric.MeterProvider
}

// NewOTelBridge wires registry into an OTel MeterProvider via the
// otel/exporters/prometheus exporter.
func NewOTelBridge(registry *prometheus.Registry) (*OTelBridge, error) {
	exporter, err := otelprom.New(otelprom.WithRegisterer(registry))
	if err != nil {
		return nil, fmt.Errorf("metrics: otel prometheus exporter: %w", err)
	}
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	return &OTelBridge{provider: provider}, nil
}

// Meter returns a named meter for components that record through the
// OTel API rather than the Prometheus instruments.
func (b *OTelBridge) Meter(name string) metric.Meter {
	return b.provider.Meter(name)
}

// Provider exposes the underlying MeterProvider for otel.SetMeterProvider.
func (b *OTelBridge) Provider() *sdkmetric.MeterProvider { return b.provider }
