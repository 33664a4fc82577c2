package observability

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/attribute"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// Metrics owns the relay's Prometheus registry. Webhook outcomes are plain
// client_golang counters; completion latency goes through an OpenTelemetry
// meter exported into the same registry. A nil *Metrics records nothing.
type Metrics struct {
	registry *prometheus.Registry
	requests *prometheus.CounterVec
	provider *sdkmetric.MeterProvider

	completionDuration metric.Float64Histogram
}

func NewMetrics() (*Metrics, error) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "smile_webhook_requests_total",
		Help: "Inbound webhook deliveries by channel and outcome.",
	}, []string{"channel", "outcome"})
	if err := reg.Register(requests); err != nil {
		return nil, err
	}

	exporter, err := otelprom.New(otelprom.WithRegisterer(reg))
	if err != nil {
		return nil, err
	}
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))

	histogram, err := provider.Meter("smile-ai/completion").Float64Histogram(
		"completion.duration",
		metric.WithDescription("Latency of completion provider calls."),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	return &Metrics{
		registry:           reg,
		requests:           requests,
		provider:           provider,
		completionDuration: histogram,
	}, nil
}

// ObserveRequest counts one finished webhook delivery
func (m *Metrics) ObserveRequest(channel, outcome string) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(channel, outcome).Inc()
}

// ObserveCompletion records how long a completion call took and whether it failed
func (m *Metrics) ObserveCompletion(ctx context.Context, channel string, elapsed time.Duration, err error) {
	if m == nil {
		return
	}
	m.completionDuration.Record(ctx, elapsed.Seconds(), metric.WithAttributes(
		attribute.String("channel", channel),
		attribute.Bool("error", err != nil),
	))
}

// Registry exposes the underlying registry for tests and extra collectors
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) Shutdown(ctx context.Context) error {
	if m == nil {
		return nil
	}
	return m.provider.Shutdown(ctx)
}
