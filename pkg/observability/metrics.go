package observability

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

var (
	globalMetrics Metrics = noopMetrics{}
	metricsMu     sync.RWMutex
)

// Metrics records request-level observations. A noop implementation backs
// disabled configurations so call sites never nil-check.
type Metrics interface {
	RecordAgentCall(ctx context.Context, agentType string, duration time.Duration, tokens int, err error)
	RecordClassification(ctx context.Context, method string)
	RecordCacheAccess(ctx context.Context, cache string, hit bool)
	RecordStreamCancelled(ctx context.Context)
	RecordTokenRefusal(ctx context.Context)
}

type noopMetrics struct{}

func (noopMetrics) RecordAgentCall(context.Context, string, time.Duration, int, error) {}
func (noopMetrics) RecordClassification(context.Context, string)                       {}
func (noopMetrics) RecordCacheAccess(context.Context, string, bool)                    {}
func (noopMetrics) RecordStreamCancelled(context.Context)                              {}
func (noopMetrics) RecordTokenRefusal(context.Context)                                 {}

// PrometheusMetrics exports through the OpenTelemetry prometheus reader;
// the collector registers into the default prometheus registry served at
// the metrics endpoint.
type PrometheusMetrics struct {
	agentDuration    metric.Float64Histogram
	agentCallsTotal  metric.Int64Counter
	agentErrorsTotal metric.Int64Counter
	agentTokensTotal metric.Int64Counter

	classificationsTotal metric.Int64Counter
	cacheAccessTotal     metric.Int64Counter
	streamCancelledTotal metric.Int64Counter
	tokenRefusalsTotal   metric.Int64Counter
}

// InitMetrics builds the exporter and instrument set. With enabled=false
// it installs the noop recorder.
func InitMetrics(enabled bool) (Metrics, error) {
	if !enabled {
		SetGlobalMetrics(noopMetrics{})
		return noopMetrics{}, nil
	}

	promExporter, err := prometheus.New()
	if err != nil {
		return nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}

	meter := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(promExporter),
	).Meter("nefro")

	m := &PrometheusMetrics{}
	if m.agentDuration, err = meter.Float64Histogram(
		"nefro_agent_call_duration_seconds",
		metric.WithDescription("Agent call duration in seconds"),
	); err != nil {
		return nil, fmt.Errorf("failed to create agent duration histogram: %w", err)
	}
	if m.agentCallsTotal, err = meter.Int64Counter(
		"nefro_agent_calls_total",
		metric.WithDescription("Total agent calls"),
	); err != nil {
		return nil, fmt.Errorf("failed to create agent calls counter: %w", err)
	}
	if m.agentErrorsTotal, err = meter.Int64Counter(
		"nefro_agent_errors_total",
		metric.WithDescription("Total agent errors"),
	); err != nil {
		return nil, fmt.Errorf("failed to create agent errors counter: %w", err)
	}
	if m.agentTokensTotal, err = meter.Int64Counter(
		"nefro_agent_tokens_used_total",
		metric.WithDescription("Total tokens used by agents"),
	); err != nil {
		return nil, fmt.Errorf("failed to create agent tokens counter: %w", err)
	}
	if m.classificationsTotal, err = meter.Int64Counter(
		"nefro_classifications_total",
		metric.WithDescription("Intent classifications by method"),
	); err != nil {
		return nil, fmt.Errorf("failed to create classifications counter: %w", err)
	}
	if m.cacheAccessTotal, err = meter.Int64Counter(
		"nefro_cache_access_total",
		metric.WithDescription("Cache lookups by cache name and outcome"),
	); err != nil {
		return nil, fmt.Errorf("failed to create cache access counter: %w", err)
	}
	if m.streamCancelledTotal, err = meter.Int64Counter(
		"nefro_streams_cancelled_total",
		metric.WithDescription("Streams cancelled by the client"),
	); err != nil {
		return nil, fmt.Errorf("failed to create stream cancel counter: %w", err)
	}
	if m.tokenRefusalsTotal, err = meter.Int64Counter(
		"nefro_token_refusals_total",
		metric.WithDescription("Requests refused by the token ceiling"),
	); err != nil {
		return nil, fmt.Errorf("failed to create token refusal counter: %w", err)
	}

	SetGlobalMetrics(m)
	return m, nil
}

func (m *PrometheusMetrics) RecordAgentCall(ctx context.Context, agentType string, duration time.Duration, tokens int, err error) {
	attrs := metric.WithAttributes(attribute.String("agent", agentType))

	m.agentDuration.Record(ctx, duration.Seconds(), attrs)
	m.agentCallsTotal.Add(ctx, 1, attrs)
	if tokens > 0 {
		m.agentTokensTotal.Add(ctx, int64(tokens), attrs)
	}
	if err != nil {
		m.agentErrorsTotal.Add(ctx, 1, attrs)
	}
}

func (m *PrometheusMetrics) RecordClassification(ctx context.Context, method string) {
	m.classificationsTotal.Add(ctx, 1,
		metric.WithAttributes(attribute.String("method", method)))
}

func (m *PrometheusMetrics) RecordCacheAccess(ctx context.Context, cache string, hit bool) {
	m.cacheAccessTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("cache", cache),
		attribute.Bool("hit", hit),
	))
}

func (m *PrometheusMetrics) RecordStreamCancelled(ctx context.Context) {
	m.streamCancelledTotal.Add(ctx, 1)
}

func (m *PrometheusMetrics) RecordTokenRefusal(ctx context.Context) {
	m.tokenRefusalsTotal.Add(ctx, 1)
}

func SetGlobalMetrics(m Metrics) {
	metricsMu.Lock()
	globalMetrics = m
	metricsMu.Unlock()
}

func GetMetrics() Metrics {
	metricsMu.RLock()
	defer metricsMu.RUnlock()
	return globalMetrics
}
