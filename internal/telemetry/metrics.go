package telemetry

import (
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const (
	meterName = "github.com/wolfeidau/caseguard"
)

// Metrics holds all the OpenTelemetry metric instruments
type Metrics struct {
	// Guard metrics
	GuardDecisionsTotal metric.Int64Counter

	// Session monitor metrics
	ForcedSignOutsTotal  metric.Int64Counter
	WarningsShownTotal   metric.Int64Counter
	ActivityTouchesTotal metric.Int64Counter

	// Backend call metrics
	BackendCallDuration metric.Float64Histogram
	BackendErrorsTotal  metric.Int64Counter
}

var (
	once    sync.Once
	metrics *Metrics
)

// GetMetrics returns the singleton Metrics instance, initializing it if necessary.
// Without InitTelemetry the global provider is a no-op, so recording is free.
func GetMetrics() *Metrics {
	once.Do(func() {
		metrics = NewMetrics(otel.GetMeterProvider())
	})
	return metrics
}

// NewMetrics creates the instruments on provider.
func NewMetrics(provider metric.MeterProvider) *Metrics {
	meter := provider.Meter(meterName)

	m := &Metrics{}

	m.GuardDecisionsTotal, _ = meter.Int64Counter(
		"caseguard.guard.decisions.total",
		metric.WithDescription("Total number of page gate decisions by outcome"),
		metric.WithUnit("{decision}"),
	)

	m.ForcedSignOutsTotal, _ = meter.Int64Counter(
		"caseguard.session.forced_signouts.total",
		metric.WithDescription("Total number of sign outs forced by the inactivity monitor"),
		metric.WithUnit("{signout}"),
	)

	m.WarningsShownTotal, _ = meter.Int64Counter(
		"caseguard.session.warnings.total",
		metric.WithDescription("Total number of expiry warnings shown"),
		metric.WithUnit("{warning}"),
	)

	m.ActivityTouchesTotal, _ = meter.Int64Counter(
		"caseguard.session.touches.total",
		metric.WithDescription("Total number of recorded user activity events"),
		metric.WithUnit("{event}"),
	)

	m.BackendCallDuration, _ = meter.Float64Histogram(
		"caseguard.backend.call.duration",
		metric.WithDescription("Duration of backend calls"),
		metric.WithUnit("ms"),
	)

	m.BackendErrorsTotal, _ = meter.Int64Counter(
		"caseguard.backend.errors.total",
		metric.WithDescription("Total number of failed backend calls"),
		metric.WithUnit("{error}"),
	)

	return m
}
