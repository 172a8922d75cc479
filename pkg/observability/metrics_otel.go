package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/platinummonkey/usersync"

// OTelMetrics mirrors the reconciliation metrics as OpenTelemetry
// instruments so they reach the OTLP collector alongside traces
type OTelMetrics struct {
	reconcileTotal metric.Int64Counter
	pushTotal      metric.Int64Counter
	idpDuration    metric.Float64Histogram
	sweepDuration  metric.Float64Histogram
	sweepUsers     metric.Int64Counter
}

// NewOTelMetrics creates the instruments on the global meter provider
func NewOTelMetrics() (*OTelMetrics, error) {
	meter := otel.Meter(meterName)

	m := &OTelMetrics{}
	var err error

	if m.reconcileTotal, err = meter.Int64Counter(
		"usersync.reconcile.count",
		metric.WithDescription("Reconciliations by outcome"),
		metric.WithUnit("{reconciliation}"),
	); err != nil {
		return nil, fmt.Errorf("failed to create reconcile counter: %w", err)
	}

	if m.pushTotal, err = meter.Int64Counter(
		"usersync.push.count",
		metric.WithDescription("Attribute pushes to the identity provider by outcome"),
		metric.WithUnit("{push}"),
	); err != nil {
		return nil, fmt.Errorf("failed to create push counter: %w", err)
	}

	if m.idpDuration, err = meter.Float64Histogram(
		"usersync.idp.request.duration",
		metric.WithDescription("Identity provider admin API latency"),
		metric.WithUnit("s"),
	); err != nil {
		return nil, fmt.Errorf("failed to create idp duration histogram: %w", err)
	}

	if m.sweepDuration, err = meter.Float64Histogram(
		"usersync.sweep.duration",
		metric.WithDescription("Bulk reconciliation sweep duration"),
		metric.WithUnit("s"),
	); err != nil {
		return nil, fmt.Errorf("failed to create sweep duration histogram: %w", err)
	}

	if m.sweepUsers, err = meter.Int64Counter(
		"usersync.sweep.users",
		metric.WithDescription("Users processed by sweeps by result"),
		metric.WithUnit("{user}"),
	); err != nil {
		return nil, fmt.Errorf("failed to create sweep users counter: %w", err)
	}

	return m, nil
}

func (m *OTelMetrics) recordReconcile(ctx context.Context, outcome string) {
	m.reconcileTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

func (m *OTelMetrics) recordPush(ctx context.Context, outcome string) {
	m.pushTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

func (m *OTelMetrics) recordIdPRequest(ctx context.Context, operation string, duration time.Duration, err error) {
	m.idpDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(
		attribute.String("operation", operation),
		attribute.String("status", statusLabel(err)),
	))
}

func (m *OTelMetrics) recordSweep(ctx context.Context, duration time.Duration, succeeded, failed int) {
	m.sweepDuration.Record(ctx, duration.Seconds())
	m.sweepUsers.Add(ctx, int64(succeeded), metric.WithAttributes(attribute.String("result", "succeeded")))
	m.sweepUsers.Add(ctx, int64(failed), metric.WithAttributes(attribute.String("result", "failed")))
}
