package otel

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

// reconcileDurationName is shared with the bucket view in Views.
const reconcileDurationName = "hotspot.reconcile.duration"

// Metrics are the control plane's OTel instruments. The zero value is not usable; build with NewMetrics.
type Metrics struct {
	sessionsCreated  metric.Int64Counter
	sessionsUpdated  metric.Int64Counter
	sessionsClosed   metric.Int64Counter
	reconcileFailed  metric.Int64Counter
	counterResets    metric.Int64Counter
	accountsExpired  metric.Int64Counter
	provisionResults metric.Int64Counter
	deviceErrors     metric.Int64Counter
	cycleDuration    metric.Float64Histogram
	jobRuns          metric.Int64Counter
	liveBytes        metric.Int64Gauge
}

// NewMetrics registers instruments on provider. A nil provider yields no-op instruments.
func NewMetrics(provider metric.MeterProvider) (*Metrics, error) {
	if provider == nil {
		provider = noop.NewMeterProvider()
	}
	meter := provider.Meter(instrumentationName)
	m := &Metrics{}
	var err error
	counters := []struct {
		dst  *metric.Int64Counter
		name string
		desc string
	}{
		{&m.sessionsCreated, "hotspot.reconcile.sessions.created", "Sessions imported from the router."},
		{&m.sessionsUpdated, "hotspot.reconcile.sessions.updated", "Active sessions whose counters were refreshed."},
		{&m.sessionsClosed, "hotspot.reconcile.sessions.closed", "Sessions closed because they left the router."},
		{&m.reconcileFailed, "hotspot.reconcile.items.failed", "Live entries that could not be stored."},
		{&m.counterResets, "hotspot.reconcile.counter_resets", "Router counter regressions re-baselined."},
		{&m.accountsExpired, "hotspot.accounts.expired", "Accounts demoted by the expiration sweep."},
		{&m.provisionResults, "hotspot.accounts.provisioned", "Provisioning attempts by outcome."},
		{&m.deviceErrors, "hotspot.device.errors", "Failed router operations by operation."},
		{&m.jobRuns, "hotspot.scheduler.runs", "Scheduled job runs by job and outcome."},
	}
	for _, c := range counters {
		if *c.dst, err = meter.Int64Counter(c.name, metric.WithDescription(c.desc)); err != nil {
			return nil, err
		}
	}
	if m.cycleDuration, err = meter.Float64Histogram(reconcileDurationName,
		metric.WithDescription("Duration of a reconcile cycle."), metric.WithUnit("s")); err != nil {
		return nil, err
	}
	if m.liveBytes, err = meter.Int64Gauge("hotspot.bandwidth.live_bytes",
		metric.WithDescription("Total bytes of the live session set."), metric.WithUnit("By")); err != nil {
		return nil, err
	}
	return m, nil
}

// RecordReconcile records one reconcile cycle's counts and duration.
func (m *Metrics) RecordReconcile(ctx context.Context, created, updated, closed, failed, rebaselined int, seconds float64, ok bool) {
	if m == nil {
		return
	}
	m.sessionsCreated.Add(ctx, int64(created))
	m.sessionsUpdated.Add(ctx, int64(updated))
	m.sessionsClosed.Add(ctx, int64(closed))
	m.reconcileFailed.Add(ctx, int64(failed))
	m.counterResets.Add(ctx, int64(rebaselined))
	m.cycleDuration.Record(ctx, seconds, metric.WithAttributes(attribute.Bool("ok", ok)))
}

// RecordExpired counts accounts demoted by a sweep.
func (m *Metrics) RecordExpired(ctx context.Context, n int) {
	if m == nil || n == 0 {
		return
	}
	m.accountsExpired.Add(ctx, int64(n))
}

// RecordProvision counts a provisioning attempt with its outcome ("ok" or "failed").
func (m *Metrics) RecordProvision(ctx context.Context, outcome string) {
	if m == nil {
		return
	}
	m.provisionResults.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

// RecordDeviceError counts a failed router operation.
func (m *Metrics) RecordDeviceError(ctx context.Context, op string) {
	if m == nil {
		return
	}
	m.deviceErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("op", op)))
}

// RecordJobRun counts one scheduled run.
func (m *Metrics) RecordJobRun(ctx context.Context, job string, ok bool) {
	if m == nil {
		return
	}
	m.jobRuns.Add(ctx, 1, metric.WithAttributes(attribute.String("job", job), attribute.Bool("ok", ok)))
}

// RecordLiveBytes sets the live-set byte total.
func (m *Metrics) RecordLiveBytes(ctx context.Context, total int64) {
	if m == nil {
		return
	}
	m.liveBytes.Record(ctx, total)
}
