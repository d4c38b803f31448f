package hub

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "shoplist-sync/hub"

type hubMetrics struct {
	mutations       metric.Int64Counter
	rejected        metric.Int64Counter
	sessions        metric.Int64UpDownCounter
	droppedSessions metric.Int64Counter
	appendFailures  metric.Int64Counter
	evictions       metric.Int64Counter

	registration metric.Registration
}

// newHubMetrics 在全局 MeterProvider 上注册引擎指标。未配置导出器时全局 provider 为 noop。
func newHubMetrics(roomCount func() int) *hubMetrics {
	meter := otel.Meter(meterName)
	m := &hubMetrics{}

	m.mutations, _ = meter.Int64Counter("shoplist.mutations.accepted",
		metric.WithDescription("Mutations accepted by rooms"))
	m.rejected, _ = meter.Int64Counter("shoplist.mutations.rejected",
		metric.WithDescription("Mutations rejected by rooms"))
	m.sessions, _ = meter.Int64UpDownCounter("shoplist.sessions.attached",
		metric.WithDescription("Sessions currently attached to a room"))
	m.droppedSessions, _ = meter.Int64Counter("shoplist.sessions.dropped",
		metric.WithDescription("Sessions dropped because their send buffer was full"))
	m.appendFailures, _ = meter.Int64Counter("shoplist.append.failures",
		metric.WithDescription("Appends that exhausted their retry budget"))
	m.evictions, _ = meter.Int64Counter("shoplist.rooms.evicted",
		metric.WithDescription("Rooms evicted from memory"))

	active, err := meter.Int64ObservableGauge("shoplist.rooms.active",
		metric.WithDescription("Rooms currently held in memory"))
	if err == nil {
		m.registration, _ = meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
			o.ObserveInt64(active, int64(roomCount()))
			return nil
		}, active)
	}
	return m
}

func (m *hubMetrics) close() {
	if m.registration != nil {
		_ = m.registration.Unregister()
	}
}

func kindAttr(kind string) metric.MeasurementOption {
	return metric.WithAttributes(attribute.String("kind", kind))
}
