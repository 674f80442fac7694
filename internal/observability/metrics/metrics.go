// Package metrics exposes prometheus collectors for the reconciliation engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/fx"
)

const (
	OutcomeProcessed = "processed"
	OutcomeIgnored   = "ignored"
	OutcomeDuplicate = "duplicate"
	OutcomeFailed    = "failed"
)

type Metrics struct {
	webhookEvents   *prometheus.CounterVec
	notifications   *prometheus.CounterVec
	occupyConflicts prometheus.Counter
	expiredRentals  prometheus.Counter
}

func New() *Metrics {
	return &Metrics{
		webhookEvents: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "storlock",
			Name:      "webhook_events_total",
			Help:      "Webhook events by provider event type and outcome.",
		}, []string{"event_type", "outcome"}),
		notifications: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "storlock",
			Name:      "notifications_total",
			Help:      "Outbound notification attempts by result.",
		}, []string{"result"}),
		occupyConflicts: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "storlock",
			Name:      "unit_occupy_conflicts_total",
			Help:      "Conditional unit occupation updates that matched zero rows.",
		}),
		expiredRentals: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "storlock",
			Name:      "expired_rentals_total",
			Help:      "Rentals flipped to expired by the sweep loop.",
		}),
	}
}

func (m *Metrics) RecordWebhookEvent(eventType string, outcome string) {
	if m == nil {
		return
	}
	m.webhookEvents.WithLabelValues(eventType, outcome).Inc()
}

func (m *Metrics) RecordNotification(result string) {
	if m == nil {
		return
	}
	m.notifications.WithLabelValues(result).Inc()
}

func (m *Metrics) RecordOccupyConflict() {
	if m == nil {
		return
	}
	m.occupyConflicts.Inc()
}

func (m *Metrics) RecordExpiredRentals(count int64) {
	if m == nil {
		return
	}
	m.expiredRentals.Add(float64(count))
}

var Module = fx.Module("metrics",
	fx.Provide(New),
)
