package metrics

import "github.com/prometheus/client_golang/prometheus"

// OutboxMetrics содержит метрики публикации transactional outbox.
type OutboxMetrics struct {
	publishAttempts  *prometheus.CounterVec
	pendingRecords   prometheus.Gauge
	oldestPendingAge prometheus.Gauge
}

// NewOutboxMetrics регистрирует метрики outbox в prometheus.DefaultRegisterer.
func NewOutboxMetrics() *OutboxMetrics {
	return NewOutboxMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

// NewOutboxMetricsWithRegisterer регистрирует метрики outbox в переданном registerer.
func NewOutboxMetricsWithRegisterer(registerer prometheus.Registerer) *OutboxMetrics {
	return &OutboxMetrics{
		publishAttempts: register(registerer, "oms_outbox_publish_attempts_total", prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "oms_outbox_publish_attempts_total",
			Help: "Total number of outbox publish attempts grouped by result.",
		}, []string{"result"})),
		pendingRecords: register(registerer, "oms_outbox_pending_records", prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "oms_outbox_pending_records",
			Help: "Current number of pending records in transactional outbox.",
		})),
		oldestPendingAge: register(registerer, "oms_outbox_oldest_pending_age_seconds", prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "oms_outbox_oldest_pending_age_seconds",
			Help: "Age in seconds of the oldest pending outbox record.",
		})),
	}
}

// RecordPublishAttempt увеличивает счётчик попыток с результатом sent/retry_error/failed/dlq_failed.
func (m *OutboxMetrics) RecordPublishAttempt(result string) {
	if m == nil {
		return
	}
	m.publishAttempts.WithLabelValues(result).Inc()
}

// SetBacklog обновляет размер backlog и возраст самого старого события.
func (m *OutboxMetrics) SetBacklog(pending int, oldestAgeSeconds float64) {
	if m == nil {
		return
	}
	m.pendingRecords.Set(float64(pending))
	m.oldestPendingAge.Set(oldestAgeSeconds)
}
