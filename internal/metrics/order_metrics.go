package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/vladislavdragonenkov/ordercore/internal/domain"
)

// OrderMetrics содержит метрики оформления заказов и смены статусов.
// Все методы безопасны для nil-получателя.
type OrderMetrics struct {
	ordersCreated    *prometheus.CounterVec
	creationFailures *prometheus.CounterVec
	numberConflicts  prometheus.Counter
	transitions      *prometheus.CounterVec
	reservedUnits    prometheus.Counter
	releasedUnits    prometheus.Counter
	createDuration   prometheus.Histogram
}

// NewOrderMetrics регистрирует метрики в prometheus.DefaultRegisterer.
func NewOrderMetrics() *OrderMetrics {
	return NewOrderMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

// NewOrderMetricsWithRegisterer регистрирует метрики в переданном registerer.
func NewOrderMetricsWithRegisterer(registerer prometheus.Registerer) *OrderMetrics {
	return &OrderMetrics{
		ordersCreated: register(registerer, "oms_orders_created_total", prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "oms_orders_created_total",
			Help: "Total number of orders created grouped by order type.",
		}, []string{"type"})),
		creationFailures: register(registerer, "oms_order_creation_failures_total", prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "oms_order_creation_failures_total",
			Help: "Total number of rejected order creations grouped by failure code.",
		}, []string{"code"})),
		numberConflicts: register(registerer, "oms_order_number_conflicts_total", prometheus.NewCounter(prometheus.CounterOpts{
			Name: "oms_order_number_conflicts_total",
			Help: "Total number of order number uniqueness conflicts that triggered a retry.",
		})),
		transitions: register(registerer, "oms_order_transitions_total", prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "oms_order_transitions_total",
			Help: "Total number of applied order status transitions.",
		}, []string{"from", "to"})),
		reservedUnits: register(registerer, "oms_stock_reserved_units_total", prometheus.NewCounter(prometheus.CounterOpts{
			Name: "oms_stock_reserved_units_total",
			Help: "Total number of stock units reserved by committed orders.",
		})),
		releasedUnits: register(registerer, "oms_stock_released_units_total", prometheus.NewCounter(prometheus.CounterOpts{
			Name: "oms_stock_released_units_total",
			Help: "Total number of stock units returned by cancelled orders.",
		})),
		createDuration: register(registerer, "oms_order_create_duration_seconds", prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "oms_order_create_duration_seconds",
			Help:    "Duration of order creation including retries.",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
		})),
	}
}

// RecordOrderCreated фиксирует успешно созданный заказ и число зарезервированных единиц.
func (m *OrderMetrics) RecordOrderCreated(orderType domain.OrderType, units int64) {
	if m == nil {
		return
	}
	m.ordersCreated.WithLabelValues(string(orderType)).Inc()
	m.reservedUnits.Add(float64(units))
}

// RecordCreationFailure фиксирует отказ с кодом. Инфраструктурные ошибки идут с кодом "internal".
func (m *OrderMetrics) RecordCreationFailure(code string) {
	if m == nil {
		return
	}
	m.creationFailures.WithLabelValues(code).Inc()
}

// RecordNumberConflict фиксирует повтор из-за занятого номера.
func (m *OrderMetrics) RecordNumberConflict() {
	if m == nil {
		return
	}
	m.numberConflicts.Inc()
}

// RecordTransition фиксирует применённый переход статуса.
func (m *OrderMetrics) RecordTransition(from, to domain.OrderStatus) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(string(from), string(to)).Inc()
}

// RecordReleasedUnits фиксирует возврат остатков на склад.
func (m *OrderMetrics) RecordReleasedUnits(units int64) {
	if m == nil {
		return
	}
	m.releasedUnits.Add(float64(units))
}

// RecordCreateDuration записывает длительность оформления заказа.
func (m *OrderMetrics) RecordCreateDuration(duration time.Duration) {
	if m == nil {
		return
	}
	m.createDuration.Observe(duration.Seconds())
}
