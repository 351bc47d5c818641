package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"

	"github.com/vladislavdragonenkov/ordercore/internal/domain"
)

func TestOrderMetrics_Record(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewOrderMetricsWithRegisterer(reg)

	m.RecordOrderCreated(domain.OrderTypeB2C, 3)
	m.RecordOrderCreated(domain.OrderTypeB2B, 2)
	m.RecordOrderCreated(domain.OrderTypeB2C, 1)
	m.RecordCreationFailure(string(domain.CodeStockNotAvailable))
	m.RecordNumberConflict()
	m.RecordTransition(domain.OrderStatusPending, domain.OrderStatusCancelled)
	m.RecordReleasedUnits(4)
	m.RecordCreateDuration(15 * time.Millisecond)

	if got := testutil.ToFloat64(m.ordersCreated.WithLabelValues("B2C")); got != 2 {
		t.Fatalf("expected 2 B2C orders, got %v", got)
	}
	if got := testutil.ToFloat64(m.reservedUnits); got != 6 {
		t.Fatalf("expected 6 reserved units, got %v", got)
	}
	if got := testutil.ToFloat64(m.creationFailures.WithLabelValues("STOCK_1001")); got != 1 {
		t.Fatalf("expected 1 stock failure, got %v", got)
	}
	if got := testutil.ToFloat64(m.numberConflicts); got != 1 {
		t.Fatalf("expected 1 number conflict, got %v", got)
	}
	if got := testutil.ToFloat64(m.transitions.WithLabelValues("Pending", "Cancelled")); got != 1 {
		t.Fatalf("expected 1 transition, got %v", got)
	}
	if got := testutil.ToFloat64(m.releasedUnits); got != 4 {
		t.Fatalf("expected 4 released units, got %v", got)
	}

	metric := &dto.Metric{}
	if err := m.createDuration.Write(metric); err != nil {
		t.Fatalf("write histogram: %v", err)
	}
	if got := metric.GetHistogram().GetSampleCount(); got != 1 {
		t.Fatalf("expected 1 duration sample, got %d", got)
	}
}

func TestOrderMetrics_NilReceiver(t *testing.T) {
	var m *OrderMetrics

	m.RecordOrderCreated(domain.OrderTypeB2C, 1)
	m.RecordCreationFailure("internal")
	m.RecordNumberConflict()
	m.RecordTransition(domain.OrderStatusPending, domain.OrderStatusProcessing)
	m.RecordReleasedUnits(1)
	m.RecordCreateDuration(time.Second)
}

func TestRegister_ReturnsExistingCollector(t *testing.T) {
	reg := prometheus.NewRegistry()

	first := NewOrderMetricsWithRegisterer(reg)
	second := NewOrderMetricsWithRegisterer(reg)

	first.RecordNumberConflict()
	if got := testutil.ToFloat64(second.numberConflicts); got != 1 {
		t.Fatalf("expected shared collector, got %v", got)
	}
}

func TestOutboxMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewOutboxMetricsWithRegisterer(reg)

	m.RecordPublishAttempt("sent")
	m.RecordPublishAttempt("sent")
	m.SetBacklog(5, 12.5)

	if got := testutil.ToFloat64(m.publishAttempts.WithLabelValues("sent")); got != 2 {
		t.Fatalf("expected 2 sent attempts, got %v", got)
	}
	if got := testutil.ToFloat64(m.pendingRecords); got != 5 {
		t.Fatalf("expected 5 pending, got %v", got)
	}
	if got := testutil.ToFloat64(m.oldestPendingAge); got != 12.5 {
		t.Fatalf("expected age 12.5, got %v", got)
	}

	var nilMetrics *OutboxMetrics
	nilMetrics.RecordPublishAttempt("sent")
	nilMetrics.SetBacklog(0, 0)
}
