package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
)

func TestNewOrderMetrics(t *testing.T) {
	metrics := NewOrderMetrics()

	if metrics == nil {
		t.Fatal("NewOrderMetrics should not return nil")
	}
	if metrics.operations == nil {
		t.Error("operations counter vec should not be nil")
	}
	if metrics.operationDuration == nil {
		t.Error("operationDuration histogram vec should not be nil")
	}
	if metrics.refunds == nil || metrics.refundedAmount == nil {
		t.Error("refund counters should not be nil")
	}
	if metrics.inFlight == nil {
		t.Error("inFlight gauge should not be nil")
	}

	// Повторная регистрация возвращает уже существующие коллекторы.
	again := NewOrderMetrics()
	if again.operations != metrics.operations {
		t.Error("expected existing collector to be reused")
	}
}

func TestOperationLifecycle(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := newOrderMetricsWithRegisterer(reg)

	metrics.OperationStarted()
	metrics.OperationStarted()
	if got := testutil.ToFloat64(metrics.inFlight); got != 2 {
		t.Fatalf("expected 2 operations in flight, got %f", got)
	}

	metrics.OperationFinished("place_order", "", 20*time.Millisecond)
	metrics.OperationFinished("place_order", "insufficient_stock", 5*time.Millisecond)

	if got := testutil.ToFloat64(metrics.inFlight); got != 0 {
		t.Errorf("expected no operations in flight, got %f", got)
	}
	if got := testutil.ToFloat64(metrics.operations.WithLabelValues("place_order", ResultOK)); got != 1 {
		t.Errorf("expected 1 successful operation, got %f", got)
	}
	if got := testutil.ToFloat64(metrics.operations.WithLabelValues("place_order", "insufficient_stock")); got != 1 {
		t.Errorf("expected 1 failed operation, got %f", got)
	}

	metric := &dto.Metric{}
	observer := metrics.operationDuration.WithLabelValues("place_order")
	if err := observer.(prometheus.Histogram).Write(metric); err != nil {
		t.Fatalf("failed to write histogram: %v", err)
	}
	if metric.Histogram.GetSampleCount() != 2 {
		t.Errorf("expected 2 samples, got %d", metric.Histogram.GetSampleCount())
	}
	sum := metric.Histogram.GetSampleSum()
	if sum < 0.024 || sum > 0.026 {
		t.Errorf("expected sum around 0.025, got %f", sum)
	}
}

func TestRefundAndStockCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := newOrderMetricsWithRegisterer(reg)

	metrics.RecordRefund(250)
	metrics.RecordRefund(49.5)
	metrics.RecordReserved(3)
	metrics.RecordReleased(1)

	if got := testutil.ToFloat64(metrics.refunds); got != 2 {
		t.Errorf("expected 2 refunds, got %f", got)
	}
	if got := testutil.ToFloat64(metrics.refundedAmount); got != 299.5 {
		t.Errorf("expected refunded amount 299.5, got %f", got)
	}
	if got := testutil.ToFloat64(metrics.reservedUnits); got != 3 {
		t.Errorf("expected 3 reserved units, got %f", got)
	}
	if got := testutil.ToFloat64(metrics.releasedUnits); got != 1 {
		t.Errorf("expected 1 released unit, got %f", got)
	}
}
