package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// ResultOK — метка результата для успешной операции.
const ResultOK = "ok"

// OrderMetrics содержит метрики операций над заказами.
type OrderMetrics struct {
	// Счётчики операций по результату
	operations *prometheus.CounterVec

	// Гистограмма времени выполнения по операции
	operationDuration *prometheus.HistogramVec

	// Денежные и складские движения
	refunds        prometheus.Counter
	refundedAmount prometheus.Counter
	reservedUnits  prometheus.Counter
	releasedUnits  prometheus.Counter

	// Gauge для операций в процессе
	inFlight prometheus.Gauge
}

// NewOrderMetrics создаёт метрики в реестре по умолчанию.
func NewOrderMetrics() *OrderMetrics {
	return newOrderMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

func newOrderMetricsWithRegisterer(registerer prometheus.Registerer) *OrderMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &OrderMetrics{
		operations: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "ordercore_operations_total",
			Help: "Total number of order operations by result",
		}, []string{"operation", "result"}),
		operationDuration: registerHistogramVec(registerer, prometheus.HistogramOpts{
			Name:    "ordercore_operation_duration_seconds",
			Help:    "Duration of order operations in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
		}, []string{"operation"}),
		refunds: registerCounter(registerer, prometheus.CounterOpts{
			Name: "ordercore_refunds_total",
			Help: "Total number of wallet refunds issued",
		}),
		refundedAmount: registerCounter(registerer, prometheus.CounterOpts{
			Name: "ordercore_refunded_amount_total",
			Help: "Total amount refunded to wallets",
		}),
		reservedUnits: registerCounter(registerer, prometheus.CounterOpts{
			Name: "ordercore_stock_reserved_units_total",
			Help: "Total number of stock units reserved",
		}),
		releasedUnits: registerCounter(registerer, prometheus.CounterOpts{
			Name: "ordercore_stock_released_units_total",
			Help: "Total number of stock units released",
		}),
		inFlight: registerGauge(registerer, prometheus.GaugeOpts{
			Name: "ordercore_operations_in_flight",
			Help: "Number of order operations currently running",
		}),
	}
}

func registerCounter(registerer prometheus.Registerer, opts prometheus.CounterOpts) prometheus.Counter {
	collector := prometheus.NewCounter(opts)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(prometheus.Counter)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register counter %q: %v", opts.Name, err))
	}
	return collector
}

func registerCounterVec(registerer prometheus.Registerer, opts prometheus.CounterOpts, labels []string) *prometheus.CounterVec {
	collector := prometheus.NewCounterVec(opts, labels)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(*prometheus.CounterVec)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register counter vec %q: %v", opts.Name, err))
	}
	return collector
}

func registerGauge(registerer prometheus.Registerer, opts prometheus.GaugeOpts) prometheus.Gauge {
	collector := prometheus.NewGauge(opts)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(prometheus.Gauge)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register gauge %q: %v", opts.Name, err))
	}
	return collector
}

func registerHistogramVec(registerer prometheus.Registerer, opts prometheus.HistogramOpts, labels []string) *prometheus.HistogramVec {
	collector := prometheus.NewHistogramVec(opts, labels)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(*prometheus.HistogramVec)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register histogram vec %q: %v", opts.Name, err))
	}
	return collector
}

// OperationStarted увеличивает число операций в процессе.
func (m *OrderMetrics) OperationStarted() {
	m.inFlight.Inc()
}

// OperationFinished фиксирует результат и длительность операции.
// Пустой result считается успехом.
func (m *OrderMetrics) OperationFinished(operation, result string, duration time.Duration) {
	if result == "" {
		result = ResultOK
	}
	m.inFlight.Dec()
	m.operations.WithLabelValues(operation, result).Inc()
	m.operationDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordRefund учитывает возврат на кошелёк.
func (m *OrderMetrics) RecordRefund(amount float64) {
	m.refunds.Inc()
	m.refundedAmount.Add(amount)
}

// RecordReserved учитывает зарезервированные единицы товара.
func (m *OrderMetrics) RecordReserved(units int) {
	m.reservedUnits.Add(float64(units))
}

// RecordReleased учитывает возвращённые на склад единицы товара.
func (m *OrderMetrics) RecordReleased(units int) {
	m.releasedUnits.Add(float64(units))
}
