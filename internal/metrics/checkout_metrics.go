package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// CheckoutMetrics содержит метрики checkout-потока.
type CheckoutMetrics struct {
	// Счётчики операций
	checkoutStarted   prometheus.Counter
	checkoutCompleted prometheus.Counter
	checkoutFailed    prometheus.Counter
	ordersPaid        prometheus.Counter
	ordersCanceled    prometheus.Counter
	stockRejections   prometheus.Counter

	// Гистограммы времени выполнения
	checkoutDuration prometheus.Histogram
	stepDuration     *prometheus.HistogramVec

	// Счётчики событий timeline и outbox
	timelineEvents prometheus.Counter
	outboxEvents   prometheus.Counter

	// Gauge для заказов в полёте
	activeCheckouts prometheus.Gauge
}

// NewCheckoutMetrics создаёт новый экземпляр метрик checkout.
func NewCheckoutMetrics() *CheckoutMetrics {
	return newCheckoutMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

func newCheckoutMetricsWithRegisterer(registerer prometheus.Registerer) *CheckoutMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &CheckoutMetrics{
		checkoutStarted: registerCounter(registerer, prometheus.CounterOpts{
			Name: "craftshop_checkout_started_total",
			Help: "Total number of checkout flows started",
		}),
		checkoutCompleted: registerCounter(registerer, prometheus.CounterOpts{
			Name: "craftshop_checkout_completed_total",
			Help: "Total number of checkout flows completed with a paid order",
		}),
		checkoutFailed: registerCounter(registerer, prometheus.CounterOpts{
			Name: "craftshop_checkout_failed_total",
			Help: "Total number of checkout flows that ended with a canceled order",
		}),
		ordersPaid: registerCounter(registerer, prometheus.CounterOpts{
			Name: "craftshop_orders_paid_total",
			Help: "Total number of orders marked paid",
		}),
		ordersCanceled: registerCounter(registerer, prometheus.CounterOpts{
			Name: "craftshop_orders_canceled_total",
			Help: "Total number of orders canceled with stock restored",
		}),
		stockRejections: registerCounter(registerer, prometheus.CounterOpts{
			Name: "craftshop_stock_rejections_total",
			Help: "Total number of checkouts rejected for insufficient stock",
		}),
		checkoutDuration: registerHistogram(registerer, prometheus.HistogramOpts{
			Name:    "craftshop_checkout_duration_seconds",
			Help:    "Duration of checkout flows in seconds",
			Buckets: prometheus.DefBuckets,
		}),
		stepDuration: registerHistogramVec(registerer, prometheus.HistogramOpts{
			Name:    "craftshop_checkout_step_duration_seconds",
			Help:    "Duration of individual checkout steps in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
		}, []string{"step"}),
		timelineEvents: registerCounter(registerer, prometheus.CounterOpts{
			Name: "craftshop_timeline_events_total",
			Help: "Total number of timeline events recorded",
		}),
		outboxEvents: registerCounter(registerer, prometheus.CounterOpts{
			Name: "craftshop_outbox_events_total",
			Help: "Total number of outbox events enqueued",
		}),
		activeCheckouts: registerGauge(registerer, prometheus.GaugeOpts{
			Name: "craftshop_active_checkouts",
			Help: "Number of checkout flows currently in flight",
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

func registerHistogram(registerer prometheus.Registerer, opts prometheus.HistogramOpts) prometheus.Histogram {
	collector := prometheus.NewHistogram(opts)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(prometheus.Histogram)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register histogram %q: %v", opts.Name, err))
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

// RecordCheckoutStarted увеличивает счётчик начатых checkout-потоков.
func (m *CheckoutMetrics) RecordCheckoutStarted() {
	m.checkoutStarted.Inc()
	m.activeCheckouts.Inc()
}

// RecordCheckoutCompleted увеличивает счётчик успешных checkout-потоков.
func (m *CheckoutMetrics) RecordCheckoutCompleted() {
	m.checkoutCompleted.Inc()
	m.activeCheckouts.Dec()
}

// RecordCheckoutFailed увеличивает счётчик неудачных checkout-потоков.
func (m *CheckoutMetrics) RecordCheckoutFailed() {
	m.checkoutFailed.Inc()
	m.activeCheckouts.Dec()
}

// RecordOrderPaid увеличивает счётчик оплаченных заказов.
func (m *CheckoutMetrics) RecordOrderPaid() {
	m.ordersPaid.Inc()
}

// RecordOrderCanceled увеличивает счётчик отменённых заказов.
func (m *CheckoutMetrics) RecordOrderCanceled() {
	m.ordersCanceled.Inc()
}

// RecordStockRejection увеличивает счётчик отказов по нехватке стока.
func (m *CheckoutMetrics) RecordStockRejection() {
	m.stockRejections.Inc()
}

// RecordCheckoutDuration записывает время выполнения checkout-потока.
func (m *CheckoutMetrics) RecordCheckoutDuration(duration time.Duration) {
	m.checkoutDuration.Observe(duration.Seconds())
}

// RecordStepDuration записывает время выполнения шага checkout.
func (m *CheckoutMetrics) RecordStepDuration(step string, duration time.Duration) {
	m.stepDuration.WithLabelValues(step).Observe(duration.Seconds())
}

// RecordTimelineEvent увеличивает счётчик событий timeline.
func (m *CheckoutMetrics) RecordTimelineEvent() {
	m.timelineEvents.Inc()
}

// RecordOutboxEvent увеличивает счётчик событий outbox.
func (m *CheckoutMetrics) RecordOutboxEvent() {
	m.outboxEvents.Inc()
}
