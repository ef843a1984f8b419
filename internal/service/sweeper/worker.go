package sweeper

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/craftshop/internal/domain"
	"github.com/vladislavdragonenkov/craftshop/internal/service/checkout"
)

const (
	defaultInterval       = 5 * time.Minute
	defaultOrderThreshold = 30 * time.Minute
	defaultReservationTTL = 5 * time.Minute
	defaultBatchSize      = 100
	defaultMaxParallelOps = 4
)

var (
	sweepRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "craftshop_sweep_runs_total",
		Help: "Total number of sweep runs grouped by result.",
	}, []string{"result"})
	sweepOrdersRestored = promauto.NewCounter(prometheus.CounterOpts{
		Name: "craftshop_sweep_orders_restored_total",
		Help: "Total number of abandoned orders canceled with stock restored.",
	})
	sweepReservationsReclaimed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "craftshop_sweep_reservations_reclaimed_total",
		Help: "Total number of expired stock reservations returned to the shelf.",
	})
	sweepLastFound = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "craftshop_sweep_last_found",
		Help: "Number of abandoned orders found by the most recent sweep.",
	})
	sweepLastErrors = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "craftshop_sweep_last_errors",
		Help: "Number of per-order failures in the most recent sweep.",
	})
)

// Summary — итог одного прохода sweeper.
type Summary struct {
	Found    int `json:"found"`
	Restored int `json:"restored"`
	Errors   int `json:"errors"`
}

// WorkerOptions задаёт параметры sweeper worker.
type WorkerOptions struct {
	Logger         *log.Entry
	Interval       time.Duration
	OrderThreshold time.Duration
	ReservationTTL time.Duration
	BatchSize      int
	MaxParallelOps int
}

// Option настраивает Worker.
type Option func(*WorkerOptions)

// WithLogger задаёт logger для воркера.
func WithLogger(logger *log.Entry) Option {
	return func(opts *WorkerOptions) {
		opts.Logger = logger
	}
}

// WithInterval задаёт периодичность запусков.
func WithInterval(interval time.Duration) Option {
	return func(opts *WorkerOptions) {
		opts.Interval = interval
	}
}

// WithOrderThreshold задаёт возраст pending-заказа, после которого он
// считается брошенным.
func WithOrderThreshold(threshold time.Duration) Option {
	return func(opts *WorkerOptions) {
		opts.OrderThreshold = threshold
	}
}

// WithReservationTTL задаёт срок жизни непривязанного резерва.
func WithReservationTTL(ttl time.Duration) Option {
	return func(opts *WorkerOptions) {
		opts.ReservationTTL = ttl
	}
}

// WithBatchSize задаёт максимум кандидатов за один проход.
func WithBatchSize(batchSize int) Option {
	return func(opts *WorkerOptions) {
		opts.BatchSize = batchSize
	}
}

// WithMaxParallelOps задаёт число параллельных отмен внутри прохода.
func WithMaxParallelOps(n int) Option {
	return func(opts *WorkerOptions) {
		opts.MaxParallelOps = n
	}
}

// Worker периодически возвращает на склад сток брошенных заказов и
// просроченных резервов. Отмена идёт через FinalizeOrder координатора,
// поэтому гонка со входящим capture разрешается предикатом статуса в
// хранилище: выигрывает ровно одна сторона.
type Worker struct {
	coordinator  checkout.Coordinator
	orders       domain.OrderRepository
	reservations domain.ReservationRepository
	logger       *log.Entry

	interval       time.Duration
	orderThreshold time.Duration
	reservationTTL time.Duration
	batchSize      int
	maxParallelOps int
}

// NewWorker создаёт sweeper.
func NewWorker(
	coordinator checkout.Coordinator,
	orders domain.OrderRepository,
	reservations domain.ReservationRepository,
	options ...Option,
) *Worker {
	opts := WorkerOptions{
		Interval:       defaultInterval,
		OrderThreshold: defaultOrderThreshold,
		ReservationTTL: defaultReservationTTL,
		BatchSize:      defaultBatchSize,
		MaxParallelOps: defaultMaxParallelOps,
	}
	for _, option := range options {
		option(&opts)
	}

	logger := opts.Logger
	if logger == nil {
		logger = log.WithField("component", "sweeper")
	}

	if opts.Interval <= 0 {
		opts.Interval = defaultInterval
	}
	if opts.OrderThreshold <= 0 {
		opts.OrderThreshold = defaultOrderThreshold
	}
	if opts.ReservationTTL <= 0 {
		opts.ReservationTTL = defaultReservationTTL
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = defaultBatchSize
	}
	if opts.MaxParallelOps <= 0 {
		opts.MaxParallelOps = defaultMaxParallelOps
	}

	return &Worker{
		coordinator:    coordinator,
		orders:         orders,
		reservations:   reservations,
		logger:         logger,
		interval:       opts.Interval,
		orderThreshold: opts.OrderThreshold,
		reservationTTL: opts.ReservationTTL,
		batchSize:      opts.BatchSize,
		maxParallelOps: opts.MaxParallelOps,
	}
}

// Run запускает периодические проходы до отмены ctx.
func (w *Worker) Run(ctx context.Context) {
	if w.coordinator == nil || w.orders == nil {
		w.logger.Warn("sweeper is disabled: coordinator or orders repo is nil")
		return
	}

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.SweepOnce(ctx, time.Now().UTC())
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.SweepOnce(ctx, time.Now().UTC())
		}
	}
}

// SweepOnce выполняет один проход: отменяет брошенные заказы старше
// порога и возвращает просроченные резервы. Ошибка по одному заказу не
// прерывает проход.
func (w *Worker) SweepOnce(ctx context.Context, now time.Time) Summary {
	var summary Summary

	cutoff := now.Add(-w.orderThreshold)
	candidates, err := w.orders.ListAbandonedBefore(cutoff, w.batchSize)
	if err != nil {
		w.logger.WithError(err).Warn("failed to list abandoned orders")
		sweepRuns.WithLabelValues("error").Inc()
		summary.Errors++
		return summary
	}

	summary.Found = len(candidates)

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		sem      = make(chan struct{}, w.maxParallelOps)
		restored int
		failed   int
	)

	for _, order := range candidates {
		if ctx.Err() != nil {
			break
		}

		wg.Add(1)
		sem <- struct{}{}
		go func(orderID string) {
			defer wg.Done()
			defer func() { <-sem }()

			final, err := w.coordinator.FinalizeOrder(ctx, orderID, domain.OutcomeFailed, checkout.ReasonPaymentExpired)
			if err != nil {
				w.logger.WithError(err).WithField("order_id", orderID).Warn("sweep cancel failed")
				mu.Lock()
				failed++
				mu.Unlock()
				return
			}
			// Гонку мог выиграть параллельный capture: такой заказ
			// остаётся paid, и это не ошибка прохода.
			if final.Status == domain.OrderStatusCanceled {
				mu.Lock()
				restored++
				mu.Unlock()
			}
		}(order.ID)
	}
	wg.Wait()

	summary.Restored = restored
	summary.Errors += failed

	if w.reservations != nil {
		// Порог для резервов — их собственный expires_at; TTL применяется
		// при создании резерва, а не здесь.
		reclaimed, err := w.reservations.ReclaimExpired(now, w.batchSize)
		if err != nil {
			w.logger.WithError(err).Warn("failed to reclaim expired reservations")
			summary.Errors++
		} else if reclaimed > 0 {
			sweepReservationsReclaimed.Add(float64(reclaimed))
			w.logger.WithField("reclaimed", reclaimed).Info("expired reservations returned to stock")
		}
	}

	sweepOrdersRestored.Add(float64(restored))
	sweepLastFound.Set(float64(summary.Found))
	sweepLastErrors.Set(float64(summary.Errors))
	if summary.Errors > 0 {
		sweepRuns.WithLabelValues("partial").Inc()
	} else {
		sweepRuns.WithLabelValues("ok").Inc()
	}

	if summary.Found > 0 || summary.Errors > 0 {
		w.logger.WithFields(log.Fields{
			"found":    summary.Found,
			"restored": summary.Restored,
			"errors":   summary.Errors,
		}).Info("sweep completed")
	}

	return summary
}

// ReservationTTL возвращает срок жизни резервов, с которым создаёт их витрина.
func (w *Worker) ReservationTTL() time.Duration {
	return w.reservationTTL
}
