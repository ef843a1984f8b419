package app

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"

	healthcheck "github.com/vladislavdragonenkov/craftshop/internal/health"
	"github.com/vladislavdragonenkov/craftshop/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/craftshop/internal/service/httpapi"
	"github.com/vladislavdragonenkov/craftshop/internal/service/idempotency"
	"github.com/vladislavdragonenkov/craftshop/internal/service/outbox"
	"github.com/vladislavdragonenkov/craftshop/internal/service/sweeper"
	"github.com/vladislavdragonenkov/craftshop/internal/version"
)

const shutdownTimeout = 5 * time.Second

// Run собирает зависимости и запускает HTTP API, метрики и фоновые
// воркеры. Блокируется до отмены ctx или фатальной ошибки сервера.
func Run(ctx context.Context, cfg Config) error {
	logger := log.WithField("component", "app")

	deps, err := initRuntimeDependencies(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer deps.Close()

	// Kafka опционален: без брокеров события остаются в outbox.
	kafkaProducer, _ := initKafkaProducer(cfg.KafkaBrokers, logger)
	defer closeKafka(kafkaProducer, logger)

	gateway := createPaymentGateway(cfg, logger)
	notifier := createNotifier(logger)
	coordinator := createCoordinator(deps, gateway, notifier, kafkaProducer, logger.WithField("component", "checkout"))
	deduper := createEventDeduper(cfg, logger)

	sweepWorker := sweeper.NewWorker(coordinator, deps.orderRepo, deps.reservationRepo,
		sweeper.WithLogger(logger.WithField("component", "sweeper")),
		sweeper.WithInterval(cfg.SweepInterval),
		sweeper.WithOrderThreshold(cfg.SweepOrderThreshold),
		sweeper.WithReservationTTL(cfg.SweepReservationTTL),
	)

	outboxWorker := createOutboxWorker(cfg, deps, kafkaProducer, logger)

	cleanupWorker := idempotency.NewCleanupWorker(deps.idempotencyRepo,
		idempotency.WithLogger(logger.WithField("component", "idempotency-cleanup")),
		idempotency.WithInterval(cfg.IdempotencyCleanupInterval),
		idempotency.WithBatchSize(cfg.IdempotencyCleanupBatchSize),
	)

	workersCtx, stopWorkers := context.WithCancel(ctx)
	defer stopWorkers()

	var wg sync.WaitGroup
	wg.Add(3)
	go func() { defer wg.Done(); sweepWorker.Run(workersCtx) }()
	go func() { defer wg.Done(); outboxWorker.Run(workersCtx) }()
	go func() { defer wg.Done(); cleanupWorker.Run(workersCtx) }()

	v, _, _ := version.Info()
	healthHandler := healthcheck.NewHandler(v)
	if deps.pgStore != nil {
		healthHandler.RegisterChecker("postgres", healthcheck.NewSimpleChecker("postgres", func() error {
			checkCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			return deps.pgStore.Ping(checkCtx)
		}))
	}

	metricsSrv := startMetricsServer(ctx, cfg.MetricsAddr, logger, healthHandler)

	apiHandler := httpapi.NewHandler(
		coordinator,
		deps.catalogRepo,
		deps.orderRepo,
		deps.timelineRepo,
		deps.idempotencyRepo,
		sweepWorker,
		deduper,
		cfg.SweepSecret,
		logger.WithField("component", "httpapi"),
	)
	apiSrv := &http.Server{Addr: cfg.HTTPAddr, Handler: apiHandler.Router()}

	errCh := make(chan error, 1)
	go func() {
		logger.Infof("HTTP API слушает %s", cfg.HTTPAddr)
		errCh <- apiSrv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info("получен сигнал остановки, останавливаем HTTP сервер")
		shutdownHTTP(apiSrv, logger)
		shutdownHTTP(metricsSrv, logger)
		stopWorkers()
		wg.Wait()
		return ctx.Err()
	case err := <-errCh:
		shutdownHTTP(metricsSrv, logger)
		stopWorkers()
		wg.Wait()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// createOutboxWorker собирает outbox worker. Без Kafka publisher воркер
// остаётся выключенным и события копятся в outbox до появления брокера.
func createOutboxWorker(cfg Config, deps *runtimeDependencies, producer *kafka.Producer, logger *log.Entry) *outbox.Worker {
	options := []outbox.Option{
		outbox.WithLogger(logger.WithField("component", "outbox-worker")),
		outbox.WithPollInterval(cfg.OutboxPollInterval),
		outbox.WithBatchSize(cfg.OutboxBatchSize),
		outbox.WithMaxAttempts(cfg.OutboxMaxAttempts),
		outbox.WithRetryBaseDelay(cfg.OutboxRetryDelay),
	}

	if producer == nil {
		return outbox.NewWorker(deps.outboxRepo, nil, options...)
	}

	options = append(options, outbox.WithDLQPublisher(
		kafka.NewOutboxPublisher(producer, kafka.TopicDeadLetterQueue),
	))
	return outbox.NewWorker(
		deps.outboxRepo,
		kafka.NewOutboxPublisher(producer, kafka.TopicOrderEvents),
		options...,
	)
}

// startMetricsServer запускает HTTP-обработчик /metrics для Prometheus
// вместе с health-эндпоинтами.
func startMetricsServer(ctx context.Context, addr string, logger *log.Entry, healthHandler *healthcheck.Handler) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/healthz", healthHandler)
	mux.HandleFunc("/readyz", healthHandler.ReadinessHandler)
	mux.HandleFunc("/livez", healthcheck.LivenessHandler)

	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		logger.Infof("метрики доступны по адресу %s/metrics", addr)
		logger.Infof("health checks: %s/healthz, %s/readyz, %s/livez", addr, addr, addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Warn("metrics server failed")
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownHTTP(srv, logger)
	}()

	return srv
}

// shutdownHTTP аккуратно останавливает HTTP-сервер.
func shutdownHTTP(srv *http.Server, logger *log.Entry) {
	if srv == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.WithError(err).Warn("http shutdown with error")
	}
}
