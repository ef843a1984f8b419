package app

import (
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/craftshop/internal/cache"
	"github.com/vladislavdragonenkov/craftshop/internal/domain"
	"github.com/vladislavdragonenkov/craftshop/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/craftshop/internal/notify"
	"github.com/vladislavdragonenkov/craftshop/internal/service/checkout"
	"github.com/vladislavdragonenkov/craftshop/internal/service/payment"
)

// createPaymentGateway собирает платёжный шлюз под выбранный driver.
// Внешний шлюз оборачивается в retry: транспортные сбои повторяются,
// отказы провайдера — нет.
func createPaymentGateway(cfg Config, logger *log.Entry) domain.PaymentGateway {
	switch cfg.PaymentDriver {
	case PaymentDriverPayPal:
		gateway := payment.NewPayPalGateway(payment.PayPalConfig{
			BaseURL:      cfg.PayPalBaseURL,
			ClientID:     cfg.PayPalClientID,
			ClientSecret: cfg.PayPalClientSecret,
		}, logger.WithField("component", "paypal-gateway"))
		logger.Info("using paypal payment gateway")
		return payment.NewRetryableGateway(gateway, payment.DefaultRetryConfig(), logger.WithField("component", "retryable-gateway"))
	default:
		logger.Info("using card simulator payment gateway")
		return payment.NewCardSimGateway(logger.WithField("component", "cardsim-gateway"))
	}
}

// createCoordinator создаёт checkout coordinator с или без Kafka в
// зависимости от наличия producer.
func createCoordinator(
	deps *runtimeDependencies,
	gateway domain.PaymentGateway,
	notifier domain.Notifier,
	kafkaProducer *kafka.Producer,
	logger *log.Entry,
) checkout.Coordinator {
	if kafkaProducer != nil {
		return checkout.NewCoordinatorWithKafka(
			deps.orderRepo,
			deps.outboxRepo,
			deps.timelineRepo,
			gateway,
			notifier,
			kafkaProducer,
			logger,
		)
	}

	return checkout.NewCoordinator(
		deps.orderRepo,
		deps.outboxRepo,
		deps.timelineRepo,
		gateway,
		notifier,
		logger,
	)
}

// createNotifier возвращает уведомитель покупателей. Сейчас это запись в
// лог; SMTP-клиент подключается тут же при появлении.
func createNotifier(logger *log.Entry) domain.Notifier {
	return notify.NewLogNotifier(logger.WithField("component", "notifier"))
}

// createEventDeduper собирает Redis-дедупликатор событий. Пустой адрес
// выключает дедупликацию целиком.
func createEventDeduper(cfg Config, logger *log.Entry) *cache.EventDeduper {
	if cfg.RedisAddr == "" {
		return nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	})
	logger.WithField("addr", cfg.RedisAddr).Info("redis event dedup enabled")
	return cache.NewEventDeduper(client, cfg.DedupTTL, logger.WithField("component", "event-deduper"))
}
