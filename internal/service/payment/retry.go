package payment

import (
	"context"
	"errors"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/craftshop/internal/domain"
)

// RetryConfig конфигурация для retry логики шлюза.
type RetryConfig struct {
	MaxAttempts   int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
}

// DefaultRetryConfig возвращает конфигурацию по умолчанию.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:   3,
		InitialDelay:  100 * time.Millisecond,
		MaxDelay:      5 * time.Second,
		BackoffFactor: 2.0,
	}
}

// RetryableGateway оборачивает платёжный шлюз retry логикой. Повторяются
// только транспортные сбои: отказ провайдера повторять бессмысленно, а
// состоянием заказа всё равно управляет единственный финализатор.
type RetryableGateway struct {
	gateway domain.PaymentGateway
	config  RetryConfig
	logger  *log.Entry
}

// NewRetryableGateway создаёт шлюз с retry логикой.
func NewRetryableGateway(gateway domain.PaymentGateway, config RetryConfig, logger *log.Entry) *RetryableGateway {
	if logger == nil {
		logger = log.New().WithField("component", "retryable-gateway")
	}

	return &RetryableGateway{
		gateway: gateway,
		config:  config,
		logger:  logger,
	}
}

// CreateRemoteIntent создаёт платёжное намерение с retry логикой.
func (rg *RetryableGateway) CreateRemoteIntent(ctx context.Context, order domain.Order) (string, error) {
	var remoteID string
	err := rg.executeWithRetry(ctx, "CreateRemoteIntent", order.ID, func() error {
		var callErr error
		remoteID, callErr = rg.gateway.CreateRemoteIntent(ctx, order)
		return callErr
	})
	return remoteID, err
}

// CaptureRemoteIntent подтверждает платёж с retry логикой.
func (rg *RetryableGateway) CaptureRemoteIntent(ctx context.Context, remoteID string) (domain.CaptureOutcome, error) {
	outcome := domain.OutcomeFailed
	err := rg.executeWithRetry(ctx, "CaptureRemoteIntent", remoteID, func() error {
		var callErr error
		outcome, callErr = rg.gateway.CaptureRemoteIntent(ctx, remoteID)
		return callErr
	})
	return outcome, err
}

func (rg *RetryableGateway) executeWithRetry(ctx context.Context, operation, id string, fn func() error) error {
	var lastErr error
	delay := rg.config.InitialDelay

	for attempt := 1; attempt <= rg.config.MaxAttempts; attempt++ {
		err := fn()
		if err == nil {
			if attempt > 1 {
				rg.logger.WithFields(log.Fields{
					"operation": operation,
					"id":        id,
					"attempt":   attempt,
				}).Info("gateway call succeeded after retry")
			}
			return nil
		}

		lastErr = err

		if !rg.shouldRetry(err) {
			rg.logger.WithFields(log.Fields{
				"operation": operation,
				"id":        id,
				"error":     err,
			}).Warn("gateway call failed with non-retryable error")
			return err
		}

		if attempt < rg.config.MaxAttempts {
			rg.logger.WithFields(log.Fields{
				"operation": operation,
				"id":        id,
				"attempt":   attempt,
				"delay":     delay,
				"error":     err,
			}).Warn("gateway call failed, retrying")

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}

			// Экспоненциальная задержка с ограничением
			delay = time.Duration(float64(delay) * rg.config.BackoffFactor)
			if delay > rg.config.MaxDelay {
				delay = rg.config.MaxDelay
			}
		}
	}

	rg.logger.WithFields(log.Fields{
		"operation":    operation,
		"id":           id,
		"max_attempts": rg.config.MaxAttempts,
		"error":        lastErr,
	}).Error("gateway call failed after all retry attempts")

	return lastErr
}

// shouldRetry определяет, стоит ли повторять вызов при данной ошибке.
func (rg *RetryableGateway) shouldRetry(err error) bool {
	// Отказ провайдера — финальный ответ, повтор не изменит исход.
	if errors.Is(err, domain.ErrGatewayRejected) {
		return false
	}
	// Транспортные сбои повторяем.
	return errors.Is(err, domain.ErrGatewayUnavailable)
}

var _ domain.PaymentGateway = (*RetryableGateway)(nil)
