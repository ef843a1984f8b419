package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"
)

// EventHandler получает расшифрованные события витрины из Kafka.
type EventHandler interface {
	OnOrderEvent(ctx context.Context, event OrderEvent) error
	OnCheckoutEvent(ctx context.Context, event CheckoutEvent) error
}

// dlqPublisher — минимальный порт для отправки безнадёжных сообщений в DLQ.
type dlqPublisher interface {
	PublishEvent(topic string, key string, event interface{}) error
}

// errMalformedEvent — сообщение не декодируется; retry бессмысленен.
var errMalformedEvent = errors.New("malformed event payload")

// ConsumerConfig — настройки EventConsumer.
type ConsumerConfig struct {
	Brokers []string
	GroupID string
	// Topics по умолчанию — топики заказов и checkout-потока.
	Topics     []string
	MaxRetries int
	RetryDelay time.Duration
	// DLQ опциональна: без неё необработанное сообщение не маркируется
	// и будет доставлено повторно.
	DLQ *Producer
}

// EventConsumer читает события заказов и checkout-потока из consumer group,
// повторяет обработку при сбоях и отправляет исчерпавшие retry сообщения в DLQ.
type EventConsumer struct {
	group      sarama.ConsumerGroup
	topics     []string
	handler    EventHandler
	dlq        dlqPublisher
	maxRetries int
	retryDelay time.Duration
	logger     *log.Entry
	wg         sync.WaitGroup
}

// NewEventConsumer создает consumer событий витрины.
func NewEventConsumer(cfg ConsumerConfig, handler EventHandler) (*EventConsumer, error) {
	if handler == nil {
		return nil, fmt.Errorf("event handler is required")
	}
	if len(cfg.Topics) == 0 {
		cfg.Topics = []string{TopicOrderEvents, TopicCheckoutEvents}
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 500 * time.Millisecond
	}

	saramaCfg := sarama.NewConfig()
	saramaCfg.Consumer.Group.Rebalance.Strategy = sarama.NewBalanceStrategyRoundRobin()
	saramaCfg.Consumer.Offsets.Initial = sarama.OffsetNewest
	saramaCfg.Consumer.Return.Errors = true

	group, err := sarama.NewConsumerGroup(cfg.Brokers, cfg.GroupID, saramaCfg)
	if err != nil {
		return nil, fmt.Errorf("create kafka consumer group: %w", err)
	}

	consumer := &EventConsumer{
		group:      group,
		topics:     cfg.Topics,
		handler:    handler,
		maxRetries: cfg.MaxRetries,
		retryDelay: cfg.RetryDelay,
		logger:     log.WithField("component", "event-consumer"),
	}
	if cfg.DLQ != nil {
		consumer.dlq = cfg.DLQ
	}
	return consumer, nil
}

// Start запускает цикл consumer group.
func (c *EventConsumer) Start(ctx context.Context) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for {
			// Consume завершается при rebalance и вызывается снова.
			if err := c.group.Consume(ctx, c.topics, c); err != nil {
				c.logger.WithError(err).Error("consumer group session failed")
			}
			if ctx.Err() != nil {
				return
			}
		}
	}()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for err := range c.group.Errors() {
			c.logger.WithError(err).Error("consumer error")
		}
	}()

	c.logger.WithField("topics", c.topics).Info("event consumer started")
}

// Stop останавливает consumer и дожидается завершения фоновых горутин.
func (c *EventConsumer) Stop() error {
	if err := c.group.Close(); err != nil {
		return fmt.Errorf("close kafka consumer group: %w", err)
	}
	c.wg.Wait()
	c.logger.Info("event consumer stopped")
	return nil
}

// Setup вызывается при старте consumer session
func (c *EventConsumer) Setup(sarama.ConsumerGroupSession) error {
	return nil
}

// Cleanup вызывается при завершении consumer session
func (c *EventConsumer) Cleanup(sarama.ConsumerGroupSession) error {
	return nil
}

// ConsumeClaim обрабатывает сообщения одной партиции.
func (c *EventConsumer) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for message := range claim.Messages() {
		if session.Context().Err() != nil {
			return nil
		}

		if err := c.process(session.Context(), message); err != nil {
			c.logger.WithError(err).WithFields(log.Fields{
				"topic":     message.Topic,
				"partition": message.Partition,
				"offset":    message.Offset,
			}).Error("message dropped from processing, will be redelivered")
			// Не маркируем: без подтверждения сообщение придёт снова.
			continue
		}

		session.MarkMessage(message, "")
	}
	return nil
}

// process доставляет сообщение обработчику с retry. Сообщение, исчерпавшее
// попытки (или не декодируемое вовсе), уходит в DLQ и считается обработанным.
func (c *EventConsumer) process(ctx context.Context, message *sarama.ConsumerMessage) error {
	var lastErr error
	for attempt := 1; attempt <= c.maxRetries; attempt++ {
		lastErr = c.dispatch(ctx, message)
		if lastErr == nil {
			return nil
		}
		if errors.Is(lastErr, errMalformedEvent) {
			break
		}

		c.logger.WithError(lastErr).WithFields(log.Fields{
			"topic":   message.Topic,
			"offset":  message.Offset,
			"attempt": attempt,
		}).Warn("event processing failed")

		if attempt == c.maxRetries {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.retryDelay * time.Duration(attempt)):
		}
	}

	if c.dlq == nil {
		return lastErr
	}
	if dlqErr := c.sendToDLQ(message, lastErr); dlqErr != nil {
		return fmt.Errorf("send to DLQ: %w", dlqErr)
	}

	c.logger.WithFields(log.Fields{
		"topic":  message.Topic,
		"offset": message.Offset,
	}).Info("event sent to DLQ")
	return nil
}

// dispatch декодирует сообщение по топику и передаёт его обработчику.
func (c *EventConsumer) dispatch(ctx context.Context, message *sarama.ConsumerMessage) error {
	switch message.Topic {
	case TopicCheckoutEvents:
		event, err := ParseCheckoutEvent(message)
		if err != nil {
			return fmt.Errorf("%w: %v", errMalformedEvent, err)
		}
		return c.handler.OnCheckoutEvent(ctx, *event)
	default:
		event, err := ParseOrderEvent(message)
		if err != nil {
			return fmt.Errorf("%w: %v", errMalformedEvent, err)
		}
		return c.handler.OnOrderEvent(ctx, *event)
	}
}

// sendToDLQ пишет необработанное сообщение в Dead Letter Queue. Формат
// записи совпадает с тем, что читает dlq-reprocess.
func (c *EventConsumer) sendToDLQ(message *sarama.ConsumerMessage, processingErr error) error {
	payload := map[string]interface{}{
		"original_topic":     message.Topic,
		"original_partition": message.Partition,
		"original_offset":    message.Offset,
		"original_key":       string(message.Key),
		"original_value":     string(message.Value),
		"error_message":      processingErr.Error(),
		"failed_at":          time.Now().UTC().Format(time.RFC3339),
	}
	return c.dlq.PublishEvent(TopicDeadLetterQueue, string(message.Key), payload)
}

// ParseCheckoutEvent парсит CheckoutEvent из сообщения
func ParseCheckoutEvent(message *sarama.ConsumerMessage) (*CheckoutEvent, error) {
	var event CheckoutEvent
	if err := json.Unmarshal(message.Value, &event); err != nil {
		return nil, fmt.Errorf("failed to unmarshal checkout event: %w", err)
	}
	return &event, nil
}

// ParseOrderEvent парсит OrderEvent из сообщения
func ParseOrderEvent(message *sarama.ConsumerMessage) (*OrderEvent, error) {
	var event OrderEvent
	if err := json.Unmarshal(message.Value, &event); err != nil {
		return nil, fmt.Errorf("failed to unmarshal order event: %w", err)
	}
	return &event, nil
}

var _ sarama.ConsumerGroupHandler = (*EventConsumer)(nil)
