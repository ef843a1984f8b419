package notify

import (
	"context"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/craftshop/internal/messaging/kafka"
)

// EventLogger — обработчик Kafka-событий, пишущий уведомления в лог.
// Используется отдельным consumer-воркером: API-инстансы публикуют события,
// а рассылкой занимается он.
type EventLogger struct {
	logger *log.Entry
}

// NewEventLogger создаёт обработчик событий, пишущий в лог.
func NewEventLogger(logger *log.Entry) *EventLogger {
	if logger == nil {
		logger = log.New().WithField("component", "event-notifier")
	}
	return &EventLogger{logger: logger}
}

func (n *EventLogger) OnOrderEvent(_ context.Context, event kafka.OrderEvent) error {
	fields := log.Fields{
		"order_id": event.OrderID,
		"buyer_id": event.BuyerID,
		"status":   event.Status,
	}

	switch event.EventType {
	case kafka.EventTypeOrderPaid:
		n.logger.WithFields(fields).Info("order paid notification")
	case kafka.EventTypeOrderCanceled:
		if reason, ok := event.Metadata["reason"].(string); ok && reason != "" {
			fields["reason"] = reason
		}
		n.logger.WithFields(fields).Info("order canceled notification")
	default:
		n.logger.WithFields(fields).Debug("order event without notification")
	}
	return nil
}

func (n *EventLogger) OnCheckoutEvent(_ context.Context, event kafka.CheckoutEvent) error {
	n.logger.WithFields(log.Fields{
		"order_id":   event.OrderID,
		"event_type": event.EventType,
	}).Debug("checkout event received")
	return nil
}

var _ kafka.EventHandler = (*EventLogger)(nil)
