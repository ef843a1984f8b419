package notify

import (
	"context"
	"testing"

	log "github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"

	"github.com/vladislavdragonenkov/craftshop/internal/messaging/kafka"
)

func newCapturedEventLogger() (*EventLogger, *test.Hook) {
	logger, hook := test.NewNullLogger()
	return NewEventLogger(logger.WithField("component", "event-notifier")), hook
}

func TestEventLogger_OrderPaidNotification(t *testing.T) {
	handler, hook := newCapturedEventLogger()

	event := kafka.NewOrderEvent(kafka.EventTypeOrderPaid, "order-1", "buyer-1", "paid", nil)
	if err := handler.OnOrderEvent(context.Background(), *event); err != nil {
		t.Fatalf("handle order event failed: %v", err)
	}

	entry := hook.LastEntry()
	if entry == nil || entry.Level != log.InfoLevel {
		t.Fatalf("expected an info notification entry, got %+v", entry)
	}
	if entry.Data["order_id"] != "order-1" {
		t.Fatalf("expected order_id in notification, got %v", entry.Data["order_id"])
	}
}

func TestEventLogger_OrderCanceledIncludesReason(t *testing.T) {
	handler, hook := newCapturedEventLogger()

	event := kafka.NewOrderEvent(kafka.EventTypeOrderCanceled, "order-1", "buyer-1", "canceled",
		map[string]interface{}{"reason": "payment_window_expired"})
	if err := handler.OnOrderEvent(context.Background(), *event); err != nil {
		t.Fatalf("handle order event failed: %v", err)
	}

	entry := hook.LastEntry()
	if entry == nil || entry.Data["reason"] != "payment_window_expired" {
		t.Fatalf("expected cancel reason in notification, got %+v", entry)
	}
}

func TestEventLogger_CreatedEventProducesNoNotification(t *testing.T) {
	handler, hook := newCapturedEventLogger()

	event := kafka.NewOrderEvent(kafka.EventTypeOrderCreated, "order-1", "buyer-1", "pending", nil)
	if err := handler.OnOrderEvent(context.Background(), *event); err != nil {
		t.Fatalf("handle order event failed: %v", err)
	}

	for _, entry := range hook.AllEntries() {
		if entry.Level == log.InfoLevel {
			t.Fatalf("created event should not notify, got %q", entry.Message)
		}
	}
}

func TestEventLogger_CheckoutEvent(t *testing.T) {
	handler, _ := newCapturedEventLogger()

	event := kafka.NewCheckoutEvent(kafka.EventTypeCheckoutStarted, "order-1", nil)
	if err := handler.OnCheckoutEvent(context.Background(), *event); err != nil {
		t.Fatalf("handle checkout event failed: %v", err)
	}
}
