package kafka

import "time"

// EventType определяет тип события
type EventType string

const (
	// Checkout события
	EventTypeCheckoutStarted   EventType = "checkout.started"
	EventTypeCheckoutCompleted EventType = "checkout.completed"
	EventTypeCheckoutFailed    EventType = "checkout.failed"

	// Order события
	EventTypeOrderCreated  EventType = "order.created"
	EventTypeOrderPaid     EventType = "order.paid"
	EventTypeOrderCanceled EventType = "order.canceled"
)

// Topics для Kafka
const (
	TopicCheckoutEvents  = "craftshop.checkout.events"
	TopicOrderEvents     = "craftshop.order.events"
	TopicDeadLetterQueue = "craftshop.dlq" // Dead Letter Queue для failed messages
)

// CheckoutEvent представляет событие checkout-потока
type CheckoutEvent struct {
	EventType EventType              `json:"event_type"`
	OrderID   string                 `json:"order_id"`
	Timestamp time.Time              `json:"timestamp"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// OrderEvent представляет событие заказа
type OrderEvent struct {
	EventType EventType              `json:"event_type"`
	OrderID   string                 `json:"order_id"`
	BuyerID   string                 `json:"buyer_id"`
	Status    string                 `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// NewCheckoutEvent создает новое событие checkout-потока
func NewCheckoutEvent(eventType EventType, orderID string, metadata map[string]interface{}) *CheckoutEvent {
	return &CheckoutEvent{
		EventType: eventType,
		OrderID:   orderID,
		Timestamp: time.Now(),
		Metadata:  metadata,
	}
}

// NewOrderEvent создает новое событие заказа
func NewOrderEvent(eventType EventType, orderID, buyerID, status string, metadata map[string]interface{}) *OrderEvent {
	return &OrderEvent{
		EventType: eventType,
		OrderID:   orderID,
		BuyerID:   buyerID,
		Status:    status,
		Timestamp: time.Now(),
		Metadata:  metadata,
	}
}
