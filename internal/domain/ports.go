package domain

import "time"

// Notifier уведомляет покупателя о терминальных событиях заказа.
// Для корректности workflow уведомления не обязательны: ошибки логируются
// и не откатывают переходы статусов.
type Notifier interface {
	OrderPaid(order Order)
	OrderCanceled(order Order, reason string)
}

// OutboxPublisher публикует события из transactional outbox.
type OutboxPublisher interface {
	// Publish передаёт событие наружу; должен быть идемпотентным.
	Publish(event OutboxMessage) error
}

// OutboxMessage хранит данные для публикуемого события.
type OutboxMessage struct {
	ID            string
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
}

// OutboxStats описывает текущее состояние backlog transactional outbox.
type OutboxStats struct {
	PendingCount    int
	OldestPendingAt time.Time
}
