package checkout

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/craftshop/internal/domain"
	"github.com/vladislavdragonenkov/craftshop/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/craftshop/internal/metrics"
)

// Причины отмены, попадающие в timeline и события.
const (
	ReasonPaymentFailed  = "payment_failed"
	ReasonPaymentExpired = "payment_window_expired"
)

// Coordinator управляет жизненным циклом заказа: резерв → оплата → финал.
type Coordinator interface {
	// CreatePendingOrder атомарно резервирует сток по корзине и открывает
	// pending-заказ со снимком цен.
	CreatePendingOrder(ctx context.Context, draft domain.OrderDraft) (domain.Order, error)
	// BeginPayment создаёт платёжное намерение у провайдера и сохраняет
	// его идентификатор в заказе.
	BeginPayment(ctx context.Context, orderID string) (domain.Order, error)
	// CapturePayment подтверждает платёж у провайдера и финализирует заказ
	// полученным исходом.
	CapturePayment(ctx context.Context, orderID string) (domain.Order, error)
	// FinalizeOrder применяет исход оплаты ровно один раз: Captured делает
	// заказ paid, Failed отменяет его с возвратом стока. Повторный вызов по
	// уже финализированному заказу — успешный no-op.
	FinalizeOrder(ctx context.Context, orderID string, outcome domain.CaptureOutcome, reason string) (domain.Order, error)
}

// coordinator реализует checkout-поток поверх репозиториев и платёжного шлюза.
type coordinator struct {
	orders        domain.OrderRepository
	outbox        domain.OutboxRepository
	timeline      domain.TimelineRepository
	gateway       domain.PaymentGateway
	notifier      domain.Notifier
	logger        *log.Entry
	metrics       *metrics.CheckoutMetrics
	kafkaProducer *kafka.Producer // опциональный Kafka producer для event-driven архитектуры
}

// NewCoordinator создаёт рабочий экземпляр координатора.
func NewCoordinator(
	orders domain.OrderRepository,
	outbox domain.OutboxRepository,
	timeline domain.TimelineRepository,
	gateway domain.PaymentGateway,
	notifier domain.Notifier,
	logger *log.Entry,
) Coordinator {
	if logger == nil {
		logger = log.New().WithField("component", "checkout")
	}
	return &coordinator{
		orders:   orders,
		outbox:   outbox,
		timeline: timeline,
		gateway:  gateway,
		notifier: notifier,
		logger:   logger,
		metrics:  metrics.NewCheckoutMetrics(),
	}
}

// NewCoordinatorWithKafka создаёт координатор с Kafka producer для event-driven архитектуры.
func NewCoordinatorWithKafka(
	orders domain.OrderRepository,
	outbox domain.OutboxRepository,
	timeline domain.TimelineRepository,
	gateway domain.PaymentGateway,
	notifier domain.Notifier,
	kafkaProducer *kafka.Producer,
	logger *log.Entry,
) Coordinator {
	if logger == nil {
		logger = log.New().WithField("component", "checkout")
	}
	return &coordinator{
		orders:        orders,
		outbox:        outbox,
		timeline:      timeline,
		gateway:       gateway,
		notifier:      notifier,
		logger:        logger,
		metrics:       metrics.NewCheckoutMetrics(),
		kafkaProducer: kafkaProducer,
	}
}

// NewCoordinatorWithoutMetrics создаёт координатор без метрик (для тестов).
func NewCoordinatorWithoutMetrics(
	orders domain.OrderRepository,
	outbox domain.OutboxRepository,
	timeline domain.TimelineRepository,
	gateway domain.PaymentGateway,
	notifier domain.Notifier,
	logger *log.Entry,
) Coordinator {
	if logger == nil {
		logger = log.New().WithField("component", "checkout")
	}
	return &coordinator{
		orders:   orders,
		outbox:   outbox,
		timeline: timeline,
		gateway:  gateway,
		notifier: notifier,
		logger:   logger,
	}
}

func (c *coordinator) CreatePendingOrder(ctx context.Context, draft domain.OrderDraft) (domain.Order, error) {
	start := time.Now()
	if c.metrics != nil {
		c.metrics.RecordCheckoutStarted()
	}

	if err := domain.ValidateCart(draft.Lines); err != nil {
		c.recordFailure()
		return domain.Order{}, err
	}

	order, err := c.orders.CreatePending(draft)
	if err != nil {
		if errors.Is(err, domain.ErrInsufficientStock) {
			if c.metrics != nil {
				c.metrics.RecordStockRejection()
			}
			c.logger.WithError(err).WithField("buyer_id", draft.BuyerID).Info("checkout rejected, insufficient stock")
		} else {
			c.logger.WithError(err).WithField("buyer_id", draft.BuyerID).Warn("create pending order failed")
		}
		c.recordFailure()
		return domain.Order{}, err
	}

	if c.metrics != nil {
		c.metrics.RecordStepDuration("reserve", time.Since(start))
	}

	c.emitEvent(&order, "OrderCreated", map[string]interface{}{
		"buyer_id":     order.BuyerID,
		"amount_minor": order.AmountMinor,
		"currency":     order.Currency,
		"items_count":  len(order.Items),
	})
	c.publishOrderEvent(kafka.EventTypeOrderCreated, &order, nil)
	c.publishCheckoutEvent(kafka.EventTypeCheckoutStarted, order.ID, map[string]interface{}{
		"buyer_id": order.BuyerID,
	})

	c.logger.WithFields(log.Fields{
		"order_id":     order.ID,
		"buyer_id":     order.BuyerID,
		"amount_minor": order.AmountMinor,
	}).Info("pending order created")

	return order, nil
}

func (c *coordinator) BeginPayment(ctx context.Context, orderID string) (domain.Order, error) {
	order, err := c.orders.Get(orderID)
	if err != nil {
		return domain.Order{}, err
	}
	if order.Status != domain.OrderStatusPending {
		return order, domain.ErrOrderNotPending
	}
	if order.PaymentRef != "" {
		// Повторный begin возвращает уже созданное намерение.
		return order, nil
	}

	start := time.Now()
	remoteID, err := c.gateway.CreateRemoteIntent(ctx, order)
	if c.metrics != nil {
		c.metrics.RecordStepDuration("create_intent", time.Since(start))
	}
	if err != nil {
		c.logger.WithError(err).WithField("order_id", order.ID).Warn("create payment intent failed")
		if domain.IsGatewayFailure(err) {
			if _, finErr := c.FinalizeOrder(ctx, order.ID, domain.OutcomeFailed, ReasonPaymentFailed); finErr != nil {
				c.logger.WithError(finErr).WithField("order_id", order.ID).Error("finalize after intent failure failed")
			}
		}
		return domain.Order{}, err
	}

	if err := c.orders.AttachPaymentRef(order.ID, remoteID); err != nil {
		c.logger.WithError(err).WithField("order_id", order.ID).Error("attach payment ref failed")
		return domain.Order{}, err
	}
	order.PaymentRef = remoteID

	c.logger.WithFields(log.Fields{
		"order_id":    order.ID,
		"payment_ref": remoteID,
	}).Info("payment intent created")

	return order, nil
}

func (c *coordinator) CapturePayment(ctx context.Context, orderID string) (domain.Order, error) {
	order, err := c.orders.Get(orderID)
	if err != nil {
		return domain.Order{}, err
	}
	if order.Status != domain.OrderStatusPending {
		// Заказ уже финализирован: повторный capture ничего не меняет.
		return order, nil
	}
	if order.PaymentRef == "" {
		return order, domain.ErrPaymentRefMissing
	}

	start := time.Now()
	outcome, err := c.gateway.CaptureRemoteIntent(ctx, order.PaymentRef)
	if c.metrics != nil {
		c.metrics.RecordStepDuration("capture", time.Since(start))
	}
	if err != nil && !domain.IsGatewayFailure(err) {
		c.logger.WithError(err).WithField("order_id", order.ID).Error("capture request failed")
		return domain.Order{}, err
	}
	if err != nil {
		c.logger.WithError(err).WithField("order_id", order.ID).Warn("capture rejected by gateway")
		outcome = domain.OutcomeFailed
	}

	return c.FinalizeOrder(ctx, order.ID, outcome, ReasonPaymentFailed)
}

func (c *coordinator) FinalizeOrder(ctx context.Context, orderID string, outcome domain.CaptureOutcome, reason string) (domain.Order, error) {
	start := time.Now()
	defer func() {
		if c.metrics != nil {
			c.metrics.RecordCheckoutDuration(time.Since(start))
		}
	}()

	switch outcome {
	case domain.OutcomeCaptured:
		return c.finalizePaid(orderID)
	case domain.OutcomeFailed:
		return c.finalizeCanceled(orderID, reason)
	default:
		c.logger.WithFields(log.Fields{
			"order_id": orderID,
			"outcome":  string(outcome),
		}).Error("unknown capture outcome")
		return domain.Order{}, domain.ErrGatewayRejected
	}
}

// finalizePaid переводит заказ в paid. Источник истины — предикат статуса
// в хранилище: проигравший из двух конкурентных финалов получает no-op.
func (c *coordinator) finalizePaid(orderID string) (domain.Order, error) {
	order, err := c.orders.Get(orderID)
	if err != nil {
		return domain.Order{}, err
	}

	applied, err := c.orders.MarkPaid(orderID, order.PaymentRef)
	if err != nil {
		c.logger.WithError(err).WithField("order_id", orderID).Error("mark paid failed")
		return domain.Order{}, err
	}

	order, err = c.orders.Get(orderID)
	if err != nil {
		return domain.Order{}, err
	}

	if !applied {
		c.logger.WithFields(log.Fields{
			"order_id": orderID,
			"status":   order.Status,
		}).Debug("order already finalized, skipping paid transition")
		return order, nil
	}

	if c.metrics != nil {
		c.metrics.RecordOrderPaid()
		c.metrics.RecordCheckoutCompleted()
	}

	c.emitEvent(&order, "OrderPaid", map[string]interface{}{
		"payment_ref":  order.PaymentRef,
		"amount_minor": order.AmountMinor,
	})
	c.publishOrderEvent(kafka.EventTypeOrderPaid, &order, nil)
	c.publishCheckoutEvent(kafka.EventTypeCheckoutCompleted, order.ID, map[string]interface{}{
		"payment_ref": order.PaymentRef,
	})

	if c.notifier != nil {
		c.notifier.OrderPaid(order)
	}

	c.logger.WithFields(log.Fields{
		"order_id":    order.ID,
		"payment_ref": order.PaymentRef,
	}).Info("order paid")

	return order, nil
}

// finalizeCanceled отменяет заказ с возвратом стока. Переход и возврат
// происходят в одной операции хранилища, повтор — no-op.
func (c *coordinator) finalizeCanceled(orderID, reason string) (domain.Order, error) {
	applied, err := c.orders.CancelRestock(orderID)
	if err != nil {
		c.logger.WithError(err).WithField("order_id", orderID).Error("cancel with restock failed")
		return domain.Order{}, err
	}

	order, err := c.orders.Get(orderID)
	if err != nil {
		return domain.Order{}, err
	}

	if !applied {
		c.logger.WithFields(log.Fields{
			"order_id": orderID,
			"status":   order.Status,
		}).Debug("order already finalized, skipping cancel")
		return order, nil
	}

	if c.metrics != nil {
		c.metrics.RecordOrderCanceled()
		c.metrics.RecordCheckoutFailed()
	}

	payload := map[string]interface{}{
		"reason": reason,
	}
	if reason == "" {
		delete(payload, "reason")
	}
	c.emitEvent(&order, "OrderCanceled", payload)
	c.publishOrderEvent(kafka.EventTypeOrderCanceled, &order, map[string]interface{}{
		"reason": reason,
	})
	c.publishCheckoutEvent(kafka.EventTypeCheckoutFailed, order.ID, map[string]interface{}{
		"reason": reason,
	})

	if c.notifier != nil {
		c.notifier.OrderCanceled(order, reason)
	}

	c.logger.WithFields(log.Fields{
		"order_id": order.ID,
		"reason":   reason,
	}).Info("order canceled, stock restored")

	return order, nil
}

func (c *coordinator) recordFailure() {
	if c.metrics != nil {
		c.metrics.RecordCheckoutFailed()
	}
}

func (c *coordinator) emitEvent(order *domain.Order, eventType string, payload map[string]interface{}) {
	if payload == nil {
		payload = make(map[string]interface{})
	}
	payload["order_id"] = order.ID
	payload["ts"] = time.Now().UTC().Format(time.RFC3339Nano)

	data, err := json.Marshal(payload)
	if err != nil {
		c.logger.WithError(err).WithFields(log.Fields{
			"order_id": order.ID,
			"event":    eventType,
		}).Error("marshal event failed")
		return
	}

	msg := domain.OutboxMessage{
		AggregateType: "order",
		AggregateID:   order.ID,
		EventType:     eventType,
		Payload:       data,
	}
	if _, err := c.outbox.Enqueue(msg); err != nil {
		c.logger.WithError(err).WithFields(log.Fields{
			"order_id": order.ID,
			"event":    eventType,
		}).Error("enqueue event failed")
	} else if c.metrics != nil {
		c.metrics.RecordOutboxEvent()
	}

	if c.timeline != nil {
		var reason string
		if r, ok := payload["reason"].(string); ok {
			reason = r
		}
		event := domain.TimelineEvent{
			OrderID:  order.ID,
			Type:     eventType,
			Reason:   reason,
			Occurred: time.Now().UTC(),
		}
		if err := c.timeline.Append(event); err != nil {
			c.logger.WithError(err).WithFields(log.Fields{
				"order_id": order.ID,
				"event":    eventType,
			}).Warn("append timeline event failed")
		} else if c.metrics != nil {
			c.metrics.RecordTimelineEvent()
		}
	}
}

// publishOrderEvent публикует событие заказа в Kafka (если producer настроен)
func (c *coordinator) publishOrderEvent(eventType kafka.EventType, order *domain.Order, metadata map[string]interface{}) {
	if c.kafkaProducer == nil {
		return
	}

	event := kafka.NewOrderEvent(eventType, order.ID, order.BuyerID, string(order.Status), metadata)
	if err := c.kafkaProducer.PublishEvent(kafka.TopicOrderEvents, order.ID, event); err != nil {
		// Логируем и продолжаем: Kafka опциональна, финал заказа уже применён.
		c.logger.WithError(err).WithFields(log.Fields{
			"event_type": eventType,
			"order_id":   order.ID,
		}).Warn("failed to publish order event to kafka")
	}
}

// publishCheckoutEvent публикует событие checkout-потока в Kafka (если producer настроен)
func (c *coordinator) publishCheckoutEvent(eventType kafka.EventType, orderID string, metadata map[string]interface{}) {
	if c.kafkaProducer == nil {
		return
	}

	event := kafka.NewCheckoutEvent(eventType, orderID, metadata)
	if err := c.kafkaProducer.PublishEvent(kafka.TopicCheckoutEvents, orderID, event); err != nil {
		c.logger.WithError(err).WithFields(log.Fields{
			"event_type": eventType,
			"order_id":   orderID,
		}).Warn("failed to publish checkout event to kafka")
	}
}

var _ Coordinator = (*coordinator)(nil)
