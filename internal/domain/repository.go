package domain

import "time"

// CatalogRepository описывает требования к хранилищу каталога.
// Всё мутирование остатка идёт через условное списание либо возврат:
// прочитанное ранее значение Stock никогда не является основанием для
// решения о списании.
type CatalogRepository interface {
	// Get возвращает позицию каталога или ErrItemNotFound.
	Get(sku string) (CatalogItem, error)
	// List возвращает позиции каталога (limit <= 0 — без ограничения).
	List(limit int) ([]CatalogItem, error)
	// Put создаёт или перезаписывает позицию каталога (админский CRUD).
	Put(item CatalogItem) error
	// ConditionalDecrement выполняет одиночную условную запись
	// stock = stock - qty при stock >= qty и сообщает, затронула ли она строку.
	ConditionalDecrement(sku string, qty int32) (bool, error)
	// Increment возвращает qty единиц на склад.
	Increment(sku string, qty int32) error
}

// OrderRepository описывает требования к хранилищу заказов.
type OrderRepository interface {
	// CreatePending атомарно резервирует сток по всем позициям draft и
	// создаёт pending-заказ со снимком цен. Любая нехватка или отсутствие
	// SKU откатывает транзакцию целиком: частичных списаний не остаётся.
	CreatePending(draft OrderDraft) (Order, error)
	// Get возвращает заказ по идентификатору или ErrOrderNotFound.
	Get(id string) (Order, error)
	// ListByBuyer возвращает заказы покупателя с опциональным лимитом.
	ListByBuyer(buyerID string, limit int) ([]Order, error)
	// MarkPaid переводит pending → paid и сохраняет платёжный идентификатор.
	// Возвращает false, если заказ уже не pending (предикат статуса в самой
	// записи — защита от двойного финала).
	MarkPaid(id, paymentRef string) (bool, error)
	// CancelRestock в одной транзакции переводит pending → canceled и
	// возвращает сток по каждой позиции. Возвращает false, если заказ уже
	// не pending: повторный вызов не приводит к двойному возврату.
	CancelRestock(id string) (bool, error)
	// AttachPaymentRef сохраняет внешний платёжный идентификатор заказа.
	AttachPaymentRef(id, paymentRef string) error
	// ListAbandonedBefore возвращает pending-заказы с внешним подтверждением
	// оплаты, созданные раньше cutoff — кандидаты для sweeper.
	ListAbandonedBefore(cutoff time.Time, limit int) ([]Order, error)
}

// ReservationRepository хранит временные холды стока без привязки к оплате.
type ReservationRepository interface {
	// Create сохраняет резерв; остаток уже списан условной записью каталога.
	Create(res StockReservation) (StockReservation, error)
	// Link привязывает резерв к подтверждённому заказу, выводя его из-под sweeper.
	Link(id, orderID string) error
	// ReclaimExpired возвращает на склад просроченные непривязанные резервы,
	// каждый ровно один раз, и сообщает число возвращённых.
	ReclaimExpired(before time.Time, limit int) (int, error)
}

// OutboxRepository позволяет сохранять события для последующей публикации.
type OutboxRepository interface {
	Enqueue(msg OutboxMessage) (OutboxMessage, error)
	PullPending(limit int) ([]OutboxMessage, error)
	Stats() (OutboxStats, error)
	MarkSent(id string) error
	MarkFailed(id string) error
}

// TimelineRepository хранит события жизненного цикла заказа.
type TimelineRepository interface {
	Append(event TimelineEvent) error
	List(orderID string) ([]TimelineEvent, error)
}

// IdempotencyRepository хранит состояние обработки запросов по idempotency-key.
type IdempotencyRepository interface {
	CreateProcessing(key, requestHash string, ttlAt time.Time) (IdempotencyRecord, error)
	Get(key string) (IdempotencyRecord, error)
	MarkDone(key string, responseBody []byte, httpStatus int) error
	MarkFailed(key string, responseBody []byte, httpStatus int) error
	DeleteExpired(before time.Time, limit int) (int, error)
}
