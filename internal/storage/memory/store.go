package memory

import (
	"sync"

	"github.com/vladislavdragonenkov/craftshop/internal/domain"
)

// Store — общее in-memory состояние всех репозиториев. Один мьютекс на
// все коллекции: резервирование стока и запись заказа должны происходить
// под одной блокировкой, как в SQL-транзакции.
type Store struct {
	mu sync.Mutex

	items        map[string]domain.CatalogItem
	orders       map[string]domain.Order
	reservations map[string]domain.StockReservation
	outbox       []domain.OutboxMessage
	outboxStatus map[string]string
	timeline     map[string][]domain.TimelineEvent
	idempotency  map[string]domain.IdempotencyRecord
}

// NewStore создаёт пустое in-memory хранилище для локальной разработки и тестов.
func NewStore() *Store {
	return &Store{
		items:        make(map[string]domain.CatalogItem),
		orders:       make(map[string]domain.Order),
		reservations: make(map[string]domain.StockReservation),
		outboxStatus: make(map[string]string),
		timeline:     make(map[string][]domain.TimelineEvent),
		idempotency:  make(map[string]domain.IdempotencyRecord),
	}
}

// copyOrder возвращает глубокую копию заказа, чтобы вызывающий код не мог
// мутировать состояние хранилища через общий срез позиций.
func copyOrder(order domain.Order) domain.Order {
	cp := order
	cp.Items = make([]domain.OrderItem, len(order.Items))
	copy(cp.Items, order.Items)
	return cp
}
