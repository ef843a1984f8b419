package memory

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/craftshop/internal/domain"
)

// orderRepositoryInMemory — in-memory реализация OrderRepository с той же
// семантикой переходов, что и у SQL-версии.
type orderRepositoryInMemory struct {
	store *Store
}

// NewOrderRepository возвращает in-memory репозиторий заказов.
func NewOrderRepository(store *Store) domain.OrderRepository {
	return &orderRepositoryInMemory{store: store}
}

// CreatePending резервирует сток и создаёт pending-заказ под одной
// блокировкой. Нехватка любой позиции возвращает уже списанные количества
// и не оставляет ни заказа, ни частичных списаний.
func (r *orderRepositoryInMemory) CreatePending(draft domain.OrderDraft) (domain.Order, error) {
	if err := domain.ValidateCart(draft.Lines); err != nil {
		return domain.Order{}, err
	}
	if draft.BuyerID == "" {
		return domain.Order{}, domain.ErrBuyerRequired
	}

	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	now := time.Now().UTC()
	currency := ""
	items := make([]domain.OrderItem, 0, len(draft.Lines))
	var total int64

	// Списанные количества на случай отката внутри цикла.
	taken := make([]domain.CartLine, 0, len(draft.Lines))
	rollback := func() {
		for _, line := range taken {
			_ = r.store.incrementLocked(line.SKU, line.Qty)
		}
	}

	for _, line := range draft.Lines {
		item, ok := r.store.items[line.SKU]
		if !ok {
			rollback()
			return domain.Order{}, fmt.Errorf("%w: %s", domain.ErrItemNotFound, line.SKU)
		}
		if currency == "" {
			currency = item.Currency
		} else if item.Currency != currency {
			rollback()
			return domain.Order{}, domain.ErrCurrencyMismatch
		}

		if !r.store.decrementLocked(line.SKU, line.Qty) {
			rollback()
			return domain.Order{}, domain.InsufficientStockFor(line.SKU)
		}
		taken = append(taken, line)

		items = append(items, domain.OrderItem{
			ID:         uuid.NewString(),
			SKU:        line.SKU,
			Qty:        line.Qty,
			PriceMinor: item.PriceMinor,
			CreatedAt:  now,
		})
		total += int64(line.Qty) * item.PriceMinor
	}

	order := domain.Order{
		ID:          draft.ID,
		BuyerID:     draft.BuyerID,
		Status:      domain.OrderStatusPending,
		Currency:    currency,
		AmountMinor: total,
		Method:      draft.Method,
		Shipping:    draft.Shipping,
		Items:       items,
		Version:     0,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if order.ID == "" {
		order.ID = uuid.NewString()
	}
	if _, exists := r.store.orders[order.ID]; exists {
		rollback()
		return domain.Order{}, domain.ErrOrderVersionConflict
	}

	r.store.orders[order.ID] = order
	return copyOrder(order), nil
}

func (r *orderRepositoryInMemory) Get(id string) (domain.Order, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	order, ok := r.store.orders[id]
	if !ok {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	return copyOrder(order), nil
}

func (r *orderRepositoryInMemory) ListByBuyer(buyerID string, limit int) ([]domain.Order, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	result := make([]domain.Order, 0, len(r.store.orders))
	for _, order := range r.store.orders {
		if order.BuyerID != buyerID {
			continue
		}
		result = append(result, copyOrder(order))
	}

	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.After(result[j].CreatedAt)
		}
		return result[i].ID > result[j].ID
	})

	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}

	return result, nil
}

// MarkPaid переводит pending → paid. Предикат статуса проверяется под
// блокировкой, поэтому из двух конкурентных финалов выигрывает один.
func (r *orderRepositoryInMemory) MarkPaid(id, paymentRef string) (bool, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	order, ok := r.store.orders[id]
	if !ok {
		return false, domain.ErrOrderNotFound
	}
	if order.Status != domain.OrderStatusPending {
		return false, nil
	}

	order.Status = domain.OrderStatusPaid
	if order.PaymentRef == "" {
		order.PaymentRef = paymentRef
	}
	order.Version++
	order.UpdatedAt = time.Now().UTC()
	r.store.orders[id] = order
	return true, nil
}

// CancelRestock переводит pending → canceled и возвращает сток по каждой
// позиции. Повторный вызов видит не-pending статус и ничего не возвращает.
func (r *orderRepositoryInMemory) CancelRestock(id string) (bool, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	order, ok := r.store.orders[id]
	if !ok {
		return false, domain.ErrOrderNotFound
	}
	if order.Status != domain.OrderStatusPending {
		return false, nil
	}

	for _, item := range order.Items {
		if err := r.store.incrementLocked(item.SKU, item.Qty); err != nil {
			return false, fmt.Errorf("restock %s: %w", item.SKU, err)
		}
	}

	order.Status = domain.OrderStatusCanceled
	order.Version++
	order.UpdatedAt = time.Now().UTC()
	r.store.orders[id] = order
	return true, nil
}

func (r *orderRepositoryInMemory) AttachPaymentRef(id, paymentRef string) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	order, ok := r.store.orders[id]
	if !ok {
		return domain.ErrOrderNotFound
	}

	order.PaymentRef = paymentRef
	order.UpdatedAt = time.Now().UTC()
	r.store.orders[id] = order
	return nil
}

func (r *orderRepositoryInMemory) ListAbandonedBefore(cutoff time.Time, limit int) ([]domain.Order, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	result := make([]domain.Order, 0)
	for _, order := range r.store.orders {
		if order.Status != domain.OrderStatusPending {
			continue
		}
		if !order.Method.RequiresExternalConfirmation() {
			continue
		}
		if !order.CreatedAt.Before(cutoff) {
			continue
		}
		result = append(result, copyOrder(order))
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})

	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}

	return result, nil
}

var _ domain.OrderRepository = (*orderRepositoryInMemory)(nil)
