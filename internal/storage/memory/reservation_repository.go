package memory

import (
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/craftshop/internal/domain"
)

// reservationRepositoryInMemory — in-memory реализация ReservationRepository.
type reservationRepositoryInMemory struct {
	store *Store
}

// NewReservationRepository возвращает in-memory репозиторий резервов.
func NewReservationRepository(store *Store) domain.ReservationRepository {
	return &reservationRepositoryInMemory{store: store}
}

// Create списывает сток и записывает резерв под одной блокировкой.
func (r *reservationRepositoryInMemory) Create(res domain.StockReservation) (domain.StockReservation, error) {
	if errs := res.Validate(); len(errs) != 0 {
		return domain.StockReservation{}, errs[0]
	}

	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	if res.ID == "" {
		res.ID = uuid.NewString()
	}
	if res.CreatedAt.IsZero() {
		res.CreatedAt = time.Now().UTC()
	}

	if !r.store.decrementLocked(res.SKU, res.Qty) {
		return domain.StockReservation{}, domain.InsufficientStockFor(res.SKU)
	}

	r.store.reservations[res.ID] = res
	return res, nil
}

func (r *reservationRepositoryInMemory) Link(id, orderID string) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	res, ok := r.store.reservations[id]
	if !ok || res.OrderID != "" {
		return domain.ErrReservationNotFound
	}

	res.OrderID = orderID
	r.store.reservations[id] = res
	return nil
}

// ReclaimExpired удаляет просроченные непривязанные резервы и возвращает
// их сток. Удаление и возврат происходят под одной блокировкой, поэтому
// каждый резерв возвращается ровно один раз.
func (r *reservationRepositoryInMemory) ReclaimExpired(before time.Time, limit int) (int, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	if limit <= 0 {
		limit = 100
	}

	reclaimed := 0
	for id, res := range r.store.reservations {
		if reclaimed >= limit {
			break
		}
		if res.OrderID != "" || res.ExpiresAt.IsZero() || res.ExpiresAt.After(before) {
			continue
		}

		delete(r.store.reservations, id)
		_ = r.store.incrementLocked(res.SKU, res.Qty)
		reclaimed++
	}

	return reclaimed, nil
}

var _ domain.ReservationRepository = (*reservationRepositoryInMemory)(nil)
