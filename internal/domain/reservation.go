package domain

import "time"

// StockReservation — временный холд остатка, не привязанный к оплате.
// Используется витриной, когда корзина собирается дольше одного запроса.
// Инвариант: просроченный резерв без привязанного заказа возвращается на
// склад ровно один раз — возврат и удаление записи происходят в одной
// транзакции хранилища.
type StockReservation struct {
	ID  string
	SKU string
	Qty int32
	// OrderID заполняется, когда резерв конвертировался в заказ; такие
	// записи sweeper не трогает.
	OrderID   string
	ExpiresAt time.Time
	CreatedAt time.Time
}

// Validate проверяет, корректно ли заполнены ключевые поля резерва.
func (r *StockReservation) Validate() []error {
	var errs []error

	if r.SKU == "" {
		errs = append(errs, ErrSKURequired)
	}
	if r.Qty <= 0 {
		errs = append(errs, ErrItemQtyInvalid)
	}

	return errs
}

// Reclaimable сообщает, подлежит ли резерв возврату на склад в момент now.
func (r *StockReservation) Reclaimable(now time.Time) bool {
	return r.OrderID == "" && !r.ExpiresAt.IsZero() && !r.ExpiresAt.After(now)
}
