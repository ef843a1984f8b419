package domain

import (
	"errors"
	"fmt"
)

var (
	// Ошибка отсутствующего идентификатора покупателя.
	ErrBuyerRequired = errors.New("buyer_id is required")
	// Ошибка отсутствующего кода валюты.
	ErrCurrencyRequired = errors.New("currency is required")
	// Ошибка пустой корзины: заказ должен содержать хотя бы одну позицию.
	ErrEmptyCart = errors.New("cart must contain at least one line")
	// Ошибка отрицательной суммы заказа.
	ErrAmountNegative = errors.New("amount_minor must be non-negative")
	// Ошибка при некорректном количестве товара (< 1).
	ErrItemQtyInvalid = errors.New("item qty must be greater than zero")
	// Ошибка, если цена позиции отрицательная.
	ErrItemPriceInvalid = errors.New("item price must be non-negative")
	// Ошибка несоответствия суммы заказа и сумм позиций.
	ErrAmountMismatch = errors.New("order amount does not match items sum")
	// Ошибка отсутствующего SKU.
	ErrSKURequired = errors.New("sku is required")
	// Ошибка отрицательного остатка в записи каталога.
	ErrStockNegative = errors.New("stock must be non-negative")
	// Ошибка смешения валют в одной корзине.
	ErrCurrencyMismatch = errors.New("cart mixes item currencies")

	// ErrItemNotFound возвращается, если SKU отсутствует в каталоге.
	ErrItemNotFound = errors.New("catalog item not found")
	// ErrInsufficientStock — условное списание не затронуло ни одной строки:
	// остатка не хватает на запрошенное количество.
	ErrInsufficientStock = errors.New("insufficient stock")
	// ErrOrderNotFound возвращается, если заказ не найден в хранилище.
	ErrOrderNotFound = errors.New("order not found")
	// ErrOrderNotPending — переход применим только к pending-заказу.
	ErrOrderNotPending = errors.New("order is not pending")
	// ErrOrderVersionConflict сигнализирует о конфликте версий при сохранении.
	ErrOrderVersionConflict = errors.New("order version conflict")
	// ErrReservationNotFound возвращается, если резерв не найден.
	ErrReservationNotFound = errors.New("stock reservation not found")
	// ErrPaymentRefMissing — у заказа нет внешнего платёжного идентификатора.
	ErrPaymentRefMissing = errors.New("order has no payment reference")

	// ErrGatewayUnavailable — транспортная ошибка при обращении к платёжному
	// провайдеру; попытку можно повторить.
	ErrGatewayUnavailable = errors.New("payment gateway unavailable")
	// ErrGatewayRejected — провайдер ответил, но платёж не подтверждён.
	ErrGatewayRejected = errors.New("payment gateway rejected")

	// ErrIdempotencyKeyRequired — пустой idempotency-key.
	ErrIdempotencyKeyRequired = errors.New("idempotency key is required")
	// ErrIdempotencyRequestHashRequired — пустой hash запроса.
	ErrIdempotencyRequestHashRequired = errors.New("idempotency request hash is required")
	// ErrIdempotencyKeyNotFound — записи по ключу нет.
	ErrIdempotencyKeyNotFound = errors.New("idempotency key not found")
	// ErrIdempotencyKeyAlreadyExists — ключ уже занят другим запросом.
	ErrIdempotencyKeyAlreadyExists = errors.New("idempotency key already exists")
	// ErrIdempotencyHashMismatch — тот же ключ пришёл с другим телом запроса.
	ErrIdempotencyHashMismatch = errors.New("idempotency request hash mismatch")

	// ErrOutboxPublish — ошибка при публикации сообщения из outbox.
	ErrOutboxPublish = errors.New("outbox publish failed")
)

// InsufficientStockFor оборачивает ErrInsufficientStock, называя виновный SKU.
func InsufficientStockFor(sku string) error {
	return fmt.Errorf("%w: %s", ErrInsufficientStock, sku)
}

// IsVersionConflict проверяет, является ли ошибка конфликтом версий.
func IsVersionConflict(err error) bool {
	return errors.Is(err, ErrOrderVersionConflict)
}

// IsGatewayFailure объединяет обе ошибки платёжного шлюза: для вызывающего
// кода обе означают исход Failed и возврат стока.
func IsGatewayFailure(err error) bool {
	return errors.Is(err, ErrGatewayUnavailable) || errors.Is(err, ErrGatewayRejected)
}
