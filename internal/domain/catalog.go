package domain

import "time"

// CatalogItem описывает товар витрины с текущим остатком на складе.
type CatalogItem struct {
	// SKU — внешний идентификатор товара, ключ каталога.
	SKU string
	// Title — название товара для витрины.
	Title string
	// PriceMinor — цена за единицу в минимальных денежных единицах.
	PriceMinor int64
	// Currency — код валюты цены (ISO 4217).
	Currency string
	// Stock — доступный остаток; инвариант stock >= 0 обеспечивается
	// только условными записями хранилища, не проверками в коде.
	Stock     int32
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Validate проверяет базовые инварианты позиции каталога.
func (c *CatalogItem) Validate() []error {
	var errs []error

	if c.SKU == "" {
		errs = append(errs, ErrSKURequired)
	}
	if c.Currency == "" {
		errs = append(errs, ErrCurrencyRequired)
	}
	if c.PriceMinor < 0 {
		errs = append(errs, ErrItemPriceInvalid)
	}
	if c.Stock < 0 {
		errs = append(errs, ErrStockNegative)
	}

	return errs
}

// CartLine — одна позиция корзины на входе в checkout.
type CartLine struct {
	SKU string
	Qty int32
}

// ValidateCart проверяет корзину до открытия заказа: корзина не пуста,
// каждая позиция с корректным количеством.
func ValidateCart(lines []CartLine) error {
	if len(lines) == 0 {
		return ErrEmptyCart
	}
	for _, line := range lines {
		if line.SKU == "" {
			return ErrSKURequired
		}
		if line.Qty < 1 {
			return ErrItemQtyInvalid
		}
	}
	return nil
}
