package domain

import "time"

// OrderStatus описывает жизненный цикл заказа витрины.
type OrderStatus string

const (
	// OrderStatusPending — заказ создан, сток уже списан, оплата ещё не подтверждена.
	OrderStatusPending OrderStatus = "pending"
	// OrderStatusPaid — оплата подтверждена платёжным провайдером.
	OrderStatusPaid OrderStatus = "paid"
	// OrderStatusShipped — заказ отправлен покупателю (действие админки).
	OrderStatusShipped OrderStatus = "shipped"
	// OrderStatusDelivered — заказ получен покупателем.
	OrderStatusDelivered OrderStatus = "delivered"
	// OrderStatusCanceled — заказ отменён, сток возвращён на склад.
	OrderStatusCanceled OrderStatus = "canceled"
)

// PaymentMethod определяет, каким способом покупатель оплачивает заказ.
type PaymentMethod string

const (
	// PaymentMethodCard — карточная оплата через симулятор: подтверждается синхронно.
	PaymentMethodCard PaymentMethod = "card"
	// PaymentMethodPayPal — внешнее подтверждение: покупатель уходит к провайдеру
	// и может не вернуться, поэтому такие заказы подметает sweeper.
	PaymentMethodPayPal PaymentMethod = "paypal"
)

// RequiresExternalConfirmation сообщает, ждёт ли метод оплаты действий
// покупателя на стороне провайдера.
func (m PaymentMethod) RequiresExternalConfirmation() bool {
	return m == PaymentMethodPayPal
}

// ShippingInfo — адресные данные покупателя, снимок на момент заказа.
type ShippingInfo struct {
	Name    string
	Email   string
	Address string
	City    string
	Zip     string
	Country string
}

// OrderItem представляет одну позицию заказа. После создания не мутируется:
// цена — снимок каталога на момент резервирования.
type OrderItem struct {
	ID         string
	SKU        string
	Qty        int32
	PriceMinor int64
	CreatedAt  time.Time
}

// Order агрегирует состояние заказа и его позиции.
type Order struct {
	ID          string
	BuyerID     string
	Status      OrderStatus
	Currency    string
	AmountMinor int64
	Method      PaymentMethod
	// PaymentRef — идентификатор платёжного намерения у внешнего провайдера.
	PaymentRef string
	Shipping   ShippingInfo
	Items      []OrderItem
	Version    int64
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// OrderDraft — вход координатора резервирования: корзина и данные доставки.
// Цен в draft нет намеренно: снимок делается внутри транзакции
// резервирования, а не по ранее прочитанным значениям каталога.
type OrderDraft struct {
	ID       string
	BuyerID  string
	Method   PaymentMethod
	Shipping ShippingInfo
	Lines    []CartLine
}

// ValidateInvariants проверяет базовые инварианты заказа и возвращает список замечаний.
func (o *Order) ValidateInvariants() []error {
	var errs []error

	if o.BuyerID == "" {
		errs = append(errs, ErrBuyerRequired)
	}
	if o.Currency == "" {
		errs = append(errs, ErrCurrencyRequired)
	}
	if len(o.Items) == 0 {
		errs = append(errs, ErrEmptyCart)
	}
	if o.AmountMinor < 0 {
		errs = append(errs, ErrAmountNegative)
	}

	// Сверяем сумму заказа с суммой позиций: qty * price.
	var calc int64
	for _, item := range o.Items {
		if item.Qty <= 0 {
			errs = append(errs, ErrItemQtyInvalid)
		}
		if item.PriceMinor < 0 {
			errs = append(errs, ErrItemPriceInvalid)
		}
		calc += int64(item.Qty) * item.PriceMinor
	}
	if calc != o.AmountMinor {
		errs = append(errs, ErrAmountMismatch)
	}

	return errs
}

// Terminal сообщает, достиг ли статус точки, после которой checkout-поток
// заказ больше не трогает.
func (s OrderStatus) Terminal() bool {
	switch s {
	case OrderStatusDelivered, OrderStatusCanceled:
		return true
	default:
		return false
	}
}
