package domain

import "time"

// TimelineEvent описывает событие в жизненном цикле заказа. Лента
// показывается в админке и дополняет статус заказа историей переходов.
type TimelineEvent struct {
	OrderID  string
	Type     string
	Reason   string
	Occurred time.Time
}
