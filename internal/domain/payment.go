package domain

import "context"

// CaptureOutcome — результат попытки подтвердить платёж у провайдера.
type CaptureOutcome string

const (
	// OutcomeCaptured — провайдер подтвердил списание средств.
	OutcomeCaptured CaptureOutcome = "captured"
	// OutcomeFailed — любой другой исход: отказ, таймаут, кривой ответ.
	OutcomeFailed CaptureOutcome = "failed"
)

// PaymentGateway описывает взаимодействие с внешним платёжным провайдером.
// Реализация обязана отображать любой сбой в OutcomeFailed/ошибку шлюза,
// никогда не оставляя заказ в неоднозначном состоянии: состоянием заказа и
// стока управляет только FinalizeOrder координатора.
type PaymentGateway interface {
	// CreateRemoteIntent создаёт платёжное намерение у провайдера на сумму
	// заказа и возвращает внешний идентификатор.
	CreateRemoteIntent(ctx context.Context, order Order) (string, error)
	// CaptureRemoteIntent запрашивает подтверждение ранее созданного
	// намерения и переводит ответ провайдера в локальный исход.
	CaptureRemoteIntent(ctx context.Context, remoteID string) (CaptureOutcome, error)
}
