package payment

import (
	"context"

	"github.com/vladislavdragonenkov/craftshop/internal/domain"
)

// MockGateway — конфигурируемая заглушка PaymentGateway для тестов.
type MockGateway struct {
	IntentID       string
	IntentErr      error
	CaptureOutcome domain.CaptureOutcome
	CaptureErr     error

	IntentCalls  int
	CaptureCalls int
}

// NewMockGateway возвращает mock с успешным сценарием по умолчанию.
func NewMockGateway() *MockGateway {
	return &MockGateway{
		IntentID:       "intent-1",
		CaptureOutcome: domain.OutcomeCaptured,
	}
}

// CreateRemoteIntent возвращает заранее настроенный результат и считает вызовы.
func (m *MockGateway) CreateRemoteIntent(_ context.Context, _ domain.Order) (string, error) {
	m.IntentCalls++
	return m.IntentID, m.IntentErr
}

// CaptureRemoteIntent возвращает настроенный исход и считает вызовы.
func (m *MockGateway) CaptureRemoteIntent(_ context.Context, _ string) (domain.CaptureOutcome, error) {
	m.CaptureCalls++
	return m.CaptureOutcome, m.CaptureErr
}

var _ domain.PaymentGateway = (*MockGateway)(nil)
