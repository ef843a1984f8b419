package notify

import (
	"sync"

	"github.com/vladislavdragonenkov/craftshop/internal/domain"
)

// MockNotifier — заглушка Notifier для тестов, считающая вызовы.
type MockNotifier struct {
	mu sync.Mutex

	PaidOrders     []string
	CanceledOrders []string
	Reasons        []string
}

// NewMockNotifier возвращает пустой mock.
func NewMockNotifier() *MockNotifier {
	return &MockNotifier{}
}

func (m *MockNotifier) OrderPaid(order domain.Order) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.PaidOrders = append(m.PaidOrders, order.ID)
}

func (m *MockNotifier) OrderCanceled(order domain.Order, reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CanceledOrders = append(m.CanceledOrders, order.ID)
	m.Reasons = append(m.Reasons, reason)
}

// PaidCount возвращает число paid-уведомлений.
func (m *MockNotifier) PaidCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.PaidOrders)
}

// CanceledCount возвращает число cancel-уведомлений.
func (m *MockNotifier) CanceledCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.CanceledOrders)
}

var _ domain.Notifier = (*MockNotifier)(nil)
