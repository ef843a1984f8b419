package sweeper_test

import (
	"context"
	"io"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/craftshop/internal/domain"
	"github.com/vladislavdragonenkov/craftshop/internal/notify"
	"github.com/vladislavdragonenkov/craftshop/internal/service/checkout"
	"github.com/vladislavdragonenkov/craftshop/internal/service/payment"
	"github.com/vladislavdragonenkov/craftshop/internal/service/sweeper"
	"github.com/vladislavdragonenkov/craftshop/internal/storage/memory"
)

type env struct {
	store        *memory.Store
	catalog      domain.CatalogRepository
	orders       domain.OrderRepository
	reservations domain.ReservationRepository
	coordinator  checkout.Coordinator
	worker       *sweeper.Worker
}

func quietLogger() *log.Entry {
	logger := log.New()
	logger.SetOutput(io.Discard)
	return logger.WithField("component", "sweeper-test")
}

func newEnv(t *testing.T, threshold time.Duration) *env {
	t.Helper()

	store := memory.NewStore()
	e := &env{
		store:        store,
		catalog:      memory.NewCatalogRepository(store),
		orders:       memory.NewOrderRepository(store),
		reservations: memory.NewReservationRepository(store),
	}
	e.coordinator = checkout.NewCoordinatorWithoutMetrics(
		e.orders,
		memory.NewOutboxRepository(store),
		memory.NewTimelineRepository(store),
		payment.NewMockGateway(),
		notify.NewMockNotifier(),
		quietLogger(),
	)
	e.worker = sweeper.NewWorker(e.coordinator, e.orders, e.reservations,
		sweeper.WithOrderThreshold(threshold),
		sweeper.WithLogger(quietLogger()),
	)

	if err := e.catalog.Put(domain.CatalogItem{
		SKU:        "mug-01",
		Title:      "Ceramic Mug",
		PriceMinor: 1500,
		Currency:   "USD",
		Stock:      100,
	}); err != nil {
		t.Fatalf("put failed: %v", err)
	}

	return e
}

func (e *env) pendingPayPalOrder(t *testing.T, qty int32) domain.Order {
	t.Helper()

	order, err := e.coordinator.CreatePendingOrder(context.Background(), domain.OrderDraft{
		BuyerID: "buyer-1",
		Method:  domain.PaymentMethodPayPal,
		Lines:   []domain.CartLine{{SKU: "mug-01", Qty: qty}},
	})
	if err != nil {
		t.Fatalf("create pending failed: %v", err)
	}
	return order
}

func (e *env) stock(t *testing.T) int32 {
	t.Helper()
	item, err := e.catalog.Get("mug-01")
	if err != nil {
		t.Fatalf("get item failed: %v", err)
	}
	return item.Stock
}

func TestWorker_SweepsAbandonedOrders(t *testing.T) {
	e := newEnv(t, 30*time.Minute)
	order := e.pendingPayPalOrder(t, 3)

	// Заказ моложе порога ещё не трогается.
	summary := e.worker.SweepOnce(context.Background(), order.CreatedAt.Add(30*time.Minute-time.Second))
	if summary.Found != 0 {
		t.Fatalf("expected no candidates before threshold, found %d", summary.Found)
	}
	if e.stock(t) != 97 {
		t.Fatalf("expected stock to stay at 97, got %d", e.stock(t))
	}

	// Секунда после порога: заказ отменяется, сток возвращается.
	summary = e.worker.SweepOnce(context.Background(), order.CreatedAt.Add(30*time.Minute+time.Second))
	if summary.Found != 1 || summary.Restored != 1 || summary.Errors != 0 {
		t.Fatalf("unexpected summary: %+v", summary)
	}
	if e.stock(t) != 100 {
		t.Fatalf("expected stock restored to 100, got %d", e.stock(t))
	}

	stored, err := e.orders.Get(order.ID)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if stored.Status != domain.OrderStatusCanceled {
		t.Fatalf("expected canceled, got %s", stored.Status)
	}
}

func TestWorker_SweepIdempotent(t *testing.T) {
	e := newEnv(t, 30*time.Minute)
	order := e.pendingPayPalOrder(t, 2)

	at := order.CreatedAt.Add(31 * time.Minute)
	first := e.worker.SweepOnce(context.Background(), at)
	second := e.worker.SweepOnce(context.Background(), at)

	if first.Restored != 1 {
		t.Fatalf("expected first sweep to restore 1, got %d", first.Restored)
	}
	if second.Found != 0 || second.Restored != 0 {
		t.Fatalf("expected second sweep to find nothing, got %+v", second)
	}
	if e.stock(t) != 100 {
		t.Fatalf("expected stock at 100, got %d", e.stock(t))
	}
}

func TestWorker_PaidOrderSurvivesSweep(t *testing.T) {
	e := newEnv(t, 30*time.Minute)
	order := e.pendingPayPalOrder(t, 2)

	// Покупатель успел оплатить до прохода.
	if _, err := e.coordinator.FinalizeOrder(context.Background(), order.ID, domain.OutcomeCaptured, ""); err != nil {
		t.Fatalf("finalize failed: %v", err)
	}

	summary := e.worker.SweepOnce(context.Background(), order.CreatedAt.Add(time.Hour))
	if summary.Restored != 0 || summary.Errors != 0 {
		t.Fatalf("expected paid order untouched, got %+v", summary)
	}

	stored, err := e.orders.Get(order.ID)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if stored.Status != domain.OrderStatusPaid {
		t.Fatalf("expected paid, got %s", stored.Status)
	}
	if e.stock(t) != 98 {
		t.Fatalf("expected stock at 98, got %d", e.stock(t))
	}
}

func TestWorker_CardOrdersNotSwept(t *testing.T) {
	e := newEnv(t, 30*time.Minute)

	order, err := e.coordinator.CreatePendingOrder(context.Background(), domain.OrderDraft{
		BuyerID: "buyer-1",
		Method:  domain.PaymentMethodCard,
		Lines:   []domain.CartLine{{SKU: "mug-01", Qty: 1}},
	})
	if err != nil {
		t.Fatalf("create pending failed: %v", err)
	}

	summary := e.worker.SweepOnce(context.Background(), order.CreatedAt.Add(time.Hour))
	if summary.Found != 0 {
		t.Fatalf("expected card order to be ignored, found %d", summary.Found)
	}
}

func TestWorker_ReclaimsExpiredReservations(t *testing.T) {
	e := newEnv(t, 30*time.Minute)
	now := time.Now().UTC()

	if _, err := e.reservations.Create(domain.StockReservation{
		SKU:       "mug-01",
		Qty:       5,
		ExpiresAt: now.Add(-time.Minute),
	}); err != nil {
		t.Fatalf("create reservation failed: %v", err)
	}
	if e.stock(t) != 95 {
		t.Fatalf("expected stock 95 after reserve, got %d", e.stock(t))
	}

	summary := e.worker.SweepOnce(context.Background(), now)
	if summary.Errors != 0 {
		t.Fatalf("expected clean sweep, got %+v", summary)
	}
	if e.stock(t) != 100 {
		t.Fatalf("expected stock restored to 100, got %d", e.stock(t))
	}
}

func TestWorker_PartialFailureContinues(t *testing.T) {
	e := newEnv(t, 30*time.Minute)
	first := e.pendingPayPalOrder(t, 1)
	second := e.pendingPayPalOrder(t, 1)

	// Ломаем один из заказов, чтобы отмена по нему падала.
	failing := checkout.NewCoordinatorWithoutMetrics(
		&failingOrders{OrderRepository: e.orders, failID: first.ID},
		memory.NewOutboxRepository(e.store),
		memory.NewTimelineRepository(e.store),
		payment.NewMockGateway(),
		notify.NewMockNotifier(),
		quietLogger(),
	)
	worker := sweeper.NewWorker(failing, e.orders, e.reservations,
		sweeper.WithOrderThreshold(30*time.Minute),
		sweeper.WithLogger(quietLogger()),
	)

	summary := worker.SweepOnce(context.Background(), first.CreatedAt.Add(time.Hour))
	if summary.Found != 2 {
		t.Fatalf("expected 2 candidates, got %d", summary.Found)
	}
	if summary.Errors != 1 {
		t.Fatalf("expected 1 error, got %d", summary.Errors)
	}
	if summary.Restored != 1 {
		t.Fatalf("expected the healthy order to be restored, got %d", summary.Restored)
	}

	stored, err := e.orders.Get(second.ID)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if stored.Status != domain.OrderStatusCanceled {
		t.Fatalf("expected second order canceled, got %s", stored.Status)
	}
}

type failingOrders struct {
	domain.OrderRepository
	failID string
}

func (f *failingOrders) CancelRestock(id string) (bool, error) {
	if id == f.failID {
		return false, context.DeadlineExceeded
	}
	return f.OrderRepository.CancelRestock(id)
}
