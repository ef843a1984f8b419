package checkout

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/craftshop/internal/domain"
	"github.com/vladislavdragonenkov/craftshop/internal/notify"
	"github.com/vladislavdragonenkov/craftshop/internal/service/payment"
	"github.com/vladislavdragonenkov/craftshop/internal/storage/memory"
)

type fixture struct {
	store       *memory.Store
	catalog     domain.CatalogRepository
	orders      domain.OrderRepository
	outbox      domain.OutboxRepository
	timeline    domain.TimelineRepository
	gateway     *payment.MockGateway
	notifier    *notify.MockNotifier
	coordinator Coordinator
}

func quietLogger() *log.Entry {
	logger := log.New()
	logger.SetOutput(io.Discard)
	return logger.WithField("component", "checkout-test")
}

func newFixture(t *testing.T, stock int32) *fixture {
	t.Helper()

	store := memory.NewStore()
	f := &fixture{
		store:    store,
		catalog:  memory.NewCatalogRepository(store),
		orders:   memory.NewOrderRepository(store),
		outbox:   memory.NewOutboxRepository(store),
		timeline: memory.NewTimelineRepository(store),
		gateway:  payment.NewMockGateway(),
		notifier: notify.NewMockNotifier(),
	}
	f.coordinator = NewCoordinatorWithoutMetrics(f.orders, f.outbox, f.timeline, f.gateway, f.notifier, quietLogger())

	if err := f.catalog.Put(domain.CatalogItem{
		SKU:        "mug-01",
		Title:      "Ceramic Mug",
		PriceMinor: 1500,
		Currency:   "USD",
		Stock:      stock,
	}); err != nil {
		t.Fatalf("put failed: %v", err)
	}

	return f
}

func (f *fixture) draft(qty int32) domain.OrderDraft {
	return domain.OrderDraft{
		BuyerID: "buyer-1",
		Method:  domain.PaymentMethodCard,
		Lines:   []domain.CartLine{{SKU: "mug-01", Qty: qty}},
	}
}

func (f *fixture) stock(t *testing.T) int32 {
	t.Helper()
	item, err := f.catalog.Get("mug-01")
	if err != nil {
		t.Fatalf("get item failed: %v", err)
	}
	return item.Stock
}

func TestCoordinator_HappyPath(t *testing.T) {
	f := newFixture(t, 10)
	ctx := context.Background()

	order, err := f.coordinator.CreatePendingOrder(ctx, f.draft(2))
	if err != nil {
		t.Fatalf("create pending failed: %v", err)
	}
	if f.stock(t) != 8 {
		t.Fatalf("expected stock 8 after reserve, got %d", f.stock(t))
	}

	order, err = f.coordinator.BeginPayment(ctx, order.ID)
	if err != nil {
		t.Fatalf("begin payment failed: %v", err)
	}
	if order.PaymentRef == "" {
		t.Fatal("expected payment ref to be set")
	}

	order, err = f.coordinator.CapturePayment(ctx, order.ID)
	if err != nil {
		t.Fatalf("capture failed: %v", err)
	}
	if order.Status != domain.OrderStatusPaid {
		t.Fatalf("expected paid, got %s", order.Status)
	}
	if f.stock(t) != 8 {
		t.Fatalf("expected stock to stay at 8, got %d", f.stock(t))
	}
	if f.notifier.PaidCount() != 1 {
		t.Fatalf("expected 1 paid notification, got %d", f.notifier.PaidCount())
	}

	events, err := f.timeline.List(order.ID)
	if err != nil {
		t.Fatalf("timeline list failed: %v", err)
	}
	types := make([]string, 0, len(events))
	for _, e := range events {
		types = append(types, e.Type)
	}
	if len(types) != 2 || types[0] != "OrderCreated" || types[1] != "OrderPaid" {
		t.Fatalf("unexpected timeline: %v", types)
	}
}

func TestCoordinator_CaptureRejectedRestocks(t *testing.T) {
	f := newFixture(t, 5)
	ctx := context.Background()

	order, err := f.coordinator.CreatePendingOrder(ctx, f.draft(3))
	if err != nil {
		t.Fatalf("create pending failed: %v", err)
	}
	if _, err := f.coordinator.BeginPayment(ctx, order.ID); err != nil {
		t.Fatalf("begin payment failed: %v", err)
	}

	f.gateway.CaptureOutcome = domain.OutcomeFailed
	f.gateway.CaptureErr = domain.ErrGatewayRejected

	order, err = f.coordinator.CapturePayment(ctx, order.ID)
	if err != nil {
		t.Fatalf("capture failed: %v", err)
	}
	if order.Status != domain.OrderStatusCanceled {
		t.Fatalf("expected canceled, got %s", order.Status)
	}
	if f.stock(t) != 5 {
		t.Fatalf("expected stock restored to 5, got %d", f.stock(t))
	}
	if f.notifier.CanceledCount() != 1 {
		t.Fatalf("expected 1 cancel notification, got %d", f.notifier.CanceledCount())
	}
}

func TestCoordinator_BeginPaymentGatewayFailureCancels(t *testing.T) {
	f := newFixture(t, 5)
	ctx := context.Background()

	order, err := f.coordinator.CreatePendingOrder(ctx, f.draft(2))
	if err != nil {
		t.Fatalf("create pending failed: %v", err)
	}

	f.gateway.IntentErr = domain.ErrGatewayUnavailable

	if _, err := f.coordinator.BeginPayment(ctx, order.ID); !errors.Is(err, domain.ErrGatewayUnavailable) {
		t.Fatalf("expected gateway unavailable, got %v", err)
	}

	stored, err := f.orders.Get(order.ID)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if stored.Status != domain.OrderStatusCanceled {
		t.Fatalf("expected canceled after intent failure, got %s", stored.Status)
	}
	if f.stock(t) != 5 {
		t.Fatalf("expected stock restored to 5, got %d", f.stock(t))
	}
}

func TestCoordinator_FinalizeIdempotent(t *testing.T) {
	f := newFixture(t, 5)
	ctx := context.Background()

	order, err := f.coordinator.CreatePendingOrder(ctx, f.draft(1))
	if err != nil {
		t.Fatalf("create pending failed: %v", err)
	}

	if _, err := f.coordinator.FinalizeOrder(ctx, order.ID, domain.OutcomeCaptured, ""); err != nil {
		t.Fatalf("finalize failed: %v", err)
	}
	// Повтор любого исхода по финализированному заказу — успешный no-op.
	final, err := f.coordinator.FinalizeOrder(ctx, order.ID, domain.OutcomeCaptured, "")
	if err != nil {
		t.Fatalf("repeat finalize failed: %v", err)
	}
	if final.Status != domain.OrderStatusPaid {
		t.Fatalf("expected paid, got %s", final.Status)
	}

	final, err = f.coordinator.FinalizeOrder(ctx, order.ID, domain.OutcomeFailed, ReasonPaymentExpired)
	if err != nil {
		t.Fatalf("late failed finalize errored: %v", err)
	}
	if final.Status != domain.OrderStatusPaid {
		t.Fatalf("expected paid order untouched by late cancel, got %s", final.Status)
	}
	if f.stock(t) != 4 {
		t.Fatalf("expected stock to stay at 4, got %d", f.stock(t))
	}
	if f.notifier.PaidCount() != 1 || f.notifier.CanceledCount() != 0 {
		t.Fatalf("expected single paid notification, got paid=%d canceled=%d",
			f.notifier.PaidCount(), f.notifier.CanceledCount())
	}
}

func TestCoordinator_FinalizeMissingOrder(t *testing.T) {
	f := newFixture(t, 5)

	if _, err := f.coordinator.FinalizeOrder(context.Background(), "no-such-order", domain.OutcomeCaptured, ""); !errors.Is(err, domain.ErrOrderNotFound) {
		t.Fatalf("expected order not found, got %v", err)
	}
}

func TestCoordinator_ConcurrentFinalizeSingleWinner(t *testing.T) {
	f := newFixture(t, 5)
	ctx := context.Background()

	order, err := f.coordinator.CreatePendingOrder(ctx, f.draft(1))
	if err != nil {
		t.Fatalf("create pending failed: %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = f.coordinator.FinalizeOrder(ctx, order.ID, domain.OutcomeCaptured, "")
		}()
	}
	wg.Wait()

	if f.notifier.PaidCount() != 1 {
		t.Fatalf("expected exactly 1 paid notification, got %d", f.notifier.PaidCount())
	}

	stored, err := f.orders.Get(order.ID)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if stored.Status != domain.OrderStatusPaid {
		t.Fatalf("expected paid, got %s", stored.Status)
	}
}

func TestCoordinator_CaptureWithoutRef(t *testing.T) {
	f := newFixture(t, 5)
	ctx := context.Background()

	order, err := f.coordinator.CreatePendingOrder(ctx, f.draft(1))
	if err != nil {
		t.Fatalf("create pending failed: %v", err)
	}

	if _, err := f.coordinator.CapturePayment(ctx, order.ID); !errors.Is(err, domain.ErrPaymentRefMissing) {
		t.Fatalf("expected payment ref missing, got %v", err)
	}
}

func TestCoordinator_InsufficientStockRejected(t *testing.T) {
	f := newFixture(t, 1)

	if _, err := f.coordinator.CreatePendingOrder(context.Background(), f.draft(2)); !errors.Is(err, domain.ErrInsufficientStock) {
		t.Fatalf("expected insufficient stock, got %v", err)
	}
	if f.stock(t) != 1 {
		t.Fatalf("expected stock untouched at 1, got %d", f.stock(t))
	}
}
