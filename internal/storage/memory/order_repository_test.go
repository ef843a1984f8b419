package memory_test

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/vladislavdragonenkov/craftshop/internal/domain"
	"github.com/vladislavdragonenkov/craftshop/internal/storage/memory"
)

func seedStore(t *testing.T, stock int32) (*memory.Store, domain.CatalogRepository, domain.OrderRepository) {
	t.Helper()

	store := memory.NewStore()
	catalog := memory.NewCatalogRepository(store)
	orders := memory.NewOrderRepository(store)

	if err := catalog.Put(domain.CatalogItem{
		SKU:        "mug-01",
		Title:      "Ceramic Mug",
		PriceMinor: 1500,
		Currency:   "USD",
		Stock:      stock,
	}); err != nil {
		t.Fatalf("put failed: %v", err)
	}

	return store, catalog, orders
}

func newDraft(qty int32) domain.OrderDraft {
	return domain.OrderDraft{
		BuyerID: "buyer-1",
		Method:  domain.PaymentMethodCard,
		Shipping: domain.ShippingInfo{
			Name:    "Jordan Lee",
			Email:   "jordan@example.com",
			Address: "1 Main St",
			City:    "Springfield",
			Zip:     "12345",
			Country: "US",
		},
		Lines: []domain.CartLine{{SKU: "mug-01", Qty: qty}},
	}
}

func TestOrderRepository_CreatePending(t *testing.T) {
	_, catalog, orders := seedStore(t, 10)

	order, err := orders.CreatePending(newDraft(3))
	if err != nil {
		t.Fatalf("create pending failed: %v", err)
	}

	if order.Status != domain.OrderStatusPending {
		t.Fatalf("expected pending, got %s", order.Status)
	}
	if order.AmountMinor != 4500 {
		t.Fatalf("expected amount 4500, got %d", order.AmountMinor)
	}
	if errs := order.ValidateInvariants(); len(errs) != 0 {
		t.Fatalf("invariants violated: %v", errs)
	}

	item, err := catalog.Get("mug-01")
	if err != nil {
		t.Fatalf("get item failed: %v", err)
	}
	if item.Stock != 7 {
		t.Fatalf("expected stock 7, got %d", item.Stock)
	}
}

func TestOrderRepository_CreatePendingInsufficientStock(t *testing.T) {
	_, catalog, orders := seedStore(t, 2)

	if _, err := orders.CreatePending(newDraft(3)); !errors.Is(err, domain.ErrInsufficientStock) {
		t.Fatalf("expected insufficient stock, got %v", err)
	}

	item, err := catalog.Get("mug-01")
	if err != nil {
		t.Fatalf("get item failed: %v", err)
	}
	if item.Stock != 2 {
		t.Fatalf("expected stock untouched at 2, got %d", item.Stock)
	}
}

func TestOrderRepository_CreatePendingMultiItemRollback(t *testing.T) {
	store := memory.NewStore()
	catalog := memory.NewCatalogRepository(store)
	orders := memory.NewOrderRepository(store)

	for sku, stock := range map[string]int32{"mug-01": 10, "bowl-02": 1} {
		if err := catalog.Put(domain.CatalogItem{
			SKU: sku, Title: sku, PriceMinor: 1000, Currency: "USD", Stock: stock,
		}); err != nil {
			t.Fatalf("put failed: %v", err)
		}
	}

	draft := newDraft(2)
	draft.Lines = []domain.CartLine{
		{SKU: "mug-01", Qty: 2},
		{SKU: "bowl-02", Qty: 2},
	}

	if _, err := orders.CreatePending(draft); !errors.Is(err, domain.ErrInsufficientStock) {
		t.Fatalf("expected insufficient stock, got %v", err)
	}

	// Первая позиция была списана до отказа второй; откат обязан её вернуть.
	mug, err := catalog.Get("mug-01")
	if err != nil {
		t.Fatalf("get item failed: %v", err)
	}
	if mug.Stock != 10 {
		t.Fatalf("expected mug stock restored to 10, got %d", mug.Stock)
	}
	bowl, err := catalog.Get("bowl-02")
	if err != nil {
		t.Fatalf("get item failed: %v", err)
	}
	if bowl.Stock != 1 {
		t.Fatalf("expected bowl stock untouched at 1, got %d", bowl.Stock)
	}
}

func TestOrderRepository_CreatePendingCurrencyMismatch(t *testing.T) {
	store := memory.NewStore()
	catalog := memory.NewCatalogRepository(store)
	orders := memory.NewOrderRepository(store)

	if err := catalog.Put(domain.CatalogItem{SKU: "mug-01", Title: "Mug", PriceMinor: 1000, Currency: "USD", Stock: 5}); err != nil {
		t.Fatalf("put failed: %v", err)
	}
	if err := catalog.Put(domain.CatalogItem{SKU: "vase-03", Title: "Vase", PriceMinor: 1000, Currency: "EUR", Stock: 5}); err != nil {
		t.Fatalf("put failed: %v", err)
	}

	draft := newDraft(1)
	draft.Lines = []domain.CartLine{
		{SKU: "mug-01", Qty: 1},
		{SKU: "vase-03", Qty: 1},
	}

	if _, err := orders.CreatePending(draft); !errors.Is(err, domain.ErrCurrencyMismatch) {
		t.Fatalf("expected currency mismatch, got %v", err)
	}

	mug, _ := catalog.Get("mug-01")
	if mug.Stock != 5 {
		t.Fatalf("expected mug stock restored to 5, got %d", mug.Stock)
	}
}

func TestOrderRepository_MarkPaidOnce(t *testing.T) {
	_, _, orders := seedStore(t, 10)

	order, err := orders.CreatePending(newDraft(1))
	if err != nil {
		t.Fatalf("create pending failed: %v", err)
	}

	applied, err := orders.MarkPaid(order.ID, "pay-1")
	if err != nil {
		t.Fatalf("mark paid failed: %v", err)
	}
	if !applied {
		t.Fatal("expected first mark paid to apply")
	}

	applied, err = orders.MarkPaid(order.ID, "pay-2")
	if err != nil {
		t.Fatalf("mark paid failed: %v", err)
	}
	if applied {
		t.Fatal("expected second mark paid to be a no-op")
	}

	stored, err := orders.Get(order.ID)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if stored.PaymentRef != "pay-1" {
		t.Fatalf("expected payment ref pay-1, got %s", stored.PaymentRef)
	}
}

func TestOrderRepository_CancelRestockOnce(t *testing.T) {
	_, catalog, orders := seedStore(t, 10)

	order, err := orders.CreatePending(newDraft(4))
	if err != nil {
		t.Fatalf("create pending failed: %v", err)
	}

	applied, err := orders.CancelRestock(order.ID)
	if err != nil {
		t.Fatalf("cancel failed: %v", err)
	}
	if !applied {
		t.Fatal("expected first cancel to apply")
	}

	applied, err = orders.CancelRestock(order.ID)
	if err != nil {
		t.Fatalf("cancel failed: %v", err)
	}
	if applied {
		t.Fatal("expected second cancel to be a no-op")
	}

	item, err := catalog.Get("mug-01")
	if err != nil {
		t.Fatalf("get item failed: %v", err)
	}
	if item.Stock != 10 {
		t.Fatalf("expected stock restored to 10, got %d", item.Stock)
	}
}

func TestOrderRepository_CancelAfterPaidNoRestock(t *testing.T) {
	_, catalog, orders := seedStore(t, 10)

	order, err := orders.CreatePending(newDraft(2))
	if err != nil {
		t.Fatalf("create pending failed: %v", err)
	}
	if _, err := orders.MarkPaid(order.ID, "pay-1"); err != nil {
		t.Fatalf("mark paid failed: %v", err)
	}

	applied, err := orders.CancelRestock(order.ID)
	if err != nil {
		t.Fatalf("cancel failed: %v", err)
	}
	if applied {
		t.Fatal("expected cancel of paid order to be a no-op")
	}

	item, _ := catalog.Get("mug-01")
	if item.Stock != 8 {
		t.Fatalf("expected stock to stay at 8, got %d", item.Stock)
	}
}

// Конкурентные checkout не должны продать больше, чем есть на складе,
// независимо от порядка горутин.
func TestOrderRepository_ConcurrentNoOversell(t *testing.T) {
	const (
		stock   = 5
		buyers  = 20
		perItem = 1
	)

	_, catalog, orders := seedStore(t, stock)

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		sold int32
	)
	for i := 0; i < buyers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			draft := newDraft(perItem)
			draft.BuyerID = fmt.Sprintf("buyer-%d", n)
			if _, err := orders.CreatePending(draft); err == nil {
				mu.Lock()
				sold += perItem
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	if sold != stock {
		t.Fatalf("expected exactly %d units sold, got %d", stock, sold)
	}

	item, err := catalog.Get("mug-01")
	if err != nil {
		t.Fatalf("get item failed: %v", err)
	}
	if item.Stock != 0 {
		t.Fatalf("expected stock 0 after sellout, got %d", item.Stock)
	}
}

func TestOrderRepository_ListAbandonedBefore(t *testing.T) {
	_, _, orders := seedStore(t, 10)

	draft := newDraft(1)
	draft.Method = domain.PaymentMethodPayPal
	order, err := orders.CreatePending(draft)
	if err != nil {
		t.Fatalf("create pending failed: %v", err)
	}

	cardDraft := newDraft(1)
	if _, err := orders.CreatePending(cardDraft); err != nil {
		t.Fatalf("create pending failed: %v", err)
	}

	abandoned, err := orders.ListAbandonedBefore(time.Now().UTC().Add(time.Minute), 10)
	if err != nil {
		t.Fatalf("list abandoned failed: %v", err)
	}
	if len(abandoned) != 1 {
		t.Fatalf("expected 1 abandoned order, got %d", len(abandoned))
	}
	if abandoned[0].ID != order.ID {
		t.Fatalf("expected order %s, got %s", order.ID, abandoned[0].ID)
	}

	abandoned, err = orders.ListAbandonedBefore(time.Now().UTC().Add(-time.Minute), 10)
	if err != nil {
		t.Fatalf("list abandoned failed: %v", err)
	}
	if len(abandoned) != 0 {
		t.Fatalf("expected no orders before past cutoff, got %d", len(abandoned))
	}
}
