package memory_test

import (
	"errors"
	"testing"
	"time"

	"github.com/vladislavdragonenkov/craftshop/internal/domain"
	"github.com/vladislavdragonenkov/craftshop/internal/storage/memory"
)

func TestReservationRepository_CreateAndReclaim(t *testing.T) {
	store, catalog, _ := seedStore(t, 10)
	reservations := memory.NewReservationRepository(store)

	res, err := reservations.Create(domain.StockReservation{
		SKU:       "mug-01",
		Qty:       3,
		ExpiresAt: time.Now().UTC().Add(-time.Minute),
	})
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}

	item, _ := catalog.Get("mug-01")
	if item.Stock != 7 {
		t.Fatalf("expected stock 7 after reserve, got %d", item.Stock)
	}

	reclaimed, err := reservations.ReclaimExpired(time.Now().UTC(), 10)
	if err != nil {
		t.Fatalf("reclaim failed: %v", err)
	}
	if reclaimed != 1 {
		t.Fatalf("expected 1 reclaimed, got %d", reclaimed)
	}

	item, _ = catalog.Get("mug-01")
	if item.Stock != 10 {
		t.Fatalf("expected stock restored to 10, got %d", item.Stock)
	}

	// Повторный запуск не должен вернуть тот же резерв второй раз.
	reclaimed, err = reservations.ReclaimExpired(time.Now().UTC(), 10)
	if err != nil {
		t.Fatalf("reclaim failed: %v", err)
	}
	if reclaimed != 0 {
		t.Fatalf("expected 0 reclaimed on second pass, got %d", reclaimed)
	}

	if err := reservations.Link(res.ID, "order-1"); !errors.Is(err, domain.ErrReservationNotFound) {
		t.Fatalf("expected reclaimed reservation to be gone, got %v", err)
	}
}

func TestReservationRepository_LinkedSkipped(t *testing.T) {
	store, catalog, _ := seedStore(t, 10)
	reservations := memory.NewReservationRepository(store)

	res, err := reservations.Create(domain.StockReservation{
		SKU:       "mug-01",
		Qty:       2,
		ExpiresAt: time.Now().UTC().Add(-time.Minute),
	})
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if err := reservations.Link(res.ID, "order-1"); err != nil {
		t.Fatalf("link failed: %v", err)
	}

	reclaimed, err := reservations.ReclaimExpired(time.Now().UTC(), 10)
	if err != nil {
		t.Fatalf("reclaim failed: %v", err)
	}
	if reclaimed != 0 {
		t.Fatalf("expected linked reservation to be skipped, got %d", reclaimed)
	}

	item, _ := catalog.Get("mug-01")
	if item.Stock != 8 {
		t.Fatalf("expected stock to stay at 8, got %d", item.Stock)
	}
}

func TestReservationRepository_LinkTwice(t *testing.T) {
	store, _, _ := seedStore(t, 10)
	reservations := memory.NewReservationRepository(store)

	res, err := reservations.Create(domain.StockReservation{
		SKU:       "mug-01",
		Qty:       1,
		ExpiresAt: time.Now().UTC().Add(time.Minute),
	})
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}

	if err := reservations.Link(res.ID, "order-1"); err != nil {
		t.Fatalf("link failed: %v", err)
	}
	if err := reservations.Link(res.ID, "order-2"); !errors.Is(err, domain.ErrReservationNotFound) {
		t.Fatalf("expected reservation not found on second link, got %v", err)
	}
}

func TestReservationRepository_CreateInsufficientStock(t *testing.T) {
	store, catalog, _ := seedStore(t, 1)
	reservations := memory.NewReservationRepository(store)

	if _, err := reservations.Create(domain.StockReservation{
		SKU:       "mug-01",
		Qty:       2,
		ExpiresAt: time.Now().UTC().Add(time.Minute),
	}); !errors.Is(err, domain.ErrInsufficientStock) {
		t.Fatalf("expected insufficient stock, got %v", err)
	}

	item, _ := catalog.Get("mug-01")
	if item.Stock != 1 {
		t.Fatalf("expected stock untouched at 1, got %d", item.Stock)
	}
}
