package domain

import (
	"testing"
	"time"
)

func TestStockReservation_Validate(t *testing.T) {
	res := StockReservation{ID: "res-1", SKU: "scarf-blue", Qty: 1}
	if errs := res.Validate(); len(errs) != 0 {
		t.Fatalf("expected no errors, got %v", errs)
	}

	bad := StockReservation{Qty: 0}
	if errs := bad.Validate(); len(errs) != 2 {
		t.Fatalf("expected 2 errors, got %v", errs)
	}
}

func TestStockReservation_Reclaimable(t *testing.T) {
	now := time.Now().UTC()

	res := StockReservation{SKU: "scarf-blue", Qty: 1, ExpiresAt: now.Add(-time.Minute)}
	if !res.Reclaimable(now) {
		t.Error("expired unlinked reservation must be reclaimable")
	}

	res.OrderID = "order-1"
	if res.Reclaimable(now) {
		t.Error("linked reservation must not be reclaimable")
	}

	fresh := StockReservation{SKU: "scarf-blue", Qty: 1, ExpiresAt: now.Add(time.Minute)}
	if fresh.Reclaimable(now) {
		t.Error("unexpired reservation must not be reclaimable")
	}

	zero := StockReservation{SKU: "scarf-blue", Qty: 1}
	if zero.Reclaimable(now) {
		t.Error("reservation without expiry must not be reclaimable")
	}
}
