package domain

import (
	"errors"
	"testing"
)

func TestCatalogItem_Validate(t *testing.T) {
	item := CatalogItem{SKU: "mittens-red", Title: "Mittens", PriceMinor: 1200, Currency: "EUR", Stock: 3}
	if errs := item.Validate(); len(errs) != 0 {
		t.Fatalf("expected no errors, got %v", errs)
	}

	bad := CatalogItem{PriceMinor: -1, Stock: -2}
	errs := bad.Validate()
	for _, want := range []error{ErrSKURequired, ErrCurrencyRequired, ErrItemPriceInvalid, ErrStockNegative} {
		found := false
		for _, got := range errs {
			if errors.Is(got, want) {
				found = true
			}
		}
		if !found {
			t.Errorf("expected %v among %v", want, errs)
		}
	}
}

func TestValidateCart(t *testing.T) {
	if err := ValidateCart(nil); !errors.Is(err, ErrEmptyCart) {
		t.Fatalf("expected ErrEmptyCart, got %v", err)
	}
	if err := ValidateCart([]CartLine{{SKU: "", Qty: 1}}); !errors.Is(err, ErrSKURequired) {
		t.Fatalf("expected ErrSKURequired, got %v", err)
	}
	if err := ValidateCart([]CartLine{{SKU: "hat-wool", Qty: 0}}); !errors.Is(err, ErrItemQtyInvalid) {
		t.Fatalf("expected ErrItemQtyInvalid, got %v", err)
	}
	if err := ValidateCart([]CartLine{{SKU: "hat-wool", Qty: 1}}); err != nil {
		t.Fatalf("expected nil, got %v", err)
	}
}

func TestInsufficientStockFor_NamesSKU(t *testing.T) {
	err := InsufficientStockFor("scarf-blue")
	if !errors.Is(err, ErrInsufficientStock) {
		t.Fatalf("expected wrap of ErrInsufficientStock, got %v", err)
	}
	if got := err.Error(); got != "insufficient stock: scarf-blue" {
		t.Fatalf("unexpected message: %q", got)
	}
}

func TestIsGatewayFailure(t *testing.T) {
	if !IsGatewayFailure(ErrGatewayUnavailable) || !IsGatewayFailure(ErrGatewayRejected) {
		t.Error("gateway errors must be recognized")
	}
	if IsGatewayFailure(ErrOrderNotFound) {
		t.Error("unrelated error must not be a gateway failure")
	}
}
