package payment_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/vladislavdragonenkov/craftshop/internal/domain"
	"github.com/vladislavdragonenkov/craftshop/internal/service/payment"
)

func paypalServer(t *testing.T, captureStatus int, captureBody string) (*httptest.Server, *int64) {
	t.Helper()

	var tokenCalls int64
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/oauth2/token", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&tokenCalls, 1)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"tok-1","expires_in":3600}`))
	})
	mux.HandleFunc("/v2/checkout/orders", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok-1" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id":"pp-order-1","status":"CREATED"}`))
	})
	mux.HandleFunc("/v2/checkout/orders/pp-order-1/capture", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(captureStatus)
		_, _ = w.Write([]byte(captureBody))
	})

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server, &tokenCalls
}

func newGateway(server *httptest.Server) *payment.PayPalGateway {
	return payment.NewPayPalGateway(payment.PayPalConfig{
		BaseURL:      server.URL,
		ClientID:     "client",
		ClientSecret: "secret",
		HTTPTimeout:  2 * time.Second,
	}, nil)
}

func testOrder() domain.Order {
	return domain.Order{
		ID:          "order-1",
		BuyerID:     "buyer-1",
		Currency:    "USD",
		AmountMinor: 1250,
	}
}

func TestPayPalGateway_CreateAndCapture(t *testing.T) {
	server, tokenCalls := paypalServer(t, http.StatusCreated, `{"status":"COMPLETED"}`)
	gateway := newGateway(server)

	remoteID, err := gateway.CreateRemoteIntent(context.Background(), testOrder())
	if err != nil {
		t.Fatalf("create intent failed: %v", err)
	}
	if remoteID != "pp-order-1" {
		t.Fatalf("expected remote id pp-order-1, got %s", remoteID)
	}

	outcome, err := gateway.CaptureRemoteIntent(context.Background(), remoteID)
	if err != nil {
		t.Fatalf("capture failed: %v", err)
	}
	if outcome != domain.OutcomeCaptured {
		t.Fatalf("expected captured, got %s", outcome)
	}

	// Токен кешируется: два запроса API, один поход за токеном.
	if *tokenCalls != 1 {
		t.Fatalf("expected 1 token call, got %d", *tokenCalls)
	}
}

func TestPayPalGateway_CaptureNotCompleted(t *testing.T) {
	server, _ := paypalServer(t, http.StatusCreated, `{"status":"PENDING"}`)
	gateway := newGateway(server)

	outcome, err := gateway.CaptureRemoteIntent(context.Background(), "pp-order-1")
	if !errors.Is(err, domain.ErrGatewayRejected) {
		t.Fatalf("expected gateway rejected, got %v", err)
	}
	if outcome != domain.OutcomeFailed {
		t.Fatalf("expected failed outcome, got %s", outcome)
	}
}

func TestPayPalGateway_CaptureNon2xx(t *testing.T) {
	server, _ := paypalServer(t, http.StatusUnprocessableEntity, `{"name":"UNPROCESSABLE_ENTITY"}`)
	gateway := newGateway(server)

	outcome, err := gateway.CaptureRemoteIntent(context.Background(), "pp-order-1")
	if !errors.Is(err, domain.ErrGatewayRejected) {
		t.Fatalf("expected gateway rejected, got %v", err)
	}
	if outcome != domain.OutcomeFailed {
		t.Fatalf("expected failed outcome, got %s", outcome)
	}
}

func TestPayPalGateway_CaptureMalformedBody(t *testing.T) {
	server, _ := paypalServer(t, http.StatusCreated, `{not-json`)
	gateway := newGateway(server)

	outcome, err := gateway.CaptureRemoteIntent(context.Background(), "pp-order-1")
	if !errors.Is(err, domain.ErrGatewayRejected) {
		t.Fatalf("expected gateway rejected, got %v", err)
	}
	if outcome != domain.OutcomeFailed {
		t.Fatalf("expected failed outcome, got %s", outcome)
	}
}

func TestPayPalGateway_TransportFailure(t *testing.T) {
	server, _ := paypalServer(t, http.StatusCreated, `{"status":"COMPLETED"}`)
	gateway := newGateway(server)
	server.Close()

	if _, err := gateway.CreateRemoteIntent(context.Background(), testOrder()); !errors.Is(err, domain.ErrGatewayUnavailable) {
		t.Fatalf("expected gateway unavailable, got %v", err)
	}
}
