package payment_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/vladislavdragonenkov/craftshop/internal/domain"
	"github.com/vladislavdragonenkov/craftshop/internal/service/payment"
)

func fastRetryConfig() payment.RetryConfig {
	return payment.RetryConfig{
		MaxAttempts:   3,
		InitialDelay:  time.Millisecond,
		MaxDelay:      5 * time.Millisecond,
		BackoffFactor: 2.0,
	}
}

type flakyGateway struct {
	failures int
	calls    int
}

func (g *flakyGateway) CreateRemoteIntent(_ context.Context, _ domain.Order) (string, error) {
	g.calls++
	if g.calls <= g.failures {
		return "", domain.ErrGatewayUnavailable
	}
	return "intent-ok", nil
}

func (g *flakyGateway) CaptureRemoteIntent(_ context.Context, _ string) (domain.CaptureOutcome, error) {
	g.calls++
	if g.calls <= g.failures {
		return domain.OutcomeFailed, domain.ErrGatewayUnavailable
	}
	return domain.OutcomeCaptured, nil
}

func TestRetryableGateway_RetriesTransportFailures(t *testing.T) {
	inner := &flakyGateway{failures: 2}
	gateway := payment.NewRetryableGateway(inner, fastRetryConfig(), nil)

	remoteID, err := gateway.CreateRemoteIntent(context.Background(), domain.Order{ID: "order-1"})
	if err != nil {
		t.Fatalf("expected success after retries, got %v", err)
	}
	if remoteID != "intent-ok" {
		t.Fatalf("expected intent-ok, got %s", remoteID)
	}
	if inner.calls != 3 {
		t.Fatalf("expected 3 attempts, got %d", inner.calls)
	}
}

func TestRetryableGateway_StopsOnRejection(t *testing.T) {
	inner := payment.NewMockGateway()
	inner.CaptureOutcome = domain.OutcomeFailed
	inner.CaptureErr = domain.ErrGatewayRejected

	gateway := payment.NewRetryableGateway(inner, fastRetryConfig(), nil)

	outcome, err := gateway.CaptureRemoteIntent(context.Background(), "intent-1")
	if !errors.Is(err, domain.ErrGatewayRejected) {
		t.Fatalf("expected rejection to propagate, got %v", err)
	}
	if outcome != domain.OutcomeFailed {
		t.Fatalf("expected failed outcome, got %s", outcome)
	}
	if inner.CaptureCalls != 1 {
		t.Fatalf("expected a single attempt for rejection, got %d", inner.CaptureCalls)
	}
}

func TestRetryableGateway_ExhaustsAttempts(t *testing.T) {
	inner := payment.NewMockGateway()
	inner.IntentErr = domain.ErrGatewayUnavailable

	gateway := payment.NewRetryableGateway(inner, fastRetryConfig(), nil)

	if _, err := gateway.CreateRemoteIntent(context.Background(), domain.Order{ID: "order-1"}); !errors.Is(err, domain.ErrGatewayUnavailable) {
		t.Fatalf("expected gateway unavailable, got %v", err)
	}
	if inner.IntentCalls != 3 {
		t.Fatalf("expected 3 attempts, got %d", inner.IntentCalls)
	}
}
