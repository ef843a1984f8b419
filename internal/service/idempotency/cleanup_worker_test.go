package idempotency_test

import (
	"context"
	"fmt"
	"io"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/craftshop/internal/service/idempotency"
	"github.com/vladislavdragonenkov/craftshop/internal/storage/memory"
)

func quietLogger() *log.Entry {
	logger := log.New()
	logger.SetOutput(io.Discard)
	return logger.WithField("component", "idempotency-test")
}

func TestCleanupWorker_DeleteExpired(t *testing.T) {
	repo := memory.NewIdempotencyRepository(memory.NewStore())
	worker := idempotency.NewCleanupWorker(repo,
		idempotency.WithLogger(quietLogger()),
		idempotency.WithBatchSize(2),
	)

	past := time.Now().UTC().Add(-time.Hour)
	for i := 0; i < 5; i++ {
		if _, err := repo.CreateProcessing(fmt.Sprintf("stale-%d", i), "hash", past); err != nil {
			t.Fatalf("create failed: %v", err)
		}
	}
	if _, err := repo.CreateProcessing("fresh", "hash", time.Now().UTC().Add(time.Hour)); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	// Батч меньше объёма: воркер обязан пройти все порции за один вызов.
	deleted, err := worker.DeleteExpired(context.Background(), time.Now().UTC())
	if err != nil {
		t.Fatalf("delete expired failed: %v", err)
	}
	if deleted != 5 {
		t.Fatalf("expected 5 deleted, got %d", deleted)
	}

	if _, err := repo.Get("fresh"); err != nil {
		t.Fatalf("expected fresh record kept, got %v", err)
	}
}

func TestCleanupWorker_ContextCanceled(t *testing.T) {
	repo := memory.NewIdempotencyRepository(memory.NewStore())
	worker := idempotency.NewCleanupWorker(repo, idempotency.WithLogger(quietLogger()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := worker.DeleteExpired(ctx, time.Now().UTC()); err == nil {
		t.Fatal("expected context error")
	}
}
