package memory_test

import (
	"errors"
	"testing"
	"time"

	"github.com/vladislavdragonenkov/craftshop/internal/domain"
	"github.com/vladislavdragonenkov/craftshop/internal/storage/memory"
)

func TestIdempotencyRepository_Lifecycle(t *testing.T) {
	repo := memory.NewIdempotencyRepository(memory.NewStore())

	record, err := repo.CreateProcessing("key-1", "hash-1", time.Time{})
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if record.Status != domain.IdempotencyStatusProcessing {
		t.Fatalf("expected processing, got %s", record.Status)
	}

	if err := repo.MarkDone("key-1", []byte(`{"order_id":"o-1"}`), 201); err != nil {
		t.Fatalf("mark done failed: %v", err)
	}

	stored, err := repo.Get("key-1")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if stored.Status != domain.IdempotencyStatusDone {
		t.Fatalf("expected done, got %s", stored.Status)
	}
	if stored.HTTPStatus != 201 {
		t.Fatalf("expected status 201, got %d", stored.HTTPStatus)
	}
}

func TestIdempotencyRepository_DuplicateKey(t *testing.T) {
	repo := memory.NewIdempotencyRepository(memory.NewStore())

	if _, err := repo.CreateProcessing("key-1", "hash-1", time.Time{}); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	if _, err := repo.CreateProcessing("key-1", "hash-1", time.Time{}); !errors.Is(err, domain.ErrIdempotencyKeyAlreadyExists) {
		t.Fatalf("expected key already exists, got %v", err)
	}
	if _, err := repo.CreateProcessing("key-1", "hash-other", time.Time{}); !errors.Is(err, domain.ErrIdempotencyHashMismatch) {
		t.Fatalf("expected hash mismatch, got %v", err)
	}
}

func TestIdempotencyRepository_DeleteExpired(t *testing.T) {
	repo := memory.NewIdempotencyRepository(memory.NewStore())

	past := time.Now().UTC().Add(-time.Hour)
	if _, err := repo.CreateProcessing("stale", "hash-1", past); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if _, err := repo.CreateProcessing("fresh", "hash-2", time.Now().UTC().Add(time.Hour)); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	deleted, err := repo.DeleteExpired(time.Now().UTC(), 100)
	if err != nil {
		t.Fatalf("delete expired failed: %v", err)
	}
	if deleted != 1 {
		t.Fatalf("expected 1 deleted, got %d", deleted)
	}

	if _, err := repo.Get("stale"); !errors.Is(err, domain.ErrIdempotencyKeyNotFound) {
		t.Fatalf("expected stale key gone, got %v", err)
	}
	if _, err := repo.Get("fresh"); err != nil {
		t.Fatalf("expected fresh key kept, got %v", err)
	}
}
