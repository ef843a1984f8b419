package outbox_test

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/craftshop/internal/domain"
	"github.com/vladislavdragonenkov/craftshop/internal/service/outbox"
	"github.com/vladislavdragonenkov/craftshop/internal/storage/memory"
)

type stubPublisher struct {
	mu        sync.Mutex
	err       error
	published []domain.OutboxMessage
}

func (s *stubPublisher) Publish(event domain.OutboxMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.published = append(s.published, event)
	return nil
}

func (s *stubPublisher) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.published)
}

func quietLogger() *log.Entry {
	logger := log.New()
	logger.SetOutput(io.Discard)
	return logger.WithField("component", "outbox-test")
}

func enqueue(t *testing.T, repo domain.OutboxRepository, eventType string) domain.OutboxMessage {
	t.Helper()
	msg, err := repo.Enqueue(domain.OutboxMessage{
		AggregateType: "order",
		AggregateID:   "order-1",
		EventType:     eventType,
		Payload:       []byte(`{"order_id":"order-1"}`),
	})
	if err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}
	return msg
}

func TestWorker_PublishesPending(t *testing.T) {
	repo := memory.NewOutboxRepository(memory.NewStore())
	publisher := &stubPublisher{}
	worker := outbox.NewWorker(repo, publisher,
		outbox.WithLogger(quietLogger()),
		outbox.WithRetryBaseDelay(0),
	)

	enqueue(t, repo, "OrderCreated")
	enqueue(t, repo, "OrderPaid")

	worker.ProcessOnce(context.Background())

	if publisher.count() != 2 {
		t.Fatalf("expected 2 published messages, got %d", publisher.count())
	}

	pending, err := repo.PullPending(10)
	if err != nil {
		t.Fatalf("pull failed: %v", err)
	}
	if len(pending) != 0 {
		t.Fatalf("expected no pending messages, got %d", len(pending))
	}
}

func TestWorker_MarksFailedAfterRetries(t *testing.T) {
	repo := memory.NewOutboxRepository(memory.NewStore())
	publisher := &stubPublisher{err: errors.New("broker down")}
	dlq := &stubPublisher{}
	worker := outbox.NewWorker(repo, publisher,
		outbox.WithLogger(quietLogger()),
		outbox.WithMaxAttempts(2),
		outbox.WithRetryBaseDelay(0),
		outbox.WithDLQPublisher(dlq),
	)

	msg := enqueue(t, repo, "OrderCreated")

	worker.ProcessOnce(context.Background())

	pending, err := repo.PullPending(10)
	if err != nil {
		t.Fatalf("pull failed: %v", err)
	}
	if len(pending) != 0 {
		t.Fatalf("expected message out of pending after failure, got %d", len(pending))
	}
	if dlq.count() != 1 {
		t.Fatalf("expected 1 DLQ message, got %d", dlq.count())
	}
	if dlq.published[0].ID != msg.ID {
		t.Fatalf("expected DLQ message id %s, got %s", msg.ID, dlq.published[0].ID)
	}
}

func TestWorker_NoPublisherDisabled(t *testing.T) {
	worker := outbox.NewWorker(nil, nil, outbox.WithLogger(quietLogger()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	// Без repo/publisher Run выходит сразу и не паникует.
	worker.Run(ctx)
}
