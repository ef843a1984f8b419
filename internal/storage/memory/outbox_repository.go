package memory

import (
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/craftshop/internal/domain"
)

// outboxRepositoryInMemory — in-memory реализация OutboxRepository.
type outboxRepositoryInMemory struct {
	store *Store

	enqueuedAt map[string]time.Time
}

// NewOutboxRepository возвращает in-memory реализацию transactional outbox.
func NewOutboxRepository(store *Store) domain.OutboxRepository {
	return &outboxRepositoryInMemory{
		store:      store,
		enqueuedAt: make(map[string]time.Time),
	}
}

func (r *outboxRepositoryInMemory) Enqueue(msg domain.OutboxMessage) (domain.OutboxMessage, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}

	r.store.outbox = append(r.store.outbox, msg)
	r.store.outboxStatus[msg.ID] = "pending"
	r.enqueuedAt[msg.ID] = time.Now().UTC()
	return msg, nil
}

func (r *outboxRepositoryInMemory) PullPending(limit int) ([]domain.OutboxMessage, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	if limit <= 0 {
		limit = 100
	}

	result := make([]domain.OutboxMessage, 0, limit)
	for _, msg := range r.store.outbox {
		if r.store.outboxStatus[msg.ID] != "pending" {
			continue
		}
		result = append(result, msg)
		if len(result) >= limit {
			break
		}
	}

	return result, nil
}

func (r *outboxRepositoryInMemory) Stats() (domain.OutboxStats, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	var stats domain.OutboxStats
	for _, msg := range r.store.outbox {
		if r.store.outboxStatus[msg.ID] != "pending" {
			continue
		}
		stats.PendingCount++
		at := r.enqueuedAt[msg.ID]
		if stats.OldestPendingAt.IsZero() || at.Before(stats.OldestPendingAt) {
			stats.OldestPendingAt = at
		}
	}

	return stats, nil
}

func (r *outboxRepositoryInMemory) MarkSent(id string) error {
	return r.markStatus(id, "sent")
}

func (r *outboxRepositoryInMemory) MarkFailed(id string) error {
	return r.markStatus(id, "failed")
}

func (r *outboxRepositoryInMemory) markStatus(id, status string) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	if _, ok := r.store.outboxStatus[id]; !ok {
		return nil
	}
	r.store.outboxStatus[id] = status
	return nil
}

var _ domain.OutboxRepository = (*outboxRepositoryInMemory)(nil)
