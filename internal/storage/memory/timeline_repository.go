package memory

import (
	"time"

	"github.com/vladislavdragonenkov/craftshop/internal/domain"
)

// timelineRepositoryInMemory — in-memory реализация TimelineRepository.
type timelineRepositoryInMemory struct {
	store *Store
}

// NewTimelineRepository возвращает in-memory хранилище ленты событий заказа.
func NewTimelineRepository(store *Store) domain.TimelineRepository {
	return &timelineRepositoryInMemory{store: store}
}

func (r *timelineRepositoryInMemory) Append(event domain.TimelineEvent) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	if event.Occurred.IsZero() {
		event.Occurred = time.Now().UTC()
	}

	r.store.timeline[event.OrderID] = append(r.store.timeline[event.OrderID], event)
	return nil
}

func (r *timelineRepositoryInMemory) List(orderID string) ([]domain.TimelineEvent, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	events := r.store.timeline[orderID]
	result := make([]domain.TimelineEvent, len(events))
	copy(result, events)
	return result, nil
}

var _ domain.TimelineRepository = (*timelineRepositoryInMemory)(nil)
