package memory

import (
	"strings"
	"time"

	"github.com/vladislavdragonenkov/craftshop/internal/domain"
)

// idempotencyRepositoryInMemory — in-memory реализация IdempotencyRepository.
type idempotencyRepositoryInMemory struct {
	store *Store
}

// NewIdempotencyRepository возвращает in-memory хранилище idempotency-ключей.
func NewIdempotencyRepository(store *Store) domain.IdempotencyRepository {
	return &idempotencyRepositoryInMemory{store: store}
}

func (r *idempotencyRepositoryInMemory) CreateProcessing(key, requestHash string, ttlAt time.Time) (domain.IdempotencyRecord, error) {
	key = strings.TrimSpace(key)
	requestHash = strings.TrimSpace(requestHash)

	if key == "" {
		return domain.IdempotencyRecord{}, domain.ErrIdempotencyKeyRequired
	}
	if requestHash == "" {
		return domain.IdempotencyRecord{}, domain.ErrIdempotencyRequestHashRequired
	}

	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	if existing, ok := r.store.idempotency[key]; ok {
		if existing.RequestHash != requestHash {
			return existing, domain.ErrIdempotencyHashMismatch
		}
		return existing, domain.ErrIdempotencyKeyAlreadyExists
	}

	now := time.Now().UTC()
	if ttlAt.IsZero() {
		ttlAt = now.Add(24 * time.Hour)
	}

	record := domain.IdempotencyRecord{
		Key:         key,
		RequestHash: requestHash,
		Status:      domain.IdempotencyStatusProcessing,
		TTLAt:       ttlAt,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	r.store.idempotency[key] = record
	return record, nil
}

func (r *idempotencyRepositoryInMemory) Get(key string) (domain.IdempotencyRecord, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	record, ok := r.store.idempotency[key]
	if !ok {
		return domain.IdempotencyRecord{}, domain.ErrIdempotencyKeyNotFound
	}
	return record, nil
}

func (r *idempotencyRepositoryInMemory) MarkDone(key string, responseBody []byte, httpStatus int) error {
	return r.markFinished(key, responseBody, httpStatus, domain.IdempotencyStatusDone)
}

func (r *idempotencyRepositoryInMemory) MarkFailed(key string, responseBody []byte, httpStatus int) error {
	return r.markFinished(key, responseBody, httpStatus, domain.IdempotencyStatusFailed)
}

func (r *idempotencyRepositoryInMemory) markFinished(key string, responseBody []byte, httpStatus int, status domain.IdempotencyStatus) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	record, ok := r.store.idempotency[key]
	if !ok {
		return domain.ErrIdempotencyKeyNotFound
	}

	record.ResponseBody = responseBody
	record.HTTPStatus = httpStatus
	record.Status = status
	record.UpdatedAt = time.Now().UTC()
	r.store.idempotency[key] = record
	return nil
}

func (r *idempotencyRepositoryInMemory) DeleteExpired(before time.Time, limit int) (int, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	if limit <= 0 {
		limit = 500
	}

	deleted := 0
	for key, record := range r.store.idempotency {
		if deleted >= limit {
			break
		}
		if record.TTLAt.IsZero() || record.TTLAt.After(before) {
			continue
		}
		delete(r.store.idempotency, key)
		deleted++
	}

	return deleted, nil
}

var _ domain.IdempotencyRepository = (*idempotencyRepositoryInMemory)(nil)
