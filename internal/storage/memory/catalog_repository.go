package memory

import (
	"sort"
	"time"

	"github.com/vladislavdragonenkov/craftshop/internal/domain"
)

// catalogRepositoryInMemory — простая in-memory реализация CatalogRepository.
type catalogRepositoryInMemory struct {
	store *Store
}

// NewCatalogRepository возвращает in-memory репозиторий каталога.
func NewCatalogRepository(store *Store) domain.CatalogRepository {
	return &catalogRepositoryInMemory{store: store}
}

func (r *catalogRepositoryInMemory) Get(sku string) (domain.CatalogItem, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	item, ok := r.store.items[sku]
	if !ok {
		return domain.CatalogItem{}, domain.ErrItemNotFound
	}
	return item, nil
}

func (r *catalogRepositoryInMemory) List(limit int) ([]domain.CatalogItem, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	result := make([]domain.CatalogItem, 0, len(r.store.items))
	for _, item := range r.store.items {
		result = append(result, item)
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].SKU < result[j].SKU
	})

	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}

	return result, nil
}

func (r *catalogRepositoryInMemory) Put(item domain.CatalogItem) error {
	if errs := item.Validate(); len(errs) != 0 {
		return errs[0]
	}

	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	now := time.Now().UTC()
	if existing, ok := r.store.items[item.SKU]; ok {
		item.CreatedAt = existing.CreatedAt
	} else if item.CreatedAt.IsZero() {
		item.CreatedAt = now
	}
	item.UpdatedAt = now

	r.store.items[item.SKU] = item
	return nil
}

// ConditionalDecrement повторяет семантику условной SQL-записи: решение о
// списании принимается под блокировкой по текущему остатку, а не по ранее
// прочитанному значению.
func (r *catalogRepositoryInMemory) ConditionalDecrement(sku string, qty int32) (bool, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	return r.store.decrementLocked(sku, qty), nil
}

func (r *catalogRepositoryInMemory) Increment(sku string, qty int32) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	return r.store.incrementLocked(sku, qty)
}

// decrementLocked выполняет условное списание; вызывается только под store.mu.
func (s *Store) decrementLocked(sku string, qty int32) bool {
	item, ok := s.items[sku]
	if !ok || item.Stock < qty {
		return false
	}
	item.Stock -= qty
	item.UpdatedAt = time.Now().UTC()
	s.items[sku] = item
	return true
}

// incrementLocked возвращает qty единиц на склад; вызывается только под store.mu.
func (s *Store) incrementLocked(sku string, qty int32) error {
	item, ok := s.items[sku]
	if !ok {
		return domain.ErrItemNotFound
	}
	item.Stock += qty
	item.UpdatedAt = time.Now().UTC()
	s.items[sku] = item
	return nil
}

var _ domain.CatalogRepository = (*catalogRepositoryInMemory)(nil)
