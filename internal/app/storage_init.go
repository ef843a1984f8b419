package app

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/craftshop/internal/domain"
	"github.com/vladislavdragonenkov/craftshop/internal/storage/memory"
	"github.com/vladislavdragonenkov/craftshop/internal/storage/postgres"
)

// runtimeDependencies — репозитории, собранные под выбранный storage driver.
type runtimeDependencies struct {
	catalogRepo     domain.CatalogRepository
	orderRepo       domain.OrderRepository
	reservationRepo domain.ReservationRepository
	outboxRepo      domain.OutboxRepository
	timelineRepo    domain.TimelineRepository
	idempotencyRepo domain.IdempotencyRepository

	// pgStore не nil только для postgres: используется health-чеком и Close.
	pgStore *postgres.Store
}

func (d *runtimeDependencies) Close() {
	if d.pgStore != nil {
		_ = d.pgStore.Close()
	}
}

// initRuntimeDependencies собирает репозитории для выбранного storage driver.
func initRuntimeDependencies(ctx context.Context, cfg Config, logger *log.Entry) (*runtimeDependencies, error) {
	switch cfg.StorageDriver {
	case StorageDriverMemory, "":
		store := memory.NewStore()
		logger.Info("using in-memory storage")
		deps := &runtimeDependencies{
			catalogRepo:     memory.NewCatalogRepository(store),
			orderRepo:       memory.NewOrderRepository(store),
			reservationRepo: memory.NewReservationRepository(store),
			outboxRepo:      memory.NewOutboxRepository(store),
			timelineRepo:    memory.NewTimelineRepository(store),
			idempotencyRepo: memory.NewIdempotencyRepository(store),
		}
		if err := seedDemoCatalog(deps.catalogRepo); err != nil {
			return nil, fmt.Errorf("seed demo catalog: %w", err)
		}
		logger.Info("demo catalog seeded")
		return deps, nil

	case StorageDriverPostgres:
		if cfg.PostgresDSN == "" {
			return nil, fmt.Errorf("postgres storage driver requires a DSN")
		}

		store, err := postgres.Open(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("open postgres storage: %w", err)
		}

		if cfg.PostgresAutoMigrate {
			if err := store.EnsureSchema(ctx); err != nil {
				_ = store.Close()
				return nil, fmt.Errorf("apply postgres migrations: %w", err)
			}
			logger.Info("postgres schema is up to date")
		}

		logger.Info("using postgres storage")
		return &runtimeDependencies{
			catalogRepo:     postgres.NewCatalogRepository(store),
			orderRepo:       postgres.NewOrderRepository(store),
			reservationRepo: postgres.NewReservationRepository(store),
			outboxRepo:      postgres.NewOutboxRepository(store),
			timelineRepo:    postgres.NewTimelineRepository(store),
			idempotencyRepo: postgres.NewIdempotencyRepository(store),
			pgStore:         store,
		}, nil

	default:
		return nil, fmt.Errorf("unsupported storage driver: %s", cfg.StorageDriver)
	}
}

// seedDemoCatalog наполняет пустой in-memory каталог стартовыми позициями.
// Память живёт только до рестарта, поэтому dev-режим без сида бесполезен:
// ни одну позицию нельзя купить.
func seedDemoCatalog(catalog domain.CatalogRepository) error {
	demo := []domain.CatalogItem{
		{SKU: "mug-01", Title: "Ceramic mug, glazed", PriceMinor: 1500, Currency: "USD", Stock: 25},
		{SKU: "bowl-02", Title: "Stoneware bowl", PriceMinor: 2400, Currency: "USD", Stock: 12},
		{SKU: "vase-03", Title: "Hand-thrown vase", PriceMinor: 5200, Currency: "USD", Stock: 4},
		{SKU: "scarf-04", Title: "Wool scarf, indigo", PriceMinor: 3900, Currency: "USD", Stock: 18},
	}
	for _, item := range demo {
		if err := catalog.Put(item); err != nil {
			return err
		}
	}
	return nil
}
