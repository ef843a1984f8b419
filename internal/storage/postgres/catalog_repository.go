package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/vladislavdragonenkov/craftshop/internal/domain"
)

const (
	opTimeout = 5 * time.Second
)

type catalogRepository struct {
	db *sql.DB
}

// NewCatalogRepository создаёт PostgreSQL-реализацию CatalogRepository.
func NewCatalogRepository(store *Store) domain.CatalogRepository {
	return &catalogRepository{db: store.DB()}
}

func (r *catalogRepository) Get(sku string) (domain.CatalogItem, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	var item domain.CatalogItem
	err := r.db.QueryRowContext(ctx, `
		SELECT sku, title, price_minor, currency, stock, created_at, updated_at
		FROM items
		WHERE sku = $1
	`, sku).Scan(
		&item.SKU, &item.Title, &item.PriceMinor, &item.Currency,
		&item.Stock, &item.CreatedAt, &item.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.CatalogItem{}, domain.ErrItemNotFound
		}
		return domain.CatalogItem{}, fmt.Errorf("select catalog item: %w", err)
	}

	return item, nil
}

func (r *catalogRepository) List(limit int) ([]domain.CatalogItem, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	query := `
		SELECT sku, title, price_minor, currency, stock, created_at, updated_at
		FROM items
		ORDER BY title ASC, sku ASC
	`

	var (
		rows *sql.Rows
		err  error
	)
	if limit > 0 {
		rows, err = r.db.QueryContext(ctx, query+" LIMIT $1", limit)
	} else {
		rows, err = r.db.QueryContext(ctx, query)
	}
	if err != nil {
		return nil, fmt.Errorf("list catalog items: %w", err)
	}
	defer rows.Close()

	items := make([]domain.CatalogItem, 0)
	for rows.Next() {
		var item domain.CatalogItem
		if err := rows.Scan(
			&item.SKU, &item.Title, &item.PriceMinor, &item.Currency,
			&item.Stock, &item.CreatedAt, &item.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan catalog item: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate catalog items: %w", err)
	}

	return items, nil
}

func (r *catalogRepository) Put(item domain.CatalogItem) error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	now := time.Now().UTC()
	if _, err := r.db.ExecContext(ctx, `
		INSERT INTO items (sku, title, price_minor, currency, stock, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$6)
		ON CONFLICT (sku) DO UPDATE SET
			title = EXCLUDED.title,
			price_minor = EXCLUDED.price_minor,
			currency = EXCLUDED.currency,
			stock = EXCLUDED.stock,
			updated_at = EXCLUDED.updated_at
	`, item.SKU, item.Title, item.PriceMinor, item.Currency, item.Stock, now); err != nil {
		return fmt.Errorf("upsert catalog item: %w", err)
	}

	return nil
}

// ConditionalDecrement — единственная форма списания остатка. Предикат
// stock >= qty входит в саму запись, поэтому гонка двух покупателей решается
// базой: проигравший получает affected = 0, а не отрицательный остаток.
func (r *catalogRepository) ConditionalDecrement(sku string, qty int32) (bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	res, err := r.db.ExecContext(ctx, `
		UPDATE items
		SET stock = stock - $2,
		    updated_at = NOW()
		WHERE sku = $1
		  AND stock >= $2
	`, sku, qty)
	if err != nil {
		return false, fmt.Errorf("conditional decrement: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}

	return affected > 0, nil
}

func (r *catalogRepository) Increment(sku string, qty int32) error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	res, err := r.db.ExecContext(ctx, `
		UPDATE items
		SET stock = stock + $2,
		    updated_at = NOW()
		WHERE sku = $1
	`, sku, qty)
	if err != nil {
		return fmt.Errorf("increment stock: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return domain.ErrItemNotFound
	}

	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

var _ domain.CatalogRepository = (*catalogRepository)(nil)
