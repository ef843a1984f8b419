package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/craftshop/internal/domain"
)

type reservationRepository struct {
	db *sql.DB
}

// NewReservationRepository создаёт PostgreSQL-реализацию ReservationRepository.
func NewReservationRepository(store *Store) domain.ReservationRepository {
	return &reservationRepository{db: store.DB()}
}

// Create списывает сток условной записью и сохраняет резерв в одной
// транзакции: либо и остаток уменьшен, и холд записан, либо ничего.
func (r *reservationRepository) Create(res domain.StockReservation) (domain.StockReservation, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	if errs := res.Validate(); len(errs) != 0 {
		return domain.StockReservation{}, errs[0]
	}

	if res.ID == "" {
		res.ID = uuid.NewString()
	}
	if res.CreatedAt.IsZero() {
		res.CreatedAt = time.Now().UTC()
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.StockReservation{}, fmt.Errorf("begin tx: %w", err)
	}

	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var result sql.Result
	result, err = tx.ExecContext(ctx, `
		UPDATE items
		SET stock = stock - $2,
		    updated_at = NOW()
		WHERE sku = $1
		  AND stock >= $2
	`, res.SKU, res.Qty)
	if err != nil {
		err = fmt.Errorf("reserve stock: %w", err)
		return domain.StockReservation{}, err
	}
	var affected int64
	affected, err = result.RowsAffected()
	if err != nil {
		err = fmt.Errorf("rows affected: %w", err)
		return domain.StockReservation{}, err
	}
	if affected == 0 {
		err = domain.InsufficientStockFor(res.SKU)
		return domain.StockReservation{}, err
	}

	if _, err = tx.ExecContext(ctx, `
		INSERT INTO stock_reservations (id, sku, qty, order_id, expires_at, created_at)
		VALUES ($1,$2,$3,$4,$5,$6)
	`, res.ID, res.SKU, res.Qty, res.OrderID, res.ExpiresAt, res.CreatedAt); err != nil {
		err = fmt.Errorf("insert reservation: %w", err)
		return domain.StockReservation{}, err
	}

	if err = tx.Commit(); err != nil {
		return domain.StockReservation{}, fmt.Errorf("commit create reservation: %w", err)
	}

	return res, nil
}

func (r *reservationRepository) Link(id, orderID string) error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	res, err := r.db.ExecContext(ctx, `
		UPDATE stock_reservations
		SET order_id = $2
		WHERE id = $1
		  AND order_id = ''
	`, id, orderID)
	if err != nil {
		return fmt.Errorf("link reservation: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return domain.ErrReservationNotFound
	}

	return nil
}

// ReclaimExpired возвращает просроченные непривязанные резервы на склад.
// Каждый резерв обрабатывается в собственной транзакции: удаление строки и
// возврат стока происходят вместе, поэтому повторный запуск не находит уже
// удалённую строку и не возвращает сток второй раз.
func (r *reservationRepository) ReclaimExpired(before time.Time, limit int) (int, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	if limit <= 0 {
		limit = 100
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT id
		FROM stock_reservations
		WHERE order_id = ''
		  AND expires_at <= $1
		ORDER BY expires_at ASC
		LIMIT $2
	`, before, limit)
	if err != nil {
		return 0, fmt.Errorf("list expired reservations: %w", err)
	}
	defer rows.Close()

	ids := make([]string, 0, limit)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return 0, fmt.Errorf("scan reservation id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("iterate expired reservations: %w", err)
	}

	reclaimed := 0
	for _, id := range ids {
		if err := r.reclaimOne(ctx, id, before); err != nil {
			return reclaimed, err
		}
		reclaimed++
	}

	return reclaimed, nil
}

func (r *reservationRepository) reclaimOne(ctx context.Context, id string, before time.Time) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}

	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	// Повторная проверка предикатов внутри транзакции: резерв могли успеть
	// привязать к заказу или забрать параллельным sweep-запуском.
	var (
		sku string
		qty int32
	)
	err = tx.QueryRowContext(ctx, `
		DELETE FROM stock_reservations
		WHERE id = $1
		  AND order_id = ''
		  AND expires_at <= $2
		RETURNING sku, qty
	`, id, before).Scan(&sku, &qty)
	if err != nil {
		if err == sql.ErrNoRows {
			err = nil
			_ = tx.Rollback()
			return nil
		}
		err = fmt.Errorf("delete expired reservation: %w", err)
		return err
	}

	if _, err = tx.ExecContext(ctx, `
		UPDATE items
		SET stock = stock + $2,
		    updated_at = NOW()
		WHERE sku = $1
	`, sku, qty); err != nil {
		err = fmt.Errorf("restore reserved stock: %w", err)
		return err
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit reclaim reservation: %w", err)
	}

	return nil
}

var _ domain.ReservationRepository = (*reservationRepository)(nil)
