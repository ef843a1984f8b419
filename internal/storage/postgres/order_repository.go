package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/craftshop/internal/domain"
)

type orderRepository struct {
	db *sql.DB
}

// NewOrderRepository создаёт PostgreSQL-реализацию OrderRepository.
func NewOrderRepository(store *Store) domain.OrderRepository {
	return &orderRepository{db: store.DB()}
}

// CreatePending резервирует сток и открывает pending-заказ в одной
// транзакции. Порядок на каждую позицию: снимок цены, затем условное
// списание stock = stock - qty при stock >= qty. Ноль затронутых строк —
// нехватка остатка, транзакция откатывается целиком вместе с уже
// выполненными списаниями других позиций.
func (r *orderRepository) CreatePending(draft domain.OrderDraft) (domain.Order, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	if err := domain.ValidateCart(draft.Lines); err != nil {
		return domain.Order{}, err
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.Order{}, fmt.Errorf("begin tx: %w", err)
	}

	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	now := time.Now().UTC()
	order := domain.Order{
		ID:        draft.ID,
		BuyerID:   draft.BuyerID,
		Status:    domain.OrderStatusPending,
		Method:    draft.Method,
		Shipping:  draft.Shipping,
		Version:   0,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if order.ID == "" {
		order.ID = uuid.NewString()
	}

	for _, line := range draft.Lines {
		var (
			priceMinor int64
			currency   string
		)
		err = tx.QueryRowContext(ctx, `
			SELECT price_minor, currency FROM items WHERE sku = $1
		`, line.SKU).Scan(&priceMinor, &currency)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				err = fmt.Errorf("%w: %s", domain.ErrItemNotFound, line.SKU)
				return domain.Order{}, err
			}
			err = fmt.Errorf("snapshot item price: %w", err)
			return domain.Order{}, err
		}

		if order.Currency == "" {
			order.Currency = currency
		} else if order.Currency != currency {
			err = domain.ErrCurrencyMismatch
			return domain.Order{}, err
		}

		var res sql.Result
		res, err = tx.ExecContext(ctx, `
			UPDATE items
			SET stock = stock - $2,
			    updated_at = $3
			WHERE sku = $1
			  AND stock >= $2
		`, line.SKU, line.Qty, now)
		if err != nil {
			err = fmt.Errorf("reserve stock: %w", err)
			return domain.Order{}, err
		}
		var affected int64
		affected, err = res.RowsAffected()
		if err != nil {
			err = fmt.Errorf("rows affected: %w", err)
			return domain.Order{}, err
		}
		if affected == 0 {
			err = domain.InsufficientStockFor(line.SKU)
			return domain.Order{}, err
		}

		order.Items = append(order.Items, domain.OrderItem{
			ID:         uuid.NewString(),
			SKU:        line.SKU,
			Qty:        line.Qty,
			PriceMinor: priceMinor,
			CreatedAt:  now,
		})
		order.AmountMinor += int64(line.Qty) * priceMinor
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO orders (
			id, buyer_id, status, currency, amount_minor, payment_method, payment_ref,
			ship_name, ship_email, ship_address, ship_city, ship_zip, ship_country,
			version, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)
	`,
		order.ID, order.BuyerID, string(order.Status), order.Currency, order.AmountMinor,
		string(order.Method), order.PaymentRef,
		order.Shipping.Name, order.Shipping.Email, order.Shipping.Address,
		order.Shipping.City, order.Shipping.Zip, order.Shipping.Country,
		order.Version, order.CreatedAt, order.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			err = domain.ErrOrderVersionConflict
			return domain.Order{}, err
		}
		err = fmt.Errorf("insert order: %w", err)
		return domain.Order{}, err
	}

	for _, item := range order.Items {
		if _, err = tx.ExecContext(ctx, `
			INSERT INTO order_items (id, order_id, sku, qty, price_minor, created_at)
			VALUES ($1,$2,$3,$4,$5,$6)
		`, item.ID, order.ID, item.SKU, item.Qty, item.PriceMinor, item.CreatedAt); err != nil {
			err = fmt.Errorf("insert order item: %w", err)
			return domain.Order{}, err
		}
	}

	if err = tx.Commit(); err != nil {
		return domain.Order{}, fmt.Errorf("commit create order: %w", err)
	}

	return order, nil
}

func (r *orderRepository) Get(id string) (domain.Order, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	order, err := r.scanOrder(r.db.QueryRowContext(ctx, selectOrderSQL+` WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Order{}, domain.ErrOrderNotFound
		}
		return domain.Order{}, fmt.Errorf("select order: %w", err)
	}

	items, err := r.loadItems(ctx, order.ID)
	if err != nil {
		return domain.Order{}, err
	}
	order.Items = items

	return order, nil
}

func (r *orderRepository) ListByBuyer(buyerID string, limit int) ([]domain.Order, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	query := selectOrderSQL + `
		WHERE buyer_id = $1
		ORDER BY created_at DESC, id DESC
	`

	var (
		rows *sql.Rows
		err  error
	)
	if limit > 0 {
		rows, err = r.db.QueryContext(ctx, query+" LIMIT $2", buyerID, limit)
	} else {
		rows, err = r.db.QueryContext(ctx, query, buyerID)
	}
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	defer rows.Close()

	return r.collectOrders(ctx, rows)
}

// MarkPaid — переход pending → paid одной предикатной записью. Повторный
// вызов (retry вебхука, гонка со sweeper) не находит pending-строку и
// возвращает false без побочных эффектов.
func (r *orderRepository) MarkPaid(id, paymentRef string) (bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	res, err := r.db.ExecContext(ctx, `
		UPDATE orders
		SET status = $2,
		    payment_ref = CASE WHEN payment_ref = '' THEN $3 ELSE payment_ref END,
		    version = version + 1,
		    updated_at = NOW()
		WHERE id = $1
		  AND status = $4
	`, id, string(domain.OrderStatusPaid), paymentRef, string(domain.OrderStatusPending))
	if err != nil {
		return false, fmt.Errorf("mark order paid: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}

	return affected > 0, nil
}

// CancelRestock отменяет pending-заказ и возвращает сток в одной транзакции.
// Возврат выполняется только если предикатный UPDATE статуса затронул
// строку, поэтому двойного возврата не бывает.
func (r *orderRepository) CancelRestock(id string) (bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin tx: %w", err)
	}

	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var res sql.Result
	res, err = tx.ExecContext(ctx, `
		UPDATE orders
		SET status = $2,
		    version = version + 1,
		    updated_at = NOW()
		WHERE id = $1
		  AND status = $3
	`, id, string(domain.OrderStatusCanceled), string(domain.OrderStatusPending))
	if err != nil {
		err = fmt.Errorf("cancel order: %w", err)
		return false, err
	}

	var affected int64
	affected, err = res.RowsAffected()
	if err != nil {
		err = fmt.Errorf("rows affected: %w", err)
		return false, err
	}
	if affected == 0 {
		_ = tx.Rollback()
		return false, nil
	}

	if _, err = tx.ExecContext(ctx, `
		UPDATE items
		SET stock = stock + oi.qty,
		    updated_at = NOW()
		FROM order_items oi
		WHERE oi.order_id = $1
		  AND items.sku = oi.sku
	`, id); err != nil {
		err = fmt.Errorf("restore stock: %w", err)
		return false, err
	}

	if err = tx.Commit(); err != nil {
		return false, fmt.Errorf("commit cancel order: %w", err)
	}

	return true, nil
}

func (r *orderRepository) AttachPaymentRef(id, paymentRef string) error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	res, err := r.db.ExecContext(ctx, `
		UPDATE orders
		SET payment_ref = $2,
		    updated_at = NOW()
		WHERE id = $1
	`, id, paymentRef)
	if err != nil {
		return fmt.Errorf("attach payment ref: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return domain.ErrOrderNotFound
	}

	return nil
}

func (r *orderRepository) ListAbandonedBefore(cutoff time.Time, limit int) ([]domain.Order, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	if limit <= 0 {
		limit = 100
	}

	rows, err := r.db.QueryContext(ctx, selectOrderSQL+`
		WHERE status = $1
		  AND payment_method = $2
		  AND created_at < $3
		ORDER BY created_at ASC
		LIMIT $4
	`, string(domain.OrderStatusPending), string(domain.PaymentMethodPayPal), cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("list abandoned orders: %w", err)
	}
	defer rows.Close()

	return r.collectOrders(ctx, rows)
}

const selectOrderSQL = `
	SELECT id, buyer_id, status, currency, amount_minor, payment_method, payment_ref,
	       ship_name, ship_email, ship_address, ship_city, ship_zip, ship_country,
	       version, created_at, updated_at
	FROM orders
`

type rowScanner interface {
	Scan(dest ...any) error
}

func (r *orderRepository) scanOrder(row rowScanner) (domain.Order, error) {
	var (
		order  domain.Order
		status string
		method string
	)
	err := row.Scan(
		&order.ID, &order.BuyerID, &status, &order.Currency, &order.AmountMinor,
		&method, &order.PaymentRef,
		&order.Shipping.Name, &order.Shipping.Email, &order.Shipping.Address,
		&order.Shipping.City, &order.Shipping.Zip, &order.Shipping.Country,
		&order.Version, &order.CreatedAt, &order.UpdatedAt,
	)
	if err != nil {
		return domain.Order{}, err
	}
	order.Status = domain.OrderStatus(status)
	order.Method = domain.PaymentMethod(method)
	return order, nil
}

func (r *orderRepository) collectOrders(ctx context.Context, rows *sql.Rows) ([]domain.Order, error) {
	orders := make([]domain.Order, 0)
	for rows.Next() {
		order, err := r.scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan order row: %w", err)
		}
		orders = append(orders, order)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate order rows: %w", err)
	}

	for i := range orders {
		items, err := r.loadItems(ctx, orders[i].ID)
		if err != nil {
			return nil, err
		}
		orders[i].Items = items
	}

	return orders, nil
}

func (r *orderRepository) loadItems(ctx context.Context, orderID string) ([]domain.OrderItem, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, sku, qty, price_minor, created_at
		FROM order_items
		WHERE order_id = $1
		ORDER BY created_at ASC, id ASC
	`, orderID)
	if err != nil {
		return nil, fmt.Errorf("load order items: %w", err)
	}
	defer rows.Close()

	items := make([]domain.OrderItem, 0)
	for rows.Next() {
		var item domain.OrderItem
		if err := rows.Scan(&item.ID, &item.SKU, &item.Qty, &item.PriceMinor, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan order item: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate order items: %w", err)
	}

	return items, nil
}

var _ domain.OrderRepository = (*orderRepository)(nil)
