package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/egannguyen/stockledger/internal/entity"
	"github.com/egannguyen/stockledger/internal/repository"
)

type store struct {
	db          *sql.DB
	lockTimeout time.Duration
}

// NewStore creates a Store backed by Postgres. A lock wait longer than
// lockTimeout fails with repository.ErrLockConflict; zero waits forever.
func NewStore(db *sql.DB, lockTimeout time.Duration) repository.Store {
	return &store{db: db, lockTimeout: lockTimeout}
}

func (s *store) WithinTx(ctx context.Context, fn func(ctx context.Context, tx repository.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if s.lockTimeout > 0 {
		// SET does not take bind parameters.
		stmt := fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", s.lockTimeout.Milliseconds())
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to set lock timeout: %w", err)
		}
	}

	if err := fn(ctx, &pgTx{tx: tx}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", classify(err))
	}
	return nil
}

type pgTx struct {
	tx *sql.Tx
}

const productColumns = "id, name, sku, price, quantity, low_stock_threshold, created_at, updated_at"

type scanner interface {
	Scan(dest ...any) error
}

func scanProduct(row scanner) (*entity.Product, error) {
	var (
		p         entity.Product
		threshold sql.NullInt32
	)
	if err := row.Scan(&p.ID, &p.Name, &p.SKU, &p.Price, &p.Quantity, &threshold, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	if threshold.Valid {
		t := int(threshold.Int32)
		p.LowStockThreshold = &t
	}
	return &p, nil
}

func (t *pgTx) FindProductForUpdate(ctx context.Context, id int64) (*entity.Product, error) {
	row := t.tx.QueryRowContext(ctx,
		"SELECT "+productColumns+" FROM products WHERE id = $1 AND deleted_at IS NULL FOR UPDATE",
		id,
	)
	p, err := scanProduct(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock product %d: %w", id, classify(err))
	}
	return p, nil
}

func (t *pgTx) SaveProduct(ctx context.Context, p *entity.Product) error {
	err := t.tx.QueryRowContext(ctx,
		"UPDATE products SET quantity = $1, updated_at = NOW() WHERE id = $2 RETURNING updated_at",
		p.Quantity, p.ID,
	).Scan(&p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return repository.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to update product stock: %w", classify(err))
	}
	return nil
}

func (t *pgTx) CreateOrder(ctx context.Context, o *entity.Order) error {
	email := sql.NullString{String: o.CustomerEmail, Valid: o.CustomerEmail != ""}
	err := t.tx.QueryRowContext(ctx,
		`INSERT INTO orders (user_id, customer_name, customer_email, total_amount, payment_method, payment_status, status)
		 VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING id, created_at`,
		o.UserID, o.CustomerName, email, o.TotalAmount, string(o.PaymentMethod), string(o.PaymentStatus), string(o.Status),
	).Scan(&o.ID, &o.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert order: %w", classify(err))
	}
	return nil
}

func (t *pgTx) CreateOrderItem(ctx context.Context, orderID int64, item *entity.OrderItem) error {
	err := t.tx.QueryRowContext(ctx,
		`INSERT INTO order_items (order_id, product_id, quantity, unit_price, total_price)
		 VALUES ($1, $2, $3, $4, $5) RETURNING id`,
		orderID, item.ProductID, item.Quantity, item.UnitPrice, item.TotalPrice,
	).Scan(&item.ID)
	if err != nil {
		return fmt.Errorf("failed to insert order item: %w", classify(err))
	}
	item.OrderID = orderID
	return nil
}

func (t *pgTx) AppendStockMovement(ctx context.Context, m *entity.StockMovement) error {
	return insertMovement(ctx, t.tx, m)
}
