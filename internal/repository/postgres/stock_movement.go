package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/egannguyen/stockledger/internal/entity"
	"github.com/egannguyen/stockledger/internal/repository"
)

type stockMovementRepository struct {
	db *sql.DB
}

// NewStockMovementRepository creates a StockMovementRepository backed by Postgres.
func NewStockMovementRepository(db *sql.DB) repository.StockMovementRepository {
	return &stockMovementRepository{db: db}
}

func insertMovement(ctx context.Context, tx *sql.Tx, m *entity.StockMovement) error {
	err := tx.QueryRowContext(ctx,
		`INSERT INTO stock_movements (product_id, order_id, kind, quantity, prev_stock, new_stock, reason)
		 VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING id, created_at`,
		m.ProductID, m.OrderID, string(m.Kind), m.Quantity, m.PrevStock, m.NewStock, m.Reason,
	).Scan(&m.ID, &m.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to append stock movement for product %d: %w", m.ProductID, classify(err))
	}
	return nil
}

func (r *stockMovementRepository) LoadMovements(ctx context.Context, productID int64) ([]entity.StockMovement, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, product_id, order_id, kind, quantity, prev_stock, new_stock, reason, created_at
		 FROM stock_movements WHERE product_id = $1 ORDER BY id ASC`,
		productID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query stock movements: %w", err)
	}
	defer rows.Close()

	var movements []entity.StockMovement
	for rows.Next() {
		var (
			m       entity.StockMovement
			orderID sql.NullInt64
		)
		if err := rows.Scan(&m.ID, &m.ProductID, &orderID, &m.Kind, &m.Quantity, &m.PrevStock, &m.NewStock, &m.Reason, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan stock movement: %w", err)
		}
		if orderID.Valid {
			id := orderID.Int64
			m.OrderID = &id
		}
		movements = append(movements, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate stock movements: %w", err)
	}
	return movements, nil
}
