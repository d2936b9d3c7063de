package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/egannguyen/stockledger/internal/entity"
	"github.com/egannguyen/stockledger/internal/repository"
)

type orderRepository struct {
	db *sql.DB
}

// NewOrderRepository creates a new OrderRepository backed by Postgres.
func NewOrderRepository(db *sql.DB) repository.OrderRepository {
	return &orderRepository{db: db}
}

const orderColumns = "id, user_id, customer_name, customer_email, total_amount, payment_method, payment_status, status, created_at"

func scanOrder(row scanner) (*entity.Order, error) {
	var (
		o      entity.Order
		userID sql.NullInt64
		email  sql.NullString
	)
	err := row.Scan(&o.ID, &userID, &o.CustomerName, &email, &o.TotalAmount,
		&o.PaymentMethod, &o.PaymentStatus, &o.Status, &o.CreatedAt)
	if err != nil {
		return nil, err
	}
	if userID.Valid {
		id := userID.Int64
		o.UserID = &id
	}
	o.CustomerEmail = email.String
	return &o, nil
}

func (r *orderRepository) FindWithItemsAndProducts(ctx context.Context, id int64) (*entity.Order, error) {
	row := r.db.QueryRowContext(ctx, "SELECT "+orderColumns+" FROM orders WHERE id = $1", id)
	o, err := scanOrder(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query order %d: %w", id, err)
	}

	o.Items, err = r.loadItems(ctx, o.ID)
	if err != nil {
		return nil, err
	}
	return o, nil
}

func (r *orderRepository) FindRecent(ctx context.Context, limit int) ([]entity.Order, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT "+orderColumns+" FROM orders ORDER BY created_at DESC, id DESC LIMIT $1",
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query orders: %w", err)
	}
	defer rows.Close()

	var orders []entity.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan order: %w", err)
		}
		orders = append(orders, *o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate orders: %w", err)
	}

	// Fetch items for each order
	for i := range orders {
		orders[i].Items, err = r.loadItems(ctx, orders[i].ID)
		if err != nil {
			return nil, err
		}
	}
	return orders, nil
}

// loadItems returns an order's items in insertion order. The product join
// skips deleted products, leaving Product nil.
func (r *orderRepository) loadItems(ctx context.Context, orderID int64) ([]entity.OrderItem, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT oi.id, oi.order_id, oi.product_id, oi.quantity, oi.unit_price, oi.total_price,
		        p.id, p.name, p.sku, p.price, p.quantity, p.low_stock_threshold, p.created_at, p.updated_at
		 FROM order_items oi
		 LEFT JOIN products p ON p.id = oi.product_id AND p.deleted_at IS NULL
		 WHERE oi.order_id = $1
		 ORDER BY oi.id`,
		orderID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query order items: %w", err)
	}
	defer rows.Close()

	var items []entity.OrderItem
	for rows.Next() {
		var (
			item     entity.OrderItem
			pID      sql.NullInt64
			pName    sql.NullString
			pSKU     sql.NullString
			pPrice   decimal.NullDecimal
			pQty     sql.NullInt32
			pThresh  sql.NullInt32
			pCreated sql.NullTime
			pUpdated sql.NullTime
		)
		err := rows.Scan(&item.ID, &item.OrderID, &item.ProductID, &item.Quantity, &item.UnitPrice, &item.TotalPrice,
			&pID, &pName, &pSKU, &pPrice, &pQty, &pThresh, &pCreated, &pUpdated)
		if err != nil {
			return nil, fmt.Errorf("failed to scan order item: %w", err)
		}
		if pID.Valid {
			item.Product = &entity.Product{
				ID:        pID.Int64,
				Name:      pName.String,
				SKU:       pSKU.String,
				Price:     pPrice.Decimal,
				Quantity:  int(pQty.Int32),
				CreatedAt: pCreated.Time,
				UpdatedAt: pUpdated.Time,
			}
			if pThresh.Valid {
				t := int(pThresh.Int32)
				item.Product.LowStockThreshold = &t
			}
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate order items: %w", err)
	}
	return items, nil
}
