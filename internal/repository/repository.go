package repository

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"

	"github.com/egannguyen/stockledger/internal/entity"
)

var (
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrLockConflict is returned when a row lock could not be acquired:
	// lock wait timeout, deadlock or serialization failure.
	ErrLockConflict = errors.New("lock conflict")
	// ErrNegativePrice is returned when a product is stored with a price below zero.
	ErrNegativePrice = errors.New("price must not be negative")
)

// CatalogPrice rounds price to cents, the precision the products table keeps.
func CatalogPrice(price decimal.Decimal) (decimal.Decimal, error) {
	if price.IsNegative() {
		return decimal.Zero, ErrNegativePrice
	}
	return price.Round(2), nil
}

// Store opens units of work over the catalog and order tables.
type Store interface {
	// WithinTx runs fn inside one transaction. It commits if fn returns nil
	// and rolls back on any error or panic.
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

// Tx is the set of writes allowed inside a unit of work.
type Tx interface {
	// FindProductForUpdate loads a product and holds its row lock until the
	// transaction ends. Locking the same product twice is a no-op.
	FindProductForUpdate(ctx context.Context, id int64) (*entity.Product, error)
	SaveProduct(ctx context.Context, p *entity.Product) error
	// CreateOrder inserts the order and sets its ID and CreatedAt.
	CreateOrder(ctx context.Context, o *entity.Order) error
	// CreateOrderItem inserts an item under orderID and sets its ID and OrderID.
	CreateOrderItem(ctx context.Context, orderID int64, item *entity.OrderItem) error
	AppendStockMovement(ctx context.Context, m *entity.StockMovement) error
}

// ProductRepository handles persistence for Products outside of order placement.
type ProductRepository interface {
	Create(ctx context.Context, p *entity.Product) error
	FindByID(ctx context.Context, id int64) (*entity.Product, error)
	FindAll(ctx context.Context) ([]entity.Product, error)
	// UpdatePrice changes the catalog price. Orders keep their snapshot.
	UpdatePrice(ctx context.Context, id int64, price decimal.Decimal) error
	// Delete soft-deletes a product. It waits for the product's row lock.
	Delete(ctx context.Context, id int64) error
	// FindLowStock returns products with 0 < quantity <= threshold, where the
	// threshold is the product's own or defaultThreshold.
	FindLowStock(ctx context.Context, defaultThreshold int) ([]entity.Product, error)
	// Seed inserts initial products if none exist.
	Seed(ctx context.Context, products []entity.Product) error
}

// OrderRepository handles reads of committed Orders.
type OrderRepository interface {
	// FindWithItemsAndProducts loads an order, its items and each item's
	// product. Items whose product is gone have a nil Product.
	FindWithItemsAndProducts(ctx context.Context, id int64) (*entity.Order, error)
	FindRecent(ctx context.Context, limit int) ([]entity.Order, error)
}

// StockMovementRepository reads a product's stock ledger.
type StockMovementRepository interface {
	LoadMovements(ctx context.Context, productID int64) ([]entity.StockMovement, error)
}
