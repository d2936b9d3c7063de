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

type productRepository struct {
	db *sql.DB
}

// NewProductRepository creates a new ProductRepository backed by Postgres.
func NewProductRepository(db *sql.DB) repository.ProductRepository {
	return &productRepository{db: db}
}

func (r *productRepository) Create(ctx context.Context, p *entity.Product) error {
	price, err := repository.CatalogPrice(p.Price)
	if err != nil {
		return fmt.Errorf("failed to insert product %s: %w", p.SKU, err)
	}
	p.Price = price

	err = r.db.QueryRowContext(ctx,
		`INSERT INTO products (name, sku, price, quantity, low_stock_threshold)
		 VALUES ($1, $2, $3, $4, $5) RETURNING id, created_at, updated_at`,
		p.Name, p.SKU, p.Price, p.Quantity, p.LowStockThreshold,
	).Scan(&p.ID, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert product %s: %w", p.SKU, err)
	}
	return nil
}

func (r *productRepository) FindByID(ctx context.Context, id int64) (*entity.Product, error) {
	row := r.db.QueryRowContext(ctx,
		"SELECT "+productColumns+" FROM products WHERE id = $1 AND deleted_at IS NULL",
		id,
	)
	p, err := scanProduct(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query product %d: %w", id, err)
	}
	return p, nil
}

func (r *productRepository) FindAll(ctx context.Context) ([]entity.Product, error) {
	return r.query(ctx, "SELECT "+productColumns+" FROM products WHERE deleted_at IS NULL ORDER BY name")
}

func (r *productRepository) FindLowStock(ctx context.Context, defaultThreshold int) ([]entity.Product, error) {
	return r.query(ctx,
		"SELECT "+productColumns+` FROM products
		 WHERE deleted_at IS NULL AND quantity > 0 AND quantity <= COALESCE(low_stock_threshold, $1)
		 ORDER BY quantity, name`,
		defaultThreshold,
	)
}

func (r *productRepository) query(ctx context.Context, q string, args ...any) ([]entity.Product, error) {
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query products: %w", err)
	}
	defer rows.Close()

	var products []entity.Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan product: %w", err)
		}
		products = append(products, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate products: %w", err)
	}
	return products, nil
}

func (r *productRepository) UpdatePrice(ctx context.Context, id int64, price decimal.Decimal) error {
	price, err := repository.CatalogPrice(price)
	if err != nil {
		return fmt.Errorf("failed to update price of product %d: %w", id, err)
	}
	res, err := r.db.ExecContext(ctx,
		"UPDATE products SET price = $1, updated_at = NOW() WHERE id = $2 AND deleted_at IS NULL",
		price, id,
	)
	if err != nil {
		return fmt.Errorf("failed to update price of product %d: %w", id, classify(err))
	}
	return expectOneRow(res, id)
}

func (r *productRepository) Delete(ctx context.Context, id int64) error {
	// UPDATE takes the row lock, so this waits for in-flight placements.
	res, err := r.db.ExecContext(ctx,
		"UPDATE products SET deleted_at = NOW(), updated_at = NOW() WHERE id = $1 AND deleted_at IS NULL",
		id,
	)
	if err != nil {
		return fmt.Errorf("failed to delete product %d: %w", id, classify(err))
	}
	return expectOneRow(res, id)
}

func expectOneRow(res sql.Result, id int64) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows for product %d: %w", id, err)
	}
	if n == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func (r *productRepository) Seed(ctx context.Context, products []entity.Product) error {
	var count int
	err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM products").Scan(&count)
	if err != nil {
		return fmt.Errorf("failed to count products: %w", err)
	}
	if count > 0 {
		return nil // already seeded
	}

	for i := range products {
		if err := r.Create(ctx, &products[i]); err != nil {
			return fmt.Errorf("failed to seed product: %w", err)
		}
	}
	return nil
}
