package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/egannguyen/stockledger/internal/entity"
	"github.com/egannguyen/stockledger/internal/messaging"
	"github.com/egannguyen/stockledger/internal/repository"
)

// InventoryService manages stock outside of order placement.
type InventoryService struct {
	store     repository.Store
	products  repository.ProductRepository
	movements repository.StockMovementRepository
	alerter   *stockAlerter
}

func NewInventoryService(
	store repository.Store,
	products repository.ProductRepository,
	movements repository.StockMovementRepository,
	publisher messaging.Publisher,
	opts Options,
) *InventoryService {
	opts = opts.withDefaults()
	return &InventoryService{
		store:     store,
		products:  products,
		movements: movements,
		alerter: &stockAlerter{
			publisher:        publisher,
			topic:            opts.Topics.LowStock,
			defaultThreshold: opts.LowStockThreshold,
			metrics:          opts.Metrics,
		},
	}
}

// ListProducts returns the catalog.
func (s *InventoryService) ListProducts(ctx context.Context) ([]entity.Product, error) {
	return s.products.FindAll(ctx)
}

// ChangePrice sets a product's catalog price. Existing orders keep the price
// they were placed at.
func (s *InventoryService) ChangePrice(ctx context.Context, productID int64, price decimal.Decimal) error {
	if price.IsNegative() {
		return entity.NewValidationError("price must not be negative")
	}
	err := s.products.UpdatePrice(ctx, productID, price.Round(2))
	if errors.Is(err, repository.ErrNotFound) {
		return entity.NewProductNotFound(productID)
	}
	if err != nil {
		return asOrderError(err)
	}
	slog.Info("Price changed", "product_id", productID, "price", price.StringFixed(2))
	return nil
}

// DiscontinueProduct soft-deletes a product once in-flight orders release it.
// Order items keep their product id.
func (s *InventoryService) DiscontinueProduct(ctx context.Context, productID int64) error {
	err := s.products.Delete(ctx, productID)
	if errors.Is(err, repository.ErrNotFound) {
		return entity.NewProductNotFound(productID)
	}
	if err != nil {
		return asOrderError(err)
	}
	slog.Info("Product discontinued", "product_id", productID)
	return nil
}

// AdjustStock restocks or sets a product's quantity under its row lock and
// records the movement.
func (s *InventoryService) AdjustStock(ctx context.Context, productID int64, adj entity.StockAdjustment) (*entity.StockMovement, error) {
	if err := adj.Validate(); err != nil {
		return nil, err
	}

	var (
		movement *entity.StockMovement
		product  entity.Product
	)
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		p, err := tx.FindProductForUpdate(ctx, productID)
		if errors.Is(err, repository.ErrNotFound) {
			return entity.NewProductNotFound(productID)
		}
		if err != nil {
			return err
		}

		m := &entity.StockMovement{ProductID: p.ID, PrevStock: p.Quantity, Reason: adj.Reason}
		switch adj.Kind {
		case entity.AdjustRestock:
			m.Kind = entity.MovementRestock
			m.NewStock = p.Quantity + adj.Quantity
		case entity.AdjustAbsolute:
			m.Kind = entity.MovementAdjustment
			m.NewStock = adj.Quantity
		}
		if m.NewStock < 0 {
			return entity.NewValidationError(fmt.Sprintf("stock for product %d cannot go below zero", p.ID))
		}
		m.Quantity = m.NewStock - m.PrevStock

		p.Quantity = m.NewStock
		if err := tx.SaveProduct(ctx, p); err != nil {
			return err
		}
		if err := tx.AppendStockMovement(ctx, m); err != nil {
			return err
		}
		movement = m
		product = *p
		return nil
	})
	if err != nil {
		return nil, asOrderError(err)
	}

	slog.Info("Stock adjusted", "product_id", productID, "kind", movement.Kind, "prev", movement.PrevStock, "new", movement.NewStock)
	s.alerter.checkAll(context.WithoutCancel(ctx), []entity.Product{product})
	return movement, nil
}

// StockHistory replays a product's movements into a verified ledger.
func (s *InventoryService) StockHistory(ctx context.Context, productID int64) (*entity.StockLedger, error) {
	p, err := s.products.FindByID(ctx, productID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, entity.NewProductNotFound(productID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load product %d: %w", productID, err)
	}

	movements, err := s.movements.LoadMovements(ctx, productID)
	if err != nil {
		return nil, fmt.Errorf("failed to load stock movements: %w", err)
	}

	ledger := entity.NewStockLedger(productID)
	if err := ledger.Rehydrate(movements); err != nil {
		return nil, fmt.Errorf("stock ledger for product %d is inconsistent: %w", productID, err)
	}
	if ledger.GetVersion() == 0 {
		ledger.OpeningStock = p.Quantity
		ledger.CurrentStock = p.Quantity
	}
	return ledger, nil
}

// CheckLevels publishes a LowStockDetected for every product with
// 0 < quantity <= threshold.
func (s *InventoryService) CheckLevels(ctx context.Context) ([]entity.LowStockDetected, error) {
	products, err := s.products.FindLowStock(ctx, s.alerter.defaultThreshold)
	if err != nil {
		return nil, fmt.Errorf("failed to find low stock products: %w", err)
	}
	alerts := s.alerter.checkAll(ctx, products)
	slog.Info("Low stock check complete", "alerts", len(alerts))
	return alerts, nil
}
