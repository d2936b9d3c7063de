package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/egannguyen/stockledger/internal/entity"
	"github.com/egannguyen/stockledger/internal/idempotency"
	"github.com/egannguyen/stockledger/internal/invoice"
	"github.com/egannguyen/stockledger/internal/messaging"
	"github.com/egannguyen/stockledger/internal/metrics"
	"github.com/egannguyen/stockledger/internal/repository"
)

const defaultRecentOrders = 50

// OrderService places orders against locked stock and renders invoices.
// It holds no per-call state and is safe for concurrent use.
type OrderService struct {
	store       repository.Store
	orderRepo   repository.OrderRepository
	publisher   messaging.Publisher
	renderer    invoice.Renderer
	idempotency idempotency.Store
	metrics     *metrics.Metrics
	topics      Topics
	alerter     *stockAlerter
}

func NewOrderService(
	store repository.Store,
	orderRepo repository.OrderRepository,
	publisher messaging.Publisher,
	renderer invoice.Renderer,
	opts Options,
) *OrderService {
	opts = opts.withDefaults()
	return &OrderService{
		store:       store,
		orderRepo:   orderRepo,
		publisher:   publisher,
		renderer:    renderer,
		idempotency: opts.Idempotency,
		metrics:     opts.Metrics,
		topics:      opts.Topics,
		alerter: &stockAlerter{
			publisher:        publisher,
			topic:            opts.Topics.LowStock,
			defaultThreshold: opts.LowStockThreshold,
			metrics:          opts.Metrics,
		},
	}
}

// PlaceOrder validates req, locks and deducts stock for every line, and
// persists the order with price snapshots in one transaction. placedBy may be nil.
func (s *OrderService) PlaceOrder(ctx context.Context, req *entity.OrderRequest, placedBy *int64) (*entity.Order, error) {
	start := time.Now()
	order, touched, err := s.placeOrder(ctx, req, placedBy)
	s.metrics.PlacementTime.Observe(time.Since(start).Seconds())
	s.metrics.OrdersPlaced.WithLabelValues(resultLabel(err)).Inc()

	if err != nil {
		switch entity.KindOf(err) {
		case entity.KindTransactionFailure:
			slog.Error("Order placement failed", "err", err)
		default:
			slog.Warn("Order rejected", "kind", entity.KindOf(err).String(), "err", err)
		}
		return nil, err
	}

	slog.Info("Order placed", "order_id", order.ID, "items", len(order.Items), "total", order.TotalAmount.StringFixed(2))
	s.afterCommit(context.WithoutCancel(ctx), order, touched)
	return order, nil
}

func (s *OrderService) placeOrder(ctx context.Context, req *entity.OrderRequest, placedBy *int64) (*entity.Order, []entity.Product, error) {
	if err := req.Validate(); err != nil {
		return nil, nil, err
	}

	var (
		order   *entity.Order
		touched []entity.Product
	)
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		o := &entity.Order{
			UserID:        placedBy,
			CustomerName:  req.CustomerName,
			CustomerEmail: req.CustomerEmail,
			TotalAmount:   decimal.Zero,
			PaymentMethod: req.PaymentMethod,
			PaymentStatus: entity.PaymentPending,
			Status:        entity.OrderPending,
		}
		items := make([]entity.OrderItem, 0, len(req.Items))
		movements := make([]entity.StockMovement, 0, len(req.Items))
		final := make(map[int64]int)
		var products []entity.Product

		for _, line := range req.Items {
			p, err := tx.FindProductForUpdate(ctx, line.ProductID)
			if errors.Is(err, repository.ErrNotFound) {
				return entity.NewProductNotFound(line.ProductID)
			}
			if err != nil {
				return err
			}
			if line.Quantity > p.Quantity {
				return entity.NewInsufficientStock(p, line.Quantity)
			}

			prev := p.Quantity
			p.Quantity -= line.Quantity
			if err := tx.SaveProduct(ctx, p); err != nil {
				return err
			}

			// Price is read under the lock and held to cents.
			unitPrice := p.Price.Round(2)
			lineTotal := unitPrice.Mul(decimal.NewFromInt(int64(line.Quantity)))
			o.TotalAmount = o.TotalAmount.Add(lineTotal)

			snapshot := *p
			items = append(items, entity.OrderItem{
				ProductID:  p.ID,
				Quantity:   line.Quantity,
				UnitPrice:  unitPrice,
				TotalPrice: lineTotal,
				Product:    &snapshot,
			})
			movements = append(movements, entity.StockMovement{
				ProductID: p.ID,
				Kind:      entity.MovementSale,
				Quantity:  -line.Quantity,
				PrevStock: prev,
				NewStock:  p.Quantity,
			})

			if i, ok := final[p.ID]; ok {
				products[i] = snapshot
			} else {
				final[p.ID] = len(products)
				products = append(products, snapshot)
			}
		}

		if err := tx.CreateOrder(ctx, o); err != nil {
			return err
		}
		for i := range items {
			if err := tx.CreateOrderItem(ctx, o.ID, &items[i]); err != nil {
				return err
			}
		}
		for i := range movements {
			orderID := o.ID
			movements[i].OrderID = &orderID
			movements[i].Reason = fmt.Sprintf("order #%d", o.ID)
			if err := tx.AppendStockMovement(ctx, &movements[i]); err != nil {
				return err
			}
		}

		o.Items = items
		order = o
		touched = products
		return nil
	})
	if err != nil {
		return nil, nil, asOrderError(err)
	}
	return order, touched, nil
}

// afterCommit records metrics and publishes events. Nothing here can undo
// the committed order.
func (s *OrderService) afterCommit(ctx context.Context, order *entity.Order, touched []entity.Product) {
	units := 0
	for _, item := range order.Items {
		units += item.Quantity
	}
	s.metrics.UnitsDeducted.Add(float64(units))

	event := entity.NewOrderPlaced(order)
	if err := s.publisher.PublishEvent(ctx, s.topics.OrdersPlaced, strconv.FormatInt(order.ID, 10), event); err != nil {
		slog.Error("Failed to publish OrderPlaced", "order_id", order.ID, "err", err)
	}

	s.alerter.checkAll(ctx, touched)
}

// PlaceOrderOnce places an order at most once per key. A repeated key returns
// the stored order with replayed=true. A key that comes back with a different
// request is a validation error. An empty key places unconditionally.
func (s *OrderService) PlaceOrderOnce(ctx context.Context, key string, req *entity.OrderRequest, placedBy *int64) (order *entity.Order, replayed bool, err error) {
	if key == "" || s.idempotency == nil {
		order, err = s.PlaceOrder(ctx, req, placedBy)
		return order, false, err
	}

	fp, err := requestFingerprint(req, placedBy)
	if err != nil {
		return nil, false, err
	}
	orderID, done, err := s.idempotency.Begin(ctx, key, fp)
	if errors.Is(err, idempotency.ErrKeyReused) {
		slog.Warn("Idempotency key reused with a different request", "key", key)
		return nil, false, &entity.OrderError{Kind: entity.KindValidation, Detail: err.Error(), Err: err}
	}
	if err != nil {
		return nil, false, err
	}
	if done {
		existing, lerr := s.orderRepo.FindWithItemsAndProducts(ctx, orderID)
		if lerr != nil {
			return nil, false, fmt.Errorf("failed to load order for idempotency key: %w", lerr)
		}
		slog.Info("Order replayed (idempotency)", "order_id", orderID)
		return existing, true, nil
	}

	order, err = s.PlaceOrder(ctx, req, placedBy)
	bg := context.WithoutCancel(ctx)
	if err != nil {
		if rerr := s.idempotency.Release(bg, key); rerr != nil {
			slog.Error("Failed to release idempotency key", "err", rerr)
		}
		return nil, false, err
	}
	if cerr := s.idempotency.Complete(bg, key, fp, order.ID); cerr != nil {
		slog.Error("Failed to store idempotency result", "order_id", order.ID, "err", cerr)
	}
	return order, false, nil
}

// requestFingerprint identifies what a key was first used for.
func requestFingerprint(req *entity.OrderRequest, placedBy *int64) (string, error) {
	return idempotency.Fingerprint(struct {
		Request  *entity.OrderRequest `json:"request"`
		PlacedBy *int64               `json:"placed_by"`
	}{req, placedBy})
}

// GenerateInvoice loads the order with its items and products and renders it.
// Items whose product was deleted render with a placeholder name.
func (s *OrderService) GenerateInvoice(ctx context.Context, orderID int64) (*invoice.View, error) {
	order, err := s.orderRepo.FindWithItemsAndProducts(ctx, orderID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, entity.NewOrderNotFound(orderID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load order %d: %w", orderID, err)
	}

	view, err := s.renderer.Render(order)
	if err != nil {
		return nil, fmt.Errorf("failed to render invoice for order %d: %w", orderID, err)
	}
	return view, nil
}

// RecentOrders returns the latest orders.
func (s *OrderService) RecentOrders(ctx context.Context, limit int) ([]entity.Order, error) {
	if limit <= 0 {
		limit = defaultRecentOrders
	}
	return s.orderRepo.FindRecent(ctx, limit)
}

// asOrderError keeps domain errors and wraps anything else as a transaction failure.
func asOrderError(err error) error {
	var oe *entity.OrderError
	if errors.As(err, &oe) {
		return err
	}
	return entity.NewTransactionFailure(err)
}

func resultLabel(err error) string {
	switch entity.KindOf(err) {
	case entity.KindUnknown:
		if err == nil {
			return metrics.ResultSuccess
		}
		return metrics.ResultFailure
	case entity.KindInsufficientStock:
		return metrics.ResultInsufficientStock
	case entity.KindProductNotFound:
		return metrics.ResultProductNotFound
	case entity.KindValidation:
		return metrics.ResultValidation
	default:
		return metrics.ResultFailure
	}
}
