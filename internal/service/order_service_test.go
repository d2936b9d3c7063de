package service

import (
	"context"
	"encoding/json"
	"errors"
	"math/rand/v2"
	"sort"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/egannguyen/stockledger/internal/entity"
	"github.com/egannguyen/stockledger/internal/idempotency"
	"github.com/egannguyen/stockledger/internal/invoice"
	"github.com/egannguyen/stockledger/internal/metrics"
	"github.com/egannguyen/stockledger/internal/repository"
)

func TestPlaceOrder_DeductsStockAndSnapshotsPrice(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, time.Second)
	laptop := h.product(t, "Laptop", "1000.00", 10)
	userID := int64(77)

	order, err := h.orders.PlaceOrder(ctx, orderFor(line(laptop.ID, 2)), &userID)
	require.NoError(t, err)

	assert.NotZero(t, order.ID)
	assert.Equal(t, "2000.00", order.TotalAmount.StringFixed(2))
	assert.Equal(t, entity.PaymentPending, order.PaymentStatus)
	assert.Equal(t, entity.OrderPending, order.Status)
	assert.Equal(t, entity.PaymentCashOnDelivery, order.PaymentMethod)
	require.NotNil(t, order.UserID)
	assert.Equal(t, userID, *order.UserID)
	require.Len(t, order.Items, 1)
	assert.Equal(t, order.ID, order.Items[0].OrderID)
	assert.Equal(t, "1000.00", order.Items[0].UnitPrice.StringFixed(2))
	assert.Equal(t, "2000.00", order.Items[0].TotalPrice.StringFixed(2))

	assert.Equal(t, 8, h.stock(t, laptop.ID))

	events := h.publisher.onTopic("orders.placed")
	require.Len(t, events, 1)
	assert.Equal(t, strconv.FormatInt(order.ID, 10), events[0].key)
	placed, ok := events[0].event.(entity.OrderPlaced)
	require.True(t, ok)
	assert.Equal(t, order.ID, placed.OrderID)
	assert.True(t, placed.TotalAmount.Equal(decimal.NewFromInt(2000)))

	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.OrdersPlaced.WithLabelValues(metrics.ResultSuccess)))
	assert.Equal(t, 2.0, testutil.ToFloat64(h.metrics.UnitsDeducted))
}

func TestPlaceOrder_InsufficientStockLeavesNoTrace(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, time.Second)
	laptop := h.product(t, "Laptop", "1000.00", 1)

	order, err := h.orders.PlaceOrder(ctx, orderFor(line(laptop.ID, 2)), nil)
	require.Error(t, err)
	assert.Nil(t, order)
	assert.ErrorIs(t, err, entity.ErrInsufficientStock)
	assert.EqualError(t, err, "insufficient stock for product 'Laptop': available 1, requested 2")

	var oe *entity.OrderError
	require.True(t, errors.As(err, &oe))
	assert.Equal(t, laptop.ID, oe.ProductID)
	assert.Equal(t, 1, oe.Available)
	assert.Equal(t, 2, oe.Requested)

	assert.Equal(t, 1, h.stock(t, laptop.ID))
	orders, err := h.orders.RecentOrders(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, orders)
	assert.Empty(t, h.publisher.onTopic("orders.placed"))
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.OrdersPlaced.WithLabelValues(metrics.ResultInsufficientStock)))
}

func TestPlaceOrder_DuplicateLinesStaySeparate(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, 50*time.Millisecond)
	laptop := h.product(t, "Laptop", "1000.00", 10)

	order, err := h.orders.PlaceOrder(ctx, orderFor(line(laptop.ID, 3), line(laptop.ID, 4)), nil)
	require.NoError(t, err)

	require.Len(t, order.Items, 2)
	assert.Equal(t, 3, order.Items[0].Quantity)
	assert.Equal(t, 4, order.Items[1].Quantity)
	assert.Equal(t, "7000.00", order.TotalAmount.StringFixed(2))
	assert.Equal(t, 3, h.stock(t, laptop.ID))

	ledger, err := h.inventory.StockHistory(ctx, laptop.ID)
	require.NoError(t, err)
	require.Len(t, ledger.Movements, 2)
	assert.Equal(t, 10, ledger.Movements[0].PrevStock)
	assert.Equal(t, 7, ledger.Movements[0].NewStock)
	assert.Equal(t, 7, ledger.Movements[1].PrevStock)
	assert.Equal(t, 3, ledger.Movements[1].NewStock)
	assert.Equal(t, 7, ledger.Sold)
	require.NotNil(t, ledger.Movements[0].OrderID)
	assert.Equal(t, order.ID, *ledger.Movements[0].OrderID)
}

func TestPlaceOrder_RollsBackEarlierLines(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, time.Second)
	keyboard := h.product(t, "Keyboard", "50.00", 5)
	mouse := h.product(t, "Mouse", "20.00", 1)

	_, err := h.orders.PlaceOrder(ctx, orderFor(line(keyboard.ID, 2), line(mouse.ID, 5)), nil)
	assert.ErrorIs(t, err, entity.ErrInsufficientStock)

	assert.Equal(t, 5, h.stock(t, keyboard.ID))
	assert.Equal(t, 1, h.stock(t, mouse.ID))

	movements, err := h.store.LoadMovements(ctx, keyboard.ID)
	require.NoError(t, err)
	assert.Empty(t, movements)
}

func TestPlaceOrder_ProductNotFound(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, time.Second)
	keyboard := h.product(t, "Keyboard", "50.00", 5)

	_, err := h.orders.PlaceOrder(ctx, orderFor(line(keyboard.ID, 1), line(999, 1)), nil)
	assert.ErrorIs(t, err, entity.ErrProductNotFound)
	assert.EqualError(t, err, "product 999 not found")
	assert.Equal(t, 5, h.stock(t, keyboard.ID))

	require.NoError(t, h.inventory.DiscontinueProduct(ctx, keyboard.ID))
	_, err = h.orders.PlaceOrder(ctx, orderFor(line(keyboard.ID, 1)), nil)
	assert.ErrorIs(t, err, entity.ErrProductNotFound)
}

func TestPlaceOrder_ValidationHasNoSideEffects(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, time.Second)
	laptop := h.product(t, "Laptop", "1000.00", 10)

	req := orderFor(line(laptop.ID, 1))
	req.PaymentMethod = "barter"
	_, err := h.orders.PlaceOrder(ctx, req, nil)
	assert.ErrorIs(t, err, entity.ErrValidation)
	assert.Equal(t, entity.KindValidation, entity.KindOf(err))

	_, err = h.orders.PlaceOrder(ctx, nil, nil)
	assert.ErrorIs(t, err, entity.ErrValidation)

	assert.Equal(t, 10, h.stock(t, laptop.ID))
	assert.Equal(t, 2.0, testutil.ToFloat64(h.metrics.OrdersPlaced.WithLabelValues(metrics.ResultValidation)))
}

func TestPlaceOrder_PriceSnapshotSurvivesPriceChange(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, time.Second)
	laptop := h.product(t, "Laptop", "1000.00", 10)

	order, err := h.orders.PlaceOrder(ctx, orderFor(line(laptop.ID, 1)), nil)
	require.NoError(t, err)

	require.NoError(t, h.inventory.ChangePrice(ctx, laptop.ID, decimal.RequireFromString("1299.99")))

	view, err := h.orders.GenerateInvoice(ctx, order.ID)
	require.NoError(t, err)
	require.Len(t, view.Items, 1)
	assert.Equal(t, "1000.00", view.Items[0].UnitPrice)
	assert.Equal(t, "1000.00", view.TotalAmount)

	next, err := h.orders.PlaceOrder(ctx, orderFor(line(laptop.ID, 1)), nil)
	require.NoError(t, err)
	assert.Equal(t, "1299.99", next.Items[0].UnitPrice.StringFixed(2))
}

func TestPlaceOrder_ConcurrentOrdersForLastUnits(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, 5*time.Second)
	laptop := h.product(t, "Laptop", "1000.00", 10)

	var (
		wg    sync.WaitGroup
		start = make(chan struct{})
		errs  = make([]error, 2)
	)
	for i := range errs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, errs[i] = h.orders.PlaceOrder(ctx, orderFor(line(laptop.ID, 6)), nil)
		}()
	}
	close(start)
	wg.Wait()

	succeeded, rejected := 0, 0
	for _, err := range errs {
		switch {
		case err == nil:
			succeeded++
		case errors.Is(err, entity.ErrInsufficientStock):
			rejected++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, 1, rejected)
	assert.Equal(t, 4, h.stock(t, laptop.ID))
}

func TestPlaceOrder_ConcurrentLoadKeepsStockConsistent(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, 10*time.Second)

	initial := map[int64]int{}
	var ids []int64
	for _, name := range []string{"A", "B", "C"} {
		p := h.product(t, name, "9.99", 25)
		initial[p.ID] = p.Quantity
		ids = append(ids, p.ID)
	}

	const workers = 24
	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		placed []*entity.Order
	)
	for w := range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r := rand.New(rand.NewPCG(uint64(w), 42))
			for range 5 {
				// Lines in ascending product id cannot deadlock.
				var lines []entity.OrderLine
				for _, id := range ids {
					if r.IntN(2) == 0 {
						lines = append(lines, line(id, 1+r.IntN(3)))
					}
				}
				if len(lines) == 0 {
					lines = append(lines, line(ids[0], 1))
				}
				order, err := h.orders.PlaceOrder(ctx, orderFor(lines...), nil)
				if err != nil {
					if !errors.Is(err, entity.ErrInsufficientStock) {
						t.Errorf("unexpected error: %v", err)
					}
					continue
				}
				mu.Lock()
				placed = append(placed, order)
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	sold := map[int64]int{}
	for _, o := range placed {
		for _, item := range o.Items {
			sold[item.ProductID] += item.Quantity
		}
	}
	for _, id := range ids {
		remaining := h.stock(t, id)
		assert.GreaterOrEqual(t, remaining, 0)
		assert.Equal(t, initial[id]-sold[id], remaining, "product %d", id)

		ledger, err := h.inventory.StockHistory(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, remaining, ledger.CurrentStock)
		assert.Equal(t, sold[id], ledger.Sold)
	}
}

func TestPlaceOrder_LockTimeoutIsTransactionFailure(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, 20*time.Millisecond)
	laptop := h.product(t, "Laptop", "1000.00", 10)

	holding := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- h.store.WithinTx(ctx, func(ctx context.Context, tx repository.Tx) error {
			if _, err := tx.FindProductForUpdate(ctx, laptop.ID); err != nil {
				return err
			}
			close(holding)
			<-release
			return nil
		})
	}()
	<-holding

	_, err := h.orders.PlaceOrder(ctx, orderFor(line(laptop.ID, 1)), nil)
	close(release)
	require.NoError(t, <-done)

	assert.ErrorIs(t, err, entity.ErrTransactionFailure)
	assert.ErrorIs(t, err, repository.ErrLockConflict)
	assert.Equal(t, 10, h.stock(t, laptop.ID))
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.OrdersPlaced.WithLabelValues(metrics.ResultFailure)))
}

func TestPlaceOrder_PublishFailureKeepsOrder(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, time.Second)
	h.publisher.err = errors.New("broker down")
	laptop := h.product(t, "Laptop", "1000.00", 10)

	order, err := h.orders.PlaceOrder(ctx, orderFor(line(laptop.ID, 1)), nil)
	require.NoError(t, err)
	assert.NotZero(t, order.ID)
	assert.Equal(t, 9, h.stock(t, laptop.ID))
}

func TestPlaceOrder_RaisesLowStockAlerts(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, time.Second)
	hub := h.product(t, "USB Hub", "39.90", 12)
	cable := h.product(t, "Cable", "5.00", 2)

	_, err := h.orders.PlaceOrder(ctx, orderFor(line(hub.ID, 3), line(cable.ID, 2), line(hub.ID, 1)), nil)
	require.NoError(t, err)

	alerts := h.publisher.onTopic("inventory.low_stock")
	require.Len(t, alerts, 2)

	low := alerts[0].event.(entity.LowStockDetected)
	assert.Equal(t, hub.ID, low.ProductID)
	assert.Equal(t, 8, low.Quantity)
	assert.Equal(t, entity.StockLevelLow, low.Level)
	assert.Equal(t, "Product 'USB Hub' is low on stock (8 left, threshold: 10).", low.Message)

	out := alerts[1].event.(entity.LowStockDetected)
	assert.Equal(t, cable.ID, out.ProductID)
	assert.Equal(t, entity.StockLevelOutOfStock, out.Level)

	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.LowStockAlerts.WithLabelValues(string(entity.StockLevelLow))))
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.LowStockAlerts.WithLabelValues(string(entity.StockLevelOutOfStock))))
}

func TestPlaceOrder_EventPayloadIsJSON(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, time.Second)
	laptop := h.product(t, "Laptop", "1000.00", 50)

	order, err := h.orders.PlaceOrder(ctx, orderFor(line(laptop.ID, 2)), nil)
	require.NoError(t, err)

	raw, err := json.Marshal(h.publisher.onTopic("orders.placed")[0].event)
	require.NoError(t, err)
	var decoded entity.OrderPlaced
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, order.ID, decoded.OrderID)
	require.Len(t, decoded.Items, 1)
	assert.True(t, decoded.Items[0].UnitPrice.Equal(decimal.NewFromInt(1000)))
}

func TestGenerateInvoice(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, time.Second)
	laptop := h.product(t, "Laptop", "1000.00", 10)
	mouse := h.product(t, "Mouse", "25.50", 10)

	order, err := h.orders.PlaceOrder(ctx, orderFor(line(laptop.ID, 1), line(mouse.ID, 2)), nil)
	require.NoError(t, err)

	require.NoError(t, h.inventory.DiscontinueProduct(ctx, mouse.ID))

	view, err := h.orders.GenerateInvoice(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, invoice.InvoiceNumber(order.ID), view.InvoiceNumber)
	assert.Equal(t, "1051.00", view.TotalAmount)
	require.Len(t, view.Items, 2)
	assert.Equal(t, "Laptop", view.Items[0].Description)
	assert.Equal(t, invoice.UnknownProduct, view.Items[1].Description)
	assert.Equal(t, mouse.ID, view.Items[1].ProductID)
	assert.Equal(t, "51.00", view.Items[1].Total)

	_, err = h.orders.GenerateInvoice(ctx, order.ID+100)
	assert.ErrorIs(t, err, entity.ErrOrderNotFound)
}

func TestPlaceOrder_SubCentPriceAddsUpOnInvoice(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, time.Second)
	pen := h.product(t, "Pen", "0.333", 10)

	order, err := h.orders.PlaceOrder(ctx, orderFor(line(pen.ID, 3)), nil)
	require.NoError(t, err)
	require.Len(t, order.Items, 1)
	assert.Equal(t, "0.33", order.Items[0].UnitPrice.String())
	assert.Equal(t, "0.99", order.Items[0].TotalPrice.String())
	assert.Equal(t, "0.99", order.TotalAmount.String())

	view, err := h.orders.GenerateInvoice(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, "0.33", view.Items[0].UnitPrice)
	assert.Equal(t, "0.99", view.Items[0].Total)
	assert.Equal(t, "0.99", view.TotalAmount)
}

func TestRecentOrders_NewestFirst(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, time.Second)
	laptop := h.product(t, "Laptop", "1000.00", 10)

	var ids []int64
	for range 3 {
		o, err := h.orders.PlaceOrder(ctx, orderFor(line(laptop.ID, 1)), nil)
		require.NoError(t, err)
		ids = append(ids, o.ID)
	}

	recent, err := h.orders.RecentOrders(ctx, 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	sort.Slice(ids, func(i, j int) bool { return ids[i] > ids[j] })
	assert.Equal(t, ids[0], recent[0].ID)
	assert.Equal(t, ids[1], recent[1].ID)
}

func TestPlaceOrderOnce_ReplaysSameKey(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, time.Second)
	laptop := h.product(t, "Laptop", "1000.00", 10)
	req := orderFor(line(laptop.ID, 2))

	first, replayed, err := h.orders.PlaceOrderOnce(ctx, "key-1", req, nil)
	require.NoError(t, err)
	assert.False(t, replayed)

	second, replayed, err := h.orders.PlaceOrderOnce(ctx, "key-1", req, nil)
	require.NoError(t, err)
	assert.True(t, replayed)
	assert.Equal(t, first.ID, second.ID)
	assert.Len(t, second.Items, 1)

	assert.Equal(t, 8, h.stock(t, laptop.ID))
	assert.Len(t, h.publisher.onTopic("orders.placed"), 1)
}

func TestPlaceOrderOnce_FailureReleasesKey(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, time.Second)
	laptop := h.product(t, "Laptop", "1000.00", 1)
	req := orderFor(line(laptop.ID, 3))

	_, _, err := h.orders.PlaceOrderOnce(ctx, "key-2", req, nil)
	assert.ErrorIs(t, err, entity.ErrInsufficientStock)

	_, err = h.inventory.AdjustStock(ctx, laptop.ID, entity.StockAdjustment{Kind: entity.AdjustRestock, Quantity: 5, Reason: "delivery"})
	require.NoError(t, err)

	order, replayed, err := h.orders.PlaceOrderOnce(ctx, "key-2", req, nil)
	require.NoError(t, err)
	assert.False(t, replayed)
	assert.Equal(t, 3, order.Items[0].Quantity)
	assert.Equal(t, 3, h.stock(t, laptop.ID))
}

func TestPlaceOrderOnce_InProgress(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, time.Second)
	laptop := h.product(t, "Laptop", "1000.00", 10)

	req := orderFor(line(laptop.ID, 1))
	fp, err := requestFingerprint(req, nil)
	require.NoError(t, err)

	_, done, err := h.idem.Begin(ctx, "busy", fp)
	require.NoError(t, err)
	require.False(t, done)

	_, _, err = h.orders.PlaceOrderOnce(ctx, "busy", req, nil)
	assert.ErrorIs(t, err, idempotency.ErrInProgress)
	assert.Equal(t, 10, h.stock(t, laptop.ID))
}

func TestPlaceOrderOnce_KeyReusedWithDifferentRequest(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, time.Second)
	laptop := h.product(t, "Laptop", "1000.00", 10)
	mouse := h.product(t, "Mouse", "25.00", 10)

	first, _, err := h.orders.PlaceOrderOnce(ctx, "checkout", orderFor(line(laptop.ID, 1)), nil)
	require.NoError(t, err)

	order, replayed, err := h.orders.PlaceOrderOnce(ctx, "checkout", orderFor(line(mouse.ID, 4)), nil)
	require.Error(t, err)
	assert.Nil(t, order)
	assert.False(t, replayed)
	assert.ErrorIs(t, err, entity.ErrValidation)
	assert.ErrorIs(t, err, idempotency.ErrKeyReused)
	assert.Equal(t, 10, h.stock(t, mouse.ID))

	// Same body from a different user is a different request too.
	userID := int64(9)
	_, _, err = h.orders.PlaceOrderOnce(ctx, "checkout", orderFor(line(laptop.ID, 1)), &userID)
	assert.ErrorIs(t, err, idempotency.ErrKeyReused)

	again, replayed, err := h.orders.PlaceOrderOnce(ctx, "checkout", orderFor(line(laptop.ID, 1)), nil)
	require.NoError(t, err)
	assert.True(t, replayed)
	assert.Equal(t, first.ID, again.ID)
	assert.Equal(t, 9, h.stock(t, laptop.ID))
}

func TestPlaceOrderOnce_EmptyKeyAlwaysPlaces(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, time.Second)
	laptop := h.product(t, "Laptop", "1000.00", 10)

	for range 2 {
		_, replayed, err := h.orders.PlaceOrderOnce(ctx, "", orderFor(line(laptop.ID, 1)), nil)
		require.NoError(t, err)
		assert.False(t, replayed)
	}
	assert.Equal(t, 8, h.stock(t, laptop.ID))
}
