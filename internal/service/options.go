package service

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/egannguyen/stockledger/internal/idempotency"
	"github.com/egannguyen/stockledger/internal/metrics"
)

// DefaultLowStockThreshold applies to products without their own threshold.
const DefaultLowStockThreshold = 10

// Topics names the broker topics events are published to.
type Topics struct {
	OrdersPlaced string
	LowStock     string
}

// Options configures the services. Zero values get defaults.
type Options struct {
	Topics            Topics
	LowStockThreshold int
	Metrics           *metrics.Metrics
	// Idempotency enables PlaceOrderOnce replays. Nil disables them.
	Idempotency idempotency.Store
}

func (o Options) withDefaults() Options {
	if o.Topics.OrdersPlaced == "" {
		o.Topics.OrdersPlaced = "orders.placed"
	}
	if o.Topics.LowStock == "" {
		o.Topics.LowStock = "inventory.low_stock"
	}
	if o.LowStockThreshold <= 0 {
		o.LowStockThreshold = DefaultLowStockThreshold
	}
	if o.Metrics == nil {
		o.Metrics = metrics.New(prometheus.NewRegistry())
	}
	return o
}
