// Package metrics holds the Prometheus instruments for order placement and
// stock levels.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Order placement results.
const (
	ResultSuccess           = "success"
	ResultInsufficientStock = "insufficient_stock"
	ResultProductNotFound   = "product_not_found"
	ResultValidation        = "validation_error"
	ResultFailure           = "failure"
)

type Metrics struct {
	OrdersPlaced   *prometheus.CounterVec
	PlacementTime  prometheus.Histogram
	UnitsDeducted  prometheus.Counter
	LowStockAlerts *prometheus.CounterVec
}

// New registers the instruments on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		OrdersPlaced: f.NewCounterVec(prometheus.CounterOpts{
			Name: "stockledger_orders_placed_total",
			Help: "Order placement attempts by result.",
		}, []string{"result"}),
		PlacementTime: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "stockledger_order_placement_duration_seconds",
			Help:    "Time spent placing an order, including lock waits.",
			Buckets: prometheus.DefBuckets,
		}),
		UnitsDeducted: f.NewCounter(prometheus.CounterOpts{
			Name: "stockledger_stock_units_deducted_total",
			Help: "Stock units deducted by committed orders.",
		}),
		LowStockAlerts: f.NewCounterVec(prometheus.CounterOpts{
			Name: "stockledger_low_stock_alerts_total",
			Help: "Low-stock alerts raised, by level.",
		}, []string{"level"}),
	}
}

// Handler serves the metrics gathered by g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
