package service

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/egannguyen/stockledger/internal/entity"
	"github.com/egannguyen/stockledger/internal/messaging"
	"github.com/egannguyen/stockledger/internal/metrics"
)

type stockAlerter struct {
	publisher        messaging.Publisher
	topic            string
	defaultThreshold int
	metrics          *metrics.Metrics
}

// detect returns an alert if p is at or below its threshold.
func (a *stockAlerter) detect(p entity.Product) (entity.LowStockDetected, bool) {
	threshold := p.ThresholdOr(a.defaultThreshold)
	level := entity.ClassifyStock(p.Quantity, threshold)
	if level == entity.StockLevelOK {
		return entity.LowStockDetected{}, false
	}

	msg := fmt.Sprintf("Product '%s' is low on stock (%d left, threshold: %d).", p.Name, p.Quantity, threshold)
	if level == entity.StockLevelOutOfStock {
		msg = fmt.Sprintf("Product '%s' is out of stock.", p.Name)
	}
	return entity.LowStockDetected{
		ProductID:   p.ID,
		ProductName: p.Name,
		Quantity:    p.Quantity,
		Threshold:   threshold,
		Level:       level,
		Message:     msg,
		DetectedAt:  time.Now().UTC(),
	}, true
}

// publish counts, logs and publishes an alert. Publish errors are logged only.
func (a *stockAlerter) publish(ctx context.Context, ev entity.LowStockDetected) {
	a.metrics.LowStockAlerts.WithLabelValues(string(ev.Level)).Inc()
	slog.Warn(ev.Message, "product_id", ev.ProductID, "quantity", ev.Quantity, "threshold", ev.Threshold)

	if err := a.publisher.PublishEvent(ctx, a.topic, strconv.FormatInt(ev.ProductID, 10), ev); err != nil {
		slog.Error("Failed to publish LowStockDetected", "product_id", ev.ProductID, "err", err)
	}
}

// checkAll raises an alert for each product at or below its threshold.
func (a *stockAlerter) checkAll(ctx context.Context, products []entity.Product) []entity.LowStockDetected {
	var alerts []entity.LowStockDetected
	for _, p := range products {
		if ev, ok := a.detect(p); ok {
			a.publish(ctx, ev)
			alerts = append(alerts, ev)
		}
	}
	return alerts
}
