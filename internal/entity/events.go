package entity

import (
	"time"

	"github.com/shopspring/decimal"
)

// --- Events ---

// OrderPlacedLine is the per-line payload of OrderPlaced.
type OrderPlacedLine struct {
	ProductID int64           `json:"product_id"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

// OrderPlaced is emitted once an order and its stock deductions are committed.
type OrderPlaced struct {
	OrderID       int64             `json:"order_id"`
	UserID        *int64            `json:"user_id,omitempty"`
	CustomerName  string            `json:"customer_name"`
	PaymentMethod PaymentMethod     `json:"payment_method"`
	TotalAmount   decimal.Decimal   `json:"total_amount"`
	Items         []OrderPlacedLine `json:"items"`
	PlacedAt      time.Time         `json:"placed_at"`
}

func (e OrderPlaced) EventType() string { return "OrderPlaced" }

// NewOrderPlaced builds the event for a committed order.
func NewOrderPlaced(o *Order) OrderPlaced {
	lines := make([]OrderPlacedLine, 0, len(o.Items))
	for _, it := range o.Items {
		lines = append(lines, OrderPlacedLine{ProductID: it.ProductID, Quantity: it.Quantity, UnitPrice: it.UnitPrice})
	}
	return OrderPlaced{
		OrderID:       o.ID,
		UserID:        o.UserID,
		CustomerName:  o.CustomerName,
		PaymentMethod: o.PaymentMethod,
		TotalAmount:   o.TotalAmount,
		Items:         lines,
		PlacedAt:      o.CreatedAt,
	}
}

// StockLevel classifies a product's stock against its threshold.
type StockLevel string

const (
	StockLevelOK         StockLevel = "ok"
	StockLevelLow        StockLevel = "low_stock"
	StockLevelOutOfStock StockLevel = "out_of_stock"
)

// ClassifyStock returns the stock level of quantity for the given threshold.
func ClassifyStock(quantity, threshold int) StockLevel {
	switch {
	case quantity <= 0:
		return StockLevelOutOfStock
	case quantity <= threshold:
		return StockLevelLow
	default:
		return StockLevelOK
	}
}

// LowStockDetected is emitted when a product is at or below its threshold.
type LowStockDetected struct {
	ProductID   int64      `json:"product_id"`
	ProductName string     `json:"product_name"`
	Quantity    int        `json:"quantity"`
	Threshold   int        `json:"threshold"`
	Level       StockLevel `json:"level"`
	Message     string     `json:"message"`
	DetectedAt  time.Time  `json:"detected_at"`
}

func (e LowStockDetected) EventType() string { return "LowStockDetected" }

var (
	_ Event = OrderPlaced{}
	_ Event = LowStockDetected{}
)
