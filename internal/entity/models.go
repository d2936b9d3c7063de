package entity

import (
	"time"

	"github.com/shopspring/decimal"
)

// Product represents a catalog product and its on-hand stock.
type Product struct {
	ID                int64           `json:"id"`
	Name              string          `json:"name"`
	SKU               string          `json:"sku"`
	Price             decimal.Decimal `json:"price"`
	Quantity          int             `json:"quantity"`
	LowStockThreshold *int            `json:"low_stock_threshold,omitempty"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

// ThresholdOr returns the product's own low-stock threshold, or fallback if unset.
func (p *Product) ThresholdOr(fallback int) int {
	if p.LowStockThreshold != nil {
		return *p.LowStockThreshold
	}
	return fallback
}

// PaymentMethod is how the customer pays for an order.
type PaymentMethod string

const (
	PaymentCashOnDelivery PaymentMethod = "cod"
	PaymentOnline         PaymentMethod = "online"
)

func (m PaymentMethod) Valid() bool {
	switch m {
	case PaymentCashOnDelivery, PaymentOnline:
		return true
	}
	return false
}

// PaymentStatus tracks payment collection for an order.
type PaymentStatus string

const (
	PaymentPending PaymentStatus = "pending"
	PaymentPaid    PaymentStatus = "paid"
	PaymentFailed  PaymentStatus = "failed"
)

func (s PaymentStatus) Valid() bool {
	switch s {
	case PaymentPending, PaymentPaid, PaymentFailed:
		return true
	}
	return false
}

// OrderStatus is the fulfilment state of an order.
type OrderStatus string

const (
	OrderPending   OrderStatus = "pending"
	OrderCompleted OrderStatus = "completed"
	OrderCancelled OrderStatus = "cancelled"
)

func (s OrderStatus) Valid() bool {
	switch s {
	case OrderPending, OrderCompleted, OrderCancelled:
		return true
	}
	return false
}

// OrderItem is a line item within an order. UnitPrice and TotalPrice are
// snapshots taken when the order was placed.
type OrderItem struct {
	ID         int64           `json:"id"`
	OrderID    int64           `json:"order_id"`
	ProductID  int64           `json:"product_id"`
	Quantity   int             `json:"quantity"`
	UnitPrice  decimal.Decimal `json:"unit_price"`
	TotalPrice decimal.Decimal `json:"total_price"`

	// Product is loaded for display only. It is nil once the product is deleted.
	Product *Product `json:"product,omitempty"`
}

// Order represents a customer order.
type Order struct {
	ID            int64           `json:"id"`
	UserID        *int64          `json:"user_id,omitempty"`
	CustomerName  string          `json:"customer_name"`
	CustomerEmail string          `json:"customer_email,omitempty"`
	TotalAmount   decimal.Decimal `json:"total_amount"`
	PaymentMethod PaymentMethod   `json:"payment_method"`
	PaymentStatus PaymentStatus   `json:"payment_status"`
	Status        OrderStatus     `json:"status"`
	Items         []OrderItem     `json:"items"`
	CreatedAt     time.Time       `json:"created_at"`
}

// --- Commands ---

// OrderLine is one requested product and quantity.
type OrderLine struct {
	ProductID int64 `json:"product_id" validate:"required,gt=0"`
	Quantity  int   `json:"quantity" validate:"required,min=1"`
}

// OrderRequest is the input to order placement. It is never persisted.
type OrderRequest struct {
	CustomerName  string        `json:"customer_name" validate:"required,max=255"`
	CustomerEmail string        `json:"customer_email" validate:"omitempty,email"`
	PaymentMethod PaymentMethod `json:"payment_method" validate:"required,payment_method"`
	Items         []OrderLine   `json:"items" validate:"required,min=1,dive"`
}

// StockAdjustmentKind selects how AdjustStock interprets its quantity.
type StockAdjustmentKind string

const (
	// AdjustRestock adds the quantity to the current stock.
	AdjustRestock StockAdjustmentKind = "restock"
	// AdjustAbsolute replaces the current stock with the quantity.
	AdjustAbsolute StockAdjustmentKind = "adjustment"
)

// StockAdjustment is a manual stock change made outside of an order.
type StockAdjustment struct {
	Kind     StockAdjustmentKind `json:"type" validate:"required,oneof=restock adjustment"`
	Quantity int                 `json:"quantity" validate:"min=0"`
	Reason   string              `json:"reason" validate:"required,max=255"`
}
