package entity

import "time"

// MovementKind is the reason a product's stock changed.
type MovementKind string

const (
	MovementSale       MovementKind = "sale"
	MovementRestock    MovementKind = "restock"
	MovementAdjustment MovementKind = "adjustment"
)

// StockMovement is one append-only entry in a product's stock ledger.
// Quantity is the signed delta applied to PrevStock.
type StockMovement struct {
	ID        int64        `json:"id"`
	ProductID int64        `json:"product_id"`
	OrderID   *int64       `json:"order_id,omitempty"`
	Kind      MovementKind `json:"kind"`
	Quantity  int          `json:"quantity"`
	PrevStock int          `json:"prev_stock"`
	NewStock  int          `json:"new_stock"`
	Reason    string       `json:"reason,omitempty"`
	CreatedAt time.Time    `json:"created_at"`
}

// Event represents a domain event published to the broker.
type Event interface {
	EventType() string
}

// AggregateBase provides identity and version for replayed aggregates.
type AggregateBase struct {
	ID      int64
	Version int
}

func (a *AggregateBase) GetAggregateID() int64 {
	return a.ID
}

func (a *AggregateBase) GetVersion() int {
	return a.Version
}
