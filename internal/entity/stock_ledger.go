package entity

import (
	"fmt"
)

// StockLedger rebuilds a product's stock history by replaying its movements.
type StockLedger struct {
	AggregateBase
	OpeningStock int // Stock before the first recorded movement
	CurrentStock int
	Sold         int // Units deducted by orders
	Restocked    int
	Movements    []StockMovement
}

// NewStockLedger creates an empty ledger for a product.
func NewStockLedger(productID int64) *StockLedger {
	return &StockLedger{
		AggregateBase: AggregateBase{ID: productID, Version: 0},
	}
}

// Apply appends one movement, checking that it continues the ledger.
func (l *StockLedger) Apply(m StockMovement) error {
	if m.ProductID != l.ID {
		return fmt.Errorf("movement %d belongs to product %d, not %d", m.ID, m.ProductID, l.ID)
	}
	if m.PrevStock+m.Quantity != m.NewStock {
		return fmt.Errorf("movement %d is inconsistent: %d %+d != %d", m.ID, m.PrevStock, m.Quantity, m.NewStock)
	}
	if m.NewStock < 0 {
		return fmt.Errorf("movement %d drives stock negative (%d)", m.ID, m.NewStock)
	}
	if l.Version == 0 {
		l.OpeningStock = m.PrevStock
	} else if m.PrevStock != l.CurrentStock {
		return fmt.Errorf("ledger gap before movement %d: expected prev stock %d, got %d", m.ID, l.CurrentStock, m.PrevStock)
	}

	switch m.Kind {
	case MovementSale:
		l.Sold -= m.Quantity
	case MovementRestock:
		l.Restocked += m.Quantity
	case MovementAdjustment:
	default:
		return fmt.Errorf("unknown movement kind %q", m.Kind)
	}

	l.CurrentStock = m.NewStock
	l.Movements = append(l.Movements, m)
	l.Version++
	return nil
}

// Rehydrate rebuilds the ledger from movements in the order they were recorded.
func (l *StockLedger) Rehydrate(movements []StockMovement) error {
	for _, m := range movements {
		if err := l.Apply(m); err != nil {
			return fmt.Errorf("failed to apply stock movement: %w", err)
		}
	}
	return nil
}
