package service

import (
	"github.com/shopspring/decimal"

	"github.com/egannguyen/stockledger/internal/entity"
)

func threshold(n int) *int { return &n }

// DemoCatalog is the product set seeded into an empty store.
func DemoCatalog() []entity.Product {
	return []entity.Product{
		{Name: "Laptop", SKU: "LAP-001", Price: decimal.RequireFromString("1000.00"), Quantity: 10},
		{Name: "Mechanical Keyboard", SKU: "KEY-001", Price: decimal.RequireFromString("89.99"), Quantity: 40},
		{Name: "Wireless Mouse", SKU: "MOU-001", Price: decimal.RequireFromString("25.50"), Quantity: 100, LowStockThreshold: threshold(20)},
		{Name: "27\" Monitor", SKU: "MON-001", Price: decimal.RequireFromString("249.00"), Quantity: 15},
		{Name: "USB-C Hub", SKU: "HUB-001", Price: decimal.RequireFromString("39.90"), Quantity: 8},
		{Name: "Noise Cancelling Headphones", SKU: "HEA-001", Price: decimal.RequireFromString("199.00"), Quantity: 5, LowStockThreshold: threshold(3)},
	}
}
