package entity

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validRequest() *OrderRequest {
	return &OrderRequest{
		CustomerName:  "Ada",
		CustomerEmail: "ada@example.com",
		PaymentMethod: PaymentCashOnDelivery,
		Items:         []OrderLine{{ProductID: 1, Quantity: 2}},
	}
}

func TestOrderRequest_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(r *OrderRequest)
		wantMsg string
	}{
		{"valid", func(*OrderRequest) {}, ""},
		{"email optional", func(r *OrderRequest) { r.CustomerEmail = "" }, ""},
		{"missing name", func(r *OrderRequest) { r.CustomerName = "" }, "customer_name is required"},
		{"bad email", func(r *OrderRequest) { r.CustomerEmail = "not-an-email" }, "customer_email must be a valid email address"},
		{"unknown payment method", func(r *OrderRequest) { r.PaymentMethod = "crypto" }, `payment_method "crypto" is not supported`},
		{"nil items", func(r *OrderRequest) { r.Items = nil }, "items is required"},
		{"empty items", func(r *OrderRequest) { r.Items = []OrderLine{} }, "items must contain at least 1 item(s)"},
		{"zero quantity", func(r *OrderRequest) { r.Items[0].Quantity = 0 }, "items[0].quantity is required"},
		{"negative quantity", func(r *OrderRequest) { r.Items[0].Quantity = -1 }, "items[0].quantity must be at least 1"},
		{"missing product", func(r *OrderRequest) { r.Items[0].ProductID = 0 }, "items[0].product_id is required"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := validRequest()
			tt.mutate(req)

			err := req.Validate()
			if tt.wantMsg == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrValidation)
			assert.Contains(t, err.Error(), tt.wantMsg)
		})
	}
}

func TestOrderRequest_ValidateNil(t *testing.T) {
	var req *OrderRequest
	err := req.Validate()
	assert.EqualError(t, err, "invalid order request: request is required")
}

func TestOrderRequest_ValidateJoinsMessages(t *testing.T) {
	req := &OrderRequest{PaymentMethod: PaymentOnline}
	err := req.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "customer_name is required; ")
	assert.Contains(t, err.Error(), "items is required")
}

func TestStockAdjustment_Validate(t *testing.T) {
	assert.NoError(t, (&StockAdjustment{Kind: AdjustRestock, Quantity: 5, Reason: "delivery"}).Validate())
	assert.NoError(t, (&StockAdjustment{Kind: AdjustAbsolute, Quantity: 0, Reason: "stocktake"}).Validate())

	err := (&StockAdjustment{Kind: AdjustRestock, Quantity: 0, Reason: "delivery"}).Validate()
	assert.ErrorIs(t, err, ErrValidation)

	err = (&StockAdjustment{Kind: "shrink", Quantity: 1, Reason: "x"}).Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "type must be one of [restock adjustment]")

	err = (&StockAdjustment{Kind: AdjustAbsolute, Quantity: -3, Reason: "x"}).Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "quantity must be at least 0")
}
