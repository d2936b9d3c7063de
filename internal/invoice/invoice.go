// Package invoice renders a committed order as an invoice document.
package invoice

import (
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/skip2/go-qrcode"

	"github.com/egannguyen/stockledger/internal/entity"
)

// UnknownProduct is shown for items whose product no longer exists.
const UnknownProduct = "Unknown Product"

type Customer struct {
	Name  string `json:"name"`
	Email string `json:"email,omitempty"`
}

type Line struct {
	ProductID   int64  `json:"product_id"`
	Description string `json:"description"`
	Quantity    int    `json:"quantity"`
	UnitPrice   string `json:"unit_price"`
	Total       string `json:"total"`
}

// View is the rendered invoice. Amounts are fixed to two decimals.
type View struct {
	InvoiceNumber string               `json:"invoice_number"`
	OrderID       int64                `json:"order_id"`
	Date          string               `json:"date"`
	Customer      Customer             `json:"customer"`
	Items         []Line               `json:"items"`
	TotalAmount   string               `json:"total_amount"`
	PaymentMethod entity.PaymentMethod `json:"payment_method"`
	PaymentStatus entity.PaymentStatus `json:"payment_status"`
	Status        entity.OrderStatus   `json:"status"`
	// PaymentQR is a PNG data URI with an EPC credit transfer for online payments.
	PaymentQR string `json:"payment_qr,omitempty"`
}

// Renderer turns a loaded order into an invoice.
type Renderer interface {
	Render(o *entity.Order) (*View, error)
}

// Payee is the account printed in the payment QR code.
type Payee struct {
	Name string
	IBAN string
	BIC  string
}

func (p Payee) configured() bool {
	return p.Name != "" && p.IBAN != ""
}

// JSONRenderer builds a View suitable for JSON encoding.
type JSONRenderer struct {
	payee Payee
}

// NewJSONRenderer creates a renderer. A zero Payee disables the QR code.
func NewJSONRenderer(payee Payee) *JSONRenderer {
	return &JSONRenderer{payee: payee}
}

// InvoiceNumber formats an order id as an invoice number.
func InvoiceNumber(orderID int64) string {
	return fmt.Sprintf("INV-%06d", orderID)
}

func (r *JSONRenderer) Render(o *entity.Order) (*View, error) {
	v := &View{
		InvoiceNumber: InvoiceNumber(o.ID),
		OrderID:       o.ID,
		Date:          o.CreatedAt.UTC().Format(time.RFC3339),
		Customer:      Customer{Name: o.CustomerName, Email: o.CustomerEmail},
		Items:         make([]Line, 0, len(o.Items)),
		TotalAmount:   o.TotalAmount.StringFixed(2),
		PaymentMethod: o.PaymentMethod,
		PaymentStatus: o.PaymentStatus,
		Status:        o.Status,
	}

	for _, item := range o.Items {
		name := UnknownProduct
		if item.Product != nil {
			name = item.Product.Name
		}
		v.Items = append(v.Items, Line{
			ProductID:   item.ProductID,
			Description: name,
			Quantity:    item.Quantity,
			UnitPrice:   item.UnitPrice.StringFixed(2),
			Total:       item.TotalPrice.StringFixed(2),
		})
	}

	if r.payee.configured() && o.PaymentMethod == entity.PaymentOnline {
		qr, err := r.paymentQR(v)
		if err != nil {
			return nil, fmt.Errorf("failed to render payment qr: %w", err)
		}
		v.PaymentQR = qr
	}
	return v, nil
}

// paymentQR encodes an EPC069-12 SEPA credit transfer.
func (r *JSONRenderer) paymentQR(v *View) (string, error) {
	payload := strings.Join([]string{
		"BCD",
		"002",
		"1",
		"SCT",
		r.payee.BIC,
		r.payee.Name,
		strings.ReplaceAll(r.payee.IBAN, " ", ""),
		"EUR" + v.TotalAmount,
		"",
		"",
		v.InvoiceNumber,
	}, "\n")

	png, err := qrcode.Encode(payload, qrcode.Medium, 256)
	if err != nil {
		return "", err
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(png), nil
}
