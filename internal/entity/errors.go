package entity

import (
	"errors"
	"fmt"
)

// ErrorKind classifies order placement and invoice failures.
type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	KindValidation
	KindProductNotFound
	KindInsufficientStock
	KindOrderNotFound
	KindTransactionFailure
)

func (k ErrorKind) String() string {
	switch k {
	case KindValidation:
		return "validation_error"
	case KindProductNotFound:
		return "product_not_found"
	case KindInsufficientStock:
		return "insufficient_stock"
	case KindOrderNotFound:
		return "order_not_found"
	case KindTransactionFailure:
		return "transaction_failure"
	default:
		return "unknown"
	}
}

// Sentinels for errors.Is. Every *OrderError matches the sentinel of its kind.
var (
	ErrValidation         = errors.New("validation error")
	ErrProductNotFound    = errors.New("product not found")
	ErrInsufficientStock  = errors.New("insufficient stock")
	ErrOrderNotFound      = errors.New("order not found")
	ErrTransactionFailure = errors.New("transaction failure")
)

func (k ErrorKind) sentinel() error {
	switch k {
	case KindValidation:
		return ErrValidation
	case KindProductNotFound:
		return ErrProductNotFound
	case KindInsufficientStock:
		return ErrInsufficientStock
	case KindOrderNotFound:
		return ErrOrderNotFound
	case KindTransactionFailure:
		return ErrTransactionFailure
	}
	return nil
}

// OrderError is the structured error returned by the order engine.
type OrderError struct {
	Kind ErrorKind

	ProductID   int64
	ProductName string
	Available   int
	Requested   int
	OrderID     int64

	// Detail carries the validation message.
	Detail string
	// Err is the underlying cause, if any.
	Err error
}

func (e *OrderError) Error() string {
	switch e.Kind {
	case KindValidation:
		return "invalid order request: " + e.Detail
	case KindProductNotFound:
		return fmt.Sprintf("product %d not found", e.ProductID)
	case KindInsufficientStock:
		return fmt.Sprintf("insufficient stock for product '%s': available %d, requested %d",
			e.ProductName, e.Available, e.Requested)
	case KindOrderNotFound:
		return fmt.Sprintf("order %d not found", e.OrderID)
	case KindTransactionFailure:
		if e.Err != nil {
			return "order transaction failed: " + e.Err.Error()
		}
		return "order transaction failed"
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return "unknown order error"
}

func (e *OrderError) Unwrap() error { return e.Err }

func (e *OrderError) Is(target error) bool {
	s := e.Kind.sentinel()
	return s != nil && target == s
}

func NewValidationError(detail string) *OrderError {
	return &OrderError{Kind: KindValidation, Detail: detail}
}

func NewProductNotFound(productID int64) *OrderError {
	return &OrderError{Kind: KindProductNotFound, ProductID: productID}
}

func NewInsufficientStock(p *Product, requested int) *OrderError {
	return &OrderError{
		Kind:        KindInsufficientStock,
		ProductID:   p.ID,
		ProductName: p.Name,
		Available:   p.Quantity,
		Requested:   requested,
	}
}

func NewOrderNotFound(orderID int64) *OrderError {
	return &OrderError{Kind: KindOrderNotFound, OrderID: orderID}
}

func NewTransactionFailure(cause error) *OrderError {
	return &OrderError{Kind: KindTransactionFailure, Err: cause}
}

// KindOf reports the kind of err, or KindUnknown if err is not an *OrderError.
func KindOf(err error) ErrorKind {
	var oe *OrderError
	if errors.As(err, &oe) {
		return oe.Kind
	}
	return KindUnknown
}
