package gateway

import (
	"context"
	"fmt"
	"time"
)

// OrderStatus is the gateway-side lifecycle of an order.
type OrderStatus string

const (
	// StatusCreated means the order exists but no payment was attempted.
	StatusCreated OrderStatus = "created"
	// StatusAttempted means at least one payment attempt was made.
	StatusAttempted OrderStatus = "attempted"
	// StatusPaid means the gateway captured the payment.
	StatusPaid OrderStatus = "paid"
)

// CreateOrderRequest carries the parameters for opening an order with the
// gateway. Amount is in minor currency units.
type CreateOrderRequest struct {
	Amount   int64
	Currency string
	Receipt  string
}

// Order is the gateway's view of an order.
type Order struct {
	ID       string
	Amount   int64
	Currency string
	Receipt  string
	Status   OrderStatus
}

// Gateway abstracts the upstream payment processor.
type Gateway interface {
	// CreateOrder opens a new order and returns the gateway-assigned id.
	CreateOrder(ctx context.Context, req CreateOrderRequest) (Order, error)
	// FetchOrder returns the gateway's current view of an order. Used by the
	// reconciliation worker as the source of truth for stuck orders.
	FetchOrder(ctx context.Context, orderID string) (Order, error)
}

const maxReceiptLen = 40

// NewReceipt builds a receipt identifier unique per request and bounded in
// length per gateway constraints. Never derived from user input.
func NewReceipt(now time.Time) string {
	receipt := fmt.Sprintf("receipt_%d", now.UnixMilli())
	if len(receipt) > maxReceiptLen {
		receipt = receipt[:maxReceiptLen]
	}
	return receipt
}
