package store

import (
	"errors"
	"time"
)

// Status is the lifecycle state of a payment order.
type Status string

const (
	// StatusPending is the only initial state. Orders stay Pending until a
	// verified confirmation or a failure report arrives.
	StatusPending Status = "Pending"
	// StatusReceived marks a payment whose signature verification succeeded.
	StatusReceived Status = "Received"
	// StatusRejected marks a failed verification or a gateway-reported failure.
	StatusRejected Status = "Rejected"
)

// Terminal reports whether no further transitions are permitted.
func (s Status) Terminal() bool {
	return s == StatusReceived || s == StatusRejected
}

var (
	// ErrNotFound indicates the requested record does not exist.
	ErrNotFound = errors.New("store: not found")
	// ErrDuplicateOrder indicates an order with the same id already exists.
	ErrDuplicateOrder = errors.New("store: duplicate order id")
	// ErrInvalidTransition indicates the order is already in a conflicting
	// terminal state.
	ErrInvalidTransition = errors.New("store: invalid status transition")
)

// Order is the durable record of a payment order. Records are never deleted;
// they form the audit trail of every payment attempt.
type Order struct {
	OrderID       string
	UserID        string
	PlanID        string
	PlanName      string
	Amount        int64
	Currency      string
	Status        Status
	Receipt       string
	PaymentID     string
	Signature     string
	FailureReason string
	CreatedAt     time.Time
	UpdatedAt     time.Time
	VerifiedAt    *time.Time
}

// TerminalFields carries the verification metadata written on the single
// transition out of Pending.
type TerminalFields struct {
	VerifiedAt    time.Time
	PaymentID     string
	Signature     string
	FailureReason string
}
