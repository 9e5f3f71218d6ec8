package store

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

const orderColumns = `order_id, user_id, plan_id, plan_name, amount, currency, status, receipt,
	payment_id, signature, failure_reason, created_at, updated_at, verified_at`

// Orders persists payment orders in Postgres.
type Orders struct {
	Pool *pgxpool.Pool
}

// Create inserts a new order record. The order must carry its gateway-assigned
// id; inserting the same id twice fails with ErrDuplicateOrder.
func (r *Orders) Create(ctx context.Context, o Order) error {
	if r == nil || r.Pool == nil {
		return errors.New("store: orders not configured")
	}
	_, err := r.Pool.Exec(ctx, `
		INSERT INTO payment_history
			(order_id, user_id, plan_id, plan_name, amount, currency, status, receipt, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $9)`,
		o.OrderID, o.UserID, o.PlanID, o.PlanName, o.Amount, o.Currency, string(o.Status), o.Receipt, o.CreatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrDuplicateOrder
		}
		return err
	}
	return nil
}

// FindByID returns the order with the given gateway-assigned id.
func (r *Orders) FindByID(ctx context.Context, orderID string) (Order, error) {
	row := r.Pool.QueryRow(ctx, `SELECT `+orderColumns+` FROM payment_history WHERE order_id = $1`, orderID)
	return scanOrder(row)
}

// ListByUser returns all orders for a user, newest first.
func (r *Orders) ListByUser(ctx context.Context, userID string) ([]Order, error) {
	rows, err := r.Pool.Query(ctx, `
		SELECT `+orderColumns+`
		FROM payment_history
		WHERE user_id = $1
		ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectOrders(rows)
}

// LatestReceivedByUser returns the most recent order in Received state, which
// determines the plan the user currently holds.
func (r *Orders) LatestReceivedByUser(ctx context.Context, userID string) (Order, error) {
	row := r.Pool.QueryRow(ctx, `
		SELECT `+orderColumns+`
		FROM payment_history
		WHERE user_id = $1 AND status = $2
		ORDER BY created_at DESC
		LIMIT 1`, userID, string(StatusReceived))
	return scanOrder(row)
}

// FindStuckPending returns orders that have sat in Pending longer than
// olderThan, oldest first, capped at limit. Used by the reconciliation worker.
func (r *Orders) FindStuckPending(ctx context.Context, olderThan time.Duration, limit int) ([]Order, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.Pool.Query(ctx, `
		SELECT `+orderColumns+`
		FROM payment_history
		WHERE status = $1 AND created_at < $2
		ORDER BY created_at ASC
		LIMIT $3`, string(StatusPending), time.Now().Add(-olderThan), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectOrders(rows)
}

// Transition atomically moves an order out of Pending into the given terminal
// status, writing the verification metadata in the same statement. The update
// is conditional on the current status so racing confirmations serialize on
// the row: exactly one caller wins, the rest observe the terminal state.
// Re-delivery of an identical terminal outcome is a no-op success; a
// conflicting terminal outcome fails with ErrInvalidTransition.
func (r *Orders) Transition(ctx context.Context, orderID string, next Status, fields TerminalFields) (Order, error) {
	if !next.Terminal() {
		return Order{}, ErrInvalidTransition
	}
	row := r.Pool.QueryRow(ctx, `
		UPDATE payment_history
		SET status = $2,
			payment_id = NULLIF($3, ''),
			signature = NULLIF($4, ''),
			failure_reason = NULLIF($5, ''),
			verified_at = $6,
			updated_at = now()
		WHERE order_id = $1 AND status = $7
		RETURNING `+orderColumns,
		orderID, string(next), fields.PaymentID, fields.Signature, fields.FailureReason, fields.VerifiedAt, string(StatusPending),
	)
	updated, err := scanOrder(row)
	if err == nil {
		return updated, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return Order{}, err
	}

	// No Pending row matched: either the order is absent or already terminal.
	current, err := r.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, err
	}
	return settleConflict(current, next, fields)
}

// settleConflict decides the outcome when the conditional update matched no
// Pending row. A re-delivery carrying the identical terminal outcome is a
// no-op success; any other combination is a conflicting transition.
func settleConflict(current Order, next Status, fields TerminalFields) (Order, error) {
	if current.Status == next &&
		current.PaymentID == fields.PaymentID &&
		current.Signature == fields.Signature &&
		current.FailureReason == fields.FailureReason {
		return current, nil
	}
	return current, ErrInvalidTransition
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (Order, error) {
	var (
		o             Order
		status        string
		paymentID     pgtype.Text
		sig           pgtype.Text
		failureReason pgtype.Text
		verifiedAt    pgtype.Timestamptz
	)
	err := row.Scan(
		&o.OrderID, &o.UserID, &o.PlanID, &o.PlanName, &o.Amount, &o.Currency, &status, &o.Receipt,
		&paymentID, &sig, &failureReason, &o.CreatedAt, &o.UpdatedAt, &verifiedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Order{}, ErrNotFound
		}
		return Order{}, err
	}
	o.Status = Status(status)
	o.PaymentID = paymentID.String
	o.Signature = sig.String
	o.FailureReason = failureReason.String
	if verifiedAt.Valid {
		t := verifiedAt.Time
		o.VerifiedAt = &t
	}
	return o, nil
}

func collectOrders(rows pgx.Rows) ([]Order, error) {
	orders := make([]Order, 0)
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, o)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return orders, nil
}
