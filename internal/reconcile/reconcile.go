package reconcile

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/morvin2701/pixelwallsbackend/internal/gateway"
	"github.com/morvin2701/pixelwallsbackend/internal/lock"
	"github.com/morvin2701/pixelwallsbackend/internal/obs"
	"github.com/morvin2701/pixelwallsbackend/internal/store"
)

const lockKey = "reconcile:orders"

// OrderStore is the slice of the persistence layer the reconciler needs.
type OrderStore interface {
	FindStuckPending(ctx context.Context, olderThan time.Duration, limit int) ([]store.Order, error)
	Transition(ctx context.Context, orderID string, next store.Status, fields store.TerminalFields) (store.Order, error)
}

// Reconciler sweeps Pending orders that never saw a completion claim and
// settles them from the gateway's view, which is the source of truth for
// whether money moved. It repairs the gaps left by the fire-and-forget
// persistence on the order creation path.
type Reconciler struct {
	Store        OrderStore
	Gateway      gateway.Gateway
	Locker       lock.Locker
	Logger       zerolog.Logger
	Interval     time.Duration
	StuckAfter   time.Duration
	AbandonAfter time.Duration
	BatchSize    int
	LockTTL      time.Duration
}

// Run sweeps on a fixed interval until the context is done. Only one replica
// sweeps at a time; the Redis lock arbitrates.
func (r *Reconciler) Run(ctx context.Context) {
	interval := r.Interval
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			acquired, err := r.Locker.TryLock(ctx, lockKey, r.lockTTL(), func(ctx context.Context) error {
				r.Sweep(ctx)
				return nil
			})
			if err != nil && !errors.Is(err, context.Canceled) {
				r.Logger.Error().Err(err).Msg("reconcile lock")
			}
			if !acquired {
				r.Logger.Debug().Msg("reconcile lock held elsewhere, skipping sweep")
			}
		}
	}
}

// Sweep settles one batch of stuck Pending orders.
func (r *Reconciler) Sweep(ctx context.Context) {
	if r == nil || r.Store == nil || r.Gateway == nil {
		return
	}
	batch := r.BatchSize
	if batch <= 0 {
		batch = 100
	}
	stuckAfter := r.StuckAfter
	if stuckAfter <= 0 {
		stuckAfter = 15 * time.Minute
	}

	orders, err := r.Store.FindStuckPending(ctx, stuckAfter, batch)
	if err != nil {
		r.Logger.Error().Err(err).Msg("list stuck pending orders")
		return
	}
	if len(orders) == 0 {
		return
	}
	r.Logger.Info().Int("count", len(orders)).Msg("reconciling stuck pending orders")
	for _, o := range orders {
		if ctx.Err() != nil {
			return
		}
		r.settle(ctx, o)
	}
}

func (r *Reconciler) settle(ctx context.Context, o store.Order) {
	gwOrder, err := r.Gateway.FetchOrder(ctx, o.OrderID)
	if err != nil {
		r.count("fetch_error")
		r.Logger.Warn().Err(err).Str("order_id", o.OrderID).Msg("fetch order from gateway")
		return
	}

	switch gwOrder.Status {
	case gateway.StatusPaid:
		// Money moved but the completion claim never arrived (or its write
		// was dropped). Settle in the user's favor.
		now := time.Now()
		if _, err := r.Store.Transition(ctx, o.OrderID, store.StatusReceived, store.TerminalFields{
			VerifiedAt: now,
		}); err != nil {
			if errors.Is(err, store.ErrInvalidTransition) {
				r.count("already_settled")
				return
			}
			r.count("transition_error")
			r.Logger.Error().Err(err).Str("order_id", o.OrderID).Msg("settle paid order")
			return
		}
		r.count("received")
		r.Logger.Info().Str("order_id", o.OrderID).Str("user_id", o.UserID).Msg("paid order settled as received")
	case gateway.StatusCreated, gateway.StatusAttempted:
		abandonAfter := r.AbandonAfter
		if abandonAfter <= 0 {
			abandonAfter = 24 * time.Hour
		}
		if time.Since(o.CreatedAt) < abandonAfter {
			r.count("still_open")
			return
		}
		now := time.Now()
		if _, err := r.Store.Transition(ctx, o.OrderID, store.StatusRejected, store.TerminalFields{
			VerifiedAt:    now,
			FailureReason: "abandoned",
		}); err != nil {
			if errors.Is(err, store.ErrInvalidTransition) {
				r.count("already_settled")
				return
			}
			r.count("transition_error")
			r.Logger.Error().Err(err).Str("order_id", o.OrderID).Msg("abandon stale order")
			return
		}
		r.count("abandoned")
		r.Logger.Info().Str("order_id", o.OrderID).Msg("stale order settled as rejected")
	default:
		r.count("unknown_status")
		r.Logger.Warn().Str("order_id", o.OrderID).Str("status", string(gwOrder.Status)).Msg("unrecognised gateway order status")
	}
}

func (r *Reconciler) lockTTL() time.Duration {
	if r.LockTTL <= 0 {
		return 30 * time.Second
	}
	return r.LockTTL
}

func (r *Reconciler) count(outcome string) {
	if obs.ReconcileTotal != nil {
		obs.ReconcileTotal.WithLabelValues(outcome).Inc()
	}
}
