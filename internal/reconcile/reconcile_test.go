package reconcile_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/morvin2701/pixelwallsbackend/internal/gateway"
	"github.com/morvin2701/pixelwallsbackend/internal/reconcile"
	"github.com/morvin2701/pixelwallsbackend/internal/store"
)

type fakeStore struct {
	mu     sync.Mutex
	orders map[string]store.Order
}

func newFakeStore(orders ...store.Order) *fakeStore {
	f := &fakeStore{orders: make(map[string]store.Order)}
	for _, o := range orders {
		f.orders[o.OrderID] = o
	}
	return f
}

func (f *fakeStore) FindStuckPending(ctx context.Context, olderThan time.Duration, limit int) ([]store.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cutoff := time.Now().Add(-olderThan)
	var out []store.Order
	for _, o := range f.orders {
		if o.Status == store.StatusPending && o.CreatedAt.Before(cutoff) {
			out = append(out, o)
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (f *fakeStore) Transition(ctx context.Context, orderID string, next store.Status, fields store.TerminalFields) (store.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.orders[orderID]
	if !ok {
		return store.Order{}, store.ErrNotFound
	}
	if o.Status != store.StatusPending {
		return store.Order{}, store.ErrInvalidTransition
	}
	o.Status = next
	o.FailureReason = fields.FailureReason
	if !fields.VerifiedAt.IsZero() {
		t := fields.VerifiedAt
		o.VerifiedAt = &t
	}
	f.orders[orderID] = o
	return o, nil
}

type fakeGateway struct {
	statuses map[string]gateway.OrderStatus
	errs     map[string]error
}

func (g *fakeGateway) CreateOrder(ctx context.Context, req gateway.CreateOrderRequest) (gateway.Order, error) {
	return gateway.Order{}, errors.New("not used")
}

func (g *fakeGateway) FetchOrder(ctx context.Context, orderID string) (gateway.Order, error) {
	if err, ok := g.errs[orderID]; ok {
		return gateway.Order{}, err
	}
	status, ok := g.statuses[orderID]
	if !ok {
		return gateway.Order{}, errors.New("order not found")
	}
	return gateway.Order{ID: orderID, Status: status}, nil
}

func pendingOrder(id string, age time.Duration) store.Order {
	return store.Order{
		OrderID:   id,
		UserID:    "user-1",
		PlanID:    "basic",
		Amount:    29900,
		Currency:  "INR",
		Status:    store.StatusPending,
		CreatedAt: time.Now().Add(-age),
	}
}

func TestSweepSettlesPaidOrders(t *testing.T) {
	st := newFakeStore(pendingOrder("order_paid", time.Hour))
	gw := &fakeGateway{statuses: map[string]gateway.OrderStatus{"order_paid": gateway.StatusPaid}}
	r := &reconcile.Reconciler{
		Store:      st,
		Gateway:    gw,
		Logger:     zerolog.Nop(),
		StuckAfter: 15 * time.Minute,
		BatchSize:  10,
	}

	r.Sweep(context.Background())

	got := st.orders["order_paid"]
	require.Equal(t, store.StatusReceived, got.Status)
	require.NotNil(t, got.VerifiedAt)
}

func TestSweepAbandonsStaleUnpaidOrders(t *testing.T) {
	st := newFakeStore(
		pendingOrder("order_stale", 48*time.Hour),
		pendingOrder("order_fresh", time.Hour),
	)
	gw := &fakeGateway{statuses: map[string]gateway.OrderStatus{
		"order_stale": gateway.StatusCreated,
		"order_fresh": gateway.StatusAttempted,
	}}
	r := &reconcile.Reconciler{
		Store:        st,
		Gateway:      gw,
		Logger:       zerolog.Nop(),
		StuckAfter:   15 * time.Minute,
		AbandonAfter: 24 * time.Hour,
		BatchSize:    10,
	}

	r.Sweep(context.Background())

	stale := st.orders["order_stale"]
	require.Equal(t, store.StatusRejected, stale.Status)
	require.Equal(t, "abandoned", stale.FailureReason)

	// Still within the payment window, left alone.
	fresh := st.orders["order_fresh"]
	require.Equal(t, store.StatusPending, fresh.Status)
}

func TestSweepToleratesGatewayErrors(t *testing.T) {
	st := newFakeStore(
		pendingOrder("order_err", time.Hour),
		pendingOrder("order_paid", time.Hour),
	)
	gw := &fakeGateway{
		statuses: map[string]gateway.OrderStatus{"order_paid": gateway.StatusPaid},
		errs:     map[string]error{"order_err": errors.New("gateway timeout")},
	}
	r := &reconcile.Reconciler{
		Store:      st,
		Gateway:    gw,
		Logger:     zerolog.Nop(),
		StuckAfter: 15 * time.Minute,
		BatchSize:  10,
	}

	r.Sweep(context.Background())

	require.Equal(t, store.StatusPending, st.orders["order_err"].Status)
	require.Equal(t, store.StatusReceived, st.orders["order_paid"].Status)
}
