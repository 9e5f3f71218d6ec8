package payment

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/morvin2701/pixelwallsbackend/internal/common"
	"github.com/morvin2701/pixelwallsbackend/internal/gateway"
	"github.com/morvin2701/pixelwallsbackend/internal/obs"
	"github.com/morvin2701/pixelwallsbackend/internal/plan"
	"github.com/morvin2701/pixelwallsbackend/internal/signature"
	"github.com/morvin2701/pixelwallsbackend/internal/store"
)

// OrderStore is the durable order record owned by the persistence layer.
type OrderStore interface {
	Create(ctx context.Context, o store.Order) error
	FindByID(ctx context.Context, orderID string) (store.Order, error)
	ListByUser(ctx context.Context, userID string) ([]store.Order, error)
	LatestReceivedByUser(ctx context.Context, userID string) (store.Order, error)
	Transition(ctx context.Context, orderID string, next store.Status, fields store.TerminalFields) (store.Order, error)
}

// UserDirectory lazily materialises user records before orders reference them.
type UserDirectory interface {
	Ensure(ctx context.Context, userID, username string) error
}

// Service drives the order lifecycle: creation against the gateway, signature
// verification, failure reports and plan/history reads.
type Service struct {
	Store          OrderStore
	Users          UserDirectory
	Gateway        gateway.Gateway
	Catalog        *plan.Catalog
	Verifier       signature.Verifier
	Cache          *PlanCache
	Logger         zerolog.Logger
	GatewayTimeout time.Duration
	StoreTimeout   time.Duration
}

// OrderCreated is returned to the client after the gateway accepted an order.
type OrderCreated struct {
	OrderID  string    `json:"orderId"`
	Amount   int64     `json:"amount"`
	Currency string    `json:"currency"`
	Plan     plan.Plan `json:"plan"`
}

// Confirmation echoes the verified identifiers back to the client.
type Confirmation struct {
	OrderID   string `json:"orderId"`
	PaymentID string `json:"paymentId"`
	Signature string `json:"signature"`
}

// HistoryEntry is the API view of a persisted order.
type HistoryEntry struct {
	OrderID       string     `json:"orderId"`
	PlanID        string     `json:"planId"`
	PlanName      string     `json:"planName"`
	Amount        int64      `json:"amount"`
	Currency      string     `json:"currency"`
	Status        string     `json:"status"`
	CreatedAt     time.Time  `json:"createdAt"`
	VerifiedAt    *time.Time `json:"verifiedAt,omitempty"`
	PaymentID     string     `json:"paymentId,omitempty"`
	FailureReason string     `json:"failureReason,omitempty"`
}

// PlanSummary describes the plan a user currently holds.
type PlanSummary struct {
	PlanID   string    `json:"planId"`
	PlanName string    `json:"planName"`
	Amount   int64     `json:"amount"`
	Currency string    `json:"currency"`
	Since    time.Time `json:"since"`
}

// CreateOrder resolves the plan, opens an order with the gateway and persists
// a Pending record. The charge amount comes from the catalog only; any amount
// supplied by the caller is ignored.
func (s *Service) CreateOrder(ctx context.Context, userID, planID string) (OrderCreated, error) {
	var zero OrderCreated
	if s == nil || s.Store == nil || s.Gateway == nil || s.Catalog == nil {
		return zero, errors.New("payment service not configured")
	}
	ctx, span := otel.Tracer("payment.Service").Start(ctx, "PaymentService.CreateOrder")
	defer span.End()

	planLabel := "unknown"
	result := "error"
	defer func() {
		span.SetAttributes(
			attribute.String("order.plan", planLabel),
			attribute.String("order.create.result", result),
		)
		if obs.OrderCreateTotal != nil {
			obs.OrderCreateTotal.WithLabelValues(planLabel, result).Inc()
		}
	}()

	userID = strings.TrimSpace(userID)
	planID = strings.TrimSpace(planID)
	if userID == "" || planID == "" {
		result = "invalid"
		return zero, common.NewAppError("VALIDATION_ERROR", "userId and planId are required", http.StatusBadRequest, nil)
	}
	selected, ok := s.Catalog.Resolve(planID)
	if !ok {
		result = "unknown_plan"
		return zero, common.NewAppError("UNKNOWN_PLAN", "Invalid plan selected", http.StatusBadRequest, nil)
	}
	planLabel = selected.ID

	// A directory write failure must not block the payment flow.
	if s.Users != nil {
		ensureCtx, cancelEnsure := s.storeCtx(ctx)
		if err := s.Users.Ensure(ensureCtx, userID, ""); err != nil {
			s.Logger.Warn().Err(err).Str("user_id", userID).Msg("ensure user record")
		}
		cancelEnsure()
	}

	receipt := gateway.NewReceipt(time.Now())
	gwCtx, cancel := context.WithTimeout(ctx, s.gatewayTimeout())
	defer cancel()
	gwOrder, err := s.Gateway.CreateOrder(gwCtx, gateway.CreateOrderRequest{
		Amount:   selected.Amount,
		Currency: selected.Currency,
		Receipt:  receipt,
	})
	if err != nil {
		span.RecordError(err)
		result = "gateway_error"
		return zero, common.NewAppError("GATEWAY_ERROR", "Failed to create order", http.StatusBadGateway, err)
	}
	span.SetAttributes(attribute.String("order.id", gwOrder.ID))

	record := store.Order{
		OrderID:   gwOrder.ID,
		UserID:    userID,
		PlanID:    selected.ID,
		PlanName:  selected.Name,
		Amount:    selected.Amount,
		Currency:  selected.Currency,
		Status:    store.StatusPending,
		Receipt:   receipt,
		CreatedAt: time.Now(),
	}
	createCtx, cancelCreate := s.storeCtx(ctx)
	defer cancelCreate()
	if err := s.Store.Create(createCtx, record); err != nil {
		// The gateway already holds the order; keep the flow available and
		// leave the gap to the reconciliation worker and the operator.
		s.Logger.Error().Err(err).
			Str("order_id", gwOrder.ID).
			Str("user_id", userID).
			Msg("persist order failed after gateway accept")
		if obs.PersistFailureTotal != nil {
			obs.PersistFailureTotal.WithLabelValues("create_order").Inc()
		}
	}

	result = "success"
	return OrderCreated{
		OrderID:  gwOrder.ID,
		Amount:   selected.Amount,
		Currency: selected.Currency,
		Plan:     selected,
	}, nil
}

// ConfirmPayment verifies the completion claim and moves the order to its
// terminal state. The verification outcome is decided by the signature check
// alone; storage trouble afterwards is logged, never surfaced as a different
// outcome to the caller.
func (s *Service) ConfirmPayment(ctx context.Context, orderID, paymentID, providedSignature string) (Confirmation, error) {
	var zero Confirmation
	if s == nil || s.Store == nil {
		return zero, errors.New("payment service not configured")
	}
	ctx, span := otel.Tracer("payment.Service").Start(ctx, "PaymentService.ConfirmPayment")
	defer span.End()

	orderID = strings.TrimSpace(orderID)
	paymentID = strings.TrimSpace(paymentID)
	providedSignature = strings.TrimSpace(providedSignature)
	if orderID == "" || paymentID == "" || providedSignature == "" {
		s.countVerify("invalid")
		return zero, common.NewAppError("VALIDATION_ERROR", "Missing required payment verification fields", http.StatusBadRequest, nil)
	}
	span.SetAttributes(attribute.String("order.id", orderID))

	now := time.Now()
	if !s.Verifier.Verify(orderID, paymentID, providedSignature) {
		rejectCtx, cancelReject := s.storeCtx(ctx)
		defer cancelReject()
		if _, err := s.Store.Transition(rejectCtx, orderID, store.StatusRejected, store.TerminalFields{
			VerifiedAt: now,
			PaymentID:  paymentID,
			Signature:  providedSignature,
		}); err != nil && !errors.Is(err, store.ErrNotFound) && !errors.Is(err, store.ErrInvalidTransition) {
			s.Logger.Error().Err(err).Str("order_id", orderID).Msg("persist rejected order")
			if obs.PersistFailureTotal != nil {
				obs.PersistFailureTotal.WithLabelValues("confirm_reject").Inc()
			}
		}
		s.countVerify("rejected")
		return zero, common.NewAppError("SIGNATURE_MISMATCH", "Invalid signature", http.StatusBadRequest, nil)
	}

	receiveCtx, cancelReceive := s.storeCtx(ctx)
	defer cancelReceive()
	updated, err := s.Store.Transition(receiveCtx, orderID, store.StatusReceived, store.TerminalFields{
		VerifiedAt: now,
		PaymentID:  paymentID,
		Signature:  providedSignature,
	})
	switch {
	case err == nil:
		s.Cache.Invalidate(ctx, updated.UserID)
	case errors.Is(err, store.ErrNotFound), errors.Is(err, store.ErrInvalidTransition):
		// Unknown or already-settled order: the signature is still valid, so
		// the claim is answered the same way on re-delivery.
		s.Logger.Warn().Err(err).Str("order_id", orderID).Msg("confirm on missing or settled order")
	default:
		s.Logger.Error().Err(err).Str("order_id", orderID).Msg("persist received order")
		if obs.PersistFailureTotal != nil {
			obs.PersistFailureTotal.WithLabelValues("confirm_receive").Inc()
		}
	}

	s.countVerify("success")
	return Confirmation{OrderID: orderID, PaymentID: paymentID, Signature: providedSignature}, nil
}

// ReportFailure records a gateway-reported payment failure. This path is less
// trusted than the signed confirmation and can only ever reject an order.
func (s *Service) ReportFailure(ctx context.Context, orderID, reason string) error {
	if s == nil || s.Store == nil {
		return errors.New("payment service not configured")
	}
	ctx, span := otel.Tracer("payment.Service").Start(ctx, "PaymentService.ReportFailure")
	defer span.End()

	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return common.NewAppError("VALIDATION_ERROR", "orderId is required", http.StatusBadRequest, nil)
	}
	span.SetAttributes(attribute.String("order.id", orderID))
	if strings.TrimSpace(reason) == "" {
		reason = "payment failed"
	}

	storeCtx, cancel := s.storeCtx(ctx)
	defer cancel()
	_, err := s.Store.Transition(storeCtx, orderID, store.StatusRejected, store.TerminalFields{
		VerifiedAt:    time.Now(),
		FailureReason: reason,
	})
	switch {
	case err == nil:
		if obs.PaymentFailureReports != nil {
			obs.PaymentFailureReports.Inc()
		}
		return nil
	case errors.Is(err, store.ErrNotFound):
		return common.NewAppError("ORDER_NOT_FOUND", "order not found", http.StatusNotFound, err)
	case errors.Is(err, store.ErrInvalidTransition):
		return common.NewAppError("ORDER_ALREADY_SETTLED", "order is already settled", http.StatusConflict, err)
	default:
		return err
	}
}

// History returns the user's orders, newest first. Store trouble degrades to
// an empty list so clients can still render.
func (s *Service) History(ctx context.Context, userID string) []HistoryEntry {
	if s == nil || s.Store == nil {
		return []HistoryEntry{}
	}
	storeCtx, cancel := s.storeCtx(ctx)
	defer cancel()
	orders, err := s.Store.ListByUser(storeCtx, userID)
	if err != nil {
		s.Logger.Error().Err(err).Str("user_id", userID).Msg("list payment history")
		return []HistoryEntry{}
	}
	entries := make([]HistoryEntry, 0, len(orders))
	for _, o := range orders {
		entries = append(entries, HistoryEntry{
			OrderID:       o.OrderID,
			PlanID:        o.PlanID,
			PlanName:      o.PlanName,
			Amount:        o.Amount,
			Currency:      o.Currency,
			Status:        string(o.Status),
			CreatedAt:     o.CreatedAt,
			VerifiedAt:    o.VerifiedAt,
			PaymentID:     o.PaymentID,
			FailureReason: o.FailureReason,
		})
	}
	return entries
}

// CurrentPlan answers which plan the user holds: the most recent Received
// order, or nil when there is none. Store trouble degrades to nil.
func (s *Service) CurrentPlan(ctx context.Context, userID string) *PlanSummary {
	if s == nil || s.Store == nil {
		return nil
	}
	if cached, ok := s.Cache.Get(ctx, userID); ok {
		return cached
	}
	storeCtx, cancel := s.storeCtx(ctx)
	defer cancel()
	latest, err := s.Store.LatestReceivedByUser(storeCtx, userID)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			s.Logger.Error().Err(err).Str("user_id", userID).Msg("load current plan")
		}
		return nil
	}
	since := latest.CreatedAt
	if latest.VerifiedAt != nil {
		since = *latest.VerifiedAt
	}
	summary := &PlanSummary{
		PlanID:   latest.PlanID,
		PlanName: latest.PlanName,
		Amount:   latest.Amount,
		Currency: latest.Currency,
		Since:    since,
	}
	s.Cache.Set(ctx, userID, summary)
	return summary
}

func (s *Service) gatewayTimeout() time.Duration {
	if s.GatewayTimeout <= 0 {
		return 10 * time.Second
	}
	return s.GatewayTimeout
}

// storeCtx bounds every trip to the database so a stalled pool cannot hold a
// request open indefinitely.
func (s *Service) storeCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	timeout := s.StoreTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return context.WithTimeout(ctx, timeout)
}

func (s *Service) countVerify(result string) {
	if obs.PaymentVerifyTotal != nil {
		obs.PaymentVerifyTotal.WithLabelValues(result).Inc()
	}
}
