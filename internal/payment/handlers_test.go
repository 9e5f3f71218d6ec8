package payment_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/require"

	"github.com/morvin2701/pixelwallsbackend/internal/payment"
	"github.com/morvin2701/pixelwallsbackend/internal/signature"
)

func newRouter(t *testing.T, st *memStore) *chi.Mux {
	t.Helper()
	h := &payment.Handler{
		Svc:      newService(t, st, &stubGateway{}, &stubUsers{}),
		Validate: validator.New(),
	}
	r := chi.NewRouter()
	r.Post("/create-order", h.CreateOrder)
	r.Post("/verify-payment", h.VerifyPayment)
	r.Post("/payment-failed", h.PaymentFailed)
	r.Get("/user-payment-history/{userId}", h.History)
	r.Get("/user-plan/{userId}", h.CurrentPlan)
	r.Get("/plans", h.Plans)
	return r
}

func doJSON(t *testing.T, r http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestCreateOrderEndpoint(t *testing.T) {
	st := newMemStore()
	r := newRouter(t, st)

	rec := doJSON(t, r, http.MethodPost, "/create-order", `{"userId":"user-1","planId":"pro"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		OrderID  string `json:"orderId"`
		Amount   int64  `json:"amount"`
		Currency string `json:"currency"`
		Plan     struct {
			ID   string `json:"id"`
			Name string `json:"name"`
		} `json:"plan"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.OrderID)
	require.Equal(t, int64(59900), resp.Amount)
	require.Equal(t, "INR", resp.Currency)
	require.Equal(t, "pro", resp.Plan.ID)
	require.Equal(t, "Pro Premium", resp.Plan.Name)
}

func TestCreateOrderEndpointRejectsBadInput(t *testing.T) {
	r := newRouter(t, newMemStore())

	rec := doJSON(t, r, http.MethodPost, "/create-order", `{"userId":"user-1"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, r, http.MethodPost, "/create-order", `{"userId":"user-1","planId":"vip"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, rec.Body.String(), "Invalid plan selected")

	rec = doJSON(t, r, http.MethodPost, "/create-order", `not json`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestVerifyPaymentEndpointShapes(t *testing.T) {
	st := newMemStore()
	r := newRouter(t, st)
	seedPending(t, st, "order_abc", "user-1")

	sig := signature.NewVerifier(testSecret).Compute("order_abc", "pay_123")
	rec := doJSON(t, r, http.MethodPost, "/verify-payment",
		`{"razorpay_order_id":"order_abc","razorpay_payment_id":"pay_123","razorpay_signature":"`+sig+`"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var ok struct {
		Success   bool   `json:"success"`
		OrderID   string `json:"orderId"`
		PaymentID string `json:"paymentId"`
		Signature string `json:"signature"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &ok))
	require.True(t, ok.Success)
	require.Equal(t, "order_abc", ok.OrderID)
	require.Equal(t, "pay_123", ok.PaymentID)
	require.Equal(t, sig, ok.Signature)
}

func TestVerifyPaymentEndpointInvalidSignature(t *testing.T) {
	st := newMemStore()
	r := newRouter(t, st)
	seedPending(t, st, "order_abc", "user-1")

	rec := doJSON(t, r, http.MethodPost, "/verify-payment",
		`{"razorpay_order_id":"order_abc","razorpay_payment_id":"pay_123","razorpay_signature":"bogus"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	var fail struct {
		Success bool   `json:"success"`
		Error   string `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &fail))
	require.False(t, fail.Success)
	require.Equal(t, "Invalid signature", fail.Error)
}

func TestVerifyPaymentEndpointMissingFields(t *testing.T) {
	r := newRouter(t, newMemStore())
	rec := doJSON(t, r, http.MethodPost, "/verify-payment", `{"razorpay_order_id":"order_abc"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, rec.Body.String(), `"success":false`)
}

func TestPaymentFailedEndpoint(t *testing.T) {
	st := newMemStore()
	r := newRouter(t, st)
	seedPending(t, st, "order_abc", "user-1")

	rec := doJSON(t, r, http.MethodPost, "/payment-failed", `{"razorpay_order_id":"order_abc","error":"card declined"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"success":true}`, rec.Body.String())

	rec = doJSON(t, r, http.MethodPost, "/payment-failed", `{"razorpay_order_id":"order_missing"}`)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHistoryEndpoint(t *testing.T) {
	st := newMemStore()
	r := newRouter(t, st)
	seedPending(t, st, "order_abc", "user-1")

	rec := doJSON(t, r, http.MethodGet, "/user-payment-history/user-1", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var entries []payment.HistoryEntry
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &entries))
	require.Len(t, entries, 1)
	require.Equal(t, "order_abc", entries[0].OrderID)
	require.Equal(t, "Pending", entries[0].Status)

	rec = doJSON(t, r, http.MethodGet, "/user-payment-history/user-unknown", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "[]", strings.TrimSpace(rec.Body.String()),
		"unknown users get an empty top-level array")
}

func TestCurrentPlanEndpoint(t *testing.T) {
	st := newMemStore()
	r := newRouter(t, st)
	seedPending(t, st, "order_abc", "user-1")

	rec := doJSON(t, r, http.MethodGet, "/user-plan/user-1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"currentPlan":null`)

	sig := signature.NewVerifier(testSecret).Compute("order_abc", "pay_123")
	rec = doJSON(t, r, http.MethodPost, "/verify-payment",
		`{"razorpay_order_id":"order_abc","razorpay_payment_id":"pay_123","razorpay_signature":"`+sig+`"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, r, http.MethodGet, "/user-plan/user-1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		CurrentPlan *payment.PlanSummary `json:"currentPlan"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotNil(t, resp.CurrentPlan)
	require.Equal(t, "basic", resp.CurrentPlan.PlanID)
}

func TestPlansEndpoint(t *testing.T) {
	r := newRouter(t, newMemStore())
	rec := doJSON(t, r, http.MethodGet, "/plans", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Plans []struct {
			ID     string `json:"id"`
			Amount int64  `json:"amount"`
		} `json:"plans"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Plans, 2)
	require.Equal(t, "basic", resp.Plans[0].ID)
	require.Equal(t, "pro", resp.Plans[1].ID)
}
