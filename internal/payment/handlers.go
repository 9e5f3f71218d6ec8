package payment

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/morvin2701/pixelwallsbackend/internal/common"
)

// Handler exposes the HTTP endpoints for the payment flow.
type Handler struct {
	Svc      *Service
	Validate *validator.Validate
}

type createOrderReq struct {
	UserID string `json:"userId" validate:"required"`
	PlanID string `json:"planId" validate:"required"`
}

type verifyReq struct {
	OrderID   string `json:"razorpay_order_id"`
	PaymentID string `json:"razorpay_payment_id"`
	Signature string `json:"razorpay_signature"`
}

type failureReq struct {
	OrderID string `json:"razorpay_order_id"`
	Reason  string `json:"error"`
}

// CreateOrder handles POST /create-order.
func (h *Handler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.Svc == nil {
		common.JSONError(w, http.StatusInternalServerError, "PAYMENT_NOT_CONFIGURED", "payment handler unavailable", nil)
		return
	}
	var req createOrderReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid body", nil)
		return
	}
	if h.Validate != nil {
		if err := h.Validate.Struct(req); err != nil {
			common.JSONError(w, http.StatusBadRequest, "VALIDATION_ERROR", "userId and planId are required", nil)
			return
		}
	}
	created, err := h.Svc.CreateOrder(r.Context(), req.UserID, req.PlanID)
	if err != nil {
		writeAppError(w, err, "ORDER_CREATE_FAILED", "Failed to create order")
		return
	}
	common.JSON(w, http.StatusOK, created)
}

// VerifyPayment handles POST /verify-payment. The response shapes here match
// what the mobile client already consumes, down to the field names.
func (h *Handler) VerifyPayment(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.Svc == nil {
		common.JSON(w, http.StatusInternalServerError, map[string]any{
			"success": false,
			"error":   "payment handler unavailable",
		})
		return
	}
	var req verifyReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		common.JSON(w, http.StatusBadRequest, map[string]any{
			"success": false,
			"error":   "invalid body",
		})
		return
	}
	conf, err := h.Svc.ConfirmPayment(r.Context(), req.OrderID, req.PaymentID, req.Signature)
	if err != nil {
		status := http.StatusInternalServerError
		message := "Failed to verify payment"
		var appErr *common.AppError
		if errors.As(err, &appErr) {
			status = appErr.HTTPStatus
			message = appErr.Message
		}
		common.JSON(w, status, map[string]any{
			"success": false,
			"error":   message,
		})
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{
		"success":   true,
		"orderId":   conf.OrderID,
		"paymentId": conf.PaymentID,
		"signature": conf.Signature,
	})
}

// PaymentFailed handles POST /payment-failed.
func (h *Handler) PaymentFailed(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.Svc == nil {
		common.JSON(w, http.StatusInternalServerError, map[string]any{
			"success": false,
			"error":   "payment handler unavailable",
		})
		return
	}
	var req failureReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		common.JSON(w, http.StatusBadRequest, map[string]any{
			"success": false,
			"error":   "invalid body",
		})
		return
	}
	if err := h.Svc.ReportFailure(r.Context(), req.OrderID, req.Reason); err != nil {
		status := http.StatusInternalServerError
		message := "Failed to record payment failure"
		var appErr *common.AppError
		if errors.As(err, &appErr) {
			status = appErr.HTTPStatus
			message = appErr.Message
		}
		common.JSON(w, status, map[string]any{
			"success": false,
			"error":   message,
		})
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"success": true})
}

// History handles GET /user-payment-history/{userId}.
func (h *Handler) History(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.Svc == nil {
		common.JSONError(w, http.StatusInternalServerError, "PAYMENT_NOT_CONFIGURED", "payment handler unavailable", nil)
		return
	}
	userID := strings.TrimSpace(chi.URLParam(r, "userId"))
	if userID == "" {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "userId is required", nil)
		return
	}
	common.JSON(w, http.StatusOK, h.Svc.History(r.Context(), userID))
}

// CurrentPlan handles GET /user-plan/{userId}. A user with no verified
// purchase gets an explicit null rather than an error.
func (h *Handler) CurrentPlan(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.Svc == nil {
		common.JSONError(w, http.StatusInternalServerError, "PAYMENT_NOT_CONFIGURED", "payment handler unavailable", nil)
		return
	}
	userID := strings.TrimSpace(chi.URLParam(r, "userId"))
	if userID == "" {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "userId is required", nil)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{
		"currentPlan": h.Svc.CurrentPlan(r.Context(), userID),
		"fetchedAt":   time.Now().UTC(),
	})
}

// Plans handles GET /plans, listing the purchasable catalog.
func (h *Handler) Plans(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.Svc == nil || h.Svc.Catalog == nil {
		common.JSONError(w, http.StatusInternalServerError, "PAYMENT_NOT_CONFIGURED", "payment handler unavailable", nil)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{
		"plans": h.Svc.Catalog.Plans(),
	})
}

func writeAppError(w http.ResponseWriter, err error, fallbackCode, fallbackMessage string) {
	var appErr *common.AppError
	if errors.As(err, &appErr) {
		common.JSONError(w, appErr.HTTPStatus, appErr.Code, appErr.Message, appErr.Details)
		return
	}
	common.JSONError(w, http.StatusInternalServerError, fallbackCode, fallbackMessage, nil)
}
