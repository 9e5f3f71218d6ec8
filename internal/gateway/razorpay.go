package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/morvin2701/pixelwallsbackend/internal/resilience"
)

// Razorpay calls the Razorpay Orders API. Requests authenticate with the
// key id/secret pair over basic auth.
type Razorpay struct {
	KeyID     string
	KeySecret string
	BaseURL   string
	HTTP      *resilience.HTTPClient
}

type razorpayOrder struct {
	ID       string `json:"id"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Receipt  string `json:"receipt"`
	Status   string `json:"status"`
}

type razorpayError struct {
	Error struct {
		Code        string `json:"code"`
		Description string `json:"description"`
	} `json:"error"`
}

// CreateOrder opens an order with Razorpay.
func (g Razorpay) CreateOrder(ctx context.Context, req CreateOrderRequest) (Order, error) {
	if req.Amount <= 0 {
		return Order{}, errors.New("razorpay: amount must be positive")
	}
	if strings.TrimSpace(req.Currency) == "" {
		return Order{}, errors.New("razorpay: currency is required")
	}
	payload, err := json.Marshal(map[string]any{
		"amount":   req.Amount,
		"currency": req.Currency,
		"receipt":  req.Receipt,
	})
	if err != nil {
		return Order{}, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL()+"/v1/orders", bytes.NewReader(payload))
	if err != nil {
		return Order{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.SetBasicAuth(g.KeyID, g.KeySecret)

	return g.do(ctx, httpReq)
}

// FetchOrder returns Razorpay's current view of the order.
func (g Razorpay) FetchOrder(ctx context.Context, orderID string) (Order, error) {
	if strings.TrimSpace(orderID) == "" {
		return Order{}, errors.New("razorpay: order id is required")
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, g.baseURL()+"/v1/orders/"+orderID, nil)
	if err != nil {
		return Order{}, err
	}
	httpReq.SetBasicAuth(g.KeyID, g.KeySecret)

	return g.do(ctx, httpReq)
}

func (g Razorpay) do(ctx context.Context, req *http.Request) (Order, error) {
	var (
		resp *http.Response
		err  error
	)
	if g.HTTP != nil {
		resp, err = g.HTTP.Do(ctx, req)
	} else {
		resp, err = http.DefaultClient.Do(req)
	}
	if err != nil {
		return Order{}, fmt.Errorf("razorpay: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Order{}, fmt.Errorf("razorpay: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		var apiErr razorpayError
		if json.Unmarshal(body, &apiErr) == nil && apiErr.Error.Description != "" {
			return Order{}, fmt.Errorf("razorpay: %s: %s", resp.Status, apiErr.Error.Description)
		}
		return Order{}, fmt.Errorf("razorpay: unexpected status %s", resp.Status)
	}
	var order razorpayOrder
	if err := json.Unmarshal(body, &order); err != nil {
		return Order{}, fmt.Errorf("razorpay: decode response: %w", err)
	}
	if order.ID == "" {
		return Order{}, errors.New("razorpay: response missing order id")
	}
	return Order{
		ID:       order.ID,
		Amount:   order.Amount,
		Currency: order.Currency,
		Receipt:  order.Receipt,
		Status:   OrderStatus(order.Status),
	}, nil
}

func (g Razorpay) baseURL() string {
	base := strings.TrimSpace(g.BaseURL)
	if base == "" {
		return "https://api.razorpay.com"
	}
	return strings.TrimRight(base, "/")
}
