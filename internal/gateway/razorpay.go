package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"assignx/internal/config"
)

const defaultRazorpayURL = "https://api.razorpay.com/v1"

// Razorpay talks to the orders API with basic auth.
type Razorpay struct {
	KeyID     string
	KeySecret string
	BaseURL   string
	HTTP      *http.Client
}

func NewRazorpay(cfg config.Gateway) *Razorpay {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		base = defaultRazorpayURL
	}
	return &Razorpay{
		KeyID:     cfg.KeyID,
		KeySecret: cfg.KeySecret,
		BaseURL:   base,
		HTTP:      &http.Client{Timeout: timeout},
	}
}

type orderRequest struct {
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Receipt  string `json:"receipt"`
}

type razorpayError struct {
	Error struct {
		Code        string `json:"code"`
		Description string `json:"description"`
	} `json:"error"`
}

func (r *Razorpay) CreateOrder(ctx context.Context, amount int64, currency, receipt string) (Order, error) {
	body, err := json.Marshal(orderRequest{Amount: amount, Currency: currency, Receipt: receipt})
	if err != nil {
		return Order{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.BaseURL+"/orders", bytes.NewReader(body))
	if err != nil {
		return Order{}, err
	}
	req.SetBasicAuth(r.KeyID, r.KeySecret)
	req.Header.Set("Content-Type", "application/json")
	resp, err := r.HTTP.Do(req)
	if err != nil {
		return Order{}, fmt.Errorf("%w: create order: %v", ErrGateway, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Order{}, fmt.Errorf("%w: read order response: %v", ErrGateway, err)
	}
	if resp.StatusCode >= 300 {
		var apiErr razorpayError
		if json.Unmarshal(data, &apiErr) == nil && apiErr.Error.Description != "" {
			return Order{}, fmt.Errorf("%w: %s: %s", ErrGateway, apiErr.Error.Code, apiErr.Error.Description)
		}
		return Order{}, fmt.Errorf("%w: create order: status %d", ErrGateway, resp.StatusCode)
	}
	var order Order
	if err := json.Unmarshal(data, &order); err != nil {
		return Order{}, fmt.Errorf("%w: decode order: %v", ErrGateway, err)
	}
	if order.Ref == "" {
		return Order{}, fmt.Errorf("%w: order response without id", ErrGateway)
	}
	return order, nil
}

func (r *Razorpay) VerifyPayment(orderRef, paymentRef, signature string) bool {
	return verify(r.KeySecret, orderRef, paymentRef, signature)
}
