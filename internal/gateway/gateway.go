// Package gateway is the narrow contract with the payment provider: create an
// order before payment and verify the signed capture callback.
package gateway

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"

	"assignx/internal/config"
)

var ErrGateway = errors.New("payment gateway error")

type Order struct {
	Ref      string `json:"id"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Receipt  string `json:"receipt"`
	Status   string `json:"status"`
}

// Gateway creates orders and verifies captures. VerifyPayment must be pure:
// the engine calls it inside a transaction.
type Gateway interface {
	CreateOrder(ctx context.Context, amount int64, currency, receipt string) (Order, error)
	VerifyPayment(orderRef, paymentRef, signature string) bool
}

// Sign computes the capture signature: hex HMAC-SHA256 of "order|payment".
func Sign(secret, orderRef, paymentRef string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(orderRef + "|" + paymentRef))
	return hex.EncodeToString(mac.Sum(nil))
}

func verify(secret, orderRef, paymentRef, signature string) bool {
	if secret == "" || orderRef == "" || paymentRef == "" || signature == "" {
		return false
	}
	want, err := hex.DecodeString(Sign(secret, orderRef, paymentRef))
	if err != nil {
		return false
	}
	got, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}
	return hmac.Equal(want, got)
}

// FromConfig builds the configured provider.
func FromConfig(cfg config.Gateway) (Gateway, error) {
	switch cfg.Provider {
	case "", "sandbox":
		return NewSandbox(cfg.KeySecret), nil
	case "razorpay":
		if cfg.KeyID == "" || cfg.KeySecret == "" {
			return nil, fmt.Errorf("razorpay requires key_id and key_secret")
		}
		return NewRazorpay(cfg), nil
	default:
		return nil, fmt.Errorf("unknown gateway provider %q", cfg.Provider)
	}
}
