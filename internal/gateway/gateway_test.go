package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"assignx/internal/config"
)

func TestSignatureVerification(t *testing.T) {
	sb := NewSandbox("s3cret")
	order, err := sb.CreateOrder(context.Background(), 250000, "INR", "AX-00001")
	require.NoError(t, err)
	sig := sb.SignCapture(order.Ref, "pay_1")

	assert.True(t, sb.VerifyPayment(order.Ref, "pay_1", sig))
	assert.False(t, sb.VerifyPayment(order.Ref, "pay_2", sig))
	assert.False(t, sb.VerifyPayment(order.Ref, "pay_1", "zz"))
	assert.False(t, sb.VerifyPayment(order.Ref, "pay_1", ""))
	assert.False(t, NewSandbox("other").VerifyPayment(order.Ref, "pay_1", sig))
	assert.False(t, NewSandbox("").VerifyPayment(order.Ref, "pay_1", Sign("", order.Ref, "pay_1")), "no secret, no captures")

	stored, ok := sb.Order(order.Ref)
	require.True(t, ok)
	assert.Equal(t, int64(250000), stored.Amount)
}

func TestRazorpayCreateOrder(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || user != "rzp_test" || pass != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error":{"code":"BAD_REQUEST_ERROR","description":"Authentication failed"}}`))
			return
		}
		assert.Equal(t, "/orders", r.URL.Path)
		var req orderRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		_ = json.NewEncoder(w).Encode(Order{Ref: "order_123", Amount: req.Amount, Currency: req.Currency, Receipt: req.Receipt, Status: "created"})
	}))
	defer srv.Close()

	rp := NewRazorpay(config.Gateway{KeyID: "rzp_test", KeySecret: "secret", BaseURL: srv.URL})
	order, err := rp.CreateOrder(context.Background(), 1000, "INR", "AX-00002")
	require.NoError(t, err)
	assert.Equal(t, "order_123", order.Ref)
	assert.Equal(t, "AX-00002", order.Receipt)

	sig := Sign("secret", "order_123", "pay_9")
	assert.True(t, rp.VerifyPayment("order_123", "pay_9", sig))

	bad := NewRazorpay(config.Gateway{KeyID: "rzp_test", KeySecret: "wrong", BaseURL: srv.URL})
	_, err = bad.CreateOrder(context.Background(), 1000, "INR", "AX-00002")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrGateway))
	assert.Contains(t, err.Error(), "Authentication failed")
}

func TestFromConfig(t *testing.T) {
	g, err := FromConfig(config.Gateway{Provider: "sandbox"})
	require.NoError(t, err)
	assert.IsType(t, &Sandbox{}, g)

	_, err = FromConfig(config.Gateway{Provider: "razorpay", KeyID: "k"})
	assert.Error(t, err)

	_, err = FromConfig(config.Gateway{Provider: "stripe"})
	assert.Error(t, err)
}
