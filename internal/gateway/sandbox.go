package gateway

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// Sandbox issues local orders and verifies captures with the same signature
// scheme as the live provider. Without a secret every capture is rejected.
type Sandbox struct {
	Secret string

	mu     sync.Mutex
	orders map[string]Order
}

func NewSandbox(secret string) *Sandbox {
	return &Sandbox{Secret: secret, orders: map[string]Order{}}
}

func (s *Sandbox) CreateOrder(ctx context.Context, amount int64, currency, receipt string) (Order, error) {
	if err := ctx.Err(); err != nil {
		return Order{}, err
	}
	if amount <= 0 {
		return Order{}, fmt.Errorf("%w: amount must be positive", ErrGateway)
	}
	o := Order{
		Ref:      "order_sbx_" + uuid.NewString(),
		Amount:   amount,
		Currency: currency,
		Receipt:  receipt,
		Status:   "created",
	}
	s.mu.Lock()
	s.orders[o.Ref] = o
	s.mu.Unlock()
	return o, nil
}

func (s *Sandbox) VerifyPayment(orderRef, paymentRef, signature string) bool {
	return verify(s.Secret, orderRef, paymentRef, signature)
}

// SignCapture produces the signature a client would receive for a capture.
func (s *Sandbox) SignCapture(orderRef, paymentRef string) string {
	return Sign(s.Secret, orderRef, paymentRef)
}

// Order returns a previously created sandbox order.
func (s *Sandbox) Order(ref string) (Order, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[ref]
	return o, ok
}
