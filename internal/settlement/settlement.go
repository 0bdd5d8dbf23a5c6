// Package settlement computes how a captured payment is split between the
// worker, the intermediary and the platform. Amounts are integers in the
// smallest currency unit and rates are basis points (1/100 of a percent).
package settlement

import (
	"errors"
	"fmt"
)

const BasisPoints = 10000

var ErrInvalidRates = errors.New("invalid distribution rates")

// Rates gives the worker and intermediary shares; the platform takes the rest.
type Rates struct {
	WorkerBP       int64 `json:"worker_bp" yaml:"worker_bp"`
	IntermediaryBP int64 `json:"intermediary_bp" yaml:"intermediary_bp"`
}

func (r Rates) Validate() error {
	if r.WorkerBP < 0 || r.IntermediaryBP < 0 {
		return fmt.Errorf("%w: negative rate", ErrInvalidRates)
	}
	if r.WorkerBP+r.IntermediaryBP > BasisPoints {
		return fmt.Errorf("%w: worker %d + intermediary %d exceeds %d bp", ErrInvalidRates, r.WorkerBP, r.IntermediaryBP, BasisPoints)
	}
	return nil
}

// Distribution is the three-way split of one client quote.
type Distribution struct {
	ClientQuote            int64 `json:"client_quote"`
	WorkerPayout           int64 `json:"worker_payout"`
	IntermediaryCommission int64 `json:"intermediary_commission"`
	PlatformFee            int64 `json:"platform_fee"`
}

// Balanced reports whether the three parts add up to the quote exactly.
func (d Distribution) Balanced() bool {
	return d.WorkerPayout+d.IntermediaryCommission+d.PlatformFee == d.ClientQuote &&
		d.WorkerPayout >= 0 && d.IntermediaryCommission >= 0 && d.PlatformFee >= 0
}

// Split floors the worker and intermediary shares; any rounding remainder
// goes to the platform fee.
func Split(amount int64, r Rates) (Distribution, error) {
	if amount <= 0 {
		return Distribution{}, fmt.Errorf("amount must be positive, got %d", amount)
	}
	if err := r.Validate(); err != nil {
		return Distribution{}, err
	}
	worker := share(amount, r.WorkerBP)
	intermediary := share(amount, r.IntermediaryBP)
	return Distribution{
		ClientQuote:            amount,
		WorkerPayout:           worker,
		IntermediaryCommission: intermediary,
		PlatformFee:            amount - worker - intermediary,
	}, nil
}

// Refund is the outcome of reversing a captured payment.
type Refund struct {
	ClientRefund         int64 `json:"client_refund"`
	WorkerRetained       int64 `json:"worker_retained"`
	IntermediaryRetained int64 `json:"intermediary_retained"`
	PlatformRetained     int64 `json:"platform_retained"`
}

// Total is everything accounted for; it always equals the captured amount.
func (r Refund) Total() int64 {
	return r.ClientRefund + r.WorkerRetained + r.IntermediaryRetained + r.PlatformRetained
}

// ComputeRefund reverses captured. When workStarted, the penalty rates are
// retained by the worker and intermediary before anything goes back to the
// client. requested caps the client refund; whatever is neither refunded nor
// retained by the worker side stays with the platform.
func ComputeRefund(captured, requested int64, workStarted bool, penalty Rates) (Refund, error) {
	if captured <= 0 {
		return Refund{}, fmt.Errorf("nothing captured to refund")
	}
	if requested <= 0 || requested > captured {
		return Refund{}, fmt.Errorf("refund amount %d outside (0, %d]", requested, captured)
	}
	if err := penalty.Validate(); err != nil {
		return Refund{}, err
	}
	var res Refund
	if workStarted {
		res.WorkerRetained = share(captured, penalty.WorkerBP)
		res.IntermediaryRetained = share(captured, penalty.IntermediaryBP)
	}
	refundable := captured - res.WorkerRetained - res.IntermediaryRetained
	res.ClientRefund = requested
	if res.ClientRefund > refundable {
		res.ClientRefund = refundable
	}
	res.PlatformRetained = captured - res.ClientRefund - res.WorkerRetained - res.IntermediaryRetained
	return res, nil
}

func share(amount, bp int64) int64 {
	return amount * bp / BasisPoints
}
