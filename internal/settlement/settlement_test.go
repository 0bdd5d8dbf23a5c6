package settlement

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var defaultRates = Rates{WorkerBP: 6500, IntermediaryBP: 1500}

func TestSplitRoundTripQuote(t *testing.T) {
	d, err := Split(250000, defaultRates)
	require.NoError(t, err)
	assert.Equal(t, int64(162500), d.WorkerPayout)
	assert.Equal(t, int64(37500), d.IntermediaryCommission)
	assert.Equal(t, int64(50000), d.PlatformFee)
	assert.True(t, d.Balanced())
}

func TestSplitRemainderGoesToPlatform(t *testing.T) {
	rates := Rates{WorkerBP: 3333, IntermediaryBP: 3333}
	d, err := Split(101, rates)
	require.NoError(t, err)
	// 101*3333/10000 = 33.66 -> 33 each, platform absorbs the rest
	assert.Equal(t, int64(33), d.WorkerPayout)
	assert.Equal(t, int64(33), d.IntermediaryCommission)
	assert.Equal(t, int64(35), d.PlatformFee)
	assert.True(t, d.Balanced())
}

func TestSplitConservesForManyAmounts(t *testing.T) {
	rateSets := []Rates{
		defaultRates,
		{WorkerBP: 7000, IntermediaryBP: 3000},
		{WorkerBP: 1, IntermediaryBP: 9998},
		{WorkerBP: 0, IntermediaryBP: 0},
		{WorkerBP: 4999, IntermediaryBP: 2501},
	}
	for _, r := range rateSets {
		for amount := int64(1); amount <= 5000; amount += 7 {
			d, err := Split(amount, r)
			require.NoError(t, err)
			require.True(t, d.Balanced(), "amount %d rates %+v -> %+v", amount, r, d)
			require.LessOrEqual(t, d.WorkerPayout*BasisPoints, amount*r.WorkerBP)
		}
	}
}

func TestSplitRejectsBadInput(t *testing.T) {
	_, err := Split(0, defaultRates)
	assert.Error(t, err)
	_, err = Split(100, Rates{WorkerBP: 8000, IntermediaryBP: 2500})
	assert.True(t, errors.Is(err, ErrInvalidRates))
	_, err = Split(100, Rates{WorkerBP: -1})
	assert.True(t, errors.Is(err, ErrInvalidRates))
}

func TestComputeRefundFullReversalBeforeWork(t *testing.T) {
	r, err := ComputeRefund(200000, 200000, false, Rates{WorkerBP: 2000, IntermediaryBP: 1000})
	require.NoError(t, err)
	assert.Equal(t, Refund{ClientRefund: 200000}, r)
	assert.Equal(t, int64(200000), r.Total())
}

func TestComputeRefundAppliesPenaltyAfterWorkStarted(t *testing.T) {
	r, err := ComputeRefund(200000, 200000, true, Rates{WorkerBP: 2000, IntermediaryBP: 1000})
	require.NoError(t, err)
	assert.Equal(t, int64(40000), r.WorkerRetained)
	assert.Equal(t, int64(20000), r.IntermediaryRetained)
	assert.Equal(t, int64(140000), r.ClientRefund)
	assert.Zero(t, r.PlatformRetained)
	assert.Equal(t, int64(200000), r.Total())
}

func TestComputeRefundPartialKeepsRemainderOnPlatform(t *testing.T) {
	r, err := ComputeRefund(200000, 50000, false, Rates{})
	require.NoError(t, err)
	assert.Equal(t, int64(50000), r.ClientRefund)
	assert.Equal(t, int64(150000), r.PlatformRetained)
	assert.Equal(t, int64(200000), r.Total())
}

func TestComputeRefundRejectsOutOfRange(t *testing.T) {
	_, err := ComputeRefund(1000, 0, false, Rates{})
	assert.Error(t, err)
	_, err = ComputeRefund(1000, 1001, false, Rates{})
	assert.Error(t, err)
	_, err = ComputeRefund(0, 1, false, Rates{})
	assert.Error(t, err)
}
