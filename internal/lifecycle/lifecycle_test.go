package lifecycle

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHappyPathToAutoApproval(t *testing.T) {
	path := []struct {
		ev Event
		to Status
	}{
		{EventAnalyze, StatusAnalyzing},
		{EventQuote, StatusQuoted},
		{EventRequestPayment, StatusPaymentPending},
		{EventCapturePayment, StatusPaid},
		{EventAssign, StatusAssigned},
		{EventStartWork, StatusInProgress},
		{EventSubmitForQC, StatusSubmittedForQC},
		{EventStartQC, StatusQCInProgress},
		{EventApproveQC, StatusQCApproved},
		{EventDeliver, StatusDelivered},
		{EventAutoApprove, StatusAutoApproved},
	}
	cur := StatusSubmitted
	for _, step := range path {
		next, err := Transition(cur, step.ev)
		require.NoError(t, err, "from %s on %s", cur, step.ev)
		require.Equal(t, step.to, next)
		cur = next
	}
	assert.True(t, Terminal(cur))
	assert.True(t, Settleable(cur))
}

func TestRevisionLoopReturnsToQC(t *testing.T) {
	cur := StatusDelivered
	for _, ev := range []Event{EventRequestRevision, EventStartRevision, EventSubmitForQC} {
		var err error
		cur, err = Transition(cur, ev)
		require.NoError(t, err)
	}
	assert.Equal(t, StatusSubmittedForQC, cur)
}

func TestQCRejectionResumesWork(t *testing.T) {
	s, err := Transition(StatusQCInProgress, EventRejectQC)
	require.NoError(t, err)
	require.Equal(t, StatusQCRejected, s)
	s, err = Transition(s, EventResumeWork)
	require.NoError(t, err)
	assert.Equal(t, StatusInProgress, s)
	assert.False(t, Can(StatusQCRejected, EventAssign))
}

func TestFailedPaymentStaysPending(t *testing.T) {
	s, err := Transition(StatusPaymentPending, EventFailPayment)
	require.NoError(t, err)
	assert.Equal(t, StatusPaymentPending, s)
}

func TestIllegalTransitionsAreRejected(t *testing.T) {
	legal := 0
	for _, s := range Statuses() {
		for _, ev := range Events() {
			next, err := Transition(s, ev)
			if _, ok := table[edge{s, ev}]; ok {
				legal++
				require.NoError(t, err)
				continue
			}
			require.Error(t, err, "%s on %s", s, ev)
			assert.True(t, errors.Is(err, ErrIllegalTransition))
			assert.Equal(t, s, next, "failed transition must not move the status")
			var te *TransitionError
			require.True(t, errors.As(err, &te))
			assert.Equal(t, s, te.From)
			assert.Equal(t, ev, te.Event)
		}
	}
	assert.Equal(t, len(table), legal)
}

func TestTerminalStatusesOnlyAllowRefund(t *testing.T) {
	for _, s := range []Status{StatusCompleted, StatusAutoApproved, StatusRefunded} {
		assert.Empty(t, Allowed(s), "status %s", s)
	}
	assert.Equal(t, []Event{EventRefund}, Allowed(StatusCancelled))
}

func TestCancellableStatuses(t *testing.T) {
	cancellable := map[Status]bool{
		StatusDraft: true, StatusSubmitted: true, StatusAnalyzing: true, StatusQuoted: true,
		StatusPaymentPending: true, StatusPaid: true, StatusAssigning: true, StatusAssigned: true,
		StatusInProgress: true,
	}
	for _, s := range Statuses() {
		assert.Equal(t, cancellable[s], Can(s, EventCancel), "status %s", s)
	}
}

func TestParseRejectsUnknownValues(t *testing.T) {
	s, err := ParseStatus("qc_in_progress")
	require.NoError(t, err)
	assert.Equal(t, StatusQCInProgress, s)

	_, err = ParseStatus("review")
	assert.Error(t, err)
	_, err = ParseEvent("teleport")
	assert.Error(t, err)
	assert.Len(t, Statuses(), 20)
}
