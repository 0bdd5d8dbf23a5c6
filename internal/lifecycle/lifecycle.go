// Package lifecycle is the status registry for AssignX projects: the closed set
// of statuses, the events that move between them and the transition table.
// Nothing outside this package decides what status follows another.
package lifecycle

import (
	"errors"
	"fmt"
	"sort"
)

type Status string

const (
	StatusDraft             Status = "draft"
	StatusSubmitted         Status = "submitted"
	StatusAnalyzing         Status = "analyzing"
	StatusQuoted            Status = "quoted"
	StatusPaymentPending    Status = "payment_pending"
	StatusPaid              Status = "paid"
	StatusAssigning         Status = "assigning"
	StatusAssigned          Status = "assigned"
	StatusInProgress        Status = "in_progress"
	StatusSubmittedForQC    Status = "submitted_for_qc"
	StatusQCInProgress      Status = "qc_in_progress"
	StatusQCApproved        Status = "qc_approved"
	StatusQCRejected        Status = "qc_rejected"
	StatusDelivered         Status = "delivered"
	StatusRevisionRequested Status = "revision_requested"
	StatusInRevision        Status = "in_revision"
	StatusCompleted         Status = "completed"
	StatusAutoApproved      Status = "auto_approved"
	StatusCancelled         Status = "cancelled"
	StatusRefunded          Status = "refunded"
)

type Event string

const (
	EventSubmit          Event = "submit"
	EventAnalyze         Event = "analyze"
	EventQuote           Event = "quote"
	EventRequote         Event = "requote"
	EventRequestPayment  Event = "request_payment"
	EventCapturePayment  Event = "capture_payment"
	EventFailPayment     Event = "fail_payment"
	EventStartAssignment Event = "start_assignment"
	EventAssign          Event = "assign"
	EventDecline         Event = "decline"
	EventReassign        Event = "reassign"
	EventStartWork       Event = "start_work"
	EventSubmitForQC     Event = "submit_for_qc"
	EventStartQC         Event = "start_qc"
	EventApproveQC       Event = "approve_qc"
	EventRejectQC        Event = "reject_qc"
	EventResumeWork      Event = "resume_work"
	EventDeliver         Event = "deliver"
	EventClientApprove   Event = "client_approve"
	EventRequestRevision Event = "request_revision"
	EventStartRevision   Event = "start_revision"
	EventAutoApprove     Event = "auto_approve"
	EventCancel          Event = "cancel"
	EventRefund          Event = "refund"
)

// ErrIllegalTransition is matched by every *TransitionError.
var ErrIllegalTransition = errors.New("illegal transition")

// TransitionError reports an event that is not legal from the current status.
type TransitionError struct {
	From  Status
	Event Event
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("illegal transition: event %s not allowed from status %s", e.Event, e.From)
}

func (e *TransitionError) Is(target error) bool {
	return target == ErrIllegalTransition
}

type edge struct {
	from  Status
	event Event
}

var table = map[edge]Status{
	{StatusDraft, EventSubmit}: StatusSubmitted,
	{StatusDraft, EventCancel}: StatusCancelled,

	{StatusSubmitted, EventAnalyze}: StatusAnalyzing,
	{StatusSubmitted, EventCancel}:  StatusCancelled,

	{StatusAnalyzing, EventQuote}:  StatusQuoted,
	{StatusAnalyzing, EventCancel}: StatusCancelled,

	{StatusQuoted, EventRequote}:        StatusAnalyzing,
	{StatusQuoted, EventRequestPayment}: StatusPaymentPending,
	{StatusQuoted, EventCancel}:         StatusCancelled,

	// a failed capture keeps the project payable without a new quote
	{StatusPaymentPending, EventCapturePayment}: StatusPaid,
	{StatusPaymentPending, EventFailPayment}:    StatusPaymentPending,
	{StatusPaymentPending, EventCancel}:         StatusCancelled,

	{StatusPaid, EventStartAssignment}: StatusAssigning,
	{StatusPaid, EventAssign}:          StatusAssigned,
	{StatusPaid, EventCancel}:          StatusCancelled,

	{StatusAssigning, EventAssign}: StatusAssigned,
	{StatusAssigning, EventCancel}: StatusCancelled,

	{StatusAssigned, EventDecline}:   StatusAssigning,
	{StatusAssigned, EventReassign}:  StatusAssigned,
	{StatusAssigned, EventStartWork}: StatusInProgress,
	{StatusAssigned, EventCancel}:    StatusCancelled,

	{StatusInProgress, EventSubmitForQC}: StatusSubmittedForQC,
	{StatusInProgress, EventReassign}:    StatusAssigned,
	{StatusInProgress, EventCancel}:      StatusCancelled,

	{StatusSubmittedForQC, EventStartQC}: StatusQCInProgress,

	{StatusQCInProgress, EventApproveQC}: StatusQCApproved,
	{StatusQCInProgress, EventRejectQC}:  StatusQCRejected,

	// rejected work resumes where it was, not from a fresh assignment
	{StatusQCRejected, EventResumeWork}: StatusInProgress,

	{StatusQCApproved, EventDeliver}: StatusDelivered,

	{StatusDelivered, EventClientApprove}:   StatusCompleted,
	{StatusDelivered, EventRequestRevision}: StatusRevisionRequested,
	{StatusDelivered, EventAutoApprove}:     StatusAutoApproved,

	{StatusRevisionRequested, EventStartRevision}: StatusInRevision,
	{StatusInRevision, EventSubmitForQC}:          StatusSubmittedForQC,

	// cancellation does not move money; refund does
	{StatusCancelled, EventRefund}: StatusRefunded,
}

var statuses = []Status{
	StatusDraft, StatusSubmitted, StatusAnalyzing, StatusQuoted, StatusPaymentPending, StatusPaid,
	StatusAssigning, StatusAssigned, StatusInProgress, StatusSubmittedForQC, StatusQCInProgress,
	StatusQCApproved, StatusQCRejected, StatusDelivered, StatusRevisionRequested, StatusInRevision,
	StatusCompleted, StatusAutoApproved, StatusCancelled, StatusRefunded,
}

var events = []Event{
	EventSubmit, EventAnalyze, EventQuote, EventRequote, EventRequestPayment, EventCapturePayment,
	EventFailPayment, EventStartAssignment, EventAssign, EventDecline, EventReassign, EventStartWork,
	EventSubmitForQC, EventStartQC, EventApproveQC, EventRejectQC, EventResumeWork, EventDeliver,
	EventClientApprove, EventRequestRevision, EventStartRevision, EventAutoApprove, EventCancel, EventRefund,
}

// Transition returns the status reached by applying ev to from.
func Transition(from Status, ev Event) (Status, error) {
	to, ok := table[edge{from, ev}]
	if !ok {
		return from, &TransitionError{From: from, Event: ev}
	}
	return to, nil
}

// Can reports whether ev is legal from s.
func Can(s Status, ev Event) bool {
	_, ok := table[edge{s, ev}]
	return ok
}

// Allowed lists the events legal from s in a stable order.
func Allowed(s Status) []Event {
	var res []Event
	for _, ev := range events {
		if Can(s, ev) {
			res = append(res, ev)
		}
	}
	return res
}

// Terminal reports whether no further lifecycle work can happen in s.
// Cancelled still admits the refund follow-up.
func Terminal(s Status) bool {
	switch s {
	case StatusCompleted, StatusAutoApproved, StatusCancelled, StatusRefunded:
		return true
	}
	return false
}

// Settleable reports whether s releases money to the worker side.
func Settleable(s Status) bool {
	return s == StatusCompleted || s == StatusAutoApproved
}

// WorkStarted reports whether a cancellation from s happens after a worker took the job.
func WorkStarted(s Status) bool {
	return s == StatusAssigned || s == StatusInProgress
}

func (s Status) Valid() bool {
	for _, known := range statuses {
		if s == known {
			return true
		}
	}
	return false
}

func (e Event) Valid() bool {
	for _, known := range events {
		if e == known {
			return true
		}
	}
	return false
}

// ParseStatus rejects any string outside the closed status set.
func ParseStatus(v string) (Status, error) {
	s := Status(v)
	if !s.Valid() {
		return "", fmt.Errorf("unknown status %q", v)
	}
	return s, nil
}

func ParseEvent(v string) (Event, error) {
	e := Event(v)
	if !e.Valid() {
		return "", fmt.Errorf("unknown event %q", v)
	}
	return e, nil
}

// Statuses returns every status in lifecycle order.
func Statuses() []Status {
	out := make([]Status, len(statuses))
	copy(out, statuses)
	return out
}

// Events returns every event, sorted by name.
func Events() []Event {
	out := make([]Event, len(events))
	copy(out, events)
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
