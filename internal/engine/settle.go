package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"assignx/internal/domain"
	"assignx/internal/engine/auth"
	"assignx/internal/events"
	"assignx/internal/lifecycle"
	"assignx/internal/repo"
	"assignx/internal/settlement"
)

// Settle credits worker, intermediary and platform for a finished project.
// Approval settles on its own; calling Settle afterwards reports
// ErrAlreadySettled.
func (e Engine) Settle(ctx context.Context, projectID, actorID string) ([]domain.LedgerEntry, error) {
	var entries []domain.LedgerEntry
	err := e.inTx(ctx, func(tx *sql.Tx, fx *effects) error {
		p, err := e.loadProject(ctx, tx, projectID)
		if err != nil {
			return err
		}
		if _, err := e.Auth.RequireParty(ctx, tx, actorID, auth.PermSettle, p.IntermediaryID); err != nil {
			return err
		}
		entries, err = e.settle(ctx, tx, p, actorID)
		return err
	})
	return entries, err
}

// settle writes the three settlement credits using the amounts fixed at
// capture. The client was debited at capture and is not touched here.
func (e Engine) settle(ctx context.Context, tx *sql.Tx, p domain.Project, actorID string) ([]domain.LedgerEntry, error) {
	done, err := e.Repo.HasLedgerReason(ctx, tx, p.ID,
		domain.LedgerSettlementWorker, domain.LedgerSettlementIntermediary, domain.LedgerSettlementPlatform)
	if err != nil {
		return nil, err
	}
	if done {
		return nil, fmt.Errorf("%w: %s", ErrAlreadySettled, p.Number)
	}
	if !lifecycle.Settleable(p.Status) {
		return nil, fmt.Errorf("%w: cannot settle %s from %s", ErrIllegalTransition, p.Number, p.Status)
	}
	captured, err := e.Repo.CapturedPayment(ctx, tx, p.ID)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s has no captured payment", ErrIllegalTransition, p.Number)
	}
	if err != nil {
		return nil, err
	}
	dist := settlement.Distribution{
		ClientQuote:            p.ClientQuote,
		WorkerPayout:           p.WorkerPayout,
		IntermediaryCommission: p.IntermediaryCommission,
		PlatformFee:            p.PlatformFee,
	}
	if !dist.Balanced() || dist.ClientQuote != captured.Amount {
		return nil, fmt.Errorf("%s: distribution %+v does not match captured %d", p.Number, dist, captured.Amount)
	}
	now := e.stamp()
	entries := []domain.LedgerEntry{
		{OwnerKind: domain.OwnerWorker, OwnerID: derefString(p.WorkerID), Amount: dist.WorkerPayout, Reason: domain.LedgerSettlementWorker},
		{OwnerKind: domain.OwnerIntermediary, OwnerID: p.IntermediaryID, Amount: dist.IntermediaryCommission, Reason: domain.LedgerSettlementIntermediary},
		{OwnerKind: domain.OwnerPlatform, OwnerID: domain.PlatformOwnerID, Amount: dist.PlatformFee, Reason: domain.LedgerSettlementPlatform},
	}
	for i := range entries {
		entries[i].ID = uuid.NewString()
		entries[i].ProjectID = p.ID
		entries[i].CreatedAt = now
		if err := e.Repo.InsertLedgerEntry(ctx, tx, entries[i]); err != nil {
			if isUniqueViolation(err) {
				return nil, fmt.Errorf("%w: %s", ErrAlreadySettled, p.Number)
			}
			return nil, err
		}
	}
	if err := e.appendEvent(ctx, tx, events.ProjectSettled, p.ID, "project", p.ID, actorID, events.EventPayload{
		"worker_payout":           dist.WorkerPayout,
		"intermediary_commission": dist.IntermediaryCommission,
		"platform_fee":            dist.PlatformFee,
	}); err != nil {
		return nil, err
	}
	return entries, nil
}

// RefundResult is the split applied to a refunded project.
type RefundResult struct {
	Project domain.Project       `json:"project"`
	Refund  settlement.Refund    `json:"refund"`
	Ledger  []domain.LedgerEntry `json:"ledger"`
}

// Refund reverses the capture of a cancelled project. Work that had started
// keeps the configured penalty shares for the worker and intermediary.
func (e Engine) Refund(ctx context.Context, projectID string, amount int64, actorID string) (RefundResult, error) {
	if amount <= 0 {
		return RefundResult{}, fmt.Errorf("%w: refund must be positive, got %d", ErrInvalidAmount, amount)
	}
	var res RefundResult
	err := e.inTx(ctx, func(tx *sql.Tx, fx *effects) error {
		p, err := e.loadProject(ctx, tx, projectID)
		if err != nil {
			return err
		}
		if _, err := e.Auth.RequireParty(ctx, tx, actorID, auth.PermRefund, p.IntermediaryID); err != nil {
			return err
		}
		if !lifecycle.Can(p.Status, lifecycle.EventRefund) {
			return &lifecycle.TransitionError{From: p.Status, Event: lifecycle.EventRefund}
		}
		captured, err := e.Repo.CapturedPayment(ctx, tx, p.ID)
		if errors.Is(err, repo.ErrNotFound) {
			return fmt.Errorf("%w: %s has no captured payment", ErrIllegalTransition, p.Number)
		}
		if err != nil {
			return err
		}
		if amount > p.ClientQuote {
			return fmt.Errorf("%w: refund %d exceeds quote %d", ErrInvalidAmount, amount, p.ClientQuote)
		}
		workStarted := lifecycle.WorkStarted(lifecycle.Status(p.CancelledFrom))
		split, err := settlement.ComputeRefund(captured.Amount, amount, workStarted, e.Config.Penalty)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidAmount, err)
		}
		now := e.stamp()
		rows := []domain.LedgerEntry{
			{OwnerKind: domain.OwnerClient, OwnerID: p.ClientID, Amount: split.ClientRefund, Reason: domain.LedgerRefundClient},
		}
		if split.WorkerRetained > 0 {
			rows = append(rows, domain.LedgerEntry{OwnerKind: domain.OwnerWorker, OwnerID: derefString(p.WorkerID), Amount: split.WorkerRetained, Reason: domain.LedgerRefundWorker})
		}
		if split.IntermediaryRetained > 0 {
			rows = append(rows, domain.LedgerEntry{OwnerKind: domain.OwnerIntermediary, OwnerID: p.IntermediaryID, Amount: split.IntermediaryRetained, Reason: domain.LedgerRefundIntermediary})
		}
		if split.PlatformRetained > 0 {
			rows = append(rows, domain.LedgerEntry{OwnerKind: domain.OwnerPlatform, OwnerID: domain.PlatformOwnerID, Amount: split.PlatformRetained, Reason: domain.LedgerRefundPlatform})
		}
		for i := range rows {
			rows[i].ID = uuid.NewString()
			rows[i].ProjectID = p.ID
			rows[i].CreatedAt = now
			if strings.TrimSpace(rows[i].OwnerID) == "" {
				// retained share with nobody to hold it stays with the platform
				rows[i].OwnerKind = domain.OwnerPlatform
				rows[i].OwnerID = domain.PlatformOwnerID
			}
			if err := e.Repo.InsertLedgerEntry(ctx, tx, rows[i]); err != nil {
				if isUniqueViolation(err) {
					return fmt.Errorf("%w: %s already refunded", ErrAlreadySettled, p.Number)
				}
				return err
			}
		}
		if err := e.advance(ctx, tx, &p, lifecycle.EventRefund, actorID); err != nil {
			return err
		}
		if err := e.appendEvent(ctx, tx, events.ProjectRefunded, p.ID, "project", p.ID, actorID, events.EventPayload{
			"requested":             amount,
			"client_refund":         split.ClientRefund,
			"worker_retained":       split.WorkerRetained,
			"intermediary_retained": split.IntermediaryRetained,
			"platform_retained":     split.PlatformRetained,
			"cancelled_from":        p.CancelledFrom,
		}); err != nil {
			return err
		}
		payload := projectPayload(p)
		payload["client_refund"] = split.ClientRefund
		fx.notify(p.ClientID, events.ProjectRefunded, payload)
		res = RefundResult{Project: p, Refund: split, Ledger: rows}
		return nil
	})
	return res, err
}

// Cancel stops a project before work is delivered. It moves no money;
// Refund does that from the cancelled status.
func (e Engine) Cancel(ctx context.Context, projectID, reason, actorID string) (domain.Project, error) {
	var p domain.Project
	err := e.inTx(ctx, func(tx *sql.Tx, fx *effects) error {
		var err error
		if p, err = e.loadProject(ctx, tx, projectID); err != nil {
			return err
		}
		actor, err := e.Auth.Require(ctx, tx, actorID, auth.PermCancel)
		if err != nil {
			return err
		}
		owner := p.IntermediaryID
		if actor.Role == domain.RoleClient {
			owner = p.ClientID
		}
		// an unclaimed project belongs to no intermediary yet
		if owner == "" && actor.Role != domain.RoleAdmin {
			return auth.ForbiddenError{Permission: auth.PermCancel + ":own", ActorID: actorID, Role: actor.Role}
		}
		if _, err := e.Auth.RequireParty(ctx, tx, actorID, auth.PermCancel, owner); err != nil {
			return err
		}
		if !lifecycle.Can(p.Status, lifecycle.EventCancel) {
			return &lifecycle.TransitionError{From: p.Status, Event: lifecycle.EventCancel}
		}
		from := p.Status
		if err := e.disarmTimer(ctx, tx, p, "cancelled", actorID, fx); err != nil {
			return err
		}
		released, err := e.releaseAssignment(ctx, tx, p, domain.AssignmentReleased, "cancelled")
		if err != nil {
			return err
		}
		if err := e.Repo.FailPendingPayments(ctx, tx, p.ID); err != nil {
			return err
		}
		_, err = e.Repo.CapturedPayment(ctx, tx, p.ID)
		refundDue := err == nil
		if err != nil && !errors.Is(err, repo.ErrNotFound) {
			return err
		}
		p.CancelledFrom = string(from)
		if err := e.advance(ctx, tx, &p, lifecycle.EventCancel, actorID); err != nil {
			return err
		}
		if err := e.appendEvent(ctx, tx, events.ProjectCancelled, p.ID, "project", p.ID, actorID, events.EventPayload{
			"reason":         strings.TrimSpace(reason),
			"cancelled_from": string(from),
			"refund_due":     refundDue,
		}); err != nil {
			return err
		}
		payload := projectPayload(p)
		payload["refund_due"] = refundDue
		recipients := []string{p.ClientID, p.IntermediaryID}
		if released != nil {
			recipients = append(recipients, released.WorkerID)
		}
		fx.notifyParties(events.ProjectCancelled, payload, recipients...)
		return nil
	})
	return p, err
}
