package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"assignx/internal/domain"
	"assignx/internal/engine/auth"
	"assignx/internal/events"
	"assignx/internal/lifecycle"
	"assignx/internal/repo"
	"assignx/internal/settlement"
)

// GatewayActor is recorded on captures, which are authenticated by the
// gateway signature rather than by an actor.
const GatewayActor = "gateway"

// RequestPayment opens a gateway order for the current quote. The order is
// created before the transaction; asking again while payment is pending
// returns the open order.
func (e Engine) RequestPayment(ctx context.Context, projectID, actorID string) (domain.Payment, error) {
	p, err := e.GetProject(ctx, projectID)
	if err != nil {
		return domain.Payment{}, err
	}
	if _, err := e.Auth.RequireParty(ctx, nil, actorID, auth.PermPaymentRequest, p.ClientID); err != nil {
		return domain.Payment{}, err
	}
	qt, err := e.Repo.CurrentQuote(ctx, nil, p.ID)
	if errors.Is(err, repo.ErrNotFound) {
		return domain.Payment{}, &lifecycle.TransitionError{From: p.Status, Event: lifecycle.EventRequestPayment}
	}
	if err != nil {
		return domain.Payment{}, err
	}
	if p.Status == lifecycle.StatusPaymentPending {
		if pending, err := e.Repo.PendingPayment(ctx, nil, p.ID, qt.ID); err == nil {
			return pending, nil
		}
	}
	if !lifecycle.Can(p.Status, lifecycle.EventRequestPayment) {
		return domain.Payment{}, &lifecycle.TransitionError{From: p.Status, Event: lifecycle.EventRequestPayment}
	}

	currency := e.Config.Pricing.Currency
	order, err := e.Gateway.CreateOrder(ctx, qt.Amount, currency, p.Number)
	if err != nil {
		return domain.Payment{}, fmt.Errorf("create order for %s: %w", p.Number, err)
	}
	if order.Currency != "" {
		currency = order.Currency
	}

	var pay domain.Payment
	err = e.inTx(ctx, func(tx *sql.Tx, fx *effects) error {
		cur, err := e.loadProject(ctx, tx, p.ID)
		if err != nil {
			return err
		}
		curQuote, err := e.Repo.CurrentQuote(ctx, tx, cur.ID)
		if err != nil {
			return err
		}
		if curQuote.ID != qt.ID {
			return fmt.Errorf("%w: quote %s replaced by %s", ErrStaleQuote, qt.ID, curQuote.ID)
		}
		if cur.Status == lifecycle.StatusPaymentPending {
			// a concurrent request won; its order stands and ours is abandoned
			pay, err = e.Repo.PendingPayment(ctx, tx, cur.ID, qt.ID)
			return err
		}
		pay = domain.Payment{
			ID:        uuid.NewString(),
			ProjectID: cur.ID,
			QuoteID:   qt.ID,
			OrderRef:  order.Ref,
			Amount:    qt.Amount,
			Currency:  currency,
			State:     domain.PaymentPending,
			CreatedAt: e.stamp(),
		}
		if err := e.advance(ctx, tx, &cur, lifecycle.EventRequestPayment, actorID); err != nil {
			return err
		}
		if err := e.Repo.InsertPayment(ctx, tx, pay); err != nil {
			return err
		}
		return e.appendEvent(ctx, tx, events.PaymentRequested, cur.ID, "payment", pay.ID, actorID, events.EventPayload{
			"order_ref": pay.OrderRef,
			"amount":    pay.Amount,
			"currency":  pay.Currency,
		})
	})
	if err != nil {
		return domain.Payment{}, err
	}
	return pay, nil
}

// CapturePayment confirms a gateway payment against the project's current
// quote and fixes the three-party distribution. Replaying the same capture
// returns the stored preview without writing anything.
func (e Engine) CapturePayment(ctx context.Context, projectID, quoteID, paymentRef, signature string) (domain.SettlementPreview, error) {
	paymentRef = strings.TrimSpace(paymentRef)
	if paymentRef == "" {
		return domain.SettlementPreview{}, fmt.Errorf("%w: payment ref required", ErrInvalidInput)
	}
	var preview domain.SettlementPreview
	var verifyErr error
	err := e.inTx(ctx, func(tx *sql.Tx, fx *effects) error {
		p, err := e.loadProject(ctx, tx, projectID)
		if err != nil {
			return err
		}
		qt, err := e.Repo.CurrentQuote(ctx, tx, p.ID)
		if errors.Is(err, repo.ErrNotFound) {
			return &lifecycle.TransitionError{From: p.Status, Event: lifecycle.EventCapturePayment}
		}
		if err != nil {
			return err
		}
		if quoteID != qt.ID {
			return fmt.Errorf("%w: %s is not the current quote of %s", ErrStaleQuote, quoteID, p.Number)
		}

		captured, err := e.Repo.CapturedPayment(ctx, tx, p.ID)
		switch {
		case err == nil:
			if captured.QuoteID == quoteID && derefString(captured.PaymentRef) == paymentRef {
				preview = previewOf(p, captured)
				preview.AlreadyPaid = true
				return nil
			}
			return fmt.Errorf("%w: %s captured as %s", ErrAlreadyPaid, p.Number, derefString(captured.PaymentRef))
		case !errors.Is(err, repo.ErrNotFound):
			return err
		}

		if !lifecycle.Can(p.Status, lifecycle.EventCapturePayment) {
			return &lifecycle.TransitionError{From: p.Status, Event: lifecycle.EventCapturePayment}
		}
		pending, err := e.Repo.PendingPayment(ctx, tx, p.ID, qt.ID)
		if errors.Is(err, repo.ErrNotFound) {
			return fmt.Errorf("%w: no open order for quote %s", ErrIllegalTransition, qt.ID)
		}
		if err != nil {
			return err
		}

		if !e.Gateway.VerifyPayment(pending.OrderRef, paymentRef, signature) {
			if err := e.Repo.RecordPaymentFailure(ctx, tx, pending.ID); err != nil {
				return err
			}
			if err := e.advance(ctx, tx, &p, lifecycle.EventFailPayment, GatewayActor); err != nil {
				return err
			}
			if err := e.appendEvent(ctx, tx, events.PaymentFailed, p.ID, "payment", pending.ID, GatewayActor, events.EventPayload{
				"order_ref":   pending.OrderRef,
				"payment_ref": paymentRef,
				"attempt":     pending.FailedAttempts + 1,
			}); err != nil {
				return err
			}
			fx.notify(p.ClientID, events.PaymentFailed, projectPayload(p))
			verifyErr = fmt.Errorf("%w: order %s payment %s", ErrPaymentVerification, pending.OrderRef, paymentRef)
			return nil
		}

		if other, err := e.Repo.GetPaymentByRef(ctx, tx, paymentRef); err == nil {
			return fmt.Errorf("%w: payment %s already captured for project %s", ErrAlreadyPaid, paymentRef, other.ProjectID)
		} else if !errors.Is(err, repo.ErrNotFound) {
			return err
		}

		dist, err := settlement.Split(qt.Amount, e.Config.Rates())
		if err != nil {
			return err
		}
		now := e.stamp()
		if err := e.Repo.MarkPaymentCaptured(ctx, tx, pending.ID, paymentRef, now); err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("%w: %s", ErrAlreadyPaid, p.Number)
			}
			return err
		}
		if err := e.Repo.SetQuoteState(ctx, tx, qt.ID, domain.QuoteAccepted); err != nil {
			return err
		}
		if err := e.Repo.InsertLedgerEntry(ctx, tx, domain.LedgerEntry{
			ID:        uuid.NewString(),
			ProjectID: p.ID,
			OwnerKind: domain.OwnerClient,
			OwnerID:   p.ClientID,
			Amount:    -dist.ClientQuote,
			Reason:    domain.LedgerCapture,
			CreatedAt: now,
		}); err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("%w: %s", ErrAlreadyPaid, p.Number)
			}
			return err
		}
		p.ClientQuote = dist.ClientQuote
		p.WorkerPayout = dist.WorkerPayout
		p.IntermediaryCommission = dist.IntermediaryCommission
		p.PlatformFee = dist.PlatformFee
		if err := e.advance(ctx, tx, &p, lifecycle.EventCapturePayment, GatewayActor); err != nil {
			return err
		}
		if err := e.appendEvent(ctx, tx, events.PaymentCaptured, p.ID, "payment", pending.ID, GatewayActor, events.EventPayload{
			"order_ref":               pending.OrderRef,
			"payment_ref":             paymentRef,
			"client_quote":            dist.ClientQuote,
			"worker_payout":           dist.WorkerPayout,
			"intermediary_commission": dist.IntermediaryCommission,
			"platform_fee":            dist.PlatformFee,
		}); err != nil {
			return err
		}
		pending.State = domain.PaymentCaptured
		pending.PaymentRef = ptr(paymentRef)
		pending.CapturedAt = ptr(now)
		preview = previewOf(p, pending)
		payload := projectPayload(p)
		payload["amount"] = dist.ClientQuote
		fx.notifyParties(events.PaymentCaptured, payload, p.ClientID, p.IntermediaryID)
		return nil
	})
	if err != nil {
		return domain.SettlementPreview{}, err
	}
	if verifyErr != nil {
		e.logger().Info("payment verification failed", zap.String("project_id", projectID), zap.String("payment_ref", paymentRef))
		return domain.SettlementPreview{}, verifyErr
	}
	return preview, nil
}

func previewOf(p domain.Project, pay domain.Payment) domain.SettlementPreview {
	return domain.SettlementPreview{
		ProjectID:              p.ID,
		QuoteID:                pay.QuoteID,
		PaymentID:              pay.ID,
		PaymentRef:             derefString(pay.PaymentRef),
		ClientQuote:            p.ClientQuote,
		WorkerPayout:           p.WorkerPayout,
		IntermediaryCommission: p.IntermediaryCommission,
		PlatformFee:            p.PlatformFee,
	}
}
