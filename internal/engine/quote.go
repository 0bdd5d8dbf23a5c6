package engine

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"assignx/internal/domain"
	"assignx/internal/engine/auth"
	"assignx/internal/events"
	"assignx/internal/lifecycle"
)

// IssueQuote prices an analyzed project. Issuing against a project that is
// already quoted, and not yet paid, replaces the active quote.
func (e Engine) IssueQuote(ctx context.Context, projectID string, amount int64, notes, actorID string) (domain.Quote, error) {
	if amount <= 0 {
		return domain.Quote{}, fmt.Errorf("%w: quote must be positive, got %d", ErrInvalidAmount, amount)
	}
	if limit := e.Config.Pricing.MaxQuote; limit > 0 && amount > limit {
		return domain.Quote{}, fmt.Errorf("%w: quote %d exceeds maximum %d", ErrInvalidAmount, amount, limit)
	}
	var qt domain.Quote
	err := e.inTx(ctx, func(tx *sql.Tx, fx *effects) error {
		p, err := e.loadProject(ctx, tx, projectID)
		if err != nil {
			return err
		}
		if _, err := e.Auth.RequireParty(ctx, tx, actorID, auth.PermQuoteIssue, p.IntermediaryID); err != nil {
			return err
		}
		requote := p.Status == lifecycle.StatusQuoted
		if requote {
			if err := e.advance(ctx, tx, &p, lifecycle.EventRequote, actorID); err != nil {
				return err
			}
		}
		if !lifecycle.Can(p.Status, lifecycle.EventQuote) {
			return &lifecycle.TransitionError{From: p.Status, Event: lifecycle.EventQuote}
		}
		superseded, err := e.Repo.SupersedeActiveQuotes(ctx, tx, p.ID)
		if err != nil {
			return err
		}
		qt = domain.Quote{
			ID:        uuid.NewString(),
			ProjectID: p.ID,
			Amount:    amount,
			Notes:     strings.TrimSpace(notes),
			IssuedBy:  actorID,
			IssuedAt:  e.stamp(),
			State:     domain.QuoteActive,
		}
		if err := e.Repo.InsertQuote(ctx, tx, qt); err != nil {
			return err
		}
		p.ClientQuote = amount
		if err := e.advance(ctx, tx, &p, lifecycle.EventQuote, actorID); err != nil {
			return err
		}
		if err := e.appendEvent(ctx, tx, events.QuoteIssued, p.ID, "quote", qt.ID, actorID, events.EventPayload{
			"amount":     amount,
			"superseded": superseded,
			"requote":    requote,
		}); err != nil {
			return err
		}
		payload := projectPayload(p)
		payload["quote_id"] = qt.ID
		payload["amount"] = amount
		fx.notify(p.ClientID, events.QuoteIssued, payload)
		return nil
	})
	return qt, err
}
