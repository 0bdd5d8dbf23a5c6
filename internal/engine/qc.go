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

const (
	DecisionApprove = "approve"
	DecisionReject  = "reject"
)

func cleanRefs(refs []string) []string {
	var res []string
	seen := map[string]bool{}
	for _, r := range refs {
		r = strings.TrimSpace(r)
		if r == "" || seen[r] {
			continue
		}
		seen[r] = true
		res = append(res, r)
	}
	return res
}

func (e Engine) storeDeliverables(ctx context.Context, tx *sql.Tx, projectID, kind, actorID string, refs []string) (int, error) {
	round, err := e.Repo.LatestRound(ctx, tx, projectID, kind)
	if err != nil {
		return 0, err
	}
	round++
	now := e.stamp()
	items := make([]domain.Deliverable, 0, len(refs))
	for _, ref := range refs {
		items = append(items, domain.Deliverable{
			ID:        uuid.NewString(),
			ProjectID: projectID,
			Ref:       ref,
			Kind:      kind,
			Round:     round,
			CreatedBy: actorID,
			CreatedAt: now,
		})
	}
	return round, e.Repo.InsertDeliverables(ctx, tx, items)
}

// SubmitForQC hands the worker's deliverables to the intermediary, first
// submission and revised work alike.
func (e Engine) SubmitForQC(ctx context.Context, projectID string, refs []string, notes, actorID string) (domain.Project, error) {
	refs = cleanRefs(refs)
	if len(refs) == 0 {
		return domain.Project{}, ErrNoDeliverables
	}
	var p domain.Project
	err := e.inTx(ctx, func(tx *sql.Tx, fx *effects) error {
		var err error
		if p, err = e.loadProject(ctx, tx, projectID); err != nil {
			return err
		}
		if _, err := e.Auth.RequireParty(ctx, tx, actorID, auth.PermQCSubmit, derefString(p.WorkerID)); err != nil {
			return err
		}
		if err := e.advance(ctx, tx, &p, lifecycle.EventSubmitForQC, actorID); err != nil {
			return err
		}
		round, err := e.storeDeliverables(ctx, tx, p.ID, domain.DeliverableQCSubmission, actorID, refs)
		if err != nil {
			return err
		}
		resolved, err := e.Repo.ResolveOpenRevisions(ctx, tx, p.ID, e.stamp())
		if err != nil {
			return err
		}
		if err := e.appendEvent(ctx, tx, events.QCSubmitted, p.ID, "project", p.ID, actorID, events.EventPayload{
			"round":              round,
			"refs":               refs,
			"notes":              notes,
			"resolved_revisions": resolved,
		}); err != nil {
			return err
		}
		fx.notify(p.IntermediaryID, events.QCSubmitted, projectPayload(p))
		return nil
	})
	return p, err
}

func (e Engine) StartQCReview(ctx context.Context, projectID, actorID string) (domain.Project, error) {
	var p domain.Project
	err := e.inTx(ctx, func(tx *sql.Tx, fx *effects) error {
		var err error
		if p, err = e.loadProject(ctx, tx, projectID); err != nil {
			return err
		}
		if _, err := e.Auth.RequireParty(ctx, tx, actorID, auth.PermQCReview, p.IntermediaryID); err != nil {
			return err
		}
		if err := e.advance(ctx, tx, &p, lifecycle.EventStartQC, actorID); err != nil {
			return err
		}
		if err := e.appendEvent(ctx, tx, events.QCStarted, p.ID, "project", p.ID, actorID, nil); err != nil {
			return err
		}
		fx.notify(derefString(p.WorkerID), events.QCStarted, projectPayload(p))
		return nil
	})
	return p, err
}

// RecordQCDecision approves or rejects the submitted work. A rejection sends
// the work straight back to the worker and counts separately from client
// revisions.
func (e Engine) RecordQCDecision(ctx context.Context, projectID, decision, notes, actorID string) (domain.Project, error) {
	decision = strings.ToLower(strings.TrimSpace(decision))
	if decision != DecisionApprove && decision != DecisionReject {
		return domain.Project{}, fmt.Errorf("%w: decision must be approve or reject, got %q", ErrInvalidInput, decision)
	}
	var p domain.Project
	err := e.inTx(ctx, func(tx *sql.Tx, fx *effects) error {
		var err error
		if p, err = e.loadProject(ctx, tx, projectID); err != nil {
			return err
		}
		if _, err := e.Auth.RequireParty(ctx, tx, actorID, auth.PermQCReview, p.IntermediaryID); err != nil {
			return err
		}
		if p.Status == lifecycle.StatusSubmittedForQC {
			if err := e.advance(ctx, tx, &p, lifecycle.EventStartQC, actorID); err != nil {
				return err
			}
		}
		if decision == DecisionApprove {
			if err := e.advance(ctx, tx, &p, lifecycle.EventApproveQC, actorID); err != nil {
				return err
			}
			if err := e.appendEvent(ctx, tx, events.QCApproved, p.ID, "project", p.ID, actorID, events.EventPayload{"notes": notes}); err != nil {
				return err
			}
			fx.notify(derefString(p.WorkerID), events.QCApproved, projectPayload(p))
			return nil
		}

		if err := e.advance(ctx, tx, &p, lifecycle.EventRejectQC, actorID); err != nil {
			return err
		}
		rv := domain.Revision{
			ID:            uuid.NewString(),
			ProjectID:     p.ID,
			RequestedBy:   actorID,
			RequesterRole: domain.RoleIntermediary,
			Notes:         strings.TrimSpace(notes),
			RequestedAt:   e.stamp(),
		}
		if err := e.Repo.InsertRevision(ctx, tx, rv); err != nil {
			return err
		}
		p.QCRejectionCount++
		if err := e.advance(ctx, tx, &p, lifecycle.EventResumeWork, actorID); err != nil {
			return err
		}
		if err := e.appendEvent(ctx, tx, events.QCRejected, p.ID, "revision", rv.ID, actorID, events.EventPayload{
			"notes":           rv.Notes,
			"rejection_count": p.QCRejectionCount,
		}); err != nil {
			return err
		}
		payload := projectPayload(p)
		payload["notes"] = rv.Notes
		fx.notify(derefString(p.WorkerID), events.QCRejected, payload)
		return nil
	})
	return p, err
}

// Deliver hands QC-approved work to the client and arms the auto-approval
// timer. Without refs the latest QC submission is delivered.
func (e Engine) Deliver(ctx context.Context, projectID string, refs []string, actorID string) (domain.Project, error) {
	refs = cleanRefs(refs)
	var p domain.Project
	err := e.inTx(ctx, func(tx *sql.Tx, fx *effects) error {
		var err error
		if p, err = e.loadProject(ctx, tx, projectID); err != nil {
			return err
		}
		if _, err := e.Auth.RequireParty(ctx, tx, actorID, auth.PermDeliver, p.IntermediaryID); err != nil {
			return err
		}
		if !lifecycle.Can(p.Status, lifecycle.EventDeliver) {
			return &lifecycle.TransitionError{From: p.Status, Event: lifecycle.EventDeliver}
		}
		if len(refs) == 0 {
			round, err := e.Repo.LatestRound(ctx, tx, p.ID, domain.DeliverableQCSubmission)
			if err != nil {
				return err
			}
			if round > 0 {
				items, err := e.Repo.ListDeliverables(ctx, tx, p.ID, domain.DeliverableQCSubmission, round)
				if err != nil {
					return err
				}
				for _, d := range items {
					refs = append(refs, d.Ref)
				}
			}
		}
		if len(refs) == 0 {
			return ErrNoDeliverables
		}
		round, err := e.storeDeliverables(ctx, tx, p.ID, domain.DeliverableDelivery, actorID, refs)
		if err != nil {
			return err
		}
		if err := e.advance(ctx, tx, &p, lifecycle.EventDeliver, actorID); err != nil {
			return err
		}
		t, err := e.armTimer(ctx, tx, p, actorID, fx)
		if err != nil {
			return err
		}
		if err := e.appendEvent(ctx, tx, events.ProjectDelivered, p.ID, "project", p.ID, actorID, events.EventPayload{
			"round":    round,
			"refs":     refs,
			"timer_id": t.ID,
			"fire_at":  t.FireAt,
		}); err != nil {
			return err
		}
		payload := projectPayload(p)
		payload["auto_approve_at"] = t.FireAt
		fx.notify(p.ClientID, events.ProjectDelivered, payload)
		return nil
	})
	return p, err
}

// Completion is a finished project and the settlement credits it produced.
type Completion struct {
	Project domain.Project       `json:"project"`
	Ledger  []domain.LedgerEntry `json:"ledger"`
}

// ApproveDelivery is the client accepting the work. The project completes
// and settles in the same transaction.
func (e Engine) ApproveDelivery(ctx context.Context, projectID, actorID string) (Completion, error) {
	var res Completion
	err := e.inTx(ctx, func(tx *sql.Tx, fx *effects) error {
		p, err := e.loadProject(ctx, tx, projectID)
		if err != nil {
			return err
		}
		if _, err := e.Auth.RequireParty(ctx, tx, actorID, auth.PermDeliveryApprove, p.ClientID); err != nil {
			return err
		}
		if !lifecycle.Can(p.Status, lifecycle.EventClientApprove) {
			return &lifecycle.TransitionError{From: p.Status, Event: lifecycle.EventClientApprove}
		}
		if err := e.disarmTimer(ctx, tx, p, "client_approved", actorID, fx); err != nil {
			return err
		}
		entries, err := e.complete(ctx, tx, &p, lifecycle.EventClientApprove, actorID)
		if err != nil {
			return err
		}
		if err := e.appendEvent(ctx, tx, events.ProjectCompleted, p.ID, "project", p.ID, actorID, nil); err != nil {
			return err
		}
		fx.notifyParties(events.ProjectCompleted, projectPayload(p), p.ClientID, derefString(p.WorkerID), p.IntermediaryID)
		res = Completion{Project: p, Ledger: entries}
		return nil
	})
	return res, err
}

// complete applies the finishing event, releases the assignment and settles.
func (e Engine) complete(ctx context.Context, tx *sql.Tx, p *domain.Project, ev lifecycle.Event, actorID string) ([]domain.LedgerEntry, error) {
	p.CompletedAt = ptr(e.stamp())
	if err := e.advance(ctx, tx, p, ev, actorID); err != nil {
		p.CompletedAt = nil
		return nil, err
	}
	if _, err := e.releaseAssignment(ctx, tx, *p, domain.AssignmentReleased, string(p.Status)); err != nil {
		return nil, err
	}
	return e.settle(ctx, tx, *p, actorID)
}

// RequestRevision sends delivered work back for another round.
func (e Engine) RequestRevision(ctx context.Context, projectID, notes, actorID string) (domain.Revision, error) {
	var rv domain.Revision
	err := e.inTx(ctx, func(tx *sql.Tx, fx *effects) error {
		p, err := e.loadProject(ctx, tx, projectID)
		if err != nil {
			return err
		}
		if _, err := e.Auth.RequireParty(ctx, tx, actorID, auth.PermRevisionRequest, p.ClientID); err != nil {
			return err
		}
		if !lifecycle.Can(p.Status, lifecycle.EventRequestRevision) {
			return &lifecycle.TransitionError{From: p.Status, Event: lifecycle.EventRequestRevision}
		}
		if err := e.disarmTimer(ctx, tx, p, "revision_requested", actorID, fx); err != nil {
			return err
		}
		rv = domain.Revision{
			ID:            uuid.NewString(),
			ProjectID:     p.ID,
			RequestedBy:   actorID,
			RequesterRole: domain.RoleClient,
			Notes:         strings.TrimSpace(notes),
			RequestedAt:   e.stamp(),
		}
		if err := e.Repo.InsertRevision(ctx, tx, rv); err != nil {
			return err
		}
		p.RevisionCount++
		if err := e.advance(ctx, tx, &p, lifecycle.EventRequestRevision, actorID); err != nil {
			return err
		}
		if err := e.appendEvent(ctx, tx, events.RevisionRequested, p.ID, "revision", rv.ID, actorID, events.EventPayload{
			"notes":          rv.Notes,
			"revision_count": p.RevisionCount,
		}); err != nil {
			return err
		}
		payload := projectPayload(p)
		payload["notes"] = rv.Notes
		fx.notifyParties(events.RevisionRequested, payload, derefString(p.WorkerID), p.IntermediaryID)
		return nil
	})
	return rv, err
}

func (e Engine) StartRevision(ctx context.Context, projectID, actorID string) (domain.Project, error) {
	var p domain.Project
	err := e.inTx(ctx, func(tx *sql.Tx, fx *effects) error {
		var err error
		if p, err = e.loadProject(ctx, tx, projectID); err != nil {
			return err
		}
		if _, err := e.Auth.RequireParty(ctx, tx, actorID, auth.PermRevisionStart, derefString(p.WorkerID)); err != nil {
			return err
		}
		if err := e.advance(ctx, tx, &p, lifecycle.EventStartRevision, actorID); err != nil {
			return err
		}
		if err := e.appendEvent(ctx, tx, events.RevisionStarted, p.ID, "project", p.ID, actorID, nil); err != nil {
			return err
		}
		fx.notify(p.IntermediaryID, events.RevisionStarted, projectPayload(p))
		return nil
	})
	return p, err
}
