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
)

const defaultMaxConcurrent = 3

// RegisterWorker adds a worker to the pool. The worker must already be a
// registered actor with the worker role, or is registered as one here.
func (e Engine) RegisterWorker(ctx context.Context, w domain.Worker, actorID string) (domain.Worker, error) {
	w.ID = strings.TrimSpace(w.ID)
	if w.ID == "" {
		return domain.Worker{}, fmt.Errorf("%w: worker id required", ErrInvalidInput)
	}
	if w.MaxConcurrent == 0 {
		w.MaxConcurrent = defaultMaxConcurrent
	}
	if w.MaxConcurrent < 0 {
		return domain.Worker{}, fmt.Errorf("%w: max_concurrent must be positive", ErrInvalidInput)
	}
	err := e.inTx(ctx, func(tx *sql.Tx, fx *effects) error {
		if _, err := e.Auth.Require(ctx, tx, actorID, auth.PermWorkerManage); err != nil {
			return err
		}
		now := e.stamp()
		role, err := e.Repo.ActorRole(ctx, tx, w.ID)
		switch {
		case errors.Is(err, repo.ErrNotFound):
			if err := e.Repo.InsertActor(ctx, tx, domain.Actor{ID: w.ID, Role: domain.RoleWorker, Name: w.Name, CreatedAt: now}); err != nil {
				return err
			}
		case err != nil:
			return err
		case role != domain.RoleWorker:
			return fmt.Errorf("%w: actor %s has role %s", ErrInvalidInput, w.ID, role)
		}
		w.ActiveCount = 0
		w.CreatedAt = now
		if err := e.Repo.InsertWorker(ctx, tx, w); err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("%w: worker %s already registered", ErrInvalidInput, w.ID)
			}
			return err
		}
		return e.appendEvent(ctx, tx, events.WorkerRegistered, "", "worker", w.ID, actorID, events.EventPayload{
			"max_concurrent": w.MaxConcurrent,
			"available":      w.Available,
		})
	})
	return w, err
}

// SetWorkerAvailability toggles whether a worker takes new assignments.
// Workers may toggle themselves.
func (e Engine) SetWorkerAvailability(ctx context.Context, workerID string, available bool, actorID string) (domain.Worker, error) {
	var w domain.Worker
	err := e.inTx(ctx, func(tx *sql.Tx, fx *effects) error {
		if actorID != workerID {
			if _, err := e.Auth.Require(ctx, tx, actorID, auth.PermWorkerManage); err != nil {
				return err
			}
		}
		if err := e.Repo.SetWorkerAvailability(ctx, tx, workerID, available); err != nil {
			return fmt.Errorf("worker %s: %w", workerID, err)
		}
		var err error
		if w, err = e.Repo.GetWorker(ctx, tx, workerID); err != nil {
			return err
		}
		return e.appendEvent(ctx, tx, events.WorkerAvailability, "", "worker", workerID, actorID, events.EventPayload{"available": available})
	})
	return w, err
}

func (e Engine) Blacklist(ctx context.Context, intermediaryID, workerID, reason, actorID string) error {
	return e.inTx(ctx, func(tx *sql.Tx, fx *effects) error {
		if _, err := e.Auth.RequireParty(ctx, tx, actorID, auth.PermWorkerManage, intermediaryID); err != nil {
			return err
		}
		if _, err := e.Repo.GetWorker(ctx, tx, workerID); err != nil {
			return fmt.Errorf("worker %s: %w", workerID, err)
		}
		if err := e.Repo.InsertBlacklist(ctx, tx, domain.BlacklistEntry{
			IntermediaryID: intermediaryID,
			WorkerID:       workerID,
			Reason:         strings.TrimSpace(reason),
			CreatedAt:      e.stamp(),
		}); err != nil {
			return err
		}
		return e.appendEvent(ctx, tx, events.WorkerBlacklisted, "", "worker", workerID, actorID, events.EventPayload{
			"intermediary_id": intermediaryID,
			"reason":          reason,
		})
	})
}

func (e Engine) Unblacklist(ctx context.Context, intermediaryID, workerID, actorID string) error {
	return e.inTx(ctx, func(tx *sql.Tx, fx *effects) error {
		if _, err := e.Auth.RequireParty(ctx, tx, actorID, auth.PermWorkerManage, intermediaryID); err != nil {
			return err
		}
		if err := e.Repo.DeleteBlacklist(ctx, tx, intermediaryID, workerID); err != nil {
			return fmt.Errorf("blacklist %s/%s: %w", intermediaryID, workerID, err)
		}
		return e.appendEvent(ctx, tx, events.WorkerUnblacklisted, "", "worker", workerID, actorID, events.EventPayload{
			"intermediary_id": intermediaryID,
		})
	})
}

func (e Engine) GetWorker(ctx context.Context, workerID string) (domain.Worker, error) {
	w, err := e.Repo.GetWorker(ctx, nil, workerID)
	if err != nil {
		return w, fmt.Errorf("worker %s: %w", workerID, err)
	}
	return w, nil
}

func (e Engine) ListWorkers(ctx context.Context, availableOnly bool) ([]domain.Worker, error) {
	return e.Repo.ListWorkers(ctx, nil, availableOnly)
}

func (e Engine) ListBlacklist(ctx context.Context, intermediaryID string) ([]domain.BlacklistEntry, error) {
	return e.Repo.ListBlacklist(ctx, nil, intermediaryID)
}

func (e Engine) ListAssignments(ctx context.Context, projectID, workerID string) ([]domain.Assignment, error) {
	if projectID != "" {
		p, err := e.GetProject(ctx, projectID)
		if err != nil {
			return nil, err
		}
		projectID = p.ID
	}
	return e.Repo.ListAssignments(ctx, nil, projectID, workerID)
}

// claimWorker runs the assignment checks in order and takes one capacity
// slot. The slot is taken by a single conditional update, so two concurrent
// claims can never overfill a worker.
func (e Engine) claimWorker(ctx context.Context, tx *sql.Tx, intermediaryID, workerID string) error {
	if intermediaryID != "" {
		blocked, err := e.Repo.IsBlacklisted(ctx, tx, intermediaryID, workerID)
		if err != nil {
			return err
		}
		if blocked {
			return fmt.Errorf("%w: %s", ErrWorkerBlacklisted, workerID)
		}
	}
	w, err := e.Repo.GetWorker(ctx, tx, workerID)
	if err != nil {
		return fmt.Errorf("worker %s: %w", workerID, err)
	}
	if !w.Available {
		return fmt.Errorf("%w: %s", ErrWorkerUnavailable, workerID)
	}
	ok, err := e.Repo.ClaimWorkerSlot(ctx, tx, workerID)
	if err != nil {
		return err
	}
	if ok {
		return nil
	}
	if w, err = e.Repo.GetWorker(ctx, tx, workerID); err != nil {
		return err
	}
	if !w.Available {
		return fmt.Errorf("%w: %s", ErrWorkerUnavailable, workerID)
	}
	return fmt.Errorf("%w: %s has %d of %d", ErrWorkerAtCapacity, workerID, w.ActiveCount, w.MaxConcurrent)
}

// releaseAssignment closes the active assignment, if any, and frees the
// worker's slot. The project keeps its worker_id for settlement.
func (e Engine) releaseAssignment(ctx context.Context, tx *sql.Tx, p domain.Project, state, reason string) (*domain.Assignment, error) {
	a, err := e.Repo.ActiveAssignment(ctx, tx, p.ID)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if err := e.Repo.CloseAssignment(ctx, tx, a.ID, state, reason, e.stamp()); err != nil {
		return nil, err
	}
	if err := e.Repo.ReleaseWorkerSlot(ctx, tx, a.WorkerID); err != nil {
		return nil, err
	}
	a.State = state
	return &a, nil
}

func (e Engine) Assign(ctx context.Context, projectID, workerID, actorID string) (domain.Assignment, error) {
	var a domain.Assignment
	err := e.inTx(ctx, func(tx *sql.Tx, fx *effects) error {
		p, err := e.loadProject(ctx, tx, projectID)
		if err != nil {
			return err
		}
		if _, err := e.Auth.RequireParty(ctx, tx, actorID, auth.PermAssign, p.IntermediaryID); err != nil {
			return err
		}
		if !lifecycle.Can(p.Status, lifecycle.EventAssign) {
			return &lifecycle.TransitionError{From: p.Status, Event: lifecycle.EventAssign}
		}
		if err := e.claimWorker(ctx, tx, p.IntermediaryID, workerID); err != nil {
			return err
		}
		a = domain.Assignment{
			ID:         uuid.NewString(),
			ProjectID:  p.ID,
			WorkerID:   workerID,
			AssignedBy: actorID,
			AssignedAt: e.stamp(),
			State:      domain.AssignmentActive,
		}
		if err := e.Repo.InsertAssignment(ctx, tx, a); err != nil {
			return err
		}
		p.WorkerID = ptr(workerID)
		if err := e.advance(ctx, tx, &p, lifecycle.EventAssign, actorID); err != nil {
			return err
		}
		if err := e.appendEvent(ctx, tx, events.AssignmentCreated, p.ID, "assignment", a.ID, actorID, events.EventPayload{"worker_id": workerID}); err != nil {
			return err
		}
		fx.notify(workerID, events.AssignmentCreated, projectPayload(p))
		return nil
	})
	return a, err
}

// DeclineAssignment hands an assigned project back to the intermediary.
// Payment and quote are untouched.
func (e Engine) DeclineAssignment(ctx context.Context, assignmentID, reason, actorID string) (domain.Project, error) {
	var p domain.Project
	err := e.inTx(ctx, func(tx *sql.Tx, fx *effects) error {
		a, err := e.Repo.GetAssignment(ctx, tx, assignmentID)
		if err != nil {
			return fmt.Errorf("assignment %s: %w", assignmentID, err)
		}
		if p, err = e.loadProject(ctx, tx, a.ProjectID); err != nil {
			return err
		}
		actor, err := e.Auth.Require(ctx, tx, actorID, auth.PermAssignmentDecline)
		if err != nil {
			return err
		}
		owner := p.IntermediaryID
		if actor.Role == domain.RoleWorker {
			owner = a.WorkerID
		}
		if _, err := e.Auth.RequireParty(ctx, tx, actorID, auth.PermAssignmentDecline, owner); err != nil {
			return err
		}
		if a.State != domain.AssignmentActive {
			return fmt.Errorf("%w: assignment %s is %s", ErrIllegalTransition, a.ID, a.State)
		}
		if !lifecycle.Can(p.Status, lifecycle.EventDecline) {
			return &lifecycle.TransitionError{From: p.Status, Event: lifecycle.EventDecline}
		}
		if err := e.Repo.CloseAssignment(ctx, tx, a.ID, domain.AssignmentDeclined, reason, e.stamp()); err != nil {
			return err
		}
		if err := e.Repo.ReleaseWorkerSlot(ctx, tx, a.WorkerID); err != nil {
			return err
		}
		p.WorkerID = nil
		if err := e.advance(ctx, tx, &p, lifecycle.EventDecline, actorID); err != nil {
			return err
		}
		if err := e.appendEvent(ctx, tx, events.AssignmentDeclined, p.ID, "assignment", a.ID, actorID, events.EventPayload{
			"worker_id": a.WorkerID,
			"reason":    reason,
		}); err != nil {
			return err
		}
		fx.notify(p.IntermediaryID, events.AssignmentDeclined, projectPayload(p))
		return nil
	})
	return p, err
}

// Reassign moves the project to another worker in one transaction. A failed
// check on the new worker leaves the old assignment in place.
func (e Engine) Reassign(ctx context.Context, assignmentID, newWorkerID, reason, actorID string) (domain.Assignment, error) {
	var next domain.Assignment
	err := e.inTx(ctx, func(tx *sql.Tx, fx *effects) error {
		old, err := e.Repo.GetAssignment(ctx, tx, assignmentID)
		if err != nil {
			return fmt.Errorf("assignment %s: %w", assignmentID, err)
		}
		p, err := e.loadProject(ctx, tx, old.ProjectID)
		if err != nil {
			return err
		}
		if _, err := e.Auth.RequireParty(ctx, tx, actorID, auth.PermAssign, p.IntermediaryID); err != nil {
			return err
		}
		if old.State != domain.AssignmentActive {
			return fmt.Errorf("%w: assignment %s is %s", ErrIllegalTransition, old.ID, old.State)
		}
		if old.WorkerID == newWorkerID {
			return fmt.Errorf("%w: project already assigned to %s", ErrInvalidInput, newWorkerID)
		}
		if !lifecycle.Can(p.Status, lifecycle.EventReassign) {
			return &lifecycle.TransitionError{From: p.Status, Event: lifecycle.EventReassign}
		}
		now := e.stamp()
		if err := e.Repo.CloseAssignment(ctx, tx, old.ID, domain.AssignmentReassigned, reason, now); err != nil {
			return err
		}
		if err := e.Repo.ReleaseWorkerSlot(ctx, tx, old.WorkerID); err != nil {
			return err
		}
		if err := e.claimWorker(ctx, tx, p.IntermediaryID, newWorkerID); err != nil {
			return err
		}
		next = domain.Assignment{
			ID:         uuid.NewString(),
			ProjectID:  p.ID,
			WorkerID:   newWorkerID,
			AssignedBy: actorID,
			AssignedAt: now,
			State:      domain.AssignmentActive,
		}
		if err := e.Repo.InsertAssignment(ctx, tx, next); err != nil {
			return err
		}
		p.WorkerID = ptr(newWorkerID)
		if err := e.advance(ctx, tx, &p, lifecycle.EventReassign, actorID); err != nil {
			return err
		}
		if err := e.appendEvent(ctx, tx, events.AssignmentReassigned, p.ID, "assignment", next.ID, actorID, events.EventPayload{
			"from_worker_id": old.WorkerID,
			"to_worker_id":   newWorkerID,
			"previous_id":    old.ID,
			"reason":         reason,
		}); err != nil {
			return err
		}
		payload := projectPayload(p)
		fx.notify(old.WorkerID, events.AssignmentReassigned, payload)
		fx.notify(newWorkerID, events.AssignmentCreated, payload)
		return nil
	})
	return next, err
}

// StartWork is the assigned worker accepting the assignment.
func (e Engine) StartWork(ctx context.Context, projectID, actorID string) (domain.Project, error) {
	var p domain.Project
	err := e.inTx(ctx, func(tx *sql.Tx, fx *effects) error {
		var err error
		if p, err = e.loadProject(ctx, tx, projectID); err != nil {
			return err
		}
		if _, err := e.Auth.RequireParty(ctx, tx, actorID, auth.PermWorkStart, derefString(p.WorkerID)); err != nil {
			return err
		}
		if err := e.advance(ctx, tx, &p, lifecycle.EventStartWork, actorID); err != nil {
			return err
		}
		if err := e.appendEvent(ctx, tx, events.WorkStarted, p.ID, "project", p.ID, actorID, nil); err != nil {
			return err
		}
		fx.notifyParties(events.WorkStarted, projectPayload(p), p.ClientID, p.IntermediaryID)
		return nil
	})
	return p, err
}
