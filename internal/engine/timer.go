package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"assignx/internal/domain"
	"assignx/internal/events"
	"assignx/internal/lifecycle"
	"assignx/internal/repo"
)

const defaultAutoApprovalWindow = 72 * time.Hour

func (e Engine) autoApprovalWindow() time.Duration {
	if w := e.Config.Pricing.AutoApprovalWindow; w > 0 {
		return w
	}
	return defaultAutoApprovalWindow
}

// armTimer starts a fresh timer instance for a delivered project. The port
// is armed after commit.
func (e Engine) armTimer(ctx context.Context, tx *sql.Tx, p domain.Project, actorID string, fx *effects) (domain.Timer, error) {
	if armed, err := e.Repo.ArmedTimer(ctx, tx, p.ID); err == nil {
		return domain.Timer{}, fmt.Errorf("%w: %s on %s", ErrTimerArmed, armed.ID, p.Number)
	} else if !errors.Is(err, repo.ErrNotFound) {
		return domain.Timer{}, err
	}
	now := e.now().UTC()
	window := e.autoApprovalWindow()
	t := domain.Timer{
		ID:              uuid.NewString(),
		ProjectID:       p.ID,
		ArmedAt:         now.Format(time.RFC3339),
		FireAt:          now.Add(window).Format(time.RFC3339),
		DurationSeconds: int64(window / time.Second),
		State:           domain.TimerArmed,
	}
	if err := e.Repo.InsertTimer(ctx, tx, t); err != nil {
		if isUniqueViolation(err) {
			return domain.Timer{}, fmt.Errorf("%w: %s", ErrTimerArmed, p.Number)
		}
		return domain.Timer{}, err
	}
	if err := e.appendEvent(ctx, tx, events.TimerArmed, p.ID, "timer", t.ID, actorID, events.EventPayload{
		"fire_at":          t.FireAt,
		"duration_seconds": t.DurationSeconds,
	}); err != nil {
		return domain.Timer{}, err
	}
	fx.arm = append(fx.arm, t)
	return t, nil
}

// disarmTimer closes the project's armed timer, if any.
func (e Engine) disarmTimer(ctx context.Context, tx *sql.Tx, p domain.Project, reason, actorID string, fx *effects) error {
	t, err := e.Repo.ArmedTimer(ctx, tx, p.ID)
	if errors.Is(err, repo.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	closed, err := e.Repo.CloseTimer(ctx, tx, t.ID, domain.TimerDisarmed, reason, e.stamp())
	if err != nil || !closed {
		return err
	}
	if err := e.appendEvent(ctx, tx, events.TimerDisarmed, p.ID, "timer", t.ID, actorID, events.EventPayload{"reason": reason}); err != nil {
		return err
	}
	fx.disarm = append(fx.disarm, t.ID)
	return nil
}

// FireTimer auto-approves a delivered project when its timer instance comes
// due. It reports false, with no error, when this instance no longer applies:
// already closed, not yet due, or the project moved on.
func (e Engine) FireTimer(ctx context.Context, projectID, timerID string) (bool, error) {
	var fired bool
	err := e.inTx(ctx, func(tx *sql.Tx, fx *effects) error {
		t, err := e.Repo.GetTimer(ctx, tx, timerID)
		if err != nil {
			return fmt.Errorf("timer %s: %w", timerID, err)
		}
		if t.ProjectID != projectID {
			return fmt.Errorf("%w: timer %s belongs to project %s", ErrInvalidInput, timerID, t.ProjectID)
		}
		if t.State != domain.TimerArmed {
			return nil
		}
		fireAt, err := time.Parse(time.RFC3339, t.FireAt)
		if err != nil {
			return fmt.Errorf("timer %s: fire_at: %w", t.ID, err)
		}
		if e.now().Before(fireAt) {
			return nil
		}
		p, err := e.loadProject(ctx, tx, t.ProjectID)
		if err != nil {
			return err
		}
		if p.Status != lifecycle.StatusDelivered {
			return nil
		}
		closed, err := e.Repo.CloseTimer(ctx, tx, t.ID, domain.TimerFired, "auto_approved", e.stamp())
		if err != nil || !closed {
			return err
		}
		entries, err := e.complete(ctx, tx, &p, lifecycle.EventAutoApprove, SystemActor)
		if err != nil {
			return err
		}
		if err := e.appendEvent(ctx, tx, events.ProjectAutoApproved, p.ID, "timer", t.ID, SystemActor, events.EventPayload{
			"fire_at":        t.FireAt,
			"ledger_entries": len(entries),
		}); err != nil {
			return err
		}
		fx.notifyParties(events.ProjectAutoApproved, projectPayload(p), p.ClientID, derefString(p.WorkerID), p.IntermediaryID)
		fired = true
		return nil
	})
	if err != nil {
		return false, err
	}
	if fired {
		e.logger().Info("project auto-approved", zap.String("project_id", projectID), zap.String("timer_id", timerID))
	}
	return fired, nil
}

// FireDueTimers fires every armed timer due by the engine clock, each in its
// own transaction. One failing timer does not stop the sweep.
func (e Engine) FireDueTimers(ctx context.Context) (int, error) {
	due, err := e.Repo.DueTimers(ctx, nil, e.stamp(), 0)
	if err != nil {
		return 0, err
	}
	fired := 0
	var errs error
	for _, t := range due {
		if err := ctx.Err(); err != nil {
			return fired, multierr.Append(errs, err)
		}
		ok, err := e.FireTimer(ctx, t.ProjectID, t.ID)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("timer %s: %w", t.ID, err))
			continue
		}
		if ok {
			fired++
		}
	}
	return fired, errs
}

// ArmedTimers lists every armed timer, for schedulers re-arming on start.
func (e Engine) ArmedTimers(ctx context.Context) ([]domain.Timer, error) {
	return e.Repo.ArmedTimers(ctx, nil)
}
