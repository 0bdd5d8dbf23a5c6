package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"assignx/internal/config"
	"assignx/internal/domain"
	"assignx/internal/engine/auth"
	"assignx/internal/events"
	"assignx/internal/gateway"
	"assignx/internal/lifecycle"
	"assignx/internal/notify"
	"assignx/internal/repo"
	"assignx/internal/timer"
)

// SystemActor is recorded on changes nobody asked for, such as auto-approval.
const SystemActor = "system"

type Engine struct {
	DB       *sql.DB
	Repo     repo.Repo
	Events   events.Writer
	Auth     auth.Service
	Config   *config.Config
	Gateway  gateway.Gateway
	Notifier notify.Notifier
	Timers   timer.Port
	Log      *zap.Logger
	Now      func() time.Time
}

func New(db *sql.DB, cfg *config.Config) Engine {
	if cfg == nil {
		cfg = config.Default()
	}
	r := repo.Repo{DB: db}
	return Engine{
		DB:       db,
		Repo:     r,
		Events:   events.Writer{DB: db},
		Auth:     auth.Service{Repo: r},
		Config:   cfg,
		Gateway:  gateway.NewSandbox(cfg.Gateway.KeySecret),
		Notifier: notify.Nop{},
		Timers:   timer.Nop{},
		Log:      zap.NewNop(),
		Now:      time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) stamp() string {
	return e.now().UTC().Format(time.RFC3339)
}

func (e Engine) logger() *zap.Logger {
	if e.Log == nil {
		return zap.NewNop()
	}
	return e.Log
}

func (e Engine) appendEvent(ctx context.Context, tx *sql.Tx, evtType, projectID, entityKind, entityID, actorID string, payload events.EventPayload) error {
	w := e.Events
	w.Now = e.now
	if actorID == "" {
		actorID = SystemActor
	}
	_, err := w.Append(ctx, tx, evtType, projectID, entityKind, entityID, actorID, payload)
	return err
}

// effects are side effects released only after the transaction commits.
type effects struct {
	notes  []note
	arm    []domain.Timer
	disarm []string
}

type note struct {
	recipient string
	eventType string
	payload   map[string]any
}

func (fx *effects) notify(recipient, eventType string, payload map[string]any) {
	if recipient == "" {
		return
	}
	fx.notes = append(fx.notes, note{recipient: recipient, eventType: eventType, payload: payload})
}

func (fx *effects) notifyParties(eventType string, payload map[string]any, recipients ...string) {
	seen := map[string]bool{}
	for _, r := range recipients {
		if r == "" || seen[r] {
			continue
		}
		seen[r] = true
		fx.notify(r, eventType, payload)
	}
}

// flush runs the post-commit side effects. Failures are logged, never returned:
// the state change they follow is already durable.
func (e Engine) flush(ctx context.Context, fx *effects) {
	if fx == nil {
		return
	}
	for _, id := range fx.disarm {
		if e.Timers == nil {
			break
		}
		if err := e.Timers.Disarm(ctx, id); err != nil {
			e.logger().Warn("timer disarm failed", zap.String("timer_id", id), zap.Error(err))
		}
	}
	for _, t := range fx.arm {
		if e.Timers == nil {
			break
		}
		if err := e.Timers.Arm(ctx, t); err != nil {
			e.logger().Warn("timer arm failed; sweep will pick it up", zap.String("timer_id", t.ID), zap.Error(err))
		}
	}
	if e.Notifier == nil {
		return
	}
	for _, n := range fx.notes {
		e.Notifier.Notify(ctx, n.recipient, n.eventType, n.payload)
	}
}

// inTx runs fn in one transaction and flushes effects after commit.
func (e Engine) inTx(ctx context.Context, fn func(tx *sql.Tx, fx *effects) error) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	fx := &effects{}
	if err := fn(tx, fx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	e.flush(ctx, fx)
	return nil
}

// loadProject reads the project inside tx.
func (e Engine) loadProject(ctx context.Context, tx *sql.Tx, projectID string) (domain.Project, error) {
	if strings.TrimSpace(projectID) == "" {
		return domain.Project{}, fmt.Errorf("%w: project id required", ErrInvalidInput)
	}
	p, err := e.Repo.GetProject(ctx, tx, projectID)
	if errors.Is(err, repo.ErrNotFound) && strings.HasPrefix(strings.ToUpper(projectID), "AX-") {
		p, err = e.Repo.GetProjectByNumber(ctx, tx, projectID)
	}
	if err != nil {
		return domain.Project{}, fmt.Errorf("project %s: %w", projectID, err)
	}
	return p, nil
}

// advance applies ev to p through the lifecycle table and persists the new
// status under the version guard.
func (e Engine) advance(ctx context.Context, tx *sql.Tx, p *domain.Project, ev lifecycle.Event, actorID string) error {
	from := p.Status
	to, err := lifecycle.Transition(from, ev)
	if err != nil {
		return err
	}
	p.Status = to
	p.UpdatedAt = e.stamp()
	if err := e.Repo.UpdateProject(ctx, tx, p); err != nil {
		p.Status = from
		return err
	}
	return e.appendEvent(ctx, tx, events.StatusChanged, p.ID, "project", p.ID, actorID, events.EventPayload{
		"from":  string(from),
		"to":    string(to),
		"event": string(ev),
	})
}

// save persists non-status changes to p under the version guard.
func (e Engine) save(ctx context.Context, tx *sql.Tx, p *domain.Project) error {
	p.UpdatedAt = e.stamp()
	return e.Repo.UpdateProject(ctx, tx, p)
}

func projectPayload(p domain.Project) map[string]any {
	return map[string]any{
		"project_id": p.ID,
		"number":     p.Number,
		"status":     string(p.Status),
	}
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func ptr(s string) *string {
	return &s
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
