package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"assignx/internal/domain"
	"assignx/internal/engine/auth"
	"assignx/internal/events"
	"assignx/internal/lifecycle"
	"assignx/internal/repo"
)

type SubmitProjectOptions struct {
	ActorID        string
	ClientID       string
	IntermediaryID string
	ServiceType    string
	Subject        string
	Description    string
	WordCount      int
	Deadline       string
	Urgency        string
	Draft          bool
}

func validServiceType(s string) bool {
	switch s {
	case domain.ServiceFullProject, domain.ServiceProofreading, domain.ServiceReport, domain.ServiceConsultation:
		return true
	}
	return false
}

func validUrgency(s string) bool {
	switch s {
	case domain.UrgencyStandard, domain.UrgencyUrgent, domain.UrgencyExpress:
		return true
	}
	return false
}

func (e Engine) SubmitProject(ctx context.Context, opts SubmitProjectOptions) (domain.Project, error) {
	opts.Subject = strings.TrimSpace(opts.Subject)
	if opts.ClientID == "" {
		opts.ClientID = opts.ActorID
	}
	if opts.Urgency == "" {
		opts.Urgency = domain.UrgencyStandard
	}
	if !validServiceType(opts.ServiceType) {
		return domain.Project{}, fmt.Errorf("%w: unknown service type %q", ErrInvalidInput, opts.ServiceType)
	}
	if !validUrgency(opts.Urgency) {
		return domain.Project{}, fmt.Errorf("%w: unknown urgency %q", ErrInvalidInput, opts.Urgency)
	}
	if opts.Subject == "" {
		return domain.Project{}, fmt.Errorf("%w: subject required", ErrInvalidInput)
	}
	if opts.WordCount <= 0 {
		return domain.Project{}, fmt.Errorf("%w: word count must be positive", ErrInvalidInput)
	}
	deadline, err := time.Parse(time.RFC3339, opts.Deadline)
	if err != nil {
		return domain.Project{}, fmt.Errorf("%w: deadline: %v", ErrInvalidInput, err)
	}
	if !deadline.After(e.now()) {
		return domain.Project{}, fmt.Errorf("%w: deadline must be in the future", ErrInvalidInput)
	}

	var p domain.Project
	err = e.inTx(ctx, func(tx *sql.Tx, fx *effects) error {
		if _, err := e.Auth.RequireParty(ctx, tx, opts.ActorID, auth.PermProjectSubmit, opts.ClientID); err != nil {
			return err
		}
		if role, err := e.Repo.ActorRole(ctx, tx, opts.ClientID); err != nil {
			return fmt.Errorf("client %s: %w", opts.ClientID, err)
		} else if role != domain.RoleClient {
			return fmt.Errorf("%w: %s is not a client", ErrInvalidInput, opts.ClientID)
		}
		if opts.IntermediaryID != "" {
			role, err := e.Repo.ActorRole(ctx, tx, opts.IntermediaryID)
			if err != nil {
				return fmt.Errorf("intermediary %s: %w", opts.IntermediaryID, err)
			}
			if role != domain.RoleIntermediary {
				return fmt.Errorf("%w: %s is not an intermediary", ErrInvalidInput, opts.IntermediaryID)
			}
		}
		seq, err := e.Repo.NextProjectSeq(ctx, tx)
		if err != nil {
			return err
		}
		now := e.stamp()
		status := lifecycle.StatusSubmitted
		evt := events.ProjectSubmitted
		if opts.Draft {
			status = lifecycle.StatusDraft
			evt = events.ProjectDrafted
		}
		p = domain.Project{
			ID:             uuid.NewString(),
			Number:         repo.FormatProjectNumber(seq),
			ClientID:       opts.ClientID,
			IntermediaryID: opts.IntermediaryID,
			ServiceType:    opts.ServiceType,
			Subject:        opts.Subject,
			Description:    strings.TrimSpace(opts.Description),
			WordCount:      opts.WordCount,
			Deadline:       deadline.UTC().Format(time.RFC3339),
			Urgency:        opts.Urgency,
			Status:         status,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		if err := e.Repo.InsertProject(ctx, tx, seq, p); err != nil {
			return err
		}
		if err := e.appendEvent(ctx, tx, evt, p.ID, "project", p.ID, opts.ActorID, events.EventPayload{
			"number":       p.Number,
			"service_type": p.ServiceType,
			"word_count":   p.WordCount,
			"deadline":     p.Deadline,
		}); err != nil {
			return err
		}
		if !opts.Draft {
			fx.notify(p.IntermediaryID, evt, projectPayload(p))
		}
		return nil
	})
	return p, err
}

// SubmitDraft moves a draft into the intermediary's queue.
func (e Engine) SubmitDraft(ctx context.Context, projectID, actorID string) (domain.Project, error) {
	var p domain.Project
	err := e.inTx(ctx, func(tx *sql.Tx, fx *effects) error {
		var err error
		if p, err = e.loadProject(ctx, tx, projectID); err != nil {
			return err
		}
		if _, err := e.Auth.RequireParty(ctx, tx, actorID, auth.PermProjectSubmit, p.ClientID); err != nil {
			return err
		}
		if err := e.advance(ctx, tx, &p, lifecycle.EventSubmit, actorID); err != nil {
			return err
		}
		if err := e.appendEvent(ctx, tx, events.ProjectSubmitted, p.ID, "project", p.ID, actorID, nil); err != nil {
			return err
		}
		fx.notify(p.IntermediaryID, events.ProjectSubmitted, projectPayload(p))
		return nil
	})
	return p, err
}

// StartAnalysis picks the project up for quoting. An unowned project is
// claimed by the calling intermediary.
func (e Engine) StartAnalysis(ctx context.Context, projectID, actorID string) (domain.Project, error) {
	var p domain.Project
	err := e.inTx(ctx, func(tx *sql.Tx, fx *effects) error {
		var err error
		if p, err = e.loadProject(ctx, tx, projectID); err != nil {
			return err
		}
		actor, err := e.Auth.RequireParty(ctx, tx, actorID, auth.PermProjectAnalyze, p.IntermediaryID)
		if err != nil {
			return err
		}
		if p.IntermediaryID == "" {
			if actor.Role != domain.RoleIntermediary {
				return fmt.Errorf("%w: project %s has no intermediary", ErrInvalidInput, p.Number)
			}
			p.IntermediaryID = actor.ID
		}
		if err := e.advance(ctx, tx, &p, lifecycle.EventAnalyze, actorID); err != nil {
			return err
		}
		if err := e.appendEvent(ctx, tx, events.ProjectAnalyzing, p.ID, "project", p.ID, actorID, events.EventPayload{
			"intermediary_id": p.IntermediaryID,
		}); err != nil {
			return err
		}
		fx.notify(p.ClientID, events.ProjectAnalyzing, projectPayload(p))
		return nil
	})
	return p, err
}

func (e Engine) GetProject(ctx context.Context, projectID string) (domain.Project, error) {
	p, err := e.Repo.GetProject(ctx, nil, projectID)
	if errors.Is(err, repo.ErrNotFound) && strings.HasPrefix(strings.ToUpper(projectID), "AX-") {
		p, err = e.Repo.GetProjectByNumber(ctx, nil, projectID)
	}
	if err != nil {
		return domain.Project{}, fmt.Errorf("project %s: %w", projectID, err)
	}
	return p, nil
}

func (e Engine) ListProjects(ctx context.Context, f repo.ProjectFilters) ([]domain.Project, error) {
	if f.Status != "" {
		if _, err := lifecycle.ParseStatus(f.Status); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
		}
	}
	return e.Repo.ListProjects(ctx, nil, f)
}

// Summary is the wallet view: the project with its current quote, payment,
// assignment, timer, ledger and the events it can take next.
func (e Engine) Summary(ctx context.Context, projectID string) (domain.ProjectSummary, error) {
	p, err := e.GetProject(ctx, projectID)
	if err != nil {
		return domain.ProjectSummary{}, err
	}
	s := domain.ProjectSummary{Project: p}
	if q, err := e.Repo.CurrentQuote(ctx, nil, p.ID); err == nil {
		s.ActiveQuote = &q
	} else if !errors.Is(err, repo.ErrNotFound) {
		return s, err
	}
	if pay, err := e.Repo.CapturedPayment(ctx, nil, p.ID); err == nil {
		s.Payment = &pay
	} else if !errors.Is(err, repo.ErrNotFound) {
		return s, err
	} else if s.ActiveQuote != nil {
		if pay, err := e.Repo.PendingPayment(ctx, nil, p.ID, s.ActiveQuote.ID); err == nil {
			s.Payment = &pay
		} else if !errors.Is(err, repo.ErrNotFound) {
			return s, err
		}
	}
	if a, err := e.Repo.ActiveAssignment(ctx, nil, p.ID); err == nil {
		s.Assignment = &a
	} else if !errors.Is(err, repo.ErrNotFound) {
		return s, err
	}
	if t, err := e.Repo.ArmedTimer(ctx, nil, p.ID); err == nil {
		s.Timer = &t
	} else if !errors.Is(err, repo.ErrNotFound) {
		return s, err
	}
	if s.Ledger, err = e.Repo.ListLedger(ctx, nil, repo.LedgerFilters{ProjectID: p.ID}); err != nil {
		return s, err
	}
	if s.LedgerTotal, err = e.Repo.LedgerTotal(ctx, nil, p.ID); err != nil {
		return s, err
	}
	if round, err := e.Repo.LatestRound(ctx, nil, p.ID, domain.DeliverableDelivery); err != nil {
		return s, err
	} else if round > 0 {
		if s.Deliverables, err = e.Repo.ListDeliverables(ctx, nil, p.ID, domain.DeliverableDelivery, round); err != nil {
			return s, err
		}
	}
	for _, ev := range lifecycle.Allowed(p.Status) {
		s.Allowed = append(s.Allowed, string(ev))
	}
	return s, nil
}

func (e Engine) ListEvents(ctx context.Context, f repo.EventFilters) ([]domain.Event, error) {
	return e.Repo.LatestEvents(ctx, nil, f)
}

// EventsAfter pages forward from an event id, oldest first. Followers start
// from LatestEventID.
func (e Engine) EventsAfter(ctx context.Context, projectID string, after int64, limit int) ([]domain.Event, error) {
	return e.Repo.EventsAfter(ctx, nil, limit, after, projectID)
}

func (e Engine) LatestEventID(ctx context.Context, projectID string) (int64, error) {
	return e.Repo.LatestEventID(ctx, nil, projectID)
}

// StatusCounts returns how many projects sit in each status.
func (e Engine) StatusCounts(ctx context.Context) (map[string]int, error) {
	return e.Repo.CountProjectsByStatus(ctx, nil)
}

func (e Engine) ListQuotes(ctx context.Context, projectID string) ([]domain.Quote, error) {
	p, err := e.GetProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	return e.Repo.ListQuotes(ctx, nil, p.ID)
}

func (e Engine) ListPayments(ctx context.Context, projectID string) ([]domain.Payment, error) {
	p, err := e.GetProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	return e.Repo.ListPayments(ctx, nil, p.ID)
}

func (e Engine) ListRevisions(ctx context.Context, projectID string) ([]domain.Revision, error) {
	p, err := e.GetProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	return e.Repo.ListRevisions(ctx, nil, p.ID)
}

func (e Engine) ListTimers(ctx context.Context, projectID string) ([]domain.Timer, error) {
	p, err := e.GetProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	return e.Repo.ListTimers(ctx, nil, p.ID)
}

func (e Engine) ListDeliverables(ctx context.Context, projectID, kind string) ([]domain.Deliverable, error) {
	p, err := e.GetProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	return e.Repo.ListDeliverables(ctx, nil, p.ID, kind, 0)
}

func (e Engine) ListLedger(ctx context.Context, f repo.LedgerFilters) ([]domain.LedgerEntry, error) {
	if f.ProjectID != "" {
		p, err := e.GetProject(ctx, f.ProjectID)
		if err != nil {
			return nil, err
		}
		f.ProjectID = p.ID
	}
	return e.Repo.ListLedger(ctx, nil, f)
}

func (e Engine) Balances(ctx context.Context, ownerKind string) ([]domain.Balance, error) {
	return e.Repo.Balances(ctx, nil, ownerKind)
}
