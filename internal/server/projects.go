package server

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/danielgtaylor/huma/v2"

	"assignx/internal/domain"
	"assignx/internal/engine"
	"assignx/internal/repo"
)

type projectPath struct {
	Project string `path:"project" doc:"project id or AX number"`
}

// registerProjectAction registers a body-less POST that moves one project.
func registerProjectAction(api huma.API, id, route, summary string, fn func(ctx context.Context, projectID, actorID string) (domain.Project, error)) {
	huma.Register(api, huma.Operation{
		OperationID: id,
		Method:      http.MethodPost,
		Path:        route,
		Summary:     summary,
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *projectPath) (*output[domain.Project], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		p, err := fn(ctx, input.Project, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(p), nil
	})
}

func registerProjects(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "submit-project",
		Method:        http.MethodPost,
		Path:          "/projects",
		Summary:       "Submit project",
		DefaultStatus: http.StatusCreated,
		Errors:        mutationErrors,
	}, func(ctx context.Context, input *struct {
		Body SubmitProjectRequest
	}) (*output[domain.Project], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		b := input.Body
		p, err := e.SubmitProject(ctx, engine.SubmitProjectOptions{
			ActorID:        actorID,
			ClientID:       b.ClientID,
			IntermediaryID: b.IntermediaryID,
			ServiceType:    b.ServiceType,
			Subject:        b.Subject,
			Description:    b.Description,
			WordCount:      b.WordCount,
			Deadline:       b.Deadline,
			Urgency:        b.Urgency,
			Draft:          b.Draft,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return reply(p), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-projects",
		Method:      http.MethodGet,
		Path:        "/projects",
		Summary:     "List projects",
		Errors:      []int{http.StatusBadRequest, http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		Status         string `query:"status"`
		ClientID       string `query:"client_id"`
		WorkerID       string `query:"worker_id"`
		IntermediaryID string `query:"intermediary_id"`
		Limit          int    `query:"limit"`
		Cursor         string `query:"cursor"`
	}) (*output[ProjectPage], error) {
		if _, authErr := actorIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		f := repo.ProjectFilters{
			Status:         input.Status,
			ClientID:       input.ClientID,
			WorkerID:       input.WorkerID,
			IntermediaryID: input.IntermediaryID,
			Limit:          normalizeLimit(input.Limit),
		}
		if input.Cursor != "" {
			ts, id, err := parseCompositeCursor(input.Cursor)
			if err != nil {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", err.Error(), nil)
			}
			f.CursorCreatedAt, f.CursorID = ts, id
		}
		items, err := e.ListProjects(ctx, f)
		if err != nil {
			return nil, handleError(err)
		}
		page := ProjectPage{Items: items}
		if len(items) == f.Limit {
			last := items[len(items)-1]
			page.NextCursor = composeCursor(last.CreatedAt, last.ID)
		}
		if page.Items == nil {
			page.Items = []domain.Project{}
		}
		return reply(page), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-project",
		Method:      http.MethodGet,
		Path:        "/projects/{project}",
		Summary:     "Get project",
		Errors:      []int{http.StatusUnauthorized, http.StatusNotFound},
	}, func(ctx context.Context, input *projectPath) (*output[domain.Project], error) {
		if _, authErr := actorIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		p, err := e.GetProject(ctx, input.Project)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(p), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "project-summary",
		Method:      http.MethodGet,
		Path:        "/projects/{project}/summary",
		Summary:     "Project summary with quote, payment, timer and ledger",
		Errors:      []int{http.StatusUnauthorized, http.StatusNotFound},
	}, func(ctx context.Context, input *projectPath) (*output[domain.ProjectSummary], error) {
		if _, authErr := actorIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		s, err := e.Summary(ctx, input.Project)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(s), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "project-events",
		Method:      http.MethodGet,
		Path:        "/projects/{project}/events",
		Summary:     "Project event log",
		Errors:      []int{http.StatusUnauthorized, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		Project string `path:"project"`
		Type    string `query:"type"`
		Before  int64  `query:"before"`
		Limit   int    `query:"limit"`
	}) (*output[[]domain.Event], error) {
		if _, authErr := actorIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		p, err := e.GetProject(ctx, input.Project)
		if err != nil {
			return nil, handleError(err)
		}
		items, err := e.ListEvents(ctx, repo.EventFilters{ProjectID: p.ID, Type: input.Type, Before: input.Before, Limit: normalizeLimit(input.Limit)})
		if err != nil {
			return nil, handleError(err)
		}
		return reply(nonNil(items)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "Event log",
		Errors:      []int{http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		Type       string `query:"type"`
		EntityKind string `query:"entity_kind"`
		EntityID   string `query:"entity_id"`
		Before     int64  `query:"before"`
		After      int64  `query:"after" doc:"oldest first from this event id; for followers"`
		ProjectID  string `query:"project_id"`
		Limit      int    `query:"limit"`
	}) (*output[[]domain.Event], error) {
		if _, authErr := actorIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		if input.After > 0 {
			items, err := e.EventsAfter(ctx, input.ProjectID, input.After, normalizeLimit(input.Limit))
			if err != nil {
				return nil, handleError(err)
			}
			return reply(nonNil(items)), nil
		}
		items, err := e.ListEvents(ctx, repo.EventFilters{
			ProjectID:  input.ProjectID,
			Type:       input.Type,
			EntityKind: input.EntityKind,
			EntityID:   input.EntityID,
			Before:     input.Before,
			Limit:      normalizeLimit(input.Limit),
		})
		if err != nil {
			return nil, handleError(err)
		}
		return reply(nonNil(items)), nil
	})

	registerProjectAction(api, "submit-draft", "/projects/{project}/submit", "Submit a draft project", e.SubmitDraft)
	registerProjectAction(api, "start-analysis", "/projects/{project}/analysis", "Start analysis", e.StartAnalysis)

	huma.Register(api, huma.Operation{
		OperationID:   "issue-quote",
		Method:        http.MethodPost,
		Path:          "/projects/{project}/quotes",
		Summary:       "Issue or revise the client quote",
		DefaultStatus: http.StatusCreated,
		Errors:        mutationErrors,
	}, func(ctx context.Context, input *struct {
		Project string `path:"project"`
		Body    IssueQuoteRequest
	}) (*output[domain.Quote], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		q, err := e.IssueQuote(ctx, input.Project, input.Body.Amount, input.Body.Notes, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(q), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-quotes",
		Method:      http.MethodGet,
		Path:        "/projects/{project}/quotes",
		Summary:     "Quote history",
		Errors:      []int{http.StatusUnauthorized, http.StatusNotFound},
	}, func(ctx context.Context, input *projectPath) (*output[[]domain.Quote], error) {
		if _, authErr := actorIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		items, err := e.ListQuotes(ctx, input.Project)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(nonNil(items)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "cancel-project",
		Method:      http.MethodPost,
		Path:        "/projects/{project}/cancel",
		Summary:     "Cancel project",
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *struct {
		Project string `path:"project"`
		Body    ReasonRequest
	}) (*output[domain.Project], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		p, err := e.Cancel(ctx, input.Project, input.Body.Reason, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(p), nil
	})
}

func registerPayments(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "request-payment",
		Method:        http.MethodPost,
		Path:          "/projects/{project}/payments",
		Summary:       "Open a gateway order for the current quote",
		DefaultStatus: http.StatusCreated,
		Errors:        mutationErrors,
	}, func(ctx context.Context, input *projectPath) (*output[domain.Payment], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		pay, err := e.RequestPayment(ctx, input.Project, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(pay), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "capture-payment",
		Method:      http.MethodPost,
		Path:        "/projects/{project}/payments/capture",
		Summary:     "Gateway capture callback",
		Description: "Authenticated by the gateway signature. Repeating a successful capture returns the same preview with already_paid set.",
		Errors:      []int{http.StatusBadRequest, http.StatusPaymentRequired, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		Project string `path:"project"`
		Body    CaptureRequest
	}) (*output[domain.SettlementPreview], error) {
		b := input.Body
		preview, err := e.CapturePayment(ctx, input.Project, b.QuoteID, b.PaymentRef, b.Signature)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(preview), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-payments",
		Method:      http.MethodGet,
		Path:        "/projects/{project}/payments",
		Summary:     "Payment attempts",
		Errors:      []int{http.StatusUnauthorized, http.StatusNotFound},
	}, func(ctx context.Context, input *projectPath) (*output[[]domain.Payment], error) {
		if _, authErr := actorIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		items, err := e.ListPayments(ctx, input.Project)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(nonNil(items)), nil
	})
}

func nonNil[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}

func parseCompositeCursor(cursor string) (string, string, error) {
	parts := strings.SplitN(cursor, "|", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid cursor %q", cursor)
	}
	return parts[0], parts[1], nil
}

func composeCursor(ts, id string) string {
	return ts + "|" + id
}
