package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"assignx/internal/domain"
	"assignx/internal/engine"
	"assignx/internal/repo"
)

func registerSettlement(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "settle-project",
		Method:      http.MethodPost,
		Path:        "/projects/{project}/settle",
		Summary:     "Write settlement credits for a finished project",
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *projectPath) (*output[[]domain.LedgerEntry], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		entries, err := e.Settle(ctx, input.Project, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(entries), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "refund-project",
		Method:      http.MethodPost,
		Path:        "/projects/{project}/refund",
		Summary:     "Refund a cancelled project",
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *struct {
		Project string `path:"project"`
		Body    RefundRequest
	}) (*output[engine.RefundResult], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		res, err := e.Refund(ctx, input.Project, input.Body.Amount, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(res), nil
	})
}

func registerLedger(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "project-ledger",
		Method:      http.MethodGet,
		Path:        "/projects/{project}/ledger",
		Summary:     "Ledger rows of one project",
		Errors:      []int{http.StatusUnauthorized, http.StatusNotFound},
	}, func(ctx context.Context, input *projectPath) (*output[[]domain.LedgerEntry], error) {
		if _, authErr := actorIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		items, err := e.ListLedger(ctx, repo.LedgerFilters{ProjectID: input.Project})
		if err != nil {
			return nil, handleError(err)
		}
		return reply(nonNil(items)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-ledger",
		Method:      http.MethodGet,
		Path:        "/ledger",
		Summary:     "Ledger rows by owner",
		Errors:      []int{http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		OwnerKind string `query:"owner_kind" enum:"client,worker,intermediary,platform"`
		OwnerID   string `query:"owner_id"`
		Limit     int    `query:"limit"`
	}) (*output[[]domain.LedgerEntry], error) {
		if _, authErr := actorIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		items, err := e.ListLedger(ctx, repo.LedgerFilters{OwnerKind: input.OwnerKind, OwnerID: input.OwnerID, Limit: normalizeLimit(input.Limit)})
		if err != nil {
			return nil, handleError(err)
		}
		return reply(nonNil(items)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "balances",
		Method:      http.MethodGet,
		Path:        "/balances",
		Summary:     "Ledger balance per owner",
		Errors:      []int{http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		OwnerKind string `query:"owner_kind" enum:"client,worker,intermediary,platform"`
	}) (*output[[]domain.Balance], error) {
		if _, authErr := actorIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		items, err := e.Balances(ctx, input.OwnerKind)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(nonNil(items)), nil
	})
}

func registerTimers(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "project-timers",
		Method:      http.MethodGet,
		Path:        "/projects/{project}/timers",
		Summary:     "Auto-approval timer instances",
		Errors:      []int{http.StatusUnauthorized, http.StatusNotFound},
	}, func(ctx context.Context, input *projectPath) (*output[[]domain.Timer], error) {
		if _, authErr := actorIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		items, err := e.ListTimers(ctx, input.Project)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(nonNil(items)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "fire-due-timers",
		Method:      http.MethodPost,
		Path:        "/timers/fire",
		Summary:     "Fire every due auto-approval timer (admin)",
		Errors:      []int{http.StatusUnauthorized, http.StatusForbidden},
	}, func(ctx context.Context, input *struct{}) (*output[FireTimersResponse], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		a, err := e.GetActor(ctx, actorID)
		if err != nil || a.Role != domain.RoleAdmin {
			return nil, newAPIError(http.StatusForbidden, "forbidden", "admin role required", nil)
		}
		n, err := e.FireDueTimers(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(FireTimersResponse{Fired: n}), nil
	})
}

func registerActors(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "register-actor",
		Method:        http.MethodPost,
		Path:          "/actors",
		Summary:       "Register actor (admin)",
		DefaultStatus: http.StatusCreated,
		Errors:        mutationErrors,
	}, func(ctx context.Context, input *struct {
		Body RegisterActorRequest
	}) (*output[domain.Actor], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		a, err := e.RegisterActor(ctx, domain.Actor{ID: input.Body.ID, Role: input.Body.Role, Name: input.Body.Name}, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(a), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-actors",
		Method:      http.MethodGet,
		Path:        "/actors",
		Summary:     "List actors",
		Errors:      []int{http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		Role string `query:"role" enum:"client,worker,intermediary,admin"`
	}) (*output[[]domain.Actor], error) {
		if _, authErr := actorIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		items, err := e.ListActors(ctx, input.Role)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(nonNil(items)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-api-key",
		Method:        http.MethodPost,
		Path:          "/actors/{actor_id}/api-keys",
		Summary:       "Create an API key; the raw key is returned once",
		DefaultStatus: http.StatusCreated,
		Errors:        mutationErrors,
	}, func(ctx context.Context, input *struct {
		ActorID string `path:"actor_id"`
		Body    CreateAPIKeyRequest
	}) (*output[APIKeyResponse], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		raw, key, err := e.CreateAPIKey(ctx, input.ActorID, input.Body.Name, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(APIKeyResponse{Key: raw, APIKey: key}), nil
	})
	huma.Register(api, huma.Operation{
		OperationID: "list-api-keys",
		Method:      http.MethodGet,
		Path:        "/actors/{actor_id}/api-keys",
		Summary:     "List API keys of an actor",
		Errors:      []int{http.StatusUnauthorized, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		ActorID string `path:"actor_id"`
	}) (*output[[]domain.APIKey], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		keys, err := e.ListAPIKeys(ctx, input.ActorID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(nonNil(keys)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "revoke-api-key",
		Method:        http.MethodDelete,
		Path:          "/api-keys/{key_id}",
		Summary:       "Revoke an API key",
		Description:   "Servers may keep accepting a revoked key until their lookup cache expires.",
		DefaultStatus: http.StatusNoContent,
		Errors:        []int{http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		KeyID string `path:"key_id"`
	}) (*struct{}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.RevokeAPIKey(ctx, input.KeyID, actorID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

func registerStats(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "project-stats",
		Method:      http.MethodGet,
		Path:        "/stats",
		Summary:     "Project count per status",
		Errors:      []int{http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct{}) (*output[map[string]int], error) {
		if _, authErr := actorIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		counts, err := e.StatusCounts(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(counts), nil
	})
}
