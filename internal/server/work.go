package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"assignx/internal/domain"
	"assignx/internal/engine"
)

func registerWorkers(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "register-worker",
		Method:        http.MethodPost,
		Path:          "/workers",
		Summary:       "Register worker",
		DefaultStatus: http.StatusCreated,
		Errors:        mutationErrors,
	}, func(ctx context.Context, input *struct {
		Body RegisterWorkerRequest
	}) (*output[domain.Worker], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		w, err := e.RegisterWorker(ctx, domain.Worker{
			ID:            input.Body.ID,
			Name:          input.Body.Name,
			MaxConcurrent: input.Body.MaxConcurrent,
		}, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(w), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-workers",
		Method:      http.MethodGet,
		Path:        "/workers",
		Summary:     "List workers",
		Errors:      []int{http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		Available bool `query:"available" doc:"only workers accepting assignments"`
	}) (*output[[]domain.Worker], error) {
		if _, authErr := actorIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		items, err := e.ListWorkers(ctx, input.Available)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(nonNil(items)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-worker",
		Method:      http.MethodGet,
		Path:        "/workers/{worker_id}",
		Summary:     "Get worker",
		Errors:      []int{http.StatusUnauthorized, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		WorkerID string `path:"worker_id"`
	}) (*output[domain.Worker], error) {
		if _, authErr := actorIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		w, err := e.GetWorker(ctx, input.WorkerID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(w), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "set-worker-availability",
		Method:      http.MethodPost,
		Path:        "/workers/{worker_id}/availability",
		Summary:     "Toggle worker availability",
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *struct {
		WorkerID string `path:"worker_id"`
		Body     AvailabilityRequest
	}) (*output[domain.Worker], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		w, err := e.SetWorkerAvailability(ctx, input.WorkerID, input.Body.Available, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(w), nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "blacklist-worker",
		Method:        http.MethodPost,
		Path:          "/blacklist",
		Summary:       "Blacklist a worker for an intermediary",
		DefaultStatus: http.StatusNoContent,
		Errors:        mutationErrors,
	}, func(ctx context.Context, input *struct {
		Body BlacklistRequest
	}) (*struct{}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		owner := input.Body.IntermediaryID
		if owner == "" {
			owner = actorID
		}
		if err := e.Blacklist(ctx, owner, input.Body.WorkerID, input.Body.Reason, actorID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "unblacklist-worker",
		Method:        http.MethodDelete,
		Path:          "/blacklist/{worker_id}",
		Summary:       "Remove a blacklist entry",
		DefaultStatus: http.StatusNoContent,
		Errors:        mutationErrors,
	}, func(ctx context.Context, input *struct {
		WorkerID       string `path:"worker_id"`
		IntermediaryID string `query:"intermediary_id" doc:"defaults to the caller"`
	}) (*struct{}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		owner := input.IntermediaryID
		if owner == "" {
			owner = actorID
		}
		if err := e.Unblacklist(ctx, owner, input.WorkerID, actorID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-blacklist",
		Method:      http.MethodGet,
		Path:        "/blacklist",
		Summary:     "List blacklist entries",
		Errors:      []int{http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		IntermediaryID string `query:"intermediary_id"`
	}) (*output[[]domain.BlacklistEntry], error) {
		if _, authErr := actorIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		items, err := e.ListBlacklist(ctx, input.IntermediaryID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(nonNil(items)), nil
	})
}

func registerAssignments(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "assign-worker",
		Method:        http.MethodPost,
		Path:          "/projects/{project}/assignments",
		Summary:       "Assign a worker to a paid project",
		DefaultStatus: http.StatusCreated,
		Errors:        mutationErrors,
	}, func(ctx context.Context, input *struct {
		Project string `path:"project"`
		Body    AssignRequest
	}) (*output[domain.Assignment], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		a, err := e.Assign(ctx, input.Project, input.Body.WorkerID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(a), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-assignments",
		Method:      http.MethodGet,
		Path:        "/projects/{project}/assignments",
		Summary:     "Assignment history",
		Errors:      []int{http.StatusUnauthorized, http.StatusNotFound},
	}, func(ctx context.Context, input *projectPath) (*output[[]domain.Assignment], error) {
		if _, authErr := actorIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		p, err := e.GetProject(ctx, input.Project)
		if err != nil {
			return nil, handleError(err)
		}
		items, err := e.ListAssignments(ctx, p.ID, "")
		if err != nil {
			return nil, handleError(err)
		}
		return reply(nonNil(items)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "decline-assignment",
		Method:      http.MethodPost,
		Path:        "/assignments/{assignment_id}/decline",
		Summary:     "Decline an assignment",
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *struct {
		AssignmentID string `path:"assignment_id"`
		Body         ReasonRequest
	}) (*output[domain.Project], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		p, err := e.DeclineAssignment(ctx, input.AssignmentID, input.Body.Reason, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(p), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "reassign",
		Method:      http.MethodPost,
		Path:        "/assignments/{assignment_id}/reassign",
		Summary:     "Move an assignment to another worker",
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *struct {
		AssignmentID string `path:"assignment_id"`
		Body         ReassignRequest
	}) (*output[domain.Assignment], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		a, err := e.Reassign(ctx, input.AssignmentID, input.Body.WorkerID, input.Body.Reason, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(a), nil
	})

	registerProjectAction(api, "start-work", "/projects/{project}/start", "Worker starts work", e.StartWork)
}

func registerQC(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "submit-qc",
		Method:      http.MethodPost,
		Path:        "/projects/{project}/qc",
		Summary:     "Submit deliverables for QC",
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *struct {
		Project string `path:"project"`
		Body    SubmitQCRequest
	}) (*output[domain.Project], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		p, err := e.SubmitForQC(ctx, input.Project, input.Body.Refs, input.Body.Notes, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(p), nil
	})

	registerProjectAction(api, "start-qc", "/projects/{project}/qc/start", "Start QC review", e.StartQCReview)

	huma.Register(api, huma.Operation{
		OperationID: "qc-decision",
		Method:      http.MethodPost,
		Path:        "/projects/{project}/qc/decision",
		Summary:     "Approve or reject the QC submission",
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *struct {
		Project string `path:"project"`
		Body    QCDecisionRequest
	}) (*output[domain.Project], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		p, err := e.RecordQCDecision(ctx, input.Project, input.Body.Decision, input.Body.Notes, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(p), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "deliver",
		Method:      http.MethodPost,
		Path:        "/projects/{project}/deliver",
		Summary:     "Deliver to the client and arm auto-approval",
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *struct {
		Project string `path:"project"`
		Body    DeliverRequest
	}) (*output[domain.Project], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		p, err := e.Deliver(ctx, input.Project, input.Body.Refs, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(p), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "approve-delivery",
		Method:      http.MethodPost,
		Path:        "/projects/{project}/approve",
		Summary:     "Client approves the delivery; settles the project",
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *projectPath) (*output[CompletionResponse], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		c, err := e.ApproveDelivery(ctx, input.Project, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(CompletionResponse{Project: c.Project, Ledger: nonNil(c.Ledger)}), nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "request-revision",
		Method:        http.MethodPost,
		Path:          "/projects/{project}/revisions",
		Summary:       "Request a revision of the delivery",
		DefaultStatus: http.StatusCreated,
		Errors:        mutationErrors,
	}, func(ctx context.Context, input *struct {
		Project string `path:"project"`
		Body    NotesRequest
	}) (*output[domain.Revision], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		rv, err := e.RequestRevision(ctx, input.Project, input.Body.Notes, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(rv), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-revisions",
		Method:      http.MethodGet,
		Path:        "/projects/{project}/revisions",
		Summary:     "Revision requests",
		Errors:      []int{http.StatusUnauthorized, http.StatusNotFound},
	}, func(ctx context.Context, input *projectPath) (*output[[]domain.Revision], error) {
		if _, authErr := actorIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		items, err := e.ListRevisions(ctx, input.Project)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(nonNil(items)), nil
	})

	registerProjectAction(api, "start-revision", "/projects/{project}/revisions/start", "Worker starts the revision", e.StartRevision)

	huma.Register(api, huma.Operation{
		OperationID: "list-deliverables",
		Method:      http.MethodGet,
		Path:        "/projects/{project}/deliverables",
		Summary:     "Deliverable references",
		Errors:      []int{http.StatusUnauthorized, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		Project string `path:"project"`
		Kind    string `query:"kind" enum:"qc_submission,delivery"`
	}) (*output[[]domain.Deliverable], error) {
		if _, authErr := actorIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		items, err := e.ListDeliverables(ctx, input.Project, input.Kind)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(nonNil(items)), nil
	})
}
