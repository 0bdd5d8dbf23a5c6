package auth

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"assignx/internal/domain"
	"assignx/internal/repo"
)

// ForbiddenError indicates missing permission.
type ForbiddenError struct {
	Permission string
	ActorID    string
	Role       string
}

func (e ForbiddenError) Error() string {
	if e.ActorID == "" {
		return fmt.Sprintf("permission %s required", e.Permission)
	}
	return fmt.Sprintf("permission %s required (actor %s has role %s)", e.Permission, e.ActorID, e.Role)
}

// Permissions checked by the engine.
const (
	PermProjectSubmit     = "project.submit"
	PermProjectAnalyze    = "project.analyze"
	PermQuoteIssue        = "quote.issue"
	PermPaymentRequest    = "payment.request"
	PermWorkerManage      = "worker.manage"
	PermAssign            = "assignment.assign"
	PermAssignmentDecline = "assignment.decline"
	PermWorkStart         = "work.start"
	PermQCSubmit          = "qc.submit"
	PermQCReview          = "qc.review"
	PermDeliver           = "project.deliver"
	PermDeliveryApprove   = "delivery.approve"
	PermRevisionRequest   = "revision.request"
	PermRevisionStart     = "revision.start"
	PermCancel            = "project.cancel"
	PermRefund            = "project.refund"
	PermSettle            = "project.settle"
	PermActorManage       = "actor.manage"
)

// rolePermissions is the fixed RBAC matrix. Admin holds every permission.
var rolePermissions = map[string][]string{
	domain.RoleClient: {
		PermProjectSubmit, PermPaymentRequest, PermDeliveryApprove, PermRevisionRequest, PermCancel,
	},
	domain.RoleWorker: {
		PermAssignmentDecline, PermWorkStart, PermQCSubmit, PermRevisionStart,
	},
	domain.RoleIntermediary: {
		PermProjectAnalyze, PermQuoteIssue, PermWorkerManage, PermAssign, PermAssignmentDecline,
		PermQCReview, PermDeliver, PermCancel, PermRefund, PermSettle,
	},
}

// RoleHas reports whether role grants perm.
func RoleHas(role, perm string) bool {
	if role == domain.RoleAdmin {
		return true
	}
	for _, p := range rolePermissions[role] {
		if p == perm {
			return true
		}
	}
	return false
}

// Permissions lists what a role may do, sorted.
func Permissions(role string) []string {
	var res []string
	if role == domain.RoleAdmin {
		seen := map[string]bool{}
		for _, perms := range rolePermissions {
			for _, p := range perms {
				if !seen[p] {
					seen[p] = true
					res = append(res, p)
				}
			}
		}
		res = append(res, PermActorManage)
	} else {
		res = append(res, rolePermissions[role]...)
	}
	sort.Strings(res)
	return res
}

// Service provides RBAC helpers backed by the actor registry.
type Service struct {
	Repo repo.Repo
}

// Require loads the actor and checks perm. Unknown actors are forbidden, not
// missing, so callers never learn whether an id exists.
func (s Service) Require(ctx context.Context, q repo.Queryer, actorID, perm string) (domain.Actor, error) {
	if actorID == "" {
		return domain.Actor{}, errors.New("actor_id required")
	}
	actor, err := s.Repo.GetActor(ctx, q, actorID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return domain.Actor{}, ForbiddenError{Permission: perm, ActorID: actorID, Role: "unknown"}
		}
		return domain.Actor{}, err
	}
	if !RoleHas(actor.Role, perm) {
		return actor, ForbiddenError{Permission: perm, ActorID: actorID, Role: actor.Role}
	}
	return actor, nil
}

// RequireParty checks perm and, for non-admins, that the actor is the party
// named by ownerID on the project.
func (s Service) RequireParty(ctx context.Context, q repo.Queryer, actorID, perm, ownerID string) (domain.Actor, error) {
	actor, err := s.Require(ctx, q, actorID, perm)
	if err != nil {
		return actor, err
	}
	if actor.Role == domain.RoleAdmin {
		return actor, nil
	}
	if ownerID != "" && ownerID != actorID {
		return actor, ForbiddenError{Permission: perm + ":own", ActorID: actorID, Role: actor.Role}
	}
	return actor, nil
}
