package engine

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"assignx/internal/domain"
	"assignx/internal/engine/auth"
	"assignx/internal/events"
	"assignx/internal/repo"
)

const apiKeyPrefix = "axk_"

func validRole(role string) bool {
	switch role {
	case domain.RoleClient, domain.RoleWorker, domain.RoleIntermediary, domain.RoleAdmin:
		return true
	}
	return false
}

// RegisterActor adds a party to the registry. Only admins register actors.
func (e Engine) RegisterActor(ctx context.Context, a domain.Actor, actorID string) (domain.Actor, error) {
	a.ID = strings.TrimSpace(a.ID)
	if a.ID == "" {
		return domain.Actor{}, fmt.Errorf("%w: actor id required", ErrInvalidInput)
	}
	if !validRole(a.Role) {
		return domain.Actor{}, fmt.Errorf("%w: unknown role %q", ErrInvalidInput, a.Role)
	}
	err := e.inTx(ctx, func(tx *sql.Tx, fx *effects) error {
		if _, err := e.Auth.Require(ctx, tx, actorID, auth.PermActorManage); err != nil {
			return err
		}
		return e.insertActor(ctx, tx, &a, actorID)
	})
	return a, err
}

// BootstrapActor registers an actor without RBAC checks, for seeding a fresh
// workspace. An existing actor with the same role is returned unchanged.
func (e Engine) BootstrapActor(ctx context.Context, a domain.Actor) (domain.Actor, error) {
	a.ID = strings.TrimSpace(a.ID)
	if a.ID == "" || !validRole(a.Role) {
		return domain.Actor{}, fmt.Errorf("%w: actor id and a known role required", ErrInvalidInput)
	}
	err := e.inTx(ctx, func(tx *sql.Tx, fx *effects) error {
		existing, err := e.Repo.GetActor(ctx, tx, a.ID)
		if err == nil {
			if existing.Role != a.Role {
				return fmt.Errorf("%w: actor %s already has role %s", ErrInvalidInput, a.ID, existing.Role)
			}
			a = existing
			return nil
		}
		if !errors.Is(err, repo.ErrNotFound) {
			return err
		}
		return e.insertActor(ctx, tx, &a, SystemActor)
	})
	return a, err
}

func (e Engine) insertActor(ctx context.Context, tx *sql.Tx, a *domain.Actor, actorID string) error {
	a.CreatedAt = e.stamp()
	if err := e.Repo.InsertActor(ctx, tx, *a); err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: actor %s already registered", ErrInvalidInput, a.ID)
		}
		return err
	}
	return e.appendEvent(ctx, tx, events.ActorRegistered, "", "actor", a.ID, actorID, events.EventPayload{"role": a.Role})
}

func (e Engine) GetActor(ctx context.Context, id string) (domain.Actor, error) {
	a, err := e.Repo.GetActor(ctx, nil, id)
	if err != nil {
		return a, fmt.Errorf("actor %s: %w", id, err)
	}
	return a, nil
}

func (e Engine) ListActors(ctx context.Context, role string) ([]domain.Actor, error) {
	return e.Repo.ListActors(ctx, nil, role)
}

// CreateAPIKey issues a key for forActorID. The raw key is returned once;
// only its hash is stored. Actors may issue keys for themselves.
func (e Engine) CreateAPIKey(ctx context.Context, forActorID, name, actorID string) (string, domain.APIKey, error) {
	raw, err := newAPIKey()
	if err != nil {
		return "", domain.APIKey{}, err
	}
	key := domain.APIKey{
		ID:      uuid.NewString(),
		ActorID: forActorID,
		Name:    strings.TrimSpace(name),
		KeyHash: repo.HashAPIKey(raw),
	}
	err = e.inTx(ctx, func(tx *sql.Tx, fx *effects) error {
		if forActorID != actorID {
			if _, err := e.Auth.Require(ctx, tx, actorID, auth.PermActorManage); err != nil {
				return err
			}
		}
		if _, err := e.Repo.GetActor(ctx, tx, forActorID); err != nil {
			return fmt.Errorf("actor %s: %w", forActorID, err)
		}
		key.CreatedAt = e.stamp()
		if err := e.Repo.InsertAPIKey(ctx, tx, key); err != nil {
			return err
		}
		return e.appendEvent(ctx, tx, events.APIKeyCreated, "", "api_key", key.ID, actorID, events.EventPayload{
			"actor_id": forActorID,
			"name":     key.Name,
		})
	})
	if err != nil {
		return "", domain.APIKey{}, err
	}
	return raw, key, nil
}

// ListAPIKeys returns the keys of forActorID. Other actors' keys need
// actor.manage.
func (e Engine) ListAPIKeys(ctx context.Context, forActorID, actorID string) ([]domain.APIKey, error) {
	if forActorID != actorID {
		if _, err := e.Auth.Require(ctx, nil, actorID, auth.PermActorManage); err != nil {
			return nil, err
		}
	}
	return e.Repo.ListAPIKeys(ctx, nil, forActorID)
}

// RevokeAPIKey deletes a key. Servers caching key lookups stop accepting it
// once their cache entry expires.
func (e Engine) RevokeAPIKey(ctx context.Context, keyID, actorID string) error {
	return e.inTx(ctx, func(tx *sql.Tx, fx *effects) error {
		key, err := e.Repo.GetAPIKey(ctx, tx, keyID)
		if err != nil {
			return fmt.Errorf("api key %s: %w", keyID, err)
		}
		if key.ActorID != actorID {
			if _, err := e.Auth.Require(ctx, tx, actorID, auth.PermActorManage); err != nil {
				return err
			}
		}
		if err := e.Repo.DeleteAPIKey(ctx, tx, key.ID); err != nil {
			return err
		}
		return e.appendEvent(ctx, tx, events.APIKeyRevoked, "", "api_key", key.ID, actorID, events.EventPayload{
			"actor_id": key.ActorID,
		})
	})
}

func newAPIKey() (string, error) {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate api key: %w", err)
	}
	return apiKeyPrefix + hex.EncodeToString(buf), nil
}
