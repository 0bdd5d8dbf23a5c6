package auth

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"assignx/internal/db"
	"assignx/internal/domain"
	"assignx/internal/migrate"
	"assignx/internal/repo"
)

func TestRoleMatrix(t *testing.T) {
	assert.True(t, RoleHas(domain.RoleClient, PermDeliveryApprove))
	assert.False(t, RoleHas(domain.RoleClient, PermQuoteIssue))
	assert.True(t, RoleHas(domain.RoleWorker, PermQCSubmit))
	assert.False(t, RoleHas(domain.RoleWorker, PermQCReview))
	assert.True(t, RoleHas(domain.RoleIntermediary, PermRefund))
	assert.False(t, RoleHas(domain.RoleIntermediary, PermActorManage))
	assert.True(t, RoleHas(domain.RoleAdmin, PermActorManage))
	assert.False(t, RoleHas("auditor", PermProjectSubmit))

	perms := Permissions(domain.RoleAdmin)
	assert.Contains(t, perms, PermActorManage)
	assert.Contains(t, perms, PermSettle)
	assert.IsNonDecreasing(t, perms)
}

func TestServiceRequire(t *testing.T) {
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	defer conn.Close()
	_, err = migrate.Migrate(conn)
	require.NoError(t, err)
	r := repo.Repo{DB: conn}
	ctx := context.Background()
	now := "2024-01-01T00:00:00Z"
	require.NoError(t, r.InsertActor(ctx, nil, domain.Actor{ID: "c1", Role: domain.RoleClient, CreatedAt: now}))
	require.NoError(t, r.InsertActor(ctx, nil, domain.Actor{ID: "root", Role: domain.RoleAdmin, CreatedAt: now}))
	s := Service{Repo: r}

	a, err := s.Require(ctx, nil, "c1", PermProjectSubmit)
	require.NoError(t, err)
	assert.Equal(t, domain.RoleClient, a.Role)

	_, err = s.Require(ctx, nil, "c1", PermQuoteIssue)
	var fe ForbiddenError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, PermQuoteIssue, fe.Permission)

	_, err = s.Require(ctx, nil, "ghost", PermProjectSubmit)
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, "unknown", fe.Role)

	_, err = s.Require(ctx, nil, "", PermProjectSubmit)
	assert.Error(t, err)

	_, err = s.RequireParty(ctx, nil, "c1", PermCancel, "c2")
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, PermCancel+":own", fe.Permission)

	_, err = s.RequireParty(ctx, nil, "c1", PermCancel, "c1")
	assert.NoError(t, err)
	_, err = s.RequireParty(ctx, nil, "root", PermCancel, "c2")
	assert.NoError(t, err)
}
