package migrate

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"assignx/internal/db"
)

func TestMigrateIsRepeatable(t *testing.T) {
	conn, err := db.OpenPath(filepath.Join(t.TempDir(), "m.db"), 0)
	require.NoError(t, err)
	defer conn.Close()

	ctx := context.Background()
	v, err := Version(ctx, conn)
	require.NoError(t, err)
	assert.Zero(t, v)

	applied, err := Migrate(conn)
	require.NoError(t, err)
	assert.Positive(t, applied)

	applied, err = Migrate(conn)
	require.NoError(t, err)
	assert.Zero(t, applied)

	v, err = Version(ctx, conn)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, v, 1)
}

func TestSchemaRejectsUnknownStatus(t *testing.T) {
	conn, err := db.OpenPath(filepath.Join(t.TempDir(), "m.db"), 0)
	require.NoError(t, err)
	defer conn.Close()
	_, err = Migrate(conn)
	require.NoError(t, err)

	_, err = conn.Exec(`INSERT INTO actors(id, role, created_at) VALUES ('c1','client','2026-01-01T00:00:00Z')`)
	require.NoError(t, err)
	_, err = conn.Exec(`INSERT INTO projects(id,seq,number,client_id,service_type,subject,word_count,deadline,urgency,status,created_at,updated_at)
VALUES ('p1',1,'AX-00001','c1','report','x',10,'2026-02-01T00:00:00Z','standard','review','2026-01-01T00:00:00Z','2026-01-01T00:00:00Z')`)
	assert.Error(t, err)
}
