package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"assignx/internal/config"
	"assignx/internal/domain"
	"assignx/internal/scheduler"
	"assignx/internal/timer"
)

func open(t *testing.T, yml string) *Runtime {
	t.Helper()
	dir := t.TempDir()
	if yml != "" {
		require.NoError(t, os.WriteFile(filepath.Join(dir, config.FileName), []byte(yml), 0o644))
	}
	rt, err := Open(context.Background(), Options{Workspace: dir, Logger: zaptest.NewLogger(t)})
	require.NoError(t, err)
	return rt
}

func TestOpenWiresEngine(t *testing.T) {
	rt := open(t, "")
	defer rt.Close()

	assert.IsType(t, timer.Nop{}, rt.Engine.Timers)
	assert.Equal(t, "INR", rt.Config.Pricing.Currency)

	a, err := rt.Engine.BootstrapActor(context.Background(), domain.Actor{ID: "root", Role: domain.RoleAdmin})
	require.NoError(t, err)
	assert.Equal(t, "root", a.ID)
}

const sandboxGateway = "gateway:\n  provider: sandbox\n  key_secret: app-test-secret\n"

func TestStartUsesGocronByDefault(t *testing.T) {
	rt := open(t, sandboxGateway)
	require.NoError(t, rt.Start(context.Background()))
	assert.IsType(t, &scheduler.Manager{}, rt.Engine.Timers)
	require.NoError(t, rt.Close())
}

func TestStartUsesLocalDriver(t *testing.T) {
	rt := open(t, sandboxGateway+"scheduler:\n  driver: local\n")
	require.NoError(t, rt.Start(context.Background()))
	assert.IsType(t, &timer.Local{}, rt.Engine.Timers)
	require.NoError(t, rt.Close())
}

func TestReloadReplacesWebhooks(t *testing.T) {
	rt := open(t, "")
	defer rt.Close()
	assert.Equal(t, 0, rt.webhook.Targets())

	cfg, err := config.FromYAML([]byte("notify:\n  webhooks:\n    - url: http://127.0.0.1:9/hook\n      enabled: true\n"))
	require.NoError(t, err)
	rt.reload(cfg)
	assert.Equal(t, 1, rt.webhook.Targets())
}

func TestStartRefusesBuiltinSandboxSecret(t *testing.T) {
	rt := open(t, "")
	defer rt.Close()
	err := rt.Start(context.Background())
	require.ErrorIs(t, err, ErrSandboxSecret)
	assert.IsType(t, timer.Nop{}, rt.Engine.Timers, "nothing is scheduled")
}
