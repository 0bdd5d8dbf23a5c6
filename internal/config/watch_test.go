package config

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestWatcherReloadsOnWrite(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(Path(dir), []byte(GenerateDefault()), 0o644))

	got := make(chan *Config, 4)
	w := NewWatcher(dir, func(c *Config) { got <- c }, zaptest.NewLogger(t))
	w.debounce = 20 * time.Millisecond
	require.NoError(t, w.Start(context.Background()))
	defer w.Stop()

	// invalid edits are skipped
	require.NoError(t, os.WriteFile(Path(dir), []byte("pricing:\n  worker_bp: 99999\n"), 0o644))
	time.Sleep(100 * time.Millisecond)
	assert.Empty(t, got)

	yml := "notify:\n  webhooks:\n    - url: https://hooks.example.com/ax\n      enabled: true\n"
	require.NoError(t, os.WriteFile(Path(dir), []byte(yml), 0o644))
	select {
	case cfg := <-got:
		require.Len(t, cfg.Notify.Webhooks, 1)
		assert.Equal(t, "https://hooks.example.com/ax", cfg.Notify.Webhooks[0].URL)
	case <-time.After(5 * time.Second):
		t.Fatal("config change not delivered")
	}
}

func TestWatcherStopIsIdempotent(t *testing.T) {
	w := NewWatcher(t.TempDir(), nil, zaptest.NewLogger(t))
	require.NoError(t, w.Start(context.Background()))
	w.Stop()
	w.Stop()
}
