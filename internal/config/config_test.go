package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 72*time.Hour, cfg.Pricing.AutoApprovalWindow)
	assert.Equal(t, int64(6500), cfg.Rates().WorkerBP)
	assert.Equal(t, "sandbox", cfg.Gateway.Provider)
}

func TestFromYAMLOverlaysDefaults(t *testing.T) {
	cfg, err := FromYAML([]byte(`
pricing:
  worker_bp: 7000
  auto_approval_window: 24h
penalty:
  worker_bp: 500
`))
	require.NoError(t, err)
	assert.Equal(t, int64(7000), cfg.Pricing.WorkerBP)
	assert.Equal(t, int64(1500), cfg.Pricing.IntermediaryBP)
	assert.Equal(t, 24*time.Hour, cfg.Pricing.AutoApprovalWindow)
	assert.Equal(t, int64(500), cfg.Penalty.WorkerBP)
	assert.Equal(t, "INR", cfg.Pricing.Currency)
}

func TestValidateRejectsBadConfig(t *testing.T) {
	cases := map[string]string{
		"rates over 100%":   "pricing:\n  worker_bp: 9000\n  intermediary_bp: 2000\n",
		"negative penalty":  "penalty:\n  worker_bp: -1\n",
		"unknown provider":  "gateway:\n  provider: paypal\n",
		"razorpay no key":   "gateway:\n  provider: razorpay\n",
		"bad webhook url":   "notify:\n  webhooks:\n    - url: not-a-url\n",
		"file without path": "log:\n  output: file\n",
		"zero window":       "pricing:\n  auto_approval_window: 0s\n",
		"unknown driver":    "scheduler:\n  driver: cron\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := FromYAML([]byte(body))
			assert.Error(t, err)
		})
	}
}

func TestLoadOptionalFallsBackToDefaults(t *testing.T) {
	dir := t.TempDir()
	cfg, err := LoadOptional(dir)
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)

	_, err = Load(dir)
	assert.Error(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, FileName), []byte("pricing:\n  max_quote: 1000\n"), 0o644))
	cfg, err = Load(dir)
	require.NoError(t, err)
	assert.Equal(t, int64(1000), cfg.Pricing.MaxQuote)
}
