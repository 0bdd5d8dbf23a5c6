package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"assignx/internal/settlement"
)

const FileName = "assignx.yml"

// Config models assignx.yml.
type Config struct {
	Pricing   Pricing          `yaml:"pricing"`
	Penalty   settlement.Rates `yaml:"penalty"`
	Gateway   Gateway          `yaml:"gateway"`
	Notify    Notify           `yaml:"notify"`
	Scheduler Scheduler        `yaml:"scheduler"`
	Log       Log              `yaml:"log"`
	Server    Server           `yaml:"server"`
}

type Pricing struct {
	WorkerBP           int64         `yaml:"worker_bp"`
	IntermediaryBP     int64         `yaml:"intermediary_bp"`
	MaxQuote           int64         `yaml:"max_quote"`
	Currency           string        `yaml:"currency"`
	AutoApprovalWindow time.Duration `yaml:"auto_approval_window"`
}

type Gateway struct {
	Provider  string        `yaml:"provider"`
	KeyID     string        `yaml:"key_id"`
	KeySecret string        `yaml:"key_secret"`
	BaseURL   string        `yaml:"base_url"`
	Timeout   time.Duration `yaml:"timeout"`
}

type Webhook struct {
	URL     string        `yaml:"url"`
	Secret  string        `yaml:"secret"`
	Events  []string      `yaml:"events"`
	Enabled bool          `yaml:"enabled"`
	Timeout time.Duration `yaml:"timeout"`
}

type Notify struct {
	Webhooks []Webhook `yaml:"webhooks"`
	PoolSize int       `yaml:"pool_size"`
}

type Scheduler struct {
	// Driver is gocron (durable, with a sweep) or local (in-process only).
	Driver        string        `yaml:"driver"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

type Log struct {
	Level      string `yaml:"level"`
	Output     string `yaml:"output"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
}

type Server struct {
	Addr     string `yaml:"addr"`
	BasePath string `yaml:"base_path"`
}

// Rates returns the distribution rates applied at capture.
func (c *Config) Rates() settlement.Rates {
	return settlement.Rates{WorkerBP: c.Pricing.WorkerBP, IntermediaryBP: c.Pricing.IntermediaryBP}
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if err := c.Rates().Validate(); err != nil {
		return fmt.Errorf("config.pricing: %w", err)
	}
	if err := c.Penalty.Validate(); err != nil {
		return fmt.Errorf("config.penalty: %w", err)
	}
	if c.Pricing.MaxQuote <= 0 {
		return fmt.Errorf("config.pricing.max_quote must be positive")
	}
	if strings.TrimSpace(c.Pricing.Currency) == "" {
		return fmt.Errorf("config.pricing.currency is required")
	}
	if c.Pricing.AutoApprovalWindow <= 0 {
		return fmt.Errorf("config.pricing.auto_approval_window must be positive")
	}
	switch c.Gateway.Provider {
	case "sandbox":
	case "razorpay":
		if c.Gateway.KeyID == "" {
			return fmt.Errorf("config.gateway.key_id is required for razorpay")
		}
	default:
		return fmt.Errorf("config.gateway.provider must be sandbox or razorpay, got %q", c.Gateway.Provider)
	}
	for i, wh := range c.Notify.Webhooks {
		u, err := url.Parse(wh.URL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("config.notify.webhooks[%d].url is invalid: %q", i, wh.URL)
		}
	}
	if c.Notify.PoolSize < 0 {
		return fmt.Errorf("config.notify.pool_size must not be negative")
	}
	switch c.Scheduler.Driver {
	case "", "gocron", "local":
	default:
		return fmt.Errorf("config.scheduler.driver must be gocron or local, got %q", c.Scheduler.Driver)
	}
	if c.Scheduler.SweepInterval < 0 {
		return fmt.Errorf("config.scheduler.sweep_interval must not be negative")
	}
	switch c.Log.Output {
	case "", "stdout", "stderr":
	case "file":
		if c.Log.File == "" {
			return fmt.Errorf("config.log.file is required when output is file")
		}
	default:
		return fmt.Errorf("config.log.output must be stdout, stderr or file")
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, FileName)
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create one with ax init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns the defaults if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Default returns the built-in configuration.
func Default() *Config {
	var cfg Config
	if err := yaml.Unmarshal([]byte(defaultTemplate), &cfg); err != nil {
		panic(fmt.Sprintf("default config: %v", err))
	}
	return &cfg
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// FromYAML parses raw YAML over the defaults and validates the result.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `pricing:
  # shares of the client quote in basis points; the platform keeps the rest
  worker_bp: 6500
  intermediary_bp: 1500
  max_quote: 50000000
  currency: INR
  auto_approval_window: 72h

# retained from the captured amount when a started project is cancelled
penalty:
  worker_bp: 2000
  intermediary_bp: 1000

gateway:
  provider: sandbox
  base_url: https://api.razorpay.com/v1
  timeout: 10s

notify:
  pool_size: 8
  webhooks: []

scheduler:
  driver: gocron
  sweep_interval: 1m

log:
  level: info
  output: stdout
  max_size_mb: 100
  max_backups: 3
  max_age_days: 28

server:
  addr: 127.0.0.1:8080
`
