// Package app opens a workspace and wires the engine to its collaborators.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"assignx/internal/config"
	"assignx/internal/db"
	"assignx/internal/engine"
	"assignx/internal/gateway"
	"assignx/internal/logger"
	"assignx/internal/migrate"
	"assignx/internal/notify"
	"assignx/internal/scheduler"
	"assignx/internal/timer"
)

const webhookDrain = 5 * time.Second

// Runtime is an opened workspace.
type Runtime struct {
	Workspace string
	DB        *sql.DB
	Config    *config.Config
	Log       *zap.Logger
	Engine    *engine.Engine

	webhook   *notify.Webhook
	watcher   *config.Watcher
	scheduler *scheduler.Manager
	local     *timer.Local
}

// Options tune Open. A nil Logger builds one from the log config section.
type Options struct {
	Workspace string
	Logger    *zap.Logger
}

// Open migrates the workspace database, loads assignx.yml (defaults when
// absent) and builds the engine. Timers are not scheduled until Start.
func Open(ctx context.Context, opts Options) (*Runtime, error) {
	cfg, err := config.LoadOptional(opts.Workspace)
	if err != nil {
		return nil, err
	}
	log := opts.Logger
	if log == nil {
		if log, err = logger.New(cfg.Log); err != nil {
			return nil, err
		}
	}
	conn, err := db.Open(db.Config{Workspace: opts.Workspace})
	if err != nil {
		return nil, err
	}
	if _, err := migrate.MigrateContext(ctx, conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	gw, err := gateway.FromConfig(cfg.Gateway)
	if err != nil {
		conn.Close()
		return nil, err
	}
	wh, err := notify.NewWebhook(cfg.Notify, log.Named("webhook"))
	if err != nil {
		conn.Close()
		return nil, err
	}

	eng := engine.New(conn, cfg)
	eng.Gateway = gw
	eng.Notifier = notify.Multi{notify.Log{Logger: log.Named("notify")}, wh}
	eng.Log = log.Named("engine")

	return &Runtime{
		Workspace: opts.Workspace,
		DB:        conn,
		Config:    cfg,
		Log:       log,
		Engine:    &eng,
		webhook:   wh,
	}, nil
}

// Start arms timers with the configured driver and begins watching the
// config file for webhook changes. Short-lived commands skip it; due timers
// are then picked up by the next running server.
func (r *Runtime) Start(ctx context.Context) error {
	if err := servableGateway(r.Config.Gateway); err != nil {
		return err
	}
	switch r.Config.Scheduler.Driver {
	case "local":
		r.local = timer.NewLocal(r.Engine.FireTimer, r.Log.Named("timer"))
		r.Engine.Timers = r.local
		armed, err := r.Engine.ArmedTimers(ctx)
		if err != nil {
			return err
		}
		for _, t := range armed {
			if err := r.local.Arm(ctx, t); err != nil {
				r.Log.Warn("re-arm timer", zap.String("timer_id", t.ID), zap.Error(err))
			}
		}
	default:
		mgr, err := scheduler.New(r.Engine, r.Config.Scheduler.SweepInterval, r.Log.Named("scheduler"))
		if err != nil {
			return err
		}
		r.scheduler = mgr
		r.Engine.Timers = mgr
		if err := mgr.Start(ctx); err != nil {
			return err
		}
	}

	r.watcher = config.NewWatcher(r.Workspace, r.reload, r.Log.Named("config"))
	return r.watcher.Start(ctx)
}

// ErrSandboxSecret is returned by Start when captures would be verified with
// the built-in sandbox secret.
var ErrSandboxSecret = errors.New("gateway.key_secret is required to serve with the sandbox provider")

func servableGateway(cfg config.Gateway) error {
	if (cfg.Provider == "" || cfg.Provider == "sandbox") && cfg.KeySecret == "" {
		return ErrSandboxSecret
	}
	return nil
}

func (r *Runtime) reload(cfg *config.Config) {
	r.webhook.SetTargets(cfg.Notify.Webhooks)
	r.Log.Info("config reloaded", zap.Int("webhooks", r.webhook.Targets()))
}

// Close stops background work, drains webhook deliveries and closes the
// database.
func (r *Runtime) Close() error {
	var err error
	if r.watcher != nil {
		r.watcher.Stop()
	}
	if r.scheduler != nil {
		err = multierr.Append(err, r.scheduler.Shutdown())
	}
	if r.local != nil {
		r.local.Stop()
	}
	err = multierr.Append(err, r.webhook.Close(webhookDrain))
	err = multierr.Append(err, r.DB.Close())
	_ = r.Log.Sync()
	return err
}
