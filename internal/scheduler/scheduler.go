// Package scheduler runs auto-approval timers on gocron. Each armed timer gets
// a one-time job tagged with its id; a periodic sweep picks up anything a
// one-time job missed, such as timers armed by another process.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/go-co-op/gocron/v2"
	"go.uber.org/zap"

	"assignx/internal/domain"
)

const (
	sweepJobName     = "auto-approval-sweep"
	defaultSweep     = time.Minute
	shutdownDeadline = 10 * time.Second
)

// Engine is the part of the engine the scheduler drives.
type Engine interface {
	FireTimer(ctx context.Context, projectID, timerID string) (bool, error)
	FireDueTimers(ctx context.Context) (int, error)
	ArmedTimers(ctx context.Context) ([]domain.Timer, error)
}

// Manager implements timer.Port.
type Manager struct {
	scheduler gocron.Scheduler
	engine    Engine
	sweep     time.Duration
	log       *zap.Logger
	now       func() time.Time
}

// New creates a stopped manager. A zero sweep interval uses one minute.
func New(engine Engine, sweep time.Duration, log *zap.Logger) (*Manager, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if sweep <= 0 {
		sweep = defaultSweep
	}
	s, err := gocron.NewScheduler(
		gocron.WithLocation(time.UTC),
		gocron.WithLogger(gocronLogger{log.Sugar()}),
		gocron.WithStopTimeout(shutdownDeadline),
	)
	if err != nil {
		return nil, fmt.Errorf("create scheduler: %w", err)
	}
	return &Manager{scheduler: s, engine: engine, sweep: sweep, log: log, now: time.Now}, nil
}

// Start registers the sweep, re-arms every armed timer and starts the
// scheduler.
func (m *Manager) Start(ctx context.Context) error {
	_, err := m.scheduler.NewJob(
		gocron.DurationJob(m.sweep),
		gocron.NewTask(m.runSweep),
		gocron.WithName(sweepJobName),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return fmt.Errorf("register %s: %w", sweepJobName, err)
	}
	armed, err := m.engine.ArmedTimers(ctx)
	if err != nil {
		return fmt.Errorf("load armed timers: %w", err)
	}
	for _, t := range armed {
		if err := m.Arm(ctx, t); err != nil {
			return err
		}
	}
	m.scheduler.Start()
	m.log.Info("scheduler started", zap.Int("armed", len(armed)), zap.Duration("sweep", m.sweep))
	return nil
}

// Arm schedules a one-time fire at t.FireAt, or immediately when that has
// passed. Re-arming the same timer replaces its job.
func (m *Manager) Arm(_ context.Context, t domain.Timer) error {
	fireAt, err := time.Parse(time.RFC3339, t.FireAt)
	if err != nil {
		return fmt.Errorf("timer %s: fire_at: %w", t.ID, err)
	}
	m.scheduler.RemoveByTags(t.ID)
	start := gocron.OneTimeJobStartImmediately()
	if fireAt.After(m.now()) {
		start = gocron.OneTimeJobStartDateTime(fireAt)
	}
	_, err = m.scheduler.NewJob(
		gocron.OneTimeJob(start),
		gocron.NewTask(m.fire, t.ProjectID, t.ID),
		gocron.WithName("auto-approve "+t.ProjectID),
		gocron.WithTags(t.ID),
	)
	if err != nil {
		return fmt.Errorf("timer %s: schedule: %w", t.ID, err)
	}
	return nil
}

// Disarm drops the timer's job. Unknown ids are ignored.
func (m *Manager) Disarm(_ context.Context, timerID string) error {
	m.scheduler.RemoveByTags(timerID)
	return nil
}

// Pending reports how many timer jobs are scheduled, excluding the sweep.
func (m *Manager) Pending() int {
	n := 0
	for _, j := range m.scheduler.Jobs() {
		if j.Name() != sweepJobName {
			n++
		}
	}
	return n
}

// Shutdown stops the scheduler and waits for running jobs.
func (m *Manager) Shutdown() error {
	if err := m.scheduler.Shutdown(); err != nil {
		return fmt.Errorf("shutdown scheduler: %w", err)
	}
	m.log.Info("scheduler stopped")
	return nil
}

func (m *Manager) fire(projectID, timerID string) {
	fired, err := m.engine.FireTimer(context.Background(), projectID, timerID)
	if err != nil {
		m.log.Error("auto-approval fire failed", zap.String("project_id", projectID), zap.String("timer_id", timerID), zap.Error(err))
		return
	}
	m.log.Debug("auto-approval timer due", zap.String("timer_id", timerID), zap.Bool("fired", fired))
}

func (m *Manager) runSweep() {
	n, err := m.engine.FireDueTimers(context.Background())
	if err != nil {
		m.log.Error("auto-approval sweep failed", zap.Int("fired", n), zap.Error(err))
		return
	}
	if n > 0 {
		m.log.Info("auto-approval sweep", zap.Int("fired", n))
	}
}

// gocronLogger adapts zap to gocron.Logger.
type gocronLogger struct {
	s *zap.SugaredLogger
}

func (l gocronLogger) Debug(msg string, args ...any) { l.s.Debugw(msg, args...) }
func (l gocronLogger) Info(msg string, args ...any)  { l.s.Infow(msg, args...) }
func (l gocronLogger) Warn(msg string, args ...any)  { l.s.Warnw(msg, args...) }
func (l gocronLogger) Error(msg string, args ...any) { l.s.Errorw(msg, args...) }
