// Package timer schedules auto-approval fires. The timer rows in the database
// are the source of truth; a Port only decides when to call back, so a lost
// or duplicated callback is harmless.
package timer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"assignx/internal/domain"
)

// Port arms and disarms scheduled fires for timer instances.
type Port interface {
	Arm(ctx context.Context, t domain.Timer) error
	Disarm(ctx context.Context, timerID string) error
}

// FireFunc is called when an instance comes due. It reports whether the
// instance actually fired.
type FireFunc func(ctx context.Context, projectID, timerID string) (bool, error)

// Nop schedules nothing; due timers are picked up by a sweep.
type Nop struct{}

func (Nop) Arm(context.Context, domain.Timer) error { return nil }
func (Nop) Disarm(context.Context, string) error    { return nil }

// Local fires in-process with time.AfterFunc. Nothing survives a restart.
type Local struct {
	fire FireFunc
	log  *zap.Logger
	now  func() time.Time

	mu      sync.Mutex
	pending map[string]*time.Timer
	stopped bool
	wg      sync.WaitGroup
}

func NewLocal(fire FireFunc, log *zap.Logger) *Local {
	if log == nil {
		log = zap.NewNop()
	}
	return &Local{fire: fire, log: log, now: time.Now, pending: map[string]*time.Timer{}}
}

func (l *Local) Arm(_ context.Context, t domain.Timer) error {
	fireAt, err := time.Parse(time.RFC3339, t.FireAt)
	if err != nil {
		return fmt.Errorf("timer %s: fire_at: %w", t.ID, err)
	}
	delay := fireAt.Sub(l.now())
	if delay < 0 {
		delay = 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.armLocked(t, delay)
}

func (l *Local) armLocked(t domain.Timer, delay time.Duration) error {
	if l.stopped {
		return fmt.Errorf("timer %s: scheduler stopped", t.ID)
	}
	if old, ok := l.pending[t.ID]; ok && old.Stop() {
		l.wg.Done()
	}
	projectID, timerID := t.ProjectID, t.ID
	l.wg.Add(1)
	var self *time.Timer
	self = time.AfterFunc(delay, func() {
		defer l.wg.Done()
		l.mu.Lock()
		// a re-arm may already own the slot
		if l.pending[timerID] == self {
			delete(l.pending, timerID)
		}
		l.mu.Unlock()
		fired, err := l.fire(context.Background(), projectID, timerID)
		if err != nil {
			l.log.Error("auto-approval fire failed", zap.String("project_id", projectID), zap.String("timer_id", timerID), zap.Error(err))
			return
		}
		l.log.Debug("auto-approval timer due", zap.String("timer_id", timerID), zap.Bool("fired", fired))
	})
	l.pending[timerID] = self
	return nil
}

func (l *Local) Disarm(_ context.Context, timerID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if t, ok := l.pending[timerID]; ok {
		if t.Stop() {
			l.wg.Done()
		}
		delete(l.pending, timerID)
	}
	return nil
}

// Pending reports how many instances are scheduled.
func (l *Local) Pending() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.pending)
}

// Stop cancels everything scheduled and waits for running fires.
func (l *Local) Stop() {
	l.mu.Lock()
	l.stopped = true
	for id, t := range l.pending {
		if t.Stop() {
			l.wg.Done()
		}
		delete(l.pending, id)
	}
	l.mu.Unlock()
	l.wg.Wait()
}
