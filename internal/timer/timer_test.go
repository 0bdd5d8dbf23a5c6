package timer

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"

	"assignx/internal/domain"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fires struct {
	mu  sync.Mutex
	ids []string
	ch  chan string
}

func (f *fires) fire(_ context.Context, _, timerID string) (bool, error) {
	f.mu.Lock()
	f.ids = append(f.ids, timerID)
	f.mu.Unlock()
	f.ch <- timerID
	return true, nil
}

func TestLocalFiresDueTimer(t *testing.T) {
	f := &fires{ch: make(chan string, 4)}
	l := NewLocal(f.fire, zaptest.NewLogger(t))
	defer l.Stop()

	past := time.Now().Add(-time.Second).UTC().Format(time.RFC3339)
	require.NoError(t, l.Arm(context.Background(), domain.Timer{ID: "t1", ProjectID: "p1", FireAt: past}))
	select {
	case id := <-f.ch:
		assert.Equal(t, "t1", id)
	case <-time.After(5 * time.Second):
		t.Fatal("timer did not fire")
	}
}

func TestLocalDisarmCancels(t *testing.T) {
	f := &fires{ch: make(chan string, 4)}
	l := NewLocal(f.fire, nil)
	future := time.Now().Add(time.Hour).UTC().Format(time.RFC3339)
	require.NoError(t, l.Arm(context.Background(), domain.Timer{ID: "t1", ProjectID: "p1", FireAt: future}))
	require.NoError(t, l.Arm(context.Background(), domain.Timer{ID: "t2", ProjectID: "p2", FireAt: future}))
	assert.Equal(t, 2, l.Pending())

	require.NoError(t, l.Disarm(context.Background(), "t1"))
	require.NoError(t, l.Disarm(context.Background(), "missing"))
	assert.Equal(t, 1, l.Pending())

	l.Stop()
	assert.Zero(t, l.Pending())
	assert.Empty(t, f.ids)
	assert.Error(t, l.Arm(context.Background(), domain.Timer{ID: "t3", FireAt: future}))
}

func TestLocalRejectsBadFireAt(t *testing.T) {
	l := NewLocal(func(context.Context, string, string) (bool, error) { return false, nil }, nil)
	defer l.Stop()
	assert.Error(t, l.Arm(context.Background(), domain.Timer{ID: "t1", FireAt: "tomorrow"}))
}

func TestLocalRearmSurvivesRunningFire(t *testing.T) {
	f := &fires{ch: make(chan string, 4)}
	l := NewLocal(f.fire, zaptest.NewLogger(t))
	defer l.Stop()

	past := time.Now().Add(-time.Second).UTC().Format(time.RFC3339)
	future := time.Now().Add(time.Hour).UTC().Format(time.RFC3339)
	require.NoError(t, l.Arm(context.Background(), domain.Timer{ID: "t1", ProjectID: "p1", FireAt: past}))

	// the expired callback queues on the lock while t1 is armed again
	l.mu.Lock()
	time.Sleep(100 * time.Millisecond)
	err := l.armLocked(domain.Timer{ID: "t1", ProjectID: "p1", FireAt: future}, time.Hour)
	l.mu.Unlock()
	require.NoError(t, err)

	select {
	case id := <-f.ch:
		assert.Equal(t, "t1", id)
	case <-time.After(5 * time.Second):
		t.Fatal("expired timer did not fire")
	}
	assert.Equal(t, 1, l.Pending(), "the re-armed instance stays scheduled")
}
