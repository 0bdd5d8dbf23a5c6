package notify

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"

	"assignx/internal/config"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m, goleak.IgnoreTopFunction("net/http.(*persistConn).writeLoop"),
		goleak.IgnoreTopFunction("net/http.(*persistConn).readLoop"),
		goleak.IgnoreTopFunction("internal/poll.runtime_pollWait"))
}

type delivery struct {
	event     string
	signature string
	body      webhookEvent
	raw       []byte
}

func newReceiver(t *testing.T) (*httptest.Server, chan delivery) {
	ch := make(chan delivery, 16)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		var evt webhookEvent
		_ = json.Unmarshal(raw, &evt)
		ch <- delivery{event: r.Header.Get("X-AssignX-Event"), signature: r.Header.Get("X-AssignX-Signature"), body: evt, raw: raw}
		w.WriteHeader(http.StatusNoContent)
	}))
	t.Cleanup(srv.Close)
	return srv, ch
}

func TestWebhookDeliversMatchingEvents(t *testing.T) {
	srv, ch := newReceiver(t)
	w, err := NewWebhook(config.Notify{PoolSize: 2, Webhooks: []config.Webhook{
		{URL: srv.URL, Secret: "hush", Events: []string{"project.delivered"}, Enabled: true},
		{URL: srv.URL + "/off", Enabled: false},
	}}, zaptest.NewLogger(t))
	require.NoError(t, err)
	assert.Equal(t, 1, w.Targets())

	w.Notify(context.Background(), "client-1", "quote.issued", nil)
	w.Notify(context.Background(), "client-1", "project.delivered", map[string]any{"number": "AX-00001"})

	select {
	case d := <-ch:
		assert.Equal(t, "project.delivered", d.event)
		assert.Equal(t, "client-1", d.body.RecipientID)
		assert.Equal(t, "AX-00001", d.body.Payload["number"])
		assert.Equal(t, SignBody("hush", d.raw), d.signature)
	case <-time.After(5 * time.Second):
		t.Fatal("no delivery")
	}
	require.NoError(t, w.Close(5*time.Second))
	select {
	case d := <-ch:
		t.Fatalf("unexpected delivery %s", d.event)
	default:
	}
}

func TestWebhookFailuresAreLoggedNotReturned(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	core, logs := observer.New(zap.WarnLevel)
	w, err := NewWebhook(config.Notify{Webhooks: []config.Webhook{{URL: srv.URL, Enabled: true}}}, zap.New(core))
	require.NoError(t, err)
	w.Notify(context.Background(), "worker-1", "assignment.created", nil)
	require.NoError(t, w.Close(5*time.Second))

	require.Equal(t, 1, logs.FilterMessage("webhook: delivery failed").Len())
}

type recorder struct {
	mu   sync.Mutex
	seen []string
}

func (r *recorder) Notify(_ context.Context, recipientID, eventType string, _ map[string]any) {
	r.mu.Lock()
	r.seen = append(r.seen, recipientID+":"+eventType)
	r.mu.Unlock()
}

func TestMultiFansOut(t *testing.T) {
	a, b := &recorder{}, &recorder{}
	core, logs := observer.New(zap.InfoLevel)
	m := Multi{a, nil, b, Log{Logger: zap.New(core)}, Nop{}}
	m.Notify(context.Background(), "w1", "assignment.created", map[string]any{"k": 1})
	assert.Equal(t, []string{"w1:assignment.created"}, a.seen)
	assert.Equal(t, []string{"w1:assignment.created"}, b.seen)
	assert.Equal(t, 1, logs.Len())
}
