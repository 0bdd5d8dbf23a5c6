package notify

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"

	"assignx/internal/config"
)

const (
	defaultWebhookTimeout = 5 * time.Second
	defaultPoolSize       = 8
)

// Webhook posts each notification as JSON to every enabled target whose
// event filter matches. Posts run on a bounded goroutine pool; when the pool
// is saturated the notification is dropped and logged.
type Webhook struct {
	pool   *ants.Pool
	client *http.Client
	log    *zap.Logger
	now    func() time.Time

	mu      sync.RWMutex
	targets []target
}

type target struct {
	hook   config.Webhook
	filter eventFilter
}

func NewWebhook(cfg config.Notify, log *zap.Logger) (*Webhook, error) {
	size := cfg.PoolSize
	if size <= 0 {
		size = defaultPoolSize
	}
	pool, err := ants.NewPool(size, ants.WithNonblocking(true))
	if err != nil {
		return nil, fmt.Errorf("webhook pool: %w", err)
	}
	if log == nil {
		log = zap.NewNop()
	}
	w := &Webhook{
		pool:   pool,
		client: &http.Client{Timeout: defaultWebhookTimeout},
		log:    log,
		now:    time.Now,
	}
	w.SetTargets(cfg.Webhooks)
	return w, nil
}

// SetTargets replaces the webhook list; used on config reload.
func (w *Webhook) SetTargets(hooks []config.Webhook) {
	var targets []target
	for _, h := range hooks {
		if !h.Enabled || strings.TrimSpace(h.URL) == "" {
			continue
		}
		targets = append(targets, target{hook: h, filter: newEventFilter(h.Events)})
	}
	w.mu.Lock()
	w.targets = targets
	w.mu.Unlock()
}

func (w *Webhook) Targets() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return len(w.targets)
}

type webhookEvent struct {
	DeliveryID  string         `json:"delivery_id"`
	Type        string         `json:"type"`
	RecipientID string         `json:"recipient_id"`
	TS          string         `json:"ts"`
	Payload     map[string]any `json:"payload"`
}

func (w *Webhook) Notify(_ context.Context, recipientID, eventType string, payload map[string]any) {
	w.mu.RLock()
	targets := w.targets
	w.mu.RUnlock()
	if len(targets) == 0 {
		return
	}
	if payload == nil {
		payload = map[string]any{}
	}
	body, err := json.Marshal(webhookEvent{
		DeliveryID:  uuid.NewString(),
		Type:        eventType,
		RecipientID: recipientID,
		TS:          w.now().UTC().Format(time.RFC3339),
		Payload:     payload,
	})
	if err != nil {
		w.log.Warn("webhook: marshal notification", zap.String("event", eventType), zap.Error(err))
		return
	}
	for _, t := range targets {
		if !t.filter.match(eventType) {
			continue
		}
		hook := t.hook
		if err := w.pool.Submit(func() {
			if err := w.post(hook, eventType, body); err != nil {
				w.log.Warn("webhook: delivery failed", zap.String("url", hook.URL), zap.String("event", eventType), zap.Error(err))
			}
		}); err != nil {
			w.log.Warn("webhook: dropped", zap.String("url", hook.URL), zap.String("event", eventType), zap.Error(err))
		}
	}
}

func (w *Webhook) post(hook config.Webhook, eventType string, body []byte) error {
	timeout := hook.Timeout
	if timeout <= 0 {
		timeout = defaultWebhookTimeout
	}
	// detached from the caller: the request that triggered it has already returned
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, hook.URL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-AssignX-Event", eventType)
	if strings.TrimSpace(hook.Secret) != "" {
		req.Header.Set("X-AssignX-Signature", SignBody(hook.Secret, body))
	}
	res, err := w.client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		bodyBytes, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return fmt.Errorf("status %d: %s", res.StatusCode, strings.TrimSpace(string(bodyBytes)))
	}
	return nil
}

// Close waits up to timeout for in-flight deliveries and stops the pool.
func (w *Webhook) Close(timeout time.Duration) error {
	err := w.pool.ReleaseTimeout(timeout)
	w.client.CloseIdleConnections()
	return err
}

// SignBody is the hex HMAC-SHA256 receivers use to authenticate a delivery.
func SignBody(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

type eventFilter struct {
	all bool
	set map[string]struct{}
}

func newEventFilter(events []string) eventFilter {
	if len(events) == 0 {
		return eventFilter{all: true}
	}
	set := make(map[string]struct{}, len(events))
	for _, evt := range events {
		key := strings.TrimSpace(evt)
		if key == "" {
			continue
		}
		set[key] = struct{}{}
	}
	if len(set) == 0 {
		return eventFilter{all: true}
	}
	return eventFilter{set: set}
}

func (f eventFilter) match(evt string) bool {
	if f.all {
		return true
	}
	_, ok := f.set[evt]
	return ok
}
