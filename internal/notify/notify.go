// Package notify delivers lifecycle notifications to parties. Delivery is
// fire-and-forget: Notify never blocks on the network and never reports
// failure to the caller.
package notify

import (
	"context"

	"go.uber.org/zap"
)

type Notifier interface {
	Notify(ctx context.Context, recipientID, eventType string, payload map[string]any)
}

// Nop drops every notification.
type Nop struct{}

func (Nop) Notify(context.Context, string, string, map[string]any) {}

// Log writes notifications to a zap logger.
type Log struct {
	Logger *zap.Logger
}

func (l Log) Notify(_ context.Context, recipientID, eventType string, payload map[string]any) {
	if l.Logger == nil {
		return
	}
	l.Logger.Info("notification",
		zap.String("recipient", recipientID),
		zap.String("event", eventType),
		zap.Any("payload", payload))
}

// Multi fans a notification out to every notifier in order.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, recipientID, eventType string, payload map[string]any) {
	for _, n := range m {
		if n != nil {
			n.Notify(ctx, recipientID, eventType, payload)
		}
	}
}
