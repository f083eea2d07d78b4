// Package notify delivers short text messages to users. Delivery is best effort: a Sink
// logs its own failures and never reports them to the caller.
package notify

import (
	"context"
	"log/slog"
)

type Sink interface {
	Send(ctx context.Context, userID int64, text string)
}

type SinkFunc func(ctx context.Context, userID int64, text string)

func (f SinkFunc) Send(ctx context.Context, userID int64, text string) { f(ctx, userID, text) }

// Fanout sends to every sink in order.
type Fanout []Sink

func (f Fanout) Send(ctx context.Context, userID int64, text string) {
	for _, s := range f {
		if s != nil {
			s.Send(ctx, userID, text)
		}
	}
}

type Log struct {
	Log *slog.Logger
}

func (l Log) Send(ctx context.Context, userID int64, text string) {
	log := l.Log
	if log == nil {
		log = slog.Default()
	}
	log.InfoContext(ctx, "notification", "component", "notify", "user_id", userID, "text", text)
}

// Discard drops every message.
type Discard struct{}

func (Discard) Send(context.Context, int64, string) {}
