package notify

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/go-telegram/bot"

	"github.com/Donghyun-Son/srtgo/internal/credentials"
)

type TelegramSettings interface {
	Telegram(ctx context.Context, userID int64) (credentials.Telegram, error)
}

// Telegram sends through each user's own bot. Bots are built on first use and cached by token.
type Telegram struct {
	Settings TelegramSettings
	Log      *slog.Logger
	Timeout  time.Duration
	// Options are passed to bot.New, e.g. bot.WithServerURL in tests.
	Options []bot.Option

	mu   sync.Mutex
	bots map[string]*bot.Bot
}

func (t *Telegram) Send(ctx context.Context, userID int64, text string) {
	log := t.logger().With("user_id", userID)

	s, err := t.Settings.Telegram(ctx, userID)
	if errors.Is(err, credentials.ErrNotFound) {
		return
	}
	if err != nil {
		log.Warn("load telegram settings", "err", err)
		return
	}
	if !s.Enabled || s.BotToken == "" || s.ChatID == "" {
		return
	}

	b, err := t.bot(s.BotToken)
	if err != nil {
		log.Warn("create telegram bot", "err", err)
		return
	}

	timeout := t.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if _, err := b.SendMessage(ctx, &bot.SendMessageParams{ChatID: s.ChatID, Text: text}); err != nil {
		log.Warn("send telegram message", "err", err)
	}
}

func (t *Telegram) bot(token string) (*bot.Bot, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if b, ok := t.bots[token]; ok {
		return b, nil
	}
	b, err := bot.New(token, t.Options...)
	if err != nil {
		return nil, err
	}
	if t.bots == nil {
		t.bots = make(map[string]*bot.Bot)
	}
	t.bots[token] = b
	return b, nil
}

func (t *Telegram) logger() *slog.Logger {
	if t.Log == nil {
		return slog.Default().With("component", "telegram")
	}
	return t.Log.With("component", "telegram")
}
