// Package session keeps rail login sessions for the lifetime of a poll run.
package session

import (
	"context"
	"sync"
	"time"
)

// DefaultTTL matches how long the backends keep an idle login alive.
const DefaultTTL = 30 * time.Minute

type Session struct {
	Rail         string
	Cookie       string
	BotToken     string
	Created      time.Time
	LastAccessed time.Time
	RefreshCount int
}

type Store interface {
	// Load returns the session under key and refreshes its expiry. ok is false when absent.
	Load(ctx context.Context, key string) (s Session, ok bool, err error)
	Save(ctx context.Context, key string, s Session) error
	Delete(ctx context.Context, key string) error
}

type Memory struct {
	mu   sync.Mutex
	ttl  time.Duration
	now  func() time.Time
	data map[string]memEntry
}

type memEntry struct {
	s       Session
	expires time.Time
}

func NewMemory(ttl time.Duration) *Memory {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Memory{ttl: ttl, now: time.Now, data: make(map[string]memEntry)}
}

func (m *Memory) Load(_ context.Context, key string) (Session, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.data[key]
	now := m.now()
	if !ok || !now.Before(e.expires) {
		delete(m.data, key)
		return Session{}, false, nil
	}
	e.s.LastAccessed = now
	e.s.RefreshCount++
	e.expires = now.Add(m.ttl)
	m.data[key] = e
	return e.s, true, nil
}

func (m *Memory) Save(_ context.Context, key string, s Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	if s.Created.IsZero() {
		s.Created = now
	}
	s.LastAccessed = now
	m.data[key] = memEntry{s: s, expires: now.Add(m.ttl)}
	return nil
}

func (m *Memory) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}
