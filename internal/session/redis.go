package session

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

type Redis struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedis(rdb *redis.Client, ttl time.Duration) *Redis {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Redis{rdb: rdb, ttl: ttl}
}

func redisKey(key string) string { return "session:" + key }

func (r *Redis) Load(ctx context.Context, key string) (Session, bool, error) {
	k := redisKey(key)
	vals, err := r.rdb.HGetAll(ctx, k).Result()
	if err != nil {
		return Session{}, false, fmt.Errorf("session: load %s: %w", key, err)
	}
	if len(vals) == 0 {
		return Session{}, false, nil
	}

	s := Session{
		Rail:     vals["rail_type"],
		Cookie:   vals["cookie"],
		BotToken: vals["bot_token"],
	}
	s.Created = parseUnix(vals["created"])
	s.RefreshCount, _ = strconv.Atoi(vals["refresh_count"])
	s.RefreshCount++
	s.LastAccessed = time.Now()

	_, err = r.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HSet(ctx, k, "last_accessed", s.LastAccessed.Unix(), "refresh_count", s.RefreshCount)
		p.Expire(ctx, k, r.ttl)
		return nil
	})
	if err != nil {
		return Session{}, false, fmt.Errorf("session: touch %s: %w", key, err)
	}
	return s, true, nil
}

func (r *Redis) Save(ctx context.Context, key string, s Session) error {
	now := time.Now()
	if s.Created.IsZero() {
		s.Created = now
	}
	k := redisKey(key)
	_, err := r.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HSet(ctx, k,
			"rail_type", s.Rail,
			"cookie", s.Cookie,
			"bot_token", s.BotToken,
			"created", s.Created.Unix(),
			"last_accessed", now.Unix(),
			"refresh_count", s.RefreshCount,
		)
		p.Expire(ctx, k, r.ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("session: save %s: %w", key, err)
	}
	return nil
}

func (r *Redis) Delete(ctx context.Context, key string) error {
	if err := r.rdb.Del(ctx, redisKey(key)).Err(); err != nil {
		return fmt.Errorf("session: delete %s: %w", key, err)
	}
	return nil
}

func parseUnix(s string) time.Time {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil || n == 0 {
		return time.Time{}
	}
	return time.Unix(n, 0)
}
