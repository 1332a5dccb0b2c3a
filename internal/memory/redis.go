package memory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	sessionPrefix     = "orbit:session:"
	defaultSessionTTL = 24 * time.Hour
)

// Redis stores history as a JSON array under orbit:session:<id>.
type Redis struct {
	rdb      *redis.Client
	ttl      time.Duration
	maxTurns int
}

// NewRedis creates a Redis store. Zero ttl or maxTurns select defaults.
func NewRedis(rdb *redis.Client, ttl time.Duration, maxTurns int) *Redis {
	if ttl <= 0 {
		ttl = defaultSessionTTL
	}
	if maxTurns <= 0 {
		maxTurns = DefaultMaxTurns
	}
	return &Redis{rdb: rdb, ttl: ttl, maxTurns: maxTurns}
}

func key(sessionID string) string {
	return sessionPrefix + sessionID
}

func (r *Redis) Load(ctx context.Context, sessionID string) ([]Turn, error) {
	data, err := r.rdb.Get(ctx, key(sessionID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return []Turn{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading session: %w", err)
	}

	var history []Turn
	if err := json.Unmarshal(data, &history); err != nil {
		return nil, fmt.Errorf("decoding session: %w", err)
	}
	return history, nil
}

func (r *Redis) Append(ctx context.Context, sessionID, userMsg, assistantMsg string) error {
	history, err := r.Load(ctx, sessionID)
	if err != nil {
		return err
	}
	history = trim(append(history,
		Turn{Role: "user", Content: userMsg},
		Turn{Role: "assistant", Content: assistantMsg},
	), r.maxTurns)

	data, err := json.Marshal(history)
	if err != nil {
		return fmt.Errorf("encoding session: %w", err)
	}
	if err := r.rdb.Set(ctx, key(sessionID), data, r.ttl).Err(); err != nil {
		return fmt.Errorf("saving session: %w", err)
	}
	return nil
}

func (r *Redis) Clear(ctx context.Context, sessionID string) error {
	if err := r.rdb.Del(ctx, key(sessionID)).Err(); err != nil {
		return fmt.Errorf("clearing session: %w", err)
	}
	return nil
}
