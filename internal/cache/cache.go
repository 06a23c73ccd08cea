// Package cache keeps resolved session snapshots. A published session's
// content never changes, so entries are only evicted by TTL.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/explainly/explainly/internal/model"
)

// DefaultTTL is used when a non-positive TTL is configured.
const DefaultTTL = time.Hour

// SessionCache stores SessionViews by session id. Implementations treat
// backend failures as misses.
type SessionCache interface {
	Get(ctx context.Context, sessionID string) (*model.SessionView, bool)
	Set(ctx context.Context, view *model.SessionView)
}

// Nop never caches.
type Nop struct{}

func (Nop) Get(context.Context, string) (*model.SessionView, bool) { return nil, false }
func (Nop) Set(context.Context, *model.SessionView) {}

// Redis is a SessionCache backed by Redis.
type Redis struct {
	rdb *redis.Client
	ttl time.Duration
}

// Options configures the Redis connection.
type Options struct {
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
}

// NewRedis connects and pings Redis.
func NewRedis(ctx context.Context, opts Options) (*Redis, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         opts.Addr,
		Password:     opts.Password,
		DB:           opts.DB,
		PoolSize:     20,
		MinIdleConns: 2,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("ping redis %s: %w", opts.Addr, err)
	}
	return newRedis(rdb, opts.TTL), nil
}

func newRedis(rdb *redis.Client, ttl time.Duration) *Redis {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Redis{rdb: rdb, ttl: ttl}
}

// Close releases the connection pool.
func (r *Redis) Close() error {
	return r.rdb.Close()
}

func key(sessionID string) string {
	return "explainly:session:" + sessionID
}

func (r *Redis) Get(ctx context.Context, sessionID string) (*model.SessionView, bool) {
	data, err := r.rdb.Get(ctx, key(sessionID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false
	}
	if err != nil {
		slog.Warn("session cache get failed", "session_id", sessionID, "error", err)
		return nil, false
	}
	var view model.SessionView
	if err := json.Unmarshal(data, &view); err != nil {
		slog.Warn("session cache entry corrupt", "session_id", sessionID, "error", err)
		return nil, false
	}
	return &view, true
}

func (r *Redis) Set(ctx context.Context, view *model.SessionView) {
	data, err := json.Marshal(view)
	if err != nil {
		slog.Warn("session cache encode failed", "session_id", view.Session.ID, "error", err)
		return
	}
	if err := r.rdb.Set(ctx, key(view.Session.ID), data, r.ttl).Err(); err != nil {
		slog.Warn("session cache set failed", "session_id", view.Session.ID, "error", err)
	}
}
