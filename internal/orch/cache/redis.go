package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/tracdap/platform-gateway/internal/obslog"
)

// RedisOptions configures the read-through decorator's connection and TTL.
type RedisOptions struct {
	Addr       string
	Password   string
	DB         int
	PoolSize   int
	DefaultTTL time.Duration
}

func (o RedisOptions) withDefaults() RedisOptions {
	if o.PoolSize <= 0 {
		o.PoolSize = 10
	}
	if o.DefaultTTL <= 0 {
		o.DefaultTTL = 30 * time.Second
	}
	return o
}

// ReadThroughEngine wraps an Engine with a Redis-backed cache of
// GetEntry results, the hot path for callers that poll an entry's
// current value without holding a ticket. AddEntry and UpdateEntry
// invalidate the written key, so a reader does not observe a stale
// revision past those writes; RemoveEntry does not invalidate (see the
// note at the end of this file).
type ReadThroughEngine struct {
	Engine
	client *redis.Client
	ttl    time.Duration
}

// NewReadThroughEngine dials Redis and wraps inner with a read-through
// GetEntry cache. Connectivity is verified with a Ping before returning.
func NewReadThroughEngine(ctx context.Context, inner Engine, opts RedisOptions) (*ReadThroughEngine, error) {
	opts = opts.withDefaults()
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
		PoolSize: opts.PoolSize,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		return nil, err
	}

	return &ReadThroughEngine{Engine: inner, client: client, ttl: opts.DefaultTTL}, nil
}

// Close releases the Redis client; it does not close the wrapped Engine.
func (r *ReadThroughEngine) Close() error {
	return r.client.Close()
}

func redisEntryKey(cacheName, key string) string {
	return "trac:cache:" + cacheName + ":" + key
}

// GetEntry serves from Redis on a hit; on a miss or decode failure it
// falls through to the wrapped Engine and repopulates Redis, logging but
// not failing the call if the Redis round trip itself errors (a cache
// outage degrades to the inner Engine's latency, not an outage).
func (r *ReadThroughEngine) GetEntry(ctx context.Context, cacheName, key string) (*Entry, error) {
	redisKey := redisEntryKey(cacheName, key)

	cached, err := r.client.Get(ctx, redisKey).Bytes()
	if err == nil {
		var entry Entry
		if jsonErr := json.Unmarshal(cached, &entry); jsonErr == nil {
			return &entry, nil
		}
	} else if !errors.Is(err, redis.Nil) {
		obslog.Warn("redis read-through GET failed, falling through", "error", err, "key", redisKey)
	}

	entry, err := r.Engine.GetEntry(ctx, cacheName, key)
	if err != nil {
		return nil, err
	}

	if encoded, jsonErr := json.Marshal(entry); jsonErr == nil {
		if setErr := r.client.Set(ctx, redisKey, encoded, r.ttl).Err(); setErr != nil {
			obslog.Warn("redis read-through SET failed", "error", setErr, "key", redisKey)
		}
	}
	return entry, nil
}

func (r *ReadThroughEngine) invalidate(ctx context.Context, cacheName, key string) {
	if err := r.client.Del(ctx, redisEntryKey(cacheName, key)).Err(); err != nil {
		obslog.Warn("redis read-through invalidation failed", "error", err, "cacheName", cacheName, "key", key)
	}
}

func (r *ReadThroughEngine) AddEntry(ctx context.Context, ticketID string, status EntryStatus, value []byte) (*Entry, error) {
	entry, err := r.Engine.AddEntry(ctx, ticketID, status, value)
	if err != nil {
		return nil, err
	}
	r.invalidate(ctx, entry.CacheName, entry.Key)
	return entry, nil
}

func (r *ReadThroughEngine) UpdateEntry(ctx context.Context, ticketID string, status EntryStatus, value []byte) (*Entry, error) {
	entry, err := r.Engine.UpdateEntry(ctx, ticketID, status, value)
	if err != nil {
		return nil, err
	}
	r.invalidate(ctx, entry.CacheName, entry.Key)
	return entry, nil
}

// RemoveEntry is not overridden: the Engine interface's RemoveEntry takes
// only a ticket ID and does not report which (cacheName, key) it deleted,
// so this decorator has nothing to key an invalidation on. A removed
// entry's cached GetEntry result (if any) simply expires at its TTL; a
// reader could observe a just-removed entry as still present for up to
// ttl after the removal.
