package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	redis "github.com/go-redis/redis/v8"

	berr "github.com/next-trace/scg-event-bus/contract/errors"
)

type RedisConfig struct {
	Address  string
	Password string
	DB       int
	// Prefix is prepended to every key, e.g. "eventbus:".
	Prefix string
	// TTL of written entries. Zero keeps them until deleted.
	TTL time.Duration
}

// Redis stores JSON encoded values under prefixed string keys.
type Redis[V any] struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

var _ Cache[string, int] = (*Redis[int])(nil)

// NewRedis uses an existing client.
func NewRedis[V any](client redis.UniversalClient, prefix string, ttl time.Duration) *Redis[V] {
	return &Redis[V]{client: client, prefix: prefix, ttl: ttl}
}

// DialRedis connects, pings and returns the cache with a cleanup closing the client.
func DialRedis[V any](ctx context.Context, cfg RedisConfig) (*Redis[V], func(), error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, nil, internal(err, "could not connect to redis", "address", cfg.Address)
	}

	return NewRedis[V](client, cfg.Prefix, cfg.TTL), func() { _ = client.Close() }, nil
}

func (c *Redis[V]) Get(ctx context.Context, key string) (V, bool, error) {
	var v V

	data, err := c.client.Get(ctx, c.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return v, false, nil
	}

	if err != nil {
		return v, false, internal(err, "redis get failed", "key", key)
	}

	if err := json.Unmarshal(data, &v); err != nil {
		return v, false, internal(err, "could not decode cached value", "key", key)
	}

	return v, true, nil
}

func (c *Redis[V]) Set(ctx context.Context, key string, value V) error {
	data, err := json.Marshal(value)
	if err != nil {
		return internal(err, "could not encode value", "key", key)
	}

	if err := c.client.Set(ctx, c.prefix+key, data, c.ttl).Err(); err != nil {
		return internal(err, "redis set failed", "key", key)
	}

	return nil
}

func (c *Redis[V]) Delete(ctx context.Context, key string) error {
	if err := c.client.Del(ctx, c.prefix+key).Err(); err != nil {
		return internal(err, "redis delete failed", "key", key)
	}

	return nil
}

// SetIfAbsent writes value only when key is unset and reports whether it did.
func (c *Redis[V]) SetIfAbsent(ctx context.Context, key string, value V) (bool, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return false, internal(err, "could not encode value", "key", key)
	}

	ok, err := c.client.SetNX(ctx, c.prefix+key, data, c.ttl).Result()
	if err != nil {
		return false, internal(err, "redis setnx failed", "key", key)
	}

	return ok, nil
}

func internal(err error, msg, k string, v any) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	return berr.Wrap(berr.ErrCodeCacheInternal, err, msg, berr.With(k, v))
}
