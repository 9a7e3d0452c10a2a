package core

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// RedisStoreOptions configures a RedisStore
type RedisStoreOptions struct {
	// RedisURL in redis://host:port/db form (REDIS_URL convention)
	RedisURL string

	// Namespace prefixes every key, e.g. "askcart:halt"
	Namespace string

	// DB overrides the database from the URL when >= 0
	DB int

	// DialTimeout bounds the initial connection check (default 5s)
	DialTimeout time.Duration

	// Logger for store events (defaults to NoOp)
	Logger Logger
}

// RedisStore implements Memory over a go-redis client with key
// namespacing and a connectivity check at construction. It is the
// production backend for halt records and session state: both are
// session-scoped JSON values with a TTL, which maps directly onto
// Redis SET with expiry.
type RedisStore struct {
	client    *redis.Client
	namespace string
	logger    Logger
}

// NewRedisStore creates a Redis-backed Memory and verifies connectivity.
func NewRedisStore(opts RedisStoreOptions) (*RedisStore, error) {
	if opts.RedisURL == "" {
		return nil, fmt.Errorf("redis url is required: %w", ErrMissingConfiguration)
	}

	redisOpts, err := redis.ParseURL(opts.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL %s: %w (check REDIS_URL)", opts.RedisURL, err)
	}
	if opts.DB >= 0 {
		redisOpts.DB = opts.DB
	}

	client := redis.NewClient(redisOpts)

	dialTimeout := opts.DialTimeout
	if dialTimeout == 0 {
		dialTimeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w (check REDIS_URL and connectivity)", opts.RedisURL, err)
	}

	logger := opts.Logger
	if logger == nil {
		logger = &NoOpLogger{}
	}

	return &RedisStore{
		client:    client,
		namespace: opts.Namespace,
		logger:    logger,
	}, nil
}

func (r *RedisStore) key(k string) string {
	if r.namespace == "" {
		return k
	}
	return r.namespace + ":" + k
}

// Get retrieves a value. A missing key returns "" with no error,
// matching the MemoryStore contract.
func (r *RedisStore) Get(ctx context.Context, key string) (string, error) {
	val, err := r.client.Get(ctx, r.key(key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("redis get %s: %w", key, err)
	}
	return val, nil
}

// Set stores a value with optional TTL (0 means no expiry)
func (r *RedisStore) Set(ctx context.Context, key string, value string, ttl time.Duration) error {
	if err := r.client.Set(ctx, r.key(key), value, ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

// Delete removes a value
func (r *RedisStore) Delete(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, r.key(key)).Err(); err != nil {
		return fmt.Errorf("redis del %s: %w", key, err)
	}
	return nil
}

// Exists checks if a key exists
func (r *RedisStore) Exists(ctx context.Context, key string) (bool, error) {
	n, err := r.client.Exists(ctx, r.key(key)).Result()
	if err != nil {
		return false, fmt.Errorf("redis exists %s: %w", key, err)
	}
	return n > 0, nil
}

// Close releases the underlying client
func (r *RedisStore) Close() error {
	return r.client.Close()
}
