package checkpoint

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RedisConfig configures the Redis ledger backend.
type RedisConfig struct {
	// Address is the Redis server address (e.g., "localhost:6379")
	Address string

	// Password for Redis authentication (optional)
	Password string

	// Database number to use (default: 0)
	Database int

	// Prefix is prepended to all keys (e.g., "db2ixf:")
	Prefix string

	// TTL is the time-to-live for entry keys (0 = no expiration)
	TTL time.Duration

	// Timeout for Redis operations
	Timeout time.Duration

	PoolSize     int
	MinIdleConns int
}

// DefaultRedisConfig returns sensible defaults.
func DefaultRedisConfig(address string) RedisConfig {
	return RedisConfig{
		Address:      address,
		Prefix:       "db2ixf:",
		TTL:          30 * 24 * time.Hour,
		Timeout:      5 * time.Second,
		PoolSize:     10,
		MinIdleConns: 2,
	}
}

// RedisBackend stores entries in Redis so several workers share a ledger.
type RedisBackend struct {
	cfg    RedisConfig
	client *redis.Client
}

// NewRedisBackend connects to Redis and checks the connection.
func NewRedisBackend(ctx context.Context, cfg RedisConfig) (*RedisBackend, error) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Address,
		Password:     cfg.Password,
		DB:           cfg.Database,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		ReadTimeout:  cfg.Timeout,
		WriteTimeout: cfg.Timeout,
	})

	ctx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connect to redis %s: %w", cfg.Address, err)
	}

	return &RedisBackend{cfg: cfg, client: client}, nil
}

func (b *RedisBackend) entryKey(id string) string {
	return b.cfg.Prefix + "entry:" + id
}

func (b *RedisBackend) indexKey(input, format string) string {
	return b.cfg.Prefix + "index:" + sanitizeKey(Key(input, format))
}

func (b *RedisBackend) incompleteSetKey() string {
	return b.cfg.Prefix + "incomplete"
}

// sanitizeKey removes characters that may cause issues in Redis keys.
func sanitizeKey(s string) string {
	return strings.NewReplacer("/", "_", ":", "_", " ", "_", "|", "_").Replace(s)
}

// Save persists an entry and updates the input index in one pipeline.
func (b *RedisBackend) Save(ctx context.Context, e *Entry) error {
	ctx, cancel := context.WithTimeout(ctx, b.cfg.Timeout)
	defer cancel()

	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal entry: %w", err)
	}

	prev, _ := b.client.Get(ctx, b.indexKey(e.Input, e.Format)).Result()

	pipe := b.client.TxPipeline()
	pipe.Set(ctx, b.entryKey(e.ID), data, b.cfg.TTL)
	pipe.Set(ctx, b.indexKey(e.Input, e.Format), e.ID, b.cfg.TTL)
	if prev != "" && prev != e.ID {
		pipe.Del(ctx, b.entryKey(prev))
		pipe.SRem(ctx, b.incompleteSetKey(), prev)
	}
	if e.Phase != PhaseComplete {
		pipe.SAdd(ctx, b.incompleteSetKey(), e.ID)
	} else {
		pipe.SRem(ctx, b.incompleteSetKey(), e.ID)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("save entry to redis: %w", err)
	}
	return nil
}

// Load retrieves an entry from Redis.
func (b *RedisBackend) Load(ctx context.Context, id string) (*Entry, error) {
	ctx, cancel := context.WithTimeout(ctx, b.cfg.Timeout)
	defer cancel()

	data, err := b.client.Get(ctx, b.entryKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, os.ErrNotExist
	}
	if err != nil {
		return nil, fmt.Errorf("load entry from redis: %w", err)
	}

	var e Entry
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("unmarshal entry: %w", err)
	}
	return &e, nil
}

// Delete removes an entry and its index.
func (b *RedisBackend) Delete(ctx context.Context, id string) error {
	e, err := b.Load(ctx, id)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, b.cfg.Timeout)
	defer cancel()

	pipe := b.client.TxPipeline()
	pipe.Del(ctx, b.entryKey(id))
	pipe.SRem(ctx, b.incompleteSetKey(), id)
	if e != nil {
		pipe.Del(ctx, b.indexKey(e.Input, e.Format))
	}
	_, err = pipe.Exec(ctx)
	return err
}

// FindByInput looks the input up in the index.
func (b *RedisBackend) FindByInput(ctx context.Context, input, format string) (*Entry, error) {
	id, err := b.lookup(ctx, input, format)
	if err != nil {
		return nil, err
	}
	return b.Load(ctx, id)
}

func (b *RedisBackend) lookup(ctx context.Context, input, format string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, b.cfg.Timeout)
	defer cancel()

	id, err := b.client.Get(ctx, b.indexKey(input, format)).Result()
	if errors.Is(err, redis.Nil) {
		return "", os.ErrNotExist
	}
	if err != nil {
		return "", fmt.Errorf("find entry by input: %w", err)
	}
	return id, nil
}

// ListIncomplete returns all entries that haven't completed.
func (b *RedisBackend) ListIncomplete(ctx context.Context) ([]*Entry, error) {
	ids, err := b.client.SMembers(ctx, b.incompleteSetKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("list incomplete entries: %w", err)
	}

	var out []*Entry
	for _, id := range ids {
		e, err := b.Load(ctx, id)
		if err != nil || e.Phase == PhaseComplete {
			// stale member
			b.client.SRem(ctx, b.incompleteSetKey(), id)
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

// Name returns "redis".
func (b *RedisBackend) Name() string { return "redis" }

// Close closes the Redis connection.
func (b *RedisBackend) Close() error { return b.client.Close() }

// Ping checks the Redis connection.
func (b *RedisBackend) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, b.cfg.Timeout)
	defer cancel()
	return b.client.Ping(ctx).Err()
}

// --- Distributed locking ---

// Lock is a Redis lock held on one ledger key.
type Lock struct {
	backend *RedisBackend
	key     string
	value   string
	ttl     time.Duration
}

var (
	releaseScript = redis.NewScript(`
		if redis.call("get", KEYS[1]) == ARGV[1] then
			return redis.call("del", KEYS[1])
		else
			return 0
		end
	`)
	extendScript = redis.NewScript(`
		if redis.call("get", KEYS[1]) == ARGV[1] then
			return redis.call("pexpire", KEYS[1], ARGV[2])
		else
			return 0
		end
	`)
)

// AcquireLock takes the lock of key with SET NX. It fails with ErrLocked
// when another worker holds it.
func (b *RedisBackend) AcquireLock(ctx context.Context, key string, ttl time.Duration) (Releaser, error) {
	lockKey := b.cfg.Prefix + "lock:" + sanitizeKey(key)
	value := uuid.NewString()

	ctx, cancel := context.WithTimeout(ctx, b.cfg.Timeout)
	defer cancel()

	ok, err := b.client.SetNX(ctx, lockKey, value, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return nil, ErrLocked
	}
	return &Lock{backend: b, key: lockKey, value: value, ttl: ttl}, nil
}

// Release drops the lock if it is still ours.
func (l *Lock) Release(ctx context.Context) error {
	return releaseScript.Run(ctx, l.backend.client, []string{l.key}, l.value).Err()
}

// Extend renews the lock TTL.
func (l *Lock) Extend(ctx context.Context) error {
	n, err := extendScript.Run(ctx, l.backend.client, []string{l.key}, l.value, l.ttl.Milliseconds()).Int()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrLocked
	}
	return nil
}
