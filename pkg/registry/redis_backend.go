package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisBackend stores the registry document under a single key and gates
// writes with a SetNX lock key carrying a TTL. The TTL plays the role the
// stale-PID check plays for the file backend: a crashed owner's lock expires
// on its own.
type RedisBackend struct {
	client   *redis.Client
	prefix   string
	timeout  time.Duration
	lockTTL  time.Duration
	lockTok  string
	mu       sync.Mutex
	closed   bool
	heldLock bool
}

// RedisConfig holds Redis connection configuration for the registry.
type RedisConfig struct {
	// Addr is the Redis server address (host:port).
	Addr string
	// Password is the Redis password (optional).
	Password string
	// DB is the Redis database number.
	DB int
	// Prefix is the key prefix for registry keys (default: "tandem:").
	Prefix string
	// LockTimeout bounds lock acquisition. Zero means DefaultLockTimeout.
	LockTimeout time.Duration
	// LockTTL is how long a held lock survives a crashed owner
	// (default: 30s).
	LockTTL time.Duration
	// PoolSize is the connection pool size (default: 10).
	PoolSize int
}

// NewRedisBackend creates a Redis registry backend and verifies the
// connection.
func NewRedisBackend(cfg RedisConfig) (*RedisBackend, error) {
	if cfg.Addr == "" {
		return nil, errors.New("redis address is required")
	}

	poolSize := cfg.PoolSize
	if poolSize <= 0 {
		poolSize = 10
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: poolSize,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return newRedisBackend(client, cfg), nil
}

// NewRedisBackendFromClient creates a backend from an existing client. This
// is useful for testing with miniredis.
func NewRedisBackendFromClient(client *redis.Client, cfg RedisConfig) *RedisBackend {
	return newRedisBackend(client, cfg)
}

func newRedisBackend(client *redis.Client, cfg RedisConfig) *RedisBackend {
	prefix := cfg.Prefix
	if prefix == "" {
		prefix = "tandem:"
	}
	timeout := cfg.LockTimeout
	if timeout <= 0 {
		timeout = DefaultLockTimeout
	}
	lockTTL := cfg.LockTTL
	if lockTTL <= 0 {
		lockTTL = 30 * time.Second
	}
	return &RedisBackend{
		client:  client,
		prefix:  prefix,
		timeout: timeout,
		lockTTL: lockTTL,
	}
}

func (b *RedisBackend) docKey() string  { return b.prefix + "registry" }
func (b *RedisBackend) lockKey() string { return b.prefix + "registry.lock" }

// AcquireLock takes the registry lock via SetNX, retrying with short backoff
// up to the timeout.
func (b *RedisBackend) AcquireLock(ctx context.Context) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrBackendClosed
	}
	b.mu.Unlock()

	token := fmt.Sprintf("%d-%d", os.Getpid(), time.Now().UnixNano())
	deadline := time.Now().Add(b.timeout)
	for {
		ok, err := b.client.SetNX(ctx, b.lockKey(), token, b.lockTTL).Result()
		if err != nil {
			return fmt.Errorf("acquire registry lock: %w", err)
		}
		if ok {
			b.mu.Lock()
			b.heldLock = true
			b.lockTok = token
			b.mu.Unlock()
			return nil
		}
		if time.Now().After(deadline) {
			return ErrLockTimeout
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("acquire registry lock: %w", ctx.Err())
		case <-time.After(lockRetryInterval):
		}
	}
}

// ReleaseLock drops the lock only if this process still owns it; an expired
// lock reclaimed by another owner is left alone.
func (b *RedisBackend) ReleaseLock() error {
	b.mu.Lock()
	held, token := b.heldLock, b.lockTok
	b.heldLock = false
	b.mu.Unlock()
	if !held {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	current, err := b.client.Get(ctx, b.lockKey()).Result()
	if errors.Is(err, redis.Nil) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("release registry lock: %w", err)
	}
	if current != token {
		return nil
	}
	if err := b.client.Del(ctx, b.lockKey()).Err(); err != nil {
		return fmt.Errorf("release registry lock: %w", err)
	}
	return nil
}

// Load reads the registry document. A missing or corrupt value is an empty
// registry.
func (b *RedisBackend) Load(ctx context.Context) (*Document, error) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, ErrBackendClosed
	}
	b.mu.Unlock()

	data, err := b.client.Get(ctx, b.docKey()).Bytes()
	if errors.Is(err, redis.Nil) {
		return NewDocument(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("get registry: %w", err)
	}

	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return NewDocument(), nil
	}
	if doc.Sessions == nil {
		doc.Sessions = make(map[string]*Entry)
	}
	return &doc, nil
}

// Store writes the full document.
func (b *RedisBackend) Store(ctx context.Context, doc *Document) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrBackendClosed
	}
	b.mu.Unlock()

	doc.Version = DocumentVersion
	doc.LastUpdated = time.Now().UTC()

	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal registry: %w", err)
	}
	if err := b.client.Set(ctx, b.docKey(), data, 0).Err(); err != nil {
		return fmt.Errorf("set registry: %w", err)
	}
	return nil
}

// Close releases the client and any held lock.
func (b *RedisBackend) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	held := b.heldLock
	b.heldLock = false
	b.mu.Unlock()

	if held {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		_ = b.client.Del(ctx, b.lockKey()).Err()
		cancel()
	}
	return b.client.Close()
}

// Ping checks that the Redis connection is alive.
func (b *RedisBackend) Ping(ctx context.Context) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrBackendClosed
	}
	b.mu.Unlock()
	return b.client.Ping(ctx).Err()
}
