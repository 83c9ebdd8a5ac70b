// Package lock provides the optional Redis pre-lock the Service Facade
// takes ahead of a saveRecord transaction. It is a latency optimization
// only: the row lock the Value Versioner takes inside the transaction
// remains the sole correctness mechanism. When enabled, a writer that
// would otherwise block on the database lock instead fails fast here,
// and the facade returns a Conflict without opening a transaction.
package lock

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// Config controls the pre-lock's TTL and timeouts. It mirrors
// internal/config.LockConfig field-for-field; Acquire makes a single
// attempt, so MaxRetries and RetryInterval are not used by this package.
type Config struct {
	Enabled        bool
	TTL            time.Duration
	MaxRetries     int
	RetryInterval  time.Duration
	AcquireTimeout time.Duration
	ReleaseTimeout time.Duration
	ValuePrefix    string
}

func (c *Config) withDefaults() *Config {
	if c == nil {
		c = &Config{}
	}
	if c.TTL <= 0 {
		c.TTL = 30 * time.Second
	}
	if c.RetryInterval <= 0 {
		c.RetryInterval = 100 * time.Millisecond
	}
	if c.AcquireTimeout <= 0 {
		c.AcquireTimeout = 5 * time.Second
	}
	if c.ReleaseTimeout <= 0 {
		c.ReleaseTimeout = 2 * time.Second
	}
	if c.ValuePrefix == "" {
		c.ValuePrefix = "datacapture-prelock"
	}
	return c
}

// DistributedLock is a single SETNX-based lock held against one Redis
// key for the lifetime of one saveRecord attempt.
type DistributedLock struct {
	redis    *redis.Client
	key      string
	value    string
	cfg      *Config
	logger   *slog.Logger
	acquired bool
}

// Manager hands out DistributedLocks for a given (application,
// context_group_fingerprint) pair: one lock covers every field of a
// saveRecord call, whereas the Value Versioner's row lock inside the
// transaction is per (field, context group).
type Manager struct {
	redis  *redis.Client
	cfg    *Config
	logger *slog.Logger
}

// NewManager constructs a pre-lock Manager. A nil redis client makes
// every Acquire call a no-op success, so callers can wire a Manager
// unconditionally and let Config.Enabled gate the behavior.
func NewManager(client *redis.Client, cfg *Config, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{redis: client, cfg: cfg.withDefaults(), logger: logger}
}

// Key builds the pre-lock key for one saveRecord call from the context
// fingerprint of its business keys, before the context group is resolved.
func Key(application, fingerprint string) string {
	return fmt.Sprintf("datacapture:prelock:%s:%s", application, fingerprint)
}

// Acquire takes the lock for key, failing fast (acquired=false, err=nil)
// rather than blocking if another writer already holds it. It is a
// no-op success when cfg.Enabled is false or no Redis client was
// configured.
func (m *Manager) Acquire(ctx context.Context, key string) (*DistributedLock, bool, error) {
	if m.redis == nil || !m.cfg.Enabled {
		return nil, true, nil
	}

	l := &DistributedLock{
		redis:  m.redis,
		key:    key,
		value:  generateValue(m.cfg.ValuePrefix),
		cfg:    m.cfg,
		logger: m.logger,
	}

	acquireCtx, cancel := context.WithTimeout(ctx, m.cfg.AcquireTimeout)
	defer cancel()

	ok, err := l.redis.SetNX(acquireCtx, l.key, l.value, l.cfg.TTL).Result()
	if err != nil {
		return nil, false, fmt.Errorf("acquire pre-lock %q: %w", key, err)
	}
	if !ok {
		m.logger.Debug("pre-lock already held", "key", key)
		return nil, false, nil
	}
	l.acquired = true
	return l, true, nil
}

// Release drops the lock if it is still held by this holder's value,
// so one writer's release can never clear a different writer's lock
// acquired after this one expired.
func (l *DistributedLock) Release(ctx context.Context) {
	if l == nil || !l.acquired {
		return
	}
	script := `
		if redis.call("get", KEYS[1]) == ARGV[1] then
			return redis.call("del", KEYS[1])
		end
		return 0
	`
	releaseCtx, cancel := context.WithTimeout(ctx, l.cfg.ReleaseTimeout)
	defer cancel()
	if err := l.redis.Eval(releaseCtx, script, []string{l.key}, l.value).Err(); err != nil {
		l.logger.Warn("failed to release pre-lock", "key", l.key, "error", err)
		return
	}
	l.acquired = false
}

func generateValue(prefix string) string {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return fmt.Sprintf("%s-%d", prefix, time.Now().UnixNano())
	}
	return fmt.Sprintf("%s-%s", prefix, hex.EncodeToString(buf))
}
