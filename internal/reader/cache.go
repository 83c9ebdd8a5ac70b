package reader

import (
	"context"
	"encoding/json"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/redis/go-redis/v9"
)

// Cache is the read-through layer in front of capture_data lookups,
// invalidated through Reader.InvalidateHotRow by the Service Facade
// after every committed saveRecord, once per key it touched. A nil Cache is a valid no-op: GetRecord and
// GetFieldAuditTrail always fall back to the Gateway on a miss.
type Cache interface {
	Get(ctx context.Context, key string) (*hotDatum, bool)
	Set(ctx context.Context, key string, datum *hotDatum)
	Invalidate(ctx context.Context, key string)
}

// HotRowKey builds the cache key for one (context_group_id,
// field_definition_id) hot row, the same pair the Value Versioner locks.
func HotRowKey(contextGroupID, fieldDefinitionID string) string {
	return contextGroupID + "|" + fieldDefinitionID
}

// cachedDatum is the wire shape stored in the LRU/Redis tiers; hotDatum
// itself is kept unexported so this is its serializable twin.
type cachedDatum struct {
	ID                string    `json:"id"`
	ValueString       *string   `json:"value_string,omitempty"`
	ValueNumber       *string   `json:"value_number,omitempty"`
	CurrentVersionID  string    `json:"current_version_id"`
	CurrentVersionNum int64     `json:"current_version_num"`
	UpdatedAt         time.Time `json:"updated_at"`
}

func toCached(d *hotDatum) cachedDatum {
	return cachedDatum{
		ID: d.id, ValueString: d.valueString, ValueNumber: d.valueNumber,
		CurrentVersionID: d.currentVersionID, CurrentVersionNum: d.currentVersionNum, UpdatedAt: d.updatedAt,
	}
}

func fromCached(c cachedDatum) *hotDatum {
	return &hotDatum{
		id: c.ID, valueString: c.ValueString, valueNumber: c.ValueNumber,
		currentVersionID: c.CurrentVersionID, currentVersionNum: c.CurrentVersionNum, updatedAt: c.UpdatedAt,
	}
}

// lruEntry pairs a value with its expiry so the in-process tier honors
// CacheConfig.DefaultTTL without a background sweep goroutine.
type lruEntry struct {
	value   cachedDatum
	expires time.Time
}

// LRUCache is the in-process first tier, sized by CacheConfig.MaxKeys.
type LRUCache struct {
	cache *lru.Cache[string, lruEntry]
	ttl   time.Duration
}

// NewLRUCache constructs the in-process cache tier.
func NewLRUCache(maxKeys int, ttl time.Duration) (*LRUCache, error) {
	if maxKeys <= 0 {
		maxKeys = 10000
	}
	c, err := lru.New[string, lruEntry](maxKeys)
	if err != nil {
		return nil, err
	}
	return &LRUCache{cache: c, ttl: ttl}, nil
}

func (c *LRUCache) Get(_ context.Context, key string) (*hotDatum, bool) {
	entry, ok := c.cache.Get(key)
	if !ok {
		return nil, false
	}
	if c.ttl > 0 && time.Now().After(entry.expires) {
		c.cache.Remove(key)
		return nil, false
	}
	return fromCached(entry.value), true
}

func (c *LRUCache) Set(_ context.Context, key string, datum *hotDatum) {
	c.cache.Add(key, lruEntry{value: toCached(datum), expires: time.Now().Add(c.ttl)})
}

func (c *LRUCache) Invalidate(_ context.Context, key string) {
	c.cache.Remove(key)
}

// RedisCache is the optional second tier shared across process
// instances, gated by CacheConfig.RedisEnabled.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisCache constructs the Redis-backed cache tier.
func NewRedisCache(client *redis.Client, ttl time.Duration) *RedisCache {
	return &RedisCache{client: client, ttl: ttl}
}

func (c *RedisCache) Get(ctx context.Context, key string) (*hotDatum, bool) {
	raw, err := c.client.Get(ctx, "capture:hotrow:"+key).Bytes()
	if err != nil {
		return nil, false
	}
	var cd cachedDatum
	if err := json.Unmarshal(raw, &cd); err != nil {
		return nil, false
	}
	return fromCached(cd), true
}

func (c *RedisCache) Set(ctx context.Context, key string, datum *hotDatum) {
	raw, err := json.Marshal(toCached(datum))
	if err != nil {
		return
	}
	c.client.Set(ctx, "capture:hotrow:"+key, raw, c.ttl)
}

func (c *RedisCache) Invalidate(ctx context.Context, key string) {
	c.client.Del(ctx, "capture:hotrow:"+key)
}

// TieredCache checks an in-process cache before falling through to a
// shared Redis cache, populating the faster tier on a remote hit.
type TieredCache struct {
	L1 Cache
	L2 Cache
}

func (t *TieredCache) Get(ctx context.Context, key string) (*hotDatum, bool) {
	if d, ok := t.L1.Get(ctx, key); ok {
		return d, true
	}
	d, ok := t.L2.Get(ctx, key)
	if ok {
		t.L1.Set(ctx, key, d)
	}
	return d, ok
}

func (t *TieredCache) Set(ctx context.Context, key string, datum *hotDatum) {
	t.L1.Set(ctx, key, datum)
	t.L2.Set(ctx, key, datum)
}

func (t *TieredCache) Invalidate(ctx context.Context, key string) {
	t.L1.Invalidate(ctx, key)
	t.L2.Invalidate(ctx, key)
}
