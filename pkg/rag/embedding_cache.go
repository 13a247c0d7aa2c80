package rag

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
)

// EmbeddingCache stores computed embeddings keyed by model and text so
// repeated chunks and questions skip the provider entirely.
type EmbeddingCache interface {
	Get(ctx context.Context, key string) ([]float32, bool)
	Set(ctx context.Context, key string, embedding []float32)
	Close() error
}

// embeddingCacheKey derives a stable cache key from the model name and text.
func embeddingCacheKey(model, text string) string {
	sum := sha256.Sum256([]byte(model + "\x00" + text))
	return "emb:" + hex.EncodeToString(sum[:])
}

// InMemoryEmbeddingCache is the always-on L1 cache with TTL expiry and a
// soft entry cap evicted on insert.
type InMemoryEmbeddingCache struct {
	data       map[string]memoryCacheEntry
	ttl        time.Duration
	maxEntries int
	mutex      sync.RWMutex
}

type memoryCacheEntry struct {
	embedding []float32
	expiresAt time.Time
}

// NewInMemoryEmbeddingCache creates an L1 cache. maxEntries <= 0 means 10000.
func NewInMemoryEmbeddingCache(maxEntries int, ttl time.Duration) *InMemoryEmbeddingCache {
	if maxEntries <= 0 {
		maxEntries = 10000
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &InMemoryEmbeddingCache{
		data:       make(map[string]memoryCacheEntry),
		ttl:        ttl,
		maxEntries: maxEntries,
	}
}

func (c *InMemoryEmbeddingCache) Get(ctx context.Context, key string) ([]float32, bool) {
	c.mutex.RLock()
	entry, ok := c.data[key]
	c.mutex.RUnlock()
	if !ok || time.Now().After(entry.expiresAt) {
		return nil, false
	}
	return entry.embedding, true
}

func (c *InMemoryEmbeddingCache) Set(ctx context.Context, key string, embedding []float32) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if len(c.data) >= c.maxEntries {
		// Evict expired entries first; fall back to dropping arbitrary ones.
		now := time.Now()
		for k, e := range c.data {
			if now.After(e.expiresAt) {
				delete(c.data, k)
			}
		}
		for k := range c.data {
			if len(c.data) < c.maxEntries {
				break
			}
			delete(c.data, k)
		}
	}

	c.data[key] = memoryCacheEntry{embedding: embedding, expiresAt: time.Now().Add(c.ttl)}
}

func (c *InMemoryEmbeddingCache) Close() error { return nil }

// RedisEmbeddingCache is the optional L2 cache shared across replicas.
type RedisEmbeddingCache struct {
	client    *redis.Client
	ttl       time.Duration
	keyPrefix string
	logger    *slog.Logger
}

// RedisCacheConfig holds Redis cache configuration.
type RedisCacheConfig struct {
	Address   string        `json:"address"`
	Password  string        `json:"password"`
	Database  int           `json:"database"`
	TTL       time.Duration `json:"ttl"`
	KeyPrefix string        `json:"key_prefix"`
}

// NewRedisEmbeddingCache connects to Redis and verifies the connection.
func NewRedisEmbeddingCache(ctx context.Context, config *RedisCacheConfig) (*RedisEmbeddingCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         config.Address,
		Password:     config.Password,
		DB:           config.Database,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", config.Address, err)
	}

	ttl := config.TTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	prefix := config.KeyPrefix
	if prefix == "" {
		prefix = "policyqa:"
	}

	return &RedisEmbeddingCache{
		client:    client,
		ttl:       ttl,
		keyPrefix: prefix,
		logger:    slog.Default().With("component", "redis-embedding-cache"),
	}, nil
}

func (c *RedisEmbeddingCache) Get(ctx context.Context, key string) ([]float32, bool) {
	data, err := c.client.Get(ctx, c.keyPrefix+key).Bytes()
	if err != nil {
		if err != redis.Nil {
			c.logger.Warn("Redis get failed", slog.String("error", err.Error()))
		}
		return nil, false
	}

	var embedding []float32
	if err := json.Unmarshal(data, &embedding); err != nil {
		c.logger.Warn("Corrupt cache entry dropped", slog.String("key", key))
		c.client.Del(ctx, c.keyPrefix+key)
		return nil, false
	}
	return embedding, true
}

func (c *RedisEmbeddingCache) Set(ctx context.Context, key string, embedding []float32) {
	data, err := json.Marshal(embedding)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, c.keyPrefix+key, data, c.ttl).Err(); err != nil {
		c.logger.Warn("Redis set failed", slog.String("error", err.Error()))
	}
}

func (c *RedisEmbeddingCache) Close() error {
	return c.client.Close()
}

// tieredCache consults L1 before L2 and backfills L1 on an L2 hit.
type tieredCache struct {
	l1 EmbeddingCache
	l2 EmbeddingCache
}

// NewTieredCache combines an L1 and L2 cache. Either may be nil.
func NewTieredCache(l1, l2 EmbeddingCache) EmbeddingCache {
	if l2 == nil {
		return l1
	}
	if l1 == nil {
		return l2
	}
	return &tieredCache{l1: l1, l2: l2}
}

func (c *tieredCache) Get(ctx context.Context, key string) ([]float32, bool) {
	if emb, ok := c.l1.Get(ctx, key); ok {
		return emb, true
	}
	if emb, ok := c.l2.Get(ctx, key); ok {
		c.l1.Set(ctx, key, emb)
		return emb, true
	}
	return nil, false
}

func (c *tieredCache) Set(ctx context.Context, key string, embedding []float32) {
	c.l1.Set(ctx, key, embedding)
	c.l2.Set(ctx, key, embedding)
}

func (c *tieredCache) Close() error {
	err1 := c.l1.Close()
	if err2 := c.l2.Close(); err2 != nil {
		return err2
	}
	return err1
}
