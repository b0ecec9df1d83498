package adapter

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/talk2sql/pkg/interfaces"
	"github.com/m-mizutani/talk2sql/pkg/utils/logging"
	"github.com/redis/go-redis/v9"
)

type redisKV interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
}

// CachedEmbedder memoizes embeddings in Redis. Cache failures are logged and
// fall through to the wrapped embedder.
type CachedEmbedder struct {
	embedder  interfaces.Embedder
	kv        redisKV
	namespace string
	ttl       time.Duration
}

type CacheOption func(*CachedEmbedder)

// WithCacheNamespace separates caches of different embedding models.
func WithCacheNamespace(ns string) CacheOption {
	return func(c *CachedEmbedder) {
		c.namespace = ns
	}
}

func WithCacheTTL(ttl time.Duration) CacheOption {
	return func(c *CachedEmbedder) {
		c.ttl = ttl
	}
}

func NewCachedEmbedder(embedder interfaces.Embedder, kv redisKV, opts ...CacheOption) *CachedEmbedder {
	c := &CachedEmbedder{
		embedder:  embedder,
		kv:        kv,
		namespace: "default",
		ttl:       7 * 24 * time.Hour,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// NewRedis connects to a Redis server and checks it is reachable.
func NewRedis(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, goerr.Wrap(err, "failed to connect to redis", goerr.V("addr", addr))
	}
	return client, nil
}

func (c *CachedEmbedder) key(text string) string {
	sum := sha256.Sum256([]byte(text))
	return "talk2sql:embedding:" + c.namespace + ":" + hex.EncodeToString(sum[:])
}

func (c *CachedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	key := c.key(text)
	logger := logging.From(ctx)

	raw, err := c.kv.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var vec []float32
		if err := json.Unmarshal(raw, &vec); err == nil && len(vec) > 0 {
			return vec, nil
		}
		logger.Warn("discarding corrupt cached embedding", "key", key)
	case !errors.Is(err, redis.Nil):
		logger.Warn("embedding cache lookup failed", "error", err)
	}

	vec, err := c.embedder.Embed(ctx, text)
	if err != nil {
		return nil, err
	}

	data, err := json.Marshal(vec)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to marshal embedding")
	}
	if err := c.kv.Set(ctx, key, data, c.ttl).Err(); err != nil {
		logger.Warn("failed to store embedding in cache", "error", err)
	}

	return vec, nil
}
