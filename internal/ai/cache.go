package ai

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// CachedEmbedder keeps query embeddings in redis. A nil client disables caching.
type CachedEmbedder struct {
	Embedder  Embedder
	Redis     *goredis.Client
	TTL       time.Duration
	KeyPrefix string
	Logger    zerolog.Logger
}

func NewCachedEmbedder(inner Embedder, rdb *goredis.Client, ttl time.Duration, logger zerolog.Logger) *CachedEmbedder {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &CachedEmbedder{
		Embedder:  inner,
		Redis:     rdb,
		TTL:       ttl,
		KeyPrefix: "emb:",
		Logger:    logger,
	}
}

func (c *CachedEmbedder) cacheKey(text string) string {
	sum := sha256.Sum256([]byte(text))
	return c.KeyPrefix + hex.EncodeToString(sum[:])
}

func (c *CachedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if c.Redis == nil {
		return c.Embedder.Embed(ctx, text)
	}

	key := c.cacheKey(text)
	data, err := c.Redis.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var vec []float32
		if jsonErr := json.Unmarshal(data, &vec); jsonErr == nil && len(vec) > 0 {
			return vec, nil
		}
		_ = c.Redis.Del(ctx, key).Err()
	case !errors.Is(err, goredis.Nil):
		c.Logger.Warn().Err(err).Str("key", key).Msg("embedding cache read failed")
	}

	vec, err := c.Embedder.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	if b, err := json.Marshal(vec); err == nil {
		if err := c.Redis.Set(ctx, key, b, c.TTL).Err(); err != nil {
			c.Logger.Warn().Err(err).Str("key", key).Msg("embedding cache write failed")
		}
	}
	return vec, nil
}
