package redis

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/DRSN-tech/image-gallery/internal/cfg"
	"github.com/DRSN-tech/image-gallery/internal/domain"
	"github.com/DRSN-tech/image-gallery/internal/metrics"
	"github.com/DRSN-tech/image-gallery/internal/repository/redis/converter"
	"github.com/DRSN-tech/image-gallery/pkg/e"
	"github.com/DRSN-tech/image-gallery/pkg/logger"
	"github.com/jimlawless/whereami"
	r "github.com/redis/go-redis/v9"
)

// Client часть клиента go-redis, нужная кэшу
type Client interface {
	Get(ctx context.Context, key string) *r.StringCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *r.StatusCmd
	Del(ctx context.Context, keys ...string) *r.IntCmd
}

// EmbeddingCacheRepo кэширует эмбеддинги текстовых запросов: повторный запрос
// не ходит в модель. Ключ: пространство + SHA-256 текста.
type EmbeddingCacheRepo struct {
	client Client
	cfg    *cfg.RedisCfg
	logger logger.Logger
}

func NewEmbeddingCacheRepo(client Client, cfg *cfg.RedisCfg, logger logger.Logger) *EmbeddingCacheRepo {
	return &EmbeddingCacheRepo{
		client: client,
		cfg:    cfg,
		logger: logger,
	}
}

// Get возвращает вектор из кэша. Промах: (nil, false, nil).
func (c *EmbeddingCacheRepo) Get(ctx context.Context, space domain.VectorSpace, text string) ([]float32, bool, error) {
	key := embeddingKey(space, text)

	data, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, r.Nil) {
		metrics.EmbeddingCacheMiss()
		return nil, false, nil
	}
	if err != nil {
		return nil, false, e.Wrap(whereami.WhereAmI(), err)
	}

	vector, err := converter.DecodeVector(data)
	if err != nil {
		c.logger.Warnf("corrupted embedding cache entry %s: %v", key, err)
		if err := c.client.Del(ctx, key).Err(); err != nil {
			c.logger.Warnf("Redis del failed: %v", e.Wrap(whereami.WhereAmI(), err))
		}
		metrics.EmbeddingCacheMiss()
		return nil, false, nil
	}

	metrics.EmbeddingCacheHit()
	return vector, true, nil
}

func (c *EmbeddingCacheRepo) Set(ctx context.Context, space domain.VectorSpace, text string, vector []float32) error {
	if len(vector) == 0 {
		return e.Wrap(whereami.WhereAmI(), e.ErrEmptyVectors)
	}

	if err := c.client.Set(ctx, embeddingKey(space, text), converter.EncodeVector(vector), c.cfg.EmbeddingTTL).Err(); err != nil {
		return e.Wrap(whereami.WhereAmI(), err)
	}

	return nil
}

// embeddingKey возвращает Redis-ключ для текста в пространстве space
func embeddingKey(space domain.VectorSpace, text string) string {
	sum := sha256.Sum256([]byte(text))
	return fmt.Sprintf("embedding:%s:%s", space, hex.EncodeToString(sum[:]))
}
