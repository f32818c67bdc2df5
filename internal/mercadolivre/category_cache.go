package mercadolivre

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

const categoryKeyPrefix = "ml:category:"

// CategoryFetcher loads categories from the API.
type CategoryFetcher interface {
	GetCategory(ctx context.Context, token, categoryID string) (Category, error)
}

// CategoryCache keeps category metadata in Redis. Categories rarely change, so
// entries live for ttl; concurrent misses for the same id share one request.
// Redis is best effort: when it fails the category is fetched directly.
type CategoryCache struct {
	fetcher CategoryFetcher
	client  *redis.Client
	ttl     time.Duration
	logger  *slog.Logger
	group   singleflight.Group
}

// NewCategoryCache builds the cache. A nil redis client disables caching but
// keeps request de-duplication.
func NewCategoryCache(fetcher CategoryFetcher, client *redis.Client, ttl time.Duration, logger *slog.Logger) *CategoryCache {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &CategoryCache{fetcher: fetcher, client: client, ttl: ttl, logger: logger}
}

// GetCategory returns the cached category or fetches it.
func (c *CategoryCache) GetCategory(ctx context.Context, token, categoryID string) (Category, error) {
	if categoryID == "" {
		return Category{}, errors.New("mercadolivre: category id required")
	}
	key := categoryKeyPrefix + categoryID
	if cached, ok := c.cached(ctx, key); ok {
		return cached, nil
	}

	// The shared fetch must not die with whichever caller started it.
	fetchCtx := context.WithoutCancel(ctx)
	ch := c.group.DoChan(key, func() (interface{}, error) {
		category, err := c.fetcher.GetCategory(fetchCtx, token, categoryID)
		if err != nil {
			return nil, err
		}
		c.store(fetchCtx, key, category)
		return category, nil
	})
	select {
	case <-ctx.Done():
		return Category{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return Category{}, res.Err
		}
		return res.Val.(Category), nil
	}
}

func (c *CategoryCache) cached(ctx context.Context, key string) (Category, bool) {
	if c.client == nil {
		return Category{}, false
	}
	raw, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.WarnContext(ctx, "category cache read", slog.String("key", key), slog.Any("error", err))
		}
		return Category{}, false
	}
	var category Category
	if err := json.Unmarshal(raw, &category); err != nil {
		return Category{}, false
	}
	return category, true
}

func (c *CategoryCache) store(ctx context.Context, key string, category Category) {
	if c.client == nil {
		return
	}
	raw, err := json.Marshal(category)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, key, raw, c.ttl).Err(); err != nil {
		c.logger.WarnContext(ctx, "category cache write", slog.String("key", key), slog.Any("error", err))
	}
}
