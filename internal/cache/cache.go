// Package cache holds the optional redis skip-cache: the last chapter param
// seen for each entry. When a listing item's latest_chapter matches the
// cached value the entry cannot have new chapters, so the synchronizer can
// skip the detail fetch entirely.
package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "mixscrap:latest:"

// LatestChapterCache remembers each entry's newest known chapter param.
type LatestChapterCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// New connects to redis at redisURL. An empty URL returns nil, which every
// method treats as a disabled cache.
func New(redisURL string, ttl time.Duration) (*LatestChapterCache, error) {
	if redisURL == "" {
		return nil, nil
	}
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &LatestChapterCache{rdb: rdb, ttl: ttl}, nil
}

// Unchanged reports whether the entry's cached latest chapter matches the
// listing's. Cache misses and redis errors both report false: a broken cache
// only costs a detail fetch, never skips real work.
func (c *LatestChapterCache) Unchanged(ctx context.Context, entryParam, latestChapter string) bool {
	if c == nil || latestChapter == "" {
		return false
	}
	got, err := c.rdb.Get(ctx, keyPrefix+entryParam).Result()
	if err != nil {
		return false
	}
	return got == latestChapter
}

// Record stores the entry's newest chapter param after a clean sync.
func (c *LatestChapterCache) Record(ctx context.Context, entryParam, latestChapter string) {
	if c == nil || latestChapter == "" {
		return
	}
	c.rdb.Set(ctx, keyPrefix+entryParam, latestChapter, c.ttl)
}

// Close releases the redis connection.
func (c *LatestChapterCache) Close() error {
	if c == nil {
		return nil
	}
	return c.rdb.Close()
}
