// Package cache is a thin redis layer for read-heavy status lookups and
// the API rate limiter. Losing it is harmless; the rendering service and
// the database remain authoritative.
package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// NewRedisClient connects and pings the redis server.
func NewRedisClient(ctx context.Context, addr string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr: addr,
		DB:   db,
	})
	if _, err := client.Ping(ctx).Result(); err != nil {
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}
	return client, nil
}

// StatusCache caches the last seen status per job id
type StatusCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewStatusCache creates a status cache with a one-hour entry TTL.
func NewStatusCache(client *redis.Client) *StatusCache {
	return &StatusCache{client: client, ttl: time.Hour}
}

// SetStatus stores the latest status for a job.
func (c *StatusCache) SetStatus(ctx context.Context, jobID, status string) error {
	return c.client.Set(ctx, "job_status:"+jobID, status, c.ttl).Err()
}

// GetStatus returns the cached status, or "" on a miss.
func (c *StatusCache) GetStatus(ctx context.Context, jobID string) (string, error) {
	v, err := c.client.Get(ctx, "job_status:"+jobID).Result()
	if err == redis.Nil {
		return "", nil
	}
	return v, err
}
