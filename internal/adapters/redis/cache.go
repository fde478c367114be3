// Package redis backs the report cache with Redis so that deduplication is
// shared across instances.
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"nexusradar/internal/ports"
)

const keyPrefix = "nexusradar:"

// Client wraps the go-redis client with health checking.
type Client struct {
	*redis.Client
}

// New connects to url. Returns nil if the URL is empty (Redis not configured).
func New(ctx context.Context, url string) (*Client, error) {
	if url == "" {
		return nil, nil
	}
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis URL: %w", err)
	}
	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return &Client{Client: client}, nil
}

func (c *Client) Health(ctx context.Context) error {
	return c.Ping(ctx).Err()
}

// ReportCache maps a report request key to the ID of a completed run.
type ReportCache struct {
	client redis.UniversalClient
}

var _ ports.ReportCache = (*ReportCache)(nil)

func NewReportCache(client redis.UniversalClient) *ReportCache {
	return &ReportCache{client: client}
}

func (c *ReportCache) Get(ctx context.Context, key string) (string, bool, error) {
	runID, err := c.client.Get(ctx, keyPrefix+key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return runID, true, nil
}

// Set stores runID under key. A non-positive ttl is a no-op.
func (c *ReportCache) Set(ctx context.Context, key string, runID string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	return c.client.Set(ctx, keyPrefix+key, runID, ttl).Err()
}
