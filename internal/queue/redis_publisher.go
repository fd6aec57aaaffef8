/**
 * Redis Publisher for the Screen OCR Worker
 *
 * Publishes every delivered result on a Redis pub/sub channel and keeps a
 * bounded list of recent results for late subscribers:
 *
 *   PUBLISH <prefix>:events <event json>
 *   LPUSH   <prefix>:recent <event json>
 *   LTRIM   <prefix>:recent 0 <size-1>
 *
 * The three commands are sent in one pipeline.
 */

package queue

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/adverant/nexus/screenocr-worker/internal/ocr"
)

// RedisPublisher is a result sink backed by Redis
type RedisPublisher struct {
	client     *redis.Client
	prefix     string
	recentSize int64
}

// RedisPublisherConfig holds publisher configuration
type RedisPublisherConfig struct {
	RedisURL   string
	Prefix     string
	RecentSize int64 // 0 disables the recent list
}

// NewRedisPublisher connects to Redis and verifies the connection
func NewRedisPublisher(ctx context.Context, cfg *RedisPublisherConfig) (*RedisPublisher, error) {
	if cfg.RedisURL == "" {
		return nil, fmt.Errorf("RedisURL is required")
	}
	if cfg.Prefix == "" {
		cfg.Prefix = "screenocr"
	}

	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	client := redis.NewClient(opt)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return newRedisPublisher(client, cfg.Prefix, cfg.RecentSize), nil
}

func newRedisPublisher(client *redis.Client, prefix string, recentSize int64) *RedisPublisher {
	return &RedisPublisher{client: client, prefix: prefix, recentSize: recentSize}
}

func (p *RedisPublisher) Name() string { return "redis" }

// EventsChannel is the pub/sub channel results are published on
func (p *RedisPublisher) EventsChannel() string { return p.prefix + ":events" }

// RecentKey is the list holding the most recent results, newest first
func (p *RedisPublisher) RecentKey() string { return p.prefix + ":recent" }

func (p *RedisPublisher) Deliver(ctx context.Context, r ocr.Result) error {
	payload, err := json.Marshal(ocr.NewEvent(r))
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	pipe := p.client.Pipeline()
	pipe.Publish(ctx, p.EventsChannel(), payload)
	if p.recentSize > 0 {
		pipe.LPush(ctx, p.RecentKey(), payload)
		pipe.LTrim(ctx, p.RecentKey(), 0, p.recentSize-1)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis publish failed: %w", err)
	}
	return nil
}

// Recent returns up to n recent events, newest first
func (p *RedisPublisher) Recent(ctx context.Context, n int64) ([]ocr.Event, error) {
	raw, err := p.client.LRange(ctx, p.RecentKey(), 0, n-1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read recent results: %w", err)
	}
	events := make([]ocr.Event, 0, len(raw))
	for _, s := range raw {
		var ev ocr.Event
		if err := json.Unmarshal([]byte(s), &ev); err != nil {
			continue
		}
		events = append(events, ev)
	}
	return events, nil
}

// Close closes the Redis connection
func (p *RedisPublisher) Close() error {
	return p.client.Close()
}
