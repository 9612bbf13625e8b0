package redis

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Client wraps Redis operations for the rescan queue: operator-requested
// ledger ranges waiting to be backfilled.
type Client struct {
	rdb *redis.Client
}

// Config holds Redis connection configuration.
type Config struct {
	URL      string `yaml:"url"`
	Password string `yaml:"password"`
}

// NewClient creates a new Redis client.
func NewClient(cfg Config) (*Client, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}
	if cfg.Password != "" {
		opts.Password = cfg.Password
	}

	rdb := redis.NewClient(opts)

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &Client{rdb: rdb}, nil
}

// Close closes the Redis connection.
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Key helpers
const (
	queueKey = "rescan_ledgers:xrpusd"
)

func lockKey(start, end uint32) string {
	return fmt.Sprintf("rescan_lock:xrpusd:%d-%d", start, end)
}

func progressKey(start, end uint32) string {
	return fmt.Sprintf("rescan_progress:xrpusd:%d-%d", start, end)
}

// PopRange pops the next ledger range from the queue (lowest start first).
func (c *Client) PopRange(ctx context.Context) (start, end uint32, found bool, err error) {
	results, err := c.rdb.ZRangeWithScores(ctx, queueKey, 0, 0).Result()
	if err != nil {
		return 0, 0, false, fmt.Errorf("zrange failed: %w", err)
	}

	if len(results) == 0 {
		return 0, 0, false, nil
	}

	member := results[0].Member.(string)
	start, end, err = ParseRangeString(member)
	if err != nil {
		return 0, 0, false, fmt.Errorf("invalid range format: %w", err)
	}

	if err := c.rdb.ZRem(ctx, queueKey, member).Err(); err != nil {
		return 0, 0, false, fmt.Errorf("zrem failed: %w", err)
	}

	return start, end, true, nil
}

// PushRange adds a ledger range to the queue.
func (c *Client) PushRange(ctx context.Context, start, end uint32) error {
	member := fmt.Sprintf("%d-%d", start, end)
	score := float64(start)

	if err := c.rdb.ZAdd(ctx, queueKey, redis.Z{Score: score, Member: member}).Err(); err != nil {
		return fmt.Errorf("zadd failed: %w", err)
	}
	return nil
}

// QueueLength returns the number of queued ranges.
func (c *Client) QueueLength(ctx context.Context) (int64, error) {
	return c.rdb.ZCard(ctx, queueKey).Result()
}

// AcquireLock attempts to acquire a processing lock for a range.
func (c *Client) AcquireLock(
	ctx context.Context,
	start, end uint32,
	ttl time.Duration,
) (bool, error) {
	ok, err := c.rdb.SetNX(ctx, lockKey(start, end), "locked", ttl).Result()
	if err != nil {
		return false, fmt.Errorf("setnx failed: %w", err)
	}
	return ok, nil
}

// ReleaseLock releases a processing lock.
func (c *Client) ReleaseLock(ctx context.Context, start, end uint32) error {
	return c.rdb.Del(ctx, lockKey(start, end)).Err()
}

// GetProgress gets the last sampled ledger for a range.
func (c *Client) GetProgress(ctx context.Context, start, end uint32) (uint32, error) {
	val, err := c.rdb.Get(ctx, progressKey(start, end)).Result()
	if err == redis.Nil {
		return start, nil // No progress, start from beginning
	}
	if err != nil {
		return 0, fmt.Errorf("get failed: %w", err)
	}
	parsed, err := strconv.ParseUint(val, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid progress value: %w", err)
	}
	return uint32(parsed), nil
}

// SetProgress records the last sampled ledger for a range.
func (c *Client) SetProgress(
	ctx context.Context,
	start, end, current uint32,
	ttl time.Duration,
) error {
	return c.rdb.Set(ctx, progressKey(start, end), strconv.FormatUint(uint64(current), 10), ttl).Err()
}

// ClearProgress removes progress tracking for a range.
func (c *Client) ClearProgress(ctx context.Context, start, end uint32) error {
	return c.rdb.Del(ctx, progressKey(start, end)).Err()
}

// ParseRangeString parses "90000000-90001000" format.
func ParseRangeString(s string) (start, end uint32, err error) {
	parts := strings.Split(s, "-")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("invalid range format: %s", s)
	}

	lo, err := strconv.ParseUint(parts[0], 10, 32)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid start: %w", err)
	}

	hi, err := strconv.ParseUint(parts[1], 10, 32)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid end: %w", err)
	}

	if lo > hi {
		return 0, 0, fmt.Errorf("start > end: %d > %d", lo, hi)
	}

	return uint32(lo), uint32(hi), nil
}
