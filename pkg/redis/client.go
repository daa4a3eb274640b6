package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spokescan/spokescan/pkg/utils"
	"go.uber.org/zap"
)

const (
	DefaultStreamMaxLen = 10000
	DefaultPriceTTL     = 24 * time.Hour

	// DepositStream carries deposit lifecycle notifications (created, filled, refunded).
	DepositStream = "spokescan:deposits"
)

// Client wraps the Redis client used for the price cache and lifecycle notifications.
type Client struct {
	client       redis.UniversalClient
	logger       *zap.Logger
	streamMaxLen int64
	priceTTL     time.Duration
}

// NewClient creates a new Redis client using environment variables for configuration.
// Environment variables:
//   - REDIS_HOST: Redis host (default: "localhost")
//   - REDIS_PORT: Redis port (default: "6379")
//   - REDIS_PASSWORD: Redis password (default: "")
//   - REDIS_DB: Redis database number (default: "0")
//   - REDIS_STREAM_MAXLEN: Max entries per stream (default: 10000, 0 = unlimited)
//   - REDIS_PRICE_TTL: Lifetime of cached prices (default: 24h)
func NewClient(ctx context.Context, logger *zap.Logger) (*Client, error) {
	host := utils.Env("REDIS_HOST", "localhost")
	port := utils.Env("REDIS_PORT", "6379")
	password := utils.Env("REDIS_PASSWORD", "")
	db := utils.EnvInt("REDIS_DB", 0)

	addr := fmt.Sprintf("%s:%s", host, port)

	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,

		PoolSize:     10,
		MinIdleConns: 2,

		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := rdb.Ping(pingCtx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", addr, err)
	}

	c := Wrap(rdb, logger)
	c.streamMaxLen = utils.EnvInt64("REDIS_STREAM_MAXLEN", DefaultStreamMaxLen)
	c.priceTTL = utils.EnvDuration("REDIS_PRICE_TTL", DefaultPriceTTL)

	logger.Info("Connected to Redis",
		zap.String("addr", addr),
		zap.Int("db", db),
		zap.Int64("streamMaxLen", c.streamMaxLen))

	return c, nil
}

// Wrap builds a Client around an existing connection.
func Wrap(rdb redis.UniversalClient, logger *zap.Logger) *Client {
	return &Client{
		client:       rdb,
		logger:       logger,
		streamMaxLen: DefaultStreamMaxLen,
		priceTTL:     DefaultPriceTTL,
	}
}

// Close closes the Redis connection.
func (c *Client) Close() error {
	return c.client.Close()
}

// Health checks if Redis is healthy.
func (c *Client) Health(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func priceKey(feedID, day string) string {
	return "spokescan:price:" + feedID + ":" + day
}

// GetPrice returns a cached USD price. The second result is false on a miss.
// Read failures are treated as misses.
func (c *Client) GetPrice(ctx context.Context, feedID, day string) (string, bool) {
	v, err := c.client.Get(ctx, priceKey(feedID, day)).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.Warn("Failed to read cached price",
				zap.String("feed", feedID),
				zap.String("day", day),
				zap.Error(err))
		}
		return "", false
	}
	return v, true
}

// SetPrice caches a USD price. Best-effort: errors are logged, not returned.
func (c *Client) SetPrice(ctx context.Context, feedID, day, usd string) {
	if err := c.client.Set(ctx, priceKey(feedID, day), usd, c.priceTTL).Err(); err != nil {
		c.logger.Warn("Failed to cache price",
			zap.String("feed", feedID),
			zap.String("day", day),
			zap.Error(err))
	}
}

// XAdd adds an entry to a stream. Uses MAXLEN to cap stream size if configured.
// This is best-effort - errors are logged but not returned to prevent failures
// from affecting the pipeline.
func (c *Client) XAdd(ctx context.Context, stream string, values map[string]interface{}) string {
	args := &redis.XAddArgs{
		Stream: stream,
		Values: values,
	}

	if c.streamMaxLen > 0 {
		args.MaxLen = c.streamMaxLen
		args.Approx = true
	}

	id, err := c.client.XAdd(ctx, args).Result()
	if err != nil {
		c.logger.Warn("Failed to add to Redis stream",
			zap.String("stream", stream),
			zap.Error(err))
		return ""
	}
	return id
}

// PublishDeposit appends a lifecycle event for a deposit to DepositStream.
func (c *Client) PublishDeposit(ctx context.Context, event string, depositID, sourceChainID int64, status string) {
	c.XAdd(ctx, DepositStream, map[string]interface{}{
		"event":         event,
		"depositId":     depositID,
		"sourceChainId": sourceChainID,
		"status":        status,
		"at":            time.Now().UTC().Format(time.RFC3339),
	})
}

// XRange returns entries from a stream between two IDs (inclusive).
func (c *Client) XRange(ctx context.Context, stream, start, end string, count int64) ([]redis.XMessage, error) {
	return c.client.XRangeN(ctx, stream, start, end, count).Result()
}
