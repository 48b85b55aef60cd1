// Package queue is the Redis edge of the worker: alert intake via a blocking
// list pop, plus best-effort fan-out of trades and log lines to external
// consumers.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/vitos/trade_alert_engine/internal/domain"
	"go.uber.org/zap"
)

const (
	taskQueueKey    = "task_queue"
	logListKey      = "worker_logs"
	tradeChannelKey = "trades"

	logListMax   = 500
	popTimeout   = 5 * time.Second
	publishLimit = 3 * time.Second
)

type Client struct {
	rdb    *redis.Client
	logger *zap.Logger
}

func NewClient(addr, password string, db int, logger *zap.Logger) *Client {
	return &Client{
		rdb: redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: password,
			DB:       db,
		}),
		logger: logger,
	}
}

func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

func (c *Client) Close() error {
	return c.rdb.Close()
}

// Consume blocks on the task queue and hands each raw payload to handle,
// one at a time, until ctx is cancelled. Handler errors are already logged
// and retried downstream, so the loop only moves on.
func (c *Client) Consume(ctx context.Context, handle func(ctx context.Context, raw []byte) error) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		res, err := c.rdb.BRPop(ctx, popTimeout, taskQueueKey).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.logger.Error("Queue pop failed", zap.Error(err))
			time.Sleep(time.Second)
			continue
		}
		// BRPop returns [key, value].
		if len(res) < 2 {
			continue
		}
		_ = handle(ctx, []byte(res[1]))
	}
}

// PublishTrade pushes the reconciled trade to the pub/sub channel the
// dashboard listens on. Best effort.
func (c *Client) PublishTrade(ctx context.Context, trade *domain.Trade) {
	payload, err := json.Marshal(trade)
	if err != nil {
		c.logger.Warn("Trade publish encode failed", zap.Error(err))
		return
	}
	ctx, cancel := context.WithTimeout(ctx, publishLimit)
	defer cancel()
	if err := c.rdb.Publish(ctx, tradeChannelKey, payload).Err(); err != nil {
		c.logger.Warn("Trade publish failed", zap.Error(err))
	}
}

// PublishLog appends a log line to the capped worker log list. Best effort.
func (c *Client) PublishLog(ctx context.Context, level, message string) {
	entry, err := json.Marshal(map[string]string{
		"level":     level,
		"message":   message,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, publishLimit)
	defer cancel()
	pipe := c.rdb.Pipeline()
	pipe.LPush(ctx, logListKey, entry)
	pipe.LTrim(ctx, logListKey, 0, logListMax-1)
	if _, err := pipe.Exec(ctx); err != nil {
		c.logger.Warn("Log publish failed", zap.Error(err))
	}
}
