package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/vitos/trade_alert_engine/internal/domain"
	"github.com/vitos/trade_alert_engine/internal/metrics"
	"go.uber.org/zap"
)

const (
	defaultMaxAttempts = 3
	defaultRetryDelay  = 5 * time.Second
)

// TaskRunner wraps alert execution with the queue-facing lifecycle: durable
// alert logging, bounded retry with backoff, and completion fan-out. It is the
// only layer that decides whether an error is worth another attempt.
type TaskRunner struct {
	processor   *AlertProcessor
	alertLog    domain.AlertLog
	publisher   domain.Publisher
	logger      *zap.Logger
	maxAttempts int
	baseDelay   time.Duration
}

func NewTaskRunner(processor *AlertProcessor, alertLog domain.AlertLog, publisher domain.Publisher, logger *zap.Logger) *TaskRunner {
	return &TaskRunner{
		processor:   processor,
		alertLog:    alertLog,
		publisher:   publisher,
		logger:      logger,
		maxAttempts: defaultMaxAttempts,
		baseDelay:   defaultRetryDelay,
	}
}

// SetRetryPolicy overrides the attempt budget and base backoff delay.
func (r *TaskRunner) SetRetryPolicy(maxAttempts int, baseDelay time.Duration) {
	r.maxAttempts = maxAttempts
	r.baseDelay = baseDelay
}

// Run executes one raw alert payload from the queue. The raw payload is
// appended to the alert log before anything else so every received alert is
// recoverable even when execution dies mid-way.
func (r *TaskRunner) Run(ctx context.Context, raw []byte) error {
	start := time.Now()

	var alert domain.Alert
	if err := json.Unmarshal(raw, &alert); err != nil {
		r.logger.Error("Discarding undecodable alert payload", zap.Error(err), zap.ByteString("payload", raw))
		r.publisher.PublishLog(ctx, "error", fmt.Sprintf("undecodable alert payload: %v", err))
		return fmt.Errorf("decode alert: %w", err)
	}
	if alert.ID == "" {
		alert.ID = uuid.NewString()
	}

	if err := r.alertLog.AppendAlertLog(ctx, alert.ID, raw); err != nil {
		// Execution still proceeds; losing the audit row is better than
		// dropping a live trading signal.
		r.logger.Warn("Alert log append failed", zap.String("alert_id", alert.ID), zap.Error(err))
	}

	action := string(alert.Action)
	var lastErr error
	for attempt := 1; attempt <= r.maxAttempts; attempt++ {
		if attempt > 1 {
			metrics.TaskRetried()
			delay := r.baseDelay * (1 << (attempt - 2))
			r.logger.Info("Retrying alert",
				zap.String("alert_id", alert.ID),
				zap.Int("attempt", attempt),
				zap.Duration("delay", delay))
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		result, err := r.processor.Process(ctx, &alert)
		if err == nil {
			r.logger.Info("Alert COMPLETE",
				zap.String("alert_id", alert.ID),
				zap.String("account", alert.Account),
				zap.String("action", action),
				zap.String("status", result.Status),
				zap.Int("attempts", attempt),
				zap.Duration("elapsed", time.Since(start)))
			r.publisher.PublishLog(ctx, "info",
				fmt.Sprintf("alert %s %s %s: %s", alert.ID, action, alert.Symbol, result.Status))
			metrics.AlertProcessed(action, result.Status)
			metrics.ObserveAlertDuration(action, time.Since(start).Seconds())
			return nil
		}

		lastErr = err
		if !domain.IsRetryable(err) {
			r.logger.Error("Alert failed permanently",
				zap.String("alert_id", alert.ID),
				zap.Int("attempt", attempt),
				zap.Error(err))
			break
		}
		r.logger.Warn("Alert attempt failed",
			zap.String("alert_id", alert.ID),
			zap.Int("attempt", attempt),
			zap.Error(err))
	}

	r.logger.Error("Alert FAILED",
		zap.String("alert_id", alert.ID),
		zap.String("account", alert.Account),
		zap.String("action", action),
		zap.Error(lastErr),
		zap.Duration("elapsed", time.Since(start)))
	r.publisher.PublishLog(ctx, "error",
		fmt.Sprintf("alert %s %s %s failed: %v", alert.ID, action, alert.Symbol, lastErr))
	metrics.AlertProcessed(action, "failed")
	metrics.ObserveAlertDuration(action, time.Since(start).Seconds())
	return lastErr
}
