// Package retention closes stale waiting sessions on a cron schedule so
// the admin queue never fills with conversations whose customers walked
// away.
package retention

import (
	"context"
	"fmt"
	"time"

	"github.com/adhocore/gronx"

	"supportchat/pkg/chat"
	"supportchat/pkg/config"
	"supportchat/pkg/logger"
)

// Start starts the retention scheduler if enabled. Returns a cancel func.
func Start(ctx context.Context, cfg *config.Config, router *chat.Router) (context.CancelFunc, error) {
	if !cfg.Retention.Enabled {
		logger.Info("retention_disabled")
		return func() {}, nil
	}

	// map empty cron to default daily @02:00
	cronExpr := cfg.Retention.Cron
	if cronExpr == "" {
		cronExpr = "0 2 * * *"
	}
	if !gronx.IsValid(cronExpr) {
		logger.Error("retention_invalid_cron", "cron", cfg.Retention.Cron)
		return nil, fmt.Errorf("invalid retention cron expression: %s", cfg.Retention.Cron)
	}

	idle := cfg.RetentionIdle()
	logger.Info("retention_enabled", "cron", cronExpr, "idle_period", idle.String())
	ctx2, cancel := context.WithCancel(ctx)

	go runScheduler(ctx2, router, cronExpr, idle)

	return cancel, nil
}

// RunOnce performs a single sweep, closing waiting sessions idle longer
// than the given period. Exposed for admin triggers and tests.
func RunOnce(router *chat.Router, idle time.Duration) (int, error) {
	return router.CloseIdleWaiting(idle)
}

// runScheduler uses gronx to compute the next tick for the configured cron
// expression and sleeps until that time. This supports full cron syntax.
func runScheduler(ctx context.Context, router *chat.Router, cronExpr string, idle time.Duration) {
	for {
		select {
		case <-ctx.Done():
			logger.Info("retention_scheduler_stopping")
			return
		default:
		}

		now := time.Now().UTC()
		next, err := gronx.NextTickAfter(cronExpr, now, false)
		if err != nil {
			logger.Error("retention_nexttick_failed", "cron", cronExpr, "error", err)
			select {
			case <-time.After(30 * time.Second):
			case <-ctx.Done():
				logger.Info("retention_scheduler_stopping")
				return
			}
			continue
		}

		wait := time.Until(next)
		if wait <= 0 {
			runSweep(router, idle)
			// small sleep to avoid a tight loop when the tick is due now
			select {
			case <-time.After(time.Second):
			case <-ctx.Done():
				logger.Info("retention_scheduler_stopping")
				return
			}
			continue
		}

		select {
		case <-time.After(wait):
			runSweep(router, idle)
		case <-ctx.Done():
			logger.Info("retention_scheduler_stopping")
			return
		}
	}
}

func runSweep(router *chat.Router, idle time.Duration) {
	closed, err := RunOnce(router, idle)
	if err != nil {
		logger.Error("retention_run_error", "error", err)
		return
	}
	if closed > 0 {
		logger.Info("retention_run_complete", "closed", closed)
	}
}
