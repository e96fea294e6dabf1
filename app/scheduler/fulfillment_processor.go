package scheduler

import (
	"context"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/taleroad/groupbuy-engine/app/middleware"
	businessflow "github.com/taleroad/groupbuy-engine/business_flow"
	"github.com/taleroad/groupbuy-engine/config"
)

// FulfillmentProcessor periodically reconciles goal-reached campaigns:
// paid commitments become orders, overdue ones expire, and fully settled
// campaigns close.
type FulfillmentProcessor struct {
	flow     businessflow.FulfillmentFlow
	lock     *schedulerLock
	logger   *log.Logger
	interval time.Duration
}

// NewFulfillmentProcessor creates a new fulfillment processor
func NewFulfillmentProcessor(
	flow businessflow.FulfillmentFlow,
	rc *redis.Client,
	cfg config.SchedulerConfig,
	logCfg config.LoggingConfig,
) *FulfillmentProcessor {
	interval := cfg.FulfillmentInterval
	if interval <= 0 {
		interval = time.Minute
	}

	return &FulfillmentProcessor{
		flow:     flow,
		lock:     newSchedulerLock(rc, "groupbuy:lock:fulfillment", cfg.LockTTL),
		logger:   newSchedulerLogger("fulfillment ", logCfg, cfg.LogPath),
		interval: interval,
	}
}

// Start launches the processor loop in a background goroutine and returns a
// stop function
func (p *FulfillmentProcessor) Start(parent context.Context) func() {
	ctx, cancel := context.WithCancel(parent)

	go func() {
		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()

		p.RunOnce(ctx)

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				p.RunOnce(ctx)
			}
		}
	}()

	return cancel
}

// RunOnce performs a single reconciliation pass
func (p *FulfillmentProcessor) RunOnce(ctx context.Context) {
	if !p.lock.TryAcquire(ctx) {
		return
	}
	defer p.lock.Release(ctx)

	processed, closed, err := p.flow.ProcessGoalReachedCampaigns(ctx)
	if err != nil {
		p.logger.Printf("fulfillment pass failed after %d campaigns: %v", processed, err)
		return
	}
	for i := 0; i < closed; i++ {
		middleware.RecordCampaignFinalized("completed")
	}
	if processed > 0 {
		p.logger.Printf("fulfillment pass processed %d campaigns, closed %d", processed, closed)
	}
}
