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

// ExpirySweeper periodically fails active campaigns whose deadline passed
// without the goal being met, and expires unpaid commitments whose payment
// window lapsed.
type ExpirySweeper struct {
	flow      businessflow.FulfillmentFlow
	lock      *schedulerLock
	logger    *log.Logger
	interval  time.Duration
	batchSize int
}

// NewExpirySweeper creates a new expiry sweeper
func NewExpirySweeper(
	flow businessflow.FulfillmentFlow,
	rc *redis.Client,
	cfg config.SchedulerConfig,
	logCfg config.LoggingConfig,
) *ExpirySweeper {
	interval := cfg.SweepInterval
	if interval <= 0 {
		interval = time.Minute
	}
	batchSize := cfg.SweepBatchSize
	if batchSize <= 0 {
		batchSize = 200
	}

	return &ExpirySweeper{
		flow:      flow,
		lock:      newSchedulerLock(rc, "groupbuy:lock:sweep", cfg.LockTTL),
		logger:    newSchedulerLogger("sweeper ", logCfg, cfg.LogPath),
		interval:  interval,
		batchSize: batchSize,
	}
}

// Start launches the sweeper loop in a background goroutine and returns a
// stop function
func (s *ExpirySweeper) Start(parent context.Context) func() {
	ctx, cancel := context.WithCancel(parent)

	go func() {
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		s.RunOnce(ctx)

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.RunOnce(ctx)
			}
		}
	}()

	return cancel
}

// RunOnce performs a single sweep pass
func (s *ExpirySweeper) RunOnce(ctx context.Context) {
	if !s.lock.TryAcquire(ctx) {
		return
	}
	defer s.lock.Release(ctx)

	failed, err := s.flow.SweepExpiredCampaigns(ctx, s.batchSize)
	if err != nil {
		s.logger.Printf("campaign sweep failed after %d campaigns: %v", failed, err)
	} else if failed > 0 {
		for i := 0; i < failed; i++ {
			middleware.RecordCampaignFinalized("failed_expired")
		}
		s.logger.Printf("campaign sweep failed %d expired campaigns", failed)
	}

	expired, err := s.flow.SweepOverduePaymentWindows(ctx, s.batchSize)
	if err != nil {
		s.logger.Printf("payment window sweep failed after %d commitments: %v", expired, err)
	} else if expired > 0 {
		s.logger.Printf("payment window sweep expired %d commitments", expired)
	}

	refunded, err := s.flow.SweepStrandedRefunds(ctx, s.batchSize)
	if err != nil {
		s.logger.Printf("stranded refund sweep failed after %d commitments: %v", refunded, err)
	} else if refunded > 0 {
		s.logger.Printf("stranded refund sweep refunded %d commitments", refunded)
	}
}
