package utils

import (
	"time"
)

// Campaign limits
const (
	// MaxGoalQuantity caps how many units a single campaign may target
	MaxGoalQuantity = 100000

	// MaxCommitmentQuantity caps a single pledge
	MaxCommitmentQuantity = 1000

	// MinPaymentWindowHours is the smallest payment window a campaign may declare
	MinPaymentWindowHours = 1

	// MaxPaymentWindowHours is the largest payment window a campaign may declare (14 days)
	MaxPaymentWindowHours = 14 * 24
)

// Scheduler defaults
const (
	// DefaultFulfillmentInterval is how often the fulfillment processor reconciles goal-reached campaigns
	DefaultFulfillmentInterval = time.Minute

	// DefaultSweepInterval is how often the expiry sweeper scans for overdue campaigns and commitments
	DefaultSweepInterval = time.Minute

	// SchedulerLockTTL bounds how long a scheduler may hold a campaign lock
	SchedulerLockTTL = 2 * time.Minute

	// SweepBatchSize limits how many rows each sweep pass claims
	SweepBatchSize = 200
)

// HTTP constants
const (
	// CORSMaxAge is the maximum age for CORS preflight requests (24 hours)
	CORSMaxAge = 86400
)
