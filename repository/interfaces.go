// Package repository provides data access layer implementations and interfaces for database operations
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/taleroad/groupbuy-engine/models"
)

// RepositoryContext key for transaction in context
type contextKey string

const TxContextKey contextKey = "tx"

// Ledger rejection errors. The quantity ledger reports why a reservation was
// refused; callers translate these into the public error taxonomy.
var (
	ErrCampaignNotFound  = errors.New("campaign not found")
	ErrCampaignNotActive = errors.New("campaign_not_active")
	ErrGoalFull          = errors.New("would_exceed_goal")
	ErrStatusConflict    = errors.New("status transition conflict")
)

// ReservationResult is the outcome of a successful atomic quantity reservation.
// NewQuantity is the counter value the reserving statement itself produced;
// the goal check must be a pure function of this value, never of a re-read.
type ReservationResult struct {
	NewQuantity     int
	GoalQuantity    int
	RemainingSpots  int
	GoalJustReached bool
}

// ReleaseResult is the outcome of a quantity release.
type ReleaseResult struct {
	NewQuantity int
}

type Repository[T any, F any] interface {
	ByID(ctx context.Context, id uint) (*T, error)
	ByFilter(ctx context.Context, filter F, orderBy string, limit, offset int) ([]*T, error)
	Save(ctx context.Context, entity *T) error
	SaveBatch(ctx context.Context, entities []*T) error
	Count(ctx context.Context, filter F) (int64, error)
}

// CampaignRepository defines operations for group-buy campaigns, including
// the atomic quantity ledger.
type CampaignRepository interface {
	Repository[models.Campaign, models.CampaignFilter]
	ByUUID(ctx context.Context, uuid string) (*models.Campaign, error)

	// ReserveQuantity performs the single atomic compare-and-increment of the
	// committed counter. It rejects with ErrGoalFull, ErrCampaignNotActive or
	// ErrCampaignNotFound and never leaves a partial increment behind.
	ReserveQuantity(ctx context.Context, campaignID uint, amount int) (*ReservationResult, error)

	// ReleaseQuantity atomically decrements the committed counter, clamped at
	// zero. Callers must guard it with the commitment's own status transition
	// so a given commitment releases at most once.
	ReleaseQuantity(ctx context.Context, campaignID uint, amount int) (*ReleaseResult, error)

	// MarkGoalReached transitions active → goal_reached and stamps the payment
	// deadline, as a single compare-and-set statement.
	MarkGoalReached(ctx context.Context, campaignID uint, paymentDeadline time.Time) error

	// ForceSucceed fills the counter to the goal and transitions to
	// goal_reached in one statement, preserving the counter invariant.
	ForceSucceed(ctx context.Context, campaignID uint, paymentDeadline time.Time) (*ReservationResult, error)

	// TransitionStatus performs a compare-and-set status change with a version
	// bump. Returns ErrStatusConflict when the source status no longer matches.
	TransitionStatus(ctx context.Context, campaignID uint, from, to models.CampaignStatus) error

	ListExpiredActive(ctx context.Context, now time.Time, limit int) ([]*models.Campaign, error)
	ListGoalReached(ctx context.Context, limit int) ([]*models.Campaign, error)
}

// CommitmentRepository defines operations for commitments
type CommitmentRepository interface {
	Repository[models.Commitment, models.CommitmentFilter]
	ByUUID(ctx context.Context, uuid string) (*models.Commitment, error)

	// UpdateStatusIf performs a compare-and-set status transition, optionally
	// applying extra column updates in the same statement. Returns
	// ErrStatusConflict when the commitment is not in the expected source
	// status; this is what makes release paths idempotent.
	UpdateStatusIf(ctx context.Context, commitmentID uint, from, to models.CommitmentStatus, updates map[string]any) error

	// SetPaymentReference stores the gateway reference of an open payment
	// session on an existing commitment row.
	SetPaymentReference(ctx context.Context, commitmentID uint, reference string) error

	ListByCampaignAndStatuses(ctx context.Context, campaignID uint, statuses []models.CommitmentStatus) ([]*models.Commitment, error)
	ListUnpaidPastDeadline(ctx context.Context, now time.Time, limit int) ([]*models.Commitment, error)

	// ListPaidOnClosedCampaigns returns paid commitments stranded on
	// cancelled or failed campaigns, waiting for a refund retry.
	ListPaidOnClosedCampaigns(ctx context.Context, limit int) ([]*models.Commitment, error)

	// StampPaymentDeadlines fills the payment deadline of unpaid commitments
	// that do not yet carry one (pay_on_success pledges once the goal is
	// reached). Returns the number of stamped rows.
	StampPaymentDeadlines(ctx context.Context, campaignID uint, deadline time.Time) (int64, error)

	// SumQuantityByStatuses sums pledged quantity over the given statuses,
	// used to audit the ledger invariant.
	SumQuantityByStatuses(ctx context.Context, campaignID uint, statuses []models.CommitmentStatus) (int, error)
}

// FulfillmentRunRepository defines operations for fulfillment run records
type FulfillmentRunRepository interface {
	Repository[models.FulfillmentRun, models.FulfillmentRunFilter]
	Update(ctx context.Context, run *models.FulfillmentRun) error
	LatestByCampaignID(ctx context.Context, campaignID uint) (*models.FulfillmentRun, error)
}

// AuditLogRepository defines operations for audit logs
type AuditLogRepository interface {
	Repository[models.AuditLog, models.AuditLogFilter]
	ByCampaignID(ctx context.Context, campaignID uint, limit, offset int) ([]*models.AuditLog, error)
}
