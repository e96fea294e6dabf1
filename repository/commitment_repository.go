package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/taleroad/groupbuy-engine/models"
	"github.com/taleroad/groupbuy-engine/utils"
	"gorm.io/gorm"
)

// CommitmentRepositoryImpl implements CommitmentRepository interface
type CommitmentRepositoryImpl struct {
	*BaseRepository[models.Commitment, models.CommitmentFilter]
}

// NewCommitmentRepository creates a new commitment repository
func NewCommitmentRepository(db *gorm.DB) CommitmentRepository {
	return &CommitmentRepositoryImpl{
		BaseRepository: NewBaseRepository[models.Commitment, models.CommitmentFilter](db),
	}
}

// ByUUID finds a commitment by UUID
func (r *CommitmentRepositoryImpl) ByUUID(ctx context.Context, uuid string) (*models.Commitment, error) {
	db := r.getDB(ctx)
	var commitment models.Commitment
	err := db.Where("uuid = ?", uuid).Last(&commitment).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &commitment, nil
}

// UpdateStatusIf performs a compare-and-set status transition. The WHERE on
// the source status makes each transition single-shot: a second caller (or a
// retry) matches zero rows and gets ErrStatusConflict instead of applying the
// transition twice.
func (r *CommitmentRepositoryImpl) UpdateStatusIf(ctx context.Context, commitmentID uint, from, to models.CommitmentStatus, updates map[string]any) error {
	db := r.getDB(ctx)

	values := map[string]any{
		"status":     to,
		"updated_at": utils.UTCNow(),
	}
	for k, v := range updates {
		values[k] = v
	}

	res := db.Model(&models.Commitment{}).
		Where("id = ? AND status = ?", commitmentID, from).
		Updates(values)
	if res.Error != nil {
		return fmt.Errorf("failed to update commitment status: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrStatusConflict
	}
	return nil
}

// SetPaymentReference stores the gateway reference of an open payment session
func (r *CommitmentRepositoryImpl) SetPaymentReference(ctx context.Context, commitmentID uint, reference string) error {
	db := r.getDB(ctx)

	res := db.Model(&models.Commitment{}).
		Where("id = ?", commitmentID).
		Updates(map[string]any{
			"payment_reference": reference,
			"updated_at":        utils.UTCNow(),
		})
	if res.Error != nil {
		return fmt.Errorf("failed to set payment reference: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrStatusConflict
	}
	return nil
}

// ListByCampaignAndStatuses returns the campaign's commitments in the given statuses
func (r *CommitmentRepositoryImpl) ListByCampaignAndStatuses(ctx context.Context, campaignID uint, statuses []models.CommitmentStatus) ([]*models.Commitment, error) {
	db := r.getDB(ctx)

	var commitments []*models.Commitment
	query := db.Where("campaign_id = ?", campaignID)
	if len(statuses) > 0 {
		query = query.Where("status IN ?", statuses)
	}
	err := query.Order("created_at ASC").Find(&commitments).Error
	if err != nil {
		return nil, err
	}
	return commitments, nil
}

// ListUnpaidPastDeadline returns unpaid commitments whose individual payment
// deadline has passed, regardless of campaign state
func (r *CommitmentRepositoryImpl) ListUnpaidPastDeadline(ctx context.Context, now time.Time, limit int) ([]*models.Commitment, error) {
	db := r.getDB(ctx)

	var commitments []*models.Commitment
	query := db.Where("status = ? AND payment_deadline IS NOT NULL AND payment_deadline <= ?",
		models.CommitmentStatusUnpaid, now).
		Order("payment_deadline ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&commitments).Error; err != nil {
		return nil, err
	}
	return commitments, nil
}

// ListPaidOnClosedCampaigns returns paid commitments whose campaign was
// cancelled or failed, so their refunds can be retried until they land
func (r *CommitmentRepositoryImpl) ListPaidOnClosedCampaigns(ctx context.Context, limit int) ([]*models.Commitment, error) {
	db := r.getDB(ctx)

	var commitments []*models.Commitment
	query := db.
		Joins("JOIN group_buy_campaigns ON group_buy_campaigns.id = commitments.campaign_id").
		Where("commitments.status = ?", models.CommitmentStatusPaid).
		Where("group_buy_campaigns.status IN ?", []models.CampaignStatus{
			models.CampaignStatusCancelled,
			models.CampaignStatusFailed,
		}).
		Order("commitments.created_at ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&commitments).Error; err != nil {
		return nil, err
	}
	return commitments, nil
}

// StampPaymentDeadlines fills missing payment deadlines of unpaid commitments.
// Only NULL deadlines are touched: pay_to_book pledges already carry their own
// deadline from creation time.
func (r *CommitmentRepositoryImpl) StampPaymentDeadlines(ctx context.Context, campaignID uint, deadline time.Time) (int64, error) {
	db := r.getDB(ctx)

	res := db.Model(&models.Commitment{}).
		Where("campaign_id = ? AND status = ? AND payment_deadline IS NULL",
			campaignID, models.CommitmentStatusUnpaid).
		Updates(map[string]any{
			"payment_deadline": deadline,
			"updated_at":       utils.UTCNow(),
		})
	if res.Error != nil {
		return 0, fmt.Errorf("failed to stamp payment deadlines: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// SumQuantityByStatuses sums pledged quantity over the given statuses
func (r *CommitmentRepositoryImpl) SumQuantityByStatuses(ctx context.Context, campaignID uint, statuses []models.CommitmentStatus) (int, error) {
	db := r.getDB(ctx)

	var total *int
	err := db.Model(&models.Commitment{}).
		Select("SUM(quantity)").
		Where("campaign_id = ? AND status IN ?", campaignID, statuses).
		Scan(&total).Error
	if err != nil {
		return 0, err
	}
	if total == nil {
		return 0, nil
	}
	return *total, nil
}

// ByFilter retrieves commitments based on filter criteria
func (r *CommitmentRepositoryImpl) ByFilter(ctx context.Context, filter models.CommitmentFilter, orderBy string, limit, offset int) ([]*models.Commitment, error) {
	db := r.getDB(ctx)
	var commitments []*models.Commitment

	query := db.Model(&models.Commitment{})
	query = r.applyFilter(query, filter)

	if orderBy != "" {
		query = query.Order(orderBy)
	}
	if limit > 0 {
		query = query.Limit(limit)
	}
	if offset > 0 {
		query = query.Offset(offset)
	}

	err := query.Find(&commitments).Error
	if err != nil {
		return nil, err
	}
	return commitments, nil
}

// Count returns the number of commitments matching the filter
func (r *CommitmentRepositoryImpl) Count(ctx context.Context, filter models.CommitmentFilter) (int64, error) {
	db := r.getDB(ctx)
	var count int64

	query := db.Model(&models.Commitment{})
	query = r.applyFilter(query, filter)

	err := query.Count(&count).Error
	if err != nil {
		return 0, err
	}
	return count, nil
}

// applyFilter applies the filter to the query
func (r *CommitmentRepositoryImpl) applyFilter(query *gorm.DB, filter models.CommitmentFilter) *gorm.DB {
	if filter.ID != nil {
		query = query.Where("id = ?", *filter.ID)
	}
	if filter.UUID != nil {
		query = query.Where("uuid = ?", *filter.UUID)
	}
	if filter.CampaignID != nil {
		query = query.Where("campaign_id = ?", *filter.CampaignID)
	}
	if filter.UserID != nil {
		query = query.Where("user_id = ?", *filter.UserID)
	}
	if filter.Status != nil {
		query = query.Where("status = ?", *filter.Status)
	}
	if filter.CreatedAfter != nil {
		query = query.Where("created_at > ?", *filter.CreatedAfter)
	}
	if filter.CreatedBefore != nil {
		query = query.Where("created_at < ?", *filter.CreatedBefore)
	}
	return query
}
