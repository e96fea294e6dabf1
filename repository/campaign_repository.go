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

// CampaignRepositoryImpl implements CampaignRepository interface
type CampaignRepositoryImpl struct {
	*BaseRepository[models.Campaign, models.CampaignFilter]
}

// NewCampaignRepository creates a new campaign repository
func NewCampaignRepository(db *gorm.DB) CampaignRepository {
	return &CampaignRepositoryImpl{
		BaseRepository: NewBaseRepository[models.Campaign, models.CampaignFilter](db),
	}
}

// ByUUID finds a campaign by UUID
func (r *CampaignRepositoryImpl) ByUUID(ctx context.Context, uuid string) (*models.Campaign, error) {
	db := r.getDB(ctx)
	var campaign models.Campaign
	err := db.Where("uuid = ?", uuid).Last(&campaign).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &campaign, nil
}

// ReserveQuantity atomically increments the committed counter of an active,
// unexpired campaign, rejecting any increment that would exceed the goal.
// The check and the increment are one conditional UPDATE; there is no
// read-then-write window for concurrent reservations to race through.
func (r *CampaignRepositoryImpl) ReserveQuantity(ctx context.Context, campaignID uint, amount int) (*ReservationResult, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("reserve amount must be positive, got %d", amount)
	}

	db := r.getDB(ctx)
	now := utils.UTCNow()

	var row struct {
		CurrentQuantity int `json:"current_quantity"`
		GoalQuantity    int `json:"goal_quantity"`
	}
	res := db.Raw(`
		UPDATE group_buy_campaigns
		SET current_quantity = current_quantity + ?,
		    version = version + 1,
		    updated_at = ?
		WHERE id = ?
		  AND status = ?
		  AND expiry_at > ?
		  AND current_quantity + ? <= goal_quantity
		RETURNING current_quantity, goal_quantity
	`, amount, now, campaignID, models.CampaignStatusActive, now, amount).Scan(&row)
	if res.Error != nil {
		return nil, fmt.Errorf("failed to reserve quantity: %w", res.Error)
	}

	if res.RowsAffected == 0 {
		return nil, r.classifyRejection(ctx, campaignID, amount, now)
	}

	return &ReservationResult{
		NewQuantity:     row.CurrentQuantity,
		GoalQuantity:    row.GoalQuantity,
		RemainingSpots:  row.GoalQuantity - row.CurrentQuantity,
		GoalJustReached: row.CurrentQuantity == row.GoalQuantity,
	}, nil
}

// classifyRejection re-reads the campaign to tell the caller why the
// conditional update matched no row. The re-read is only for the error
// message; it plays no part in the reservation decision itself.
func (r *CampaignRepositoryImpl) classifyRejection(ctx context.Context, campaignID uint, amount int, now time.Time) error {
	campaign, err := r.ByID(ctx, campaignID)
	if err != nil {
		return err
	}
	if campaign == nil {
		return ErrCampaignNotFound
	}
	if campaign.Status != models.CampaignStatusActive || now.After(campaign.ExpiryAt) {
		return ErrCampaignNotActive
	}
	if campaign.CurrentQuantity+amount > campaign.GoalQuantity {
		return ErrGoalFull
	}
	// The row changed between the update and the re-read; treat as a
	// retryable conflict on the caller's side.
	return ErrStatusConflict
}

// ReleaseQuantity atomically decrements the committed counter, clamped at
// zero. Callers tie each release to a commitment status transition so a
// commitment's quantity releases at most once.
func (r *CampaignRepositoryImpl) ReleaseQuantity(ctx context.Context, campaignID uint, amount int) (*ReleaseResult, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("release amount must be positive, got %d", amount)
	}

	db := r.getDB(ctx)

	var row struct {
		CurrentQuantity int `json:"current_quantity"`
	}
	res := db.Raw(`
		UPDATE group_buy_campaigns
		SET current_quantity = GREATEST(current_quantity - ?, 0),
		    version = version + 1,
		    updated_at = ?
		WHERE id = ?
		RETURNING current_quantity
	`, amount, utils.UTCNow(), campaignID).Scan(&row)
	if res.Error != nil {
		return nil, fmt.Errorf("failed to release quantity: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, ErrCampaignNotFound
	}

	return &ReleaseResult{NewQuantity: row.CurrentQuantity}, nil
}

// MarkGoalReached transitions active → goal_reached and stamps the payment
// deadline in one compare-and-set statement.
func (r *CampaignRepositoryImpl) MarkGoalReached(ctx context.Context, campaignID uint, paymentDeadline time.Time) error {
	db := r.getDB(ctx)

	res := db.Model(&models.Campaign{}).
		Where("id = ? AND status = ?", campaignID, models.CampaignStatusActive).
		Updates(map[string]any{
			"status":           models.CampaignStatusGoalReached,
			"payment_deadline": paymentDeadline,
			"version":          gorm.Expr("version + 1"),
			"updated_at":       utils.UTCNow(),
		})
	if res.Error != nil {
		return fmt.Errorf("failed to mark goal reached: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrStatusConflict
	}
	return nil
}

// ForceSucceed fills the counter to the goal and enters goal_reached in a
// single statement, so the counter invariant holds through the override
// exactly as it does through organic accumulation.
func (r *CampaignRepositoryImpl) ForceSucceed(ctx context.Context, campaignID uint, paymentDeadline time.Time) (*ReservationResult, error) {
	db := r.getDB(ctx)

	var row struct {
		CurrentQuantity int `json:"current_quantity"`
		GoalQuantity    int `json:"goal_quantity"`
	}
	res := db.Raw(`
		UPDATE group_buy_campaigns
		SET current_quantity = goal_quantity,
		    status = ?,
		    payment_deadline = ?,
		    version = version + 1,
		    updated_at = ?
		WHERE id = ?
		  AND status = ?
		RETURNING current_quantity, goal_quantity
	`, models.CampaignStatusGoalReached, paymentDeadline, utils.UTCNow(),
		campaignID, models.CampaignStatusActive).Scan(&row)
	if res.Error != nil {
		return nil, fmt.Errorf("failed to force-succeed campaign: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		campaign, err := r.ByID(ctx, campaignID)
		if err != nil {
			return nil, err
		}
		if campaign == nil {
			return nil, ErrCampaignNotFound
		}
		return nil, ErrCampaignNotActive
	}

	return &ReservationResult{
		NewQuantity:     row.CurrentQuantity,
		GoalQuantity:    row.GoalQuantity,
		RemainingSpots:  0,
		GoalJustReached: true,
	}, nil
}

// TransitionStatus performs a compare-and-set status change with a version bump
func (r *CampaignRepositoryImpl) TransitionStatus(ctx context.Context, campaignID uint, from, to models.CampaignStatus) error {
	db := r.getDB(ctx)

	res := db.Model(&models.Campaign{}).
		Where("id = ? AND status = ?", campaignID, from).
		Updates(map[string]any{
			"status":     to,
			"version":    gorm.Expr("version + 1"),
			"updated_at": utils.UTCNow(),
		})
	if res.Error != nil {
		return fmt.Errorf("failed to transition campaign status: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrStatusConflict
	}
	return nil
}

// ListExpiredActive returns active campaigns whose hard deadline has passed
func (r *CampaignRepositoryImpl) ListExpiredActive(ctx context.Context, now time.Time, limit int) ([]*models.Campaign, error) {
	db := r.getDB(ctx)

	var campaigns []*models.Campaign
	query := db.Where("status = ? AND expiry_at <= ?", models.CampaignStatusActive, now).
		Order("expiry_at ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&campaigns).Error; err != nil {
		return nil, err
	}
	return campaigns, nil
}

// ListGoalReached returns campaigns awaiting payment reconciliation
func (r *CampaignRepositoryImpl) ListGoalReached(ctx context.Context, limit int) ([]*models.Campaign, error) {
	db := r.getDB(ctx)

	var campaigns []*models.Campaign
	query := db.Where("status = ?", models.CampaignStatusGoalReached).
		Order("payment_deadline ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&campaigns).Error; err != nil {
		return nil, err
	}
	return campaigns, nil
}

// ByFilter retrieves campaigns based on filter criteria
func (r *CampaignRepositoryImpl) ByFilter(ctx context.Context, filter models.CampaignFilter, orderBy string, limit, offset int) ([]*models.Campaign, error) {
	db := r.getDB(ctx)
	var campaigns []*models.Campaign

	query := db.Model(&models.Campaign{})
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

	err := query.Find(&campaigns).Error
	if err != nil {
		return nil, err
	}
	return campaigns, nil
}

// Count returns the number of campaigns matching the filter
func (r *CampaignRepositoryImpl) Count(ctx context.Context, filter models.CampaignFilter) (int64, error) {
	db := r.getDB(ctx)
	var count int64

	query := db.Model(&models.Campaign{})
	query = r.applyFilter(query, filter)

	err := query.Count(&count).Error
	if err != nil {
		return 0, err
	}
	return count, nil
}

// applyFilter applies the filter to the query
func (r *CampaignRepositoryImpl) applyFilter(query *gorm.DB, filter models.CampaignFilter) *gorm.DB {
	if filter.ID != nil {
		query = query.Where("id = ?", *filter.ID)
	}
	if filter.UUID != nil {
		query = query.Where("uuid = ?", *filter.UUID)
	}
	if filter.ProductID != nil {
		query = query.Where("product_id = ?", *filter.ProductID)
	}
	if filter.Status != nil {
		query = query.Where("status = ?", *filter.Status)
	}
	if filter.PaymentMode != nil {
		query = query.Where("payment_mode = ?", *filter.PaymentMode)
	}
	if filter.ExpiresAfter != nil {
		query = query.Where("expiry_at > ?", *filter.ExpiresAfter)
	}
	if filter.ExpiresBefore != nil {
		query = query.Where("expiry_at < ?", *filter.ExpiresBefore)
	}
	if filter.CreatedAfter != nil {
		query = query.Where("created_at > ?", *filter.CreatedAfter)
	}
	if filter.CreatedBefore != nil {
		query = query.Where("created_at < ?", *filter.CreatedBefore)
	}
	return query
}
