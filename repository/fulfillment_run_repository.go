package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/taleroad/groupbuy-engine/models"
	"gorm.io/gorm"
)

// FulfillmentRunRepositoryImpl implements FulfillmentRunRepository interface
type FulfillmentRunRepositoryImpl struct {
	*BaseRepository[models.FulfillmentRun, models.FulfillmentRunFilter]
}

// NewFulfillmentRunRepository creates a new fulfillment run repository
func NewFulfillmentRunRepository(db *gorm.DB) FulfillmentRunRepository {
	return &FulfillmentRunRepositoryImpl{
		BaseRepository: NewBaseRepository[models.FulfillmentRun, models.FulfillmentRunFilter](db),
	}
}

// Update persists the mutable fields of a run record
func (r *FulfillmentRunRepositoryImpl) Update(ctx context.Context, run *models.FulfillmentRun) error {
	db, shouldCommit, err := r.getDBForWrite(ctx)
	if err != nil {
		return err
	}

	if shouldCommit {
		defer func() {
			if err != nil {
				db.Rollback()
			} else {
				db.Commit()
			}
		}()
	}

	err = db.Model(&models.FulfillmentRun{}).
		Where("id = ?", run.ID).
		Updates(map[string]any{
			"finalized_commitment_ids": run.FinalizedCommitmentIDs,
			"expired_commitment_ids":   run.ExpiredCommitmentIDs,
			"paid_count":               run.PaidCount,
			"unpaid_count":             run.UnpaidCount,
			"order_failures":           run.OrderFailures,
			"reminders_sent":           run.RemindersSent,
			"campaign_closed":          run.CampaignClosed,
			"last_error":               run.LastError,
			"finished_at":              run.FinishedAt,
		}).Error
	if err != nil {
		return fmt.Errorf("failed to update fulfillment run: %w", err)
	}
	return nil
}

// LatestByCampaignID returns the most recent run for a campaign
func (r *FulfillmentRunRepositoryImpl) LatestByCampaignID(ctx context.Context, campaignID uint) (*models.FulfillmentRun, error) {
	db := r.getDB(ctx)
	var run models.FulfillmentRun
	err := db.Where("campaign_id = ?", campaignID).
		Order("started_at DESC").
		First(&run).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &run, nil
}

// ByFilter retrieves fulfillment runs based on filter criteria
func (r *FulfillmentRunRepositoryImpl) ByFilter(ctx context.Context, filter models.FulfillmentRunFilter, orderBy string, limit, offset int) ([]*models.FulfillmentRun, error) {
	db := r.getDB(ctx)
	var runs []*models.FulfillmentRun

	query := db.Model(&models.FulfillmentRun{})
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

	err := query.Find(&runs).Error
	if err != nil {
		return nil, err
	}
	return runs, nil
}

// Count returns the number of runs matching the filter
func (r *FulfillmentRunRepositoryImpl) Count(ctx context.Context, filter models.FulfillmentRunFilter) (int64, error) {
	db := r.getDB(ctx)
	var count int64

	query := db.Model(&models.FulfillmentRun{})
	query = r.applyFilter(query, filter)

	err := query.Count(&count).Error
	if err != nil {
		return 0, err
	}
	return count, nil
}

// applyFilter applies the filter to the query
func (r *FulfillmentRunRepositoryImpl) applyFilter(query *gorm.DB, filter models.FulfillmentRunFilter) *gorm.DB {
	if filter.ID != nil {
		query = query.Where("id = ?", *filter.ID)
	}
	if filter.CampaignID != nil {
		query = query.Where("campaign_id = ?", *filter.CampaignID)
	}
	if filter.StartedAfter != nil {
		query = query.Where("started_at > ?", *filter.StartedAfter)
	}
	if filter.StartedBefore != nil {
		query = query.Where("started_at < ?", *filter.StartedBefore)
	}
	return query
}
