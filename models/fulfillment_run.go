package models

import (
	"time"

	"github.com/lib/pq"
	"github.com/taleroad/groupbuy-engine/utils"
	"gorm.io/gorm"
)

// FulfillmentRun records one reconciliation pass of the fulfillment processor
// over a single goal-reached campaign. The processor is a loop, not a one-shot
// transaction; these rows make each pass auditable and retries observable.
type FulfillmentRun struct {
	ID         uint `gorm:"primaryKey" json:"id"`
	CampaignID uint `gorm:"not null;index:idx_fulfillment_runs_campaign_id" json:"campaign_id"`

	FinalizedCommitmentIDs pq.Int64Array `gorm:"type:bigint[]" json:"finalized_commitment_ids"`
	ExpiredCommitmentIDs   pq.Int64Array `gorm:"type:bigint[]" json:"expired_commitment_ids"`

	PaidCount      int  `gorm:"not null;default:0" json:"paid_count"`
	UnpaidCount    int  `gorm:"not null;default:0" json:"unpaid_count"`
	OrderFailures  int  `gorm:"not null;default:0" json:"order_failures"`
	RemindersSent  int  `gorm:"not null;default:0" json:"reminders_sent"`
	CampaignClosed bool `gorm:"not null;default:false" json:"campaign_closed"`

	LastError *string `gorm:"type:text" json:"last_error,omitempty"`

	StartedAt  time.Time  `gorm:"not null" json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`

	// Relations
	Campaign *Campaign `gorm:"foreignKey:CampaignID;references:ID" json:"campaign,omitempty"`
}

// TableName returns the table name for the model
func (FulfillmentRun) TableName() string {
	return "fulfillment_runs"
}

// BeforeCreate is called before creating a new record
func (r *FulfillmentRun) BeforeCreate(tx *gorm.DB) error {
	if r.StartedAt.IsZero() {
		r.StartedAt = utils.UTCNow()
	}
	if r.FinalizedCommitmentIDs == nil {
		r.FinalizedCommitmentIDs = pq.Int64Array{}
	}
	if r.ExpiredCommitmentIDs == nil {
		r.ExpiredCommitmentIDs = pq.Int64Array{}
	}
	return nil
}

// FulfillmentRunFilter represents filter criteria for fulfillment runs
type FulfillmentRunFilter struct {
	ID            *uint      `json:"id,omitempty"`
	CampaignID    *uint      `json:"campaign_id,omitempty"`
	StartedAfter  *time.Time `json:"started_after,omitempty"`
	StartedBefore *time.Time `json:"started_before,omitempty"`
}
