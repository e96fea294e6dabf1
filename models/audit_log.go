// Package models contains domain entities and business models for the group-buy engine
package models

import (
	"encoding/json"
	"time"
)

type AuditLog struct {
	ID           uint            `gorm:"primaryKey" json:"id"`
	UserID       *uint           `gorm:"index:idx_audit_user_id" json:"user_id,omitempty"`
	CampaignID   *uint           `gorm:"index:idx_audit_campaign_id" json:"campaign_id,omitempty"`
	CommitmentID *uint           `gorm:"index:idx_audit_commitment_id" json:"commitment_id,omitempty"`
	Action       string          `gorm:"type:varchar(50);not null;index:idx_audit_action" json:"action"`
	Description  *string         `gorm:"type:text" json:"description,omitempty"`
	RequestID    *string         `gorm:"size:255;index:idx_audit_request_id" json:"request_id,omitempty"`
	Metadata     json.RawMessage `gorm:"type:jsonb" json:"metadata,omitempty"`
	Success      *bool           `gorm:"default:true;index:idx_audit_success" json:"success"`
	ErrorMessage *string         `gorm:"type:text" json:"error_message,omitempty"`
	CreatedAt    time.Time       `gorm:"default:CURRENT_TIMESTAMP;index:idx_audit_created_at" json:"created_at"`
}

func (AuditLog) TableName() string {
	return "audit_log"
}

// Audit action constants
const (
	AuditActionCampaignCreated        = "campaign_created"
	AuditActionCampaignActivated      = "campaign_activated"
	AuditActionCampaignCancelled      = "campaign_cancelled"
	AuditActionCampaignForceSucceeded = "campaign_force_succeeded"
	AuditActionCampaignGoalReached    = "campaign_goal_reached"
	AuditActionCampaignCompleted      = "campaign_completed"
	AuditActionCampaignExpired        = "campaign_expired"
	AuditActionCommitmentCreated      = "commitment_created"
	AuditActionCommitmentRejected     = "commitment_rejected"
	AuditActionCommitmentPaid         = "commitment_paid"
	AuditActionCommitmentFailed       = "commitment_payment_failed"
	AuditActionCommitmentCancelled    = "commitment_cancelled"
	AuditActionCommitmentExpired      = "commitment_window_expired"
	AuditActionCommitmentRefunded     = "commitment_refunded"
	AuditActionOrderCreated           = "order_created"
	AuditActionOrderCreationFailed    = "order_creation_failed"
	AuditActionFulfillmentRun         = "fulfillment_run"
)

// AuditLogFilter represents filter criteria for audit log queries
type AuditLogFilter struct {
	ID            *uint
	UserID        *uint
	CampaignID    *uint
	CommitmentID  *uint
	Action        *string
	Success       *bool
	RequestID     *string
	CreatedAfter  *time.Time
	CreatedBefore *time.Time
}

func (a *AuditLog) IsFailed() bool {
	return a.Success != nil && !*a.Success
}
