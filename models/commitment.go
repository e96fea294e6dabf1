package models

import (
	"database/sql/driver"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/taleroad/groupbuy-engine/utils"
	"gorm.io/gorm"
)

// CommitmentStatus represents the lifecycle status of a single pledge
type CommitmentStatus string

const (
	CommitmentStatusUnpaid        CommitmentStatus = "committed_unpaid"
	CommitmentStatusPaid          CommitmentStatus = "committed_paid"
	CommitmentStatusPaymentFailed CommitmentStatus = "payment_failed"
	CommitmentStatusCancelled     CommitmentStatus = "cancelled"
	CommitmentStatusCompleted     CommitmentStatus = "completed"
	CommitmentStatusWindowExpired CommitmentStatus = "payment_window_expired"
	CommitmentStatusRefunded      CommitmentStatus = "refunded"
)

// String returns the string representation of the status
func (s CommitmentStatus) String() string {
	return string(s)
}

// Valid checks if the status is valid
func (s CommitmentStatus) Valid() bool {
	switch s {
	case CommitmentStatusUnpaid, CommitmentStatusPaid, CommitmentStatusPaymentFailed,
		CommitmentStatusCancelled, CommitmentStatusCompleted,
		CommitmentStatusWindowExpired, CommitmentStatusRefunded:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether the commitment is immutable
func (s CommitmentStatus) IsTerminal() bool {
	switch s {
	case CommitmentStatusPaymentFailed, CommitmentStatusCancelled,
		CommitmentStatusCompleted, CommitmentStatusWindowExpired,
		CommitmentStatusRefunded:
		return true
	default:
		return false
	}
}

// Counts reports whether the commitment's quantity counts toward the
// campaign's committed counter. Cancelled, expired, failed and refunded
// quantities never count.
func (s CommitmentStatus) Counts() bool {
	switch s {
	case CommitmentStatusUnpaid, CommitmentStatusPaid, CommitmentStatusCompleted:
		return true
	default:
		return false
	}
}

// Scan implements the sql.Scanner interface for CommitmentStatus
func (s *CommitmentStatus) Scan(value any) error {
	if value == nil {
		*s = ""
		return nil
	}

	switch v := value.(type) {
	case string:
		*s = CommitmentStatus(v)
	case []byte:
		*s = CommitmentStatus(string(v))
	default:
		return fmt.Errorf("cannot scan %T into CommitmentStatus", value)
	}

	return nil
}

// Value implements the driver.Valuer interface for CommitmentStatus
func (s CommitmentStatus) Value() (driver.Value, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("invalid CommitmentStatus: %s", s)
	}
	return string(s), nil
}

// Commitment represents one user's pledge of quantity against a campaign.
//
// UnitPrice is frozen at pledge time from the campaign's discount price and
// is never recomputed afterwards.
type Commitment struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	UUID       uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:uk_commitments_uuid" json:"uuid"`
	CampaignID uint      `gorm:"not null;index:idx_commitments_campaign_id" json:"campaign_id"`
	UserID     uint      `gorm:"not null;index:idx_commitments_user_id" json:"user_id"`

	Quantity  int    `gorm:"not null" json:"quantity"`
	UnitPrice uint64 `gorm:"not null" json:"unit_price"`

	Status        CommitmentStatus `gorm:"type:varchar(30);not null;default:'committed_unpaid';index:idx_commitments_status" json:"status"`
	FailureReason *string          `gorm:"type:text" json:"failure_reason,omitempty"`

	// Payment linkage
	PaymentReference *string    `gorm:"type:varchar(255);index" json:"payment_reference,omitempty"`
	PaymentDeadline  *time.Time `gorm:"index:idx_commitments_payment_deadline" json:"payment_deadline,omitempty"`
	OrderID          *string    `gorm:"type:varchar(255)" json:"order_id,omitempty"`

	CreatedAt time.Time  `gorm:"default:(CURRENT_TIMESTAMP AT TIME ZONE 'UTC')" json:"created_at"`
	UpdatedAt *time.Time `json:"updated_at,omitempty"`

	// Relations
	Campaign *Campaign `gorm:"foreignKey:CampaignID;references:ID" json:"campaign,omitempty"`
}

// TableName returns the table name for the model
func (Commitment) TableName() string {
	return "commitments"
}

// BeforeCreate is called before creating a new record
func (c *Commitment) BeforeCreate(tx *gorm.DB) error {
	if c.UUID == uuid.Nil {
		c.UUID = uuid.New()
	}
	if c.Status == "" {
		c.Status = CommitmentStatusUnpaid
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = utils.UTCNow()
	}
	return nil
}

// BeforeUpdate is called before updating a record
func (c *Commitment) BeforeUpdate(tx *gorm.DB) error {
	now := utils.UTCNow()
	c.UpdatedAt = &now
	return nil
}

// CanTransitionTo checks if the commitment can transition to the given status
func (c *Commitment) CanTransitionTo(newStatus CommitmentStatus) bool {
	switch c.Status {
	case CommitmentStatusUnpaid:
		return newStatus == CommitmentStatusPaid ||
			newStatus == CommitmentStatusPaymentFailed ||
			newStatus == CommitmentStatusCancelled ||
			newStatus == CommitmentStatusWindowExpired
	case CommitmentStatusPaid:
		return newStatus == CommitmentStatusCompleted ||
			newStatus == CommitmentStatusCancelled ||
			newStatus == CommitmentStatusRefunded
	default:
		return false
	}
}

// PaymentOverdue reports whether the commitment's individual payment deadline
// has passed while it is still unpaid
func (c *Commitment) PaymentOverdue(now time.Time) bool {
	return c.Status == CommitmentStatusUnpaid &&
		c.PaymentDeadline != nil &&
		now.After(*c.PaymentDeadline)
}

// CommitmentFilter represents filter criteria for commitments
type CommitmentFilter struct {
	ID            *uint             `json:"id,omitempty"`
	UUID          *uuid.UUID        `json:"uuid,omitempty"`
	CampaignID    *uint             `json:"campaign_id,omitempty"`
	UserID        *uint             `json:"user_id,omitempty"`
	Status        *CommitmentStatus `json:"status,omitempty"`
	CreatedAfter  *time.Time        `json:"created_after,omitempty"`
	CreatedBefore *time.Time        `json:"created_before,omitempty"`
}
