package models

import (
	"database/sql/driver"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/taleroad/groupbuy-engine/utils"
	"gorm.io/gorm"
)

// CampaignStatus represents the lifecycle status of a group-buy campaign
type CampaignStatus string

const (
	CampaignStatusDraft       CampaignStatus = "draft"
	CampaignStatusActive      CampaignStatus = "active"
	CampaignStatusGoalReached CampaignStatus = "goal_reached"
	CampaignStatusCompleted   CampaignStatus = "completed"
	CampaignStatusFailed      CampaignStatus = "failed_expired"
	CampaignStatusCancelled   CampaignStatus = "cancelled"
)

// String returns the string representation of the status
func (s CampaignStatus) String() string {
	return string(s)
}

// Valid checks if the status is valid
func (s CampaignStatus) Valid() bool {
	switch s {
	case CampaignStatusDraft, CampaignStatusActive, CampaignStatusGoalReached,
		CampaignStatusCompleted, CampaignStatusFailed, CampaignStatusCancelled:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether no further mutation of the campaign is permitted
func (s CampaignStatus) IsTerminal() bool {
	switch s {
	case CampaignStatusCompleted, CampaignStatusFailed, CampaignStatusCancelled:
		return true
	default:
		return false
	}
}

// Scan implements the sql.Scanner interface for CampaignStatus
func (s *CampaignStatus) Scan(value any) error {
	if value == nil {
		*s = ""
		return nil
	}

	switch v := value.(type) {
	case string:
		*s = CampaignStatus(v)
	case []byte:
		*s = CampaignStatus(string(v))
	default:
		return fmt.Errorf("cannot scan %T into CampaignStatus", value)
	}

	return nil
}

// Value implements the driver.Valuer interface for CampaignStatus
func (s CampaignStatus) Value() (driver.Value, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("invalid CampaignStatus: %s", s)
	}
	return string(s), nil
}

// PaymentMode determines when a pledge must be paid
type PaymentMode string

const (
	// PaymentModePayToBook charges immediately on commit; the pledge must be
	// paid within the payment window or it never counts toward a successful goal
	PaymentModePayToBook PaymentMode = "pay_to_book"

	// PaymentModePayOnSuccess lets users pledge without upfront payment;
	// payment is only required once the goal is reached
	PaymentModePayOnSuccess PaymentMode = "pay_on_success"
)

// String returns the string representation of the payment mode
func (m PaymentMode) String() string {
	return string(m)
}

// Valid checks if the payment mode is valid
func (m PaymentMode) Valid() bool {
	return m == PaymentModePayToBook || m == PaymentModePayOnSuccess
}

// Scan implements the sql.Scanner interface for PaymentMode
func (m *PaymentMode) Scan(value any) error {
	if value == nil {
		*m = ""
		return nil
	}

	switch v := value.(type) {
	case string:
		*m = PaymentMode(v)
	case []byte:
		*m = PaymentMode(string(v))
	default:
		return fmt.Errorf("cannot scan %T into PaymentMode", value)
	}

	return nil
}

// Value implements the driver.Valuer interface for PaymentMode
func (m PaymentMode) Value() (driver.Value, error) {
	if !m.Valid() {
		return nil, fmt.Errorf("invalid PaymentMode: %s", m)
	}
	return string(m), nil
}

// Campaign represents a group-buy campaign: a time- and quantity-bounded
// collective purchase offer for one product.
//
// CurrentQuantity is the denormalized committed counter guarded by the
// quantity ledger (repository.CampaignRepository). It must equal the sum of
// commitment quantities in counting states at all times and is never written
// by application-level read-modify-write.
type Campaign struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	UUID      uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:uk_group_buy_campaigns_uuid" json:"uuid"`
	ProductID uint      `gorm:"not null;index:idx_group_buy_campaigns_product_id" json:"product_id"`

	GoalQuantity       int            `gorm:"not null" json:"goal_quantity"`
	CurrentQuantity    int            `gorm:"not null;default:0" json:"current_quantity"`
	DiscountPrice      uint64         `gorm:"not null" json:"discount_price"`
	PaymentMode        PaymentMode    `gorm:"type:varchar(20);not null" json:"payment_mode"`
	PaymentWindowHours int            `gorm:"not null" json:"payment_window_hours"`
	Status             CampaignStatus `gorm:"type:varchar(20);not null;default:'draft';index:idx_group_buy_campaigns_status" json:"status"`

	// Version increments on every state-changing write; writers detect
	// conflicting concurrent updates through it.
	Version uint `gorm:"not null;default:0" json:"version"`

	ExpiryAt        time.Time  `gorm:"not null;index:idx_group_buy_campaigns_expiry_at" json:"expiry_at"`
	PaymentDeadline *time.Time `gorm:"index" json:"payment_deadline,omitempty"`
	CreatedAt       time.Time  `gorm:"default:(CURRENT_TIMESTAMP AT TIME ZONE 'UTC')" json:"created_at"`
	UpdatedAt       *time.Time `json:"updated_at,omitempty"`

	// Relations
	Commitments []Commitment `gorm:"foreignKey:CampaignID" json:"commitments,omitempty"`
}

// TableName returns the table name for the model
func (Campaign) TableName() string {
	return "group_buy_campaigns"
}

// BeforeCreate is called before creating a new record
func (c *Campaign) BeforeCreate(tx *gorm.DB) error {
	if c.UUID == uuid.Nil {
		c.UUID = uuid.New()
	}
	if c.Status == "" {
		c.Status = CampaignStatusDraft
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = utils.UTCNow()
	}
	return nil
}

// BeforeUpdate is called before updating a record
func (c *Campaign) BeforeUpdate(tx *gorm.DB) error {
	now := utils.UTCNow()
	c.UpdatedAt = &now
	return nil
}

// CanTransitionTo checks if the campaign can transition to the given status
func (c *Campaign) CanTransitionTo(newStatus CampaignStatus) bool {
	switch c.Status {
	case CampaignStatusDraft:
		return newStatus == CampaignStatusActive ||
			newStatus == CampaignStatusCancelled
	case CampaignStatusActive:
		return newStatus == CampaignStatusGoalReached ||
			newStatus == CampaignStatusFailed ||
			newStatus == CampaignStatusCancelled
	case CampaignStatusGoalReached:
		return newStatus == CampaignStatusCompleted ||
			newStatus == CampaignStatusCancelled
	default:
		return false
	}
}

// RemainingSpots returns how many units are still open for reservation
func (c *Campaign) RemainingSpots() int {
	remaining := c.GoalQuantity - c.CurrentQuantity
	if remaining < 0 {
		return 0
	}
	return remaining
}

// IsExpired reports whether the campaign's hard deadline has passed
func (c *Campaign) IsExpired() bool {
	return utils.IsExpired(c.ExpiryAt)
}

// AcceptsCommitments reports whether a new pledge may be created against the campaign
func (c *Campaign) AcceptsCommitments() bool {
	return c.Status == CampaignStatusActive && !c.IsExpired()
}

// PaymentWindow returns the campaign's payment window as a duration
func (c *Campaign) PaymentWindow() time.Duration {
	return time.Duration(c.PaymentWindowHours) * time.Hour
}

// CampaignFilter represents filter criteria for campaigns
type CampaignFilter struct {
	ID            *uint           `json:"id,omitempty"`
	UUID          *uuid.UUID      `json:"uuid,omitempty"`
	ProductID     *uint           `json:"product_id,omitempty"`
	Status        *CampaignStatus `json:"status,omitempty"`
	PaymentMode   *PaymentMode    `json:"payment_mode,omitempty"`
	ExpiresAfter  *time.Time      `json:"expires_after,omitempty"`
	ExpiresBefore *time.Time      `json:"expires_before,omitempty"`
	CreatedAfter  *time.Time      `json:"created_after,omitempty"`
	CreatedBefore *time.Time      `json:"created_before,omitempty"`
}
