// Package testing provides test utilities and database setup for testing the campaign engine
package testing

import (
	"fmt"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"github.com/taleroad/groupbuy-engine/models"
	"github.com/taleroad/groupbuy-engine/utils"
)

// TestFixtures provides helper methods for creating test data
type TestFixtures struct {
	DB *TestDB
}

// NewTestFixtures creates a new test fixtures instance
func NewTestFixtures(db *TestDB) *TestFixtures {
	return &TestFixtures{DB: db}
}

// CampaignOverride mutates a campaign fixture before it is persisted
type CampaignOverride func(*models.Campaign)

// CreateTestCampaign creates a campaign with sensible defaults. Overrides run
// before the row is inserted.
func (tf *TestFixtures) CreateTestCampaign(overrides ...CampaignOverride) (*models.Campaign, error) {
	campaign := &models.Campaign{
		UUID:               uuid.New(),
		ProductID:          uint(rand.Intn(90000) + 10000),
		GoalQuantity:       100,
		CurrentQuantity:    0,
		DiscountPrice:      150000,
		PaymentMode:        models.PaymentModePayToBook,
		PaymentWindowHours: 24,
		Status:             models.CampaignStatusActive,
		ExpiryAt:           utils.UTCNowAdd(72 * time.Hour),
	}

	for _, override := range overrides {
		override(campaign)
	}

	if err := tf.DB.DB.Create(campaign).Error; err != nil {
		return nil, fmt.Errorf("failed to create test campaign: %w", err)
	}

	return campaign, nil
}

// WithStatus sets the campaign status
func WithStatus(status models.CampaignStatus) CampaignOverride {
	return func(c *models.Campaign) { c.Status = status }
}

// WithGoal sets the goal quantity
func WithGoal(goal int) CampaignOverride {
	return func(c *models.Campaign) { c.GoalQuantity = goal }
}

// WithPaymentMode sets the payment mode
func WithPaymentMode(mode models.PaymentMode) CampaignOverride {
	return func(c *models.Campaign) { c.PaymentMode = mode }
}

// WithExpiry sets the campaign expiry
func WithExpiry(expiryAt time.Time) CampaignOverride {
	return func(c *models.Campaign) { c.ExpiryAt = expiryAt }
}

// WithCurrentQuantity seeds the committed counter directly
func WithCurrentQuantity(quantity int) CampaignOverride {
	return func(c *models.Campaign) { c.CurrentQuantity = quantity }
}

// WithPaymentDeadline sets the campaign-wide payment deadline
func WithPaymentDeadline(deadline time.Time) CampaignOverride {
	return func(c *models.Campaign) { c.PaymentDeadline = &deadline }
}

// CommitmentOverride mutates a commitment fixture before it is persisted
type CommitmentOverride func(*models.Commitment)

// CreateTestCommitment creates a commitment against the given campaign. The
// campaign counter is NOT adjusted; use the repository reserve path or
// WithCurrentQuantity when the counter matters.
func (tf *TestFixtures) CreateTestCommitment(campaign *models.Campaign, userID uint, quantity int, overrides ...CommitmentOverride) (*models.Commitment, error) {
	commitment := &models.Commitment{
		UUID:       uuid.New(),
		CampaignID: campaign.ID,
		UserID:     userID,
		Quantity:   quantity,
		UnitPrice:  campaign.DiscountPrice,
		Status:     models.CommitmentStatusUnpaid,
	}

	for _, override := range overrides {
		override(commitment)
	}

	if err := tf.DB.DB.Create(commitment).Error; err != nil {
		return nil, fmt.Errorf("failed to create test commitment: %w", err)
	}

	return commitment, nil
}

// WithCommitmentStatus sets the commitment status
func WithCommitmentStatus(status models.CommitmentStatus) CommitmentOverride {
	return func(c *models.Commitment) { c.Status = status }
}

// WithCommitmentDeadline sets the per-commitment payment deadline
func WithCommitmentDeadline(deadline time.Time) CommitmentOverride {
	return func(c *models.Commitment) { c.PaymentDeadline = &deadline }
}

// WithPaymentReference sets the payment reference
func WithPaymentReference(ref string) CommitmentOverride {
	return func(c *models.Commitment) { c.PaymentReference = &ref }
}
