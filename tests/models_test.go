// Package tests contains test cases for models and repository packages to avoid circular imports
package tests

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/taleroad/groupbuy-engine/models"
	"github.com/taleroad/groupbuy-engine/utils"
)

func TestCampaignStatusTransitions(t *testing.T) {
	cases := []struct {
		from    models.CampaignStatus
		to      models.CampaignStatus
		allowed bool
	}{
		{models.CampaignStatusDraft, models.CampaignStatusActive, true},
		{models.CampaignStatusDraft, models.CampaignStatusCancelled, true},
		{models.CampaignStatusDraft, models.CampaignStatusGoalReached, false},
		{models.CampaignStatusDraft, models.CampaignStatusCompleted, false},
		{models.CampaignStatusActive, models.CampaignStatusGoalReached, true},
		{models.CampaignStatusActive, models.CampaignStatusFailed, true},
		{models.CampaignStatusActive, models.CampaignStatusCancelled, true},
		{models.CampaignStatusActive, models.CampaignStatusCompleted, false},
		{models.CampaignStatusActive, models.CampaignStatusDraft, false},
		{models.CampaignStatusGoalReached, models.CampaignStatusCompleted, true},
		{models.CampaignStatusGoalReached, models.CampaignStatusCancelled, true},
		{models.CampaignStatusGoalReached, models.CampaignStatusActive, false},
		{models.CampaignStatusGoalReached, models.CampaignStatusFailed, false},
		{models.CampaignStatusCompleted, models.CampaignStatusActive, false},
		{models.CampaignStatusCompleted, models.CampaignStatusCancelled, false},
		{models.CampaignStatusFailed, models.CampaignStatusActive, false},
		{models.CampaignStatusCancelled, models.CampaignStatusActive, false},
	}

	for _, tc := range cases {
		campaign := &models.Campaign{Status: tc.from}
		assert.Equal(t, tc.allowed, campaign.CanTransitionTo(tc.to),
			"%s -> %s should be allowed=%t", tc.from, tc.to, tc.allowed)
	}
}

func TestCampaignStatusTerminal(t *testing.T) {
	assert.False(t, models.CampaignStatusDraft.IsTerminal())
	assert.False(t, models.CampaignStatusActive.IsTerminal())
	assert.False(t, models.CampaignStatusGoalReached.IsTerminal())
	assert.True(t, models.CampaignStatusCompleted.IsTerminal())
	assert.True(t, models.CampaignStatusFailed.IsTerminal())
	assert.True(t, models.CampaignStatusCancelled.IsTerminal())
}

func TestCampaignRemainingSpots(t *testing.T) {
	campaign := &models.Campaign{GoalQuantity: 100, CurrentQuantity: 30}
	assert.Equal(t, 70, campaign.RemainingSpots())

	campaign.CurrentQuantity = 100
	assert.Equal(t, 0, campaign.RemainingSpots())

	// Counter never exceeds the goal, but the getter still clamps
	campaign.CurrentQuantity = 120
	assert.Equal(t, 0, campaign.RemainingSpots())
}

func TestCampaignAcceptsCommitments(t *testing.T) {
	campaign := &models.Campaign{
		Status:   models.CampaignStatusActive,
		ExpiryAt: utils.UTCNowAdd(time.Hour),
	}
	assert.True(t, campaign.AcceptsCommitments())

	campaign.ExpiryAt = utils.UTCNowAdd(-time.Hour)
	assert.False(t, campaign.AcceptsCommitments(), "expired campaigns accept nothing")

	campaign.ExpiryAt = utils.UTCNowAdd(time.Hour)
	campaign.Status = models.CampaignStatusGoalReached
	assert.False(t, campaign.AcceptsCommitments(), "goal-reached campaigns are no longer filling")

	campaign.Status = models.CampaignStatusDraft
	assert.False(t, campaign.AcceptsCommitments())
}

func TestCampaignPaymentWindow(t *testing.T) {
	campaign := &models.Campaign{PaymentWindowHours: 48}
	assert.Equal(t, 48*time.Hour, campaign.PaymentWindow())
}

func TestPaymentModeValid(t *testing.T) {
	assert.True(t, models.PaymentModePayToBook.Valid())
	assert.True(t, models.PaymentModePayOnSuccess.Valid())
	assert.False(t, models.PaymentMode("pay_later").Valid())
	assert.False(t, models.PaymentMode("").Valid())
}

func TestCommitmentStatusHelpers(t *testing.T) {
	assert.False(t, models.CommitmentStatusUnpaid.IsTerminal())
	assert.False(t, models.CommitmentStatusPaid.IsTerminal())
	assert.True(t, models.CommitmentStatusPaymentFailed.IsTerminal())
	assert.True(t, models.CommitmentStatusCancelled.IsTerminal())
	assert.True(t, models.CommitmentStatusCompleted.IsTerminal())
	assert.True(t, models.CommitmentStatusWindowExpired.IsTerminal())
	assert.True(t, models.CommitmentStatusRefunded.IsTerminal())

	assert.True(t, models.CommitmentStatusUnpaid.Counts())
	assert.True(t, models.CommitmentStatusPaid.Counts())
	assert.True(t, models.CommitmentStatusCompleted.Counts())
	assert.False(t, models.CommitmentStatusCancelled.Counts())
	assert.False(t, models.CommitmentStatusWindowExpired.Counts())
	assert.False(t, models.CommitmentStatusPaymentFailed.Counts())
	assert.False(t, models.CommitmentStatusRefunded.Counts())
}

func TestCommitmentPaymentOverdue(t *testing.T) {
	now := utils.UTCNow()

	commitment := &models.Commitment{Status: models.CommitmentStatusUnpaid}
	assert.False(t, commitment.PaymentOverdue(now), "no deadline means nothing to miss")

	past := now.Add(-time.Minute)
	commitment.PaymentDeadline = &past
	assert.True(t, commitment.PaymentOverdue(now))

	future := now.Add(time.Minute)
	commitment.PaymentDeadline = &future
	assert.False(t, commitment.PaymentOverdue(now))

	commitment.PaymentDeadline = &past
	commitment.Status = models.CommitmentStatusPaid
	assert.False(t, commitment.PaymentOverdue(now), "paid pledges are never overdue")
}

func TestCampaignStatusScanValue(t *testing.T) {
	var status models.CampaignStatus
	assert.NoError(t, status.Scan("active"))
	assert.Equal(t, models.CampaignStatusActive, status)

	assert.NoError(t, status.Scan([]byte("goal_reached")))
	assert.Equal(t, models.CampaignStatusGoalReached, status)

	v, err := models.CampaignStatusCompleted.Value()
	assert.NoError(t, err)
	assert.Equal(t, "completed", v)

	_, err = models.CampaignStatus("bogus").Value()
	assert.Error(t, err)
}
