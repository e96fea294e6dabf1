// Package tests contains test cases for models and repository packages to avoid circular imports
package tests

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/taleroad/groupbuy-engine/app/dto"
	"github.com/taleroad/groupbuy-engine/app/services"
	businessflow "github.com/taleroad/groupbuy-engine/business_flow"
	"github.com/taleroad/groupbuy-engine/config"
	"github.com/taleroad/groupbuy-engine/models"
	"github.com/taleroad/groupbuy-engine/repository"
	testingutil "github.com/taleroad/groupbuy-engine/testing"
	"github.com/taleroad/groupbuy-engine/utils"
)

func newCampaignFlow(testDB *testingutil.TestDB, gateway services.PaymentGateway) businessflow.CampaignFlow {
	campaignRepo := repository.NewCampaignRepository(testDB.DB)
	commitmentRepo := repository.NewCommitmentRepository(testDB.DB)
	auditRepo := repository.NewAuditLogRepository(testDB.DB)
	notifier := services.NewNotificationService(services.NewMockMessageSender(), 100, 100)
	cacheCfg := &config.CacheConfig{Enabled: false}
	return businessflow.NewCampaignFlow(campaignRepo, commitmentRepo, auditRepo, gateway, notifier, nil, cacheCfg, testDB.DB)
}

func TestCreateCampaignFlow(t *testing.T) {
	err := testingutil.TestWithDB(func(testDB *testingutil.TestDB) error {
		flow := newCampaignFlow(testDB, services.NewMockPaymentGateway())
		ctx := testingutil.CreateTestContext()

		t.Run("CreateValidCampaign", func(t *testing.T) {
			resp, err := flow.CreateCampaign(ctx, &dto.CreateCampaignRequest{
				ProductID:          42,
				GoalQuantity:       100,
				DiscountPrice:      250000,
				PaymentMode:        "pay_to_book",
				PaymentWindowHours: 24,
				ExpiryAt:           utils.UTCNowAdd(72 * time.Hour),
			}, nil)
			require.NoError(t, err)
			assert.NotEmpty(t, resp.UUID)
			assert.Equal(t, models.CampaignStatusDraft.String(), resp.Status, "new campaigns start as drafts")
		})

		t.Run("RejectInvalidGoal", func(t *testing.T) {
			_, err := flow.CreateCampaign(ctx, &dto.CreateCampaignRequest{
				ProductID:          42,
				GoalQuantity:       0,
				DiscountPrice:      250000,
				PaymentMode:        "pay_to_book",
				PaymentWindowHours: 24,
				ExpiryAt:           utils.UTCNowAdd(72 * time.Hour),
			}, nil)
			assert.Error(t, err)

			_, err = flow.CreateCampaign(ctx, &dto.CreateCampaignRequest{
				ProductID:          42,
				GoalQuantity:       utils.MaxGoalQuantity + 1,
				DiscountPrice:      250000,
				PaymentMode:        "pay_to_book",
				PaymentWindowHours: 24,
				ExpiryAt:           utils.UTCNowAdd(72 * time.Hour),
			}, nil)
			assert.Error(t, err)
		})

		t.Run("RejectPastExpiry", func(t *testing.T) {
			_, err := flow.CreateCampaign(ctx, &dto.CreateCampaignRequest{
				ProductID:          42,
				GoalQuantity:       10,
				DiscountPrice:      250000,
				PaymentMode:        "pay_on_success",
				PaymentWindowHours: 24,
				ExpiryAt:           utils.UTCNowAdd(-time.Hour),
			}, nil)
			assert.Error(t, err)
		})

		t.Run("RejectUnknownPaymentMode", func(t *testing.T) {
			_, err := flow.CreateCampaign(ctx, &dto.CreateCampaignRequest{
				ProductID:          42,
				GoalQuantity:       10,
				DiscountPrice:      250000,
				PaymentMode:        "pay_whenever",
				PaymentWindowHours: 24,
				ExpiryAt:           utils.UTCNowAdd(72 * time.Hour),
			}, nil)
			assert.Error(t, err)
		})

		t.Run("RejectPaymentWindowOutOfRange", func(t *testing.T) {
			_, err := flow.CreateCampaign(ctx, &dto.CreateCampaignRequest{
				ProductID:          42,
				GoalQuantity:       10,
				DiscountPrice:      250000,
				PaymentMode:        "pay_to_book",
				PaymentWindowHours: utils.MaxPaymentWindowHours + 1,
				ExpiryAt:           utils.UTCNowAdd(72 * time.Hour),
			}, nil)
			assert.Error(t, err)
		})

		return nil
	})
	require.NoError(t, err)
}

func TestActivateCampaignFlow(t *testing.T) {
	err := testingutil.TestWithDB(func(testDB *testingutil.TestDB) error {
		fixtures := testingutil.NewTestFixtures(testDB)
		flow := newCampaignFlow(testDB, services.NewMockPaymentGateway())
		ctx := testingutil.CreateTestContext()

		t.Run("ActivateDraft", func(t *testing.T) {
			campaign, err := fixtures.CreateTestCampaign(testingutil.WithStatus(models.CampaignStatusDraft))
			require.NoError(t, err)

			resp, err := flow.ActivateCampaign(ctx, &dto.ActivateCampaignRequest{UUID: campaign.UUID.String()}, nil)
			require.NoError(t, err)
			assert.Equal(t, models.CampaignStatusActive.String(), resp.Status)
		})

		t.Run("ActivateActiveFails", func(t *testing.T) {
			campaign, err := fixtures.CreateTestCampaign()
			require.NoError(t, err)

			_, err = flow.ActivateCampaign(ctx, &dto.ActivateCampaignRequest{UUID: campaign.UUID.String()}, nil)
			require.Error(t, err)
			assert.True(t, businessflow.IsInvalidStatusTransition(err))
		})

		t.Run("ActivateExpiredDraftFails", func(t *testing.T) {
			campaign, err := fixtures.CreateTestCampaign(
				testingutil.WithStatus(models.CampaignStatusDraft),
				testingutil.WithExpiry(utils.UTCNowAdd(-time.Hour)),
			)
			require.NoError(t, err)

			_, err = flow.ActivateCampaign(ctx, &dto.ActivateCampaignRequest{UUID: campaign.UUID.String()}, nil)
			require.Error(t, err)
			assert.True(t, businessflow.IsCampaignExpired(err))
		})

		return nil
	})
	require.NoError(t, err)
}

func TestGetAndListCampaigns(t *testing.T) {
	err := testingutil.TestWithDB(func(testDB *testingutil.TestDB) error {
		fixtures := testingutil.NewTestFixtures(testDB)
		flow := newCampaignFlow(testDB, services.NewMockPaymentGateway())
		ctx := testingutil.CreateTestContext()

		campaign, err := fixtures.CreateTestCampaign(
			testingutil.WithGoal(100),
			testingutil.WithCurrentQuantity(25),
		)
		require.NoError(t, err)

		t.Run("GetCampaignProgress", func(t *testing.T) {
			resp, err := flow.GetCampaign(ctx, &dto.GetCampaignRequest{UUID: campaign.UUID.String()})
			require.NoError(t, err)
			assert.Equal(t, 25, resp.Progress.CurrentQuantity)
			assert.Equal(t, 100, resp.Progress.GoalQuantity)
			assert.Equal(t, 75, resp.Progress.RemainingSpots)
			assert.InDelta(t, 25.0, resp.Progress.PercentFilled, 0.01)
		})

		t.Run("GetMissingCampaign", func(t *testing.T) {
			_, err := flow.GetCampaign(ctx, &dto.GetCampaignRequest{UUID: "00000000-0000-4000-8000-000000000000"})
			require.Error(t, err)
			assert.True(t, businessflow.IsCampaignNotFound(err))
		})

		t.Run("ListFiltersByStatus", func(t *testing.T) {
			_, err := fixtures.CreateTestCampaign(testingutil.WithStatus(models.CampaignStatusDraft))
			require.NoError(t, err)

			active := models.CampaignStatusActive.String()
			resp, err := flow.ListCampaigns(ctx, &dto.ListCampaignsRequest{Status: &active})
			require.NoError(t, err)
			assert.GreaterOrEqual(t, resp.Total, int64(1))
			for _, item := range resp.Items {
				assert.Equal(t, active, item.Status)
			}
		})

		t.Run("ListRejectsOversizedPage", func(t *testing.T) {
			_, err := flow.ListCampaigns(ctx, &dto.ListCampaignsRequest{PageSize: 500})
			require.Error(t, err)
			assert.True(t, businessflow.IsInvalidPageSize(err))
		})

		return nil
	})
	require.NoError(t, err)
}

func TestCancelCampaignFlow(t *testing.T) {
	err := testingutil.TestWithDB(func(testDB *testingutil.TestDB) error {
		fixtures := testingutil.NewTestFixtures(testDB)
		campaignRepo := repository.NewCampaignRepository(testDB.DB)
		commitmentRepo := repository.NewCommitmentRepository(testDB.DB)
		flow := newCampaignFlow(testDB, services.NewMockPaymentGateway())
		ctx := testingutil.CreateTestContext()

		t.Run("CancelRefundsPaidAndCancelsUnpaid", func(t *testing.T) {
			campaign, err := fixtures.CreateTestCampaign(testingutil.WithCurrentQuantity(5))
			require.NoError(t, err)

			unpaid, err := fixtures.CreateTestCommitment(campaign, 1, 2)
			require.NoError(t, err)
			paid, err := fixtures.CreateTestCommitment(campaign, 2, 3,
				testingutil.WithCommitmentStatus(models.CommitmentStatusPaid))
			require.NoError(t, err)

			resp, err := flow.CancelCampaign(ctx, &dto.CancelCampaignRequest{UUID: campaign.UUID.String()}, nil)
			require.NoError(t, err)
			assert.Equal(t, models.CampaignStatusCancelled.String(), resp.Status)
			assert.Equal(t, 2, resp.CancelledCommitments)
			assert.Equal(t, 1, resp.RefundsIssued)

			freshUnpaid, err := commitmentRepo.ByID(ctx, unpaid.ID)
			require.NoError(t, err)
			assert.Equal(t, models.CommitmentStatusCancelled, freshUnpaid.Status)

			freshPaid, err := commitmentRepo.ByID(ctx, paid.ID)
			require.NoError(t, err)
			assert.Equal(t, models.CommitmentStatusRefunded, freshPaid.Status)

			freshCampaign, err := campaignRepo.ByID(ctx, campaign.ID)
			require.NoError(t, err)
			assert.Equal(t, 0, freshCampaign.CurrentQuantity,
				"every closed commitment returns its reservation")
		})

		t.Run("FailedRefundLeavesCommitmentPaidAndCounted", func(t *testing.T) {
			gateway := services.NewMockPaymentGateway()
			gateway.FailRefunds = true
			failFlow := newCampaignFlow(testDB, gateway)

			campaign, err := fixtures.CreateTestCampaign(testingutil.WithCurrentQuantity(3))
			require.NoError(t, err)
			paid, err := fixtures.CreateTestCommitment(campaign, 2, 3,
				testingutil.WithCommitmentStatus(models.CommitmentStatusPaid))
			require.NoError(t, err)

			resp, err := failFlow.CancelCampaign(ctx, &dto.CancelCampaignRequest{UUID: campaign.UUID.String()}, nil)
			require.NoError(t, err)
			assert.Equal(t, 0, resp.RefundsIssued)

			fresh, err := commitmentRepo.ByID(ctx, paid.ID)
			require.NoError(t, err)
			assert.Equal(t, models.CommitmentStatusPaid, fresh.Status, "a failed refund stays visible for retry")

			freshCampaign, err := campaignRepo.ByID(ctx, campaign.ID)
			require.NoError(t, err)
			assert.Equal(t, 3, freshCampaign.CurrentQuantity,
				"an unrefunded pledge keeps holding its quantity")
		})

		t.Run("CancelTerminalCampaignFails", func(t *testing.T) {
			campaign, err := fixtures.CreateTestCampaign(testingutil.WithStatus(models.CampaignStatusCompleted))
			require.NoError(t, err)

			_, err = flow.CancelCampaign(ctx, &dto.CancelCampaignRequest{UUID: campaign.UUID.String()}, nil)
			require.Error(t, err)
			assert.True(t, businessflow.IsCampaignAlreadyFinalized(err))
		})

		return nil
	})
	require.NoError(t, err)
}

func TestForceSucceedCampaignFlow(t *testing.T) {
	err := testingutil.TestWithDB(func(testDB *testingutil.TestDB) error {
		fixtures := testingutil.NewTestFixtures(testDB)
		campaignRepo := repository.NewCampaignRepository(testDB.DB)
		commitmentRepo := repository.NewCommitmentRepository(testDB.DB)
		flow := newCampaignFlow(testDB, services.NewMockPaymentGateway())
		ctx := testingutil.CreateTestContext()

		t.Run("ForceSucceedActiveCampaign", func(t *testing.T) {
			campaign, err := fixtures.CreateTestCampaign(
				testingutil.WithGoal(50),
				testingutil.WithCurrentQuantity(12),
				testingutil.WithPaymentMode(models.PaymentModePayOnSuccess),
			)
			require.NoError(t, err)
			commitment, err := fixtures.CreateTestCommitment(campaign, 1, 12)
			require.NoError(t, err)

			resp, err := flow.ForceSucceedCampaign(ctx, &dto.ForceSucceedCampaignRequest{UUID: campaign.UUID.String()}, nil)
			require.NoError(t, err)
			assert.Equal(t, models.CampaignStatusGoalReached.String(), resp.Status)
			assert.Equal(t, 50, resp.CurrentQuantity)
			require.NotNil(t, resp.PaymentDeadline)

			fresh, err := campaignRepo.ByID(ctx, campaign.ID)
			require.NoError(t, err)
			assert.Equal(t, models.CampaignStatusGoalReached, fresh.Status)

			// Existing pledges got their payment deadlines stamped
			freshCommitment, err := commitmentRepo.ByID(ctx, commitment.ID)
			require.NoError(t, err)
			assert.NotNil(t, freshCommitment.PaymentDeadline)
		})

		t.Run("ForceSucceedNonActiveFails", func(t *testing.T) {
			campaign, err := fixtures.CreateTestCampaign(testingutil.WithStatus(models.CampaignStatusDraft))
			require.NoError(t, err)

			_, err = flow.ForceSucceedCampaign(ctx, &dto.ForceSucceedCampaignRequest{UUID: campaign.UUID.String()}, nil)
			require.Error(t, err)
			assert.True(t, businessflow.IsCampaignNotActive(err))
		})

		return nil
	})
	require.NoError(t, err)
}
