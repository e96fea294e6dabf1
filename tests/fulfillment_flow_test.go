// Package tests contains test cases for models and repository packages to avoid circular imports
package tests

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/taleroad/groupbuy-engine/app/services"
	businessflow "github.com/taleroad/groupbuy-engine/business_flow"
	"github.com/taleroad/groupbuy-engine/models"
	"github.com/taleroad/groupbuy-engine/repository"
	testingutil "github.com/taleroad/groupbuy-engine/testing"
	"github.com/taleroad/groupbuy-engine/utils"
)

func newFulfillmentFlow(testDB *testingutil.TestDB, orders services.OrderService, gateway services.PaymentGateway) businessflow.FulfillmentFlow {
	campaignRepo := repository.NewCampaignRepository(testDB.DB)
	commitmentRepo := repository.NewCommitmentRepository(testDB.DB)
	runRepo := repository.NewFulfillmentRunRepository(testDB.DB)
	auditRepo := repository.NewAuditLogRepository(testDB.DB)
	notifier := services.NewNotificationService(services.NewMockMessageSender(), 100, 100)
	return businessflow.NewFulfillmentFlow(campaignRepo, commitmentRepo, runRepo, auditRepo, orders, gateway, notifier, testDB.DB)
}

func TestProcessCampaignFulfillment(t *testing.T) {
	err := testingutil.TestWithDB(func(testDB *testingutil.TestDB) error {
		fixtures := testingutil.NewTestFixtures(testDB)
		campaignRepo := repository.NewCampaignRepository(testDB.DB)
		commitmentRepo := repository.NewCommitmentRepository(testDB.DB)
		flow := newFulfillmentFlow(testDB, services.NewMockOrderService(), services.NewMockPaymentGateway())
		ctx := testingutil.CreateTestContext()

		// Goal of 10 was reached. Seven pledges paid inside the window, three
		// let their deadline lapse.
		campaign, err := fixtures.CreateTestCampaign(
			testingutil.WithGoal(10),
			testingutil.WithCurrentQuantity(10),
			testingutil.WithStatus(models.CampaignStatusGoalReached),
			testingutil.WithPaymentMode(models.PaymentModePayOnSuccess),
			testingutil.WithPaymentDeadline(utils.UTCNowAdd(-time.Hour)),
		)
		require.NoError(t, err)

		var paid []*models.Commitment
		for i := 0; i < 7; i++ {
			c, err := fixtures.CreateTestCommitment(campaign, uint(i+1), 1,
				testingutil.WithCommitmentStatus(models.CommitmentStatusPaid))
			require.NoError(t, err)
			paid = append(paid, c)
		}
		var overdue []*models.Commitment
		for i := 0; i < 3; i++ {
			c, err := fixtures.CreateTestCommitment(campaign, uint(i+8), 1,
				testingutil.WithCommitmentDeadline(utils.UTCNowAdd(-time.Hour)))
			require.NoError(t, err)
			overdue = append(overdue, c)
		}

		t.Run("PaidBecomeOrdersOverdueExpire", func(t *testing.T) {
			run, err := flow.ProcessCampaign(ctx, campaign)
			require.NoError(t, err)

			assert.Equal(t, 7, run.PaidCount)
			assert.Len(t, run.FinalizedCommitmentIDs, 7)
			assert.Len(t, run.ExpiredCommitmentIDs, 3)
			assert.Equal(t, 0, run.UnpaidCount)
			assert.Equal(t, 0, run.OrderFailures)
			assert.True(t, run.CampaignClosed)
			require.NotNil(t, run.FinishedAt)

			for _, c := range paid {
				fresh, err := commitmentRepo.ByID(ctx, c.ID)
				require.NoError(t, err)
				assert.Equal(t, models.CommitmentStatusCompleted, fresh.Status)
				require.NotNil(t, fresh.OrderID)
				assert.Equal(t, "mock-order-"+c.UUID.String(), *fresh.OrderID)
			}
			for _, c := range overdue {
				fresh, err := commitmentRepo.ByID(ctx, c.ID)
				require.NoError(t, err)
				assert.Equal(t, models.CommitmentStatusWindowExpired, fresh.Status)
			}

			freshCampaign, err := campaignRepo.ByID(ctx, campaign.ID)
			require.NoError(t, err)
			assert.Equal(t, models.CampaignStatusCompleted, freshCampaign.Status)
			assert.Equal(t, 7, freshCampaign.CurrentQuantity, "expired pledges release their quantity")
		})

		t.Run("SecondRunIsRejectedOnClosedCampaign", func(t *testing.T) {
			freshCampaign, err := campaignRepo.ByID(ctx, campaign.ID)
			require.NoError(t, err)

			_, err = flow.ProcessCampaign(ctx, freshCampaign)
			require.Error(t, err)
		})

		t.Run("SweepFindsNothingAfterClose", func(t *testing.T) {
			processed, closed, err := flow.ProcessGoalReachedCampaigns(ctx)
			require.NoError(t, err)
			assert.Equal(t, 0, processed)
			assert.Equal(t, 0, closed)
		})

		return nil
	})
	require.NoError(t, err)
}

func TestProcessCampaignOrderFailures(t *testing.T) {
	err := testingutil.TestWithDB(func(testDB *testingutil.TestDB) error {
		fixtures := testingutil.NewTestFixtures(testDB)
		campaignRepo := repository.NewCampaignRepository(testDB.DB)
		orders := services.NewMockOrderService()
		orders.FailAll = true
		flow := newFulfillmentFlow(testDB, orders, services.NewMockPaymentGateway())
		ctx := testingutil.CreateTestContext()

		campaign, err := fixtures.CreateTestCampaign(
			testingutil.WithGoal(2),
			testingutil.WithCurrentQuantity(2),
			testingutil.WithStatus(models.CampaignStatusGoalReached),
			testingutil.WithPaymentDeadline(utils.UTCNowAdd(time.Hour)),
		)
		require.NoError(t, err)
		for i := 0; i < 2; i++ {
			_, err := fixtures.CreateTestCommitment(campaign, uint(i+1), 1,
				testingutil.WithCommitmentStatus(models.CommitmentStatusPaid))
			require.NoError(t, err)
		}

		t.Run("FailedOrdersKeepCampaignOpen", func(t *testing.T) {
			run, err := flow.ProcessCampaign(ctx, campaign)
			require.NoError(t, err)

			assert.Equal(t, 2, run.OrderFailures)
			assert.Equal(t, 0, run.PaidCount)
			assert.False(t, run.CampaignClosed)
			require.NotNil(t, run.LastError)

			fresh, err := campaignRepo.ByID(ctx, campaign.ID)
			require.NoError(t, err)
			assert.Equal(t, models.CampaignStatusGoalReached, fresh.Status)
		})

		t.Run("RetryAfterRecoveryCloses", func(t *testing.T) {
			orders.FailAll = false

			processed, closed, err := flow.ProcessGoalReachedCampaigns(ctx)
			require.NoError(t, err)
			assert.Equal(t, 1, processed)
			assert.Equal(t, 1, closed)

			fresh, err := campaignRepo.ByID(ctx, campaign.ID)
			require.NoError(t, err)
			assert.Equal(t, models.CampaignStatusCompleted, fresh.Status)
		})

		return nil
	})
	require.NoError(t, err)
}

func TestProcessCampaignRemindersKeepItOpen(t *testing.T) {
	err := testingutil.TestWithDB(func(testDB *testingutil.TestDB) error {
		fixtures := testingutil.NewTestFixtures(testDB)
		campaignRepo := repository.NewCampaignRepository(testDB.DB)
		flow := newFulfillmentFlow(testDB, services.NewMockOrderService(), services.NewMockPaymentGateway())
		ctx := testingutil.CreateTestContext()

		campaign, err := fixtures.CreateTestCampaign(
			testingutil.WithGoal(2),
			testingutil.WithCurrentQuantity(2),
			testingutil.WithStatus(models.CampaignStatusGoalReached),
			testingutil.WithPaymentDeadline(utils.UTCNowAdd(time.Hour)),
		)
		require.NoError(t, err)
		_, err = fixtures.CreateTestCommitment(campaign, 1, 1,
			testingutil.WithCommitmentStatus(models.CommitmentStatusPaid))
		require.NoError(t, err)
		pending, err := fixtures.CreateTestCommitment(campaign, 2, 1,
			testingutil.WithCommitmentDeadline(utils.UTCNowAdd(time.Hour)))
		require.NoError(t, err)

		run, err := flow.ProcessCampaign(ctx, campaign)
		require.NoError(t, err)

		assert.Equal(t, 1, run.PaidCount)
		assert.Equal(t, 1, run.UnpaidCount, "a pledge still inside its window holds the campaign open")
		assert.Equal(t, 1, run.RemindersSent)
		assert.False(t, run.CampaignClosed)
		assert.Empty(t, run.ExpiredCommitmentIDs)

		commitmentRepo := repository.NewCommitmentRepository(testDB.DB)
		fresh, err := commitmentRepo.ByID(ctx, pending.ID)
		require.NoError(t, err)
		assert.Equal(t, models.CommitmentStatusUnpaid, fresh.Status)

		freshCampaign, err := campaignRepo.ByID(ctx, campaign.ID)
		require.NoError(t, err)
		assert.Equal(t, models.CampaignStatusGoalReached, freshCampaign.Status)

		return nil
	})
	require.NoError(t, err)
}

func TestSweepExpiredCampaigns(t *testing.T) {
	err := testingutil.TestWithDB(func(testDB *testingutil.TestDB) error {
		fixtures := testingutil.NewTestFixtures(testDB)
		campaignRepo := repository.NewCampaignRepository(testDB.DB)
		commitmentRepo := repository.NewCommitmentRepository(testDB.DB)
		flow := newFulfillmentFlow(testDB, services.NewMockOrderService(), services.NewMockPaymentGateway())
		ctx := testingutil.CreateTestContext()

		expired, err := fixtures.CreateTestCampaign(
			testingutil.WithGoal(100),
			testingutil.WithCurrentQuantity(5),
			testingutil.WithExpiry(utils.UTCNowAdd(-time.Hour)),
		)
		require.NoError(t, err)
		unpaid, err := fixtures.CreateTestCommitment(expired, 1, 2)
		require.NoError(t, err)
		paid, err := fixtures.CreateTestCommitment(expired, 2, 3,
			testingutil.WithCommitmentStatus(models.CommitmentStatusPaid))
		require.NoError(t, err)

		healthy, err := fixtures.CreateTestCampaign()
		require.NoError(t, err)

		swept, err := flow.SweepExpiredCampaigns(ctx, utils.SweepBatchSize)
		require.NoError(t, err)
		assert.Equal(t, 1, swept)

		freshExpired, err := campaignRepo.ByID(ctx, expired.ID)
		require.NoError(t, err)
		assert.Equal(t, models.CampaignStatusFailed, freshExpired.Status)

		freshHealthy, err := campaignRepo.ByID(ctx, healthy.ID)
		require.NoError(t, err)
		assert.Equal(t, models.CampaignStatusActive, freshHealthy.Status)

		freshUnpaid, err := commitmentRepo.ByID(ctx, unpaid.ID)
		require.NoError(t, err)
		assert.Equal(t, models.CommitmentStatusCancelled, freshUnpaid.Status)
		require.NotNil(t, freshUnpaid.FailureReason)
		assert.Equal(t, "campaign_expired", *freshUnpaid.FailureReason)

		freshPaid, err := commitmentRepo.ByID(ctx, paid.ID)
		require.NoError(t, err)
		assert.Equal(t, models.CommitmentStatusRefunded, freshPaid.Status)

		assert.Equal(t, 0, freshExpired.CurrentQuantity,
			"a failed campaign holds no reservations")

		return nil
	})
	require.NoError(t, err)
}

// TestSweepStrandedRefunds covers pledges whose money got stuck when their
// campaign closed during a gateway outage. No other sweep touches a paid
// commitment on a terminal campaign, so this one has to.
func TestSweepStrandedRefunds(t *testing.T) {
	err := testingutil.TestWithDB(func(testDB *testingutil.TestDB) error {
		fixtures := testingutil.NewTestFixtures(testDB)
		campaignRepo := repository.NewCampaignRepository(testDB.DB)
		commitmentRepo := repository.NewCommitmentRepository(testDB.DB)
		gateway := services.NewMockPaymentGateway()
		flow := newFulfillmentFlow(testDB, services.NewMockOrderService(), gateway)
		ctx := testingutil.CreateTestContext()

		cancelled, err := fixtures.CreateTestCampaign(
			testingutil.WithStatus(models.CampaignStatusCancelled),
			testingutil.WithCurrentQuantity(3),
		)
		require.NoError(t, err)
		stranded, err := fixtures.CreateTestCommitment(cancelled, 1, 3,
			testingutil.WithCommitmentStatus(models.CommitmentStatusPaid))
		require.NoError(t, err)

		// Paid pledge on a live campaign must never be swept
		live, err := fixtures.CreateTestCampaign(testingutil.WithCurrentQuantity(2))
		require.NoError(t, err)
		untouched, err := fixtures.CreateTestCommitment(live, 2, 2,
			testingutil.WithCommitmentStatus(models.CommitmentStatusPaid))
		require.NoError(t, err)

		t.Run("GatewayStillDownLeavesPledgePaid", func(t *testing.T) {
			gateway.FailRefunds = true

			refunded, err := flow.SweepStrandedRefunds(ctx, utils.SweepBatchSize)
			require.NoError(t, err)
			assert.Equal(t, 0, refunded)

			fresh, err := commitmentRepo.ByID(ctx, stranded.ID)
			require.NoError(t, err)
			assert.Equal(t, models.CommitmentStatusPaid, fresh.Status)

			freshCampaign, err := campaignRepo.ByID(ctx, cancelled.ID)
			require.NoError(t, err)
			assert.Equal(t, 3, freshCampaign.CurrentQuantity)
		})

		t.Run("RecoveredGatewayRefundsAndReleases", func(t *testing.T) {
			gateway.FailRefunds = false

			refunded, err := flow.SweepStrandedRefunds(ctx, utils.SweepBatchSize)
			require.NoError(t, err)
			assert.Equal(t, 1, refunded)

			fresh, err := commitmentRepo.ByID(ctx, stranded.ID)
			require.NoError(t, err)
			assert.Equal(t, models.CommitmentStatusRefunded, fresh.Status)

			freshCampaign, err := campaignRepo.ByID(ctx, cancelled.ID)
			require.NoError(t, err)
			assert.Equal(t, 0, freshCampaign.CurrentQuantity)

			freshUntouched, err := commitmentRepo.ByID(ctx, untouched.ID)
			require.NoError(t, err)
			assert.Equal(t, models.CommitmentStatusPaid, freshUntouched.Status)
		})

		t.Run("SecondPassFindsNothing", func(t *testing.T) {
			refunded, err := flow.SweepStrandedRefunds(ctx, utils.SweepBatchSize)
			require.NoError(t, err)
			assert.Equal(t, 0, refunded)
		})

		return nil
	})
	require.NoError(t, err)
}

func TestSweepOverduePaymentWindows(t *testing.T) {
	err := testingutil.TestWithDB(func(testDB *testingutil.TestDB) error {
		fixtures := testingutil.NewTestFixtures(testDB)
		campaignRepo := repository.NewCampaignRepository(testDB.DB)
		commitmentRepo := repository.NewCommitmentRepository(testDB.DB)
		flow := newFulfillmentFlow(testDB, services.NewMockOrderService(), services.NewMockPaymentGateway())
		ctx := testingutil.CreateTestContext()

		// pay_to_book campaign still filling up, one pledge missed its window
		active, err := fixtures.CreateTestCampaign(
			testingutil.WithGoal(100),
			testingutil.WithCurrentQuantity(4),
		)
		require.NoError(t, err)
		overdue, err := fixtures.CreateTestCommitment(active, 1, 4,
			testingutil.WithCommitmentDeadline(utils.UTCNowAdd(-time.Minute)))
		require.NoError(t, err)

		// Pledge on a finalized campaign is left alone; that campaign's own
		// sweep settled its accounting already.
		failed, err := fixtures.CreateTestCampaign(testingutil.WithStatus(models.CampaignStatusFailed))
		require.NoError(t, err)
		frozen, err := fixtures.CreateTestCommitment(failed, 2, 1,
			testingutil.WithCommitmentDeadline(utils.UTCNowAdd(-time.Minute)))
		require.NoError(t, err)

		expired, err := flow.SweepOverduePaymentWindows(ctx, utils.SweepBatchSize)
		require.NoError(t, err)
		assert.Equal(t, 1, expired)

		freshOverdue, err := commitmentRepo.ByID(ctx, overdue.ID)
		require.NoError(t, err)
		assert.Equal(t, models.CommitmentStatusWindowExpired, freshOverdue.Status)

		freshFrozen, err := commitmentRepo.ByID(ctx, frozen.ID)
		require.NoError(t, err)
		assert.Equal(t, models.CommitmentStatusUnpaid, freshFrozen.Status)

		freshActive, err := campaignRepo.ByID(ctx, active.ID)
		require.NoError(t, err)
		assert.Equal(t, 0, freshActive.CurrentQuantity, "released units reopen their spots")

		return nil
	})
	require.NoError(t, err)
}
