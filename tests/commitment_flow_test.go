// Package tests contains test cases for models and repository packages to avoid circular imports
package tests

import (
	"crypto/sha512"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/taleroad/groupbuy-engine/app/dto"
	"github.com/taleroad/groupbuy-engine/app/services"
	businessflow "github.com/taleroad/groupbuy-engine/business_flow"
	"github.com/taleroad/groupbuy-engine/models"
	"github.com/taleroad/groupbuy-engine/repository"
	testingutil "github.com/taleroad/groupbuy-engine/testing"
	"github.com/taleroad/groupbuy-engine/utils"
)

func newCommitmentFlow(testDB *testingutil.TestDB, gateway services.PaymentGateway) businessflow.CommitmentFlow {
	campaignRepo := repository.NewCampaignRepository(testDB.DB)
	commitmentRepo := repository.NewCommitmentRepository(testDB.DB)
	auditRepo := repository.NewAuditLogRepository(testDB.DB)
	notifier := services.NewNotificationService(services.NewMockMessageSender(), 100, 100)
	return businessflow.NewCommitmentFlow(campaignRepo, commitmentRepo, auditRepo, gateway, notifier, testDB.DB)
}

func TestCreateCommitmentFlow(t *testing.T) {
	err := testingutil.TestWithDB(func(testDB *testingutil.TestDB) error {
		fixtures := testingutil.NewTestFixtures(testDB)
		campaignRepo := repository.NewCampaignRepository(testDB.DB)
		commitmentRepo := repository.NewCommitmentRepository(testDB.DB)
		flow := newCommitmentFlow(testDB, services.NewMockPaymentGateway())
		ctx := testingutil.CreateTestContext()

		t.Run("PayToBookOpensPaymentSession", func(t *testing.T) {
			campaign, err := fixtures.CreateTestCampaign(testingutil.WithGoal(10))
			require.NoError(t, err)

			resp, err := flow.CreateCommitment(ctx, &dto.CreateCommitmentRequest{
				CampaignUUID: campaign.UUID.String(),
				UserID:       1,
				Quantity:     2,
			}, nil)
			require.NoError(t, err)

			assert.Equal(t, models.CommitmentStatusUnpaid.String(), resp.Status)
			assert.Equal(t, 2, resp.Quantity)
			assert.Equal(t, campaign.DiscountPrice, resp.UnitPrice)
			assert.NotNil(t, resp.PaymentDeadline, "pay_to_book pledges always carry a deadline")
			assert.NotNil(t, resp.PaymentToken)
			assert.NotNil(t, resp.PaymentURL)
			assert.False(t, resp.GoalReached)
			assert.Equal(t, 8, resp.RemainingSpots)

			fresh, err := campaignRepo.ByID(ctx, campaign.ID)
			require.NoError(t, err)
			assert.Equal(t, 2, fresh.CurrentQuantity)

			// Opening the session annotates the existing row; the pledge
			// stays unpaid and its gateway reference is recorded.
			stored, err := commitmentRepo.ByUUID(ctx, resp.UUID)
			require.NoError(t, err)
			assert.Equal(t, models.CommitmentStatusUnpaid, stored.Status)
			require.NotNil(t, stored.PaymentReference)
			assert.Equal(t, stored.UUID.String(), *stored.PaymentReference)
		})

		t.Run("PayOnSuccessHasNoDeadlineBeforeGoal", func(t *testing.T) {
			campaign, err := fixtures.CreateTestCampaign(
				testingutil.WithGoal(10),
				testingutil.WithPaymentMode(models.PaymentModePayOnSuccess),
			)
			require.NoError(t, err)

			resp, err := flow.CreateCommitment(ctx, &dto.CreateCommitmentRequest{
				CampaignUUID: campaign.UUID.String(),
				UserID:       1,
				Quantity:     3,
			}, nil)
			require.NoError(t, err)

			assert.Nil(t, resp.PaymentDeadline)
			assert.Nil(t, resp.PaymentToken, "nothing to pay until the goal is reached")
		})

		t.Run("GoalReachingCommitmentFlipsCampaign", func(t *testing.T) {
			campaign, err := fixtures.CreateTestCampaign(
				testingutil.WithGoal(5),
				testingutil.WithPaymentMode(models.PaymentModePayOnSuccess),
			)
			require.NoError(t, err)

			_, err = flow.CreateCommitment(ctx, &dto.CreateCommitmentRequest{
				CampaignUUID: campaign.UUID.String(), UserID: 1, Quantity: 3,
			}, nil)
			require.NoError(t, err)

			resp, err := flow.CreateCommitment(ctx, &dto.CreateCommitmentRequest{
				CampaignUUID: campaign.UUID.String(), UserID: 2, Quantity: 2,
			}, nil)
			require.NoError(t, err)

			assert.True(t, resp.GoalReached)
			assert.Equal(t, 0, resp.RemainingSpots)
			assert.NotNil(t, resp.PaymentDeadline, "the goal-reaching pledge pays inside the window")
			assert.NotNil(t, resp.PaymentToken)

			fresh, err := campaignRepo.ByID(ctx, campaign.ID)
			require.NoError(t, err)
			assert.Equal(t, models.CampaignStatusGoalReached, fresh.Status)
			assert.NotNil(t, fresh.PaymentDeadline)

			// Earlier pledges got their deadlines stamped at goal time
			commitmentRepo := repository.NewCommitmentRepository(testDB.DB)
			unpaid, err := commitmentRepo.ListByCampaignAndStatuses(ctx, campaign.ID, []models.CommitmentStatus{models.CommitmentStatusUnpaid})
			require.NoError(t, err)
			for _, c := range unpaid {
				assert.NotNil(t, c.PaymentDeadline)
			}
		})

		t.Run("OverCommitRejected", func(t *testing.T) {
			campaign, err := fixtures.CreateTestCampaign(testingutil.WithGoal(5))
			require.NoError(t, err)

			_, err = flow.CreateCommitment(ctx, &dto.CreateCommitmentRequest{
				CampaignUUID: campaign.UUID.String(), UserID: 1, Quantity: 6,
			}, nil)
			require.Error(t, err)
			assert.True(t, businessflow.IsGoalFull(err))

			fresh, err := campaignRepo.ByID(ctx, campaign.ID)
			require.NoError(t, err)
			assert.Equal(t, 0, fresh.CurrentQuantity, "a rejected pledge holds nothing")
		})

		t.Run("InactiveCampaignRejected", func(t *testing.T) {
			campaign, err := fixtures.CreateTestCampaign(testingutil.WithStatus(models.CampaignStatusDraft))
			require.NoError(t, err)

			_, err = flow.CreateCommitment(ctx, &dto.CreateCommitmentRequest{
				CampaignUUID: campaign.UUID.String(), UserID: 1, Quantity: 1,
			}, nil)
			require.Error(t, err)
			assert.True(t, businessflow.IsCampaignNotActive(err))
		})

		t.Run("UnknownCampaignRejected", func(t *testing.T) {
			_, err := flow.CreateCommitment(ctx, &dto.CreateCommitmentRequest{
				CampaignUUID: "8b9f6c3e-0000-4000-8000-000000000000", UserID: 1, Quantity: 1,
			}, nil)
			require.Error(t, err)
			assert.True(t, businessflow.IsCampaignNotFound(err))
		})

		t.Run("QuantityOutOfRangeRejected", func(t *testing.T) {
			campaign, err := fixtures.CreateTestCampaign()
			require.NoError(t, err)

			_, err = flow.CreateCommitment(ctx, &dto.CreateCommitmentRequest{
				CampaignUUID: campaign.UUID.String(), UserID: 1, Quantity: 0,
			}, nil)
			assert.Error(t, err)

			_, err = flow.CreateCommitment(ctx, &dto.CreateCommitmentRequest{
				CampaignUUID: campaign.UUID.String(), UserID: 1, Quantity: utils.MaxCommitmentQuantity + 1,
			}, nil)
			assert.Error(t, err)
		})

		return nil
	})
	require.NoError(t, err)
}

// TestCreateCommitmentChargeFailure verifies that a pledge whose payment
// session cannot be opened fails immediately and returns its reserved
// quantity to the pool.
func TestCreateCommitmentChargeFailure(t *testing.T) {
	err := testingutil.TestWithDB(func(testDB *testingutil.TestDB) error {
		fixtures := testingutil.NewTestFixtures(testDB)
		campaignRepo := repository.NewCampaignRepository(testDB.DB)

		gateway := services.NewMockPaymentGateway()
		gateway.FailCharges = true
		flow := newCommitmentFlow(testDB, gateway)
		ctx := testingutil.CreateTestContext()

		campaign, err := fixtures.CreateTestCampaign(testingutil.WithGoal(10))
		require.NoError(t, err)

		_, err = flow.CreateCommitment(ctx, &dto.CreateCommitmentRequest{
			CampaignUUID: campaign.UUID.String(), UserID: 1, Quantity: 4,
		}, nil)
		require.Error(t, err)
		assert.True(t, businessflow.IsPaymentGatewayFailed(err))

		fresh, err := campaignRepo.ByID(ctx, campaign.ID)
		require.NoError(t, err)
		assert.Equal(t, 0, fresh.CurrentQuantity, "failed payment session releases the reservation")

		return nil
	})
	require.NoError(t, err)
}

func TestCancelCommitmentFlow(t *testing.T) {
	err := testingutil.TestWithDB(func(testDB *testingutil.TestDB) error {
		fixtures := testingutil.NewTestFixtures(testDB)
		campaignRepo := repository.NewCampaignRepository(testDB.DB)
		flow := newCommitmentFlow(testDB, services.NewMockPaymentGateway())
		ctx := testingutil.CreateTestContext()

		t.Run("CancelReleasesQuantity", func(t *testing.T) {
			campaign, err := fixtures.CreateTestCampaign(
				testingutil.WithGoal(10),
				testingutil.WithPaymentMode(models.PaymentModePayOnSuccess),
			)
			require.NoError(t, err)

			created, err := flow.CreateCommitment(ctx, &dto.CreateCommitmentRequest{
				CampaignUUID: campaign.UUID.String(), UserID: 7, Quantity: 3,
			}, nil)
			require.NoError(t, err)

			resp, err := flow.CancelCommitment(ctx, &dto.CancelCommitmentRequest{
				UUID: created.UUID, UserID: 7,
			}, nil)
			require.NoError(t, err)
			assert.Equal(t, models.CommitmentStatusCancelled.String(), resp.Status)
			assert.Equal(t, 10, resp.RemainingSpots)

			fresh, err := campaignRepo.ByID(ctx, campaign.ID)
			require.NoError(t, err)
			assert.Equal(t, 0, fresh.CurrentQuantity)
		})

		t.Run("CancelByOtherUserDenied", func(t *testing.T) {
			campaign, err := fixtures.CreateTestCampaign(
				testingutil.WithPaymentMode(models.PaymentModePayOnSuccess),
			)
			require.NoError(t, err)

			created, err := flow.CreateCommitment(ctx, &dto.CreateCommitmentRequest{
				CampaignUUID: campaign.UUID.String(), UserID: 7, Quantity: 1,
			}, nil)
			require.NoError(t, err)

			_, err = flow.CancelCommitment(ctx, &dto.CancelCommitmentRequest{
				UUID: created.UUID, UserID: 8,
			}, nil)
			require.Error(t, err)
			assert.True(t, businessflow.IsCommitmentAccessDenied(err))
		})

		t.Run("CancelAfterGoalReachedDropsCounterBelowGoal", func(t *testing.T) {
			campaign, err := fixtures.CreateTestCampaign(
				testingutil.WithGoal(2),
				testingutil.WithPaymentMode(models.PaymentModePayOnSuccess),
			)
			require.NoError(t, err)

			created, err := flow.CreateCommitment(ctx, &dto.CreateCommitmentRequest{
				CampaignUUID: campaign.UUID.String(), UserID: 7, Quantity: 1,
			}, nil)
			require.NoError(t, err)

			_, err = flow.CreateCommitment(ctx, &dto.CreateCommitmentRequest{
				CampaignUUID: campaign.UUID.String(), UserID: 8, Quantity: 1,
			}, nil)
			require.NoError(t, err)

			// Success was decided at goal time; a later cancellation still
			// releases the quantity without reverting the campaign.
			resp, err := flow.CancelCommitment(ctx, &dto.CancelCommitmentRequest{
				UUID: created.UUID, UserID: 7,
			}, nil)
			require.NoError(t, err)
			assert.Equal(t, models.CommitmentStatusCancelled.String(), resp.Status)

			fresh, err := campaignRepo.ByID(ctx, campaign.ID)
			require.NoError(t, err)
			assert.Equal(t, 1, fresh.CurrentQuantity)
			assert.Equal(t, models.CampaignStatusGoalReached, fresh.Status)
		})

		t.Run("CancelPaidPledgeRefunds", func(t *testing.T) {
			campaign, err := fixtures.CreateTestCampaign(testingutil.WithGoal(10))
			require.NoError(t, err)

			created, err := flow.CreateCommitment(ctx, &dto.CreateCommitmentRequest{
				CampaignUUID: campaign.UUID.String(), UserID: 7, Quantity: 4,
			}, nil)
			require.NoError(t, err)

			_, err = flow.ProcessPaymentWebhook(ctx, &dto.PaymentWebhookRequest{
				OrderID:           created.UUID,
				TransactionStatus: "settlement",
			}, nil)
			require.NoError(t, err)

			resp, err := flow.CancelCommitment(ctx, &dto.CancelCommitmentRequest{
				UUID: created.UUID, UserID: 7,
			}, nil)
			require.NoError(t, err)
			assert.Equal(t, models.CommitmentStatusRefunded.String(), resp.Status)

			fresh, err := campaignRepo.ByID(ctx, campaign.ID)
			require.NoError(t, err)
			assert.Equal(t, 0, fresh.CurrentQuantity, "a refunded pledge frees its spots")
		})

		t.Run("CancelPaidPledgeKeptWhenRefundFails", func(t *testing.T) {
			gateway := services.NewMockPaymentGateway()
			failingFlow := newCommitmentFlow(testDB, gateway)

			campaign, err := fixtures.CreateTestCampaign(testingutil.WithGoal(10))
			require.NoError(t, err)

			created, err := failingFlow.CreateCommitment(ctx, &dto.CreateCommitmentRequest{
				CampaignUUID: campaign.UUID.String(), UserID: 7, Quantity: 2,
			}, nil)
			require.NoError(t, err)

			_, err = failingFlow.ProcessPaymentWebhook(ctx, &dto.PaymentWebhookRequest{
				OrderID:           created.UUID,
				TransactionStatus: "settlement",
			}, nil)
			require.NoError(t, err)

			gateway.FailRefunds = true
			_, err = failingFlow.CancelCommitment(ctx, &dto.CancelCommitmentRequest{
				UUID: created.UUID, UserID: 7,
			}, nil)
			require.Error(t, err)

			commitmentRepo := repository.NewCommitmentRepository(testDB.DB)
			stored, err := commitmentRepo.ByUUID(ctx, created.UUID)
			require.NoError(t, err)
			assert.Equal(t, models.CommitmentStatusPaid, stored.Status,
				"money not returned means the pledge stays paid and counted")

			fresh, err := campaignRepo.ByID(ctx, campaign.ID)
			require.NoError(t, err)
			assert.Equal(t, 2, fresh.CurrentQuantity)
		})

		t.Run("CancelOnFinalizedCampaignDenied", func(t *testing.T) {
			campaign, err := fixtures.CreateTestCampaign(
				testingutil.WithPaymentMode(models.PaymentModePayOnSuccess),
			)
			require.NoError(t, err)

			created, err := flow.CreateCommitment(ctx, &dto.CreateCommitmentRequest{
				CampaignUUID: campaign.UUID.String(), UserID: 7, Quantity: 1,
			}, nil)
			require.NoError(t, err)

			require.NoError(t, campaignRepo.TransitionStatus(ctx, campaign.ID,
				models.CampaignStatusActive, models.CampaignStatusCancelled))

			_, err = flow.CancelCommitment(ctx, &dto.CancelCommitmentRequest{
				UUID: created.UUID, UserID: 7,
			}, nil)
			require.Error(t, err)
			assert.True(t, businessflow.IsCommitmentNotCancelable(err))
		})

		t.Run("CancelTwiceDenied", func(t *testing.T) {
			campaign, err := fixtures.CreateTestCampaign(
				testingutil.WithPaymentMode(models.PaymentModePayOnSuccess),
			)
			require.NoError(t, err)

			created, err := flow.CreateCommitment(ctx, &dto.CreateCommitmentRequest{
				CampaignUUID: campaign.UUID.String(), UserID: 7, Quantity: 1,
			}, nil)
			require.NoError(t, err)

			_, err = flow.CancelCommitment(ctx, &dto.CancelCommitmentRequest{
				UUID: created.UUID, UserID: 7,
			}, nil)
			require.NoError(t, err)

			_, err = flow.CancelCommitment(ctx, &dto.CancelCommitmentRequest{
				UUID: created.UUID, UserID: 7,
			}, nil)
			require.Error(t, err)
			assert.True(t, businessflow.IsCommitmentNotCancelable(err))
		})

		return nil
	})
	require.NoError(t, err)
}

func TestPaymentWebhookFlow(t *testing.T) {
	err := testingutil.TestWithDB(func(testDB *testingutil.TestDB) error {
		fixtures := testingutil.NewTestFixtures(testDB)
		campaignRepo := repository.NewCampaignRepository(testDB.DB)
		commitmentRepo := repository.NewCommitmentRepository(testDB.DB)
		flow := newCommitmentFlow(testDB, services.NewMockPaymentGateway())
		ctx := testingutil.CreateTestContext()

		t.Run("SettlementMarksPaid", func(t *testing.T) {
			campaign, err := fixtures.CreateTestCampaign(testingutil.WithGoal(10))
			require.NoError(t, err)
			created, err := flow.CreateCommitment(ctx, &dto.CreateCommitmentRequest{
				CampaignUUID: campaign.UUID.String(), UserID: 1, Quantity: 2,
			}, nil)
			require.NoError(t, err)

			resp, err := flow.ProcessPaymentWebhook(ctx, &dto.PaymentWebhookRequest{
				OrderID:           created.UUID,
				TransactionStatus: "settlement",
			}, nil)
			require.NoError(t, err)
			assert.Equal(t, models.CommitmentStatusPaid.String(), resp.Status)

			// Retried notification is a no-op
			resp, err = flow.ProcessPaymentWebhook(ctx, &dto.PaymentWebhookRequest{
				OrderID:           created.UUID,
				TransactionStatus: "settlement",
			}, nil)
			require.NoError(t, err)
			assert.Equal(t, models.CommitmentStatusPaid.String(), resp.Status)
		})

		t.Run("ExpireReleasesQuantity", func(t *testing.T) {
			campaign, err := fixtures.CreateTestCampaign(testingutil.WithGoal(10))
			require.NoError(t, err)
			created, err := flow.CreateCommitment(ctx, &dto.CreateCommitmentRequest{
				CampaignUUID: campaign.UUID.String(), UserID: 1, Quantity: 2,
			}, nil)
			require.NoError(t, err)

			resp, err := flow.ProcessPaymentWebhook(ctx, &dto.PaymentWebhookRequest{
				OrderID:           created.UUID,
				TransactionStatus: "expire",
			}, nil)
			require.NoError(t, err)
			assert.Equal(t, models.CommitmentStatusPaymentFailed.String(), resp.Status)

			fresh, err := campaignRepo.ByID(ctx, campaign.ID)
			require.NoError(t, err)
			assert.Equal(t, 0, fresh.CurrentQuantity)
		})

		t.Run("PendingChangesNothing", func(t *testing.T) {
			campaign, err := fixtures.CreateTestCampaign(testingutil.WithGoal(10))
			require.NoError(t, err)
			created, err := flow.CreateCommitment(ctx, &dto.CreateCommitmentRequest{
				CampaignUUID: campaign.UUID.String(), UserID: 1, Quantity: 1,
			}, nil)
			require.NoError(t, err)

			resp, err := flow.ProcessPaymentWebhook(ctx, &dto.PaymentWebhookRequest{
				OrderID:           created.UUID,
				TransactionStatus: "pending",
			}, nil)
			require.NoError(t, err)
			assert.Equal(t, models.CommitmentStatusUnpaid.String(), resp.Status)
		})

		t.Run("UnknownReferenceRejected", func(t *testing.T) {
			_, err := flow.ProcessPaymentWebhook(ctx, &dto.PaymentWebhookRequest{
				OrderID:           "6a0e8400-e29b-41d4-a716-446655440000",
				TransactionStatus: "settlement",
			}, nil)
			require.Error(t, err)
			assert.True(t, businessflow.IsPaymentReferenceUnknown(err))
		})

		t.Run("LatePaymentOnFailedCampaignRefundedReleasesQuantity", func(t *testing.T) {
			campaign, err := fixtures.CreateTestCampaign(testingutil.WithGoal(10))
			require.NoError(t, err)
			created, err := flow.CreateCommitment(ctx, &dto.CreateCommitmentRequest{
				CampaignUUID: campaign.UUID.String(), UserID: 1, Quantity: 2,
			}, nil)
			require.NoError(t, err)

			// The campaign dies before the payment lands
			require.NoError(t, campaignRepo.TransitionStatus(ctx, campaign.ID,
				models.CampaignStatusActive, models.CampaignStatusFailed))

			_, err = flow.ProcessPaymentWebhook(ctx, &dto.PaymentWebhookRequest{
				OrderID:           created.UUID,
				TransactionStatus: "settlement",
			}, nil)
			require.NoError(t, err)

			fresh, err := commitmentRepo.ByUUID(ctx, created.UUID)
			require.NoError(t, err)
			assert.Equal(t, models.CommitmentStatusPaymentFailed, fresh.Status,
				"a stale payment is refunded, never resurrected")
			require.NotNil(t, fresh.FailureReason)
			assert.Equal(t, "stale_payment_refunded", *fresh.FailureReason)

			refreshed, err := campaignRepo.ByID(ctx, campaign.ID)
			require.NoError(t, err)
			assert.Equal(t, 0, refreshed.CurrentQuantity,
				"the refunded pledge no longer holds quantity")
		})

		return nil
	})
	require.NoError(t, err)
}

// TestPaymentWebhookSignature verifies notifications against the midtrans
// SHA-512 scheme. Unsigned or mis-signed notifications must never move a
// pledge.
func TestPaymentWebhookSignature(t *testing.T) {
	err := testingutil.TestWithDB(func(testDB *testingutil.TestDB) error {
		fixtures := testingutil.NewTestFixtures(testDB)
		commitmentRepo := repository.NewCommitmentRepository(testDB.DB)

		const serverKey = "test-server-key"
		flow := newCommitmentFlow(testDB, services.NewMidtransGateway(serverKey, false))
		ctx := testingutil.CreateTestContext()

		campaign, err := fixtures.CreateTestCampaign(testingutil.WithGoal(10))
		require.NoError(t, err)
		commitment, err := fixtures.CreateTestCommitment(campaign, 1, 2)
		require.NoError(t, err)

		orderID := commitment.UUID.String()

		t.Run("UnsignedNotificationRejected", func(t *testing.T) {
			_, err := flow.ProcessPaymentWebhook(ctx, &dto.PaymentWebhookRequest{
				OrderID:           orderID,
				TransactionStatus: "settlement",
				StatusCode:        "200",
				GrossAmount:       "100000.00",
			}, nil)
			require.Error(t, err)
			assert.True(t, businessflow.IsWebhookSignatureInvalid(err))

			stored, err := commitmentRepo.ByUUID(ctx, orderID)
			require.NoError(t, err)
			assert.Equal(t, models.CommitmentStatusUnpaid, stored.Status)
		})

		t.Run("ForgedSignatureRejected", func(t *testing.T) {
			_, err := flow.ProcessPaymentWebhook(ctx, &dto.PaymentWebhookRequest{
				OrderID:           orderID,
				TransactionStatus: "settlement",
				StatusCode:        "200",
				GrossAmount:       "100000.00",
				SignatureKey:      "deadbeef",
			}, nil)
			require.Error(t, err)
			assert.True(t, businessflow.IsWebhookSignatureInvalid(err))
		})

		t.Run("ValidSignatureAccepted", func(t *testing.T) {
			sum := sha512.Sum512([]byte(orderID + "200" + "100000.00" + serverKey))
			resp, err := flow.ProcessPaymentWebhook(ctx, &dto.PaymentWebhookRequest{
				OrderID:           orderID,
				TransactionStatus: "settlement",
				StatusCode:        "200",
				GrossAmount:       "100000.00",
				SignatureKey:      hex.EncodeToString(sum[:]),
			}, nil)
			require.NoError(t, err)
			assert.Equal(t, models.CommitmentStatusPaid.String(), resp.Status)
		})

		return nil
	})
	require.NoError(t, err)
}
