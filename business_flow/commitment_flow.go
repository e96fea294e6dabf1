// Package businessflow contains the core business logic and use cases for commitment workflows
package businessflow

import (
	"context"
	"errors"
	"fmt"

	"github.com/taleroad/groupbuy-engine/app/dto"
	"github.com/taleroad/groupbuy-engine/app/services"
	"github.com/taleroad/groupbuy-engine/models"
	"github.com/taleroad/groupbuy-engine/repository"
	"github.com/taleroad/groupbuy-engine/utils"
	"gorm.io/gorm"
)

// CommitmentFlow handles the commitment business logic
type CommitmentFlow interface {
	CreateCommitment(ctx context.Context, req *dto.CreateCommitmentRequest, metadata *ClientMetadata) (*dto.CreateCommitmentResponse, error)
	GetCommitment(ctx context.Context, commitmentUUID string) (*dto.GetCommitmentResponse, error)
	CancelCommitment(ctx context.Context, req *dto.CancelCommitmentRequest, metadata *ClientMetadata) (*dto.CancelCommitmentResponse, error)
	ProcessPaymentWebhook(ctx context.Context, req *dto.PaymentWebhookRequest, metadata *ClientMetadata) (*dto.PaymentWebhookResponse, error)
}

// CommitmentFlowImpl implements the commitment business flow
type CommitmentFlowImpl struct {
	campaignRepo   repository.CampaignRepository
	commitmentRepo repository.CommitmentRepository
	auditRepo      repository.AuditLogRepository
	gateway        services.PaymentGateway
	notifier       services.NotificationService
	db             *gorm.DB
}

// NewCommitmentFlow creates a new commitment flow instance
func NewCommitmentFlow(
	campaignRepo repository.CampaignRepository,
	commitmentRepo repository.CommitmentRepository,
	auditRepo repository.AuditLogRepository,
	gateway services.PaymentGateway,
	notifier services.NotificationService,
	db *gorm.DB,
) CommitmentFlow {
	return &CommitmentFlowImpl{
		campaignRepo:   campaignRepo,
		commitmentRepo: commitmentRepo,
		auditRepo:      auditRepo,
		gateway:        gateway,
		notifier:       notifier,
		db:             db,
	}
}

// CreateCommitment reserves quantity against the campaign goal and records a
// new pledge. The reservation, the commitment row, and the goal transition
// all happen in one transaction: either everything lands or nothing does.
func (f *CommitmentFlowImpl) CreateCommitment(ctx context.Context, req *dto.CreateCommitmentRequest, metadata *ClientMetadata) (*dto.CreateCommitmentResponse, error) {
	if req.Quantity < 1 || req.Quantity > utils.MaxCommitmentQuantity {
		return nil, NewBusinessError("VALIDATION_ERROR", "Commitment quantity is out of range", ErrCommitmentQuantityOutOfRange)
	}

	campaign, err := f.campaignRepo.ByUUID(ctx, req.CampaignUUID)
	if err != nil {
		return nil, NewBusinessError("CAMPAIGN_LOOKUP_FAILED", "Failed to lookup campaign", err)
	}
	if campaign == nil {
		return nil, NewBusinessError("CAMPAIGN_NOT_FOUND", "Campaign not found", ErrCampaignNotFound)
	}

	var commitment *models.Commitment
	var reservation *repository.ReservationResult

	err = repository.WithTransaction(ctx, f.db, func(txCtx context.Context) error {
		var err error
		reservation, err = f.campaignRepo.ReserveQuantity(txCtx, campaign.ID, req.Quantity)
		if err != nil {
			return err
		}

		commitment = &models.Commitment{
			CampaignID: campaign.ID,
			UserID:     req.UserID,
			Quantity:   req.Quantity,
			UnitPrice:  campaign.DiscountPrice,
			Status:     models.CommitmentStatusUnpaid,
		}
		if campaign.PaymentMode == models.PaymentModePayToBook {
			commitment.PaymentDeadline = utils.UTCNowAddPtr(campaign.PaymentWindow())
		}

		if err := f.commitmentRepo.Save(txCtx, commitment); err != nil {
			return err
		}

		// The goal check is a pure function of the value the reserving
		// statement returned. No re-read, so no lost-update window.
		if reservation.GoalJustReached {
			deadline := utils.UTCNowAdd(campaign.PaymentWindow())
			if err := f.campaignRepo.MarkGoalReached(txCtx, campaign.ID, deadline); err != nil {
				return err
			}
			if _, err := f.commitmentRepo.StampPaymentDeadlines(txCtx, campaign.ID, deadline); err != nil {
				return err
			}
			commitment.PaymentDeadline = &deadline
		}

		return nil
	})
	if err != nil {
		return nil, f.mapReservationError(ctx, campaign, req, err, metadata)
	}

	desc := fmt.Sprintf("Commitment of %d units created, campaign at %d/%d", req.Quantity, reservation.NewQuantity, reservation.GoalQuantity)
	_ = saveAuditLog(ctx, f.auditRepo, models.AuditActionCommitmentCreated, &campaign.ID, &commitment.ID, &req.UserID, desc, true, nil, metadata)

	if reservation.GoalJustReached {
		goalDesc := fmt.Sprintf("Campaign goal of %d reached", reservation.GoalQuantity)
		_ = saveAuditLog(ctx, f.auditRepo, models.AuditActionCampaignGoalReached, &campaign.ID, nil, nil, goalDesc, true, nil, metadata)
		f.notifyGoalReached(ctx, campaign)
	}

	resp := &dto.CreateCommitmentResponse{
		UUID:            commitment.UUID.String(),
		Status:          commitment.Status.String(),
		Quantity:        commitment.Quantity,
		UnitPrice:       commitment.UnitPrice,
		PaymentDeadline: commitment.PaymentDeadline,
		GoalReached:     reservation.GoalJustReached,
		RemainingSpots:  reservation.RemainingSpots,
	}

	// A commitment with a payment deadline is expected to pay now, so open a
	// payment session for it. A failed session expires the pledge and frees
	// the reserved quantity immediately.
	if commitment.PaymentDeadline != nil {
		charge, err := f.openCharge(ctx, campaign, commitment)
		if err != nil {
			f.failAndRelease(ctx, campaign, commitment, "payment_session_failed", metadata)
			return nil, NewBusinessError("PAYMENT_SESSION_FAILED", "Failed to open payment session", errors.Join(ErrPaymentGatewayFailed, err))
		}
		resp.PaymentToken = &charge.Token
		resp.PaymentURL = &charge.RedirectURL
	}

	return resp, nil
}

func (f *CommitmentFlowImpl) mapReservationError(ctx context.Context, campaign *models.Campaign, req *dto.CreateCommitmentRequest, err error, metadata *ClientMetadata) error {
	errMsg := err.Error()
	_ = saveAuditLog(ctx, f.auditRepo, models.AuditActionCommitmentRejected, &campaign.ID, nil, &req.UserID, "Commitment rejected", false, &errMsg, metadata)

	switch {
	case errors.Is(err, repository.ErrGoalFull):
		return NewBusinessError("GOAL_FULL", "Requested quantity would exceed the campaign goal", ErrGoalFull)
	case errors.Is(err, repository.ErrCampaignNotActive):
		return NewBusinessError("CAMPAIGN_NOT_ACTIVE", "Campaign is not accepting commitments", ErrCampaignNotActive)
	case errors.Is(err, repository.ErrCampaignNotFound):
		return NewBusinessError("CAMPAIGN_NOT_FOUND", "Campaign not found", ErrCampaignNotFound)
	default:
		return NewBusinessError("COMMITMENT_CREATION_FAILED", "Commitment creation failed", err)
	}
}

func (f *CommitmentFlowImpl) openCharge(ctx context.Context, campaign *models.Campaign, commitment *models.Commitment) (*services.ChargeResult, error) {
	ref := commitment.UUID.String()
	charge, err := f.gateway.CreateCharge(ctx, services.ChargeInput{
		OrderID:   ref,
		Amount:    commitment.UnitPrice * uint64(commitment.Quantity),
		ItemID:    fmt.Sprintf("product-%d", campaign.ProductID),
		ItemName:  fmt.Sprintf("Group-buy campaign %s", campaign.UUID),
		Quantity:  commitment.Quantity,
		UnitPrice: commitment.UnitPrice,
	})
	if err != nil {
		return nil, err
	}

	if err := f.commitmentRepo.SetPaymentReference(ctx, commitment.ID, ref); err != nil {
		return nil, err
	}
	commitment.PaymentReference = &ref
	return charge, nil
}

// failAndRelease marks an unpaid commitment failed and frees its reserved
// quantity. The status compare-and-set and the release share one transaction,
// so a commitment can never release quantity twice.
func (f *CommitmentFlowImpl) failAndRelease(ctx context.Context, campaign *models.Campaign, commitment *models.Commitment, reason string, metadata *ClientMetadata) {
	err := repository.WithTransaction(ctx, f.db, func(txCtx context.Context) error {
		if err := f.commitmentRepo.UpdateStatusIf(txCtx, commitment.ID, models.CommitmentStatusUnpaid, models.CommitmentStatusPaymentFailed, map[string]any{
			"failure_reason": reason,
		}); err != nil {
			return err
		}
		_, err := f.campaignRepo.ReleaseQuantity(txCtx, campaign.ID, commitment.Quantity)
		return err
	})
	if err != nil {
		errMsg := fmt.Sprintf("Failed to release commitment %s: %s", commitment.UUID, err.Error())
		_ = saveAuditLog(ctx, f.auditRepo, models.AuditActionCommitmentFailed, &campaign.ID, &commitment.ID, &commitment.UserID, errMsg, false, &errMsg, metadata)
		return
	}

	desc := fmt.Sprintf("Commitment %s failed (%s), %d units released", commitment.UUID, reason, commitment.Quantity)
	_ = saveAuditLog(ctx, f.auditRepo, models.AuditActionCommitmentFailed, &campaign.ID, &commitment.ID, &commitment.UserID, desc, true, nil, metadata)
}

func (f *CommitmentFlowImpl) notifyGoalReached(ctx context.Context, campaign *models.Campaign) {
	unpaid, err := f.commitmentRepo.ListByCampaignAndStatuses(ctx, campaign.ID, []models.CommitmentStatus{
		models.CommitmentStatusUnpaid,
	})
	if err != nil {
		return
	}
	for _, c := range unpaid {
		_ = f.notifier.NotifyGoalReached(ctx, c.UserID, campaign.UUID.String())
	}
}

// GetCommitment returns a single commitment by UUID
func (f *CommitmentFlowImpl) GetCommitment(ctx context.Context, commitmentUUID string) (*dto.GetCommitmentResponse, error) {
	commitment, err := f.commitmentRepo.ByUUID(ctx, commitmentUUID)
	if err != nil {
		return nil, NewBusinessError("COMMITMENT_LOOKUP_FAILED", "Failed to lookup commitment", err)
	}
	if commitment == nil {
		return nil, NewBusinessError("COMMITMENT_NOT_FOUND", "Commitment not found", ErrCommitmentNotFound)
	}

	campaign, err := f.campaignRepo.ByID(ctx, commitment.CampaignID)
	if err != nil || campaign == nil {
		return nil, NewBusinessError("CAMPAIGN_LOOKUP_FAILED", "Failed to lookup campaign", err)
	}

	resp := ToCommitmentDTO(*commitment, campaign.UUID.String())
	return &resp, nil
}

// CancelCommitment lets a buyer back out of a live pledge and frees its
// reserved quantity. A paid pledge is refunded first; its cancellation only
// lands once the refund does. After the goal is reached a cancellation can
// legitimately drop the counter back below the goal; success was decided at
// reservation time and is not revoked.
func (f *CommitmentFlowImpl) CancelCommitment(ctx context.Context, req *dto.CancelCommitmentRequest, metadata *ClientMetadata) (*dto.CancelCommitmentResponse, error) {
	commitment, err := f.commitmentRepo.ByUUID(ctx, req.UUID)
	if err != nil {
		return nil, NewBusinessError("COMMITMENT_LOOKUP_FAILED", "Failed to lookup commitment", err)
	}
	if commitment == nil {
		return nil, NewBusinessError("COMMITMENT_NOT_FOUND", "Commitment not found", ErrCommitmentNotFound)
	}
	if commitment.UserID != req.UserID {
		return nil, NewBusinessError("COMMITMENT_ACCESS_DENIED", "Commitment belongs to another user", ErrCommitmentAccessDenied)
	}
	if commitment.Status.IsTerminal() {
		return nil, NewBusinessError("COMMITMENT_NOT_CANCELABLE", "Commitment is already settled", ErrCommitmentNotCancelable)
	}

	campaign, err := f.campaignRepo.ByID(ctx, commitment.CampaignID)
	if err != nil || campaign == nil {
		return nil, NewBusinessError("CAMPAIGN_LOOKUP_FAILED", "Failed to lookup campaign", err)
	}
	if campaign.Status.IsTerminal() {
		// Finalized campaigns settle their commitments through their own
		// cancellation or fulfillment path.
		return nil, NewBusinessError("COMMITMENT_NOT_CANCELABLE", "Campaign is already finalized", ErrCommitmentNotCancelable)
	}

	finalStatus := models.CommitmentStatusCancelled
	if commitment.Status == models.CommitmentStatusPaid {
		finalStatus = models.CommitmentStatusRefunded
		if _, err := f.gateway.Refund(ctx, services.RefundInput{
			OrderID: commitment.UUID.String(),
			Amount:  commitment.UnitPrice * uint64(commitment.Quantity),
			Reason:  "buyer_cancelled",
		}); err != nil {
			errMsg := fmt.Sprintf("Refund failed for commitment %s: %s", commitment.UUID, err.Error())
			_ = saveAuditLog(ctx, f.auditRepo, models.AuditActionCommitmentRefunded, &campaign.ID, &commitment.ID, &req.UserID, errMsg, false, &errMsg, metadata)
			return nil, NewBusinessError("REFUND_FAILED", "Failed to refund commitment", errors.Join(ErrRefundFailed, err))
		}
	}

	var release *repository.ReleaseResult
	err = repository.WithTransaction(ctx, f.db, func(txCtx context.Context) error {
		if err := f.commitmentRepo.UpdateStatusIf(txCtx, commitment.ID, commitment.Status, finalStatus, map[string]any{
			"failure_reason": "buyer_cancelled",
		}); err != nil {
			return err
		}
		var err error
		release, err = f.campaignRepo.ReleaseQuantity(txCtx, campaign.ID, commitment.Quantity)
		return err
	})
	if err != nil {
		if errors.Is(err, repository.ErrStatusConflict) {
			return nil, NewBusinessError("COMMITMENT_NOT_CANCELABLE", "Commitment state changed concurrently", ErrVersionMismatch)
		}
		return nil, NewBusinessError("COMMITMENT_CANCELLATION_FAILED", "Commitment cancellation failed", err)
	}

	desc := fmt.Sprintf("Commitment cancelled by buyer, %d units released", commitment.Quantity)
	_ = saveAuditLog(ctx, f.auditRepo, models.AuditActionCommitmentCancelled, &campaign.ID, &commitment.ID, &req.UserID, desc, true, nil, metadata)

	return &dto.CancelCommitmentResponse{
		UUID:           commitment.UUID.String(),
		Status:         finalStatus.String(),
		RemainingSpots: campaign.GoalQuantity - release.NewQuantity,
	}, nil
}

// ProcessPaymentWebhook applies a gateway notification to the commitment it
// references. Notifications are retried by the gateway, so every branch here
// must be idempotent.
func (f *CommitmentFlowImpl) ProcessPaymentWebhook(ctx context.Context, req *dto.PaymentWebhookRequest, metadata *ClientMetadata) (*dto.PaymentWebhookResponse, error) {
	// Verification always runs. An unsigned notification must never settle
	// or fail a pledge; only the mock gateway waves it through.
	if !f.gateway.VerifyWebhookSignature(req.OrderID, req.StatusCode, req.GrossAmount, req.SignatureKey) {
		return nil, NewBusinessError("WEBHOOK_SIGNATURE_INVALID", "Webhook signature verification failed", ErrWebhookSignatureInvalid)
	}

	commitment, err := f.commitmentRepo.ByUUID(ctx, req.OrderID)
	if err != nil {
		return nil, NewBusinessError("COMMITMENT_LOOKUP_FAILED", "Failed to lookup commitment", err)
	}
	if commitment == nil {
		return nil, NewBusinessError("PAYMENT_REFERENCE_UNKNOWN", "Payment reference does not match any commitment", ErrPaymentReferenceUnknown)
	}

	campaign, err := f.campaignRepo.ByID(ctx, commitment.CampaignID)
	if err != nil || campaign == nil {
		return nil, NewBusinessError("CAMPAIGN_LOOKUP_FAILED", "Failed to lookup campaign", err)
	}

	switch req.TransactionStatus {
	case "settlement", "capture":
		if req.FraudStatus == "challenge" || req.FraudStatus == "deny" {
			return f.applyPaymentFailure(ctx, campaign, commitment, "fraud_"+req.FraudStatus, metadata)
		}
		return f.applyPaymentSuccess(ctx, campaign, commitment, req.OrderID, metadata)
	case "deny", "cancel", "expire", "failure":
		return f.applyPaymentFailure(ctx, campaign, commitment, "gateway_"+req.TransactionStatus, metadata)
	case "pending":
		// Nothing to record yet
		return &dto.PaymentWebhookResponse{UUID: commitment.UUID.String(), Status: commitment.Status.String()}, nil
	default:
		return nil, NewBusinessError("WEBHOOK_STATUS_UNKNOWN", "Unknown transaction status", fmt.Errorf("transaction status %q", req.TransactionStatus))
	}
}

func (f *CommitmentFlowImpl) applyPaymentSuccess(ctx context.Context, campaign *models.Campaign, commitment *models.Commitment, reference string, metadata *ClientMetadata) (*dto.PaymentWebhookResponse, error) {
	// Already recorded: the gateway retried a notification we processed
	if commitment.Status == models.CommitmentStatusPaid || commitment.Status == models.CommitmentStatusCompleted {
		return &dto.PaymentWebhookResponse{UUID: commitment.UUID.String(), Status: commitment.Status.String()}, nil
	}

	// A payment landing after the campaign died cannot buy anything; refund
	// it instead of resurrecting the commitment.
	if campaign.Status.IsTerminal() && campaign.Status != models.CampaignStatusCompleted {
		return f.refundStalePayment(ctx, campaign, commitment, metadata)
	}

	if err := f.commitmentRepo.UpdateStatusIf(ctx, commitment.ID, models.CommitmentStatusUnpaid, models.CommitmentStatusPaid, map[string]any{
		"payment_reference": reference,
	}); err != nil {
		if errors.Is(err, repository.ErrStatusConflict) {
			// The window expired or the pledge was cancelled while the
			// payment was in flight. Refund rather than accept.
			fresh, ferr := f.commitmentRepo.ByID(ctx, commitment.ID)
			if ferr == nil && fresh != nil && fresh.Status != models.CommitmentStatusPaid {
				return f.refundStalePayment(ctx, campaign, fresh, metadata)
			}
		}
		return nil, NewBusinessError("PAYMENT_RECORD_FAILED", "Failed to record payment", err)
	}

	desc := fmt.Sprintf("Payment recorded for commitment %s", commitment.UUID)
	_ = saveAuditLog(ctx, f.auditRepo, models.AuditActionCommitmentPaid, &campaign.ID, &commitment.ID, &commitment.UserID, desc, true, nil, metadata)

	return &dto.PaymentWebhookResponse{
		UUID:   commitment.UUID.String(),
		Status: models.CommitmentStatusPaid.String(),
	}, nil
}

func (f *CommitmentFlowImpl) refundStalePayment(ctx context.Context, campaign *models.Campaign, commitment *models.Commitment, metadata *ClientMetadata) (*dto.PaymentWebhookResponse, error) {
	amount := commitment.UnitPrice * uint64(commitment.Quantity)
	if _, err := f.gateway.Refund(ctx, services.RefundInput{
		OrderID: commitment.UUID.String(),
		Amount:  amount,
		Reason:  "stale_payment",
	}); err != nil {
		errMsg := fmt.Sprintf("Stale payment refund failed for commitment %s: %s", commitment.UUID, err.Error())
		_ = saveAuditLog(ctx, f.auditRepo, models.AuditActionCommitmentRefunded, &campaign.ID, &commitment.ID, &commitment.UserID, errMsg, false, &errMsg, metadata)
		return nil, NewBusinessError("REFUND_FAILED", "Failed to refund stale payment", errors.Join(ErrRefundFailed, err))
	}

	if commitment.Status == models.CommitmentStatusUnpaid {
		f.failAndRelease(ctx, campaign, commitment, "stale_payment_refunded", metadata)
	}

	desc := fmt.Sprintf("Stale payment refunded for commitment %s", commitment.UUID)
	_ = saveAuditLog(ctx, f.auditRepo, models.AuditActionCommitmentRefunded, &campaign.ID, &commitment.ID, &commitment.UserID, desc, true, nil, metadata)

	return &dto.PaymentWebhookResponse{
		UUID:   commitment.UUID.String(),
		Status: commitment.Status.String(),
	}, nil
}

func (f *CommitmentFlowImpl) applyPaymentFailure(ctx context.Context, campaign *models.Campaign, commitment *models.Commitment, reason string, metadata *ClientMetadata) (*dto.PaymentWebhookResponse, error) {
	if commitment.Status != models.CommitmentStatusUnpaid {
		// Nothing left to fail; notification arrived late
		return &dto.PaymentWebhookResponse{UUID: commitment.UUID.String(), Status: commitment.Status.String()}, nil
	}

	f.failAndRelease(ctx, campaign, commitment, reason, metadata)

	return &dto.PaymentWebhookResponse{
		UUID:   commitment.UUID.String(),
		Status: models.CommitmentStatusPaymentFailed.String(),
	}, nil
}
