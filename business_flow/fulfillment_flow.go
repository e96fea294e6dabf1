// Package businessflow contains the core business logic for fulfillment and expiry processing
package businessflow

import (
	"context"
	"fmt"

	"github.com/taleroad/groupbuy-engine/app/services"
	"github.com/taleroad/groupbuy-engine/models"
	"github.com/taleroad/groupbuy-engine/repository"
	"github.com/taleroad/groupbuy-engine/utils"
	"gorm.io/gorm"
)

// FulfillmentFlow reconciles goal-reached campaigns into orders and sweeps
// expired campaigns and overdue payment windows. Every step is a
// compare-and-set, so concurrent runs and crashes mid-run converge on the
// same final state.
type FulfillmentFlow interface {
	// ProcessGoalReachedCampaigns runs one reconciliation pass over all
	// campaigns waiting for fulfillment. Returns how many campaigns were
	// processed and how many of those closed.
	ProcessGoalReachedCampaigns(ctx context.Context) (processed, closed int, err error)

	// ProcessCampaign reconciles a single goal-reached campaign: paid
	// commitments become orders, overdue unpaid ones expire and free their
	// quantity, and the campaign closes once nothing is left pending.
	ProcessCampaign(ctx context.Context, campaign *models.Campaign) (*models.FulfillmentRun, error)

	// SweepExpiredCampaigns fails active campaigns whose expiry passed
	// without the goal being reached.
	SweepExpiredCampaigns(ctx context.Context, batchSize int) (int, error)

	// SweepOverduePaymentWindows expires unpaid commitments whose individual
	// payment deadline has passed.
	SweepOverduePaymentWindows(ctx context.Context, batchSize int) (int, error)

	// SweepStrandedRefunds retries refunds for paid commitments left behind
	// on cancelled or failed campaigns by an earlier gateway outage.
	SweepStrandedRefunds(ctx context.Context, batchSize int) (int, error)
}

// FulfillmentFlowImpl implements the fulfillment business flow
type FulfillmentFlowImpl struct {
	campaignRepo   repository.CampaignRepository
	commitmentRepo repository.CommitmentRepository
	runRepo        repository.FulfillmentRunRepository
	auditRepo      repository.AuditLogRepository
	orders         services.OrderService
	gateway        services.PaymentGateway
	notifier       services.NotificationService
	db             *gorm.DB
}

// NewFulfillmentFlow creates a new fulfillment flow instance
func NewFulfillmentFlow(
	campaignRepo repository.CampaignRepository,
	commitmentRepo repository.CommitmentRepository,
	runRepo repository.FulfillmentRunRepository,
	auditRepo repository.AuditLogRepository,
	orders services.OrderService,
	gateway services.PaymentGateway,
	notifier services.NotificationService,
	db *gorm.DB,
) FulfillmentFlow {
	return &FulfillmentFlowImpl{
		campaignRepo:   campaignRepo,
		commitmentRepo: commitmentRepo,
		runRepo:        runRepo,
		auditRepo:      auditRepo,
		orders:         orders,
		gateway:        gateway,
		notifier:       notifier,
		db:             db,
	}
}

// ProcessGoalReachedCampaigns runs one pass over every campaign waiting for
// fulfillment and returns how many were processed.
func (f *FulfillmentFlowImpl) ProcessGoalReachedCampaigns(ctx context.Context) (int, int, error) {
	campaigns, err := f.campaignRepo.ListGoalReached(ctx, 0)
	if err != nil {
		return 0, 0, NewBusinessError("FULFILLMENT_LIST_FAILED", "Failed to list goal-reached campaigns", err)
	}

	processed, closed := 0, 0
	for _, campaign := range campaigns {
		if ctx.Err() != nil {
			return processed, closed, ctx.Err()
		}
		run, err := f.ProcessCampaign(ctx, campaign)
		if err != nil {
			continue
		}
		processed++
		if run.CampaignClosed {
			closed++
		}
	}
	return processed, closed, nil
}

// ProcessCampaign reconciles one goal-reached campaign.
func (f *FulfillmentFlowImpl) ProcessCampaign(ctx context.Context, campaign *models.Campaign) (*models.FulfillmentRun, error) {
	if campaign.Status != models.CampaignStatusGoalReached {
		return nil, NewBusinessError("CAMPAIGN_NOT_FULFILLABLE", "Campaign is not awaiting fulfillment", ErrInvalidStatusTransition)
	}

	run := &models.FulfillmentRun{
		CampaignID: campaign.ID,
		StartedAt:  utils.UTCNow(),
	}
	if err := f.runRepo.Save(ctx, run); err != nil {
		return nil, NewBusinessError("FULFILLMENT_RUN_FAILED", "Failed to record fulfillment run", err)
	}

	// Late safety net: pay_on_success commitments that somehow missed the
	// deadline stamp at goal time get one here.
	if campaign.PaymentDeadline != nil {
		_, _ = f.commitmentRepo.StampPaymentDeadlines(ctx, campaign.ID, *campaign.PaymentDeadline)
	}

	f.finalizePaid(ctx, campaign, run)
	f.expireOverdue(ctx, campaign, run)
	f.remindPending(ctx, campaign, run)

	// The campaign closes once no commitment can still change the outcome:
	// everything is either finalized into an order or expired out.
	if run.UnpaidCount == 0 && run.OrderFailures == 0 {
		remaining, err := f.commitmentRepo.ListByCampaignAndStatuses(ctx, campaign.ID, []models.CommitmentStatus{
			models.CommitmentStatusUnpaid,
			models.CommitmentStatusPaid,
		})
		if err == nil && len(remaining) == 0 {
			if err := f.campaignRepo.TransitionStatus(ctx, campaign.ID, models.CampaignStatusGoalReached, models.CampaignStatusCompleted); err == nil {
				run.CampaignClosed = true
				desc := fmt.Sprintf("Campaign completed with %d finalized commitments", len(run.FinalizedCommitmentIDs))
				_ = saveAuditLog(ctx, f.auditRepo, models.AuditActionCampaignCompleted, &campaign.ID, nil, nil, desc, true, nil, nil)
			}
		}
	}

	now := utils.UTCNow()
	run.FinishedAt = &now
	if err := f.runRepo.Update(ctx, run); err != nil {
		return nil, NewBusinessError("FULFILLMENT_RUN_FAILED", "Failed to persist fulfillment run", err)
	}

	runDesc := fmt.Sprintf("Fulfillment run: %d finalized, %d expired, %d unpaid, %d order failures, closed=%t",
		run.PaidCount, len(run.ExpiredCommitmentIDs), run.UnpaidCount, run.OrderFailures, run.CampaignClosed)
	_ = saveAuditLog(ctx, f.auditRepo, models.AuditActionFulfillmentRun, &campaign.ID, nil, nil, runDesc, true, nil, nil)

	return run, nil
}

// finalizePaid converts paid commitments into orders. The commitment UUID is
// the idempotency key downstream, so a crash between order creation and the
// status write cannot duplicate an order on the next run.
func (f *FulfillmentFlowImpl) finalizePaid(ctx context.Context, campaign *models.Campaign, run *models.FulfillmentRun) {
	paid, err := f.commitmentRepo.ListByCampaignAndStatuses(ctx, campaign.ID, []models.CommitmentStatus{
		models.CommitmentStatusPaid,
	})
	if err != nil {
		msg := err.Error()
		run.LastError = &msg
		return
	}

	for _, c := range paid {
		result, err := f.orders.CreateOrder(ctx, services.CreateOrderInput{
			CommitmentUUID: c.UUID.String(),
			CampaignUUID:   campaign.UUID.String(),
			ProductID:      campaign.ProductID,
			UserID:         c.UserID,
			Quantity:       c.Quantity,
			UnitPrice:      c.UnitPrice,
		})
		if err != nil {
			run.OrderFailures++
			errMsg := fmt.Sprintf("Order creation failed for commitment %s: %s", c.UUID, err.Error())
			run.LastError = &errMsg
			_ = saveAuditLog(ctx, f.auditRepo, models.AuditActionOrderCreationFailed, &campaign.ID, &c.ID, &c.UserID, errMsg, false, &errMsg, nil)
			continue
		}

		if err := f.commitmentRepo.UpdateStatusIf(ctx, c.ID, models.CommitmentStatusPaid, models.CommitmentStatusCompleted, map[string]any{
			"order_id": result.OrderID,
		}); err != nil {
			// Another worker finalized it first; the order is already
			// accounted for by the idempotency key.
			continue
		}

		run.PaidCount++
		run.FinalizedCommitmentIDs = append(run.FinalizedCommitmentIDs, int64(c.ID))
		_ = f.notifier.NotifyOrderCreated(ctx, c.UserID, c.UUID.String(), result.OrderID)
		desc := fmt.Sprintf("Order %s created for commitment %s", result.OrderID, c.UUID)
		_ = saveAuditLog(ctx, f.auditRepo, models.AuditActionOrderCreated, &campaign.ID, &c.ID, &c.UserID, desc, true, nil, nil)
	}
}

// expireOverdue expires unpaid commitments past their payment deadline and
// frees their quantity.
func (f *FulfillmentFlowImpl) expireOverdue(ctx context.Context, campaign *models.Campaign, run *models.FulfillmentRun) {
	unpaid, err := f.commitmentRepo.ListByCampaignAndStatuses(ctx, campaign.ID, []models.CommitmentStatus{
		models.CommitmentStatusUnpaid,
	})
	if err != nil {
		msg := err.Error()
		run.LastError = &msg
		return
	}

	now := utils.UTCNow()
	for _, c := range unpaid {
		if !c.PaymentOverdue(now) {
			continue
		}
		if f.expireCommitment(ctx, campaign, c) {
			run.ExpiredCommitmentIDs = append(run.ExpiredCommitmentIDs, int64(c.ID))
		}
	}
}

// expireCommitment performs the expire-and-release pair in one transaction.
// The compare-and-set on the commitment status guarantees the release runs
// at most once per commitment no matter how many sweeps race.
func (f *FulfillmentFlowImpl) expireCommitment(ctx context.Context, campaign *models.Campaign, c *models.Commitment) bool {
	err := repository.WithTransaction(ctx, f.db, func(txCtx context.Context) error {
		if err := f.commitmentRepo.UpdateStatusIf(txCtx, c.ID, models.CommitmentStatusUnpaid, models.CommitmentStatusWindowExpired, map[string]any{
			"failure_reason": "payment_window_expired",
		}); err != nil {
			return err
		}
		_, err := f.campaignRepo.ReleaseQuantity(txCtx, campaign.ID, c.Quantity)
		return err
	})
	if err != nil {
		return false
	}

	_ = f.notifier.NotifyCommitmentExpired(ctx, c.UserID, c.UUID.String())
	desc := fmt.Sprintf("Payment window expired for commitment %s, %d units released", c.UUID, c.Quantity)
	_ = saveAuditLog(ctx, f.auditRepo, models.AuditActionCommitmentExpired, &campaign.ID, &c.ID, &c.UserID, desc, true, nil, nil)
	return true
}

// remindPending counts unpaid commitments still inside their window and
// nudges them.
func (f *FulfillmentFlowImpl) remindPending(ctx context.Context, campaign *models.Campaign, run *models.FulfillmentRun) {
	unpaid, err := f.commitmentRepo.ListByCampaignAndStatuses(ctx, campaign.ID, []models.CommitmentStatus{
		models.CommitmentStatusUnpaid,
	})
	if err != nil {
		msg := err.Error()
		run.LastError = &msg
		return
	}

	now := utils.UTCNow()
	for _, c := range unpaid {
		if c.PaymentOverdue(now) {
			continue
		}
		run.UnpaidCount++
		if err := f.notifier.NotifyPaymentReminder(ctx, c.UserID, c.UUID.String()); err == nil {
			run.RemindersSent++
		}
	}
}

// SweepExpiredCampaigns fails active campaigns whose expiry passed before the
// goal was met. Unpaid commitments are cancelled; paid ones (pay_to_book) are
// refunded.
func (f *FulfillmentFlowImpl) SweepExpiredCampaigns(ctx context.Context, batchSize int) (int, error) {
	campaigns, err := f.campaignRepo.ListExpiredActive(ctx, utils.UTCNow(), batchSize)
	if err != nil {
		return 0, NewBusinessError("SWEEP_LIST_FAILED", "Failed to list expired campaigns", err)
	}

	swept := 0
	for _, campaign := range campaigns {
		if ctx.Err() != nil {
			return swept, ctx.Err()
		}
		if err := f.failExpiredCampaign(ctx, campaign); err != nil {
			continue
		}
		swept++
	}
	return swept, nil
}

func (f *FulfillmentFlowImpl) failExpiredCampaign(ctx context.Context, campaign *models.Campaign) error {
	// The compare-and-set is the claim: whoever wins it owns the cleanup.
	// A racing commit that lands first makes this a no-op.
	if err := f.campaignRepo.TransitionStatus(ctx, campaign.ID, models.CampaignStatusActive, models.CampaignStatusFailed); err != nil {
		return err
	}

	desc := fmt.Sprintf("Campaign expired at %d of %d", campaign.CurrentQuantity, campaign.GoalQuantity)
	_ = saveAuditLog(ctx, f.auditRepo, models.AuditActionCampaignExpired, &campaign.ID, nil, nil, desc, true, nil, nil)

	live, err := f.commitmentRepo.ListByCampaignAndStatuses(ctx, campaign.ID, []models.CommitmentStatus{
		models.CommitmentStatusUnpaid,
		models.CommitmentStatusPaid,
	})
	if err != nil {
		return err
	}

	for _, c := range live {
		switch c.Status {
		case models.CommitmentStatusUnpaid:
			err := repository.WithTransaction(ctx, f.db, func(txCtx context.Context) error {
				if err := f.commitmentRepo.UpdateStatusIf(txCtx, c.ID, models.CommitmentStatusUnpaid, models.CommitmentStatusCancelled, map[string]any{
					"failure_reason": "campaign_expired",
				}); err != nil {
					return err
				}
				_, err := f.campaignRepo.ReleaseQuantity(txCtx, campaign.ID, c.Quantity)
				return err
			})
			if err != nil {
				continue
			}
			_ = f.notifier.NotifyCampaignFailed(ctx, c.UserID, campaign.UUID.String(), false)
			_ = saveAuditLog(ctx, f.auditRepo, models.AuditActionCommitmentCancelled, &campaign.ID, &c.ID, &c.UserID, "Commitment cancelled, campaign expired", true, nil, nil)

		case models.CommitmentStatusPaid:
			// A failed refund leaves the commitment paid, and its quantity
			// counted, until the stranded-refund sweep retries it.
			if err := f.refundAndRelease(ctx, campaign, c, "campaign_expired"); err != nil {
				continue
			}
			_ = f.notifier.NotifyCampaignFailed(ctx, c.UserID, campaign.UUID.String(), true)
			_ = saveAuditLog(ctx, f.auditRepo, models.AuditActionCommitmentRefunded, &campaign.ID, &c.ID, &c.UserID, "Commitment refunded, campaign expired", true, nil, nil)
		}
	}

	return nil
}

// refundAndRelease refunds a paid commitment and frees its quantity. The
// status compare-and-set and the release share one transaction, so a crash
// or a racing sweep cannot release the same quantity twice.
func (f *FulfillmentFlowImpl) refundAndRelease(ctx context.Context, campaign *models.Campaign, c *models.Commitment, reason string) error {
	amount := c.UnitPrice * uint64(c.Quantity)
	if _, err := f.gateway.Refund(ctx, services.RefundInput{
		OrderID: c.UUID.String(),
		Amount:  amount,
		Reason:  reason,
	}); err != nil {
		errMsg := fmt.Sprintf("Refund failed for commitment %s: %s", c.UUID, err.Error())
		_ = saveAuditLog(ctx, f.auditRepo, models.AuditActionCommitmentRefunded, &campaign.ID, &c.ID, &c.UserID, errMsg, false, &errMsg, nil)
		return err
	}

	return repository.WithTransaction(ctx, f.db, func(txCtx context.Context) error {
		if err := f.commitmentRepo.UpdateStatusIf(txCtx, c.ID, models.CommitmentStatusPaid, models.CommitmentStatusRefunded, map[string]any{
			"failure_reason": reason,
		}); err != nil {
			return err
		}
		_, err := f.campaignRepo.ReleaseQuantity(txCtx, campaign.ID, c.Quantity)
		return err
	})
}

// SweepStrandedRefunds retries refunds that failed while a campaign was being
// cancelled or expired. A paid commitment on a closed campaign keeps its money
// and its counted quantity until a refund lands, so each pass picks those up
// until none remain.
func (f *FulfillmentFlowImpl) SweepStrandedRefunds(ctx context.Context, batchSize int) (int, error) {
	stranded, err := f.commitmentRepo.ListPaidOnClosedCampaigns(ctx, batchSize)
	if err != nil {
		return 0, NewBusinessError("SWEEP_LIST_FAILED", "Failed to list stranded refunds", err)
	}

	refunded := 0
	for _, c := range stranded {
		if ctx.Err() != nil {
			return refunded, ctx.Err()
		}
		campaign, err := f.campaignRepo.ByID(ctx, c.CampaignID)
		if err != nil || campaign == nil {
			continue
		}
		if err := f.refundAndRelease(ctx, campaign, c, "campaign_closed_refund_retry"); err != nil {
			continue
		}
		refunded++
		_ = f.notifier.NotifyCampaignFailed(ctx, c.UserID, campaign.UUID.String(), true)
	}
	return refunded, nil
}

// SweepOverduePaymentWindows expires unpaid commitments with a lapsed payment
// deadline, regardless of which campaign they belong to.
func (f *FulfillmentFlowImpl) SweepOverduePaymentWindows(ctx context.Context, batchSize int) (int, error) {
	overdue, err := f.commitmentRepo.ListUnpaidPastDeadline(ctx, utils.UTCNow(), batchSize)
	if err != nil {
		return 0, NewBusinessError("SWEEP_LIST_FAILED", "Failed to list overdue commitments", err)
	}

	expired := 0
	for _, c := range overdue {
		if ctx.Err() != nil {
			return expired, ctx.Err()
		}
		campaign, err := f.campaignRepo.ByID(ctx, c.CampaignID)
		if err != nil || campaign == nil {
			continue
		}
		// Terminal campaigns already froze their counter; their commitments
		// were settled by the campaign-level sweep.
		if campaign.Status.IsTerminal() {
			continue
		}
		if f.expireCommitment(ctx, campaign, c) {
			expired++
		}
	}
	return expired, nil
}
