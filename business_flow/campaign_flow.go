// Package businessflow contains the core business logic and use cases for campaign lifecycle workflows
package businessflow

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/taleroad/groupbuy-engine/app/dto"
	"github.com/taleroad/groupbuy-engine/app/services"
	"github.com/taleroad/groupbuy-engine/config"
	"github.com/taleroad/groupbuy-engine/models"
	"github.com/taleroad/groupbuy-engine/repository"
	"github.com/taleroad/groupbuy-engine/utils"
	"gorm.io/gorm"
)

// CampaignFlow handles the campaign lifecycle business logic
type CampaignFlow interface {
	CreateCampaign(ctx context.Context, req *dto.CreateCampaignRequest, metadata *ClientMetadata) (*dto.CreateCampaignResponse, error)
	ActivateCampaign(ctx context.Context, req *dto.ActivateCampaignRequest, metadata *ClientMetadata) (*dto.ActivateCampaignResponse, error)
	GetCampaign(ctx context.Context, req *dto.GetCampaignRequest) (*dto.GetCampaignResponse, error)
	ListCampaigns(ctx context.Context, req *dto.ListCampaignsRequest) (*dto.ListCampaignsResponse, error)
	CancelCampaign(ctx context.Context, req *dto.CancelCampaignRequest, metadata *ClientMetadata) (*dto.CancelCampaignResponse, error)
	ForceSucceedCampaign(ctx context.Context, req *dto.ForceSucceedCampaignRequest, metadata *ClientMetadata) (*dto.ForceSucceedCampaignResponse, error)
}

// CampaignFlowImpl implements the campaign lifecycle business flow
type CampaignFlowImpl struct {
	campaignRepo   repository.CampaignRepository
	commitmentRepo repository.CommitmentRepository
	auditRepo      repository.AuditLogRepository
	gateway        services.PaymentGateway
	notifier       services.NotificationService
	rc             *redis.Client
	cacheConfig    *config.CacheConfig
	db             *gorm.DB
}

// NewCampaignFlow creates a new campaign flow instance
func NewCampaignFlow(
	campaignRepo repository.CampaignRepository,
	commitmentRepo repository.CommitmentRepository,
	auditRepo repository.AuditLogRepository,
	gateway services.PaymentGateway,
	notifier services.NotificationService,
	rc *redis.Client,
	cacheConfig *config.CacheConfig,
	db *gorm.DB,
) CampaignFlow {
	return &CampaignFlowImpl{
		campaignRepo:   campaignRepo,
		commitmentRepo: commitmentRepo,
		auditRepo:      auditRepo,
		gateway:        gateway,
		notifier:       notifier,
		rc:             rc,
		cacheConfig:    cacheConfig,
		db:             db,
	}
}

func redisKey(cfg config.CacheConfig, key string) string {
	return cfg.RedisPrefix + key
}

func campaignCacheKey(cfg config.CacheConfig, campaignUUID string) string {
	return redisKey(cfg, "campaign:"+campaignUUID)
}

// CreateCampaign validates and persists a new draft campaign
func (f *CampaignFlowImpl) CreateCampaign(ctx context.Context, req *dto.CreateCampaignRequest, metadata *ClientMetadata) (*dto.CreateCampaignResponse, error) {
	if err := f.validateCreateCampaignRequest(req); err != nil {
		return nil, NewBusinessError("CAMPAIGN_VALIDATION_FAILED", "Campaign validation failed", err)
	}

	campaign := &models.Campaign{
		ProductID:          req.ProductID,
		GoalQuantity:       req.GoalQuantity,
		CurrentQuantity:    0,
		DiscountPrice:      req.DiscountPrice,
		PaymentMode:        models.PaymentMode(req.PaymentMode),
		PaymentWindowHours: req.PaymentWindowHours,
		Status:             models.CampaignStatusDraft,
		ExpiryAt:           utils.TimeToUTC(req.ExpiryAt),
	}

	if err := f.campaignRepo.Save(ctx, campaign); err != nil {
		return nil, NewBusinessError("CAMPAIGN_CREATION_FAILED", "Campaign creation failed", err)
	}

	desc := fmt.Sprintf("Campaign created for product %d with goal %d", campaign.ProductID, campaign.GoalQuantity)
	_ = saveAuditLog(ctx, f.auditRepo, models.AuditActionCampaignCreated, &campaign.ID, nil, nil, desc, true, nil, metadata)

	return &dto.CreateCampaignResponse{
		UUID:   campaign.UUID.String(),
		Status: campaign.Status.String(),
	}, nil
}

func (f *CampaignFlowImpl) validateCreateCampaignRequest(req *dto.CreateCampaignRequest) error {
	if req.GoalQuantity < 1 || req.GoalQuantity > utils.MaxGoalQuantity {
		return ErrGoalQuantityOutOfRange
	}
	if !models.PaymentMode(req.PaymentMode).Valid() {
		return ErrInvalidPaymentMode
	}
	if req.PaymentWindowHours < utils.MinPaymentWindowHours || req.PaymentWindowHours > utils.MaxPaymentWindowHours {
		return ErrPaymentWindowOutOfRange
	}
	if !req.ExpiryAt.After(utils.UTCNow()) {
		return ErrExpiryInPast
	}
	return nil
}

// ActivateCampaign opens a draft campaign for commitments
func (f *CampaignFlowImpl) ActivateCampaign(ctx context.Context, req *dto.ActivateCampaignRequest, metadata *ClientMetadata) (*dto.ActivateCampaignResponse, error) {
	campaign, err := f.campaignRepo.ByUUID(ctx, req.UUID)
	if err != nil {
		return nil, NewBusinessError("CAMPAIGN_LOOKUP_FAILED", "Failed to lookup campaign", err)
	}
	if campaign == nil {
		return nil, NewBusinessError("CAMPAIGN_NOT_FOUND", "Campaign not found", ErrCampaignNotFound)
	}
	if !campaign.CanTransitionTo(models.CampaignStatusActive) {
		return nil, NewBusinessError("CAMPAIGN_NOT_ACTIVATABLE", "Only draft campaigns can be activated", ErrInvalidStatusTransition)
	}
	if campaign.IsExpired() {
		return nil, NewBusinessError("CAMPAIGN_EXPIRED", "Campaign expiry has already passed", ErrCampaignExpired)
	}

	if err := f.campaignRepo.TransitionStatus(ctx, campaign.ID, models.CampaignStatusDraft, models.CampaignStatusActive); err != nil {
		return nil, NewBusinessError("CAMPAIGN_ACTIVATION_FAILED", "Campaign activation failed", err)
	}

	f.invalidateCampaignCache(ctx, campaign.UUID.String())

	desc := "Campaign activated"
	_ = saveAuditLog(ctx, f.auditRepo, models.AuditActionCampaignActivated, &campaign.ID, nil, nil, desc, true, nil, metadata)

	return &dto.ActivateCampaignResponse{
		UUID:   campaign.UUID.String(),
		Status: models.CampaignStatusActive.String(),
	}, nil
}

// GetCampaign returns a campaign with its live progress. Reads go through a
// short-lived cache snapshot; the snapshot is display-only and never feeds
// back into any reservation decision.
func (f *CampaignFlowImpl) GetCampaign(ctx context.Context, req *dto.GetCampaignRequest) (*dto.GetCampaignResponse, error) {
	if f.cacheEnabled() {
		cacheKey := campaignCacheKey(*f.cacheConfig, req.UUID)
		if bs, err := f.rc.Get(ctx, cacheKey).Bytes(); err == nil && len(bs) > 0 {
			var cached dto.GetCampaignResponse
			if json.Unmarshal(bs, &cached) == nil {
				return &cached, nil
			}
		}
	}

	campaign, err := f.campaignRepo.ByUUID(ctx, req.UUID)
	if err != nil {
		return nil, NewBusinessError("CAMPAIGN_LOOKUP_FAILED", "Failed to lookup campaign", err)
	}
	if campaign == nil {
		return nil, NewBusinessError("CAMPAIGN_NOT_FOUND", "Campaign not found", ErrCampaignNotFound)
	}

	resp := ToCampaignDTO(*campaign)

	if f.cacheEnabled() {
		if bs, err := json.Marshal(resp); err == nil {
			cacheKey := campaignCacheKey(*f.cacheConfig, req.UUID)
			_ = f.rc.Set(ctx, cacheKey, bs, f.cacheConfig.DefaultTTL).Err()
		}
	}

	return &resp, nil
}

// ListCampaigns returns a page of campaigns matching the optional filters
func (f *CampaignFlowImpl) ListCampaigns(ctx context.Context, req *dto.ListCampaignsRequest) (*dto.ListCampaignsResponse, error) {
	page := req.Page
	if page < 1 {
		page = 1
	}
	pageSize := req.PageSize
	if pageSize < 1 {
		pageSize = 20
	}
	if pageSize > 100 {
		return nil, NewBusinessError("VALIDATION_ERROR", "Page size is too large", ErrInvalidPageSize)
	}

	filter := models.CampaignFilter{ProductID: req.ProductID}
	if req.Status != nil {
		status := models.CampaignStatus(*req.Status)
		if !status.Valid() {
			return nil, NewBusinessError("VALIDATION_ERROR", "Unknown campaign status", ErrInvalidStatusTransition)
		}
		filter.Status = &status
	}

	total, err := f.campaignRepo.Count(ctx, filter)
	if err != nil {
		return nil, NewBusinessError("CAMPAIGN_LIST_FAILED", "Failed to count campaigns", err)
	}

	campaigns, err := f.campaignRepo.ByFilter(ctx, filter, "created_at DESC", pageSize, (page-1)*pageSize)
	if err != nil {
		return nil, NewBusinessError("CAMPAIGN_LIST_FAILED", "Failed to list campaigns", err)
	}

	items := make([]dto.GetCampaignResponse, 0, len(campaigns))
	for _, c := range campaigns {
		items = append(items, ToCampaignDTO(*c))
	}

	return &dto.ListCampaignsResponse{
		Message: "Campaigns retrieved successfully",
		Items:   items,
		Total:   total,
		Page:    page,
	}, nil
}

// CancelCampaign closes a campaign before it finishes on its own. Live
// commitments are cancelled; paid ones are refunded.
func (f *CampaignFlowImpl) CancelCampaign(ctx context.Context, req *dto.CancelCampaignRequest, metadata *ClientMetadata) (*dto.CancelCampaignResponse, error) {
	campaign, err := f.campaignRepo.ByUUID(ctx, req.UUID)
	if err != nil {
		return nil, NewBusinessError("CAMPAIGN_LOOKUP_FAILED", "Failed to lookup campaign", err)
	}
	if campaign == nil {
		return nil, NewBusinessError("CAMPAIGN_NOT_FOUND", "Campaign not found", ErrCampaignNotFound)
	}
	if campaign.Status.IsTerminal() {
		return nil, NewBusinessError("CAMPAIGN_ALREADY_FINALIZED", "Campaign is already finalized", ErrCampaignAlreadyFinalized)
	}
	if !campaign.CanTransitionTo(models.CampaignStatusCancelled) {
		return nil, NewBusinessError("CAMPAIGN_NOT_CANCELABLE", "Campaign cannot be cancelled in its current state", ErrInvalidStatusTransition)
	}

	var cancelled int
	var paidCommitments []*models.Commitment

	err = repository.WithTransaction(ctx, f.db, func(txCtx context.Context) error {
		if err := f.campaignRepo.TransitionStatus(txCtx, campaign.ID, campaign.Status, models.CampaignStatusCancelled); err != nil {
			return err
		}

		live, err := f.commitmentRepo.ListByCampaignAndStatuses(txCtx, campaign.ID, []models.CommitmentStatus{
			models.CommitmentStatusUnpaid,
			models.CommitmentStatusPaid,
		})
		if err != nil {
			return err
		}

		reason := "campaign_cancelled"
		if req.Reason != nil && *req.Reason != "" {
			reason = *req.Reason
		}

		for _, c := range live {
			switch c.Status {
			case models.CommitmentStatusUnpaid:
				if err := f.commitmentRepo.UpdateStatusIf(txCtx, c.ID, models.CommitmentStatusUnpaid, models.CommitmentStatusCancelled, map[string]any{
					"failure_reason": reason,
				}); err != nil {
					return err
				}
				if _, err := f.campaignRepo.ReleaseQuantity(txCtx, campaign.ID, c.Quantity); err != nil {
					return err
				}
				cancelled++
			case models.CommitmentStatusPaid:
				paidCommitments = append(paidCommitments, c)
			}
		}
		return nil
	})
	if err != nil {
		errMsg := fmt.Sprintf("Campaign cancellation failed: %s", err.Error())
		_ = saveAuditLog(ctx, f.auditRepo, models.AuditActionCampaignCancelled, &campaign.ID, nil, nil, errMsg, false, &errMsg, metadata)
		return nil, NewBusinessError("CAMPAIGN_CANCELLATION_FAILED", "Campaign cancellation failed", err)
	}

	// Refunds run outside the transaction. A failed refund leaves the
	// commitment paid, and its quantity counted, until the stranded-refund
	// sweep retries it.
	refunds := 0
	for _, c := range paidCommitments {
		if err := f.refundAndCancel(ctx, campaign, c, "campaign_cancelled"); err != nil {
			continue
		}
		refunds++
		cancelled++
	}

	f.invalidateCampaignCache(ctx, campaign.UUID.String())

	desc := fmt.Sprintf("Campaign cancelled, %d commitments closed, %d refunds issued", cancelled, refunds)
	_ = saveAuditLog(ctx, f.auditRepo, models.AuditActionCampaignCancelled, &campaign.ID, nil, nil, desc, true, nil, metadata)

	return &dto.CancelCampaignResponse{
		UUID:                 campaign.UUID.String(),
		Status:               models.CampaignStatusCancelled.String(),
		CancelledCommitments: cancelled,
		RefundsIssued:        refunds,
	}, nil
}

func (f *CampaignFlowImpl) refundAndCancel(ctx context.Context, campaign *models.Campaign, c *models.Commitment, reason string) error {
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

	// The status compare-and-set and the release share one transaction, so
	// a refunded commitment frees its quantity exactly once.
	err := repository.WithTransaction(ctx, f.db, func(txCtx context.Context) error {
		if err := f.commitmentRepo.UpdateStatusIf(txCtx, c.ID, models.CommitmentStatusPaid, models.CommitmentStatusRefunded, map[string]any{
			"failure_reason": reason,
		}); err != nil {
			return err
		}
		_, err := f.campaignRepo.ReleaseQuantity(txCtx, campaign.ID, c.Quantity)
		return err
	})
	if err != nil {
		return err
	}

	_ = f.notifier.NotifyCampaignFailed(ctx, c.UserID, campaign.UUID.String(), true)
	desc := fmt.Sprintf("Commitment %s refunded", c.UUID)
	_ = saveAuditLog(ctx, f.auditRepo, models.AuditActionCommitmentRefunded, &campaign.ID, &c.ID, &c.UserID, desc, true, nil, nil)
	return nil
}

// ForceSucceedCampaign closes an active campaign at its current count as if
// the goal had been met. The counter is filled to the goal so the closed
// campaign satisfies the same accounting as an organically reached goal.
func (f *CampaignFlowImpl) ForceSucceedCampaign(ctx context.Context, req *dto.ForceSucceedCampaignRequest, metadata *ClientMetadata) (*dto.ForceSucceedCampaignResponse, error) {
	campaign, err := f.campaignRepo.ByUUID(ctx, req.UUID)
	if err != nil {
		return nil, NewBusinessError("CAMPAIGN_LOOKUP_FAILED", "Failed to lookup campaign", err)
	}
	if campaign == nil {
		return nil, NewBusinessError("CAMPAIGN_NOT_FOUND", "Campaign not found", ErrCampaignNotFound)
	}
	if campaign.Status != models.CampaignStatusActive {
		return nil, NewBusinessError("CAMPAIGN_NOT_ACTIVE", "Only active campaigns can be force-succeeded", ErrCampaignNotActive)
	}

	deadline := utils.UTCNowAdd(campaign.PaymentWindow())

	var result *repository.ReservationResult
	err = repository.WithTransaction(ctx, f.db, func(txCtx context.Context) error {
		var err error
		result, err = f.campaignRepo.ForceSucceed(txCtx, campaign.ID, deadline)
		if err != nil {
			return err
		}

		_, err = f.commitmentRepo.StampPaymentDeadlines(txCtx, campaign.ID, deadline)
		return err
	})
	if err != nil {
		return nil, NewBusinessError("CAMPAIGN_FORCE_SUCCEED_FAILED", "Campaign force-succeed failed", err)
	}

	f.invalidateCampaignCache(ctx, campaign.UUID.String())
	f.notifyUnpaidGoalReached(ctx, campaign)

	desc := fmt.Sprintf("Campaign force-succeeded at quantity %d of goal %d", result.NewQuantity, result.GoalQuantity)
	_ = saveAuditLog(ctx, f.auditRepo, models.AuditActionCampaignForceSucceeded, &campaign.ID, nil, nil, desc, true, nil, metadata)

	return &dto.ForceSucceedCampaignResponse{
		UUID:            campaign.UUID.String(),
		Status:          models.CampaignStatusGoalReached.String(),
		CurrentQuantity: result.NewQuantity,
		PaymentDeadline: &deadline,
	}, nil
}

func (f *CampaignFlowImpl) notifyUnpaidGoalReached(ctx context.Context, campaign *models.Campaign) {
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

func (f *CampaignFlowImpl) cacheEnabled() bool {
	return f.rc != nil && f.cacheConfig != nil && f.cacheConfig.Enabled
}

func (f *CampaignFlowImpl) invalidateCampaignCache(ctx context.Context, campaignUUID string) {
	if !f.cacheEnabled() {
		return
	}
	// best effort, snapshot also ages out on its own TTL
	delCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	_ = f.rc.Del(delCtx, campaignCacheKey(*f.cacheConfig, campaignUUID)).Err()
}
