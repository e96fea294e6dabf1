// Package businessflow contains the business logic for the application.
package businessflow

import (
	"context"
	"encoding/json"
	"time"

	"github.com/taleroad/groupbuy-engine/app/dto"
	"github.com/taleroad/groupbuy-engine/models"
	"github.com/taleroad/groupbuy-engine/repository"
)

const RequestIDKey = "X-Request-ID"

// ClientMetadata holds all client-related information for audit logging
type ClientMetadata struct {
	IPAddress  string            `json:"ip_address"`
	UserAgent  string            `json:"user_agent"`
	RequestID  string            `json:"request_id,omitempty"`
	Additional map[string]string `json:"additional,omitempty"`
}

// NewClientMetadata creates a new ClientMetadata instance with basic information
func NewClientMetadata(ipAddress, userAgent string) *ClientMetadata {
	return &ClientMetadata{
		IPAddress:  ipAddress,
		UserAgent:  userAgent,
		Additional: make(map[string]string),
	}
}

// AddAdditional adds additional custom information to the metadata
func (cm *ClientMetadata) AddAdditional(key, value string) {
	if cm.Additional == nil {
		cm.Additional = make(map[string]string)
	}
	cm.Additional[key] = value
}

// SetRequestID sets the request ID
func (cm *ClientMetadata) SetRequestID(requestID string) {
	cm.RequestID = requestID
}

// ToCampaignDTO converts a campaign model to its response representation
func ToCampaignDTO(campaign models.Campaign) dto.GetCampaignResponse {
	percent := 0.0
	if campaign.GoalQuantity > 0 {
		percent = float64(campaign.CurrentQuantity) / float64(campaign.GoalQuantity) * 100
	}

	return dto.GetCampaignResponse{
		UUID:               campaign.UUID.String(),
		ProductID:          campaign.ProductID,
		Status:             campaign.Status.String(),
		PaymentMode:        campaign.PaymentMode.String(),
		DiscountPrice:      campaign.DiscountPrice,
		PaymentWindowHours: campaign.PaymentWindowHours,
		Progress: dto.CampaignProgressDTO{
			CurrentQuantity: campaign.CurrentQuantity,
			GoalQuantity:    campaign.GoalQuantity,
			RemainingSpots:  campaign.RemainingSpots(),
			PercentFilled:   percent,
		},
		ExpiryAt:        campaign.ExpiryAt,
		PaymentDeadline: campaign.PaymentDeadline,
		CreatedAt:       campaign.CreatedAt,
		UpdatedAt:       campaign.UpdatedAt,
	}
}

// ToCommitmentDTO converts a commitment model to its response representation
func ToCommitmentDTO(commitment models.Commitment, campaignUUID string) dto.GetCommitmentResponse {
	return dto.GetCommitmentResponse{
		UUID:             commitment.UUID.String(),
		CampaignUUID:     campaignUUID,
		UserID:           commitment.UserID,
		Status:           commitment.Status.String(),
		Quantity:         commitment.Quantity,
		UnitPrice:        commitment.UnitPrice,
		FailureReason:    commitment.FailureReason,
		PaymentReference: commitment.PaymentReference,
		PaymentDeadline:  commitment.PaymentDeadline,
		OrderID:          commitment.OrderID,
		CreatedAt:        commitment.CreatedAt,
		UpdatedAt:        commitment.UpdatedAt,
	}
}

// saveAuditLog persists an audit entry, best effort. Audit failures never
// fail the operation being audited.
func saveAuditLog(ctx context.Context, auditRepo repository.AuditLogRepository, action string, campaignID, commitmentID, userID *uint, description string, success bool, errMsg *string, metadata *ClientMetadata) error {
	audit := &models.AuditLog{
		UserID:       userID,
		CampaignID:   campaignID,
		CommitmentID: commitmentID,
		Action:       action,
		Description:  &description,
		Success:      &success,
		ErrorMessage: errMsg,
		CreatedAt:    time.Now().UTC(),
	}

	if metadata != nil {
		if metadata.RequestID != "" {
			audit.RequestID = &metadata.RequestID
		}
		if raw, err := json.Marshal(metadata); err == nil {
			audit.Metadata = raw
		}
	}

	return auditRepo.Save(ctx, audit)
}
