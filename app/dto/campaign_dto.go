package dto

import (
	"time"
)

// CreateCampaignRequest represents the request to create a new group-buy campaign
type CreateCampaignRequest struct {
	ProductID          uint      `json:"product_id" validate:"required"`
	GoalQuantity       int       `json:"goal_quantity" validate:"required,min=1"`
	DiscountPrice      uint64    `json:"discount_price" validate:"required,min=1"`
	PaymentMode        string    `json:"payment_mode" validate:"required,oneof=pay_to_book pay_on_success"`
	PaymentWindowHours int       `json:"payment_window_hours" validate:"required,min=1"`
	ExpiryAt           time.Time `json:"expiry_at" validate:"required"`
}

// CreateCampaignResponse represents the response to create a new campaign
type CreateCampaignResponse struct {
	UUID   string `json:"uuid"`
	Status string `json:"status"`
}

// GetCampaignRequest represents the request to get an existing campaign
type GetCampaignRequest struct {
	UUID string `json:"-"`
}

// CampaignProgressDTO represents live progress numbers for a campaign
type CampaignProgressDTO struct {
	CurrentQuantity int     `json:"current_quantity"`
	GoalQuantity    int     `json:"goal_quantity"`
	RemainingSpots  int     `json:"remaining_spots"`
	PercentFilled   float64 `json:"percent_filled"`
}

// GetCampaignResponse represents a campaign in responses
type GetCampaignResponse struct {
	UUID               string              `json:"uuid"`
	ProductID          uint                `json:"product_id"`
	Status             string              `json:"status"`
	PaymentMode        string              `json:"payment_mode"`
	DiscountPrice      uint64              `json:"discount_price"`
	PaymentWindowHours int                 `json:"payment_window_hours"`
	Progress           CampaignProgressDTO `json:"progress"`
	ExpiryAt           time.Time           `json:"expiry_at"`
	PaymentDeadline    *time.Time          `json:"payment_deadline,omitempty"`
	CreatedAt          time.Time           `json:"created_at"`
	UpdatedAt          *time.Time          `json:"updated_at,omitempty"`
}

// ListCampaignsRequest represents the request to list campaigns
type ListCampaignsRequest struct {
	Status    *string `json:"-" query:"status"`
	ProductID *uint   `json:"-" query:"product_id"`
	Page      int     `json:"-" query:"page"`
	PageSize  int     `json:"-" query:"page_size"`
}

// ListCampaignsResponse represents a page of campaigns
type ListCampaignsResponse struct {
	Message string                `json:"message"`
	Items   []GetCampaignResponse `json:"items"`
	Total   int64                 `json:"total"`
	Page    int                   `json:"page"`
}

// ActivateCampaignRequest represents the request to activate a draft campaign
type ActivateCampaignRequest struct {
	UUID string `json:"-"`
}

// ActivateCampaignResponse represents the response to activate a campaign
type ActivateCampaignResponse struct {
	UUID   string `json:"uuid"`
	Status string `json:"status"`
}

// CancelCampaignRequest represents the request to cancel a campaign
type CancelCampaignRequest struct {
	UUID   string  `json:"-"`
	Reason *string `json:"reason,omitempty" validate:"omitempty,max=255"`
}

// CancelCampaignResponse represents the response to cancel a campaign
type CancelCampaignResponse struct {
	UUID                 string `json:"uuid"`
	Status               string `json:"status"`
	CancelledCommitments int    `json:"cancelled_commitments"`
	RefundsIssued        int    `json:"refunds_issued"`
}

// ForceSucceedCampaignRequest represents the request to close a campaign at its current count
type ForceSucceedCampaignRequest struct {
	UUID string `json:"-"`
}

// ForceSucceedCampaignResponse represents the response to force-succeed a campaign
type ForceSucceedCampaignResponse struct {
	UUID            string     `json:"uuid"`
	Status          string     `json:"status"`
	CurrentQuantity int        `json:"current_quantity"`
	PaymentDeadline *time.Time `json:"payment_deadline,omitempty"`
}
