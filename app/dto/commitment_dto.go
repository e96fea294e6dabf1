package dto

import (
	"time"
)

// CreateCommitmentRequest represents a buyer joining a campaign
type CreateCommitmentRequest struct {
	CampaignUUID string `json:"-"`
	UserID       uint   `json:"-"`
	Quantity     int    `json:"quantity" validate:"required,min=1"`
}

// CreateCommitmentResponse represents the response to a new commitment
type CreateCommitmentResponse struct {
	UUID            string     `json:"uuid"`
	Status          string     `json:"status"`
	Quantity        int        `json:"quantity"`
	UnitPrice       uint64     `json:"unit_price"`
	PaymentDeadline *time.Time `json:"payment_deadline,omitempty"`
	PaymentToken    *string    `json:"payment_token,omitempty"`
	PaymentURL      *string    `json:"payment_url,omitempty"`
	GoalReached     bool       `json:"goal_reached"`
	RemainingSpots  int        `json:"remaining_spots"`
}

// GetCommitmentResponse represents a commitment in responses
type GetCommitmentResponse struct {
	UUID             string     `json:"uuid"`
	CampaignUUID     string     `json:"campaign_uuid"`
	UserID           uint       `json:"user_id"`
	Status           string     `json:"status"`
	Quantity         int        `json:"quantity"`
	UnitPrice        uint64     `json:"unit_price"`
	FailureReason    *string    `json:"failure_reason,omitempty"`
	PaymentReference *string    `json:"payment_reference,omitempty"`
	PaymentDeadline  *time.Time `json:"payment_deadline,omitempty"`
	OrderID          *string    `json:"order_id,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        *time.Time `json:"updated_at,omitempty"`
}

// CancelCommitmentRequest represents a buyer backing out before paying
type CancelCommitmentRequest struct {
	UUID   string `json:"-"`
	UserID uint   `json:"-"`
}

// CancelCommitmentResponse represents the response to cancel a commitment
type CancelCommitmentResponse struct {
	UUID           string `json:"uuid"`
	Status         string `json:"status"`
	RemainingSpots int    `json:"remaining_spots"`
}

// PaymentWebhookRequest represents an incoming payment gateway notification
type PaymentWebhookRequest struct {
	OrderID           string `json:"order_id" validate:"required"`
	TransactionStatus string `json:"transaction_status" validate:"required"`
	FraudStatus       string `json:"fraud_status,omitempty"`
	StatusCode        string `json:"status_code,omitempty"`
	GrossAmount       string `json:"gross_amount,omitempty"`
	SignatureKey      string `json:"signature_key,omitempty"`
}

// PaymentWebhookResponse acknowledges a processed webhook
type PaymentWebhookResponse struct {
	UUID   string `json:"uuid"`
	Status string `json:"status"`
}
