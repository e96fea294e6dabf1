// Package businessflow contains the core business logic and use cases for group-buy campaign workflows
package businessflow

import (
	"errors"
	"fmt"
)

// Business flow error constants
var (
	// Campaign-related errors
	ErrCampaignNotFound         = errors.New("campaign not found")
	ErrCampaignNotActive        = errors.New("campaign is not accepting commitments")
	ErrCampaignAlreadyFinalized = errors.New("campaign already finalized")
	ErrCampaignExpired          = errors.New("campaign has expired")
	ErrGoalFull                 = errors.New("requested quantity would exceed campaign goal")
	ErrGoalQuantityOutOfRange   = errors.New("goal quantity is out of range")
	ErrExpiryInPast             = errors.New("expiry time must be in the future")
	ErrPaymentWindowOutOfRange  = errors.New("payment window hours is out of range")
	ErrInvalidPaymentMode       = errors.New("invalid payment mode")
	ErrInvalidStatusTransition  = errors.New("invalid campaign status transition")

	// Commitment-related errors
	ErrCommitmentNotFound           = errors.New("commitment not found")
	ErrCommitmentNotCancelable      = errors.New("commitment cannot be cancelled in its current state")
	ErrCommitmentQuantityOutOfRange = errors.New("commitment quantity is out of range")
	ErrCommitmentAccessDenied       = errors.New("commitment access denied")
	ErrVersionMismatch              = errors.New("record changed concurrently")

	// Payment-related errors
	ErrPaymentReferenceUnknown = errors.New("payment reference does not match any commitment")
	ErrPaymentAlreadyRecorded  = errors.New("payment already recorded for commitment")
	ErrPaymentGatewayFailed    = errors.New("payment gateway request failed")
	ErrWebhookSignatureInvalid = errors.New("webhook signature verification failed")
	ErrRefundFailed            = errors.New("refund request failed")

	// Fulfillment errors
	ErrOrderCreationFailed = errors.New("order creation failed")

	// Filter errors
	ErrInvalidPage     = errors.New("page must be at least 1")
	ErrInvalidPageSize = errors.New("page size must be between 1 and 100")
)

type BusinessError struct {
	Code    string
	Message string
	Err     error
}

func (e *BusinessError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *BusinessError) Unwrap() error {
	return e.Err
}

func NewBusinessError(code, message string, err error) *BusinessError {
	return &BusinessError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

func NewBusinessErrorf(code, message string, err error, args ...any) *BusinessError {
	return &BusinessError{
		Code:    code,
		Message: fmt.Sprintf(message, args...),
		Err:     err,
	}
}

func IsCampaignNotFound(err error) bool {
	return errors.Is(err, ErrCampaignNotFound)
}

func IsCampaignNotActive(err error) bool {
	return errors.Is(err, ErrCampaignNotActive)
}

func IsCampaignAlreadyFinalized(err error) bool {
	return errors.Is(err, ErrCampaignAlreadyFinalized)
}

func IsCampaignExpired(err error) bool {
	return errors.Is(err, ErrCampaignExpired)
}

func IsGoalFull(err error) bool {
	return errors.Is(err, ErrGoalFull)
}

func IsInvalidStatusTransition(err error) bool {
	return errors.Is(err, ErrInvalidStatusTransition)
}

func IsCommitmentNotFound(err error) bool {
	return errors.Is(err, ErrCommitmentNotFound)
}

func IsCommitmentNotCancelable(err error) bool {
	return errors.Is(err, ErrCommitmentNotCancelable)
}

func IsCommitmentAccessDenied(err error) bool {
	return errors.Is(err, ErrCommitmentAccessDenied)
}

func IsVersionMismatch(err error) bool {
	return errors.Is(err, ErrVersionMismatch)
}

func IsPaymentReferenceUnknown(err error) bool {
	return errors.Is(err, ErrPaymentReferenceUnknown)
}

func IsPaymentAlreadyRecorded(err error) bool {
	return errors.Is(err, ErrPaymentAlreadyRecorded)
}

func IsPaymentGatewayFailed(err error) bool {
	return errors.Is(err, ErrPaymentGatewayFailed)
}

func IsWebhookSignatureInvalid(err error) bool {
	return errors.Is(err, ErrWebhookSignatureInvalid)
}

func IsOrderCreationFailed(err error) bool {
	return errors.Is(err, ErrOrderCreationFailed)
}

func IsInvalidPage(err error) bool {
	return errors.Is(err, ErrInvalidPage)
}

func IsInvalidPageSize(err error) bool {
	return errors.Is(err, ErrInvalidPageSize)
}
