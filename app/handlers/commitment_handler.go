package handlers

import (
	"context"
	"log"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/taleroad/groupbuy-engine/app/dto"
	"github.com/taleroad/groupbuy-engine/app/middleware"
	businessflow "github.com/taleroad/groupbuy-engine/business_flow"
)

// CommitmentHandlerInterface defines the contract for commitment handlers
type CommitmentHandlerInterface interface {
	CreateCommitment(c fiber.Ctx) error
	GetCommitment(c fiber.Ctx) error
	CancelCommitment(c fiber.Ctx) error
	PaymentWebhook(c fiber.Ctx) error
}

// CommitmentHandler handles commitment-related HTTP requests
type CommitmentHandler struct {
	commitmentFlow businessflow.CommitmentFlow
	validator      *validator.Validate
}

// NewCommitmentHandler creates a new commitment handler
func NewCommitmentHandler(commitmentFlow businessflow.CommitmentFlow) *CommitmentHandler {
	return &CommitmentHandler{
		commitmentFlow: commitmentFlow,
		validator:      validator.New(),
	}
}

func (h *CommitmentHandler) ErrorResponse(c fiber.Ctx, statusCode int, message, errorCode string, details any) error {
	return c.Status(statusCode).JSON(dto.APIResponse{
		Success: false,
		Message: message,
		Error: dto.ErrorDetail{
			Code:    errorCode,
			Details: details,
		},
	})
}

func (h *CommitmentHandler) SuccessResponse(c fiber.Ctx, statusCode int, message string, data any) error {
	return c.Status(statusCode).JSON(dto.APIResponse{
		Success: true,
		Message: message,
		Data:    data,
	})
}

// callerUserID extracts the upstream-authenticated user ID from the X-User-ID
// header. Authentication itself lives in the gateway in front of this
// service.
func (h *CommitmentHandler) callerUserID(c fiber.Ctx) (uint, bool) {
	raw := c.Get("X-User-ID")
	if raw == "" {
		return 0, false
	}
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil || id == 0 {
		return 0, false
	}
	return uint(id), true
}

// CreateCommitment handles a buyer joining a campaign
func (h *CommitmentHandler) CreateCommitment(c fiber.Ctx) error {
	campaignUUID := c.Params("uuid")
	if campaignUUID == "" {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Campaign UUID is required", "MISSING_UUID", nil)
	}

	userID, ok := h.callerUserID(c)
	if !ok {
		return h.ErrorResponse(c, fiber.StatusUnauthorized, "User ID not found in request", "MISSING_USER_ID", nil)
	}

	var req dto.CreateCommitmentRequest
	if err := c.Bind().JSON(&req); err != nil {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", "INVALID_REQUEST", err.Error())
	}

	if err := h.validator.Struct(&req); err != nil {
		var validationErrors []string
		for _, err := range err.(validator.ValidationErrors) {
			validationErrors = append(validationErrors, getValidationErrorMessage(err))
		}
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Validation failed", "VALIDATION_ERROR", validationErrors)
	}

	req.CampaignUUID = campaignUUID
	req.UserID = userID

	metadata := businessflow.NewClientMetadata(c.IP(), c.Get("User-Agent"))
	metadata.SetRequestID(c.Get(businessflow.RequestIDKey))

	result, err := h.commitmentFlow.CreateCommitment(h.createRequestContext(c, "/api/v1/campaigns/"+campaignUUID+"/commitments"), &req, metadata)
	if err != nil {
		if businessflow.IsCampaignNotFound(err) {
			middleware.RecordReservation("not_found")
			return h.ErrorResponse(c, fiber.StatusNotFound, "Campaign not found", "CAMPAIGN_NOT_FOUND", nil)
		}
		if businessflow.IsGoalFull(err) {
			middleware.RecordReservation("goal_full")
			return h.ErrorResponse(c, fiber.StatusConflict, "Requested quantity would exceed the campaign goal", "GOAL_FULL", nil)
		}
		if businessflow.IsCampaignNotActive(err) {
			middleware.RecordReservation("campaign_not_active")
			return h.ErrorResponse(c, fiber.StatusConflict, "Campaign is not accepting commitments", "CAMPAIGN_NOT_ACTIVE", nil)
		}
		if businessflow.IsPaymentGatewayFailed(err) {
			return h.ErrorResponse(c, fiber.StatusBadGateway, "Failed to open payment session", "PAYMENT_SESSION_FAILED", nil)
		}
		if be, ok := err.(*businessflow.BusinessError); ok && be.Code == "VALIDATION_ERROR" {
			return h.ErrorResponse(c, fiber.StatusBadRequest, be.Message, be.Code, nil)
		}

		middleware.RecordReservation("error")
		log.Println("Commitment creation failed", err)
		return h.ErrorResponse(c, fiber.StatusInternalServerError, "Commitment creation failed", "COMMITMENT_CREATION_FAILED", nil)
	}

	middleware.RecordReservation("reserved")
	return h.SuccessResponse(c, fiber.StatusCreated, "Commitment created successfully", result)
}

// GetCommitment returns one commitment
func (h *CommitmentHandler) GetCommitment(c fiber.Ctx) error {
	commitmentUUID := c.Params("uuid")
	if commitmentUUID == "" {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Commitment UUID is required", "MISSING_UUID", nil)
	}

	result, err := h.commitmentFlow.GetCommitment(h.createRequestContext(c, "/api/v1/commitments/"+commitmentUUID), commitmentUUID)
	if err != nil {
		if businessflow.IsCommitmentNotFound(err) {
			return h.ErrorResponse(c, fiber.StatusNotFound, "Commitment not found", "COMMITMENT_NOT_FOUND", nil)
		}

		log.Println("Commitment retrieval failed", err)
		return h.ErrorResponse(c, fiber.StatusInternalServerError, "Commitment retrieval failed", "COMMITMENT_RETRIEVAL_FAILED", nil)
	}

	return h.SuccessResponse(c, fiber.StatusOK, "Commitment retrieved successfully", result)
}

// CancelCommitment handles a buyer backing out of an unpaid pledge
func (h *CommitmentHandler) CancelCommitment(c fiber.Ctx) error {
	commitmentUUID := c.Params("uuid")
	if commitmentUUID == "" {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Commitment UUID is required", "MISSING_UUID", nil)
	}

	userID, ok := h.callerUserID(c)
	if !ok {
		return h.ErrorResponse(c, fiber.StatusUnauthorized, "User ID not found in request", "MISSING_USER_ID", nil)
	}

	metadata := businessflow.NewClientMetadata(c.IP(), c.Get("User-Agent"))
	metadata.SetRequestID(c.Get(businessflow.RequestIDKey))

	req := &dto.CancelCommitmentRequest{UUID: commitmentUUID, UserID: userID}
	result, err := h.commitmentFlow.CancelCommitment(h.createRequestContext(c, "/api/v1/commitments/"+commitmentUUID+"/cancel"), req, metadata)
	if err != nil {
		if businessflow.IsCommitmentNotFound(err) {
			return h.ErrorResponse(c, fiber.StatusNotFound, "Commitment not found", "COMMITMENT_NOT_FOUND", nil)
		}
		if businessflow.IsCommitmentAccessDenied(err) {
			return h.ErrorResponse(c, fiber.StatusForbidden, "Commitment belongs to another user", "COMMITMENT_ACCESS_DENIED", nil)
		}
		if businessflow.IsCommitmentNotCancelable(err) {
			return h.ErrorResponse(c, fiber.StatusConflict, "Commitment cannot be cancelled in its current state", "COMMITMENT_NOT_CANCELABLE", nil)
		}
		if businessflow.IsVersionMismatch(err) {
			return h.ErrorResponse(c, fiber.StatusConflict, "Commitment state changed concurrently", "COMMITMENT_NOT_CANCELABLE", nil)
		}

		log.Println("Commitment cancellation failed", err)
		return h.ErrorResponse(c, fiber.StatusInternalServerError, "Commitment cancellation failed", "COMMITMENT_CANCELLATION_FAILED", nil)
	}

	return h.SuccessResponse(c, fiber.StatusOK, "Commitment cancelled successfully", result)
}

// PaymentWebhook handles payment gateway notifications
func (h *CommitmentHandler) PaymentWebhook(c fiber.Ctx) error {
	var req dto.PaymentWebhookRequest
	if err := c.Bind().JSON(&req); err != nil {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", "INVALID_REQUEST", err.Error())
	}

	if err := h.validator.Struct(&req); err != nil {
		var validationErrors []string
		for _, err := range err.(validator.ValidationErrors) {
			validationErrors = append(validationErrors, getValidationErrorMessage(err))
		}
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Validation failed", "VALIDATION_ERROR", validationErrors)
	}

	metadata := businessflow.NewClientMetadata(c.IP(), c.Get("User-Agent"))
	metadata.SetRequestID(c.Get(businessflow.RequestIDKey))

	result, err := h.commitmentFlow.ProcessPaymentWebhook(h.createRequestContext(c, "/api/v1/payments/webhook"), &req, metadata)
	if err != nil {
		if businessflow.IsPaymentReferenceUnknown(err) {
			return h.ErrorResponse(c, fiber.StatusNotFound, "Payment reference does not match any commitment", "PAYMENT_REFERENCE_UNKNOWN", nil)
		}

		log.Println("Payment webhook processing failed", err)
		return h.ErrorResponse(c, fiber.StatusInternalServerError, "Payment webhook processing failed", "WEBHOOK_PROCESSING_FAILED", nil)
	}

	return h.SuccessResponse(c, fiber.StatusOK, "Payment notification processed", result)
}

// createRequestContext creates a context with request-scoped values for observability and timeout
func (h *CommitmentHandler) createRequestContext(c fiber.Ctx, endpoint string) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)

	ctx = context.WithValue(ctx, "request_id", c.Get(businessflow.RequestIDKey))
	ctx = context.WithValue(ctx, "user_agent", c.Get("User-Agent"))
	ctx = context.WithValue(ctx, "ip_address", c.IP())
	ctx = context.WithValue(ctx, "endpoint", endpoint)
	ctx = context.WithValue(ctx, "cancel_func", cancel)

	return ctx
}
