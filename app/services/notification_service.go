package services

import (
	"context"
	"fmt"
	"log"

	"golang.org/x/time/rate"
)

// NotificationService delivers buyer-facing notifications. Deliveries are
// fire-and-forget from the engine's perspective; a failed notification never
// fails the operation that triggered it.
type NotificationService interface {
	NotifyGoalReached(ctx context.Context, userID uint, campaignUUID string) error
	NotifyPaymentReminder(ctx context.Context, userID uint, commitmentUUID string) error
	NotifyCommitmentExpired(ctx context.Context, userID uint, commitmentUUID string) error
	NotifyCampaignFailed(ctx context.Context, userID uint, campaignUUID string, refunded bool) error
	NotifyOrderCreated(ctx context.Context, userID uint, commitmentUUID, orderID string) error
}

// MessageSender is the transport notifications go out on
type MessageSender interface {
	Send(ctx context.Context, userID uint, message string) error
}

// NotificationServiceImpl implements NotificationService with a rate limit so
// fulfillment sweeps cannot flood the downstream sender.
type NotificationServiceImpl struct {
	sender  MessageSender
	limiter *rate.Limiter
}

// NewNotificationService creates a new notification service. ratePerSecond
// bounds outgoing messages; burst allows short spikes.
func NewNotificationService(sender MessageSender, ratePerSecond float64, burst int) NotificationService {
	if ratePerSecond <= 0 {
		ratePerSecond = 10
	}
	if burst <= 0 {
		burst = 20
	}
	return &NotificationServiceImpl{
		sender:  sender,
		limiter: rate.NewLimiter(rate.Limit(ratePerSecond), burst),
	}
}

func (s *NotificationServiceImpl) send(ctx context.Context, userID uint, message string) error {
	if s.sender == nil {
		return fmt.Errorf("message sender not configured")
	}
	if err := s.limiter.Wait(ctx); err != nil {
		return err
	}
	return s.sender.Send(ctx, userID, message)
}

func (s *NotificationServiceImpl) NotifyGoalReached(ctx context.Context, userID uint, campaignUUID string) error {
	return s.send(ctx, userID, fmt.Sprintf("Campaign %s reached its goal. Complete your payment to secure the deal.", campaignUUID))
}

func (s *NotificationServiceImpl) NotifyPaymentReminder(ctx context.Context, userID uint, commitmentUUID string) error {
	return s.send(ctx, userID, fmt.Sprintf("Reminder: commitment %s is awaiting payment before its deadline.", commitmentUUID))
}

func (s *NotificationServiceImpl) NotifyCommitmentExpired(ctx context.Context, userID uint, commitmentUUID string) error {
	return s.send(ctx, userID, fmt.Sprintf("Commitment %s expired because payment was not received in time.", commitmentUUID))
}

func (s *NotificationServiceImpl) NotifyCampaignFailed(ctx context.Context, userID uint, campaignUUID string, refunded bool) error {
	msg := fmt.Sprintf("Campaign %s did not reach its goal and has closed.", campaignUUID)
	if refunded {
		msg += " Your payment has been refunded."
	}
	return s.send(ctx, userID, msg)
}

func (s *NotificationServiceImpl) NotifyOrderCreated(ctx context.Context, userID uint, commitmentUUID, orderID string) error {
	return s.send(ctx, userID, fmt.Sprintf("Your group-buy order %s has been placed for commitment %s.", orderID, commitmentUUID))
}

// MockMessageSender logs messages instead of delivering them
type MockMessageSender struct{}

func NewMockMessageSender() MessageSender {
	return &MockMessageSender{}
}

func (s *MockMessageSender) Send(ctx context.Context, userID uint, message string) error {
	log.Printf("Notification to user %d: %s", userID, message)
	return nil
}
