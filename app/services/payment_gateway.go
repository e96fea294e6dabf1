// Package services provides external service integrations and technical concerns like payments and notifications
package services

import (
	"context"
	"crypto/sha512"
	"encoding/hex"
	"fmt"
	"log"

	midtrans "github.com/midtrans/midtrans-go"
	"github.com/midtrans/midtrans-go/coreapi"
	"github.com/midtrans/midtrans-go/snap"
)

// PaymentGateway abstracts the payment processor used to collect commitment
// payments and to issue refunds when a campaign fails or is cancelled.
type PaymentGateway interface {
	CreateCharge(ctx context.Context, input ChargeInput) (*ChargeResult, error)
	Refund(ctx context.Context, input RefundInput) (*RefundResult, error)

	// VerifyWebhookSignature validates a gateway notification against the
	// configured server key.
	VerifyWebhookSignature(orderID, statusCode, grossAmount, signatureKey string) bool
}

// ChargeInput carries everything needed to open a payment session
type ChargeInput struct {
	OrderID   string
	Amount    uint64
	ItemID    string
	ItemName  string
	Quantity  int
	UnitPrice uint64
}

// ChargeResult is the opened payment session
type ChargeResult struct {
	Token       string
	RedirectURL string
}

// RefundInput carries a refund request for a previously settled charge
type RefundInput struct {
	OrderID string
	Amount  uint64
	Reason  string
}

// RefundResult is the gateway's refund acknowledgement
type RefundResult struct {
	RefundKey string
}

// MidtransGateway implements PaymentGateway on top of the Midtrans Snap and
// Core APIs.
type MidtransGateway struct {
	snapClient snap.Client
	coreClient coreapi.Client
	serverKey  string
}

// NewMidtransGateway creates a new Midtrans-backed payment gateway
func NewMidtransGateway(serverKey string, useProduction bool) PaymentGateway {
	env := midtrans.Sandbox
	if useProduction {
		env = midtrans.Production
	}

	g := &MidtransGateway{serverKey: serverKey}
	g.snapClient.New(serverKey, env)
	g.coreClient.New(serverKey, env)
	return g
}

// CreateCharge opens a Snap payment session for a commitment
func (g *MidtransGateway) CreateCharge(ctx context.Context, input ChargeInput) (*ChargeResult, error) {
	if input.Amount == 0 {
		return nil, fmt.Errorf("charge amount must be positive")
	}
	if input.OrderID == "" {
		return nil, fmt.Errorf("order ID is required")
	}

	req := &snap.Request{
		TransactionDetails: midtrans.TransactionDetails{
			OrderID:  input.OrderID,
			GrossAmt: int64(input.Amount),
		},
		Items: &[]midtrans.ItemDetails{
			{
				ID:    input.ItemID,
				Price: int64(input.UnitPrice),
				Qty:   int32(input.Quantity),
				Name:  input.ItemName,
			},
		},
	}

	resp, err := g.snapClient.CreateTransaction(req)
	if err != nil {
		return nil, fmt.Errorf("midtrans snap transaction failed: %w", err)
	}

	return &ChargeResult{
		Token:       resp.Token,
		RedirectURL: resp.RedirectURL,
	}, nil
}

// Refund reverses a settled charge
func (g *MidtransGateway) Refund(ctx context.Context, input RefundInput) (*RefundResult, error) {
	if input.OrderID == "" {
		return nil, fmt.Errorf("order ID is required")
	}

	req := &coreapi.RefundReq{
		Amount: int64(input.Amount),
		Reason: input.Reason,
	}

	resp, err := g.coreClient.RefundTransaction(input.OrderID, req)
	if err != nil {
		return nil, fmt.Errorf("midtrans refund failed: %w", err)
	}

	return &RefundResult{RefundKey: resp.RefundKey}, nil
}

// VerifyWebhookSignature checks the SHA512 signature Midtrans attaches to
// notifications: sha512(order_id + status_code + gross_amount + server_key)
func (g *MidtransGateway) VerifyWebhookSignature(orderID, statusCode, grossAmount, signatureKey string) bool {
	if signatureKey == "" {
		return false
	}
	sum := sha512.Sum512([]byte(orderID + statusCode + grossAmount + g.serverKey))
	return hex.EncodeToString(sum[:]) == signatureKey
}

// MockPaymentGateway is a no-op gateway for local development and tests
type MockPaymentGateway struct {
	FailCharges bool
	FailRefunds bool
}

func NewMockPaymentGateway() *MockPaymentGateway {
	return &MockPaymentGateway{}
}

func (g *MockPaymentGateway) CreateCharge(ctx context.Context, input ChargeInput) (*ChargeResult, error) {
	if g.FailCharges {
		return nil, fmt.Errorf("mock gateway: charge rejected")
	}
	log.Printf("Mock charge created for order %s amount %d", input.OrderID, input.Amount)
	return &ChargeResult{
		Token:       "mock-token-" + input.OrderID,
		RedirectURL: "https://payments.example.test/pay/" + input.OrderID,
	}, nil
}

func (g *MockPaymentGateway) Refund(ctx context.Context, input RefundInput) (*RefundResult, error) {
	if g.FailRefunds {
		return nil, fmt.Errorf("mock gateway: refund rejected")
	}
	log.Printf("Mock refund issued for order %s amount %d", input.OrderID, input.Amount)
	return &RefundResult{RefundKey: "mock-refund-" + input.OrderID}, nil
}

func (g *MockPaymentGateway) VerifyWebhookSignature(orderID, statusCode, grossAmount, signatureKey string) bool {
	return true
}
