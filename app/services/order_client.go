package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"
)

// OrderService abstracts the downstream order system that fulfilled
// commitments are handed to.
type OrderService interface {
	// CreateOrder submits an order for a paid commitment. The commitment
	// UUID doubles as the idempotency key so retried submissions never
	// create duplicate orders.
	CreateOrder(ctx context.Context, input CreateOrderInput) (*CreateOrderResult, error)
}

// CreateOrderInput carries one fulfilled commitment
type CreateOrderInput struct {
	CommitmentUUID string
	CampaignUUID   string
	ProductID      uint
	UserID         uint
	Quantity       int
	UnitPrice      uint64
}

// CreateOrderResult is the order system's acknowledgement
type CreateOrderResult struct {
	OrderID string
}

// HTTPOrderClient implements OrderService against an order system's REST API
type HTTPOrderClient struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
}

// NewHTTPOrderClient creates a new order system client
func NewHTTPOrderClient(baseURL, apiKey string, timeout time.Duration) *HTTPOrderClient {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPOrderClient{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		APIKey:     apiKey,
		HTTPClient: &http.Client{Timeout: timeout},
	}
}

type createOrderRequest struct {
	IdempotencyKey string `json:"idempotency_key"`
	CampaignUUID   string `json:"campaign_uuid"`
	ProductID      uint   `json:"product_id"`
	UserID         uint   `json:"user_id"`
	Quantity       int    `json:"quantity"`
	UnitPrice      uint64 `json:"unit_price"`
}

type createOrderResponse struct {
	OrderID string `json:"order_id"`
	Message string `json:"message,omitempty"`
}

// CreateOrder submits an order, using the commitment UUID as idempotency key
func (c *HTTPOrderClient) CreateOrder(ctx context.Context, input CreateOrderInput) (*CreateOrderResult, error) {
	body := createOrderRequest{
		IdempotencyKey: input.CommitmentUUID,
		CampaignUUID:   input.CampaignUUID,
		ProductID:      input.ProductID,
		UserID:         input.UserID,
		Quantity:       input.Quantity,
		UnitPrice:      input.UnitPrice,
	}

	raw, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal order request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/api/v1/orders", bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("failed to build order request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", input.CommitmentUUID)
	if c.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.APIKey)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("order request failed: %w", err)
	}
	defer resp.Body.Close()

	// 200 means the order already existed for this idempotency key, 201 means
	// it was just created. Both are success.
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return nil, fmt.Errorf("order system returned status %d", resp.StatusCode)
	}

	var out createOrderResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode order response: %w", err)
	}
	if out.OrderID == "" {
		return nil, fmt.Errorf("order system returned empty order ID")
	}

	return &CreateOrderResult{OrderID: out.OrderID}, nil
}

// MockOrderService records orders in memory for local development and tests
type MockOrderService struct {
	FailAll bool
}

func NewMockOrderService() *MockOrderService {
	return &MockOrderService{}
}

func (s *MockOrderService) CreateOrder(ctx context.Context, input CreateOrderInput) (*CreateOrderResult, error) {
	if s.FailAll {
		return nil, fmt.Errorf("mock order service: rejected")
	}
	log.Printf("Mock order created for commitment %s qty %d", input.CommitmentUUID, input.Quantity)
	return &CreateOrderResult{OrderID: "mock-order-" + input.CommitmentUUID}, nil
}
