package handlers

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/taleroad/groupbuy-engine/app/dto"
)

// AdminHandlerInterface defines the contract for admin handlers
type AdminHandlerInterface interface {
	RunFulfillment(c fiber.Ctx) error
	RunSweep(c fiber.Ctx) error
}

// PassRunner runs one pass of a background reconciliation loop
type PassRunner interface {
	RunOnce(ctx context.Context)
}

// AdminHandler triggers the background loops on demand, so operators do not
// have to wait for the next tick after fixing an incident.
type AdminHandler struct {
	fulfillment PassRunner
	sweeper     PassRunner
}

// NewAdminHandler creates a new admin handler
func NewAdminHandler(fulfillment, sweeper PassRunner) *AdminHandler {
	return &AdminHandler{
		fulfillment: fulfillment,
		sweeper:     sweeper,
	}
}

func (h *AdminHandler) runPass(c fiber.Ctx, runner PassRunner, name string) error {
	if runner == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(dto.APIResponse{
			Success: false,
			Message: name + " is not configured",
			Error:   dto.ErrorDetail{Code: "SCHEDULER_DISABLED"},
		})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()
	runner.RunOnce(ctx)

	return c.Status(fiber.StatusOK).JSON(dto.APIResponse{
		Success: true,
		Message: name + " pass completed",
	})
}

// RunFulfillment runs one fulfillment reconciliation pass
func (h *AdminHandler) RunFulfillment(c fiber.Ctx) error {
	return h.runPass(c, h.fulfillment, "Fulfillment")
}

// RunSweep runs one expiry sweep pass
func (h *AdminHandler) RunSweep(c fiber.Ctx) error {
	return h.runPass(c, h.sweeper, "Expiry sweep")
}
