package health

import (
	healthsvc "carboncred-backend/internal/application/health"

	"github.com/gofiber/fiber/v2"
)

// Handlers serves liveness and readiness probes.
type Handlers struct {
	Service *healthsvc.Service
}

// Live GET /health/live — process is up.
func (h *Handlers) Live(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"status": "ok"})
}

// Ready GET /health/ready — collaborators are reachable. Degraded
// dependencies flip the status code to 503 so load balancers drain traffic.
func (h *Handlers) Ready(c *fiber.Ctx) error {
	report := h.Service.Check(c.Context())
	code := fiber.StatusOK
	if report.Status != "ok" {
		code = fiber.StatusServiceUnavailable
	}
	return c.Status(code).JSON(report)
}
