package handlers

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
)

const readinessTimeout = 2 * time.Second

// DependencyCheck probes one backing service. A nil Ping marks the dependency as
// disabled.
type DependencyCheck struct {
	Name string
	Ping func(ctx context.Context) error
}

// HealthHandler responds to liveness and readiness probes.
type HealthHandler struct {
	serviceName string
	version     string
	checks      []DependencyCheck
}

// NewHealthHandler returns a new handler instance.
func NewHealthHandler(serviceName, version string, checks ...DependencyCheck) *HealthHandler {
	return &HealthHandler{serviceName: serviceName, version: version, checks: checks}
}

// Live reports service liveness.
func (h *HealthHandler) Live(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"status": "ok"})
}

// Ready reports service readiness by checking dependencies.
func (h *HealthHandler) Ready(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), readinessTimeout)
	defer cancel()

	depStatus := fiber.Map{}
	ready := true
	for _, check := range h.checks {
		if check.Ping == nil {
			depStatus[check.Name] = "disabled"
			continue
		}
		if err := check.Ping(ctx); err != nil {
			depStatus[check.Name] = err.Error()
			ready = false
			continue
		}
		depStatus[check.Name] = "ok"
	}

	body := fiber.Map{
		"service":      h.serviceName,
		"version":      h.version,
		"dependencies": depStatus,
	}
	if !ready {
		body["status"] = "unavailable"
		return c.Status(fiber.StatusServiceUnavailable).JSON(body)
	}
	body["status"] = "ready"
	return c.JSON(body)
}
