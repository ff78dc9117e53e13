package api

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HealthCheck reports whether one dependency is usable.
type HealthCheck func(ctx context.Context) error

func RegisterRoutes(app *fiber.App, auth *Auth, h *Handler, checks map[string]HealthCheck) {
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	app.Get("/health", func(c *fiber.Ctx) error {
		healthCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()

		results := make(map[string]string, len(checks))
		status := "ok"
		code := fiber.StatusOK
		for name, check := range checks {
			results[name] = "ok"
			if err := check(healthCtx); err != nil {
				results[name] = err.Error()
				status = "degraded"
				code = fiber.StatusServiceUnavailable
			}
		}

		return c.Status(code).JSON(fiber.Map{
			"status": status,
			"checks": results,
		})
	})

	v1 := app.Group("/api/v1", auth.Authenticate())

	readers := IsOrgAdminOrAppUser()
	admins := IsOrgAdmin()

	su := v1.Group("/system-users")
	su.Get("/", readers, h.ListSystemUsers)
	su.Post("/", admins, h.CreateSystemUser)
	su.Get("/:id", readers, h.GetSystemUser)
	su.Put("/:id", admins, h.UpdateSystemUser)
	su.Patch("/:id", admins, h.UpdateSystemUser)
	su.Delete("/:id", admins, h.DeleteSystemUser)

	su.Get("/:id/auth-info", readers, h.GetAuthInfo)
	su.Put("/:id/auth-info", admins, h.UpdateAuthInfo)
	su.Delete("/:id/auth-info", admins, h.DeleteAuthInfo)

	su.Get("/:id/assets/:aid/auth-info", readers, h.GetAssetAuthInfo)
	su.Put("/:id/assets/:aid/auth-info", admins, h.UpdateAssetAuthInfo)
	su.Delete("/:id/assets/:aid/auth-info", admins, h.DeleteAssetAuthInfo)

	su.Post("/:id/tasks", admins, h.CreateTask)
	su.Get("/:id/cmd-filter-rules", readers, h.ListCommandFilterRules)
}
