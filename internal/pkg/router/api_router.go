package router

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/cratebox/cratebox/app/controllers"
	"github.com/cratebox/cratebox/internal/pkg/middleware"
	"github.com/cratebox/cratebox/internal/pkg/ratelimit"
)

type ApiRouter struct {
	deps Deps
}

var apiRateLimit = ratelimit.Config{
	MaxRequests: 60,
	Window:      time.Minute,
}

func (h ApiRouter) InstallRouter(app *fiber.App) {
	api := app.Group("/api", ratelimit.Middleware(h.deps.Limiter, apiRateLimit, ratelimit.IPKey("api")))
	api.Get("/", func(ctx *fiber.Ctx) error {
		return ctx.Status(fiber.StatusOK).JSON(fiber.Map{
			"message": "Hello from api",
		})
	})

	// API v1 routes
	v1 := api.Group("/v1")
	v1.Get("/ping", func(ctx *fiber.Ctx) error {
		return ctx.Status(fiber.StatusOK).JSON(fiber.Map{"message": "pong"})
	})
	v1.Get("/stats", controllers.HandleGetStats)

	auth := v1.Group("/auth")
	auth.Post("/register", controllers.HandleRegister(h.deps.Users))
	auth.Post("/apikey", controllers.HandleIssueAPIKey(h.deps.Users))

	account := v1.Group("/account", middleware.APIKeyAuthMiddleware(h.deps.Users, h.deps.Billing))
	account.Get("/", controllers.HandleGetAccount(h.deps.Billing, h.deps.Users))
	account.Get("/subscription", controllers.HandleGetAccountSubscription(h.deps.Billing))
	account.Get("/invoices", controllers.HandleListAccountInvoices(h.deps.Billing))
	account.Post("/storage", controllers.HandleRecordStorageUsage(h.deps.Billing))
	account.Delete("/apikey", controllers.HandleRevokeAPIKey(h.deps.Users))
}

func NewApiRouter(deps Deps) *ApiRouter {
	return &ApiRouter{deps: deps}
}
