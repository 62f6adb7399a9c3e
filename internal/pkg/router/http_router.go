package router

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/cratebox/cratebox/app/controllers"
	"github.com/cratebox/cratebox/internal/pkg/ratelimit"
)

type HttpRouter struct {
	deps Deps
}

// Provider webhooks get their own generous window. The provider batches
// redeliveries, so the cap only guards against runaway senders.
var webhookRateLimit = ratelimit.Config{
	MaxRequests: 300,
	Window:      time.Minute,
}

func (h HttpRouter) InstallRouter(app *fiber.App) {
	app.Post(
		"/webhooks/billing",
		ratelimit.Middleware(h.deps.Limiter, webhookRateLimit, ratelimit.IPKey("webhook")),
		controllers.HandleBillingWebhook(h.deps.Billing),
	)
}

func NewHttpRouter(deps Deps) *HttpRouter {
	return &HttpRouter{deps: deps}
}
