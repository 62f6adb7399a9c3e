package router

import (
	"github.com/gofiber/fiber/v2"

	"github.com/cratebox/cratebox/app/repository"
	"github.com/cratebox/cratebox/internal/pkg/billing"
	"github.com/cratebox/cratebox/internal/pkg/ratelimit"
)

// Router installs a group of routes on the app.
type Router interface {
	InstallRouter(app *fiber.App)
}

// Deps carries the shared services the routers need. Constructed once in
// main and threaded through so handlers never build their own.
type Deps struct {
	Limiter *ratelimit.Limiter
	Billing *billing.Service
	Users   repository.UserRepository
}

func InstallRouter(app *fiber.App, deps Deps) {
	// Install HttpRouter first so the webhook endpoint is registered before
	// the rate-limited API group. Provider deliveries must not share a
	// window with client API traffic.
	setup(app, NewHttpRouter(deps), NewApiRouter(deps))
}

func setup(app *fiber.App, router ...Router) {
	for _, r := range router {
		r.InstallRouter(app)
	}
}
