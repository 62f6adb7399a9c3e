package main

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/basicauth"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/monitor"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/cratebox/cratebox/app/repository"
	"github.com/cratebox/cratebox/internal/pkg/billing"
	"github.com/cratebox/cratebox/internal/pkg/cache"
	"github.com/cratebox/cratebox/internal/pkg/database"
	"github.com/cratebox/cratebox/internal/pkg/env"
	"github.com/cratebox/cratebox/internal/pkg/metrics/counter"
	"github.com/cratebox/cratebox/internal/pkg/ratelimit"
	"github.com/cratebox/cratebox/internal/pkg/router"
)

func main() {
	app := NewApplication()
	err := app.Listen(fmt.Sprintf("%s:%s", env.GetEnv("APP_HOST", "localhost"), env.GetEnv("APP_PORT", "4000")))
	log.Fatal(err)
}

func NewApplication() *fiber.App {
	env.SetupEnvFile()
	database.SetupDatabase()
	cache.SetupCache()

	repository.InitializeFactory(database.GetDB())

	limiter := newRateLimiter(context.Background())
	billingSvc := newBillingService()
	counter.StartFlusher(context.Background())

	// init fiber app
	app := fiber.New(fiber.Config{
		AppName:   "CrateBox",
		BodyLimit: 1 * 1024 * 1024,
	})

	// recovery and logging
	app.Use(recover.New(), logger.New())

	// fiber metrics
	app.Get("/metrics", basicauth.New(basicauth.Config{
		Users: map[string]string{
			env.GetEnv("METRICS_USER", "admin"): env.GetEnv("METRICS_PASSWORD", "test"),
		},
	}), monitor.New())

	// ROUTER
	router.InstallRouter(app, router.Deps{
		Limiter: limiter,
		Billing: billingSvc,
		Users:   repository.GetGlobalFactory().GetUserRepository(),
	})

	return app
}

// newRateLimiter builds the shared request limiter. The backing store is
// selected via RATE_LIMIT_STORE: "redis" shares windows across instances,
// anything else keeps per-process in-memory counters with a background
// sweeper.
func newRateLimiter(ctx context.Context) *ratelimit.Limiter {
	policy := ratelimit.FailOpen
	if v, _ := strconv.ParseBool(env.GetEnv("RATE_LIMIT_FAIL_CLOSED", "false")); v {
		policy = ratelimit.FailClosed
	}

	if strings.EqualFold(env.GetEnv("RATE_LIMIT_STORE", "memory"), "redis") {
		store := ratelimit.NewRedisStore(cache.GetClient())
		return ratelimit.NewLimiter(store, ratelimit.WithFailurePolicy(policy))
	}

	store := ratelimit.NewMemoryStore()
	store.StartSweeper(ctx)
	return ratelimit.NewLimiter(store, ratelimit.WithFailurePolicy(policy))
}

func newBillingService() *billing.Service {
	secret := env.GetEnv("BILLING_WEBHOOK_SECRET", "")
	if secret == "" {
		log.Print("BILLING_WEBHOOK_SECRET is empty, webhook deliveries will be rejected")
	}
	provider := billing.NewProviderClientFromEnv()
	return billing.NewServiceFromDB(database.GetDB(), provider, secret)
}
