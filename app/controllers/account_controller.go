package controllers

import (
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"github.com/cratebox/cratebox/app/models"
	"github.com/cratebox/cratebox/app/repository"
	"github.com/cratebox/cratebox/internal/pkg/billing"
	"github.com/cratebox/cratebox/internal/pkg/plans"
	"github.com/cratebox/cratebox/internal/pkg/usercontext"
)

// HandleGetAccount returns account information for the authenticated user.
func HandleGetAccount(svc *billing.Service, users repository.UserRepository) fiber.Handler {
	return func(c *fiber.Ctx) error {
		userCtx := usercontext.GetUserContext(c)
		if !userCtx.IsLoggedIn {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized", "message": "Missing or invalid authentication"})
		}

		account, err := users.GetByID(userCtx.UserID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "not_found", "message": "User not found"})
			}
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Failed to load user"})
		}

		sub, err := svc.GetSubscriptionForUser(c.UserContext(), userCtx.UserID)
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Failed to load subscription"})
		}

		response := fiber.Map{
			"id":                   account.ID,
			"username":             account.Name,
			"email":                account.Email,
			"status":               account.Status,
			"plan":                 userCtx.PlanTier,
			"is_admin":             account.Role == models.ROLE_ADMIN,
			"created_at":           account.CreatedAt.UTC().Format(time.RFC3339),
			"last_login_at":        formatTimePtr(account.LastLoginAt),
			"api_key_last_used_at": formatTimePtr(account.APIKeyLastUsedAt),
			"subscription":         subscriptionResponse(sub),
		}
		return c.JSON(response)
	}
}

// HandleGetAccountSubscription returns the authenticated user's subscription
// and storage entitlement.
func HandleGetAccountSubscription(svc *billing.Service) fiber.Handler {
	return func(c *fiber.Ctx) error {
		userCtx := usercontext.GetUserContext(c)
		if !userCtx.IsLoggedIn {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized", "message": "Missing or invalid authentication"})
		}

		sub, err := svc.GetSubscriptionForUser(c.UserContext(), userCtx.UserID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return c.JSON(subscriptionResponse(nil))
			}
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Failed to load subscription"})
		}
		return c.JSON(subscriptionResponse(sub))
	}
}

// HandleListAccountInvoices returns the authenticated user's invoices, most
// recent first.
func HandleListAccountInvoices(svc *billing.Service) fiber.Handler {
	return func(c *fiber.Ctx) error {
		userCtx := usercontext.GetUserContext(c)
		if !userCtx.IsLoggedIn {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized", "message": "Missing or invalid authentication"})
		}

		invoices, err := svc.ListInvoicesForUser(c.UserContext(), userCtx.UserID)
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Failed to load invoices"})
		}

		items := make([]fiber.Map, 0, len(invoices))
		for i := range invoices {
			items = append(items, invoiceResponse(&invoices[i]))
		}
		return c.JSON(fiber.Map{"invoices": items, "count": len(items)})
	}
}

type storageUsageRequest struct {
	DeltaBytes int64 `json:"delta_bytes"`
}

// HandleRecordStorageUsage adjusts the authenticated user's storage usage
// counter. Positive deltas are rejected once the plan limit would be
// exceeded; negative deltas free space and floor at zero.
func HandleRecordStorageUsage(svc *billing.Service) fiber.Handler {
	return func(c *fiber.Ctx) error {
		userCtx := usercontext.GetUserContext(c)
		if !userCtx.IsLoggedIn {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized", "message": "Missing or invalid authentication"})
		}

		var req storageUsageRequest
		if err := c.BodyParser(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "Invalid JSON body"})
		}
		if req.DeltaBytes == 0 {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "delta_bytes must be non-zero"})
		}

		sub, err := svc.AddStorageUsage(c.UserContext(), userCtx.UserID, req.DeltaBytes)
		if err != nil {
			if errors.Is(err, billing.ErrStorageLimitExceeded) {
				return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "storage_limit_exceeded", "message": "Plan storage limit exceeded"})
			}
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "not_found", "message": "No subscription for user"})
			}
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Failed to record storage usage"})
		}
		return c.JSON(subscriptionResponse(sub))
	}
}

func subscriptionResponse(sub *models.Subscription) fiber.Map {
	if sub == nil {
		// Users without a billing history fall back to the free tier.
		free := plans.TierFree
		return fiber.Map{
			"plan_tier":               string(free),
			"status":                  models.SubscriptionStatusInactive,
			"entitled":                false,
			"can_upgrade":             true,
			"storage_limit_bytes":     plans.StorageLimit(free),
			"storage_used_bytes":      int64(0),
			"storage_remaining_bytes": plans.StorageLimit(free),
		}
	}
	return fiber.Map{
		"plan_tier":                sub.PlanTier,
		"can_upgrade":              plans.Rank(plans.Normalize(sub.PlanTier)) < plans.Rank(plans.TierPro),
		"status":                   sub.Status,
		"entitled":                 sub.IsEntitled(),
		"provider":                 sub.Provider,
		"provider_subscription_id": sub.ProviderSubscriptionID,
		"price_id":                 sub.PriceID,
		"storage_limit_bytes":      sub.StorageLimitBytes,
		"storage_used_bytes":       sub.StorageUsedBytes,
		"storage_remaining_bytes":  sub.StorageRemaining(),
		"current_period_end":       formatTimePtr(sub.CurrentPeriodEnd),
		"cancel_at_period_end":     sub.CancelAtPeriodEnd,
	}
}

func invoiceResponse(inv *models.Invoice) fiber.Map {
	return fiber.Map{
		"provider_invoice_id": inv.ProviderInvoiceID,
		"status":              inv.Status,
		"amount_due":          inv.AmountDue,
		"amount_paid":         inv.AmountPaid,
		"currency":            inv.Currency,
		"hosted_invoice_url":  inv.HostedInvoiceURL,
		"invoice_pdf_url":     inv.InvoicePDFURL,
		"period_start":        formatTimePtr(inv.PeriodStart),
		"period_end":          formatTimePtr(inv.PeriodEnd),
		"due_date":            formatTimePtr(inv.DueDate),
		"paid_at":             formatTimePtr(inv.PaidAt),
		"voided_at":           formatTimePtr(inv.VoidedAt),
		"created_at":          inv.CreatedAt.UTC().Format(time.RFC3339),
	}
}
