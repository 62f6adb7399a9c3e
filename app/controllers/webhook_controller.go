package controllers

import (
	"errors"
	"log"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/cratebox/cratebox/internal/pkg/billing"
)

// HandleBillingWebhook accepts signed billing provider events and feeds them
// into the reconciler. The raw body must reach the service untouched because
// the signature is computed over the exact bytes on the wire.
func HandleBillingWebhook(svc *billing.Service) fiber.Handler {
	return func(c *fiber.Ctx) error {
		rawBody := c.Body()
		if len(rawBody) == 0 {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "empty_body"})
		}

		sigHeader := strings.TrimSpace(c.Get("Stripe-Signature"))
		if sigHeader == "" {
			sigHeader = strings.TrimSpace(c.Get("X-Webhook-Signature"))
		}

		result, err := svc.ProcessWebhook(c.UserContext(), rawBody, sigHeader)
		if err != nil {
			if errors.Is(err, billing.ErrInvalidSignature) {
				return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_signature"})
			}
			log.Printf("billing webhook processing failed (ip=%s): %v", GetClientIP(c), err)
			// 500 tells the provider to redeliver the event later.
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "processing_failed"})
		}

		if result.Duplicate {
			return c.JSON(fiber.Map{"received": true, "duplicate": true})
		}
		return c.JSON(fiber.Map{"received": true})
	}
}
