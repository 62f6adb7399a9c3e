package controllers

import (
	"errors"
	"log"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"github.com/cratebox/cratebox/app/models"
	"github.com/cratebox/cratebox/app/repository"
	"github.com/cratebox/cratebox/internal/pkg/usercontext"
)

type registerRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type issueAPIKeyRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// HandleRegister creates a new account. The validator on the user model
// enforces name/email/password constraints.
func HandleRegister(users repository.UserRepository) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var req registerRequest
		if err := c.BodyParser(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "Invalid JSON body"})
		}

		user, err := models.CreateUser(req.Username, req.Email, req.Password)
		if err != nil {
			return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{"error": "validation_failed", "message": err.Error()})
		}

		if _, err := users.GetByEmail(user.Email); err == nil {
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "conflict", "message": "Email already registered"})
		} else if !errors.Is(err, gorm.ErrRecordNotFound) {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Failed to check account"})
		}

		if err := users.Create(user); err != nil {
			log.Printf("user registration failed: %v", err)
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Failed to create account"})
		}

		return c.Status(fiber.StatusCreated).JSON(fiber.Map{
			"id":       user.ID,
			"username": user.Name,
			"email":    user.Email,
		})
	}
}

// HandleIssueAPIKey exchanges account credentials for a fresh API key. The
// raw key is returned exactly once; only its hash is stored. Issuing a new
// key invalidates the previous one.
func HandleIssueAPIKey(users repository.UserRepository) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var req issueAPIKeyRequest
		if err := c.BodyParser(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "Invalid JSON body"})
		}

		user, err := users.GetByEmail(req.Email)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized", "message": "Invalid credentials"})
			}
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Failed to load account"})
		}
		if !user.CheckPassword(req.Password) {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized", "message": "Invalid credentials"})
		}
		if user.Status != models.STATUS_ACTIVE {
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "forbidden", "message": "User inactive"})
		}

		replaced := user.HasActiveAPIKey()
		rawKey, err := user.IssueAPIKey()
		if err != nil {
			log.Printf("api key generation failed for user %d: %v", user.ID, err)
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Failed to issue API key"})
		}
		if err := users.Update(user); err != nil {
			log.Printf("api key persist failed for user %d: %v", user.ID, err)
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Failed to issue API key"})
		}

		return c.JSON(fiber.Map{
			"api_key":        rawKey,
			"api_key_prefix": user.APIKeyPrefix,
			"replaced":       replaced,
		})
	}
}

// HandleRevokeAPIKey invalidates the authenticated user's current API key.
func HandleRevokeAPIKey(users repository.UserRepository) fiber.Handler {
	return func(c *fiber.Ctx) error {
		userCtx := usercontext.GetUserContext(c)
		if !userCtx.IsLoggedIn {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized", "message": "Missing or invalid authentication"})
		}

		user, err := users.GetByID(userCtx.UserID)
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Failed to load account"})
		}

		user.RevokeAPIKey()
		if err := users.Update(user); err != nil {
			log.Printf("api key revocation failed for user %d: %v", user.ID, err)
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Failed to revoke API key"})
		}

		return c.JSON(fiber.Map{"revoked": true})
	}
}
