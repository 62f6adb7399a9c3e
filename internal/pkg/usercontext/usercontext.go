package usercontext

import "github.com/gofiber/fiber/v2"

// Locals keys shared between the auth middleware and handlers.
const (
	localsKey        = "USER_CONTEXT"
	KeyUserID        = "user_id"
	KeyUsername      = "username"
	KeyIsAdmin       = "isAdmin"
	KeyFromProtected = "from_protected"
)

// UserContext is the authenticated identity attached to a request by the
// API key middleware. Anonymous requests carry the zero value.
type UserContext struct {
	UserID     uint   `json:"user_id"`
	Username   string `json:"username"`
	IsLoggedIn bool   `json:"is_logged_in"`
	IsAdmin    bool   `json:"is_admin"`
	PlanTier   string `json:"plan_tier"`
}

// Set attaches the context to the request and mirrors the individual
// Locals keys some handlers read directly.
func Set(c *fiber.Ctx, ctx UserContext) {
	c.Locals(localsKey, ctx)
	c.Locals(KeyFromProtected, ctx.IsLoggedIn)
	c.Locals(KeyUserID, ctx.UserID)
	c.Locals(KeyUsername, ctx.Username)
	c.Locals(KeyIsAdmin, ctx.IsAdmin)
}

// GetUserContext retrieves the user context from fiber context, returning
// an anonymous context if none is set.
func GetUserContext(c *fiber.Ctx) UserContext {
	if ctx, ok := c.Locals(localsKey).(UserContext); ok {
		return ctx
	}
	return UserContext{}
}

// GetUserID returns the current user's ID, or 0 if not logged in.
func GetUserID(c *fiber.Ctx) uint {
	return GetUserContext(c).UserID
}

// PlanTier returns the current user's plan tier, or empty for anonymous
// requests.
func PlanTier(c *fiber.Ctx) string {
	return GetUserContext(c).PlanTier
}
