package handler

import (
	"github.com/gofiber/fiber/v2"

	"github.com/CBIIT/nci-user-registration/internal/db/models"
)

// LocalsUserKey is where the auth middleware stores the logged-in admin.
const LocalsUserKey = "admin_user"

// CurrentUser returns the logged-in admin account, or the zero value when
// the request carries none.
func CurrentUser(c *fiber.Ctx) models.AdminUser {
	user, ok := c.Locals(LocalsUserKey).(models.AdminUser)
	if !ok {
		return models.AdminUser{}
	}

	return user
}

// IsAdmin reports whether the logged-in account may change things. Viewers
// read everything but mutate nothing.
func IsAdmin(c *fiber.Ctx) bool {
	return CurrentUser(c).Role == models.AdminRoleAdmin
}

// ForbidViewer rejects a mutation from a viewer account.
func ForbidViewer(c *fiber.Ctx) error {
	return c.Status(fiber.StatusForbidden).SendString("viewer accounts cannot make changes")
}
