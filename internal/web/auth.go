package web

import (
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/CBIIT/nci-user-registration/internal/web/handler"
	"github.com/CBIIT/nci-user-registration/internal/web/handler/login"
	"github.com/CBIIT/nci-user-registration/internal/web/session"
)

// AdminAuthMiddleware guards the admin console. The portal flows and the
// batch endpoints pass through: the portal is public by design and the
// batch paths are reachable only from the trusted batch network.
func AdminAuthMiddleware(c *fiber.Ctx) error {
	originalURL := strings.ToLower(c.OriginalURL())

	isLoginPage := strings.HasPrefix(originalURL, login.Path)
	isAdminPage := strings.HasPrefix(originalURL, "/admin")
	isBatchPath := strings.HasPrefix(originalURL, "/admin/batch")

	if isBatchPath || (!isAdminPage && !isLoginPage) {
		return c.Next()
	}

	// check session validity
	sessData := new(session.Data)
	if cookie := c.Cookies(handler.SessionCookie); cookie != "" {
		_ = sessData.Read(cookie)
	}

	sessDataValid := sessData.User.ID > 0

	if sessDataValid {
		c.Locals(handler.LocalsUserKey, sessData.User)

		if isLoginPage {
			return c.Redirect("/admin")
		}

		return c.Next()
	}

	if isAdminPage {
		return c.Redirect(login.Path)
	}

	return c.Next()
}
