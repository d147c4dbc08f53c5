// Package logout ends an admin console session.
package logout

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/CBIIT/nci-user-registration/internal/web/handler"
	"github.com/CBIIT/nci-user-registration/internal/web/session"
)

// Path is the path to the logout endpoint.
const Path = "/logout"

// Service is the logout handler service.
type Service struct{}

// Handler is the logout handler.
var Handler = Service{}

// Init initializes the logout handler.
func (s *Service) Init(app *fiber.App) error {
	if app == nil {
		return errors.New("app is nil")
	}

	app.Get(Path, s.Get)

	return nil
}

// Get destroys the session and returns to the login page.
func (s *Service) Get(c *fiber.Ctx) error {
	if cookie := c.Cookies(handler.SessionCookie); cookie != "" {
		_ = session.Destroy(cookie)
		c.ClearCookie(handler.SessionCookie)
	}

	return c.Redirect("/login")
}
