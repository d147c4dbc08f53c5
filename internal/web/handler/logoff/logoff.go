// Package logoff renders the single status page every registration flow
// ends on and clears the flow's session.
package logoff

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/CBIIT/nci-user-registration/internal/config"
	"github.com/CBIIT/nci-user-registration/internal/web/handler"
	"github.com/CBIIT/nci-user-registration/internal/web/session"
)

const (
	// Path is the path to the status page.
	Path = "/logoff"
)

// flags are the status categories the page understands. Exactly one is
// expected per visit.
var flags = []string{
	"mailsent", "mapped", "pending", "previouslymapped", "exp", "invalid",
	"mappingerror", "notfederated", "duplicateregistration",
	"updatesuccess", "updateerror",
}

// Service is the logoff handler service.
type Service struct {
	cfg *config.Config
}

// Handler is the logoff handler.
var Handler = Service{}

// Init initializes the logoff handler.
func (s *Service) Init(app *fiber.App, cfg *config.Config) error {
	if app == nil || cfg == nil {
		return errors.New("app or cfg is nil")
	}

	s.cfg = cfg

	app.Route(Path, func(router fiber.Router) {
		router.Get(handler.RouterRootPath, s.Get)
		router.Get("/reattempt", s.Get)
	})

	return nil
}

// Get renders the status page for the category carried in the query and
// destroys the flow's session.
func (s *Service) Get(c *fiber.Ctx) error {
	if cookie := c.Cookies(handler.SessionCookie); cookie != "" {
		_ = session.Destroy(cookie)
		c.ClearCookie(handler.SessionCookie)
	}

	category := ""
	for _, flag := range flags {
		if c.Query(flag) == "true" {
			category = flag
			break
		}
	}

	return c.Render("logoff", fiber.Map{
		"title":     s.cfg.Title,
		"category":  category,
		"mail":      c.Query("mail"),
		"reattempt": c.Path() == Path+"/reattempt",
	}, handler.BaseLayout)
}
