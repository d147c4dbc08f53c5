// Package confirm resolves emailed confirmation links and hands successful
// visitors to the proxy-protected binding step.
package confirm

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog/log"

	"github.com/CBIIT/nci-user-registration/internal/config"
	"github.com/CBIIT/nci-user-registration/internal/mapping"
	"github.com/CBIIT/nci-user-registration/internal/web/handler"
	"github.com/CBIIT/nci-user-registration/internal/web/session"
)

// Service is the confirmation handler service.
type Service struct {
	cfg     *config.Config
	mapping *mapping.Service
}

// Handler is the confirmation handler.
var Handler = Service{}

// Init initializes the confirmation handler.
func (s *Service) Init(app *fiber.App, cfg *config.Config, m *mapping.Service) error {
	if app == nil || cfg == nil || m == nil {
		return errors.New("app, cfg or mapping service is nil")
	}

	s.cfg = cfg
	s.mapping = m

	app.Get("/auth/confirm/:id", s.Get)

	return nil
}

// Get resolves the link. A valid link stores the principal in a fresh
// session and continues to the binding step behind the federation proxy.
func (s *Service) Get(c *fiber.Ctx) error {
	tokenValue := c.Params("id")

	conf, err := s.mapping.ConfirmAndProceed(c.Context(), tokenValue)
	if err != nil {
		return handler.RedirectForCategory(c, mapping.CategoryOf(err))
	}

	sessionID, err := session.GenerateSessionID()
	if err != nil {
		log.Error().Err(err).Msg("failed to generate session ID")
		return handler.RedirectForCategory(c, mapping.CategoryMappingError)
	}

	flowSession := &session.Data{Principal: conf.Principal}
	if err = flowSession.Write(sessionID, s.cfg.Webserver.Session.ExpiryTime); err != nil {
		log.Error().Err(err).Msg("failed to write session")
		return handler.RedirectForCategory(c, mapping.CategoryMappingError)
	}

	cookieSettings := &fiber.Cookie{
		Name:     handler.SessionCookie,
		Value:    sessionID,
		MaxAge:   int(s.cfg.Webserver.Session.ExpiryTime.Seconds()),
		Secure:   true,
		HTTPOnly: true,
		SameSite: "Lax",
	}
	if s.cfg.DevMode {
		cookieSettings.Secure = false
	}
	c.Cookie(cookieSettings)

	return c.Redirect("/protected/itrust/map/" + tokenValue)
}
