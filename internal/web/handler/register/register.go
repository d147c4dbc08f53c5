// Package register serves the registration form and the lookup step that
// emails a confirmation link.
package register

import (
	"errors"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog/log"

	"github.com/CBIIT/nci-user-registration/internal/config"
	"github.com/CBIIT/nci-user-registration/internal/mailer"
	"github.com/CBIIT/nci-user-registration/internal/token"
	"github.com/CBIIT/nci-user-registration/internal/web/handler"
)

// lookupForm is the registration form submission.
type lookupForm struct {
	Username string `form:"username" validate:"required,min=2,max=100"`
	Email    string `form:"email"    validate:"required,email"`
}

// Service is the registration handler service.
type Service struct {
	cfg      *config.Config
	tokens   *token.Store
	mailer   mailer.Mailer
	validate *validator.Validate
}

// Handler is the registration handler.
var Handler = Service{}

// Init initializes the registration handler.
func (s *Service) Init(app *fiber.App, cfg *config.Config, tokens *token.Store, m mailer.Mailer) error {
	if app == nil || cfg == nil || tokens == nil {
		return errors.New("app, cfg or token store is nil")
	}

	s.cfg = cfg
	s.tokens = tokens
	s.mailer = m
	s.validate = validator.New()

	app.Get(handler.RouterRootPath, s.Get)
	app.Post("/auth/lookup", s.Post)

	return nil
}

// Get renders the registration form.
func (s *Service) Get(c *fiber.Ctx) error {
	return c.Render("register", fiber.Map{
		"title": s.cfg.Title,
	}, handler.BaseLayout)
}

// Post looks the submitted pair up and emails the matching address. The
// response is the same for every outcome so the form cannot be used to
// probe which accounts exist.
func (s *Service) Post(c *fiber.Ctx) error {
	form := new(lookupForm)
	if err := c.BodyParser(form); err != nil {
		return s.renderError(c, "The submitted form could not be read.")
	}

	if err := s.validate.Struct(form); err != nil {
		return s.renderError(c, "Please provide your username and a valid email address.")
	}

	record, err := s.tokens.Find(c.Context(), form.Username, form.Email)
	switch {
	case errors.Is(err, token.ErrRecordNotFound):
		s.send([]string{form.Email}, mailer.NotFoundMessage())
	case err != nil:
		log.Error().Err(err).Msg("registration lookup failed")
		return s.renderError(c, "Something went wrong. Please try again later.")
	case record.IsMapped():
		s.send([]string{record.Email}, mailer.AlreadyRegisteredMessage(record.Username))
	default:
		value, errIssue := s.tokens.Issue(c.Context(), form.Username, form.Email)
		if errIssue != nil {
			log.Error().Err(errIssue).Msg("failed to issue confirmation token")
			return s.renderError(c, "Something went wrong. Please try again later.")
		}
		s.send([]string{record.Email}, mailer.ConfirmationMessage(s.cfg.Confirm.URLPrefix, value))
	}

	return c.Redirect("/logoff?mailsent=true&mail=" + form.Email)
}

func (s *Service) renderError(c *fiber.Ctx, message string) error {
	return c.Render("register", fiber.Map{
		"title": s.cfg.Title,
		"error": message,
	}, handler.BaseLayout)
}

// send delivers in the background; lookups never wait on the relay.
func (s *Service) send(to []string, msg mailer.Message) {
	if s.mailer == nil {
		return
	}

	go func() {
		if err := s.mailer.Send(to, msg.Subject, msg.Body); err != nil {
			log.Error().Err(err).Strs("to", to).Msg("failed to send registration mail")
		}
	}()
}
