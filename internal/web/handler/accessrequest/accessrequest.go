// Package accessrequest serves the portal form for requesting application
// access and shows the correlation id after submission.
package accessrequest

import (
	"errors"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog/log"

	"github.com/CBIIT/nci-user-registration/internal/appcatalog"
	"github.com/CBIIT/nci-user-registration/internal/config"
	"github.com/CBIIT/nci-user-registration/internal/request"
	"github.com/CBIIT/nci-user-registration/internal/web/handler"
)

// Path is the path to the access request form.
const Path = "/access-request"

// submitForm is the access request submission.
type submitForm struct {
	AppID         uint64 `form:"app_id"        validate:"required"`
	Level         string `form:"level"         validate:"required,max=100"`
	RequesterDN   string `form:"requester_dn"  validate:"omitempty,max=512"`
	Justification string `form:"justification" validate:"max=2000"`
}

// Service is the access request handler service.
type Service struct {
	cfg      *config.Config
	requests *request.Service
	catalog  *appcatalog.Service
	validate *validator.Validate
}

// Handler is the access request handler.
var Handler = Service{}

// Init initializes the access request handler.
func (s *Service) Init(app *fiber.App, cfg *config.Config, requests *request.Service, catalog *appcatalog.Service) error {
	if app == nil || cfg == nil || requests == nil || catalog == nil {
		return errors.New("app, cfg or services are nil")
	}

	s.cfg = cfg
	s.requests = requests
	s.catalog = catalog
	s.validate = validator.New()

	app.Route(Path, func(router fiber.Router) {
		router.Get(handler.RouterRootPath, s.Get)
		router.Post(handler.RouterRootPath, s.Post)
	})

	return nil
}

// Get renders the request form with the application catalog.
func (s *Service) Get(c *fiber.Ctx) error {
	apps, err := s.catalog.ListApps(c.Context())
	if err != nil {
		log.Error().Err(err).Msg("failed to list applications")
	}

	return c.Render("access_request", fiber.Map{
		"title": s.cfg.Title,
		"apps":  apps,
	}, handler.BaseLayout)
}

// Post validates and stores a submission. The requester identity comes from
// the federation proxy header when present, otherwise from the form.
func (s *Service) Post(c *fiber.Ctx) error {
	form := new(submitForm)
	if err := c.BodyParser(form); err != nil {
		return s.renderError(c, "The submitted form could not be read.")
	}

	if headerDN := strings.TrimSpace(c.Get(handler.HeaderExternalDN)); headerDN != "" {
		form.RequesterDN = headerDN
	}

	if err := s.validate.Struct(form); err != nil || form.RequesterDN == "" {
		return s.renderError(c, "Please select an application and level and identify yourself.")
	}

	app, err := s.catalog.GetApp(c.Context(), form.AppID)
	if err != nil {
		return s.renderError(c, "The selected application does not exist.")
	}

	requestID, err := s.requests.Submit(c.Context(), request.SubmitInput{
		ApplicationID: app.ID,
		Application:   app.Name,
		Level:         form.Level,
		RequesterDN:   form.RequesterDN,
		Justification: form.Justification,
	})
	if err != nil {
		log.Error().Err(err).Msg("failed to store access request")
		return s.renderError(c, "Something went wrong. Please try again later.")
	}

	return c.Render("access_request_done", fiber.Map{
		"title":     s.cfg.Title,
		"requestid": requestID,
		"app":       app.Name,
	}, handler.BaseLayout)
}

func (s *Service) renderError(c *fiber.Ctx, message string) error {
	apps, _ := s.catalog.ListApps(c.Context())

	return c.Render("access_request", fiber.Map{
		"title": s.cfg.Title,
		"apps":  apps,
		"error": message,
	}, handler.BaseLayout)
}
