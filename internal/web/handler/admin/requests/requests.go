// Package requests serves the admin console views of the access request
// ledger: search, detail and the approve/reject decisions.
package requests

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog/log"

	"github.com/CBIIT/nci-user-registration/internal/appcatalog"
	"github.com/CBIIT/nci-user-registration/internal/config"
	"github.com/CBIIT/nci-user-registration/internal/db/models"
	"github.com/CBIIT/nci-user-registration/internal/request"
	"github.com/CBIIT/nci-user-registration/internal/web/handler"
)

// Path is the base path of the ledger views.
const Path = "/admin/requests"

// Service is the ledger handler service.
type Service struct {
	cfg      *config.Config
	requests *request.Service
	catalog  *appcatalog.Service
}

// Handler is the ledger handler.
var Handler = Service{}

// Init initializes the ledger handler.
func (s *Service) Init(app *fiber.App, cfg *config.Config, requests *request.Service, catalog *appcatalog.Service) error {
	if app == nil || cfg == nil || requests == nil || catalog == nil {
		return errors.New(handler.ErrNilACDFatalLogMsg)
	}

	s.cfg = cfg
	s.requests = requests
	s.catalog = catalog

	app.Route(Path, func(router fiber.Router) {
		router.Get(handler.RouterRootPath, s.Search)
		router.Get("/:id", s.Detail)
		router.Post("/:id/approve", s.Approve)
		router.Post("/:id/reject", s.Reject)
	})

	return nil
}

// Search lists requests matching the query parameters.
func (s *Service) Search(c *fiber.Ctx) error {
	filter := request.SearchFilter{
		RequestID:   c.Query("requestid"),
		Application: c.Query("application"),
		RequesterDN: c.Query("requester"),
		Approval:    models.Approval(c.Query("approval")),
	}

	results, err := s.requests.Search(c.Context(), filter)
	if err != nil {
		log.Error().Err(err).Msg("request search failed")
		return fiber.ErrInternalServerError
	}

	return c.Render("admin/requests", fiber.Map{
		"title":   s.cfg.Title,
		"user":    handler.CurrentUser(c),
		"filter":  filter,
		"results": results,
	}, handler.BaseLayout)
}

// Detail shows one request with its decision form.
func (s *Service) Detail(c *fiber.Ctx) error {
	return s.renderDetail(c, c.Params("id"), "", "")
}

// Approve resolves a request in the requester's favour. The grant is
// resolved from the catalog before the ledger is touched, so an approval
// without a valid application and level never lands.
func (s *Service) Approve(c *fiber.Ctx) error {
	if !handler.IsAdmin(c) {
		return handler.ForbidViewer(c)
	}

	requestID := c.Params("id")

	req, err := s.requests.Get(c.Context(), requestID)
	if errors.Is(err, request.ErrRequestNotFound) {
		return fiber.ErrNotFound
	}
	if err != nil {
		log.Error().Err(err).Msg("failed to load access request")
		return fiber.ErrInternalServerError
	}

	level := c.FormValue("level")
	if level == "" {
		level = req.RequestedLevel
	}

	grant, err := s.catalog.ResolveGrant(c.Context(), req.ApplicationID, level)
	switch {
	case errors.Is(err, appcatalog.ErrAppNotFound):
		return s.renderDetail(c, requestID, "", "The requested application no longer exists.")
	case errors.Is(err, appcatalog.ErrRoleNotFound):
		return s.renderDetail(c, requestID, "", "The application has no such level.")
	case err != nil:
		log.Error().Err(err).Msg("failed to resolve grant")
		return s.renderDetail(c, requestID, "", "Something went wrong.")
	}

	err = s.requests.Approve(c.Context(), requestID, grant, c.FormValue("notes"))
	return s.decisionOutcome(c, requestID, err, "Request approved.")
}

// Reject resolves a request against the requester.
func (s *Service) Reject(c *fiber.Ctx) error {
	if !handler.IsAdmin(c) {
		return handler.ForbidViewer(c)
	}

	requestID := c.Params("id")
	err := s.requests.Reject(c.Context(), requestID, c.FormValue("notes"))

	return s.decisionOutcome(c, requestID, err, "Request rejected.")
}

func (s *Service) decisionOutcome(c *fiber.Ctx, requestID string, err error, success string) error {
	switch {
	case err == nil:
		return s.renderDetail(c, requestID, success, "")
	case errors.Is(err, request.ErrAlreadyResolved):
		return s.renderDetail(c, requestID, "No change: the request was already resolved.", "")
	case errors.Is(err, request.ErrRequestNotFound):
		return fiber.ErrNotFound
	default:
		log.Error().Err(err).Msg("failed to resolve access request")
		return s.renderDetail(c, requestID, "", "Something went wrong.")
	}
}

func (s *Service) renderDetail(c *fiber.Ctx, requestID, notice, errMsg string) error {
	req, err := s.requests.Get(c.Context(), requestID)
	if errors.Is(err, request.ErrRequestNotFound) {
		return fiber.ErrNotFound
	}
	if err != nil {
		log.Error().Err(err).Msg("failed to load access request")
		return fiber.ErrInternalServerError
	}

	return c.Render("admin/request_detail", fiber.Map{
		"title":   s.cfg.Title,
		"user":    handler.CurrentUser(c),
		"request": req,
		"groups":  req.GrantGroupDNs(),
		"notice":  notice,
		"error":   errMsg,
	}, handler.BaseLayout)
}
