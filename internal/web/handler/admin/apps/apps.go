// Package apps manages the application catalog from the admin console and
// triggers the directory group reload.
package apps

import (
	"errors"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog/log"

	"github.com/CBIIT/nci-user-registration/internal/appcatalog"
	"github.com/CBIIT/nci-user-registration/internal/config"
	"github.com/CBIIT/nci-user-registration/internal/db/models"
	"github.com/CBIIT/nci-user-registration/internal/directory"
	"github.com/CBIIT/nci-user-registration/internal/web/handler"
)

// Path is the base path of the catalog views.
const Path = "/admin/apps"

// Service is the catalog handler service.
type Service struct {
	cfg     *config.Config
	catalog *appcatalog.Service
	dir     *directory.Provider
}

// Handler is the catalog handler.
var Handler = Service{}

// Init initializes the catalog handler.
func (s *Service) Init(app *fiber.App, cfg *config.Config, catalog *appcatalog.Service, dir *directory.Provider) error {
	if app == nil || cfg == nil || catalog == nil || dir == nil {
		return errors.New(handler.ErrNilACDFatalLogMsg)
	}

	s.cfg = cfg
	s.catalog = catalog
	s.dir = dir

	app.Route(Path, func(router fiber.Router) {
		router.Get(handler.RouterRootPath, s.List)
		router.Post(handler.RouterRootPath, s.Create)
		router.Get("/sync-groups", s.SyncGroups)
		router.Post("/:id/update", s.Update)
		router.Post("/:id/delete", s.Delete)
		router.Post("/:id/roles", s.AddRole)
		router.Post("/:id/roles/delete", s.RemoveRole)
		router.Post("/:id/roles/groups", s.SetRoleGroups)
	})

	return nil
}

// List shows the catalog, optionally filtered by name.
func (s *Service) List(c *fiber.Ctx) error {
	return s.render(c, "", "")
}

// Create registers a new application.
func (s *Service) Create(c *fiber.Ctx) error {
	if !handler.IsAdmin(c) {
		return handler.ForbidViewer(c)
	}

	_, err := s.catalog.CreateApp(c.Context(), c.FormValue("name"), c.FormValue("description"))
	switch {
	case err == nil:
		return s.render(c, "Application created.", "")
	case errors.Is(err, appcatalog.ErrAppExists):
		return s.render(c, "", "An application with that name already exists.")
	case errors.Is(err, appcatalog.ErrNameEmpty):
		return s.render(c, "", "The name cannot be empty.")
	default:
		log.Error().Err(err).Msg("failed to create application")
		return s.render(c, "", "Something went wrong.")
	}
}

// Update changes an application's name or description.
func (s *Service) Update(c *fiber.Ctx) error {
	if !handler.IsAdmin(c) {
		return handler.ForbidViewer(c)
	}

	id, err := parseID(c)
	if err != nil {
		return err
	}

	err = s.catalog.UpdateApp(c.Context(), id, c.FormValue("name"), c.FormValue("description"))
	return s.outcome(c, err, "Application updated.")
}

// Delete removes an application and its roles.
func (s *Service) Delete(c *fiber.Ctx) error {
	if !handler.IsAdmin(c) {
		return handler.ForbidViewer(c)
	}

	id, err := parseID(c)
	if err != nil {
		return err
	}

	err = s.catalog.DeleteApp(c.Context(), id)
	return s.outcome(c, err, "Application deleted.")
}

// AddRole adds an access level with its granted groups.
func (s *Service) AddRole(c *fiber.Ctx) error {
	if !handler.IsAdmin(c) {
		return handler.ForbidViewer(c)
	}

	id, err := parseID(c)
	if err != nil {
		return err
	}

	_, err = s.catalog.AddRole(c.Context(), id, c.FormValue("name"), splitGroups(c.FormValue("groups")))
	return s.outcome(c, err, "Role added.")
}

// RemoveRole deletes an access level.
func (s *Service) RemoveRole(c *fiber.Ctx) error {
	if !handler.IsAdmin(c) {
		return handler.ForbidViewer(c)
	}

	id, err := parseID(c)
	if err != nil {
		return err
	}

	err = s.catalog.RemoveRole(c.Context(), id, c.FormValue("name"))
	return s.outcome(c, err, "Role removed.")
}

// SetRoleGroups replaces the groups an access level grants.
func (s *Service) SetRoleGroups(c *fiber.Ctx) error {
	if !handler.IsAdmin(c) {
		return handler.ForbidViewer(c)
	}

	id, err := parseID(c)
	if err != nil {
		return err
	}

	err = s.catalog.SetRoleGroups(c.Context(), id, c.FormValue("name"), splitGroups(c.FormValue("groups")))
	return s.outcome(c, err, "Role groups updated.")
}

// SyncGroups reloads the directory groups of both sources.
func (s *Service) SyncGroups(c *fiber.Ctx) error {
	if !handler.IsAdmin(c) {
		return handler.ForbidViewer(c)
	}

	stats, err := s.dir.SyncGroups(c.Context())
	if err != nil {
		log.Error().Err(err).Msg("group sync failed")
		return s.render(c, "", "Group sync failed; see the logs.")
	}

	notice := "Groups reloaded: " +
		strconv.Itoa(stats.Federated) + " federated, " +
		strconv.Itoa(stats.Internal) + " internal."

	return s.render(c, notice, "")
}

func (s *Service) outcome(c *fiber.Ctx, err error, success string) error {
	switch {
	case err == nil:
		return s.render(c, success, "")
	case errors.Is(err, appcatalog.ErrAppNotFound):
		return fiber.ErrNotFound
	case errors.Is(err, appcatalog.ErrAppExists):
		return s.render(c, "", "An application with that name already exists.")
	case errors.Is(err, appcatalog.ErrRoleExists):
		return s.render(c, "", "The application already has that role.")
	case errors.Is(err, appcatalog.ErrRoleNotFound):
		return s.render(c, "", "No such role.")
	case errors.Is(err, appcatalog.ErrNameEmpty):
		return s.render(c, "", "The name cannot be empty.")
	default:
		log.Error().Err(err).Msg("catalog operation failed")
		return s.render(c, "", "Something went wrong.")
	}
}

func (s *Service) render(c *fiber.Ctx, notice, errMsg string) error {
	filter := strings.TrimSpace(c.Query("name"))

	var (
		list []models.Application
		err  error
	)
	if filter != "" {
		list, err = s.catalog.Search(c.Context(), filter)
	} else {
		list, err = s.catalog.ListApps(c.Context())
	}
	if err != nil {
		log.Error().Err(err).Msg("failed to list applications")
	}

	return c.Render("admin/apps", fiber.Map{
		"title":  s.cfg.Title,
		"user":   handler.CurrentUser(c),
		"apps":   list,
		"filter": filter,
		"notice": notice,
		"error":  errMsg,
	}, handler.BaseLayout)
}

func parseID(c *fiber.Ctx) (uint64, error) {
	id, err := strconv.ParseUint(c.Params("id"), 10, 64)
	if err != nil {
		return 0, fiber.ErrBadRequest
	}

	return id, nil
}

// splitGroups parses the one-DN-per-line textarea.
func splitGroups(raw string) []string {
	lines := strings.Split(strings.ReplaceAll(raw, "\r\n", "\n"), "\n")

	out := make([]string, 0, len(lines))
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line != "" {
			out = append(out, line)
		}
	}

	return out
}
