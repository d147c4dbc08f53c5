// Package sync exposes the directory synchronization jobs to the admin
// console.
package sync

import (
	"errors"
	"fmt"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog/log"

	"github.com/CBIIT/nci-user-registration/internal/config"
	"github.com/CBIIT/nci-user-registration/internal/directory"
	"github.com/CBIIT/nci-user-registration/internal/web/handler"
)

// Path is the base path of the sync endpoints.
const Path = "/admin/sync"

// Service is the sync handler service.
type Service struct {
	cfg *config.Config
	dir *directory.Provider
}

// Handler is the sync handler.
var Handler = Service{}

// Init initializes the sync handler.
func (s *Service) Init(app *fiber.App, cfg *config.Config, dir *directory.Provider) error {
	if app == nil || cfg == nil || dir == nil {
		return errors.New(handler.ErrNilACDFatalLogMsg)
	}

	s.cfg = cfg
	s.dir = dir

	app.Route(Path, func(router fiber.Router) {
		router.Get(handler.RouterRootPath, s.Index)
		router.Get("/users", s.SyncUsers)
		router.Get("/load", s.LoadUsers)
	})

	return nil
}

// Index shows the available jobs.
func (s *Service) Index(c *fiber.Ctx) error {
	return s.render(c, "", "")
}

// SyncUsers runs the attribute sync against the directory.
func (s *Service) SyncUsers(c *fiber.Ctx) error {
	if !handler.IsAdmin(c) {
		return handler.ForbidViewer(c)
	}

	stats, err := s.dir.SyncUsers(c.Context())
	if err != nil {
		log.Error().Err(err).Msg("user sync failed")
		return s.render(c, "", "User sync failed; see the logs.")
	}

	notice := fmt.Sprintf(
		"Sync finished: %d fetched, %d inserted, %d updated, %d unchanged, %d reset for reprocessing.",
		stats.Fetched, stats.Inserted, stats.Updated, stats.Unchanged, stats.Reset,
	)

	return s.render(c, notice, "")
}

// LoadUsers runs the one-time initial bulk load.
func (s *Service) LoadUsers(c *fiber.Ctx) error {
	if !handler.IsAdmin(c) {
		return handler.ForbidViewer(c)
	}

	count, err := s.dir.LoadUsers(c.Context())
	switch {
	case errors.Is(err, directory.ErrNotEmpty):
		return s.render(c, "", "Records already exist; the initial load only runs on an empty database.")
	case err != nil:
		log.Error().Err(err).Msg("initial load failed")
		return s.render(c, "", "Initial load failed; see the logs.")
	}

	return s.render(c, fmt.Sprintf("Initial load finished: %d records.", count), "")
}

func (s *Service) render(c *fiber.Ctx, notice, errMsg string) error {
	return c.Render("admin/sync", fiber.Map{
		"title":  s.cfg.Title,
		"user":   handler.CurrentUser(c),
		"notice": notice,
		"error":  errMsg,
	}, handler.BaseLayout)
}
