// Package dashboard renders the admin console landing page with the
// population and queue statistics.
package dashboard

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/CBIIT/nci-user-registration/internal/config"
	"github.com/CBIIT/nci-user-registration/internal/db/models"
	"github.com/CBIIT/nci-user-registration/internal/request"
	"github.com/CBIIT/nci-user-registration/internal/web/handler"
)

// Path is the path to the admin dashboard.
const Path = "/admin"

// Service is the dashboard handler service.
type Service struct {
	cfg      *config.Config
	db       *gorm.DB
	requests *request.Service
}

// Handler is the dashboard handler.
var Handler = Service{}

// Init initializes the dashboard handler.
func (s *Service) Init(app *fiber.App, cfg *config.Config, db *gorm.DB, requests *request.Service) error {
	if app == nil || cfg == nil || db == nil || requests == nil {
		return errors.New(handler.ErrNilACDFatalLogMsg)
	}

	s.cfg = cfg
	s.db = db
	s.requests = requests

	app.Get(Path, s.Get)

	return nil
}

type stats struct {
	Total         int64
	Mapped        int64
	External      int64
	Unprocessed   int64
	Processed     int64
	PendingReview int64
	OpenRequests  int64
}

// Get renders the dashboard.
func (s *Service) Get(c *fiber.Ctx) error {
	var counts stats

	model := func() *gorm.DB {
		return s.db.WithContext(c.Context()).Model(&models.IdentityRecord{})
	}

	if err := model().Count(&counts.Total).Error; err != nil {
		log.Error().Err(err).Msg("failed to count identity records")
	}
	if err := model().Where("external_dn IS NOT NULL").Count(&counts.Mapped).Error; err != nil {
		log.Error().Err(err).Msg("failed to count mapped records")
	}
	if err := model().Where("processing_state = ?", models.StateUnprocessed).
		Count(&counts.Unprocessed).Error; err != nil {
		log.Error().Err(err).Msg("failed to count unprocessed records")
	}
	if err := model().Where("processing_state = ?", models.StateProcessed).
		Count(&counts.Processed).Error; err != nil {
		log.Error().Err(err).Msg("failed to count processed records")
	}
	if err := model().Where("processing_state IN ?",
		[]models.ProcessingState{models.StatePending, models.StateManual}).
		Count(&counts.PendingReview).Error; err != nil {
		log.Error().Err(err).Msg("failed to count pending review records")
	}

	if s.cfg.EDir.ExternalGroupDN != "" {
		if err := model().Where("group_membership LIKE ?", "%"+s.cfg.EDir.ExternalGroupDN+"%").
			Count(&counts.External).Error; err != nil {
			log.Error().Err(err).Msg("failed to count external population")
		}
	}

	open, err := s.requests.PendingCount(c.Context())
	if err != nil {
		log.Error().Err(err).Msg("failed to count open access requests")
	}
	counts.OpenRequests = open

	return c.Render("admin/dashboard", fiber.Map{
		"title": s.cfg.Title,
		"user":  handler.CurrentUser(c),
		"stats": counts,
	}, handler.BaseLayout)
}
