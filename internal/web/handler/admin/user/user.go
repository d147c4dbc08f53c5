// Package user serves the admin console's identity record views: search,
// record detail with audit trail, binding corrections and the whitelisted
// property edits.
package user

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/CBIIT/nci-user-registration/internal/config"
	"github.com/CBIIT/nci-user-registration/internal/db/controller/audit"
	"github.com/CBIIT/nci-user-registration/internal/db/models"
	"github.com/CBIIT/nci-user-registration/internal/mapping"
	"github.com/CBIIT/nci-user-registration/internal/queue"
	"github.com/CBIIT/nci-user-registration/internal/web/handler"
)

// Path is the base path of the identity record views.
const Path = "/admin/user"

// editableProperties is the closed set of record fields the console may
// change. Everything else belongs to the directory sync or the mapping
// flows and stays read-only here.
var editableProperties = map[string]struct {
	column string
	label  string
}{
	"email":         {column: "email", label: "Email"},
	"telephone":     {column: "telephone_number", label: "Telephone number"},
	"loginshell":    {column: "login_shell", label: "Login shell"},
	"homedirectory": {column: "home_directory", label: "Home directory"},
}

// Service is the identity record handler service.
type Service struct {
	cfg     *config.Config
	db      *gorm.DB
	mapping *mapping.Service
	queues  *queue.Service
}

// Handler is the identity record handler.
var Handler = Service{}

// Init initializes the identity record handler.
func (s *Service) Init(app *fiber.App, cfg *config.Config, db *gorm.DB, m *mapping.Service, q *queue.Service) error {
	if app == nil || cfg == nil || db == nil || m == nil || q == nil {
		return errors.New(handler.ErrNilACDFatalLogMsg)
	}

	s.cfg = cfg
	s.db = db
	s.mapping = m
	s.queues = q

	app.Route(Path, func(router fiber.Router) {
		router.Post("/search", s.Search)
		router.Get("/pending-review", s.PendingReview)
		router.Get("/:id", s.Detail)
		router.Post("/:id/itrust", s.SetBinding)
		router.Post("/:id/property", s.SetProperty)
	})

	return nil
}

// Search finds records by username, email, directory key or bound identity.
func (s *Service) Search(c *fiber.Ctx) error {
	query := strings.ToLower(strings.TrimSpace(c.FormValue("query")))
	if query == "" {
		return c.Render("admin/user_search", fiber.Map{
			"title": s.cfg.Title,
			"user":  handler.CurrentUser(c),
			"error": "Please enter a search term.",
		}, handler.BaseLayout)
	}

	like := "%" + query + "%"

	var records []models.IdentityRecord
	err := s.db.WithContext(c.Context()).
		Where("username LIKE ? OR email LIKE ? OR entrust_user LIKE ? OR external_dn LIKE ?",
			like, like, like, like).
		Order("username ASC").
		Limit(200).
		Find(&records).Error
	if err != nil {
		log.Error().Err(err).Msg("record search failed")
		return fiber.ErrInternalServerError
	}

	return c.Render("admin/user_search", fiber.Map{
		"title":   s.cfg.Title,
		"user":    handler.CurrentUser(c),
		"query":   query,
		"records": records,
	}, handler.BaseLayout)
}

// PendingReview lists the records parked in the pending or manual state.
func (s *Service) PendingReview(c *fiber.Ctx) error {
	items, err := s.queues.ListPendingReview(c.Context())
	if err != nil {
		log.Error().Err(err).Msg("failed to list records pending review")
		return fiber.ErrInternalServerError
	}

	return c.Render("admin/user_pending", fiber.Map{
		"title": s.cfg.Title,
		"user":  handler.CurrentUser(c),
		"items": items,
	}, handler.BaseLayout)
}

// Detail shows one record with its audit trail.
func (s *Service) Detail(c *fiber.Ctx) error {
	record, err := s.load(c)
	if err != nil {
		return err
	}

	entries, err := audit.ListForRecord(s.db, record.ID)
	if err != nil {
		log.Error().Err(err).Uint64("record", record.ID).Msg("failed to load audit trail")
	}

	return s.renderDetail(c, record, entries, "", "")
}

// SetBinding sets or corrects the record's bound identity.
func (s *Service) SetBinding(c *fiber.Ctx) error {
	if !handler.IsAdmin(c) {
		return handler.ForbidViewer(c)
	}

	record, err := s.load(c)
	if err != nil {
		return err
	}

	err = s.mapping.AdminSetBinding(c.Context(), record.ID, c.FormValue("externaldn"))

	var notice, errMsg string
	switch {
	case err == nil:
		notice = "Binding updated."
	case errors.Is(err, mapping.ErrNothingToChange):
		notice = "Nothing to change."
	case errors.Is(err, mapping.ErrEmptyDN):
		errMsg = "The identity cannot be empty."
	case errors.Is(err, mapping.ErrDuplicateBinding):
		errMsg = "That identity is already bound to another record."
	default:
		log.Error().Err(err).Uint64("record", record.ID).Msg("failed to set binding")
		errMsg = "Something went wrong."
	}

	return s.reloadDetail(c, record.ID, notice, errMsg)
}

// SetProperty updates one whitelisted record field.
func (s *Service) SetProperty(c *fiber.Ctx) error {
	if !handler.IsAdmin(c) {
		return handler.ForbidViewer(c)
	}

	record, err := s.load(c)
	if err != nil {
		return err
	}

	prop, ok := editableProperties[strings.TrimSpace(c.FormValue("field"))]
	if !ok {
		return s.reloadDetail(c, record.ID, "", "That field cannot be edited here.")
	}

	value := strings.TrimSpace(c.FormValue("value"))

	err = s.db.WithContext(c.Context()).Model(&models.IdentityRecord{}).
		Where("id = ?", record.ID).
		Update(prop.column, value).Error
	if err != nil {
		log.Error().Err(err).Uint64("record", record.ID).Msg("failed to update property")
		return s.reloadDetail(c, record.ID, "", "Something went wrong.")
	}

	message := fmt.Sprintf("%s changed to %q by %s", prop.label, value, handler.CurrentUser(c).Username)
	if errAudit := audit.Append(s.db, record.ID, message); errAudit != nil {
		log.Error().Err(errAudit).Uint64("record", record.ID).Msg("failed to append audit entry")
	}

	return s.reloadDetail(c, record.ID, prop.label+" updated.", "")
}

func (s *Service) load(c *fiber.Ctx) (*models.IdentityRecord, error) {
	id, err := strconv.ParseUint(c.Params("id"), 10, 64)
	if err != nil {
		return nil, fiber.ErrBadRequest
	}

	var record models.IdentityRecord
	err = s.db.WithContext(c.Context()).First(&record, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fiber.ErrNotFound
	}
	if err != nil {
		log.Error().Err(err).Uint64("record", id).Msg("failed to load record")
		return nil, fiber.ErrInternalServerError
	}

	return &record, nil
}

func (s *Service) reloadDetail(c *fiber.Ctx, id uint64, notice, errMsg string) error {
	var record models.IdentityRecord
	if err := s.db.WithContext(c.Context()).First(&record, id).Error; err != nil {
		return fiber.ErrInternalServerError
	}

	entries, err := audit.ListForRecord(s.db, id)
	if err != nil {
		log.Error().Err(err).Uint64("record", id).Msg("failed to load audit trail")
	}

	return s.renderDetail(c, &record, entries, notice, errMsg)
}

func (s *Service) renderDetail(c *fiber.Ctx, record *models.IdentityRecord, entries []models.AuditEntry, notice, errMsg string) error {
	externalDN := ""
	if record.ExternalDN != nil {
		externalDN = *record.ExternalDN
	}

	return c.Render("admin/user_detail", fiber.Map{
		"title":      s.cfg.Title,
		"user":       handler.CurrentUser(c),
		"record":     record,
		"externaldn": externalDN,
		"groups":     record.Groups(),
		"audit":      entries,
		"notice":     notice,
		"error":      errMsg,
	}, handler.BaseLayout)
}
