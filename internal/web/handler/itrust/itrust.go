// Package itrust serves the proxy-protected endpoints: the binding step the
// confirmation flow lands on and the public key update form. The federation
// proxy in front of these paths asserts the visitor's identity through
// trusted request headers.
package itrust

import (
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/CBIIT/nci-user-registration/internal/config"
	"github.com/CBIIT/nci-user-registration/internal/db/controller/audit"
	"github.com/CBIIT/nci-user-registration/internal/db/models"
	"github.com/CBIIT/nci-user-registration/internal/mapping"
	"github.com/CBIIT/nci-user-registration/internal/web/handler"
	"github.com/CBIIT/nci-user-registration/internal/web/session"
)

// Service is the proxy-protected flow handler service.
type Service struct {
	cfg     *config.Config
	db      *gorm.DB
	mapping *mapping.Service
}

// Handler is the proxy-protected flow handler.
var Handler = Service{}

// Init initializes the handler.
func (s *Service) Init(app *fiber.App, cfg *config.Config, db *gorm.DB, m *mapping.Service) error {
	if app == nil || cfg == nil || db == nil || m == nil {
		return errors.New(handler.ErrNilACDFatalLogMsg)
	}

	s.cfg = cfg
	s.db = db
	s.mapping = m

	app.Route("/protected/itrust", func(router fiber.Router) {
		router.Get("/map/:id", s.Map)
		router.Get("/update", s.UpdateForm)
		router.Post("/update", s.Update)
	})

	return nil
}

// Map binds the proxy-asserted identity to the session principal's record.
func (s *Service) Map(c *fiber.Ctx) error {
	sessData := new(session.Data)
	if cookie := c.Cookies(handler.SessionCookie); cookie != "" {
		_ = sessData.Read(cookie)
	}

	var principal *mapping.Principal
	if sessData.Principal.Username != "" {
		principal = &sessData.Principal
	}

	result, err := s.mapping.Bind(
		c.Context(),
		principal,
		c.Get(handler.HeaderExternalDN),
		c.Get(handler.HeaderAuthType),
	)
	if err != nil {
		return handler.RedirectForCategory(c, mapping.CategoryOf(err))
	}

	if result.State == models.StatePending {
		return c.Redirect("/logoff?pending=true")
	}

	return c.Redirect("/logoff?mapped=true&mail=" + result.Record.Email)
}

// UpdateForm renders the public key form for the proxy-asserted identity.
func (s *Service) UpdateForm(c *fiber.Ctx) error {
	record, err := s.recordFromHeader(c)
	if err != nil {
		return c.Redirect("/logoff?updateerror=true")
	}

	return c.Render("pubkey", fiber.Map{
		"title":    s.cfg.Title,
		"username": record.Username,
		"key":      record.PublicKey,
	}, handler.BaseLayout)
}

// Update stores a submitted public key and queues it for the downstream
// consumer.
func (s *Service) Update(c *fiber.Ctx) error {
	record, err := s.recordFromHeader(c)
	if err != nil {
		return c.Redirect("/logoff?updateerror=true")
	}

	key := strings.TrimSpace(c.FormValue("publickey"))
	if key == "" {
		return c.Redirect("/logoff?updateerror=true")
	}

	err = s.db.WithContext(c.Context()).Model(&models.IdentityRecord{}).
		Where("id = ?", record.ID).
		Updates(map[string]any{
			"public_key":           key,
			"public_key_processed": false,
		}).Error
	if err != nil {
		log.Error().Err(err).Uint64("record", record.ID).Msg("failed to store public key")
		return c.Redirect("/logoff?updateerror=true")
	}

	if errAudit := audit.Append(s.db, record.ID, "Public key updated"); errAudit != nil {
		log.Error().Err(errAudit).Uint64("record", record.ID).Msg("failed to append audit entry")
	}

	return c.Redirect("/logoff?updatesuccess=true")
}

// recordFromHeader resolves the proxy-asserted identity to its bound
// record.
func (s *Service) recordFromHeader(c *fiber.Ctx) (*models.IdentityRecord, error) {
	dn := strings.ToLower(strings.TrimSpace(c.Get(handler.HeaderExternalDN)))
	if dn == "" {
		return nil, errors.New("no identity asserted")
	}

	var record models.IdentityRecord
	err := s.db.WithContext(c.Context()).
		Where("external_dn = ?", dn).
		First(&record).Error
	if err != nil {
		return nil, err
	}

	return &record, nil
}
