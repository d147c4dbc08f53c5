// Package daemon wires the configuration, database, services and web
// service together and runs them.
package daemon

import (
	"fmt"
	"regexp"
	"time"

	"github.com/gofiber/storage"
	sessionmysql "github.com/gofiber/storage/mysql/v2"
	sessionpostgres "github.com/gofiber/storage/postgres/v3"
	"github.com/rs/zerolog/log"
	gormmysql "gorm.io/driver/mysql"
	gormpostgres "gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/CBIIT/nci-user-registration/internal/appcatalog"
	"github.com/CBIIT/nci-user-registration/internal/config"
	"github.com/CBIIT/nci-user-registration/internal/db/dsn"
	"github.com/CBIIT/nci-user-registration/internal/db/models"
	"github.com/CBIIT/nci-user-registration/internal/directory"
	"github.com/CBIIT/nci-user-registration/internal/logger"
	"github.com/CBIIT/nci-user-registration/internal/mailer"
	"github.com/CBIIT/nci-user-registration/internal/mapping"
	"github.com/CBIIT/nci-user-registration/internal/queue"
	"github.com/CBIIT/nci-user-registration/internal/request"
	"github.com/CBIIT/nci-user-registration/internal/token"
	"github.com/CBIIT/nci-user-registration/internal/web"
	"github.com/CBIIT/nci-user-registration/internal/web/session"
)

// Daemon represents the main application daemon.
type Daemon struct {
	webService *web.Service
	addr       string
}

// Start starts the Daemon's web service.
func (d *Daemon) Start() error {
	go d.webService.WaitShutdown()

	return d.webService.Start(d.addr)
}

// New creates a new Daemon instance with the provided configuration.
func New(cfg *config.Config) *Daemon {
	if cfg == nil {
		log.Fatal().Msg("config is nil")
		return nil
	}

	logCfg := cfg.Log
	if logCfg.AppName == "" {
		logCfg.AppName = "nci-user-registration"
	}
	if logCfg.ServiceName == "" {
		logCfg.ServiceName = "registration-web"
	}

	if err := logger.Init(logCfg); err != nil {
		log.Fatal().Err(err).Msg("failed to initialize logger")
	}

	db := openDatabase(cfg)

	if err := db.AutoMigrate(
		&models.IdentityRecord{},
		&models.AuditEntry{},
		&models.AccessRequest{},
		&models.Application{},
		&models.AppRole{},
		&models.DirectoryGroup{},
		&models.AdminUser{},
	); err != nil {
		log.Fatal().Err(err).Msg("failed to migrate database")
	}

	seed(cfg, db)

	// Initialize fiber session store
	session.Init(newSessionStorage(cfg))

	dnPattern, err := regexp.Compile(cfg.Confirm.DNPattern)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid identity pattern")
	}

	smtp := mailer.NewSMTP(cfg.Mail)
	tokens := token.NewStore(db, time.Duration(cfg.Confirm.TokenTTLMinutes)*time.Minute)

	collaborators := &web.Collaborators{
		Tokens:    tokens,
		Mapping:   mapping.NewService(db, tokens, smtp, dnPattern, cfg.Mail.OperatorAddress),
		Queues:    queue.NewService(db),
		Requests:  request.NewService(db),
		Catalog:   appcatalog.NewService(db),
		Directory: directory.NewProvider(cfg.EDir, db),
		Mailer:    smtp,
	}

	return &Daemon{
		webService: web.New(cfg, db, collaborators),
		addr:       fmt.Sprintf(":%d", cfg.Webserver.Port),
	}
}

// newSessionStorage picks the session backend matching the configured gorm
// engine, so the store gets a DSN in the format it can parse.
func newSessionStorage(cfg *config.Config) storage.Storage {
	if cfg.DB.GormEngine == "postgres" {
		return sessionpostgres.New(sessionpostgres.Config{
			ConnectionURI: dsn.Create(cfg),
			Table:         "sessions",
		})
	}

	return sessionmysql.New(sessionmysql.Config{
		ConnectionURI: dsn.Create(cfg),
		Table:         "sessions",
	})
}

// openDatabase connects with the configured gorm engine.
func openDatabase(cfg *config.Config) *gorm.DB {
	var dialector gorm.Dialector

	switch cfg.DB.GormEngine {
	case "postgres":
		dialector = gormpostgres.Open(dsn.Create(cfg))
	default:
		dialector = gormmysql.Open(dsn.Create(cfg))
	}

	db, err := gorm.Open(dialector, &gorm.Config{})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect database")
	}

	return db
}
