package web

import (
	"errors"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/filesystem"
	"github.com/gofiber/template/html/v2"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/CBIIT/nci-user-registration/internal/appcatalog"
	"github.com/CBIIT/nci-user-registration/internal/config"
	"github.com/CBIIT/nci-user-registration/internal/directory"
	fiberlogger "github.com/CBIIT/nci-user-registration/internal/logger/adapter/fiber"
	"github.com/CBIIT/nci-user-registration/internal/mailer"
	"github.com/CBIIT/nci-user-registration/internal/mapping"
	"github.com/CBIIT/nci-user-registration/internal/queue"
	"github.com/CBIIT/nci-user-registration/internal/request"
	"github.com/CBIIT/nci-user-registration/internal/token"
	"github.com/CBIIT/nci-user-registration/internal/web/handler/accessrequest"
	adminapps "github.com/CBIIT/nci-user-registration/internal/web/handler/admin/apps"
	adminbatch "github.com/CBIIT/nci-user-registration/internal/web/handler/admin/batch"
	"github.com/CBIIT/nci-user-registration/internal/web/handler/admin/dashboard"
	adminrequests "github.com/CBIIT/nci-user-registration/internal/web/handler/admin/requests"
	adminsync "github.com/CBIIT/nci-user-registration/internal/web/handler/admin/sync"
	adminuser "github.com/CBIIT/nci-user-registration/internal/web/handler/admin/user"
	"github.com/CBIIT/nci-user-registration/internal/web/handler/confirm"
	"github.com/CBIIT/nci-user-registration/internal/web/handler/itrust"
	"github.com/CBIIT/nci-user-registration/internal/web/handler/logoff"
	"github.com/CBIIT/nci-user-registration/internal/web/handler/login"
	"github.com/CBIIT/nci-user-registration/internal/web/handler/logout"
	"github.com/CBIIT/nci-user-registration/internal/web/handler/register"
)

// Collaborators are the services the handlers work with.
type Collaborators struct {
	Tokens    *token.Store
	Mapping   *mapping.Service
	Queues    *queue.Service
	Requests  *request.Service
	Catalog   *appcatalog.Service
	Directory *directory.Provider
	Mailer    mailer.Mailer
}

// Service represents the web service.
type Service struct {
	App          *fiber.App
	cfg          *config.Config
	fastShutDown bool
	alive        atomic.Bool
	db           *gorm.DB
}

// Start starts the web service on the given address.
func (s *Service) Start(addr string) error {
	var doneFiber = make(chan bool)

	go func() {
		if err := s.App.Listen(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Msgf("fiber listen error: %v", err)
		}

		doneFiber <- true
	}()

	<-doneFiber // wait for fiber to stop

	return nil
}

// WaitShutdown waits for graceful shutdown of the service.
func (s *Service) WaitShutdown() {
	irqSig := make(chan os.Signal, 1)
	signal.Notify(irqSig, syscall.SIGINT, syscall.SIGTERM)

	sig := <-irqSig
	log.Info().Msgf("shutdown request (signal: %v)", sig)

	// Graceful shutdown for reverse proxies: set status to fail, so checkalive returns fail.
	if !s.fastShutDown {
		log.Info().Msgf(
			"graceful shutdown: return 503 while %d seconds to let LB to remove this pod from active targets",
			s.cfg.Webserver.ShutDownTime,
		)

		s.alive.Store(false)
		time.Sleep(time.Duration(s.cfg.Webserver.ShutDownTime) * time.Second)
	}

	// stop fiber http server
	serverShutdown := make(chan struct{})

	go func() {
		log.Info().Msg("stopping http server ...")

		err := s.App.Shutdown()
		if err != nil {
			log.Error().Err(err).Msg("")
		}

		serverShutdown <- struct{}{}
	}()

	<-serverShutdown
	log.Info().Msg("http server was stopped ... good bye...")
}

// New creates a new web service with the given configuration.
func New(cfg *config.Config, db *gorm.DB, col *Collaborators) *Service {
	if cfg == nil {
		panic("config cannot be nil")
	}

	if db == nil {
		panic("db cannot be nil")
	}

	if col == nil {
		panic("collaborators cannot be nil")
	}

	httpFS := http.FS(templateEmbedFS{embeddedTemplates})
	templateEngine := html.NewFileSystem(httpFS, ".gohtml")

	// in debug mode, use local filesystem for templates
	if cfg.DevMode {
		templateEngine = html.New("./internal/web/templates", ".gohtml")
		templateEngine.ShouldReload = true

		log.Warn().Msg("debug mode enabled: using local filesystem for templates")
	}

	// create fiber app
	app := fiber.New(
		fiber.Config{
			ReadBufferSize: 8192,
			AppName:        cfg.Title,
			CaseSensitive:  true,
			Prefork:        false,
			Immutable:      true,
			Views:          templateEngine,
		},
	)

	// access logging
	app.Use(fiberlogger.New(fiberlogger.Config{
		Config:        cfg.Log,
		CheckAliveURI: "/checkalive",
	}))

	// serve embedded static files
	app.Use("/static",
		filesystem.New(
			filesystem.Config{
				Root:       http.FS(embeddedStaticFiles),
				PathPrefix: "static",
				Browse:     cfg.Webserver.BrowseStatic,
			},
		),
	)

	// admin console auth middleware
	app.Use(AdminAuthMiddleware)

	// init web service
	service := &Service{
		cfg: cfg,
		App: app,
		db:  db,
	}

	service.alive.Store(true)

	app.Get("/checkalive", func(c *fiber.Ctx) error {
		if !service.alive.Load() {
			return c.SendStatus(fiber.StatusServiceUnavailable)
		}

		return c.SendString("OK")
	})

	// init handlers (they register their own routes)
	mustInit(register.Handler.Init(app, cfg, col.Tokens, col.Mailer))
	mustInit(confirm.Handler.Init(app, cfg, col.Mapping))
	mustInit(itrust.Handler.Init(app, cfg, db, col.Mapping))
	mustInit(logoff.Handler.Init(app, cfg))
	mustInit(accessrequest.Handler.Init(app, cfg, col.Requests, col.Catalog))

	mustInit(login.Handler.Init(app, cfg, db))
	mustInit(logout.Handler.Init(app))
	mustInit(dashboard.Handler.Init(app, cfg, db, col.Requests))
	mustInit(adminuser.Handler.Init(app, cfg, db, col.Mapping, col.Queues))
	mustInit(adminapps.Handler.Init(app, cfg, col.Catalog, col.Directory))
	mustInit(adminrequests.Handler.Init(app, cfg, col.Requests, col.Catalog))
	mustInit(adminsync.Handler.Init(app, cfg, col.Directory))
	mustInit(adminbatch.Handler.Init(app, cfg, col.Queues, col.Requests))

	return service
}

func mustInit(err error) {
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize web handler")
	}
}
