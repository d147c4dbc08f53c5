package handler

import (
	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"github.com/CBIIT/nci-user-registration/internal/config"
)

// Service is the interface for a web handler service. Handlers that need
// collaborators beyond the database take them as additional Init arguments.
type Service interface {
	Init(app *fiber.App, cfg *config.Config, db *gorm.DB) error
}
