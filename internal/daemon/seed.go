package daemon

import (
	"gorm.io/gorm"

	"github.com/CBIIT/nci-user-registration/internal/config"
	"github.com/CBIIT/nci-user-registration/internal/db/models"
)

func seed(_ *config.Config, db *gorm.DB) {
	// Seed initial admin account if the table is empty

	var count int64
	db.Model(&models.AdminUser{}).Count(&count)
	if count == 0 {
		// Default credentials; change them after the first login
		db.Create(
			&models.AdminUser{
				Username: "admin",
				Password: models.HashPassword("changeme"),
				Active:   true,
				Role:     models.AdminRoleAdmin,
			},
		)
	}
}
