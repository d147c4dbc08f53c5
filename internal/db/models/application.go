package models

import (
	"strings"
	"time"
)

// Application is a registered target system users can request access to.
// Name uniqueness is case-insensitive, enforced through NameLower.
type Application struct {
	ID   uint64 `gorm:"primaryKey"`
	Name string `gorm:"size:255;not null"`
	// NameLower is the lowercased name used for the uniqueness check and
	// for case-insensitive search.
	NameLower   string `gorm:"size:255;uniqueIndex;not null"`
	Description string `gorm:"size:1024"`
	// Roles are the access levels of this application. Deleted with it.
	Roles []AppRole `gorm:"foreignKey:ApplicationID;constraint:OnDelete:CASCADE"`

	CreatedAt time.Time
	UpdatedAt time.Time
}

// TableName specifies the database table name for the Application model.
func (Application) TableName() string {
	return "applications"
}

// AppRole is one access level of an application, carrying the directory
// group DNs an approval at this level grants.
type AppRole struct {
	ID            uint64 `gorm:"primaryKey"`
	ApplicationID uint64 `gorm:"not null;uniqueIndex:idx_app_role_name"`
	Name          string `gorm:"size:100;not null;uniqueIndex:idx_app_role_name"`
	// GroupDNs is the newline joined set of granted group DNs.
	GroupDNs string `gorm:"type:text"`

	CreatedAt time.Time
	UpdatedAt time.Time
}

// TableName specifies the database table name for the AppRole model.
func (AppRole) TableName() string {
	return "app_roles"
}

// Groups returns the role's group DNs as a slice.
func (r *AppRole) Groups() []string {
	if r.GroupDNs == "" {
		return nil
	}

	return strings.Split(r.GroupDNs, groupSeparator)
}

// SetGroups stores the role's group DNs.
func (r *AppRole) SetGroups(dns []string) {
	r.GroupDNs = strings.Join(dns, groupSeparator)
}
