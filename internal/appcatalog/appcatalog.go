// Package appcatalog manages the applications and access levels that
// requests can target, and resolves an approval into its grant.
package appcatalog

import (
	"context"
	"errors"
	"strings"

	"gorm.io/gorm"

	"github.com/CBIIT/nci-user-registration/internal/db/models"
	"github.com/CBIIT/nci-user-registration/internal/request"
)

var (
	// ErrDBNil is returned when the database connection is nil.
	ErrDBNil = errors.New("database connection is nil")
	// ErrNameEmpty is returned when a name is blank.
	ErrNameEmpty = errors.New("name cannot be empty")
	// ErrAppNotFound is returned for an unknown application.
	ErrAppNotFound = errors.New("application not found")
	// ErrAppExists is returned when the name is already taken. Names are
	// compared case-insensitively.
	ErrAppExists = errors.New("application already exists")
	// ErrRoleNotFound is returned for an unknown role of an application.
	ErrRoleNotFound = errors.New("role not found")
	// ErrRoleExists is returned when the application already has the role.
	ErrRoleExists = errors.New("role already exists")
)

// Service manages the application catalog.
type Service struct {
	db *gorm.DB
}

// NewService creates the catalog service.
func NewService(db *gorm.DB) *Service {
	return &Service{db: db}
}

// CreateApp registers a new application.
func (s *Service) CreateApp(ctx context.Context, name, description string) (*models.Application, error) {
	if s.db == nil {
		return nil, ErrDBNil
	}

	name = strings.TrimSpace(name)
	if name == "" {
		return nil, ErrNameEmpty
	}

	app := models.Application{
		Name:        name,
		NameLower:   strings.ToLower(name),
		Description: strings.TrimSpace(description),
	}

	var existing models.Application
	result := s.db.WithContext(ctx).Where("name_lower = ?", app.NameLower).First(&existing)
	if result.Error == nil {
		return nil, ErrAppExists
	}
	if !errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, result.Error
	}

	if err := s.db.WithContext(ctx).Create(&app).Error; err != nil {
		return nil, err
	}

	return &app, nil
}

// UpdateApp changes an application's name or description.
func (s *Service) UpdateApp(ctx context.Context, id uint64, name, description string) error {
	if s.db == nil {
		return ErrDBNil
	}

	name = strings.TrimSpace(name)
	if name == "" {
		return ErrNameEmpty
	}

	var taken int64
	err := s.db.WithContext(ctx).Model(&models.Application{}).
		Where("name_lower = ? AND id <> ?", strings.ToLower(name), id).
		Count(&taken).Error
	if err != nil {
		return err
	}
	if taken > 0 {
		return ErrAppExists
	}

	result := s.db.WithContext(ctx).Model(&models.Application{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"name":        name,
			"name_lower":  strings.ToLower(name),
			"description": strings.TrimSpace(description),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrAppNotFound
	}

	return nil
}

// DeleteApp removes an application and its roles.
func (s *Service) DeleteApp(ctx context.Context, id uint64) error {
	if s.db == nil {
		return ErrDBNil
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("application_id = ?", id).Delete(&models.AppRole{}).Error; err != nil {
			return err
		}

		result := tx.Delete(&models.Application{}, id)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return ErrAppNotFound
		}

		return nil
	})
}

// GetApp retrieves an application with its roles.
func (s *Service) GetApp(ctx context.Context, id uint64) (*models.Application, error) {
	if s.db == nil {
		return nil, ErrDBNil
	}

	var app models.Application
	result := s.db.WithContext(ctx).Preload("Roles").First(&app, id)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrAppNotFound
		}
		return nil, result.Error
	}

	return &app, nil
}

// ListApps returns all applications with their roles, sorted by name.
func (s *Service) ListApps(ctx context.Context) ([]models.Application, error) {
	if s.db == nil {
		return nil, ErrDBNil
	}

	var apps []models.Application
	err := s.db.WithContext(ctx).Preload("Roles").Order("name_lower ASC").Find(&apps).Error
	if err != nil {
		return nil, err
	}

	return apps, nil
}

// Search filters applications by name substring, case-insensitive.
func (s *Service) Search(ctx context.Context, name string) ([]models.Application, error) {
	if s.db == nil {
		return nil, ErrDBNil
	}

	var apps []models.Application
	err := s.db.WithContext(ctx).Preload("Roles").
		Where("name_lower LIKE ?", "%"+strings.ToLower(strings.TrimSpace(name))+"%").
		Order("name_lower ASC").
		Find(&apps).Error
	if err != nil {
		return nil, err
	}

	return apps, nil
}

// AddRole adds an access level to an application.
func (s *Service) AddRole(ctx context.Context, appID uint64, name string, groupDNs []string) (*models.AppRole, error) {
	if s.db == nil {
		return nil, ErrDBNil
	}

	name = strings.TrimSpace(name)
	if name == "" {
		return nil, ErrNameEmpty
	}

	var app models.Application
	if err := s.db.WithContext(ctx).First(&app, appID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrAppNotFound
		}
		return nil, err
	}

	var existing models.AppRole
	result := s.db.WithContext(ctx).
		Where("application_id = ? AND name = ?", appID, name).
		First(&existing)
	if result.Error == nil {
		return nil, ErrRoleExists
	}
	if !errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, result.Error
	}

	role := models.AppRole{ApplicationID: appID, Name: name}
	role.SetGroups(normalizeGroupDNs(groupDNs))

	if err := s.db.WithContext(ctx).Create(&role).Error; err != nil {
		return nil, err
	}

	return &role, nil
}

// RemoveRole deletes an access level from an application.
func (s *Service) RemoveRole(ctx context.Context, appID uint64, name string) error {
	if s.db == nil {
		return ErrDBNil
	}

	result := s.db.WithContext(ctx).
		Where("application_id = ? AND name = ?", appID, strings.TrimSpace(name)).
		Delete(&models.AppRole{})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrRoleNotFound
	}

	return nil
}

// SetRoleGroups replaces the directory groups a role grants.
func (s *Service) SetRoleGroups(ctx context.Context, appID uint64, name string, groupDNs []string) error {
	if s.db == nil {
		return ErrDBNil
	}

	var role models.AppRole
	err := s.db.WithContext(ctx).
		Where("application_id = ? AND name = ?", appID, strings.TrimSpace(name)).
		First(&role).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrRoleNotFound
		}
		return err
	}

	role.SetGroups(normalizeGroupDNs(groupDNs))

	return s.db.WithContext(ctx).Model(&models.AppRole{}).
		Where("id = ?", role.ID).
		Update("group_d_ns", role.GroupDNs).Error
}

// ResolveGrant turns an application and level into the grant an approval
// attaches to the ledger.
func (s *Service) ResolveGrant(ctx context.Context, appID uint64, roleName string) (request.Grant, error) {
	if s.db == nil {
		return request.Grant{}, ErrDBNil
	}

	var app models.Application
	if err := s.db.WithContext(ctx).First(&app, appID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return request.Grant{}, ErrAppNotFound
		}
		return request.Grant{}, err
	}

	var role models.AppRole
	err := s.db.WithContext(ctx).
		Where("application_id = ? AND name = ?", appID, strings.TrimSpace(roleName)).
		First(&role).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return request.Grant{}, ErrRoleNotFound
		}
		return request.Grant{}, err
	}

	return request.Grant{
		AppID:   app.ID,
		AppName: app.Name,
		Level:   role.Name,
		Groups:  role.Groups(),
	}, nil
}

func normalizeGroupDNs(dns []string) []string {
	out := make([]string, 0, len(dns))
	for _, dn := range dns {
		dn = strings.ToLower(strings.TrimSpace(dn))
		if dn != "" {
			out = append(out, dn)
		}
	}

	return out
}
