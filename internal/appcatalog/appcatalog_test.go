package appcatalog

import (
	"context"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/CBIIT/nci-user-registration/internal/db/models"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err, "failed to create test database")

	err = db.AutoMigrate(&models.Application{}, &models.AppRole{})
	require.NoError(t, err, "failed to migrate test database")

	return db
}

func TestCreateApp(t *testing.T) {
	db := setupTestDB(t)
	svc := NewService(db)

	t.Run("creates", func(t *testing.T) {
		app, err := svc.CreateApp(context.Background(), "Data Portal", "the portal")
		require.NoError(t, err)
		assert.Equal(t, "data portal", app.NameLower)
	})

	t.Run("name clash is case-insensitive", func(t *testing.T) {
		_, err := svc.CreateApp(context.Background(), "DATA portal", "")
		assert.ErrorIs(t, err, ErrAppExists)
	})

	t.Run("empty name", func(t *testing.T) {
		_, err := svc.CreateApp(context.Background(), "  ", "")
		assert.ErrorIs(t, err, ErrNameEmpty)
	})
}

func TestRoles(t *testing.T) {
	db := setupTestDB(t)
	svc := NewService(db)

	app, err := svc.CreateApp(context.Background(), "Imaging Archive", "")
	require.NoError(t, err)

	t.Run("add role normalizes group dns", func(t *testing.T) {
		role, err := svc.AddRole(context.Background(), app.ID, "read",
			[]string{"  CN=Read,OU=Groups,O=Example ", "", "cn=extra,o=example"})
		require.NoError(t, err)
		assert.Equal(t, []string{"cn=read,ou=groups,o=example", "cn=extra,o=example"}, role.Groups())
	})

	t.Run("duplicate role", func(t *testing.T) {
		_, err := svc.AddRole(context.Background(), app.ID, "read", nil)
		assert.ErrorIs(t, err, ErrRoleExists)
	})

	t.Run("role on unknown app", func(t *testing.T) {
		_, err := svc.AddRole(context.Background(), 9999, "read", nil)
		assert.ErrorIs(t, err, ErrAppNotFound)
	})

	t.Run("replace role groups", func(t *testing.T) {
		err := svc.SetRoleGroups(context.Background(), app.ID, "read", []string{"cn=only,o=example"})
		require.NoError(t, err)

		loaded, err := svc.GetApp(context.Background(), app.ID)
		require.NoError(t, err)
		require.Len(t, loaded.Roles, 1)
		assert.Equal(t, []string{"cn=only,o=example"}, loaded.Roles[0].Groups())
	})

	t.Run("remove role", func(t *testing.T) {
		require.NoError(t, svc.RemoveRole(context.Background(), app.ID, "read"))
		assert.ErrorIs(t, svc.RemoveRole(context.Background(), app.ID, "read"), ErrRoleNotFound)
	})
}

func TestResolveGrant(t *testing.T) {
	db := setupTestDB(t)
	svc := NewService(db)

	app, err := svc.CreateApp(context.Background(), "Data Portal", "")
	require.NoError(t, err)
	_, err = svc.AddRole(context.Background(), app.ID, "admin", []string{"cn=portal-admin,o=example"})
	require.NoError(t, err)

	t.Run("resolves", func(t *testing.T) {
		grant, err := svc.ResolveGrant(context.Background(), app.ID, "admin")
		require.NoError(t, err)
		assert.Equal(t, app.ID, grant.AppID)
		assert.Equal(t, "Data Portal", grant.AppName)
		assert.Equal(t, "admin", grant.Level)
		assert.Equal(t, []string{"cn=portal-admin,o=example"}, grant.Groups)
	})

	t.Run("unknown role", func(t *testing.T) {
		_, err := svc.ResolveGrant(context.Background(), app.ID, "superuser")
		assert.ErrorIs(t, err, ErrRoleNotFound)
	})

	t.Run("unknown app", func(t *testing.T) {
		_, err := svc.ResolveGrant(context.Background(), 9999, "admin")
		assert.ErrorIs(t, err, ErrAppNotFound)
	})
}

func TestDeleteAppCascadesRoles(t *testing.T) {
	db := setupTestDB(t)
	svc := NewService(db)

	app, err := svc.CreateApp(context.Background(), "Old App", "")
	require.NoError(t, err)
	_, err = svc.AddRole(context.Background(), app.ID, "read", nil)
	require.NoError(t, err)

	require.NoError(t, svc.DeleteApp(context.Background(), app.ID))

	var roleCount int64
	require.NoError(t, db.Model(&models.AppRole{}).Where("application_id = ?", app.ID).Count(&roleCount).Error)
	assert.Equal(t, int64(0), roleCount)

	assert.ErrorIs(t, svc.DeleteApp(context.Background(), app.ID), ErrAppNotFound)
}
