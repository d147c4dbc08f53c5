package directory

import (
	"context"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/go-ldap/ldap/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/CBIIT/nci-user-registration/internal/config"
	"github.com/CBIIT/nci-user-registration/internal/db/models"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err, "failed to create test database")

	err = db.AutoMigrate(&models.IdentityRecord{}, &models.AuditEntry{}, &models.DirectoryGroup{})
	require.NoError(t, err, "failed to migrate test database")

	return db
}

func TestEntryToRecord(t *testing.T) {
	entry := ldap.NewEntry("CN=JDoe,OU=Users,O=Example", map[string][]string{
		"cn":              {" JDoe "},
		"mail":            {" JDoe@Example.ORG "},
		"fullName":        {"John Doe"},
		"givenName":       {"John"},
		"sn":              {"Doe"},
		"telephoneNumber": {" 555-0100 "},
		"objectClass":     {"inetOrgPerson", "top"},
		"groupMembership": {" CN=Alpha,OU=Groups,O=Example ", "cn=beta,ou=groups,o=example"},
		"uidNumber":       {"1200"},
		"gidNumber":       {"100"},
		"homeDirectory":   {"/home/jdoe"},
		"loginShell":      {"/bin/bash"},
	})

	record := entryToRecord(entry)

	assert.Equal(t, "jdoe", record.EntrustUser)
	assert.Equal(t, "cn=jdoe,ou=users,o=example", record.DN)
	assert.Equal(t, "jdoe", record.Username)
	assert.Equal(t, "jdoe@example.org", record.Email)
	assert.Equal(t, "John Doe", record.FullName)
	assert.Equal(t, "555-0100", record.TelephoneNumber)
	assert.Equal(t, []string{"cn=alpha,ou=groups,o=example", "cn=beta,ou=groups,o=example"}, record.Groups())
	assert.Equal(t, 1200, record.UIDNumber)
	assert.Equal(t, 100, record.GIDNumber)
}

func TestUsernameFromDN(t *testing.T) {
	assert.Equal(t, "jdoe", usernameFromDN("cn=jdoe,ou=users,o=example"))
	assert.Equal(t, "solo", usernameFromDN("uid=solo"))
	assert.Equal(t, "", usernameFromDN("not-a-dn"))
}

func TestSyncEntries(t *testing.T) {
	db := setupTestDB(t)
	provider := NewProvider(config.EDir{}, db)

	dn := "cn=bound,ou=external,o=example"
	require.NoError(t, db.Create(&models.IdentityRecord{
		EntrustUser:     "bound",
		DN:              "cn=bound,ou=users,o=example",
		Username:        "bound",
		Email:           "bound@example.org",
		ExternalDN:      &dn,
		ProcessingState: models.StateProcessed,
	}).Error)
	require.NoError(t, db.Create(&models.IdentityRecord{
		EntrustUser: "steady",
		DN:          "cn=steady,ou=users,o=example",
		Username:    "steady",
		Email:       "steady@example.org",
	}).Error)

	incoming := []models.IdentityRecord{
		{
			EntrustUser: "bound",
			DN:          "cn=bound,ou=users,o=example",
			Username:    "bound",
			Email:       "bound-new@example.org", // changed
		},
		{
			EntrustUser: "steady",
			DN:          "cn=steady,ou=users,o=example",
			Username:    "steady",
			Email:       "steady@example.org", // unchanged
		},
		{
			EntrustUser: "brandnew",
			DN:          "cn=brandnew,ou=users,o=example",
			Username:    "brandnew",
			Email:       "brandnew@example.org",
		},
	}

	stats, err := provider.syncEntries(context.Background(), incoming)
	require.NoError(t, err)
	assert.Equal(t, SyncStats{Fetched: 3, Inserted: 1, Updated: 1, Unchanged: 1, Reset: 1}, stats)

	// The bound record was updated, reset and audited; its binding survived.
	var bound models.IdentityRecord
	require.NoError(t, db.Where("entrust_user = ?", "bound").First(&bound).Error)
	assert.Equal(t, "bound-new@example.org", bound.Email)
	assert.Equal(t, models.StateUnprocessed, bound.ProcessingState)
	require.NotNil(t, bound.ExternalDN)
	assert.Equal(t, dn, *bound.ExternalDN)

	var entries []models.AuditEntry
	require.NoError(t, db.Where("identity_record_id = ?", bound.ID).Find(&entries).Error)
	require.Len(t, entries, 1)
	assert.Equal(t, "Record updated from eDirectory", entries[0].Message)

	// Running the same sync again changes nothing.
	stats, err = provider.syncEntries(context.Background(), incoming)
	require.NoError(t, err)
	assert.Equal(t, SyncStats{Fetched: 3, Unchanged: 3}, stats)
}

func TestAttributeChangesIgnoresMappingFields(t *testing.T) {
	dn := "cn=x,ou=external,o=example"
	existing := &models.IdentityRecord{
		EntrustUser:     "u",
		Email:           "u@example.org",
		ExternalDN:      &dn,
		ProcessingState: models.StateProcessed,
		TokenValue:      "tok",
	}
	incoming := &models.IdentityRecord{
		EntrustUser: "u",
		Email:       "u@example.org",
	}

	assert.Empty(t, attributeChanges(existing, incoming))
}
