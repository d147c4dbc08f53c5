package batch

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/CBIIT/nci-user-registration/internal/config"
	"github.com/CBIIT/nci-user-registration/internal/db/models"
	"github.com/CBIIT/nci-user-registration/internal/queue"
	"github.com/CBIIT/nci-user-registration/internal/request"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err, "failed to create test database")

	err = db.AutoMigrate(&models.IdentityRecord{}, &models.AuditEntry{}, &models.AccessRequest{})
	require.NoError(t, err, "failed to migrate test database")

	return db
}

func setupTestApp(t *testing.T, db *gorm.DB) (*fiber.App, *request.Service) {
	t.Helper()

	app := fiber.New()
	requests := request.NewService(db)

	var s Service
	require.NoError(t, s.Init(app, &config.Config{}, queue.NewService(db), requests))

	return app, requests
}

func get(t *testing.T, app *fiber.App, target string) (int, string) {
	t.Helper()

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, target, nil), -1)
	require.NoError(t, err, "app.Test failed")

	defer func() {
		_ = resp.Body.Close()
	}()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	return resp.StatusCode, string(body)
}

func post(t *testing.T, app *fiber.App, target, body string) (int, string) {
	t.Helper()

	req := httptest.NewRequest(http.MethodPost, target, strings.NewReader(body))
	req.Header.Set("Content-Type", fiber.MIMEApplicationXML)

	resp, err := app.Test(req, -1)
	require.NoError(t, err, "app.Test failed")

	defer func() {
		_ = resp.Body.Close()
	}()

	out, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	return resp.StatusCode, string(out)
}

func seedBound(t *testing.T, db *gorm.DB, entrustUser, dn string, override bool) uint64 {
	t.Helper()

	record := models.IdentityRecord{
		EntrustUser:     entrustUser,
		Username:        entrustUser,
		Email:           entrustUser + "@example.org",
		ExternalDN:      &dn,
		ProcessingState: models.StateUnprocessed,
		IsOverride:      override,
	}
	require.NoError(t, db.Create(&record).Error, "failed to seed test data")

	return record.ID
}

func TestQueueGet_SingleItemStaysWrapped(t *testing.T) {
	db := setupTestDB(t)
	app, _ := setupTestApp(t, db)

	seedBound(t, db, "jdoe", "cn=jdoe,ou=external,o=example", false)

	status, body := get(t, app, Path+"/getItrustUpdates")
	assert.Equal(t, http.StatusOK, status)

	// a single entry still arrives inside the plural wrapper
	assert.Contains(t, body, "<users><user>")
	assert.Contains(t, body, "</user></users>")
	assert.Contains(t, body, "<externaldn>cn=jdoe,ou=external,o=example</externaldn>")
}

func TestQueueGet_EmptyQueue(t *testing.T) {
	db := setupTestDB(t)
	app, _ := setupTestApp(t, db)

	status, body := get(t, app, Path+"/getPublicKeyUpdates")
	assert.Equal(t, http.StatusOK, status)
	assert.Contains(t, body, "<users></users>")
}

func TestQueueGet_OverridesAreSeparate(t *testing.T) {
	db := setupTestDB(t)
	app, _ := setupTestApp(t, db)

	seedBound(t, db, "plain", "cn=plain,ou=external,o=example", false)
	seedBound(t, db, "redo", "cn=redo,ou=external,o=example", true)

	_, identities := get(t, app, Path+"/getItrustUpdates")
	assert.Contains(t, identities, "plain")
	assert.NotContains(t, identities, "redo")

	_, overrides := get(t, app, Path+"/getItrustOverrides")
	assert.Contains(t, overrides, "redo")
	assert.NotContains(t, overrides, "plain")
}

func TestQueueFlag_Idempotent(t *testing.T) {
	db := setupTestDB(t)
	app, _ := setupTestApp(t, db)

	seedBound(t, db, "jdoe", "cn=jdoe,ou=external,o=example", false)

	status, body := post(t, app, Path+"/flagItrustUpdates", "<ids><id>1</id></ids>")
	assert.Equal(t, http.StatusOK, status)
	assert.Contains(t, body, "<matched>1</matched>")
	assert.Contains(t, body, "<modified>1</modified>")

	// a replay still matches but no longer modifies
	status, body = post(t, app, Path+"/flagItrustUpdates", "<ids><id>1</id></ids>")
	assert.Equal(t, http.StatusOK, status)
	assert.Contains(t, body, "<matched>1</matched>")
	assert.Contains(t, body, "<modified>0</modified>")

	// the acknowledged item left the queue
	_, listing := get(t, app, Path+"/getItrustUpdates")
	assert.Contains(t, listing, "<users></users>")
}

func TestQueueFlag_MalformedBody(t *testing.T) {
	db := setupTestDB(t)
	app, _ := setupTestApp(t, db)

	status, _ := post(t, app, Path+"/flagItrustUpdates", "<ids><id>not-a-number")
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestPendingApprovedRequests_RoundTrip(t *testing.T) {
	db := setupTestDB(t)
	app, requests := setupTestApp(t, db)

	requestID, err := requests.Submit(context.Background(), request.SubmitInput{
		ApplicationID: 1,
		Application:   "genome-browser",
		Level:         "analyst",
		RequesterDN:   "cn=jdoe,ou=external,o=example",
		Justification: "new project",
	})
	require.NoError(t, err)

	grant := request.Grant{
		AppID:   1,
		AppName: "genome-browser",
		Level:   "analyst",
		Groups:  []string{"cn=gb-analysts,ou=groups,o=example", "cn=gb-users,ou=groups,o=example"},
	}
	require.NoError(t, requests.Approve(context.Background(), requestID, grant, ""))

	status, body := get(t, app, Path+"/getPendingApprovedRequests")
	assert.Equal(t, http.StatusOK, status)
	assert.Contains(t, body, "<requests><request>")
	assert.Contains(t, body, "<requestid>"+requestID+"</requestid>")
	assert.Contains(t, body, "<groups><group>cn=gb-analysts,ou=groups,o=example</group>")

	status, body = post(t, app, Path+"/flagPendingApprovedRequests", "<ids><id>1</id></ids>")
	assert.Equal(t, http.StatusOK, status)
	assert.Contains(t, body, "<modified>1</modified>")

	// consumed grants drop off the feed
	_, body = get(t, app, Path+"/getPendingApprovedRequests")
	assert.Contains(t, body, "<requests></requests>")
}
