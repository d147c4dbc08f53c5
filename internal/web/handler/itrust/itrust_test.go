package itrust

import (
	"context"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/CBIIT/nci-user-registration/internal/config"
	"github.com/CBIIT/nci-user-registration/internal/db/models"
	"github.com/CBIIT/nci-user-registration/internal/mapping"
	"github.com/CBIIT/nci-user-registration/internal/token"
	"github.com/CBIIT/nci-user-registration/internal/web/handler"
	"github.com/CBIIT/nci-user-registration/internal/web/handler/confirm"
	websess "github.com/CBIIT/nci-user-registration/internal/web/session"
)

var testDNPattern = regexp.MustCompile(`^cn=[^,]+,ou=external,o=example$`)

type discardMailer struct{}

func (discardMailer) Send(_ []string, _, _ string) error { return nil }

// testStorage is a minimal in-memory implementation of storage.Storage for tests.
type testStorage struct {
	mu   sync.RWMutex
	data map[string][]byte
}

var _ storage.Storage = (*testStorage)(nil)

func (s *testStorage) Get(key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	v := s.data[key]
	out := make([]byte, len(v))
	copy(out, v)

	return out, nil
}

func (s *testStorage) Set(key string, val []byte, _ time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	buf := make([]byte, len(val))
	copy(buf, val)
	s.data[key] = buf

	return nil
}

func (s *testStorage) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.data, key)

	return nil
}

func (s *testStorage) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.data = make(map[string][]byte)

	return nil
}

func (s *testStorage) Close() error { return nil }

type testEnv struct {
	app    *fiber.App
	db     *gorm.DB
	tokens *token.Store
}

func setupEnv(t *testing.T) *testEnv {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err, "failed to create test database")
	require.NoError(t, db.AutoMigrate(&models.IdentityRecord{}, &models.AuditEntry{}))

	websess.Init(&testStorage{data: make(map[string][]byte)})

	cfg := &config.Config{
		DevMode: true,
		Webserver: config.Webserver{
			URL:     "http://localhost",
			Port:    3000,
			Session: config.Session{ExpiryTime: time.Minute},
		},
	}

	tokens := token.NewStore(db, time.Hour)
	mappingService := mapping.NewService(db, tokens, discardMailer{}, testDNPattern, "ops@example.org")

	app := fiber.New()

	var confirmHandler confirm.Service
	require.NoError(t, confirmHandler.Init(app, cfg, mappingService))

	var s Service
	require.NoError(t, s.Init(app, cfg, db, mappingService))

	return &testEnv{app: app, db: db, tokens: tokens}
}

func seedRecord(t *testing.T, db *gorm.DB) {
	t.Helper()

	require.NoError(t, db.Create(&models.IdentityRecord{
		EntrustUser: "jdoe",
		Username:    "jdoe",
		Email:       "jdoe@example.org",
	}).Error, "failed to seed test data")
}

// sessionCookie extracts the session cookie value from a response.
func sessionCookie(t *testing.T, resp *http.Response) string {
	t.Helper()

	for _, c := range resp.Cookies() {
		if c.Name == handler.SessionCookie {
			return c.Value
		}
	}

	t.Fatal("no session cookie in response")

	return ""
}

func TestConfirmThenMap_HappyPath(t *testing.T) {
	env := setupEnv(t)
	seedRecord(t, env.db)

	value, err := env.tokens.Issue(context.Background(), "jdoe", "jdoe@example.org")
	require.NoError(t, err)

	// Step 1: the emailed confirmation link
	resp, err := env.app.Test(httptest.NewRequest(http.MethodGet, "/auth/confirm/"+value, nil), -1)
	require.NoError(t, err)

	defer func() {
		_ = resp.Body.Close()
	}()

	require.Equal(t, http.StatusFound, resp.StatusCode)
	assert.Equal(t, "/protected/itrust/map/"+value, resp.Header.Get("Location"))

	cookie := sessionCookie(t, resp)

	// Step 2: the proxy-protected binding step with asserted identity
	req := httptest.NewRequest(http.MethodGet, "/protected/itrust/map/"+value, nil)
	req.AddCookie(&http.Cookie{Name: handler.SessionCookie, Value: cookie})
	req.Header.Set(handler.HeaderExternalDN, "cn=jdoe,ou=external,o=example")
	req.Header.Set(handler.HeaderAuthType, "federated")

	mapResp, err := env.app.Test(req, -1)
	require.NoError(t, err)

	defer func() {
		_ = mapResp.Body.Close()
	}()

	require.Equal(t, http.StatusFound, mapResp.StatusCode)
	assert.True(t, strings.HasPrefix(mapResp.Header.Get("Location"), "/logoff?mapped=true"))

	// The record is bound and queued for the batch consumer
	var record models.IdentityRecord
	require.NoError(t, env.db.Where("username = ?", "jdoe").First(&record).Error)
	require.NotNil(t, record.ExternalDN)
	assert.Equal(t, "cn=jdoe,ou=external,o=example", *record.ExternalDN)
	assert.Equal(t, models.StateUnprocessed, record.ProcessingState)
	assert.False(t, record.IsOverride)

	var entries []models.AuditEntry
	require.NoError(t, env.db.Where("identity_record_id = ?", record.ID).Find(&entries).Error)
	require.Len(t, entries, 1)
	assert.Contains(t, entries[0].Message, "Mapped to")
}

func TestMap_WithoutSession_RedirectsSessionExpired(t *testing.T) {
	env := setupEnv(t)
	seedRecord(t, env.db)

	req := httptest.NewRequest(http.MethodGet, "/protected/itrust/map/whatever", nil)
	req.Header.Set(handler.HeaderExternalDN, "cn=jdoe,ou=external,o=example")
	req.Header.Set(handler.HeaderAuthType, "federated")

	resp, err := env.app.Test(req, -1)
	require.NoError(t, err)

	defer func() {
		_ = resp.Body.Close()
	}()

	require.Equal(t, http.StatusFound, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Location"), "mappingerror=true")
}

func TestMap_NonFederated_RedirectsReattempt(t *testing.T) {
	env := setupEnv(t)
	seedRecord(t, env.db)

	value, err := env.tokens.Issue(context.Background(), "jdoe", "jdoe@example.org")
	require.NoError(t, err)

	resp, err := env.app.Test(httptest.NewRequest(http.MethodGet, "/auth/confirm/"+value, nil), -1)
	require.NoError(t, err)

	defer func() {
		_ = resp.Body.Close()
	}()

	cookie := sessionCookie(t, resp)

	req := httptest.NewRequest(http.MethodGet, "/protected/itrust/map/"+value, nil)
	req.AddCookie(&http.Cookie{Name: handler.SessionCookie, Value: cookie})
	req.Header.Set(handler.HeaderExternalDN, "cn=jdoe,ou=external,o=example")
	req.Header.Set(handler.HeaderAuthType, "password")

	mapResp, err := env.app.Test(req, -1)
	require.NoError(t, err)

	defer func() {
		_ = mapResp.Body.Close()
	}()

	require.Equal(t, http.StatusFound, mapResp.StatusCode)
	assert.Contains(t, mapResp.Header.Get("Location"), "/logoff/reattempt?notfederated=true")

	// No binding was written
	var record models.IdentityRecord
	require.NoError(t, env.db.Where("username = ?", "jdoe").First(&record).Error)
	assert.Nil(t, record.ExternalDN)
}

func TestMap_EmptyDN_RedirectsPending(t *testing.T) {
	env := setupEnv(t)
	seedRecord(t, env.db)

	value, err := env.tokens.Issue(context.Background(), "jdoe", "jdoe@example.org")
	require.NoError(t, err)

	resp, err := env.app.Test(httptest.NewRequest(http.MethodGet, "/auth/confirm/"+value, nil), -1)
	require.NoError(t, err)

	defer func() {
		_ = resp.Body.Close()
	}()

	cookie := sessionCookie(t, resp)

	req := httptest.NewRequest(http.MethodGet, "/protected/itrust/map/"+value, nil)
	req.AddCookie(&http.Cookie{Name: handler.SessionCookie, Value: cookie})
	req.Header.Set(handler.HeaderAuthType, "federated")

	mapResp, err := env.app.Test(req, -1)
	require.NoError(t, err)

	defer func() {
		_ = mapResp.Body.Close()
	}()

	require.Equal(t, http.StatusFound, mapResp.StatusCode)
	assert.Equal(t, "/logoff?pending=true", mapResp.Header.Get("Location"))

	var record models.IdentityRecord
	require.NoError(t, env.db.Where("username = ?", "jdoe").First(&record).Error)
	assert.Equal(t, models.StatePending, record.ProcessingState)
	assert.Nil(t, record.ExternalDN)
}

func TestUpdate_PublicKey(t *testing.T) {
	env := setupEnv(t)

	dn := "cn=jdoe,ou=external,o=example"
	require.NoError(t, env.db.Create(&models.IdentityRecord{
		EntrustUser:     "jdoe",
		Username:        "jdoe",
		Email:           "jdoe@example.org",
		ExternalDN:      &dn,
		ProcessingState: models.StateProcessed,
	}).Error)

	form := "publickey=" + "ssh-ed25519+AAAAC3NzaC1lZDI1NTE5" // form-encoded space
	req := httptest.NewRequest(http.MethodPost, "/protected/itrust/update", strings.NewReader(form))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set(handler.HeaderExternalDN, dn)

	resp, err := env.app.Test(req, -1)
	require.NoError(t, err)

	defer func() {
		_ = resp.Body.Close()
	}()

	require.Equal(t, http.StatusFound, resp.StatusCode)
	assert.Equal(t, "/logoff?updatesuccess=true", resp.Header.Get("Location"))

	var record models.IdentityRecord
	require.NoError(t, env.db.Where("username = ?", "jdoe").First(&record).Error)
	assert.Equal(t, "ssh-ed25519 AAAAC3NzaC1lZDI1NTE5", record.PublicKey)
	require.NotNil(t, record.PublicKeyProcessed)
	assert.False(t, *record.PublicKeyProcessed)
}

func TestUpdate_MissingIdentity_RedirectsError(t *testing.T) {
	env := setupEnv(t)

	req := httptest.NewRequest(http.MethodPost, "/protected/itrust/update", strings.NewReader("publickey=x"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := env.app.Test(req, -1)
	require.NoError(t, err)

	defer func() {
		_ = resp.Body.Close()
	}()

	require.Equal(t, http.StatusFound, resp.StatusCode)
	assert.Equal(t, "/logoff?updateerror=true", resp.Header.Get("Location"))
}
