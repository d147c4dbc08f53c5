// Package token manages the emailed confirmation tokens of the
// self-registration flow.
package token

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/CBIIT/nci-user-registration/internal/db/models"
)

var (
	// ErrRecordNotFound is returned when no identity record matches the
	// submitted username and email pair.
	ErrRecordNotFound = errors.New("identity record not found")
	// ErrTokenNotFound is returned when a confirmation token does not match
	// any record, either because it never existed or because a newer token
	// superseded it.
	ErrTokenNotFound = errors.New("token not found")
	// ErrDBNil is returned when the database connection is nil.
	ErrDBNil = errors.New("database connection is nil")
)

// Store issues and resolves confirmation tokens. Each record holds at most
// one active token; issuing a new one invalidates the previous link.
type Store struct {
	db  *gorm.DB
	ttl time.Duration
	now func() time.Time
}

// NewStore creates a token store with the given validity window.
func NewStore(db *gorm.DB, ttl time.Duration) *Store {
	return &Store{db: db, ttl: ttl, now: time.Now}
}

// Issue generates a fresh token for the record matching the username and
// email pair and persists it together with its expiry. The match is trimmed
// and case-insensitive. Returns the token value.
func (s *Store) Issue(ctx context.Context, username, email string) (string, error) {
	if s.db == nil {
		return "", ErrDBNil
	}

	record, err := s.Find(ctx, username, email)
	if err != nil {
		return "", err
	}

	value := uuid.New().String()
	expires := s.now().Add(s.ttl)

	result := s.db.WithContext(ctx).Model(&models.IdentityRecord{}).
		Where("id = ?", record.ID).
		Updates(map[string]any{
			"token_value":      value,
			"token_expires_at": expires,
		})
	if result.Error != nil {
		return "", result.Error
	}

	return value, nil
}

// Find retrieves the identity record matching the username and email pair
// without touching its token.
func (s *Store) Find(ctx context.Context, username, email string) (*models.IdentityRecord, error) {
	if s.db == nil {
		return nil, ErrDBNil
	}

	username = strings.ToLower(strings.TrimSpace(username))
	email = strings.ToLower(strings.TrimSpace(email))

	var record models.IdentityRecord
	result := s.db.WithContext(ctx).
		Where("username = ? AND email = ?", username, email).
		First(&record)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrRecordNotFound
		}
		return nil, result.Error
	}

	return &record, nil
}

// Confirm resolves a token to its identity record. The expired flag reports
// whether the validity window has passed; the record is returned either way
// and nothing is mutated, so the caller decides how to proceed.
func (s *Store) Confirm(ctx context.Context, value string) (*models.IdentityRecord, bool, error) {
	if s.db == nil {
		return nil, false, ErrDBNil
	}
	if value == "" {
		return nil, false, ErrTokenNotFound
	}

	var record models.IdentityRecord
	result := s.db.WithContext(ctx).
		Where("token_value = ?", value).
		First(&record)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, false, ErrTokenNotFound
		}
		return nil, false, result.Error
	}

	return &record, record.TokenExpired(s.now()), nil
}
