package models

import (
	"time"

	"github.com/alexedwards/argon2id"
	"github.com/rs/zerolog/log"
)

// AdminRole is the authorization level of an admin console account.
type AdminRole string

const (
	// AdminRoleAdmin can manage users, applications and requests.
	AdminRoleAdmin AdminRole = "admin"
	// AdminRoleViewer can read everything but change nothing.
	AdminRoleViewer AdminRole = "viewer"
)

// AdminUser is an admin console account. The user portal has no accounts of
// its own; only the console authenticates locally.
type AdminUser struct {
	// ID is the unique identifier for the user.
	ID uint64 `gorm:"primaryKey"`
	// Active indicates whether the account can log in.
	Active bool
	// Username is the unique username for login.
	Username string `gorm:"unique;size:100;not null"`
	// Email is the user's email address.
	Email string `gorm:"size:255"`
	// Password is the Argon2id hashed password.
	Password string `gorm:"size:255"`
	// Role decides what the account may do in the console.
	Role AdminRole `gorm:"type:varchar(20);not null;default:'viewer'"`

	CreatedAt time.Time
	UpdatedAt time.Time
}

// TableName specifies the database table name for the AdminUser model.
func (AdminUser) TableName() string {
	return "admin_users"
}

// HashPassword hashes a plaintext password using the Argon2id algorithm.
func HashPassword(password string) string {
	hashedPassword, err := argon2id.CreateHash(password, argon2id.DefaultParams)
	if err != nil {
		log.Fatal().Msgf("failed to hash password: %v", err)
	}

	return hashedPassword
}

// VerifyPassword verifies a plaintext password against the stored hash.
// Returns true if the password matches, false otherwise.
func (u *AdminUser) VerifyPassword(password string) bool {
	match, err := argon2id.ComparePasswordAndHash(password, u.Password)
	if err != nil {
		log.Error().Msgf("failed to verify password: %v", err)
		return false
	}

	return match
}
