// Package models contains database model definitions.
package models

import (
	"strings"
	"time"
)

// ProcessingState tracks where an external identity binding sits in the
// downstream synchronization pipeline.
type ProcessingState string

const (
	// StateUnprocessed means the binding exists and waits for the downstream
	// batch consumer to pick it up.
	StateUnprocessed ProcessingState = "unprocessed"
	// StatePending means the user authenticated but the upstream directory
	// had not assigned an external DN yet. A later automated retry completes
	// the binding.
	StatePending ProcessingState = "pending"
	// StateManual means the asserted external DN failed the configured shape
	// pattern. The binding was recorded but needs human reconciliation.
	StateManual ProcessingState = "manual"
	// StateProcessed means the downstream consumer acknowledged the binding.
	StateProcessed ProcessingState = "processed"
)

// groupSeparator joins multi-valued directory attributes into one column.
const groupSeparator = "\n"

// IdentityRecord is the canonical per-user document. Directory attributes
// are owned by the eDirectory sync jobs; the mapping fields (token, external
// identity, public key) are owned by the registration flows. The two field
// sets never overlap.
type IdentityRecord struct {
	// ID is the unique identifier for the record.
	ID uint64 `gorm:"primaryKey"`
	// EntrustUser is the stable directory key used by the sync jobs.
	EntrustUser string `gorm:"size:255;uniqueIndex"`
	// DN is the full distinguished name, lowercased.
	DN string `gorm:"size:512"`
	// Username is extracted from the first RDN of DN, lowercased.
	Username string `gorm:"size:255;index:idx_username_email"`
	// Email is the registered mail attribute, lowercased.
	Email string `gorm:"size:255;index:idx_username_email"`

	FullName        string `gorm:"size:255"`
	GivenName       string `gorm:"size:255"`
	Surname         string `gorm:"size:255"`
	TelephoneNumber string `gorm:"size:64"`
	ObjectClass     string `gorm:"size:512"`
	// GroupMembership is the newline joined list of group DNs.
	GroupMembership string `gorm:"type:text"`
	UIDNumber       int
	GIDNumber       int
	HomeDirectory   string `gorm:"size:255"`
	LoginShell      string `gorm:"size:64"`

	// TokenValue is the active confirmation token. Issuing a new token
	// overwrites it, which is what invalidates older emailed links.
	TokenValue     string `gorm:"size:36;index"`
	TokenExpiresAt *time.Time

	// ExternalDN is the bound federated identity. NULL while unbound; the
	// unique index is what closes the duplicate-binding race: a concurrent
	// second bind fails on the constraint instead of slipping past the
	// pre-check.
	ExternalDN      *string         `gorm:"size:512;uniqueIndex"`
	ProcessingState ProcessingState `gorm:"size:16;index"`
	IsOverride      bool
	MappedAt        *time.Time

	// PublicKey is the latest submitted SSH public key.
	// PublicKeyProcessed stays NULL until a key was ever submitted.
	PublicKey          string `gorm:"type:text"`
	PublicKeyProcessed *bool

	// AuditLog is append-only. Entries are never rewritten or removed.
	AuditLog []AuditEntry `gorm:"foreignKey:IdentityRecordID;constraint:OnDelete:CASCADE"`

	CreatedAt time.Time
	UpdatedAt time.Time
}

// TableName specifies the database table name for the IdentityRecord model.
func (IdentityRecord) TableName() string {
	return "identity_records"
}

// IsMapped reports whether the record carries an external identity binding.
func (r *IdentityRecord) IsMapped() bool {
	return r.ExternalDN != nil && *r.ExternalDN != ""
}

// TokenExpired reports whether the active confirmation token has expired at
// the given instant. A missing token counts as expired.
func (r *IdentityRecord) TokenExpired(now time.Time) bool {
	if r.TokenValue == "" || r.TokenExpiresAt == nil {
		return true
	}

	return !r.TokenExpiresAt.After(now)
}

// Groups returns the group membership DNs as a slice.
func (r *IdentityRecord) Groups() []string {
	if r.GroupMembership == "" {
		return nil
	}

	return strings.Split(r.GroupMembership, groupSeparator)
}

// SetGroups stores the group membership DNs.
func (r *IdentityRecord) SetGroups(dns []string) {
	r.GroupMembership = strings.Join(dns, groupSeparator)
}

// AuditEntry is one timestamped line of an identity record's audit log.
type AuditEntry struct {
	ID               uint64 `gorm:"primaryKey"`
	IdentityRecordID uint64 `gorm:"index;not null"`
	CreatedAt        time.Time
	Message          string `gorm:"type:text"`
}

// TableName specifies the database table name for the AuditEntry model.
func (AuditEntry) TableName() string {
	return "audit_entries"
}
