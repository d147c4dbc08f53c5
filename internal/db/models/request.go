package models

import (
	"strings"
	"time"
)

// Approval is the disposition of an access request.
type Approval string

const (
	// ApprovalUnknown is the initial state of every submitted request.
	ApprovalUnknown Approval = "unknown"
	// ApprovalApproved is set exactly once by an admin action.
	ApprovalApproved Approval = "approved"
	// ApprovalRejected is set exactly once by an admin action.
	ApprovalRejected Approval = "rejected"
)

// AccessRequest records a user's request for application access and the
// admin decision about it. Approval moves from unknown to approved or
// rejected exactly once; a resolved request is never overwritten.
type AccessRequest struct {
	ID uint64 `gorm:"primaryKey"`
	// RequestID is the externally shareable correlation id, distinct from
	// the storage key.
	RequestID     string `gorm:"size:36;uniqueIndex"`
	ApplicationID uint64 `gorm:"index"`
	// RequestedApp is the application name as submitted, kept for search.
	RequestedApp   string `gorm:"size:255;index"`
	RequestedLevel string `gorm:"size:100"`
	RequesterDN    string `gorm:"size:512;index"`
	Justification  string `gorm:"type:text"`

	Approval Approval `gorm:"size:16;not null;default:'unknown';index"`

	// Grant fields are populated on approval only. The group set is
	// resolved from the application role before the ledger is called.
	GrantAppID   uint64
	GrantAppName string `gorm:"size:255"`
	GrantLevel   string `gorm:"size:100"`
	GrantGroups  string `gorm:"type:text"`

	Notes string `gorm:"type:text"`

	// Processed stays NULL until the downstream batch consumer acknowledges
	// the approved request. It never reverts.
	Processed *bool

	CreatedAt time.Time
	UpdatedAt time.Time
}

// TableName specifies the database table name for the AccessRequest model.
func (AccessRequest) TableName() string {
	return "access_requests"
}

// GrantGroupDNs returns the granted group DNs as a slice.
func (a *AccessRequest) GrantGroupDNs() []string {
	if a.GrantGroups == "" {
		return nil
	}

	return strings.Split(a.GrantGroups, groupSeparator)
}

// SetGrantGroupDNs stores the granted group DNs.
func (a *AccessRequest) SetGrantGroupDNs(dns []string) {
	a.GrantGroups = strings.Join(dns, groupSeparator)
}
