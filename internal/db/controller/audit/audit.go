// Package audit appends and reads the per-record audit trail.
package audit

import (
	"errors"

	"gorm.io/gorm"

	"github.com/CBIIT/nci-user-registration/internal/db/models"
)

var (
	// ErrDBNil is returned when the database connection is nil.
	ErrDBNil = errors.New("database connection is nil")
	// ErrMessageEmpty is returned when attempting to append an empty message.
	ErrMessageEmpty = errors.New("audit message cannot be empty")
)

// Append adds one line to a record's audit trail. Entries are never updated
// or removed afterwards.
func Append(db *gorm.DB, recordID uint64, message string) error {
	if db == nil {
		return ErrDBNil
	}
	if message == "" {
		return ErrMessageEmpty
	}

	entry := models.AuditEntry{
		IdentityRecordID: recordID,
		Message:          message,
	}

	return db.Create(&entry).Error
}

// ListForRecord retrieves a record's audit trail, oldest first.
func ListForRecord(db *gorm.DB, recordID uint64) ([]models.AuditEntry, error) {
	if db == nil {
		return nil, ErrDBNil
	}

	var entries []models.AuditEntry
	result := db.Where("identity_record_id = ?", recordID).
		Order("id ASC").
		Find(&entries)
	if result.Error != nil {
		return nil, result.Error
	}

	return entries, nil
}
