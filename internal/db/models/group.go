package models

import "time"

// GroupSource tells which directory OU a group was loaded from.
type GroupSource string

const (
	// GroupSourceFederated marks groups from the federated accounts OU.
	GroupSourceFederated GroupSource = "federated"
	// GroupSourceInternal marks groups from the internal accounts OU.
	GroupSourceInternal GroupSource = "internal"
)

// DirectoryGroup mirrors one group entry from the directory. The group sync
// job reloads each source wholesale, so rows carry no local edits.
type DirectoryGroup struct {
	ID     uint64      `gorm:"primaryKey"`
	DN     string      `gorm:"size:512;not null;uniqueIndex:idx_group_dn_source"`
	Source GroupSource `gorm:"size:16;not null;uniqueIndex:idx_group_dn_source"`
	CN     string      `gorm:"size:255;index"`

	CreatedAt time.Time
	UpdatedAt time.Time
}

// TableName specifies the database table name for the DirectoryGroup model.
func (DirectoryGroup) TableName() string {
	return "directory_groups"
}
