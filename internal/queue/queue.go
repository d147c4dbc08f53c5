// Package queue exposes the processing queues consumed by the downstream
// batch jobs: freshly bound identities, binding overrides and updated
// public keys.
package queue

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/CBIIT/nci-user-registration/internal/db/models"
)

// Kind selects one of the processing queues.
type Kind string

const (
	// KindIdentity is the queue of unprocessed first-time bindings.
	KindIdentity Kind = "identity"
	// KindOverride is the queue of unprocessed binding overrides. The
	// consumer undoes the previous identity before applying the new one.
	KindOverride Kind = "override"
	// KindPublicKey is the queue of submitted but unprocessed public keys.
	KindPublicKey Kind = "publickey"
)

var (
	// ErrDBNil is returned when the database connection is nil.
	ErrDBNil = errors.New("database connection is nil")
	// ErrUnknownKind is returned for a kind this package does not serve.
	ErrUnknownKind = errors.New("unknown queue kind")
)

// Item is the projection handed to a batch consumer. It deliberately leaves
// out the token and the audit trail.
type Item struct {
	ID          uint64
	EntrustUser string
	Username    string
	Email       string
	DN          string
	ExternalDN  string
	PublicKey   string
	MappedAt    *time.Time
}

// AckResult reports how a bulk acknowledge went. Matched counts the ids that
// exist, Modified the rows actually flipped; the difference is ids that were
// already acknowledged.
type AckResult struct {
	Matched  int64
	Modified int64
}

// ReviewItem is one record waiting for human attention in the admin
// console.
type ReviewItem struct {
	ID         uint64
	Username   string
	Email      string
	ExternalDN string
	State      models.ProcessingState
	UpdatedAt  time.Time
}

// Service reads and acknowledges the processing queues.
type Service struct {
	db *gorm.DB
}

// NewService creates the queue service.
func NewService(db *gorm.DB) *Service {
	return &Service{db: db}
}

// ListUnprocessed returns the open items of one queue, oldest binding
// first.
func (s *Service) ListUnprocessed(ctx context.Context, kind Kind) ([]Item, error) {
	if s.db == nil {
		return nil, ErrDBNil
	}

	query := s.db.WithContext(ctx).Model(&models.IdentityRecord{})

	switch kind {
	case KindIdentity:
		query = query.Where("processing_state = ? AND is_override = ?", models.StateUnprocessed, false)
	case KindOverride:
		query = query.Where("processing_state = ? AND is_override = ?", models.StateUnprocessed, true)
	case KindPublicKey:
		query = query.Where("public_key_processed = ?", false)
	default:
		return nil, ErrUnknownKind
	}

	var records []models.IdentityRecord
	if err := query.Order("id ASC").Find(&records).Error; err != nil {
		return nil, err
	}

	items := make([]Item, 0, len(records))
	for i := range records {
		items = append(items, toItem(&records[i]))
	}

	return items, nil
}

// Acknowledge marks queue items as consumed. The update is idempotent: ids
// already acknowledged count as matched but not modified.
func (s *Service) Acknowledge(ctx context.Context, kind Kind, ids []uint64) (AckResult, error) {
	if s.db == nil {
		return AckResult{}, ErrDBNil
	}
	if len(ids) == 0 {
		return AckResult{}, nil
	}

	var matched int64
	if err := s.db.WithContext(ctx).Model(&models.IdentityRecord{}).
		Where("id IN ?", ids).
		Count(&matched).Error; err != nil {
		return AckResult{}, err
	}

	query := s.db.WithContext(ctx).Model(&models.IdentityRecord{}).Where("id IN ?", ids)

	var result *gorm.DB
	switch kind {
	case KindIdentity:
		result = query.
			Where("processing_state = ? AND is_override = ?", models.StateUnprocessed, false).
			Update("processing_state", models.StateProcessed)
	case KindOverride:
		// Clearing the override flag keeps the record out of both binding
		// queues afterwards.
		result = query.
			Where("processing_state = ? AND is_override = ?", models.StateUnprocessed, true).
			Updates(map[string]any{
				"processing_state": models.StateProcessed,
				"is_override":      false,
			})
	case KindPublicKey:
		result = query.
			Where("public_key_processed = ?", false).
			Update("public_key_processed", true)
	default:
		return AckResult{}, ErrUnknownKind
	}

	if result.Error != nil {
		return AckResult{}, result.Error
	}

	return AckResult{Matched: matched, Modified: result.RowsAffected}, nil
}

// ListPendingReview returns the records parked in the pending or manual
// state for the admin console.
func (s *Service) ListPendingReview(ctx context.Context) ([]ReviewItem, error) {
	if s.db == nil {
		return nil, ErrDBNil
	}

	var records []models.IdentityRecord
	err := s.db.WithContext(ctx).
		Where("processing_state IN ?", []models.ProcessingState{models.StatePending, models.StateManual}).
		Order("updated_at DESC").
		Find(&records).Error
	if err != nil {
		return nil, err
	}

	items := make([]ReviewItem, 0, len(records))
	for i := range records {
		r := &records[i]
		item := ReviewItem{
			ID:        r.ID,
			Username:  r.Username,
			Email:     r.Email,
			State:     r.ProcessingState,
			UpdatedAt: r.UpdatedAt,
		}
		if r.ExternalDN != nil {
			item.ExternalDN = *r.ExternalDN
		}
		items = append(items, item)
	}

	return items, nil
}

func toItem(r *models.IdentityRecord) Item {
	item := Item{
		ID:          r.ID,
		EntrustUser: r.EntrustUser,
		Username:    r.Username,
		Email:       r.Email,
		DN:          r.DN,
		PublicKey:   r.PublicKey,
		MappedAt:    r.MappedAt,
	}
	if r.ExternalDN != nil {
		item.ExternalDN = *r.ExternalDN
	}

	return item
}
