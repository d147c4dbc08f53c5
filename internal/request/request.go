// Package request keeps the access request ledger: submissions from the
// portal, admin dispositions and the queue feeding approved grants to the
// downstream provisioning job.
package request

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
	// ErrDBNil is returned when the database connection is nil.
	ErrDBNil = errors.New("database connection is nil")
	// ErrMissingFields is returned when a submission lacks required fields.
	ErrMissingFields = errors.New("application and requester are required")
	// ErrRequestNotFound is returned for an unknown request id.
	ErrRequestNotFound = errors.New("access request not found")
	// ErrAlreadyResolved is returned when a decision targets a request that
	// was already approved or rejected. The stored decision stands.
	ErrAlreadyResolved = errors.New("access request already resolved")
)

// Grant is the resolved outcome attached to an approval: the application,
// the level and the directory groups the provisioning job will apply.
type Grant struct {
	AppID   uint64
	AppName string
	Level   string
	Groups  []string
}

// SubmitInput is one portal submission.
type SubmitInput struct {
	ApplicationID uint64
	Application   string
	Level         string
	RequesterDN   string
	Justification string
}

// SearchFilter narrows a ledger search. Zero fields do not filter.
type SearchFilter struct {
	RequestID   string
	Application string
	RequesterDN string
	Approval    models.Approval
}

// PendingGrant is the projection handed to the provisioning job.
type PendingGrant struct {
	ID          uint64
	RequestID   string
	AppName     string
	Level       string
	RequesterDN string
	Groups      []string
	ResolvedAt  time.Time
}

// AckResult reports a bulk acknowledge: ids that exist versus rows actually
// flipped.
type AckResult struct {
	Matched  int64
	Modified int64
}

// Service is the access request ledger.
type Service struct {
	db *gorm.DB
}

// NewService creates the ledger service.
func NewService(db *gorm.DB) *Service {
	return &Service{db: db}
}

// Submit records a new request and returns its correlation id. Every
// request starts unresolved.
func (s *Service) Submit(ctx context.Context, input SubmitInput) (string, error) {
	if s.db == nil {
		return "", ErrDBNil
	}

	app := strings.TrimSpace(input.Application)
	requester := strings.TrimSpace(input.RequesterDN)
	if app == "" || requester == "" {
		return "", ErrMissingFields
	}

	req := models.AccessRequest{
		RequestID:      uuid.New().String(),
		ApplicationID:  input.ApplicationID,
		RequestedApp:   app,
		RequestedLevel: strings.TrimSpace(input.Level),
		RequesterDN:    strings.ToLower(requester),
		Justification:  strings.TrimSpace(input.Justification),
		Approval:       models.ApprovalUnknown,
	}

	if err := s.db.WithContext(ctx).Create(&req).Error; err != nil {
		return "", err
	}

	return req.RequestID, nil
}

// Get retrieves one request by its correlation id.
func (s *Service) Get(ctx context.Context, requestID string) (*models.AccessRequest, error) {
	if s.db == nil {
		return nil, ErrDBNil
	}

	var req models.AccessRequest
	result := s.db.WithContext(ctx).Where("request_id = ?", requestID).First(&req)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrRequestNotFound
		}
		return nil, result.Error
	}

	return &req, nil
}

// Approve resolves a request in favour of the requester and attaches the
// grant. The update only fires while the request is still unresolved, so a
// concurrent second decision loses cleanly.
func (s *Service) Approve(ctx context.Context, requestID string, grant Grant, notes string) error {
	groups := strings.Join(grant.Groups, "\n")

	return s.resolve(ctx, requestID, map[string]any{
		"approval":       models.ApprovalApproved,
		"grant_app_id":   grant.AppID,
		"grant_app_name": grant.AppName,
		"grant_level":    grant.Level,
		"grant_groups":   groups,
		"notes":          notes,
	})
}

// Reject resolves a request against the requester.
func (s *Service) Reject(ctx context.Context, requestID string, notes string) error {
	return s.resolve(ctx, requestID, map[string]any{
		"approval": models.ApprovalRejected,
		"notes":    notes,
	})
}

func (s *Service) resolve(ctx context.Context, requestID string, updates map[string]any) error {
	if s.db == nil {
		return ErrDBNil
	}

	result := s.db.WithContext(ctx).Model(&models.AccessRequest{}).
		Where("request_id = ? AND approval = ?", requestID, models.ApprovalUnknown).
		Updates(updates)
	if result.Error != nil {
		return result.Error
	}

	if result.RowsAffected == 0 {
		var count int64
		if err := s.db.WithContext(ctx).Model(&models.AccessRequest{}).
			Where("request_id = ?", requestID).
			Count(&count).Error; err != nil {
			return err
		}
		if count == 0 {
			return ErrRequestNotFound
		}
		return ErrAlreadyResolved
	}

	return nil
}

// ListPendingApproved returns approved requests the provisioning job has
// not acknowledged yet.
func (s *Service) ListPendingApproved(ctx context.Context) ([]PendingGrant, error) {
	if s.db == nil {
		return nil, ErrDBNil
	}

	var requests []models.AccessRequest
	err := s.db.WithContext(ctx).
		Where("approval = ? AND processed IS NULL", models.ApprovalApproved).
		Order("id ASC").
		Find(&requests).Error
	if err != nil {
		return nil, err
	}

	grants := make([]PendingGrant, 0, len(requests))
	for i := range requests {
		r := &requests[i]
		grants = append(grants, PendingGrant{
			ID:          r.ID,
			RequestID:   r.RequestID,
			AppName:     r.GrantAppName,
			Level:       r.GrantLevel,
			RequesterDN: r.RequesterDN,
			Groups:      r.GrantGroupDNs(),
			ResolvedAt:  r.UpdatedAt,
		})
	}

	return grants, nil
}

// AcknowledgeProcessed marks approved requests as consumed by the
// provisioning job. Idempotent like the identity queues.
func (s *Service) AcknowledgeProcessed(ctx context.Context, ids []uint64) (AckResult, error) {
	if s.db == nil {
		return AckResult{}, ErrDBNil
	}
	if len(ids) == 0 {
		return AckResult{}, nil
	}

	var matched int64
	if err := s.db.WithContext(ctx).Model(&models.AccessRequest{}).
		Where("id IN ?", ids).
		Count(&matched).Error; err != nil {
		return AckResult{}, err
	}

	result := s.db.WithContext(ctx).Model(&models.AccessRequest{}).
		Where("id IN ? AND approval = ? AND processed IS NULL", ids, models.ApprovalApproved).
		Update("processed", true)
	if result.Error != nil {
		return AckResult{}, result.Error
	}

	return AckResult{Matched: matched, Modified: result.RowsAffected}, nil
}

// Search filters the ledger. Application and requester match as substrings.
func (s *Service) Search(ctx context.Context, filter SearchFilter) ([]models.AccessRequest, error) {
	if s.db == nil {
		return nil, ErrDBNil
	}

	query := s.db.WithContext(ctx).Model(&models.AccessRequest{})

	if filter.RequestID != "" {
		query = query.Where("request_id = ?", filter.RequestID)
	}
	if filter.Application != "" {
		query = query.Where("requested_app LIKE ?", "%"+filter.Application+"%")
	}
	if filter.RequesterDN != "" {
		query = query.Where("requester_dn LIKE ?", "%"+strings.ToLower(filter.RequesterDN)+"%")
	}
	if filter.Approval != "" {
		query = query.Where("approval = ?", filter.Approval)
	}

	var requests []models.AccessRequest
	if err := query.Order("id DESC").Find(&requests).Error; err != nil {
		return nil, err
	}

	return requests, nil
}

// PendingCount counts unresolved requests for the dashboard.
func (s *Service) PendingCount(ctx context.Context) (int64, error) {
	if s.db == nil {
		return 0, ErrDBNil
	}

	var count int64
	err := s.db.WithContext(ctx).Model(&models.AccessRequest{}).
		Where("approval = ?", models.ApprovalUnknown).
		Count(&count).Error
	if err != nil {
		return 0, err
	}

	return count, nil
}
