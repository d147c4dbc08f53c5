// Package mapping implements the identity-binding state machine: confirming
// emailed tokens, binding a federated identity to a directory account and
// the admin-side binding corrections.
package mapping

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/CBIIT/nci-user-registration/internal/db/controller/audit"
	"github.com/CBIIT/nci-user-registration/internal/db/models"
	"github.com/CBIIT/nci-user-registration/internal/mailer"
	"github.com/CBIIT/nci-user-registration/internal/token"
)

// AuthKindFederated is the upstream authentication type that permits a
// binding. Anything else is user-retryable.
const AuthKindFederated = "federated"

var (
	// ErrRecordNotFound is returned by AdminSetBinding for an unknown record.
	ErrRecordNotFound = errors.New("identity record not found")
	// ErrEmptyDN is returned by AdminSetBinding for a blank identity.
	ErrEmptyDN = errors.New("external dn cannot be empty")
	// ErrNothingToChange is returned when the submitted identity equals the
	// stored one.
	ErrNothingToChange = errors.New("external dn unchanged")
	// ErrDuplicateBinding is returned when the identity is already bound to
	// a different record.
	ErrDuplicateBinding = errors.New("external dn already bound to another record")
)

// Principal is the session identity carried between the confirmation step
// and the binding step.
type Principal struct {
	Username string
	Email    string
}

// Confirmation is the successful outcome of following a confirmation link.
type Confirmation struct {
	Principal Principal
	Record    *models.IdentityRecord
}

// BindResult reports the state a successful binding ended up in. Pending and
// manual are successes from the user's point of view.
type BindResult struct {
	Record *models.IdentityRecord
	State  models.ProcessingState
}

// Service drives the binding state machine.
type Service struct {
	db           *gorm.DB
	tokens       *token.Store
	mailer       mailer.Mailer
	dnPattern    *regexp.Regexp
	operatorAddr string
	now          func() time.Time
}

// NewService creates the mapping service. The dnPattern decides whether an
// asserted identity goes straight to the processing queue or to manual
// review; operatorAddr receives the review alerts.
func NewService(db *gorm.DB, tokens *token.Store, m mailer.Mailer, dnPattern *regexp.Regexp, operatorAddr string) *Service {
	return &Service{
		db:           db,
		tokens:       tokens,
		mailer:       m,
		dnPattern:    dnPattern,
		operatorAddr: operatorAddr,
		now:          time.Now,
	}
}

// ConfirmAndProceed resolves a confirmation link and decides whether the
// flow may continue to the binding step. On success the returned principal
// is stored in the session.
func (s *Service) ConfirmAndProceed(ctx context.Context, tokenValue string) (*Confirmation, error) {
	record, expired, err := s.tokens.Confirm(ctx, tokenValue)
	if err != nil {
		if errors.Is(err, token.ErrTokenNotFound) {
			return nil, flowErr(CategoryInvalidLink, err)
		}
		return nil, flowErr(CategoryMappingError, err)
	}

	if expired {
		s.audit(record.ID, "Confirmation link expired")
		return nil, flowErr(CategoryExpiredLink, nil)
	}

	if record.IsMapped() {
		s.audit(record.ID, "Followed confirmation link while already mapped")
		return nil, flowErr(CategoryAlreadyMapped, nil)
	}

	return &Confirmation{
		Principal: Principal{Username: record.Username, Email: record.Email},
		Record:    record,
	}, nil
}

// Bind records the federated identity asserted by the upstream proxy against
// the session principal's record. A blank identity parks the record as
// pending, an identity that fails the shape pattern is bound but flagged for
// manual review, and a well-formed identity lands in the processing queue.
func (s *Service) Bind(ctx context.Context, principal *Principal, assertedDN, authKind string) (*BindResult, error) {
	if principal == nil || principal.Username == "" {
		return nil, flowErr(CategorySessionExpired, nil)
	}

	record, err := s.tokens.Find(ctx, principal.Username, principal.Email)
	if err != nil {
		return nil, flowErr(CategoryMappingError, err)
	}

	if !strings.EqualFold(strings.TrimSpace(authKind), AuthKindFederated) {
		s.audit(record.ID, fmt.Sprintf("Authentication type %q is not federated", authKind))
		return nil, flowErr(CategoryNotFederated, nil)
	}

	if record.IsMapped() {
		s.audit(record.ID, "Binding attempt while already mapped")
		return nil, flowErr(CategoryAlreadyMapped, nil)
	}

	dn := normalizeDN(assertedDN)
	if dn == "" {
		return s.bindPending(ctx, record)
	}

	state := models.StateUnprocessed
	if !s.dnPattern.MatchString(dn) {
		state = models.StateManual
	}

	if bound, err := s.dnBoundElsewhere(ctx, dn, record.ID); err != nil {
		return nil, flowErr(CategoryMappingError, err)
	} else if bound {
		s.audit(record.ID, fmt.Sprintf("Duplicate registration attempt for %s", dn))
		return nil, flowErr(CategoryDuplicateBinding, nil)
	}

	mappedAt := s.now()
	result := s.db.WithContext(ctx).Model(&models.IdentityRecord{}).
		Where("id = ?", record.ID).
		Updates(map[string]any{
			"external_dn":      dn,
			"processing_state": state,
			"is_override":      false,
			"mapped_at":        mappedAt,
		})
	if result.Error != nil {
		// The unique index catches the race the pre-check cannot: two
		// concurrent binds of the same identity.
		if isUniqueViolation(result.Error) {
			s.audit(record.ID, fmt.Sprintf("Duplicate registration attempt for %s", dn))
			return nil, flowErr(CategoryDuplicateBinding, result.Error)
		}
		return nil, flowErr(CategoryMappingError, result.Error)
	}

	record.ExternalDN = &dn
	record.ProcessingState = state
	record.MappedAt = &mappedAt

	if state == models.StateManual {
		s.audit(record.ID, fmt.Sprintf("Mapped to %s (flagged for manual review)", dn))
		s.notifyOperators(record.Username, dn, string(models.StateManual))
	} else {
		s.audit(record.ID, fmt.Sprintf("Mapped to %s", dn))
		s.send([]string{record.Email}, mailer.SuccessMessage(record.Username))
	}

	return &BindResult{Record: record, State: state}, nil
}

// bindPending parks a record whose upstream login carried no identity yet.
// A later automated pass completes the binding once the directory catches
// up.
func (s *Service) bindPending(ctx context.Context, record *models.IdentityRecord) (*BindResult, error) {
	result := s.db.WithContext(ctx).Model(&models.IdentityRecord{}).
		Where("id = ?", record.ID).
		Update("processing_state", models.StatePending)
	if result.Error != nil {
		return nil, flowErr(CategoryMappingError, result.Error)
	}

	record.ProcessingState = models.StatePending

	s.audit(record.ID, "No federated identity asserted; binding left pending")
	s.notifyOperators(record.Username, "", string(models.StatePending))

	return &BindResult{Record: record, State: models.StatePending}, nil
}

// AdminSetBinding sets or corrects a record's binding from the admin
// console. Replacing an already processed binding is an override: the
// downstream consumer is told to undo the old identity before applying the
// new one.
func (s *Service) AdminSetBinding(ctx context.Context, recordID uint64, assertedDN string) error {
	var record models.IdentityRecord
	if err := s.db.WithContext(ctx).First(&record, recordID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrRecordNotFound
		}
		return err
	}

	dn := normalizeDN(assertedDN)
	if dn == "" {
		return ErrEmptyDN
	}

	if record.ExternalDN != nil && *record.ExternalDN == dn {
		return ErrNothingToChange
	}

	if bound, err := s.dnBoundElsewhere(ctx, dn, record.ID); err != nil {
		return err
	} else if bound {
		return ErrDuplicateBinding
	}

	override := record.ProcessingState == models.StateProcessed && record.IsMapped()

	result := s.db.WithContext(ctx).Model(&models.IdentityRecord{}).
		Where("id = ?", record.ID).
		Updates(map[string]any{
			"external_dn":      dn,
			"processing_state": models.StateUnprocessed,
			"is_override":      override,
			"mapped_at":        s.now(),
		})
	if result.Error != nil {
		if isUniqueViolation(result.Error) {
			return ErrDuplicateBinding
		}
		return result.Error
	}

	if override {
		s.audit(record.ID, fmt.Sprintf("Binding override: %s replaced %s", dn, *record.ExternalDN))
	} else {
		s.audit(record.ID, fmt.Sprintf("Mapped to %s by administrator", dn))
	}

	return nil
}

// dnBoundElsewhere reports whether another record already holds the
// identity.
func (s *Service) dnBoundElsewhere(ctx context.Context, dn string, excludeID uint64) (bool, error) {
	var count int64
	result := s.db.WithContext(ctx).Model(&models.IdentityRecord{}).
		Where("external_dn = ? AND id <> ?", dn, excludeID).
		Count(&count)
	if result.Error != nil {
		return false, result.Error
	}

	return count > 0, nil
}

func (s *Service) audit(recordID uint64, message string) {
	if err := audit.Append(s.db, recordID, message); err != nil {
		log.Error().Err(err).Uint64("record", recordID).Msg("failed to append audit entry")
	}
}

// send delivers in the background; binding responses never wait on the
// relay.
func (s *Service) send(to []string, msg mailer.Message) {
	if s.mailer == nil {
		return
	}

	go func() {
		if err := s.mailer.Send(to, msg.Subject, msg.Body); err != nil {
			log.Error().Err(err).Strs("to", to).Msg("failed to send notification mail")
		}
	}()
}

func (s *Service) notifyOperators(username, dn, state string) {
	if s.operatorAddr == "" {
		return
	}
	s.send([]string{s.operatorAddr}, mailer.OperatorAlertMessage(username, dn, state))
}

func normalizeDN(dn string) string {
	return strings.ToLower(strings.TrimSpace(dn))
}

// isUniqueViolation detects a unique index violation across the supported
// engines (MySQL, Postgres, SQLite).
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}

	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "Duplicate entry") ||
		strings.Contains(msg, "duplicate key value")
}
