// Package directory loads and synchronizes user and group entries from the
// eDirectory LDAP tree into the local database. Sync touches directory
// attribute fields only; the mapping fields stay untouched.
package directory

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/go-ldap/ldap/v3"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/CBIIT/nci-user-registration/internal/config"
	"github.com/CBIIT/nci-user-registration/internal/db/controller/audit"
	"github.com/CBIIT/nci-user-registration/internal/db/models"
)

var (
	// ErrNotEmpty is returned by LoadUsers when records already exist. The
	// initial load never runs over a populated database.
	ErrNotEmpty = errors.New("identity records already loaded")
	// ErrNoSearchBase is returned when the user search base is unset.
	ErrNoSearchBase = errors.New("user search base is not configured")
)

// defaultAttributes are fetched when the configuration lists none.
var defaultAttributes = []string{
	"cn", "mail", "fullName", "givenName", "sn", "telephoneNumber",
	"objectClass", "groupMembership", "uidNumber", "gidNumber",
	"homeDirectory", "loginShell",
}

const insertBatchSize = 500

// SyncStats reports what one user sync run did.
type SyncStats struct {
	Fetched   int
	Inserted  int
	Updated   int
	Unchanged int
	// Reset counts bound records whose processing state went back to
	// unprocessed because their directory attributes changed.
	Reset int
}

// GroupSyncStats reports a group reload per source.
type GroupSyncStats struct {
	Federated int
	Internal  int
}

// Provider talks to the eDirectory server.
type Provider struct {
	cfg config.EDir
	db  *gorm.DB
}

// NewProvider creates a directory provider.
func NewProvider(cfg config.EDir, db *gorm.DB) *Provider {
	if cfg.Timeout == 0 {
		cfg.Timeout = 10
	}
	if cfg.UserFilter == "" {
		cfg.UserFilter = "(objectClass=inetOrgPerson)"
	}
	if len(cfg.Attributes) == 0 {
		cfg.Attributes = defaultAttributes
	}

	return &Provider{cfg: cfg, db: db}
}

// Connect establishes a connection to the directory server.
func (p *Provider) Connect() (*ldap.Conn, error) {
	hostPort := net.JoinHostPort(p.cfg.Host, strconv.Itoa(p.cfg.Port))

	var ldapURL string
	if p.cfg.UseSSL {
		ldapURL = "ldaps://" + hostPort
	} else {
		ldapURL = "ldap://" + hostPort
	}

	var tlsConfig *tls.Config
	if p.cfg.UseSSL || p.cfg.UseTLS {
		tlsConfig = &tls.Config{
			InsecureSkipVerify: p.cfg.SkipVerify, //nolint:gosec // skipping verifying tls is ok
			ServerName:         p.cfg.Host,
		}
	}

	conn, err := ldap.DialURL(ldapURL, ldap.DialWithTLSConfig(tlsConfig))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to directory server: %w", err)
	}

	if !p.cfg.UseSSL && p.cfg.UseTLS {
		if errStartTLS := conn.StartTLS(tlsConfig); errStartTLS != nil {
			if errClose := conn.Close(); errClose != nil {
				log.Error().Err(errClose).Msg("failed to close directory connection")
			}

			return nil, fmt.Errorf("failed to start TLS: %w", errStartTLS)
		}
	}

	if p.cfg.Timeout > 0 {
		conn.SetTimeout(time.Duration(p.cfg.Timeout) * time.Second)
	}

	if p.cfg.BindDN != "" {
		if err := conn.Bind(p.cfg.BindDN, p.cfg.BindPassword); err != nil {
			if errClose := conn.Close(); errClose != nil {
				log.Error().Err(errClose).Msg("failed to close directory connection")
			}

			return nil, fmt.Errorf("failed to bind with service account: %w", err)
		}
	}

	return conn, nil
}

// LoadUsers performs the one-time initial bulk load. It refuses to run when
// identity records already exist.
func (p *Provider) LoadUsers(ctx context.Context) (int, error) {
	var count int64
	if err := p.db.WithContext(ctx).Model(&models.IdentityRecord{}).Count(&count).Error; err != nil {
		return 0, err
	}
	if count > 0 {
		return 0, ErrNotEmpty
	}

	records, err := p.fetchUsers()
	if err != nil {
		return 0, err
	}

	if err := p.db.WithContext(ctx).CreateInBatches(records, insertBatchSize).Error; err != nil {
		return 0, err
	}

	return len(records), nil
}

// SyncUsers upserts directory attributes for every fetched entry. When a
// bound record changed, its processing state goes back to unprocessed so the
// downstream consumer picks the change up, and the audit trail records it.
func (p *Provider) SyncUsers(ctx context.Context) (SyncStats, error) {
	records, err := p.fetchUsers()
	if err != nil {
		return SyncStats{}, err
	}

	return p.syncEntries(ctx, records)
}

// syncEntries applies normalized directory entries to the database.
func (p *Provider) syncEntries(ctx context.Context, records []models.IdentityRecord) (SyncStats, error) {
	stats := SyncStats{Fetched: len(records)}

	for i := range records {
		incoming := &records[i]

		var existing models.IdentityRecord
		err := p.db.WithContext(ctx).
			Where("entrust_user = ?", incoming.EntrustUser).
			First(&existing).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			if errCreate := p.db.WithContext(ctx).Create(incoming).Error; errCreate != nil {
				return stats, errCreate
			}
			stats.Inserted++
			continue
		}
		if err != nil {
			return stats, err
		}

		updates := attributeChanges(&existing, incoming)
		if len(updates) == 0 {
			stats.Unchanged++
			continue
		}

		reset := existing.IsMapped() && existing.ProcessingState == models.StateProcessed
		if reset {
			updates["processing_state"] = models.StateUnprocessed
		}

		err = p.db.WithContext(ctx).Model(&models.IdentityRecord{}).
			Where("id = ?", existing.ID).
			Updates(updates).Error
		if err != nil {
			return stats, err
		}

		if reset {
			stats.Reset++
			if errAudit := audit.Append(p.db, existing.ID, "Record updated from eDirectory"); errAudit != nil {
				log.Error().Err(errAudit).Uint64("record", existing.ID).Msg("failed to append audit entry")
			}
		}

		stats.Updated++
	}

	return stats, nil
}

// SyncGroups reloads the directory groups of both source OUs wholesale.
func (p *Provider) SyncGroups(ctx context.Context) (GroupSyncStats, error) {
	conn, err := p.Connect()
	if err != nil {
		return GroupSyncStats{}, err
	}

	defer func() {
		if errClose := conn.Close(); errClose != nil {
			log.Warn().Err(errClose).Msg("failed to close directory connection")
		}
	}()

	var stats GroupSyncStats

	stats.Federated, err = p.reloadGroups(ctx, conn, p.cfg.FederatedGroupsDN, models.GroupSourceFederated)
	if err != nil {
		return stats, err
	}

	stats.Internal, err = p.reloadGroups(ctx, conn, p.cfg.InternalGroupsDN, models.GroupSourceInternal)
	if err != nil {
		return stats, err
	}

	return stats, nil
}

func (p *Provider) reloadGroups(ctx context.Context, conn *ldap.Conn, baseDN string, source models.GroupSource) (int, error) {
	if baseDN == "" {
		return 0, nil
	}

	searchRequest := ldap.NewSearchRequest(
		baseDN,
		ldap.ScopeWholeSubtree,
		ldap.NeverDerefAliases,
		0,
		p.cfg.Timeout,
		false,
		"(cn=*)",
		[]string{"cn", "dn"},
		nil,
	)

	searchResult, err := conn.Search(searchRequest)
	if err != nil {
		return 0, fmt.Errorf("failed to search for groups: %w", err)
	}

	groups := make([]models.DirectoryGroup, 0, len(searchResult.Entries))
	for _, entry := range searchResult.Entries {
		groups = append(groups, models.DirectoryGroup{
			DN:     strings.ToLower(strings.TrimSpace(entry.DN)),
			Source: source,
			CN:     strings.ToLower(strings.TrimSpace(entry.GetAttributeValue("cn"))),
		})
	}

	err = p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if errDel := tx.Where("source = ?", source).Delete(&models.DirectoryGroup{}).Error; errDel != nil {
			return errDel
		}
		if len(groups) == 0 {
			return nil
		}

		return tx.CreateInBatches(groups, insertBatchSize).Error
	})
	if err != nil {
		return 0, err
	}

	return len(groups), nil
}

// fetchUsers searches the user subtree and normalizes every entry.
func (p *Provider) fetchUsers() ([]models.IdentityRecord, error) {
	if p.cfg.UserSearchBase == "" {
		return nil, ErrNoSearchBase
	}

	conn, err := p.Connect()
	if err != nil {
		return nil, err
	}

	defer func() {
		if errClose := conn.Close(); errClose != nil {
			log.Warn().Err(errClose).Msg("failed to close directory connection")
		}
	}()

	searchRequest := ldap.NewSearchRequest(
		p.cfg.UserSearchBase,
		ldap.ScopeWholeSubtree,
		ldap.NeverDerefAliases,
		0,
		p.cfg.Timeout,
		false,
		p.cfg.UserFilter,
		append([]string{"dn"}, p.cfg.Attributes...),
		nil,
	)

	searchResult, err := conn.Search(searchRequest)
	if err != nil {
		return nil, fmt.Errorf("failed to search for users: %w", err)
	}

	records := make([]models.IdentityRecord, 0, len(searchResult.Entries))
	for _, entry := range searchResult.Entries {
		record := entryToRecord(entry)
		if record.EntrustUser == "" {
			log.Warn().Str("dn", entry.DN).Msg("skipping directory entry without cn")
			continue
		}
		records = append(records, record)
	}

	return records, nil
}

// entryToRecord normalizes one directory entry: every value is trimmed, the
// dn, cn and mail values are lowercased, and the username comes from the
// first RDN of the entry DN.
func entryToRecord(entry *ldap.Entry) models.IdentityRecord {
	dn := strings.ToLower(strings.TrimSpace(entry.DN))

	record := models.IdentityRecord{
		EntrustUser:     strings.ToLower(strings.TrimSpace(entry.GetAttributeValue("cn"))),
		DN:              dn,
		Username:        usernameFromDN(dn),
		Email:           strings.ToLower(strings.TrimSpace(entry.GetAttributeValue("mail"))),
		FullName:        strings.TrimSpace(entry.GetAttributeValue("fullName")),
		GivenName:       strings.TrimSpace(entry.GetAttributeValue("givenName")),
		Surname:         strings.TrimSpace(entry.GetAttributeValue("sn")),
		TelephoneNumber: strings.TrimSpace(entry.GetAttributeValue("telephoneNumber")),
		HomeDirectory:   strings.TrimSpace(entry.GetAttributeValue("homeDirectory")),
		LoginShell:      strings.TrimSpace(entry.GetAttributeValue("loginShell")),
	}

	record.ObjectClass = strings.Join(trimAll(entry.GetAttributeValues("objectClass")), ",")
	record.SetGroups(lowerAll(trimAll(entry.GetAttributeValues("groupMembership"))))

	if v, err := strconv.Atoi(strings.TrimSpace(entry.GetAttributeValue("uidNumber"))); err == nil {
		record.UIDNumber = v
	}
	if v, err := strconv.Atoi(strings.TrimSpace(entry.GetAttributeValue("gidNumber"))); err == nil {
		record.GIDNumber = v
	}

	return record
}

// usernameFromDN extracts the value of the first RDN, e.g. "jdoe" from
// "cn=jdoe,ou=users,o=example".
func usernameFromDN(dn string) string {
	first, _, _ := strings.Cut(dn, ",")
	_, value, found := strings.Cut(first, "=")
	if !found {
		return ""
	}

	return strings.TrimSpace(value)
}

// attributeChanges diffs the directory-owned fields and returns the columns
// to update. Mapping fields are never part of the result.
func attributeChanges(existing, incoming *models.IdentityRecord) map[string]any {
	updates := map[string]any{}

	type field struct {
		column   string
		old, new string
	}

	for _, f := range []field{
		{"dn", existing.DN, incoming.DN},
		{"username", existing.Username, incoming.Username},
		{"email", existing.Email, incoming.Email},
		{"full_name", existing.FullName, incoming.FullName},
		{"given_name", existing.GivenName, incoming.GivenName},
		{"surname", existing.Surname, incoming.Surname},
		{"telephone_number", existing.TelephoneNumber, incoming.TelephoneNumber},
		{"object_class", existing.ObjectClass, incoming.ObjectClass},
		{"group_membership", existing.GroupMembership, incoming.GroupMembership},
		{"home_directory", existing.HomeDirectory, incoming.HomeDirectory},
		{"login_shell", existing.LoginShell, incoming.LoginShell},
	} {
		if f.old != f.new {
			updates[f.column] = f.new
		}
	}

	if existing.UIDNumber != incoming.UIDNumber {
		updates["uid_number"] = incoming.UIDNumber
	}
	if existing.GIDNumber != incoming.GIDNumber {
		updates["gid_number"] = incoming.GIDNumber
	}

	return updates
}

func trimAll(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v != "" {
			out = append(out, v)
		}
	}

	return out
}

func lowerAll(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		out = append(out, strings.ToLower(v))
	}

	return out
}
