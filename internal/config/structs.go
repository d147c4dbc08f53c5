package config

import (
	"time"

	"github.com/CBIIT/nci-user-registration/internal/logger"
)

// Session settings.
type Session struct {
	ExpiryTime time.Duration
}

// Config overall data structure.
type Config struct {
	DevMode   bool // enable dev mode for development
	DB        DB
	Log       logger.Log
	Title     string
	Webserver Webserver
	Confirm   Confirm
	Mail      Mail
	EDir      EDir
}

// Webserver implement webserver settings.
type Webserver struct {
	BrowseStatic        bool    // enable static file browsing (for development purposes only)
	CleanPath           bool    // use clean path middleware to allow multi slash requests
	DisableRecover      bool    // disable recover middleware
	Domain              string  // domain name for the webserver
	Port                int     // listening port for the webserver
	ShutDownTime        int     // wait time for shutdown
	URL                 string  // base url for the webserver
	CookieEncryptionKey string  // encryption key for cookies
	Session             Session // session settings
}

// Confirm holds the self-registration confirmation settings.
type Confirm struct {
	// TokenTTLMinutes is how long an emailed confirmation token stays valid.
	TokenTTLMinutes int
	// URLPrefix is prepended to the token when building the emailed
	// confirmation link (e.g. "https://register.example.org/auth/confirm").
	URLPrefix string
	// DNPattern is the shape a federated user DN must match. A DN that
	// fails the pattern is still bound but flagged for manual review.
	DNPattern string
}

// Mail holds the outbound SMTP settings.
type Mail struct {
	Host            string
	Port            int
	Username        string
	Password        string
	DefaultFrom     string
	SubjectPrefix   string
	OperatorAddress string // recipient for pending/manual mapping alerts
}

// EDir holds the eDirectory (LDAP) connection and search settings used by
// the directory synchronization jobs.
type EDir struct {
	Host           string // hostname or hostname:port
	Port           int
	UseSSL         bool
	UseTLS         bool
	SkipVerify     bool
	BindDN         string
	BindPassword   string
	UserSearchBase string
	UserFilter     string
	Attributes     []string
	// Group OUs, reloaded wholesale by the group sync job.
	FederatedGroupsDN string
	InternalGroupsDN  string
	// ExternalGroupDN marks records that belong to the externally managed
	// population (used for the admin dashboard counts).
	ExternalGroupDN string
	Timeout         int // seconds
}
