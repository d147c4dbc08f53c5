package handler

const (
	// BaseLayout is the default path for layout templates.
	BaseLayout = "layouts/base"

	// RouterRootPath is the root path inside a route group.
	RouterRootPath = "/"

	// SessionCookie is the name of the session id cookie.
	SessionCookie = "session"

	// HeaderExternalDN carries the federated identity asserted by the
	// upstream proxy.
	HeaderExternalDN = "smuserdn"

	// HeaderAuthType carries the upstream authentication type. Only the
	// federated kind permits a binding.
	HeaderAuthType = "user_auth_type"

	// ErrNilACDFatalLogMsg is used if app or cfg or db var pointer is nil.
	ErrNilACDFatalLogMsg = "app, cfg or db is nil"
)
