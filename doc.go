// Package main provides the entry point for the user registration service.
// It runs a Fiber web server that handles the email-confirmed account
// registration flow, binds confirmed accounts to federated identities, and
// exposes the operator console together with the XML batch endpoints used by
// the downstream provisioning jobs. Data persistence is handled with gorm,
// and user and group data is refreshed from eDirectory on demand.
package main
