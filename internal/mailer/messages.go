package mailer

import (
	"fmt"
	"html"
	"strings"
)

// Message is a rendered subject and HTML body pair.
type Message struct {
	Subject string
	Body    string
}

// ConfirmationMessage builds the emailed confirmation link for a freshly
// issued token.
func ConfirmationMessage(urlPrefix, token string) Message {
	link := strings.TrimRight(urlPrefix, "/") + "/" + token

	var b strings.Builder
	b.WriteString("<p>Hello,</p>")
	b.WriteString("<p>We received a request to link your account to your federated identity. ")
	b.WriteString("Please confirm your registration by following the link below:</p>")
	fmt.Fprintf(&b, "<p><a href=%q>%s</a></p>", link, html.EscapeString(link))
	b.WriteString("<p>The link expires after a short time. If it has expired, simply restart the registration.</p>")
	b.WriteString("<p>If you did not request this, you can ignore this message.</p>")

	return Message{
		Subject: "Please confirm your registration",
		Body:    b.String(),
	}
}

// AlreadyRegisteredMessage tells a user who tried to register again that
// their account is already linked.
func AlreadyRegisteredMessage(username string) Message {
	var b strings.Builder
	fmt.Fprintf(&b, "<p>Hello %s,</p>", html.EscapeString(username))
	b.WriteString("<p>Your account is already linked to a federated identity, so no further action is needed. ")
	b.WriteString("If you believe this is an error, please contact the help desk.</p>")

	return Message{
		Subject: "Your account is already registered",
		Body:    b.String(),
	}
}

// NotFoundMessage is the help message sent to an address that submitted the
// registration form but did not match any record.
func NotFoundMessage() Message {
	var b strings.Builder
	b.WriteString("<p>Hello,</p>")
	b.WriteString("<p>We could not match the username and email address you submitted to an existing account. ")
	b.WriteString("Please double-check both values and try again, or contact the help desk for assistance.</p>")

	return Message{
		Subject: "We could not find your account",
		Body:    b.String(),
	}
}

// SuccessMessage confirms a completed identity link to the user.
func SuccessMessage(username string) Message {
	var b strings.Builder
	fmt.Fprintf(&b, "<p>Hello %s,</p>", html.EscapeString(username))
	b.WriteString("<p>Your account has been successfully linked to your federated identity. ")
	b.WriteString("The change will take effect with the next synchronization run.</p>")

	return Message{
		Subject: "Registration complete",
		Body:    b.String(),
	}
}

// OperatorAlertMessage notifies the operations mailbox about a binding that
// needs attention, either because no federated identity was asserted yet or
// because the asserted identity failed the expected shape.
func OperatorAlertMessage(username, dn, state string) Message {
	var b strings.Builder
	fmt.Fprintf(&b, "<p>Registration for user <b>%s</b> needs review.</p>", html.EscapeString(username))
	fmt.Fprintf(&b, "<p>State: %s</p>", html.EscapeString(state))
	if dn != "" {
		fmt.Fprintf(&b, "<p>Asserted identity: %s</p>", html.EscapeString(dn))
	} else {
		b.WriteString("<p>No federated identity was asserted.</p>")
	}

	return Message{
		Subject: fmt.Sprintf("Registration needs review: %s", username),
		Body:    b.String(),
	}
}
