// Package mail is the outbound notification collaborator boundary. This
// subsystem only decides when to dispatch and with what data; rendering and
// delivery live behind the Dispatcher interface.
package mail

import (
	"context"
	"net/url"

	"opsdesk.org/internal/obs"
)

// Template identifies the message kind for the delivery system.
type Template string

const (
	TemplateInvitation    Template = "invitation"
	TemplatePasswordReset Template = "password_reset"
)

// Message is one dispatch request.
type Message struct {
	To       string
	Template Template
	Params   map[string]string
}

// Dispatcher hands a message to the delivery system.
type Dispatcher interface {
	Dispatch(ctx context.Context, msg Message) error
}

// LogDispatcher is the development dispatcher. It records recipient and
// template only; params carry the tokenized link and are never logged.
type LogDispatcher struct{}

func (LogDispatcher) Dispatch(_ context.Context, msg Message) error {
	obs.LogRequest(map[string]any{
		"type":     "mail",
		"to":       msg.To,
		"template": string(msg.Template),
	})
	return nil
}

// InvitationLink builds the single-use onboarding URL.
func InvitationLink(siteURL, plaintext string) string {
	return siteURL + "/auth/accept-invitation?token=" + url.QueryEscape(plaintext)
}

// PasswordResetLink builds the single-use reset URL.
func PasswordResetLink(siteURL, plaintext string) string {
	return siteURL + "/auth/reset-password?token=" + url.QueryEscape(plaintext)
}
