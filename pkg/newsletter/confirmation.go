package newsletter

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/oagudo/newsletter/pkg/outbox"
)

const confirmationSubject = "welcome!"

// ConfirmationMailer sends the link a new subscriber follows to confirm.
type ConfirmationMailer struct {
	sender  outbox.EmailSender
	baseURL string
}

// NewConfirmationMailer creates a mailer that links back to baseURL.
func NewConfirmationMailer(sender outbox.EmailSender, baseURL string) *ConfirmationMailer {
	return &ConfirmationMailer{
		sender:  sender,
		baseURL: strings.TrimRight(baseURL, "/"),
	}
}

// ConfirmationLink returns the URL that confirms the subscription for token.
func (m *ConfirmationMailer) ConfirmationLink(token string) string {
	return fmt.Sprintf("%s/subscriptions/confirm?subscription_token=%s", m.baseURL, url.QueryEscape(token))
}

// SendConfirmation emails the confirmation link to a new subscriber.
func (m *ConfirmationMailer) SendConfirmation(ctx context.Context, recipient, token string) error {
	link := m.ConfirmationLink(token)
	html := fmt.Sprintf("Welcome to our newsletter!<br/>Click <a href=\"%s\">here</a> to confirm your subscription.", link)
	text := fmt.Sprintf("Welcome to our newsletter!\nVisit %s to confirm your subscription.", link)

	if err := m.sender.SendEmail(ctx, recipient, confirmationSubject, html, text); err != nil {
		return fmt.Errorf("sending confirmation email: %w", err)
	}
	return nil
}
