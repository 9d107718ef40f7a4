// Package mailer delivers rendered campaign emails through the provider.
package mailer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/badoux/checkmail"
)

// ErrInvalidRecipient is returned for addresses that fail format validation.
var ErrInvalidRecipient = errors.New("invalid recipient address")

// Message is one fully rendered email to a single recipient.
type Message struct {
	To           string
	FromName     string
	FromEmail    string
	ReplyTo      string
	Subject      string
	HTML         string
	Text         string
	CampaignID   string
	SubscriberID string
}

// Result is the provider's acceptance of a message.
type Result struct {
	MessageID string
	SentAt    time.Time
}

// Sender delivers a single message.
type Sender interface {
	Send(ctx context.Context, msg *Message) (*Result, error)
}

// From formats the sender as "Name <email>".
func (m *Message) From() string {
	if m.FromName == "" {
		return m.FromEmail
	}
	return fmt.Sprintf("%s <%s>", m.FromName, m.FromEmail)
}

// ValidateRecipient checks the address format without any network lookup.
func ValidateRecipient(email string) error {
	if err := checkmail.ValidateFormat(strings.TrimSpace(email)); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRecipient, err)
	}
	return nil
}
