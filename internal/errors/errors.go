// internal/errors/errors.go
package appErrors

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// ErrNotConfigured is returned when a provider (database, mail) has no credentials.
var ErrNotConfigured = errors.New("provider not configured")

// ErrCampaignNotFound is returned when a campaign id matches no row
type ErrCampaignNotFound struct {
	CampaignID uuid.UUID
}

func (e *ErrCampaignNotFound) Error() string {
	return fmt.Sprintf("campaign with ID %s not found", e.CampaignID)
}

// Helper constructor
func NewCampaignNotFound(id uuid.UUID) error {
	return &ErrCampaignNotFound{CampaignID: id}
}

// ErrSubscriberNotFound is returned when a subscriber id matches no row
type ErrSubscriberNotFound struct {
	SubscriberID uuid.UUID
}

func (e *ErrSubscriberNotFound) Error() string {
	return fmt.Sprintf("subscriber with ID %s not found", e.SubscriberID)
}

func NewSubscriberNotFound(id uuid.UUID) error {
	return &ErrSubscriberNotFound{SubscriberID: id}
}

// IsNotFound reports whether err is one of the typed not-found errors.
func IsNotFound(err error) bool {
	var c *ErrCampaignNotFound
	var s *ErrSubscriberNotFound
	return errors.As(err, &c) || errors.As(err, &s)
}
