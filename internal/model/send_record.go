// internal/model/send_record.go
package model

import (
	"time"

	"github.com/google/uuid"
)

const (
	SendPending = "pending"
	SendSent    = "sent"
	SendFailed  = "failed"
)

// SendRecord is the per-recipient audit row of one campaign dispatch.
type SendRecord struct {
	ID           uuid.UUID `db:"id" json:"id"`
	CampaignID   uuid.UUID `db:"campaign_id" json:"campaign_id"`
	SubscriberID uuid.UUID `db:"subscriber_id" json:"subscriber_id"`
	Email        string    `db:"email" json:"email"`
	Status       string    `db:"status" json:"status"` // pending, sent, failed
	MessageID    string    `db:"message_id" json:"message_id,omitempty"`
	Error        string    `db:"error" json:"error,omitempty"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time `db:"updated_at" json:"updated_at"`
}
