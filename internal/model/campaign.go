// internal/model/campaign.go
package model

import (
	"time"

	"github.com/google/uuid"
)

const (
	CampaignDraft     = "draft"
	CampaignScheduled = "scheduled"
	CampaignSending   = "sending"
	CampaignSent      = "sent"
	CampaignFailed    = "failed"
)

type Campaign struct {
	ID              uuid.UUID          `db:"id" json:"id"`
	Name            string             `db:"name" json:"name"`
	Status          string             `db:"status" json:"status"`
	Subject         string             `db:"subject" json:"subject"`
	HTMLContent     string             `db:"html_content" json:"html_content"`
	TextContent     string             `db:"text_content" json:"text_content"`
	SenderName      string             `db:"sender_name" json:"sender_name"`
	SenderEmail     string             `db:"sender_email" json:"sender_email"`
	ReplyToEmail    string             `db:"reply_to_email" json:"reply_to_email,omitempty"`
	ScheduledAt     *time.Time         `db:"scheduled_at" json:"scheduled_at,omitempty"`
	SentAt          *time.Time         `db:"sent_at" json:"sent_at,omitempty"`
	TotalRecipients int                `db:"total_recipients" json:"total_recipients"`
	EmailsSent      int                `db:"emails_sent" json:"emails_sent"`
	EmailsDelivered int                `db:"emails_delivered" json:"emails_delivered"`
	EmailsBounced   int                `db:"emails_bounced" json:"emails_bounced"`
	CreatedAt       time.Time          `db:"created_at" json:"created_at"`
	UpdatedAt       *time.Time         `db:"updated_at" json:"updated_at,omitempty"`
	Audiences       []CampaignAudience `json:"audiences,omitempty"`
}

// CampaignAudience links a campaign to an audience it targets or excludes.
type CampaignAudience struct {
	AudienceID uuid.UUID `db:"audience_id" json:"audience_id"`
	IsExcluded bool      `db:"is_excluded" json:"is_excluded"`
}

// AudienceIDs splits the campaign's audience links into included and excluded ids.
func (c *Campaign) AudienceIDs() (included, excluded []uuid.UUID) {
	for _, a := range c.Audiences {
		if a.IsExcluded {
			excluded = append(excluded, a.AudienceID)
		} else {
			included = append(included, a.AudienceID)
		}
	}
	return included, excluded
}

// RecentCampaign is the short form returned when nothing is due.
type RecentCampaign struct {
	ID              uuid.UUID  `json:"id"`
	Name            string     `json:"name"`
	Status          string     `json:"status"`
	SentAt          *time.Time `json:"sent_at"`
	TotalRecipients int        `json:"total_recipients"`
	EmailsSent      int        `json:"emails_sent"`
	LastUpdated     *time.Time `json:"last_updated"`
}
