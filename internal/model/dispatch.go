// internal/model/dispatch.go
package model

import (
	"time"

	"github.com/google/uuid"
)

// DispatchResult summarizes what happened to one campaign in a dispatcher run.
type DispatchResult struct {
	CampaignID      uuid.UUID `json:"campaignId"`
	Name            string    `json:"name"`
	Status          string    `json:"status"`
	TotalRecipients int       `json:"totalRecipients"`
	Sent            int       `json:"sent"`
	Failed          int       `json:"failed"`
	SuccessRate     int       `json:"successRate"`
	Error           string    `json:"error,omitempty"`
}

// DispatchEvent is published once a campaign reaches a terminal state.
type DispatchEvent struct {
	CampaignID      uuid.UUID `json:"campaign_id"`
	Name            string    `json:"name"`
	Status          string    `json:"status"`
	TotalRecipients int       `json:"total_recipients"`
	Sent            int       `json:"sent"`
	Failed          int       `json:"failed"`
	At              time.Time `json:"at"`
}
