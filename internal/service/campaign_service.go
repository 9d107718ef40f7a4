// internal/service/campaign_service.go
package service

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/unclebandit/campaign-dispatcher/internal/model"
	"github.com/unclebandit/campaign-dispatcher/internal/personalize"
	"github.com/unclebandit/campaign-dispatcher/internal/repository"
)

// CampaignService serves the read-side endpoints: listing, details and
// personalized previews.
type CampaignService struct {
	CampaignRepo repository.CampaignRepositoryInterface
	AudienceRepo repository.AudienceRepositoryInterface
	Layout       *LayoutRenderer
	Personalizer *personalize.Personalizer
}

type CampaignDetails struct {
	*model.Campaign
	Stats map[string]int `json:"stats"`
}

// Preview is a rendered email for one subscriber. Nothing is sent.
type Preview struct {
	CampaignID   uuid.UUID `json:"campaign_id"`
	SubscriberID uuid.UUID `json:"subscriber_id"`
	To           string    `json:"to"`
	Subject      string    `json:"subject"`
	HTML         string    `json:"html"`
	Text         string    `json:"text"`
}

// RenderPreview renders the campaign for a subscriber. A non-empty
// overrideHTML replaces the stored content.
func (s *CampaignService) RenderPreview(ctx context.Context, campaignID, subscriberID uuid.UUID, overrideHTML *string) (*Preview, error) {
	campaign, err := s.CampaignRepo.GetByID(ctx, campaignID)
	if err != nil {
		return nil, err
	}

	subscriber, err := s.AudienceRepo.SubscriberByID(ctx, subscriberID)
	if err != nil {
		return nil, err
	}

	if overrideHTML != nil && strings.TrimSpace(*overrideHTML) != "" {
		c := *campaign
		c.HTMLContent = *overrideHTML
		campaign = &c
	}

	base, err := s.Layout.Render(campaign)
	if err != nil {
		return nil, err
	}

	return &Preview{
		CampaignID:   campaign.ID,
		SubscriberID: subscriber.ID,
		To:           subscriber.Email,
		Subject:      s.Personalizer.Personalize(base.Subject, subscriber),
		HTML:         s.Personalizer.Personalize(base.HTML, subscriber),
		Text:         s.Personalizer.Personalize(base.Text, subscriber),
	}, nil
}

// ListCampaigns fetches campaigns with pagination
func (s *CampaignService) ListCampaigns(ctx context.Context, page, pageSize int, status string) ([]model.Campaign, map[string]int, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 20
	}
	if pageSize > 100 {
		pageSize = 100
	}
	offset := (page - 1) * pageSize

	ptrs, total, err := s.CampaignRepo.ListCampaigns(ctx, offset, pageSize, status)
	if err != nil {
		return nil, nil, err
	}

	campaigns := make([]model.Campaign, len(ptrs))
	for i, c := range ptrs {
		campaigns[i] = *c
	}

	totalPages := (total + pageSize - 1) / pageSize
	pagination := map[string]int{
		"page":        page,
		"page_size":   pageSize,
		"total_count": total,
		"total_pages": totalPages,
	}

	return campaigns, pagination, nil
}

func (s *CampaignService) GetCampaignDetailsWithStats(ctx context.Context, campaignID uuid.UUID) (*CampaignDetails, error) {
	campaign, err := s.CampaignRepo.GetByID(ctx, campaignID)
	if err != nil {
		return nil, err
	}

	stats, err := s.CampaignRepo.GetSendStats(ctx, campaignID)
	if err != nil {
		logrus.WithError(err).WithField("campaign_id", campaignID).Error("Failed to load send stats")
		return nil, err
	}

	return &CampaignDetails{Campaign: campaign, Stats: stats}, nil
}
