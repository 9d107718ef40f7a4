// internal/controller/campaign_controller.go
package controller

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	appErrors "github.com/unclebandit/campaign-dispatcher/internal/errors"
	"github.com/unclebandit/campaign-dispatcher/internal/service"
)

type CampaignController struct {
	CampaignService *service.CampaignService
}

func (c *CampaignController) PersonalizedPreview(w http.ResponseWriter, r *http.Request) {
	campaignID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid campaign id", "")
		return
	}

	var body struct {
		SubscriberID uuid.UUID `json:"subscriber_id"`
		OverrideHTML *string   `json:"override_html"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body", err.Error())
		return
	}

	preview, err := c.CampaignService.RenderPreview(r.Context(), campaignID, body.SubscriberID, body.OverrideHTML)
	if err != nil {
		if appErrors.IsNotFound(err) {
			writeError(w, http.StatusNotFound, err.Error(), "")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to render preview", err.Error())
		return
	}

	writeJSON(w, http.StatusOK, preview)
}

func (c *CampaignController) ListCampaigns(w http.ResponseWriter, r *http.Request) {
	// Parse query parameters
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	pageSize, _ := strconv.Atoi(r.URL.Query().Get("page_size"))
	status := r.URL.Query().Get("status")

	campaigns, pagination, err := c.CampaignService.ListCampaigns(r.Context(), page, pageSize, status)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to fetch campaigns", err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"data":       campaigns,
		"pagination": pagination, // already contains total_count, total_pages, page, page_size
	})
}
