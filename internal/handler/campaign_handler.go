// internal/handler/campaign_handler.go
package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	appErrors "github.com/unclebandit/campaign-dispatcher/internal/errors"
	"github.com/unclebandit/campaign-dispatcher/internal/service"
)

// CampaignHandler serves single-campaign lookups
type CampaignHandler struct {
	Service *service.CampaignService
}

// GetCampaignHandlerWithStats returns the campaign with its send records
// counted by status.
func (h *CampaignHandler) GetCampaignHandlerWithStats(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid campaign id")
		return
	}

	details, err := h.Service.GetCampaignDetailsWithStats(r.Context(), id)
	if err != nil {
		if appErrors.IsNotFound(err) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		logrus.WithError(err).WithField("campaign_id", id).Error("Error fetching campaign")
		writeError(w, http.StatusInternalServerError, "failed to fetch campaign: "+err.Error())
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(details)
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
