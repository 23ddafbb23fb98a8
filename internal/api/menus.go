package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/voxdialer/engine/internal/database/models"
)

// menuRequest is the JSON request body for upserting a campaign's post-call
// menu. It mirrors models.PostCallMenu without the campaign-scoped ID and
// timestamp, which the server assigns.
type menuRequest struct {
	Active          bool                `json:"active"`
	Greeting        string              `json:"greeting"`
	QueueMessage    string              `json:"queue_message"`
	ConfirmationMsg string              `json:"confirmation_message"`
	ErrorMessage    string              `json:"error_message"`
	Options         []models.MenuOption `json:"options"`
}

// menuResponse is the JSON response for a campaign's post-call menu.
type menuResponse struct {
	CampaignID      int64               `json:"campaign_id"`
	Active          bool                `json:"active"`
	Greeting        string              `json:"greeting"`
	QueueMessage    string              `json:"queue_message"`
	ConfirmationMsg string              `json:"confirmation_message"`
	ErrorMessage    string              `json:"error_message"`
	Options         []models.MenuOption `json:"options"`
	UpdatedAt       string              `json:"updated_at"`
}

func toMenuResponse(m *models.PostCallMenu) menuResponse {
	return menuResponse{
		CampaignID:      m.CampaignID,
		Active:          m.Active,
		Greeting:        m.Greeting,
		QueueMessage:    m.QueueMessage,
		ConfirmationMsg: m.ConfirmationMsg,
		ErrorMessage:    m.ErrorMessage,
		Options:         m.Options,
		UpdatedAt:       m.UpdatedAt.Format(time.RFC3339),
	}
}

// validateMenuRequest checks that every option has at least a key and
// action, and that each step declares a capture mode.
func validateMenuRequest(req menuRequest) string {
	for _, opt := range req.Options {
		if opt.Key == "" {
			return "every menu option requires a key"
		}
		if opt.Action != models.ActionTransferAgent && opt.Action != models.ActionPaymentCommit {
			return "menu option action must be \"transfer_agent\" or \"payment_commitment\""
		}
		for _, step := range opt.Steps {
			if step.Capture != models.CaptureSingleDigit && step.Capture != models.CaptureNumeric {
				return "step capture must be \"single_digit\" or \"numeric\""
			}
		}
	}
	return ""
}

// handleGetMenu returns a campaign's post-call menu.
func (s *Server) handleGetMenu(w http.ResponseWriter, r *http.Request) {
	campaignID, err := parseCampaignID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid campaign id")
		return
	}

	menu, err := s.menus.GetByCampaign(r.Context(), campaignID)
	if err != nil {
		slog.Error("get menu: failed to query", "error", err, "campaign_id", campaignID)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if menu == nil {
		writeError(w, http.StatusNotFound, "menu not configured")
		return
	}

	writeJSON(w, http.StatusOK, toMenuResponse(menu))
}

// handleUpsertMenu creates or replaces a campaign's post-call menu.
func (s *Server) handleUpsertMenu(w http.ResponseWriter, r *http.Request) {
	campaignID, err := parseCampaignID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid campaign id")
		return
	}

	var req menuRequest
	if errMsg := readJSON(r, &req); errMsg != "" {
		writeError(w, http.StatusBadRequest, errMsg)
		return
	}
	if errMsg := validateMenuRequest(req); errMsg != "" {
		writeError(w, http.StatusBadRequest, errMsg)
		return
	}

	menu := &models.PostCallMenu{
		CampaignID:      campaignID,
		Active:          req.Active,
		Greeting:        req.Greeting,
		QueueMessage:    req.QueueMessage,
		ConfirmationMsg: req.ConfirmationMsg,
		ErrorMessage:    req.ErrorMessage,
		Options:         req.Options,
	}
	if err := s.menus.Upsert(r.Context(), menu); err != nil {
		slog.Error("upsert menu: failed to save", "error", err, "campaign_id", campaignID)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	updated, err := s.menus.GetByCampaign(r.Context(), campaignID)
	if err != nil || updated == nil {
		slog.Error("upsert menu: failed to re-fetch", "error", err, "campaign_id", campaignID)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	slog.Info("campaign menu updated", "campaign_id", campaignID)
	writeJSON(w, http.StatusOK, toMenuResponse(updated))
}

// handleDeleteMenu removes a campaign's post-call menu, reverting the
// campaign to hang up immediately after message playback.
func (s *Server) handleDeleteMenu(w http.ResponseWriter, r *http.Request) {
	campaignID, err := parseCampaignID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid campaign id")
		return
	}

	if err := s.menus.Delete(r.Context(), campaignID); err != nil {
		slog.Error("delete menu: failed to delete", "error", err, "campaign_id", campaignID)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	slog.Info("campaign menu deleted", "campaign_id", campaignID)
	w.WriteHeader(http.StatusNoContent)
}
