package api

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/voxdialer/engine/internal/database"
	"github.com/voxdialer/engine/internal/database/models"
)

// campaignRequest is the JSON request body for creating/updating a campaign.
type campaignRequest struct {
	OwnerUserID     int64  `json:"owner_user_id"`
	Name            string `json:"name"`
	StartDate       string `json:"start_date"`
	EndDate         string `json:"end_date"`
	MaxRetries      int    `json:"max_retries"`
	ConcurrentCalls int    `json:"concurrent_calls"`
	RetryOnAnswer   bool   `json:"retry_on_answer"`
}

// campaignResponse is the JSON response for a single campaign.
type campaignResponse struct {
	ID              int64  `json:"id"`
	OwnerUserID     int64  `json:"owner_user_id"`
	Name            string `json:"name"`
	StartDate       string `json:"start_date"`
	EndDate         string `json:"end_date"`
	MaxRetries      int    `json:"max_retries"`
	ConcurrentCalls int    `json:"concurrent_calls"`
	RetryOnAnswer   bool   `json:"retry_on_answer"`
	Status          string `json:"status"`
	CreatedAt       string `json:"created_at"`
	UpdatedAt       string `json:"updated_at"`
}

func toCampaignResponse(c *models.Campaign) campaignResponse {
	return campaignResponse{
		ID:              c.ID,
		OwnerUserID:     c.OwnerUserID,
		Name:            c.Name,
		StartDate:       c.StartDate.Format(time.RFC3339),
		EndDate:         c.EndDate.Format(time.RFC3339),
		MaxRetries:      c.MaxRetries,
		ConcurrentCalls: c.ConcurrentCalls,
		RetryOnAnswer:   c.RetryOnAnswer,
		Status:          string(c.Status),
		CreatedAt:       c.CreatedAt.Format(time.RFC3339),
		UpdatedAt:       c.UpdatedAt.Format(time.RFC3339),
	}
}

func parseCampaignID(r *http.Request) (int64, error) {
	return strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
}

// validateCampaignRequest checks required fields for a campaign create/update.
func validateCampaignRequest(req campaignRequest) string {
	if req.OwnerUserID == 0 {
		return "owner_user_id is required"
	}
	if req.Name == "" {
		return "name is required"
	}
	if req.MaxRetries < 0 {
		return "max_retries must be non-negative"
	}
	if req.ConcurrentCalls < 1 {
		return "concurrent_calls must be at least 1"
	}
	return ""
}

// budgetError builds a BudgetError describing why a reservation of n
// channels against ownerUserID was refused, for the client-facing message.
func (s *Server) budgetError(r *http.Request, ownerUserID int64, n int) *database.BudgetError {
	budget, err := s.budgets.Get(r.Context(), ownerUserID)
	if err != nil || budget == nil {
		return &database.BudgetError{Requested: n}
	}
	return &database.BudgetError{Max: budget.MaxChannels, Used: budget.UsedChannels, Requested: n}
}

// handleListCampaigns returns every campaign.
func (s *Server) handleListCampaigns(w http.ResponseWriter, r *http.Request) {
	campaigns, err := s.campaigns.List(r.Context())
	if err != nil {
		slog.Error("list campaigns: failed to query", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	out := make([]campaignResponse, len(campaigns))
	for i := range campaigns {
		out[i] = toCampaignResponse(&campaigns[i])
	}
	writeJSON(w, http.StatusOK, out)
}

// handleCreateCampaign creates a new campaign in SCHEDULED status.
func (s *Server) handleCreateCampaign(w http.ResponseWriter, r *http.Request) {
	var req campaignRequest
	if errMsg := readJSON(r, &req); errMsg != "" {
		writeError(w, http.StatusBadRequest, errMsg)
		return
	}
	if errMsg := validateCampaignRequest(req); errMsg != "" {
		writeError(w, http.StatusBadRequest, errMsg)
		return
	}

	startDate, err := time.Parse(time.RFC3339, req.StartDate)
	if err != nil {
		writeError(w, http.StatusBadRequest, "start_date must be RFC3339")
		return
	}
	endDate, err := time.Parse(time.RFC3339, req.EndDate)
	if err != nil {
		writeError(w, http.StatusBadRequest, "end_date must be RFC3339")
		return
	}
	if !endDate.After(startDate) {
		writeError(w, http.StatusBadRequest, "end_date must be after start_date")
		return
	}

	campaign := &models.Campaign{
		OwnerUserID:     req.OwnerUserID,
		Name:            req.Name,
		StartDate:       startDate,
		EndDate:         endDate,
		MaxRetries:      req.MaxRetries,
		ConcurrentCalls: req.ConcurrentCalls,
		RetryOnAnswer:   req.RetryOnAnswer,
		Status:          models.CampaignScheduled,
	}

	// A campaign is created with its channel budget already reserved for
	// its whole active lifetime; refuse the create outright on overflow
	// rather than accepting a campaign the scheduler could never run.
	reserved, err := s.budgets.Reserve(r.Context(), req.OwnerUserID, req.ConcurrentCalls)
	if err != nil {
		slog.Error("create campaign: failed to reserve channel budget", "error", err, "owner_user_id", req.OwnerUserID)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if !reserved {
		budgetErr := s.budgetError(r, req.OwnerUserID, req.ConcurrentCalls)
		slog.Warn("create campaign: rejected, channel budget exceeded", "owner_user_id", req.OwnerUserID, "error", budgetErr)
		writeError(w, http.StatusConflict, budgetErr.Error())
		return
	}

	if err := s.campaigns.Create(r.Context(), campaign); err != nil {
		slog.Error("create campaign: failed to insert", "error", err)
		if releaseErr := s.budgets.Release(r.Context(), req.OwnerUserID, req.ConcurrentCalls); releaseErr != nil {
			slog.Error("create campaign: failed to release reserved budget after insert failure", "error", releaseErr, "owner_user_id", req.OwnerUserID)
		}
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	created, err := s.campaigns.GetByID(r.Context(), campaign.ID)
	if err != nil || created == nil {
		slog.Error("create campaign: failed to re-fetch", "error", err, "campaign_id", campaign.ID)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	slog.Info("campaign created", "campaign_id", created.ID, "owner_user_id", created.OwnerUserID)
	writeJSON(w, http.StatusCreated, toCampaignResponse(created))
}

// handleGetCampaign returns a single campaign by ID.
func (s *Server) handleGetCampaign(w http.ResponseWriter, r *http.Request) {
	id, err := parseCampaignID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid campaign id")
		return
	}

	campaign, err := s.campaigns.GetByID(r.Context(), id)
	if err != nil {
		slog.Error("get campaign: failed to query", "error", err, "campaign_id", id)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if campaign == nil {
		writeError(w, http.StatusNotFound, "campaign not found")
		return
	}

	writeJSON(w, http.StatusOK, toCampaignResponse(campaign))
}

// handleUpdateCampaign updates an existing campaign's configuration. It
// leaves the status as it is; status transitions are made by the scheduler
// through UpdateStatus, not by this handler.
func (s *Server) handleUpdateCampaign(w http.ResponseWriter, r *http.Request) {
	id, err := parseCampaignID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid campaign id")
		return
	}

	existing, err := s.campaigns.GetByID(r.Context(), id)
	if err != nil {
		slog.Error("update campaign: failed to query", "error", err, "campaign_id", id)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if existing == nil {
		writeError(w, http.StatusNotFound, "campaign not found")
		return
	}

	var req campaignRequest
	if errMsg := readJSON(r, &req); errMsg != "" {
		writeError(w, http.StatusBadRequest, errMsg)
		return
	}
	if errMsg := validateCampaignRequest(req); errMsg != "" {
		writeError(w, http.StatusBadRequest, errMsg)
		return
	}

	startDate, err := time.Parse(time.RFC3339, req.StartDate)
	if err != nil {
		writeError(w, http.StatusBadRequest, "start_date must be RFC3339")
		return
	}
	endDate, err := time.Parse(time.RFC3339, req.EndDate)
	if err != nil {
		writeError(w, http.StatusBadRequest, "end_date must be RFC3339")
		return
	}

	// A campaign still holding its channel budget (SCHEDULED/RUNNING/PAUSED)
	// must re-reserve before any change to who it's billed against or how
	// many channels it holds, so the reservation never drifts from what
	// Recompute would derive from the campaign row itself.
	if existing.Status.IsChannelHolding() &&
		(req.OwnerUserID != existing.OwnerUserID || req.ConcurrentCalls != existing.ConcurrentCalls) {
		reserved, err := s.budgets.Reserve(r.Context(), req.OwnerUserID, req.ConcurrentCalls)
		if err != nil {
			slog.Error("update campaign: failed to reserve channel budget", "error", err, "owner_user_id", req.OwnerUserID)
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		if !reserved {
			budgetErr := s.budgetError(r, req.OwnerUserID, req.ConcurrentCalls)
			slog.Warn("update campaign: rejected, channel budget exceeded", "owner_user_id", req.OwnerUserID, "error", budgetErr)
			writeError(w, http.StatusConflict, budgetErr.Error())
			return
		}
		if err := s.budgets.Release(r.Context(), existing.OwnerUserID, existing.ConcurrentCalls); err != nil {
			slog.Error("update campaign: failed to release prior channel reservation", "error", err, "owner_user_id", existing.OwnerUserID)
		}
	}

	existing.OwnerUserID = req.OwnerUserID
	existing.Name = req.Name
	existing.StartDate = startDate
	existing.EndDate = endDate
	existing.MaxRetries = req.MaxRetries
	existing.ConcurrentCalls = req.ConcurrentCalls
	existing.RetryOnAnswer = req.RetryOnAnswer

	if err := s.campaigns.Update(r.Context(), existing); err != nil {
		slog.Error("update campaign: failed to update", "error", err, "campaign_id", id)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	updated, err := s.campaigns.GetByID(r.Context(), id)
	if err != nil || updated == nil {
		slog.Error("update campaign: failed to re-fetch", "error", err, "campaign_id", id)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	slog.Info("campaign updated", "campaign_id", id)
	writeJSON(w, http.StatusOK, toCampaignResponse(updated))
}

// handleDeleteCampaign removes a campaign. A campaign still holding its
// channel budget (SCHEDULED, RUNNING or PAUSED) is refused with 409; any
// other campaign is deleted.
func (s *Server) handleDeleteCampaign(w http.ResponseWriter, r *http.Request) {
	id, err := parseCampaignID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid campaign id")
		return
	}

	existing, err := s.campaigns.GetByID(r.Context(), id)
	if err != nil {
		slog.Error("delete campaign: failed to query", "error", err, "campaign_id", id)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if existing == nil {
		writeError(w, http.StatusNotFound, "campaign not found")
		return
	}
	if existing.Status.IsChannelHolding() {
		writeError(w, http.StatusConflict, "cancel the campaign before deleting it")
		return
	}

	if err := s.campaigns.Delete(r.Context(), id); err != nil {
		slog.Error("delete campaign: failed to delete", "error", err, "campaign_id", id)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	slog.Info("campaign deleted", "campaign_id", id)
	w.WriteHeader(http.StatusNoContent)
}
