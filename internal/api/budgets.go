package api

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
)

// budgetRequest is the JSON request body for upserting a user's channel budget.
type budgetRequest struct {
	MaxChannels int `json:"max_channels"`
}

// budgetResponse is the JSON response for a single user's channel budget.
type budgetResponse struct {
	UserID       int64  `json:"user_id"`
	MaxChannels  int    `json:"max_channels"`
	UsedChannels int    `json:"used_channels"`
	UpdatedAt    string `json:"updated_at"`
}

func parseBudgetUserID(r *http.Request) (int64, error) {
	return strconv.ParseInt(chi.URLParam(r, "userID"), 10, 64)
}

// handleGetBudget returns a user's channel concurrency ceiling and current usage.
func (s *Server) handleGetBudget(w http.ResponseWriter, r *http.Request) {
	userID, err := parseBudgetUserID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid user id")
		return
	}

	budget, err := s.budgets.Get(r.Context(), userID)
	if err != nil {
		slog.Error("get budget: failed to query", "error", err, "user_id", userID)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if budget == nil {
		writeError(w, http.StatusNotFound, "budget not configured")
		return
	}

	writeJSON(w, http.StatusOK, budgetResponse{
		UserID:       budget.UserID,
		MaxChannels:  budget.MaxChannels,
		UsedChannels: budget.UsedChannels,
		UpdatedAt:    budget.UpdatedAt.Format(time.RFC3339),
	})
}

// handleUpsertBudget sets a user's channel concurrency ceiling. It never
// touches UsedChannels, which changes only through the budget repository's
// Reserve/Release/Recompute (campaign create and update, campaign
// completion in the scheduler, and startup recovery).
func (s *Server) handleUpsertBudget(w http.ResponseWriter, r *http.Request) {
	userID, err := parseBudgetUserID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid user id")
		return
	}

	var req budgetRequest
	if errMsg := readJSON(r, &req); errMsg != "" {
		writeError(w, http.StatusBadRequest, errMsg)
		return
	}
	if req.MaxChannels < 0 {
		writeError(w, http.StatusBadRequest, "max_channels must be non-negative")
		return
	}

	if err := s.budgets.Upsert(r.Context(), userID, req.MaxChannels); err != nil {
		slog.Error("upsert budget: failed to save", "error", err, "user_id", userID)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	updated, err := s.budgets.Get(r.Context(), userID)
	if err != nil || updated == nil {
		slog.Error("upsert budget: failed to re-fetch", "error", err, "user_id", userID)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	slog.Info("channel budget updated", "user_id", userID, "max_channels", req.MaxChannels)
	writeJSON(w, http.StatusOK, budgetResponse{
		UserID:       updated.UserID,
		MaxChannels:  updated.MaxChannels,
		UsedChannels: updated.UsedChannels,
		UpdatedAt:    updated.UpdatedAt.Format(time.RFC3339),
	})
}
