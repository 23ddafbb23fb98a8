package api

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/voxdialer/engine/internal/agents"
	"github.com/voxdialer/engine/internal/database/models"
)

// agentStateResponse is the JSON response for one agent's live dispatcher state.
type agentStateResponse struct {
	AgentID         int64  `json:"agent_id"`
	Extension       string `json:"extension"`
	Status          string `json:"status"`
	ActiveCalls     int    `json:"active_calls"`
	ActiveChannel   string `json:"active_channel,omitempty"`
	LastAssignedAt  string `json:"last_assigned_at,omitempty"`
	TotalCallsToday int    `json:"total_calls_today"`
	CurrentContact  *int64 `json:"current_contact,omitempty"`
}

func toAgentStateResponse(a *agents.AgentState) agentStateResponse {
	resp := agentStateResponse{
		AgentID:         a.AgentID,
		Extension:       a.Extension,
		Status:          string(a.Status),
		ActiveCalls:     a.ActiveCalls,
		ActiveChannel:   a.ActiveChannel,
		TotalCallsToday: a.TotalCallsToday,
		CurrentContact:  a.CurrentContact,
	}
	if !a.LastAssignedAt.IsZero() {
		resp.LastAssignedAt = a.LastAssignedAt.Format(time.RFC3339)
	}
	return resp
}

func parseAgentID(r *http.Request) (int64, error) {
	return strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
}

// handleListAgents returns the live state of every registered agent.
func (s *Server) handleListAgents(w http.ResponseWriter, r *http.Request) {
	snapshot := s.dispatcher.Snapshot()
	out := make([]agentStateResponse, len(snapshot))
	for i := range snapshot {
		out[i] = toAgentStateResponse(&snapshot[i])
	}
	writeJSON(w, http.StatusOK, out)
}

// registerAgentRequest is the JSON request body for registering an agent
// extension with the dispatcher.
type registerAgentRequest struct {
	Extension string `json:"extension"`
}

// handleRegisterAgent registers an agent's SIP extension with the
// dispatcher so it becomes eligible to receive transferred calls.
func (s *Server) handleRegisterAgent(w http.ResponseWriter, r *http.Request) {
	agentID, err := parseAgentID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid agent id")
		return
	}

	var req registerAgentRequest
	if errMsg := readJSON(r, &req); errMsg != "" {
		writeError(w, http.StatusBadRequest, errMsg)
		return
	}
	if req.Extension == "" {
		writeError(w, http.StatusBadRequest, "extension is required")
		return
	}

	s.dispatcher.RegisterAgent(agentID, req.Extension)
	slog.Info("agent registered", "agent_id", agentID, "extension", req.Extension)
	w.WriteHeader(http.StatusNoContent)
}

// setAgentStatusRequest is the JSON request body for an agent status change.
type setAgentStatusRequest struct {
	Status string `json:"status"`
}

// handleSetAgentStatus transitions an agent between AVAILABLE, ON_CALL,
// BREAK, and OFFLINE.
func (s *Server) handleSetAgentStatus(w http.ResponseWriter, r *http.Request) {
	agentID, err := parseAgentID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid agent id")
		return
	}

	var req setAgentStatusRequest
	if errMsg := readJSON(r, &req); errMsg != "" {
		writeError(w, http.StatusBadRequest, errMsg)
		return
	}

	status := agents.Status(req.Status)
	switch status {
	case agents.StatusAvailable, agents.StatusOnCall, agents.StatusBreak, agents.StatusOffline:
	default:
		writeError(w, http.StatusBadRequest, "status must be AVAILABLE, ON_CALL, BREAK, or OFFLINE")
		return
	}

	if err := s.dispatcher.SetStatus(r.Context(), agentID, status); err != nil {
		slog.Error("set agent status: dispatcher rejected transition", "error", err, "agent_id", agentID, "status", status)
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	slog.Info("agent status changed", "agent_id", agentID, "status", status)
	w.WriteHeader(http.StatusNoContent)
}

// spyResponse carries the spy channel ID a supervisor should bridge into.
type spyResponse struct {
	SpyChannelID string `json:"spy_channel_id"`
}

// handleSpyAgent originates a one-way monitoring channel bridged into an
// agent's active call, for supervisor call listening.
func (s *Server) handleSpyAgent(w http.ResponseWriter, r *http.Request) {
	agentID, err := parseAgentID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid agent id")
		return
	}

	spyChannelID, err := s.dispatcher.SpyCall(r.Context(), agentID)
	if err != nil {
		slog.Error("spy agent: failed to originate monitor channel", "error", err, "agent_id", agentID)
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	slog.Info("supervisor spy started", "agent_id", agentID, "spy_channel_id", spyChannelID)
	writeJSON(w, http.StatusOK, spyResponse{SpyChannelID: spyChannelID})
}

// handleStopSpy tears down a supervisor monitoring channel.
func (s *Server) handleStopSpy(w http.ResponseWriter, r *http.Request) {
	spyChannelID := chi.URLParam(r, "channelID")
	if spyChannelID == "" {
		writeError(w, http.StatusBadRequest, "invalid spy channel id")
		return
	}

	if err := s.dispatcher.StopSpy(r.Context(), spyChannelID); err != nil {
		slog.Error("stop spy: failed to tear down monitor channel", "error", err, "spy_channel_id", spyChannelID)
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	slog.Info("supervisor spy stopped", "spy_channel_id", spyChannelID)
	w.WriteHeader(http.StatusNoContent)
}

// agentEventResponse is the JSON response for one dispatcher lifecycle event.
type agentEventResponse struct {
	ID         int64  `json:"id"`
	Type       string `json:"type"`
	AgentID    int64  `json:"agent_id"`
	ContactID  *int64 `json:"contact_id,omitempty"`
	CampaignID *int64 `json:"campaign_id,omitempty"`
	Detail     string `json:"detail,omitempty"`
	CreatedAt  string `json:"created_at"`
}

func toAgentEventResponse(e *models.AgentEvent) agentEventResponse {
	return agentEventResponse{
		ID:         e.ID,
		Type:       string(e.Type),
		AgentID:    e.AgentID,
		ContactID:  e.ContactID,
		CampaignID: e.CampaignID,
		Detail:     e.Detail,
		CreatedAt:  e.CreatedAt.Format(time.RFC3339),
	}
}

// handleListAgentEvents returns an agent's recent dispatcher lifecycle
// history: assignments, breaks and the other dispatcher events recorded
// against that agent.
func (s *Server) handleListAgentEvents(w http.ResponseWriter, r *http.Request) {
	agentID, err := parseAgentID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid agent id")
		return
	}

	pagination, errMsg := parsePagination(r)
	if errMsg != "" {
		writeError(w, http.StatusBadRequest, errMsg)
		return
	}

	events, err := s.agentEvents.ListByAgent(r.Context(), agentID, pagination.Limit)
	if err != nil {
		slog.Error("list agent events: failed to query", "error", err, "agent_id", agentID)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	out := make([]agentEventResponse, len(events))
	for i := range events {
		out[i] = toAgentEventResponse(&events[i])
	}
	writeJSON(w, http.StatusOK, out)
}
