package api

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/voxdialer/engine/internal/database/models"
)

// contactRequest is the JSON request body for creating a contact.
type contactRequest struct {
	Phone    string `json:"phone"`
	Message  string `json:"message"`
	Sequence int64  `json:"sequence"`
}

// contactResponse is the JSON response for a single contact.
type contactResponse struct {
	ID              int64   `json:"id"`
	CampaignID      int64   `json:"campaign_id"`
	Phone           string  `json:"phone"`
	Message         string  `json:"message"`
	Sequence        int64   `json:"sequence"`
	AttemptCount    int     `json:"attempt_count"`
	CallStatus      string  `json:"call_status"`
	HangupCode      int     `json:"hangup_code"`
	HangupCause     string  `json:"hangup_cause"`
	StartedAt       *string `json:"started_at,omitempty"`
	AnsweredAt      *string `json:"answered_at,omitempty"`
	FinishedAt      *string `json:"finished_at,omitempty"`
	ActiveChannelID string  `json:"active_channel_id,omitempty"`
}

func formatTimePtr(t *time.Time) *string {
	if t == nil {
		return nil
	}
	v := t.Format(time.RFC3339)
	return &v
}

func toContactResponse(c *models.Contact) contactResponse {
	return contactResponse{
		ID:              c.ID,
		CampaignID:      c.CampaignID,
		Phone:           c.Phone,
		Message:         c.Message,
		Sequence:        c.Sequence,
		AttemptCount:    c.AttemptCount,
		CallStatus:      string(c.CallStatus),
		HangupCode:      c.HangupCode,
		HangupCause:     c.HangupCause,
		StartedAt:       formatTimePtr(c.StartedAt),
		AnsweredAt:      formatTimePtr(c.AnsweredAt),
		FinishedAt:      formatTimePtr(c.FinishedAt),
		ActiveChannelID: c.ActiveChannelID,
	}
}

func parseContactID(r *http.Request) (int64, error) {
	return strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
}

// handleListContacts returns every contact belonging to a campaign.
func (s *Server) handleListContacts(w http.ResponseWriter, r *http.Request) {
	campaignID, err := parseCampaignID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid campaign id")
		return
	}

	contacts, err := s.contacts.ListByCampaign(r.Context(), campaignID)
	if err != nil {
		slog.Error("list contacts: failed to query", "error", err, "campaign_id", campaignID)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	out := make([]contactResponse, len(contacts))
	for i := range contacts {
		out[i] = toContactResponse(&contacts[i])
	}
	writeJSON(w, http.StatusOK, out)
}

// handleCreateContact adds a single contact to a campaign.
func (s *Server) handleCreateContact(w http.ResponseWriter, r *http.Request) {
	campaignID, err := parseCampaignID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid campaign id")
		return
	}

	var req contactRequest
	if errMsg := readJSON(r, &req); errMsg != "" {
		writeError(w, http.StatusBadRequest, errMsg)
		return
	}
	if req.Phone == "" {
		writeError(w, http.StatusBadRequest, "phone is required")
		return
	}

	contact := &models.Contact{
		CampaignID: campaignID,
		Phone:      req.Phone,
		Message:    req.Message,
		Sequence:   req.Sequence,
	}
	if err := s.contacts.Create(r.Context(), contact); err != nil {
		slog.Error("create contact: failed to insert", "error", err, "campaign_id", campaignID)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	created, err := s.contacts.GetByID(r.Context(), contact.ID)
	if err != nil || created == nil {
		slog.Error("create contact: failed to re-fetch", "error", err, "contact_id", contact.ID)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	writeJSON(w, http.StatusCreated, toContactResponse(created))
}

// bulkContactRequest is the JSON request body for a bulk contact import.
type bulkContactRequest struct {
	Contacts []contactRequest `json:"contacts"`
}

// handleBulkCreateContacts imports many contacts into a campaign in one
// transaction. Sequence numbers are assigned here, in request order,
// continuing from the campaign's current contact count, so dial order
// across successive bulk imports stays deterministic.
func (s *Server) handleBulkCreateContacts(w http.ResponseWriter, r *http.Request) {
	campaignID, err := parseCampaignID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid campaign id")
		return
	}

	var req bulkContactRequest
	if errMsg := readJSON(r, &req); errMsg != "" {
		writeError(w, http.StatusBadRequest, errMsg)
		return
	}
	if len(req.Contacts) == 0 {
		writeError(w, http.StatusBadRequest, "contacts must not be empty")
		return
	}

	existing, err := s.contacts.ListByCampaign(r.Context(), campaignID)
	if err != nil {
		slog.Error("bulk create contacts: failed to count existing", "error", err, "campaign_id", campaignID)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	nextSequence := int64(len(existing))

	contacts := make([]models.Contact, len(req.Contacts))
	for i, c := range req.Contacts {
		if c.Phone == "" {
			writeError(w, http.StatusBadRequest, "every contact requires a phone number")
			return
		}
		contacts[i] = models.Contact{
			CampaignID: campaignID,
			Phone:      c.Phone,
			Message:    c.Message,
			Sequence:   nextSequence + int64(i),
		}
	}

	if err := s.contacts.BulkCreate(r.Context(), contacts); err != nil {
		slog.Error("bulk create contacts: failed to insert", "error", err, "campaign_id", campaignID)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	slog.Info("contacts bulk imported", "campaign_id", campaignID, "count", len(contacts))
	writeJSON(w, http.StatusCreated, map[string]any{"imported": len(contacts)})
}

// handleGetContact returns a single contact by ID.
func (s *Server) handleGetContact(w http.ResponseWriter, r *http.Request) {
	id, err := parseContactID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid contact id")
		return
	}

	contact, err := s.contacts.GetByID(r.Context(), id)
	if err != nil {
		slog.Error("get contact: failed to query", "error", err, "contact_id", id)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if contact == nil {
		writeError(w, http.StatusNotFound, "contact not found")
		return
	}

	writeJSON(w, http.StatusOK, toContactResponse(contact))
}
