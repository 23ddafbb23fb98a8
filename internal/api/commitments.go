package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/voxdialer/engine/internal/database/models"
)

// commitmentResponse is the JSON response for a single commitment.
type commitmentResponse struct {
	ID             int64  `json:"id"`
	ContactID      int64  `json:"contact_id"`
	CampaignID     int64  `json:"campaign_id"`
	CommitmentDate string `json:"commitment_date"`
	Source         string `json:"source"`
	AgentUserID    *int64 `json:"agent_user_id,omitempty"`
	Note           string `json:"note"`
	CreatedAt      string `json:"created_at"`
}

func toCommitmentResponse(c *models.Commitment) commitmentResponse {
	return commitmentResponse{
		ID:             c.ID,
		ContactID:      c.ContactID,
		CampaignID:     c.CampaignID,
		CommitmentDate: c.CommitmentDate.Format(time.RFC3339),
		Source:         string(c.Source),
		AgentUserID:    c.AgentUserID,
		Note:           c.Note,
		CreatedAt:      c.CreatedAt.Format(time.RFC3339),
	}
}

// handleListCampaignCommitments returns every commitment captured for a campaign.
func (s *Server) handleListCampaignCommitments(w http.ResponseWriter, r *http.Request) {
	campaignID, err := parseCampaignID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid campaign id")
		return
	}

	commitments, err := s.commitments.ListByCampaign(r.Context(), campaignID)
	if err != nil {
		slog.Error("list campaign commitments: failed to query", "error", err, "campaign_id", campaignID)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	out := make([]commitmentResponse, len(commitments))
	for i := range commitments {
		out[i] = toCommitmentResponse(&commitments[i])
	}
	writeJSON(w, http.StatusOK, out)
}

// handleListContactCommitments returns every commitment captured for a
// single contact, most relevant when a contact has been retried and
// re-promised more than once.
func (s *Server) handleListContactCommitments(w http.ResponseWriter, r *http.Request) {
	contactID, err := parseContactID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid contact id")
		return
	}

	commitments, err := s.commitments.ListByContact(r.Context(), contactID)
	if err != nil {
		slog.Error("list contact commitments: failed to query", "error", err, "contact_id", contactID)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	out := make([]commitmentResponse, len(commitments))
	for i := range commitments {
		out[i] = toCommitmentResponse(&commitments[i])
	}
	writeJSON(w, http.StatusOK, out)
}
