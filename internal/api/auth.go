package api

import (
	"net/http"
	"time"

	"github.com/voxdialer/engine/internal/api/middleware"
)

// issueTokenRequest is the request body for minting a dashboard bearer
// token. The engine holds no passwords of its own (see models.User); the
// provisioning layer authenticates the operator by whatever means it
// likes and then calls this internal-secret-guarded endpoint to mint the
// token the dashboard actually uses.
type issueTokenRequest struct {
	UserID int64  `json:"user_id"`
	Role   string `json:"role"`
}

type issueTokenResponse struct {
	Token     string `json:"token"`
	ExpiresAt string `json:"expires_at"`
}

// handleIssueToken mints a dashboard JWT for a known user/role pair.
func (s *Server) handleIssueToken(w http.ResponseWriter, r *http.Request) {
	var req issueTokenRequest
	if errMsg := readJSON(r, &req); errMsg != "" {
		writeError(w, http.StatusBadRequest, errMsg)
		return
	}
	if req.UserID == 0 {
		writeError(w, http.StatusBadRequest, "user_id is required")
		return
	}
	if req.Role != "admin" && req.Role != "supervisor" && req.Role != "agent" {
		writeError(w, http.StatusBadRequest, `role must be "admin", "supervisor", or "agent"`)
		return
	}

	user, err := s.users.GetByID(r.Context(), req.UserID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if user == nil {
		writeError(w, http.StatusNotFound, "user not found")
		return
	}

	token, expiresAt, err := middleware.GenerateDashboardToken(s.jwtSecret, user.ID, req.Role)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to mint token")
		return
	}

	writeJSON(w, http.StatusOK, issueTokenResponse{
		Token:     token,
		ExpiresAt: expiresAt.Format(time.RFC3339),
	})
}

// authenticateWebsocket validates the dashboard bearer token passed as the
// "token" query parameter and reports the authenticated user ID and
// whether that user holds a role that should see every campaign's events.
func (s *Server) authenticateWebsocket(r *http.Request) (userID int64, isAdmin bool, ok bool) {
	token := r.URL.Query().Get("token")
	if token == "" {
		return 0, false, false
	}
	claims, err := middleware.ParseDashboardToken(s.jwtSecret, token)
	if err != nil {
		return 0, false, false
	}
	return claims.UserID, claims.Role == "admin" || claims.Role == "supervisor", true
}
