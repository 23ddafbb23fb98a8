package api

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/voxdialer/engine/internal/database/models"
)

// userRequest is the JSON request body for creating/updating a user.
type userRequest struct {
	Username    string `json:"username"`
	Role        string `json:"role"`
	Extension   string `json:"extension"`
	MaxChannels int    `json:"max_channels"`
}

// userResponse is the JSON response for a single user.
type userResponse struct {
	ID          int64  `json:"id"`
	Username    string `json:"username"`
	Role        string `json:"role"`
	Extension   string `json:"extension,omitempty"`
	MaxChannels int    `json:"max_channels"`
}

func toUserResponse(u *models.User) userResponse {
	return userResponse{
		ID:          u.ID,
		Username:    u.Username,
		Role:        u.Role,
		Extension:   u.Extension,
		MaxChannels: u.MaxChannels,
	}
}

func parseUserID(r *http.Request) (int64, error) {
	return strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
}

func validateUserRequest(req userRequest) string {
	if req.Username == "" {
		return "username is required"
	}
	if req.Role != "admin" && req.Role != "supervisor" && req.Role != "agent" {
		return `role must be "admin", "supervisor", or "agent"`
	}
	if req.Role == "agent" && req.Extension == "" {
		return "extension is required for agent users"
	}
	if req.MaxChannels < 0 {
		return "max_channels must be non-negative"
	}
	return ""
}

// handleListUsers returns every user with the given role, or every user if
// no role filter is supplied.
func (s *Server) handleListUsers(w http.ResponseWriter, r *http.Request) {
	role := r.URL.Query().Get("role")
	if role == "" {
		// There is no "list all" repository method since the engine never
		// needs a full user directory outside per-role lookups; union the
		// three known roles instead of widening the interface for a rare
		// dashboard-only convenience.
		var all []models.User
		for _, rr := range []string{"admin", "supervisor", "agent"} {
			users, err := s.users.ListByRole(r.Context(), rr)
			if err != nil {
				slog.Error("list users: failed to query", "error", err, "role", rr)
				writeError(w, http.StatusInternalServerError, "internal error")
				return
			}
			all = append(all, users...)
		}
		out := make([]userResponse, len(all))
		for i := range all {
			out[i] = toUserResponse(&all[i])
		}
		writeJSON(w, http.StatusOK, out)
		return
	}

	users, err := s.users.ListByRole(r.Context(), role)
	if err != nil {
		slog.Error("list users: failed to query", "error", err, "role", role)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	out := make([]userResponse, len(users))
	for i := range users {
		out[i] = toUserResponse(&users[i])
	}
	writeJSON(w, http.StatusOK, out)
}

// handleCreateUser creates a new user (campaign owner, supervisor, or agent).
func (s *Server) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	var req userRequest
	if errMsg := readJSON(r, &req); errMsg != "" {
		writeError(w, http.StatusBadRequest, errMsg)
		return
	}
	if errMsg := validateUserRequest(req); errMsg != "" {
		writeError(w, http.StatusBadRequest, errMsg)
		return
	}

	user := &models.User{
		Username:    req.Username,
		Role:        req.Role,
		Extension:   req.Extension,
		MaxChannels: req.MaxChannels,
	}
	if err := s.users.Create(r.Context(), user); err != nil {
		slog.Error("create user: failed to insert", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	slog.Info("user created", "user_id", user.ID, "role", user.Role)
	writeJSON(w, http.StatusCreated, toUserResponse(user))
}

// handleGetUser returns a single user by ID.
func (s *Server) handleGetUser(w http.ResponseWriter, r *http.Request) {
	id, err := parseUserID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid user id")
		return
	}

	user, err := s.users.GetByID(r.Context(), id)
	if err != nil {
		slog.Error("get user: failed to query", "error", err, "user_id", id)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if user == nil {
		writeError(w, http.StatusNotFound, "user not found")
		return
	}

	writeJSON(w, http.StatusOK, toUserResponse(user))
}

// handleUpdateUser updates an existing user's profile.
func (s *Server) handleUpdateUser(w http.ResponseWriter, r *http.Request) {
	id, err := parseUserID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid user id")
		return
	}

	existing, err := s.users.GetByID(r.Context(), id)
	if err != nil {
		slog.Error("update user: failed to query", "error", err, "user_id", id)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if existing == nil {
		writeError(w, http.StatusNotFound, "user not found")
		return
	}

	var req userRequest
	if errMsg := readJSON(r, &req); errMsg != "" {
		writeError(w, http.StatusBadRequest, errMsg)
		return
	}
	if errMsg := validateUserRequest(req); errMsg != "" {
		writeError(w, http.StatusBadRequest, errMsg)
		return
	}

	existing.Username = req.Username
	existing.Role = req.Role
	existing.Extension = req.Extension
	existing.MaxChannels = req.MaxChannels

	if err := s.users.Update(r.Context(), existing); err != nil {
		slog.Error("update user: failed to update", "error", err, "user_id", id)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	slog.Info("user updated", "user_id", id)
	writeJSON(w, http.StatusOK, toUserResponse(existing))
}
