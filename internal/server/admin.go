package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/agentserver/agentserver/internal/apperr"
	"github.com/agentserver/agentserver/internal/auth"
)

// requireAdmin mirrors the teacher's middleware shape: a role check layered
// over auth.Middleware, which has already injected the user ID.
func (s *Server) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID := auth.UserIDFromContext(r.Context())
		user, err := s.Auth.GetUserByID(userID)
		if err != nil || user == nil {
			writeErr(w, apperr.New(apperr.KindNotFound, "require_admin", errUserNotFound))
			return
		}
		if user.Role != "admin" {
			writeErr(w, apperr.New(apperr.KindAuth, "require_admin", errForbidden))
			return
		}
		next.ServeHTTP(w, r)
	})
}

type adminUserResponse struct {
	ID        string `json:"id"`
	Username  string `json:"username"`
	Role      string `json:"role"`
	Tier      string `json:"tier"`
	CreatedAt string `json:"createdAt"`
}

func (s *Server) handleAdminListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := s.DB.ListAllUsers()
	if err != nil {
		writeErr(w, apperr.New(apperr.KindIO, "admin_list_users", err))
		return
	}
	resp := make([]adminUserResponse, len(users))
	for i, u := range users {
		resp[i] = adminUserResponse{
			ID:        u.ID,
			Username:  u.Username,
			Role:      u.Role,
			Tier:      u.Tier,
			CreatedAt: u.CreatedAt.Format(time.RFC3339),
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

type updateRoleRequest struct {
	Role string `json:"role"`
}

func (s *Server) handleAdminUpdateUserRole(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req updateRoleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || (req.Role != "admin" && req.Role != "user") {
		writeErr(w, apperr.New(apperr.KindConfig, "admin_update_user_role", errInvalidRole))
		return
	}
	if err := s.DB.UpdateUserRole(id, req.Role); err != nil {
		writeErr(w, apperr.New(apperr.KindIO, "admin_update_user_role", err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
