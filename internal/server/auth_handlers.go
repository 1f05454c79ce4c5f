package server

import (
	"encoding/json"
	"log"
	"net/http"

	"github.com/google/uuid"

	"github.com/agentserver/agentserver/internal/apperr"
	"github.com/agentserver/agentserver/internal/auth"
)

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// handleLogin verifies credentials, sets the HTTP cookie session, and
// issues the signed WebSocket bearer token the client attaches to its
// `/ws` connection's query string, per spec.md §6.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, apperr.New(apperr.KindConfig, "login", err))
		return
	}

	cookieToken, userID, ok := s.Auth.Login(req.Username, req.Password)
	if !ok {
		writeErr(w, apperr.New(apperr.KindAuth, "login", errInvalidCredentials))
		return
	}
	user, err := s.Auth.GetUserByID(userID)
	if err != nil || user == nil {
		writeErr(w, apperr.New(apperr.KindAuth, "login", errInvalidCredentials))
		return
	}

	wsToken, err := s.TokenSigner.IssueWSToken(user.ID, user.Tier)
	if err != nil {
		writeErr(w, apperr.New(apperr.KindIO, "login", err))
		return
	}

	containerReady := false
	if rec, err := s.DB.GetSandboxByUser(user.ID); err == nil && rec != nil {
		containerReady = rec.Status == "running"
	}

	auth.SetTokenCookie(w, cookieToken)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"token":          wsToken,
		"containerReady": containerReady,
		"workspacePath":  "/workspace",
	})
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Username == "" || req.Password == "" {
		writeErr(w, apperr.New(apperr.KindConfig, "register", errUsernameAndPasswordRequired))
		return
	}

	existing, err := s.Auth.GetUserByUsername(req.Username)
	if err != nil {
		writeErr(w, apperr.New(apperr.KindIO, "register", err))
		return
	}
	if existing != nil {
		writeErr(w, apperr.New(apperr.KindConfig, "register", errUsernameTaken))
		return
	}

	id := uuid.New().String()
	if err := s.Auth.Register(id, req.Username, req.Password); err != nil {
		log.Printf("server: register failed for %q: %v", req.Username, err)
		writeErr(w, apperr.New(apperr.KindIO, "register", err))
		return
	}

	// First registered user becomes admin, same bootstrap rule as the teacher.
	if count, err := s.DB.CountUsers(); err == nil && count == 1 {
		if err := s.DB.UpdateUserRole(id, "admin"); err != nil {
			log.Printf("server: failed to promote first user to admin: %v", err)
		}
	}

	writeJSON(w, http.StatusCreated, map[string]string{"id": id, "username": req.Username})
}

func (s *Server) handleAuthCheck(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.Auth.ValidateRequest(r); !ok {
		writeErr(w, apperr.New(apperr.KindAuth, "auth_check", errUnauthorized))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     "agentserver-token",
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserIDFromContext(r.Context())
	user, err := s.Auth.GetUserByID(userID)
	if err != nil || user == nil {
		writeErr(w, apperr.New(apperr.KindNotFound, "me", errUserNotFound))
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"id":       user.ID,
		"username": user.Username,
		"role":     user.Role,
		"tier":     user.Tier,
	})
}
