package server

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/agentserver/agentserver/internal/apperr"
	"github.com/agentserver/agentserver/internal/auth"
	"github.com/agentserver/agentserver/internal/db"
)

type settingsBody struct {
	AllowedTools    []string `json:"allowedTools"`
	DisallowedTools []string `json:"disallowedTools"`
	SkipPermissions bool     `json:"skipPermissions"`
}

func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserIDFromContext(r.Context())
	provider := chi.URLParam(r, "provider")

	rec, err := s.DB.GetUserSettings(userID, provider)
	if err != nil {
		writeErr(w, apperr.New(apperr.KindIO, "get_settings", err))
		return
	}
	if rec == nil {
		writeJSON(w, http.StatusOK, settingsBody{AllowedTools: []string{}, DisallowedTools: []string{}})
		return
	}
	writeJSON(w, http.StatusOK, settingsBody{
		AllowedTools:    rec.AllowedTools,
		DisallowedTools: rec.DisallowedTools,
		SkipPermissions: rec.SkipPermissions,
	})
}

// handlePutSettings upserts UserSettings, which the Stream Multiplexer
// reads through db.ExecEnv when each command starts — edits here take
// effect on the user's next command, never mid-command, per spec.md §4.7.
func (s *Server) handlePutSettings(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserIDFromContext(r.Context())
	provider := chi.URLParam(r, "provider")

	var body settingsBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeErr(w, apperr.New(apperr.KindConfig, "put_settings", err))
		return
	}
	if body.AllowedTools == nil {
		body.AllowedTools = []string{}
	}
	if body.DisallowedTools == nil {
		body.DisallowedTools = []string{}
	}

	rec := &db.UserSettings{
		UserID:          userID,
		Provider:        provider,
		AllowedTools:    body.AllowedTools,
		DisallowedTools: body.DisallowedTools,
		SkipPermissions: body.SkipPermissions,
	}
	if err := s.DB.PutUserSettings(rec); err != nil {
		writeErr(w, apperr.New(apperr.KindIO, "put_settings", err))
		return
	}
	writeJSON(w, http.StatusOK, body)
}

// handleSettingsDefaults answers spec.md §6's "fixed defaults from §9"
// endpoint: since resource tiers are contractual (spec.md §4.4) and not
// stored per-system, only UserSettings defaults are resolved here, reusing
// the teacher's env-override-then-hardcoded resolution chain shape from
// quota.go, narrowed to the two layers the new schema actually has.
func (s *Server) handleSettingsDefaults(w http.ResponseWriter, r *http.Request) {
	provider := chi.URLParam(r, "provider")
	writeJSON(w, http.StatusOK, defaultSettingsFor(provider))
}
