package server

import (
	"encoding/json"
	"net/http"

	"github.com/agentserver/agentserver/internal/apperr"
)

func (s *Server) handleListExtensions(w http.ResponseWriter, r *http.Request) {
	bundle, err := s.Extensions.ListBundle()
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, bundle)
}

type syncAllRequest struct {
	OverwriteUserFiles bool `json:"overwriteUserFiles"`
}

// handleSyncAllExtensions is the admin-triggered fan-out of spec.md §4.2:
// new skill/agent/command/hook files appear under every user's .claude
// tree immediately via the bind-mount, with no container restart.
func (s *Server) handleSyncAllExtensions(w http.ResponseWriter, r *http.Request) {
	var req syncAllRequest
	json.NewDecoder(r.Body).Decode(&req)

	res, err := s.Extensions.SyncAll(req.OverwriteUserFiles)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"total":  res.Total,
		"synced": res.Synced,
		"failed": res.Failed,
		"errors": res.Errors,
	})
}

type syncUserRequest struct {
	UserID             string `json:"userId"`
	OverwriteUserFiles bool   `json:"overwriteUserFiles"`
}

func (s *Server) handleSyncUserExtension(w http.ResponseWriter, r *http.Request) {
	var req syncUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UserID == "" {
		writeErr(w, apperr.New(apperr.KindConfig, "sync_user_extension", errUserIDRequired))
		return
	}
	if err := s.Extensions.SyncOne(req.UserID, req.OverwriteUserFiles); err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
