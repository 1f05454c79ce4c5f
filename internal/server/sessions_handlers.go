package server

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/agentserver/agentserver/internal/apperr"
	"github.com/agentserver/agentserver/internal/auth"
	"github.com/agentserver/agentserver/internal/session"
)

const defaultMessageTail = 200

// handleSessionMessages answers spec.md §6's "paginated history tail" by
// reading the session's append-only ledger directly off disk — it never
// needs the session to be live in the in-memory Session Manager, so a
// client can page through history for a session that ended or whose
// owning process restarted.
//
// The ledger path is built from the authenticated caller's own user ID,
// not from any ID in the URL, so one user can never read another's
// session history regardless of the {name} path segment.
func (s *Server) handleSessionMessages(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserIDFromContext(r.Context())
	sessionID := chi.URLParam(r, "id")

	limit := defaultMessageTail
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}

	ledger := session.NewLedger(s.Layout, userID, sessionID)
	events, err := ledger.Tail(limit)
	if err != nil {
		writeErr(w, apperr.New(apperr.KindIO, "session_messages", err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"sessionId": sessionID,
		"messages":  events,
	})
}
