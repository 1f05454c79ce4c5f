package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/agentserver/agentserver/internal/auth"
	"github.com/agentserver/agentserver/internal/db"
	"github.com/agentserver/agentserver/internal/extension"
	"github.com/agentserver/agentserver/internal/session"
	"github.com/agentserver/agentserver/internal/workspace"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	database, err := db.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })

	layout := workspace.New(t.TempDir())
	authSvc := auth.New(database)
	signer := auth.NewTokenSigner("test-signing-key")
	syncer := extension.New(t.TempDir(), layout, database, nil)

	return New(authSvc, database, layout, nil, nil, syncer, signer, nil)
}

func doRequest(t *testing.T, r http.Handler, method, path string, body interface{}, cookie *http.Cookie) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if cookie != nil {
		req.AddCookie(cookie)
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

// registerAndLogin returns the authenticated session cookie for a fresh user.
func registerAndLogin(t *testing.T, s *Server, username string) *http.Cookie {
	t.Helper()
	r := s.Router()

	rec := doRequest(t, r, http.MethodPost, "/api/auth/register", loginRequest{Username: username, Password: "hunter2"}, nil)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = doRequest(t, r, http.MethodPost, "/api/auth/login", loginRequest{Username: username, Password: "hunter2"}, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	for _, c := range rec.Result().Cookies() {
		if c.Name == "agentserver-token" {
			return c
		}
	}
	t.Fatal("login did not set a session cookie")
	return nil
}

func TestHealthz(t *testing.T) {
	s := newTestServer(t)
	rec := doRequest(t, s.Router(), http.MethodGet, "/healthz", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "ok", rec.Body.String())
}

func TestRegisterFirstUserBecomesAdmin(t *testing.T) {
	s := newTestServer(t)
	cookie := registerAndLogin(t, s, "alice")

	rec := doRequest(t, s.Router(), http.MethodGet, "/api/auth/me", nil, cookie)
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "admin", body["role"])
}

func TestLoginRejectsWrongPassword(t *testing.T) {
	s := newTestServer(t)
	r := s.Router()
	rec := doRequest(t, r, http.MethodPost, "/api/auth/register", loginRequest{Username: "bob", Password: "correct"}, nil)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = doRequest(t, r, http.MethodPost, "/api/auth/login", loginRequest{Username: "bob", Password: "wrong"}, nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestMeRequiresAuth(t *testing.T) {
	s := newTestServer(t)
	rec := doRequest(t, s.Router(), http.MethodGet, "/api/auth/me", nil, nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestSettingsRoundTrip(t *testing.T) {
	s := newTestServer(t)
	cookie := registerAndLogin(t, s, "carol")
	r := s.Router()

	rec := doRequest(t, r, http.MethodGet, "/api/users/settings/anthropic", nil, cookie)
	require.Equal(t, http.StatusOK, rec.Code)
	var empty settingsBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &empty))
	require.Empty(t, empty.AllowedTools)

	put := settingsBody{AllowedTools: []string{"Read"}, DisallowedTools: []string{"Bash"}, SkipPermissions: true}
	rec = doRequest(t, r, http.MethodPut, "/api/users/settings/anthropic", put, cookie)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(t, r, http.MethodGet, "/api/users/settings/anthropic", nil, cookie)
	require.Equal(t, http.StatusOK, rec.Code)
	var got settingsBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Equal(t, put, got)
}

func TestMcpServerCRUD(t *testing.T) {
	s := newTestServer(t)
	cookie := registerAndLogin(t, s, "dave")
	r := s.Router()

	create := mcpServerBody{Name: "fs", Type: "stdio", Config: `{"cmd":"mcp-fs"}`, Enabled: true}
	rec := doRequest(t, r, http.MethodPost, "/api/users/mcp-servers", create, cookie)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = doRequest(t, r, http.MethodGet, "/api/users/mcp-servers/fs", nil, cookie)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(t, r, http.MethodGet, "/api/users/mcp-servers/nope", nil, cookie)
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = doRequest(t, r, http.MethodDelete, "/api/users/mcp-servers/fs", nil, cookie)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(t, r, http.MethodGet, "/api/users/mcp-servers/fs", nil, cookie)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMcpServerRejectsInvalidType(t *testing.T) {
	s := newTestServer(t)
	cookie := registerAndLogin(t, s, "erin")

	create := mcpServerBody{Name: "fs", Type: "carrier-pigeon", Config: `{}`}
	rec := doRequest(t, s.Router(), http.MethodPost, "/api/users/mcp-servers", create, cookie)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAdminRoutesRejectNonAdmin(t *testing.T) {
	s := newTestServer(t)
	registerAndLogin(t, s, "admin1") // first user, becomes admin
	secondCookie := registerAndLogin(t, s, "plain")

	rec := doRequest(t, s.Router(), http.MethodGet, "/api/admin/users", nil, secondCookie)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAdminCanListAndPromoteUsers(t *testing.T) {
	s := newTestServer(t)
	adminCookie := registerAndLogin(t, s, "admin2")
	registerAndLogin(t, s, "regular")
	r := s.Router()

	rec := doRequest(t, r, http.MethodGet, "/api/admin/users", nil, adminCookie)
	require.Equal(t, http.StatusOK, rec.Code)
	var users []adminUserResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &users))
	require.Len(t, users, 2)

	var regularID string
	for _, u := range users {
		if u.Username == "regular" {
			regularID = u.ID
		}
	}
	require.NotEmpty(t, regularID)

	rec = doRequest(t, r, http.MethodPut, "/api/admin/users/"+regularID+"/role", updateRoleRequest{Role: "admin"}, adminCookie)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestSessionMessagesScopedToCaller(t *testing.T) {
	s := newTestServer(t)
	cookie := registerAndLogin(t, s, "frank")

	// Another user's history under the same session ID must not be served.
	other := session.NewLedger(s.Layout, "someone-else", "sess-1")
	require.NoError(t, other.Append(session.Event{Kind: session.KindUser, Payload: "not yours"}))

	rec := doRequest(t, s.Router(), http.MethodGet, "/api/projects/foo/sessions/sess-1/messages", nil, cookie)
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "sess-1", body["sessionId"])
	require.Empty(t, body["messages"])
}

func TestListExtensionsEmptyBundle(t *testing.T) {
	s := newTestServer(t)
	cookie := registerAndLogin(t, s, "gina")

	rec := doRequest(t, s.Router(), http.MethodGet, "/api/extensions", nil, cookie)
	require.Equal(t, http.StatusOK, rec.Code)
}
