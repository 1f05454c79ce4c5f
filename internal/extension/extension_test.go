package extension

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentserver/agentserver/internal/workspace"
)

type fakeUserLister struct{ ids []string }

func (f fakeUserLister) ListUserIDs() ([]string, error) { return f.ids, nil }

func writeBundle(t *testing.T, root string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "agents"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "agents", "reviewer.json"), []byte(`{}`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "agents", "README.md"), []byte(`skip me`), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "skills", "code-review"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "skills", "code-review", "SKILL.md"), []byte(`go`), 0o644))
}

func TestSyncOneInstallsAndIsIdempotent(t *testing.T) {
	bundle := t.TempDir()
	writeBundle(t, bundle)
	dataDir := t.TempDir()

	layout := workspace.New(dataDir)
	s := New(bundle, layout, fakeUserLister{}, nil)

	require.NoError(t, s.SyncOne("u1", false))

	agentPath := filepath.Join(layout.ClaudeDir("u1"), "agents", "reviewer.json")
	assert.FileExists(t, agentPath)
	_, err := os.Stat(filepath.Join(layout.ClaudeDir("u1"), "agents", "README.md"))
	assert.True(t, os.IsNotExist(err))

	skillPath := filepath.Join(layout.ClaudeDir("u1"), "skills", "code-review", "SKILL.md")
	assert.FileExists(t, skillPath)

	// User edits the file; a non-overwrite sync must leave it untouched.
	require.NoError(t, os.WriteFile(agentPath, []byte(`{"edited":true}`), 0o644))
	require.NoError(t, s.SyncOne("u1", false))
	content, err := os.ReadFile(agentPath)
	require.NoError(t, err)
	assert.Equal(t, `{"edited":true}`, string(content))

	// Overwrite sync converges back to the bundle content.
	require.NoError(t, s.SyncOne("u1", true))
	content, err = os.ReadFile(agentPath)
	require.NoError(t, err)
	assert.Equal(t, `{}`, string(content))
}

func TestSyncAllReportsPerUserFailuresWithoutAborting(t *testing.T) {
	bundle := t.TempDir()
	writeBundle(t, bundle)
	dataDir := t.TempDir()
	layout := workspace.New(dataDir)
	s := New(bundle, layout, fakeUserLister{ids: []string{"u1", "u2", "u3"}}, nil)

	res, err := s.SyncAll(false)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Total)
	assert.Equal(t, 3, res.Synced)
	assert.Equal(t, 0, res.Failed)
}
