package workspace

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnsureLayoutCreatesFixedTree(t *testing.T) {
	tmp := t.TempDir()
	l := New(tmp)

	require.NoError(t, l.EnsureLayout("u1"))

	for _, sub := range claudeSubdirs {
		dir := filepath.Join(l.ClaudeDir("u1"), sub)
		info, err := os.Stat(dir)
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	}

	// Idempotent: calling again does not error.
	require.NoError(t, l.EnsureLayout("u1"))
}

func TestHostDataDirIsPerUser(t *testing.T) {
	l := New("/srv/workspace")
	assert.Equal(t, "/srv/workspace/users/user_42/data", l.HostDataDir("42"))
}

func TestToContainerPathRejectsEscape(t *testing.T) {
	_, err := ToContainerPath("../etc/passwd")
	require.Error(t, err)

	p, err := ToContainerPath("my-project/src")
	require.NoError(t, err)
	assert.Equal(t, "/workspace/my-project/src", p)
}

func TestToDisplayPathRoundTrips(t *testing.T) {
	p, err := ToDisplayPath("/workspace/my-project")
	require.NoError(t, err)
	assert.Equal(t, "my-project", p)

	back, err := ToContainerPath(p)
	require.NoError(t, err)
	assert.Equal(t, "/workspace/my-project", back)

	_, err = ToDisplayPath("/etc/passwd")
	require.Error(t, err)
}

func TestResolveHostPathRejectsEscape(t *testing.T) {
	l := New(t.TempDir())
	_, err := l.ResolveHostPath("u1", "../../etc/passwd")
	require.Error(t, err)

	p, err := l.ResolveHostPath("u1", ".claude/agents/foo.json")
	require.NoError(t, err)
	assert.Contains(t, p, filepath.Join("user_u1", "data", ".claude", "agents", "foo.json"))
}
