// Package workspace owns the on-disk directory convention for each user's
// bind-mounted data tree and translates between host paths and the
// container-relative paths clients are shown.
package workspace

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/agentserver/agentserver/internal/apperr"
)

// ContainerHome is the fixed mount point of a user's data directory inside
// the sandbox; HOME is set to this path for the container process.
const ContainerHome = "/workspace"

// claudeSubdirs are created under .claude on every ensure_layout call.
var claudeSubdirs = []string{"agents", "commands", "skills", "hooks", "knowledge", "sessions"}

// Layout resolves host-vs-container paths for a single user's data tree,
// rooted at <dataDir>/users/user_<id>/data.
type Layout struct {
	dataDir string
}

// New returns a Layout rooted at dataDir, the value of $WORKSPACE_DIR.
func New(dataDir string) *Layout {
	return &Layout{dataDir: dataDir}
}

// HostDataDir returns the absolute host path bind-mounted to
// ContainerHome for userID.
func (l *Layout) HostDataDir(userID string) string {
	return filepath.Join(l.dataDir, "users", "user_"+userID, "data")
}

// EnsureLayout idempotently creates the fixed subdirectory tree for
// userID. Safe under concurrent callers since mkdir is create-on-missing.
func (l *Layout) EnsureLayout(userID string) error {
	root := l.HostDataDir(userID)
	claudeDir := filepath.Join(root, ".claude")
	dirs := make([]string, 0, len(claudeSubdirs)+1)
	dirs = append(dirs, root)
	for _, sub := range claudeSubdirs {
		dirs = append(dirs, filepath.Join(claudeDir, sub))
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			if os.IsExist(err) {
				continue
			}
			if isDiskFull(err) {
				return apperr.New(apperr.KindIO, "ensure_layout", fmt.Errorf("disk full creating %s: %w", dir, err))
			}
			return apperr.New(apperr.KindIO, "ensure_layout", err)
		}
	}
	return nil
}

// ClaudeDir returns the host path of a user's .claude directory.
func (l *Layout) ClaudeDir(userID string) string {
	return filepath.Join(l.HostDataDir(userID), ".claude")
}

// SessionsDir returns the host path of a user's session history ledger
// directory, .claude/sessions.
func (l *Layout) SessionsDir(userID string) string {
	return filepath.Join(l.ClaudeDir(userID), "sessions")
}

// ToContainerPath resolves a project-relative path against ContainerHome,
// rejecting anything that escapes it after lexical cleaning.
func ToContainerPath(projectPath string) (string, error) {
	if projectPath == "" {
		return ContainerHome, nil
	}
	joined := filepath.Join(ContainerHome, projectPath)
	cleaned := filepath.Clean(joined)
	if cleaned != ContainerHome && !strings.HasPrefix(cleaned, ContainerHome+"/") {
		return "", apperr.New(apperr.KindIO, "to_container_path", fmt.Errorf("path traversal: %q escapes %s", projectPath, ContainerHome))
	}
	return cleaned, nil
}

// ToDisplayPath strips ContainerHome from an absolute container path,
// returning the project-relative portion shown to clients.
func ToDisplayPath(containerPath string) (string, error) {
	cleaned := filepath.Clean(containerPath)
	if cleaned == ContainerHome {
		return "", nil
	}
	if !strings.HasPrefix(cleaned, ContainerHome+"/") {
		return "", apperr.New(apperr.KindIO, "to_display_path", fmt.Errorf("path traversal: %q escapes %s", containerPath, ContainerHome))
	}
	return strings.TrimPrefix(cleaned, ContainerHome+"/"), nil
}

// ResolveHostPath joins a user-relative path onto the user's host data
// directory, rejecting escapes the same way ToContainerPath does, for
// callers that need the real filesystem location.
func (l *Layout) ResolveHostPath(userID, relPath string) (string, error) {
	root := l.HostDataDir(userID)
	joined := filepath.Join(root, relPath)
	cleaned := filepath.Clean(joined)
	if cleaned != root && !strings.HasPrefix(cleaned, root+string(filepath.Separator)) {
		return "", apperr.New(apperr.KindIO, "resolve_host_path", fmt.Errorf("path traversal: %q escapes %s", relPath, root))
	}
	return cleaned, nil
}

// DiskUsage sums the apparent size of every regular file under userID's
// host data directory, feeding the disk_used field of SandboxMetric
// (spec.md §3). A missing directory reports zero rather than an error,
// since a user with no sandbox yet provisioned has nothing to measure.
func (l *Layout) DiskUsage(userID string) (int64, error) {
	var total int64
	root := l.HostDataDir(userID)
	err := filepath.Walk(root, func(_ string, info os.FileInfo, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if !info.IsDir() {
			total += info.Size()
		}
		return nil
	})
	if err != nil && !os.IsNotExist(err) {
		return 0, apperr.New(apperr.KindIO, "disk_usage", err)
	}
	return total, nil
}

func isDiskFull(err error) bool {
	return strings.Contains(err.Error(), "no space left on device")
}
