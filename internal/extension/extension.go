// Package extension copies the managed extension bundle into each user's
// .claude directory on registration and on administrator-triggered pushes.
//
// The teacher's recursive-copy-with-special-handling-per-subtree is
// replaced, per the redesign notes, with a table-driven walk: one rule per
// recognised subtree, applied uniformly instead of branching on name.
package extension

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/agentserver/agentserver/internal/apperr"
	"github.com/agentserver/agentserver/internal/workspace"
)

// subtreeRule describes how one recognised sub-directory of the managed
// bundle is synchronised.
type subtreeRule struct {
	name        string   // e.g. "agents"
	allowedExt  []string // extensions of the subtree's top-level files that are copied
	copyWholeDirs bool   // true for skills/, hooks/, knowledge/: also copy sub-directories verbatim
}

var rules = []subtreeRule{
	{name: "agents", allowedExt: []string{".json"}},
	{name: "commands", allowedExt: []string{".md"}},
	{name: "skills", copyWholeDirs: true},
	{name: "hooks", allowedExt: []string{".js", ".md"}, copyWholeDirs: true},
	{name: "knowledge", allowedExt: []string{".md", ".txt"}, copyWholeDirs: true},
}

// excludedNames are never copied regardless of subtree.
var excludedNames = map[string]bool{
	"README.md": true,
}

// UserLister resolves the set of user IDs to fan a sync over. Implemented
// by internal/db.
type UserLister interface {
	ListUserIDs() ([]string, error)
}

// Locker serialises concurrent syncs for the same user. Implemented by the
// Supervisor's per-user registry, which already owns that lock.
type Locker interface {
	WithUserLock(userID string, fn func() error) error
}

// Synchroniser copies files from bundleDir (the managed source-of-truth
// tree) into each user's .claude directory.
type Synchroniser struct {
	bundleDir string
	layout    *workspace.Layout
	users     UserLister
	locks     Locker
}

func New(bundleDir string, layout *workspace.Layout, users UserLister, locks Locker) *Synchroniser {
	return &Synchroniser{bundleDir: bundleDir, layout: layout, users: users, locks: locks}
}

// Result reports the outcome of a sync_all fan-out.
type Result struct {
	Total  int
	Synced int
	Failed int
	Errors []string
}

// SyncOne copies the managed bundle into host_data_dir(u)/.claude/*,
// overwriting existing files only when overwrite is true. Writes are
// per-file, not atomic at bundle scope: a mid-way failure leaves a
// partially-updated tree that a later sync with the same overwrite flag
// converges.
func (s *Synchroniser) SyncOne(userID string, overwrite bool) error {
	sync := func() error {
		if err := s.layout.EnsureLayout(userID); err != nil {
			return err
		}
		dstClaude := s.layout.ClaudeDir(userID)
		for _, rule := range rules {
			srcSub := filepath.Join(s.bundleDir, rule.name)
			dstSub := filepath.Join(dstClaude, rule.name)
			entries, err := os.ReadDir(srcSub)
			if os.IsNotExist(err) {
				continue
			}
			if err != nil {
				return apperr.New(apperr.KindIO, "sync_one", err)
			}
			for _, entry := range entries {
				if excludedNames[entry.Name()] || isDotfile(entry.Name()) {
					continue
				}
				srcPath := filepath.Join(srcSub, entry.Name())
				dstPath := filepath.Join(dstSub, entry.Name())
				if entry.IsDir() {
					if !rule.copyWholeDirs {
						continue
					}
					if err := copyDirRecursive(srcPath, dstPath, overwrite); err != nil {
						return apperr.New(apperr.KindIO, "sync_one", err)
					}
					continue
				}
				if !hasAllowedExt(entry.Name(), rule.allowedExt) {
					continue
				}
				if err := copyFile(srcPath, dstPath, overwrite); err != nil {
					return apperr.New(apperr.KindIO, "sync_one", err)
				}
			}
		}
		return nil
	}
	if s.locks != nil {
		return s.locks.WithUserLock(userID, sync)
	}
	return sync()
}

// SyncAll fans SyncOne over every known user, bounded concurrency via
// errgroup, and collects a summary. A failure for one user does not stop
// the others.
func (s *Synchroniser) SyncAll(overwrite bool) (Result, error) {
	userIDs, err := s.users.ListUserIDs()
	if err != nil {
		return Result{}, apperr.New(apperr.KindIO, "sync_all", err)
	}

	var (
		mu  sync.Mutex
		res = Result{Total: len(userIDs)}
	)
	g := new(errgroup.Group)
	g.SetLimit(8)
	for _, uid := range userIDs {
		uid := uid
		g.Go(func() error {
			err := s.SyncOne(uid, overwrite)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				res.Failed++
				res.Errors = append(res.Errors, fmt.Sprintf("%s: %v", uid, err))
				log.Printf("extension: sync failed for user %s: %v", uid, err)
			} else {
				res.Synced++
			}
			return nil // per-user failures are reported, not propagated
		})
	}
	_ = g.Wait()
	return res, nil
}

// ListBundle reports, per recognised subtree, the names currently present
// in the managed bundle — used by the Control Surface's read-only
// GET /api/extensions endpoint.
func (s *Synchroniser) ListBundle() (map[string][]string, error) {
	out := make(map[string][]string, len(rules))
	for _, rule := range rules {
		entries, err := os.ReadDir(filepath.Join(s.bundleDir, rule.name))
		if os.IsNotExist(err) {
			out[rule.name] = []string{}
			continue
		}
		if err != nil {
			return nil, apperr.New(apperr.KindIO, "list_bundle", err)
		}
		names := make([]string, 0, len(entries))
		for _, e := range entries {
			if excludedNames[e.Name()] || isDotfile(e.Name()) {
				continue
			}
			names = append(names, e.Name())
		}
		out[rule.name] = names
	}
	return out, nil
}

func hasAllowedExt(name string, exts []string) bool {
	ext := filepath.Ext(name)
	for _, a := range exts {
		if ext == a {
			return true
		}
	}
	return false
}

func isDotfile(name string) bool {
	return len(name) > 0 && name[0] == '.'
}

func copyFile(src, dst string, overwrite bool) error {
	if !overwrite {
		if _, err := os.Stat(dst); err == nil {
			return nil // target exists, skip
		}
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	tmp := dst + ".tmp"
	out, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(tmp)
		return err
	}
	if err := out.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, dst)
}

func copyDirRecursive(src, dst string, overwrite bool) error {
	entries, err := os.ReadDir(src)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dst, 0o755); err != nil {
		return err
	}
	for _, entry := range entries {
		if excludedNames[entry.Name()] || isDotfile(entry.Name()) {
			continue
		}
		srcPath := filepath.Join(src, entry.Name())
		dstPath := filepath.Join(dst, entry.Name())
		if entry.IsDir() {
			if err := copyDirRecursive(srcPath, dstPath, overwrite); err != nil {
				return err
			}
			continue
		}
		if err := copyFile(srcPath, dstPath, overwrite); err != nil {
			return err
		}
	}
	return nil
}
