package supervisor

import (
	"context"
	"log"
	"time"
)

const idleSweepInterval = 5 * time.Minute

// IdleWatcher periodically evicts sandboxes whose owning user has been
// inactive past their tier's idle timeout and has no client-attached
// session (cross-checked with the Session Manager).
type IdleWatcher struct {
	sup      *Supervisor
	sessions SessionChecker
	stop     chan struct{}
}

func NewIdleWatcher(sup *Supervisor, sessions SessionChecker) *IdleWatcher {
	return &IdleWatcher{sup: sup, sessions: sessions, stop: make(chan struct{})}
}

func (w *IdleWatcher) Start() { go w.loop() }

func (w *IdleWatcher) Stop() { close(w.stop) }

func (w *IdleWatcher) loop() {
	ticker := time.NewTicker(idleSweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-w.stop:
			return
		case <-ticker.C:
			w.check()
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			w.sup.SampleMetrics(ctx)
			cancel()
		}
	}
}

func (w *IdleWatcher) check() {
	w.sup.mu.RLock()
	type candidate struct {
		userID string
		e      *entry
	}
	var candidates []candidate
	for userID, e := range w.sup.registry {
		candidates = append(candidates, candidate{userID, e})
	}
	w.sup.mu.RUnlock()

	for _, c := range candidates {
		c.e.mu.Lock()
		status := c.e.status
		lastActive := c.e.lastActiveAt
		rec, err := w.sup.store.GetSandboxByUser(c.userID)
		c.e.mu.Unlock()

		if status != StatusRunning || err != nil || rec == nil {
			continue
		}
		tier, err := LookupTier(rec.Tier)
		if err != nil {
			continue
		}
		if time.Since(lastActive) < tier.IdleTimeout {
			continue
		}
		if w.sessions != nil && w.sessions.HasActiveSession(c.userID) {
			continue
		}

		log.Printf("supervisor: idle watcher evicting sandbox for user %s (idle since %v)", c.userID, lastActive)
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		if err := w.sup.Release(ctx, c.userID); err != nil {
			log.Printf("supervisor: idle eviction failed for user %s: %v", c.userID, err)
		}
		cancel()
	}
}
