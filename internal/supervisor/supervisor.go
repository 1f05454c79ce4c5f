// Package supervisor is the central sandbox state machine: the per-user
// {user → container handle} registry, warm-pool acquisition, readiness
// polling, idle eviction, and crash-recovery reconciliation.
//
// It generalises the teacher's internal/sbxstore (persisted-record store
// plus idle watcher) merged with internal/sandbox.Manager's acquire/adopt
// flow, narrowed to the single local Docker engine this spec mandates.
package supervisor

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/agentserver/agentserver/internal/apperr"
	"github.com/agentserver/agentserver/internal/extension"
	"github.com/agentserver/agentserver/internal/sandboxdriver"
	"github.com/agentserver/agentserver/internal/workspace"
)

// Status constants for sandbox lifecycle, per spec.md §3.
const (
	StatusAbsent   = "absent"
	StatusCreating = "creating"
	StatusRunning  = "running"
	StatusStopped  = "stopped"
	StatusRemoving = "removing"
	StatusRemoved  = "removed"
	StatusFailed   = "failed"
)

// ValidTransition reports whether a status transition is allowed.
func ValidTransition(from, to string) bool {
	switch from {
	case StatusAbsent, "":
		return to == StatusCreating
	case StatusCreating:
		return to == StatusRunning || to == StatusFailed || to == StatusRemoving
	case StatusRunning:
		return to == StatusStopped || to == StatusRemoving || to == StatusFailed
	case StatusStopped:
		return to == StatusRunning || to == StatusRemoving || to == StatusFailed
	case StatusFailed:
		return to == StatusCreating || to == StatusRemoving
	case StatusRemoving:
		return to == StatusRemoved
	default:
		return false
	}
}

// Record is the persisted SandboxRecord of spec.md §3.
type Record struct {
	UserID       string
	EngineID     string
	Name         string
	Status       string
	Tier         string
	CreatedAt    time.Time
	LastActiveAt time.Time
}

// Store persists SandboxRecords. Implemented by internal/db.
type Store interface {
	GetSandboxByUser(userID string) (*Record, error)
	CreateSandbox(userID, engineID, name, tier string) (*Record, error)
	UpdateSandboxStatus(userID, status string) error
	UpdateSandboxEngineID(userID, engineID string) error
	UpdateSandboxActivity(userID string) error
	DeleteSandbox(userID string) error
	ListRunningSandboxes() ([]*Record, error)
	RecordMetric(engineID string, cpuPct float64, memUsed, memLimit, diskUsed int64) error
	PruneMetricsOlderThan(cutoff time.Time) error
}

// Driver is the subset of sandboxdriver.Driver the Supervisor depends on.
type Driver interface {
	VolumeCreate(ctx context.Context, name, hostPath string) error
	Create(ctx context.Context, spec sandboxdriver.Spec) (string, error)
	Start(ctx context.Context, engineID string) error
	Stop(ctx context.Context, engineID string, grace time.Duration) error
	Remove(ctx context.Context, engineID string) error
	Inspect(ctx context.Context, engineID string) (sandboxdriver.Status, error)
	ListManaged(ctx context.Context) ([]string, error)
	Exec(ctx context.Context, engineID string, argv []string, opts sandboxdriver.ExecOptions) (*sandboxdriver.Stream, error)
	Stats(ctx context.Context, engineID string) (cpuPct float64, memUsed, memLimit int64, err error)
}

// SessionChecker tells the idle sweeper whether a user currently has an
// active (client-attached) session, per the cross-check spec.md §4.4
// requires before evicting.
type SessionChecker interface {
	HasActiveSession(userID string) bool
}

// entry is the in-memory registry record for one user.
type entry struct {
	mu           sync.Mutex
	engineID     string
	status       string
	createdAt    time.Time
	lastActiveAt time.Time
}

// Handle is a ready-to-use sandbox reference returned by Acquire.
type Handle struct {
	UserID   string
	EngineID string
	Tier     Tier
}

const readinessPollInterval = 500 * time.Millisecond
const readinessDeadline = 60 * time.Second
const stopGrace = 10 * time.Second

// Supervisor owns the registry and every lifecycle transition for every
// user's sandbox.
type Supervisor struct {
	driver  Driver
	store   Store
	layout  *workspace.Layout
	syncer  *extension.Synchroniser
	image   string
	netMode string

	mu       sync.RWMutex
	registry map[string]*entry
}

func New(driver Driver, store Store, layout *workspace.Layout, syncer *extension.Synchroniser, image, netMode string) *Supervisor {
	return &Supervisor{
		driver:   driver,
		store:    store,
		layout:   layout,
		syncer:   syncer,
		image:    image,
		netMode:  netMode,
		registry: make(map[string]*entry),
	}
}

// SetSyncer wires the Extension Synchroniser after construction, breaking
// the constructor cycle between Supervisor (needs a syncer to run on
// acquire) and Synchroniser (needs the Supervisor's per-user lock as its
// Locker).
func (s *Supervisor) SetSyncer(syncer *extension.Synchroniser) {
	s.syncer = syncer
}

// WithUserLock serialises fn against every other lifecycle operation for
// userID. Exposed so the Extension Synchroniser can share the same
// per-user lock the spec requires (§4.2 Concurrency).
func (s *Supervisor) WithUserLock(userID string, fn func() error) error {
	e := s.entryFor(userID)
	e.mu.Lock()
	defer e.mu.Unlock()
	return fn()
}

func (s *Supervisor) entryFor(userID string) *entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.registry[userID]
	if !ok {
		e = &entry{status: StatusAbsent}
		s.registry[userID] = e
	}
	return e
}

// HasEntry reports whether userID currently has a registry entry whose
// status is one of {creating, running, stopped} — used to enforce the
// at-most-one-live-entry invariant under tests.
func (s *Supervisor) HasEntry(userID string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.registry[userID]
	if !ok {
		return "", false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.status, e.status == StatusCreating || e.status == StatusRunning || e.status == StatusStopped
}

// Acquire implements the primary operation of spec.md §4.4.
func (s *Supervisor) Acquire(ctx context.Context, userID, tierName string) (*Handle, error) {
	tier, err := LookupTier(tierName)
	if err != nil {
		return nil, err
	}

	e := s.entryFor(userID)
	e.mu.Lock()
	defer e.mu.Unlock()

	// Step 1/2: reconcile against engine reality if we already think we
	// have a container.
	if e.engineID != "" {
		st, err := s.driver.Inspect(ctx, e.engineID)
		if err == nil && st.Exists && st.Running {
			e.lastActiveAt = time.Now()
			e.status = StatusRunning
			s.store.UpdateSandboxActivity(userID)
			return &Handle{UserID: userID, EngineID: e.engineID, Tier: tier}, nil
		}
		// Anything else: drop the stale entry and fall through to recreate.
		e.engineID = ""
		e.status = StatusAbsent
	}

	// Step 3: workspace + extensions, only needed on first install; a
	// version counter would let us skip this on warm re-acquire, but
	// EnsureLayout/SyncOne are both idempotent no-ops once installed.
	if err := s.layout.EnsureLayout(userID); err != nil {
		e.status = StatusFailed
		return nil, err
	}
	if s.syncer != nil {
		if err := s.syncer.SyncOne(userID, false); err != nil {
			log.Printf("supervisor: initial extension sync failed for %s: %v", userID, err)
		}
	}

	e.status = StatusCreating

	// Step 4: volume for the bind mount.
	hostDir := s.layout.HostDataDir(userID)
	volName := "claude-data-" + userID
	if err := s.driver.VolumeCreate(ctx, volName, hostDir); err != nil {
		e.status = StatusFailed
		return nil, err
	}

	// Step 5: build the spec.
	spec := sandboxdriver.Spec{
		Name:        "claude-user-" + userID,
		Image:       s.image,
		UserID:      userID,
		Env:         []string{"USER_ID=" + userID, "HOME=" + workspace.ContainerHome, "NODE_ENV=production"},
		Binds:       []string{hostDir + ":" + workspace.ContainerHome + ":rw"},
		MemoryBytes: tier.MemoryBytes,
		NanoCPUs:    tier.NanoCPUs(),
		PidsLimit:   tier.PidsLimit,
		NetworkMode: s.netMode,
	}

	// Step 6: create (adopts on name conflict) then start.
	engineID, err := s.driver.Create(ctx, spec)
	if err != nil {
		e.status = StatusFailed
		return nil, err
	}
	st, err := s.driver.Inspect(ctx, engineID)
	if err != nil {
		e.status = StatusFailed
		return nil, err
	}
	if !st.Running {
		if err := s.driver.Start(ctx, engineID); err != nil {
			e.status = StatusFailed
			return nil, err
		}
	}

	// Step 7: wait for readiness.
	deadline := time.Now().Add(readinessDeadline)
	for {
		st, err := s.driver.Inspect(ctx, engineID)
		if err == nil && st.Running {
			break
		}
		if time.Now().After(deadline) {
			e.status = StatusFailed
			return nil, apperr.New(apperr.KindProvisioning, "acquire", fmt.Errorf("readiness timeout for user %s", userID))
		}
		select {
		case <-ctx.Done():
			e.status = StatusFailed
			return nil, ctx.Err()
		case <-time.After(readinessPollInterval):
		}
	}

	// Step 8: persist and return.
	now := time.Now()
	if existing, _ := s.store.GetSandboxByUser(userID); existing == nil {
		if _, err := s.store.CreateSandbox(userID, engineID, spec.Name, tierName); err != nil {
			log.Printf("supervisor: failed to persist sandbox record for %s: %v", userID, err)
		}
	} else {
		s.store.UpdateSandboxEngineID(userID, engineID)
	}
	s.store.UpdateSandboxStatus(userID, StatusRunning)

	e.engineID = engineID
	e.status = StatusRunning
	e.createdAt = now
	e.lastActiveAt = now

	return &Handle{UserID: userID, EngineID: engineID, Tier: tier}, nil
}

// Exec proxies to the driver for the caller's already-acquired handle.
func (s *Supervisor) Exec(ctx context.Context, h *Handle, argv []string, opts sandboxdriver.ExecOptions) (*sandboxdriver.Stream, error) {
	return s.driver.Exec(ctx, h.EngineID, argv, opts)
}

// Release stops and removes a user's sandbox; volumes and host data
// directories are preserved. Used both by idle eviction and by explicit
// administrative teardown.
func (s *Supervisor) Release(ctx context.Context, userID string) error {
	e := s.entryFor(userID)
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.engineID == "" {
		return nil
	}
	if err := s.store.UpdateSandboxStatus(userID, StatusRemoving); err != nil {
		return err
	}
	if err := s.driver.Stop(ctx, e.engineID, stopGrace); err != nil {
		return err
	}
	if err := s.driver.Remove(ctx, e.engineID); err != nil {
		return err
	}
	s.store.UpdateSandboxStatus(userID, StatusRemoved)
	s.store.DeleteSandbox(userID)
	e.engineID = ""
	e.status = StatusRemoved
	return nil
}

// Reconcile runs at Supervisor start-up: list engine containers bearing
// the managed label, match them to persisted records, adopt still-running
// ones, and remove persisted-but-engine-absent entries. Idempotent.
func (s *Supervisor) Reconcile(ctx context.Context) error {
	managedIDs, err := s.driver.ListManaged(ctx)
	if err != nil {
		return err
	}
	managed := make(map[string]bool, len(managedIDs))
	for _, id := range managedIDs {
		managed[id] = true
	}

	records, err := s.store.ListRunningSandboxes()
	if err != nil {
		return err
	}
	for _, rec := range records {
		if managed[rec.EngineID] {
			st, err := s.driver.Inspect(ctx, rec.EngineID)
			if err == nil && st.Running {
				e := s.entryFor(rec.UserID)
				e.mu.Lock()
				e.engineID = rec.EngineID
				e.status = StatusRunning
				e.lastActiveAt = rec.LastActiveAt
				e.mu.Unlock()
				log.Printf("supervisor: reconciled running sandbox for user %s (%s)", rec.UserID, rec.EngineID[:12])
				continue
			}
		}
		log.Printf("supervisor: evicting persisted-but-absent sandbox record for user %s", rec.UserID)
		s.store.UpdateSandboxStatus(rec.UserID, StatusRemoved)
		s.store.DeleteSandbox(rec.UserID)
	}
	return nil
}

// metricsRetention is how long SandboxMetric rows are kept before
// SampleMetrics prunes them, per spec.md §3 ("pruned by age").
const metricsRetention = 7 * 24 * time.Hour

// SampleMetrics takes one CPU/memory/disk snapshot of every running
// sandbox and records it, then prunes rows older than metricsRetention.
// Called periodically by the IdleWatcher's sweep tick.
func (s *Supervisor) SampleMetrics(ctx context.Context) {
	type candidate struct {
		userID   string
		engineID string
	}

	s.mu.RLock()
	candidates := make([]candidate, 0, len(s.registry))
	for userID, e := range s.registry {
		e.mu.Lock()
		if e.status == StatusRunning {
			candidates = append(candidates, candidate{userID: userID, engineID: e.engineID})
		}
		e.mu.Unlock()
	}
	s.mu.RUnlock()

	for _, c := range candidates {
		cpuPct, memUsed, memLimit, err := s.driver.Stats(ctx, c.engineID)
		if err != nil {
			log.Printf("supervisor: metric sample failed for user %s: %v", c.userID, err)
			continue
		}
		diskUsed, err := s.layout.DiskUsage(c.userID)
		if err != nil {
			log.Printf("supervisor: disk usage sample failed for user %s: %v", c.userID, err)
		}
		if err := s.store.RecordMetric(c.engineID, cpuPct, memUsed, memLimit, diskUsed); err != nil {
			log.Printf("supervisor: record metric failed for user %s: %v", c.userID, err)
		}
	}

	if err := s.store.PruneMetricsOlderThan(time.Now().Add(-metricsRetention)); err != nil {
		log.Printf("supervisor: prune metrics failed: %v", err)
	}
}
