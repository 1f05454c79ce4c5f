package supervisor

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentserver/agentserver/internal/extension"
	"github.com/agentserver/agentserver/internal/sandboxdriver"
	"github.com/agentserver/agentserver/internal/workspace"
)

type fakeDriver struct {
	created  map[string]string // name -> engineID
	running  map[string]bool
	creates  int
}

func newFakeDriver() *fakeDriver {
	return &fakeDriver{created: map[string]string{}, running: map[string]bool{}}
}

func (f *fakeDriver) VolumeCreate(ctx context.Context, name, hostPath string) error { return nil }

func (f *fakeDriver) Create(ctx context.Context, spec sandboxdriver.Spec) (string, error) {
	f.creates++
	if id, ok := f.created[spec.Name]; ok {
		return id, nil // adoption path
	}
	id := "engine-" + spec.Name
	f.created[spec.Name] = id
	return id, nil
}

func (f *fakeDriver) Start(ctx context.Context, engineID string) error {
	f.running[engineID] = true
	return nil
}

func (f *fakeDriver) Stop(ctx context.Context, engineID string, grace time.Duration) error {
	f.running[engineID] = false
	return nil
}

func (f *fakeDriver) Remove(ctx context.Context, engineID string) error {
	delete(f.running, engineID)
	return nil
}

func (f *fakeDriver) Inspect(ctx context.Context, engineID string) (sandboxdriver.Status, error) {
	running, ok := f.running[engineID]
	if !ok {
		return sandboxdriver.Status{Exists: false}, nil
	}
	return sandboxdriver.Status{Exists: true, Running: running}, nil
}

func (f *fakeDriver) ListManaged(ctx context.Context) ([]string, error) {
	var ids []string
	for id := range f.running {
		ids = append(ids, id)
	}
	return ids, nil
}

func (f *fakeDriver) Exec(ctx context.Context, engineID string, argv []string, opts sandboxdriver.ExecOptions) (*sandboxdriver.Stream, error) {
	return nil, nil
}

func (f *fakeDriver) Stats(ctx context.Context, engineID string) (cpuPct float64, memUsed, memLimit int64, err error) {
	return 0, 0, 0, nil
}

type fakeStore struct {
	records map[string]*Record
}

func newFakeStore() *fakeStore { return &fakeStore{records: map[string]*Record{}} }

func (s *fakeStore) GetSandboxByUser(userID string) (*Record, error) { return s.records[userID], nil }

func (s *fakeStore) CreateSandbox(userID, engineID, name, tier string) (*Record, error) {
	rec := &Record{UserID: userID, EngineID: engineID, Name: name, Tier: tier, Status: StatusCreating, CreatedAt: time.Now(), LastActiveAt: time.Now()}
	s.records[userID] = rec
	return rec, nil
}

func (s *fakeStore) UpdateSandboxStatus(userID, status string) error {
	if r, ok := s.records[userID]; ok {
		r.Status = status
	}
	return nil
}

func (s *fakeStore) UpdateSandboxEngineID(userID, engineID string) error {
	if r, ok := s.records[userID]; ok {
		r.EngineID = engineID
	}
	return nil
}

func (s *fakeStore) UpdateSandboxActivity(userID string) error {
	if r, ok := s.records[userID]; ok {
		r.LastActiveAt = time.Now()
	}
	return nil
}

func (s *fakeStore) DeleteSandbox(userID string) error {
	delete(s.records, userID)
	return nil
}

func (s *fakeStore) ListRunningSandboxes() ([]*Record, error) {
	var out []*Record
	for _, r := range s.records {
		if r.Status == StatusRunning {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *fakeStore) RecordMetric(engineID string, cpuPct float64, memUsed, memLimit, diskUsed int64) error {
	return nil
}

func (s *fakeStore) PruneMetricsOlderThan(cutoff time.Time) error { return nil }

func newTestSupervisor(t *testing.T) (*Supervisor, *fakeDriver, *fakeStore) {
	t.Helper()
	driver := newFakeDriver()
	store := newFakeStore()
	layout := workspace.New(t.TempDir())
	syncer := extension.New(t.TempDir(), layout, nil, nil)
	sup := New(driver, store, layout, syncer, "agentserver-sandbox:latest", "bridge")
	return sup, driver, store
}

func TestAcquireRejectsUnknownTier(t *testing.T) {
	sup, _, _ := newTestSupervisor(t)
	_, err := sup.Acquire(context.Background(), "u1", "bogus")
	require.Error(t, err)
}

func TestAcquireCreatesAndStartsContainer(t *testing.T) {
	sup, driver, store := newTestSupervisor(t)
	h, err := sup.Acquire(context.Background(), "u1", TierFree)
	require.NoError(t, err)
	assert.Equal(t, "u1", h.UserID)
	assert.True(t, driver.running[h.EngineID])
	assert.Equal(t, StatusRunning, store.records["u1"].Status)

	status, live := sup.HasEntry("u1")
	assert.True(t, live)
	assert.Equal(t, StatusRunning, status)
}

func TestAcquireIsIdempotentWhenAlreadyRunning(t *testing.T) {
	sup, driver, _ := newTestSupervisor(t)
	ctx := context.Background()
	h1, err := sup.Acquire(ctx, "u1", TierFree)
	require.NoError(t, err)
	creates := driver.creates

	h2, err := sup.Acquire(ctx, "u1", TierFree)
	require.NoError(t, err)
	assert.Equal(t, h1.EngineID, h2.EngineID)
	assert.Equal(t, creates, driver.creates, "a second acquire on a running sandbox must not create again")
}

func TestReleaseStopsAndRemoves(t *testing.T) {
	sup, driver, store := newTestSupervisor(t)
	ctx := context.Background()
	h, err := sup.Acquire(ctx, "u1", TierFree)
	require.NoError(t, err)

	require.NoError(t, sup.Release(ctx, "u1"))
	assert.False(t, driver.running[h.EngineID])
	_, ok := store.records["u1"]
	assert.False(t, ok)
}

func TestValidTransitionTable(t *testing.T) {
	assert.True(t, ValidTransition(StatusCreating, StatusRunning))
	assert.True(t, ValidTransition(StatusRunning, StatusStopped))
	assert.False(t, ValidTransition(StatusRemoved, StatusRunning))
	assert.True(t, ValidTransition(StatusFailed, StatusCreating))
}
