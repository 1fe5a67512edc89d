package study

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/studyforge/core/internal/config"
	"github.com/studyforge/core/internal/pkg/runstore"
	"go.uber.org/zap"
)

// memoryRunStore is an in-memory runStore that records every saved snapshot.
type memoryRunStore struct {
	runs     map[string]*runstore.Run
	locks    map[string]string
	saves    int
	released bool
}

func newMemoryRunStore() *memoryRunStore {
	return &memoryRunStore{
		runs:  map[string]*runstore.Run{},
		locks: map[string]string{},
	}
}

func (m *memoryRunStore) Create(_ context.Context, userID, depth string) (*runstore.Run, error) {
	now := time.Now()
	run := &runstore.Run{
		ID:        fmt.Sprintf("run-%d", len(m.runs)+1),
		UserID:    userID,
		Depth:     depth,
		Status:    runstore.RunPending,
		Sections:  []runstore.Section{},
		CreatedAt: now,
		UpdatedAt: now,
	}
	m.runs[run.ID] = run
	return run, nil
}

func (m *memoryRunStore) GetByID(_ context.Context, id string) (*runstore.Run, error) {
	return m.runs[id], nil
}

func (m *memoryRunStore) Save(_ context.Context, run *runstore.Run) error {
	m.saves++
	m.runs[run.ID] = run
	return nil
}

func (m *memoryRunStore) ListByUser(_ context.Context, userID string, _, _ int) ([]*runstore.Run, int64, error) {
	out := make([]*runstore.Run, 0, len(m.runs))
	for _, run := range m.runs {
		if run.UserID == userID {
			out = append(out, run)
		}
	}
	return out, int64(len(out)), nil
}

func (m *memoryRunStore) AcquireLock(_ context.Context, userID, runID string) (bool, error) {
	if _, held := m.locks[userID]; held {
		return false, nil
	}
	m.locks[userID] = runID
	return true, nil
}

func (m *memoryRunStore) ReleaseLock(_ context.Context, userID, runID string) error {
	if m.locks[userID] == runID {
		delete(m.locks, userID)
		m.released = true
	}
	return nil
}

func (m *memoryRunStore) ActiveRunID(_ context.Context, userID string) (string, error) {
	return m.locks[userID], nil
}

func (m *memoryRunStore) Subscribe(context.Context, string) runstore.Subscription {
	return nil
}

// newPipelineService wires a Service around fakes so execute runs without a
// database, Redis, or real providers.
func newPipelineService(caller modelCaller, store *memoryRunStore) *Service {
	cfg := &config.AppConfig{
		AI: config.AIConfig{
			PrimaryPool:   []config.AIModelAssignment{{ProviderID: "p1", Model: "alpha"}},
			Retry:         config.RetryOptions{MaxAttempts: 2, BaseDelayMS: 1},
			PacingDelayMS: 1,
			SectionCounts: config.SectionCounts{Standard: 6, Deep: 12},
		},
	}
	s := &Service{
		cfg:    cfg,
		runs:   store,
		mapper: NewMapper(caller, cfg.AI.PrimaryPool[0]),
		synth:  NewSynthesizer(caller, cfg.AI, zap.NewNop()),
		log:    zap.NewNop(),
		pace:   func(time.Duration) {},
	}
	s.persist = func(string, *runstore.Section) (string, error) { return "entry-ok", nil }
	return s
}

func scriptedNotes(n int) []fakeResponse {
	out := make([]fakeResponse, 0, n+1)
	out = append(out, fakeResponse{out: validMapperJSON(6)})
	for i := 0; i < n; i++ {
		out = append(out, fakeResponse{out: fmt.Sprintf("notes for section %d", i+1)})
	}
	return out
}

func TestExecuteHaltKeepsEarlierSectionsCompleted(t *testing.T) {
	// Mapper succeeds, two sections synthesize, the third call fails with a
	// non-rate-limit error and no fallback is configured.
	caller := &fakeCaller{responses: scriptedNotes(2)}
	store := newMemoryRunStore()
	svc := newPipelineService(caller, store)

	run, _ := store.Create(context.Background(), "user-1", "standard")
	store.locks["user-1"] = run.ID
	svc.execute(run, nil, false)

	if run.Status != runstore.RunFailed {
		t.Fatalf("run status = %q, want %q", run.Status, runstore.RunFailed)
	}
	if run.Message != msgInterrupted {
		t.Errorf("run message = %q, want %q", run.Message, msgInterrupted)
	}
	if len(run.Sections) != 6 {
		t.Fatalf("got %d sections, want 6", len(run.Sections))
	}
	for i, sec := range run.Sections {
		if i < 2 {
			if sec.Status != runstore.SectionCompleted || sec.Content == "" {
				t.Errorf("section %d: status %q content %q, want completed with content", i, sec.Status, sec.Content)
			}
			continue
		}
		if sec.Status != runstore.SectionPending {
			t.Errorf("section %d: status %q, want pending after halt", i, sec.Status)
		}
		if sec.Content != "" {
			t.Errorf("section %d: unexpected content %q", i, sec.Content)
		}
	}
	if !store.released {
		t.Error("active-run lock was not released after the halt")
	}
}

func TestExecutePersistsEverySectionWhenCloudEnabled(t *testing.T) {
	caller := &fakeCaller{responses: scriptedNotes(6)}
	store := newMemoryRunStore()
	svc := newPipelineService(caller, store)

	persisted := 0
	svc.persist = func(string, *runstore.Section) (string, error) {
		persisted++
		return fmt.Sprintf("entry-%d", persisted), nil
	}

	run, _ := store.Create(context.Background(), "user-1", "standard")
	svc.execute(run, nil, true)

	if run.Status != runstore.RunCompleted {
		t.Fatalf("run status = %q, want %q", run.Status, runstore.RunCompleted)
	}
	if persisted != 6 {
		t.Errorf("persisted %d sections, want 6", persisted)
	}
	if run.SyncError {
		t.Error("sync error flagged although every persist succeeded")
	}
	for i, sec := range run.Sections {
		if sec.EntryID == "" {
			t.Errorf("section %d: missing notebook entry id", i)
		}
	}
}

func TestExecuteSyncFailureDoesNotHalt(t *testing.T) {
	caller := &fakeCaller{responses: scriptedNotes(6)}
	store := newMemoryRunStore()
	svc := newPipelineService(caller, store)

	calls := 0
	svc.persist = func(_ string, sec *runstore.Section) (string, error) {
		calls++
		if calls == 2 {
			return "", errors.New("insert failed")
		}
		return "entry-ok", nil
	}

	run, _ := store.Create(context.Background(), "user-1", "standard")
	svc.execute(run, nil, true)

	if run.Status != runstore.RunCompleted {
		t.Fatalf("run status = %q, want completed despite the sync failure", run.Status)
	}
	if !run.SyncError {
		t.Error("sync error flag not set")
	}
	if run.Message != msgSyncFailed {
		t.Errorf("run message = %q, want %q", run.Message, msgSyncFailed)
	}
	if calls != 6 {
		t.Errorf("persist called %d times, want all 6 sections attempted", calls)
	}
	for i, sec := range run.Sections {
		if sec.Status != runstore.SectionCompleted {
			t.Errorf("section %d: status %q, want completed", i, sec.Status)
		}
		if i == 1 && sec.EntryID != "" {
			t.Errorf("failed section kept entry id %q", sec.EntryID)
		}
	}
}

func TestExecuteSkipsPersistenceWhenCloudDisabled(t *testing.T) {
	caller := &fakeCaller{responses: scriptedNotes(6)}
	store := newMemoryRunStore()
	svc := newPipelineService(caller, store)

	svc.persist = func(string, *runstore.Section) (string, error) {
		t.Fatal("persist must not run for cloud-disabled users")
		return "", nil
	}

	run, _ := store.Create(context.Background(), "user-1", "standard")
	svc.execute(run, nil, false)

	if run.Status != runstore.RunCompleted {
		t.Fatalf("run status = %q, want %q", run.Status, runstore.RunCompleted)
	}
	for i, sec := range run.Sections {
		if sec.EntryID != "" {
			t.Errorf("section %d: unexpected entry id %q", i, sec.EntryID)
		}
	}
}
