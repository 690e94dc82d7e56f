package syncer

import (
	"context"
	"errors"
	"sort"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/graphloom/backend/pkg/common"
	"github.com/graphloom/backend/pkg/leaselock"
	"github.com/graphloom/backend/pkg/store"
)

type memRunStore struct {
	mu   sync.Mutex
	runs map[string]*Run
	seq  int
}

func newMemRunStore() *memRunStore {
	return &memRunStore{runs: make(map[string]*Run)}
}

func (m *memRunStore) Create(_ context.Context, scope common.Scope, mode, target string) (*Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	run := &Run{
		ID:          "run-" + strconv.Itoa(m.seq),
		TenantID:    scope.TenantID,
		WorkspaceID: scope.WorkspaceID,
		Mode:        mode,
		Target:      target,
		Status:      StatusRunning,
		StartedAt:   time.Now().UTC(),
	}
	m.runs[run.ID] = run
	return run, nil
}

func (m *memRunStore) Get(_ context.Context, runID string) (*Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	run, ok := m.runs[runID]
	if !ok {
		return nil, ErrRunNotFound
	}
	cp := *run
	return &cp, nil
}

func (m *memRunStore) Latest(_ context.Context, scope common.Scope) (*Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var latest *Run
	for _, run := range m.runs {
		if run.TenantID != scope.TenantID || run.WorkspaceID != scope.WorkspaceID {
			continue
		}
		if latest == nil || run.StartedAt.After(latest.StartedAt) {
			latest = run
		}
	}
	if latest == nil {
		return nil, ErrRunNotFound
	}
	cp := *latest
	return &cp, nil
}

func (m *memRunStore) LastCompleted(_ context.Context, scope common.Scope) (*Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var last *Run
	for _, run := range m.runs {
		if run.TenantID != scope.TenantID || run.WorkspaceID != scope.WorkspaceID || run.Status != StatusCompleted {
			continue
		}
		if last == nil || run.StartedAt.After(last.StartedAt) {
			last = run
		}
	}
	if last == nil {
		return nil, nil
	}
	cp := *last
	return &cp, nil
}

func (m *memRunStore) Progress(_ context.Context, runID string, progress int, message string, stats Stats) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	run := m.runs[runID]
	run.Progress = progress
	run.Message = message
	run.Stats = stats
	return nil
}

func (m *memRunStore) Complete(_ context.Context, runID string, stats Stats) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	run := m.runs[runID]
	run.Status = StatusCompleted
	run.Progress = 100
	run.Message = "completed"
	run.Stats = stats
	now := time.Now().UTC()
	run.FinishedAt = &now
	return nil
}

func (m *memRunStore) Fail(_ context.Context, runID string, errMsg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	run := m.runs[runID]
	run.Status = StatusFailed
	run.Error = errMsg
	now := time.Now().UTC()
	run.FinishedAt = &now
	return nil
}

func (m *memRunStore) RequestCancel(_ context.Context, runID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs[runID].Message = "cancel requested"
	return nil
}

func (m *memRunStore) CancelRequested(_ context.Context, runID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.runs[runID].Message == "cancel requested", nil
}

type memLocker struct {
	mu   sync.Mutex
	held map[string]bool
}

func newMemLocker() *memLocker {
	return &memLocker{held: make(map[string]bool)}
}

func (m *memLocker) WithLease(ctx context.Context, key string, _ leaselock.Options, fn func(ctx context.Context) error) error {
	m.mu.Lock()
	if m.held[key] {
		m.mu.Unlock()
		return leaselock.ErrBusy
	}
	m.held[key] = true
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		delete(m.held, key)
		m.mu.Unlock()
	}()
	return fn(ctx)
}

type fakeTripleStore struct {
	entities      []store.EntityRecord
	relationships []store.RelationshipRecord
	evidence      []common.EvidenceLink
	gotSince      *time.Time
}

func (f *fakeTripleStore) InsertTriples(_ context.Context, _ common.Scope, _ []store.Triple) error {
	return nil
}

func (f *fakeTripleStore) ClearGraph(_ context.Context, _ common.Scope) error { return nil }

func (f *fakeTripleStore) ListCanonicalIDs(_ context.Context, _ common.Scope) ([]string, error) {
	ids := make([]string, 0, len(f.entities))
	for _, e := range f.entities {
		ids = append(ids, e.CanonicalID)
	}
	return ids, nil
}

func (f *fakeTripleStore) ListEntities(_ context.Context, _ common.Scope, since *time.Time) ([]store.EntityRecord, error) {
	f.gotSince = since
	return f.entities, nil
}

func (f *fakeTripleStore) ListRelationships(_ context.Context, _ common.Scope, _ *time.Time) ([]store.RelationshipRecord, error) {
	return f.relationships, nil
}

func (f *fakeTripleStore) ListEvidence(_ context.Context, _ common.Scope, _ *time.Time) ([]common.EvidenceLink, error) {
	return f.evidence, nil
}

type fakeProjection struct {
	mu         sync.Mutex
	nodes      map[string]store.NodeUpsert
	edges      []store.EdgeUpsert
	assertions []common.Assertion
	evidence   []common.EvidenceLink
	cleared    bool
}

func newFakeProjection() *fakeProjection {
	return &fakeProjection{nodes: make(map[string]store.NodeUpsert)}
}

func (f *fakeProjection) UpsertNodes(_ context.Context, _ common.Scope, nodes []store.NodeUpsert) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, n := range nodes {
		f.nodes[n.CanonicalID] = n
	}
	return nil, nil
}

func (f *fakeProjection) UpsertEdges(_ context.Context, _ common.Scope, edges []store.EdgeUpsert) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.edges = append(f.edges, edges...)
	return nil
}

func (f *fakeProjection) UpsertAssertions(_ context.Context, _ common.Scope, assertions []common.Assertion) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.assertions = append(f.assertions, assertions...)
	return nil
}

func (f *fakeProjection) AddEvidence(_ context.Context, _ common.Scope, links []common.EvidenceLink) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.evidence = append(f.evidence, links...)
	return nil
}

func (f *fakeProjection) ListCanonicalIDs(_ context.Context, _ common.Scope) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ids := make([]string, 0, len(f.nodes))
	for id := range f.nodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func (f *fakeProjection) DeleteNodes(_ context.Context, _ common.Scope, ids []string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, id := range ids {
		if _, ok := f.nodes[id]; ok {
			delete(f.nodes, id)
			n++
		}
	}
	return n, nil
}

func (f *fakeProjection) ClearScope(_ context.Context, _ common.Scope) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nodes = make(map[string]store.NodeUpsert)
	f.edges = nil
	f.assertions = nil
	f.evidence = nil
	f.cleared = true
	return nil
}

func (f *fakeProjection) UpdateTrust(_ context.Context, _ common.Scope, _ string, _ float64, _ common.ClaimStatus) error {
	return nil
}

var testScope = common.Scope{TenantID: "t1", WorkspaceID: "w1"}

func entityFixture(id string) store.EntityRecord {
	return store.EntityRecord{
		CanonicalID: id,
		ClassName:   "company",
		DisplayName: id,
		ClaimStatus: common.ClaimStatusFact,
		Confidence:  0.9,
		UpdatedAt:   time.Now().UTC(),
	}
}

func TestRemoveOrphans(t *testing.T) {
	triples := &fakeTripleStore{entities: []store.EntityRecord{entityFixture("A"), entityFixture("B")}}
	graph := newFakeProjection()
	for _, id := range []string{"A", "B", "C"} {
		_, _ = graph.UpsertNodes(context.Background(), testScope, []store.NodeUpsert{{CanonicalID: id}})
	}

	s := New(triples, graph, newMemRunStore(), newMemLocker())
	removed, err := s.RemoveOrphans(context.Background(), testScope)
	if err != nil {
		t.Fatalf("RemoveOrphans: %v", err)
	}
	if removed != 1 {
		t.Fatalf("expected 1 orphan removed, got %d", removed)
	}

	ids, _ := graph.ListCanonicalIDs(context.Background(), testScope)
	want := []string{"A", "B"}
	if len(ids) != 2 || ids[0] != want[0] || ids[1] != want[1] {
		t.Fatalf("expected %v to survive, got %v", want, ids)
	}
}

func TestFullSyncRebuildsProjection(t *testing.T) {
	entityA := entityFixture("A")
	entityA.Attributes = map[string]string{"founded_in": "1999"}
	triples := &fakeTripleStore{
		entities: []store.EntityRecord{entityA, entityFixture("B")},
		relationships: []store.RelationshipRecord{{
			AssertionID:        "as-1",
			SubjectCanonicalID: "A",
			Predicate:          "works_at",
			ObjectCanonicalID:  "B",
			Confidence:         0.8,
			ClaimStatus:        common.ClaimStatusFact,
		}},
		evidence: []common.EvidenceLink{{
			TargetType: common.EvidenceTargetNode,
			TargetID:   "A",
			Quote:      "Founded in 1999.",
			TextHash:   "abc123",
			DocumentID: "doc-1",
		}},
	}
	graph := newFakeProjection()
	// Stale projection content that a full rebuild must not preserve.
	_, _ = graph.UpsertNodes(context.Background(), testScope, []store.NodeUpsert{{CanonicalID: "stale"}})

	s := New(triples, graph, newMemRunStore(), newMemLocker())
	run, err := s.Run(context.Background(), testScope, ModeFull, TargetAll)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if run.Status != StatusCompleted || run.Progress != 100 {
		t.Fatalf("unexpected run state: %+v", run)
	}
	if run.Stats.Entities != 2 || run.Stats.Relationships != 1 || run.Stats.EvidenceLinks != 1 {
		t.Fatalf("unexpected stats: %+v", run.Stats)
	}
	if !graph.cleared {
		t.Fatal("full sync must clear the projection first")
	}
	if _, ok := graph.nodes["stale"]; ok {
		t.Fatal("stale node survived a full rebuild")
	}
	if len(graph.edges) != 1 || len(graph.assertions) != 1 {
		t.Fatalf("relationships not projected: %d edges, %d assertions", len(graph.edges), len(graph.assertions))
	}
	if got := graph.nodes["A"].Attributes["founded_in"]; got != "1999" {
		t.Fatalf("entity attributes not restored by rebuild, got %q", got)
	}
	if len(graph.evidence) != 1 || graph.evidence[0].TargetID != "A" {
		t.Fatalf("evidence links not restored by rebuild: %+v", graph.evidence)
	}
}

func TestIncrementalSyncUsesCursor(t *testing.T) {
	triples := &fakeTripleStore{entities: []store.EntityRecord{entityFixture("A")}}
	graph := newFakeProjection()
	runs := newMemRunStore()
	s := New(triples, graph, runs, newMemLocker())
	ctx := context.Background()

	if _, err := s.Run(ctx, testScope, ModeIncremental, TargetAll); err != nil {
		t.Fatalf("first run: %v", err)
	}
	if triples.gotSince != nil {
		t.Fatal("first incremental run has no cursor and must list everything")
	}

	if _, err := s.Run(ctx, testScope, ModeIncremental, TargetAll); err != nil {
		t.Fatalf("second run: %v", err)
	}
	if triples.gotSince == nil {
		t.Fatal("second incremental run should pass the last completed run's start time")
	}

	// Incremental never clears existing projection state.
	if graph.cleared {
		t.Fatal("incremental sync must not clear the projection")
	}
}

func TestSyncMutualExclusion(t *testing.T) {
	triples := &fakeTripleStore{entities: []store.EntityRecord{entityFixture("A")}}
	runs := newMemRunStore()
	locker := newMemLocker()
	s := New(triples, newFakeProjection(), runs, locker)

	// Simulate an in-flight run holding the scope's lease.
	started := make(chan struct{})
	release := make(chan struct{})
	go func() {
		_ = locker.WithLease(context.Background(), lockKey(testScope), leaselock.Options{}, func(context.Context) error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started

	_, err := s.Run(context.Background(), testScope, ModeFull, TargetAll)
	if !errors.Is(err, ErrSyncInProgress) {
		t.Fatalf("expected ErrSyncInProgress, got %v", err)
	}
	close(release)
}

func TestSyncCancellation(t *testing.T) {
	triples := &fakeTripleStore{entities: []store.EntityRecord{entityFixture("A")}}
	runs := newMemRunStore()
	s := New(triples, newFakeProjection(), runs, newMemLocker())

	// Flag cancellation as soon as the run row appears; the synchronizer
	// checks the flag between coarse steps and stops.
	ctx := context.Background()
	run, err := runs.Create(ctx, testScope, string(ModeFull), string(TargetAll))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	_ = runs.RequestCancel(ctx, run.ID)

	if err := s.execute(ctx, testScope, ModeFull, TargetAll, run); err == nil {
		t.Fatal("cancelled run should return an error")
	}
}

func TestTargetSchemaSkipsRelationships(t *testing.T) {
	triples := &fakeTripleStore{
		entities:      []store.EntityRecord{entityFixture("A")},
		relationships: []store.RelationshipRecord{{AssertionID: "as-1", SubjectCanonicalID: "A", ObjectCanonicalID: "A", Predicate: "self"}},
	}
	graph := newFakeProjection()
	s := New(triples, graph, newMemRunStore(), newMemLocker())

	run, err := s.Run(context.Background(), testScope, ModeFull, TargetSchema)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if run.Stats.Entities != 1 || run.Stats.Relationships != 0 {
		t.Fatalf("schema-only sync wrote relationships: %+v", run.Stats)
	}
	if len(graph.edges) != 0 {
		t.Fatalf("expected no edges, got %d", len(graph.edges))
	}
}

func TestParseModeAndTarget(t *testing.T) {
	if m, err := ParseMode(""); err != nil || m != ModeIncremental {
		t.Errorf("ParseMode(\"\") = %v, %v", m, err)
	}
	if _, err := ParseMode("sideways"); err == nil {
		t.Error("ParseMode should reject unknown modes")
	}
	if tg, err := ParseTarget(""); err != nil || tg != TargetAll {
		t.Errorf("ParseTarget(\"\") = %v, %v", tg, err)
	}
	if _, err := ParseTarget("everything"); err == nil {
		t.Error("ParseTarget should reject unknown targets")
	}
}
