package groupsync

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/uma-engine/go-core/internal/audit"
	"github.com/uma-engine/go-core/pkg/types"
)

func newTestReconciler(source *fakeExternal, local *fakeLocal, config Config) *Reconciler {
	return NewReconciler(source, local, config, nil, nil, zap.NewNop())
}

// syncAuditSink retains every sync event handed to it
type syncAuditSink struct {
	events []*audit.SyncEvent
}

func (s *syncAuditSink) LogDecision(context.Context, *audit.DecisionEvent) {}
func (s *syncAuditSink) LogTicket(context.Context, *audit.TicketEvent)    {}
func (s *syncAuditSink) LogSyncRun(_ context.Context, event *audit.SyncEvent) {
	s.events = append(s.events, event)
}
func (s *syncAuditSink) Flush() error { return nil }
func (s *syncAuditSink) Close() error { return nil }

func TestImportHierarchical(t *testing.T) {
	source := newFakeExternal()
	source.addGroup("engineering", map[string][]string{"floor": {"3"}}, "backend", "frontend")
	source.addGroup("backend", nil)
	source.addGroup("frontend", nil)
	source.addGroup("sales", nil)

	local := newFakeLocal()
	r := newTestReconciler(source, local, DefaultConfig())

	result, err := r.ImportFromExternal(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4, result.Added)
	assert.Equal(t, 0, result.Updated)
	assert.Equal(t, 0, result.Failed)

	assert.Equal(t, []string{"engineering", "sales"}, local.childNames(""))
	eng := local.byName("engineering")
	require.NotNil(t, eng)
	assert.Equal(t, []string{"backend", "frontend"}, local.childNames(eng.ID))
	assert.Equal(t, map[string][]string{"floor": {"3"}}, eng.Attributes)
}

func TestImportIsIdempotent(t *testing.T) {
	source := newFakeExternal()
	source.addGroup("engineering", map[string][]string{"floor": {"3"}}, "backend")
	source.addGroup("backend", nil)

	local := newFakeLocal()
	r := newTestReconciler(source, local, DefaultConfig())
	ctx := context.Background()

	first, err := r.ImportFromExternal(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, first.Added)

	// Second run with no external changes adds nothing and leaves the
	// tree as it was
	second, err := r.ImportFromExternal(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, second.Added)
	assert.Equal(t, 2, second.Updated)
	assert.Equal(t, 0, second.Failed)

	assert.Equal(t, []string{"engineering"}, local.childNames(""))
	eng := local.byName("engineering")
	assert.Equal(t, []string{"backend"}, local.childNames(eng.ID))
	assert.Equal(t, map[string][]string{"floor": {"3"}}, eng.Attributes)
}

func TestImportReplacesAttributesFully(t *testing.T) {
	source := newFakeExternal()
	source.addGroup("engineering", map[string][]string{"floor": {"3"}})

	local := newFakeLocal()
	g := local.add("engineering", "", map[string][]string{"floor": {"1"}, "legacy": {"yes"}})

	r := newTestReconciler(source, local, DefaultConfig())
	_, err := r.ImportFromExternal(context.Background())
	require.NoError(t, err)

	// Attributes absent from the source are gone, not merged
	assert.Equal(t, map[string][]string{"floor": {"3"}}, local.groups[g.ID].Attributes)
}

func TestImportPruneRequiresOptIn(t *testing.T) {
	source := newFakeExternal()
	source.addGroup("engineering", nil)

	local := newFakeLocal()
	local.add("orphan", "", nil)

	// Default config never deletes
	r := newTestReconciler(source, local, DefaultConfig())
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		result, err := r.ImportFromExternal(ctx)
		require.NoError(t, err)
		assert.Equal(t, 0, result.Removed)
	}
	assert.NotNil(t, local.byName("orphan"))

	// With the destructive flag the orphan goes, visited groups stay
	config := DefaultConfig()
	config.DropNonExisting = true
	r = newTestReconciler(source, local, config)
	result, err := r.ImportFromExternal(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Removed)
	assert.Nil(t, local.byName("orphan"))
	assert.NotNil(t, local.byName("engineering"))
}

func TestImportCycleAbortsWholeSync(t *testing.T) {
	source := newFakeExternal()
	source.addGroup("a", nil, "b")
	source.addGroup("b", nil, "a")

	local := newFakeLocal()
	r := newTestReconciler(source, local, DefaultConfig())

	_, err := r.ImportFromExternal(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrConfiguration)
	// Nothing was applied
	assert.Empty(t, local.groups)
}

func TestImportUpsertFailureDoesNotStopSiblings(t *testing.T) {
	source := newFakeExternal()
	source.addGroup("a", nil)
	source.addGroup("b", nil)
	source.addGroup("c", nil)

	local := newFakeLocal()
	local.failOn["b"] = errors.New("store unavailable")

	r := newTestReconciler(source, local, DefaultConfig())
	result, err := r.ImportFromExternal(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, result.Added)
	assert.Equal(t, 1, result.Failed)
	assert.NotNil(t, local.byName("a"))
	assert.Nil(t, local.byName("b"))
	assert.NotNil(t, local.byName("c"))
}

func TestImportFlatBatchesSeeEarlierCreations(t *testing.T) {
	source := newFakeExternal()
	for _, name := range []string{"a", "b", "c", "d", "e"} {
		source.addGroup(name, nil)
	}

	local := newFakeLocal()
	config := DefaultConfig()
	config.PreserveInheritance = false
	config.BatchSize = 2

	r := newTestReconciler(source, local, config)
	ctx := context.Background()

	result, err := r.ImportFromExternal(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, result.Added)
	assert.Len(t, local.childNames(""), 5)

	// The per-batch index re-read makes the re-run see every earlier
	// creation: nothing is added twice
	again, err := r.ImportFromExternal(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, again.Added)
	assert.Equal(t, 5, again.Updated)
	assert.Len(t, local.childNames(""), 5)
}

func TestImportFlatFailuresAreIndependent(t *testing.T) {
	source := newFakeExternal()
	for _, name := range []string{"a", "b", "c", "d"} {
		source.addGroup(name, nil)
	}

	local := newFakeLocal()
	local.failOn["a"] = errors.New("store unavailable")
	local.failOn["c"] = errors.New("store unavailable")

	config := DefaultConfig()
	config.PreserveInheritance = false
	config.BatchSize = 2

	r := newTestReconciler(source, local, config)
	result, err := r.ImportFromExternal(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, result.Added)
	assert.Equal(t, 2, result.Failed)
	assert.Equal(t, []string{"b", "d"}, local.childNames(""))
}

func TestImportMovesFlatLeftoverUnderParent(t *testing.T) {
	// A top-level group created by an earlier flat sync is adopted, not
	// duplicated, once hierarchy mode sees it as a child
	source := newFakeExternal()
	source.addGroup("engineering", nil, "backend")
	source.addGroup("backend", nil)

	local := newFakeLocal()
	leftover := local.add("backend", "", nil)

	r := newTestReconciler(source, local, DefaultConfig())
	result, err := r.ImportFromExternal(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Added) // only engineering

	eng := local.byName("engineering")
	assert.Equal(t, []string{"backend"}, local.childNames(eng.ID))
	assert.Equal(t, eng.ID, local.parents[leftover.ID])
	assert.Equal(t, []string{"engineering"}, local.childNames(""))
}

func TestSyncRunsEmitAuditEvents(t *testing.T) {
	source := newFakeExternal()
	source.addGroup("engineering", nil, "backend")
	source.addGroup("backend", nil)
	source.addGroup("sales", nil)

	local := newFakeLocal()
	local.add("marketing", "", nil)

	sink := &syncAuditSink{}
	r := NewReconciler(source, local, DefaultConfig(), nil, sink, zap.NewNop())
	ctx := context.Background()

	imported, err := r.ImportFromExternal(ctx)
	require.NoError(t, err)

	exported, err := r.ExportToExternal(ctx)
	require.NoError(t, err)

	require.Len(t, sink.events, 2)

	imp := sink.events[0]
	assert.Equal(t, "import", imp.Direction)
	assert.Equal(t, imported.Added, imp.Added)
	assert.Equal(t, imported.Updated, imp.Updated)
	assert.Equal(t, imported.Removed, imp.Removed)
	assert.Equal(t, imported.Failed, imp.Failed)
	assert.Equal(t, 3, imp.Added)

	exp := sink.events[1]
	assert.Equal(t, "export", exp.Direction)
	assert.Equal(t, exported.Added, exp.Added)
	assert.Equal(t, exported.Updated, exp.Updated)
	assert.Equal(t, 1, exp.Added) // marketing was new externally
}

func TestSyncFailureEmitsNoAuditEvent(t *testing.T) {
	source := newFakeExternal()
	source.addGroup("a", nil, "b")
	source.addGroup("b", nil, "a")

	sink := &syncAuditSink{}
	r := NewReconciler(source, newFakeLocal(), DefaultConfig(), nil, sink, zap.NewNop())

	_, err := r.ImportFromExternal(context.Background())
	require.Error(t, err)
	assert.Empty(t, sink.events)
}

func TestExportTwoPass(t *testing.T) {
	local := newFakeLocal()
	eng := local.add("engineering", "", map[string][]string{"floor": {"3"}})
	local.add("backend", eng.ID, nil)
	local.add("frontend", eng.ID, nil)
	local.add("sales", "", nil)

	source := newFakeExternal()
	r := newTestReconciler(source, local, DefaultConfig())

	result, err := r.ExportToExternal(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4, result.Added)
	assert.Equal(t, 0, result.Failed)

	assert.Contains(t, source.groups, "engineering")
	assert.Contains(t, source.groups, "backend")
	assert.Equal(t, map[string][]string{"floor": {"3"}}, source.groups["engineering"])
	assert.ElementsMatch(t, []string{"backend", "frontend"}, source.edges["engineering"])
}

func TestExportRemovesStaleMembershipEdges(t *testing.T) {
	local := newFakeLocal()
	eng := local.add("engineering", "", nil)
	local.add("backend", eng.ID, nil)

	source := newFakeExternal()
	source.addGroup("engineering", nil, "backend", "dissolved")
	source.addGroup("backend", nil)
	source.addGroup("dissolved", nil)

	r := newTestReconciler(source, local, DefaultConfig())
	_, err := r.ExportToExternal(context.Background())
	require.NoError(t, err)

	// The edge to the no-longer-subgroup went; the entity stayed because
	// drop-non-existing is off
	assert.ElementsMatch(t, []string{"backend"}, source.edges["engineering"])
	assert.Contains(t, source.groups, "dissolved")
}

func TestExportDropNonExisting(t *testing.T) {
	local := newFakeLocal()
	local.add("engineering", "", nil)

	source := newFakeExternal()
	source.addGroup("engineering", nil)
	source.addGroup("stale", nil)

	config := DefaultConfig()
	config.DropNonExisting = true
	r := newTestReconciler(source, local, config)

	result, err := r.ExportToExternal(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Removed)
	assert.NotContains(t, source.groups, "stale")
	assert.Contains(t, source.groups, "engineering")
}

func TestEnsureMembershipRepairsMissingAncestors(t *testing.T) {
	// Local: org > engineering > backend, none present externally.
	// Adding the engineering->backend edge must first export from the
	// highest missing ancestor down.
	local := newFakeLocal()
	org := local.add("org", "", nil)
	eng := local.add("engineering", org.ID, nil)
	backend := local.add("backend", eng.ID, nil)

	source := newFakeExternal()
	r := newTestReconciler(source, local, DefaultConfig())

	require.NoError(t, r.EnsureMembership(context.Background(), eng.ID, backend.ID))

	assert.Contains(t, source.groups, "org")
	assert.Contains(t, source.groups, "engineering")
	assert.Contains(t, source.groups, "backend")
	assert.ElementsMatch(t, []string{"engineering"}, source.edges["org"])
	assert.ElementsMatch(t, []string{"backend"}, source.edges["engineering"])
}

func TestEnsureMembershipExistingParentAddsSingleEdge(t *testing.T) {
	local := newFakeLocal()
	eng := local.add("engineering", "", nil)
	backend := local.add("backend", eng.ID, nil)

	source := newFakeExternal()
	source.addGroup("engineering", nil)
	source.addGroup("backend", nil)

	r := newTestReconciler(source, local, DefaultConfig())
	ctx := context.Background()

	require.NoError(t, r.EnsureMembership(ctx, eng.ID, backend.ID))
	assert.ElementsMatch(t, []string{"backend"}, source.edges["engineering"])

	// Repeating is a no-op, not a duplicate edge
	require.NoError(t, r.EnsureMembership(ctx, eng.ID, backend.ID))
	assert.ElementsMatch(t, []string{"backend"}, source.edges["engineering"])
}
