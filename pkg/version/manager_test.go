package version

import (
	"context"
	"errors"
	"testing"

	"github.com/bridge25/dt-rag-sub000/pkg/migration"
	"github.com/bridge25/dt-rag-sub000/pkg/store"
	"github.com/bridge25/dt-rag-sub000/pkg/validator"
)

func setupManager(t *testing.T) (*Manager, *store.MemoryGraphStore) {
	t.Helper()
	st := store.NewMemoryGraphStore()
	return NewManager(st, validator.New(false)), st
}

// seedBase commits version 1.0.0 with root A and child B.
func seedBase(t *testing.T, st store.GraphStore) {
	t.Helper()
	err := st.CommitVersion(context.Background(), &store.VersionCommit{
		ToVersion: "1.0.0",
		Nodes: []*store.Node{
			{ID: "A", Label: "A", CanonicalPath: []string{"A"}},
			{ID: "B", Label: "B", CanonicalPath: []string{"A", "B"}},
		},
		Edges:     []*store.Edge{{ParentID: "A", ChildID: "B"}},
		Rationale: "seed",
		Actor:     "test",
	})
	if err != nil {
		t.Fatalf("seed commit failed: %v", err)
	}
}

func addNodeOp(t *testing.T, id, label, parentID string) migration.Operation {
	t.Helper()
	op, err := migration.NewAddNode(id, label, parentID, 0, nil)
	if err != nil {
		t.Fatalf("NewAddNode failed: %v", err)
	}
	return op
}

func moveNodeOp(t *testing.T, nodeID, from, to string) migration.Operation {
	t.Helper()
	op, err := migration.NewMoveNode(nodeID, from, to)
	if err != nil {
		t.Fatalf("NewMoveNode failed: %v", err)
	}
	return op
}

func mergeNodesOp(t *testing.T, sourceID, targetID, sourceLabel string, parentIDs, childIDs []string) migration.Operation {
	t.Helper()
	op, err := migration.NewMergeNodes(sourceID, targetID, sourceLabel, parentIDs, childIDs)
	if err != nil {
		t.Fatalf("NewMergeNodes failed: %v", err)
	}
	return op
}

func deleteNodeOp(t *testing.T, nodeID, label string, parentIDs []string, force bool) migration.Operation {
	t.Helper()
	op, err := migration.NewDeleteNode(nodeID, label, parentIDs, force)
	if err != nil {
		t.Fatalf("NewDeleteNode failed: %v", err)
	}
	return op
}

func addEdgeOp(t *testing.T, parentID, childID string) migration.Operation {
	t.Helper()
	op, err := migration.NewAddEdge(parentID, childID)
	if err != nil {
		t.Fatalf("NewAddEdge failed: %v", err)
	}
	return op
}

// TestBootstrap tests first-boot seeding and its idempotence.
func TestBootstrap(t *testing.T) {
	m, st := setupManager(t)
	ctx := context.Background()

	if err := m.Bootstrap(ctx, "root", "system"); err != nil {
		t.Fatalf("Bootstrap failed: %v", err)
	}

	current, err := st.CurrentVersion(ctx)
	if err != nil {
		t.Fatalf("CurrentVersion failed: %v", err)
	}
	if current != InitialVersion {
		t.Errorf("Expected %s, got %s", InitialVersion, current)
	}

	graph, err := st.LoadVersion(ctx, InitialVersion)
	if err != nil {
		t.Fatalf("LoadVersion failed: %v", err)
	}
	if len(graph.Nodes) != 1 || graph.Nodes[0].Label != "root" {
		t.Fatalf("Unexpected bootstrap graph: %+v", graph.Nodes)
	}

	// Second bootstrap is a no-op.
	if err := m.Bootstrap(ctx, "other", "system"); err != nil {
		t.Fatalf("Second Bootstrap failed: %v", err)
	}
	history, _ := st.History(ctx)
	if len(history) != 1 {
		t.Errorf("Expected 1 history entry after double bootstrap, got %d", len(history))
	}
}

// TestCreateVersion_AddNode tests the basic add round trip.
func TestCreateVersion_AddNode(t *testing.T) {
	m, st := setupManager(t)
	seedBase(t, st)
	ctx := context.Background()

	next, res, err := m.CreateVersion(ctx, Request{
		Bump:        migration.BumpMinor,
		Ops:         []migration.Operation{addNodeOp(t, "C", "C", "A")},
		Description: "add C",
		Author:      "alice",
	})
	if err != nil {
		t.Fatalf("CreateVersion failed: %v", err)
	}
	if res != nil {
		t.Fatalf("Unexpected validation failure: %v", res.Errors)
	}
	if next != "1.1.0" {
		t.Errorf("Expected 1.1.0, got %s", next)
	}

	graph, err := st.LoadVersion(ctx, "1.1.0")
	if err != nil {
		t.Fatalf("LoadVersion failed: %v", err)
	}
	if len(graph.Nodes) != 3 || len(graph.Edges) != 2 {
		t.Fatalf("Unexpected graph shape: %d nodes, %d edges", len(graph.Nodes), len(graph.Edges))
	}

	c, err := st.GetNode(ctx, "C", "1.1.0")
	if err != nil {
		t.Fatalf("GetNode failed: %v", err)
	}
	if len(c.CanonicalPath) != 2 || c.CanonicalPath[0] != "A" || c.CanonicalPath[1] != "C" {
		t.Errorf("CanonicalPath mismatch: %v", c.CanonicalPath)
	}

	// Base version untouched.
	base, _ := st.LoadVersion(ctx, "1.0.0")
	if len(base.Nodes) != 2 || len(base.Edges) != 1 {
		t.Errorf("Base version changed: %d nodes, %d edges", len(base.Nodes), len(base.Edges))
	}
}

// TestCreateVersion_BumpVariants tests semantic numbering.
func TestCreateVersion_BumpVariants(t *testing.T) {
	m, st := setupManager(t)
	seedBase(t, st)
	ctx := context.Background()

	next, _, err := m.CreateVersion(ctx, Request{
		Bump:   migration.BumpPatch,
		Ops:    []migration.Operation{addNodeOp(t, "C", "C", "A")},
		Author: "a",
	})
	if err != nil || next != "1.0.1" {
		t.Fatalf("Expected 1.0.1, got %s (%v)", next, err)
	}

	next, _, err = m.CreateVersion(ctx, Request{
		Bump:   migration.BumpMajor,
		Ops:    []migration.Operation{addNodeOp(t, "D", "D", "A")},
		Author: "a",
	})
	if err != nil || next != "2.0.0" {
		t.Fatalf("Expected 2.0.0, got %s (%v)", next, err)
	}
}

// TestCreateVersion_CycleRejected tests that an ancestor edge reports the
// exact cycle and commits nothing.
func TestCreateVersion_CycleRejected(t *testing.T) {
	m, st := setupManager(t)
	seedBase(t, st)
	ctx := context.Background()

	if _, res, err := m.CreateVersion(ctx, Request{
		Bump:   migration.BumpMinor,
		Ops:    []migration.Operation{addNodeOp(t, "C", "C", "A")},
		Author: "a",
	}); err != nil || res != nil {
		t.Fatalf("setup CreateVersion failed: %v %v", err, res)
	}

	next, res, err := m.CreateVersion(ctx, Request{
		Bump:   migration.BumpMinor,
		Ops:    []migration.Operation{addEdgeOp(t, "C", "A")},
		Author: "a",
	})
	if err != nil {
		t.Fatalf("CreateVersion returned hard error: %v", err)
	}
	if res == nil || res.IsValid {
		t.Fatal("Expected validation failure for cycle")
	}
	if next != "" {
		t.Errorf("Expected no version, got %s", next)
	}
	if len(res.Cycles) != 1 || len(res.Cycles[0]) != 2 || res.Cycles[0][0] != "A" || res.Cycles[0][1] != "C" {
		t.Errorf("Expected cycle [[A C]], got %v", res.Cycles)
	}

	// No new version was created.
	current, _ := st.CurrentVersion(ctx)
	if current != "1.1.0" {
		t.Errorf("Expected current 1.1.0, got %s", current)
	}
	history, _ := st.History(ctx)
	if len(history) != 2 {
		t.Errorf("Expected 2 history entries, got %d", len(history))
	}
}

// TestCreateVersion_PreconditionErrorsItemized tests that every violated
// precondition is reported at once and nothing persists.
func TestCreateVersion_PreconditionErrorsItemized(t *testing.T) {
	m, st := setupManager(t)
	seedBase(t, st)
	ctx := context.Background()

	next, res, err := m.CreateVersion(ctx, Request{
		Bump: migration.BumpMinor,
		Ops: []migration.Operation{
			moveNodeOp(t, "B", "A", "ghost"),
			addEdgeOp(t, "A", "phantom"),
		},
	})
	if err != nil {
		t.Fatalf("CreateVersion returned hard error: %v", err)
	}
	if next != "" || res == nil || res.IsValid {
		t.Fatal("Expected validation failure")
	}
	if len(res.Errors) != 2 {
		t.Errorf("Expected 2 itemized errors, got %v", res.Errors)
	}

	base, _ := st.LoadVersion(ctx, "1.0.0")
	if len(base.Nodes) != 2 || len(base.Edges) != 1 {
		t.Errorf("Base version changed by failed create")
	}
}

// TestCreateVersion_MoveRewritesCanonicalPaths tests subtree path updates.
func TestCreateVersion_MoveRewritesCanonicalPaths(t *testing.T) {
	m, st := setupManager(t)
	seedBase(t, st)
	ctx := context.Background()

	ops := []migration.Operation{
		addNodeOp(t, "C", "C", "A"),
		addNodeOp(t, "D", "D", "B"),
		addNodeOp(t, "E", "E", "D"),
		moveNodeOp(t, "D", "B", "C"),
	}
	next, res, err := m.CreateVersion(ctx, Request{Bump: migration.BumpMinor, Ops: ops, Author: "a"})
	if err != nil {
		t.Fatalf("CreateVersion failed: %v", err)
	}
	if res != nil {
		t.Fatalf("Unexpected validation failure: %v", res.Errors)
	}

	d, err := st.GetNode(ctx, "D", next)
	if err != nil {
		t.Fatalf("GetNode(D) failed: %v", err)
	}
	wantD := []string{"A", "C", "D"}
	for i, label := range wantD {
		if d.CanonicalPath[i] != label {
			t.Fatalf("D path mismatch: got %v, want %v", d.CanonicalPath, wantD)
		}
	}

	// The descendant's path moved with it.
	e, err := st.GetNode(ctx, "E", next)
	if err != nil {
		t.Fatalf("GetNode(E) failed: %v", err)
	}
	if len(e.CanonicalPath) != 4 || e.CanonicalPath[1] != "C" || e.CanonicalPath[3] != "E" {
		t.Errorf("E path mismatch: %v", e.CanonicalPath)
	}
}

// TestCreateVersion_MergeNodes tests child re-parenting and source removal.
func TestCreateVersion_MergeNodes(t *testing.T) {
	m, st := setupManager(t)
	seedBase(t, st)
	ctx := context.Background()

	setup := []migration.Operation{
		addNodeOp(t, "C", "C", "A"),
		addNodeOp(t, "D", "D", "C"),
	}
	if _, res, err := m.CreateVersion(ctx, Request{Bump: migration.BumpMinor, Ops: setup, Author: "a"}); err != nil || res != nil {
		t.Fatalf("setup failed: %v %v", err, res)
	}

	merge := mergeNodesOp(t, "C", "B", "C", []string{"A"}, []string{"D"})
	next, res, err := m.CreateVersion(ctx, Request{Bump: migration.BumpMinor, Ops: []migration.Operation{merge}, Author: "a"})
	if err != nil {
		t.Fatalf("CreateVersion failed: %v", err)
	}
	if res != nil {
		t.Fatalf("Unexpected validation failure: %v", res.Errors)
	}

	if _, err := st.GetNode(ctx, "C", next); !errors.Is(err, store.ErrNodeNotFound) {
		t.Errorf("Expected C removed, got %v", err)
	}
	d, err := st.GetNode(ctx, "D", next)
	if err != nil {
		t.Fatalf("GetNode(D) failed: %v", err)
	}
	if len(d.CanonicalPath) != 3 || d.CanonicalPath[1] != "B" {
		t.Errorf("D path not rewritten under B: %v", d.CanonicalPath)
	}
}

// TestCreateVersion_DeleteNode tests leaf deletion and the non-leaf guard.
func TestCreateVersion_DeleteNode(t *testing.T) {
	m, st := setupManager(t)
	seedBase(t, st)
	ctx := context.Background()

	del := deleteNodeOp(t, "B", "B", []string{"A"}, false)
	next, res, err := m.CreateVersion(ctx, Request{Bump: migration.BumpPatch, Ops: []migration.Operation{del}, Author: "a"})
	if err != nil {
		t.Fatalf("CreateVersion failed: %v", err)
	}
	if res != nil {
		t.Fatalf("Unexpected validation failure: %v", res.Errors)
	}
	if _, err := st.GetNode(ctx, "B", next); !errors.Is(err, store.ErrNodeNotFound) {
		t.Errorf("Expected B removed, got %v", err)
	}

	// Deleting the root is rejected.
	delRoot := deleteNodeOp(t, "A", "A", []string{"A"}, true)
	_, res, err = m.CreateVersion(ctx, Request{Bump: migration.BumpPatch, Ops: []migration.Operation{delRoot}})
	if err != nil {
		t.Fatalf("CreateVersion returned hard error: %v", err)
	}
	if res == nil || res.IsValid {
		t.Error("Expected root deletion to be rejected")
	}
}

// TestCreateVersion_DuplicateSiblingLabel tests canonical-path uniqueness
// enforcement end to end.
func TestCreateVersion_DuplicateSiblingLabel(t *testing.T) {
	m, st := setupManager(t)
	seedBase(t, st)

	dup := addNodeOp(t, "B2", "B", "A")
	_, res, err := m.CreateVersion(context.Background(), Request{Bump: migration.BumpMinor, Ops: []migration.Operation{dup}})
	if err != nil {
		t.Fatalf("CreateVersion returned hard error: %v", err)
	}
	if res == nil || res.IsValid {
		t.Fatal("Expected duplicate canonical path to be rejected")
	}
	if len(res.DuplicatePaths) != 1 {
		t.Errorf("Expected duplicate path finding, got %+v", res)
	}
}

// TestCreateVersion_StaleBase tests the expected-base guard.
func TestCreateVersion_StaleBase(t *testing.T) {
	m, st := setupManager(t)
	seedBase(t, st)

	_, _, err := m.CreateVersion(context.Background(), Request{
		Bump:         migration.BumpMinor,
		Ops:          []migration.Operation{addNodeOp(t, "C", "C", "A")},
		ExpectedBase: "0.9.0",
	})
	if !errors.Is(err, ErrStaleBase) {
		t.Errorf("Expected ErrStaleBase, got %v", err)
	}
}

// TestCreateVersion_EmptyOps tests rejection of empty batches.
func TestCreateVersion_EmptyOps(t *testing.T) {
	m, st := setupManager(t)
	seedBase(t, st)

	_, res, err := m.CreateVersion(context.Background(), Request{Bump: migration.BumpPatch})
	if err != nil {
		t.Fatalf("CreateVersion returned hard error: %v", err)
	}
	if res == nil || res.IsValid {
		t.Error("Expected empty batch to be rejected")
	}
}

// TestCreateVersion_RejectsNonInvertibleDecodedOp tests that a decoded
// delete_node without its restore snapshot never commits.
func TestCreateVersion_RejectsNonInvertibleDecodedOp(t *testing.T) {
	m, st := setupManager(t)
	seedBase(t, st)

	bare := migration.Operation{
		Kind:       migration.KindDeleteNode,
		DeleteNode: &migration.DeleteNodePayload{NodeID: "B"},
	}
	next, res, err := m.CreateVersion(context.Background(), Request{
		Bump: migration.BumpPatch,
		Ops:  []migration.Operation{bare},
	})
	if err != nil {
		t.Fatalf("CreateVersion returned hard error: %v", err)
	}
	if next != "" || res == nil || res.IsValid {
		t.Fatal("Expected snapshot-less delete_node to be rejected")
	}

	current, _ := st.CurrentVersion(context.Background())
	if current != "1.0.0" {
		t.Errorf("Expected current to stay 1.0.0, got %s", current)
	}
}
