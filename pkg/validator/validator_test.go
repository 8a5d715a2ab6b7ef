package validator

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/bridge25/dt-rag-sub000/pkg/store"
)

func node(id string, path ...string) *store.Node {
	return &store.Node{ID: id, Label: path[len(path)-1], CanonicalPath: path}
}

func edge(parent, child string) *store.Edge {
	return &store.Edge{ParentID: parent, ChildID: child}
}

// TestValidate_SimpleTree tests that a well-formed tree is valid.
func TestValidate_SimpleTree(t *testing.T) {
	g := &store.Graph{
		Version: "1.0.0",
		Nodes: []*store.Node{
			node("A", "A"),
			node("B", "A", "B"),
			node("C", "A", "C"),
			node("D", "A", "B", "D"),
		},
		Edges: []*store.Edge{
			edge("A", "B"),
			edge("A", "C"),
			edge("B", "D"),
		},
	}

	res := New(false).Validate(g)
	if !res.IsValid {
		t.Fatalf("Expected valid, got errors: %v", res.Errors)
	}
	if len(res.Cycles) != 0 || len(res.OrphanedNodes) != 0 {
		t.Errorf("Unexpected findings: %+v", res)
	}
}

// TestValidate_EmptyGraph tests the trivial case.
func TestValidate_EmptyGraph(t *testing.T) {
	res := New(false).Validate(&store.Graph{Version: "1.0.0"})
	if !res.IsValid {
		t.Errorf("Expected empty graph to be valid: %v", res.Errors)
	}
}

// TestValidate_RandomDAG tests that randomly generated acyclic graphs
// always validate.
func TestValidate_RandomDAG(t *testing.T) {
	rng := rand.New(rand.NewSource(42))

	for trial := 0; trial < 25; trial++ {
		n := 2 + rng.Intn(60)
		g := &store.Graph{Version: "1.0.0"}

		g.Nodes = append(g.Nodes, node("n0", "n0"))
		for i := 1; i < n; i++ {
			// Canonical parent is an earlier node, so edges only point
			// forward and the graph stays acyclic.
			parent := rng.Intn(i)
			parentNode := g.Nodes[parent]
			label := fmt.Sprintf("n%d", i)
			path := append(append([]string(nil), parentNode.CanonicalPath...), label)
			g.Nodes = append(g.Nodes, &store.Node{ID: label, Label: label, CanonicalPath: path})
			g.Edges = append(g.Edges, edge(parentNode.ID, label))

			// Occasionally add a secondary parent, still pointing forward.
			if i > 1 && rng.Intn(4) == 0 {
				extra := rng.Intn(i)
				if extra != parent {
					g.Edges = append(g.Edges, edge(g.Nodes[extra].ID, label))
				}
			}
		}

		res := New(false).Validate(g)
		if !res.IsValid {
			t.Fatalf("trial %d: random DAG flagged invalid: %v", trial, res.Errors)
		}
	}
}

// TestValidate_CycleExactPath tests that the reported cycle path matches
// the actual cycle.
func TestValidate_CycleExactPath(t *testing.T) {
	// A -> B, A -> C, C -> A: cycle [A, C]
	g := &store.Graph{
		Version: "1.1.0",
		Nodes: []*store.Node{
			node("A", "A"),
			node("B", "A", "B"),
			node("C", "A", "C"),
		},
		Edges: []*store.Edge{
			edge("A", "B"),
			edge("A", "C"),
			edge("C", "A"),
		},
	}

	res := New(false).Validate(g)
	if res.IsValid {
		t.Fatal("Expected cycle to invalidate graph")
	}
	if len(res.Cycles) != 1 {
		t.Fatalf("Expected 1 cycle, got %d: %v", len(res.Cycles), res.Cycles)
	}
	cycle := res.Cycles[0]
	if len(cycle) != 2 || cycle[0] != "A" || cycle[1] != "C" {
		t.Errorf("Expected cycle [A C], got %v", cycle)
	}
}

// TestValidate_SelfReferentialChain tests a longer cycle.
func TestValidate_LongerCycle(t *testing.T) {
	g := &store.Graph{
		Version: "1.0.0",
		Nodes: []*store.Node{
			node("A", "A"),
			node("B", "A", "B"),
			node("C", "A", "B", "C"),
		},
		Edges: []*store.Edge{
			edge("A", "B"),
			edge("B", "C"),
			edge("C", "B"),
		},
	}

	res := New(false).Validate(g)
	if res.IsValid {
		t.Fatal("Expected cycle to invalidate graph")
	}
	if len(res.Cycles) != 1 || len(res.Cycles[0]) != 2 {
		t.Fatalf("Expected one 2-node cycle, got %v", res.Cycles)
	}
	if res.Cycles[0][0] != "B" || res.Cycles[0][1] != "C" {
		t.Errorf("Expected cycle [B C], got %v", res.Cycles[0])
	}
}

// TestValidate_Orphans tests in-degree-zero detection.
func TestValidate_Orphans(t *testing.T) {
	g := &store.Graph{
		Version: "1.0.0",
		Nodes: []*store.Node{
			node("A", "A"),
			node("B", "A", "B"),
			node("X", "A", "X"), // claims a path under A but has no edge
		},
		Edges: []*store.Edge{
			edge("A", "B"),
		},
	}

	res := New(false).Validate(g)
	if res.IsValid {
		t.Fatal("Expected orphan to invalidate graph")
	}
	if len(res.OrphanedNodes) != 1 || res.OrphanedNodes[0] != "X" {
		t.Errorf("Expected orphan [X], got %v", res.OrphanedNodes)
	}
}

// TestValidate_Disconnected tests weak-component detection and the
// multi-root policy.
func TestValidate_Disconnected(t *testing.T) {
	g := &store.Graph{
		Version: "1.0.0",
		Nodes: []*store.Node{
			node("A", "A"),
			node("B", "A", "B"),
			node("R", "R"),
			node("S", "R", "S"),
		},
		Edges: []*store.Edge{
			edge("A", "B"),
			edge("R", "S"),
		},
	}

	res := New(false).Validate(g)
	if res.IsValid {
		t.Fatal("Expected disconnection to invalidate single-root graph")
	}
	if len(res.DisconnectedComponents) != 2 {
		t.Errorf("Expected 2 components, got %v", res.DisconnectedComponents)
	}

	// Same graph is valid under the multi-root policy.
	res = New(true).Validate(g)
	if !res.IsValid {
		t.Errorf("Expected multi-root graph to be valid: %v", res.Errors)
	}
}

// TestValidate_DuplicatePaths tests canonical-path uniqueness.
func TestValidate_DuplicatePaths(t *testing.T) {
	g := &store.Graph{
		Version: "1.0.0",
		Nodes: []*store.Node{
			node("A", "A"),
			node("B1", "A", "B"),
			node("B2", "A", "B"),
		},
		Edges: []*store.Edge{
			edge("A", "B1"),
			edge("A", "B2"),
		},
	}

	res := New(false).Validate(g)
	if res.IsValid {
		t.Fatal("Expected duplicate path to invalidate graph")
	}
	if len(res.DuplicatePaths) != 1 || res.DuplicatePaths[0] != "A/B" {
		t.Errorf("Expected duplicate [A/B], got %v", res.DuplicatePaths)
	}
}

// TestValidate_EdgeToMissingNode tests the referential check.
func TestValidate_EdgeToMissingNode(t *testing.T) {
	g := &store.Graph{
		Version: "1.0.0",
		Nodes: []*store.Node{
			node("A", "A"),
		},
		Edges: []*store.Edge{
			edge("A", "ghost"),
		},
	}

	res := New(false).Validate(g)
	if res.IsValid {
		t.Fatal("Expected dangling edge to invalidate graph")
	}
}

// TestValidate_DeepChain tests that a long chain does not blow the stack.
func TestValidate_DeepChain(t *testing.T) {
	g := &store.Graph{Version: "1.0.0"}
	g.Nodes = append(g.Nodes, node("n0", "n0"))
	for i := 1; i < 50000; i++ {
		label := fmt.Sprintf("n%d", i)
		// Short synthetic paths keep the fixture small; the check under
		// test is traversal depth, not path shape.
		g.Nodes = append(g.Nodes, node(label, "n0", label))
		g.Edges = append(g.Edges, edge(fmt.Sprintf("n%d", i-1), label))
	}

	res := New(false).Validate(g)
	if !res.IsValid {
		t.Fatalf("Expected deep chain to be valid: %v", res.Errors[:1])
	}
}
