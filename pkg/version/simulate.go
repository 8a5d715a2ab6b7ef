package version

import (
	"fmt"
	"sort"

	"github.com/bridge25/dt-rag-sub000/pkg/migration"
	"github.com/bridge25/dt-rag-sub000/pkg/store"
)

// simGraph is a mutable copy of one version's graph used to simulate a
// migration batch before anything is persisted. It maintains canonical
// paths as operations move nodes around.
type simGraph struct {
	nodes    map[string]*store.Node
	children map[string][]string
	parents  map[string][]string
	order    []string // node insertion order, for deterministic output
}

func newSimGraph(base *store.Graph) *simGraph {
	s := &simGraph{
		nodes:    make(map[string]*store.Node, len(base.Nodes)),
		children: make(map[string][]string),
		parents:  make(map[string][]string),
	}
	for _, n := range base.Nodes {
		c := *n
		c.CanonicalPath = append([]string(nil), n.CanonicalPath...)
		s.nodes[n.ID] = &c
		s.order = append(s.order, n.ID)
	}
	for _, e := range base.Edges {
		s.children[e.ParentID] = append(s.children[e.ParentID], e.ChildID)
		s.parents[e.ChildID] = append(s.parents[e.ChildID], e.ParentID)
	}
	return s
}

// apply executes one operation against the simulated graph, enforcing its
// preconditions. Structural invariants (acyclicity, orphans, path
// uniqueness) are left to the validator on the finished simulation.
func (s *simGraph) apply(op migration.Operation) error {
	switch op.Kind {
	case migration.KindAddNode:
		return s.applyAddNode(op.AddNode)
	case migration.KindMoveNode:
		return s.applyMoveNode(op.MoveNode)
	case migration.KindMergeNodes:
		return s.applyMergeNodes(op.MergeNodes)
	case migration.KindDeleteNode:
		return s.applyDeleteNode(op.DeleteNode)
	case migration.KindAddEdge:
		return s.applyAddEdge(op.AddEdge)
	case migration.KindRemoveEdge:
		return s.applyRemoveEdge(op.RemoveEdge)
	}
	return fmt.Errorf("unknown operation kind %q", op.Kind)
}

func (s *simGraph) applyAddNode(p *migration.AddNodePayload) error {
	if _, exists := s.nodes[p.NodeID]; exists {
		return fmt.Errorf("node %s already exists", p.NodeID)
	}
	parent, ok := s.nodes[p.ParentID]
	if !ok {
		return fmt.Errorf("parent node %s does not exist", p.ParentID)
	}

	path := append(append([]string(nil), parent.CanonicalPath...), p.Label)
	s.nodes[p.NodeID] = &store.Node{
		ID:            p.NodeID,
		Label:         p.Label,
		CanonicalPath: path,
		Confidence:    p.Confidence,
		Metadata:      p.Metadata,
	}
	s.order = append(s.order, p.NodeID)
	s.addEdge(p.ParentID, p.NodeID)
	return nil
}

func (s *simGraph) applyMoveNode(p *migration.MoveNodePayload) error {
	node, ok := s.nodes[p.NodeID]
	if !ok {
		return fmt.Errorf("node %s does not exist", p.NodeID)
	}
	if _, ok := s.nodes[p.FromParentID]; !ok {
		return fmt.Errorf("source parent %s does not exist", p.FromParentID)
	}
	newParent, ok := s.nodes[p.ToParentID]
	if !ok {
		return fmt.Errorf("target parent %s does not exist", p.ToParentID)
	}
	if !s.hasEdge(p.FromParentID, p.NodeID) {
		return fmt.Errorf("node %s is not a child of %s", p.NodeID, p.FromParentID)
	}
	if s.hasEdge(p.ToParentID, p.NodeID) {
		return fmt.Errorf("node %s is already a child of %s", p.NodeID, p.ToParentID)
	}

	wasCanonical := s.isCanonicalParent(p.FromParentID, p.NodeID)
	s.removeEdge(p.FromParentID, p.NodeID)
	s.addEdge(p.ToParentID, p.NodeID)
	if wasCanonical {
		newPath := append(append([]string(nil), newParent.CanonicalPath...), node.Label)
		s.rewriteSubtreePaths(p.NodeID, newPath)
	}
	return nil
}

func (s *simGraph) applyMergeNodes(p *migration.MergeNodesPayload) error {
	source, ok := s.nodes[p.SourceID]
	if !ok {
		return fmt.Errorf("source node %s does not exist", p.SourceID)
	}
	target, ok := s.nodes[p.TargetID]
	if !ok {
		return fmt.Errorf("target node %s does not exist", p.TargetID)
	}
	if source.IsRoot() {
		return fmt.Errorf("cannot merge away the root node %s", p.SourceID)
	}

	// Re-parent the source's children to the target.
	for _, child := range append([]string(nil), s.children[p.SourceID]...) {
		wasCanonical := s.isCanonicalParent(p.SourceID, child)
		s.removeEdge(p.SourceID, child)
		if !s.hasEdge(p.TargetID, child) {
			s.addEdge(p.TargetID, child)
		}
		if wasCanonical {
			newPath := append(append([]string(nil), target.CanonicalPath...), s.nodes[child].Label)
			s.rewriteSubtreePaths(child, newPath)
		}
	}

	for _, parent := range append([]string(nil), s.parents[p.SourceID]...) {
		s.removeEdge(parent, p.SourceID)
	}
	s.deleteNode(p.SourceID)
	return nil
}

func (s *simGraph) applyDeleteNode(p *migration.DeleteNodePayload) error {
	node, ok := s.nodes[p.NodeID]
	if !ok {
		return fmt.Errorf("node %s does not exist", p.NodeID)
	}
	if node.IsRoot() {
		return fmt.Errorf("cannot delete the root node %s", p.NodeID)
	}
	if len(s.children[p.NodeID]) > 0 {
		return fmt.Errorf("node %s still has %d children", p.NodeID, len(s.children[p.NodeID]))
	}

	for _, parent := range append([]string(nil), s.parents[p.NodeID]...) {
		s.removeEdge(parent, p.NodeID)
	}
	s.deleteNode(p.NodeID)
	return nil
}

func (s *simGraph) applyAddEdge(p *migration.AddEdgePayload) error {
	if _, ok := s.nodes[p.ParentID]; !ok {
		return fmt.Errorf("parent node %s does not exist", p.ParentID)
	}
	if _, ok := s.nodes[p.ChildID]; !ok {
		return fmt.Errorf("child node %s does not exist", p.ChildID)
	}
	if s.hasEdge(p.ParentID, p.ChildID) {
		return fmt.Errorf("edge %s->%s already exists", p.ParentID, p.ChildID)
	}
	// A cycle introduced here is caught by the validator on the finished
	// simulation, with the exact cycle path reported.
	s.addEdge(p.ParentID, p.ChildID)
	return nil
}

func (s *simGraph) applyRemoveEdge(p *migration.RemoveEdgePayload) error {
	if !s.hasEdge(p.ParentID, p.ChildID) {
		return fmt.Errorf("edge %s->%s does not exist", p.ParentID, p.ChildID)
	}

	wasCanonical := s.isCanonicalParent(p.ParentID, p.ChildID)
	s.removeEdge(p.ParentID, p.ChildID)

	// The child keeps its canonical identity through another parent when
	// one remains; with none left the validator flags it as an orphan.
	if wasCanonical {
		remaining := append([]string(nil), s.parents[p.ChildID]...)
		if len(remaining) > 0 {
			sort.Strings(remaining)
			newParent := s.nodes[remaining[0]]
			child := s.nodes[p.ChildID]
			newPath := append(append([]string(nil), newParent.CanonicalPath...), child.Label)
			s.rewriteSubtreePaths(p.ChildID, newPath)
		}
	}
	return nil
}

// isCanonicalParent reports whether parent's canonical path is the child's
// canonical path minus its last element.
func (s *simGraph) isCanonicalParent(parentID, childID string) bool {
	parent, pok := s.nodes[parentID]
	child, cok := s.nodes[childID]
	if !pok || !cok || len(child.CanonicalPath) != len(parent.CanonicalPath)+1 {
		return false
	}
	for i, label := range parent.CanonicalPath {
		if child.CanonicalPath[i] != label {
			return false
		}
	}
	return true
}

// rewriteSubtreePaths replaces the canonical-path prefix of node and every
// descendant that inherited it. Iterative BFS; a visited set guards
// against traversing a cycle the batch may have introduced.
func (s *simGraph) rewriteSubtreePaths(nodeID string, newPath []string) {
	node, ok := s.nodes[nodeID]
	if !ok {
		return
	}
	oldPath := node.CanonicalPath
	node.CanonicalPath = newPath

	visited := map[string]bool{nodeID: true}
	queue := []string{nodeID}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, childID := range s.children[cur] {
			if visited[childID] {
				continue
			}
			visited[childID] = true
			child := s.nodes[childID]
			if child == nil || !hasPrefix(child.CanonicalPath, oldPath) {
				continue
			}
			rewritten := append(append([]string(nil), newPath...), child.CanonicalPath[len(oldPath):]...)
			child.CanonicalPath = rewritten
			queue = append(queue, childID)
		}
	}
}

func hasPrefix(path, prefix []string) bool {
	if len(path) < len(prefix) {
		return false
	}
	for i, label := range prefix {
		if path[i] != label {
			return false
		}
	}
	return true
}

func (s *simGraph) addEdge(parentID, childID string) {
	s.children[parentID] = append(s.children[parentID], childID)
	s.parents[childID] = append(s.parents[childID], parentID)
}

func (s *simGraph) removeEdge(parentID, childID string) {
	s.children[parentID] = removeString(s.children[parentID], childID)
	s.parents[childID] = removeString(s.parents[childID], parentID)
}

func (s *simGraph) hasEdge(parentID, childID string) bool {
	for _, c := range s.children[parentID] {
		if c == childID {
			return true
		}
	}
	return false
}

func (s *simGraph) deleteNode(nodeID string) {
	delete(s.nodes, nodeID)
	delete(s.children, nodeID)
	delete(s.parents, nodeID)
	s.order = removeString(s.order, nodeID)
}

func removeString(list []string, target string) []string {
	out := list[:0]
	for _, v := range list {
		if v != target {
			out = append(out, v)
		}
	}
	return out
}

// toGraph materializes the simulation as the row set of the new version.
func (s *simGraph) toGraph(version string) *store.Graph {
	g := &store.Graph{Version: version}
	for _, id := range s.order {
		node, ok := s.nodes[id]
		if !ok {
			continue
		}
		c := *node
		c.Version = version
		c.CanonicalPath = append([]string(nil), node.CanonicalPath...)
		g.Nodes = append(g.Nodes, &c)
	}

	parentIDs := make([]string, 0, len(s.children))
	for parentID := range s.children {
		parentIDs = append(parentIDs, parentID)
	}
	sort.Strings(parentIDs)
	for _, parentID := range parentIDs {
		childIDs := append([]string(nil), s.children[parentID]...)
		sort.Strings(childIDs)
		for _, childID := range childIDs {
			g.Edges = append(g.Edges, &store.Edge{
				ParentID: parentID,
				ChildID:  childID,
				Version:  version,
			})
		}
	}
	return g
}
