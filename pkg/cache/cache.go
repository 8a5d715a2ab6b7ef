// Package cache materializes version-scoped taxonomy trees for the read
// path. Non-current versions are immutable, so their trees cache forever;
// only the entry for the live version is ever invalidated.
package cache

import (
	"context"
	"sort"
	"sync"

	"github.com/bridge25/dt-rag-sub000/pkg/store"
)

// TreeNode is one node of the materialized nested structure. A node with
// several structural parents appears under each of them.
type TreeNode struct {
	ID            string                 `json:"id"`
	Label         string                 `json:"label"`
	CanonicalPath []string               `json:"canonical_path"`
	Confidence    float64                `json:"confidence,omitempty"`
	Metadata      map[string]interface{} `json:"metadata,omitempty"`
	Children      []*TreeNode            `json:"children,omitempty"`
}

// Tree is the materialized view of one version.
type Tree struct {
	Version string      `json:"version"`
	Roots   []*TreeNode `json:"roots"`
}

// GraphCache builds and caches one tree per version.
type GraphCache struct {
	store store.GraphStore

	mu    sync.RWMutex
	trees map[string]*Tree
}

// New creates a cache over the given store.
func New(st store.GraphStore) *GraphCache {
	return &GraphCache{
		store: st,
		trees: make(map[string]*Tree),
	}
}

// GetTree returns the materialized tree for a version, building it on
// first access.
func (c *GraphCache) GetTree(ctx context.Context, version string) (*Tree, error) {
	c.mu.RLock()
	tree, ok := c.trees[version]
	c.mu.RUnlock()
	if ok {
		return tree, nil
	}

	graph, err := c.store.LoadVersion(ctx, version)
	if err != nil {
		return nil, err
	}
	tree = buildTree(graph)

	c.mu.Lock()
	// Another reader may have raced the build; keep the first entry so
	// callers always share one tree per version.
	if existing, ok := c.trees[version]; ok {
		tree = existing
	} else {
		c.trees[version] = tree
	}
	c.mu.Unlock()
	return tree, nil
}

// Ancestry returns the root-to-node label sequence for a node, read
// directly from its canonical path. It is not recomputed by traversal: a
// node may have several structural parents but exactly one canonical
// identity.
func (c *GraphCache) Ancestry(ctx context.Context, nodeID, version string) ([]string, error) {
	node, err := c.store.GetNode(ctx, nodeID, version)
	if err != nil {
		return nil, err
	}
	return node.CanonicalPath, nil
}

// Invalidate drops the cached tree for a version. Called with the
// pre-mutation current version after every successful migration or
// rollback.
func (c *GraphCache) Invalidate(version string) {
	c.mu.Lock()
	delete(c.trees, version)
	c.mu.Unlock()
}

// Len returns the number of cached trees.
func (c *GraphCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.trees)
}

func buildTree(graph *store.Graph) *Tree {
	byID := make(map[string]*TreeNode, len(graph.Nodes))
	for _, n := range graph.Nodes {
		byID[n.ID] = &TreeNode{
			ID:            n.ID,
			Label:         n.Label,
			CanonicalPath: n.CanonicalPath,
			Confidence:    n.Confidence,
			Metadata:      n.Metadata,
		}
	}

	hasParent := make(map[string]bool, len(graph.Nodes))
	for _, e := range graph.Edges {
		parent, pok := byID[e.ParentID]
		child, cok := byID[e.ChildID]
		if !pok || !cok {
			continue
		}
		parent.Children = append(parent.Children, child)
		hasParent[e.ChildID] = true
	}

	tree := &Tree{Version: graph.Version}
	for _, n := range graph.Nodes {
		if !hasParent[n.ID] {
			tree.Roots = append(tree.Roots, byID[n.ID])
		}
	}

	sortChildren(tree.Roots, make(map[*TreeNode]bool))
	return tree
}

// sortChildren orders siblings by label for stable output. The visited set
// stops revisiting shared subtrees.
func sortChildren(nodes []*TreeNode, visited map[*TreeNode]bool) {
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].Label < nodes[j].Label })
	for _, n := range nodes {
		if visited[n] {
			continue
		}
		visited[n] = true
		sortChildren(n.Children, visited)
	}
}
