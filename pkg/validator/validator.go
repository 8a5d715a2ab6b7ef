// Package validator checks the structural correctness of one taxonomy
// version: acyclicity, orphan nodes, disconnected components, and
// canonical-path uniqueness.
package validator

import (
	"fmt"
	"sort"
	"strings"

	"github.com/bridge25/dt-rag-sub000/pkg/store"
)

// Result is the outcome of validating one version. IsValid is true only
// when every check passed; the remaining fields itemize each violation.
type Result struct {
	IsValid                bool       `json:"is_valid"`
	Errors                 []string   `json:"errors"`
	Cycles                 [][]string `json:"cycles"`                  // label sequences, one per detected cycle
	OrphanedNodes          []string   `json:"orphaned_nodes"`          // node IDs with no incoming edge
	DisconnectedComponents [][]string `json:"disconnected_components"` // node ID groups, when more than one
	DuplicatePaths         []string   `json:"duplicate_paths"`         // canonical paths appearing more than once
}

// Validator runs structural checks against an in-memory graph snapshot.
type Validator struct {
	// AllowMultiRoot suppresses the disconnected-components error for
	// taxonomies that intentionally carry several root trees.
	AllowMultiRoot bool
}

// New creates a validator with the given multi-root policy.
func New(allowMultiRoot bool) *Validator {
	return &Validator{AllowMultiRoot: allowMultiRoot}
}

// node colors for the iterative DFS
const (
	white = iota // unvisited
	gray         // on the current visitation path
	black        // fully explored
)

// Validate runs all structural checks against the graph. The graph is
// materialized into an integer-indexed arena first; every traversal is
// iterative with an explicit stack, so pathological depths cannot blow
// the call stack.
func (v *Validator) Validate(g *store.Graph) *Result {
	res := &Result{
		Errors:                 []string{},
		Cycles:                 [][]string{},
		OrphanedNodes:          []string{},
		DisconnectedComponents: [][]string{},
		DuplicatePaths:         []string{},
	}

	n := len(g.Nodes)
	index := make(map[string]int, n)
	for i, node := range g.Nodes {
		index[node.ID] = i
	}

	// Adjacency arena. Edges referencing unknown nodes violate invariant 4
	// and are reported rather than traversed.
	children := make([][]int, n)
	indegree := make([]int, n)
	undirected := make([][]int, n)
	for _, e := range g.Edges {
		pi, pok := index[e.ParentID]
		ci, cok := index[e.ChildID]
		if !pok || !cok {
			res.Errors = append(res.Errors,
				fmt.Sprintf("edge %s->%s references a node missing from version %s", e.ParentID, e.ChildID, g.Version))
			continue
		}
		children[pi] = append(children[pi], ci)
		indegree[ci]++
		undirected[pi] = append(undirected[pi], ci)
		undirected[ci] = append(undirected[ci], pi)
	}

	v.detectCycles(g, children, res)
	v.detectOrphans(g, indegree, res)
	v.detectDisconnected(g, undirected, res)
	v.checkPathUniqueness(g, res)

	res.IsValid = len(res.Errors) == 0
	return res
}

// detectCycles runs an iterative three-color DFS with an explicit frame
// stack. When a gray node is rediscovered, the current path from its first
// occurrence is the cycle.
func (v *Validator) detectCycles(g *store.Graph, children [][]int, res *Result) {
	n := len(g.Nodes)
	color := make([]int, n)
	path := make([]int, 0, n)

	type frame struct {
		node int
		next int // index of the next child to visit
	}

	for start := 0; start < n; start++ {
		if color[start] != white {
			continue
		}

		stack := []frame{{node: start}}
		color[start] = gray
		path = append(path[:0], start)

		for len(stack) > 0 {
			top := &stack[len(stack)-1]
			if top.next < len(children[top.node]) {
				child := children[top.node][top.next]
				top.next++

				switch color[child] {
				case gray:
					// Found a back edge: the cycle is the path from the
					// child's position to the top of the path stack.
					cycleStart := 0
					for i, id := range path {
						if id == child {
							cycleStart = i
							break
						}
					}
					cycle := make([]string, 0, len(path)-cycleStart)
					for _, id := range path[cycleStart:] {
						cycle = append(cycle, g.Nodes[id].Label)
					}
					res.Cycles = append(res.Cycles, cycle)
					res.Errors = append(res.Errors,
						fmt.Sprintf("cycle detected: %s", strings.Join(cycle, " -> ")))
				case white:
					color[child] = gray
					path = append(path, child)
					stack = append(stack, frame{node: child})
				}
				continue
			}

			color[top.node] = black
			stack = stack[:len(stack)-1]
			path = path[:len(path)-1]
		}
	}
}

// detectOrphans flags every in-degree-zero node that is not a root.
func (v *Validator) detectOrphans(g *store.Graph, indegree []int, res *Result) {
	for i, node := range g.Nodes {
		if indegree[i] == 0 && !node.IsRoot() {
			res.OrphanedNodes = append(res.OrphanedNodes, node.ID)
			res.Errors = append(res.Errors,
				fmt.Sprintf("orphan node %s (%q) has no incoming edge", node.ID, node.Label))
		}
	}
}

// detectDisconnected computes weakly-connected components with an iterative
// BFS and flags more than one unless multi-root is allowed.
func (v *Validator) detectDisconnected(g *store.Graph, undirected [][]int, res *Result) {
	n := len(g.Nodes)
	if n == 0 {
		return
	}

	visited := make([]bool, n)
	var components [][]string

	for start := 0; start < n; start++ {
		if visited[start] {
			continue
		}
		var component []string
		queue := []int{start}
		visited[start] = true
		for len(queue) > 0 {
			cur := queue[0]
			queue = queue[1:]
			component = append(component, g.Nodes[cur].ID)
			for _, next := range undirected[cur] {
				if !visited[next] {
					visited[next] = true
					queue = append(queue, next)
				}
			}
		}
		sort.Strings(component)
		components = append(components, component)
	}

	if len(components) > 1 && !v.AllowMultiRoot {
		res.DisconnectedComponents = components
		res.Errors = append(res.Errors,
			fmt.Sprintf("graph has %d disconnected components", len(components)))
	}
}

// checkPathUniqueness verifies canonical paths are unique within the version.
func (v *Validator) checkPathUniqueness(g *store.Graph, res *Result) {
	seen := make(map[string]string, len(g.Nodes))
	for _, node := range g.Nodes {
		key := strings.Join(node.CanonicalPath, "/")
		if prev, ok := seen[key]; ok {
			res.DuplicatePaths = append(res.DuplicatePaths, key)
			res.Errors = append(res.Errors,
				fmt.Sprintf("canonical path %q is shared by nodes %s and %s", key, prev, node.ID))
			continue
		}
		seen[key] = node.ID
	}
}
