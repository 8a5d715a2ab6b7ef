package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bridge25/dt-rag-sub000/pkg/migration"
)

// MemoryGraphStore is an in-memory GraphStore for tests and ephemeral use.
// It mirrors the SQLite store's semantics, including all-or-nothing commits.
type MemoryGraphStore struct {
	mu         sync.RWMutex
	nodes      map[string][]*Node // version -> node rows
	edges      map[string][]*Edge // version -> edge rows
	migrations []*MigrationRecord // commit order
	audits     []*RollbackAudit
	current    string
	hasCurrent bool
}

// NewMemoryGraphStore creates an empty in-memory graph store.
func NewMemoryGraphStore() *MemoryGraphStore {
	return &MemoryGraphStore{
		nodes: make(map[string][]*Node),
		edges: make(map[string][]*Edge),
	}
}

// LoadVersion returns the complete graph for a version.
func (m *MemoryGraphStore) LoadVersion(ctx context.Context, version string) (*Graph, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if !m.versionExistsLocked(version) {
		return nil, fmt.Errorf("%w: %s", ErrVersionNotFound, version)
	}

	graph := &Graph{Version: version}
	for _, n := range m.nodes[version] {
		graph.Nodes = append(graph.Nodes, copyNode(n))
	}
	for _, e := range m.edges[version] {
		c := *e
		graph.Edges = append(graph.Edges, &c)
	}
	return graph, nil
}

// GetNode retrieves one node row within a version.
func (m *MemoryGraphStore) GetNode(ctx context.Context, nodeID, version string) (*Node, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, n := range m.nodes[version] {
		if n.ID == nodeID {
			return copyNode(n), nil
		}
	}
	return nil, fmt.Errorf("%w: %s in version %s", ErrNodeNotFound, nodeID, version)
}

// CurrentVersion returns the live version pointer.
func (m *MemoryGraphStore) CurrentVersion(ctx context.Context) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if !m.hasCurrent {
		return "", ErrNoCurrentVersion
	}
	return m.current, nil
}

// CommitVersion persists a new version atomically under the store lock.
func (m *MemoryGraphStore) CommitVersion(ctx context.Context, commit *VersionCommit) error {
	if commit.ToVersion == "" {
		return fmt.Errorf("commit is missing a target version")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.versionExistsLocked(commit.ToVersion) {
		return fmt.Errorf("%w: %s", ErrVersionExists, commit.ToVersion)
	}

	now := time.Now()
	nodes := make([]*Node, 0, len(commit.Nodes))
	for _, n := range commit.Nodes {
		c := copyNode(n)
		c.Version = commit.ToVersion
		if c.CreatedAt.IsZero() {
			c.CreatedAt = now
		}
		nodes = append(nodes, c)
	}
	edges := make([]*Edge, 0, len(commit.Edges))
	for _, e := range commit.Edges {
		c := *e
		c.Version = commit.ToVersion
		if c.CreatedAt.IsZero() {
			c.CreatedAt = now
		}
		edges = append(edges, &c)
	}

	m.nodes[commit.ToVersion] = nodes
	m.edges[commit.ToVersion] = edges
	m.migrations = append(m.migrations, &MigrationRecord{
		FromVersion: commit.FromVersion,
		ToVersion:   commit.ToVersion,
		Ops:         append([]migration.Operation(nil), commit.Ops...),
		Rationale:   commit.Rationale,
		Actor:       commit.Actor,
		CreatedAt:   now,
	})
	m.current = commit.ToVersion
	m.hasCurrent = true
	return nil
}

// History returns all migration records in commit order.
func (m *MemoryGraphStore) History(ctx context.Context) ([]*MigrationRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*MigrationRecord, len(m.migrations))
	copy(out, m.migrations)
	return out, nil
}

// CountRowsForVersions returns the node+edge+migration row count for the
// given versions.
func (m *MemoryGraphStore) CountRowsForVersions(ctx context.Context, versions []string) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var total int64
	for _, v := range versions {
		total += int64(len(m.nodes[v]) + len(m.edges[v]))
		if m.versionExistsLocked(v) {
			total++
		}
	}
	return total, nil
}

// ExecuteRollback removes the newer versions, records the audit entry and
// repoints the current version, atomically under the store lock.
func (m *MemoryGraphStore) ExecuteRollback(ctx context.Context, rb *RollbackCommit) error {
	if len(rb.RemoveVersions) == 0 {
		return fmt.Errorf("rollback has no versions to remove")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	remove := make(map[string]bool, len(rb.RemoveVersions))
	for _, v := range rb.RemoveVersions {
		remove[v] = true
	}

	for v := range remove {
		delete(m.nodes, v)
		delete(m.edges, v)
	}
	kept := m.migrations[:0]
	for _, rec := range m.migrations {
		if !remove[rec.ToVersion] {
			kept = append(kept, rec)
		}
	}
	m.migrations = kept

	if rb.Audit != nil {
		if !rb.StartedAt.IsZero() {
			rb.Audit.DurationMs = time.Since(rb.StartedAt).Milliseconds()
		}
		m.appendAuditLocked(rb.Audit)
	}
	m.current = rb.TargetVersion
	m.hasCurrent = true
	return nil
}

// AppendRollbackAudit records a rollback attempt that deleted nothing.
func (m *MemoryGraphStore) AppendRollbackAudit(ctx context.Context, audit *RollbackAudit) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.appendAuditLocked(audit)
	return nil
}

// RollbackAudits returns all rollback audit entries, oldest first.
func (m *MemoryGraphStore) RollbackAudits(ctx context.Context) ([]*RollbackAudit, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*RollbackAudit, len(m.audits))
	copy(out, m.audits)
	return out, nil
}

// NodeCount returns the number of node rows in a version.
func (m *MemoryGraphStore) NodeCount(ctx context.Context, version string) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return int64(len(m.nodes[version])), nil
}

// EdgeCount returns the number of edge rows in a version.
func (m *MemoryGraphStore) EdgeCount(ctx context.Context, version string) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return int64(len(m.edges[version])), nil
}

// Close is a no-op for the in-memory store.
func (m *MemoryGraphStore) Close() error {
	return nil
}

func (m *MemoryGraphStore) versionExistsLocked(version string) bool {
	for _, rec := range m.migrations {
		if rec.ToVersion == version {
			return true
		}
	}
	return false
}

func (m *MemoryGraphStore) appendAuditLocked(audit *RollbackAudit) {
	c := *audit
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now()
	}
	m.audits = append(m.audits, &c)
}

func copyNode(n *Node) *Node {
	c := *n
	c.CanonicalPath = append([]string(nil), n.CanonicalPath...)
	if n.Metadata != nil {
		c.Metadata = make(map[string]interface{}, len(n.Metadata))
		for k, v := range n.Metadata {
			c.Metadata[k] = v
		}
	}
	return &c
}
