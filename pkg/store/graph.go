// Package store provides durable, version-scoped storage for the taxonomy graph.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/bridge25/dt-rag-sub000/pkg/migration"
)

// Node is one taxonomy category within one version. Rows are immutable:
// a structural change writes new rows under a new version and leaves the
// old version's rows untouched.
type Node struct {
	ID            string                 // Stable identity across versions (UUID)
	Label         string                 // Human label
	CanonicalPath []string               // Root-to-node label sequence, unique per version
	Version       string                 // Version this row belongs to
	Confidence    float64                // Optional classifier confidence
	Metadata      map[string]interface{} // Additional metadata as JSON
	CreatedAt     time.Time
}

// IsRoot reports whether the node is a taxonomy root. Roots are exactly
// the nodes whose canonical path contains a single label.
func (n *Node) IsRoot() bool {
	return len(n.CanonicalPath) == 1
}

// Edge is one parent→child relationship within one version.
type Edge struct {
	ParentID  string
	ChildID   string
	Version   string
	CreatedAt time.Time
}

// Graph is the complete node/edge set of a single version.
type Graph struct {
	Version string
	Nodes   []*Node
	Edges   []*Edge
}

// MigrationRecord describes how one version was produced from its predecessor.
type MigrationRecord struct {
	FromVersion string
	ToVersion   string
	Ops         []migration.Operation
	Rationale   string
	Actor       string
	CreatedAt   time.Time
}

// VersionCommit is the unit handed to CommitVersion: the full post-migration
// row set for the new version plus its migration record. Persisted in a
// single transaction or not at all.
type VersionCommit struct {
	FromVersion string
	ToVersion   string
	Nodes       []*Node
	Edges       []*Edge
	Ops         []migration.Operation
	Rationale   string
	Actor       string
}

// RollbackAudit is the durable record of one rollback attempt.
type RollbackAudit struct {
	ID          string
	FromVersion string
	ToVersion   string
	Reason      string
	PerformedBy string
	DurationMs  int64
	Outcome     string
	CreatedAt   time.Time
}

// RollbackCommit is the unit handed to ExecuteRollback: delete every row
// belonging to RemoveVersions, write the audit entry, and repoint the
// current version to TargetVersion, all in one transaction.
type RollbackCommit struct {
	TargetVersion  string
	RemoveVersions []string
	// StartedAt, when set, stamps the audit entry's DurationMs right before
	// the insert so the durable record covers the deletion work, not just
	// planning.
	StartedAt time.Time
	Audit     *RollbackAudit
}

// GraphStore is the only component that touches durable storage. All reads
// are version-scoped; all writes happen inside a single transaction, so a
// partially-written version is never observable.
type GraphStore interface {
	// LoadVersion returns the complete graph for a version.
	// Returns ErrVersionNotFound if no migration produced that version.
	LoadVersion(ctx context.Context, version string) (*Graph, error)

	// GetNode retrieves one node row within a version.
	// Returns ErrNodeNotFound if the node does not exist in that version.
	GetNode(ctx context.Context, nodeID, version string) (*Node, error)

	// CurrentVersion returns the live version pointer.
	// Returns ErrNoCurrentVersion on a freshly-initialized store.
	CurrentVersion(ctx context.Context) (string, error)

	// CommitVersion persists a new version atomically: node rows, edge rows,
	// the migration record, and the current-version pointer update.
	// FromVersion may be empty only for the bootstrap commit.
	CommitVersion(ctx context.Context, commit *VersionCommit) error

	// History returns all migration records in commit order (oldest first).
	History(ctx context.Context) ([]*MigrationRecord, error)

	// CountRowsForVersions returns the node+edge+migration row count for the
	// given versions. Used by rollback planning to estimate duration.
	CountRowsForVersions(ctx context.Context, versions []string) (int64, error)

	// ExecuteRollback atomically deletes every row for the versions being
	// removed, records the audit entry, and repoints the current version.
	ExecuteRollback(ctx context.Context, rb *RollbackCommit) error

	// AppendRollbackAudit records a rollback attempt outside the rollback
	// transaction (used for aborted attempts that deleted nothing).
	AppendRollbackAudit(ctx context.Context, audit *RollbackAudit) error

	// RollbackAudits returns all rollback audit entries, oldest first.
	RollbackAudits(ctx context.Context) ([]*RollbackAudit, error)

	// NodeCount returns the number of node rows in a version.
	NodeCount(ctx context.Context, version string) (int64, error)

	// EdgeCount returns the number of edge rows in a version.
	EdgeCount(ctx context.Context, version string) (int64, error)

	// Close releases any resources held by the store.
	Close() error
}

// ErrNodeNotFound indicates the node does not exist in the requested version.
var ErrNodeNotFound = errors.New("node not found")

// ErrVersionNotFound indicates no committed version matches the request.
var ErrVersionNotFound = errors.New("version not found")

// ErrVersionExists indicates a commit targeted an already-committed version.
var ErrVersionExists = errors.New("version already exists")

// ErrNoCurrentVersion indicates the store has no committed versions yet.
var ErrNoCurrentVersion = errors.New("no current version")
