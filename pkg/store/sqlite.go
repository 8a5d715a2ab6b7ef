package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // SQLite driver

	"github.com/bridge25/dt-rag-sub000/pkg/migration"
)

// SQLiteGraphStore implements GraphStore using SQLite as the backend.
type SQLiteGraphStore struct {
	db *sql.DB
}

// NewSQLiteGraphStore creates a new SQLite-backed graph store.
// The dbPath can be a file path or ":memory:" for an in-memory database.
// Creates tables and indexes if they don't exist.
func NewSQLiteGraphStore(dbPath string) (*SQLiteGraphStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Serialized writes: mutations are already single-flight at the guard
	// level, and a single connection keeps :memory: databases coherent.
	db.SetMaxOpenConns(1)

	store := &SQLiteGraphStore{db: db}
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

// initSchema creates the database schema if it doesn't exist.
func (s *SQLiteGraphStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS nodes (
		node_id TEXT NOT NULL,
		label TEXT NOT NULL,
		canonical_path TEXT NOT NULL,
		version TEXT NOT NULL,
		confidence REAL DEFAULT 0,
		metadata TEXT,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (node_id, version)
	);

	CREATE INDEX IF NOT EXISTS idx_nodes_version ON nodes(version);

	CREATE TABLE IF NOT EXISTS edges (
		parent_id TEXT NOT NULL,
		child_id TEXT NOT NULL,
		version TEXT NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (parent_id, child_id, version)
	);

	CREATE INDEX IF NOT EXISTS idx_edges_version ON edges(version);

	CREATE TABLE IF NOT EXISTS migrations (
		from_version TEXT NOT NULL,
		to_version TEXT NOT NULL PRIMARY KEY,
		ops TEXT NOT NULL,
		rationale TEXT,
		actor TEXT,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS current_version (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		version TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS rollback_audit (
		id TEXT PRIMARY KEY,
		from_version TEXT NOT NULL,
		to_version TEXT NOT NULL,
		reason TEXT,
		performed_by TEXT,
		duration_ms INTEGER DEFAULT 0,
		outcome TEXT NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY
	);
	INSERT OR IGNORE INTO schema_version (version) VALUES (1);
	`

	_, err := s.db.Exec(schema)
	return err
}

// LoadVersion returns the complete graph for a version.
func (s *SQLiteGraphStore) LoadVersion(ctx context.Context, version string) (*Graph, error) {
	exists, err := s.versionExists(ctx, version)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrVersionNotFound, version)
	}

	graph := &Graph{Version: version}

	rows, err := s.db.QueryContext(ctx, `
		SELECT node_id, label, canonical_path, version, confidence, metadata, created_at
		FROM nodes
		WHERE version = ?
		ORDER BY created_at, node_id
	`, version)
	if err != nil {
		return nil, fmt.Errorf("failed to query nodes: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		node, err := scanNode(rows)
		if err != nil {
			return nil, err
		}
		graph.Nodes = append(graph.Nodes, node)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating nodes: %w", err)
	}

	edgeRows, err := s.db.QueryContext(ctx, `
		SELECT parent_id, child_id, version, created_at
		FROM edges
		WHERE version = ?
		ORDER BY created_at, parent_id, child_id
	`, version)
	if err != nil {
		return nil, fmt.Errorf("failed to query edges: %w", err)
	}
	defer edgeRows.Close()

	for edgeRows.Next() {
		var edge Edge
		if err := edgeRows.Scan(&edge.ParentID, &edge.ChildID, &edge.Version, &edge.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan edge: %w", err)
		}
		graph.Edges = append(graph.Edges, &edge)
	}
	if err := edgeRows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating edges: %w", err)
	}

	return graph, nil
}

// GetNode retrieves one node row within a version.
func (s *SQLiteGraphStore) GetNode(ctx context.Context, nodeID, version string) (*Node, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT node_id, label, canonical_path, version, confidence, metadata, created_at
		FROM nodes
		WHERE node_id = ? AND version = ?
	`, nodeID, version)

	node, err := scanNode(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %s in version %s", ErrNodeNotFound, nodeID, version)
	}
	if err != nil {
		return nil, err
	}
	return node, nil
}

// CurrentVersion returns the live version pointer.
func (s *SQLiteGraphStore) CurrentVersion(ctx context.Context) (string, error) {
	var version string
	err := s.db.QueryRowContext(ctx, "SELECT version FROM current_version WHERE id = 1").Scan(&version)
	if err == sql.ErrNoRows {
		return "", ErrNoCurrentVersion
	}
	if err != nil {
		return "", fmt.Errorf("failed to read current version: %w", err)
	}
	return version, nil
}

// CommitVersion persists a new version in a single transaction: all node
// rows, all edge rows, the migration record, and the current-version
// pointer. On any failure the transaction aborts and the prior version is
// unaffected.
func (s *SQLiteGraphStore) CommitVersion(ctx context.Context, commit *VersionCommit) error {
	if commit.ToVersion == "" {
		return fmt.Errorf("commit is missing a target version")
	}

	exists, err := s.versionExists(ctx, commit.ToVersion)
	if err != nil {
		return err
	}
	if exists {
		return fmt.Errorf("%w: %s", ErrVersionExists, commit.ToVersion)
	}

	opsJSON, err := migration.EncodeOps(commit.Ops)
	if err != nil {
		return err
	}

	return s.withTx(ctx, func(tx *sql.Tx) error {
		now := time.Now()

		for _, node := range commit.Nodes {
			pathJSON, err := json.Marshal(node.CanonicalPath)
			if err != nil {
				return fmt.Errorf("failed to marshal canonical path: %w", err)
			}
			var metadataJSON []byte
			if node.Metadata != nil {
				metadataJSON, err = json.Marshal(node.Metadata)
				if err != nil {
					return fmt.Errorf("failed to marshal metadata: %w", err)
				}
			}
			createdAt := node.CreatedAt
			if createdAt.IsZero() {
				createdAt = now
			}
			_, err = tx.ExecContext(ctx, `
				INSERT INTO nodes (node_id, label, canonical_path, version, confidence, metadata, created_at)
				VALUES (?, ?, ?, ?, ?, ?, ?)
			`, node.ID, node.Label, string(pathJSON), commit.ToVersion, node.Confidence, metadataJSON, createdAt)
			if err != nil {
				return fmt.Errorf("failed to insert node %s: %w", node.ID, err)
			}
		}

		for _, edge := range commit.Edges {
			createdAt := edge.CreatedAt
			if createdAt.IsZero() {
				createdAt = now
			}
			_, err := tx.ExecContext(ctx, `
				INSERT INTO edges (parent_id, child_id, version, created_at)
				VALUES (?, ?, ?, ?)
			`, edge.ParentID, edge.ChildID, commit.ToVersion, createdAt)
			if err != nil {
				return fmt.Errorf("failed to insert edge %s->%s: %w", edge.ParentID, edge.ChildID, err)
			}
		}

		_, err := tx.ExecContext(ctx, `
			INSERT INTO migrations (from_version, to_version, ops, rationale, actor, created_at)
			VALUES (?, ?, ?, ?, ?, ?)
		`, commit.FromVersion, commit.ToVersion, string(opsJSON), commit.Rationale, commit.Actor, now)
		if err != nil {
			return fmt.Errorf("failed to insert migration record: %w", err)
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO current_version (id, version) VALUES (1, ?)
			ON CONFLICT (id) DO UPDATE SET version = excluded.version
		`, commit.ToVersion)
		if err != nil {
			return fmt.Errorf("failed to update current version: %w", err)
		}

		return nil
	})
}

// History returns all migration records in commit order (oldest first).
func (s *SQLiteGraphStore) History(ctx context.Context) ([]*MigrationRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT from_version, to_version, ops, rationale, actor, created_at
		FROM migrations
		ORDER BY rowid
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query migrations: %w", err)
	}
	defer rows.Close()

	var records []*MigrationRecord
	for rows.Next() {
		var rec MigrationRecord
		var opsJSON string
		if err := rows.Scan(&rec.FromVersion, &rec.ToVersion, &opsJSON, &rec.Rationale, &rec.Actor, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan migration record: %w", err)
		}
		rec.Ops, err = migration.DecodeOps([]byte(opsJSON))
		if err != nil {
			return nil, fmt.Errorf("migration record %s is corrupt: %w", rec.ToVersion, err)
		}
		records = append(records, &rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating migrations: %w", err)
	}
	return records, nil
}

// CountRowsForVersions returns the node+edge+migration row count for the
// given versions.
func (s *SQLiteGraphStore) CountRowsForVersions(ctx context.Context, versions []string) (int64, error) {
	if len(versions) == 0 {
		return 0, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(versions)), ",")
	args := make([]interface{}, 0, len(versions)*3)
	for _, v := range versions {
		args = append(args, v)
	}

	var total int64
	queries := []string{
		fmt.Sprintf("SELECT COUNT(*) FROM nodes WHERE version IN (%s)", placeholders),
		fmt.Sprintf("SELECT COUNT(*) FROM edges WHERE version IN (%s)", placeholders),
		fmt.Sprintf("SELECT COUNT(*) FROM migrations WHERE to_version IN (%s)", placeholders),
	}
	for _, q := range queries {
		var count int64
		if err := s.db.QueryRowContext(ctx, q, args...).Scan(&count); err != nil {
			return 0, fmt.Errorf("failed to count rows: %w", err)
		}
		total += count
	}
	return total, nil
}

// ExecuteRollback deletes every row for the versions being removed, writes
// the audit entry, and repoints the current version — all in one
// transaction. Prior versions' rows are never touched.
func (s *SQLiteGraphStore) ExecuteRollback(ctx context.Context, rb *RollbackCommit) error {
	if len(rb.RemoveVersions) == 0 {
		return fmt.Errorf("rollback has no versions to remove")
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(rb.RemoveVersions)), ",")
	args := make([]interface{}, 0, len(rb.RemoveVersions))
	for _, v := range rb.RemoveVersions {
		args = append(args, v)
	}

	return s.withTx(ctx, func(tx *sql.Tx) error {
		for _, stmt := range []string{
			fmt.Sprintf("DELETE FROM nodes WHERE version IN (%s)", placeholders),
			fmt.Sprintf("DELETE FROM edges WHERE version IN (%s)", placeholders),
			fmt.Sprintf("DELETE FROM migrations WHERE to_version IN (%s)", placeholders),
		} {
			if _, err := tx.ExecContext(ctx, stmt, args...); err != nil {
				return fmt.Errorf("failed to delete rolled-back rows: %w", err)
			}
		}

		if rb.Audit != nil {
			if !rb.StartedAt.IsZero() {
				rb.Audit.DurationMs = time.Since(rb.StartedAt).Milliseconds()
			}
			if err := insertAudit(ctx, tx, rb.Audit); err != nil {
				return err
			}
		}

		_, err := tx.ExecContext(ctx, `
			INSERT INTO current_version (id, version) VALUES (1, ?)
			ON CONFLICT (id) DO UPDATE SET version = excluded.version
		`, rb.TargetVersion)
		if err != nil {
			return fmt.Errorf("failed to repoint current version: %w", err)
		}
		return nil
	})
}

// AppendRollbackAudit records a rollback attempt that did not reach the
// delete transaction (e.g. an aborted plan).
func (s *SQLiteGraphStore) AppendRollbackAudit(ctx context.Context, audit *RollbackAudit) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		return insertAudit(ctx, tx, audit)
	})
}

// RollbackAudits returns all rollback audit entries, oldest first.
func (s *SQLiteGraphStore) RollbackAudits(ctx context.Context) ([]*RollbackAudit, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, from_version, to_version, reason, performed_by, duration_ms, outcome, created_at
		FROM rollback_audit
		ORDER BY rowid
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query rollback audit: %w", err)
	}
	defer rows.Close()

	var audits []*RollbackAudit
	for rows.Next() {
		var a RollbackAudit
		if err := rows.Scan(&a.ID, &a.FromVersion, &a.ToVersion, &a.Reason, &a.PerformedBy, &a.DurationMs, &a.Outcome, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan rollback audit: %w", err)
		}
		audits = append(audits, &a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rollback audit: %w", err)
	}
	return audits, nil
}

// NodeCount returns the number of node rows in a version.
func (s *SQLiteGraphStore) NodeCount(ctx context.Context, version string) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM nodes WHERE version = ?", version).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count nodes: %w", err)
	}
	return count, nil
}

// EdgeCount returns the number of edge rows in a version.
func (s *SQLiteGraphStore) EdgeCount(ctx context.Context, version string) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM edges WHERE version = ?", version).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count edges: %w", err)
	}
	return count, nil
}

// Close releases database resources.
func (s *SQLiteGraphStore) Close() error {
	return s.db.Close()
}

// withTx runs fn inside a transaction, committing on success and rolling
// back on any error.
func (s *SQLiteGraphStore) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// versionExists checks whether a migration produced the given version.
func (s *SQLiteGraphStore) versionExists(ctx context.Context, version string) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM migrations WHERE to_version = ?", version).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to check version: %w", err)
	}
	return count > 0, nil
}

func insertAudit(ctx context.Context, tx *sql.Tx, audit *RollbackAudit) error {
	if audit.ID == "" {
		audit.ID = uuid.New().String()
	}
	if audit.CreatedAt.IsZero() {
		audit.CreatedAt = time.Now()
	}
	_, err := tx.ExecContext(ctx, `
		INSERT INTO rollback_audit (id, from_version, to_version, reason, performed_by, duration_ms, outcome, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, audit.ID, audit.FromVersion, audit.ToVersion, audit.Reason, audit.PerformedBy, audit.DurationMs, audit.Outcome, audit.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert rollback audit: %w", err)
	}
	return nil
}

// scanner abstracts *sql.Row and *sql.Rows for node hydration.
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanNode(row scanner) (*Node, error) {
	var node Node
	var pathJSON string
	var metadataJSON []byte

	err := row.Scan(&node.ID, &node.Label, &pathJSON, &node.Version, &node.Confidence, &metadataJSON, &node.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan node: %w", err)
	}

	if err := json.Unmarshal([]byte(pathJSON), &node.CanonicalPath); err != nil {
		return nil, fmt.Errorf("failed to unmarshal canonical path: %w", err)
	}
	if len(metadataJSON) > 0 {
		if err := json.Unmarshal(metadataJSON, &node.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
		}
	}
	return &node, nil
}
