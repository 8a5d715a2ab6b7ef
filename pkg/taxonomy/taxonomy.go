// Package taxonomy is the entry point for the versioned taxonomy graph
// core: migrations, validation, rollback, and version-scoped reads.
package taxonomy

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bridge25/dt-rag-sub000/pkg/cache"
	"github.com/bridge25/dt-rag-sub000/pkg/guard"
	"github.com/bridge25/dt-rag-sub000/pkg/metrics"
	"github.com/bridge25/dt-rag-sub000/pkg/migration"
	"github.com/bridge25/dt-rag-sub000/pkg/rollback"
	"github.com/bridge25/dt-rag-sub000/pkg/store"
	"github.com/bridge25/dt-rag-sub000/pkg/validator"
	"github.com/bridge25/dt-rag-sub000/pkg/version"
)

// Config holds configuration for the taxonomy core.
type Config struct {
	// DBPath is the SQLite database path (default ":memory:")
	DBPath string `yaml:"db_path"`

	// RootLabel seeds the bootstrap root node (default "root")
	RootLabel string `yaml:"root_label"`

	// AllowMultiRoot permits several disconnected root trees
	AllowMultiRoot bool `yaml:"allow_multi_root"`

	// LockTimeout bounds mutation-lock acquisition (default 5s)
	LockTimeout time.Duration `yaml:"lock_timeout"`

	// RollbackBudget is the soft rollback time budget (default 15m)
	RollbackBudget time.Duration `yaml:"rollback_budget"`

	// Store overrides the default SQLite store (tests, alternate backends)
	Store store.GraphStore `yaml:"-"`

	// Documents is the external document-taxonomy collaborator
	Documents DocumentIndex `yaml:"-"`

	// Audit is the external audit collaborator
	Audit AuditSink `yaml:"-"`

	// Metrics overrides the default no-op collector
	Metrics metrics.Collector `yaml:"-"`
}

// HistoryEntry is one line of the migration history.
type HistoryEntry struct {
	Version     string    `json:"version"`
	FromVersion string    `json:"from_version"`
	Summary     []string  `json:"summary"`
	Rationale   string    `json:"rationale"`
	Author      string    `json:"author"`
	CreatedAt   time.Time `json:"created_at"`
}

// Taxonomy wires the store, validator, version manager, rollback engine,
// cache and mutation guard into the surface exposed to transport-layer
// callers. Mutations are strictly serialized; reads never block.
type Taxonomy struct {
	config    Config
	store     store.GraphStore
	validator *validator.Validator
	manager   *version.Manager
	engine    *rollback.Engine
	cache     *cache.GraphCache
	guard     *guard.Guard
	metrics   metrics.Collector
	docs      DocumentIndex
	audit     AuditSink

	// halted latches after a rollback integrity failure; only a process
	// restart (with operator investigation) clears it.
	halted atomic.Bool

	traceMu   sync.Mutex
	lastTrace *OperationTrace
}

// New creates a Taxonomy instance, bootstrapping version 1.0.0 with a
// single root node when the store is empty.
func New(cfg Config) (*Taxonomy, error) {
	cfg.applyDefaults()

	st := cfg.Store
	if st == nil {
		var err error
		st, err = store.NewSQLiteGraphStore(cfg.DBPath)
		if err != nil {
			return nil, err
		}
	}

	docs := cfg.Documents
	if docs == nil {
		docs = NoopDocumentIndex{}
	}
	audit := cfg.Audit
	if audit == nil {
		audit = NoopAuditSink{}
	}
	collector := cfg.Metrics
	if collector == nil {
		collector = metrics.NewNoopCollector()
	}

	v := validator.New(cfg.AllowMultiRoot)
	manager := version.NewManager(st, v)

	t := &Taxonomy{
		config:    cfg,
		store:     st,
		validator: v,
		manager:   manager,
		engine:    rollback.NewEngine(st, v, docs, cfg.RollbackBudget),
		cache:     cache.New(st),
		guard:     guard.New(cfg.LockTimeout),
		metrics:   collector,
		docs:      docs,
		audit:     audit,
	}

	if err := manager.Bootstrap(context.Background(), cfg.RootLabel, "system"); err != nil {
		st.Close()
		return nil, fmt.Errorf("failed to bootstrap taxonomy: %w", err)
	}
	return t, nil
}

// CurrentVersion returns the live version string.
func (t *Taxonomy) CurrentVersion(ctx context.Context) (string, error) {
	return t.store.CurrentVersion(ctx)
}

// Tree returns the materialized tree for a version. An empty version
// resolves to the current one.
func (t *Taxonomy) Tree(ctx context.Context, ver string) (*cache.Tree, error) {
	resolved, err := t.resolveVersion(ctx, ver)
	if err != nil {
		return nil, err
	}
	return t.cache.GetTree(ctx, resolved)
}

// Validate runs the structural checks against a version without mutating
// anything.
func (t *Taxonomy) Validate(ctx context.Context, ver string) (*validator.Result, error) {
	resolved, err := t.resolveVersion(ctx, ver)
	if err != nil {
		return nil, err
	}
	graph, err := t.store.LoadVersion(ctx, resolved)
	if err != nil {
		return nil, err
	}
	return t.validator.Validate(graph), nil
}

// Ancestry returns the root-to-node label path within a version.
func (t *Taxonomy) Ancestry(ctx context.Context, nodeID, ver string) ([]string, error) {
	resolved, err := t.resolveVersion(ctx, ver)
	if err != nil {
		return nil, err
	}
	return t.cache.Ancestry(ctx, nodeID, resolved)
}

// History returns the migration history, oldest first.
func (t *Taxonomy) History(ctx context.Context) ([]HistoryEntry, error) {
	records, err := t.store.History(ctx)
	if err != nil {
		return nil, err
	}
	entries := make([]HistoryEntry, 0, len(records))
	for _, rec := range records {
		summary := make([]string, 0, len(rec.Ops))
		for _, op := range rec.Ops {
			summary = append(summary, op.Summary())
		}
		entries = append(entries, HistoryEntry{
			Version:     rec.ToVersion,
			FromVersion: rec.FromVersion,
			Summary:     summary,
			Rationale:   rec.Rationale,
			Author:      rec.Actor,
			CreatedAt:   rec.CreatedAt,
		})
	}
	return entries, nil
}

// RollbackAudits returns the rollback attempt log, oldest first.
func (t *Taxonomy) RollbackAudits(ctx context.Context) ([]*store.RollbackAudit, error) {
	return t.store.RollbackAudits(ctx)
}

// CreateVersion applies a batch of structural operations as one atomic new
// version. On validation failure the returned Result itemizes every
// violation and nothing is persisted. The mutation lock serializes this
// against all other mutations; lock timeout surfaces as guard.ErrBusy.
func (t *Taxonomy) CreateVersion(ctx context.Context, bump migration.BumpType, ops []migration.Operation, description, author string) (string, *validator.Result, error) {
	const op = "create_version"
	if t.halted.Load() {
		return "", nil, ErrMutationsHalted
	}

	trace := newTrace(op)
	defer t.storeTrace(trace)
	start := time.Now()

	pre := newSpanTimer("preconditions", trace)
	res, err := t.checkDeleteGates(ctx, ops)
	t.recordSpan(ctx, op, pre.finish(err == nil && res == nil, err, map[string]int64{"opCount": int64(len(ops))}))
	if err != nil {
		t.metrics.RecordError(ctx, op, ClassifyError(err))
		return "", nil, err
	}
	if res != nil {
		t.metrics.RecordOperation(ctx, op, "invalid", time.Since(start).Milliseconds())
		return "", res, nil
	}

	if err := t.guard.Acquire(ctx); err != nil {
		t.metrics.RecordError(ctx, op, ClassifyError(err))
		return "", nil, err
	}
	defer t.guard.Release()

	prev, err := t.store.CurrentVersion(ctx)
	if err != nil {
		return "", nil, err
	}

	span := newSpanTimer("create", trace)
	next, result, err := t.manager.CreateVersion(ctx, version.Request{
		Bump:        bump,
		Ops:         ops,
		Description: description,
		Author:      author,
	})
	t.recordSpan(ctx, op, span.finish(err == nil && result == nil, err, map[string]int64{"opCount": int64(len(ops))}))

	switch {
	case err != nil:
		t.metrics.RecordError(ctx, op, ClassifyError(err))
		return "", nil, err
	case result != nil:
		t.metrics.RecordOperation(ctx, op, "invalid", time.Since(start).Milliseconds())
		return "", result, nil
	}

	inv := newSpanTimer("invalidate", trace)
	t.cache.Invalidate(prev)
	t.recordSpan(ctx, op, inv.finish(true, nil, nil))

	t.recordGraphSize(ctx, next)
	t.metrics.RecordOperation(ctx, op, "ok", time.Since(start).Milliseconds())
	if aerr := t.audit.AppendAuditEvent(ctx, op, author, prev, next, time.Now()); aerr != nil {
		// Audit delivery failure does not undo a committed migration.
		t.metrics.RecordError(ctx, op, ClassifyError(aerr))
	}
	return next, nil, nil
}

// Rollback reverts the taxonomy to target. After a committed rollback the
// caches for removed versions are dropped. An integrity failure latches
// the mutation halt; further CreateVersion/Rollback calls fail with
// ErrMutationsHalted.
func (t *Taxonomy) Rollback(ctx context.Context, target, reason, performer string) (*rollback.Outcome, error) {
	const op = "rollback"
	if t.halted.Load() {
		return nil, ErrMutationsHalted
	}

	trace := newTrace(op)
	defer t.storeTrace(trace)
	start := time.Now()

	if err := t.guard.Acquire(ctx); err != nil {
		t.metrics.RecordError(ctx, op, ClassifyError(err))
		return nil, err
	}
	defer t.guard.Release()

	span := newSpanTimer("rollback", trace)
	outcome, err := t.engine.RollbackToVersion(ctx, target, reason, performer)
	counters := map[string]int64{}
	if outcome != nil {
		counters["affectedRows"] = outcome.AffectedRows
		counters["removedVersions"] = int64(len(outcome.RemovedVersions))
	}
	t.recordSpan(ctx, op, span.finish(err == nil, err, counters))

	if err != nil {
		if errors.Is(err, rollback.ErrIntegrityFailure) {
			t.halted.Store(true)
			// The rollback transaction itself committed: the newer versions'
			// rows are gone, so any warmed trees for them must go too.
			t.invalidateRolledBack(outcome)
		}
		t.metrics.RecordError(ctx, op, ClassifyError(err))
		return outcome, err
	}

	inv := newSpanTimer("invalidate", trace)
	t.invalidateRolledBack(outcome)
	t.recordSpan(ctx, op, inv.finish(true, nil, nil))

	t.recordGraphSize(ctx, target)
	t.metrics.RecordOperation(ctx, op, outcome.Outcome, time.Since(start).Milliseconds())
	if aerr := t.audit.AppendAuditEvent(ctx, op, performer, outcome.FromVersion, target, time.Now()); aerr != nil {
		t.metrics.RecordError(ctx, op, ClassifyError(aerr))
	}
	return outcome, nil
}

// Halted reports whether mutations are latched off after an integrity
// failure.
func (t *Taxonomy) Halted() bool {
	return t.halted.Load()
}

// LastTrace returns the trace of the most recent mutation attempt.
func (t *Taxonomy) LastTrace() *OperationTrace {
	t.traceMu.Lock()
	defer t.traceMu.Unlock()
	return t.lastTrace
}

// Close releases the underlying store.
func (t *Taxonomy) Close() error {
	return t.store.Close()
}

// checkDeleteGates consults the document collaborator for every non-forced
// delete. Returns an invalid Result when documents are still attached.
func (t *Taxonomy) checkDeleteGates(ctx context.Context, ops []migration.Operation) (*validator.Result, error) {
	current, err := t.store.CurrentVersion(ctx)
	if err != nil {
		return nil, err
	}

	var errs []string
	for i, op := range ops {
		if op.Kind != migration.KindDeleteNode || op.DeleteNode == nil || op.DeleteNode.Force {
			continue
		}
		count, err := t.docs.CountDocumentsUnder(ctx, op.DeleteNode.NodeID, current)
		if err != nil {
			return nil, fmt.Errorf("document count lookup failed: %w", err)
		}
		if count > 0 {
			errs = append(errs, fmt.Sprintf(
				"operation %d (delete_node): node %s has %d documents attached; reassign them or set force",
				i, op.DeleteNode.NodeID, count))
		}
	}
	if len(errs) > 0 {
		return &validator.Result{
			IsValid:                false,
			Errors:                 errs,
			Cycles:                 [][]string{},
			OrphanedNodes:          []string{},
			DisconnectedComponents: [][]string{},
			DuplicatePaths:         []string{},
		}, nil
	}
	return nil, nil
}

// recordSpan forwards a completed span's duration to the stage histogram.
func (t *Taxonomy) recordSpan(ctx context.Context, operation string, span Span) {
	t.metrics.RecordStage(ctx, operation, span.Name, span.DurationMs)
}

// invalidateRolledBack drops the cached trees for the pre-rollback current
// version and every removed version.
func (t *Taxonomy) invalidateRolledBack(outcome *rollback.Outcome) {
	if outcome == nil {
		return
	}
	t.cache.Invalidate(outcome.FromVersion)
	for _, removed := range outcome.RemovedVersions {
		t.cache.Invalidate(removed)
	}
}

func (t *Taxonomy) resolveVersion(ctx context.Context, ver string) (string, error) {
	if ver != "" {
		return ver, nil
	}
	return t.store.CurrentVersion(ctx)
}

func (t *Taxonomy) recordGraphSize(ctx context.Context, ver string) {
	nodes, err := t.store.NodeCount(ctx, ver)
	if err != nil {
		return
	}
	edges, err := t.store.EdgeCount(ctx, ver)
	if err != nil {
		return
	}
	t.metrics.SetGraphSize(ctx, ver, nodes, edges)
}

func (t *Taxonomy) storeTrace(trace *OperationTrace) {
	t.traceMu.Lock()
	t.lastTrace = trace
	t.traceMu.Unlock()
}
