// Package rollback reverts the taxonomy to an earlier version: it plans
// which rows must go, executes the deletion atomically, and re-validates
// the restored version as a corruption tripwire.
package rollback

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/bridge25/dt-rag-sub000/pkg/store"
	"github.com/bridge25/dt-rag-sub000/pkg/validator"
)

// State is one step of the rollback state machine.
type State string

const (
	StateInitiated     State = "INITIATED"
	StatePlanGenerated State = "PLAN_GENERATED"
	StateExecuting     State = "EXECUTING"
	StateValidating    State = "VALIDATING"
	StateCommitted     State = "COMMITTED"
	StateAborted       State = "ABORTED"
)

// Outcome labels written to the audit trail.
const (
	OutcomeCommitted        = "COMMITTED"
	OutcomeSlowRollback     = "SLOW_ROLLBACK"
	OutcomeAborted          = "ABORTED"
	OutcomeIntegrityFailure = "INTEGRITY_FAILURE"
)

// ErrTargetNotFound indicates the requested version is not in history.
var ErrTargetNotFound = errors.New("rollback target version not found")

// ErrTargetNotOlder indicates the requested version is not strictly older
// than the current one.
var ErrTargetNotOlder = errors.New("rollback target must be older than the current version")

// ErrIntegrityFailure indicates the restored version failed validation
// after commit. This signals pre-existing corruption; mutations must halt
// for operator investigation.
var ErrIntegrityFailure = errors.New("rollback integrity failure")

// DefaultBudget is the soft time budget for a rollback. Exceeding the
// projected budget downgrades the outcome to SLOW_ROLLBACK; it never
// aborts the operation.
const DefaultBudget = 15 * time.Minute

// defaultPerRow is the projected deletion cost per affected row.
const defaultPerRow = 2 * time.Millisecond

// DocumentReassigner receives the node IDs that vanish in a rollback so
// the external document-taxonomy collaborator can remap or flag the
// documents assigned to them.
type DocumentReassigner interface {
	DocumentsUnder(ctx context.Context, nodeIDs []string, version string) ([]string, error)
	ReassignOrFlag(ctx context.Context, docIDs []string, newNodeID string) error
}

// Plan describes everything a rollback will remove.
type Plan struct {
	TargetVersion     string
	CurrentVersion    string
	RemoveVersions    []string // versions strictly newer than the target, oldest first
	AffectedRows      int64
	VanishedNodeIDs   []string // node IDs present now but absent in the target
	EstimatedDuration time.Duration
}

// Outcome reports one rollback attempt.
type Outcome struct {
	Success         bool
	State           State
	Outcome         string // audit outcome label
	Message         string
	FromVersion     string
	ToVersion       string
	RemovedVersions []string
	AffectedRows    int64
	Estimated       time.Duration
	Duration        time.Duration
}

// Engine executes rollbacks. Callers must hold the mutation lock for the
// full call, exactly as for CreateVersion.
type Engine struct {
	store     store.GraphStore
	validator *validator.Validator
	docs      DocumentReassigner // optional
	budget    time.Duration
	perRow    time.Duration
	now       func() time.Time
}

// NewEngine creates a rollback engine. docs may be nil when no document
// collaborator is wired.
func NewEngine(st store.GraphStore, v *validator.Validator, docs DocumentReassigner, budget time.Duration) *Engine {
	if budget <= 0 {
		budget = DefaultBudget
	}
	return &Engine{
		store:     st,
		validator: v,
		docs:      docs,
		budget:    budget,
		perRow:    defaultPerRow,
		now:       time.Now,
	}
}

// BuildPlan computes the rollback plan for a target version without
// executing anything.
func (e *Engine) BuildPlan(ctx context.Context, target string) (*Plan, error) {
	current, err := e.store.CurrentVersion(ctx)
	if err != nil {
		return nil, err
	}
	if target == current {
		return nil, fmt.Errorf("%w: %s is already current", ErrTargetNotOlder, target)
	}

	history, err := e.store.History(ctx)
	if err != nil {
		return nil, err
	}

	targetIdx := -1
	for i, rec := range history {
		if rec.ToVersion == target {
			targetIdx = i
			break
		}
	}
	if targetIdx == -1 {
		return nil, fmt.Errorf("%w: %s", ErrTargetNotFound, target)
	}

	var remove []string
	for _, rec := range history[targetIdx+1:] {
		remove = append(remove, rec.ToVersion)
	}
	if len(remove) == 0 {
		return nil, fmt.Errorf("%w: %s is not older than current %s", ErrTargetNotOlder, target, current)
	}

	rows, err := e.store.CountRowsForVersions(ctx, remove)
	if err != nil {
		return nil, err
	}

	vanished, err := e.vanishedNodes(ctx, current, target)
	if err != nil {
		return nil, err
	}

	return &Plan{
		TargetVersion:     target,
		CurrentVersion:    current,
		RemoveVersions:    remove,
		AffectedRows:      rows,
		VanishedNodeIDs:   vanished,
		EstimatedDuration: time.Duration(rows) * e.perRow,
	}, nil
}

// RollbackToVersion reverts the taxonomy to target. The whole deletion,
// the audit entry, and the current-version repoint commit in a single
// transaction; afterwards the restored version is re-validated. A
// validation failure at that point surfaces as ErrIntegrityFailure — the
// rollback itself committed, but the stored graph was already corrupt.
func (e *Engine) RollbackToVersion(ctx context.Context, target, reason, performedBy string) (*Outcome, error) {
	start := e.now()
	out := &Outcome{State: StateInitiated, ToVersion: target}

	plan, err := e.BuildPlan(ctx, target)
	if err != nil {
		out.State = StateAborted
		out.Outcome = OutcomeAborted
		out.Message = err.Error()
		out.Duration = e.now().Sub(start)
		e.auditAborted(ctx, target, reason, performedBy, out)
		return out, err
	}

	out.State = StatePlanGenerated
	out.FromVersion = plan.CurrentVersion
	out.RemovedVersions = plan.RemoveVersions
	out.AffectedRows = plan.AffectedRows
	out.Estimated = plan.EstimatedDuration

	// Exceeding the budget is a degraded-performance signal, never a
	// reason to abort.
	label := OutcomeCommitted
	if plan.EstimatedDuration > e.budget {
		label = OutcomeSlowRollback
	}

	out.State = StateExecuting
	audit := &store.RollbackAudit{
		ID:          uuid.New().String(),
		FromVersion: plan.CurrentVersion,
		ToVersion:   target,
		Reason:      reason,
		PerformedBy: performedBy,
		Outcome:     label,
	}
	// StartedAt lets the store stamp DurationMs inside the transaction, so
	// the durable entry covers the deletion work as well.
	err = e.store.ExecuteRollback(ctx, &store.RollbackCommit{
		TargetVersion:  target,
		RemoveVersions: plan.RemoveVersions,
		StartedAt:      start,
		Audit:          audit,
	})
	if err != nil {
		out.State = StateAborted
		out.Outcome = OutcomeAborted
		out.Message = fmt.Sprintf("rollback transaction aborted: %v", err)
		out.Duration = e.now().Sub(start)
		e.auditAborted(ctx, target, reason, performedBy, out)
		return out, err
	}

	out.State = StateValidating
	restored, err := e.store.LoadVersion(ctx, target)
	if err != nil {
		out.Message = fmt.Sprintf("restored version %s unreadable: %v", target, err)
		e.auditIntegrityFailure(ctx, target, reason, performedBy, out, start)
		return out, fmt.Errorf("%w: %s", ErrIntegrityFailure, out.Message)
	}
	if res := e.validator.Validate(restored); !res.IsValid {
		out.Message = fmt.Sprintf("restored version %s failed validation: %v", target, res.Errors)
		e.auditIntegrityFailure(ctx, target, reason, performedBy, out, start)
		return out, fmt.Errorf("%w: %s", ErrIntegrityFailure, out.Message)
	}

	// Hand vanished nodes to the document collaborator. Failures here are
	// reported but do not undo the committed rollback.
	if e.docs != nil && len(plan.VanishedNodeIDs) > 0 {
		docIDs, derr := e.docs.DocumentsUnder(ctx, plan.VanishedNodeIDs, plan.CurrentVersion)
		if derr == nil && len(docIDs) > 0 {
			derr = e.docs.ReassignOrFlag(ctx, docIDs, "")
		}
		if derr != nil {
			out.Message = fmt.Sprintf("document reassignment incomplete: %v", derr)
		}
	}

	out.State = StateCommitted
	out.Success = true
	out.Outcome = label
	out.Duration = e.now().Sub(start)
	if out.Message == "" {
		out.Message = fmt.Sprintf("rolled back %s -> %s, removed versions %v in %s",
			plan.CurrentVersion, target, plan.RemoveVersions, out.Duration)
	}
	return out, nil
}

// vanishedNodes returns the IDs present in the current version but absent
// from the target.
func (e *Engine) vanishedNodes(ctx context.Context, current, target string) ([]string, error) {
	currentGraph, err := e.store.LoadVersion(ctx, current)
	if err != nil {
		return nil, err
	}
	targetGraph, err := e.store.LoadVersion(ctx, target)
	if err != nil {
		return nil, err
	}

	inTarget := make(map[string]bool, len(targetGraph.Nodes))
	for _, n := range targetGraph.Nodes {
		inTarget[n.ID] = true
	}
	var vanished []string
	for _, n := range currentGraph.Nodes {
		if !inTarget[n.ID] {
			vanished = append(vanished, n.ID)
		}
	}
	return vanished, nil
}

// auditIntegrityFailure durably records a rollback whose transaction
// committed but whose restored version failed the post-commit check. The
// in-transaction audit row already says COMMITTED, so this appends the
// failure as its own entry with the full attempt duration.
func (e *Engine) auditIntegrityFailure(ctx context.Context, target, reason, performedBy string, out *Outcome, start time.Time) {
	out.Outcome = OutcomeIntegrityFailure
	out.Duration = e.now().Sub(start)
	_ = e.store.AppendRollbackAudit(ctx, &store.RollbackAudit{
		FromVersion: out.FromVersion,
		ToVersion:   target,
		Reason:      reason,
		PerformedBy: performedBy,
		DurationMs:  out.Duration.Milliseconds(),
		Outcome:     OutcomeIntegrityFailure,
	})
}

// auditAborted records a failed attempt; audit failures are swallowed since
// the attempt error already propagates.
func (e *Engine) auditAborted(ctx context.Context, target, reason, performedBy string, out *Outcome) {
	_ = e.store.AppendRollbackAudit(ctx, &store.RollbackAudit{
		FromVersion: out.FromVersion,
		ToVersion:   target,
		Reason:      reason,
		PerformedBy: performedBy,
		DurationMs:  out.Duration.Milliseconds(),
		Outcome:     OutcomeAborted,
	})
}
