// Package version applies batches of structural operations as atomic new
// taxonomy versions.
package version

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/bridge25/dt-rag-sub000/pkg/migration"
	"github.com/bridge25/dt-rag-sub000/pkg/store"
	"github.com/bridge25/dt-rag-sub000/pkg/validator"
)

// ErrStaleBase indicates the current version moved between the caller
// reading it and the mutation acquiring the lock.
var ErrStaleBase = errors.New("base version is stale")

// InitialVersion is the version seeded by Bootstrap.
const InitialVersion = "1.0.0"

// Request describes one create-version call.
type Request struct {
	Bump        migration.BumpType
	Ops         []migration.Operation
	Description string
	Author      string
	// ExpectedBase, when set, must match the current version at commit
	// time; a mismatch yields ErrStaleBase.
	ExpectedBase string
}

// Manager validates and commits migrations. Callers must hold the mutation
// lock across the whole CreateVersion call so two migrations can never race
// against the same base version.
type Manager struct {
	store     store.GraphStore
	validator *validator.Validator
}

// NewManager creates a version manager on top of a graph store.
func NewManager(st store.GraphStore, v *validator.Validator) *Manager {
	return &Manager{store: st, validator: v}
}

// Bootstrap seeds the store with InitialVersion containing a single root
// node. It is a no-op when the store already has a current version.
func (m *Manager) Bootstrap(ctx context.Context, rootLabel, author string) error {
	_, err := m.store.CurrentVersion(ctx)
	if err == nil {
		return nil
	}
	if !errors.Is(err, store.ErrNoCurrentVersion) {
		return err
	}

	root := &store.Node{
		ID:            uuid.New().String(),
		Label:         rootLabel,
		CanonicalPath: []string{rootLabel},
		Version:       InitialVersion,
	}
	return m.store.CommitVersion(ctx, &store.VersionCommit{
		FromVersion: "",
		ToVersion:   InitialVersion,
		Nodes:       []*store.Node{root},
		Rationale:   "bootstrap root taxonomy",
		Actor:       author,
	})
}

// CreateVersion validates each operation's preconditions against the
// current graph, simulates the full batch on a copy, validates the result,
// and commits the new version in one transaction only if everything holds.
//
// Returns the new version string on success. A non-nil Result with
// IsValid=false carries the itemized violations; in that case nothing was
// persisted. The error return is reserved for storage and stale-base
// failures.
func (m *Manager) CreateVersion(ctx context.Context, req Request) (string, *validator.Result, error) {
	current, err := m.store.CurrentVersion(ctx)
	if err != nil {
		return "", nil, err
	}
	if req.ExpectedBase != "" && req.ExpectedBase != current {
		return "", nil, fmt.Errorf("%w: expected %s, current is %s", ErrStaleBase, req.ExpectedBase, current)
	}

	if len(req.Ops) == 0 {
		return "", invalidResult("migration contains no operations"), nil
	}
	for i, op := range req.Ops {
		if err := op.Validate(); err != nil {
			return "", invalidResult(fmt.Sprintf("operation %d is malformed: %v", i, err)), nil
		}
	}

	base, err := m.store.LoadVersion(ctx, current)
	if err != nil {
		return "", nil, err
	}

	next, err := migration.NextVersion(current, req.Bump)
	if err != nil {
		return "", nil, err
	}

	// Simulate the whole batch against a copy of the current graph.
	sim := newSimGraph(base)
	var precondErrs []string
	for i, op := range req.Ops {
		if err := sim.apply(op); err != nil {
			precondErrs = append(precondErrs, fmt.Sprintf("operation %d (%s): %v", i, op.Kind, err))
		}
	}
	if len(precondErrs) > 0 {
		return "", invalidResult(precondErrs...), nil
	}

	simulated := sim.toGraph(next)
	res := m.validator.Validate(simulated)
	if !res.IsValid {
		return "", res, nil
	}

	commit := &store.VersionCommit{
		FromVersion: current,
		ToVersion:   next,
		Nodes:       simulated.Nodes,
		Edges:       simulated.Edges,
		Ops:         req.Ops,
		Rationale:   req.Description,
		Actor:       req.Author,
	}
	if err := m.store.CommitVersion(ctx, commit); err != nil {
		return "", nil, err
	}
	return next, nil, nil
}

func invalidResult(errs ...string) *validator.Result {
	return &validator.Result{
		IsValid:                false,
		Errors:                 errs,
		Cycles:                 [][]string{},
		OrphanedNodes:          []string{},
		DisconnectedComponents: [][]string{},
		DuplicatePaths:         []string{},
	}
}
