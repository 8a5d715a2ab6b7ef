package taxonomy

import (
	"context"
	"errors"
	"strings"

	"github.com/bridge25/dt-rag-sub000/pkg/guard"
	"github.com/bridge25/dt-rag-sub000/pkg/rollback"
	"github.com/bridge25/dt-rag-sub000/pkg/store"
	"github.com/bridge25/dt-rag-sub000/pkg/version"
)

// ErrMutationsHalted indicates a rollback integrity failure latched the
// system into read-only mode; operator investigation is required before
// further mutations.
var ErrMutationsHalted = errors.New("mutations halted after rollback integrity failure")

// Error type constants for classification
const (
	ErrTypeValidation  = "validation"
	ErrTypeConcurrency = "concurrency"
	ErrTypeStorage     = "storage"
	ErrTypeRollback    = "rollback"
	ErrTypeTimeout     = "timeout"
	ErrTypeUnknown     = "unknown"
)

// ClassifyError inspects an error and returns its type classification.
// This enables grouping errors by category in metrics.
func ClassifyError(err error) string {
	if err == nil {
		return ""
	}

	switch {
	case errors.Is(err, guard.ErrBusy):
		return ErrTypeConcurrency
	case errors.Is(err, version.ErrStaleBase):
		return ErrTypeConcurrency
	case errors.Is(err, rollback.ErrIntegrityFailure),
		errors.Is(err, rollback.ErrTargetNotFound),
		errors.Is(err, rollback.ErrTargetNotOlder),
		errors.Is(err, ErrMutationsHalted):
		return ErrTypeRollback
	case errors.Is(err, context.DeadlineExceeded):
		return ErrTypeTimeout
	case errors.Is(err, store.ErrNodeNotFound),
		errors.Is(err, store.ErrVersionNotFound),
		errors.Is(err, store.ErrVersionExists),
		errors.Is(err, store.ErrNoCurrentVersion):
		return ErrTypeValidation
	}

	errStrLower := strings.ToLower(err.Error())
	if strings.Contains(errStrLower, "timeout") || strings.Contains(errStrLower, "deadline exceeded") {
		return ErrTypeTimeout
	}
	if strings.Contains(errStrLower, "sql") ||
		strings.Contains(errStrLower, "database") ||
		strings.Contains(errStrLower, "transaction") ||
		strings.Contains(errStrLower, "constraint") {
		return ErrTypeStorage
	}
	if strings.Contains(errStrLower, "invalid") ||
		strings.Contains(errStrLower, "required") ||
		strings.Contains(errStrLower, "cannot be empty") ||
		strings.Contains(errStrLower, "must be") {
		return ErrTypeValidation
	}

	return ErrTypeUnknown
}
