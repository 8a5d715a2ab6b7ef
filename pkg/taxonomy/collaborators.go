package taxonomy

import (
	"context"
	"time"
)

// DocumentIndex is the external document-taxonomy collaborator. It owns
// the document→node assignments; this core only consults it before a
// non-forced delete and hands it the vanished nodes after a rollback.
type DocumentIndex interface {
	// CountDocumentsUnder returns how many documents are assigned to the
	// node (directly or through descendants) in the given version.
	CountDocumentsUnder(ctx context.Context, nodeID, version string) (int64, error)

	// DocumentsUnder returns the IDs of documents assigned to any of the
	// given nodes in the given version.
	DocumentsUnder(ctx context.Context, nodeIDs []string, version string) ([]string, error)

	// ReassignOrFlag remaps the documents to newNodeID, or flags them for
	// human review when newNodeID is empty.
	ReassignOrFlag(ctx context.Context, docIDs []string, newNodeID string) error
}

// AuditSink is the external audit collaborator.
type AuditSink interface {
	AppendAuditEvent(ctx context.Context, action, actor, before, after string, timestamp time.Time) error
}

// NoopDocumentIndex is used when no document collaborator is wired: deletes
// are never blocked and rollbacks have no documents to remap.
type NoopDocumentIndex struct{}

func (NoopDocumentIndex) CountDocumentsUnder(ctx context.Context, nodeID, version string) (int64, error) {
	return 0, nil
}

func (NoopDocumentIndex) DocumentsUnder(ctx context.Context, nodeIDs []string, version string) ([]string, error) {
	return nil, nil
}

func (NoopDocumentIndex) ReassignOrFlag(ctx context.Context, docIDs []string, newNodeID string) error {
	return nil
}

// NoopAuditSink discards audit events.
type NoopAuditSink struct{}

func (NoopAuditSink) AppendAuditEvent(ctx context.Context, action, actor, before, after string, timestamp time.Time) error {
	return nil
}
