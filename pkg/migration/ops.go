// Package migration defines the structural operations that produce new
// taxonomy versions, and the semantic-version arithmetic between them.
package migration

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// Kind identifies one of the six structural operation variants.
type Kind string

const (
	KindAddNode    Kind = "add_node"
	KindMoveNode   Kind = "move_node"
	KindMergeNodes Kind = "merge_nodes"
	KindDeleteNode Kind = "delete_node"
	KindAddEdge    Kind = "add_edge"
	KindRemoveEdge Kind = "remove_edge"
)

// ErrNotInvertible indicates an operation is missing the fields its inverse needs.
var ErrNotInvertible = errors.New("operation is not invertible")

// AddNodePayload creates a new node under an existing parent.
type AddNodePayload struct {
	NodeID     string                 `json:"node_id"`
	Label      string                 `json:"label"`
	ParentID   string                 `json:"parent_id"`
	Confidence float64                `json:"confidence,omitempty"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
}

// MoveNodePayload re-parents a node. FromParentID is required so the
// operation can be inverted without consulting graph history.
type MoveNodePayload struct {
	NodeID       string `json:"node_id"`
	FromParentID string `json:"from_parent_id"`
	ToParentID   string `json:"to_parent_id"`
}

// MergeNodesPayload folds the source node into the target: the source's
// children are re-parented to the target and the source is removed.
// The source snapshot fields exist solely so the merge can be inverted.
type MergeNodesPayload struct {
	SourceID        string   `json:"source_id"`
	TargetID        string   `json:"target_id"`
	SourceLabel     string   `json:"source_label"`
	SourceParentIDs []string `json:"source_parent_ids"`
	SourceChildIDs  []string `json:"source_child_ids,omitempty"`
}

// DeleteNodePayload removes a leaf node. Label and ParentIDs capture the
// pre-delete state for inversion. Force skips the attached-document gate.
type DeleteNodePayload struct {
	NodeID    string   `json:"node_id"`
	Label     string   `json:"label"`
	ParentIDs []string `json:"parent_ids"`
	Force     bool     `json:"force,omitempty"`
}

// AddEdgePayload adds a parent→child edge between two existing nodes.
type AddEdgePayload struct {
	ParentID string `json:"parent_id"`
	ChildID  string `json:"child_id"`
}

// RemoveEdgePayload removes a parent→child edge.
type RemoveEdgePayload struct {
	ParentID string `json:"parent_id"`
	ChildID  string `json:"child_id"`
}

// Operation is a closed tagged union: Kind selects exactly one non-nil
// payload. Operations are validated at construction, so a well-formed
// Operation never fails structural checks at execution time.
type Operation struct {
	Kind       Kind               `json:"kind"`
	AddNode    *AddNodePayload    `json:"add_node,omitempty"`
	MoveNode   *MoveNodePayload   `json:"move_node,omitempty"`
	MergeNodes *MergeNodesPayload `json:"merge_nodes,omitempty"`
	DeleteNode *DeleteNodePayload `json:"delete_node,omitempty"`
	AddEdge    *AddEdgePayload    `json:"add_edge,omitempty"`
	RemoveEdge *RemoveEdgePayload `json:"remove_edge,omitempty"`
}

// NewAddNode builds an add_node operation. NodeID is generated when empty.
func NewAddNode(nodeID, label, parentID string, confidence float64, metadata map[string]interface{}) (Operation, error) {
	if label == "" {
		return Operation{}, fmt.Errorf("add_node: label cannot be empty")
	}
	if parentID == "" {
		return Operation{}, fmt.Errorf("add_node: parent_id cannot be empty")
	}
	if nodeID == "" {
		nodeID = uuid.New().String()
	}
	return Operation{
		Kind: KindAddNode,
		AddNode: &AddNodePayload{
			NodeID:     nodeID,
			Label:      label,
			ParentID:   parentID,
			Confidence: confidence,
			Metadata:   metadata,
		},
	}, nil
}

// NewMoveNode builds a move_node operation.
func NewMoveNode(nodeID, fromParentID, toParentID string) (Operation, error) {
	if nodeID == "" || fromParentID == "" || toParentID == "" {
		return Operation{}, fmt.Errorf("move_node: node_id, from_parent_id and to_parent_id are required")
	}
	if fromParentID == toParentID {
		return Operation{}, fmt.Errorf("move_node: from_parent_id and to_parent_id must differ")
	}
	if nodeID == toParentID {
		return Operation{}, fmt.Errorf("move_node: node cannot become its own parent")
	}
	return Operation{
		Kind: KindMoveNode,
		MoveNode: &MoveNodePayload{
			NodeID:       nodeID,
			FromParentID: fromParentID,
			ToParentID:   toParentID,
		},
	}, nil
}

// NewMergeNodes builds a merge_nodes operation. The caller must supply the
// source node's label and parent IDs so the merge stays invertible.
func NewMergeNodes(sourceID, targetID, sourceLabel string, sourceParentIDs, sourceChildIDs []string) (Operation, error) {
	if sourceID == "" || targetID == "" {
		return Operation{}, fmt.Errorf("merge_nodes: source_id and target_id are required")
	}
	if sourceID == targetID {
		return Operation{}, fmt.Errorf("merge_nodes: cannot merge a node into itself")
	}
	if sourceLabel == "" || len(sourceParentIDs) == 0 {
		return Operation{}, fmt.Errorf("merge_nodes: source_label and source_parent_ids are required for inversion")
	}
	return Operation{
		Kind: KindMergeNodes,
		MergeNodes: &MergeNodesPayload{
			SourceID:        sourceID,
			TargetID:        targetID,
			SourceLabel:     sourceLabel,
			SourceParentIDs: sourceParentIDs,
			SourceChildIDs:  sourceChildIDs,
		},
	}, nil
}

// NewDeleteNode builds a delete_node operation. Label and parentIDs capture
// the node's pre-delete state; force bypasses the attached-document check.
func NewDeleteNode(nodeID, label string, parentIDs []string, force bool) (Operation, error) {
	if nodeID == "" {
		return Operation{}, fmt.Errorf("delete_node: node_id cannot be empty")
	}
	if label == "" || len(parentIDs) == 0 {
		return Operation{}, fmt.Errorf("delete_node: label and parent_ids are required for inversion")
	}
	return Operation{
		Kind: KindDeleteNode,
		DeleteNode: &DeleteNodePayload{
			NodeID:    nodeID,
			Label:     label,
			ParentIDs: parentIDs,
			Force:     force,
		},
	}, nil
}

// NewAddEdge builds an add_edge operation.
func NewAddEdge(parentID, childID string) (Operation, error) {
	if parentID == "" || childID == "" {
		return Operation{}, fmt.Errorf("add_edge: parent_id and child_id are required")
	}
	if parentID == childID {
		return Operation{}, fmt.Errorf("add_edge: self-loop edges are not allowed")
	}
	return Operation{
		Kind:    KindAddEdge,
		AddEdge: &AddEdgePayload{ParentID: parentID, ChildID: childID},
	}, nil
}

// NewRemoveEdge builds a remove_edge operation.
func NewRemoveEdge(parentID, childID string) (Operation, error) {
	if parentID == "" || childID == "" {
		return Operation{}, fmt.Errorf("remove_edge: parent_id and child_id are required")
	}
	return Operation{
		Kind:       KindRemoveEdge,
		RemoveEdge: &RemoveEdgePayload{ParentID: parentID, ChildID: childID},
	}, nil
}

// Validate checks that exactly the payload matching Kind is present.
// Decoded operations (from the migrations table or an API body) must pass
// through here before they touch the graph.
func (op Operation) Validate() error {
	payloads := 0
	if op.AddNode != nil {
		payloads++
	}
	if op.MoveNode != nil {
		payloads++
	}
	if op.MergeNodes != nil {
		payloads++
	}
	if op.DeleteNode != nil {
		payloads++
	}
	if op.AddEdge != nil {
		payloads++
	}
	if op.RemoveEdge != nil {
		payloads++
	}
	if payloads != 1 {
		return fmt.Errorf("operation must carry exactly one payload, has %d", payloads)
	}

	switch op.Kind {
	case KindAddNode:
		if op.AddNode == nil {
			return fmt.Errorf("kind %q without add_node payload", op.Kind)
		}
		if op.AddNode.NodeID == "" || op.AddNode.Label == "" || op.AddNode.ParentID == "" {
			return fmt.Errorf("add_node: node_id, label and parent_id are required")
		}
	case KindMoveNode:
		if op.MoveNode == nil {
			return fmt.Errorf("kind %q without move_node payload", op.Kind)
		}
		if op.MoveNode.NodeID == "" || op.MoveNode.FromParentID == "" || op.MoveNode.ToParentID == "" {
			return fmt.Errorf("move_node: node_id, from_parent_id and to_parent_id are required")
		}
	case KindMergeNodes:
		if op.MergeNodes == nil {
			return fmt.Errorf("kind %q without merge_nodes payload", op.Kind)
		}
		if op.MergeNodes.SourceID == "" || op.MergeNodes.TargetID == "" {
			return fmt.Errorf("merge_nodes: source_id and target_id are required")
		}
		// The source snapshot is what keeps a committed merge invertible, so
		// decoded operations must carry it just like constructed ones.
		if op.MergeNodes.SourceLabel == "" || len(op.MergeNodes.SourceParentIDs) == 0 {
			return fmt.Errorf("merge_nodes: source_label and source_parent_ids are required for inversion")
		}
	case KindDeleteNode:
		if op.DeleteNode == nil {
			return fmt.Errorf("kind %q without delete_node payload", op.Kind)
		}
		if op.DeleteNode.NodeID == "" {
			return fmt.Errorf("delete_node: node_id is required")
		}
		if op.DeleteNode.Label == "" || len(op.DeleteNode.ParentIDs) == 0 {
			return fmt.Errorf("delete_node: label and parent_ids are required for inversion")
		}
	case KindAddEdge:
		if op.AddEdge == nil {
			return fmt.Errorf("kind %q without add_edge payload", op.Kind)
		}
		if op.AddEdge.ParentID == "" || op.AddEdge.ChildID == "" {
			return fmt.Errorf("add_edge: parent_id and child_id are required")
		}
	case KindRemoveEdge:
		if op.RemoveEdge == nil {
			return fmt.Errorf("kind %q without remove_edge payload", op.Kind)
		}
		if op.RemoveEdge.ParentID == "" || op.RemoveEdge.ChildID == "" {
			return fmt.Errorf("remove_edge: parent_id and child_id are required")
		}
	default:
		return fmt.Errorf("unknown operation kind %q", op.Kind)
	}
	return nil
}

// Inverse returns the operation sequence that undoes this operation.
// Most kinds invert to a single operation; merge_nodes and multi-parent
// delete_node expand to a restore sequence because the union has no
// dedicated "split" variant.
func (op Operation) Inverse() ([]Operation, error) {
	if err := op.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotInvertible, err)
	}

	switch op.Kind {
	case KindAddNode:
		p := op.AddNode
		inv, err := NewDeleteNode(p.NodeID, p.Label, []string{p.ParentID}, true)
		if err != nil {
			return nil, err
		}
		return []Operation{inv}, nil

	case KindMoveNode:
		p := op.MoveNode
		inv, err := NewMoveNode(p.NodeID, p.ToParentID, p.FromParentID)
		if err != nil {
			return nil, err
		}
		return []Operation{inv}, nil

	case KindMergeNodes:
		p := op.MergeNodes
		if p.SourceLabel == "" || len(p.SourceParentIDs) == 0 {
			return nil, fmt.Errorf("%w: merge_nodes missing source snapshot", ErrNotInvertible)
		}
		restore, err := NewAddNode(p.SourceID, p.SourceLabel, p.SourceParentIDs[0], 0, nil)
		if err != nil {
			return nil, err
		}
		out := []Operation{restore}
		for _, parent := range p.SourceParentIDs[1:] {
			edge, err := NewAddEdge(parent, p.SourceID)
			if err != nil {
				return nil, err
			}
			out = append(out, edge)
		}
		for _, child := range p.SourceChildIDs {
			move, err := NewMoveNode(child, p.TargetID, p.SourceID)
			if err != nil {
				return nil, err
			}
			out = append(out, move)
		}
		return out, nil

	case KindDeleteNode:
		p := op.DeleteNode
		if p.Label == "" || len(p.ParentIDs) == 0 {
			return nil, fmt.Errorf("%w: delete_node missing pre-delete snapshot", ErrNotInvertible)
		}
		restore, err := NewAddNode(p.NodeID, p.Label, p.ParentIDs[0], 0, nil)
		if err != nil {
			return nil, err
		}
		out := []Operation{restore}
		for _, parent := range p.ParentIDs[1:] {
			edge, err := NewAddEdge(parent, p.NodeID)
			if err != nil {
				return nil, err
			}
			out = append(out, edge)
		}
		return out, nil

	case KindAddEdge:
		inv, err := NewRemoveEdge(op.AddEdge.ParentID, op.AddEdge.ChildID)
		if err != nil {
			return nil, err
		}
		return []Operation{inv}, nil

	case KindRemoveEdge:
		inv, err := NewAddEdge(op.RemoveEdge.ParentID, op.RemoveEdge.ChildID)
		if err != nil {
			return nil, err
		}
		return []Operation{inv}, nil
	}
	return nil, fmt.Errorf("unknown operation kind %q", op.Kind)
}

// Summary returns a short human-readable description for history listings.
func (op Operation) Summary() string {
	switch op.Kind {
	case KindAddNode:
		return fmt.Sprintf("add node %q under %s", op.AddNode.Label, op.AddNode.ParentID)
	case KindMoveNode:
		return fmt.Sprintf("move node %s from %s to %s", op.MoveNode.NodeID, op.MoveNode.FromParentID, op.MoveNode.ToParentID)
	case KindMergeNodes:
		return fmt.Sprintf("merge node %s into %s", op.MergeNodes.SourceID, op.MergeNodes.TargetID)
	case KindDeleteNode:
		return fmt.Sprintf("delete node %s", op.DeleteNode.NodeID)
	case KindAddEdge:
		return fmt.Sprintf("add edge %s->%s", op.AddEdge.ParentID, op.AddEdge.ChildID)
	case KindRemoveEdge:
		return fmt.Sprintf("remove edge %s->%s", op.RemoveEdge.ParentID, op.RemoveEdge.ChildID)
	}
	return string(op.Kind)
}

// EncodeOps serializes an operation batch for the migrations table.
func EncodeOps(ops []Operation) ([]byte, error) {
	data, err := json.Marshal(ops)
	if err != nil {
		return nil, fmt.Errorf("failed to encode operations: %w", err)
	}
	return data, nil
}

// DecodeOps deserializes an operation batch and re-validates every entry.
func DecodeOps(data []byte) ([]Operation, error) {
	var ops []Operation
	if err := json.Unmarshal(data, &ops); err != nil {
		return nil, fmt.Errorf("failed to decode operations: %w", err)
	}
	for i, op := range ops {
		if err := op.Validate(); err != nil {
			return nil, fmt.Errorf("decoded operation %d is invalid: %w", i, err)
		}
	}
	return ops, nil
}
