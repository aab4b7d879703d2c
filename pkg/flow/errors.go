// Package flow provides flow graph validation, routing and lifecycle management.
package flow

import (
	"errors"
	"fmt"
)

// Graph validation error codes.
const (
	CodeMissingStart        = "MISSING_START"
	CodeMissingEnd          = "MISSING_END"
	CodeDuplicateNodeID     = "DUPLICATE_NODE_ID"
	CodeDanglingEdge        = "DANGLING_EDGE"
	CodeUnreachableNode     = "UNREACHABLE_NODE"
	CodeMissingIncoming     = "MISSING_INCOMING"
	CodeMissingOutgoing     = "MISSING_OUTGOING"
	CodeForwardCycle        = "FORWARD_CYCLE"
	CodeInvalidApprovalNode = "INVALID_APPROVAL_NODE"
)

// ValidationError describes why a graph cannot be published.
type ValidationError struct {
	Code   string // One of the Code* constants
	NodeID string // Offending node, if applicable
	Detail string
}

func (e *ValidationError) Error() string {
	if e.NodeID != "" {
		return fmt.Sprintf("invalid flow graph: %s (node %s): %s", e.Code, e.NodeID, e.Detail)
	}

	return fmt.Sprintf("invalid flow graph: %s: %s", e.Code, e.Detail)
}

// IsValidationError reports whether err is a graph validation error.
func IsValidationError(err error) bool {
	var ve *ValidationError

	return errors.As(err, &ve)
}

// Lifecycle errors.
var (
	// ErrAlreadyPublished indicates publish was called twice on the same version.
	ErrAlreadyPublished = errors.New("flow version already published")

	// ErrNotPublished indicates an unpublish/archive on a flow that isn't published.
	ErrNotPublished = errors.New("flow is not published")

	// ErrFlowPublished indicates a delete attempted while the flow is published.
	ErrFlowPublished = errors.New("cannot delete a published flow")

	// ErrNoAssignees indicates assignee resolution produced an empty set.
	ErrNoAssignees = errors.New("node resolves to no assignees")

	// ErrNoEligibleLine indicates routing found no eligible outgoing line.
	// Validation prevents the structural case; this guards condition sets
	// that are all false at runtime.
	ErrNoEligibleLine = errors.New("no eligible outgoing line")
)

// IsConflictError reports lifecycle conflicts that map to HTTP 409.
func IsConflictError(err error) bool {
	return errors.Is(err, ErrAlreadyPublished) ||
		errors.Is(err, ErrNotPublished) ||
		errors.Is(err, ErrFlowPublished)
}
