package models

import "time"

// StepStatus is the terminal-once state of a single assignee's step.
type StepStatus string

const (
	StepStatusPending   StepStatus = "PENDING"
	StepStatusApproved  StepStatus = "APPROVED"
	StepStatusRejected  StepStatus = "REJECTED"
	StepStatusDelegated StepStatus = "DELEGATED"
	StepStatusReturned  StepStatus = "RETURNED"
	StepStatusCancelled StepStatus = "CANCELLED"
)

// StepAction is an approver's decision on a pending step.
type StepAction string

const (
	StepActionApprove  StepAction = "APPROVE"
	StepActionReject   StepAction = "REJECT"
	StepActionDelegate StepAction = "DELEGATE"
	StepActionReturn   StepAction = "RETURN"
)

// Step is one assignee's pending-or-resolved task at a node within an
// instance. Steps are write-once after completion: corrections happen via a
// new step (DELEGATE spawns a successor, RETURN opens a new round), never by
// mutating a completed record.
type Step struct {
	ID         string `json:"id"`
	StepNo     string `json:"step_no,omitempty"`
	InstanceID string `json:"instance_id"`
	NodeID     string `json:"node_id"`
	NodeName   string `json:"node_name,omitempty"`

	// NodeType and ApprovalType are denormalized from the bound flow version
	// at materialization time so inbox queries and completion checks never
	// need a flow fetch.
	NodeType     NodeType     `json:"node_type"`
	ApprovalType ApprovalType `json:"approval_type,omitempty"`

	// Round numbers the activations of a node within one instance. A RETURN
	// re-activates the target node under a fresh round; only steps of the
	// latest round count toward the node's completion policy.
	Round int `json:"round"`

	AssigneeID    int64      `json:"assignee_id"`
	Status        StepStatus `json:"status"`
	Action        StepAction `json:"action,omitempty"`
	Opinion       string     `json:"opinion,omitempty"`
	Attachments   []any      `json:"attachments,omitempty"`
	DelegatedFrom *int64     `json:"delegated_from,omitempty"`
	ReturnedFrom  *string    `json:"returned_from,omitempty"`
	IsRead        bool       `json:"is_read"`
	StartedAt     time.Time  `json:"started_at"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
}

// IsCompleted reports whether the step has reached a terminal status.
func (s *Step) IsCompleted() bool {
	return s.Status != StepStatusPending
}

// Counts reports whether the step participates in its node's completion
// policy. Delegated originals hand their vote to the successor step;
// cancelled and returned steps are historical.
func (s *Step) Counts() bool {
	switch s.Status {
	case StepStatusDelegated, StepStatusCancelled, StepStatusReturned:
		return false
	default:
		return true
	}
}
