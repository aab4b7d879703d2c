// Package models defines the core domain models for approval workflow processing.
package models

import "time"

// FlowStatus represents the lifecycle state of a flow definition.
type FlowStatus string

const (
	FlowStatusDraft     FlowStatus = "DRAFT"     // Editable, not executable
	FlowStatusPublished FlowStatus = "PUBLISHED" // Frozen, instances may start
	FlowStatusArchived  FlowStatus = "ARCHIVED"  // Historical, no new instances
)

// NodeType classifies the behavior of a flow node.
type NodeType string

const (
	NodeTypeStart    NodeType = "START"
	NodeTypeApproval NodeType = "APPROVAL"
	NodeTypeCC       NodeType = "CC"
	NodeTypeEnd      NodeType = "END"
)

// ApprovalType is the completion policy for a multi-assignee APPROVAL node.
type ApprovalType string

const (
	ApprovalTypeSingle   ApprovalType = "SINGLE"    // The one step must approve
	ApprovalTypeMultiOr  ApprovalType = "MULTI_OR"  // Any approval advances
	ApprovalTypeMultiAnd ApprovalType = "MULTI_AND" // Every counted step must approve
)

// AssigneeType tells the org directory how to expand assignee ids into users.
type AssigneeType string

const (
	AssigneeTypeUser AssigneeType = "USER"
	AssigneeTypeRole AssigneeType = "ROLE"
	AssigneeTypeDept AssigneeType = "DEPT"
)

// FlowNode is a single node in a flow graph.
type FlowNode struct {
	ID           string         `json:"node_id"      validate:"required"`
	Name         string         `json:"name"`
	Type         NodeType       `json:"node_type"    validate:"required"`
	ApprovalType ApprovalType   `json:"approval_type,omitempty"`
	AssigneeType AssigneeType   `json:"assignee_type,omitempty"`
	AssigneeIDs  []int64        `json:"assignee_ids,omitempty"`
	IsFirst      bool           `json:"is_first"`
	IsFinal      bool           `json:"is_final"`
	OrderNum     int            `json:"order_num"`
	Settings     map[string]any `json:"settings,omitempty"`
}

// FlowLine is a directed transition edge between two nodes.
//
// A line without a condition expression is always eligible. Lines that carry
// conditions form an exclusive group per source node: they are evaluated in
// priority order and the first truthy condition wins.
type FlowLine struct {
	ID                  string         `json:"line_no"`
	FromNodeID          string         `json:"from_node_id" validate:"required"`
	ToNodeID            string         `json:"to_node_id"   validate:"required"`
	ConditionExpression string         `json:"condition_expression,omitempty"`
	Priority            int            `json:"priority"`
	Label               string         `json:"label,omitempty"`
	Settings            map[string]any `json:"settings,omitempty"`
}

// Flow is a versioned approval process definition.
//
// A flow is edited as a DRAFT and frozen by publishing. Publishing stores an
// immutable snapshot under (ID, Version); a later edit of the published flow
// opens a new draft with Version+1 while every prior snapshot stays
// retrievable for the instances bound to it.
type Flow struct {
	ID          string         `json:"id"`
	FlowNo      string         `json:"flow_no,omitempty"`
	Name        string         `json:"name"        validate:"required,min=3"`
	Description string         `json:"description,omitempty"`
	Icon        string         `json:"icon,omitempty"`
	Category    string         `json:"category,omitempty"`
	Status      FlowStatus     `json:"status"`
	Version     int            `json:"version"`
	FormSchema  map[string]any `json:"form_schema,omitempty"`
	Nodes       []*FlowNode    `json:"nodes"`
	Lines       []*FlowLine    `json:"lines"`
	Settings    map[string]any `json:"settings,omitempty"`
	CreatedBy   int64          `json:"created_by"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
	PublishedAt *time.Time     `json:"published_at,omitempty"`
	DeletedAt   *time.Time     `json:"deleted_at,omitempty"`
}

// NodeByID returns the node with the given id, or nil.
func (f *Flow) NodeByID(id string) *FlowNode {
	for _, n := range f.Nodes {
		if n.ID == id {
			return n
		}
	}

	return nil
}

// StartNode returns the flow's entry node, or nil when the graph has none.
func (f *Flow) StartNode() *FlowNode {
	for _, n := range f.Nodes {
		if n.Type == NodeTypeStart && n.IsFirst {
			return n
		}
	}

	return nil
}

// OutgoingLines returns the lines leaving a node, unordered.
func (f *Flow) OutgoingLines(nodeID string) []*FlowLine {
	lines := make([]*FlowLine, 0)

	for _, l := range f.Lines {
		if l.FromNodeID == nodeID {
			lines = append(lines, l)
		}
	}

	return lines
}

// IncomingLines returns the lines entering a node, unordered.
func (f *Flow) IncomingLines(nodeID string) []*FlowLine {
	lines := make([]*FlowLine, 0)

	for _, l := range f.Lines {
		if l.ToNodeID == nodeID {
			lines = append(lines, l)
		}
	}

	return lines
}
