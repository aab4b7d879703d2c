package models

import (
	"slices"
	"time"
)

// InstanceStatus is the lifecycle state of an approval instance.
type InstanceStatus string

const (
	InstanceStatusPending   InstanceStatus = "PENDING"
	InstanceStatusApproved  InstanceStatus = "APPROVED"
	InstanceStatusRejected  InstanceStatus = "REJECTED"
	InstanceStatusCancelled InstanceStatus = "CANCELLED"
)

// Urgency is the applicant-declared priority of an instance.
type Urgency string

const (
	UrgencyLow    Urgency = "LOW"
	UrgencyNormal Urgency = "NORMAL"
	UrgencyHigh   Urgency = "HIGH"
	UrgencyUrgent Urgency = "URGENT"
)

// Instance is one execution of a published flow version.
//
// The (FlowID, FlowVersion) binding is fixed at start and never changes;
// later publishes of the same flow do not affect a running instance.
type Instance struct {
	ID             string         `json:"id"`
	InstanceNo     string         `json:"instance_no,omitempty"`
	FlowID         string         `json:"flow_id"`
	FlowVersion    int            `json:"flow_version"`
	Title          string         `json:"title"`
	Status         InstanceStatus `json:"status"`
	CurrentNodeIDs []string       `json:"current_node_ids"`
	ApplicantID    int64          `json:"applicant_id"`
	BusinessKey    string         `json:"business_key,omitempty"`
	BusinessType   string         `json:"business_type,omitempty"`
	FormData       map[string]any `json:"form_data,omitempty"`
	Urgency        Urgency        `json:"urgency"`
	Tags           []string       `json:"tags,omitempty"`
	Attachments    []any          `json:"attachments,omitempty"`
	StartedAt      time.Time      `json:"started_at"`
	EndedAt        *time.Time     `json:"ended_at,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`

	// Steps are embedded on detail reads only; the step repository is the
	// authoritative store.
	Steps []*Step `json:"steps,omitempty"`
}

// IsTerminal reports whether the instance has finished, by any route.
func (i *Instance) IsTerminal() bool {
	return i.Status != InstanceStatusPending
}

// AtNode reports whether nodeID is one of the instance's active nodes.
func (i *Instance) AtNode(nodeID string) bool {
	return slices.Contains(i.CurrentNodeIDs, nodeID)
}

// RemoveCurrentNode drops nodeID from the active set.
func (i *Instance) RemoveCurrentNode(nodeID string) {
	i.CurrentNodeIDs = slices.DeleteFunc(i.CurrentNodeIDs, func(id string) bool {
		return id == nodeID
	})
}

// AddCurrentNode adds nodeID to the active set if not already present.
func (i *Instance) AddCurrentNode(nodeID string) {
	if !i.AtNode(nodeID) {
		i.CurrentNodeIDs = append(i.CurrentNodeIDs, nodeID)
	}
}
