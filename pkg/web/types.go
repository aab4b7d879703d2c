// Package web provides HTTP request and response types for the approval API.
package web

import "github.com/approvia/approvia/pkg/models"

// CreateFlowRequest represents the request body for creating a new flow.
type CreateFlowRequest struct {
	Name        string             `json:"name"        validate:"required,min=3"`
	Description string             `json:"description"`
	Icon        string             `json:"icon,omitempty"`
	Category    string             `json:"category,omitempty"`
	FormSchema  map[string]any     `json:"form_schema,omitempty"`
	Nodes       []*models.FlowNode `json:"nodes"`
	Lines       []*models.FlowLine `json:"lines"`
	Settings    map[string]any     `json:"settings,omitempty"`
}

// UpdateFlowRequest represents the request body for updating a flow. Nodes
// and lines are replaced wholesale: the graph editor always submits the full
// definition.
type UpdateFlowRequest struct {
	Name        string             `json:"name"        validate:"required,min=3"`
	Description string             `json:"description"`
	Icon        string             `json:"icon,omitempty"`
	Category    string             `json:"category,omitempty"`
	FormSchema  map[string]any     `json:"form_schema,omitempty"`
	Nodes       []*models.FlowNode `json:"nodes"`
	Lines       []*models.FlowLine `json:"lines"`
	Settings    map[string]any     `json:"settings,omitempty"`
}

// StartInstanceRequest represents the request body for starting an instance.
type StartInstanceRequest struct {
	FlowID       string         `json:"flow_id"       validate:"required"`
	Title        string         `json:"title"         validate:"required,min=1"`
	FormData     map[string]any `json:"form_data,omitempty"`
	BusinessKey  string         `json:"business_key,omitempty"`
	BusinessType string         `json:"business_type,omitempty"`
	Urgency      models.Urgency `json:"urgency,omitempty"      validate:"omitempty,oneof=LOW NORMAL HIGH URGENT"`
	Tags         []string       `json:"tags,omitempty"`
	Attachments  []any          `json:"attachments,omitempty"`
}

// ProcessStepRequest represents the request body for acting on a step.
type ProcessStepRequest struct {
	Action       models.StepAction `json:"action"                   validate:"required,oneof=APPROVE REJECT DELEGATE RETURN"`
	Opinion      string            `json:"opinion,omitempty"`
	Attachments  []any             `json:"attachments,omitempty"`
	DelegateTo   *int64            `json:"delegate_to,omitempty"`
	ReturnToNode string            `json:"return_to_node,omitempty"`
}
