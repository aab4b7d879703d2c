// Package engine runs approval instances: it materializes steps, applies
// approver actions and advances instances through their bound flow version.
package engine

import "errors"

// State errors: the entity exists but is in a state that forbids the action.
var (
	// ErrStepAlreadyCompleted indicates an action on a step that already
	// reached a terminal status. Completed steps are write-once.
	ErrStepAlreadyCompleted = errors.New("step already completed")

	// ErrInstanceNotPending indicates an action on a terminal instance.
	ErrInstanceNotPending = errors.New("instance is not pending")

	// ErrFlowNotPublished indicates a start against a flow whose current
	// version is not published.
	ErrFlowNotPublished = errors.New("flow is not published")

	// ErrInstanceActive indicates a delete of a still-running instance.
	ErrInstanceActive = errors.New("instance is still active")
)

// Validation errors: the action payload is invalid for this instance.
var (
	// ErrInvalidDelegateTarget indicates delegate_to is missing, unknown, or
	// the current assignee.
	ErrInvalidDelegateTarget = errors.New("invalid delegate target")

	// ErrInvalidReturnTarget indicates return_to_node is not an APPROVAL node
	// visited earlier in this instance.
	ErrInvalidReturnTarget = errors.New("invalid return target")

	// ErrUnknownAction indicates an action type outside the transition table.
	ErrUnknownAction = errors.New("unknown action")

	// ErrInvalidFormData indicates the submitted form data failed the flow's
	// JSON schema.
	ErrInvalidFormData = errors.New("form data does not match flow schema")
)

// Authorization errors: the caller may not perform the action.
var (
	// ErrNotAssignee indicates the actor is not the step's assignee.
	ErrNotAssignee = errors.New("actor is not the step assignee")

	// ErrNotOwner indicates the actor is neither the applicant nor an admin.
	ErrNotOwner = errors.New("actor is not the instance applicant")
)

// IsStateError reports errors caused by acting on an entity in the wrong
// lifecycle state. They map to HTTP 409.
func IsStateError(err error) bool {
	return errors.Is(err, ErrStepAlreadyCompleted) ||
		errors.Is(err, ErrInstanceNotPending) ||
		errors.Is(err, ErrFlowNotPublished) ||
		errors.Is(err, ErrInstanceActive)
}

// IsValidationError reports errors caused by an invalid action payload. They
// map to HTTP 400.
func IsValidationError(err error) bool {
	return errors.Is(err, ErrInvalidDelegateTarget) ||
		errors.Is(err, ErrInvalidReturnTarget) ||
		errors.Is(err, ErrUnknownAction) ||
		errors.Is(err, ErrInvalidFormData)
}

// IsAuthError reports errors caused by the caller lacking rights on the
// entity. They map to HTTP 403.
func IsAuthError(err error) bool {
	return errors.Is(err, ErrNotAssignee) || errors.Is(err, ErrNotOwner)
}

// Code returns the stable machine-readable code clients switch on.
func Code(err error) string {
	switch {
	case errors.Is(err, ErrStepAlreadyCompleted):
		return "STEP_ALREADY_COMPLETED"
	case errors.Is(err, ErrInstanceNotPending):
		return "INSTANCE_NOT_PENDING"
	case errors.Is(err, ErrFlowNotPublished):
		return "FLOW_NOT_PUBLISHED"
	case errors.Is(err, ErrInstanceActive):
		return "INSTANCE_ACTIVE"
	case errors.Is(err, ErrInvalidDelegateTarget):
		return "INVALID_DELEGATE_TARGET"
	case errors.Is(err, ErrInvalidReturnTarget):
		return "INVALID_RETURN_TARGET"
	case errors.Is(err, ErrUnknownAction):
		return "UNKNOWN_ACTION"
	case errors.Is(err, ErrInvalidFormData):
		return "INVALID_FORM_DATA"
	case errors.Is(err, ErrNotAssignee):
		return "NOT_ASSIGNEE"
	case errors.Is(err, ErrNotOwner):
		return "NOT_OWNER"
	default:
		return ""
	}
}
