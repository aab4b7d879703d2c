package engine

import (
	"context"
	"fmt"

	"github.com/approvia/approvia/pkg/models"
	"github.com/approvia/approvia/pkg/persistence"
)

// Inbox serves the per-user task views. Each view is a live query over the
// authoritative step and instance stores, so it can never drift from the
// state the processor writes.
type Inbox struct {
	persistence persistence.Persistence
}

func NewInbox(p persistence.Persistence) *Inbox {
	return &Inbox{persistence: p}
}

// MyTodo returns the user's pending approval steps.
func (i *Inbox) MyTodo(ctx context.Context, userID int64, page, size int) (*persistence.StepListResult, error) {
	return i.persistence.Steps().ListByAssignee(ctx, persistence.ListStepsOptions{
		AssigneeID: userID,
		Statuses:   []models.StepStatus{models.StepStatusPending},
		NodeTypes:  []models.NodeType{models.NodeTypeApproval},
		Page:       page,
		Size:       size,
	})
}

// MyDone returns the user's resolved approval steps: everything no longer
// pending, including steps cancelled out from under them by a sibling's
// decision or an instance cancellation.
func (i *Inbox) MyDone(ctx context.Context, userID int64, page, size int) (*persistence.StepListResult, error) {
	return i.persistence.Steps().ListByAssignee(ctx, persistence.ListStepsOptions{
		AssigneeID: userID,
		Statuses: []models.StepStatus{
			models.StepStatusApproved,
			models.StepStatusRejected,
			models.StepStatusDelegated,
			models.StepStatusReturned,
			models.StepStatusCancelled,
		},
		NodeTypes: []models.NodeType{models.NodeTypeApproval},
		Page:      page,
		Size:      size,
	})
}

// MyInitiated returns the instances the user applied for.
func (i *Inbox) MyInitiated(ctx context.Context, userID int64, page, size int) (*persistence.InstanceListResult, error) {
	return i.persistence.Instances().List(ctx, persistence.ListInstancesOptions{
		ApplicantID: &userID,
		Page:        page,
		Size:        size,
	})
}

// MyCc returns the user's carbon-copy notifications.
func (i *Inbox) MyCc(ctx context.Context, userID int64, page, size int) (*persistence.StepListResult, error) {
	return i.persistence.Steps().ListByAssignee(ctx, persistence.ListStepsOptions{
		AssigneeID: userID,
		NodeTypes:  []models.NodeType{models.NodeTypeCC},
		Page:       page,
		Size:       size,
	})
}

// MarkRead flags a CC step as read by its assignee.
func (i *Inbox) MarkRead(ctx context.Context, stepID string, userID int64) (*models.Step, error) {
	step, err := i.persistence.Steps().GetByID(ctx, stepID)
	if err != nil {
		return nil, err
	}

	if step.AssigneeID != userID {
		return nil, fmt.Errorf("step %s: %w", stepID, ErrNotAssignee)
	}

	if step.IsRead {
		return step, nil
	}

	step.IsRead = true
	if err := i.persistence.Steps().Save(ctx, step); err != nil {
		return nil, fmt.Errorf("failed to mark step %s read: %w", stepID, err)
	}

	return step, nil
}
