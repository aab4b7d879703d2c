package flow

import (
	"context"
	"fmt"
	"slices"

	"github.com/approvia/approvia/pkg/directory"
	"github.com/approvia/approvia/pkg/models"
)

// ResolveNodeAssignees expands a node's assignee declaration into concrete
// user ids, deduplicated and sorted. Resolution happens at activation time so
// membership changes affect future activations only. Any failure aborts the
// whole expansion: a node is never activated with a partial assignee set.
func ResolveNodeAssignees(ctx context.Context, dir directory.Directory, node *models.FlowNode) ([]int64, error) {
	assigneeType := node.AssigneeType
	if assigneeType == "" {
		assigneeType = models.AssigneeTypeUser
	}

	users, err := dir.ResolveAssignees(ctx, assigneeType, node.AssigneeIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve assignees for node %s: %w", node.ID, err)
	}

	slices.Sort(users)
	users = slices.Compact(users)

	if len(users) == 0 {
		return nil, fmt.Errorf("node %s: %w", node.ID, ErrNoAssignees)
	}

	return users, nil
}
