// Package directory resolves role and department assignees into user ids.
package directory

import (
	"context"
	"errors"
	"fmt"

	"github.com/approvia/approvia/pkg/models"
)

// ErrUnknownAssigneeType indicates an assignee type the directory cannot expand.
var ErrUnknownAssigneeType = errors.New("unknown assignee type")

// ErrAssigneeNotFound indicates a role or department id with no members.
var ErrAssigneeNotFound = errors.New("assignee not found")

// Directory expands a node's assignee declaration into concrete user ids.
// Expansion happens at activation time, never at design time, so membership
// changes affect future activations without touching materialized steps.
type Directory interface {
	ResolveAssignees(ctx context.Context, assigneeType models.AssigneeType, ids []int64) ([]int64, error)
}

// Static is an in-memory directory for development and tests.
type Static struct {
	RoleMembers map[int64][]int64
	DeptMembers map[int64][]int64
}

// NewStatic creates an empty static directory.
func NewStatic() *Static {
	return &Static{
		RoleMembers: make(map[int64][]int64),
		DeptMembers: make(map[int64][]int64),
	}
}

func (s *Static) ResolveAssignees(_ context.Context, assigneeType models.AssigneeType, ids []int64) ([]int64, error) {
	switch assigneeType {
	case models.AssigneeTypeUser:
		return ids, nil
	case models.AssigneeTypeRole:
		return s.expand(s.RoleMembers, ids, "role")
	case models.AssigneeTypeDept:
		return s.expand(s.DeptMembers, ids, "department")
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownAssigneeType, assigneeType)
	}
}

func (s *Static) expand(members map[int64][]int64, ids []int64, kind string) ([]int64, error) {
	users := make([]int64, 0)

	for _, id := range ids {
		found, ok := members[id]
		if !ok {
			return nil, fmt.Errorf("%w: %s %d", ErrAssigneeNotFound, kind, id)
		}

		users = append(users, found...)
	}

	return users, nil
}
