// Package persistence provides the data storage abstraction for flows,
// instances and steps.
package persistence

import (
	"context"

	"github.com/approvia/approvia/pkg/models"
)

// Persistence aggregates the repositories an engine needs.
type Persistence interface {
	Flows() FlowRepository
	Instances() InstanceRepository
	Steps() StepRepository

	HealthCheck(ctx context.Context) error
	Close(ctx context.Context) error
}

// FlowRepository stores flow definitions and their published snapshots.
type FlowRepository interface {
	List(ctx context.Context, opts ListFlowsOptions) (*FlowListResult, error)
	GetByID(ctx context.Context, id string) (*models.Flow, error)
	Save(ctx context.Context, flow *models.Flow) error
	Delete(ctx context.Context, id string) error

	// SaveVersion stores an immutable published snapshot keyed by
	// (flow id, version). Snapshots are never updated in place.
	SaveVersion(ctx context.Context, flow *models.Flow) error
	GetVersion(ctx context.Context, id string, version int) (*models.Flow, error)
}

// InstanceRepository stores approval instances.
type InstanceRepository interface {
	List(ctx context.Context, opts ListInstancesOptions) (*InstanceListResult, error)
	GetByID(ctx context.Context, id string) (*models.Instance, error)
	Save(ctx context.Context, instance *models.Instance) error

	// Delete removes a terminal instance; the caller is responsible for
	// enforcing the terminal-only rule, the repository cascades to steps.
	Delete(ctx context.Context, id string) error
}

// StepRepository stores the steps materialized for instances.
type StepRepository interface {
	GetByID(ctx context.Context, id string) (*models.Step, error)
	ListByInstance(ctx context.Context, instanceID string) ([]*models.Step, error)
	ListByAssignee(ctx context.Context, opts ListStepsOptions) (*StepListResult, error)
	Save(ctx context.Context, step *models.Step) error
	DeleteByInstance(ctx context.Context, instanceID string) error
}

// ListFlowsOptions filters and paginates flow listings.
type ListFlowsOptions struct {
	Name     string
	Category string
	Status   *models.FlowStatus
	Page     int
	Size     int
}

// FlowListResult is one page of flows.
type FlowListResult struct {
	Flows       []*models.Flow
	TotalCount  int64
	HasNextPage bool
}

// ListInstancesOptions filters and paginates instance listings.
type ListInstancesOptions struct {
	FlowID       string
	ApplicantID  *int64
	Status       *models.InstanceStatus
	Urgency      *models.Urgency
	BusinessType string
	Title        string
	Page         int
	Size         int
}

// InstanceListResult is one page of instances.
type InstanceListResult struct {
	Instances   []*models.Instance
	TotalCount  int64
	HasNextPage bool
}

// ListStepsOptions filters and paginates step listings for inbox queries.
type ListStepsOptions struct {
	AssigneeID int64
	Statuses   []models.StepStatus
	NodeTypes  []models.NodeType
	Page       int
	Size       int
}

// StepListResult is one page of steps.
type StepListResult struct {
	Steps       []*models.Step
	TotalCount  int64
	HasNextPage bool
}

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// Normalize clamps pagination to sane bounds.
func Normalize(page, size int) (int, int) {
	if page < 1 {
		page = 1
	}

	if size <= 0 || size > maxPageSize {
		size = defaultPageSize
	}

	return page, size
}
