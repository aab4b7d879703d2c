package file

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/approvia/approvia/pkg/models"
	"github.com/approvia/approvia/pkg/persistence"
	"github.com/google/uuid"
)

// StepRepository stores steps as steps/<id>.json.
type StepRepository struct {
	root string
}

func NewStepRepository(root string) *StepRepository {
	return &StepRepository{root: root}
}

func (r *StepRepository) dir() string { return filepath.Join(r.root, "steps") }

func (r *StepRepository) GetByID(_ context.Context, id string) (*models.Step, error) {
	var step models.Step

	found, err := readJSON(r.dir(), id+".json", &step)
	if err != nil {
		return nil, err
	}

	if !found {
		return nil, persistence.ErrStepNotFound
	}

	return &step, nil
}

func (r *StepRepository) Save(_ context.Context, step *models.Step) error {
	if step.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("failed to generate step ID: %w", err)
		}

		step.ID = id.String()
	}

	if step.StartedAt.IsZero() {
		step.StartedAt = time.Now().UTC()
	}

	return writeJSON(r.dir(), step.ID+".json", step)
}

func (r *StepRepository) ListByInstance(ctx context.Context, instanceID string) ([]*models.Step, error) {
	all, err := r.loadAll(ctx)
	if err != nil {
		return nil, err
	}

	steps := make([]*models.Step, 0)

	for _, step := range all {
		if step.InstanceID == instanceID {
			steps = append(steps, step)
		}
	}

	sortSteps(steps)

	return steps, nil
}

func (r *StepRepository) ListByAssignee(ctx context.Context, opts persistence.ListStepsOptions) (*persistence.StepListResult, error) {
	opts.Page, opts.Size = persistence.Normalize(opts.Page, opts.Size)

	all, err := r.loadAll(ctx)
	if err != nil {
		return nil, err
	}

	steps := make([]*models.Step, 0)

	for _, step := range all {
		if step.AssigneeID != opts.AssigneeID {
			continue
		}

		if len(opts.Statuses) > 0 && !slices.Contains(opts.Statuses, step.Status) {
			continue
		}

		if len(opts.NodeTypes) > 0 && !slices.Contains(opts.NodeTypes, step.NodeType) {
			continue
		}

		steps = append(steps, step)
	}

	sortSteps(steps)

	total := int64(len(steps))
	start := (opts.Page - 1) * opts.Size
	end := start + opts.Size

	if start >= len(steps) {
		return &persistence.StepListResult{Steps: []*models.Step{}, TotalCount: total}, nil
	}

	if end > len(steps) {
		end = len(steps)
	}

	return &persistence.StepListResult{
		Steps:       steps[start:end],
		TotalCount:  total,
		HasNextPage: end < len(steps),
	}, nil
}

func (r *StepRepository) DeleteByInstance(ctx context.Context, instanceID string) error {
	steps, err := r.ListByInstance(ctx, instanceID)
	if err != nil {
		return err
	}

	for _, step := range steps {
		if err := os.Remove(filepath.Join(r.dir(), step.ID+".json")); err != nil {
			return fmt.Errorf("failed to delete step %s: %w", step.ID, err)
		}
	}

	return nil
}

func (r *StepRepository) loadAll(ctx context.Context) ([]*models.Step, error) {
	names, err := listJSONFiles(r.dir())
	if err != nil {
		return nil, err
	}

	steps := make([]*models.Step, 0, len(names))

	for _, name := range names {
		step, err := r.GetByID(ctx, strings.TrimSuffix(name, ".json"))
		if err != nil {
			return nil, err
		}

		steps = append(steps, step)
	}

	return steps, nil
}

func sortSteps(steps []*models.Step) {
	sort.Slice(steps, func(i, j int) bool {
		if steps[i].StartedAt.Equal(steps[j].StartedAt) {
			return steps[i].ID < steps[j].ID
		}

		return steps[i].StartedAt.After(steps[j].StartedAt)
	})
}
