package file

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/approvia/approvia/pkg/models"
	"github.com/approvia/approvia/pkg/persistence"
	"github.com/google/uuid"
)

// InstanceRepository stores instances as instances/<id>.json.
type InstanceRepository struct {
	root string
}

func NewInstanceRepository(root string) *InstanceRepository {
	return &InstanceRepository{root: root}
}

func (r *InstanceRepository) dir() string { return filepath.Join(r.root, "instances") }

func (r *InstanceRepository) GetByID(_ context.Context, id string) (*models.Instance, error) {
	var instance models.Instance

	found, err := readJSON(r.dir(), id+".json", &instance)
	if err != nil {
		return nil, err
	}

	if !found {
		return nil, persistence.ErrInstanceNotFound
	}

	return &instance, nil
}

func (r *InstanceRepository) Save(_ context.Context, instance *models.Instance) error {
	now := time.Now().UTC()

	if instance.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("failed to generate instance ID: %w", err)
		}

		instance.ID = id.String()
	}

	if instance.CreatedAt.IsZero() {
		instance.CreatedAt = now
	}

	instance.UpdatedAt = now

	// Steps live in their own repository; never serialize the embedded view.
	stripped := *instance
	stripped.Steps = nil

	return writeJSON(r.dir(), instance.ID+".json", &stripped)
}

func (r *InstanceRepository) Delete(ctx context.Context, id string) error {
	if _, err := r.GetByID(ctx, id); err != nil {
		return err
	}

	if err := NewStepRepository(r.root).DeleteByInstance(ctx, id); err != nil {
		return err
	}

	if err := os.Remove(filepath.Join(r.dir(), id+".json")); err != nil {
		return fmt.Errorf("failed to delete instance %s: %w", id, err)
	}

	return nil
}

func (r *InstanceRepository) List(ctx context.Context, opts persistence.ListInstancesOptions) (*persistence.InstanceListResult, error) {
	opts.Page, opts.Size = persistence.Normalize(opts.Page, opts.Size)

	names, err := listJSONFiles(r.dir())
	if err != nil {
		return nil, err
	}

	instances := make([]*models.Instance, 0, len(names))

	for _, name := range names {
		instance, err := r.GetByID(ctx, strings.TrimSuffix(name, ".json"))
		if err != nil {
			return nil, err
		}

		if !matchInstance(instance, opts) {
			continue
		}

		instances = append(instances, instance)
	}

	sort.Slice(instances, func(i, j int) bool {
		return instances[i].StartedAt.After(instances[j].StartedAt)
	})

	total := int64(len(instances))
	start := (opts.Page - 1) * opts.Size
	end := start + opts.Size

	if start >= len(instances) {
		return &persistence.InstanceListResult{Instances: []*models.Instance{}, TotalCount: total}, nil
	}

	if end > len(instances) {
		end = len(instances)
	}

	return &persistence.InstanceListResult{
		Instances:   instances[start:end],
		TotalCount:  total,
		HasNextPage: end < len(instances),
	}, nil
}

func matchInstance(instance *models.Instance, opts persistence.ListInstancesOptions) bool {
	if opts.FlowID != "" && instance.FlowID != opts.FlowID {
		return false
	}

	if opts.ApplicantID != nil && instance.ApplicantID != *opts.ApplicantID {
		return false
	}

	if opts.Status != nil && instance.Status != *opts.Status {
		return false
	}

	if opts.Urgency != nil && instance.Urgency != *opts.Urgency {
		return false
	}

	if opts.BusinessType != "" && instance.BusinessType != opts.BusinessType {
		return false
	}

	if opts.Title != "" && !strings.Contains(strings.ToLower(instance.Title), strings.ToLower(opts.Title)) {
		return false
	}

	return true
}
