package file

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/approvia/approvia/pkg/models"
	"github.com/approvia/approvia/pkg/persistence"
	"github.com/google/uuid"
)

// FlowRepository stores flows as flows/<id>.json and published snapshots as
// flow_versions/<id>-v<version>.json.
type FlowRepository struct {
	root string
}

func NewFlowRepository(root string) *FlowRepository {
	return &FlowRepository{root: root}
}

func (r *FlowRepository) flowsDir() string    { return filepath.Join(r.root, "flows") }
func (r *FlowRepository) versionsDir() string { return filepath.Join(r.root, "flow_versions") }

func (r *FlowRepository) GetByID(_ context.Context, id string) (*models.Flow, error) {
	var flow models.Flow

	found, err := readJSON(r.flowsDir(), id+".json", &flow)
	if err != nil {
		return nil, err
	}

	if !found || flow.DeletedAt != nil {
		return nil, persistence.ErrFlowNotFound
	}

	return &flow, nil
}

func (r *FlowRepository) Save(_ context.Context, flow *models.Flow) error {
	now := time.Now().UTC()

	if flow.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("failed to generate flow ID: %w", err)
		}

		flow.ID = id.String()
	}

	if flow.CreatedAt.IsZero() {
		flow.CreatedAt = now
	}

	flow.UpdatedAt = now

	return writeJSON(r.flowsDir(), flow.ID+".json", flow)
}

func (r *FlowRepository) Delete(ctx context.Context, id string) error {
	flow, err := r.GetByID(ctx, id)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	flow.DeletedAt = &now

	return writeJSON(r.flowsDir(), flow.ID+".json", flow)
}

func (r *FlowRepository) SaveVersion(_ context.Context, flow *models.Flow) error {
	name := fmt.Sprintf("%s-v%d.json", flow.ID, flow.Version)

	return writeJSON(r.versionsDir(), name, flow)
}

func (r *FlowRepository) GetVersion(_ context.Context, id string, version int) (*models.Flow, error) {
	var flow models.Flow

	name := fmt.Sprintf("%s-v%d.json", id, version)

	found, err := readJSON(r.versionsDir(), name, &flow)
	if err != nil {
		return nil, err
	}

	if !found {
		return nil, persistence.ErrFlowVersionNotFound
	}

	return &flow, nil
}

func (r *FlowRepository) List(ctx context.Context, opts persistence.ListFlowsOptions) (*persistence.FlowListResult, error) {
	opts.Page, opts.Size = persistence.Normalize(opts.Page, opts.Size)

	names, err := listJSONFiles(r.flowsDir())
	if err != nil {
		return nil, err
	}

	flows := make([]*models.Flow, 0, len(names))

	for _, name := range names {
		flow, err := r.GetByID(ctx, strings.TrimSuffix(name, ".json"))
		if err != nil {
			if persistence.IsFlowNotFound(err) {
				continue // soft-deleted
			}

			return nil, err
		}

		if !matchFlow(flow, opts) {
			continue
		}

		flows = append(flows, flow)
	}

	sort.Slice(flows, func(i, j int) bool {
		return flows[i].CreatedAt.After(flows[j].CreatedAt)
	})

	total := int64(len(flows))
	start := (opts.Page - 1) * opts.Size
	end := start + opts.Size

	if start >= len(flows) {
		return &persistence.FlowListResult{Flows: []*models.Flow{}, TotalCount: total}, nil
	}

	if end > len(flows) {
		end = len(flows)
	}

	return &persistence.FlowListResult{
		Flows:       flows[start:end],
		TotalCount:  total,
		HasNextPage: end < len(flows),
	}, nil
}

func matchFlow(flow *models.Flow, opts persistence.ListFlowsOptions) bool {
	if opts.Name != "" && !strings.Contains(strings.ToLower(flow.Name), strings.ToLower(opts.Name)) {
		return false
	}

	if opts.Category != "" && flow.Category != opts.Category {
		return false
	}

	if opts.Status != nil && flow.Status != *opts.Status {
		return false
	}

	return true
}
