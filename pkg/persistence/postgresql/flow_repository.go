package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/approvia/approvia/pkg/models"
	"github.com/approvia/approvia/pkg/persistence"
	"github.com/google/uuid"
)

// FlowRepository handles flow-related database operations.
type FlowRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewFlowRepository creates a new flow repository.
func NewFlowRepository(db *sql.DB, logger *slog.Logger) *FlowRepository {
	return &FlowRepository{db: db, logger: logger}
}

const flowColumns = `
	id
  , flow_no
  , name
  , description
  , icon
  , category
  , status
  , version
  , form_schema
  , nodes
  , lines
  , settings
  , created_by
  , created_at
  , updated_at
  , published_at
  , deleted_at
`

func (r *FlowRepository) GetByID(ctx context.Context, id string) (*models.Flow, error) {
	query := `SELECT ` + flowColumns + ` FROM flows WHERE id = $1 AND deleted_at IS NULL`

	flow, err := r.scanFlow(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.ErrFlowNotFound
		}

		return nil, fmt.Errorf("failed to scan flow: %w", err)
	}

	return flow, nil
}

func (r *FlowRepository) Save(ctx context.Context, flow *models.Flow) error {
	now := time.Now().UTC()

	if flow.CreatedAt.IsZero() {
		flow.CreatedAt = now
	}

	flow.UpdatedAt = now

	if flow.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("failed to generate flow ID: %w", err)
		}

		flow.ID = id.String()
	}

	formSchema, nodes, lines, settings, err := marshalFlowJSON(flow)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO flows (id, flow_no, name, description, icon, category, status, version,
			form_schema, nodes, lines, settings, created_by, created_at, updated_at, published_at, deleted_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
		ON CONFLICT (id) DO UPDATE SET
			flow_no = EXCLUDED.flow_no,
			name = EXCLUDED.name,
			description = EXCLUDED.description,
			icon = EXCLUDED.icon,
			category = EXCLUDED.category,
			status = EXCLUDED.status,
			version = EXCLUDED.version,
			form_schema = EXCLUDED.form_schema,
			nodes = EXCLUDED.nodes,
			lines = EXCLUDED.lines,
			settings = EXCLUDED.settings,
			updated_at = EXCLUDED.updated_at,
			published_at = EXCLUDED.published_at,
			deleted_at = EXCLUDED.deleted_at
	`

	_, err = r.db.ExecContext(ctx, query,
		flow.ID, flow.FlowNo, flow.Name, flow.Description, flow.Icon, flow.Category,
		flow.Status, flow.Version, formSchema, nodes, lines, settings,
		flow.CreatedBy, flow.CreatedAt, flow.UpdatedAt, flow.PublishedAt, flow.DeletedAt)
	if err != nil {
		return &persistence.RepositoryError{Op: "Save", ID: flow.ID, Err: err}
	}

	return nil
}

func (r *FlowRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx,
		"UPDATE flows SET deleted_at = NOW() WHERE id = $1 AND deleted_at IS NULL", id)
	if err != nil {
		return &persistence.RepositoryError{Op: "Delete", ID: id, Err: err}
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}

	if affected == 0 {
		return persistence.ErrFlowNotFound
	}

	return nil
}

func (r *FlowRepository) SaveVersion(ctx context.Context, flow *models.Flow) error {
	snapshot, err := json.Marshal(flow)
	if err != nil {
		return fmt.Errorf("failed to marshal flow snapshot: %w", err)
	}

	_, err = r.db.ExecContext(ctx,
		"INSERT INTO flow_versions (flow_id, version, snapshot) VALUES ($1, $2, $3)",
		flow.ID, flow.Version, snapshot)
	if err != nil {
		return &persistence.RepositoryError{Op: "SaveVersion", ID: flow.ID, Err: err}
	}

	return nil
}

func (r *FlowRepository) GetVersion(ctx context.Context, id string, version int) (*models.Flow, error) {
	var snapshot []byte

	err := r.db.QueryRowContext(ctx,
		"SELECT snapshot FROM flow_versions WHERE flow_id = $1 AND version = $2",
		id, version).Scan(&snapshot)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.ErrFlowVersionNotFound
		}

		return nil, fmt.Errorf("failed to query flow version: %w", err)
	}

	var flow models.Flow
	if err := json.Unmarshal(snapshot, &flow); err != nil {
		return nil, fmt.Errorf("failed to unmarshal flow snapshot: %w", err)
	}

	return &flow, nil
}

func (r *FlowRepository) List(ctx context.Context, opts persistence.ListFlowsOptions) (*persistence.FlowListResult, error) {
	opts.Page, opts.Size = persistence.Normalize(opts.Page, opts.Size)

	where := "WHERE deleted_at IS NULL"
	args := make([]any, 0, 4)

	if opts.Name != "" {
		args = append(args, "%"+opts.Name+"%")
		where += fmt.Sprintf(" AND name ILIKE $%d", len(args))
	}

	if opts.Category != "" {
		args = append(args, opts.Category)
		where += fmt.Sprintf(" AND category = $%d", len(args))
	}

	if opts.Status != nil {
		args = append(args, string(*opts.Status))
		where += fmt.Sprintf(" AND status = $%d", len(args))
	}

	var total int64
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM flows "+where, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("failed to count flows: %w", err)
	}

	args = append(args, opts.Size, (opts.Page-1)*opts.Size)
	query := fmt.Sprintf("SELECT %s FROM flows %s ORDER BY created_at DESC LIMIT $%d OFFSET $%d",
		flowColumns, where, len(args)-1, len(args))

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query flows: %w", err)
	}

	defer func() {
		if err := rows.Close(); err != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	flows := make([]*models.Flow, 0)

	for rows.Next() {
		flow, err := r.scanFlow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan flow: %w", err)
		}

		flows = append(flows, flow)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating flows: %w", err)
	}

	return &persistence.FlowListResult{
		Flows:       flows,
		TotalCount:  total,
		HasNextPage: int64((opts.Page-1)*opts.Size+len(flows)) < total,
	}, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (r *FlowRepository) scanFlow(row rowScanner) (*models.Flow, error) {
	var (
		flow                                    models.Flow
		flowNo, description, icon, category     sql.NullString
		formSchema, nodes, lines, settings      []byte
		publishedAt, deletedAt                  sql.NullTime
	)

	err := row.Scan(&flow.ID, &flowNo, &flow.Name, &description, &icon, &category,
		&flow.Status, &flow.Version, &formSchema, &nodes, &lines, &settings,
		&flow.CreatedBy, &flow.CreatedAt, &flow.UpdatedAt, &publishedAt, &deletedAt)
	if err != nil {
		return nil, err
	}

	flow.FlowNo = flowNo.String
	flow.Description = description.String
	flow.Icon = icon.String
	flow.Category = category.String

	if publishedAt.Valid {
		flow.PublishedAt = &publishedAt.Time
	}

	if deletedAt.Valid {
		flow.DeletedAt = &deletedAt.Time
	}

	if err := unmarshalInto(formSchema, &flow.FormSchema); err != nil {
		return nil, err
	}

	if err := unmarshalInto(nodes, &flow.Nodes); err != nil {
		return nil, err
	}

	if err := unmarshalInto(lines, &flow.Lines); err != nil {
		return nil, err
	}

	if err := unmarshalInto(settings, &flow.Settings); err != nil {
		return nil, err
	}

	return &flow, nil
}

func marshalFlowJSON(flow *models.Flow) (formSchema, nodes, lines, settings []byte, err error) {
	if formSchema, err = json.Marshal(flow.FormSchema); err != nil {
		return nil, nil, nil, nil, fmt.Errorf("failed to marshal form schema: %w", err)
	}

	if flow.Nodes == nil {
		flow.Nodes = []*models.FlowNode{}
	}

	if nodes, err = json.Marshal(flow.Nodes); err != nil {
		return nil, nil, nil, nil, fmt.Errorf("failed to marshal nodes: %w", err)
	}

	if flow.Lines == nil {
		flow.Lines = []*models.FlowLine{}
	}

	if lines, err = json.Marshal(flow.Lines); err != nil {
		return nil, nil, nil, nil, fmt.Errorf("failed to marshal lines: %w", err)
	}

	if settings, err = json.Marshal(flow.Settings); err != nil {
		return nil, nil, nil, nil, fmt.Errorf("failed to marshal settings: %w", err)
	}

	return formSchema, nodes, lines, settings, nil
}

func unmarshalInto(data []byte, v any) error {
	if len(data) == 0 || string(data) == "null" {
		return nil
	}

	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to unmarshal column: %w", err)
	}

	return nil
}
