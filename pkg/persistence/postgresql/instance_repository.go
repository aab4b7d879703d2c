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

// InstanceRepository handles instance-related database operations.
type InstanceRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewInstanceRepository creates a new instance repository.
func NewInstanceRepository(db *sql.DB, logger *slog.Logger) *InstanceRepository {
	return &InstanceRepository{db: db, logger: logger}
}

const instanceColumns = `
	id
  , instance_no
  , flow_id
  , flow_version
  , title
  , status
  , current_node_ids
  , applicant_id
  , business_key
  , business_type
  , form_data
  , urgency
  , tags
  , attachments
  , started_at
  , ended_at
  , created_at
  , updated_at
`

func (r *InstanceRepository) GetByID(ctx context.Context, id string) (*models.Instance, error) {
	query := `SELECT ` + instanceColumns + ` FROM instances WHERE id = $1`

	instance, err := r.scanInstance(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.ErrInstanceNotFound
		}

		return nil, fmt.Errorf("failed to scan instance: %w", err)
	}

	return instance, nil
}

func (r *InstanceRepository) Save(ctx context.Context, instance *models.Instance) error {
	now := time.Now().UTC()

	if instance.CreatedAt.IsZero() {
		instance.CreatedAt = now
	}

	instance.UpdatedAt = now

	if instance.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("failed to generate instance ID: %w", err)
		}

		instance.ID = id.String()
	}

	if instance.CurrentNodeIDs == nil {
		instance.CurrentNodeIDs = []string{}
	}

	currentNodes, err := json.Marshal(instance.CurrentNodeIDs)
	if err != nil {
		return fmt.Errorf("failed to marshal current node ids: %w", err)
	}

	formData, err := json.Marshal(instance.FormData)
	if err != nil {
		return fmt.Errorf("failed to marshal form data: %w", err)
	}

	tags, err := json.Marshal(instance.Tags)
	if err != nil {
		return fmt.Errorf("failed to marshal tags: %w", err)
	}

	attachments, err := json.Marshal(instance.Attachments)
	if err != nil {
		return fmt.Errorf("failed to marshal attachments: %w", err)
	}

	query := `
		INSERT INTO instances (id, instance_no, flow_id, flow_version, title, status, current_node_ids,
			applicant_id, business_key, business_type, form_data, urgency, tags, attachments,
			started_at, ended_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			current_node_ids = EXCLUDED.current_node_ids,
			form_data = EXCLUDED.form_data,
			urgency = EXCLUDED.urgency,
			tags = EXCLUDED.tags,
			attachments = EXCLUDED.attachments,
			ended_at = EXCLUDED.ended_at,
			updated_at = EXCLUDED.updated_at
	`

	_, err = r.db.ExecContext(ctx, query,
		instance.ID, instance.InstanceNo, instance.FlowID, instance.FlowVersion, instance.Title,
		instance.Status, currentNodes, instance.ApplicantID, instance.BusinessKey, instance.BusinessType,
		formData, instance.Urgency, tags, attachments,
		instance.StartedAt, instance.EndedAt, instance.CreatedAt, instance.UpdatedAt)
	if err != nil {
		return &persistence.RepositoryError{Op: "Save", ID: instance.ID, Err: err}
	}

	return nil
}

// Delete removes an instance; the steps FK cascades.
func (r *InstanceRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, "DELETE FROM instances WHERE id = $1", id)
	if err != nil {
		return &persistence.RepositoryError{Op: "Delete", ID: id, Err: err}
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}

	if affected == 0 {
		return persistence.ErrInstanceNotFound
	}

	return nil
}

func (r *InstanceRepository) List(ctx context.Context, opts persistence.ListInstancesOptions) (*persistence.InstanceListResult, error) {
	opts.Page, opts.Size = persistence.Normalize(opts.Page, opts.Size)

	where := "WHERE TRUE"
	args := make([]any, 0, 6)

	if opts.FlowID != "" {
		args = append(args, opts.FlowID)
		where += fmt.Sprintf(" AND flow_id = $%d", len(args))
	}

	if opts.ApplicantID != nil {
		args = append(args, *opts.ApplicantID)
		where += fmt.Sprintf(" AND applicant_id = $%d", len(args))
	}

	if opts.Status != nil {
		args = append(args, string(*opts.Status))
		where += fmt.Sprintf(" AND status = $%d", len(args))
	}

	if opts.Urgency != nil {
		args = append(args, string(*opts.Urgency))
		where += fmt.Sprintf(" AND urgency = $%d", len(args))
	}

	if opts.BusinessType != "" {
		args = append(args, opts.BusinessType)
		where += fmt.Sprintf(" AND business_type = $%d", len(args))
	}

	if opts.Title != "" {
		args = append(args, "%"+opts.Title+"%")
		where += fmt.Sprintf(" AND title ILIKE $%d", len(args))
	}

	var total int64
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM instances "+where, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("failed to count instances: %w", err)
	}

	args = append(args, opts.Size, (opts.Page-1)*opts.Size)
	query := fmt.Sprintf("SELECT %s FROM instances %s ORDER BY started_at DESC LIMIT $%d OFFSET $%d",
		instanceColumns, where, len(args)-1, len(args))

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query instances: %w", err)
	}

	defer func() {
		if err := rows.Close(); err != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	instances := make([]*models.Instance, 0)

	for rows.Next() {
		instance, err := r.scanInstance(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan instance: %w", err)
		}

		instances = append(instances, instance)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating instances: %w", err)
	}

	return &persistence.InstanceListResult{
		Instances:   instances,
		TotalCount:  total,
		HasNextPage: int64((opts.Page-1)*opts.Size+len(instances)) < total,
	}, nil
}

func (r *InstanceRepository) scanInstance(row rowScanner) (*models.Instance, error) {
	var (
		instance                              models.Instance
		instanceNo, businessKey, businessType sql.NullString
		currentNodes, formData, tags, attach  []byte
		endedAt                               sql.NullTime
	)

	err := row.Scan(&instance.ID, &instanceNo, &instance.FlowID, &instance.FlowVersion,
		&instance.Title, &instance.Status, &currentNodes, &instance.ApplicantID,
		&businessKey, &businessType, &formData, &instance.Urgency, &tags, &attach,
		&instance.StartedAt, &endedAt, &instance.CreatedAt, &instance.UpdatedAt)
	if err != nil {
		return nil, err
	}

	instance.InstanceNo = instanceNo.String
	instance.BusinessKey = businessKey.String
	instance.BusinessType = businessType.String

	if endedAt.Valid {
		instance.EndedAt = &endedAt.Time
	}

	if err := unmarshalInto(currentNodes, &instance.CurrentNodeIDs); err != nil {
		return nil, err
	}

	if err := unmarshalInto(formData, &instance.FormData); err != nil {
		return nil, err
	}

	if err := unmarshalInto(tags, &instance.Tags); err != nil {
		return nil, err
	}

	if err := unmarshalInto(attach, &instance.Attachments); err != nil {
		return nil, err
	}

	return &instance, nil
}
