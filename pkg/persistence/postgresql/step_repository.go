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
	"github.com/lib/pq"
)

// StepRepository handles step-related database operations.
type StepRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewStepRepository creates a new step repository.
func NewStepRepository(db *sql.DB, logger *slog.Logger) *StepRepository {
	return &StepRepository{db: db, logger: logger}
}

const stepColumns = `
	id
  , step_no
  , instance_id
  , node_id
  , node_name
  , node_type
  , approval_type
  , round
  , assignee_id
  , status
  , action
  , opinion
  , attachments
  , delegated_from
  , returned_from
  , is_read
  , started_at
  , completed_at
`

func (r *StepRepository) GetByID(ctx context.Context, id string) (*models.Step, error) {
	query := `SELECT ` + stepColumns + ` FROM steps WHERE id = $1`

	step, err := r.scanStep(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.ErrStepNotFound
		}

		return nil, fmt.Errorf("failed to scan step: %w", err)
	}

	return step, nil
}

func (r *StepRepository) Save(ctx context.Context, step *models.Step) error {
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

	attachments, err := json.Marshal(step.Attachments)
	if err != nil {
		return fmt.Errorf("failed to marshal attachments: %w", err)
	}

	query := `
		INSERT INTO steps (id, step_no, instance_id, node_id, node_name, node_type, approval_type,
			round, assignee_id, status, action, opinion, attachments, delegated_from, returned_from,
			is_read, started_at, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			action = EXCLUDED.action,
			opinion = EXCLUDED.opinion,
			attachments = EXCLUDED.attachments,
			is_read = EXCLUDED.is_read,
			completed_at = EXCLUDED.completed_at
	`

	_, err = r.db.ExecContext(ctx, query,
		step.ID, step.StepNo, step.InstanceID, step.NodeID, step.NodeName, step.NodeType,
		nullString(string(step.ApprovalType)), step.Round, step.AssigneeID, step.Status,
		nullString(string(step.Action)), nullString(step.Opinion), attachments,
		step.DelegatedFrom, step.ReturnedFrom, step.IsRead, step.StartedAt, step.CompletedAt)
	if err != nil {
		return &persistence.RepositoryError{Op: "Save", ID: step.ID, Err: err}
	}

	return nil
}

func (r *StepRepository) ListByInstance(ctx context.Context, instanceID string) ([]*models.Step, error) {
	query := `SELECT ` + stepColumns + ` FROM steps WHERE instance_id = $1 ORDER BY started_at, id`

	rows, err := r.db.QueryContext(ctx, query, instanceID)
	if err != nil {
		return nil, fmt.Errorf("failed to query steps: %w", err)
	}

	defer func() {
		if err := rows.Close(); err != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	return r.collect(rows)
}

func (r *StepRepository) ListByAssignee(ctx context.Context, opts persistence.ListStepsOptions) (*persistence.StepListResult, error) {
	opts.Page, opts.Size = persistence.Normalize(opts.Page, opts.Size)

	where := "WHERE assignee_id = $1"
	args := []any{opts.AssigneeID}

	if len(opts.Statuses) > 0 {
		statuses := make([]string, len(opts.Statuses))
		for i, s := range opts.Statuses {
			statuses[i] = string(s)
		}

		args = append(args, pq.Array(statuses))
		where += fmt.Sprintf(" AND status = ANY($%d)", len(args))
	}

	if len(opts.NodeTypes) > 0 {
		nodeTypes := make([]string, len(opts.NodeTypes))
		for i, n := range opts.NodeTypes {
			nodeTypes[i] = string(n)
		}

		args = append(args, pq.Array(nodeTypes))
		where += fmt.Sprintf(" AND node_type = ANY($%d)", len(args))
	}

	var total int64
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM steps "+where, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("failed to count steps: %w", err)
	}

	args = append(args, opts.Size, (opts.Page-1)*opts.Size)
	query := fmt.Sprintf("SELECT %s FROM steps %s ORDER BY started_at DESC LIMIT $%d OFFSET $%d",
		stepColumns, where, len(args)-1, len(args))

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query steps: %w", err)
	}

	defer func() {
		if err := rows.Close(); err != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	steps, err := r.collect(rows)
	if err != nil {
		return nil, err
	}

	return &persistence.StepListResult{
		Steps:       steps,
		TotalCount:  total,
		HasNextPage: int64((opts.Page-1)*opts.Size+len(steps)) < total,
	}, nil
}

func (r *StepRepository) DeleteByInstance(ctx context.Context, instanceID string) error {
	_, err := r.db.ExecContext(ctx, "DELETE FROM steps WHERE instance_id = $1", instanceID)
	if err != nil {
		return &persistence.RepositoryError{Op: "DeleteByInstance", ID: instanceID, Err: err}
	}

	return nil
}

func (r *StepRepository) collect(rows *sql.Rows) ([]*models.Step, error) {
	steps := make([]*models.Step, 0)

	for rows.Next() {
		step, err := r.scanStep(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan step: %w", err)
		}

		steps = append(steps, step)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating steps: %w", err)
	}

	return steps, nil
}

func (r *StepRepository) scanStep(row rowScanner) (*models.Step, error) {
	var (
		step                                        models.Step
		stepNo, nodeName, approvalType, action      sql.NullString
		opinion, returnedFrom                       sql.NullString
		attachments                                 []byte
		delegatedFrom                               sql.NullInt64
		completedAt                                 sql.NullTime
	)

	err := row.Scan(&step.ID, &stepNo, &step.InstanceID, &step.NodeID, &nodeName,
		&step.NodeType, &approvalType, &step.Round, &step.AssigneeID, &step.Status,
		&action, &opinion, &attachments, &delegatedFrom, &returnedFrom,
		&step.IsRead, &step.StartedAt, &completedAt)
	if err != nil {
		return nil, err
	}

	step.StepNo = stepNo.String
	step.NodeName = nodeName.String
	step.ApprovalType = models.ApprovalType(approvalType.String)
	step.Action = models.StepAction(action.String)
	step.Opinion = opinion.String

	if delegatedFrom.Valid {
		step.DelegatedFrom = &delegatedFrom.Int64
	}

	if returnedFrom.Valid {
		step.ReturnedFrom = &returnedFrom.String
	}

	if completedAt.Valid {
		step.CompletedAt = &completedAt.Time
	}

	if err := unmarshalInto(attachments, &step.Attachments); err != nil {
		return nil, err
	}

	return &step, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
