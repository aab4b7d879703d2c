package directory

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/approvia/approvia/pkg/models"
	"github.com/lib/pq"
)

// Postgres resolves assignees against the platform's org tables.
type Postgres struct {
	db *sql.DB
}

// NewPostgres creates a directory backed by role_members and
// department_members tables.
func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

func (p *Postgres) ResolveAssignees(ctx context.Context, assigneeType models.AssigneeType, ids []int64) ([]int64, error) {
	switch assigneeType {
	case models.AssigneeTypeUser:
		return ids, nil
	case models.AssigneeTypeRole:
		return p.query(ctx, "SELECT user_id FROM role_members WHERE role_id = ANY($1)", ids)
	case models.AssigneeTypeDept:
		return p.query(ctx, "SELECT user_id FROM department_members WHERE department_id = ANY($1)", ids)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownAssigneeType, assigneeType)
	}
}

func (p *Postgres) query(ctx context.Context, query string, ids []int64) ([]int64, error) {
	rows, err := p.db.QueryContext(ctx, query, pq.Array(ids))
	if err != nil {
		return nil, fmt.Errorf("failed to query directory members: %w", err)
	}
	defer rows.Close()

	users := make([]int64, 0)

	for rows.Next() {
		var userID int64
		if err := rows.Scan(&userID); err != nil {
			return nil, fmt.Errorf("failed to scan directory member: %w", err)
		}

		users = append(users, userID)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating directory members: %w", err)
	}

	if len(users) == 0 {
		return nil, ErrAssigneeNotFound
	}

	return users, nil
}
