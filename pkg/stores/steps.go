package stores

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/openfroyo/xbzone/pkg/engine"
	"github.com/openfroyo/xbzone/pkg/workflow"
)

// SaveStep creates or updates a step record. It implements workflow.StepStore.
func (s *SQLiteStore) SaveStep(ctx context.Context, rec *workflow.StepRecord) error {
	query := `
		INSERT INTO steps (id, workflow_id, method, status, error, error_code, rollback_of, started_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			workflow_id = excluded.workflow_id,
			method = excluded.method,
			status = excluded.status,
			error = excluded.error,
			error_code = excluded.error_code,
			rollback_of = excluded.rollback_of,
			completed_at = excluded.completed_at
	`

	if _, err := s.db.ExecContext(ctx, query,
		rec.ID,
		rec.WorkflowID,
		rec.Method,
		string(rec.Status),
		rec.Error,
		rec.ErrorCode,
		rec.RollbackOf,
		rec.StartedAt,
		rec.CompletedAt,
	); err != nil {
		return fmt.Errorf("failed to save step: %w", err)
	}
	return nil
}

const stepColumns = `id, workflow_id, method, status, error, error_code, rollback_of, started_at, completed_at`

func scanStep(row interface{ Scan(...interface{}) error }) (*workflow.StepRecord, error) {
	rec := &workflow.StepRecord{}
	var status string
	err := row.Scan(
		&rec.ID,
		&rec.WorkflowID,
		&rec.Method,
		&status,
		&rec.Error,
		&rec.ErrorCode,
		&rec.RollbackOf,
		&rec.StartedAt,
		&rec.CompletedAt,
	)
	rec.Status = engine.StepStatus(status)
	return rec, err
}

// GetStep retrieves a step record by ID
func (s *SQLiteStore) GetStep(ctx context.Context, id string) (*workflow.StepRecord, error) {
	rec, err := scanStep(s.db.QueryRowContext(ctx, `SELECT `+stepColumns+` FROM steps WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, engine.NewNotFoundError("step", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get step: %w", err)
	}
	return rec, nil
}

// ListSteps returns step records, newest first. An empty workflowID lists every workflow.
func (s *SQLiteStore) ListSteps(ctx context.Context, workflowID string, limit, offset int) ([]*workflow.StepRecord, error) {
	query := `
		SELECT ` + stepColumns + `
		FROM steps
		WHERE (? = '' OR workflow_id = ?)
		ORDER BY started_at DESC, id
		LIMIT ? OFFSET ?
	`

	rows, err := s.db.QueryContext(ctx, query, workflowID, workflowID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list steps: %w", err)
	}
	defer rows.Close()

	steps := []*workflow.StepRecord{}
	for rows.Next() {
		rec, err := scanStep(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan step: %w", err)
		}
		steps = append(steps, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating steps: %w", err)
	}
	return steps, nil
}
