package run

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jobgtm/jobs-ingest/internal/apperror"
	domain "github.com/jobgtm/jobs-ingest/internal/run"
)

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) Create(ctx context.Context, wr *domain.Run) error {
	params, err := marshalNullable(wr.InputParams)
	if err != nil {
		return fmt.Errorf("create run: marshal params: %w", err)
	}

	if wr.StartedAt.IsZero() {
		wr.StartedAt = time.Now().UTC()
	}

	const query = `INSERT INTO workflow_runs (run_id, source, status, input_params, started_at)
		VALUES (?, ?, ?, ?, ?)`

	res, err := r.db.ExecContext(ctx, query,
		wr.RunID, wr.Source, string(wr.Status), params,
		wr.StartedAt.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("create run: %w", err)
	}

	wr.ID, _ = res.LastInsertId()
	wr.CreatedAt = time.Now().UTC()
	wr.UpdatedAt = wr.CreatedAt
	return nil
}

func (r *Repository) Update(ctx context.Context, wr *domain.Run) error {
	result, err := marshalNullable(wr.Result)
	if err != nil {
		return fmt.Errorf("update run: marshal result: %w", err)
	}

	var completed any
	if wr.CompletedAt != nil {
		completed = wr.CompletedAt.Format(time.RFC3339)
	}

	const query = `UPDATE workflow_runs SET status = ?, result = ?, error = ?, completed_at = ?,
		updated_at = strftime('%Y-%m-%dT%H:%M:%SZ', 'now')
		WHERE run_id = ?`

	res, err := r.db.ExecContext(ctx, query, string(wr.Status), result, wr.Error, completed, wr.RunID)
	if err != nil {
		return fmt.Errorf("update run: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return apperror.New(apperror.NotFound, "run not found")
	}
	wr.UpdatedAt = time.Now().UTC()
	return nil
}

const selectColumns = `id, run_id, source, status, input_params, result, error,
	started_at, completed_at, created_at, updated_at`

func (r *Repository) Get(ctx context.Context, runID string) (*domain.Run, error) {
	query := fmt.Sprintf("SELECT %s FROM workflow_runs WHERE run_id = ?", selectColumns)

	wr, err := scanRun(r.db.QueryRowContext(ctx, query, runID))
	if err == sql.ErrNoRows {
		return nil, apperror.New(apperror.NotFound, "run not found")
	}
	if err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}
	return wr, nil
}

func (r *Repository) List(ctx context.Context, source string) ([]domain.Run, error) {
	query := fmt.Sprintf("SELECT %s FROM workflow_runs WHERE 1=1", selectColumns)
	var args []any
	if source != "" {
		query += " AND source = ?"
		args = append(args, source)
	}
	query += " ORDER BY id DESC LIMIT 100"

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var runs []domain.Run
	for rows.Next() {
		wr, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("list runs: %w", err)
		}
		runs = append(runs, *wr)
	}
	return runs, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (*domain.Run, error) {
	wr := &domain.Run{}
	var status string
	var params, result, errText, completedStr sql.NullString
	var startedStr, createdStr, updatedStr string

	err := row.Scan(
		&wr.ID, &wr.RunID, &wr.Source, &status, &params, &result, &errText,
		&startedStr, &completedStr, &createdStr, &updatedStr,
	)
	if err != nil {
		return nil, err
	}

	wr.Status = domain.Status(status)
	if errText.Valid {
		wr.Error = errText.String
	}
	if params.Valid && params.String != "" {
		_ = json.Unmarshal([]byte(params.String), &wr.InputParams)
	}
	if result.Valid && result.String != "" {
		var s domain.Summary
		if err := json.Unmarshal([]byte(result.String), &s); err == nil {
			wr.Result = &s
		}
	}
	wr.StartedAt, _ = time.Parse(time.RFC3339, startedStr)
	if completedStr.Valid {
		t, err := time.Parse(time.RFC3339, completedStr.String)
		if err == nil {
			wr.CompletedAt = &t
		}
	}
	wr.CreatedAt, _ = time.Parse(time.RFC3339, createdStr)
	wr.UpdatedAt, _ = time.Parse(time.RFC3339, updatedStr)
	return wr, nil
}

func marshalNullable(v any) (any, error) {
	switch x := v.(type) {
	case map[string]any:
		if x == nil {
			return nil, nil
		}
	case *domain.Summary:
		if x == nil {
			return nil, nil
		}
	case nil:
		return nil, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}
