package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/ditkit/ditreport/internal/progress"
)

type Repository interface {
	CreateRun(ctx context.Context, run *Run) error
	GetRun(ctx context.Context, id string) (*Run, error)
	ListRuns(ctx context.Context, limit int) ([]*Run, error)
	ListPendingRuns(ctx context.Context) ([]*Run, error)
	UpdateRunStatus(ctx context.Context, id, status, errorMsg string) error
	UpdateRunProgress(ctx context.Context, id string, progress int) error
	CompleteRun(ctx context.Context, id, filePath string, units int, failures []progress.FailureRecord) error
	ListFailures(ctx context.Context, runID string) ([]progress.FailureRecord, error)

	GetConfig(ctx context.Context, key string) (string, error)
	SetConfig(ctx context.Context, key, value string) error
}

type SQLiteRepository struct {
	db  *sql.DB
	now func() time.Time
	pid int
}

// NewRepository stamps runs it creates with the current process id, so other
// processes opening the same database leave them alone while it lives.
func NewRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db, now: time.Now, pid: os.Getpid()}
}

func (r *SQLiteRepository) stamp() string {
	return r.now().UTC().Format(time.RFC3339)
}

func (r *SQLiteRepository) CreateRun(ctx context.Context, run *Run) error {
	if run.CreatedAt.IsZero() {
		run.CreatedAt = r.now().UTC()
	}
	run.UpdatedAt = run.CreatedAt
	if run.Selection == "" {
		run.Selection = "{}"
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO runs (id, kind, status, selection, progress, units, file_path, error, owner_pid, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, run.ID, run.Kind, run.Status, run.Selection, run.Progress, run.Units,
		nullString(run.FilePath), nullString(run.Error), r.pid,
		run.CreatedAt.Format(time.RFC3339), run.UpdatedAt.Format(time.RFC3339))
	return err
}

const runColumns = `r.id, r.kind, r.status, r.selection, r.progress, r.units, r.file_path, r.error,
	(SELECT COUNT(*) FROM run_failures f WHERE f.run_id = r.id), r.created_at, r.updated_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(s scanner) (*Run, error) {
	var run Run
	var filePath, errMsg sql.NullString
	var createdAt, updatedAt string
	err := s.Scan(&run.ID, &run.Kind, &run.Status, &run.Selection, &run.Progress, &run.Units,
		&filePath, &errMsg, &run.FailureCount, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	run.FilePath = filePath.String
	run.Error = errMsg.String
	run.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	run.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	return &run, nil
}

func (r *SQLiteRepository) GetRun(ctx context.Context, id string) (*Run, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs r WHERE r.id = ?`, id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return run, err
}

func (r *SQLiteRepository) ListRuns(ctx context.Context, limit int) ([]*Run, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+runColumns+`
		FROM runs r ORDER BY r.created_at DESC, r.rowid DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanRuns(rows)
}

func (r *SQLiteRepository) ListPendingRuns(ctx context.Context) ([]*Run, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+runColumns+`
		FROM runs r WHERE r.status = ? ORDER BY r.created_at ASC, r.rowid ASC
	`, StatusPending)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanRuns(rows)
}

func scanRuns(rows *sql.Rows) ([]*Run, error) {
	var runs []*Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

func (r *SQLiteRepository) UpdateRunStatus(ctx context.Context, id, status, errorMsg string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE runs SET status = ?, error = ?, updated_at = ? WHERE id = ?
	`, status, nullString(errorMsg), r.stamp(), id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (r *SQLiteRepository) UpdateRunProgress(ctx context.Context, id string, progress int) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE runs SET progress = ?, updated_at = ? WHERE id = ?
	`, progress, r.stamp(), id)
	return err
}

// CompleteRun marks a run completed and stores its failure ledger in order.
func (r *SQLiteRepository) CompleteRun(ctx context.Context, id, filePath string, units int, failures []progress.FailureRecord) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE runs SET status = ?, progress = 100, units = ?, file_path = ?, error = NULL, updated_at = ?
		WHERE id = ?
	`, StatusCompleted, units, nullString(filePath), r.stamp(), id)
	if err != nil {
		return err
	}
	if err := requireRow(res); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM run_failures WHERE run_id = ?`, id); err != nil {
		return err
	}
	for i, f := range failures {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO run_failures (run_id, seq, timeline, clip, timecode, reason)
			VALUES (?, ?, ?, ?, ?, ?)
		`, id, i, f.Timeline, nullString(f.Clip), nullString(f.Timecode), f.Reason); err != nil {
			return fmt.Errorf("failed to store failure %d: %w", i, err)
		}
	}
	return tx.Commit()
}

func (r *SQLiteRepository) ListFailures(ctx context.Context, runID string) ([]progress.FailureRecord, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT timeline, clip, timecode, reason FROM run_failures WHERE run_id = ? ORDER BY seq
	`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []progress.FailureRecord
	for rows.Next() {
		var f progress.FailureRecord
		var clip, tc sql.NullString
		if err := rows.Scan(&f.Timeline, &clip, &tc, &f.Reason); err != nil {
			return nil, err
		}
		f.Clip = clip.String
		f.Timecode = tc.String
		out = append(out, f)
	}
	return out, rows.Err()
}

func (r *SQLiteRepository) GetConfig(ctx context.Context, key string) (string, error) {
	var value string
	err := r.db.QueryRowContext(ctx, "SELECT value FROM config WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return value, err
}

func (r *SQLiteRepository) SetConfig(ctx context.Context, key, value string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO config (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, value)
	return err
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
