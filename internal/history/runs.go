package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"ocrbatch/internal/batch"
	"ocrbatch/internal/services"
)

const runColumns = "id, started_at, finished_at, status, input_dir, batch_id, resumed_from, submitted, committed, failed, error_message"

const itemColumns = "run_id, file_name, file_path, fingerprint, size_bytes, outcome, detail, updated_at"

// BeginRun records the start of a run. An empty id is replaced with a fresh
// UUID. resumedFrom names the run being continued, if any.
func (s *Store) BeginRun(ctx context.Context, id, inputDir, resumedFrom string) (Run, error) {
	if strings.TrimSpace(id) == "" {
		id = uuid.NewString()
	}
	run := Run{
		ID:          id,
		StartedAt:   time.Now().UTC(),
		Status:      StatusRunning,
		InputDir:    inputDir,
		ResumedFrom: resumedFrom,
	}
	_, err := s.execWithRetry(ctx,
		`INSERT INTO runs (id, started_at, status, input_dir, resumed_from) VALUES (?, ?, ?, ?, ?)`,
		run.ID, formatTime(run.StartedAt), string(run.Status), run.InputDir, nullableString(resumedFrom),
	)
	if err != nil {
		return Run{}, fmt.Errorf("insert run: %w", err)
	}
	return run, nil
}

// RecordSubmission stores the batch identifier of a run together with every
// file that was part of it: uploaded items and items whose upload failed.
func (s *Store) RecordSubmission(ctx context.Context, runID, batchID string, uploaded []batch.WorkItem, failed []batch.ItemFailure) error {
	return retryOnBusy(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin submission tx: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		res, err := tx.ExecContext(ctx,
			`UPDATE runs SET batch_id = ?, submitted = ? WHERE id = ?`,
			nullableString(batchID), len(uploaded)+len(failed), runID)
		if err != nil {
			return fmt.Errorf("update run batch: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return services.Wrap(services.ErrNotFound, "history", "record submission", "run "+runID, nil)
		}

		now := formatTime(time.Now())
		insert := `INSERT INTO run_items (` + itemColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(run_id, file_name) DO UPDATE SET outcome = excluded.outcome, detail = excluded.detail, updated_at = excluded.updated_at`
		for _, item := range uploaded {
			if _, err := tx.ExecContext(ctx, insert,
				runID, item.Name, item.Path, item.Fingerprint, item.Size, string(OutcomeUploaded), nil, now,
			); err != nil {
				return fmt.Errorf("insert run item %s: %w", item.Name, err)
			}
		}
		for _, f := range failed {
			if _, err := tx.ExecContext(ctx, insert,
				runID, f.Item.Name, f.Item.Path, f.Item.Fingerprint, f.Item.Size, string(OutcomeUploadFailed), errorText(f.Err), now,
			); err != nil {
				return fmt.Errorf("insert run item %s: %w", f.Item.Name, err)
			}
		}
		return tx.Commit()
	})
}

// RecordItemOutcome updates the outcome of one file in a run.
func (s *Store) RecordItemOutcome(ctx context.Context, runID, name string, outcome ItemOutcome, detail string) error {
	res, err := s.execWithRetry(ctx,
		`UPDATE run_items SET outcome = ?, detail = ?, updated_at = ? WHERE run_id = ? AND file_name = ?`,
		string(outcome), nullableString(detail), formatTime(time.Now()), runID, name)
	if err != nil {
		return fmt.Errorf("update run item: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return services.Wrap(services.ErrNotFound, "history", "record item outcome", runID+"/"+name, nil)
	}
	return nil
}

// FinishRun stores the final status, counts and error text of a run.
func (s *Store) FinishRun(ctx context.Context, runID string, status RunStatus, counts Counts, runErr error) error {
	_, err := s.execWithRetry(ctx,
		`UPDATE runs SET finished_at = ?, status = ?, committed = ?, failed = ?,
			submitted = CASE WHEN ? > 0 THEN ? ELSE submitted END, error_message = ?
		WHERE id = ?`,
		formatTime(time.Now()), string(status), counts.Committed, counts.Failed,
		counts.Submitted, counts.Submitted, nullableString(errorText(runErr)), runID)
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	return nil
}

// MarkResumed flags a resumable run as continued by another run.
func (s *Store) MarkResumed(ctx context.Context, runID string) error {
	_, err := s.execWithRetry(ctx, `UPDATE runs SET status = ? WHERE id = ?`, string(StatusResumed), runID)
	if err != nil {
		return fmt.Errorf("mark run resumed: %w", err)
	}
	return nil
}

// GetRun returns the run with the given identifier.
func (s *Store) GetRun(ctx context.Context, runID string) (Run, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, runID)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, services.Wrap(services.ErrNotFound, "history", "get run", runID, nil)
	}
	if err != nil {
		return Run{}, fmt.Errorf("get run: %w", err)
	}
	return run, nil
}

// ListRuns returns the most recent runs first. A non-positive limit returns
// every run.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	query := `SELECT ` + runColumns + ` FROM runs ORDER BY started_at DESC, rowid DESC`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// RunItems returns the files recorded for a run ordered by name.
func (s *Store) RunItems(ctx context.Context, runID string) ([]RunItem, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+itemColumns+` FROM run_items WHERE run_id = ? ORDER BY file_name`, runID)
	if err != nil {
		return nil, fmt.Errorf("list run items: %w", err)
	}
	defer rows.Close()

	var items []RunItem
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run item: %w", err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// FindResumable returns the latest run for batchID that was interrupted or
// timed out. services.ErrNotFound is returned when there is none.
func (s *Store) FindResumable(ctx context.Context, batchID string) (Run, error) {
	batchID = strings.TrimSpace(batchID)
	row := s.db.QueryRowContext(ctx,
		`SELECT `+runColumns+` FROM runs WHERE batch_id = ? AND status IN (?, ?)
		ORDER BY started_at DESC, rowid DESC LIMIT 1`,
		batchID, string(StatusInterrupted), string(StatusTimedOut))
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, services.Wrap(services.ErrNotFound, "history", "find resumable",
			fmt.Sprintf("no interrupted or timed out run for batch %s", batchID), nil)
	}
	if err != nil {
		return Run{}, fmt.Errorf("find resumable run: %w", err)
	}
	return run, nil
}

func scanRun(scanner interface{ Scan(dest ...any) error }) (Run, error) {
	var (
		id          string
		startedRaw  string
		finishedRaw sql.NullString
		status      string
		inputDir    string
		batchID     sql.NullString
		resumedFrom sql.NullString
		submitted   int
		committed   int
		failed      int
		errMsg      sql.NullString
	)
	if err := scanner.Scan(&id, &startedRaw, &finishedRaw, &status, &inputDir, &batchID,
		&resumedFrom, &submitted, &committed, &failed, &errMsg); err != nil {
		return Run{}, err
	}
	run := Run{
		ID:           id,
		Status:       RunStatus(status),
		InputDir:     inputDir,
		BatchID:      batchID.String,
		ResumedFrom:  resumedFrom.String,
		Submitted:    submitted,
		Committed:    committed,
		Failed:       failed,
		ErrorMessage: errMsg.String,
	}
	if started, err := parseTimeString(startedRaw); err == nil {
		run.StartedAt = started
	}
	if finishedRaw.Valid {
		if finished, err := parseTimeString(finishedRaw.String); err == nil {
			run.FinishedAt = finished
		}
	}
	return run, nil
}

func scanItem(scanner interface{ Scan(dest ...any) error }) (RunItem, error) {
	var (
		item       RunItem
		outcome    string
		detail     sql.NullString
		updatedRaw string
	)
	if err := scanner.Scan(&item.RunID, &item.Name, &item.Path, &item.Fingerprint, &item.Size,
		&outcome, &detail, &updatedRaw); err != nil {
		return RunItem{}, err
	}
	item.Outcome = ItemOutcome(outcome)
	item.Detail = detail.String
	if updated, err := parseTimeString(updatedRaw); err == nil {
		item.UpdatedAt = updated
	}
	return item, nil
}

func errorText(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
