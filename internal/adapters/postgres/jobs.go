package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"nexusradar/internal/ports"
)

var _ ports.JobRepository = (*DB)(nil)

// ClaimNext selects the next queued job using SKIP LOCKED and marks it running.
func (db *DB) ClaimNext(ctx context.Context) (job ports.ReportJob, found bool, err error) {
	tx, err := db.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return job, false, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		} else {
			err = tx.Commit(ctx)
		}
	}()

	err = tx.QueryRow(ctx, `
		SELECT id::text, run_id::text FROM report_jobs
		WHERE status = 'queued'
		ORDER BY queued_at
		FOR UPDATE SKIP LOCKED
		LIMIT 1
	`).Scan(&job.ID, &job.RunID)
	if errors.Is(err, pgx.ErrNoRows) {
		return job, false, nil
	}
	if err != nil {
		return job, false, err
	}
	if err = start(ctx, tx, job.ID, job.RunID); err != nil {
		return job, false, err
	}
	return job, true, nil
}

// StartJobForRun marks the queued job of a specific run as running.
func (db *DB) StartJobForRun(ctx context.Context, runID string) (jobID string, err error) {
	tx, err := db.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return "", err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		} else {
			err = tx.Commit(ctx)
		}
	}()

	err = tx.QueryRow(ctx, `
		SELECT id::text FROM report_jobs
		WHERE run_id = $1 AND status = 'queued'
		FOR UPDATE SKIP LOCKED
	`, runID).Scan(&jobID)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ports.ErrNotFound
	}
	if err != nil {
		return "", err
	}
	if err = start(ctx, tx, jobID, runID); err != nil {
		return "", err
	}
	return jobID, nil
}

func start(ctx context.Context, tx pgx.Tx, jobID, runID string) error {
	if _, err := tx.Exec(ctx, `
		UPDATE report_jobs SET status='running', started_at=now(), attempts=attempts+1 WHERE id=$1
	`, jobID); err != nil {
		return err
	}
	_, err := tx.Exec(ctx, `
		UPDATE report_runs SET status='running', started_at=COALESCE(started_at, now()) WHERE id=$1
	`, runID)
	return err
}

func (db *DB) MarkCompleted(ctx context.Context, jobID string) error {
	return db.finish(ctx, jobID, "completed", nil)
}

func (db *DB) MarkFailed(ctx context.Context, jobID string, reason string) error {
	return db.finish(ctx, jobID, "failed", &reason)
}

// finish closes the job and its run atomically.
func (db *DB) finish(ctx context.Context, jobID, status string, reason *string) (err error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	tx, err := db.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		} else {
			err = tx.Commit(ctx)
		}
	}()

	var runID string
	err = tx.QueryRow(ctx, `
		UPDATE report_jobs SET status=$2, last_error=$3, finished_at=now() WHERE id=$1 RETURNING run_id::text
	`, jobID, status, reason).Scan(&runID)
	if errors.Is(err, pgx.ErrNoRows) {
		return ports.ErrNotFound
	}
	if err != nil {
		return err
	}
	_, err = tx.Exec(ctx, `UPDATE report_runs SET status=$2, error=$3, finished_at=now() WHERE id=$1`, runID, status, reason)
	return err
}
