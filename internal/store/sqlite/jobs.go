package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/Signet-AI/signetai-sub002/pkg/types"
)

// EnqueueExtractionJob inserts a pending extraction job for a newly
// ingested memory (spec §4.F step 7).
func EnqueueExtractionJob(ctx context.Context, tx *sql.Tx, memoryID string) error {
	ts := formatTime(now())
	_, err := tx.ExecContext(ctx, `
		INSERT INTO memory_jobs (id, memory_id, job_type, status, attempts, updated_at)
		VALUES (?, ?, ?, 'pending', 0, ?)`,
		uuid.NewString(), memoryID, types.JobTypeExtract, ts,
	)
	if err != nil {
		return fmt.Errorf("store: enqueue extraction job: %w", err)
	}
	return nil
}

// ClaimNextJob atomically claims the oldest pending job, or a leased job
// whose lease has expired, transitioning it to leased with a fresh lease
// timestamp (spec §3 Memory job invariant, §4.H step 1). Returns nil, nil
// when there is nothing to claim.
func ClaimNextJob(ctx context.Context, tx *sql.Tx, leaseTimeoutMs int64) (*types.Job, error) {
	cutoff := formatTime(now().Add(-time.Duration(leaseTimeoutMs) * time.Millisecond))

	var j types.Job
	var leasedAt sql.NullString
	var updatedAt string
	err := tx.QueryRowContext(ctx, `
		SELECT id, memory_id, job_type, status, attempts, leased_at, updated_at
		FROM memory_jobs
		WHERE status = 'pending' OR (status = 'leased' AND leased_at < ?)
		ORDER BY updated_at ASC
		LIMIT 1`, cutoff,
	).Scan(&j.ID, &j.MemoryID, &j.JobType, &j.Status, &j.Attempts, &leasedAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: claim next job: %w", err)
	}
	if t, perr := time.Parse(time.RFC3339, updatedAt); perr == nil {
		j.UpdatedAt = t
	}
	if leasedAt.Valid {
		if t, perr := time.Parse(time.RFC3339, leasedAt.String); perr == nil {
			j.LeasedAt = &t
		}
	}

	ts := formatTime(now())
	if _, err := tx.ExecContext(ctx, `UPDATE memory_jobs SET status='leased', leased_at=?, updated_at=? WHERE id=?`, ts, ts, j.ID); err != nil {
		return nil, fmt.Errorf("store: lease job: %w", err)
	}
	j.Status = types.JobStatusLeased
	return &j, nil
}

// CompleteJob marks a job done.
func CompleteJob(ctx context.Context, tx *sql.Tx, jobID string) error {
	_, err := tx.ExecContext(ctx, `UPDATE memory_jobs SET status='done', updated_at=? WHERE id=?`, formatTime(now()), jobID)
	if err != nil {
		return fmt.Errorf("store: complete job: %w", err)
	}
	return nil
}

// FailJob increments attempts and either returns the job to pending or
// dead-letters it once maxRetries is reached (spec §4.H step 2).
func FailJob(ctx context.Context, tx *sql.Tx, jobID string, attempts, maxRetries int) error {
	status := types.JobStatusPending
	if attempts >= maxRetries {
		status = types.JobStatusDead
	}
	_, err := tx.ExecContext(ctx, `UPDATE memory_jobs SET status=?, attempts=?, updated_at=? WHERE id=?`, status, attempts, formatTime(now()), jobID)
	if err != nil {
		return fmt.Errorf("store: fail job: %w", err)
	}
	return nil
}

// RequeueDeadJobs transitions up to maxBatch dead jobs back to pending with
// attempts reset (repair action requeueDeadJobs, spec §4.J).
func RequeueDeadJobs(ctx context.Context, tx *sql.Tx, maxBatch int) (int, error) {
	rows, err := tx.QueryContext(ctx, `SELECT id FROM memory_jobs WHERE status='dead' LIMIT ?`, maxBatch)
	if err != nil {
		return 0, fmt.Errorf("store: select dead jobs: %w", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return 0, err
		}
		ids = append(ids, id)
	}
	rows.Close()

	ts := formatTime(now())
	for _, id := range ids {
		if _, err := tx.ExecContext(ctx, `UPDATE memory_jobs SET status='pending', attempts=0, updated_at=? WHERE id=?`, ts, id); err != nil {
			return 0, fmt.Errorf("store: requeue dead job: %w", err)
		}
	}
	return len(ids), nil
}

// ReleaseStaleLeases transitions leased jobs whose lease expired back to
// pending (repair action releaseStaleLeases, spec §4.J).
func ReleaseStaleLeases(ctx context.Context, tx *sql.Tx, leaseTimeoutMs int64) (int, error) {
	cutoff := formatTime(now().Add(-time.Duration(leaseTimeoutMs) * time.Millisecond))
	res, err := tx.ExecContext(ctx, `UPDATE memory_jobs SET status='pending', updated_at=? WHERE status='leased' AND leased_at < ?`, formatTime(now()), cutoff)
	if err != nil {
		return 0, fmt.Errorf("store: release stale leases: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}
