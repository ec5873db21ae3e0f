// Copyright (C) 2025 CardinalHQ, Inc
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, version 3.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <http://www.gnu.org/licenses/>.

package backlog

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DBTX is the subset of a pgx pool or transaction the ledger needs.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// PGLedger keeps the ledger in the backlog_jobs table.
type PGLedger struct {
	db DBTX
}

var _ Ledger = (*PGLedger)(nil)

func NewPGLedger(db DBTX) *PGLedger {
	return &PGLedger{db: db}
}

const recordJobSQL = `
INSERT INTO backlog_jobs (job_id, document_id, source_bucket, source_key, first_page, last_page, body, enqueued_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT (job_id) DO NOTHING`

func (l *PGLedger) Record(ctx context.Context, job Job) error {
	body, err := job.Marshal()
	if err != nil {
		return fmt.Errorf("encoding backlog job: %w", err)
	}
	_, err = l.db.Exec(ctx, recordJobSQL,
		job.JobID, job.DocumentID, job.SourceBucket, job.SourceKey,
		job.Pages.First, job.Pages.Last, body, job.EnqueuedAt)
	if err != nil {
		return fmt.Errorf("recording backlog job %s: %w", job.JobID, err)
	}
	return nil
}

func (l *PGLedger) Complete(ctx context.Context, jobID string, at time.Time) error {
	_, err := l.db.Exec(ctx,
		`UPDATE backlog_jobs SET completed_at = $2 WHERE job_id = $1 AND completed_at IS NULL`,
		jobID, at)
	if err != nil {
		return fmt.Errorf("completing backlog job %s: %w", jobID, err)
	}
	return nil
}

func (l *PGLedger) Overdue(ctx context.Context, cutoff time.Time) ([]Job, error) {
	rows, err := l.db.Query(ctx, `
SELECT body FROM backlog_jobs
WHERE completed_at IS NULL AND failed_at IS NULL AND enqueued_at < $1
ORDER BY enqueued_at`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("listing overdue backlog jobs: %w", err)
	}
	bodies, err := pgx.CollectRows(rows, pgx.RowTo[[]byte])
	if err != nil {
		return nil, fmt.Errorf("reading overdue backlog jobs: %w", err)
	}

	out := make([]Job, 0, len(bodies))
	for _, b := range bodies {
		var j Job
		if err := json.Unmarshal(b, &j); err != nil {
			return nil, fmt.Errorf("decoding ledger entry: %w", err)
		}
		out = append(out, j)
	}
	return out, nil
}

func (l *PGLedger) MarkFailed(ctx context.Context, jobID, reason string, at time.Time) error {
	_, err := l.db.Exec(ctx, `
UPDATE backlog_jobs SET failed_at = $2, failure_reason = $3
WHERE job_id = $1 AND completed_at IS NULL AND failed_at IS NULL`,
		jobID, at, reason)
	if err != nil {
		return fmt.Errorf("marking backlog job %s failed: %w", jobID, err)
	}
	return nil
}

type failedRow struct {
	Body     []byte
	FailedAt time.Time
	Reason   string
}

func (l *PGLedger) Failed(ctx context.Context) ([]FailedJob, error) {
	rows, err := l.db.Query(ctx, `
SELECT body, failed_at, COALESCE(failure_reason, '') FROM backlog_jobs
WHERE failed_at IS NOT NULL
ORDER BY failed_at`)
	if err != nil {
		return nil, fmt.Errorf("listing failed backlog jobs: %w", err)
	}
	found, err := pgx.CollectRows(rows, pgx.RowToStructByPos[failedRow])
	if err != nil {
		return nil, fmt.Errorf("reading failed backlog jobs: %w", err)
	}

	out := make([]FailedJob, 0, len(found))
	for _, r := range found {
		var j Job
		if err := json.Unmarshal(r.Body, &j); err != nil {
			return nil, fmt.Errorf("decoding ledger entry: %w", err)
		}
		out = append(out, FailedJob{Job: j, FailedAt: r.FailedAt, Reason: r.Reason})
	}
	return out, nil
}
