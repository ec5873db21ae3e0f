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
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// LedgeredQueue records jobs in a Ledger as they pass through a Queue.
type LedgeredQueue struct {
	queue  Queue
	ledger Ledger
	now    func() time.Time
}

var (
	_ Queue  = (*LedgeredQueue)(nil)
	_ Failer = (*LedgeredQueue)(nil)
)

func NewLedgeredQueue(queue Queue, ledger Ledger) *LedgeredQueue {
	return &LedgeredQueue{queue: queue, ledger: ledger, now: time.Now}
}

func (q *LedgeredQueue) Enqueue(ctx context.Context, job Job) error {
	if job.EnqueuedAt.IsZero() {
		job.EnqueuedAt = q.now().UTC()
	}
	if err := q.ledger.Record(ctx, job); err != nil {
		return err
	}
	if err := q.queue.Enqueue(ctx, job); err != nil {
		// The caller still owns the work; close the entry so a sweep does
		// not report a job that never existed.
		if cerr := q.ledger.Complete(ctx, job.JobID, q.now()); cerr != nil {
			slog.Error("Failed to close ledger entry after enqueue failure",
				slog.String("jobID", job.JobID), slog.Any("error", cerr))
		}
		return err
	}
	return nil
}

func (q *LedgeredQueue) Claim(ctx context.Context) (*Claim, error) {
	return q.queue.Claim(ctx)
}

func (q *LedgeredQueue) Ack(ctx context.Context, claim *Claim) error {
	if err := q.queue.Ack(ctx, claim); err != nil {
		return err
	}
	return q.ledger.Complete(ctx, claim.Job.JobID, q.now())
}

// Fail removes the job from the queue and marks its ledger entry failed.
func (q *LedgeredQueue) Fail(ctx context.Context, claim *Claim, reason string) error {
	if f, ok := q.queue.(Failer); ok {
		if err := f.Fail(ctx, claim, reason); err != nil {
			return err
		}
	} else if err := q.queue.Ack(ctx, claim); err != nil {
		return err
	}
	return q.ledger.MarkFailed(ctx, claim.Job.JobID, reason, q.now())
}

// Sweep marks every ledger entry older than retention as permanently failed
// and reports it. It returns the jobs newly marked.
func Sweep(ctx context.Context, ledger Ledger, retention time.Duration, now time.Time) ([]Job, error) {
	overdue, err := ledger.Overdue(ctx, now.Add(-retention))
	if err != nil {
		return nil, err
	}
	reason := fmt.Sprintf("not completed within retention of %s", retention)
	for _, job := range overdue {
		if err := ledger.MarkFailed(ctx, job.JobID, reason, now); err != nil {
			return nil, err
		}
		slog.Error("Backlog job permanently failed",
			slog.String("jobID", job.JobID),
			slog.String("documentID", job.DocumentID),
			slog.String("sourceKey", job.SourceKey),
			slog.String("pages", job.Pages.String()),
			slog.Time("enqueuedAt", job.EnqueuedAt))
		jobsExpired.Add(ctx, 1, metric.WithAttributes(attribute.String("queue", "ledger")))
	}
	return overdue, nil
}
