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
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

type memEntry struct {
	job       Job
	visibleAt time.Time
	expiresAt time.Time
	receipt   string
	receives  int
}

// MemoryQueue is an in-process Queue with the same delivery semantics as
// the managed queue. Jobs that pass retention or fail permanently are moved
// to an expired list.
type MemoryQueue struct {
	policy Policy
	now    func() time.Time

	mu      sync.Mutex
	entries []*memEntry
	expired []Job
}

var (
	_ Queue  = (*MemoryQueue)(nil)
	_ Failer = (*MemoryQueue)(nil)
)

type MemoryQueueOption func(*MemoryQueue)

// WithClock substitutes the queue's time source.
func WithClock(now func() time.Time) MemoryQueueOption {
	return func(q *MemoryQueue) {
		q.now = now
	}
}

func NewMemoryQueue(policy Policy, opts ...MemoryQueueOption) *MemoryQueue {
	q := &MemoryQueue{policy: policy, now: time.Now}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

func (q *MemoryQueue) Enqueue(ctx context.Context, job Job) error {
	if err := job.Validate(); err != nil {
		return err
	}
	now := q.now()
	if job.EnqueuedAt.IsZero() {
		job.EnqueuedAt = now
	}

	q.mu.Lock()
	q.entries = append(q.entries, &memEntry{
		job:       job,
		visibleAt: now.Add(q.policy.DeliveryDelay),
		expiresAt: now.Add(q.policy.Retention),
	})
	q.mu.Unlock()

	jobsEnqueued.Add(ctx, 1, metric.WithAttributes(attribute.String("queue", "memory")))
	return nil
}

func (q *MemoryQueue) Claim(ctx context.Context) (*Claim, error) {
	now := q.now()

	q.mu.Lock()
	defer q.mu.Unlock()

	q.expireLocked(ctx, now)

	for _, e := range q.entries {
		if now.Before(e.visibleAt) {
			continue
		}
		e.receipt = uuid.NewString()
		e.receives++
		e.visibleAt = now.Add(q.policy.VisibilityTimeout)
		jobsClaimed.Add(ctx, 1, metric.WithAttributes(attribute.String("queue", "memory")))
		return &Claim{
			Job:          e.job,
			Receipt:      e.receipt,
			ReceiveCount: e.receives,
			ClaimedAt:    now,
		}, nil
	}
	return nil, nil
}

func (q *MemoryQueue) Ack(ctx context.Context, claim *Claim) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, e := range q.entries {
		if e.receipt != "" && e.receipt == claim.Receipt {
			q.entries = append(q.entries[:i], q.entries[i+1:]...)
			jobsAcked.Add(ctx, 1, metric.WithAttributes(attribute.String("queue", "memory")))
			return nil
		}
	}
	return fmt.Errorf("%w: job %s", ErrStaleReceipt, claim.Job.JobID)
}

// Fail removes a claimed job and moves it to the expired list.
func (q *MemoryQueue) Fail(ctx context.Context, claim *Claim, reason string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, e := range q.entries {
		if e.receipt != "" && e.receipt == claim.Receipt {
			q.entries = append(q.entries[:i], q.entries[i+1:]...)
			q.expired = append(q.expired, e.job)
			jobsFailed.Add(ctx, 1, metric.WithAttributes(attribute.String("queue", "memory")))
			return nil
		}
	}
	return fmt.Errorf("%w: job %s", ErrStaleReceipt, claim.Job.JobID)
}

func (q *MemoryQueue) expireLocked(ctx context.Context, now time.Time) {
	kept := q.entries[:0]
	for _, e := range q.entries {
		if now.Before(e.expiresAt) {
			kept = append(kept, e)
			continue
		}
		slog.Error("Backlog job passed retention and will not be delivered again",
			slog.String("jobID", e.job.JobID),
			slog.String("documentID", e.job.DocumentID),
			slog.String("pages", e.job.Pages.String()),
			slog.Int("receives", e.receives))
		jobsExpired.Add(ctx, 1, metric.WithAttributes(attribute.String("queue", "memory")))
		q.expired = append(q.expired, e.job)
	}
	q.entries = kept
}

// Expired returns the jobs that passed retention without being acknowledged
// and those retired through Fail.
func (q *MemoryQueue) Expired() []Job {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.expireLocked(context.Background(), q.now())
	return append([]Job(nil), q.expired...)
}

// Len is the number of jobs held, claimed or not.
func (q *MemoryQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

// Pending returns a snapshot of the held jobs in enqueue order.
func (q *MemoryQueue) Pending() []Job {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]Job, 0, len(q.entries))
	for _, e := range q.entries {
		out = append(out, e.job)
	}
	return out
}

// NextVisible returns the earliest time a held job becomes claimable.
func (q *MemoryQueue) NextVisible() (time.Time, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	var next time.Time
	for _, e := range q.entries {
		if next.IsZero() || e.visibleAt.Before(next) {
			next = e.visibleAt
		}
	}
	return next, !next.IsZero()
}
