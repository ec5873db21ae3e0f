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
	"sort"
	"sync"
	"time"
)

// FailedJob is a job that passed retention without being completed.
type FailedJob struct {
	Job      Job
	FailedAt time.Time
	Reason   string
}

// Ledger records every enqueued job until it completes, so jobs a managed
// queue drops at retention can still be found and reported.
type Ledger interface {
	Record(ctx context.Context, job Job) error
	Complete(ctx context.Context, jobID string, at time.Time) error
	// Overdue lists open jobs enqueued before cutoff.
	Overdue(ctx context.Context, cutoff time.Time) ([]Job, error)
	MarkFailed(ctx context.Context, jobID, reason string, at time.Time) error
	Failed(ctx context.Context) ([]FailedJob, error)
}

type ledgerEntry struct {
	job       Job
	completed bool
	failed    *FailedJob
}

// MemoryLedger is a Ledger held in process memory.
type MemoryLedger struct {
	mu      sync.Mutex
	entries map[string]*ledgerEntry
}

var _ Ledger = (*MemoryLedger)(nil)

func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{entries: make(map[string]*ledgerEntry)}
}

func (l *MemoryLedger) Record(_ context.Context, job Job) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.entries[job.JobID]; !ok {
		l.entries[job.JobID] = &ledgerEntry{job: job}
	}
	return nil
}

func (l *MemoryLedger) Complete(_ context.Context, jobID string, _ time.Time) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if e, ok := l.entries[jobID]; ok {
		e.completed = true
	}
	return nil
}

func (l *MemoryLedger) Overdue(_ context.Context, cutoff time.Time) ([]Job, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []Job
	for _, e := range l.entries {
		if e.completed || e.failed != nil {
			continue
		}
		if e.job.EnqueuedAt.Before(cutoff) {
			out = append(out, e.job)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EnqueuedAt.Before(out[j].EnqueuedAt) })
	return out, nil
}

func (l *MemoryLedger) MarkFailed(_ context.Context, jobID, reason string, at time.Time) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if e, ok := l.entries[jobID]; ok && !e.completed && e.failed == nil {
		e.failed = &FailedJob{Job: e.job, FailedAt: at, Reason: reason}
	}
	return nil
}

func (l *MemoryLedger) Failed(_ context.Context) ([]FailedJob, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []FailedJob
	for _, e := range l.entries {
		if e.failed != nil {
			out = append(out, *e.failed)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FailedAt.Before(out[j].FailedAt) })
	return out, nil
}
