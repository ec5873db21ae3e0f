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
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/cardinalhq/rawetl/internal/pipeline"
)

// Processor runs one claimed job.
type Processor interface {
	ProcessJob(ctx context.Context, job Job) error
}

type ProcessorFunc func(ctx context.Context, job Job) error

func (f ProcessorFunc) ProcessJob(ctx context.Context, job Job) error {
	return f(ctx, job)
}

// Consumer claims jobs one at a time and runs them. A job is acknowledged
// only after it is processed; on a transient failure it is left for the
// visibility timeout to hand out again. A job failing with
// pipeline.ErrPermanent is retired at once and recorded as failed.
type Consumer struct {
	queue     Queue
	processor Processor
	idleWait  time.Duration
	errorWait time.Duration

	ledger     Ledger
	retention  time.Duration
	sweepEvery time.Duration
	lastSweep  time.Time
	now        func() time.Time
}

type ConsumerOption func(*Consumer)

// WithIdleWait sets how long to wait after finding the queue empty.
func WithIdleWait(d time.Duration) ConsumerOption {
	return func(c *Consumer) {
		c.idleWait = d
	}
}

// WithSweep makes the consumer sweep the ledger for expired jobs.
func WithSweep(ledger Ledger, retention, every time.Duration) ConsumerOption {
	return func(c *Consumer) {
		c.ledger = ledger
		c.retention = retention
		c.sweepEvery = every
	}
}

func NewConsumer(queue Queue, processor Processor, opts ...ConsumerOption) *Consumer {
	c := &Consumer{
		queue:     queue,
		processor: processor,
		idleWait:  time.Second,
		errorWait: 5 * time.Second,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// RunOnce claims and processes at most one job. It reports whether a job
// was claimed, and the processing error if any.
func (c *Consumer) RunOnce(ctx context.Context) (bool, error) {
	claim, err := c.queue.Claim(ctx)
	if err != nil {
		return false, err
	}
	if claim == nil {
		return false, nil
	}

	ll := slog.Default().With(
		slog.String("jobID", claim.Job.JobID),
		slog.String("documentID", claim.Job.DocumentID),
		slog.String("pages", claim.Job.Pages.String()),
		slog.Int("receiveCount", claim.ReceiveCount))
	ll.Info("Claimed backlog job")

	if err := c.processor.ProcessJob(ctx, claim.Job); err != nil {
		if errors.Is(err, pipeline.ErrPermanent) {
			ll.Error("Backlog job failed permanently", slog.Any("error", err))
			if ferr := c.fail(ctx, claim, err.Error()); ferr != nil {
				ll.Error("Failed to retire permanently failed backlog job", slog.Any("error", ferr))
			}
			return true, err
		}
		ll.Warn("Backlog job failed, leaving it for redelivery", slog.Any("error", err))
		return true, err
	}
	if err := c.queue.Ack(ctx, claim); err != nil {
		ll.Error("Failed to acknowledge backlog job", slog.Any("error", err))
		return true, err
	}
	return true, nil
}

// fail retires a claim through the queue when it supports that, otherwise
// it acknowledges the claim and marks the job failed in the sweep ledger.
func (c *Consumer) fail(ctx context.Context, claim *Claim, reason string) error {
	if f, ok := c.queue.(Failer); ok {
		return f.Fail(ctx, claim, reason)
	}
	if err := c.queue.Ack(ctx, claim); err != nil {
		return err
	}
	jobsFailed.Add(ctx, 1, metric.WithAttributes(attribute.String("queue", "consumer")))
	if c.ledger == nil {
		return nil
	}
	return c.ledger.MarkFailed(ctx, claim.Job.JobID, reason, c.now())
}

// Run consumes until ctx is done.
func (c *Consumer) Run(ctx context.Context) error {
	slog.Info("Starting backlog consumer")
	for {
		if ctx.Err() != nil {
			slog.Info("Backlog consumer stopped")
			return nil
		}
		c.maybeSweep(ctx)

		claimed, err := c.RunOnce(ctx)
		wait := time.Duration(0)
		switch {
		case err != nil && !claimed:
			slog.Error("Failed to claim backlog job", slog.Any("error", err))
			wait = c.errorWait
		case !claimed:
			wait = c.idleWait
		}
		if wait > 0 {
			select {
			case <-ctx.Done():
			case <-time.After(wait):
			}
		}
	}
}

func (c *Consumer) maybeSweep(ctx context.Context) {
	if c.ledger == nil {
		return
	}
	now := c.now()
	if !c.lastSweep.IsZero() && now.Sub(c.lastSweep) < c.sweepEvery {
		return
	}
	c.lastSweep = now
	if _, err := Sweep(ctx, c.ledger, c.retention, now); err != nil {
		slog.Error("Backlog sweep failed", slog.Any("error", err))
	}
}
