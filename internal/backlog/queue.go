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
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

var (
	jobsEnqueued metric.Int64Counter
	jobsClaimed  metric.Int64Counter
	jobsAcked    metric.Int64Counter
	jobsExpired  metric.Int64Counter
	jobsFailed   metric.Int64Counter
)

func init() {
	meter := otel.Meter("github.com/cardinalhq/rawetl/internal/backlog")

	var err error
	jobsEnqueued, err = meter.Int64Counter(
		"backlog_jobs_enqueued_total",
		metric.WithDescription("Continuation jobs enqueued"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create jobsEnqueued counter: %w", err))
	}

	jobsClaimed, err = meter.Int64Counter(
		"backlog_jobs_claimed_total",
		metric.WithDescription("Continuation jobs claimed, including redeliveries"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create jobsClaimed counter: %w", err))
	}

	jobsAcked, err = meter.Int64Counter(
		"backlog_jobs_acked_total",
		metric.WithDescription("Continuation jobs acknowledged after processing"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create jobsAcked counter: %w", err))
	}

	jobsExpired, err = meter.Int64Counter(
		"backlog_jobs_expired_total",
		metric.WithDescription("Continuation jobs that passed retention without completing"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create jobsExpired counter: %w", err))
	}

	jobsFailed, err = meter.Int64Counter(
		"backlog_jobs_failed_total",
		metric.WithDescription("Continuation jobs retired after a permanent processing failure"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create jobsFailed counter: %w", err))
	}
}

// Policy holds the delivery semantics of a backlog queue.
type Policy struct {
	DeliveryDelay     time.Duration `mapstructure:"delivery_delay"`
	VisibilityTimeout time.Duration `mapstructure:"visibility_timeout"`
	Retention         time.Duration `mapstructure:"retention"`
}

func DefaultPolicy() Policy {
	return Policy{
		DeliveryDelay:     time.Minute,
		VisibilityTimeout: 15 * time.Minute,
		Retention:         4 * 24 * time.Hour,
	}
}

var ErrInvalidPolicy = errors.New("invalid backlog policy")

// Validate checks the policy against the longest time a consumer may hold
// a claim. A visibility timeout that does not exceed it would let a slow
// but healthy job be claimed twice.
func (p Policy) Validate(maxProcessing time.Duration) error {
	if p.DeliveryDelay < 0 {
		return fmt.Errorf("%w: negative delivery delay", ErrInvalidPolicy)
	}
	if p.VisibilityTimeout <= maxProcessing {
		return fmt.Errorf("%w: visibility timeout %s must exceed processing ceiling %s",
			ErrInvalidPolicy, p.VisibilityTimeout, maxProcessing)
	}
	if p.Retention <= p.VisibilityTimeout+p.DeliveryDelay {
		return fmt.Errorf("%w: retention %s is too short", ErrInvalidPolicy, p.Retention)
	}
	return nil
}

// Claim is a job handed to a single consumer until it is acknowledged or
// its visibility timeout passes.
type Claim struct {
	Job          Job
	Receipt      string
	ReceiveCount int
	ClaimedAt    time.Time
}

// Enqueuer accepts continuation jobs.
type Enqueuer interface {
	Enqueue(ctx context.Context, job Job) error
}

// Queue is an at-least-once backlog. Claim returns nil without error when
// nothing is claimable. Claims are always one job at a time.
type Queue interface {
	Enqueuer
	Claim(ctx context.Context) (*Claim, error)
	Ack(ctx context.Context, claim *Claim) error
}

// Failer is implemented by queues that can retire a claimed job as
// permanently failed instead of completed.
type Failer interface {
	Fail(ctx context.Context, claim *Claim, reason string) error
}

// ErrStaleReceipt is returned when acknowledging a claim that has since
// expired and been handed out again, or was already acknowledged.
var ErrStaleReceipt = errors.New("stale claim receipt")
