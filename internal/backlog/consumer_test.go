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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cardinalhq/rawetl/internal/pipeline"
)

func TestConsumer_AcksOnSuccess(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	q := NewMemoryQueue(DefaultPolicy(), WithClock(clock.Now))
	require.NoError(t, q.Enqueue(ctx, testJob("j1", 2, 3)))
	clock.Advance(time.Minute)

	var got []Job
	c := NewConsumer(q, ProcessorFunc(func(_ context.Context, job Job) error {
		got = append(got, job)
		return nil
	}))

	claimed, err := c.RunOnce(ctx)
	require.NoError(t, err)
	assert.True(t, claimed)
	require.Len(t, got, 1)
	assert.Equal(t, PageRange{First: 2, Last: 3}, got[0].Pages)
	assert.Zero(t, q.Len())

	claimed, err = c.RunOnce(ctx)
	require.NoError(t, err)
	assert.False(t, claimed)
}

func TestConsumer_LeavesFailedJobForRedelivery(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	q := NewMemoryQueue(DefaultPolicy(), WithClock(clock.Now))
	require.NoError(t, q.Enqueue(ctx, testJob("j1", 2, 3)))
	clock.Advance(time.Minute)

	calls := 0
	c := NewConsumer(q, ProcessorFunc(func(context.Context, Job) error {
		calls++
		if calls == 1 {
			return errors.New("transcriber crashed")
		}
		return nil
	}))

	claimed, err := c.RunOnce(ctx)
	assert.True(t, claimed)
	require.Error(t, err)
	assert.Equal(t, 1, q.Len())

	claimed, err = c.RunOnce(ctx)
	require.NoError(t, err)
	assert.False(t, claimed, "job stays invisible until the visibility timeout")

	clock.Advance(15 * time.Minute)
	claimed, err = c.RunOnce(ctx)
	require.NoError(t, err)
	assert.True(t, claimed)
	assert.Equal(t, 2, calls)
	assert.Zero(t, q.Len())
}

func TestConsumer_RetiresPermanentFailure(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	q := NewMemoryQueue(DefaultPolicy(), WithClock(clock.Now))
	require.NoError(t, q.Enqueue(ctx, testJob("j1", 2, 3)))
	clock.Advance(time.Minute)

	calls := 0
	c := NewConsumer(q, ProcessorFunc(func(context.Context, Job) error {
		calls++
		return fmt.Errorf("source is gone: %w", pipeline.ErrPermanent)
	}))

	claimed, err := c.RunOnce(ctx)
	assert.True(t, claimed)
	require.ErrorIs(t, err, pipeline.ErrPermanent)
	assert.Zero(t, q.Len())
	expired := q.Expired()
	require.Len(t, expired, 1)
	assert.Equal(t, "j1", expired[0].JobID)

	clock.Advance(time.Hour)
	claimed, err = c.RunOnce(ctx)
	require.NoError(t, err)
	assert.False(t, claimed)
	assert.Equal(t, 1, calls)
}

func TestConsumer_PermanentFailureMarksLedger(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	ledger := NewMemoryLedger()
	q := NewLedgeredQueue(NewMemoryQueue(DefaultPolicy(), WithClock(clock.Now)), ledger)
	q.now = clock.Now
	require.NoError(t, q.Enqueue(ctx, testJob("j1", 2, 3)))
	clock.Advance(time.Minute)

	c := NewConsumer(q, ProcessorFunc(func(context.Context, Job) error {
		return fmt.Errorf("%w: no pages", pipeline.ErrPermanent)
	}))
	_, err := c.RunOnce(ctx)
	require.ErrorIs(t, err, pipeline.ErrPermanent)

	failed, err := ledger.Failed(ctx)
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, "j1", failed[0].Job.JobID)
	assert.Contains(t, failed[0].Reason, "no pages")

	overdue, err := ledger.Overdue(ctx, clock.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Empty(t, overdue, "a retired job is not swept again")
}

func TestConsumer_RunStopsWithContext(t *testing.T) {
	q := NewMemoryQueue(DefaultPolicy())
	c := NewConsumer(q, ProcessorFunc(func(context.Context, Job) error { return nil }),
		WithIdleWait(time.Millisecond),
		WithSweep(NewMemoryLedger(), DefaultPolicy().Retention, time.Hour))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	require.NoError(t, c.Run(ctx))
}
