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

// Package localbus runs the whole pipeline in one process: object writes
// to an in-memory store become events, events go to the router on a
// worker pool, and the backlog is consumed from an in-memory queue.
package localbus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"

	"github.com/cardinalhq/rawetl/internal/backlog"
	"github.com/cardinalhq/rawetl/internal/objstore"
	"github.com/cardinalhq/rawetl/internal/pipeline"
)

// ErrNotSettled is returned by Drain when work keeps arriving past maxSteps.
var ErrNotSettled = errors.New("local bus did not settle")

type scheduled struct {
	at  time.Time
	evt pipeline.ObjectEvent
}

// Bus delivers object events to a Deliverer. Handlers run on an ants
// pool; events they cause are queued, never submitted from inside the
// pool, so a full pool cannot deadlock.
type Bus struct {
	deliverer pipeline.Deliverer
	pool      *ants.Pool
	clock     *Clock
	queue     *backlog.MemoryQueue
	consumer  *backlog.Consumer
	maxSteps  int

	mu        sync.Mutex
	inbox     []pipeline.ObjectEvent
	scheduled []scheduled
	delivered int
	inflight  sync.WaitGroup
}

type Option func(*Bus)

// WithBacklog lets Drain claim and process jobs from queue.
func WithBacklog(queue *backlog.MemoryQueue, processor backlog.Processor) Option {
	return func(b *Bus) {
		b.queue = queue
		b.consumer = backlog.NewConsumer(queue, processor)
	}
}

// WithMaxSteps bounds Drain.
func WithMaxSteps(n int) Option {
	return func(b *Bus) {
		b.maxSteps = n
	}
}

func New(deliverer pipeline.Deliverer, clock *Clock, poolSize int, opts ...Option) (*Bus, error) {
	pool, err := ants.NewPool(max(poolSize, 1))
	if err != nil {
		return nil, fmt.Errorf("creating worker pool: %w", err)
	}
	b := &Bus{
		deliverer: deliverer,
		pool:      pool,
		clock:     clock,
		maxSteps:  100000,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b, nil
}

// Release stops the worker pool.
func (b *Bus) Release() {
	b.pool.Release()
}

// Attach turns every write to store into an ObjectCreated:Put event.
func (b *Bus) Attach(store *objstore.MemoryStore) {
	store.OnPut(func(bucket, key string, size int64) {
		b.Publish(pipeline.ObjectEvent{
			Bucket:    bucket,
			Key:       key,
			EventName: pipeline.EventObjectCreatedPut,
			Size:      size,
			Attempt:   1,
			QueuedAt:  b.clock.Now(),
		})
	})
}

// Publish queues an event for the next Drain.
func (b *Bus) Publish(evt pipeline.ObjectEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.inbox = append(b.inbox, evt)
}

// Delivered is how many deliveries have run.
func (b *Bus) Delivered() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.delivered
}

// Drain runs until nothing is left to do: no queued or running events,
// no scheduled redeliveries and no held backlog jobs. When only delayed
// work remains the clock skips ahead to it.
func (b *Bus) Drain(ctx context.Context) error {
	for step := 0; step < b.maxSteps; step++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		n, err := b.dispatchInbox(ctx)
		if err != nil {
			return err
		}
		if n > 0 {
			b.inflight.Wait()
			continue
		}

		if b.consumer != nil {
			claimed, err := b.consumer.RunOnce(ctx)
			if err != nil && !claimed {
				return fmt.Errorf("claiming backlog job: %w", err)
			}
			if claimed {
				continue
			}
		}

		if b.releaseDue() > 0 {
			continue
		}

		next, ok := b.nextWake()
		if !ok {
			return nil
		}
		b.clock.AdvanceTo(next)
	}
	return ErrNotSettled
}

func (b *Bus) dispatchInbox(ctx context.Context) (int, error) {
	b.mu.Lock()
	events := b.inbox
	b.inbox = nil
	b.mu.Unlock()

	for i, evt := range events {
		b.inflight.Add(1)
		err := b.pool.Submit(func() {
			defer b.inflight.Done()
			b.deliver(ctx, evt)
		})
		if err != nil {
			b.inflight.Done()
			b.mu.Lock()
			b.inbox = append(events[i:], b.inbox...)
			b.mu.Unlock()
			return i, fmt.Errorf("submitting event: %w", err)
		}
	}
	return len(events), nil
}

func (b *Bus) deliver(ctx context.Context, evt pipeline.ObjectEvent) {
	outcome := b.deliverer.Deliver(ctx, evt)

	b.mu.Lock()
	defer b.mu.Unlock()
	b.delivered++
	if !outcome.Redeliver {
		return
	}
	next := evt
	next.Attempt++
	at := b.clock.Now().Add(outcome.After)
	b.scheduled = append(b.scheduled, scheduled{at: at, evt: next})
	slog.Debug("Redelivery scheduled",
		slog.String("bucket", evt.Bucket),
		slog.String("key", evt.Key),
		slog.Int("attempt", next.Attempt),
		slog.Time("at", at))
}

// releaseDue moves scheduled redeliveries whose time has come to the inbox.
func (b *Bus) releaseDue() int {
	now := b.clock.Now()
	b.mu.Lock()
	defer b.mu.Unlock()

	sort.SliceStable(b.scheduled, func(i, j int) bool { return b.scheduled[i].at.Before(b.scheduled[j].at) })
	n := 0
	for n < len(b.scheduled) && !b.scheduled[n].at.After(now) {
		b.inbox = append(b.inbox, b.scheduled[n].evt)
		n++
	}
	b.scheduled = b.scheduled[n:]
	return n
}

func (b *Bus) nextWake() (time.Time, bool) {
	var next time.Time
	b.mu.Lock()
	for _, s := range b.scheduled {
		if next.IsZero() || s.at.Before(next) {
			next = s.at
		}
	}
	b.mu.Unlock()

	if b.queue != nil {
		if v, ok := b.queue.NextVisible(); ok && (next.IsZero() || v.Before(next)) {
			next = v
		}
	}
	return next, !next.IsZero()
}
