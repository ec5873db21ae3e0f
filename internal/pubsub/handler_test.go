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

package pubsub

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cardinalhq/rawetl/internal/pipeline"
)

// scriptedDeliverer returns a fixed outcome per key and records calls.
type scriptedDeliverer struct {
	mu       sync.Mutex
	outcomes map[string]pipeline.Outcome
	calls    []pipeline.ObjectEvent
}

func (s *scriptedDeliverer) Deliver(_ context.Context, evt pipeline.ObjectEvent) pipeline.Outcome {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, evt)
	return s.outcomes[evt.Key]
}

func (s *scriptedDeliverer) keys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for _, c := range s.calls {
		out = append(out, c.Key)
	}
	return out
}

const twoRecords = `{"Records":[
  {"eventName":"ObjectCreated:Put","s3":{"bucket":{"name":"raw"},"object":{"key":"a.pdf","sequencer":"1"}}},
  {"eventName":"ObjectCreated:Put","s3":{"bucket":{"name":"audio"},"object":{"key":"clip.json","sequencer":"2"}}}
]}`

func TestDispatcher_AckAndRedeliver(t *testing.T) {
	ctx := context.Background()
	deliverer := &scriptedDeliverer{outcomes: map[string]pipeline.Outcome{
		"clip.json": pipeline.RedeliverAfter(30 * time.Second),
	}}
	stats := NewStatsAggregator(time.Hour)
	d := NewDispatcher(deliverer, NewDeduplicator(time.Minute), stats)

	outcome := d.HandleMessage(ctx, "sqs", []byte(twoRecords), 3)
	assert.Equal(t, pipeline.RedeliverAfter(30*time.Second), outcome)
	require.Len(t, deliverer.calls, 2)
	assert.Equal(t, 3, deliverer.calls[0].Attempt)

	// On redelivery only the event that asked for it runs again.
	deliverer.outcomes = nil
	outcome = d.HandleMessage(ctx, "sqs", []byte(twoRecords), 4)
	assert.Equal(t, pipeline.Ack(), outcome)
	assert.Equal(t, []string{"a.pdf", "clip.json", "clip.json"}, deliverer.keys())

	stats.mu.Lock()
	defer stats.mu.Unlock()
	assert.Equal(t, int64(2), stats.stats["sqs"].processed)
	assert.Equal(t, int64(1), stats.stats["sqs"].redelivered)
	assert.Equal(t, int64(1), stats.stats["sqs"].skipped)
}

// blockingDeliverer holds every delivery until release is closed.
type blockingDeliverer struct {
	started chan struct{}
	release chan struct{}
	calls   int32
}

func (b *blockingDeliverer) Deliver(_ context.Context, _ pipeline.ObjectEvent) pipeline.Outcome {
	if atomic.AddInt32(&b.calls, 1) == 1 {
		close(b.started)
	}
	<-b.release
	return pipeline.Ack()
}

func TestDispatcher_InFlightDuplicateIsHeld(t *testing.T) {
	ctx := context.Background()
	body := []byte(`{"Records":[{"eventName":"ObjectCreated:Put","s3":{"bucket":{"name":"raw"},"object":{"key":"a.pdf","sequencer":"1"}}}]}`)
	deliverer := &blockingDeliverer{started: make(chan struct{}), release: make(chan struct{})}
	d := NewDispatcher(deliverer, NewDeduplicator(time.Minute), nil)

	first := make(chan pipeline.Outcome, 1)
	go func() { first <- d.HandleMessage(ctx, "sqs", body, 1) }()
	<-deliverer.started

	// The same event arriving again while the first handler runs must be
	// kept on the queue, not acked and deleted.
	outcome := d.HandleMessage(ctx, "sqs", body, 2)
	assert.True(t, outcome.Redeliver)
	assert.Equal(t, inFlightRedelivery, outcome.After)

	close(deliverer.release)
	assert.Equal(t, pipeline.Ack(), <-first)

	// Once the first handler finished, a redelivery is a plain duplicate.
	assert.Equal(t, pipeline.Ack(), d.HandleMessage(ctx, "sqs", body, 3))
	assert.Equal(t, int32(1), atomic.LoadInt32(&deliverer.calls))
}

func TestDispatcher_LongestDelayWins(t *testing.T) {
	deliverer := &scriptedDeliverer{outcomes: map[string]pipeline.Outcome{
		"a.pdf":     pipeline.RedeliverAfter(time.Minute),
		"clip.json": pipeline.RedeliverAfter(30 * time.Second),
	}}
	d := NewDispatcher(deliverer, nil, nil)
	outcome := d.HandleMessage(context.Background(), "http", []byte(twoRecords), 1)
	assert.Equal(t, pipeline.RedeliverAfter(time.Minute), outcome)
}

func TestDispatcher_PoisonMessageAcked(t *testing.T) {
	deliverer := &scriptedDeliverer{}
	d := NewDispatcher(deliverer, nil, nil)

	assert.Equal(t, pipeline.Ack(), d.HandleMessage(context.Background(), "sqs", []byte("garbage"), 1))
	assert.Equal(t, pipeline.Ack(), d.HandleMessage(context.Background(), "sqs", nil, 1))
	assert.Empty(t, deliverer.calls)
}

func TestHandleGCSNotification(t *testing.T) {
	deliverer := &scriptedDeliverer{}
	d := NewDispatcher(deliverer, nil, nil)
	body := []byte(`{"kind":"storage#object","name":"clip.json","bucket":"audio"}`)

	outcome := handleGCSNotification(context.Background(), d, "gcp", body, map[string]string{"eventType": "OBJECT_FINALIZE"}, 2)
	assert.Equal(t, pipeline.Ack(), outcome)
	require.Len(t, deliverer.calls, 1)
	assert.Equal(t, "ObjectCreated:Put", deliverer.calls[0].EventName)
	assert.Equal(t, 2, deliverer.calls[0].Attempt)
}
