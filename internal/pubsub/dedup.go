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
	"time"

	"github.com/jellydator/ttlcache/v3"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/cardinalhq/rawetl/internal/pipeline"
)

type dedupKey struct {
	bucket  string
	key     string
	event   string
	version string
}

// Verdict is the deduplicator's decision about one event.
type Verdict int

const (
	// VerdictNew means the event has not been seen and is now in flight.
	VerdictNew Verdict = iota
	// VerdictDuplicate means the event was already delivered.
	VerdictDuplicate
	// VerdictInFlight means another receive of the event is still being
	// handled. Its message must stay in the queue.
	VerdictInFlight
)

// Deduplicator drops notifications already seen within its TTL. Cloud
// notification services deliver at least once, and a message carrying
// several records is redelivered whole when one of them asks for it.
// In-flight events never expire; their TTL starts when they are Done.
type Deduplicator struct {
	seen *ttlcache.Cache[dedupKey, bool]
}

func NewDeduplicator(ttl time.Duration) *Deduplicator {
	return &Deduplicator{
		seen: ttlcache.New(
			ttlcache.WithTTL[dedupKey, bool](ttl),
			ttlcache.WithDisableTouchOnHit[dedupKey, bool](),
		),
	}
}

// Start runs expiry until Stop is called.
func (d *Deduplicator) Start() {
	go d.seen.Start()
}

func (d *Deduplicator) Stop() {
	d.seen.Stop()
}

func keyOf(evt pipeline.ObjectEvent) dedupKey {
	return dedupKey{bucket: evt.Bucket, key: evt.Key, event: evt.EventName, version: evt.Version}
}

// Check records a new event as in flight, or reports why it must not be
// delivered again.
func (d *Deduplicator) Check(ctx context.Context, evt pipeline.ObjectEvent, source string) Verdict {
	item, found := d.seen.GetOrSet(keyOf(evt), true, ttlcache.WithTTL[dedupKey, bool](ttlcache.NoTTL))
	if !found {
		return VerdictNew
	}
	recordDuplicate(ctx, evt.Bucket, source)
	if item.Value() {
		return VerdictInFlight
	}
	return VerdictDuplicate
}

// Done marks an in-flight event delivered. Later receives within the TTL
// are duplicates.
func (d *Deduplicator) Done(evt pipeline.ObjectEvent) {
	d.seen.Set(keyOf(evt), false, ttlcache.DefaultTTL)
}

// Forget removes an event so its redelivery is processed.
func (d *Deduplicator) Forget(evt pipeline.ObjectEvent) {
	d.seen.Delete(keyOf(evt))
}

// recordDuplicate increments the duplicate counter metric
func recordDuplicate(ctx context.Context, bucket, source string) {
	itemsDuplicated.Add(ctx, 1, metric.WithAttributes(
		attribute.String("bucket", bucket),
		attribute.String("source", source),
	))
}
