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
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/cardinalhq/rawetl/internal/idgen"
	"github.com/cardinalhq/rawetl/internal/pipeline"
)

var (
	itemsProcessed   metric.Int64Counter
	itemsSkipped     metric.Int64Counter
	itemsDuplicated  metric.Int64Counter
	itemsRedelivered metric.Int64Counter
)

func init() {
	meter := otel.Meter("github.com/cardinalhq/rawetl/internal/pubsub")

	var err error
	itemsProcessed, err = meter.Int64Counter(
		"pubsub_items_processed_total",
		metric.WithDescription("Total number of pubsub items processed successfully"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create itemsProcessed counter: %w", err))
	}

	itemsSkipped, err = meter.Int64Counter(
		"pubsub_items_skipped_total",
		metric.WithDescription("Total number of pubsub items skipped"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create itemsSkipped counter: %w", err))
	}

	itemsDuplicated, err = meter.Int64Counter(
		"pubsub_items_duplicated_total",
		metric.WithDescription("Total number of duplicate pubsub items dropped"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create itemsDuplicated counter: %w", err))
	}

	itemsRedelivered, err = meter.Int64Counter(
		"pubsub_items_redelivered_total",
		metric.WithDescription("Total number of pubsub items handed back for redelivery"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create itemsRedelivered counter: %w", err))
	}
}

// Dispatcher turns raw notification messages into object events and
// delivers them. Every backend shares one.
type Dispatcher struct {
	deliverer pipeline.Deliverer
	dedup     *Deduplicator
	stats     *StatsAggregator
	tracer    trace.Tracer
}

func NewDispatcher(deliverer pipeline.Deliverer, dedup *Deduplicator, stats *StatsAggregator) *Dispatcher {
	return &Dispatcher{
		deliverer: deliverer,
		dedup:     dedup,
		stats:     stats,
		tracer:    otel.Tracer("github.com/cardinalhq/rawetl/internal/pubsub"),
	}
}

// HandleMessage delivers every event in msg and returns the outcome for
// the message as a whole: redeliver if any event asked for it, using the
// longest requested delay. Unparseable messages are acknowledged.
func (d *Dispatcher) HandleMessage(ctx context.Context, source string, msg []byte, attempt int) pipeline.Outcome {
	events, err := d.parse(msg)
	if err != nil {
		slog.Error("Dropping unparseable message", slog.String("source", source), slog.Any("error", err))
		itemsSkipped.Add(ctx, 1, metric.WithAttributes(
			attribute.String("reason", "parse_failed"),
			attribute.String("source", source),
		))
		d.stats.RecordSkipped(source, 1)
		return pipeline.Ack()
	}
	return d.deliverAll(ctx, source, events, attempt)
}

// HandleEvents is HandleMessage for backends that parse themselves.
func (d *Dispatcher) HandleEvents(ctx context.Context, source string, events []pipeline.ObjectEvent, attempt int) pipeline.Outcome {
	return d.deliverAll(ctx, source, events, attempt)
}

func (d *Dispatcher) parse(msg []byte) ([]pipeline.ObjectEvent, error) {
	if len(msg) == 0 {
		return nil, fmt.Errorf("empty message received")
	}
	return ParseEvents(msg)
}

// inFlightRedelivery is how long a message whose event is still being
// handled by an earlier receive stays hidden before it is looked at again.
const inFlightRedelivery = time.Minute

func (d *Dispatcher) deliverAll(ctx context.Context, source string, events []pipeline.ObjectEvent, attempt int) pipeline.Outcome {
	result := pipeline.Ack()
	redeliver := func(outcome pipeline.Outcome) {
		if !result.Redeliver || outcome.After > result.After {
			result = outcome
		}
	}

	for _, evt := range events {
		evt.Attempt = max(attempt, 1)

		if d.dedup != nil {
			switch d.dedup.Check(ctx, evt, source) {
			case VerdictDuplicate:
				slog.Info("Duplicate message detected, skipping",
					slog.String("bucket", evt.Bucket),
					slog.String("key", evt.Key),
					slog.String("source", source))
				d.stats.RecordSkipped(source, 1)
				continue
			case VerdictInFlight:
				slog.Info("Event still in flight, holding message",
					slog.String("bucket", evt.Bucket),
					slog.String("key", evt.Key),
					slog.String("source", source))
				redeliver(pipeline.RedeliverAfter(inFlightRedelivery))
				continue
			}
		}

		outcome := d.deliver(ctx, source, evt)
		if !outcome.Redeliver {
			if d.dedup != nil {
				d.dedup.Done(evt)
			}
			itemsProcessed.Add(ctx, 1, metric.WithAttributes(
				attribute.String("bucket", evt.Bucket),
				attribute.String("source", source),
			))
			d.stats.RecordProcessed(source, 1)
			continue
		}

		if d.dedup != nil {
			d.dedup.Forget(evt)
		}
		itemsRedelivered.Add(ctx, 1, metric.WithAttributes(attribute.String("source", source)))
		d.stats.RecordRedelivered(source, 1)
		redeliver(outcome)
	}
	return result
}

func (d *Dispatcher) deliver(ctx context.Context, source string, evt pipeline.ObjectEvent) pipeline.Outcome {
	deliveryID := idgen.DeliveryID()
	ctx, span := d.tracer.Start(ctx, "pubsub.Dispatcher.deliver",
		trace.WithAttributes(
			attribute.String("delivery_id", deliveryID),
			attribute.String("source", source),
			attribute.String("bucket", evt.Bucket),
			attribute.String("key", evt.Key),
			attribute.Int("attempt", evt.Attempt),
		))
	defer span.End()

	outcome := d.deliverer.Deliver(ctx, evt)
	span.SetAttributes(attribute.String("outcome", outcome.String()))
	if outcome.Redeliver {
		slog.Info("Delivery asked for redelivery",
			slog.String("deliveryID", deliveryID),
			slog.String("bucket", evt.Bucket),
			slog.String("key", evt.Key),
			slog.Int("attempt", evt.Attempt),
			slog.Duration("after", outcome.After))
	}
	return outcome
}
