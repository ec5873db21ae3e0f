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

// Package router dispatches object-creation events to the worker that owns
// the object's area and suffix.
package router

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hashicorp/go-multierror"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/cardinalhq/rawetl/internal/pipeline"
)

var (
	eventsDispatched metric.Int64Counter
	eventsIgnored    metric.Int64Counter
	handlerDuration  metric.Float64Histogram
)

func init() {
	meter := otel.Meter("github.com/cardinalhq/rawetl/internal/router")

	var err error
	eventsDispatched, err = meter.Int64Counter(
		"router_events_dispatched_total",
		metric.WithDescription("Events dispatched to a handler, by handler and outcome"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create eventsDispatched counter: %w", err))
	}

	eventsIgnored, err = meter.Int64Counter(
		"router_events_ignored_total",
		metric.WithDescription("Events that matched no route"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create eventsIgnored counter: %w", err))
	}

	handlerDuration, err = meter.Float64Histogram(
		"router_handler_duration_seconds",
		metric.WithDescription("Time spent in a handler per dispatched event"),
		metric.WithUnit("s"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create handlerDuration histogram: %w", err))
	}
}

// Router implements pipeline.Deliverer over a routing table.
type Router struct {
	table    *Table
	areas    pipeline.Areas
	handlers map[pipeline.HandlerID]pipeline.Handler
}

var _ pipeline.Deliverer = (*Router)(nil)

// New checks that every handler the table names is registered and that
// every area is backed by a bucket.
func New(table *Table, areas pipeline.Areas, handlers map[pipeline.HandlerID]pipeline.Handler) (*Router, error) {
	var errs *multierror.Error
	if err := areas.Validate(); err != nil {
		errs = multierror.Append(errs, err)
	}
	for _, id := range table.Handlers().ToSlice() {
		if h, ok := handlers[id]; !ok || h == nil {
			errs = multierror.Append(errs, fmt.Errorf("no handler registered for %q", id))
		}
	}
	if err := errs.ErrorOrNil(); err != nil {
		return nil, fmt.Errorf("invalid router: %w", err)
	}
	return &Router{table: table, areas: areas, handlers: handlers}, nil
}

// Table returns the routing table in use.
func (r *Router) Table() *Table {
	return r.table
}

// Route resolves an event to a work item without running anything.
func (r *Router) Route(evt pipeline.ObjectEvent) (pipeline.WorkItem, pipeline.HandlerID, bool) {
	area, ok := r.areas.AreaOf(evt.Bucket)
	if !ok {
		return pipeline.WorkItem{}, "", false
	}
	route, ok := r.table.Match(area, evt.Key, evt.EventName)
	if !ok {
		return pipeline.WorkItem{}, "", false
	}
	attempt := evt.Attempt
	if attempt < 1 {
		attempt = 1
	}
	return pipeline.WorkItem{
		Area:    area,
		Bucket:  evt.Bucket,
		Key:     evt.Key,
		Type:    pipeline.ClassifyKey(evt.Key),
		Size:    evt.Size,
		Attempt: attempt,
	}, route.Handler, true
}

// Deliver routes one event and runs its handler. Unmatched events are
// acknowledged. Handler failures are acknowledged too unless the handler
// asked for redelivery, so one bad object never blocks the others.
func (r *Router) Deliver(ctx context.Context, evt pipeline.ObjectEvent) pipeline.Outcome {
	item, handlerID, ok := r.Route(evt)
	if !ok {
		slog.Debug("No route for object, ignoring",
			slog.String("bucket", evt.Bucket),
			slog.String("key", evt.Key),
			slog.String("event", evt.EventName))
		eventsIgnored.Add(ctx, 1, metric.WithAttributes(attribute.String("bucket", evt.Bucket)))
		return pipeline.Ack()
	}

	start := time.Now()
	err := r.handlers[handlerID].Handle(ctx, item)
	handlerDuration.Record(ctx, time.Since(start).Seconds(), metric.WithAttributes(
		attribute.String("handler", string(handlerID)),
	))

	outcome := pipeline.Ack()
	result := "success"
	switch re, retry := pipeline.AsRetryable(err); {
	case err == nil:
	case retry:
		result = "retry"
		outcome = pipeline.RedeliverAfter(re.After)
		slog.Warn("Handler asked for redelivery",
			slog.String("handler", string(handlerID)),
			slog.String("bucket", item.Bucket),
			slog.String("key", item.Key),
			slog.Int("attempt", item.Attempt),
			slog.Duration("after", re.After),
			slog.Any("error", err))
	default:
		result = "failed"
		if errors.Is(err, pipeline.ErrPermanent) {
			result = "permanent"
		}
		slog.Error("Handler failed",
			slog.String("handler", string(handlerID)),
			slog.String("bucket", item.Bucket),
			slog.String("key", item.Key),
			slog.Int("attempt", item.Attempt),
			slog.Any("error", err))
	}

	eventsDispatched.Add(ctx, 1, metric.WithAttributes(
		attribute.String("handler", string(handlerID)),
		attribute.String("result", result),
	))
	return outcome
}
