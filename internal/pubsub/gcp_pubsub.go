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
	"errors"
	"fmt"
	"log/slog"

	"cloud.google.com/go/pubsub"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/api/option"

	"github.com/cardinalhq/rawetl/internal/pipeline"
)

type GCPPubSubService struct {
	tracer     trace.Tracer
	client     *pubsub.Client
	sub        *pubsub.Subscription
	dispatcher *Dispatcher
	cfg        Config
}

// Ensure GCPPubSubService implements Backend interface
var _ Backend = (*GCPPubSubService)(nil)

func NewGCPPubSubService(ctx context.Context, dispatcher *Dispatcher, cfg Config) (*GCPPubSubService, error) {
	if cfg.GCP.ProjectID == "" {
		return nil, fmt.Errorf("GCP project id is required")
	}
	if cfg.GCP.SubscriptionID == "" {
		return nil, fmt.Errorf("GCP subscription id is required")
	}

	// Only set credentials if explicitly provided (ADC will handle GCE/Cloud Run)
	var opts []option.ClientOption
	if cfg.GCP.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.GCP.CredentialsFile))
	}
	client, err := pubsub.NewClient(ctx, cfg.GCP.ProjectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create pubsub client: %w", err)
	}

	sub := client.Subscription(cfg.GCP.SubscriptionID)
	sub.ReceiveSettings.MaxOutstandingMessages = max(cfg.MaxConcurrent, 1)

	return &GCPPubSubService{
		tracer:     otel.Tracer("github.com/cardinalhq/rawetl/internal/pubsub/gcp-pubsub"),
		client:     client,
		sub:        sub,
		dispatcher: dispatcher,
		cfg:        cfg,
	}, nil
}

func (ps *GCPPubSubService) GetName() string {
	return string(BackendTypeGCPPubSub)
}

func (ps *GCPPubSubService) Run(doneCtx context.Context) error {
	slog.Info("Starting GCP Pub/Sub service for Cloud Storage events")

	defer func() {
		if err := ps.client.Close(); err != nil {
			slog.Error("Failed to close GCP Pub/Sub client", slog.Any("error", err))
		}
	}()

	err := ps.sub.Receive(doneCtx, ps.messageHandler)
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("GCP Pub/Sub receive error: %w", err)
	}
	return nil
}

func (ps *GCPPubSubService) messageHandler(ctx context.Context, msg *pubsub.Message) {
	ctx, span := ps.tracer.Start(ctx, "gcp_pubsub.message_handler",
		trace.WithAttributes(
			attribute.String("message_id", msg.ID),
			attribute.String("publish_time", msg.PublishTime.String()),
		))
	defer span.End()

	attempt := 1
	if msg.DeliveryAttempt != nil {
		attempt = *msg.DeliveryAttempt
	}

	// Subscription retry policy decides the delay; Pub/Sub has no per-message
	// redelivery time.
	if ps.handle(ctx, msg.Data, msg.Attributes, attempt).Redeliver {
		span.SetAttributes(attribute.String("status", "nack"))
		msg.Nack()
		return
	}
	msg.Ack()
	span.SetAttributes(attribute.String("status", "success"))
}

func (ps *GCPPubSubService) handle(ctx context.Context, data []byte, attrs map[string]string, attempt int) pipeline.Outcome {
	ctx, cancel := context.WithTimeout(ctx, ps.cfg.MessageTimeout)
	defer cancel()
	return handleGCSNotification(ctx, ps.dispatcher, ps.GetName(), data, attrs, attempt)
}

// handleGCSNotification parses a Cloud Storage notification. The event
// type lives in the eventType attribute.
func handleGCSNotification(ctx context.Context, d *Dispatcher, source string, data []byte, attrs map[string]string, attempt int) pipeline.Outcome {
	parser := &GCPStorageEventParser{EventType: attrs["eventType"]}
	events, err := parser.Parse(data)
	if err != nil {
		slog.Error("Failed to handle Cloud Storage event", slog.Any("error", err))
		itemsSkipped.Add(ctx, 1)
		return pipeline.Ack()
	}
	return d.HandleEvents(ctx, source, events, attempt)
}
