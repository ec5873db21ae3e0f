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
	"encoding/base64"
	"fmt"
	"log/slog"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"
	"golang.org/x/sync/errgroup"
)

// maxAzureVisibility is the Queue Storage ceiling for a visibility timeout.
const maxAzureVisibility = 7 * 24 * time.Hour

// AzureQueueAPI is the subset of *azqueue.QueueClient used to consume notifications.
type AzureQueueAPI interface {
	DequeueMessages(ctx context.Context, o *azqueue.DequeueMessagesOptions) (azqueue.DequeueMessagesResponse, error)
	DeleteMessage(ctx context.Context, messageID string, popReceipt string, o *azqueue.DeleteMessageOptions) (azqueue.DeleteMessageResponse, error)
	UpdateMessage(ctx context.Context, messageID string, popReceipt string, content string, o *azqueue.UpdateMessageOptions) (azqueue.UpdateMessageResponse, error)
}

type AzureQueueService struct {
	queue      AzureQueueAPI
	queueName  string
	dispatcher *Dispatcher
	cfg        Config
	idleWait   time.Duration
}

var _ Backend = (*AzureQueueService)(nil)

func NewAzureQueueService(queue AzureQueueAPI, queueName string, dispatcher *Dispatcher, cfg Config) *AzureQueueService {
	return &AzureQueueService{
		queue:      queue,
		queueName:  queueName,
		dispatcher: dispatcher,
		cfg:        cfg,
		idleWait:   time.Second,
	}
}

func (ps *AzureQueueService) GetName() string {
	return string(BackendTypeAzure)
}

func (ps *AzureQueueService) Run(doneCtx context.Context) error {
	slog.Info("Starting Azure Queue polling loop", slog.String("queue", ps.queueName))

	for {
		select {
		case <-doneCtx.Done():
			slog.Info("Azure Queue polling loop stopped")
			return nil
		default:
		}

		n, err := ps.poll(doneCtx)
		wait := time.Duration(0)
		switch {
		case err != nil:
			if doneCtx.Err() != nil {
				return nil
			}
			slog.Error("Failed to receive messages from Azure Queue", slog.Any("error", err))
			wait = 5 * time.Second
		case n == 0:
			wait = ps.idleWait
		}
		if wait > 0 {
			select {
			case <-doneCtx.Done():
				return nil
			case <-time.After(wait):
			}
		}
	}
}

func (ps *AzureQueueService) poll(doneCtx context.Context) (int, error) {
	ctx, cancel := context.WithTimeout(doneCtx, 30*time.Second)
	numberOfMessages := int32(32)
	visibilityTimeout := int32(ps.cfg.MessageTimeout / time.Second)
	result, err := ps.queue.DequeueMessages(ctx, &azqueue.DequeueMessagesOptions{
		NumberOfMessages:  &numberOfMessages,
		VisibilityTimeout: &visibilityTimeout,
	})
	cancel()
	if err != nil {
		return 0, err
	}

	g, gctx := errgroup.WithContext(doneCtx)
	g.SetLimit(max(ps.cfg.MaxConcurrent, 1))
	for _, message := range result.Messages {
		if message == nil || message.MessageID == nil || message.PopReceipt == nil {
			continue
		}
		g.Go(func() error {
			ps.processMessage(gctx, message)
			return nil
		})
	}
	_ = g.Wait()
	return len(result.Messages), nil
}

func (ps *AzureQueueService) processMessage(ctx context.Context, message *azqueue.DequeuedMessage) {
	id, receipt := *message.MessageID, *message.PopReceipt

	attempt := 1
	if message.DequeueCount != nil {
		attempt = int(*message.DequeueCount)
	}

	if message.MessageText != nil {
		msgCtx, cancel := context.WithTimeout(ctx, ps.cfg.MessageTimeout)
		outcome := ps.dispatcher.HandleMessage(msgCtx, ps.GetName(), decodeIfBase64(*message.MessageText), attempt)
		cancel()

		if outcome.Redeliver {
			ps.redeliver(id, receipt, *message.MessageText, outcome.After)
			return
		}
	}

	dctx, dcancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer dcancel()
	if _, err := ps.queue.DeleteMessage(dctx, id, receipt, nil); err != nil {
		slog.Error("Failed to delete Azure Queue message", slog.Any("error", err))
	}
}

func (ps *AzureQueueService) redeliver(id, receipt, content string, d time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	d = min(max(d, 0), maxAzureVisibility)
	visibility := int32(d / time.Second)
	_, err := ps.queue.UpdateMessage(ctx, id, receipt, content, &azqueue.UpdateMessageOptions{
		VisibilityTimeout: &visibility,
	})
	if err != nil {
		slog.Error("Failed to update Azure Queue message visibility",
			slog.Any("error", fmt.Errorf("message %s: %w", id, err)))
	}
}

// Azure Events are base64 encoded from a few event sources
func decodeIfBase64(s string) []byte {
	// Quick reject: must be multiple of 4
	if len(s)%4 != 0 {
		return []byte(s)
	}

	// Quick reject: only valid base64 chars
	for _, c := range s {
		if !(('A' <= c && c <= 'Z') ||
			('a' <= c && c <= 'z') ||
			('0' <= c && c <= '9') ||
			c == '+' || c == '/' || c == '=') {
			return []byte(s)
		}
	}

	decoded, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return []byte(s)
	}
	return decoded
}
