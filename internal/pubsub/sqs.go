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
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"golang.org/x/sync/errgroup"
)

// maxSQSVisibility is the SQS ceiling for ChangeMessageVisibility.
const maxSQSVisibility = 12 * time.Hour

// SQSAPI is the subset of the SQS client used to consume notifications.
type SQSAPI interface {
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
	ChangeMessageVisibility(ctx context.Context, params *sqs.ChangeMessageVisibilityInput, optFns ...func(*sqs.Options)) (*sqs.ChangeMessageVisibilityOutput, error)
}

type SQSService struct {
	client     SQSAPI
	queueURL   string
	dispatcher *Dispatcher
	cfg        Config
	retryWait  time.Duration
}

// Ensure SQSService implements Backend interface
var _ Backend = (*SQSService)(nil)

func NewSQSService(client SQSAPI, queueURL string, dispatcher *Dispatcher, cfg Config) (*SQSService, error) {
	if queueURL == "" {
		return nil, fmt.Errorf("SQS queue URL is required")
	}
	return &SQSService{
		client:     client,
		queueURL:   queueURL,
		dispatcher: dispatcher,
		cfg:        cfg,
		retryWait:  5 * time.Second,
	}, nil
}

func (ps *SQSService) GetName() string {
	return string(BackendTypeSQS)
}

func (ps *SQSService) Run(doneCtx context.Context) error {
	slog.Info("Starting SQS polling loop", slog.String("queueURL", ps.queueURL))

	for {
		select {
		case <-doneCtx.Done():
			slog.Info("SQS polling loop stopped")
			return nil
		default:
		}

		if _, err := ps.poll(doneCtx); err != nil {
			if doneCtx.Err() != nil {
				return nil
			}
			slog.Error("Failed to receive messages from SQS", slog.Any("error", err))
			select {
			case <-doneCtx.Done():
				return nil
			case <-time.After(ps.retryWait):
			}
		}
	}
}

// poll receives one batch and processes it. It returns the number of
// messages received.
func (ps *SQSService) poll(ctx context.Context) (int, error) {
	result, err := ps.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:            aws.String(ps.queueURL),
		MaxNumberOfMessages: 10,
		WaitTimeSeconds:     20,
		VisibilityTimeout:   ps.receiveVisibility(),
		MessageSystemAttributeNames: []types.MessageSystemAttributeName{
			types.MessageSystemAttributeNameApproximateReceiveCount,
		},
	})
	if err != nil {
		return 0, err
	}
	ps.processMessages(ctx, result.Messages)
	return len(result.Messages), nil
}

// receiveVisibility hides a received message for longer than its handler may
// run, so the queue never hands it to another consumer mid-flight.
func (ps *SQSService) receiveVisibility() int32 {
	d := min(ps.cfg.MessageTimeout+time.Minute, maxSQSVisibility)
	return int32(d / time.Second)
}

func (ps *SQSService) processMessages(ctx context.Context, messages []types.Message) {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(ps.cfg.MaxConcurrent, 1))

	for _, msg := range messages {
		g.Go(func() error {
			ps.processMessage(gctx, msg)
			return nil
		})
	}
	_ = g.Wait()
}

func (ps *SQSService) processMessage(ctx context.Context, msg types.Message) {
	if msg.Body == nil {
		slog.Warn("Received SQS message with nil body")
		ps.delete(msg)
		return
	}

	attempt := 1
	if v, ok := msg.Attributes[string(types.MessageSystemAttributeNameApproximateReceiveCount)]; ok {
		if n, err := strconv.Atoi(v); err == nil {
			attempt = n
		}
	}

	msgCtx, cancel := context.WithTimeout(ctx, ps.cfg.MessageTimeout)
	defer cancel()

	outcome := ps.dispatcher.HandleMessage(msgCtx, ps.GetName(), []byte(*msg.Body), attempt)
	if outcome.Redeliver {
		ps.redeliver(msg, outcome.After)
		return
	}
	ps.delete(msg)
}

// delete uses its own context so it completes even if the poll loop is stopping.
func (ps *SQSService) delete(msg types.Message) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := ps.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(ps.queueURL),
		ReceiptHandle: msg.ReceiptHandle,
	})
	if err != nil {
		slog.Error("Failed to delete SQS message",
			slog.Any("error", err),
			slog.String("messageId", aws.ToString(msg.MessageId)))
	}
}

// redeliver leaves the message in the queue and makes it visible again after d.
func (ps *SQSService) redeliver(msg types.Message, d time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	d = min(max(d, 0), maxSQSVisibility)
	_, err := ps.client.ChangeMessageVisibility(ctx, &sqs.ChangeMessageVisibilityInput{
		QueueUrl:          aws.String(ps.queueURL),
		ReceiptHandle:     msg.ReceiptHandle,
		VisibilityTimeout: int32(d / time.Second),
	})
	if err != nil {
		// The queue's own visibility timeout still brings it back.
		slog.Error("Failed to change SQS message visibility",
			slog.Any("error", err),
			slog.String("messageId", aws.ToString(msg.MessageId)))
	}
}
