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
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// SQSAPI is the part of the SQS client the backlog uses.
type SQSAPI interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
	SetQueueAttributes(ctx context.Context, params *sqs.SetQueueAttributesInput, optFns ...func(*sqs.Options)) (*sqs.SetQueueAttributesOutput, error)
}

// SQSQueue is a Queue on an SQS standard queue. Expiry at retention is
// silent in SQS; wrap it in a LedgeredQueue to account for expired jobs.
type SQSQueue struct {
	client   SQSAPI
	queueURL string
	policy   Policy
	waitTime time.Duration
}

var _ Queue = (*SQSQueue)(nil)

func NewSQSQueue(client SQSAPI, queueURL string, policy Policy) *SQSQueue {
	return &SQSQueue{
		client:   client,
		queueURL: queueURL,
		policy:   policy,
		waitTime: 20 * time.Second,
	}
}

// EnsureAttributes applies the policy to the queue itself.
func (q *SQSQueue) EnsureAttributes(ctx context.Context) error {
	_, err := q.client.SetQueueAttributes(ctx, &sqs.SetQueueAttributesInput{
		QueueUrl: aws.String(q.queueURL),
		Attributes: map[string]string{
			string(types.QueueAttributeNameVisibilityTimeout):      seconds(q.policy.VisibilityTimeout),
			string(types.QueueAttributeNameMessageRetentionPeriod): seconds(q.policy.Retention),
			string(types.QueueAttributeNameDelaySeconds):           seconds(q.policy.DeliveryDelay),
		},
	})
	if err != nil {
		return fmt.Errorf("setting backlog queue attributes: %w", err)
	}
	return nil
}

func (q *SQSQueue) Enqueue(ctx context.Context, job Job) error {
	if err := job.Validate(); err != nil {
		return err
	}
	if job.EnqueuedAt.IsZero() {
		job.EnqueuedAt = time.Now().UTC()
	}
	body, err := job.Marshal()
	if err != nil {
		return fmt.Errorf("encoding backlog job: %w", err)
	}

	_, err = q.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:     aws.String(q.queueURL),
		MessageBody:  aws.String(string(body)),
		DelaySeconds: int32(q.policy.DeliveryDelay / time.Second),
		MessageAttributes: map[string]types.MessageAttributeValue{
			"document_id": {DataType: aws.String("String"), StringValue: aws.String(job.DocumentID)},
		},
	})
	if err != nil {
		return fmt.Errorf("sending backlog job %s: %w", job.JobID, err)
	}
	jobsEnqueued.Add(ctx, 1, metric.WithAttributes(attribute.String("queue", "sqs")))
	return nil
}

func (q *SQSQueue) Claim(ctx context.Context) (*Claim, error) {
	result, err := q.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:            aws.String(q.queueURL),
		MaxNumberOfMessages: 1,
		WaitTimeSeconds:     int32(q.waitTime / time.Second),
		VisibilityTimeout:   int32(q.policy.VisibilityTimeout / time.Second),
		MessageSystemAttributeNames: []types.MessageSystemAttributeName{
			types.MessageSystemAttributeNameApproximateReceiveCount,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("receiving backlog job: %w", err)
	}
	if len(result.Messages) == 0 {
		return nil, nil
	}

	msg := result.Messages[0]
	job, err := UnmarshalJob([]byte(aws.ToString(msg.Body)))
	if err != nil {
		// A body we cannot decode will never succeed; drop it.
		slog.Error("Dropping undecodable backlog message",
			slog.String("messageId", aws.ToString(msg.MessageId)),
			slog.Any("error", err))
		if _, derr := q.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
			QueueUrl:      aws.String(q.queueURL),
			ReceiptHandle: msg.ReceiptHandle,
		}); derr != nil {
			slog.Error("Failed to delete undecodable backlog message", slog.Any("error", derr))
		}
		return nil, nil
	}

	receives, _ := strconv.Atoi(msg.Attributes[string(types.MessageSystemAttributeNameApproximateReceiveCount)])
	jobsClaimed.Add(ctx, 1, metric.WithAttributes(attribute.String("queue", "sqs")))
	return &Claim{
		Job:          job,
		Receipt:      aws.ToString(msg.ReceiptHandle),
		ReceiveCount: receives,
		ClaimedAt:    time.Now().UTC(),
	}, nil
}

func (q *SQSQueue) Ack(ctx context.Context, claim *Claim) error {
	_, err := q.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(q.queueURL),
		ReceiptHandle: aws.String(claim.Receipt),
	})
	if err != nil {
		return fmt.Errorf("deleting backlog job %s: %w", claim.Job.JobID, err)
	}
	jobsAcked.Add(ctx, 1, metric.WithAttributes(attribute.String("queue", "sqs")))
	return nil
}

func seconds(d time.Duration) string {
	return strconv.Itoa(int(d / time.Second))
}
