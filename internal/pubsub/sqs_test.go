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
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/cardinalhq/rawetl/internal/pipeline"
)

type mockSQS struct {
	mock.Mock
}

func (m *mockSQS) ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, _ ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error) {
	args := m.Called(ctx, params)
	out, _ := args.Get(0).(*sqs.ReceiveMessageOutput)
	return out, args.Error(1)
}

func (m *mockSQS) DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, _ ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error) {
	args := m.Called(ctx, params)
	return &sqs.DeleteMessageOutput{}, args.Error(0)
}

func (m *mockSQS) ChangeMessageVisibility(ctx context.Context, params *sqs.ChangeMessageVisibilityInput, _ ...func(*sqs.Options)) (*sqs.ChangeMessageVisibilityOutput, error) {
	args := m.Called(ctx, params)
	return &sqs.ChangeMessageVisibilityOutput{}, args.Error(0)
}

func sqsMessage(id, body string, receives string) types.Message {
	return types.Message{
		MessageId:     aws.String(id),
		ReceiptHandle: aws.String("rh-" + id),
		Body:          aws.String(body),
		Attributes: map[string]string{
			string(types.MessageSystemAttributeNameApproximateReceiveCount): receives,
		},
	}
}

func s3Body(bucket, key string) string {
	return `{"Records":[{"eventName":"ObjectCreated:Put","s3":{"bucket":{"name":"` + bucket + `"},"object":{"key":"` + key + `"}}}]}`
}

func TestSQSService_Poll(t *testing.T) {
	ctx := context.Background()
	deliverer := &scriptedDeliverer{outcomes: map[string]pipeline.Outcome{
		"clip.json": pipeline.RedeliverAfter(90 * time.Second),
	}}
	client := &mockSQS{}
	svc, err := NewSQSService(client, "https://sqs.local/q", NewDispatcher(deliverer, nil, nil), DefaultConfig())
	require.NoError(t, err)

	client.On("ReceiveMessage", mock.Anything, mock.MatchedBy(func(in *sqs.ReceiveMessageInput) bool {
		return aws.ToString(in.QueueUrl) == "https://sqs.local/q" && in.WaitTimeSeconds == 20 &&
			in.VisibilityTimeout == int32((DefaultConfig().MessageTimeout+time.Minute)/time.Second)
	})).Return(&sqs.ReceiveMessageOutput{Messages: []types.Message{
		sqsMessage("1", s3Body("raw", "a.pdf"), "1"),
		sqsMessage("2", s3Body("audio", "clip.json"), "4"),
	}}, nil).Once()
	client.On("DeleteMessage", mock.Anything, mock.MatchedBy(func(in *sqs.DeleteMessageInput) bool {
		return aws.ToString(in.ReceiptHandle) == "rh-1"
	})).Return(nil).Once()
	client.On("ChangeMessageVisibility", mock.Anything, mock.MatchedBy(func(in *sqs.ChangeMessageVisibilityInput) bool {
		return aws.ToString(in.ReceiptHandle) == "rh-2" && in.VisibilityTimeout == 90
	})).Return(nil).Once()

	n, err := svc.poll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	client.AssertExpectations(t)

	for _, c := range deliverer.calls {
		if c.Key == "clip.json" {
			assert.Equal(t, 4, c.Attempt, "attempt comes from the receive count")
		}
	}
}

func TestSQSService_ReceiveVisibilityCoversMessageTimeout(t *testing.T) {
	for _, timeout := range []time.Duration{time.Minute, 16 * time.Minute, 24 * time.Hour} {
		cfg := DefaultConfig()
		cfg.MessageTimeout = timeout
		svc, err := NewSQSService(&mockSQS{}, "q", nil, cfg)
		require.NoError(t, err)

		got := time.Duration(svc.receiveVisibility()) * time.Second
		assert.LessOrEqual(t, got, maxSQSVisibility)
		if timeout < maxSQSVisibility {
			assert.Greater(t, got, timeout)
		}
	}
}

func TestSQSService_DuplicateInBatchIsNotDeleted(t *testing.T) {
	deliverer := &blockingDeliverer{started: make(chan struct{}), release: make(chan struct{})}
	client := &mockSQS{}
	svc, err := NewSQSService(client, "q", NewDispatcher(deliverer, NewDeduplicator(time.Minute), nil), DefaultConfig())
	require.NoError(t, err)

	client.On("ReceiveMessage", mock.Anything, mock.Anything).Return(&sqs.ReceiveMessageOutput{Messages: []types.Message{
		sqsMessage("1", s3Body("raw", "a.pdf"), "1"),
		sqsMessage("2", s3Body("raw", "a.pdf"), "1"),
	}}, nil).Once()
	// The copy that finds the event in flight is hidden again and the
	// handler that owns it is only then allowed to finish.
	client.On("ChangeMessageVisibility", mock.Anything, mock.MatchedBy(func(in *sqs.ChangeMessageVisibilityInput) bool {
		return in.VisibilityTimeout == int32(inFlightRedelivery/time.Second)
	})).Run(func(mock.Arguments) { close(deliverer.release) }).Return(nil).Once()
	client.On("DeleteMessage", mock.Anything, mock.Anything).Return(nil).Once()

	n, err := svc.poll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	client.AssertExpectations(t)
	assert.Equal(t, int32(1), deliverer.calls)
}

func TestSQSService_NilBodyDeleted(t *testing.T) {
	client := &mockSQS{}
	svc, err := NewSQSService(client, "q", NewDispatcher(&scriptedDeliverer{}, nil, nil), DefaultConfig())
	require.NoError(t, err)

	client.On("DeleteMessage", mock.Anything, mock.Anything).Return(nil).Once()
	svc.processMessage(context.Background(), types.Message{MessageId: aws.String("x"), ReceiptHandle: aws.String("rh")})
	client.AssertExpectations(t)
}

func TestSQSService_RunStops(t *testing.T) {
	client := &mockSQS{}
	svc, err := NewSQSService(client, "q", NewDispatcher(&scriptedDeliverer{}, nil, nil), DefaultConfig())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	client.On("ReceiveMessage", mock.Anything, mock.Anything).Run(func(mock.Arguments) { cancel() }).
		Return((*sqs.ReceiveMessageOutput)(nil), context.Canceled)

	assert.NoError(t, svc.Run(ctx))
}

func TestNewSQSService_RequiresURL(t *testing.T) {
	_, err := NewSQSService(&mockSQS{}, "", nil, DefaultConfig())
	assert.Error(t, err)
}
