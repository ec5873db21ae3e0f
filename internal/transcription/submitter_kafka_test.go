//go:build kafkatest

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

package transcription

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/orlangure/gnomock"
	kafkapreset "github.com/orlangure/gnomock/preset/kafka"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cardinalhq/rawetl/internal/videoprocessing"
)

var kafkaBroker string

func TestMain(m *testing.M) {
	container, err := gnomock.Start(kafkapreset.Preset())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to start Kafka container: %v\n", err)
		os.Exit(1)
	}
	kafkaBroker = container.Address(kafkapreset.BrokerPort)

	if !waitForKafkaReady(kafkaBroker, 30*time.Second) {
		fmt.Fprintf(os.Stderr, "Kafka container did not become ready within timeout\n")
		_ = gnomock.Stop(container)
		os.Exit(1)
	}

	code := m.Run()
	if err := gnomock.Stop(container); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to stop Kafka container: %v\n", err)
	}
	os.Exit(code)
}

func waitForKafkaReady(broker string, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		conn, err := kafka.Dial("tcp", broker)
		if err == nil {
			_, err = conn.ApiVersions()
			conn.Close()
			if err == nil {
				return true
			}
		}
		time.Sleep(100 * time.Millisecond)
	}
	return false
}

func createTopic(t *testing.T, topic string) {
	t.Helper()
	conn, err := kafka.Dial("tcp", kafkaBroker)
	require.NoError(t, err)
	defer conn.Close()

	err = conn.CreateTopics(kafka.TopicConfig{Topic: topic, NumPartitions: 1, ReplicationFactor: 1})
	if err != nil && !strings.Contains(err.Error(), "Topic already exists") {
		require.NoError(t, err)
	}
}

func TestKafkaSubmitter_PublishesToBroker(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	topic := fmt.Sprintf("transcription-requests-%d", time.Now().UnixNano())
	createTopic(t, topic)

	cfg := DefaultKafkaConfig()
	cfg.Brokers = []string{kafkaBroker}
	cfg.Topic = topic
	w, err := NewKafkaWriter(cfg)
	require.NoError(t, err)
	w.AllowAutoTopicCreation = true

	submitter := NewKafkaSubmitter(w)
	req := videoprocessing.TranscriptionRequest{
		VideoID:      "clip",
		AudioBucket:  "audio",
		AudioKey:     "clip.wav",
		OutputBucket: "audio",
		OutputKey:    "clip.json",
		SubmittedAt:  time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC),
	}
	require.NoError(t, submitter.Submit(ctx, req))
	require.NoError(t, submitter.Close())

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:   []string{kafkaBroker},
		Topic:     topic,
		Partition: 0,
		MinBytes:  1,
		MaxBytes:  10e6,
		MaxWait:   100 * time.Millisecond,
	})
	defer reader.Close()
	require.NoError(t, reader.SetOffset(kafka.FirstOffset))

	msg, err := reader.ReadMessage(ctx)
	require.NoError(t, err)
	assert.Equal(t, "clip", string(msg.Key))
	require.Len(t, msg.Headers, 1)
	assert.Equal(t, "application/json", string(msg.Headers[0].Value))

	var got videoprocessing.TranscriptionRequest
	require.NoError(t, json.Unmarshal(msg.Value, &got))
	assert.Equal(t, req, got)
}
