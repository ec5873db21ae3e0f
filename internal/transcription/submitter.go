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
	"crypto/tls"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/segmentio/kafka-go/sasl"
	"github.com/segmentio/kafka-go/sasl/plain"
	"github.com/segmentio/kafka-go/sasl/scram"

	"github.com/cardinalhq/rawetl/internal/videoprocessing"
)

// KafkaConfig configures the transcription request producer.
type KafkaConfig struct {
	Brokers       []string      `mapstructure:"brokers"`
	Topic         string        `mapstructure:"topic"`
	BatchTimeout  time.Duration `mapstructure:"batch_timeout"`
	SASLEnabled   bool          `mapstructure:"sasl_enabled"`
	SASLMechanism string        `mapstructure:"sasl_mechanism"` // "SCRAM-SHA-256", "SCRAM-SHA-512" or "PLAIN"
	SASLUsername  string        `mapstructure:"sasl_username"`
	SASLPassword  string        `mapstructure:"sasl_password"`
	TLSEnabled    bool          `mapstructure:"tls_enabled"`
	TLSSkipVerify bool          `mapstructure:"tls_skip_verify"`
}

func DefaultKafkaConfig() KafkaConfig {
	return KafkaConfig{
		Topic:         "rawetl.transcription.requests",
		BatchTimeout:  10 * time.Millisecond,
		SASLMechanism: "SCRAM-SHA-256",
	}
}

// MessageWriter is the subset of *kafka.Writer the submitter needs.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSubmitter publishes transcription requests for an external engine
// to pick up. Messages are keyed by video id.
type KafkaSubmitter struct {
	writer MessageWriter
}

var _ videoprocessing.Submitter = (*KafkaSubmitter)(nil)

func NewKafkaSubmitter(w MessageWriter) *KafkaSubmitter {
	return &KafkaSubmitter{writer: w}
}

// NewKafkaWriter builds a writer from configuration.
func NewKafkaWriter(cfg KafkaConfig) (*kafka.Writer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafka: no brokers configured")
	}
	if cfg.Topic == "" {
		return nil, fmt.Errorf("kafka: no topic configured")
	}

	transport := &kafka.Transport{}
	if cfg.SASLEnabled {
		mechanism, err := saslMechanism(cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to create SASL mechanism: %w", err)
		}
		transport.SASL = mechanism
	}
	if cfg.TLSEnabled {
		transport.TLS = &tls.Config{
			InsecureSkipVerify: cfg.TLSSkipVerify,
		}
	}

	return &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		BatchSize:    1,
		BatchTimeout: cfg.BatchTimeout,
		RequiredAcks: kafka.RequireAll,
		Transport:    transport,
	}, nil
}

func saslMechanism(cfg KafkaConfig) (sasl.Mechanism, error) {
	switch strings.ToUpper(cfg.SASLMechanism) {
	case "SCRAM-SHA-256":
		return scram.Mechanism(scram.SHA256, cfg.SASLUsername, cfg.SASLPassword)
	case "SCRAM-SHA-512":
		return scram.Mechanism(scram.SHA512, cfg.SASLUsername, cfg.SASLPassword)
	case "PLAIN":
		return plain.Mechanism{
			Username: cfg.SASLUsername,
			Password: cfg.SASLPassword,
		}, nil
	default:
		return nil, fmt.Errorf("unsupported SASL mechanism: %s", cfg.SASLMechanism)
	}
}

func (k *KafkaSubmitter) Submit(ctx context.Context, req videoprocessing.TranscriptionRequest) error {
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("encoding transcription request: %w", err)
	}
	msg := kafka.Message{
		Key:   []byte(req.VideoID),
		Value: body,
		Headers: []kafka.Header{
			{Key: "content-type", Value: []byte("application/json")},
		},
	}
	if err := k.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publishing transcription request for %s: %w", req.VideoID, err)
	}
	return nil
}

func (k *KafkaSubmitter) Close() error {
	return k.writer.Close()
}

// LogSubmitter only logs requests. It is used when transcripts are
// produced out of band, and by the local runner.
type LogSubmitter struct{}

var _ videoprocessing.Submitter = LogSubmitter{}

func (LogSubmitter) Submit(_ context.Context, req videoprocessing.TranscriptionRequest) error {
	slog.Info("Transcription requested",
		slog.String("videoID", req.VideoID),
		slog.String("audio", req.AudioBucket+"/"+req.AudioKey),
		slog.String("output", req.OutputBucket+"/"+req.OutputKey))
	return nil
}
