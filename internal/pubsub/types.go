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
)

// Service defines the interface for pubsub services
type Service interface {
	Run(ctx context.Context) error
}

// BackendType represents supported pubsub backend types
type BackendType string

const (
	BackendTypeSQS       BackendType = "sqs"
	BackendTypeGCPPubSub BackendType = "gcp"
	BackendTypeAzure     BackendType = "azure"
	BackendTypeHTTP      BackendType = "http"
)

// Backend defines the interface for different pubsub backends
type Backend interface {
	Service
	GetName() string
}

// Config is shared by every inbound backend.
type Config struct {
	MaxConcurrent  int           `mapstructure:"max_concurrent"`
	MessageTimeout time.Duration `mapstructure:"message_timeout"`
	DedupTTL       time.Duration `mapstructure:"dedup_ttl"`

	SQS   SQSConfig   `mapstructure:"sqs"`
	GCP   GCPConfig   `mapstructure:"gcp"`
	Azure AzureConfig `mapstructure:"azure"`
	HTTP  HTTPConfig  `mapstructure:"http"`
}

type SQSConfig struct {
	QueueURL string `mapstructure:"queue_url"`
	Region   string `mapstructure:"region"`
	RoleARN  string `mapstructure:"role_arn"`
	Endpoint string `mapstructure:"endpoint"`
}

type GCPConfig struct {
	ProjectID       string `mapstructure:"project_id"`
	SubscriptionID  string `mapstructure:"subscription_id"`
	CredentialsFile string `mapstructure:"credentials_file"`
}

type AzureConfig struct {
	QueueEndpoint string `mapstructure:"queue_endpoint"`
	QueueName     string `mapstructure:"queue_name"`
}

type HTTPConfig struct {
	Addr         string `mapstructure:"addr"`
	MaxBodyBytes int64  `mapstructure:"max_body_bytes"`
}

func DefaultConfig() Config {
	return Config{
		MaxConcurrent:  10,
		MessageTimeout: 16 * time.Minute,
		DedupTTL:       10 * time.Minute,
		HTTP: HTTPConfig{
			Addr:         ":8080",
			MaxBodyBytes: 1 << 20,
		},
	}
}
