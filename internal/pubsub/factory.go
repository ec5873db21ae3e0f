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

	"github.com/cardinalhq/rawetl/internal/awsclient"
	"github.com/cardinalhq/rawetl/internal/azureclient"
)

// NewBackend creates a new Backend implementation based on the specified type
func NewBackend(ctx context.Context, backendType BackendType, dispatcher *Dispatcher, cfg Config) (Backend, error) {
	switch backendType {
	case BackendTypeSQS:
		awsMgr, err := awsclient.NewManager(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to create AWS manager: %w", err)
		}
		opts := []awsclient.SQSOption{
			awsclient.WithSQSRole(cfg.SQS.RoleARN),
			awsclient.WithSQSRegion(cfg.SQS.Region),
		}
		if cfg.SQS.Endpoint != "" {
			opts = append(opts, awsclient.WithSQSEndpoint(cfg.SQS.Endpoint))
		}
		sqsClient, err := awsMgr.GetSQS(ctx, opts...)
		if err != nil {
			return nil, fmt.Errorf("failed to create SQS client: %w", err)
		}
		return NewSQSService(sqsClient.Client, cfg.SQS.QueueURL, dispatcher, cfg)
	case BackendTypeGCPPubSub:
		return NewGCPPubSubService(ctx, dispatcher, cfg)
	case BackendTypeAzure:
		azureMgr, err := azureclient.NewManager(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to create Azure manager: %w", err)
		}
		queueClient, err := azureMgr.GetQueue(ctx,
			azureclient.WithQueueEndpoint(cfg.Azure.QueueEndpoint),
			azureclient.WithQueueName(cfg.Azure.QueueName),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create Azure Queue client: %w", err)
		}
		return NewAzureQueueService(queueClient.QueueClient, cfg.Azure.QueueName, dispatcher, cfg), nil
	case BackendTypeHTTP:
		return NewHTTPService(dispatcher, cfg), nil
	default:
		return nil, fmt.Errorf("unsupported backend type: %s", backendType)
	}
}
