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

package azureclient

import (
	"context"
	"fmt"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"
	"go.opentelemetry.io/otel/trace"
)

type QueueClient struct {
	QueueClient *azqueue.QueueClient
	QueueName   string
	Tracer      trace.Tracer
}

type queueConfig struct {
	Endpoint  string
	QueueName string
}

type QueueOption func(*queueConfig)

// WithQueueEndpoint sets the queue service endpoint, for example
// https://account.queue.core.windows.net/.
func WithQueueEndpoint(endpoint string) QueueOption {
	return func(c *queueConfig) {
		c.Endpoint = endpoint
	}
}

func WithQueueName(name string) QueueOption {
	return func(c *queueConfig) {
		c.QueueName = name
	}
}

type queueClientKey struct {
	Endpoint  string
	QueueName string
}

func (m *Manager) GetQueue(ctx context.Context, opts ...QueueOption) (*QueueClient, error) {
	qc := queueConfig{}
	for _, o := range opts {
		o(&qc)
	}
	if qc.Endpoint == "" {
		return nil, fmt.Errorf("queue endpoint is required")
	}
	if qc.QueueName == "" {
		return nil, fmt.Errorf("queue name is required")
	}

	key := queueClientKey{Endpoint: qc.Endpoint, QueueName: qc.QueueName}
	m.RLock()
	client, ok := m.queueClients[key]
	m.RUnlock()
	if ok {
		return client, nil
	}

	m.Lock()
	defer m.Unlock()
	if client, ok = m.queueClients[key]; ok {
		return client, nil
	}

	url := strings.TrimSuffix(qc.Endpoint, "/") + "/" + qc.QueueName
	q, err := azqueue.NewQueueClient(url, m.baseCred, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create queue client: %w", err)
	}
	client = &QueueClient{
		QueueClient: q,
		QueueName:   qc.QueueName,
		Tracer:      m.tracer,
	}
	m.queueClients[key] = client
	return client, nil
}
