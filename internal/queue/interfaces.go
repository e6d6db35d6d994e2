/*
 * Copyright 2025 Cong Wang
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package queue

import (
	"context"
	"time"

	"github.com/messagehub-project/messagehub/internal/types"
)

// Handler processes one consumed message event. A nil return acknowledges
// the event; an error hands it back to the transport for redelivery.
type Handler func(ctx context.Context, event *types.MessageQueuedEvent) error

// MessageQueue is the transport between submission and delivery. Publish
// and Consume pair up across processes; Redeliver parks an event for a
// later attempt without blocking a worker.
type MessageQueue interface {
	// Publish enqueues an accepted submission for delivery
	Publish(ctx context.Context, event *types.MessageQueuedEvent) error

	// Redeliver re-enqueues an event after the given delay
	Redeliver(ctx context.Context, event *types.MessageQueuedEvent, delay time.Duration) error

	// Consume registers the handler and starts delivering events to it.
	// Worker concurrency is part of the queue configuration.
	Consume(handler Handler) error

	// Lifecycle operations
	Close() error
	HealthCheck(ctx context.Context) error
}

// maxDeliveryAttempts bounds transport-level redelivery of events whose
// handler keeps failing. The delivery worker tracks its own per-message
// retry budget; this cap only stops infrastructure failure loops.
const maxDeliveryAttempts = 5

// QueueConfig contains configuration for queue backends
type QueueConfig struct {
	Type     string               `json:"type" yaml:"type"` // "memory", "rabbitmq"
	Memory   *MemoryQueueConfig   `json:"memory,omitempty" yaml:"memory,omitempty"`
	RabbitMQ *RabbitMQQueueConfig `json:"rabbitmq,omitempty" yaml:"rabbitmq,omitempty"`
}

// MemoryQueueConfig contains configuration for the in-process queue
type MemoryQueueConfig struct {
	BufferSize int `json:"buffer_size" yaml:"buffer_size"`
	Workers    int `json:"workers" yaml:"workers"`

	// RetryDelay parks events whose handler returned an error
	RetryDelay time.Duration `json:"retry_delay" yaml:"retry_delay"`
}

// RabbitMQQueueConfig contains configuration for the RabbitMQ transport.
// One parked retry queue is declared per RetryDelays tier; nacked
// deliveries dead-letter into the first tier and explicit redeliveries
// pick the closest one.
type RabbitMQQueueConfig struct {
	URL           string          `json:"url" yaml:"url"`
	Exchange      string          `json:"exchange" yaml:"exchange"`
	Queue         string          `json:"queue" yaml:"queue"`
	RoutingKey    string          `json:"routing_key" yaml:"routing_key"`
	PrefetchCount int             `json:"prefetch_count" yaml:"prefetch_count"`
	Workers       int             `json:"workers" yaml:"workers"`
	RetryDelays   []time.Duration `json:"retry_delays" yaml:"retry_delays"`
}
