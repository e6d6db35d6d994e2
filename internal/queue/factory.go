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
	"fmt"
	"strings"
	"time"

	"github.com/messagehub-project/messagehub/internal/logging"
)

// NewQueue creates a message queue based on the provided configuration
func NewQueue(config QueueConfig, logger *logging.Logger) (MessageQueue, error) {
	switch strings.ToLower(config.Type) {
	case "memory", "":
		memConfig := MemoryQueueConfig{}
		if config.Memory != nil {
			memConfig = *config.Memory
		}
		return NewMemoryQueue(memConfig, logger), nil

	case "rabbitmq":
		if config.RabbitMQ == nil {
			return nil, fmt.Errorf("rabbitmq queue requires configuration")
		}
		return NewRabbitMQQueue(*config.RabbitMQ, logger)

	default:
		return nil, fmt.Errorf("unsupported queue type: %s", config.Type)
	}
}

// DefaultMemoryQueueConfig returns a sensible in-process queue configuration
func DefaultMemoryQueueConfig() *MemoryQueueConfig {
	return &MemoryQueueConfig{
		BufferSize: 1024,
		Workers:    4,
		RetryDelay: 30 * time.Second,
	}
}

// DefaultQueueConfig returns the default queue configuration (in-process)
func DefaultQueueConfig() QueueConfig {
	return QueueConfig{
		Type:   "memory",
		Memory: DefaultMemoryQueueConfig(),
	}
}
