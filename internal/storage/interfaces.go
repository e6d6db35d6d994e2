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

package storage

import (
	"context"
	"errors"
	"time"

	"github.com/messagehub-project/messagehub/internal/types"
)

// ErrNotFound is returned when a message does not exist or is not visible
// to the requesting tenant. Callers match it with errors.Is.
var ErrNotFound = errors.New("message not found")

// MessageStore defines the interface for message persistence operations
type MessageStore interface {
	// Insert persists a newly accepted message
	Insert(ctx context.Context, message *types.Message) error

	// UpdateStatus applies a status update to a message. Implementations
	// must honor the conditional semantics carried by the update: a Sent
	// transition only lands while the row is still Processing, terminal
	// receipt transitions never overwrite an existing terminal status, and
	// the external message ID is write-once.
	UpdateStatus(ctx context.Context, messageID string, update StatusUpdate) error

	// GetByIDForTenant retrieves a message scoped to the owning tenant.
	// A message belonging to another tenant is indistinguishable from a
	// missing one.
	GetByIDForTenant(ctx context.Context, messageID, tenantKey string) (*types.Message, error)

	// ListForTenant returns a tenant's messages, newest first
	ListForTenant(ctx context.Context, tenantKey string, filter MessageFilter) ([]*types.Message, error)

	// IncrementRetryCount bumps the retry counter and returns the new value
	IncrementRetryCount(ctx context.Context, messageID string) (int, error)

	// PurgeTerminalOlderThan deletes Delivered and Failed rows older than
	// the cutoff, returning the number removed. Used by the history
	// retention sweep.
	PurgeTerminalOlderThan(ctx context.Context, cutoff time.Time) (int64, error)

	// Lifecycle operations
	Close() error
	HealthCheck(ctx context.Context) error

	// Statistics
	GetStats(ctx context.Context) (StorageStats, error)
}

// StatusUpdate describes a partial update to a message row. Nil fields are
// left untouched.
type StatusUpdate struct {
	// Status is the new delivery status, if any
	Status *types.MessageStatus

	// Conditional restricts a Status write to rows that still hold the
	// given status. Used for the Processing -> Sent transition so a
	// delivery receipt that already terminalized the row is not undone.
	Conditional *types.MessageStatus

	// SkipIfTerminal drops the Status write when the row already holds a
	// terminal status. Used for receipt-driven transitions.
	SkipIfTerminal bool

	// ExternalMessageID records the provider's message reference. Once a
	// row carries one it is never replaced.
	ExternalMessageID *string

	// ErrorMessage records the failure reason for Failed transitions
	ErrorMessage *string
}

// MessageFilter defines criteria for listing a tenant's messages
type MessageFilter struct {
	Status *types.MessageStatus
	Limit  int
}

// StorageStats contains storage statistics
type StorageStats struct {
	TotalMessages     int64 `json:"total_messages"`
	QueuedMessages    int64 `json:"queued_messages"`
	SentMessages      int64 `json:"sent_messages"`
	DeliveredMessages int64 `json:"delivered_messages"`
	FailedMessages    int64 `json:"failed_messages"`
}

// StorageConfig contains configuration for storage backends
type StorageConfig struct {
	Type     string                 `json:"type" yaml:"type"` // "memory", "database"
	Memory   *MemoryStorageConfig   `json:"memory,omitempty" yaml:"memory,omitempty"`
	Database *DatabaseStorageConfig `json:"database,omitempty" yaml:"database,omitempty"`
}

// MemoryStorageConfig contains configuration for in-memory storage
type MemoryStorageConfig struct {
	MaxMessages int `json:"max_messages" yaml:"max_messages"` // Maximum number of messages to store
}

// DatabaseStorageConfig contains configuration for database storage
type DatabaseStorageConfig struct {
	Driver           string `json:"driver" yaml:"driver"` // "postgres"
	ConnectionString string `json:"connection_string" yaml:"connection_string"`
	MaxConnections   int    `json:"max_connections" yaml:"max_connections"`
	MaxIdleTime      int    `json:"max_idle_time" yaml:"max_idle_time"` // seconds
}
