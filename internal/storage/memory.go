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
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/messagehub-project/messagehub/internal/types"
)

// MemoryStorage implements MessageStore using an in-memory map. Messages
// are copied on the way in and out so callers never share row state with
// the store.
type MemoryStorage struct {
	config    MemoryStorageConfig
	messages  map[string]*types.Message
	mux       sync.RWMutex
	createdAt time.Time
}

// NewMemoryStorage creates a new in-memory storage instance
func NewMemoryStorage(config MemoryStorageConfig) *MemoryStorage {
	return &MemoryStorage{
		config:    config,
		messages:  make(map[string]*types.Message),
		createdAt: time.Now().UTC(),
	}
}

// Insert persists a newly accepted message
func (ms *MemoryStorage) Insert(ctx context.Context, message *types.Message) error {
	if message == nil {
		return fmt.Errorf("message cannot be nil")
	}
	if message.MessageID == "" {
		return fmt.Errorf("message ID cannot be empty")
	}

	ms.mux.Lock()
	defer ms.mux.Unlock()

	if _, exists := ms.messages[message.MessageID]; exists {
		return fmt.Errorf("message already exists: %s", message.MessageID)
	}

	// Check capacity limits if configured
	if ms.config.MaxMessages > 0 && len(ms.messages) >= ms.config.MaxMessages {
		return fmt.Errorf("storage capacity exceeded: max %d messages", ms.config.MaxMessages)
	}

	stored := *message
	ms.messages[message.MessageID] = &stored
	return nil
}

// UpdateStatus applies a status update under the store lock, honoring the
// same guard semantics as the database backend
func (ms *MemoryStorage) UpdateStatus(ctx context.Context, messageID string, update StatusUpdate) error {
	if messageID == "" {
		return fmt.Errorf("message ID cannot be empty")
	}

	ms.mux.Lock()
	defer ms.mux.Unlock()

	message, exists := ms.messages[messageID]
	if !exists {
		return fmt.Errorf("%w: %s", ErrNotFound, messageID)
	}

	if update.Conditional != nil && message.Status != *update.Conditional {
		return nil
	}
	if update.SkipIfTerminal && message.Status.IsTerminal() {
		return nil
	}

	if update.Status != nil {
		message.Status = *update.Status
	}
	if update.ErrorMessage != nil {
		message.ErrorMessage = *update.ErrorMessage
	}
	if update.ExternalMessageID != nil && message.ExternalMessageID == "" {
		message.ExternalMessageID = *update.ExternalMessageID
	}
	message.UpdatedAt = time.Now().UTC()

	return nil
}

// GetByIDForTenant retrieves a message scoped to the owning tenant
func (ms *MemoryStorage) GetByIDForTenant(ctx context.Context, messageID, tenantKey string) (*types.Message, error) {
	if messageID == "" {
		return nil, fmt.Errorf("message ID cannot be empty")
	}
	if tenantKey == "" {
		return nil, fmt.Errorf("tenant key cannot be empty")
	}

	ms.mux.RLock()
	defer ms.mux.RUnlock()

	message, exists := ms.messages[messageID]
	if !exists || message.SubscriptionKey != tenantKey {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, messageID)
	}

	copied := *message
	return &copied, nil
}

// ListForTenant returns a tenant's messages, newest first
func (ms *MemoryStorage) ListForTenant(ctx context.Context, tenantKey string, filter MessageFilter) ([]*types.Message, error) {
	if tenantKey == "" {
		return nil, fmt.Errorf("tenant key cannot be empty")
	}

	ms.mux.RLock()
	defer ms.mux.RUnlock()

	var results []*types.Message
	for _, message := range ms.messages {
		if message.SubscriptionKey != tenantKey {
			continue
		}
		if filter.Status != nil && message.Status != *filter.Status {
			continue
		}
		copied := *message
		results = append(results, &copied)
	}

	sort.Slice(results, func(i, j int) bool {
		return results[i].CreatedAt.After(results[j].CreatedAt)
	})

	if filter.Limit > 0 && len(results) > filter.Limit {
		results = results[:filter.Limit]
	}

	return results, nil
}

// IncrementRetryCount bumps the retry counter and returns the new value
func (ms *MemoryStorage) IncrementRetryCount(ctx context.Context, messageID string) (int, error) {
	if messageID == "" {
		return 0, fmt.Errorf("message ID cannot be empty")
	}

	ms.mux.Lock()
	defer ms.mux.Unlock()

	message, exists := ms.messages[messageID]
	if !exists {
		return 0, fmt.Errorf("%w: %s", ErrNotFound, messageID)
	}

	message.RetryCount++
	message.UpdatedAt = time.Now().UTC()
	return message.RetryCount, nil
}

// PurgeTerminalOlderThan deletes Delivered and Failed messages created
// before the cutoff, returning the number removed
func (ms *MemoryStorage) PurgeTerminalOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	ms.mux.Lock()
	defer ms.mux.Unlock()

	var removed int64
	for id, message := range ms.messages {
		if message.Status.IsTerminal() && message.CreatedAt.Before(cutoff) {
			delete(ms.messages, id)
			removed++
		}
	}

	return removed, nil
}

// Close closes the storage (no-op for memory storage)
func (ms *MemoryStorage) Close() error {
	// No resources to clean up for memory storage
	return nil
}

// HealthCheck performs a health check on the storage
func (ms *MemoryStorage) HealthCheck(ctx context.Context) error {
	// Memory storage is always healthy if the struct exists
	return nil
}

// GetStats returns storage statistics
func (ms *MemoryStorage) GetStats(ctx context.Context) (StorageStats, error) {
	ms.mux.RLock()
	defer ms.mux.RUnlock()

	stats := StorageStats{
		TotalMessages: int64(len(ms.messages)),
	}

	for _, message := range ms.messages {
		switch message.Status {
		case types.StatusQueued, types.StatusProcessing:
			stats.QueuedMessages++
		case types.StatusSent:
			stats.SentMessages++
		case types.StatusDelivered:
			stats.DeliveredMessages++
		case types.StatusFailed:
			stats.FailedMessages++
		}
	}

	return stats, nil
}
