/*
 * Copyright 2025 Sen Wang
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
	"fmt"
	"time"

	"github.com/messagehub-project/messagehub/internal/types"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

type DatabaseStorage struct {
	config DatabaseStorageConfig
	db     *gorm.DB
}

// NewDatabaseStorage creates a new database storage instance. If dbOverride is non-nil, it is used (for testing).
func NewDatabaseStorage(config DatabaseStorageConfig, dbOverride ...*gorm.DB) (*DatabaseStorage, error) {
	var db *gorm.DB
	var err error
	if len(dbOverride) > 0 && dbOverride[0] != nil {
		db = dbOverride[0]
	} else {
		db, err = gorm.Open(
			postgres.New(postgres.Config{
				DriverName: config.Driver,
				DSN:        config.ConnectionString,
			}),
			&gorm.Config{},
		)
		if err != nil {
			return nil, err
		}

		// Set connection pool settings
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		if config.MaxConnections > 0 {
			sqlDB.SetMaxOpenConns(config.MaxConnections)
		}
		if config.MaxIdleTime > 0 {
			sqlDB.SetConnMaxIdleTime(time.Duration(config.MaxIdleTime) * time.Second)
		}
	}
	return &DatabaseStorage{
		config: config,
		db:     db,
	}, nil
}

// Insert persists a newly accepted message
func (ds *DatabaseStorage) Insert(ctx context.Context, message *types.Message) error {
	if message == nil {
		return fmt.Errorf("message cannot be nil")
	}
	if message.MessageID == "" {
		return fmt.Errorf("message ID cannot be empty")
	}

	record := recordFromMessage(message)
	if err := ds.db.WithContext(ctx).Create(record).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return fmt.Errorf("message already exists: %s", message.MessageID)
		}
		return fmt.Errorf("failed to create message in database: %w", err)
	}

	return nil
}

// UpdateStatus applies a status update to a message row. Conditional and
// SkipIfTerminal guards are expressed in the WHERE clause so concurrent
// writers (worker and receipt correlator) cannot interleave badly. A guard
// that filters the row out is a silent no-op, not an error.
func (ds *DatabaseStorage) UpdateStatus(ctx context.Context, messageID string, update StatusUpdate) error {
	if messageID == "" {
		return fmt.Errorf("message ID cannot be empty")
	}

	updates := map[string]interface{}{
		"updated_at": time.Now().UTC(),
	}
	if update.Status != nil {
		updates["status"] = string(*update.Status)
	}
	if update.ErrorMessage != nil {
		updates["error_message"] = *update.ErrorMessage
	}
	if update.ExternalMessageID != nil {
		// Write-once: the first provider reference wins
		updates["external_message_id"] = gorm.Expr("COALESCE(external_message_id, ?)", *update.ExternalMessageID)
	}

	query := ds.db.WithContext(ctx).Model(&MessageRecord{}).
		Where("message_id = ?", messageID)
	guarded := false
	if update.Conditional != nil {
		query = query.Where("status = ?", string(*update.Conditional))
		guarded = true
	}
	if update.SkipIfTerminal {
		query = query.Where("status NOT IN ?", []string{string(types.StatusDelivered), string(types.StatusFailed)})
		guarded = true
	}

	result := query.Updates(updates)
	if result.Error != nil {
		return fmt.Errorf("failed to update message status: %w", result.Error)
	}

	if result.RowsAffected == 0 {
		if guarded {
			// Distinguish a guard miss from a missing row
			var count int64
			if err := ds.db.WithContext(ctx).Model(&MessageRecord{}).
				Where("message_id = ?", messageID).
				Count(&count).Error; err != nil {
				return fmt.Errorf("failed to check message existence: %w", err)
			}
			if count > 0 {
				return nil
			}
		}
		return fmt.Errorf("%w: %s", ErrNotFound, messageID)
	}

	return nil
}

// GetByIDForTenant retrieves a message scoped to the owning tenant. A
// message owned by another tenant reports not found.
func (ds *DatabaseStorage) GetByIDForTenant(ctx context.Context, messageID, tenantKey string) (*types.Message, error) {
	if messageID == "" {
		return nil, fmt.Errorf("message ID cannot be empty")
	}
	if tenantKey == "" {
		return nil, fmt.Errorf("tenant key cannot be empty")
	}

	var record MessageRecord
	if err := ds.db.WithContext(ctx).
		Where("message_id = ? AND subscription_key = ?", messageID, tenantKey).
		First(&record).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, messageID)
		}
		return nil, fmt.Errorf("failed to get message: %w", err)
	}

	return messageFromRecord(&record), nil
}

// ListForTenant returns a tenant's messages, newest first
func (ds *DatabaseStorage) ListForTenant(ctx context.Context, tenantKey string, filter MessageFilter) ([]*types.Message, error) {
	if tenantKey == "" {
		return nil, fmt.Errorf("tenant key cannot be empty")
	}

	query := ds.db.WithContext(ctx).Model(&MessageRecord{}).
		Where("subscription_key = ?", tenantKey)

	if filter.Status != nil {
		query = query.Where("status = ?", string(*filter.Status))
	}

	query = query.Order("created_at DESC")

	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}

	var records []MessageRecord
	if err := query.Find(&records).Error; err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}

	messages := make([]*types.Message, 0, len(records))
	for i := range records {
		messages = append(messages, messageFromRecord(&records[i]))
	}

	return messages, nil
}

// IncrementRetryCount bumps the retry counter and returns the new value
func (ds *DatabaseStorage) IncrementRetryCount(ctx context.Context, messageID string) (int, error) {
	if messageID == "" {
		return 0, fmt.Errorf("message ID cannot be empty")
	}

	var retryCount int
	result := ds.db.WithContext(ctx).Raw(
		`UPDATE messages SET retry_count = retry_count + 1, updated_at = ? WHERE message_id = ? RETURNING retry_count`,
		time.Now().UTC(), messageID,
	).Scan(&retryCount)

	if result.Error != nil {
		return 0, fmt.Errorf("failed to increment retry count: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return 0, fmt.Errorf("%w: %s", ErrNotFound, messageID)
	}

	return retryCount, nil
}

// Close closes the database connection
func (ds *DatabaseStorage) Close() error {
	if ds.db == nil {
		return fmt.Errorf("database instance is nil")
	}
	db, err := ds.db.DB()
	if err != nil {
		return fmt.Errorf("failed to get database instance: %w", err)
	}
	return db.Close()
}

// HealthCheck performs a health check on the database connection
func (ds *DatabaseStorage) HealthCheck(ctx context.Context) error {
	if ds.db == nil {
		return fmt.Errorf("database instance is nil")
	}
	db, err := ds.db.DB()
	if err != nil {
		return fmt.Errorf("failed to get database instance: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("database health check failed: %w", err)
	}

	return nil
}

// GetStats returns storage statistics
func (ds *DatabaseStorage) GetStats(ctx context.Context) (StorageStats, error) {
	stats := StorageStats{}

	if err := ds.db.WithContext(ctx).Model(&MessageRecord{}).Count(&stats.TotalMessages).Error; err != nil {
		return stats, fmt.Errorf("failed to count total messages: %w", err)
	}

	var statusCounts []struct {
		Status string
		Count  int64
	}
	if err := ds.db.WithContext(ctx).Model(&MessageRecord{}).
		Select("status, COUNT(*) as count").
		Group("status").
		Find(&statusCounts).Error; err != nil {
		return stats, fmt.Errorf("failed to count messages by status: %w", err)
	}

	for _, sc := range statusCounts {
		switch types.MessageStatus(sc.Status) {
		case types.StatusQueued, types.StatusProcessing:
			stats.QueuedMessages += sc.Count
		case types.StatusSent:
			stats.SentMessages += sc.Count
		case types.StatusDelivered:
			stats.DeliveredMessages += sc.Count
		case types.StatusFailed:
			stats.FailedMessages += sc.Count
		}
	}

	return stats, nil
}
