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
	"encoding/json"
	"time"

	"github.com/messagehub-project/messagehub/internal/types"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// MessageRecord is the database row for a message. The composite indexes
// back the two hot queries: tenant history (newest first) and the receipt
// retention sweep by status.
type MessageRecord struct {
	MessageID         string  `gorm:"type:uuid;primaryKey" json:"message_id"`
	SubscriptionKey   string  `gorm:"size:128;not null;index:idx_messages_tenant_created,priority:1" json:"subscription_key"`
	Recipient         string  `gorm:"size:100;not null" json:"recipient"`
	Content           string  `gorm:"type:text;not null" json:"content"`
	ChannelType       string  `gorm:"size:10;not null" json:"channel_type"`
	Status            string  `gorm:"size:20;not null;index:idx_messages_status_created,priority:1" json:"status"`
	ExternalMessageID *string `gorm:"size:255;index" json:"external_message_id,omitempty"`
	ErrorMessage      *string `gorm:"type:text" json:"error_message,omitempty"`
	RetryCount        int     `gorm:"not null" json:"retry_count"`

	// ProviderResponse keeps the raw provider acknowledgment for auditing
	ProviderResponse datatypes.JSON `gorm:"type:jsonb" json:"provider_response,omitempty"`

	CreatedAt time.Time `gorm:"type:timestamptz;not null;index:idx_messages_tenant_created,priority:2,sort:desc;index:idx_messages_status_created,priority:2" json:"created_at"`
	UpdatedAt time.Time `gorm:"type:timestamptz;not null" json:"updated_at"`
}

// BeforeCreate hook before creation
func (r *MessageRecord) BeforeCreate(tx *gorm.DB) error {
	// Ensure timestamps are set correctly
	now := time.Now().UTC()
	if r.CreatedAt.IsZero() {
		r.CreatedAt = now
	}
	if r.UpdatedAt.IsZero() {
		r.UpdatedAt = r.CreatedAt
	}
	return nil
}

// SetProviderResponse stores the raw provider acknowledgment body
func (r *MessageRecord) SetProviderResponse(body map[string]interface{}) error {
	if body == nil {
		r.ProviderResponse = nil
		return nil
	}
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}
	r.ProviderResponse = datatypes.JSON(data)
	return nil
}

// GetProviderResponse returns the stored provider acknowledgment body
func (r *MessageRecord) GetProviderResponse() (map[string]interface{}, error) {
	if len(r.ProviderResponse) == 0 {
		return nil, nil
	}
	var body map[string]interface{}
	err := json.Unmarshal(r.ProviderResponse, &body)
	return body, err
}

// TableName specify table name
func (MessageRecord) TableName() string {
	return "messages"
}

// recordFromMessage converts a domain message to its database row
func recordFromMessage(m *types.Message) *MessageRecord {
	record := &MessageRecord{
		MessageID:       m.MessageID,
		SubscriptionKey: m.SubscriptionKey,
		Recipient:       m.Recipient,
		Content:         m.Content,
		ChannelType:     string(m.ChannelType),
		Status:          string(m.Status),
		RetryCount:      m.RetryCount,
		CreatedAt:       m.CreatedAt,
		UpdatedAt:       m.UpdatedAt,
	}
	if m.ExternalMessageID != "" {
		record.ExternalMessageID = &m.ExternalMessageID
	}
	if m.ErrorMessage != "" {
		record.ErrorMessage = &m.ErrorMessage
	}
	return record
}

// messageFromRecord converts a database row back to a domain message
func messageFromRecord(r *MessageRecord) *types.Message {
	message := &types.Message{
		MessageID:       r.MessageID,
		SubscriptionKey: r.SubscriptionKey,
		Recipient:       r.Recipient,
		Content:         r.Content,
		ChannelType:     types.ChannelType(r.ChannelType),
		Status:          types.MessageStatus(r.Status),
		RetryCount:      r.RetryCount,
		CreatedAt:       r.CreatedAt,
		UpdatedAt:       r.UpdatedAt,
	}
	if r.ExternalMessageID != nil {
		message.ExternalMessageID = *r.ExternalMessageID
	}
	if r.ErrorMessage != nil {
		message.ErrorMessage = *r.ErrorMessage
	}
	return message
}
