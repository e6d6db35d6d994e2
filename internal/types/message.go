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

package types

import (
	"fmt"
	"strings"
	"time"
)

// MessageStatus represents the delivery state of a message.
type MessageStatus string

const (
	StatusQueued     MessageStatus = "Queued"
	StatusProcessing MessageStatus = "Processing"
	StatusSent       MessageStatus = "Sent"
	StatusDelivered  MessageStatus = "Delivered"
	StatusFailed     MessageStatus = "Failed"
)

// ParseMessageStatus parses a status string, case-insensitively.
func ParseMessageStatus(s string) (MessageStatus, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "queued":
		return StatusQueued, nil
	case "processing":
		return StatusProcessing, nil
	case "sent":
		return StatusSent, nil
	case "delivered":
		return StatusDelivered, nil
	case "failed":
		return StatusFailed, nil
	default:
		return "", fmt.Errorf("unknown message status: %s", s)
	}
}

// IsTerminal reports whether the status admits no further transitions.
func (s MessageStatus) IsTerminal() bool {
	return s == StatusDelivered || s == StatusFailed
}

// CanTransitionTo reports whether moving from s to next is a valid edge of
// the status graph: Queued -> Processing -> {Sent, Failed},
// Sent -> {Delivered, Failed}.
func (s MessageStatus) CanTransitionTo(next MessageStatus) bool {
	switch s {
	case StatusQueued:
		return next == StatusProcessing
	case StatusProcessing:
		return next == StatusSent || next == StatusFailed
	case StatusSent:
		return next == StatusDelivered || next == StatusFailed
	default:
		return false
	}
}

// ChannelType identifies the outbound delivery mechanism for a message.
type ChannelType string

const (
	ChannelHTTP ChannelType = "HTTP"
	ChannelSMPP ChannelType = "SMPP"
)

// ParseChannelType normalizes a channel type string, case-insensitively.
func ParseChannelType(s string) (ChannelType, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "HTTP":
		return ChannelHTTP, nil
	case "SMPP":
		return ChannelSMPP, nil
	default:
		return "", fmt.Errorf("unknown channel type: %s", s)
	}
}

// Message is the persisted SMS submission. Rows are created by the
// submission handler and mutated only by the delivery worker and, for
// delivery receipts, the DLR correlator.
type Message struct {
	MessageID         string        `json:"messageId"`
	SubscriptionKey   string        `json:"-"`
	Recipient         string        `json:"recipient"`
	Content           string        `json:"content"`
	ChannelType       ChannelType   `json:"channelType"`
	Status            MessageStatus `json:"status"`
	CreatedAt         time.Time     `json:"createdAt"`
	UpdatedAt         time.Time     `json:"updatedAt"`
	ExternalMessageID string        `json:"externalMessageId,omitempty"`
	ErrorMessage      string        `json:"errorMessage,omitempty"`
	RetryCount        int           `json:"retryCount"`
}

// MessageQueuedEvent is the queue payload published once a submission has
// been persisted. The repository remains the source of truth; the event
// carries enough to deliver without a second read on the happy path.
type MessageQueuedEvent struct {
	MessageID       string      `json:"messageId"`
	SubscriptionKey string      `json:"subscriptionKey"`
	Content         string      `json:"content"`
	Recipient       string      `json:"recipient"`
	ChannelType     ChannelType `json:"channelType"`
	CreatedAt       time.Time   `json:"createdAt"`
}

// ChannelResult is the outcome of a channel send attempt. Transient marks
// failures the worker may let the queue redeliver.
type ChannelResult struct {
	OK           bool   `json:"ok"`
	ExternalID   string `json:"externalId,omitempty"`
	ErrorMessage string `json:"errorMessage,omitempty"`
	Transient    bool   `json:"transient"`
}

// SendMessageRequest is the API request body for a single submission.
type SendMessageRequest struct {
	Recipient   string `json:"recipient"`
	Message     string `json:"message"`
	ChannelType string `json:"channelType"`
}

// SendMessageResponse is returned for an accepted single submission.
type SendMessageResponse struct {
	MessageID string `json:"messageId"`
	Status    string `json:"status"`
	StatusURL string `json:"statusUrl"`
}

// BatchSendRequest is the API request body for a batch submission.
type BatchSendRequest struct {
	Messages []SendMessageRequest `json:"messages"`
}

// BatchItemResult is the per-message outcome inside a batch response.
// MessageID is empty when the item was rejected before a row was created.
type BatchItemResult struct {
	MessageID    string `json:"messageId,omitempty"`
	Status       string `json:"status"`
	Recipient    string `json:"recipient"`
	ErrorMessage string `json:"errorMessage,omitempty"`
}

// BatchSendResponse summarizes a batch submission.
type BatchSendResponse struct {
	Results          []BatchItemResult `json:"results"`
	StatusURLPattern string            `json:"statusUrlPattern"`
	TotalCount       int               `json:"totalCount"`
	SuccessCount     int               `json:"successCount"`
	FailedCount      int               `json:"failedCount"`
}

// MessageStatusResponse is the API view of a message row.
type MessageStatusResponse struct {
	MessageID         string      `json:"messageId"`
	Status            string      `json:"status"`
	CreatedAt         time.Time   `json:"createdAt"`
	UpdatedAt         time.Time   `json:"updatedAt"`
	ExternalMessageID string      `json:"externalMessageId,omitempty"`
	ErrorMessage      string      `json:"errorMessage,omitempty"`
	RetryCount        int         `json:"retryCount"`
	Recipient         string      `json:"recipient"`
	ChannelType       ChannelType `json:"channelType"`
}

// StatusResponseFrom builds the API view from a stored message.
func StatusResponseFrom(m *Message) *MessageStatusResponse {
	return &MessageStatusResponse{
		MessageID:         m.MessageID,
		Status:            string(m.Status),
		CreatedAt:         m.CreatedAt,
		UpdatedAt:         m.UpdatedAt,
		ExternalMessageID: m.ExternalMessageID,
		ErrorMessage:      m.ErrorMessage,
		RetryCount:        m.RetryCount,
		Recipient:         m.Recipient,
		ChannelType:       m.ChannelType,
	}
}

// QueuedEventFrom builds the queue event for a freshly inserted message.
func QueuedEventFrom(m *Message) *MessageQueuedEvent {
	return &MessageQueuedEvent{
		MessageID:       m.MessageID,
		SubscriptionKey: m.SubscriptionKey,
		Content:         m.Content,
		Recipient:       m.Recipient,
		ChannelType:     m.ChannelType,
		CreatedAt:       m.CreatedAt,
	}
}

// ErrorResponse represents an API error response
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail provides detailed error information
type ErrorDetail struct {
	Code      string                 `json:"code"`
	Message   string                 `json:"message"`
	Details   map[string]interface{} `json:"details,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	RequestID string                 `json:"request_id,omitempty"`
}
