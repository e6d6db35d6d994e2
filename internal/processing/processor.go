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

// Package processing implements the submission side of the hub: it
// validates incoming requests, persists accepted messages as Queued
// rows, and hands delivery events to the queue.
package processing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/messagehub-project/messagehub/internal/logging"
	"github.com/messagehub-project/messagehub/internal/metrics"
	"github.com/messagehub-project/messagehub/internal/queue"
	"github.com/messagehub-project/messagehub/internal/storage"
	"github.com/messagehub-project/messagehub/internal/tenant"
	"github.com/messagehub-project/messagehub/internal/types"
	"github.com/messagehub-project/messagehub/internal/validation"
)

const (
	// statusURLTemplate is the status endpoint path for a single message.
	statusURLTemplate = "/api/messages/%s/status"

	// statusURLPattern is the placeholder form returned with batches.
	statusURLPattern = "/api/messages/{messageId}/status"

	// publishFailureReason is written to rows whose event never reached
	// the queue. Also the client-visible reason for infrastructure
	// failures inside a batch.
	publishFailureReason = "Failed to queue message for processing"

	// DefaultHistoryLimit applies when the history query omits a limit.
	DefaultHistoryLimit = 50

	// MaxHistoryLimit caps a single history page.
	MaxHistoryLimit = 100

	// resolveTimeout bounds the status write that resolves a row after
	// a publish failure.
	resolveTimeout = 5 * time.Second
)

// ValidationError marks a submission rejected before any delivery work
// started. The server maps it to a 400 response.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return e.Reason
}

func newValidationError(format string, args ...interface{}) *ValidationError {
	return &ValidationError{Reason: fmt.Sprintf(format, args...)}
}

// Processor accepts tenant submissions and records them for delivery.
// It never talks to providers; the delivery worker owns everything past
// the Queued state.
type Processor struct {
	store     storage.MessageStore
	queue     queue.MessageQueue
	validator *validation.Validator
	metrics   metrics.MetricsProvider
	logger    *logging.Logger
}

// NewProcessor creates a message processor. The metrics provider may be
// nil when metrics are disabled.
func NewProcessor(store storage.MessageStore, messageQueue queue.MessageQueue, validator *validation.Validator, provider metrics.MetricsProvider, logger *logging.Logger) *Processor {
	return &Processor{
		store:     store,
		queue:     messageQueue,
		validator: validator,
		metrics:   provider,
		logger:    logger.WithComponent("processor"),
	}
}

// SubmitMessage runs the single-submission flow and returns the queued
// message reference. A *ValidationError means the request was rejected
// and no row exists; any other error means the hub could not accept the
// message.
func (p *Processor) SubmitMessage(ctx context.Context, owner *tenant.Tenant, req *types.SendMessageRequest) (*types.SendMessageResponse, error) {
	if owner == nil {
		return nil, fmt.Errorf("tenant is required")
	}

	message, err := p.acceptMessage(ctx, owner, req)
	if err != nil {
		return nil, err
	}

	return &types.SendMessageResponse{
		MessageID: message.MessageID,
		Status:    string(message.Status),
		StatusURL: fmt.Sprintf(statusURLTemplate, message.MessageID),
	}, nil
}

// SubmitBatch accepts up to MaxBatchSize messages in one call. Items
// run through the same flow as single submissions and one item's
// failure never stops the rest; per-item outcomes and the totals are
// collected in the response.
func (p *Processor) SubmitBatch(ctx context.Context, owner *tenant.Tenant, req *types.BatchSendRequest) (*types.BatchSendResponse, error) {
	if owner == nil {
		return nil, fmt.Errorf("tenant is required")
	}

	if err := p.validator.ValidateBatchRequest(req); err != nil {
		return nil, &ValidationError{Reason: err.Error()}
	}

	response := &types.BatchSendResponse{
		Results:          make([]types.BatchItemResult, 0, len(req.Messages)),
		StatusURLPattern: statusURLPattern,
		TotalCount:       len(req.Messages),
	}

	for i := range req.Messages {
		item := &req.Messages[i]

		message, err := p.acceptMessage(ctx, owner, item)
		if err != nil {
			result := types.BatchItemResult{
				Status:       string(types.StatusFailed),
				Recipient:    item.Recipient,
				ErrorMessage: clientReason(err),
			}
			// A row exists when the failure happened after insert;
			// the client can still query it by ID.
			if message != nil {
				result.MessageID = message.MessageID
			}
			response.Results = append(response.Results, result)
			response.FailedCount++
			continue
		}

		response.Results = append(response.Results, types.BatchItemResult{
			MessageID: message.MessageID,
			Status:    string(message.Status),
			Recipient: message.Recipient,
		})
		response.SuccessCount++
	}

	return response, nil
}

// GetMessageStatus returns the API view of a message owned by the
// tenant. Missing rows and rows owned by other tenants both surface as
// storage.ErrNotFound.
func (p *Processor) GetMessageStatus(ctx context.Context, owner *tenant.Tenant, messageID string) (*types.MessageStatusResponse, error) {
	if owner == nil {
		return nil, fmt.Errorf("tenant is required")
	}

	message, err := p.store.GetByIDForTenant(ctx, messageID, owner.Key)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to load message %s: %w", messageID, err)
	}

	return types.StatusResponseFrom(message), nil
}

// GetHistory returns the tenant's messages, newest first, optionally
// filtered by status.
func (p *Processor) GetHistory(ctx context.Context, owner *tenant.Tenant, limit int, statusFilter string) ([]*types.MessageStatusResponse, error) {
	if owner == nil {
		return nil, fmt.Errorf("tenant is required")
	}

	status, err := p.validator.ValidateStatusFilter(statusFilter)
	if err != nil {
		return nil, &ValidationError{Reason: err.Error()}
	}

	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	if limit > MaxHistoryLimit {
		limit = MaxHistoryLimit
	}

	messages, err := p.store.ListForTenant(ctx, owner.Key, storage.MessageFilter{
		Status: status,
		Limit:  limit,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}

	history := make([]*types.MessageStatusResponse, 0, len(messages))
	for _, message := range messages {
		history = append(history, types.StatusResponseFrom(message))
	}

	return history, nil
}

// acceptMessage validates one submission, persists the Queued row, and
// publishes the delivery event. When it returns an error alongside a
// non-nil message, the row was stored but the event never made it to
// the queue; the row is already resolved to Failed.
func (p *Processor) acceptMessage(ctx context.Context, owner *tenant.Tenant, req *types.SendMessageRequest) (*types.Message, error) {
	channelType, err := p.validator.ValidateSendRequest(req)
	if err != nil {
		p.recordSubmission(string(types.StatusFailed), channelLabel(req))
		return nil, &ValidationError{Reason: err.Error()}
	}

	if !owner.HasChannel(channelType) {
		p.recordSubmission(string(types.StatusFailed), string(channelType))
		return nil, newValidationError("channel type %s is not configured for this tenant", channelType)
	}

	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("failed to generate message ID: %w", err)
	}

	now := time.Now().UTC()
	message := &types.Message{
		MessageID:       id.String(),
		SubscriptionKey: owner.Key,
		Recipient:       req.Recipient,
		Content:         req.Message,
		ChannelType:     channelType,
		Status:          types.StatusQueued,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	if err := p.store.Insert(ctx, message); err != nil {
		p.recordSubmission(string(types.StatusFailed), string(channelType))
		p.logger.LogSubmission(message.MessageID, string(channelType), string(types.StatusFailed), err)
		return nil, fmt.Errorf("failed to store message: %w", err)
	}

	if err := p.queue.Publish(ctx, types.QueuedEventFrom(message)); err != nil {
		p.resolveUnqueued(message)
		p.recordSubmission(string(types.StatusFailed), string(channelType))
		p.logger.LogSubmission(message.MessageID, string(channelType), string(types.StatusFailed), err)
		return message, fmt.Errorf("failed to queue message %s: %w", message.MessageID, err)
	}

	p.recordSubmission(string(message.Status), string(channelType))
	p.logger.LogSubmission(message.MessageID, string(channelType), string(message.Status), nil)

	return message, nil
}

// resolveUnqueued marks a stored row Failed after its event could not
// be published. Without this the row would sit Queued forever with no
// delivery attempt coming. The write is conditional on the row still
// being Queued: if the event did reach a consumer despite the publish
// error, the worker owns the row.
func (p *Processor) resolveUnqueued(message *types.Message) {
	ctx, cancel := context.WithTimeout(context.Background(), resolveTimeout)
	defer cancel()

	failed := types.StatusFailed
	queued := types.StatusQueued
	reason := publishFailureReason
	update := storage.StatusUpdate{
		Status:       &failed,
		Conditional:  &queued,
		ErrorMessage: &reason,
	}
	if err := p.store.UpdateStatus(ctx, message.MessageID, update); err != nil {
		p.logger.Errorf(err, "failed to resolve unqueued message %s to Failed", message.MessageID)
	}
}

func (p *Processor) recordSubmission(status, channelType string) {
	if p.metrics != nil {
		p.metrics.RecordSubmission(status, channelType)
	}
}

// clientReason converts an acceptance error into a batch item message.
// Validation reasons pass through; infrastructure failures collapse to
// a stable wording that leaks no internals.
func clientReason(err error) string {
	var validationErr *ValidationError
	if errors.As(err, &validationErr) {
		return validationErr.Reason
	}
	return publishFailureReason
}

// channelLabel derives a bounded metric label from an unvalidated
// request. Unparseable channel types collapse to a single label.
func channelLabel(req *types.SendMessageRequest) string {
	if req == nil {
		return "unknown"
	}
	if channelType, err := types.ParseChannelType(req.ChannelType); err == nil {
		return string(channelType)
	}
	return "unknown"
}
