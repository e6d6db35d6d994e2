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

package processing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/messagehub-project/messagehub/internal/config"
	"github.com/messagehub-project/messagehub/internal/logging"
	"github.com/messagehub-project/messagehub/internal/metrics"
	"github.com/messagehub-project/messagehub/internal/queue"
	"github.com/messagehub-project/messagehub/internal/storage"
	"github.com/messagehub-project/messagehub/internal/tenant"
	"github.com/messagehub-project/messagehub/internal/types"
	"github.com/messagehub-project/messagehub/internal/validation"
)

const testTenantKey = "processor-tenant-key"

func newTestLogger() *logging.Logger {
	return logging.NewLogger(config.LoggingConfig{Level: "error", Format: "json"})
}

func newTestTenant() *tenant.Tenant {
	return &tenant.Tenant{
		Name: "Demo",
		Key:  testTenantKey,
		HTTP: &config.HTTPChannelConfig{MaxRetries: 3},
	}
}

// captureQueue records published events without consuming them.
type captureQueue struct {
	mux        sync.Mutex
	published  []*types.MessageQueuedEvent
	publishErr error
}

func (q *captureQueue) Publish(ctx context.Context, event *types.MessageQueuedEvent) error {
	q.mux.Lock()
	defer q.mux.Unlock()
	if q.publishErr != nil {
		return q.publishErr
	}
	q.published = append(q.published, event)
	return nil
}

func (q *captureQueue) Redeliver(ctx context.Context, event *types.MessageQueuedEvent, delay time.Duration) error {
	return nil
}

func (q *captureQueue) Consume(handler queue.Handler) error { return nil }
func (q *captureQueue) Close() error                        { return nil }
func (q *captureQueue) HealthCheck(ctx context.Context) error {
	return nil
}

func (q *captureQueue) events() []*types.MessageQueuedEvent {
	q.mux.Lock()
	defer q.mux.Unlock()
	return append([]*types.MessageQueuedEvent(nil), q.published...)
}

type processorHarness struct {
	processor *Processor
	store     *storage.MemoryStorage
	queue     *captureQueue
}

func newProcessorHarness(storeConfig storage.MemoryStorageConfig, provider metrics.MetricsProvider) *processorHarness {
	store := storage.NewMemoryStorage(storeConfig)
	capture := &captureQueue{}
	processor := NewProcessor(store, capture, validation.New(), provider, newTestLogger())
	return &processorHarness{processor: processor, store: store, queue: capture}
}

func validSendRequest() *types.SendMessageRequest {
	return &types.SendMessageRequest{
		Recipient:   "+15551230001",
		Message:     "hello",
		ChannelType: "HTTP",
	}
}

func TestNewProcessor(t *testing.T) {
	h := newProcessorHarness(storage.MemoryStorageConfig{}, nil)

	if h.processor == nil {
		t.Fatal("NewProcessor returned nil")
	}
	if h.processor.store == nil {
		t.Error("Store not set correctly")
	}
	if h.processor.queue == nil {
		t.Error("Queue not set correctly")
	}
	if h.processor.validator == nil {
		t.Error("Validator not set correctly")
	}
}

func TestSubmitMessage_Success(t *testing.T) {
	h := newProcessorHarness(storage.MemoryStorageConfig{}, nil)
	owner := newTestTenant()

	resp, err := h.processor.SubmitMessage(context.Background(), owner, validSendRequest())
	if err != nil {
		t.Fatalf("SubmitMessage failed: %v", err)
	}

	if resp.MessageID == "" {
		t.Fatal("Expected a message ID")
	}
	if resp.Status != string(types.StatusQueued) {
		t.Errorf("Expected status Queued, got %s", resp.Status)
	}
	wantURL := fmt.Sprintf("/api/messages/%s/status", resp.MessageID)
	if resp.StatusURL != wantURL {
		t.Errorf("Expected status URL %s, got %s", wantURL, resp.StatusURL)
	}

	// Row persisted as Queued under the owning tenant
	stored, err := h.store.GetByIDForTenant(context.Background(), resp.MessageID, testTenantKey)
	if err != nil {
		t.Fatalf("Stored message not found: %v", err)
	}
	if stored.Status != types.StatusQueued {
		t.Errorf("Expected stored status Queued, got %s", stored.Status)
	}
	if stored.Recipient != "+15551230001" {
		t.Errorf("Unexpected recipient: %s", stored.Recipient)
	}
	if stored.Content != "hello" {
		t.Errorf("Unexpected content: %s", stored.Content)
	}
	if stored.ChannelType != types.ChannelHTTP {
		t.Errorf("Unexpected channel type: %s", stored.ChannelType)
	}
	if stored.CreatedAt.IsZero() || stored.UpdatedAt.IsZero() {
		t.Error("Expected timestamps to be set")
	}

	// Event published with the row's identity
	events := h.queue.events()
	if len(events) != 1 {
		t.Fatalf("Expected 1 published event, got %d", len(events))
	}
	event := events[0]
	if event.MessageID != resp.MessageID {
		t.Errorf("Event message ID mismatch: %s vs %s", event.MessageID, resp.MessageID)
	}
	if event.SubscriptionKey != testTenantKey {
		t.Errorf("Event tenant key mismatch: %s", event.SubscriptionKey)
	}
	if event.Content != "hello" || event.Recipient != "+15551230001" {
		t.Error("Event payload does not match the submission")
	}
	if event.ChannelType != types.ChannelHTTP {
		t.Errorf("Event channel type mismatch: %s", event.ChannelType)
	}
	if event.CreatedAt.IsZero() {
		t.Error("Event creation time not set")
	}
}

func TestSubmitMessage_GeneratesUniqueIDs(t *testing.T) {
	h := newProcessorHarness(storage.MemoryStorageConfig{}, nil)
	owner := newTestTenant()

	seen := make(map[string]bool)
	for i := 0; i < 20; i++ {
		resp, err := h.processor.SubmitMessage(context.Background(), owner, validSendRequest())
		if err != nil {
			t.Fatalf("SubmitMessage failed: %v", err)
		}
		if seen[resp.MessageID] {
			t.Fatalf("Duplicate message ID generated: %s", resp.MessageID)
		}
		seen[resp.MessageID] = true
	}
}

func TestSubmitMessage_ValidationRejected(t *testing.T) {
	h := newProcessorHarness(storage.MemoryStorageConfig{}, nil)
	owner := newTestTenant()

	req := validSendRequest()
	req.Recipient = ""

	_, err := h.processor.SubmitMessage(context.Background(), owner, req)
	if err == nil {
		t.Fatal("Expected validation error")
	}
	var validationErr *ValidationError
	if !errors.As(err, &validationErr) {
		t.Fatalf("Expected *ValidationError, got %T", err)
	}

	// Nothing persisted, nothing published
	if len(h.queue.events()) != 0 {
		t.Error("Rejected submission must not publish an event")
	}
	messages, err := h.store.ListForTenant(context.Background(), testTenantKey, storage.MessageFilter{})
	if err != nil {
		t.Fatalf("ListForTenant failed: %v", err)
	}
	if len(messages) != 0 {
		t.Errorf("Rejected submission must not create a row, found %d", len(messages))
	}
}

func TestSubmitMessage_ChannelNotConfigured(t *testing.T) {
	h := newProcessorHarness(storage.MemoryStorageConfig{}, nil)
	owner := newTestTenant() // HTTP only

	req := validSendRequest()
	req.ChannelType = "SMPP"

	_, err := h.processor.SubmitMessage(context.Background(), owner, req)
	if err == nil {
		t.Fatal("Expected validation error for unconfigured channel")
	}
	var validationErr *ValidationError
	if !errors.As(err, &validationErr) {
		t.Fatalf("Expected *ValidationError, got %T", err)
	}
	if !strings.Contains(validationErr.Reason, "SMPP") {
		t.Errorf("Error should name the unavailable channel, got %q", validationErr.Reason)
	}
}

func TestSubmitMessage_NilTenant(t *testing.T) {
	h := newProcessorHarness(storage.MemoryStorageConfig{}, nil)

	if _, err := h.processor.SubmitMessage(context.Background(), nil, validSendRequest()); err == nil {
		t.Fatal("Expected error for nil tenant")
	}
}

func TestSubmitMessage_PublishFailureResolvesRow(t *testing.T) {
	h := newProcessorHarness(storage.MemoryStorageConfig{}, nil)
	h.queue.publishErr = fmt.Errorf("broker unavailable")
	owner := newTestTenant()

	_, err := h.processor.SubmitMessage(context.Background(), owner, validSendRequest())
	if err == nil {
		t.Fatal("Expected error when publish fails")
	}
	var validationErr *ValidationError
	if errors.As(err, &validationErr) {
		t.Fatal("Publish failure must not surface as a validation error")
	}

	// The stored row is resolved to Failed so it cannot sit Queued forever
	messages, listErr := h.store.ListForTenant(context.Background(), testTenantKey, storage.MessageFilter{})
	if listErr != nil {
		t.Fatalf("ListForTenant failed: %v", listErr)
	}
	if len(messages) != 1 {
		t.Fatalf("Expected 1 stored row, got %d", len(messages))
	}
	if messages[0].Status != types.StatusFailed {
		t.Errorf("Expected Failed row, got %s", messages[0].Status)
	}
	if messages[0].ErrorMessage != "Failed to queue message for processing" {
		t.Errorf("Unexpected error message: %q", messages[0].ErrorMessage)
	}
}

func TestSubmitMessage_InsertFailure(t *testing.T) {
	h := newProcessorHarness(storage.MemoryStorageConfig{MaxMessages: 1}, nil)
	owner := newTestTenant()

	if _, err := h.processor.SubmitMessage(context.Background(), owner, validSendRequest()); err != nil {
		t.Fatalf("First submission should succeed: %v", err)
	}

	_, err := h.processor.SubmitMessage(context.Background(), owner, validSendRequest())
	if err == nil {
		t.Fatal("Expected error when storage is full")
	}
	var validationErr *ValidationError
	if errors.As(err, &validationErr) {
		t.Fatal("Storage failure must not surface as a validation error")
	}

	// Only the first event was published
	if len(h.queue.events()) != 1 {
		t.Errorf("Expected 1 published event, got %d", len(h.queue.events()))
	}
}

func TestSubmitBatch_AllAccepted(t *testing.T) {
	h := newProcessorHarness(storage.MemoryStorageConfig{}, nil)
	owner := newTestTenant()

	req := &types.BatchSendRequest{
		Messages: []types.SendMessageRequest{
			{Recipient: "+15551230001", Message: "first", ChannelType: "HTTP"},
			{Recipient: "+15551230002", Message: "second", ChannelType: "HTTP"},
			{Recipient: "+15551230003", Message: "third", ChannelType: "HTTP"},
		},
	}

	resp, err := h.processor.SubmitBatch(context.Background(), owner, req)
	if err != nil {
		t.Fatalf("SubmitBatch failed: %v", err)
	}

	if resp.TotalCount != 3 || resp.SuccessCount != 3 || resp.FailedCount != 0 {
		t.Errorf("Unexpected totals: total=%d success=%d failed=%d",
			resp.TotalCount, resp.SuccessCount, resp.FailedCount)
	}
	if resp.StatusURLPattern != "/api/messages/{messageId}/status" {
		t.Errorf("Unexpected status URL pattern: %s", resp.StatusURLPattern)
	}
	if len(resp.Results) != 3 {
		t.Fatalf("Expected 3 results, got %d", len(resp.Results))
	}
	for i, result := range resp.Results {
		if result.MessageID == "" {
			t.Errorf("Result %d missing message ID", i)
		}
		if result.Status != string(types.StatusQueued) {
			t.Errorf("Result %d: expected Queued, got %s", i, result.Status)
		}
		if result.Recipient != req.Messages[i].Recipient {
			t.Errorf("Result %d: recipient mismatch", i)
		}
		if result.ErrorMessage != "" {
			t.Errorf("Result %d: unexpected error message %q", i, result.ErrorMessage)
		}
	}

	if len(h.queue.events()) != 3 {
		t.Errorf("Expected 3 published events, got %d", len(h.queue.events()))
	}
}

func TestSubmitBatch_PartialFailure(t *testing.T) {
	h := newProcessorHarness(storage.MemoryStorageConfig{}, nil)
	owner := newTestTenant() // HTTP only

	req := &types.BatchSendRequest{
		Messages: []types.SendMessageRequest{
			{Recipient: "+15551230001", Message: "first", ChannelType: "HTTP"},
			{Recipient: "+15551230002", Message: "second", ChannelType: "SMPP"},
			{Recipient: "+15551230003", Message: "third", ChannelType: "HTTP"},
		},
	}

	resp, err := h.processor.SubmitBatch(context.Background(), owner, req)
	if err != nil {
		t.Fatalf("Batch with item failures should still return a response: %v", err)
	}

	if resp.TotalCount != 3 || resp.SuccessCount != 2 || resp.FailedCount != 1 {
		t.Errorf("Unexpected totals: total=%d success=%d failed=%d",
			resp.TotalCount, resp.SuccessCount, resp.FailedCount)
	}

	failed := resp.Results[1]
	if failed.Status != string(types.StatusFailed) {
		t.Errorf("Expected Failed item status, got %s", failed.Status)
	}
	if failed.MessageID != "" {
		t.Errorf("Rejected item must not carry a message ID, got %s", failed.MessageID)
	}
	if !strings.Contains(failed.ErrorMessage, "SMPP") {
		t.Errorf("Item error should name the unavailable channel, got %q", failed.ErrorMessage)
	}

	for _, i := range []int{0, 2} {
		if resp.Results[i].MessageID == "" {
			t.Errorf("Accepted item %d missing message ID", i)
		}
		if resp.Results[i].Status != string(types.StatusQueued) {
			t.Errorf("Accepted item %d: expected Queued, got %s", i, resp.Results[i].Status)
		}
	}

	// Only the accepted items were stored and published
	messages, _ := h.store.ListForTenant(context.Background(), testTenantKey, storage.MessageFilter{})
	if len(messages) != 2 {
		t.Errorf("Expected 2 stored rows, got %d", len(messages))
	}
	if len(h.queue.events()) != 2 {
		t.Errorf("Expected 2 published events, got %d", len(h.queue.events()))
	}
}

func TestSubmitBatch_SizeLimit(t *testing.T) {
	h := newProcessorHarness(storage.MemoryStorageConfig{}, nil)
	owner := newTestTenant()

	oversized := &types.BatchSendRequest{
		Messages: make([]types.SendMessageRequest, validation.MaxBatchSize+1),
	}
	_, err := h.processor.SubmitBatch(context.Background(), owner, oversized)
	if err == nil {
		t.Fatal("Expected validation error for oversized batch")
	}
	var validationErr *ValidationError
	if !errors.As(err, &validationErr) {
		t.Fatalf("Expected *ValidationError, got %T", err)
	}

	_, err = h.processor.SubmitBatch(context.Background(), owner, &types.BatchSendRequest{})
	if err == nil {
		t.Fatal("Expected validation error for empty batch")
	}
}

func TestSubmitBatch_PublishFailureKeepsRowReference(t *testing.T) {
	h := newProcessorHarness(storage.MemoryStorageConfig{}, nil)
	h.queue.publishErr = fmt.Errorf("broker unavailable")
	owner := newTestTenant()

	req := &types.BatchSendRequest{
		Messages: []types.SendMessageRequest{
			{Recipient: "+15551230001", Message: "first", ChannelType: "HTTP"},
		},
	}

	resp, err := h.processor.SubmitBatch(context.Background(), owner, req)
	if err != nil {
		t.Fatalf("Batch with item failures should still return a response: %v", err)
	}
	if resp.FailedCount != 1 {
		t.Fatalf("Expected 1 failed item, got %d", resp.FailedCount)
	}

	// The row exists, so the item keeps its ID and a stable reason
	failed := resp.Results[0]
	if failed.MessageID == "" {
		t.Error("Item should reference the stored row")
	}
	if failed.ErrorMessage != "Failed to queue message for processing" {
		t.Errorf("Unexpected item error message: %q", failed.ErrorMessage)
	}

	stored, err := h.store.GetByIDForTenant(context.Background(), failed.MessageID, testTenantKey)
	if err != nil {
		t.Fatalf("Stored row not found: %v", err)
	}
	if stored.Status != types.StatusFailed {
		t.Errorf("Expected Failed row, got %s", stored.Status)
	}
}

func TestGetMessageStatus(t *testing.T) {
	h := newProcessorHarness(storage.MemoryStorageConfig{}, nil)
	owner := newTestTenant()

	resp, err := h.processor.SubmitMessage(context.Background(), owner, validSendRequest())
	if err != nil {
		t.Fatalf("SubmitMessage failed: %v", err)
	}

	status, err := h.processor.GetMessageStatus(context.Background(), owner, resp.MessageID)
	if err != nil {
		t.Fatalf("GetMessageStatus failed: %v", err)
	}
	if status.MessageID != resp.MessageID {
		t.Errorf("Message ID mismatch: %s vs %s", status.MessageID, resp.MessageID)
	}
	if status.Status != string(types.StatusQueued) {
		t.Errorf("Expected Queued, got %s", status.Status)
	}
	if status.Recipient != "+15551230001" {
		t.Errorf("Unexpected recipient: %s", status.Recipient)
	}
	if status.ChannelType != types.ChannelHTTP {
		t.Errorf("Unexpected channel type: %s", status.ChannelType)
	}
	if status.RetryCount != 0 {
		t.Errorf("Expected retry count 0, got %d", status.RetryCount)
	}
}

func TestGetMessageStatus_NotFound(t *testing.T) {
	h := newProcessorHarness(storage.MemoryStorageConfig{}, nil)
	owner := newTestTenant()

	_, err := h.processor.GetMessageStatus(context.Background(), owner, "01890000-0000-7000-8000-000000000000")
	if err == nil {
		t.Fatal("Expected not found error")
	}
	if !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Expected storage.ErrNotFound, got %v", err)
	}
}

func TestGetMessageStatus_WrongTenant(t *testing.T) {
	h := newProcessorHarness(storage.MemoryStorageConfig{}, nil)
	owner := newTestTenant()

	resp, err := h.processor.SubmitMessage(context.Background(), owner, validSendRequest())
	if err != nil {
		t.Fatalf("SubmitMessage failed: %v", err)
	}

	other := &tenant.Tenant{
		Name: "Other",
		Key:  "other-tenant-key",
		HTTP: &config.HTTPChannelConfig{},
	}
	_, err = h.processor.GetMessageStatus(context.Background(), other, resp.MessageID)
	if !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Another tenant's message must look missing, got %v", err)
	}
}

func TestGetHistory(t *testing.T) {
	h := newProcessorHarness(storage.MemoryStorageConfig{}, nil)
	owner := newTestTenant()

	// Insert rows directly so statuses and creation times differ
	base := time.Now().UTC().Add(-time.Hour)
	rows := []struct {
		id     string
		status types.MessageStatus
		offset time.Duration
	}{
		{"01890000-0000-7000-8000-000000000001", types.StatusSent, 1 * time.Minute},
		{"01890000-0000-7000-8000-000000000002", types.StatusFailed, 2 * time.Minute},
		{"01890000-0000-7000-8000-000000000003", types.StatusQueued, 3 * time.Minute},
	}
	for _, row := range rows {
		message := &types.Message{
			MessageID:       row.id,
			SubscriptionKey: testTenantKey,
			Recipient:       "+15551230001",
			Content:         "hello",
			ChannelType:     types.ChannelHTTP,
			Status:          row.status,
			CreatedAt:       base.Add(row.offset),
			UpdatedAt:       base.Add(row.offset),
		}
		if err := h.store.Insert(context.Background(), message); err != nil {
			t.Fatalf("Insert failed: %v", err)
		}
	}

	// Default limit, newest first
	history, err := h.processor.GetHistory(context.Background(), owner, 0, "")
	if err != nil {
		t.Fatalf("GetHistory failed: %v", err)
	}
	if len(history) != 3 {
		t.Fatalf("Expected 3 entries, got %d", len(history))
	}
	if history[0].MessageID != rows[2].id || history[2].MessageID != rows[0].id {
		t.Error("History should be ordered newest first")
	}

	// Status filter
	history, err = h.processor.GetHistory(context.Background(), owner, 0, "failed")
	if err != nil {
		t.Fatalf("GetHistory with filter failed: %v", err)
	}
	if len(history) != 1 || history[0].Status != string(types.StatusFailed) {
		t.Errorf("Expected the single Failed entry, got %d entries", len(history))
	}

	// Explicit limit
	history, err = h.processor.GetHistory(context.Background(), owner, 2, "")
	if err != nil {
		t.Fatalf("GetHistory with limit failed: %v", err)
	}
	if len(history) != 2 {
		t.Errorf("Expected 2 entries with limit 2, got %d", len(history))
	}
}

func TestGetHistory_InvalidStatusFilter(t *testing.T) {
	h := newProcessorHarness(storage.MemoryStorageConfig{}, nil)
	owner := newTestTenant()

	_, err := h.processor.GetHistory(context.Background(), owner, 0, "bogus")
	if err == nil {
		t.Fatal("Expected validation error for unknown status filter")
	}
	var validationErr *ValidationError
	if !errors.As(err, &validationErr) {
		t.Fatalf("Expected *ValidationError, got %T", err)
	}
}

func TestGetHistory_LimitCapped(t *testing.T) {
	h := newProcessorHarness(storage.MemoryStorageConfig{}, nil)
	owner := newTestTenant()

	now := time.Now().UTC()
	for i := 0; i < MaxHistoryLimit+10; i++ {
		message := &types.Message{
			MessageID:       fmt.Sprintf("01890000-0000-7000-8000-%012d", i),
			SubscriptionKey: testTenantKey,
			Recipient:       "+15551230001",
			Content:         "hello",
			ChannelType:     types.ChannelHTTP,
			Status:          types.StatusQueued,
			CreatedAt:       now.Add(time.Duration(i) * time.Second),
			UpdatedAt:       now,
		}
		if err := h.store.Insert(context.Background(), message); err != nil {
			t.Fatalf("Insert failed: %v", err)
		}
	}

	history, err := h.processor.GetHistory(context.Background(), owner, MaxHistoryLimit*10, "")
	if err != nil {
		t.Fatalf("GetHistory with oversized limit failed: %v", err)
	}
	if len(history) != MaxHistoryLimit {
		t.Errorf("Expected history capped at %d entries, got %d", MaxHistoryLimit, len(history))
	}
}

func TestSubmitMessage_RecordsMetrics(t *testing.T) {
	provider := metrics.NewSimpleMetrics()
	h := newProcessorHarness(storage.MemoryStorageConfig{}, provider)
	owner := newTestTenant()

	if _, err := h.processor.SubmitMessage(context.Background(), owner, validSendRequest()); err != nil {
		t.Fatalf("SubmitMessage failed: %v", err)
	}

	rejected := validSendRequest()
	rejected.ChannelType = "SMPP"
	if _, err := h.processor.SubmitMessage(context.Background(), owner, rejected); err == nil {
		t.Fatal("Expected validation error")
	}

	data, err := provider.ToJSON()
	if err != nil {
		t.Fatalf("ToJSON failed: %v", err)
	}
	var snapshot map[string]interface{}
	if err := json.Unmarshal(data, &snapshot); err != nil {
		t.Fatalf("Failed to parse metrics JSON: %v", err)
	}

	submissions := snapshot["submissions"].(map[string]interface{})
	totals := submissions["total"].(map[string]interface{})
	if totals["Queued:HTTP"].(float64) != 1 {
		t.Errorf("Expected 1 queued HTTP submission, got %v", totals["Queued:HTTP"])
	}
	if totals["Failed:SMPP"].(float64) != 1 {
		t.Errorf("Expected 1 failed SMPP submission, got %v", totals["Failed:SMPP"])
	}
}

func TestChannelLabel(t *testing.T) {
	tests := []struct {
		name string
		req  *types.SendMessageRequest
		want string
	}{
		{"nil request", nil, "unknown"},
		{"valid channel", &types.SendMessageRequest{ChannelType: "HTTP"}, "HTTP"},
		{"lowercase channel", &types.SendMessageRequest{ChannelType: "smpp"}, "SMPP"},
		{"unknown channel", &types.SendMessageRequest{ChannelType: "carrier-pigeon"}, "unknown"},
		{"empty channel", &types.SendMessageRequest{}, "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := channelLabel(tt.req); got != tt.want {
				t.Errorf("channelLabel() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestSubmitBatch_ConcurrentBatches(t *testing.T) {
	h := newProcessorHarness(storage.MemoryStorageConfig{}, nil)
	owner := newTestTenant()

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			req := &types.BatchSendRequest{
				Messages: []types.SendMessageRequest{
					{Recipient: "+15551230001", Message: "a", ChannelType: "HTTP"},
					{Recipient: "+15551230002", Message: "b", ChannelType: "HTTP"},
				},
			}
			if _, err := h.processor.SubmitBatch(context.Background(), owner, req); err != nil {
				t.Errorf("SubmitBatch failed: %v", err)
			}
		}()
	}
	wg.Wait()

	messages, err := h.store.ListForTenant(context.Background(), testTenantKey, storage.MessageFilter{})
	if err != nil {
		t.Fatalf("ListForTenant failed: %v", err)
	}
	if len(messages) != 10 {
		t.Errorf("Expected 10 stored rows, got %d", len(messages))
	}
	if len(h.queue.events()) != 10 {
		t.Errorf("Expected 10 published events, got %d", len(h.queue.events()))
	}
}
