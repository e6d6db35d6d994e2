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

package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/messagehub-project/messagehub/internal/config"
	"github.com/messagehub-project/messagehub/internal/middleware"
	"github.com/messagehub-project/messagehub/internal/types"
)

const (
	demoKey = "demo-subscription-key"
	betaKey = "beta-subscription-key"
)

// testConfig builds a full in-memory hub configuration with two tenants.
// Neither tenant's provider endpoint is ever dialed: the delivery worker
// only runs after Start, which these tests do not call.
func testConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{
			Address:        ":8080",
			ReadTimeout:    30 * time.Second,
			WriteTimeout:   30 * time.Second,
			IdleTimeout:    60 * time.Second,
			MaxRequestSize: 1 << 20,
		},
		Storage:  config.StorageConfig{Type: "memory"},
		Queue:    config.QueueConfig{Type: "memory"},
		Delivery: config.DeliveryConfig{Workers: 2},
		Logging:  config.LoggingConfig{Level: "error", Format: "json"},
		Metrics:  &config.MetricsConfig{Enabled: true, Type: "memory"},
		Tenants: []config.TenantConfig{
			{
				Name:            "Demo",
				SubscriptionKey: demoKey,
				HTTP: &config.HTTPChannelConfig{
					Endpoint:   "http://provider.test/send",
					AuthType:   "bearer",
					APIKey:     "provider-token",
					MaxRetries: 3,
				},
			},
			{
				Name:            "Beta",
				SubscriptionKey: betaKey,
				HTTP: &config.HTTPChannelConfig{
					Endpoint:   "http://provider.test/send",
					AuthType:   "bearer",
					APIKey:     "provider-token",
					MaxRetries: 3,
				},
			},
		},
	}
}

func createTestServer(t *testing.T) *Server {
	t.Helper()
	gin.SetMode(gin.TestMode)

	server, err := New(testConfig())
	if err != nil {
		t.Fatalf("Failed to create server: %v", err)
	}
	return server
}

// performRequest drives a request through the full middleware chain.
func performRequest(server *Server, method, path, subscriptionKey string, body []byte) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewBuffer(body)
	}

	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if subscriptionKey != "" {
		req.Header.Set(middleware.SubscriptionKeyHeader, subscriptionKey)
	}

	w := httptest.NewRecorder()
	server.router.ServeHTTP(w, req)
	return w
}

func submitTestMessage(t *testing.T, server *Server, key string, request types.SendMessageRequest) types.SendMessageResponse {
	t.Helper()

	body, err := json.Marshal(request)
	if err != nil {
		t.Fatalf("Failed to marshal request body: %v", err)
	}

	w := performRequest(server, "POST", "/api/message", key, body)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status code %d, got %d (body %s)", http.StatusOK, w.Code, w.Body.String())
	}

	var response types.SendMessageResponse
	if err := json.Unmarshal(w.Body.Bytes(), &response); err != nil {
		t.Fatalf("Failed to unmarshal response: %v", err)
	}
	return response
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) types.ErrorResponse {
	t.Helper()

	var errorResponse types.ErrorResponse
	if err := json.Unmarshal(w.Body.Bytes(), &errorResponse); err != nil {
		t.Fatalf("Failed to unmarshal error response: %v", err)
	}
	return errorResponse
}

func TestHandlePing(t *testing.T) {
	server := createTestServer(t)

	w := performRequest(server, "GET", "/ping", demoKey, nil)
	if w.Code != http.StatusOK {
		t.Errorf("Expected status code %d, got %d", http.StatusOK, w.Code)
	}
	if w.Body.String() != "Service is alive" {
		t.Errorf("Expected body 'Service is alive', got %q", w.Body.String())
	}
}

func TestHandlePing_Unauthorized(t *testing.T) {
	server := createTestServer(t)

	tests := []struct {
		name string
		key  string
	}{
		{"missing key", ""},
		{"unknown key", "no-such-key"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := performRequest(server, "GET", "/ping", tt.key, nil)
			if w.Code != http.StatusUnauthorized {
				t.Errorf("Expected status code %d, got %d", http.StatusUnauthorized, w.Code)
			}
			// The 401 must not leak whether the key exists
			if w.Body.Len() != 0 {
				t.Errorf("Expected empty 401 body, got %q", w.Body.String())
			}
		})
	}
}

func TestHandleSendMessage_Success(t *testing.T) {
	server := createTestServer(t)

	response := submitTestMessage(t, server, demoKey, types.SendMessageRequest{
		Recipient:   "+15551230001",
		Message:     "hello from the API",
		ChannelType: "HTTP",
	})

	parsed, err := uuid.Parse(response.MessageID)
	if err != nil {
		t.Fatalf("Expected message ID to be a UUID, got %q: %v", response.MessageID, err)
	}
	if parsed.Version() != 7 {
		t.Errorf("Expected UUID version 7, got %d", parsed.Version())
	}

	if response.Status != string(types.StatusQueued) {
		t.Errorf("Expected status %q, got %q", types.StatusQueued, response.Status)
	}

	expectedURL := fmt.Sprintf("/api/messages/%s/status", response.MessageID)
	if response.StatusURL != expectedURL {
		t.Errorf("Expected status URL %q, got %q", expectedURL, response.StatusURL)
	}

	// The row must be visible through the status URL right away
	w := performRequest(server, "GET", response.StatusURL, demoKey, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status code %d, got %d", http.StatusOK, w.Code)
	}

	var status types.MessageStatusResponse
	if err := json.Unmarshal(w.Body.Bytes(), &status); err != nil {
		t.Fatalf("Failed to unmarshal status response: %v", err)
	}

	if status.MessageID != response.MessageID {
		t.Errorf("Expected message ID %s, got %s", response.MessageID, status.MessageID)
	}
	if status.Status != string(types.StatusQueued) {
		t.Errorf("Expected status %q, got %q", types.StatusQueued, status.Status)
	}
	if status.Recipient != "+15551230001" {
		t.Errorf("Expected recipient '+15551230001', got %s", status.Recipient)
	}
	if status.ChannelType != types.ChannelHTTP {
		t.Errorf("Expected channel type %q, got %q", types.ChannelHTTP, status.ChannelType)
	}
	if status.RetryCount != 0 {
		t.Errorf("Expected retry count 0, got %d", status.RetryCount)
	}
}

func TestHandleSendMessage_InvalidJSON(t *testing.T) {
	server := createTestServer(t)

	w := performRequest(server, "POST", "/api/message", demoKey, []byte("invalid json"))
	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected status code %d, got %d", http.StatusBadRequest, w.Code)
	}

	errorResponse := decodeError(t, w)
	if errorResponse.Error.Code != "INVALID_REQUEST_FORMAT" {
		t.Errorf("Expected error code 'INVALID_REQUEST_FORMAT', got %s", errorResponse.Error.Code)
	}
}

func TestHandleSendMessage_ValidationFailed(t *testing.T) {
	server := createTestServer(t)

	body, _ := json.Marshal(types.SendMessageRequest{
		Message:     "no recipient",
		ChannelType: "HTTP",
	})

	w := performRequest(server, "POST", "/api/message", demoKey, body)
	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected status code %d, got %d", http.StatusBadRequest, w.Code)
	}

	errorResponse := decodeError(t, w)
	if errorResponse.Error.Code != "VALIDATION_FAILED" {
		t.Errorf("Expected error code 'VALIDATION_FAILED', got %s", errorResponse.Error.Code)
	}
	if errorResponse.Error.Details["validation_error"] == nil {
		t.Error("Expected validation_error detail to be set")
	}
}

func TestHandleSendMessage_ChannelNotConfigured(t *testing.T) {
	server := createTestServer(t)

	body, _ := json.Marshal(types.SendMessageRequest{
		Recipient:   "+15551230001",
		Message:     "hello",
		ChannelType: "SMPP",
	})

	w := performRequest(server, "POST", "/api/message", demoKey, body)
	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected status code %d, got %d", http.StatusBadRequest, w.Code)
	}

	errorResponse := decodeError(t, w)
	if errorResponse.Error.Code != "VALIDATION_FAILED" {
		t.Errorf("Expected error code 'VALIDATION_FAILED', got %s", errorResponse.Error.Code)
	}
}

func TestHandleSendMessage_Unauthorized(t *testing.T) {
	server := createTestServer(t)

	body, _ := json.Marshal(types.SendMessageRequest{
		Recipient:   "+15551230001",
		Message:     "hello",
		ChannelType: "HTTP",
	})

	w := performRequest(server, "POST", "/api/message", "", body)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("Expected status code %d, got %d", http.StatusUnauthorized, w.Code)
	}
	if w.Body.Len() != 0 {
		t.Errorf("Expected empty 401 body, got %q", w.Body.String())
	}
}

func TestHandleSendBatch_Success(t *testing.T) {
	server := createTestServer(t)

	request := types.BatchSendRequest{
		Messages: []types.SendMessageRequest{
			{Recipient: "+15551230001", Message: "first", ChannelType: "HTTP"},
			{Recipient: "+15551230002", Message: "second", ChannelType: "HTTP"},
			{Recipient: "+15551230003", Message: "third", ChannelType: "HTTP"},
		},
	}
	body, _ := json.Marshal(request)

	w := performRequest(server, "POST", "/api/messages", demoKey, body)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status code %d, got %d (body %s)", http.StatusOK, w.Code, w.Body.String())
	}

	var response types.BatchSendResponse
	if err := json.Unmarshal(w.Body.Bytes(), &response); err != nil {
		t.Fatalf("Failed to unmarshal response: %v", err)
	}

	if response.TotalCount != 3 || response.SuccessCount != 3 || response.FailedCount != 0 {
		t.Errorf("Expected totals 3/3/0, got %d/%d/%d",
			response.TotalCount, response.SuccessCount, response.FailedCount)
	}
	if response.StatusURLPattern != "/api/messages/{messageId}/status" {
		t.Errorf("Unexpected status URL pattern %q", response.StatusURLPattern)
	}

	for i, result := range response.Results {
		if result.MessageID == "" {
			t.Errorf("Result %d: expected message ID to be set", i)
		}
		if result.Status != string(types.StatusQueued) {
			t.Errorf("Result %d: expected status %q, got %q", i, types.StatusQueued, result.Status)
		}
		if result.Recipient != request.Messages[i].Recipient {
			t.Errorf("Result %d: expected recipient %s, got %s", i, request.Messages[i].Recipient, result.Recipient)
		}
	}
}

func TestHandleSendBatch_PartialFailure(t *testing.T) {
	server := createTestServer(t)

	request := types.BatchSendRequest{
		Messages: []types.SendMessageRequest{
			{Recipient: "+15551230001", Message: "first", ChannelType: "HTTP"},
			{Recipient: "+15551230002", Message: "second", ChannelType: "SMPP"},
			{Recipient: "+15551230003", Message: "third", ChannelType: "HTTP"},
		},
	}
	body, _ := json.Marshal(request)

	w := performRequest(server, "POST", "/api/messages", demoKey, body)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status code %d for partial failure, got %d", http.StatusOK, w.Code)
	}

	var response types.BatchSendResponse
	if err := json.Unmarshal(w.Body.Bytes(), &response); err != nil {
		t.Fatalf("Failed to unmarshal response: %v", err)
	}

	if response.TotalCount != 3 || response.SuccessCount != 2 || response.FailedCount != 1 {
		t.Errorf("Expected totals 3/2/1, got %d/%d/%d",
			response.TotalCount, response.SuccessCount, response.FailedCount)
	}

	failed := response.Results[1]
	if failed.Status != "Failed" {
		t.Errorf("Expected failed status for rejected item, got %q", failed.Status)
	}
	if failed.MessageID != "" {
		t.Errorf("Expected no message ID for rejected item, got %q", failed.MessageID)
	}
	if failed.ErrorMessage == "" {
		t.Error("Expected error message for rejected item")
	}
}

func TestHandleSendBatch_TooLarge(t *testing.T) {
	server := createTestServer(t)

	request := types.BatchSendRequest{}
	for i := 0; i < 101; i++ {
		request.Messages = append(request.Messages, types.SendMessageRequest{
			Recipient:   fmt.Sprintf("+1555123%04d", i),
			Message:     "bulk",
			ChannelType: "HTTP",
		})
	}
	body, _ := json.Marshal(request)

	w := performRequest(server, "POST", "/api/messages", demoKey, body)
	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected status code %d, got %d", http.StatusBadRequest, w.Code)
	}

	errorResponse := decodeError(t, w)
	if errorResponse.Error.Code != "VALIDATION_FAILED" {
		t.Errorf("Expected error code 'VALIDATION_FAILED', got %s", errorResponse.Error.Code)
	}
}

func TestHandleSendBatch_Empty(t *testing.T) {
	server := createTestServer(t)

	w := performRequest(server, "POST", "/api/messages", demoKey, []byte(`{"messages":[]}`))
	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected status code %d, got %d", http.StatusBadRequest, w.Code)
	}
}

func TestHandleGetMessageStatus_InvalidID(t *testing.T) {
	server := createTestServer(t)

	w := performRequest(server, "GET", "/api/messages/not-a-uuid/status", demoKey, nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected status code %d, got %d", http.StatusBadRequest, w.Code)
	}

	errorResponse := decodeError(t, w)
	if errorResponse.Error.Code != "INVALID_MESSAGE_ID" {
		t.Errorf("Expected error code 'INVALID_MESSAGE_ID', got %s", errorResponse.Error.Code)
	}
}

func TestHandleGetMessageStatus_NotFound(t *testing.T) {
	server := createTestServer(t)

	unknownID := uuid.Must(uuid.NewV7()).String()
	w := performRequest(server, "GET", "/api/messages/"+unknownID+"/status", demoKey, nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("Expected status code %d, got %d", http.StatusNotFound, w.Code)
	}

	errorResponse := decodeError(t, w)
	if errorResponse.Error.Code != "MESSAGE_NOT_FOUND" {
		t.Errorf("Expected error code 'MESSAGE_NOT_FOUND', got %s", errorResponse.Error.Code)
	}
}

func TestHandleGetMessageStatus_WrongTenant(t *testing.T) {
	server := createTestServer(t)

	response := submitTestMessage(t, server, demoKey, types.SendMessageRequest{
		Recipient:   "+15551230001",
		Message:     "tenant isolation",
		ChannelType: "HTTP",
	})

	// Another tenant's key must not see the row
	w := performRequest(server, "GET", response.StatusURL, betaKey, nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("Expected status code %d for foreign tenant, got %d", http.StatusNotFound, w.Code)
	}

	errorResponse := decodeError(t, w)
	if errorResponse.Error.Code != "MESSAGE_NOT_FOUND" {
		t.Errorf("Expected error code 'MESSAGE_NOT_FOUND', got %s", errorResponse.Error.Code)
	}
}

func TestHandleGetHistory(t *testing.T) {
	server := createTestServer(t)

	submitted := make(map[string]bool)
	for i := 0; i < 3; i++ {
		response := submitTestMessage(t, server, demoKey, types.SendMessageRequest{
			Recipient:   fmt.Sprintf("+1555123000%d", i),
			Message:     "history entry",
			ChannelType: "HTTP",
		})
		submitted[response.MessageID] = true
	}

	w := performRequest(server, "GET", "/api/messages/history", demoKey, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status code %d, got %d", http.StatusOK, w.Code)
	}

	var history []types.MessageStatusResponse
	if err := json.Unmarshal(w.Body.Bytes(), &history); err != nil {
		t.Fatalf("Failed to unmarshal history: %v", err)
	}

	if len(history) != 3 {
		t.Fatalf("Expected 3 history entries, got %d", len(history))
	}
	for _, entry := range history {
		if !submitted[entry.MessageID] {
			t.Errorf("Unexpected message %s in history", entry.MessageID)
		}
	}

	// The other tenant sees nothing
	w = performRequest(server, "GET", "/api/messages/history", betaKey, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status code %d, got %d", http.StatusOK, w.Code)
	}
	var betaHistory []types.MessageStatusResponse
	if err := json.Unmarshal(w.Body.Bytes(), &betaHistory); err != nil {
		t.Fatalf("Failed to unmarshal history: %v", err)
	}
	if len(betaHistory) != 0 {
		t.Errorf("Expected empty history for foreign tenant, got %d entries", len(betaHistory))
	}
}

func TestHandleGetHistory_LimitAndFilter(t *testing.T) {
	server := createTestServer(t)

	for i := 0; i < 3; i++ {
		submitTestMessage(t, server, demoKey, types.SendMessageRequest{
			Recipient:   fmt.Sprintf("+1555123000%d", i),
			Message:     "history entry",
			ChannelType: "HTTP",
		})
	}

	w := performRequest(server, "GET", "/api/messages/history?limit=2", demoKey, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status code %d, got %d", http.StatusOK, w.Code)
	}
	var limited []types.MessageStatusResponse
	if err := json.Unmarshal(w.Body.Bytes(), &limited); err != nil {
		t.Fatalf("Failed to unmarshal history: %v", err)
	}
	if len(limited) != 2 {
		t.Errorf("Expected 2 history entries with limit=2, got %d", len(limited))
	}

	// All rows are still Queued: a Failed filter matches nothing
	w = performRequest(server, "GET", "/api/messages/history?status=failed", demoKey, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status code %d, got %d", http.StatusOK, w.Code)
	}
	var failed []types.MessageStatusResponse
	if err := json.Unmarshal(w.Body.Bytes(), &failed); err != nil {
		t.Fatalf("Failed to unmarshal history: %v", err)
	}
	if len(failed) != 0 {
		t.Errorf("Expected no Failed entries, got %d", len(failed))
	}

	w = performRequest(server, "GET", "/api/messages/history?status=queued", demoKey, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status code %d, got %d", http.StatusOK, w.Code)
	}
	var queued []types.MessageStatusResponse
	if err := json.Unmarshal(w.Body.Bytes(), &queued); err != nil {
		t.Fatalf("Failed to unmarshal history: %v", err)
	}
	if len(queued) != 3 {
		t.Errorf("Expected 3 Queued entries, got %d", len(queued))
	}
}

func TestHandleGetHistory_InvalidLimit(t *testing.T) {
	server := createTestServer(t)

	for _, limit := range []string{"abc", "0", "-1", "101"} {
		t.Run("limit_"+limit, func(t *testing.T) {
			w := performRequest(server, "GET", "/api/messages/history?limit="+limit, demoKey, nil)
			if w.Code != http.StatusBadRequest {
				t.Errorf("Expected status code %d, got %d", http.StatusBadRequest, w.Code)
			}

			errorResponse := decodeError(t, w)
			if errorResponse.Error.Code != "INVALID_LIMIT" {
				t.Errorf("Expected error code 'INVALID_LIMIT', got %s", errorResponse.Error.Code)
			}
		})
	}
}

func TestHandleGetHistory_InvalidStatusFilter(t *testing.T) {
	server := createTestServer(t)

	w := performRequest(server, "GET", "/api/messages/history?status=bogus", demoKey, nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected status code %d, got %d", http.StatusBadRequest, w.Code)
	}

	errorResponse := decodeError(t, w)
	if errorResponse.Error.Code != "VALIDATION_FAILED" {
		t.Errorf("Expected error code 'VALIDATION_FAILED', got %s", errorResponse.Error.Code)
	}
}
