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

package errors

import (
	"fmt"
	"strings"
	"time"

	"github.com/messagehub-project/messagehub/internal/types"
)

// ErrorCode represents standardized error codes
type ErrorCode string

const (
	// Request validation errors
	ErrInvalidRequestFormat ErrorCode = "INVALID_REQUEST_FORMAT"
	ErrValidationFailed     ErrorCode = "VALIDATION_FAILED"
	ErrInvalidRecipient     ErrorCode = "INVALID_RECIPIENT"
	ErrInvalidContent       ErrorCode = "INVALID_CONTENT"
	ErrInvalidChannelType   ErrorCode = "INVALID_CHANNEL_TYPE"
	ErrBatchTooLarge        ErrorCode = "BATCH_TOO_LARGE"

	// Tenant and configuration errors
	ErrUnauthorized         ErrorCode = "UNAUTHORIZED"
	ErrTenantNotFound       ErrorCode = "TENANT_NOT_FOUND"
	ErrChannelNotConfigured ErrorCode = "CHANNEL_NOT_CONFIGURED"
	ErrChannelMisconfigured ErrorCode = "CHANNEL_MISCONFIGURED"

	// Submission errors
	ErrIDGenerationFailed ErrorCode = "ID_GENERATION_FAILED"
	ErrPersistenceFailed  ErrorCode = "PERSISTENCE_FAILED"
	ErrQueuePublishFailed ErrorCode = "QUEUE_PUBLISH_FAILED"

	// Delivery errors
	ErrDeliveryFailed    ErrorCode = "DELIVERY_FAILED"
	ErrHTTPRequestFailed ErrorCode = "HTTP_REQUEST_FAILED"
	ErrProviderRejected  ErrorCode = "PROVIDER_REJECTED"
	ErrUnknownChannel    ErrorCode = "UNKNOWN_CHANNEL"

	// Resilience errors
	ErrRateLimitExceeded  ErrorCode = "RATE_LIMIT_EXCEEDED"
	ErrCircuitOpen        ErrorCode = "CIRCUIT_OPEN"
	ErrTimeout            ErrorCode = "TIMEOUT"
	ErrServiceUnavailable ErrorCode = "SERVICE_UNAVAILABLE"

	// SMPP errors
	ErrSMPPBindFailed     ErrorCode = "SMPP_BIND_FAILED"
	ErrSMPPSubmitFailed   ErrorCode = "SMPP_SUBMIT_FAILED"
	ErrSMPPThrottled      ErrorCode = "SMPP_THROTTLED"
	ErrSMPPPoolExhausted  ErrorCode = "SMPP_POOL_EXHAUSTED"
	ErrSMPPNotConnected   ErrorCode = "SMPP_NOT_CONNECTED"
	ErrSMPPReceiptInvalid ErrorCode = "SMPP_RECEIPT_INVALID"

	// Resource errors
	ErrMessageNotFound ErrorCode = "MESSAGE_NOT_FOUND"

	// System errors
	ErrInternalError ErrorCode = "INTERNAL_ERROR"
)

// HubError represents a structured message-hub error
type HubError struct {
	Code      ErrorCode              `json:"code"`
	Message   string                 `json:"message"`
	Details   map[string]interface{} `json:"details,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	RequestID string                 `json:"request_id,omitempty"`
	Cause     error                  `json:"-"` // Internal cause, not exposed in JSON
}

// Error implements the error interface
func (e *HubError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause error
func (e *HubError) Unwrap() error {
	return e.Cause
}

// ToErrorResponse converts HubError to types.ErrorResponse
func (e *HubError) ToErrorResponse() types.ErrorResponse {
	return types.ErrorResponse{
		Error: types.ErrorDetail{
			Code:      string(e.Code),
			Message:   e.Message,
			Details:   e.Details,
			Timestamp: e.Timestamp,
			RequestID: e.RequestID,
		},
	}
}

// New creates a new HubError
func New(code ErrorCode, message string) *HubError {
	return &HubError{
		Code:      code,
		Message:   message,
		Timestamp: time.Now().UTC(),
	}
}

// Newf creates a new HubError with formatted message
func Newf(code ErrorCode, format string, args ...interface{}) *HubError {
	return &HubError{
		Code:      code,
		Message:   fmt.Sprintf(format, args...),
		Timestamp: time.Now().UTC(),
	}
}

// Wrap creates a new HubError wrapping an existing error
func Wrap(code ErrorCode, message string, cause error) *HubError {
	return &HubError{
		Code:      code,
		Message:   message,
		Cause:     cause,
		Timestamp: time.Now().UTC(),
	}
}

// Wrapf creates a new HubError wrapping an existing error with formatted message
func Wrapf(code ErrorCode, cause error, format string, args ...interface{}) *HubError {
	return &HubError{
		Code:      code,
		Message:   fmt.Sprintf(format, args...),
		Cause:     cause,
		Timestamp: time.Now().UTC(),
	}
}

// WithDetails adds details to a HubError
func (e *HubError) WithDetails(details map[string]interface{}) *HubError {
	e.Details = details
	return e
}

// WithRequestID adds a request ID to a HubError
func (e *HubError) WithRequestID(requestID string) *HubError {
	e.RequestID = requestID
	return e
}

// IsRetryable reports whether the error belongs to the transient taxonomy:
// the delivery worker may let the queue redeliver it.
func (e *HubError) IsRetryable() bool {
	switch e.Code {
	case ErrTimeout, ErrServiceUnavailable, ErrRateLimitExceeded, ErrCircuitOpen:
		return true
	case ErrSMPPThrottled, ErrSMPPPoolExhausted, ErrSMPPNotConnected, ErrQueuePublishFailed:
		return true
	case ErrHTTPRequestFailed, ErrDeliveryFailed, ErrSMPPSubmitFailed:
		// Network-level causes are retryable; provider rejections are not.
		if e.Cause != nil {
			return containsAny(e.Cause.Error(), []string{
				"timeout", "connection refused", "no such host",
				"network unreachable", "connection reset", "broken pipe",
				"EOF",
			})
		}
		return false
	default:
		return false
	}
}

// GetHTTPStatus returns the appropriate HTTP status code for the error
func (e *HubError) GetHTTPStatus() int {
	switch e.Code {
	case ErrInvalidRequestFormat, ErrValidationFailed, ErrInvalidRecipient,
		ErrInvalidContent, ErrInvalidChannelType, ErrBatchTooLarge,
		ErrChannelNotConfigured:
		return 400 // Bad Request

	case ErrUnauthorized, ErrTenantNotFound:
		return 401 // Unauthorized

	case ErrMessageNotFound:
		return 404 // Not Found

	case ErrRateLimitExceeded:
		return 429 // Too Many Requests

	case ErrInternalError, ErrIDGenerationFailed, ErrPersistenceFailed,
		ErrQueuePublishFailed:
		return 500 // Internal Server Error

	case ErrServiceUnavailable, ErrCircuitOpen:
		return 503 // Service Unavailable

	case ErrTimeout:
		return 504 // Gateway Timeout

	default:
		return 500 // Default to Internal Server Error
	}
}

// containsAny checks if a string contains any of the given substrings
func containsAny(s string, substrings []string) bool {
	for _, substr := range substrings {
		if strings.Contains(s, substr) {
			return true
		}
	}
	return false
}

// Common error constructors for convenience

// NewValidationError creates a validation error
func NewValidationError(message string, details map[string]interface{}) *HubError {
	return New(ErrValidationFailed, message).WithDetails(details)
}

// NewChannelNotConfiguredError reports a channel the tenant has not set up
func NewChannelNotConfiguredError(channelType string) *HubError {
	return Newf(ErrChannelNotConfigured, "channel %s is not configured for this tenant", channelType)
}

// NewMessageNotFoundError creates a not found error scoped to a message id
func NewMessageNotFoundError(messageID string) *HubError {
	return Newf(ErrMessageNotFound, "message %s not found", messageID)
}

// NewQueuePublishError wraps a failed queue publish
func NewQueuePublishError(cause error) *HubError {
	return Wrap(ErrQueuePublishFailed, "Failed to queue message for processing", cause)
}

// NewInternalError creates an internal error
func NewInternalError(message string, cause error) *HubError {
	return Wrap(ErrInternalError, message, cause)
}

// IsHubError checks if an error is a HubError
func IsHubError(err error) bool {
	_, ok := err.(*HubError)
	return ok
}

// AsHubError converts an error to HubError if possible
func AsHubError(err error) (*HubError, bool) {
	if hubErr, ok := err.(*HubError); ok {
		return hubErr, true
	}
	return nil, false
}
