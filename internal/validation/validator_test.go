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

package validation

import (
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/messagehub-project/messagehub/internal/types"
)

func TestValidateSendRequest(t *testing.T) {
	validator := New()

	// Valid request
	validRequest := &types.SendMessageRequest{
		Recipient:   "+15551230001",
		Message:     "hello",
		ChannelType: "HTTP",
	}

	channelType, err := validator.ValidateSendRequest(validRequest)
	if err != nil {
		t.Errorf("Valid request should pass validation: %v", err)
	}
	if channelType != types.ChannelHTTP {
		t.Errorf("Expected channel type HTTP, got %s", channelType)
	}

	// Channel type is case-insensitive
	lowercased := *validRequest
	lowercased.ChannelType = "smpp"
	channelType, err = validator.ValidateSendRequest(&lowercased)
	if err != nil {
		t.Errorf("Lowercase channel type should pass validation: %v", err)
	}
	if channelType != types.ChannelSMPP {
		t.Errorf("Expected channel type SMPP, got %s", channelType)
	}

	// Nil request
	if _, err := validator.ValidateSendRequest(nil); err == nil {
		t.Error("Nil request should fail validation")
	}

	// Missing recipient
	missingRecipient := *validRequest
	missingRecipient.Recipient = ""
	if _, err := validator.ValidateSendRequest(&missingRecipient); err == nil {
		t.Error("Request with missing recipient should fail validation")
	}

	// Missing message
	missingMessage := *validRequest
	missingMessage.Message = ""
	if _, err := validator.ValidateSendRequest(&missingMessage); err == nil {
		t.Error("Request with missing message should fail validation")
	}

	// Missing channel type
	missingChannel := *validRequest
	missingChannel.ChannelType = ""
	if _, err := validator.ValidateSendRequest(&missingChannel); err == nil {
		t.Error("Request with missing channel type should fail validation")
	}

	// Unknown channel type
	unknownChannel := *validRequest
	unknownChannel.ChannelType = "SMTP"
	if _, err := validator.ValidateSendRequest(&unknownChannel); err == nil {
		t.Error("Request with unknown channel type should fail validation")
	}
}

func TestValidateSendRequest_LengthLimits(t *testing.T) {
	validator := New()

	base := types.SendMessageRequest{
		Recipient:   "+15551230001",
		Message:     "hello",
		ChannelType: "HTTP",
	}

	// Recipient at the limit passes
	atLimit := base
	atLimit.Recipient = strings.Repeat("9", MaxRecipientLength)
	if _, err := validator.ValidateSendRequest(&atLimit); err != nil {
		t.Errorf("Recipient at limit should pass validation: %v", err)
	}

	// Recipient over the limit fails
	overLimit := base
	overLimit.Recipient = strings.Repeat("9", MaxRecipientLength+1)
	if _, err := validator.ValidateSendRequest(&overLimit); err == nil {
		t.Error("Recipient over limit should fail validation")
	}

	// Message at the limit passes
	longMessage := base
	longMessage.Message = strings.Repeat("a", MaxMessageLength)
	if _, err := validator.ValidateSendRequest(&longMessage); err != nil {
		t.Errorf("Message at limit should pass validation: %v", err)
	}

	// Message over the limit fails
	tooLong := base
	tooLong.Message = strings.Repeat("a", MaxMessageLength+1)
	if _, err := validator.ValidateSendRequest(&tooLong); err == nil {
		t.Error("Message over limit should fail validation")
	}

	// Limits count characters, not bytes
	multiByte := base
	multiByte.Message = strings.Repeat("ü", MaxMessageLength)
	if _, err := validator.ValidateSendRequest(&multiByte); err != nil {
		t.Errorf("Multi-byte message at limit should pass validation: %v", err)
	}
}

func TestValidateBatchRequest(t *testing.T) {
	validator := New()

	item := types.SendMessageRequest{
		Recipient:   "+15551230001",
		Message:     "hello",
		ChannelType: "HTTP",
	}

	// Single message batch
	single := &types.BatchSendRequest{Messages: []types.SendMessageRequest{item}}
	if err := validator.ValidateBatchRequest(single); err != nil {
		t.Errorf("Single message batch should pass validation: %v", err)
	}

	// Batch at the size limit
	full := &types.BatchSendRequest{Messages: make([]types.SendMessageRequest, MaxBatchSize)}
	for i := range full.Messages {
		full.Messages[i] = item
	}
	if err := validator.ValidateBatchRequest(full); err != nil {
		t.Errorf("Batch at size limit should pass validation: %v", err)
	}

	// Batch over the size limit
	oversized := &types.BatchSendRequest{Messages: make([]types.SendMessageRequest, MaxBatchSize+1)}
	if err := validator.ValidateBatchRequest(oversized); err == nil {
		t.Error("Oversized batch should fail validation")
	}

	// Empty batch
	if err := validator.ValidateBatchRequest(&types.BatchSendRequest{}); err == nil {
		t.Error("Empty batch should fail validation")
	}

	// Nil batch
	if err := validator.ValidateBatchRequest(nil); err == nil {
		t.Error("Nil batch should fail validation")
	}
}

func TestValidateStatusFilter(t *testing.T) {
	validator := New()

	// Empty filter means no filtering
	status, err := validator.ValidateStatusFilter("")
	if err != nil {
		t.Errorf("Empty status filter should pass validation: %v", err)
	}
	if status != nil {
		t.Errorf("Empty status filter should return nil, got %v", *status)
	}

	// Known status, case-insensitive
	status, err = validator.ValidateStatusFilter("failed")
	if err != nil {
		t.Errorf("Known status filter should pass validation: %v", err)
	}
	if status == nil || *status != types.StatusFailed {
		t.Errorf("Expected Failed status, got %v", status)
	}

	// Unknown status
	if _, err := validator.ValidateStatusFilter("bogus"); err == nil {
		t.Error("Unknown status filter should fail validation")
	}
}

func TestValidateMessageID(t *testing.T) {
	validator := New()

	// Hub-assigned identifiers are UUIDv7
	id, err := uuid.NewV7()
	if err != nil {
		t.Fatalf("Failed to generate UUIDv7: %v", err)
	}
	if err := validator.ValidateMessageID(id.String()); err != nil {
		t.Errorf("Valid message ID should pass validation: %v", err)
	}

	// Malformed identifier
	if err := validator.ValidateMessageID("not-a-uuid"); err == nil {
		t.Error("Malformed message ID should fail validation")
	}

	// Wrong UUID version
	if err := validator.ValidateMessageID(uuid.New().String()); err == nil {
		t.Error("Random UUID should fail validation")
	}
}
