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
	"fmt"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/messagehub-project/messagehub/internal/types"
)

// Input limits enforced at the API boundary. The message limit matches
// the ten-segment cap of a concatenated SMS.
const (
	MaxRecipientLength = 100
	MaxMessageLength   = 1600
	MaxBatchSize       = 100
)

// Validator checks submissions against the hub's input constraints.
// Rejections here are permanent: the request never becomes a stored row.
type Validator struct {
	maxRecipientLength int
	maxMessageLength   int
	maxBatchSize       int
}

// New creates a validator with the standard limits
func New() *Validator {
	return &Validator{
		maxRecipientLength: MaxRecipientLength,
		maxMessageLength:   MaxMessageLength,
		maxBatchSize:       MaxBatchSize,
	}
}

// ValidateSendRequest validates a single submission and returns the
// parsed channel type. Lengths are counted in characters, not bytes,
// so multi-byte recipients and message bodies are measured the way
// providers segment them.
func (v *Validator) ValidateSendRequest(req *types.SendMessageRequest) (types.ChannelType, error) {
	if req == nil {
		return "", fmt.Errorf("request body is required")
	}

	if req.Recipient == "" {
		return "", fmt.Errorf("recipient is required")
	}
	if utf8.RuneCountInString(req.Recipient) > v.maxRecipientLength {
		return "", fmt.Errorf("recipient exceeds maximum length of %d characters", v.maxRecipientLength)
	}

	if req.Message == "" {
		return "", fmt.Errorf("message is required")
	}
	if utf8.RuneCountInString(req.Message) > v.maxMessageLength {
		return "", fmt.Errorf("message exceeds maximum length of %d characters", v.maxMessageLength)
	}

	if req.ChannelType == "" {
		return "", fmt.Errorf("channelType is required")
	}
	channelType, err := types.ParseChannelType(req.ChannelType)
	if err != nil {
		return "", err
	}

	return channelType, nil
}

// ValidateBatchRequest validates the batch envelope. Per-item problems
// are reported in the batch results, not here.
func (v *Validator) ValidateBatchRequest(req *types.BatchSendRequest) error {
	if req == nil || len(req.Messages) == 0 {
		return fmt.Errorf("at least one message is required")
	}

	if len(req.Messages) > v.maxBatchSize {
		return fmt.Errorf("batch size %d exceeds maximum of %d messages", len(req.Messages), v.maxBatchSize)
	}

	return nil
}

// ValidateStatusFilter parses an optional status query parameter.
// An empty value means no filtering.
func (v *Validator) ValidateStatusFilter(raw string) (*types.MessageStatus, error) {
	if raw == "" {
		return nil, nil
	}

	status, err := types.ParseMessageStatus(raw)
	if err != nil {
		return nil, err
	}

	return &status, nil
}

// ValidateMessageID checks that an identifier has the time-ordered UUID
// shape the hub assigns on submit
func (v *Validator) ValidateMessageID(id string) error {
	parsed, err := uuid.Parse(id)
	if err != nil {
		return fmt.Errorf("invalid message ID format: %s", id)
	}

	if parsed.Version() != 7 {
		return fmt.Errorf("invalid message ID format: %s", id)
	}

	return nil
}
