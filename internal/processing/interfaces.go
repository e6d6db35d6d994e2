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

	"github.com/messagehub-project/messagehub/internal/tenant"
	"github.com/messagehub-project/messagehub/internal/types"
)

// Ensure Processor implements Service
var _ Service = (*Processor)(nil)

// Service defines the submission-side API consumed by the HTTP server.
// Every operation is scoped to an authenticated tenant.
type Service interface {
	SubmitMessage(ctx context.Context, owner *tenant.Tenant, req *types.SendMessageRequest) (*types.SendMessageResponse, error)
	SubmitBatch(ctx context.Context, owner *tenant.Tenant, req *types.BatchSendRequest) (*types.BatchSendResponse, error)
	GetMessageStatus(ctx context.Context, owner *tenant.Tenant, messageID string) (*types.MessageStatusResponse, error)
	GetHistory(ctx context.Context, owner *tenant.Tenant, limit int, statusFilter string) ([]*types.MessageStatusResponse, error)
}
