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

package channel

import (
	"context"

	"github.com/messagehub-project/messagehub/internal/types"
)

// Channel delivers one queued message to its provider. The result carries
// the failure taxonomy; Send itself never returns an error.
type Channel interface {
	Send(ctx context.Context, event *types.MessageQueuedEvent) *types.ChannelResult
}

func successResult(externalID string) *types.ChannelResult {
	return &types.ChannelResult{OK: true, ExternalID: externalID}
}

func failureResult(message string, transient bool) *types.ChannelResult {
	return &types.ChannelResult{OK: false, ErrorMessage: message, Transient: transient}
}
