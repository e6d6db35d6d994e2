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

// Router dispatches queued messages to the channel implementation for
// their channel type. Matching is case-insensitive.
type Router struct {
	channels map[types.ChannelType]Channel
}

// NewRouter creates an empty channel router
func NewRouter() *Router {
	return &Router{channels: make(map[types.ChannelType]Channel)}
}

// Register binds a channel implementation to a channel type. Channels are
// registered at startup before any dispatch runs.
func (r *Router) Register(channelType types.ChannelType, ch Channel) {
	r.channels[channelType] = ch
}

// Dispatch routes the event to its channel. An unknown or unregistered
// channel type is a permanent failure.
func (r *Router) Dispatch(ctx context.Context, event *types.MessageQueuedEvent) *types.ChannelResult {
	channelType, err := types.ParseChannelType(string(event.ChannelType))
	if err != nil {
		return failureResult("Unknown channel", false)
	}

	ch, ok := r.channels[channelType]
	if !ok {
		return failureResult("Unknown channel", false)
	}

	return ch.Send(ctx, event)
}
