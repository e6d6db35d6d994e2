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

package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/messagehub-project/messagehub/internal/logging"
	"github.com/messagehub-project/messagehub/internal/types"
)

// envelope wraps an event with its transport delivery attempt count
type envelope struct {
	event    *types.MessageQueuedEvent
	attempts int
}

// MemoryQueue implements MessageQueue over a buffered channel. It is the
// default transport for single-process deployments and tests.
type MemoryQueue struct {
	config MemoryQueueConfig
	logger *logging.Logger

	events chan *envelope
	done   chan struct{}

	mux     sync.Mutex
	closed  bool
	started bool
	timers  map[*time.Timer]struct{}
	wg      sync.WaitGroup
}

// NewMemoryQueue creates a new in-process queue instance
func NewMemoryQueue(config MemoryQueueConfig, logger *logging.Logger) *MemoryQueue {
	if config.BufferSize <= 0 {
		config.BufferSize = 1024
	}
	if config.Workers <= 0 {
		config.Workers = 4
	}
	if config.RetryDelay <= 0 {
		config.RetryDelay = 30 * time.Second
	}
	return &MemoryQueue{
		config: config,
		logger: logger.WithComponent("memory-queue"),
		events: make(chan *envelope, config.BufferSize),
		done:   make(chan struct{}),
		timers: make(map[*time.Timer]struct{}),
	}
}

// Publish enqueues an accepted submission for delivery
func (mq *MemoryQueue) Publish(ctx context.Context, event *types.MessageQueuedEvent) error {
	return mq.enqueue(ctx, &envelope{event: event})
}

func (mq *MemoryQueue) enqueue(ctx context.Context, env *envelope) error {
	if env.event == nil {
		return fmt.Errorf("event cannot be nil")
	}
	if mq.isClosed() {
		return fmt.Errorf("queue is closed")
	}

	select {
	case mq.events <- env:
		return nil
	case <-mq.done:
		return fmt.Errorf("queue is closed")
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Redeliver re-enqueues an event after the given delay. The delay is
// in-process only; a restart loses the remaining wait, not the event's
// database row.
func (mq *MemoryQueue) Redeliver(ctx context.Context, event *types.MessageQueuedEvent, delay time.Duration) error {
	if event == nil {
		return fmt.Errorf("event cannot be nil")
	}
	if delay <= 0 {
		return mq.Publish(ctx, event)
	}

	mq.mux.Lock()
	defer mq.mux.Unlock()
	if mq.closed {
		return fmt.Errorf("queue is closed")
	}

	var timer *time.Timer
	timer = time.AfterFunc(delay, func() {
		mq.mux.Lock()
		delete(mq.timers, timer)
		closed := mq.closed
		mq.mux.Unlock()
		if closed {
			return
		}
		if err := mq.enqueue(context.Background(), &envelope{event: event}); err != nil {
			mq.logger.Errorf(err, "failed to redeliver message %s", event.MessageID)
		}
	})
	mq.timers[timer] = struct{}{}

	return nil
}

// Consume starts the configured number of workers draining the queue
func (mq *MemoryQueue) Consume(handler Handler) error {
	if handler == nil {
		return fmt.Errorf("handler cannot be nil")
	}

	mq.mux.Lock()
	defer mq.mux.Unlock()
	if mq.closed {
		return fmt.Errorf("queue is closed")
	}
	if mq.started {
		return fmt.Errorf("consumer already started")
	}
	mq.started = true

	for i := 0; i < mq.config.Workers; i++ {
		mq.wg.Add(1)
		go mq.consumeLoop(handler)
	}

	return nil
}

func (mq *MemoryQueue) consumeLoop(handler Handler) {
	defer mq.wg.Done()

	for {
		select {
		case <-mq.done:
			return
		case env, ok := <-mq.events:
			if !ok {
				return
			}
			mq.handle(handler, env)
		}
	}
}

func (mq *MemoryQueue) handle(handler Handler, env *envelope) {
	err := handler(context.Background(), env.event)
	if err == nil {
		return
	}

	env.attempts++
	if env.attempts >= maxDeliveryAttempts {
		mq.logger.Errorf(err, "dropping message %s after %d delivery attempts",
			env.event.MessageID, env.attempts)
		return
	}

	mq.logger.Warnf("handler failed for message %s (attempt %d), parking for %s: %v",
		env.event.MessageID, env.attempts, mq.config.RetryDelay, err)

	mq.mux.Lock()
	if mq.closed {
		mq.mux.Unlock()
		return
	}
	var timer *time.Timer
	timer = time.AfterFunc(mq.config.RetryDelay, func() {
		mq.mux.Lock()
		delete(mq.timers, timer)
		closed := mq.closed
		mq.mux.Unlock()
		if closed {
			return
		}
		if err := mq.enqueue(context.Background(), env); err != nil {
			mq.logger.Errorf(err, "failed to redeliver message %s", env.event.MessageID)
		}
	})
	mq.timers[timer] = struct{}{}
	mq.mux.Unlock()
}

// Close stops the workers and cancels parked redeliveries
func (mq *MemoryQueue) Close() error {
	mq.mux.Lock()
	if mq.closed {
		mq.mux.Unlock()
		return nil
	}
	mq.closed = true
	for timer := range mq.timers {
		timer.Stop()
	}
	mq.timers = map[*time.Timer]struct{}{}
	close(mq.done)
	mq.mux.Unlock()

	mq.wg.Wait()
	return nil
}

// HealthCheck performs a health check on the queue
func (mq *MemoryQueue) HealthCheck(ctx context.Context) error {
	if mq.isClosed() {
		return fmt.Errorf("queue is closed")
	}
	return nil
}

func (mq *MemoryQueue) isClosed() bool {
	mq.mux.Lock()
	defer mq.mux.Unlock()
	return mq.closed
}
