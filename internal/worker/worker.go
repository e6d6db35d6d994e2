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

// Package worker consumes queued submissions and drives each message to
// Sent or a terminal state through its delivery channel.
package worker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/messagehub-project/messagehub/internal/channel"
	"github.com/messagehub-project/messagehub/internal/logging"
	"github.com/messagehub-project/messagehub/internal/metrics"
	"github.com/messagehub-project/messagehub/internal/queue"
	"github.com/messagehub-project/messagehub/internal/storage"
	"github.com/messagehub-project/messagehub/internal/tenant"
	"github.com/messagehub-project/messagehub/internal/types"
)

const (
	// deliveryTimeout bounds one delivery attempt end to end so a stalled
	// provider cannot pin a queue worker.
	deliveryTimeout = 2 * time.Minute

	// resolveTimeout bounds the Failed write issued outside the event
	// context after panics and queue errors.
	resolveTimeout = 5 * time.Second
)

// Worker turns MessageQueuedEvents into channel sends. It owns every
// Processing, Sent and worker-side Failed transition; all of its status
// writes are conditional so redeliveries and delivery receipts cannot
// be undone.
type Worker struct {
	store    storage.MessageStore
	queue    queue.MessageQueue
	registry *tenant.Registry
	router   *channel.Router
	metrics  metrics.MetricsProvider
	logger   *logging.Logger

	baseCtx context.Context
	cancel  context.CancelFunc

	mux      sync.Mutex
	started  bool
	inflight sync.WaitGroup
}

// New creates a delivery worker. The metrics provider may be nil when
// metrics are disabled.
func New(store storage.MessageStore, q queue.MessageQueue, registry *tenant.Registry, router *channel.Router, provider metrics.MetricsProvider, logger *logging.Logger) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		store:    store,
		queue:    q,
		registry: registry,
		router:   router,
		metrics:  provider,
		logger:   logger.WithComponent("delivery-worker"),
		baseCtx:  ctx,
		cancel:   cancel,
	}
}

// Start registers the worker as the queue consumer
func (w *Worker) Start() error {
	w.mux.Lock()
	defer w.mux.Unlock()
	if w.started {
		return fmt.Errorf("worker already started")
	}
	if err := w.queue.Consume(w.handleEvent); err != nil {
		return fmt.Errorf("failed to start queue consumer: %w", err)
	}
	w.started = true
	return nil
}

// Stop cancels in-flight deliveries and waits for handlers to return.
// The caller closes the queue afterwards.
func (w *Worker) Stop() {
	w.cancel()
	w.inflight.Wait()
}

// handleEvent is the queue handler. A nil return acknowledges the event;
// an error hands it back to the transport for redelivery. A panic inside
// the delivery path resolves the row to Failed and acknowledges, so a
// poison event cannot cycle through the transport forever.
func (w *Worker) handleEvent(_ context.Context, event *types.MessageQueuedEvent) (err error) {
	if event == nil || event.MessageID == "" {
		return nil
	}

	w.inflight.Add(1)
	defer w.inflight.Done()

	ctx, cancel := context.WithTimeout(w.baseCtx, deliveryTimeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			w.logger.Errorf(fmt.Errorf("%v", r), "panic while delivering message %s", event.MessageID)
			w.resolveFailed(event, fmt.Sprintf("Internal error: %v", r))
			if w.metrics != nil {
				w.metrics.RecordError("worker", "panic", "permanent")
			}
			err = nil
		}
	}()

	return w.processEvent(ctx, event)
}

func (w *Worker) processEvent(ctx context.Context, event *types.MessageQueuedEvent) error {
	timer := metrics.NewTimer()

	current, err := w.store.GetByIDForTenant(ctx, event.MessageID, event.SubscriptionKey)
	if err != nil {
		// Row unavailable; the transport redelivers and eventually drops
		// the event.
		return fmt.Errorf("failed to load message %s: %w", event.MessageID, err)
	}

	// Redeliveries of rows another attempt already resolved are
	// acknowledged without re-sending.
	if current.Status != types.StatusQueued && current.Status != types.StatusProcessing {
		w.logger.Debugf("Message %s already %s, acknowledging redelivery", event.MessageID, current.Status)
		return nil
	}

	attempt := current.RetryCount + 1

	processing := types.StatusProcessing
	queued := types.StatusQueued
	if err := w.store.UpdateStatus(ctx, event.MessageID, storage.StatusUpdate{
		Status:      &processing,
		Conditional: &queued,
	}); err != nil {
		return fmt.Errorf("failed to mark message %s processing: %w", event.MessageID, err)
	}

	owner, ok := w.registry.Authenticate(event.SubscriptionKey)
	if !ok {
		// Tenant removed from configuration between submit and delivery
		w.resolveFailed(event, "Unknown tenant")
		w.finishDelivery(event, types.StatusFailed, timer, attempt, errors.New("unknown tenant"))
		return nil
	}

	if maxAge := owner.MaxAge(event.ChannelType); maxAge > 0 && !event.CreatedAt.IsZero() &&
		time.Since(event.CreatedAt) > maxAge {
		w.resolveFailed(event, "Message exceeded maximum retry age")
		w.finishDelivery(event, types.StatusFailed, timer, attempt, errors.New("message exceeded maximum retry age"))
		return nil
	}

	result := w.router.Dispatch(ctx, event)
	if result.OK {
		return w.markSent(ctx, event, result, timer, attempt)
	}

	if result.Transient {
		return w.scheduleRetry(ctx, event, owner, result, timer)
	}

	w.resolveFailed(event, result.ErrorMessage)
	w.finishDelivery(event, types.StatusFailed, timer, attempt, errors.New(result.ErrorMessage))
	return nil
}

// markSent lands the Processing -> Sent transition with the provider's
// message reference. The write is conditional so a delivery receipt that
// already terminalized the row wins.
func (w *Worker) markSent(ctx context.Context, event *types.MessageQueuedEvent, result *types.ChannelResult, timer *metrics.Timer, attempt int) error {
	sent := types.StatusSent
	processing := types.StatusProcessing
	update := storage.StatusUpdate{Status: &sent, Conditional: &processing}
	if result.ExternalID != "" {
		update.ExternalMessageID = &result.ExternalID
	}

	// A failed write keeps the row Processing; the transport redelivers
	// and the next attempt lands the same transition.
	if err := w.store.UpdateStatus(ctx, event.MessageID, update); err != nil {
		if w.metrics != nil {
			w.metrics.RecordError("worker", "sent_write_failed", "transient")
		}
		return fmt.Errorf("failed to mark message %s sent: %w", event.MessageID, err)
	}

	w.finishDelivery(event, types.StatusSent, timer, attempt, nil)
	return nil
}

// scheduleRetry increments the retry counter and either parks the event
// for redelivery or, when the budget is exhausted, resolves the row.
func (w *Worker) scheduleRetry(ctx context.Context, event *types.MessageQueuedEvent, owner *tenant.Tenant, result *types.ChannelResult, timer *metrics.Timer) error {
	retryCount, err := w.store.IncrementRetryCount(ctx, event.MessageID)
	if err != nil {
		return fmt.Errorf("failed to increment retry count for message %s: %w", event.MessageID, err)
	}

	maxRetries := owner.MaxRetries(event.ChannelType)
	if retryCount >= maxRetries {
		w.resolveFailed(event, result.ErrorMessage)
		w.finishDelivery(event, types.StatusFailed, timer, retryCount, errors.New(result.ErrorMessage))
		return nil
	}

	delay := owner.RetryDelay(event.ChannelType, retryCount)
	if err := w.queue.Redeliver(ctx, event, delay); err != nil {
		if w.baseCtx.Err() != nil {
			// Shutting down; hand the event back to the transport instead
			// of failing a row another process may still deliver.
			return err
		}
		w.logger.Errorf(err, "failed to schedule redelivery for message %s", event.MessageID)
		if w.metrics != nil {
			w.metrics.RecordError("worker", "redeliver_failed", "transient")
		}
		w.resolveFailed(event, result.ErrorMessage)
		w.finishDelivery(event, types.StatusFailed, timer, retryCount, errors.New(result.ErrorMessage))
		return nil
	}

	w.logger.Warnf("Transient failure for message %s (attempt %d/%d), retrying in %s: %s",
		event.MessageID, retryCount, maxRetries, delay, result.ErrorMessage)
	if w.metrics != nil {
		w.metrics.RecordDeliveryRetry(string(event.ChannelType), retryReason(result.ErrorMessage))
	}
	return nil
}

// resolveFailed transitions a Processing row to Failed outside the event
// context so cancellation cannot leave the row unresolved. The conditional
// write keeps Sent and terminal rows untouched.
func (w *Worker) resolveFailed(event *types.MessageQueuedEvent, reason string) {
	ctx, cancel := context.WithTimeout(context.Background(), resolveTimeout)
	defer cancel()

	failed := types.StatusFailed
	processing := types.StatusProcessing
	if err := w.store.UpdateStatus(ctx, event.MessageID, storage.StatusUpdate{
		Status:       &failed,
		Conditional:  &processing,
		ErrorMessage: &reason,
	}); err != nil {
		w.logger.Errorf(err, "failed to resolve message %s to Failed", event.MessageID)
	}
}

func (w *Worker) finishDelivery(event *types.MessageQueuedEvent, status types.MessageStatus, timer *metrics.Timer, attempts int, sendErr error) {
	duration := timer.Duration()
	w.logger.LogDelivery(event.MessageID, event.Recipient, string(status), attempts, &duration, sendErr)
	if w.metrics != nil {
		w.metrics.RecordDelivery(string(status), string(event.ChannelType), duration, attempts)
	}
}

// retryReason folds a transient channel message into a stable metric label
func retryReason(message string) string {
	switch {
	case message == "Rate limit exceeded":
		return "rate_limited"
	case message == "Circuit breaker is open":
		return "breaker_open"
	case strings.HasPrefix(message, "SMPP:"):
		return "provider_busy"
	case strings.HasPrefix(message, "No SMPP connection"):
		return "no_connection"
	default:
		return "transient"
	}
}
