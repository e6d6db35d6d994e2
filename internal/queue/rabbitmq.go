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
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/messagehub-project/messagehub/internal/logging"
	"github.com/messagehub-project/messagehub/internal/types"
)

// RabbitMQQueue implements MessageQueue over RabbitMQ. The topology is one
// durable direct exchange feeding the main queue, one parked queue per
// retry tier (fixed TTL, dead-lettering back into the exchange), and a
// final DLQ for events that keep failing. A supervisor goroutine redials
// and redeclares after connection loss.
type RabbitMQQueue struct {
	config RabbitMQQueueConfig
	logger *logging.Logger

	mux        sync.Mutex
	conn       *amqp.Connection
	chConsume  *amqp.Channel
	chPublish  *amqp.Channel
	deliveries <-chan amqp.Delivery
	handler    Handler

	done   chan struct{}
	closed bool
}

// NewRabbitMQQueue connects, declares the topology and starts the
// connection supervisor. The initial dial failing is fatal; later
// connection loss is retried with backoff.
func NewRabbitMQQueue(config RabbitMQQueueConfig, logger *logging.Logger) (*RabbitMQQueue, error) {
	if config.URL == "" {
		return nil, fmt.Errorf("rabbitmq URL cannot be empty")
	}
	if config.Exchange == "" {
		config.Exchange = "messagehub"
	}
	if config.Queue == "" {
		config.Queue = "messagehub.deliveries"
	}
	if config.RoutingKey == "" {
		config.RoutingKey = "message.queued"
	}
	if config.PrefetchCount <= 0 {
		config.PrefetchCount = 8
	}
	if config.Workers <= 0 {
		config.Workers = 4
	}
	if len(config.RetryDelays) == 0 {
		config.RetryDelays = []time.Duration{30 * time.Second, 2 * time.Minute, 10 * time.Minute}
	}

	q := &RabbitMQQueue{
		config: config,
		logger: logger.WithComponent("rabbitmq-queue"),
		done:   make(chan struct{}),
	}

	if err := q.connectAndDeclare(); err != nil {
		return nil, err
	}

	go q.supervise()

	return q, nil
}

// retryQueueName returns the parked queue name for a tier
func (q *RabbitMQQueue) retryQueueName(tier int) string {
	return fmt.Sprintf("%s.retry.%s", q.config.Queue, q.config.RetryDelays[tier])
}

func (q *RabbitMQQueue) dlqName() string {
	return q.config.Queue + ".dlq"
}

func (q *RabbitMQQueue) connectAndDeclare() error {
	q.closeResources()

	conn, err := amqp.Dial(q.config.URL)
	if err != nil {
		return fmt.Errorf("rabbitmq dial: %w", err)
	}

	chConsume, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("consume channel: %w", err)
	}

	chPublish, err := conn.Channel()
	if err != nil {
		_ = chConsume.Close()
		_ = conn.Close()
		return fmt.Errorf("publish channel: %w", err)
	}
	if err := chPublish.Confirm(false); err != nil {
		_ = chPublish.Close()
		_ = chConsume.Close()
		_ = conn.Close()
		return fmt.Errorf("confirm mode: %w", err)
	}

	if err := q.declareTopology(chConsume); err != nil {
		_ = chPublish.Close()
		_ = chConsume.Close()
		_ = conn.Close()
		return err
	}

	q.mux.Lock()
	q.conn = conn
	q.chConsume = chConsume
	q.chPublish = chPublish
	handler := q.handler
	q.mux.Unlock()

	if handler != nil {
		if err := q.startConsumers(); err != nil {
			return err
		}
	}

	q.logger.Infof("rabbitmq transport ready (exchange=%s queue=%s tiers=%d)",
		q.config.Exchange, q.config.Queue, len(q.config.RetryDelays))

	return nil
}

func (q *RabbitMQQueue) declareTopology(ch *amqp.Channel) error {
	if err := ch.ExchangeDeclare(q.config.Exchange, "direct", true, false, false, false, nil); err != nil {
		return fmt.Errorf("exchange declare: %w", err)
	}

	// Nacked deliveries park in the first retry tier
	mainArgs := amqp.Table{
		"x-dead-letter-exchange":    "",
		"x-dead-letter-routing-key": q.retryQueueName(0),
	}
	if _, err := ch.QueueDeclare(q.config.Queue, true, false, false, false, mainArgs); err != nil {
		return fmt.Errorf("queue declare: %w", err)
	}
	if err := ch.QueueBind(q.config.Queue, q.config.RoutingKey, q.config.Exchange, false, nil); err != nil {
		return fmt.Errorf("queue bind: %w", err)
	}

	// Parked tiers drain back into the main exchange when their TTL fires
	for tier, delay := range q.config.RetryDelays {
		args := amqp.Table{
			"x-message-ttl":             int64(delay / time.Millisecond),
			"x-dead-letter-exchange":    q.config.Exchange,
			"x-dead-letter-routing-key": q.config.RoutingKey,
		}
		if _, err := ch.QueueDeclare(q.retryQueueName(tier), true, false, false, false, args); err != nil {
			return fmt.Errorf("retry queue declare (%s): %w", q.retryQueueName(tier), err)
		}
	}

	if _, err := ch.QueueDeclare(q.dlqName(), true, false, false, false, nil); err != nil {
		return fmt.Errorf("dlq declare: %w", err)
	}

	return nil
}

// supervise redials after connection loss until Close is called
func (q *RabbitMQQueue) supervise() {
	backoff := time.Second
	maxBackoff := 30 * time.Second

	for {
		q.mux.Lock()
		conn := q.conn
		q.mux.Unlock()
		if conn == nil {
			return
		}

		closeCh := conn.NotifyClose(make(chan *amqp.Error, 1))

		select {
		case <-q.done:
			return
		case amqpErr := <-closeCh:
			if amqpErr == nil {
				// Graceful close
				return
			}
			q.logger.Warnf("rabbitmq connection lost: %v", amqpErr)
		}

		for {
			select {
			case <-q.done:
				return
			case <-time.After(backoff):
			}

			err := q.connectAndDeclare()
			if err == nil {
				backoff = time.Second
				break
			}
			if isPreconditionFailed(err) {
				q.logger.Errorf(err, "rabbitmq topology mismatch, giving up reconnecting")
				return
			}
			q.logger.Warnf("rabbitmq reconnect failed, retrying in %s: %v", backoff, err)
			if backoff *= 2; backoff > maxBackoff {
				backoff = maxBackoff
			}
		}
	}
}

// Publish enqueues an accepted submission for delivery. The broker must
// confirm the write before Publish returns.
func (q *RabbitMQQueue) Publish(ctx context.Context, event *types.MessageQueuedEvent) error {
	return q.publish(ctx, q.config.Exchange, q.config.RoutingKey, event)
}

// Redeliver parks the event in the retry tier closest to the requested
// delay (rounding up), falling back to the longest tier.
func (q *RabbitMQQueue) Redeliver(ctx context.Context, event *types.MessageQueuedEvent, delay time.Duration) error {
	tier := retryTierFor(q.config.RetryDelays, delay)
	return q.publish(ctx, "", q.retryQueueName(tier), event)
}

// retryTierFor picks the first tier whose TTL covers the requested delay
func retryTierFor(tiers []time.Duration, delay time.Duration) int {
	for i, d := range tiers {
		if d >= delay {
			return i
		}
	}
	return len(tiers) - 1
}

func (q *RabbitMQQueue) publish(ctx context.Context, exchange, routingKey string, event *types.MessageQueuedEvent) error {
	if event == nil {
		return fmt.Errorf("event cannot be nil")
	}

	q.mux.Lock()
	ch := q.chPublish
	closed := q.closed
	q.mux.Unlock()
	if closed {
		return fmt.Errorf("queue is closed")
	}
	if ch == nil {
		return fmt.Errorf("rabbitmq channel not available")
	}

	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	conf, err := ch.PublishWithDeferredConfirmWithContext(ctx, exchange, routingKey, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    event.MessageID,
		Timestamp:    time.Now().UTC(),
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("failed to publish message: %w", err)
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-conf.Done():
		if !conf.Acked() {
			return fmt.Errorf("publish not confirmed by broker")
		}
	}

	return nil
}

// Consume registers the handler and starts the consumer workers
func (q *RabbitMQQueue) Consume(handler Handler) error {
	if handler == nil {
		return fmt.Errorf("handler cannot be nil")
	}

	q.mux.Lock()
	if q.closed {
		q.mux.Unlock()
		return fmt.Errorf("queue is closed")
	}
	if q.handler != nil {
		q.mux.Unlock()
		return fmt.Errorf("consumer already started")
	}
	q.handler = handler
	q.mux.Unlock()

	return q.startConsumers()
}

func (q *RabbitMQQueue) startConsumers() error {
	q.mux.Lock()
	ch := q.chConsume
	handler := q.handler
	q.mux.Unlock()
	if ch == nil {
		// Supervisor will start consumers once reconnected
		return nil
	}

	if err := ch.Qos(q.config.PrefetchCount, 0, false); err != nil {
		return fmt.Errorf("qos: %w", err)
	}

	deliveries, err := ch.Consume(q.config.Queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume: %w", err)
	}

	q.mux.Lock()
	q.deliveries = deliveries
	q.mux.Unlock()

	for i := 0; i < q.config.Workers; i++ {
		go q.consumeLoop(deliveries, handler)
	}

	return nil
}

func (q *RabbitMQQueue) consumeLoop(deliveries <-chan amqp.Delivery, handler Handler) {
	for {
		select {
		case <-q.done:
			return
		case d, ok := <-deliveries:
			if !ok {
				return
			}
			q.handleDelivery(d, handler)
		}
	}
}

func (q *RabbitMQQueue) handleDelivery(d amqp.Delivery, handler Handler) {
	var event types.MessageQueuedEvent
	if err := json.Unmarshal(d.Body, &event); err != nil {
		q.logger.Errorf(err, "dropping undecodable delivery to DLQ")
		q.sendToDLQ(d)
		return
	}

	if err := handler(context.Background(), &event); err != nil {
		if deathCount(d.Headers) >= maxDeliveryAttempts-1 {
			q.logger.Errorf(err, "message %s exhausted delivery attempts, parking in DLQ", event.MessageID)
			q.sendToDLQ(d)
			return
		}
		q.logger.Warnf("handler failed for message %s, parking for retry: %v", event.MessageID, err)
		_ = d.Nack(false, false)
		return
	}

	_ = d.Ack(false)
}

func (q *RabbitMQQueue) sendToDLQ(d amqp.Delivery) {
	q.mux.Lock()
	ch := q.chPublish
	q.mux.Unlock()
	if ch != nil {
		err := ch.PublishWithContext(context.Background(), "", q.dlqName(), false, false, amqp.Publishing{
			ContentType:  d.ContentType,
			DeliveryMode: amqp.Persistent,
			MessageId:    d.MessageId,
			Timestamp:    time.Now().UTC(),
			Headers:      d.Headers,
			Body:         d.Body,
		})
		if err == nil {
			_ = d.Ack(false)
			return
		}
		q.logger.Errorf(err, "failed to park delivery in DLQ")
	}
	// Fall back to another parked cycle rather than losing the delivery
	_ = d.Nack(false, false)
}

// Close shuts the connection down and stops the supervisor
func (q *RabbitMQQueue) Close() error {
	q.mux.Lock()
	if q.closed {
		q.mux.Unlock()
		return nil
	}
	q.closed = true
	close(q.done)
	q.mux.Unlock()

	q.closeResources()
	return nil
}

func (q *RabbitMQQueue) closeResources() {
	q.mux.Lock()
	defer q.mux.Unlock()

	if q.chPublish != nil {
		_ = q.chPublish.Close()
		q.chPublish = nil
	}
	if q.chConsume != nil {
		_ = q.chConsume.Close()
		q.chConsume = nil
	}
	if q.conn != nil {
		_ = q.conn.Close()
		q.conn = nil
	}
	q.deliveries = nil
}

// HealthCheck reports whether the broker connection is alive
func (q *RabbitMQQueue) HealthCheck(ctx context.Context) error {
	q.mux.Lock()
	defer q.mux.Unlock()

	if q.closed {
		return fmt.Errorf("queue is closed")
	}
	if q.conn == nil || q.conn.IsClosed() {
		return fmt.Errorf("rabbitmq connection is not available")
	}
	return nil
}

// deathCount reads how many times a delivery has been dead-lettered
func deathCount(headers amqp.Table) int {
	if headers == nil {
		return 0
	}
	deaths, ok := headers["x-death"].([]interface{})
	if !ok || len(deaths) == 0 {
		return 0
	}
	entry, ok := deaths[0].(amqp.Table)
	if !ok {
		return 0
	}
	switch count := entry["count"].(type) {
	case int64:
		return int(count)
	case int32:
		return int(count)
	case int:
		return count
	default:
		return 0
	}
}

func isPreconditionFailed(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToUpper(err.Error())
	return strings.Contains(msg, "PRECONDITION_FAILED") || strings.Contains(msg, "INEQUIVALENT ARG")
}
