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

package smpp

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/fiorix/go-smpp/smpp/pdu"
	"github.com/sony/gobreaker"

	"github.com/messagehub-project/messagehub/internal/channel"
	"github.com/messagehub-project/messagehub/internal/config"
	"github.com/messagehub-project/messagehub/internal/logging"
	"github.com/messagehub-project/messagehub/internal/storage"
	"github.com/messagehub-project/messagehub/internal/tenant"
	"github.com/messagehub-project/messagehub/internal/types"
)

// SMPP command statuses the channel classifies specially
const (
	esmeSysErr     = 0x00000008
	esmeMsgQFull   = 0x00000014
	esmeSubmitFail = 0x00000045
	esmeThrottled  = 0x00000058
)

// transientError marks a delivery failure the worker may retry. Only
// these count against the tenant's breaker.
type transientError struct {
	message string
}

func (e *transientError) Error() string {
	return e.message
}

// connFactory dials and binds one SMPP session
type connFactory func(channelConfig *config.SMPPChannelConfig, handler func(pdu.Body), logger *logging.Logger) (Conn, error)

// tenantSession bundles everything one tenant's SMPP traffic runs
// through. Built lazily on the first send and kept until shutdown.
type tenantSession struct {
	once       sync.Once
	channelCfg *config.SMPPChannelConfig
	pool       *Pool
	correlator *Correlator
	breaker    *gobreaker.CircuitBreaker

	throttleMux sync.Mutex
	throttled   int
}

func (s *tenantSession) bumpThrottle() int {
	s.throttleMux.Lock()
	defer s.throttleMux.Unlock()
	s.throttled++
	return s.throttled
}

func (s *tenantSession) resetThrottle() {
	s.throttleMux.Lock()
	defer s.throttleMux.Unlock()
	s.throttled = 0
}

// SMPPChannel delivers messages over pooled SMPP binds, one session set
// per tenant. Delivery receipts flow back through the tenant correlator.
type SMPPChannel struct {
	registry *tenant.Registry
	store    storage.MessageStore
	logger   *logging.Logger
	dial     connFactory

	mux      sync.Mutex
	sessions map[string]*tenantSession
	closed   bool
}

var _ channel.Channel = (*SMPPChannel)(nil)

// NewSMPPChannel creates the SMPP delivery channel
func NewSMPPChannel(registry *tenant.Registry, store storage.MessageStore, logger *logging.Logger) *SMPPChannel {
	return &SMPPChannel{
		registry: registry,
		store:    store,
		logger:   logger.WithComponent("smpp-channel"),
		dial: func(channelConfig *config.SMPPChannelConfig, handler func(pdu.Body), logger *logging.Logger) (Conn, error) {
			return NewClient(channelConfig, handler, logger)
		},
		sessions: make(map[string]*tenantSession),
	}
}

// Send delivers the message over the tenant's SMPP binds
func (s *SMPPChannel) Send(ctx context.Context, event *types.MessageQueuedEvent) *types.ChannelResult {
	t, ok := s.registry.Authenticate(event.SubscriptionKey)
	if !ok || t.SMPP == nil {
		return &types.ChannelResult{OK: false, ErrorMessage: "SMPP channel is not configured for tenant"}
	}

	session, err := s.sessionFor(t)
	if err != nil {
		return &types.ChannelResult{OK: false, ErrorMessage: err.Error(), Transient: true}
	}

	raw, err := session.breaker.Execute(func() (interface{}, error) {
		return s.deliver(ctx, session, event)
	})
	if err != nil {
		var te *transientError
		if errors.As(err, &te) {
			return &types.ChannelResult{OK: false, ErrorMessage: te.message, Transient: true}
		}
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return &types.ChannelResult{OK: false, ErrorMessage: "Circuit breaker is open", Transient: true}
		}
		return &types.ChannelResult{OK: false, ErrorMessage: err.Error(), Transient: true}
	}

	return raw.(*types.ChannelResult)
}

// deliver acquires a bind, submits, classifies and correlates. Returned
// errors are the transient class; permanent rejections come back as a
// result with a nil error so they do not trip the breaker.
func (s *SMPPChannel) deliver(ctx context.Context, session *tenantSession, event *types.MessageQueuedEvent) (*types.ChannelResult, error) {
	conn, err := session.pool.Acquire(ctx)
	if err != nil {
		return nil, &transientError{message: fmt.Sprintf("No SMPP connection available: %v", err)}
	}
	defer session.pool.Release(conn)

	receipts := ReceiptNone
	if session.channelCfg.DeliveryReceipts.Enabled {
		receipts = ReceiptFinal
		if session.channelCfg.DeliveryReceipts.DLRMask == 2 {
			receipts = ReceiptFailure
		}
	}

	externalID, err := conn.Submit(session.channelCfg.SourceAddress, event.Recipient, event.Content, receipts)
	if err != nil {
		return s.classifySubmitError(ctx, session, err)
	}

	session.resetThrottle()
	if externalID != "" {
		session.correlator.Track(event.MessageID, externalID)
	}

	return &types.ChannelResult{OK: true, ExternalID: externalID}, nil
}

// classifySubmitError sorts a failed submit into the failure taxonomy.
// A throttling response also backs the tenant off before returning.
func (s *SMPPChannel) classifySubmitError(ctx context.Context, session *tenantSession, err error) (*types.ChannelResult, error) {
	var status pdu.Status
	if errors.As(err, &status) {
		message := fmt.Sprintf("SMPP: %v", status)
		switch uint32(status) {
		case esmeThrottled:
			attempt := session.bumpThrottle()
			s.throttleWait(ctx, session.channelCfg.Throttling, attempt)
			return nil, &transientError{message: message}
		case esmeMsgQFull, esmeSubmitFail, esmeSysErr:
			return nil, &transientError{message: message}
		default:
			return &types.ChannelResult{OK: false, ErrorMessage: message}, nil
		}
	}

	// Not bound, response timeout, connection torn down mid-submit
	return nil, &transientError{message: err.Error()}
}

// throttleWait sleeps for the tenant's throttle backoff, doubling per
// consecutive throttling response up to the cap
func (s *SMPPChannel) throttleWait(ctx context.Context, throttling config.ThrottlingConfig, attempt int) {
	initial := throttling.InitialBackoff
	if initial <= 0 {
		initial = 2 * time.Second
	}
	multiplier := throttling.Multiplier
	if multiplier <= 1 {
		multiplier = 2
	}
	max := throttling.MaxBackoff
	if max <= 0 {
		max = 60 * time.Second
	}

	backoff := time.Duration(float64(initial) * math.Pow(multiplier, float64(attempt-1)))
	if backoff > max {
		backoff = max
	}

	s.logger.Warnf("smpp provider throttling, backing off %s (attempt %d)", backoff, attempt)

	select {
	case <-ctx.Done():
	case <-time.After(backoff):
	}
}

// sessionFor returns the tenant's session set, building it on first use
func (s *SMPPChannel) sessionFor(t *tenant.Tenant) (*tenantSession, error) {
	s.mux.Lock()
	if s.closed {
		s.mux.Unlock()
		return nil, fmt.Errorf("smpp channel is closed")
	}
	session, ok := s.sessions[t.Key]
	if !ok {
		session = &tenantSession{channelCfg: t.SMPP}
		s.sessions[t.Key] = session
	}
	s.mux.Unlock()

	// Pool warm-up dials the SMSC; keep it out of the channel lock
	session.once.Do(func() {
		session.correlator = NewCorrelator(s.store, t.SMPP.DeliveryReceipts.RetentionDays, s.logger)
		session.pool = NewPool(t.SMPP.Pool, func() (Conn, error) {
			return s.dial(t.SMPP, session.correlator.HandlePDU, s.logger)
		}, s.logger)
		session.breaker = newSessionBreaker(t.Key, t.SMPP.CircuitBreaker)
	})

	return session, nil
}

func newSessionBreaker(name string, breakerConfig config.CircuitBreakerConfig) *gobreaker.CircuitBreaker {
	threshold := breakerConfig.FailureThreshold
	if threshold < 1 {
		threshold = 5
	}
	recovery := breakerConfig.RecoveryTimeout
	if recovery <= 0 {
		recovery = 30 * time.Second
	}

	limit := uint32(threshold)
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Timeout:     recovery,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= limit
		},
	})
}

// GetStats returns per-tenant pool and correlator counters
func (s *SMPPChannel) GetStats() map[string]interface{} {
	s.mux.Lock()
	sessions := make(map[string]*tenantSession, len(s.sessions))
	for key, session := range s.sessions {
		sessions[key] = session
	}
	s.mux.Unlock()

	stats := make(map[string]interface{}, len(sessions))
	for key, session := range sessions {
		if session.pool == nil {
			continue
		}
		idle, total := session.pool.Size()
		entry := map[string]interface{}{
			"idle_connections":  idle,
			"total_connections": total,
		}
		for k, v := range session.correlator.GetStats() {
			entry[k] = v
		}
		stats[key] = entry
	}
	return stats
}

// Close tears down every tenant's pool and correlator
func (s *SMPPChannel) Close() error {
	s.mux.Lock()
	if s.closed {
		s.mux.Unlock()
		return nil
	}
	s.closed = true
	sessions := s.sessions
	s.sessions = make(map[string]*tenantSession)
	s.mux.Unlock()

	for _, session := range sessions {
		if session.pool != nil {
			_ = session.pool.Close()
		}
		if session.correlator != nil {
			session.correlator.Close()
		}
	}
	return nil
}
