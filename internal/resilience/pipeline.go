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

package resilience

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net/http"
	"strings"
	"time"

	"github.com/sony/gobreaker"
)

// Config holds the per-tenant resilience policy knobs
type Config struct {
	// Timeout bounds each individual attempt
	Timeout time.Duration
	// MaxRetries is the total number of attempts
	MaxRetries int
	// FailureThreshold is the consecutive-failure count that opens the breaker
	FailureThreshold int
	// RecoveryTimeout is how long the breaker stays open before a trial request
	RecoveryTimeout time.Duration
}

// Result is the outcome of a completed HTTP attempt. The body is fully
// read by the operation so attempts never share response state.
type Result struct {
	StatusCode int
	Body       []byte
}

// Operation performs one HTTP attempt under the context deadline
type Operation func(ctx context.Context) (*Result, error)

// statusError marks a response in the retryable class so the breaker
// counts it as a failure while the caller still receives the response
type statusError struct {
	result *Result
}

func (e *statusError) Error() string {
	return fmt.Sprintf("HTTP %d", e.result.StatusCode)
}

// Pipeline wraps HTTP attempts in, innermost first, a per-attempt
// timeout, a retry loop with exponential backoff, and a circuit breaker.
// Each tenant gets its own pipeline so one tenant's failing provider
// cannot trip another tenant's breaker.
type Pipeline struct {
	config  Config
	breaker *gobreaker.CircuitBreaker

	// backoffFn is replaceable in tests
	backoffFn func(attempt int) time.Duration
}

// NewPipeline creates a resilience pipeline named after its tenant
func NewPipeline(name string, config Config) *Pipeline {
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}
	if config.MaxRetries < 1 {
		config.MaxRetries = 3
	}
	if config.FailureThreshold < 1 {
		config.FailureThreshold = 5
	}
	if config.RecoveryTimeout <= 0 {
		config.RecoveryTimeout = 30 * time.Second
	}

	threshold := uint32(config.FailureThreshold)
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Timeout:     config.RecoveryTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
	})

	return &Pipeline{
		config:    config,
		breaker:   breaker,
		backoffFn: defaultBackoff,
	}
}

// Execute runs the operation through the full policy stack. A response in
// the retryable class that survives all attempts is returned to the
// caller with a nil error; the breaker still counts it as a failure.
func (p *Pipeline) Execute(ctx context.Context, op Operation) (*Result, error) {
	raw, err := p.breaker.Execute(func() (interface{}, error) {
		return p.executeWithRetry(ctx, op)
	})
	if err != nil {
		var se *statusError
		if errors.As(err, &se) {
			return se.result, nil
		}
		return nil, err
	}
	return raw.(*Result), nil
}

func (p *Pipeline) executeWithRetry(ctx context.Context, op Operation) (*Result, error) {
	var lastResult *Result
	var lastErr error

	for attempt := 1; attempt <= p.config.MaxRetries; attempt++ {
		result, err := p.executeAttempt(ctx, op)
		if err == nil && !IsRetryableStatus(result.StatusCode) {
			return result, nil
		}

		lastResult = result
		lastErr = err

		if err != nil && !IsRetryableError(err) {
			return nil, err
		}
		if attempt == p.config.MaxRetries {
			break
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(p.backoffFn(attempt)):
		}
	}

	if lastErr != nil {
		return nil, lastErr
	}
	// Exhausted attempts on a retryable status. The error feeds the
	// breaker's failure count; Execute hands the response back.
	return nil, &statusError{result: lastResult}
}

func (p *Pipeline) executeAttempt(ctx context.Context, op Operation) (*Result, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, p.config.Timeout)
	defer cancel()
	return op(attemptCtx)
}

// defaultBackoff returns 2^attempt seconds plus uniform 0-1000ms jitter
func defaultBackoff(attempt int) time.Duration {
	delay := time.Duration(1<<uint(attempt)) * time.Second

	maxDelay := 5 * time.Minute
	if delay > maxDelay {
		delay = maxDelay
	}

	return delay + time.Duration(rand.Intn(1000))*time.Millisecond
}

// IsCircuitOpen reports whether the error came from an open breaker
func IsCircuitOpen(err error) bool {
	return errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)
}

// IsRetryableStatus reports whether an HTTP status is worth retrying
func IsRetryableStatus(statusCode int) bool {
	switch statusCode {
	case http.StatusRequestTimeout, http.StatusTooManyRequests:
		return true
	}
	return statusCode >= 500
}

// IsRetryableError determines if a transport error is retryable
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, context.Canceled) {
		return false
	}

	msg := err.Error()
	return strings.Contains(msg, "timeout") ||
		strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "connection reset") ||
		strings.Contains(msg, "no such host") ||
		strings.Contains(msg, "network unreachable") ||
		strings.Contains(msg, "EOF")
}

// State exposes the breaker state for health reporting
func (p *Pipeline) State() gobreaker.State {
	return p.breaker.State()
}
