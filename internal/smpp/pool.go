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
	"fmt"
	"sync"
	"time"

	"github.com/messagehub-project/messagehub/internal/config"
	"github.com/messagehub-project/messagehub/internal/logging"
)

// pooledConn is an idle session with the time it was handed back
type pooledConn struct {
	conn       Conn
	returnedAt time.Time
}

// Pool holds a tenant's bound SMPP sessions. Idle sessions are reused
// FIFO; capacity is bounded by MaxConnections and acquisition waits at
// most ConnectTimeout for a session to come back.
type Pool struct {
	config  config.SMPPPoolConfig
	logger  *logging.Logger
	factory func() (Conn, error)

	mux      sync.Mutex
	idle     []*pooledConn
	total    int
	closed   bool
	returned chan struct{}
}

// NewPool creates the pool and pre-warms MinConnections sessions.
// Warm-up failures are logged, not fatal; sessions are created lazily on
// demand afterwards.
func NewPool(poolConfig config.SMPPPoolConfig, factory func() (Conn, error), logger *logging.Logger) *Pool {
	if poolConfig.MaxConnections <= 0 {
		poolConfig.MaxConnections = 3
	}
	if poolConfig.MinConnections < 0 {
		poolConfig.MinConnections = 0
	}
	if poolConfig.MinConnections > poolConfig.MaxConnections {
		poolConfig.MinConnections = poolConfig.MaxConnections
	}
	if poolConfig.ConnectTimeout <= 0 {
		poolConfig.ConnectTimeout = 10 * time.Second
	}

	p := &Pool{
		config:   poolConfig,
		logger:   logger.WithComponent("smpp-pool"),
		factory:  factory,
		returned: make(chan struct{}, 1),
	}

	for i := 0; i < poolConfig.MinConnections; i++ {
		conn, err := factory()
		if err != nil {
			p.logger.Warnf("smpp pool warm-up connection %d failed: %v", i+1, err)
			continue
		}
		p.idle = append(p.idle, &pooledConn{conn: conn, returnedAt: time.Now()})
		p.total++
	}

	return p
}

// Acquire hands out a bound session, creating one when under capacity.
// At capacity it waits, bounded by ConnectTimeout, for a release.
func (p *Pool) Acquire(ctx context.Context) (Conn, error) {
	deadline := time.After(p.config.ConnectTimeout)

	for {
		conn, err := p.tryAcquire()
		if err != nil {
			return nil, err
		}
		if conn != nil {
			return conn, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-deadline:
			return nil, fmt.Errorf("timed out waiting for an SMPP connection")
		case <-p.returned:
		}
	}
}

// tryAcquire pops a usable idle session or creates a new one under the
// capacity limit. Sessions that lost their bind, and sessions idle past
// IdleTimeout, are disposed on the way out.
func (p *Pool) tryAcquire() (Conn, error) {
	p.mux.Lock()

	if p.closed {
		p.mux.Unlock()
		return nil, fmt.Errorf("pool is closed")
	}

	now := time.Now()
	for len(p.idle) > 0 {
		entry := p.idle[0]
		p.idle = p.idle[1:]

		expired := p.config.IdleTimeout > 0 && now.Sub(entry.returnedAt) > p.config.IdleTimeout
		if entry.conn.Bound() && !expired {
			p.mux.Unlock()
			return entry.conn, nil
		}

		p.total--
		go entry.conn.Close()
	}

	if p.total < p.config.MaxConnections {
		p.total++
		p.mux.Unlock()

		conn, err := p.factory()
		if err != nil {
			p.mux.Lock()
			p.total--
			p.mux.Unlock()
			p.signal()
			return nil, err
		}
		return conn, nil
	}

	p.mux.Unlock()
	return nil, nil
}

// Release hands a session back. A session that is no longer bound is
// disposed instead of pooled.
func (p *Pool) Release(conn Conn) {
	if conn == nil {
		return
	}

	p.mux.Lock()
	if p.closed || !conn.Bound() {
		p.total--
		p.mux.Unlock()
		_ = conn.Close()
		p.signal()
		return
	}

	p.idle = append(p.idle, &pooledConn{conn: conn, returnedAt: time.Now()})
	p.mux.Unlock()
	p.signal()
}

// signal wakes one waiter without blocking
func (p *Pool) signal() {
	select {
	case p.returned <- struct{}{}:
	default:
	}
}

// Size returns (idle, total) session counts
func (p *Pool) Size() (int, int) {
	p.mux.Lock()
	defer p.mux.Unlock()
	return len(p.idle), p.total
}

// Close disposes all idle sessions and refuses further acquisitions.
// Checked-out sessions are disposed when released.
func (p *Pool) Close() error {
	p.mux.Lock()
	if p.closed {
		p.mux.Unlock()
		return nil
	}
	p.closed = true
	idle := p.idle
	p.idle = nil
	p.total -= len(idle)
	p.mux.Unlock()

	for _, entry := range idle {
		_ = entry.conn.Close()
	}
	return nil
}
