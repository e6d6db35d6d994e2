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

package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	sweepInterval = 5 * time.Minute
	idleTTL       = 10 * time.Minute
)

type tenantEntry struct {
	limiter  *rate.Limiter
	lastUsed time.Time
}

// TenantLimiter enforces a per-tenant request rate. Each tenant gets a
// token bucket sized to its configured requests-per-second; buckets are
// created lazily and evicted after ten minutes without traffic.
type TenantLimiter struct {
	mux      sync.Mutex
	limiters map[string]*tenantEntry
	done     chan struct{}
	once     sync.Once

	// now is replaceable in tests
	now func() time.Time
}

// NewTenantLimiter creates a limiter registry and starts the idle sweeper
func NewTenantLimiter() *TenantLimiter {
	tl := &TenantLimiter{
		limiters: make(map[string]*tenantEntry),
		done:     make(chan struct{}),
		now:      time.Now,
	}

	go tl.sweepLoop()

	return tl
}

// Allow reports whether the tenant may submit another request right now.
// maxRPS is both the refill rate and the burst capacity. A maxRPS of zero
// or less means the tenant is not rate limited.
func (tl *TenantLimiter) Allow(subscriptionKey string, maxRPS int) bool {
	if maxRPS <= 0 {
		return true
	}

	now := tl.now()

	tl.mux.Lock()
	entry, ok := tl.limiters[subscriptionKey]
	if !ok {
		entry = &tenantEntry{limiter: rate.NewLimiter(rate.Limit(maxRPS), maxRPS)}
		tl.limiters[subscriptionKey] = entry
	} else if entry.limiter.Limit() != rate.Limit(maxRPS) {
		// Tenant limit changed since the bucket was created
		entry.limiter.SetLimitAt(now, rate.Limit(maxRPS))
		entry.limiter.SetBurstAt(now, maxRPS)
	}
	entry.lastUsed = now
	tl.mux.Unlock()

	return entry.limiter.AllowN(now, 1)
}

func (tl *TenantLimiter) sweepLoop() {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-tl.done:
			return
		case <-ticker.C:
			tl.evictIdle(tl.now())
		}
	}
}

// evictIdle drops buckets that have not been touched within idleTTL
func (tl *TenantLimiter) evictIdle(now time.Time) {
	cutoff := now.Add(-idleTTL)

	tl.mux.Lock()
	defer tl.mux.Unlock()

	for key, entry := range tl.limiters {
		if entry.lastUsed.Before(cutoff) {
			delete(tl.limiters, key)
		}
	}
}

// GetStats returns limiter registry statistics
func (tl *TenantLimiter) GetStats() map[string]interface{} {
	tl.mux.Lock()
	defer tl.mux.Unlock()

	return map[string]interface{}{
		"active_limiters": len(tl.limiters),
	}
}

// Close stops the idle sweeper
func (tl *TenantLimiter) Close() {
	tl.once.Do(func() {
		close(tl.done)
	})
}
