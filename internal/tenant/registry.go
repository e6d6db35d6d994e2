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

package tenant

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"time"

	"github.com/messagehub-project/messagehub/internal/config"
	"github.com/messagehub-project/messagehub/internal/types"
)

// defaultRetryDelays is the worker-level redelivery schedule for channels
// whose configuration does not carry its own.
var defaultRetryDelays = []time.Duration{
	30 * time.Second,
	2 * time.Minute,
	10 * time.Minute,
}

// Tenant is the runtime view of a configured tenant. Immutable after startup.
type Tenant struct {
	Name string
	Key  string
	HTTP *config.HTTPChannelConfig
	SMPP *config.SMPPChannelConfig

	keyHash string
}

// Registry holds all configured tenants and authenticates subscription keys
type Registry struct {
	tenants []*Tenant
}

// NewRegistry creates a registry from the startup tenant configuration
func NewRegistry(configs []config.TenantConfig) *Registry {
	tenants := make([]*Tenant, 0, len(configs))
	for i := range configs {
		tenants = append(tenants, &Tenant{
			Name:    configs[i].Name,
			Key:     configs[i].SubscriptionKey,
			HTTP:    configs[i].HTTP,
			SMPP:    configs[i].SMPP,
			keyHash: hashKey(configs[i].SubscriptionKey),
		})
	}
	return &Registry{tenants: tenants}
}

// Authenticate resolves a subscription key to its tenant. The comparison is
// constant-time per candidate to prevent timing attacks on the key.
func (r *Registry) Authenticate(subscriptionKey string) (*Tenant, bool) {
	if subscriptionKey == "" {
		return nil, false
	}

	hashed := []byte(hashKey(subscriptionKey))

	var match *Tenant
	for _, tenant := range r.tenants {
		if subtle.ConstantTimeCompare([]byte(tenant.keyHash), hashed) == 1 {
			match = tenant
		}
	}

	if match == nil {
		return nil, false
	}
	return match, true
}

// Tenants returns all registered tenants
func (r *Registry) Tenants() []*Tenant {
	return r.tenants
}

// Count returns the number of registered tenants
func (r *Registry) Count() int {
	return len(r.tenants)
}

// GetStats returns tenant registry statistics
func (r *Registry) GetStats() map[string]interface{} {
	httpTenants := 0
	smppTenants := 0
	for _, tenant := range r.tenants {
		if tenant.HTTP != nil {
			httpTenants++
		}
		if tenant.SMPP != nil {
			smppTenants++
		}
	}

	return map[string]interface{}{
		"tenants":      len(r.tenants),
		"http_tenants": httpTenants,
		"smpp_tenants": smppTenants,
	}
}

// HasChannel reports whether the tenant has the given channel configured
func (t *Tenant) HasChannel(channelType types.ChannelType) bool {
	switch channelType {
	case types.ChannelHTTP:
		return t.HTTP != nil
	case types.ChannelSMPP:
		return t.SMPP != nil
	default:
		return false
	}
}

// ChannelTypes returns the channel types the tenant has configured
func (t *Tenant) ChannelTypes() []types.ChannelType {
	var channels []types.ChannelType
	if t.HTTP != nil {
		channels = append(channels, types.ChannelHTTP)
	}
	if t.SMPP != nil {
		channels = append(channels, types.ChannelSMPP)
	}
	return channels
}

// MaxRetries returns the total delivery attempt budget for the channel
func (t *Tenant) MaxRetries(channelType types.ChannelType) int {
	switch channelType {
	case types.ChannelHTTP:
		if t.HTTP != nil {
			return t.HTTP.MaxRetries
		}
	case types.ChannelSMPP:
		if t.SMPP != nil {
			return t.SMPP.FailedMessage.MaxRetries
		}
	}
	return 0
}

// RetryDelay returns the queue redelivery delay for the given attempt number.
// Attempts are 1-based; delays beyond the schedule reuse the last tier.
func (t *Tenant) RetryDelay(channelType types.ChannelType, attempt int) time.Duration {
	delays := defaultRetryDelays
	if channelType == types.ChannelSMPP && t.SMPP != nil && len(t.SMPP.FailedMessage.RetryDelays) > 0 {
		delays = t.SMPP.FailedMessage.RetryDelays
	}

	idx := attempt - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(delays) {
		idx = len(delays) - 1
	}
	return delays[idx]
}

// MaxAge returns how long a message may keep retrying before it is abandoned.
// Zero means no age limit.
func (t *Tenant) MaxAge(channelType types.ChannelType) time.Duration {
	if channelType == types.ChannelSMPP && t.SMPP != nil {
		return t.SMPP.FailedMessage.DeadLetterAfter
	}
	return 0
}

// hashKey hashes a subscription key for storage and comparison
func hashKey(key string) string {
	hash := sha256.Sum256([]byte(key))
	return hex.EncodeToString(hash[:])
}
