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
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/messagehub-project/messagehub/internal/config"
	"github.com/messagehub-project/messagehub/internal/payload"
	"github.com/messagehub-project/messagehub/internal/ratelimit"
	"github.com/messagehub-project/messagehub/internal/resilience"
	"github.com/messagehub-project/messagehub/internal/tenant"
	"github.com/messagehub-project/messagehub/internal/types"
)

// maxResponseBytes bounds how much of a provider response is read
const maxResponseBytes = 64 * 1024

// externalIDKeys is the search order for the provider message id in a
// successful response body
var externalIDKeys = []string{"messageId", "id", "message_id", "sid", "uuid", "reference"}

// HTTPChannel delivers messages by POSTing provider-shaped JSON bodies to
// the tenant's configured endpoint. Requests run through a per-tenant
// resilience pipeline; submission rate is bounded by the tenant limiter.
type HTTPChannel struct {
	registry *tenant.Registry
	limiter  *ratelimit.TenantLimiter
	payloads *payload.Engine
	client   *http.Client

	mux       sync.Mutex
	pipelines map[string]*resilience.Pipeline
}

var _ Channel = (*HTTPChannel)(nil)

// NewHTTPChannel creates the HTTP delivery channel
func NewHTTPChannel(registry *tenant.Registry, limiter *ratelimit.TenantLimiter, payloads *payload.Engine) *HTTPChannel {
	// Pooled transport shared by all tenants; per-attempt deadlines come
	// from the resilience pipeline's context
	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 25,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	}

	return &HTTPChannel{
		registry:  registry,
		limiter:   limiter,
		payloads:  payloads,
		client:    &http.Client{Transport: transport},
		pipelines: make(map[string]*resilience.Pipeline),
	}
}

// Send delivers the message to the tenant's HTTP provider
func (h *HTTPChannel) Send(ctx context.Context, event *types.MessageQueuedEvent) *types.ChannelResult {
	t, ok := h.registry.Authenticate(event.SubscriptionKey)
	if !ok || t.HTTP == nil {
		return failureResult("HTTP channel is not configured for tenant", false)
	}
	channelConfig := t.HTTP

	if !h.limiter.Allow(t.Key, channelConfig.MaxRequestsPerSecond) {
		return failureResult("Rate limit exceeded", true)
	}

	body, err := h.payloads.BuildPayload(payload.Request{
		MessageID: event.MessageID,
		TenantKey: t.Key,
		Recipient: event.Recipient,
		Content:   event.Content,
	}, channelConfig)
	if err != nil {
		return failureResult(fmt.Sprintf("Failed to build payload: %v", err), false)
	}

	result, err := h.pipelineFor(t.Key, channelConfig).Execute(ctx, func(attemptCtx context.Context) (*resilience.Result, error) {
		return h.attempt(attemptCtx, channelConfig, body)
	})
	if err != nil {
		if resilience.IsCircuitOpen(err) {
			return failureResult("Circuit breaker is open", true)
		}
		return failureResult(err.Error(), resilience.IsRetryableError(err))
	}

	if result.StatusCode >= 200 && result.StatusCode < 300 {
		return successResult(externalIDFromBody(result.Body))
	}

	message := fmt.Sprintf("HTTP %d: %s", result.StatusCode, string(result.Body))
	return failureResult(message, resilience.IsRetryableStatus(result.StatusCode))
}

// attempt performs one POST and drains the response so attempts never
// share connection state
func (h *HTTPChannel) attempt(ctx context.Context, channelConfig *config.HTTPChannelConfig, body string) (*resilience.Result, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, channelConfig.Endpoint, strings.NewReader(body))
	if err != nil {
		return nil, err
	}

	req.Header.Set("Content-Type", "application/json")
	applyAuth(req, channelConfig)
	for key, value := range channelConfig.CustomHeaders {
		req.Header.Set(key, value)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, err
	}

	return &resilience.Result{StatusCode: resp.StatusCode, Body: data}, nil
}

func (h *HTTPChannel) pipelineFor(tenantKey string, channelConfig *config.HTTPChannelConfig) *resilience.Pipeline {
	h.mux.Lock()
	defer h.mux.Unlock()

	if p, ok := h.pipelines[tenantKey]; ok {
		return p
	}

	p := resilience.NewPipeline(tenantKey, resilience.Config{
		Timeout:          channelConfig.Timeout,
		MaxRetries:       channelConfig.MaxRetries,
		FailureThreshold: channelConfig.CircuitBreaker.FailureThreshold,
		RecoveryTimeout:  channelConfig.CircuitBreaker.RecoveryTimeout,
	})
	h.pipelines[tenantKey] = p
	return p
}

// applyAuth sets the credential headers for the tenant's auth scheme.
// Unrecognized schemes fall back to bearer when an api key is present.
func applyAuth(req *http.Request, channelConfig *config.HTTPChannelConfig) {
	switch strings.ToLower(channelConfig.AuthType) {
	case "bearer":
		req.Header.Set("Authorization", "Bearer "+channelConfig.APIKey)
	case "apikey":
		req.Header.Set("X-API-Key", channelConfig.APIKey)
	case "basic":
		credentials := base64.StdEncoding.EncodeToString([]byte(channelConfig.APIKey + ":" + channelConfig.APISecret))
		req.Header.Set("Authorization", "Basic "+credentials)
	default:
		if channelConfig.APIKey != "" {
			req.Header.Set("Authorization", "Bearer "+channelConfig.APIKey)
		}
	}
}

// externalIDFromBody extracts the provider message id from a successful
// response, trying the well-known top-level keys in order, then data.id
func externalIDFromBody(body []byte) string {
	var parsed map[string]interface{}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return ""
	}

	for _, key := range externalIDKeys {
		if id := stringValue(parsed[key]); id != "" {
			return id
		}
	}

	if data, ok := parsed["data"].(map[string]interface{}); ok {
		return stringValue(data["id"])
	}
	return ""
}

func stringValue(v interface{}) string {
	switch val := v.(type) {
	case string:
		return val
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	default:
		return ""
	}
}
