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

package tests

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"

	"github.com/messagehub-project/messagehub/internal/middleware"
	"github.com/messagehub-project/messagehub/internal/types"
)

// Subscription keys registered by the integration configuration
const (
	DemoSubscriptionKey = "demo-subscription-key"
	BetaSubscriptionKey = "beta-subscription-key"
)

// HubClient is a minimal API client bound to one tenant's subscription key
type HubClient struct {
	BaseURL string
	Key     string
	client  *http.Client
}

// NewHubClient creates a client for the hub at baseURL. An empty
// subscription key sends unauthenticated requests.
func NewHubClient(baseURL, subscriptionKey string) *HubClient {
	return &HubClient{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Key:     subscriptionKey,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

// Do performs a request with the client's subscription key. A nil body
// sends no payload; anything else is marshaled as JSON.
func (c *HubClient) Do(method, path string, body interface{}) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, c.BaseURL+path, reader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.Key != "" {
		req.Header.Set(middleware.SubscriptionKeyHeader, c.Key)
	}

	return c.client.Do(req)
}

// GetJSON performs a GET and decodes the response into out when out is
// non-nil and the body is non-empty. The status code is always returned.
func (c *HubClient) GetJSON(path string, out interface{}) (int, error) {
	return c.doJSON(http.MethodGet, path, nil, out)
}

// PostJSON posts body as JSON and decodes the response into out.
func (c *HubClient) PostJSON(path string, body, out interface{}) (int, error) {
	return c.doJSON(http.MethodPost, path, body, out)
}

func (c *HubClient) doJSON(method, path string, body, out interface{}) (int, error) {
	resp, err := c.Do(method, path, body)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, err
	}
	if out != nil && len(data) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			return resp.StatusCode, fmt.Errorf("failed to decode response %q: %w", string(data), err)
		}
	}
	return resp.StatusCode, nil
}

// WaitForStatus polls the message status until it reaches want or the
// timeout elapses. The last observed response is returned either way so
// a failing test can report where the message got stuck.
func WaitForStatus(client *HubClient, messageID, want string, timeout time.Duration) (*types.MessageStatusResponse, error) {
	deadline := time.Now().Add(timeout)
	var last *types.MessageStatusResponse

	for {
		var status types.MessageStatusResponse
		code, err := client.GetJSON("/api/messages/"+messageID+"/status", &status)
		if err == nil && code == http.StatusOK {
			last = &status
			if status.Status == want {
				return &status, nil
			}
		}

		if time.Now().After(deadline) {
			if last != nil {
				return last, fmt.Errorf("message %s stayed %s, wanted %s", messageID, last.Status, want)
			}
			return nil, fmt.Errorf("status of message %s never became readable, wanted %s", messageID, want)
		}
		time.Sleep(20 * time.Millisecond)
	}
}

// SendRequestBuilder builds submissions with usable defaults
type SendRequestBuilder struct {
	request types.SendMessageRequest
}

// NewSendRequest creates a builder holding a valid HTTP channel submission
func NewSendRequest() *SendRequestBuilder {
	return &SendRequestBuilder{
		request: types.SendMessageRequest{
			Recipient:   "+15551230001",
			Message:     "Hello from the hub!",
			ChannelType: "HTTP",
		},
	}
}

// WithRecipient sets the recipient
func (b *SendRequestBuilder) WithRecipient(recipient string) *SendRequestBuilder {
	b.request.Recipient = recipient
	return b
}

// WithMessage sets the message body
func (b *SendRequestBuilder) WithMessage(message string) *SendRequestBuilder {
	b.request.Message = message
	return b
}

// WithChannel sets the channel type
func (b *SendRequestBuilder) WithChannel(channelType string) *SendRequestBuilder {
	b.request.ChannelType = channelType
	return b
}

// Build returns the constructed request
func (b *SendRequestBuilder) Build() types.SendMessageRequest {
	return b.request
}

// ProviderCall is one request captured by the mock provider
type ProviderCall struct {
	To   string
	Text string
	From string
	Auth string
	Raw  []byte
}

// MockProvider is an HTTP SMS provider double. It records every call and
// answers with a provider message id unless a failure mode is configured.
type MockProvider struct {
	server *httptest.Server

	mux      sync.Mutex
	calls    []ProviderCall
	status   int
	body     string
	rejected map[string]bool
}

// NewMockProvider starts the provider double
func NewMockProvider() *MockProvider {
	p := &MockProvider{rejected: make(map[string]bool)}
	p.server = httptest.NewServer(http.HandlerFunc(p.handle))
	return p
}

// URL is the endpoint to put in a tenant's channel configuration
func (p *MockProvider) URL() string {
	return p.server.URL
}

// Close shuts the provider down
func (p *MockProvider) Close() {
	p.server.Close()
}

// SetResponse makes every following call answer with the given status and body
func (p *MockProvider) SetResponse(status int, body string) {
	p.mux.Lock()
	defer p.mux.Unlock()
	p.status = status
	p.body = body
}

// RejectRecipient makes calls for one recipient answer 400 while other
// recipients keep succeeding
func (p *MockProvider) RejectRecipient(to string) {
	p.mux.Lock()
	defer p.mux.Unlock()
	p.rejected[to] = true
}

// Calls returns a copy of the captured calls
func (p *MockProvider) Calls() []ProviderCall {
	p.mux.Lock()
	defer p.mux.Unlock()

	calls := make([]ProviderCall, len(p.calls))
	copy(calls, p.calls)
	return calls
}

// CallCount returns how many requests the provider has received
func (p *MockProvider) CallCount() int {
	p.mux.Lock()
	defer p.mux.Unlock()
	return len(p.calls)
}

func (p *MockProvider) handle(w http.ResponseWriter, r *http.Request) {
	raw, _ := io.ReadAll(r.Body)

	// The hub's default payload shape for tenants without a named provider
	var payload struct {
		To   string `json:"to"`
		Text string `json:"text"`
		From string `json:"from"`
	}
	_ = json.Unmarshal(raw, &payload)

	p.mux.Lock()
	p.calls = append(p.calls, ProviderCall{
		To:   payload.To,
		Text: payload.Text,
		From: payload.From,
		Auth: r.Header.Get("Authorization"),
		Raw:  raw,
	})
	sequence := len(p.calls)
	status, body := p.status, p.body
	rejected := p.rejected[payload.To]
	p.mux.Unlock()

	w.Header().Set("Content-Type", "application/json")
	switch {
	case rejected:
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"error":"recipient blocked"}`)
	case status != 0:
		w.WriteHeader(status)
		fmt.Fprint(w, body)
	default:
		fmt.Fprintf(w, `{"messageId":"prov-%d"}`, sequence)
	}
}

// TestDataGenerator produces valid request data
type TestDataGenerator struct {
	rand *rand.Rand
}

// NewTestDataGenerator creates a new test data generator
func NewTestDataGenerator() *TestDataGenerator {
	return &TestDataGenerator{
		rand: rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// RandomPhoneNumber generates a NANP-shaped test number
func (g *TestDataGenerator) RandomPhoneNumber() string {
	return fmt.Sprintf("+1555%07d", g.rand.Intn(10000000))
}

// RandomPhoneNumbers generates multiple distinct-looking test numbers
func (g *TestDataGenerator) RandomPhoneNumbers(count int) []string {
	numbers := make([]string, count)
	for i := 0; i < count; i++ {
		numbers[i] = g.RandomPhoneNumber()
	}
	return numbers
}

// RandomContent generates a short message body
func (g *TestDataGenerator) RandomContent() string {
	contents := []string{
		"Your verification code is 482910",
		"Your parcel is out for delivery",
		"Reminder: appointment tomorrow at 9:30",
		"Your invoice is ready for review",
		"Flash sale ends tonight",
	}
	return contents[g.rand.Intn(len(contents))]
}
