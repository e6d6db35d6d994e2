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

package payload

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"text/template"
	"time"

	"github.com/messagehub-project/messagehub/internal/config"
	"github.com/messagehub-project/messagehub/internal/logging"
)

// DefaultSenderID is used when a tenant has no sender id configured
const DefaultSenderID = "MessageHub"

// Request carries the message fields the engine renders into a provider body
type Request struct {
	MessageID string
	TenantKey string
	Recipient string
	Content   string
}

// Engine renders provider-shaped JSON request bodies for the HTTP channel.
// Custom templates are parsed once and cached by their source text.
type Engine struct {
	logger *logging.Logger

	mux       sync.RWMutex
	templates map[string]*template.Template
}

// NewEngine creates a payload engine
func NewEngine(logger *logging.Logger) *Engine {
	return &Engine{
		logger:    logger.WithComponent("payload"),
		templates: make(map[string]*template.Template),
	}
}

type genericPayload struct {
	To        string `json:"to"`
	Text      string `json:"text"`
	From      string `json:"from"`
	Timestamp string `json:"timestamp"`
}

type twilioPayload struct {
	To   string `json:"To"`
	From string `json:"From"`
	Body string `json:"Body"`
}

type vonagePayload struct {
	APIKey    string `json:"api_key"`
	APISecret string `json:"api_secret"`
	To        string `json:"to"`
	From      string `json:"from"`
	Text      string `json:"text"`
	Type      string `json:"type"`
}

type messageBirdParams struct {
	DataCoding string `json:"datacoding"`
}

type messageBirdPayload struct {
	Recipients []string          `json:"recipients"`
	Originator string            `json:"originator"`
	Body       string            `json:"body"`
	Params     messageBirdParams `json:"params"`
}

type textMagicPayload struct {
	Text   string `json:"text"`
	Phones string `json:"phones"`
	From   string `json:"from"`
}

// BuildPayload renders the request body for the tenant's configured provider.
// An unusable custom template falls back to the generic shape with a warning
// rather than failing the delivery.
func (e *Engine) BuildPayload(req Request, channelConfig *config.HTTPChannelConfig) (string, error) {
	if channelConfig == nil {
		return "", fmt.Errorf("channel config cannot be nil")
	}

	from := channelConfig.SenderID
	if from == "" {
		from = DefaultSenderID
	}
	timestamp := time.Now().UTC().Format(time.RFC3339)

	var body interface{}
	switch strings.ToLower(channelConfig.Provider) {
	case "twilio":
		body = twilioPayload{To: req.Recipient, From: from, Body: req.Content}

	case "vonage":
		body = vonagePayload{
			APIKey:    channelConfig.APIKey,
			APISecret: channelConfig.APISecret,
			To:        req.Recipient,
			From:      from,
			Text:      req.Content,
			Type:      "text",
		}

	case "messagebird":
		body = messageBirdPayload{
			Recipients: []string{req.Recipient},
			Originator: from,
			Body:       req.Content,
			Params:     messageBirdParams{DataCoding: "auto"},
		}

	case "textmagic":
		body = textMagicPayload{Text: req.Content, Phones: req.Recipient, From: from}

	case "custom":
		rendered, err := e.renderCustom(req, channelConfig, from, timestamp)
		if err == nil {
			return rendered, nil
		}
		e.logger.Warnf("custom template unusable for tenant %s, falling back to generic payload: %v",
			req.TenantKey, err)
		body = genericPayload{To: req.Recipient, Text: req.Content, From: from, Timestamp: timestamp}

	default:
		body = genericPayload{To: req.Recipient, Text: req.Content, From: from, Timestamp: timestamp}
	}

	data, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("failed to marshal payload: %w", err)
	}
	return string(data), nil
}

func (e *Engine) renderCustom(req Request, channelConfig *config.HTTPChannelConfig, from, timestamp string) (string, error) {
	if channelConfig.CustomTemplate == "" {
		return "", fmt.Errorf("no custom template configured")
	}

	tmpl, err := e.lookupTemplate(channelConfig.CustomTemplate)
	if err != nil {
		return "", err
	}

	vars := map[string]string{
		"recipient": req.Recipient,
		"message":   req.Content,
		"senderId":  from,
		"apiKey":    channelConfig.APIKey,
		"timestamp": timestamp,
		"messageId": req.MessageID,
		"tenantId":  req.TenantKey,
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, vars); err != nil {
		return "", fmt.Errorf("template execution failed: %w", err)
	}
	return buf.String(), nil
}

// lookupTemplate returns the parsed template for the given source,
// parsing and caching it on first sight
func (e *Engine) lookupTemplate(source string) (*template.Template, error) {
	e.mux.RLock()
	tmpl, ok := e.templates[source]
	e.mux.RUnlock()
	if ok {
		return tmpl, nil
	}

	parsed, err := template.New("payload").Parse(source)
	if err != nil {
		return nil, fmt.Errorf("template parse failed: %w", err)
	}

	e.mux.Lock()
	e.templates[source] = parsed
	e.mux.Unlock()

	return parsed, nil
}
