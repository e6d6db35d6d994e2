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
	"encoding/json"
	"testing"
	"time"

	"github.com/messagehub-project/messagehub/internal/config"
	"github.com/messagehub-project/messagehub/internal/logging"
)

func newTestEngine() *Engine {
	return NewEngine(logging.NewLogger(config.LoggingConfig{Level: "error", Format: "json"}))
}

func testRequest() Request {
	return Request{
		MessageID: "msg-1",
		TenantKey: "tenant-key",
		Recipient: "+15551234567",
		Content:   "hello world",
	}
}

func decodePayload(t *testing.T, raw string) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	if err := json.Unmarshal([]byte(raw), &body); err != nil {
		t.Fatalf("payload is not valid JSON: %v\n%s", err, raw)
	}
	return body
}

func TestBuildPayload_Generic(t *testing.T) {
	raw, err := newTestEngine().BuildPayload(testRequest(), &config.HTTPChannelConfig{Provider: "generic"})
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}

	body := decodePayload(t, raw)
	if body["to"] != "+15551234567" {
		t.Errorf("expected to=+15551234567, got %v", body["to"])
	}
	if body["text"] != "hello world" {
		t.Errorf("expected text=hello world, got %v", body["text"])
	}
	if body["from"] != DefaultSenderID {
		t.Errorf("expected default sender, got %v", body["from"])
	}
	if _, err := time.Parse(time.RFC3339, body["timestamp"].(string)); err != nil {
		t.Errorf("timestamp is not RFC3339: %v", body["timestamp"])
	}
}

func TestBuildPayload_UnknownProviderFallsBackToGeneric(t *testing.T) {
	raw, err := newTestEngine().BuildPayload(testRequest(), &config.HTTPChannelConfig{})
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}

	body := decodePayload(t, raw)
	if _, ok := body["to"]; !ok {
		t.Error("expected generic shape for empty provider")
	}
}

func TestBuildPayload_Twilio(t *testing.T) {
	raw, err := newTestEngine().BuildPayload(testRequest(), &config.HTTPChannelConfig{
		Provider: "twilio",
		SenderID: "Acme",
	})
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}

	body := decodePayload(t, raw)
	if body["To"] != "+15551234567" {
		t.Errorf("expected To field, got %v", body)
	}
	if body["From"] != "Acme" {
		t.Errorf("expected From=Acme, got %v", body["From"])
	}
	if body["Body"] != "hello world" {
		t.Errorf("expected Body field, got %v", body)
	}
	if _, ok := body["to"]; ok {
		t.Error("twilio payload must not carry lowercase keys")
	}
}

func TestBuildPayload_Vonage(t *testing.T) {
	raw, err := newTestEngine().BuildPayload(testRequest(), &config.HTTPChannelConfig{
		Provider:  "vonage",
		APIKey:    "key-1",
		APISecret: "secret-1",
	})
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}

	body := decodePayload(t, raw)
	if body["api_key"] != "key-1" || body["api_secret"] != "secret-1" {
		t.Errorf("expected vonage credentials, got %v", body)
	}
	if body["type"] != "text" {
		t.Errorf("expected type=text, got %v", body["type"])
	}
	if body["text"] != "hello world" {
		t.Errorf("expected text field, got %v", body)
	}
}

func TestBuildPayload_MessageBird(t *testing.T) {
	raw, err := newTestEngine().BuildPayload(testRequest(), &config.HTTPChannelConfig{
		Provider: "messagebird",
		SenderID: "Acme",
	})
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}

	body := decodePayload(t, raw)
	recipients, ok := body["recipients"].([]interface{})
	if !ok || len(recipients) != 1 || recipients[0] != "+15551234567" {
		t.Errorf("expected recipients array, got %v", body["recipients"])
	}
	if body["originator"] != "Acme" {
		t.Errorf("expected originator=Acme, got %v", body["originator"])
	}
	params, ok := body["params"].(map[string]interface{})
	if !ok || params["datacoding"] != "auto" {
		t.Errorf("expected params.datacoding=auto, got %v", body["params"])
	}
}

func TestBuildPayload_TextMagic(t *testing.T) {
	raw, err := newTestEngine().BuildPayload(testRequest(), &config.HTTPChannelConfig{Provider: "textmagic"})
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}

	body := decodePayload(t, raw)
	if body["phones"] != "+15551234567" {
		t.Errorf("expected phones field, got %v", body)
	}
	if body["text"] != "hello world" {
		t.Errorf("expected text field, got %v", body)
	}
}

func TestBuildPayload_ProviderCaseInsensitive(t *testing.T) {
	raw, err := newTestEngine().BuildPayload(testRequest(), &config.HTTPChannelConfig{Provider: "TWILIO"})
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}
	if _, ok := decodePayload(t, raw)["To"]; !ok {
		t.Error("provider matching must be case-insensitive")
	}
}

func TestBuildPayload_CustomTemplate(t *testing.T) {
	raw, err := newTestEngine().BuildPayload(testRequest(), &config.HTTPChannelConfig{
		Provider:       "custom",
		APIKey:         "key-1",
		SenderID:       "Acme",
		CustomTemplate: `{"dest":"{{.recipient}}","msg":"{{.message}}","sender":"{{.senderId}}","ref":"{{.messageId}}","tenant":"{{.tenantId}}","auth":"{{.apiKey}}"}`,
	})
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}

	body := decodePayload(t, raw)
	if body["dest"] != "+15551234567" {
		t.Errorf("expected dest from template, got %v", body)
	}
	if body["msg"] != "hello world" {
		t.Errorf("expected msg from template, got %v", body)
	}
	if body["sender"] != "Acme" || body["ref"] != "msg-1" || body["tenant"] != "tenant-key" || body["auth"] != "key-1" {
		t.Errorf("template variables not substituted: %v", body)
	}
}

func TestBuildPayload_CustomTemplateMissingFallsBack(t *testing.T) {
	raw, err := newTestEngine().BuildPayload(testRequest(), &config.HTTPChannelConfig{Provider: "custom"})
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}
	if _, ok := decodePayload(t, raw)["to"]; !ok {
		t.Error("missing template should fall back to the generic shape")
	}
}

func TestBuildPayload_CustomTemplateParseErrorFallsBack(t *testing.T) {
	raw, err := newTestEngine().BuildPayload(testRequest(), &config.HTTPChannelConfig{
		Provider:       "custom",
		CustomTemplate: `{"dest":"{{.recipient`,
	})
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}
	if _, ok := decodePayload(t, raw)["to"]; !ok {
		t.Error("unparsable template should fall back to the generic shape")
	}
}

func TestBuildPayload_NilConfig(t *testing.T) {
	if _, err := newTestEngine().BuildPayload(testRequest(), nil); err == nil {
		t.Error("expected error for nil channel config")
	}
}

func TestBuildPayload_TemplateCached(t *testing.T) {
	engine := newTestEngine()
	cfg := &config.HTTPChannelConfig{
		Provider:       "custom",
		CustomTemplate: `{"dest":"{{.recipient}}"}`,
	}

	for i := 0; i < 3; i++ {
		if _, err := engine.BuildPayload(testRequest(), cfg); err != nil {
			t.Fatalf("build %d failed: %v", i, err)
		}
	}

	engine.mux.RLock()
	cached := len(engine.templates)
	engine.mux.RUnlock()
	if cached != 1 {
		t.Errorf("expected 1 cached template, got %d", cached)
	}
}
