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
	"fmt"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

func TestNewRabbitMQQueue_EmptyURL(t *testing.T) {
	_, err := NewRabbitMQQueue(RabbitMQQueueConfig{}, newTestLogger())
	if err == nil {
		t.Fatal("expected error for empty URL")
	}
}

func TestRetryTierFor(t *testing.T) {
	tiers := []time.Duration{30 * time.Second, 2 * time.Minute, 10 * time.Minute}

	tests := []struct {
		name  string
		delay time.Duration
		want  int
	}{
		{"zero delay uses first tier", 0, 0},
		{"exact first tier", 30 * time.Second, 0},
		{"between tiers rounds up", time.Minute, 1},
		{"exact last tier", 10 * time.Minute, 2},
		{"beyond last tier clamps", time.Hour, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := retryTierFor(tiers, tt.delay); got != tt.want {
				t.Errorf("retryTierFor(%s) = %d, want %d", tt.delay, got, tt.want)
			}
		})
	}
}

func TestDeathCount(t *testing.T) {
	tests := []struct {
		name    string
		headers amqp.Table
		want    int
	}{
		{"nil headers", nil, 0},
		{"no x-death", amqp.Table{"foo": "bar"}, 0},
		{"empty x-death", amqp.Table{"x-death": []interface{}{}}, 0},
		{
			"int64 count",
			amqp.Table{"x-death": []interface{}{amqp.Table{"count": int64(3)}}},
			3,
		},
		{
			"first entry wins",
			amqp.Table{"x-death": []interface{}{
				amqp.Table{"count": int64(2)},
				amqp.Table{"count": int64(7)},
			}},
			2,
		},
		{"malformed entry", amqp.Table{"x-death": []interface{}{"bogus"}}, 0},
		{"count missing", amqp.Table{"x-death": []interface{}{amqp.Table{}}}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := deathCount(tt.headers); got != tt.want {
				t.Errorf("deathCount() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestIsPreconditionFailed(t *testing.T) {
	err := fmt.Errorf("Exception (406) Reason: \"PRECONDITION_FAILED - inequivalent arg 'x-message-ttl'\"")
	if !isPreconditionFailed(err) {
		t.Error("expected precondition failure to be detected")
	}
	if isPreconditionFailed(fmt.Errorf("connection refused")) {
		t.Error("connection refused is not a precondition failure")
	}
	if isPreconditionFailed(nil) {
		t.Error("nil error is not a precondition failure")
	}
}
