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

package metrics

import (
	"net/http"
	"strings"
	"time"

	"github.com/messagehub-project/messagehub/internal/config"
)

// MetricsProvider is the recording surface shared by the HTTP server,
// the submission processor and the delivery worker
type MetricsProvider interface {
	// RecordHTTPRequest records HTTP request metrics
	RecordHTTPRequest(method, path string, statusCode int, duration time.Duration)

	// IncHTTPRequestsInFlight increments in-flight HTTP requests
	IncHTTPRequestsInFlight()

	// DecHTTPRequestsInFlight decrements in-flight HTTP requests
	DecHTTPRequestsInFlight()

	// RecordSubmission records the outcome of a message submission
	RecordSubmission(status, channelType string)

	// RecordDelivery records the outcome of a delivery attempt
	RecordDelivery(status, channelType string, duration time.Duration, attempts int)

	// RecordDeliveryRetry records a delivery scheduled for another attempt
	RecordDeliveryRetry(channelType, reason string)

	// RecordError records an internal error by component
	RecordError(component, errorCode, errorType string)

	// Handler serves the metrics endpoint
	Handler() http.Handler
}

var (
	_ MetricsProvider = (*Metrics)(nil)
	_ MetricsProvider = (*SimpleMetrics)(nil)
)

// NewMetricsProvider creates the provider selected by configuration.
// Prometheus exposition is the default; "memory" keeps an in-process
// JSON snapshot for deployments without a scraper.
func NewMetricsProvider(cfg *config.MetricsConfig) MetricsProvider {
	if cfg != nil && strings.ToLower(cfg.Type) == "memory" {
		return NewSimpleMetrics()
	}
	return NewMetrics()
}
