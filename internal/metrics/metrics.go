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
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	registry *prometheus.Registry

	// HTTP metrics
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight prometheus.Gauge

	// Submission metrics
	SubmissionsTotal *prometheus.CounterVec

	// Delivery metrics
	DeliveriesTotal  *prometheus.CounterVec
	DeliveryDuration *prometheus.HistogramVec
	DeliveryAttempts *prometheus.CounterVec
	DeliveryRetries  *prometheus.CounterVec

	// Error metrics
	ErrorsTotal *prometheus.CounterVec
}

// NewMetrics creates all Prometheus metrics on a private registry so the
// exposition carries only hub series and repeated construction in tests
// does not collide with the default registry
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Metrics{
		registry: registry,

		// HTTP metrics
		HTTPRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "msghub_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status_code"},
		),
		HTTPRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "msghub_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path", "status_code"},
		),
		HTTPRequestsInFlight: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "msghub_http_requests_in_flight",
				Help: "Number of HTTP requests currently being processed",
			},
		),

		// Submission metrics
		SubmissionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "msghub_submissions_total",
				Help: "Total number of message submissions",
			},
			[]string{"status", "channel"},
		),

		// Delivery metrics
		DeliveriesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "msghub_deliveries_total",
				Help: "Total number of message deliveries attempted",
			},
			[]string{"status", "channel"},
		),
		DeliveryDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "msghub_delivery_duration_seconds",
				Help:    "Message delivery duration in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"status", "channel"},
		),
		DeliveryAttempts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "msghub_delivery_attempts_total",
				Help: "Total number of delivery attempts",
			},
			[]string{"channel"},
		),
		DeliveryRetries: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "msghub_delivery_retries_total",
				Help: "Total number of delivery retries",
			},
			[]string{"channel", "reason"},
		),

		// Error metrics
		ErrorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "msghub_errors_total",
				Help: "Total number of errors",
			},
			[]string{"component", "error_code", "error_type"},
		),
	}
}

// RecordHTTPRequest records HTTP request metrics
func (m *Metrics) RecordHTTPRequest(method, path string, statusCode int, duration time.Duration) {
	statusStr := strconv.Itoa(statusCode)
	m.HTTPRequestsTotal.WithLabelValues(method, path, statusStr).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path, statusStr).Observe(duration.Seconds())
}

// IncHTTPRequestsInFlight increments in-flight HTTP requests
func (m *Metrics) IncHTTPRequestsInFlight() {
	m.HTTPRequestsInFlight.Inc()
}

// DecHTTPRequestsInFlight decrements in-flight HTTP requests
func (m *Metrics) DecHTTPRequestsInFlight() {
	m.HTTPRequestsInFlight.Dec()
}

// RecordSubmission records submission metrics
func (m *Metrics) RecordSubmission(status, channelType string) {
	m.SubmissionsTotal.WithLabelValues(status, channelType).Inc()
}

// RecordDelivery records delivery metrics
func (m *Metrics) RecordDelivery(status, channelType string, duration time.Duration, attempts int) {
	m.DeliveriesTotal.WithLabelValues(status, channelType).Inc()
	m.DeliveryDuration.WithLabelValues(status, channelType).Observe(duration.Seconds())

	if attempts > 0 {
		m.DeliveryAttempts.WithLabelValues(channelType).Add(float64(attempts))
	}
}

// RecordDeliveryRetry records delivery retry metrics
func (m *Metrics) RecordDeliveryRetry(channelType, reason string) {
	m.DeliveryRetries.WithLabelValues(channelType, reason).Inc()
}

// RecordError records error metrics
func (m *Metrics) RecordError(component, errorCode, errorType string) {
	m.ErrorsTotal.WithLabelValues(component, errorCode, errorType).Inc()
}

// Handler serves the registry in Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Timer provides a convenient way to time operations
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Duration returns the elapsed duration
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}

// ObserveHistogram observes the elapsed time in a histogram
func (t *Timer) ObserveHistogram(histogram prometheus.Observer) {
	histogram.Observe(t.Duration().Seconds())
}
