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
	"encoding/json"
	"net/http"
	"runtime"
	"strconv"
	"sync"
	"sync/atomic"
	"time"
)

// SimpleMetrics provides a simple in-memory metrics implementation
type SimpleMetrics struct {
	mu sync.RWMutex

	// HTTP metrics
	httpRequests  map[string]int64
	httpDurations map[string][]float64
	httpInFlight  int64

	// Submission metrics
	submissions map[string]int64

	// Delivery metrics
	deliveries        map[string]int64
	deliveryDurations map[string][]float64
	deliveryAttempts  map[string]int64
	deliveryRetries   map[string]int64

	// Error metrics
	errors map[string]int64

	// Timestamps
	startTime  time.Time
	lastUpdate time.Time
}

// NewSimpleMetrics creates a new simple metrics instance
func NewSimpleMetrics() *SimpleMetrics {
	return &SimpleMetrics{
		httpRequests:      make(map[string]int64),
		httpDurations:     make(map[string][]float64),
		submissions:       make(map[string]int64),
		deliveries:        make(map[string]int64),
		deliveryDurations: make(map[string][]float64),
		deliveryAttempts:  make(map[string]int64),
		deliveryRetries:   make(map[string]int64),
		errors:            make(map[string]int64),
		startTime:         time.Now(),
		lastUpdate:        time.Now(),
	}
}

// RecordHTTPRequest records HTTP request metrics
func (m *SimpleMetrics) RecordHTTPRequest(method, path string, statusCode int, duration time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := method + ":" + path + ":" + strconv.Itoa(statusCode)
	m.httpRequests[key]++
	m.httpDurations[key] = append(m.httpDurations[key], duration.Seconds())
	m.lastUpdate = time.Now()
}

// IncHTTPRequestsInFlight increments in-flight HTTP requests
func (m *SimpleMetrics) IncHTTPRequestsInFlight() {
	atomic.AddInt64(&m.httpInFlight, 1)
}

// DecHTTPRequestsInFlight decrements in-flight HTTP requests
func (m *SimpleMetrics) DecHTTPRequestsInFlight() {
	atomic.AddInt64(&m.httpInFlight, -1)
}

// RecordSubmission records submission metrics
func (m *SimpleMetrics) RecordSubmission(status, channelType string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := status + ":" + channelType
	m.submissions[key]++
	m.lastUpdate = time.Now()
}

// RecordDelivery records delivery metrics
func (m *SimpleMetrics) RecordDelivery(status, channelType string, duration time.Duration, attempts int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := status + ":" + channelType
	m.deliveries[key]++
	m.deliveryDurations[key] = append(m.deliveryDurations[key], duration.Seconds())
	m.deliveryAttempts[channelType] += int64(attempts)
	m.lastUpdate = time.Now()
}

// RecordDeliveryRetry records delivery retry metrics
func (m *SimpleMetrics) RecordDeliveryRetry(channelType, reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := channelType + ":" + reason
	m.deliveryRetries[key]++
	m.lastUpdate = time.Now()
}

// RecordError records error metrics
func (m *SimpleMetrics) RecordError(component, errorCode, errorType string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := component + ":" + errorCode + ":" + errorType
	m.errors[key]++
	m.lastUpdate = time.Now()
}

// Handler serves the JSON snapshot
func (m *SimpleMetrics) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, err := m.ToJSON()
		if err != nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusInternalServerError)
			w.Write([]byte(`{"error":"failed to serialize metrics"}`))
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write(data)
	})
}

// ToJSON exports metrics as JSON
func (m *SimpleMetrics) ToJSON() ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	data := map[string]interface{}{
		"timestamp":      m.lastUpdate.Unix(),
		"uptime_seconds": time.Since(m.startTime).Seconds(),
		"http": map[string]interface{}{
			"requests":  m.httpRequests,
			"durations": m.calculateStats(m.httpDurations),
			"in_flight": atomic.LoadInt64(&m.httpInFlight),
		},
		"submissions": map[string]interface{}{
			"total": m.submissions,
		},
		"deliveries": map[string]interface{}{
			"total":     m.deliveries,
			"durations": m.calculateStats(m.deliveryDurations),
			"attempts":  m.deliveryAttempts,
			"retries":   m.deliveryRetries,
		},
		"system": map[string]interface{}{
			"memory_usage_bytes": memStats.Alloc,
			"memory_total_bytes": memStats.TotalAlloc,
			"goroutines_active":  runtime.NumGoroutine(),
			"gc_cycles":          memStats.NumGC,
		},
		"errors": m.errors,
	}

	return json.Marshal(data)
}

// calculateStats calculates basic statistics for duration arrays
func (m *SimpleMetrics) calculateStats(data map[string][]float64) map[string]interface{} {
	stats := make(map[string]interface{})

	for key, values := range data {
		if len(values) == 0 {
			continue
		}

		sum := 0.0
		min := values[0]
		max := values[0]

		for _, v := range values {
			sum += v
			if v < min {
				min = v
			}
			if v > max {
				max = v
			}
		}

		avg := sum / float64(len(values))

		stats[key] = map[string]interface{}{
			"count": len(values),
			"sum":   sum,
			"avg":   avg,
			"min":   min,
			"max":   max,
		}
	}

	return stats
}
