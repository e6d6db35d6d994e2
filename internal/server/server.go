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

package server

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/messagehub-project/messagehub/internal/channel"
	"github.com/messagehub-project/messagehub/internal/config"
	"github.com/messagehub-project/messagehub/internal/logging"
	"github.com/messagehub-project/messagehub/internal/metrics"
	"github.com/messagehub-project/messagehub/internal/middleware"
	"github.com/messagehub-project/messagehub/internal/payload"
	"github.com/messagehub-project/messagehub/internal/processing"
	"github.com/messagehub-project/messagehub/internal/queue"
	"github.com/messagehub-project/messagehub/internal/ratelimit"
	"github.com/messagehub-project/messagehub/internal/smpp"
	"github.com/messagehub-project/messagehub/internal/storage"
	"github.com/messagehub-project/messagehub/internal/tenant"
	"github.com/messagehub-project/messagehub/internal/types"
	"github.com/messagehub-project/messagehub/internal/validation"
	"github.com/messagehub-project/messagehub/internal/worker"
)

// sweepInterval is how often terminal rows past retention are purged.
const sweepInterval = time.Hour

// Server represents the message hub HTTP server
type Server struct {
	config      *config.Config
	httpServer  *http.Server
	router      *gin.Engine
	registry    *tenant.Registry
	validator   *validation.Validator
	processor   processing.Service
	store       storage.MessageStore
	queue       queue.MessageQueue
	worker      *worker.Worker
	smppChannel *smpp.SMPPChannel
	logger      *logging.Logger
	metrics     metrics.MetricsProvider

	sweepStop chan struct{}
	sweepDone chan struct{}
}

// New creates a new hub server
func New(cfg *config.Config) (*Server, error) {
	// Create logger
	logger := logging.NewLogger(cfg.Logging).WithComponent("server")

	// Create metrics if enabled
	var metricsInstance metrics.MetricsProvider
	if cfg.Metrics != nil && cfg.Metrics.Enabled {
		metricsInstance = metrics.NewMetricsProvider(cfg.Metrics)
	}

	// Create storage
	store, err := storage.NewStorage(storageConfigFrom(cfg))
	if err != nil {
		return nil, fmt.Errorf("failed to create message storage: %w", err)
	}

	// Create queue
	messageQueue, err := queue.NewQueue(queueConfigFrom(cfg), logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create message queue: %w", err)
	}

	// Create tenant registry
	registry := tenant.NewRegistry(cfg.Tenants)

	// Create delivery channels. The SMPP channel keeps its own sessions
	// and writes receipt outcomes back through the store.
	channelRouter := channel.NewRouter()
	httpChannel := channel.NewHTTPChannel(registry, ratelimit.NewTenantLimiter(), payload.NewEngine(logger))
	smppChannel := smpp.NewSMPPChannel(registry, store, logger)
	channelRouter.Register(types.ChannelHTTP, httpChannel)
	channelRouter.Register(types.ChannelSMPP, smppChannel)

	// Create delivery worker
	deliveryWorker := worker.New(store, messageQueue, registry, channelRouter, metricsInstance, logger)

	// Create message processor
	validator := validation.New()
	processor := processing.NewProcessor(store, messageQueue, validator, metricsInstance, logger)

	// Set Gin mode based on environment
	if cfg.Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	// Create router
	router := gin.New()

	// Create server
	server := &Server{
		config:      cfg,
		router:      router,
		registry:    registry,
		validator:   validator,
		processor:   processor,
		store:       store,
		queue:       messageQueue,
		worker:      deliveryWorker,
		smppChannel: smppChannel,
		logger:      logger,
		metrics:     metricsInstance,
	}

	// Setup middleware
	server.setupMiddleware()

	// Setup routes
	server.setupRoutes()

	// Create HTTP server
	server.httpServer = &http.Server{
		Addr:         cfg.Server.Address,
		Handler:      server.router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Configure TLS if enabled
	if cfg.TLS.Enabled {
		tlsConfig, err := server.createTLSConfig()
		if err != nil {
			return nil, fmt.Errorf("failed to create TLS config: %w", err)
		}
		server.httpServer.TLSConfig = tlsConfig
	}

	return server, nil
}

// storageConfigFrom maps the file configuration onto the storage factory
// configuration.
func storageConfigFrom(cfg *config.Config) storage.StorageConfig {
	if cfg.Storage.Type == "database" && cfg.Storage.Database != nil {
		return storage.StorageConfig{
			Type: cfg.Storage.Type,
			Database: &storage.DatabaseStorageConfig{
				Driver:           cfg.Storage.Database.Driver,
				ConnectionString: cfg.Storage.Database.ConnectionString,
				MaxConnections:   cfg.Storage.Database.MaxConnections,
				MaxIdleTime:      cfg.Storage.Database.MaxIdleTime,
			},
		}
	}
	return storage.DefaultStorageConfig() // Default to memory storage
}

// queueConfigFrom maps the file configuration onto the queue factory
// configuration. The delivery worker pool consumes from the queue, so the
// configured worker count rides along.
func queueConfigFrom(cfg *config.Config) queue.QueueConfig {
	if cfg.Queue.Type == "rabbitmq" && cfg.Queue.RabbitMQ != nil {
		return queue.QueueConfig{
			Type: cfg.Queue.Type,
			RabbitMQ: &queue.RabbitMQQueueConfig{
				URL:           cfg.Queue.RabbitMQ.URL,
				Exchange:      cfg.Queue.RabbitMQ.Exchange,
				Queue:         cfg.Queue.RabbitMQ.Queue,
				RoutingKey:    cfg.Queue.RabbitMQ.RoutingKey,
				PrefetchCount: cfg.Queue.RabbitMQ.PrefetchCount,
				Workers:       cfg.Delivery.Workers,
				RetryDelays:   cfg.Queue.RabbitMQ.RetryDelays,
			},
		}
	}

	queueConfig := queue.DefaultQueueConfig()
	if cfg.Delivery.Workers > 0 {
		queueConfig.Memory.Workers = cfg.Delivery.Workers
	}
	return queueConfig
}

// Start starts the delivery pipeline and then the HTTP server. It blocks
// until the HTTP server stops.
func (s *Server) Start() error {
	if err := s.worker.Start(); err != nil {
		return fmt.Errorf("failed to start delivery worker: %w", err)
	}

	s.startRetentionSweep()

	if s.config.TLS.Enabled {
		return s.httpServer.ListenAndServeTLS(s.config.TLS.CertFile, s.config.TLS.KeyFile)
	}
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server: the HTTP listener first so no
// new submissions arrive, then the delivery pipeline, then the transports
// underneath it.
func (s *Server) Shutdown(ctx context.Context) error {
	httpErr := s.httpServer.Shutdown(ctx)

	s.stopRetentionSweep()
	s.worker.Stop()

	if err := s.queue.Close(); err != nil {
		s.logger.Error("Failed to close message queue", err)
	}
	if err := s.smppChannel.Close(); err != nil {
		s.logger.Error("Failed to close SMPP sessions", err)
	}
	if err := s.store.Close(); err != nil {
		s.logger.Error("Failed to close message storage", err)
	}

	return httpErr
}

// GetRouter returns the Gin router for testing purposes
func (s *Server) GetRouter() *gin.Engine {
	return s.router
}

// startRetentionSweep launches the background purge of terminal rows older
// than the configured retention. Disabled when retention is zero.
func (s *Server) startRetentionSweep() {
	if s.config.Storage.RetentionDays <= 0 {
		return
	}

	s.sweepStop = make(chan struct{})
	s.sweepDone = make(chan struct{})

	go func() {
		defer close(s.sweepDone)

		ticker := time.NewTicker(sweepInterval)
		defer ticker.Stop()

		for {
			select {
			case <-s.sweepStop:
				return
			case <-ticker.C:
				s.purgeExpired()
			}
		}
	}()
}

// stopRetentionSweep stops the sweep goroutine and waits for it to finish.
func (s *Server) stopRetentionSweep() {
	if s.sweepStop == nil {
		return
	}
	close(s.sweepStop)
	<-s.sweepDone
	s.sweepStop = nil
}

func (s *Server) purgeExpired() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	cutoff := time.Now().UTC().AddDate(0, 0, -s.config.Storage.RetentionDays)
	removed, err := s.store.PurgeTerminalOlderThan(ctx, cutoff)
	if err != nil {
		s.logger.Errorf(err, "retention sweep failed")
		return
	}
	if removed > 0 {
		s.logger.Infof("retention sweep removed %d terminal messages created before %s",
			removed, cutoff.Format(time.RFC3339))
	}
}

// setupMiddleware configures middleware for the server
func (s *Server) setupMiddleware() {
	// Recovery middleware
	s.router.Use(gin.Recovery())

	// Logging middleware
	s.router.Use(middleware.Logger(s.config.Logging))

	// CORS middleware
	s.router.Use(middleware.CORS())

	// Request ID middleware
	s.router.Use(middleware.RequestID())

	// Request metrics middleware
	s.router.Use(middleware.Metrics(s.metrics))

	// Request size limit middleware
	s.router.Use(middleware.RequestSizeLimit(s.config.Server.MaxRequestSize))

	// Security headers middleware
	s.router.Use(middleware.SecurityHeaders())
}

// setupRoutes configures routes for the server
func (s *Server) setupRoutes() {
	// Capture server instance to avoid method value binding issues
	server := s

	// Operational endpoints (no subscription key)
	server.router.GET("/health", func(c *gin.Context) { server.handleHealth(c) })
	server.router.GET("/ready", func(c *gin.Context) { server.handleReady(c) })
	server.router.GET("/metrics", func(c *gin.Context) { server.handleMetrics(c) })

	// Tenant API: everything below requires a subscription key
	authed := server.router.Group("")
	authed.Use(middleware.TenantAuth(server.registry))
	{
		authed.GET("/ping", func(c *gin.Context) { server.handlePing(c) })

		api := authed.Group("/api")
		{
			api.POST("/message", func(c *gin.Context) { server.handleSendMessage(c) })
			api.POST("/messages", func(c *gin.Context) { server.handleSendBatch(c) })
			api.GET("/messages/history", func(c *gin.Context) { server.handleGetHistory(c) })
			api.GET("/messages/:messageId/status", func(c *gin.Context) { server.handleGetMessageStatus(c) })
		}
	}
}

// createTLSConfig creates TLS configuration
func (s *Server) createTLSConfig() (*tls.Config, error) {
	tlsConfig := &tls.Config{
		MinVersion: tls.VersionTLS13, // Default to TLS 1.3
		CipherSuites: []uint16{
			tls.TLS_AES_256_GCM_SHA384,
			tls.TLS_AES_128_GCM_SHA256,
			tls.TLS_CHACHA20_POLY1305_SHA256,
		},
		PreferServerCipherSuites: true,
	}

	// Set minimum TLS version based on configuration
	switch s.config.TLS.MinVersion {
	case "1.2":
		tlsConfig.MinVersion = tls.VersionTLS12
	case "1.3":
		tlsConfig.MinVersion = tls.VersionTLS13
	default:
		tlsConfig.MinVersion = tls.VersionTLS13
	}

	return tlsConfig, nil
}

// handleHealth handles health check requests (liveness probe)
func (s *Server) handleHealth(c *gin.Context) {
	health := s.checkHealth()

	statusCode := http.StatusOK
	if !health.Healthy {
		statusCode = http.StatusServiceUnavailable
	}

	c.JSON(statusCode, health)
}

// handleReady handles readiness check requests (readiness probe)
func (s *Server) handleReady(c *gin.Context) {
	readiness := s.checkReadiness(c.Request.Context())

	statusCode := http.StatusOK
	if !readiness.Ready {
		statusCode = http.StatusServiceUnavailable
	}

	c.JSON(statusCode, readiness)
}

// handleMetrics handles metrics requests
func (s *Server) handleMetrics(c *gin.Context) {
	if s.metrics == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "metrics not enabled"})
		return
	}

	s.metrics.Handler().ServeHTTP(c.Writer, c.Request)
}

// HealthStatus represents the health status of the hub
type HealthStatus struct {
	Status     string            `json:"status"`
	Healthy    bool              `json:"healthy"`
	Timestamp  time.Time         `json:"timestamp"`
	Version    string            `json:"version"`
	Components map[string]string `json:"components"`
}

// ReadinessStatus represents the readiness status of the hub
type ReadinessStatus struct {
	Status       string            `json:"status"`
	Ready        bool              `json:"ready"`
	Timestamp    time.Time         `json:"timestamp"`
	Version      string            `json:"version"`
	Dependencies map[string]string `json:"dependencies"`
}

// checkHealth performs basic health checks (liveness)
func (s *Server) checkHealth() HealthStatus {
	healthy := true
	components := make(map[string]string)

	// Check if server components are initialized
	if s.router == nil {
		healthy = false
		components["router"] = "not_initialized"
	} else {
		components["router"] = "healthy"
	}

	if s.processor == nil {
		healthy = false
		components["processor"] = "not_initialized"
	} else {
		components["processor"] = "healthy"
	}

	if s.store == nil {
		healthy = false
		components["storage"] = "not_initialized"
	} else {
		components["storage"] = "healthy"
	}

	if s.queue == nil {
		healthy = false
		components["queue"] = "not_initialized"
	} else {
		components["queue"] = "healthy"
	}

	if s.registry == nil {
		healthy = false
		components["tenant_registry"] = "not_initialized"
	} else {
		components["tenant_registry"] = "healthy"
	}

	// Metrics are optional
	if s.metrics != nil {
		components["metrics"] = "healthy"
	} else {
		components["metrics"] = "not_configured"
	}

	status := "healthy"
	if !healthy {
		status = "unhealthy"
	}

	return HealthStatus{
		Status:     status,
		Healthy:    healthy,
		Timestamp:  time.Now().UTC(),
		Version:    "1.0",
		Components: components,
	}
}

// checkReadiness probes the dependencies the hub cannot serve without.
func (s *Server) checkReadiness(ctx context.Context) ReadinessStatus {
	ready := true
	dependencies := make(map[string]string)

	probeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	// Check storage reachability
	if err := s.store.HealthCheck(probeCtx); err != nil {
		ready = false
		dependencies["storage"] = "unavailable"
	} else {
		dependencies["storage"] = "ready"
	}

	// Check queue reachability
	if err := s.queue.HealthCheck(probeCtx); err != nil {
		ready = false
		dependencies["queue"] = "unavailable"
	} else {
		dependencies["queue"] = "ready"
	}

	// Check message processor
	if s.processor != nil {
		dependencies["processor"] = "ready"
	} else {
		ready = false
		dependencies["processor"] = "not_initialized"
	}

	status := "ready"
	if !ready {
		status = "not_ready"
	}

	return ReadinessStatus{
		Status:       status,
		Ready:        ready,
		Timestamp:    time.Now().UTC(),
		Version:      "1.0",
		Dependencies: dependencies,
	}
}
