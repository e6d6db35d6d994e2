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

package config

import (
	"flag"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the application configuration
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	TLS      TLSConfig      `yaml:"tls"`
	Storage  StorageConfig  `yaml:"storage"`
	Queue    QueueConfig    `yaml:"queue"`
	Delivery DeliveryConfig `yaml:"delivery"`
	Logging  LoggingConfig  `yaml:"logging"`
	Metrics  *MetricsConfig `yaml:"metrics,omitempty"`
	Tenants  []TenantConfig `yaml:"tenants"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Address      string        `yaml:"address"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout"`

	// MaxRequestSize caps request bodies in bytes. A full batch of
	// maximum-length messages fits well within the default.
	MaxRequestSize int64 `yaml:"max_request_size"`
}

// TLSConfig holds TLS configuration
type TLSConfig struct {
	Enabled    bool   `yaml:"enabled"`
	CertFile   string `yaml:"cert_file"`
	KeyFile    string `yaml:"key_file"`
	MinVersion string `yaml:"min_version"`
}

// StorageConfig holds message store configuration
type StorageConfig struct {
	Type     string                 `yaml:"type"` // "memory" or "database"
	Database *DatabaseStorageConfig `yaml:"database,omitempty"`

	// RetentionDays purges Delivered and Failed rows older than this many
	// days. Zero disables the sweep.
	RetentionDays int `yaml:"retention_days"`
}

// DatabaseStorageConfig holds database connection configuration
type DatabaseStorageConfig struct {
	Driver           string `yaml:"driver"`
	ConnectionString string `yaml:"connection_string"`
	MaxConnections   int    `yaml:"max_connections"`
	MaxIdleTime      int    `yaml:"max_idle_time"` // seconds
}

// QueueConfig holds queue transport configuration
type QueueConfig struct {
	Type     string          `yaml:"type"` // "memory" or "rabbitmq"
	RabbitMQ *RabbitMQConfig `yaml:"rabbitmq,omitempty"`
}

// RabbitMQConfig holds RabbitMQ transport configuration. RetryDelays
// declares one parked retry queue per tier; a nacked delivery dead-letters
// into the first tier, explicit redeliveries pick the closest tier.
type RabbitMQConfig struct {
	URL           string          `yaml:"url"`
	Exchange      string          `yaml:"exchange"`
	Queue         string          `yaml:"queue"`
	RoutingKey    string          `yaml:"routing_key"`
	PrefetchCount int             `yaml:"prefetch_count"`
	RetryDelays   []time.Duration `yaml:"retry_delays"`
}

// DeliveryConfig holds delivery worker configuration
type DeliveryConfig struct {
	Workers int `yaml:"workers"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig holds metrics configuration
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Type    string `yaml:"type"` // "prometheus", "memory"
}

// TenantConfig holds per-tenant configuration. A tenant is identified by its
// subscription key and carries at most one configuration per channel type.
type TenantConfig struct {
	Name            string             `yaml:"name"`
	SubscriptionKey string             `yaml:"subscription_key"`
	HTTP            *HTTPChannelConfig `yaml:"http,omitempty"`
	SMPP            *SMPPChannelConfig `yaml:"smpp,omitempty"`
}

// HTTPChannelConfig holds an HTTP SMS provider endpoint configuration
type HTTPChannelConfig struct {
	Endpoint             string               `yaml:"endpoint"`
	AuthType             string               `yaml:"auth_type"` // bearer, apikey, basic, hmac
	APIKey               string               `yaml:"api_key"`
	APISecret            string               `yaml:"api_secret"`
	CustomHeaders        map[string]string    `yaml:"custom_headers,omitempty"`
	Timeout              time.Duration        `yaml:"timeout"`
	MaxRetries           int                  `yaml:"max_retries"`
	MaxRequestsPerSecond int                  `yaml:"max_requests_per_second"`
	CircuitBreaker       CircuitBreakerConfig `yaml:"circuit_breaker"`
	Provider             string               `yaml:"provider"` // generic, twilio, vonage, messagebird, textmagic, custom
	SenderID             string               `yaml:"sender_id"`
	CustomTemplate       string               `yaml:"custom_template,omitempty"`
}

// CircuitBreakerConfig holds circuit breaker thresholds
type CircuitBreakerConfig struct {
	FailureThreshold int           `yaml:"failure_threshold"`
	RecoveryTimeout  time.Duration `yaml:"recovery_timeout"`
}

// SMPPChannelConfig holds an SMPP telco connection configuration
type SMPPChannelConfig struct {
	Host              string               `yaml:"host"`
	Port              int                  `yaml:"port"`
	SystemID          string               `yaml:"system_id"`
	Password          string               `yaml:"password"`
	SystemType        string               `yaml:"system_type"`
	SourceAddress     string               `yaml:"source_address"`
	BindType          string               `yaml:"bind_type"` // transceiver, transmitter, receiver
	TLS               SMPPTLSConfig        `yaml:"tls"`
	EnquireLink       time.Duration        `yaml:"enquire_link_interval"`
	InactivityTimeout time.Duration        `yaml:"inactivity_timeout"`
	Pool              SMPPPoolConfig       `yaml:"pool"`
	Rate              SMPPRateConfig       `yaml:"rate"`
	CircuitBreaker    CircuitBreakerConfig `yaml:"circuit_breaker"`
	DeliveryReceipts  DLRConfig            `yaml:"delivery_receipts"`
	Throttling        ThrottlingConfig     `yaml:"throttling"`
	FailedMessage     FailedMessageConfig  `yaml:"failed_message"`
}

// SMPPTLSConfig holds TLS flags for the SMPP socket
type SMPPTLSConfig struct {
	Enabled            bool `yaml:"enabled"`
	InsecureSkipVerify bool `yaml:"insecure_skip_verify"`
}

// SMPPPoolConfig holds connection pool sizing
type SMPPPoolConfig struct {
	MinConnections int           `yaml:"min_connections"`
	MaxConnections int           `yaml:"max_connections"`
	IdleTimeout    time.Duration `yaml:"idle_timeout"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	RecoveryDelay  time.Duration `yaml:"recovery_delay"`
}

// SMPPRateConfig holds the native send-speed limit for bound clients
type SMPPRateConfig struct {
	MaxMessagesPerSecond int `yaml:"max_messages_per_second"`
	Burst                int `yaml:"burst"`
}

// DLRConfig holds delivery receipt configuration
type DLRConfig struct {
	Enabled       bool `yaml:"enabled"`
	DLRMask       int  `yaml:"dlr_mask"`
	RetentionDays int  `yaml:"retention_days"`
}

// ThrottlingConfig holds the backoff applied on ESME_RTHROTTLED responses
type ThrottlingConfig struct {
	InitialBackoff time.Duration `yaml:"initial_backoff"`
	MaxBackoff     time.Duration `yaml:"max_backoff"`
	Multiplier     float64       `yaml:"multiplier"`
}

// FailedMessageConfig holds worker-level retry policy for SMPP deliveries
type FailedMessageConfig struct {
	MaxRetries      int             `yaml:"max_retries"`
	RetryDelays     []time.Duration `yaml:"retry_delays"`
	DeadLetterAfter time.Duration   `yaml:"dead_letter_after"`
}

// Load loads configuration from YAML file and environment variables
// Command line flags take precedence over environment variables
// Environment variables take precedence over YAML file values
func Load() (*Config, error) {
	// Parse command line flags
	configFile := flag.String("config", "", "Path to configuration file (YAML)")
	flag.Parse()

	path := *configFile
	if path == "" {
		path = os.Getenv("MSGHUB_CONFIG")
	}

	return LoadFromFile(path)
}

// LoadFromFile loads configuration from the given YAML file and environment
// variables without touching the flag package. Used by tests and tooling.
func LoadFromFile(configFile string) (*Config, error) {
	// Start with default configuration
	cfg := getDefaultConfig()

	// Load from YAML file if specified
	if err := loadFromYAML(cfg, configFile); err != nil {
		return nil, fmt.Errorf("failed to load YAML config: %w", err)
	}

	// Override with environment variables
	loadFromEnv(cfg)

	// Fill in per-tenant defaults before validation
	cfg.applyTenantDefaults()

	// Validate configuration
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// getDefaultConfig returns a configuration with default values
func getDefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Address:        ":8080",
			ReadTimeout:    30 * time.Second,
			WriteTimeout:   30 * time.Second,
			IdleTimeout:    120 * time.Second,
			MaxRequestSize: 1 << 20,
		},
		TLS: TLSConfig{
			Enabled:    false,
			CertFile:   "",
			KeyFile:    "",
			MinVersion: "1.3",
		},
		Storage: StorageConfig{
			Type: "memory",
		},
		Queue: QueueConfig{
			Type: "memory",
		},
		Delivery: DeliveryConfig{
			Workers: 4,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// loadFromYAML loads configuration from a YAML file
func loadFromYAML(cfg *Config, configFile string) error {
	// Only load config file if explicitly provided
	if configFile == "" {
		return nil
	}

	filePath := configFile

	// Read and parse YAML file
	data, err := os.ReadFile(filePath)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", filePath, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse YAML config file %s: %w", filePath, err)
	}

	return nil
}

// loadFromEnv overrides configuration with environment variables
func loadFromEnv(cfg *Config) {
	// Server configuration
	if val := getEnv("MSGHUB_SERVER_ADDRESS", ""); val != "" {
		cfg.Server.Address = val
	}
	if val := getDurationEnv("MSGHUB_READ_TIMEOUT", 0); val != 0 {
		cfg.Server.ReadTimeout = val
	}
	if val := getDurationEnv("MSGHUB_WRITE_TIMEOUT", 0); val != 0 {
		cfg.Server.WriteTimeout = val
	}
	if val := getDurationEnv("MSGHUB_IDLE_TIMEOUT", 0); val != 0 {
		cfg.Server.IdleTimeout = val
	}
	if val := getIntEnv("MSGHUB_MAX_REQUEST_SIZE", 0); val != 0 {
		cfg.Server.MaxRequestSize = int64(val)
	}

	// TLS configuration
	if val := getBoolEnvWithDefault("MSGHUB_TLS_ENABLED", cfg.TLS.Enabled); val != cfg.TLS.Enabled {
		cfg.TLS.Enabled = val
	}
	if val := getEnv("MSGHUB_TLS_CERT_FILE", ""); val != "" {
		cfg.TLS.CertFile = val
	}
	if val := getEnv("MSGHUB_TLS_KEY_FILE", ""); val != "" {
		cfg.TLS.KeyFile = val
	}
	if val := getEnv("MSGHUB_TLS_MIN_VERSION", ""); val != "" {
		cfg.TLS.MinVersion = val
	}

	// Storage configuration
	if val := getEnv("MSGHUB_STORAGE_TYPE", ""); val != "" {
		cfg.Storage.Type = val
	}
	if val := getEnv("MSGHUB_DATABASE_URL", ""); val != "" {
		if cfg.Storage.Database == nil {
			// Empty driver selects the dialector's native pgx path
			cfg.Storage.Database = &DatabaseStorageConfig{}
		}
		cfg.Storage.Database.ConnectionString = val
	}
	if val := getIntEnv("MSGHUB_DATABASE_MAX_CONNECTIONS", 0); val != 0 {
		if cfg.Storage.Database != nil {
			cfg.Storage.Database.MaxConnections = val
		}
	}
	if val := getIntEnv("MSGHUB_STORAGE_RETENTION_DAYS", 0); val != 0 {
		cfg.Storage.RetentionDays = val
	}

	// Queue configuration
	if val := getEnv("MSGHUB_QUEUE_TYPE", ""); val != "" {
		cfg.Queue.Type = val
	}
	if val := getEnv("MSGHUB_RABBITMQ_URL", ""); val != "" {
		if cfg.Queue.RabbitMQ == nil {
			cfg.Queue.RabbitMQ = &RabbitMQConfig{}
		}
		cfg.Queue.RabbitMQ.URL = val
	}

	// Delivery configuration
	if val := getIntEnv("MSGHUB_DELIVERY_WORKERS", 0); val != 0 {
		cfg.Delivery.Workers = val
	}

	// Logging configuration
	if val := getEnv("MSGHUB_LOG_LEVEL", ""); val != "" {
		cfg.Logging.Level = val
	}
	if val := getEnv("MSGHUB_LOG_FORMAT", ""); val != "" {
		cfg.Logging.Format = val
	}

	// Metrics configuration
	loadMetricsFromEnv(cfg)
}

// applyTenantDefaults fills in zero values on tenant channel configurations.
// Tenants come entirely from YAML, so the top-level defaults never cover them.
func (c *Config) applyTenantDefaults() {
	for i := range c.Tenants {
		if httpCfg := c.Tenants[i].HTTP; httpCfg != nil {
			if httpCfg.AuthType == "" {
				httpCfg.AuthType = "bearer"
			}
			if httpCfg.Provider == "" {
				httpCfg.Provider = "generic"
			}
			if httpCfg.Timeout == 0 {
				httpCfg.Timeout = 10 * time.Second
			}
			if httpCfg.MaxRetries == 0 {
				httpCfg.MaxRetries = 3
			}
			if httpCfg.MaxRequestsPerSecond == 0 {
				httpCfg.MaxRequestsPerSecond = 10
			}
			if httpCfg.CircuitBreaker.FailureThreshold == 0 {
				httpCfg.CircuitBreaker.FailureThreshold = 5
			}
			if httpCfg.CircuitBreaker.RecoveryTimeout == 0 {
				httpCfg.CircuitBreaker.RecoveryTimeout = 30 * time.Second
			}
		}

		if smppCfg := c.Tenants[i].SMPP; smppCfg != nil {
			if smppCfg.Port == 0 {
				smppCfg.Port = 2775
			}
			if smppCfg.BindType == "" {
				smppCfg.BindType = "transceiver"
			}
			if smppCfg.SourceAddress == "" {
				smppCfg.SourceAddress = "MessageHub"
			}
			if smppCfg.EnquireLink == 0 {
				smppCfg.EnquireLink = 30 * time.Second
			}
			if smppCfg.Pool.MinConnections == 0 {
				smppCfg.Pool.MinConnections = 1
			}
			if smppCfg.Pool.MaxConnections == 0 {
				smppCfg.Pool.MaxConnections = 4
			}
			if smppCfg.Pool.IdleTimeout == 0 {
				smppCfg.Pool.IdleTimeout = 10 * time.Minute
			}
			if smppCfg.Pool.ConnectTimeout == 0 {
				smppCfg.Pool.ConnectTimeout = 10 * time.Second
			}
			if smppCfg.Pool.RecoveryDelay == 0 {
				smppCfg.Pool.RecoveryDelay = 5 * time.Second
			}
			if smppCfg.Rate.MaxMessagesPerSecond == 0 {
				smppCfg.Rate.MaxMessagesPerSecond = 10
			}
			if smppCfg.Rate.Burst == 0 {
				smppCfg.Rate.Burst = smppCfg.Rate.MaxMessagesPerSecond
			}
			if smppCfg.CircuitBreaker.FailureThreshold == 0 {
				smppCfg.CircuitBreaker.FailureThreshold = 5
			}
			if smppCfg.CircuitBreaker.RecoveryTimeout == 0 {
				smppCfg.CircuitBreaker.RecoveryTimeout = 30 * time.Second
			}
			if smppCfg.DeliveryReceipts.DLRMask == 0 {
				smppCfg.DeliveryReceipts.DLRMask = 1
			}
			if smppCfg.DeliveryReceipts.RetentionDays == 0 {
				smppCfg.DeliveryReceipts.RetentionDays = 7
			}
			if smppCfg.Throttling.InitialBackoff == 0 {
				smppCfg.Throttling.InitialBackoff = 2 * time.Second
			}
			if smppCfg.Throttling.MaxBackoff == 0 {
				smppCfg.Throttling.MaxBackoff = 60 * time.Second
			}
			if smppCfg.Throttling.Multiplier == 0 {
				smppCfg.Throttling.Multiplier = 2.0
			}
			if smppCfg.FailedMessage.MaxRetries == 0 {
				smppCfg.FailedMessage.MaxRetries = 3
			}
			if len(smppCfg.FailedMessage.RetryDelays) == 0 {
				smppCfg.FailedMessage.RetryDelays = []time.Duration{
					1 * time.Minute,
					5 * time.Minute,
					15 * time.Minute,
				}
			}
		}
	}
}

// validate validates the configuration
func (c *Config) validate() error {
	if strings.TrimSpace(c.Server.Address) == "" {
		return fmt.Errorf("server address is required")
	}

	if c.TLS.Enabled && (c.TLS.CertFile == "" || c.TLS.KeyFile == "") {
		return fmt.Errorf("TLS cert and key files are required when TLS is enabled")
	}

	switch strings.ToLower(c.Storage.Type) {
	case "memory":
	case "database":
		if c.Storage.Database == nil || c.Storage.Database.ConnectionString == "" {
			return fmt.Errorf("database connection string is required for database storage")
		}
	default:
		return fmt.Errorf("unsupported storage type: %s", c.Storage.Type)
	}

	switch strings.ToLower(c.Queue.Type) {
	case "memory":
	case "rabbitmq":
		if c.Queue.RabbitMQ == nil || c.Queue.RabbitMQ.URL == "" {
			return fmt.Errorf("RabbitMQ URL is required for rabbitmq queue")
		}
	default:
		return fmt.Errorf("unsupported queue type: %s", c.Queue.Type)
	}

	if c.Delivery.Workers <= 0 {
		return fmt.Errorf("delivery worker count must be positive")
	}

	if c.Metrics != nil && c.Metrics.Enabled {
		switch strings.ToLower(c.Metrics.Type) {
		case "", "prometheus", "memory":
		default:
			return fmt.Errorf("unsupported metrics type: %s", c.Metrics.Type)
		}
	}

	seenKeys := make(map[string]string)
	for i := range c.Tenants {
		if err := c.Tenants[i].validate(); err != nil {
			return fmt.Errorf("tenant %q: %w", c.Tenants[i].Name, err)
		}
		if prev, dup := seenKeys[c.Tenants[i].SubscriptionKey]; dup {
			return fmt.Errorf("tenants %q and %q share a subscription key", prev, c.Tenants[i].Name)
		}
		seenKeys[c.Tenants[i].SubscriptionKey] = c.Tenants[i].Name
	}

	return nil
}

// validate validates a single tenant configuration
func (t *TenantConfig) validate() error {
	if strings.TrimSpace(t.Name) == "" {
		return fmt.Errorf("name is required")
	}
	if strings.TrimSpace(t.SubscriptionKey) == "" {
		return fmt.Errorf("subscription key is required")
	}
	if t.HTTP == nil && t.SMPP == nil {
		return fmt.Errorf("at least one channel must be configured")
	}

	if t.HTTP != nil {
		if err := t.HTTP.validate(); err != nil {
			return fmt.Errorf("http channel: %w", err)
		}
	}
	if t.SMPP != nil {
		if err := t.SMPP.validate(); err != nil {
			return fmt.Errorf("smpp channel: %w", err)
		}
	}

	return nil
}

func (h *HTTPChannelConfig) validate() error {
	if strings.TrimSpace(h.Endpoint) == "" {
		return fmt.Errorf("endpoint is required")
	}

	switch strings.ToLower(h.AuthType) {
	case "bearer", "apikey", "basic", "hmac":
	default:
		return fmt.Errorf("unsupported auth type: %s", h.AuthType)
	}

	switch strings.ToLower(h.Provider) {
	case "generic", "twilio", "vonage", "messagebird", "textmagic":
	case "custom":
		// A missing template falls back to the generic payload at render
		// time; warn here so the misconfiguration is visible at startup.
		if strings.TrimSpace(h.CustomTemplate) == "" {
			log.Printf("WARNING: custom provider configured without a template; generic payload will be used")
		}
	default:
		return fmt.Errorf("unsupported provider: %s", h.Provider)
	}

	if h.MaxRetries < 0 {
		return fmt.Errorf("max retries cannot be negative")
	}
	if h.MaxRequestsPerSecond <= 0 {
		return fmt.Errorf("max requests per second must be positive")
	}

	return nil
}

func (s *SMPPChannelConfig) validate() error {
	if strings.TrimSpace(s.Host) == "" {
		return fmt.Errorf("host is required")
	}
	if s.Port <= 0 || s.Port > 65535 {
		return fmt.Errorf("invalid port: %d", s.Port)
	}
	if strings.TrimSpace(s.SystemID) == "" {
		return fmt.Errorf("system id is required")
	}

	switch strings.ToLower(s.BindType) {
	case "transceiver", "transmitter", "receiver":
	default:
		return fmt.Errorf("unsupported bind type: %s", s.BindType)
	}

	if s.Pool.MinConnections < 0 {
		return fmt.Errorf("pool min connections cannot be negative")
	}
	if s.Pool.MaxConnections < 1 {
		return fmt.Errorf("pool max connections must be at least 1")
	}
	if s.Pool.MinConnections > s.Pool.MaxConnections {
		return fmt.Errorf("pool min connections exceeds max connections")
	}
	if s.Rate.MaxMessagesPerSecond <= 0 {
		return fmt.Errorf("max messages per second must be positive")
	}

	return nil
}

// Helper functions for environment variable parsing
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// getBoolEnvWithDefault gets a boolean environment variable with a specific default
func getBoolEnvWithDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// loadMetricsFromEnv loads metrics configuration from environment variables
func loadMetricsFromEnv(cfg *Config) {
	// Check if metrics should be enabled
	if getBoolEnv("MSGHUB_METRICS_ENABLED", false) {
		log.Printf("INFO: Metrics enabled via environment variable")

		if cfg.Metrics == nil {
			cfg.Metrics = &MetricsConfig{}
		}
		cfg.Metrics.Enabled = true
	}

	if val := getEnv("MSGHUB_METRICS_TYPE", ""); val != "" {
		if cfg.Metrics == nil {
			cfg.Metrics = &MetricsConfig{}
		}
		cfg.Metrics.Type = val
	}
}
