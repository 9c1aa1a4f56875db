// Package config
package config

import (
	"fmt"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Auth      AuthConfig      `yaml:"auth"`
	Hub       HubConfig       `yaml:"hub"`
	Publisher PublisherConfig `yaml:"publisher"`
	Session   SessionConfig   `yaml:"session"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Logging   LoggingConfig   `yaml:"logging"`
}

type ServerConfig struct {
	Host           string `yaml:"host"`
	Port           int    `yaml:"port"`
	ReadTimeoutMS  int    `yaml:"read_timeout_ms"`
	WriteTimeoutMS int    `yaml:"write_timeout_ms"`
}

type AuthConfig struct {
	AdminUsername  string `yaml:"admin_username"`
	AdminPassword  string `yaml:"admin_password"`
	JWTSecret      string `yaml:"jwt_secret"`
	JWTExpiryHours int    `yaml:"jwt_expiry_hours"`
	EncryptionKey  string `yaml:"encryption_key"`
}

type HubConfig struct {
	BrokerURL             string `yaml:"broker_url"`
	ClientID              string `yaml:"client_id"`
	DeviceID              string `yaml:"device_id"`
	Username              string `yaml:"username"`
	Password              string `yaml:"password"`
	KeepAliveSeconds      int    `yaml:"keep_alive_seconds"`
	ConnectRetrySeconds   int    `yaml:"connect_retry_seconds"`
	ConnectTimeoutSeconds int    `yaml:"connect_timeout_seconds"`
	QoS                   int    `yaml:"qos"`

	// Message framing limits for the dispatch processors.
	MessageSizeBytes    int `yaml:"message_size_bytes"`
	MaxMessageSizeBytes int `yaml:"max_message_size_bytes"`
	SendIntervalSeconds int `yaml:"send_interval_seconds"`
	QueueCapacity       int `yaml:"queue_capacity"`
}

type PublisherConfig struct {
	NodeConfigFile                  string   `yaml:"node_config_file"`
	DefaultPublishingIntervalMS     int      `yaml:"default_publishing_interval_ms"`
	DefaultSamplingIntervalMS       int      `yaml:"default_sampling_interval_ms"`
	DefaultHeartbeatIntervalSeconds int      `yaml:"default_heartbeat_interval_seconds"`
	DefaultSkipFirst                bool     `yaml:"default_skip_first"`
	SuppressedStatusCodes           []string `yaml:"suppressed_status_codes"`
	MaxResponsePayloadBytes         int      `yaml:"max_response_payload_bytes"`
}

type SessionConfig struct {
	ReconnectPeriodMS     int    `yaml:"reconnect_period_ms"`
	OperationTimeoutMS    int    `yaml:"operation_timeout_ms"`
	AutoAcceptCertificate bool   `yaml:"auto_accept_certificate"`
	ApplicationURI        string `yaml:"application_uri"`
	CertFile              string `yaml:"cert_file"`
	KeyFile               string `yaml:"key_file"`
}

// TelemetryFieldConfig controls one field of the flattened telemetry message.
// Pattern, when set, is a regular expression applied to the field text; the
// first capture group (or the whole match) replaces the original value.
type TelemetryFieldConfig struct {
	Publish *bool  `yaml:"publish"`
	Name    string `yaml:"name"`
	Pattern string `yaml:"pattern"`
}

type TelemetryConfig struct {
	EndpointID       TelemetryFieldConfig `yaml:"endpoint_id"`
	EndpointURL      TelemetryFieldConfig `yaml:"endpoint_url"`
	NodeID           TelemetryFieldConfig `yaml:"node_id"`
	ApplicationURI   TelemetryFieldConfig `yaml:"application_uri"`
	DisplayName      TelemetryFieldConfig `yaml:"display_name"`
	Key              TelemetryFieldConfig `yaml:"key"`
	Value            TelemetryFieldConfig `yaml:"value"`
	SourceTimestamp  TelemetryFieldConfig `yaml:"source_timestamp"`
	ReceiveTimestamp TelemetryFieldConfig `yaml:"receive_timestamp"`
	Status           TelemetryFieldConfig `yaml:"status"`
	StatusCode       TelemetryFieldConfig `yaml:"status_code"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads configuration from file and applies environment variable overrides
func Load(configPath string) (*Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Defaults returns a configuration pre-filled with the process defaults.
func Defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Host:           "0.0.0.0",
			Port:           9702,
			ReadTimeoutMS:  15000,
			WriteTimeoutMS: 15000,
		},
		Hub: HubConfig{
			KeepAliveSeconds:      30,
			ConnectRetrySeconds:   5,
			ConnectTimeoutSeconds: 30,
			QoS:                   1,
			MessageSizeBytes:      0,
			MaxMessageSizeBytes:   262144,
			SendIntervalSeconds:   10,
			QueueCapacity:         8192,
		},
		Publisher: PublisherConfig{
			NodeConfigFile:                  "publishednodes.json",
			DefaultPublishingIntervalMS:     1000,
			DefaultSamplingIntervalMS:       1000,
			DefaultHeartbeatIntervalSeconds: 0,
			DefaultSkipFirst:                false,
			SuppressedStatusCodes:           []string{"BadNoCommunication", "BadWaitingForInitialData"},
			MaxResponsePayloadBytes:         131072,
		},
		Session: SessionConfig{
			ReconnectPeriodMS:  10000,
			OperationTimeoutMS: 30000,
			ApplicationURI:     "urn:opcbridge",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Validate ensures all required configuration values are set
func (c *Config) Validate() error {
	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("OPCBRIDGE_AUTH_JWT_SECRET is required (minimum 32 characters)")
	}
	if len(c.Auth.JWTSecret) < 32 {
		return fmt.Errorf("jwt_secret must be at least 32 characters")
	}

	if c.Auth.EncryptionKey == "" {
		return fmt.Errorf("OPCBRIDGE_AUTH_ENCRYPTION_KEY is required (32 bytes for AES-256)")
	}
	if len(c.Auth.EncryptionKey) != 32 {
		return fmt.Errorf("encryption_key must be exactly 32 bytes")
	}

	if c.Hub.BrokerURL == "" {
		return fmt.Errorf("hub broker_url is required")
	}
	if c.Hub.DeviceID == "" {
		return fmt.Errorf("hub device_id is required")
	}
	if c.Hub.MaxMessageSizeBytes <= 0 {
		return fmt.Errorf("hub max_message_size_bytes must be positive")
	}
	if c.Hub.MessageSizeBytes > c.Hub.MaxMessageSizeBytes {
		return fmt.Errorf("hub message_size_bytes exceeds max_message_size_bytes")
	}
	if c.Hub.QoS < 0 || c.Hub.QoS > 2 {
		return fmt.Errorf("hub qos must be 0, 1 or 2")
	}

	if c.Publisher.NodeConfigFile == "" {
		return fmt.Errorf("publisher node_config_file is required")
	}
	if c.Publisher.MaxResponsePayloadBytes <= 0 {
		return fmt.Errorf("publisher max_response_payload_bytes must be positive")
	}

	return nil
}

// applyEnvOverrides checks for environment variables with OPCBRIDGE_ prefix
func applyEnvOverrides(cfg *Config) {
	// Publisher overrides
	if v := os.Getenv("OPCBRIDGE_PUBLISHER_NODE_CONFIG_FILE"); v != "" {
		cfg.Publisher.NodeConfigFile = v
	}
	if v := os.Getenv("OPCBRIDGE_PUBLISHER_DEFAULT_PUBLISHING_INTERVAL_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Publisher.DefaultPublishingIntervalMS = n
		}
	}
	if v := os.Getenv("OPCBRIDGE_PUBLISHER_DEFAULT_SAMPLING_INTERVAL_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Publisher.DefaultSamplingIntervalMS = n
		}
	}

	// Hub overrides
	if v := os.Getenv("OPCBRIDGE_HUB_BROKER_URL"); v != "" {
		cfg.Hub.BrokerURL = v
	}
	if v := os.Getenv("OPCBRIDGE_HUB_DEVICE_ID"); v != "" {
		cfg.Hub.DeviceID = v
	}
	if v := os.Getenv("OPCBRIDGE_HUB_USERNAME"); v != "" {
		cfg.Hub.Username = v
	}
	if v := os.Getenv("OPCBRIDGE_HUB_PASSWORD"); v != "" {
		cfg.Hub.Password = v
	}
	if v := os.Getenv("OPCBRIDGE_HUB_SEND_INTERVAL_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Hub.SendIntervalSeconds = n
		}
	}

	// Auth overrides
	if v := os.Getenv("OPCBRIDGE_AUTH_ADMIN_PASSWORD"); v != "" {
		cfg.Auth.AdminPassword = v
	}
	if v := os.Getenv("OPCBRIDGE_AUTH_JWT_SECRET"); v != "" {
		cfg.Auth.JWTSecret = v
	}
	if v := os.Getenv("OPCBRIDGE_AUTH_ENCRYPTION_KEY"); v != "" {
		cfg.Auth.EncryptionKey = v
	}
}

// GetReadTimeout returns the read timeout as a duration
func (s *ServerConfig) GetReadTimeout() time.Duration {
	return time.Duration(s.ReadTimeoutMS) * time.Millisecond
}

// GetWriteTimeout returns the write timeout as a duration
func (s *ServerConfig) GetWriteTimeout() time.Duration {
	return time.Duration(s.WriteTimeoutMS) * time.Millisecond
}

// GetJWTExpiry returns JWT expiry as duration
func (a *AuthConfig) GetJWTExpiry() time.Duration {
	if a.JWTExpiryHours <= 0 {
		return 24 * time.Hour
	}
	return time.Duration(a.JWTExpiryHours) * time.Hour
}

// GetSendInterval returns the processor send interval as a duration
func (h *HubConfig) GetSendInterval() time.Duration {
	return time.Duration(h.SendIntervalSeconds) * time.Second
}

// GetKeepAlive returns the MQTT keep alive period
func (h *HubConfig) GetKeepAlive() uint16 {
	return uint16(h.KeepAliveSeconds)
}

// GetConnectRetryDelay returns the MQTT connect retry delay
func (h *HubConfig) GetConnectRetryDelay() time.Duration {
	return time.Duration(h.ConnectRetrySeconds) * time.Second
}

// GetConnectTimeout returns the MQTT connect timeout
func (h *HubConfig) GetConnectTimeout() time.Duration {
	return time.Duration(h.ConnectTimeoutSeconds) * time.Second
}

// GetReconnectPeriod returns the OPC UA session reconnect period
func (s *SessionConfig) GetReconnectPeriod() time.Duration {
	return time.Duration(s.ReconnectPeriodMS) * time.Millisecond
}

// GetOperationTimeout returns the OPC UA service call timeout
func (s *SessionConfig) GetOperationTimeout() time.Duration {
	return time.Duration(s.OperationTimeoutMS) * time.Millisecond
}

// IsLogLevelValid checks if the log level is valid
func (l *LoggingConfig) IsLogLevelValid() bool {
	validLevels := []string{"debug", "info", "warn", "error"}
	return slices.Contains(validLevels, strings.ToLower(l.Level))
}
