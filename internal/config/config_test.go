package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

const validYAML = `
server:
  port: 9710
auth:
  admin_username: admin
  admin_password: password
  jwt_secret: test-jwt-secret-at-least-32-chars!!
  encryption_key: 0123456789abcdef0123456789abcdef
hub:
  broker_url: mqtts://hub.example.com:8883
  device_id: bridge-01
publisher:
  default_publishing_interval_ms: 2000
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadAppliesDefaultsAndOverrides(t *testing.T) {
	cfg, err := Load(writeConfig(t, validYAML))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Server.Port != 9710 {
		t.Errorf("Server.Port = %d", cfg.Server.Port)
	}
	if cfg.Server.Host != "0.0.0.0" {
		t.Errorf("Server.Host default = %q", cfg.Server.Host)
	}
	if cfg.Publisher.DefaultPublishingIntervalMS != 2000 {
		t.Errorf("publishing interval = %d", cfg.Publisher.DefaultPublishingIntervalMS)
	}
	if cfg.Publisher.DefaultSamplingIntervalMS != 1000 {
		t.Errorf("sampling interval default = %d", cfg.Publisher.DefaultSamplingIntervalMS)
	}
	if cfg.Hub.MaxMessageSizeBytes != 262144 || cfg.Hub.SendIntervalSeconds != 10 {
		t.Errorf("hub framing defaults: %+v", cfg.Hub)
	}
	if len(cfg.Publisher.SuppressedStatusCodes) != 2 {
		t.Errorf("suppressed status defaults: %v", cfg.Publisher.SuppressedStatusCodes)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("OPCBRIDGE_HUB_DEVICE_ID", "bridge-override")
	t.Setenv("OPCBRIDGE_HUB_SEND_INTERVAL_SECONDS", "3")
	t.Setenv("OPCBRIDGE_PUBLISHER_NODE_CONFIG_FILE", "/var/lib/opcbridge/nodes.json")

	cfg, err := Load(writeConfig(t, validYAML))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Hub.DeviceID != "bridge-override" {
		t.Errorf("device id override not applied: %q", cfg.Hub.DeviceID)
	}
	if cfg.Hub.SendIntervalSeconds != 3 {
		t.Errorf("send interval override not applied: %d", cfg.Hub.SendIntervalSeconds)
	}
	if cfg.Publisher.NodeConfigFile != "/var/lib/opcbridge/nodes.json" {
		t.Errorf("node config file override not applied: %q", cfg.Publisher.NodeConfigFile)
	}
}

func TestValidateFailures(t *testing.T) {
	base := func() *Config {
		cfg := Defaults()
		cfg.Auth.JWTSecret = "test-jwt-secret-at-least-32-chars!!"
		cfg.Auth.EncryptionKey = "0123456789abcdef0123456789abcdef"
		cfg.Hub.BrokerURL = "mqtts://hub.example.com:8883"
		cfg.Hub.DeviceID = "bridge-01"
		return cfg
	}

	if err := base().Validate(); err != nil {
		t.Fatalf("baseline config invalid: %v", err)
	}

	cases := map[string]func(*Config){
		"missing jwt secret":     func(c *Config) { c.Auth.JWTSecret = "" },
		"short jwt secret":       func(c *Config) { c.Auth.JWTSecret = "short" },
		"wrong key length":       func(c *Config) { c.Auth.EncryptionKey = "short" },
		"missing broker url":     func(c *Config) { c.Hub.BrokerURL = "" },
		"missing device id":      func(c *Config) { c.Hub.DeviceID = "" },
		"invalid qos":            func(c *Config) { c.Hub.QoS = 3 },
		"batch above cap":        func(c *Config) { c.Hub.MessageSizeBytes = c.Hub.MaxMessageSizeBytes + 1 },
		"zero response cap":      func(c *Config) { c.Publisher.MaxResponsePayloadBytes = 0 },
		"empty node config file": func(c *Config) { c.Publisher.NodeConfigFile = "" },
	}
	for name, mutate := range cases {
		cfg := base()
		mutate(cfg)
		if err := cfg.Validate(); err == nil {
			t.Errorf("%s accepted", name)
		}
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Error("missing config file accepted")
	}
}

func TestDurationGetters(t *testing.T) {
	cfg := Defaults()
	if got := cfg.Hub.GetSendInterval(); got != 10*time.Second {
		t.Errorf("send interval = %v", got)
	}
	if got := cfg.Session.GetReconnectPeriod(); got != 10*time.Second {
		t.Errorf("reconnect period = %v", got)
	}
	if got := cfg.Auth.GetJWTExpiry(); got != 24*time.Hour {
		t.Errorf("jwt expiry default = %v", got)
	}
	cfg.Auth.JWTExpiryHours = 2
	if got := cfg.Auth.GetJWTExpiry(); got != 2*time.Hour {
		t.Errorf("jwt expiry = %v", got)
	}
}

func TestIsLogLevelValid(t *testing.T) {
	l := LoggingConfig{Level: "INFO"}
	if !l.IsLogLevelValid() {
		t.Error("case-insensitive level rejected")
	}
	l.Level = "verbose"
	if l.IsLogLevelValid() {
		t.Error("unknown level accepted")
	}
}
