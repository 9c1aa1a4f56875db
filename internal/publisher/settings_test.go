package publisher

import (
	"testing"

	"github.com/opcbridge/opcbridge/internal/config"
)

func boolPtr(b bool) *bool { return &b }

func TestTelemetryDefaults(t *testing.T) {
	ts, err := NewTelemetrySettings(config.TelemetryConfig{})
	if err != nil {
		t.Fatalf("NewTelemetrySettings: %v", err)
	}
	if !ts.Value.Publish || !ts.SourceTimestamp.Publish || !ts.NodeID.Publish {
		t.Error("core fields not published by default")
	}
	if ts.ReceiveTimestamp.Publish || ts.Status.Publish {
		t.Error("receive timestamp and status text published by default")
	}
	if ts.NodeID.Name != "NodeId" {
		t.Errorf("NodeID name = %q", ts.NodeID.Name)
	}
}

func TestTelemetryFieldOverrides(t *testing.T) {
	ts, err := NewTelemetrySettings(config.TelemetryConfig{
		NodeID: config.TelemetryFieldConfig{Name: "Tag", Publish: boolPtr(false)},
		Status: config.TelemetryFieldConfig{Publish: boolPtr(true)},
	})
	if err != nil {
		t.Fatalf("NewTelemetrySettings: %v", err)
	}
	if ts.NodeID.Publish || ts.NodeID.Name != "Tag" {
		t.Errorf("NodeID override not applied: publish=%v name=%q", ts.NodeID.Publish, ts.NodeID.Name)
	}
	if !ts.Status.Publish {
		t.Error("Status publish override not applied")
	}
}

func TestFieldPatternTransform(t *testing.T) {
	ts, err := NewTelemetrySettings(config.TelemetryConfig{
		NodeID: config.TelemetryFieldConfig{Pattern: `s=(.+)$`},
		Value:  config.TelemetryFieldConfig{Pattern: `\d+`},
	})
	if err != nil {
		t.Fatalf("NewTelemetrySettings: %v", err)
	}

	// First capture group wins.
	if got := ts.NodeID.Apply("ns=2;s=Pump.Speed"); got != "Pump.Speed" {
		t.Errorf("capture group transform = %q", got)
	}
	// Without a group the whole match is used.
	if got := ts.Value.Apply("rpm 1450 nominal"); got != "1450" {
		t.Errorf("whole match transform = %q", got)
	}
	// A non-matching pattern leaves the text alone.
	if got := ts.Value.Apply("nominal"); got != "nominal" {
		t.Errorf("non-matching transform = %q", got)
	}
}

func TestTelemetryRejectsInvalidPattern(t *testing.T) {
	_, err := NewTelemetrySettings(config.TelemetryConfig{
		Value: config.TelemetryFieldConfig{Pattern: `([`},
	})
	if err == nil {
		t.Error("invalid pattern accepted")
	}
}

func TestNewSettingsRejectsUnknownStatusName(t *testing.T) {
	_, err := NewSettings(config.PublisherConfig{
		SuppressedStatusCodes: []string{"NotAStatus"},
	}, config.TelemetryConfig{})
	if err == nil {
		t.Error("unknown suppressed status name accepted")
	}
}
