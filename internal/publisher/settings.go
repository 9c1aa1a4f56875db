package publisher

import (
	"fmt"
	"regexp"

	"github.com/opcbridge/opcbridge/internal/config"
)

// FieldSettings is the compiled per-field telemetry configuration: whether
// the field is emitted, under which name, and an optional pattern transform.
type FieldSettings struct {
	Publish bool
	Name    string
	pattern *regexp.Regexp
}

// Apply runs the pattern transform over the field text. With no pattern the
// text passes through; with a pattern the first capture group (or the whole
// match) replaces it. A non-matching pattern yields the original text.
func (f *FieldSettings) Apply(s string) string {
	if f.pattern == nil {
		return s
	}
	m := f.pattern.FindStringSubmatch(s)
	if m == nil {
		return s
	}
	if len(m) > 1 {
		return m[1]
	}
	return m[0]
}

func compileField(cfg config.TelemetryFieldConfig, defaultName string, defaultPublish bool) (FieldSettings, error) {
	fs := FieldSettings{
		Publish: defaultPublish,
		Name:    defaultName,
	}
	if cfg.Publish != nil {
		fs.Publish = *cfg.Publish
	}
	if cfg.Name != "" {
		fs.Name = cfg.Name
	}
	if cfg.Pattern != "" {
		re, err := regexp.Compile(cfg.Pattern)
		if err != nil {
			return fs, fmt.Errorf("invalid pattern for field %s: %w", defaultName, err)
		}
		fs.pattern = re
	}
	return fs, nil
}

// TelemetrySettings holds the compiled telemetry shaping configuration for
// every field of a flattened message.
type TelemetrySettings struct {
	EndpointID       FieldSettings
	EndpointURL      FieldSettings
	NodeID           FieldSettings
	ApplicationURI   FieldSettings
	DisplayName      FieldSettings
	Key              FieldSettings
	Value            FieldSettings
	SourceTimestamp  FieldSettings
	ReceiveTimestamp FieldSettings
	Status           FieldSettings
	StatusCode       FieldSettings
}

// NewTelemetrySettings compiles the raw telemetry configuration. The value
// and source-timestamp fields default to published, matching the minimal
// useful message; identity fields default to published as well, status text
// and receive timestamp default to suppressed.
func NewTelemetrySettings(cfg config.TelemetryConfig) (*TelemetrySettings, error) {
	var ts TelemetrySettings
	var err error

	if ts.EndpointID, err = compileField(cfg.EndpointID, "EndpointId", true); err != nil {
		return nil, err
	}
	if ts.EndpointURL, err = compileField(cfg.EndpointURL, "EndpointUrl", true); err != nil {
		return nil, err
	}
	if ts.NodeID, err = compileField(cfg.NodeID, "NodeId", true); err != nil {
		return nil, err
	}
	if ts.ApplicationURI, err = compileField(cfg.ApplicationURI, "ApplicationUri", true); err != nil {
		return nil, err
	}
	if ts.DisplayName, err = compileField(cfg.DisplayName, "DisplayName", true); err != nil {
		return nil, err
	}
	if ts.Key, err = compileField(cfg.Key, "Key", true); err != nil {
		return nil, err
	}
	if ts.Value, err = compileField(cfg.Value, "Value", true); err != nil {
		return nil, err
	}
	if ts.SourceTimestamp, err = compileField(cfg.SourceTimestamp, "SourceTimestamp", true); err != nil {
		return nil, err
	}
	if ts.ReceiveTimestamp, err = compileField(cfg.ReceiveTimestamp, "ReceiveTimestamp", false); err != nil {
		return nil, err
	}
	if ts.Status, err = compileField(cfg.Status, "Status", false); err != nil {
		return nil, err
	}
	if ts.StatusCode, err = compileField(cfg.StatusCode, "StatusCode", true); err != nil {
		return nil, err
	}

	return &ts, nil
}

// Settings carries the process defaults every session and monitored item
// falls back to when a value is not explicitly configured.
type Settings struct {
	DefaultPublishingIntervalMS     int
	DefaultSamplingIntervalMS       int
	DefaultHeartbeatIntervalSeconds int
	DefaultSkipFirst                bool
	SuppressedStatusCodes           map[uint32]struct{}
	Telemetry                       *TelemetrySettings
}

// NewSettings compiles publisher defaults from configuration.
func NewSettings(pub config.PublisherConfig, tel config.TelemetryConfig) (*Settings, error) {
	suppressed, err := ParseSuppressedStatusCodes(pub.SuppressedStatusCodes)
	if err != nil {
		return nil, fmt.Errorf("suppressed status codes: %w", err)
	}
	telemetry, err := NewTelemetrySettings(tel)
	if err != nil {
		return nil, fmt.Errorf("telemetry settings: %w", err)
	}
	return &Settings{
		DefaultPublishingIntervalMS:     pub.DefaultPublishingIntervalMS,
		DefaultSamplingIntervalMS:       pub.DefaultSamplingIntervalMS,
		DefaultHeartbeatIntervalSeconds: pub.DefaultHeartbeatIntervalSeconds,
		DefaultSkipFirst:                pub.DefaultSkipFirst,
		SuppressedStatusCodes:           suppressed,
		Telemetry:                       telemetry,
	}, nil
}
