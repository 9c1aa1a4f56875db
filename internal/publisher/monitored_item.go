package publisher

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"
)

// DataChangeItemOptions carries the per-node values of a publish request or
// configuration file entry. Nil pointers mean "not explicitly configured";
// the distinction is kept on the item so unconfigured defaults are never
// written back to the configuration file.
type DataChangeItemOptions struct {
	ID                string
	Key               string
	DisplayName       string
	SamplingInterval  *int
	HeartbeatInterval *int
	SkipFirst         *bool
	PublishMode       *PublishMode
}

// OpcMonitoredItem represents one observed OPC UA node (data-change) or
// event source. It owns the per-item policies and converts raw notifications
// into normalized message records.
type OpcMonitoredItem struct {
	ID          string
	ConfigType  NodeConfigType
	Key         string
	DisplayName string

	AttributeID                uint32
	RequestedSamplingInterval  int
	SamplingIntervalFromConfig bool
	SamplingInterval           int
	QueueSize                  uint32
	DiscardOldest              bool

	HeartbeatInterval           int
	HeartbeatIntervalFromConfig bool
	SkipFirst                   bool
	SkipFirstFromConfig         bool
	PublishMode                 PublishMode
	PublishModeFromConfig       bool

	// State transitions happen under the owning session's lock.
	State ItemState

	EventConfiguration *EventConfiguration

	Endpoint     EndpointStamp
	ClientHandle uint32

	// Heartbeat state is touched by both the notification path and the
	// heartbeat timer, which fire on different goroutines.
	mu              sync.Mutex
	skipNextEvent   bool
	heartbeatTimer  *time.Timer
	heartbeatLast   *DataChangeMessageData
	lastEmittedTime time.Time
	stopped         bool

	settings *Settings
	router   TelemetryRouter
	logger   *slog.Logger
}

// newDataChangeItem builds a monitored item for a value node. Unconfigured
// policies fall back to process defaults and are flagged as derived.
func newDataChangeItem(opts DataChangeItemOptions, stamp EndpointStamp, settings *Settings, router TelemetryRouter, logger *slog.Logger) *OpcMonitoredItem {
	mi := &OpcMonitoredItem{
		ID:            opts.ID,
		ConfigType:    ConfigTypeForID(opts.ID),
		Key:           opts.Key,
		DisplayName:   opts.DisplayName,
		AttributeID:   AttributeValue,
		QueueSize:     1,
		DiscardOldest: true,
		State:         ItemStateUnmonitored,
		PublishMode:   PublishModeDefault,
		Endpoint:      stamp,
		settings:      settings,
		router:        router,
		logger:        logger.With("node_id", opts.ID),
	}

	if opts.SamplingInterval != nil {
		mi.RequestedSamplingInterval = *opts.SamplingInterval
		mi.SamplingIntervalFromConfig = true
	} else {
		mi.RequestedSamplingInterval = settings.DefaultSamplingIntervalMS
	}
	mi.SamplingInterval = mi.RequestedSamplingInterval

	if opts.HeartbeatInterval != nil {
		mi.setHeartbeatInterval(*opts.HeartbeatInterval)
		mi.HeartbeatIntervalFromConfig = true
	} else {
		mi.setHeartbeatInterval(settings.DefaultHeartbeatIntervalSeconds)
	}

	if opts.SkipFirst != nil {
		mi.SkipFirst = *opts.SkipFirst
		mi.SkipFirstFromConfig = true
	} else {
		mi.SkipFirst = settings.DefaultSkipFirst
	}

	if opts.PublishMode != nil {
		mi.PublishMode = *opts.PublishMode
		mi.PublishModeFromConfig = true
	}

	if mi.Key == "" {
		if mi.DisplayName != "" {
			mi.Key = mi.DisplayName
		} else {
			mi.Key = mi.ID
		}
	}

	return mi
}

// newEventItem builds a monitored item for an event source node.
func newEventItem(eventCfg *EventConfiguration, stamp EndpointStamp, settings *Settings, router TelemetryRouter, logger *slog.Logger) *OpcMonitoredItem {
	mi := &OpcMonitoredItem{
		ID:                 eventCfg.ID,
		ConfigType:         ConfigTypeForID(eventCfg.ID),
		Key:                eventCfg.DisplayName,
		DisplayName:        eventCfg.DisplayName,
		AttributeID:        AttributeEventNotifier,
		QueueSize:          0,
		DiscardOldest:      true,
		State:              ItemStateUnmonitored,
		PublishMode:        eventCfg.PublishModeOrDefault(),
		EventConfiguration: eventCfg,
		Endpoint:           stamp,
		settings:           settings,
		router:             router,
		logger:             logger.With("event_source", eventCfg.ID),
	}
	if mi.Key == "" {
		mi.Key = mi.ID
	}
	mi.SkipFirst = settings.DefaultSkipFirst
	return mi
}

// setHeartbeatInterval clamps the interval to the supported range.
func (mi *OpcMonitoredItem) setHeartbeatInterval(seconds int) {
	if seconds < HeartbeatMinInterval {
		seconds = HeartbeatMinInterval
	}
	if seconds > HeartbeatMaxInterval {
		seconds = HeartbeatMaxInterval
	}
	mi.HeartbeatInterval = seconds
}

// ResetSkipFirst seeds the one-shot skip flag. Called at session (re)connect
// so exactly one notification per connect cycle is discarded.
func (mi *OpcMonitoredItem) ResetSkipFirst() {
	mi.mu.Lock()
	mi.skipNextEvent = mi.SkipFirst
	mi.mu.Unlock()
}

// SetMonitored records that the protocol stack confirmed monitoring and the
// revised sampling interval it granted.
func (mi *OpcMonitoredItem) SetMonitored(actualSamplingInterval int) {
	if actualSamplingInterval > 0 {
		mi.SamplingInterval = actualSamplingInterval
	}
	mi.State = ItemStateMonitored
}

// Matches reports whether this item monitors the given identity. The
// counterpart form, when resolvable, lets a NodeId-configured item match an
// ExpandedNodeId request and vice versa.
func (mi *OpcMonitoredItem) Matches(id, counterpart string) bool {
	if mi.ID == id {
		return true
	}
	return counterpart != "" && mi.ID == counterpart
}

// HandleDataChange normalizes one raw data-change notification and routes
// the resulting record. It runs on the protocol stack's callback goroutine
// and must not block.
func (mi *OpcMonitoredItem) HandleDataChange(dv DataValue) {
	if _, drop := mi.settings.SuppressedStatusCodes[dv.StatusCode]; drop {
		mi.logger.Debug("notification suppressed by status code",
			"status", StatusText(dv.StatusCode),
		)
		return
	}

	msg, err := mi.buildDataChangeMessage(dv)
	if err != nil {
		mi.logger.Error("failed to normalize notification", "error", err)
		return
	}

	skip := false
	mi.mu.Lock()
	if dv.SourceTimestamp.After(mi.lastEmittedTime) {
		mi.lastEmittedTime = dv.SourceTimestamp
	}
	if mi.HeartbeatInterval > 0 {
		mi.heartbeatLast = msg.clone()
		mi.rescheduleHeartbeatLocked()
	}
	if mi.skipNextEvent {
		mi.skipNextEvent = false
		skip = true
	}
	mi.mu.Unlock()

	if skip {
		mi.logger.Debug("skipping first notification after connect")
		return
	}

	mi.router.Route(&MessageData{DataChange: msg})
}

// HandleEvent normalizes one raw event notification and routes it.
func (mi *OpcMonitoredItem) HandleEvent(publishTime time.Time, fields []EventFieldValue) {
	msg, err := mi.buildEventMessage(publishTime, fields)
	if err != nil {
		mi.logger.Error("failed to normalize event", "error", err)
		return
	}

	mi.mu.Lock()
	skip := mi.skipNextEvent
	mi.skipNextEvent = false
	mi.mu.Unlock()

	if skip {
		mi.logger.Debug("skipping first event after connect")
		return
	}

	mi.router.Route(&MessageData{Event: msg})
}

// StopHeartbeat cancels the heartbeat timer permanently. Called when the
// item is removed or the process shuts down.
func (mi *OpcMonitoredItem) StopHeartbeat() {
	mi.mu.Lock()
	defer mi.mu.Unlock()
	mi.stopped = true
	if mi.heartbeatTimer != nil {
		mi.heartbeatTimer.Stop()
		mi.heartbeatTimer = nil
	}
}

// rescheduleHeartbeatLocked (re)arms the heartbeat timer. Caller holds mu.
func (mi *OpcMonitoredItem) rescheduleHeartbeatLocked() {
	if mi.stopped || mi.HeartbeatInterval <= 0 {
		return
	}
	d := time.Duration(mi.HeartbeatInterval) * time.Second
	if mi.heartbeatTimer == nil {
		mi.heartbeatTimer = time.AfterFunc(d, mi.onHeartbeat)
		return
	}
	mi.heartbeatTimer.Reset(d)
}

// onHeartbeat re-emits the last known value with its source timestamp
// advanced by one heartbeat interval, never at or below a previously
// emitted timestamp.
func (mi *OpcMonitoredItem) onHeartbeat() {
	mi.mu.Lock()
	if mi.stopped {
		mi.mu.Unlock()
		return
	}
	if mi.heartbeatLast == nil {
		mi.rescheduleHeartbeatLocked()
		mi.mu.Unlock()
		mi.logger.Debug("heartbeat fired with no stored value")
		return
	}

	next := mi.heartbeatLast.SourceTimestamp.Add(time.Duration(mi.HeartbeatInterval) * time.Second)
	if !next.After(mi.lastEmittedTime) {
		next = mi.lastEmittedTime.Add(time.Millisecond)
	}
	msg := mi.heartbeatLast.clone()
	msg.SourceTimestamp = next
	mi.heartbeatLast.SourceTimestamp = next
	mi.lastEmittedTime = next
	mi.rescheduleHeartbeatLocked()
	mi.mu.Unlock()

	mi.router.Route(&MessageData{DataChange: msg})
}

// buildDataChangeMessage applies the telemetry field toggles and pattern
// transforms to produce the normalized record.
func (mi *OpcMonitoredItem) buildDataChangeMessage(dv DataValue) (*DataChangeMessageData, error) {
	tel := mi.settings.Telemetry
	msg := &DataChangeMessageData{
		PublishMode: mi.PublishMode,
		names:       tel,
	}

	if tel.EndpointID.Publish {
		msg.EndpointID = tel.EndpointID.Apply(mi.Endpoint.EndpointID.String())
	}
	if tel.EndpointURL.Publish {
		msg.EndpointURL = tel.EndpointURL.Apply(mi.Endpoint.EndpointURL)
	}
	if tel.NodeID.Publish {
		msg.NodeID = tel.NodeID.Apply(mi.ID)
	}
	if tel.ApplicationURI.Publish && mi.Endpoint.ApplicationURI != "" {
		msg.ApplicationURI = tel.ApplicationURI.Apply(mi.Endpoint.ApplicationURI)
	}
	if tel.DisplayName.Publish && mi.DisplayName != "" {
		msg.DisplayName = tel.DisplayName.Apply(mi.DisplayName)
	}
	if tel.Key.Publish {
		msg.Key = tel.Key.Apply(mi.Key)
	}
	if tel.Value.Publish {
		raw, err := EncodeValue(dv.Value)
		if err != nil {
			return nil, err
		}
		msg.Value = applyValuePattern(raw, &tel.Value)
	}
	if tel.SourceTimestamp.Publish {
		msg.SourceTimestamp = dv.SourceTimestamp
	}
	if tel.ReceiveTimestamp.Publish {
		msg.ReceiveTimestamp = time.Now()
	}
	if tel.Status.Publish {
		msg.Status = StatusText(dv.StatusCode)
	}
	if tel.StatusCode.Publish {
		code := dv.StatusCode
		msg.StatusCode = &code
	}

	return msg, nil
}

// buildEventMessage encodes the selected event fields into the normalized
// event record.
func (mi *OpcMonitoredItem) buildEventMessage(publishTime time.Time, fields []EventFieldValue) (*EventMessageData, error) {
	tel := mi.settings.Telemetry
	msg := &EventMessageData{
		PublishTime: publishTime,
		PublishMode: mi.PublishMode,
		names:       tel,
	}

	if tel.EndpointID.Publish {
		msg.EndpointID = tel.EndpointID.Apply(mi.Endpoint.EndpointID.String())
	}
	if tel.EndpointURL.Publish {
		msg.EndpointURL = tel.EndpointURL.Apply(mi.Endpoint.EndpointURL)
	}
	if tel.NodeID.Publish {
		msg.NodeID = tel.NodeID.Apply(mi.ID)
	}
	if tel.ApplicationURI.Publish && mi.Endpoint.ApplicationURI != "" {
		msg.ApplicationURI = tel.ApplicationURI.Apply(mi.Endpoint.ApplicationURI)
	}
	if tel.DisplayName.Publish && mi.DisplayName != "" {
		msg.DisplayName = tel.DisplayName.Apply(mi.DisplayName)
	}

	msg.EventValues = make([]EventValue, 0, len(fields))
	for _, f := range fields {
		raw, err := EncodeValue(f.Value)
		if err != nil {
			return nil, err
		}
		mode := f.PublishMode
		if mode == "" {
			mode = PublishModeDefault
		}
		msg.EventValues = append(msg.EventValues, EventValue{
			Name:        f.Name,
			Value:       raw,
			PublishMode: mode,
		})
	}

	return msg, nil
}

// applyValuePattern runs the configured value pattern over string values
// only; non-string fragments pass through untouched.
func applyValuePattern(raw json.RawMessage, fs *FieldSettings) json.RawMessage {
	if len(raw) == 0 || raw[0] != '"' {
		return raw
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return raw
	}
	transformed := fs.Apply(s)
	if transformed == s {
		return raw
	}
	out, err := json.Marshal(transformed)
	if err != nil {
		return raw
	}
	return out
}
