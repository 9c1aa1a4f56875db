package publisher

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// DataValue is the raw data-change notification handed in by the protocol
// layer. Value is the decoded variant value; the timestamps come from the
// server notification.
type DataValue struct {
	Value           any
	StatusCode      uint32
	SourceTimestamp time.Time
	ServerTimestamp time.Time
}

// EventFieldValue is one select-clause field of a raw event notification,
// already tagged with its per-field publish mode from the event
// configuration.
type EventFieldValue struct {
	Name        string
	Value       any
	PublishMode PublishMode
}

// EncodeValue encodes an arbitrary notification value into a JSON fragment.
// The fragment keeps the original syntactic class: strings stay quoted,
// numerics and booleans stay bare, structured values become objects/arrays.
func EncodeValue(v any) (json.RawMessage, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode value: %w", err)
	}
	return raw, nil
}

// DataChangeMessageData is the normalized record for one data-change
// notification. Unset fields were toggled off by telemetry configuration and
// are omitted from the wire form.
type DataChangeMessageData struct {
	EndpointID       string
	EndpointURL      string
	NodeID           string
	ApplicationURI   string
	DisplayName      string
	Key              string
	Value            json.RawMessage
	SourceTimestamp  time.Time
	ReceiveTimestamp time.Time
	Status           string
	StatusCode       *uint32
	PublishMode      PublishMode

	names *TelemetrySettings
}

// EventValue is one published field of an event message.
type EventValue struct {
	Name        string
	Value       json.RawMessage
	PublishMode PublishMode
}

// EventMessageData is the normalized record for one event notification.
type EventMessageData struct {
	EndpointID     string
	EndpointURL    string
	NodeID         string
	ApplicationURI string
	DisplayName    string
	PublishTime    time.Time
	EventValues    []EventValue
	PublishMode    PublishMode

	names *TelemetrySettings
}

// MessageData is the discriminated union enqueued into the dispatch queues;
// exactly one of the two variants is populated.
type MessageData struct {
	DataChange *DataChangeMessageData
	Event      *EventMessageData
}

// TargetQueue selects the dispatch queue for this record. A field-level
// property tag on any event value overrides the event-level routing.
func (m *MessageData) TargetQueue() QueueKind {
	if m.Event != nil {
		for _, ev := range m.Event.EventValues {
			if ev.PublishMode == PublishModeProperty {
				return QueueProperties
			}
		}
		if m.Event.PublishMode == PublishModeEvent {
			return QueueEvents
		}
		if m.Event.PublishMode == PublishModeProperty {
			return QueueProperties
		}
		return QueueDefault
	}
	switch m.DataChange.PublishMode {
	case PublishModeSetting:
		return QueueSettings
	case PublishModeProperty:
		return QueueProperties
	default:
		return QueueDefault
	}
}

// MarshalJSON encodes the populated variant.
func (m *MessageData) MarshalJSON() ([]byte, error) {
	if m.Event != nil {
		return m.Event.MarshalJSON()
	}
	if m.DataChange != nil {
		return m.DataChange.MarshalJSON()
	}
	return nil, fmt.Errorf("empty message data")
}

// fieldWriter assembles a JSON object preserving field order and raw value
// fragments.
type fieldWriter struct {
	buf   bytes.Buffer
	first bool
}

func newFieldWriter() *fieldWriter {
	w := &fieldWriter{first: true}
	w.buf.WriteByte('{')
	return w
}

func (w *fieldWriter) raw(name string, value json.RawMessage) {
	if !w.first {
		w.buf.WriteByte(',')
	}
	w.first = false
	nameJSON, _ := json.Marshal(name)
	w.buf.Write(nameJSON)
	w.buf.WriteByte(':')
	w.buf.Write(value)
}

func (w *fieldWriter) str(name, value string) {
	v, _ := json.Marshal(value)
	w.raw(name, v)
}

func (w *fieldWriter) close() []byte {
	w.buf.WriteByte('}')
	return w.buf.Bytes()
}

func (d *DataChangeMessageData) fieldNames() *TelemetrySettings {
	if d.names != nil {
		return d.names
	}
	return defaultTelemetryNames
}

// MarshalJSON writes the record with the configured field names, omitting
// fields the telemetry configuration disabled.
func (d *DataChangeMessageData) MarshalJSON() ([]byte, error) {
	names := d.fieldNames()
	w := newFieldWriter()
	if d.EndpointID != "" {
		w.str(names.EndpointID.Name, d.EndpointID)
	}
	if d.EndpointURL != "" {
		w.str(names.EndpointURL.Name, d.EndpointURL)
	}
	if d.NodeID != "" {
		w.str(names.NodeID.Name, d.NodeID)
	}
	if d.ApplicationURI != "" {
		w.str(names.ApplicationURI.Name, d.ApplicationURI)
	}
	if d.DisplayName != "" {
		w.str(names.DisplayName.Name, d.DisplayName)
	}
	if d.Key != "" {
		w.str(names.Key.Name, d.Key)
	}
	if d.Value != nil {
		w.raw(names.Value.Name, d.Value)
	}
	if !d.SourceTimestamp.IsZero() {
		w.str(names.SourceTimestamp.Name, d.SourceTimestamp.UTC().Format(time.RFC3339Nano))
	}
	if !d.ReceiveTimestamp.IsZero() {
		w.str(names.ReceiveTimestamp.Name, d.ReceiveTimestamp.UTC().Format(time.RFC3339Nano))
	}
	if d.Status != "" {
		w.str(names.Status.Name, d.Status)
	}
	if d.StatusCode != nil {
		code, _ := json.Marshal(*d.StatusCode)
		w.raw(names.StatusCode.Name, code)
	}
	return w.close(), nil
}

// clone returns a deep enough copy for heartbeat re-emission; the raw value
// fragment is immutable once built and may be shared.
func (d *DataChangeMessageData) clone() *DataChangeMessageData {
	c := *d
	return &c
}

func (e *EventMessageData) fieldNames() *TelemetrySettings {
	if e.names != nil {
		return e.names
	}
	return defaultTelemetryNames
}

// MarshalJSON writes the event record; the event fields are flattened into a
// single value object keyed by select-clause field name.
func (e *EventMessageData) MarshalJSON() ([]byte, error) {
	names := e.fieldNames()
	w := newFieldWriter()
	if e.EndpointID != "" {
		w.str(names.EndpointID.Name, e.EndpointID)
	}
	if e.EndpointURL != "" {
		w.str(names.EndpointURL.Name, e.EndpointURL)
	}
	if e.NodeID != "" {
		w.str(names.NodeID.Name, e.NodeID)
	}
	if e.ApplicationURI != "" {
		w.str(names.ApplicationURI.Name, e.ApplicationURI)
	}
	if e.DisplayName != "" {
		w.str(names.DisplayName.Name, e.DisplayName)
	}
	if !e.PublishTime.IsZero() {
		w.str("PublishTime", e.PublishTime.UTC().Format(time.RFC3339Nano))
	}

	vw := newFieldWriter()
	for _, ev := range e.EventValues {
		vw.raw(ev.Name, ev.Value)
	}
	w.raw(names.Value.Name, vw.close())

	return w.close(), nil
}

var defaultTelemetryNames = &TelemetrySettings{
	EndpointID:       FieldSettings{Publish: true, Name: "EndpointId"},
	EndpointURL:      FieldSettings{Publish: true, Name: "EndpointUrl"},
	NodeID:           FieldSettings{Publish: true, Name: "NodeId"},
	ApplicationURI:   FieldSettings{Publish: true, Name: "ApplicationUri"},
	DisplayName:      FieldSettings{Publish: true, Name: "DisplayName"},
	Key:              FieldSettings{Publish: true, Name: "Key"},
	Value:            FieldSettings{Publish: true, Name: "Value"},
	SourceTimestamp:  FieldSettings{Publish: true, Name: "SourceTimestamp"},
	ReceiveTimestamp: FieldSettings{Publish: false, Name: "ReceiveTimestamp"},
	Status:           FieldSettings{Publish: false, Name: "Status"},
	StatusCode:       FieldSettings{Publish: true, Name: "StatusCode"},
}

// EndpointStamp is the session identity stamped onto every message an item
// produces; it is a value copy, not an ownership edge.
type EndpointStamp struct {
	EndpointID     uuid.UUID
	EndpointURL    string
	ApplicationURI string
}
