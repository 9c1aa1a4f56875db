// Package publisher implements the node/session configuration model of the
// bridge: sessions, subscriptions and monitored items, the registry that owns
// them, notification normalization and the published-nodes persistence file.
package publisher

import (
	"fmt"
	"strings"
)

// NodeConfigType distinguishes the two wire forms a node identifier can take.
type NodeConfigType int

const (
	ConfigTypeNodeID NodeConfigType = iota
	ConfigTypeExpandedNodeID
)

func (t NodeConfigType) String() string {
	if t == ConfigTypeExpandedNodeID {
		return "ExpandedNodeId"
	}
	return "NodeId"
}

// ConfigTypeForID applies the fixed classification rule: an identifier
// containing the namespace-URI marker is an ExpandedNodeId, everything else
// is a NodeId.
func ConfigTypeForID(id string) NodeConfigType {
	if strings.Contains(id, "nsu=") {
		return ConfigTypeExpandedNodeID
	}
	return ConfigTypeNodeID
}

// ItemState is the monitoring lifecycle state of one monitored item.
type ItemState int

const (
	ItemStateUnmonitored ItemState = iota
	ItemStateUnmonitoredNamespaceUpdateRequested
	ItemStateMonitored
	ItemStateRemovalRequested
)

func (s ItemState) String() string {
	switch s {
	case ItemStateUnmonitored:
		return "unmonitored"
	case ItemStateUnmonitoredNamespaceUpdateRequested:
		return "unmonitored-namespace-update-requested"
	case ItemStateMonitored:
		return "monitored"
	case ItemStateRemovalRequested:
		return "removal-requested"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// SessionState is the connection state of one OPC UA session.
type SessionState int

const (
	SessionStateDisconnected SessionState = iota
	SessionStateConnecting
	SessionStateConnected
)

func (s SessionState) String() string {
	switch s {
	case SessionStateConnecting:
		return "connecting"
	case SessionStateConnected:
		return "connected"
	default:
		return "disconnected"
	}
}

// AuthMode selects how the session authenticates against the endpoint.
type AuthMode string

const (
	AuthModeAnonymous        AuthMode = "Anonymous"
	AuthModeUsernamePassword AuthMode = "UsernamePassword"
)

// PublishMode tags a message (or one event field) with its hub routing class.
type PublishMode string

const (
	PublishModeDefault  PublishMode = "default"
	PublishModeProperty PublishMode = "property"
	PublishModeSetting  PublishMode = "setting"
	PublishModeEvent    PublishMode = "event"
)

// QueueKind identifies one of the four dispatch processor queues.
type QueueKind int

const (
	QueueDefault QueueKind = iota
	QueueProperties
	QueueSettings
	QueueEvents
)

func (k QueueKind) String() string {
	switch k {
	case QueueProperties:
		return "properties"
	case QueueSettings:
		return "settings"
	case QueueEvents:
		return "events"
	default:
		return "default"
	}
}

// OPC UA attribute ids used when creating monitored items.
const (
	AttributeValue         uint32 = 13
	AttributeEventNotifier uint32 = 12
)

// Heartbeat interval bounds in seconds.
const (
	HeartbeatMinInterval = 0
	HeartbeatMaxInterval = 86400
)

// TelemetryRouter accepts normalized notification records and forwards each
// to the dispatch queue selected by its target queue kind.
type TelemetryRouter interface {
	Route(msg *MessageData)
}

// NamespaceResolver translates a node identifier between its NodeId and
// ExpandedNodeId forms using a connected session's namespace table.
type NamespaceResolver interface {
	CounterpartID(id string) (string, error)
}

// UaConnection is the handle the core keeps on an established protocol-level
// session, used only to dispose it on endpoint deletion or shutdown.
type UaConnection interface {
	Close() error
}
